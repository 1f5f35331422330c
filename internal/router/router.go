package router // package router defines how HTTP routes are registered for the API

import (
	"github.com/labstack/echo/v4" // import the Echo web framework to handle routing

	"github.com/iliyamo/auth-service/internal/handler"    // HTTP handlers
	"github.com/iliyamo/auth-service/internal/middleware" // bearer access token check
)

// RegisterRoutes registers the unversioned service endpoints: index,
// status, liveness and readiness.
func RegisterRoutes(e *echo.Echo, h *handler.HealthHandler) {
	e.GET("/", handler.Index)
	e.GET("/api/status", h.Status)
	e.GET("/healthz", handler.Health)
	e.GET("/readyz", h.Ready)
}

// RegisterAuth registers the authentication routes under prefix (for
// example "/api/v1").  Register, login, refresh and logout are public;
// logout is authorised by the refresh token in the body.  /auth/me needs a
// bearer access token.
func RegisterAuth(e *echo.Echo, prefix string, a *handler.AuthHandler, v middleware.AccessVerifier) {
	g := e.Group(prefix + "/auth")
	g.POST("/register", a.Register)
	g.POST("/login", a.Login)
	g.POST("/refresh", a.Refresh)
	g.POST("/logout", a.Logout)

	g.GET("/me", a.Me, middleware.JWTAuth(v))
}
