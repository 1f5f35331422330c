package middleware // declare the middleware package; contains reusable HTTP middleware functions

import (
    "errors"   // distinguish expiry from other token failures
    "net/http" // HTTP status codes for responses
    "strings"  // string utilities for prefix checking and trimming

    "github.com/labstack/echo/v4" // Echo framework used for defining middleware and handlers

    "github.com/iliyamo/auth-service/internal/utils" // token codec errors
)

// AccessVerifier checks an access token and returns the user id it was
// issued to.  The auth service implements it.
type AccessVerifier interface {
    VerifyAccessToken(token string) (uint64, error)
}

// JWTAuth returns an Echo middleware that validates a Bearer access token and
// stores the user id (uint64) under "user_id" in the request context.
// Refresh tokens are rejected: they carry a different kind claim.
func JWTAuth(v AccessVerifier) echo.MiddlewareFunc {
    return func(next echo.HandlerFunc) echo.HandlerFunc {
        return func(c echo.Context) error {
            auth := c.Request().Header.Get(echo.HeaderAuthorization)
            if len(auth) < 7 || !strings.EqualFold(auth[:7], "Bearer ") {
                return deny(c, "missing bearer token")
            }
            raw := strings.TrimSpace(auth[7:])
            if raw == "" {
                return deny(c, "missing bearer token")
            }

            uid, err := v.VerifyAccessToken(raw)
            if errors.Is(err, utils.ErrTokenExpired) {
                return deny(c, "token expired")
            }
            if err != nil {
                return deny(c, "invalid token")
            }

            c.Set("user_id", uid)
            return next(c)
        }
    }
}

func deny(c echo.Context, msg string) error {
    c.Response().Header().Set(echo.HeaderWWWAuthenticate, "Bearer")
    return c.JSON(http.StatusUnauthorized, echo.Map{"error": msg})
}
