package handler // declare the package name; contains HTTP handlers

import (
    "context"  // bounded probes
    "net/http" // net/http provides status codes and response helpers
    "time"

    "github.com/jmoiron/sqlx"      // database handle probed by readiness
    "github.com/labstack/echo/v4"  // echo is the web framework used for this project
    "github.com/redis/go-redis/v9" // optional issuance lock backend
)

// Health is a liveness endpoint used by load balancers and monitoring
// systems to verify that the process is serving.  It touches no backend.
func Health(c echo.Context) error {
    return c.String(http.StatusOK, "ok")
}

// Version is reported by the index and status endpoints.
const Version = "0.1.0"

const serviceName = "Auth Service API"

// HealthHandler reports readiness of the backends every request depends on.
// Redis is nil when the issuance lock is disabled.
type HealthHandler struct {
    DB    *sqlx.DB
    Redis *redis.Client
    Env   string // APP_ENV, echoed by Status
}

func NewHealthHandler(db *sqlx.DB, rdb *redis.Client, env string) *HealthHandler {
    return &HealthHandler{DB: db, Redis: rdb, Env: env}
}

// Index greets clients hitting the root path.
func Index(c echo.Context) error {
    return c.JSON(http.StatusOK, echo.Map{"message": serviceName, "version": Version})
}

// Status tells API clients the service is up and which environment they
// are talking to.  Like Health it touches no backend.
func (h *HealthHandler) Status(c echo.Context) error {
    return c.JSON(http.StatusOK, echo.Map{
        "api":         "online",
        "message":     serviceName + " is running",
        "environment": h.Env,
        "version":     Version,
    })
}

// Ready pings the database and, when configured, Redis.  Any failure turns
// the whole probe into a 503 so the instance is taken out of rotation.
func (h *HealthHandler) Ready(c echo.Context) error {
    ctx, cancel := context.WithTimeout(c.Request().Context(), 2*time.Second)
    defer cancel()

    status := http.StatusOK
    body := echo.Map{"status": "ready", "database": "ok", "redis": "disabled"}

    if err := h.DB.PingContext(ctx); err != nil {
        c.Logger().Warnf("readiness: database ping failed: %v", err)
        status = http.StatusServiceUnavailable
        body["status"], body["database"] = "unavailable", "down"
    }
    if h.Redis != nil {
        body["redis"] = "ok"
        if err := h.Redis.Ping(ctx).Err(); err != nil {
            c.Logger().Warnf("readiness: redis ping failed: %v", err)
            status = http.StatusServiceUnavailable
            body["status"], body["redis"] = "unavailable", "down"
        }
    }
    return c.JSON(status, body)
}
