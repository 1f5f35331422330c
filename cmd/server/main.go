package main // Entry point package

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"                      // .env loading for local runs
	"github.com/labstack/echo/v4"                   // Echo web framework
	echomw "github.com/labstack/echo/v4/middleware" // recover, CORS, request logging
	"github.com/labstack/gommon/log"                // leveled logger shared with echo

	"github.com/iliyamo/auth-service/internal/config"     // Internal config loader
	"github.com/iliyamo/auth-service/internal/database"   // connection + schema
	"github.com/iliyamo/auth-service/internal/handler"    // HTTP handlers
	"github.com/iliyamo/auth-service/internal/lock"       // issuance lock
	"github.com/iliyamo/auth-service/internal/queue"      // auth events
	"github.com/iliyamo/auth-service/internal/repository" // users + refresh token ledger
	"github.com/iliyamo/auth-service/internal/router"     // Internal router setup
	"github.com/iliyamo/auth-service/internal/service"    // auth use cases
	"github.com/iliyamo/auth-service/internal/utils"      // password hashing, token codec
)

func main() {
	_ = godotenv.Load() // a missing .env is fine outside local development
	cfg := config.Load()

	logger := log.New("auth-service")
	logger.SetLevel(config.ParseLogLevel(cfg.LogLevel))
	if cfg.WeakSecret() {
		logger.Warn("JWT_SECRET is shorter than 32 characters")
	}

	db, err := database.Open(cfg)
	if err != nil {
		logger.Fatalf("open database: %v", err)
	}
	defer db.Close()
	if cfg.DBAutoMigrate {
		if err := database.Migrate(context.Background(), db); err != nil {
			logger.Fatalf("migrate: %v", err)
		}
		logger.Infof("schema applied (%s)", cfg.DBDriver)
	}

	codec, err := utils.NewTokenCodec(cfg.JWTSecret, cfg.JWTAlgorithm)
	if err != nil {
		logger.Fatalf("token codec: %v", err)
	}

	opts := []service.Option{service.WithLogger(logger)}

	rdb := config.NewRedisClient()
	if rdb != nil {
		defer rdb.Close()
		opts = append(opts, service.WithLocker(lock.NewRedis(rdb, cfg.IssueLockTTL)))
		logger.Info("redis issuance lock enabled")
	} else if config.RedisConfigured() {
		logger.Warn("redis configured but unreachable; relying on database row locks")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.EventsEnabled {
		pub := queue.NewPublisher(cfg.RabbitURL, logger)
		defer pub.Close()
		opts = append(opts, service.WithPublisher(pub))
		logger.Info("auth events enabled")
	}
	if cfg.EventsConsumer {
		go func() {
			if err := queue.StartAuditConsumer(ctx, cfg.RabbitURL, cfg.AuditLogPath, logger); err != nil && !errors.Is(err, context.Canceled) {
				logger.Errorf("audit consumer stopped: %v", err)
			}
		}()
	}

	svc, err := service.NewAuthService(
		repository.NewUserRepo(db),
		repository.NewTokenRepo(db),
		utils.NewPasswordHasher(cfg.BcryptCost),
		codec,
		cfg.AccessTTL(),
		cfg.RefreshTTL(),
		opts...,
	)
	if err != nil {
		logger.Fatalf("auth service: %v", err)
	}

	e := echo.New()
	e.HideBanner = true
	e.Logger = logger
	e.Use(echomw.Recover())
	e.Use(echomw.RequestLoggerWithConfig(echomw.RequestLoggerConfig{
		LogMethod:  true,
		LogURI:     true,
		LogStatus:  true,
		LogLatency: true,
		LogError:   true,
		LogValuesFunc: func(c echo.Context, v echomw.RequestLoggerValues) error {
			entry := log.JSON{
				"method":  v.Method,
				"uri":     v.URI,
				"status":  v.Status,
				"latency": v.Latency.String(),
			}
			if v.Error != nil {
				entry["error"] = v.Error.Error()
			}
			logger.Infoj(entry)
			return nil
		},
	}))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins:     cfg.AllowedOrigins,
		AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders:     []string{echo.HeaderAuthorization, echo.HeaderContentType},
		AllowCredentials: true,
	}))

	router.RegisterRoutes(e, handler.NewHealthHandler(db, rdb, cfg.Env))
	router.RegisterAuth(e, cfg.APIPrefix, handler.NewAuthHandler(svc, cfg.RequestTimeout), svc)

	addr := ":" + cfg.Port
	go func() {
		logger.Infof("listening on %s (env=%s)", addr, cfg.Env)
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatalf("server: %v", err)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Errorf("shutdown: %v", err)
	}
}
