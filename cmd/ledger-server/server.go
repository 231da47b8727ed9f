package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/ledger/ledger/internal/config"
	"github.com/ledger/ledger/internal/domain/doctor"
	"github.com/ledger/ledger/internal/domain/patient"
	"github.com/ledger/ledger/internal/domain/reservation"
	"github.com/ledger/ledger/internal/platform/apperr"
	"github.com/ledger/ledger/internal/platform/audit"
	"github.com/ledger/ledger/internal/platform/events"
	"github.com/ledger/ledger/internal/platform/kv"
	"github.com/ledger/ledger/internal/platform/middleware"
	"github.com/ledger/ledger/internal/platform/websocket"
)

// deps are the connections the HTTP surface is built on.
type deps struct {
	redis    redis.UniversalClient
	recorder audit.Recorder
	bus      events.Publisher
	extra    func(e *echo.Echo)
}

func runServer(cfg *config.Config, logger zerolog.Logger) error {
	ctx := context.Background()

	client, err := kv.NewClient(ctx, kv.Options{URL: cfg.RedisURL, PoolSize: cfg.RedisPoolSize, Timeout: cfg.RedisTimeout})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to redis")
	}
	defer client.Close()
	logger.Info().Msg("connected to redis")

	d := deps{redis: client, recorder: audit.NewLogRecorder(logger)}

	if cfg.AuditToDatabase() {
		pool, err := audit.Open(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to connect to audit database")
		}
		defer pool.Close()
		d.recorder = audit.NewPGRecorder(pool)
		d.extra = func(e *echo.Echo) { e.GET("/health/db", audit.HealthHandler(pool)) }
		logger.Info().Msg("audit trail persisted to database")
	}

	if cfg.RabbitMQURL != "" {
		amqpPub, err := events.DialAMQP(cfg.RabbitMQURL, cfg.RabbitMQExchange, logger)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to connect to rabbitmq")
		}
		defer amqpPub.Close()
		d.bus = amqpPub
		logger.Info().Str("exchange", cfg.RabbitMQExchange).Msg("publishing events to rabbitmq")
	}

	e := newServer(cfg, logger, d)

	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Bool("tls", cfg.TLSEnabled).Msg("starting server")
		var err error
		if cfg.TLSEnabled {
			err = e.StartTLS(addr, cfg.TLSCertFile, cfg.TLSKeyFile)
		} else {
			err = e.Start(addr)
		}
		if err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Fatal().Err(err).Msg("server shutdown failed")
	}
	logger.Info().Msg("server stopped")
	return nil
}

// newServer wires the domains onto an echo instance.
func newServer(cfg *config.Config, logger zerolog.Logger, d deps) *echo.Echo {
	hub := websocket.NewHub(logger)
	publisher := events.Multi{hub, d.bus}

	engine := reservation.NewEngine(d.redis, publisher, logger)

	doctorRepo := doctor.NewCachedRepository(doctor.NewRedisRepository(d.redis), cfg.DoctorCacheSize, cfg.DoctorCacheTTL)
	doctorSvc := doctor.NewService(doctorRepo, engine, publisher, logger)

	patientSvc := patient.NewService(patient.NewRedisRepository(d.redis), engine, publisher, logger)

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = apperr.HTTPErrorHandler(logger)

	// Global middleware
	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete},
		AllowHeaders: []string{"Content-Type", middleware.RequestIDHeader},
	}))
	e.Use(echomw.SecureWithConfig(echomw.SecureConfig{
		XSSProtection:      "0",
		ContentTypeNosniff: "nosniff",
		XFrameOptions:      "DENY",
		HSTSMaxAge:         hstsMaxAge(cfg),
	}))
	e.Use(echomw.BodyLimit("1M"))
	e.Use(middleware.RequestTimeout(cfg.RequestTimeout))

	rateLimitCfg := middleware.RateLimitConfig{
		RequestsPerSecond: cfg.RateLimitRPS,
		BurstSize:         cfg.RateLimitBurst,
	}
	if rateLimitCfg.RequestsPerSecond <= 0 {
		rateLimitCfg = middleware.DefaultRateLimitConfig()
	}
	e.Use(middleware.RateLimit(rateLimitCfg))
	e.Use(middleware.Audit(logger, d.recorder))

	// Health checks
	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"version": "0.1.0",
		})
	})
	e.GET("/health/redis", kv.HealthHandler(d.redis))
	if d.extra != nil {
		d.extra(e)
	}

	api := e.Group("")
	doctor.NewHandler(doctorSvc).RegisterRoutes(api)
	patient.NewHandler(patientSvc).RegisterRoutes(api)
	reservation.NewHandler(engine).RegisterRoutes(api)

	websocket.NewHandler(hub).RegisterRoutes(e)

	return e
}

func hstsMaxAge(cfg *config.Config) int {
	if cfg.TLSEnabled {
		return 31536000
	}
	return 0
}
