package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MicahParks/keyfunc"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"prism-board/api"
	"prism-board/auth"
	"prism-board/config"
	"prism-board/protocol"
	"prism-board/room"
	"prism-board/storage"
	"prism-board/subscription"
)

func main() {
	cfg, err := config.Load(os.Getenv)
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logger := newLogger(cfg)

	tp := sdktrace.NewTracerProvider()
	otel.SetTracerProvider(tp)

	var rc *redis.Client
	if cfg.RedisConnStr != "" {
		opts, err := config.RedisOptions(cfg.RedisConnStr)
		if err != nil {
			logger.Fatalf("redis: %v", err)
		}
		rc = redis.NewClient(opts)
	}

	base, err := storage.Open(storage.Options{
		Backend:          cfg.Store,
		ConnectionString: cfg.StorageConnStr,
		BoardsTable:      cfg.BoardsTable,
		SQLitePath:       cfg.SQLitePath,
		MySQLDSN:         cfg.MySQLDSN,
		Redis:            rc,
	})
	if err != nil {
		logger.Fatalf("storage: %v", err)
	}
	initCtx, cancelInit := context.WithTimeout(context.Background(), cfg.StoreTimeout)
	if err := storage.Prepare(initCtx, base); err != nil {
		logger.Fatalf("storage init: %v", err)
	}
	cancelInit()

	store := base
	var cache *storage.Cache
	// Boards kept in redis are not cached again.
	if rc != nil && cfg.CacheTTL > 0 && cfg.Store != config.StoreRedis {
		cache = storage.NewCache(base, rc, cfg.CacheTTL)
		store = cache
	}

	var authenticator api.Authenticator
	if cfg.AuthEnabled() {
		a, err := newAuth(cfg)
		if err != nil {
			logger.Fatalf("auth: %v", err)
		}
		authenticator = a
	} else {
		logger.Warn("authentication disabled: set AUTH0_DOMAIN/AUTH0_AUDIENCE or AUTH0_TEST_MODE")
	}

	hub := room.NewHub()
	rooms := room.NewRegistry(hub, logger)
	handler := protocol.NewHandler(store, rooms, hub, logger, protocol.Config{
		LockTimeout:  cfg.LockTimeout,
		StoreTimeout: cfg.StoreTimeout,
	})

	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, echo.HeaderAuthorization},
	}))
	api.Register(e, handler, rooms, hub, authenticator, logger, api.Options{
		PingInterval:    cfg.PingInterval,
		MaxMessageBytes: cfg.MaxMessageBytes,
		SendBuffer:      cfg.SendBuffer,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if rc != nil {
		var evicter subscription.Evicter
		if cache != nil {
			evicter = cache
		}
		go subscription.SubscribeChanges(ctx, logger, rc, cfg.ChangesChannel, evicter, hub, handler)
	}

	go func() {
		logger.WithFields(log.Fields{"port": cfg.Port, "store": cfg.Store}).Info("board service listening")
		if err := e.Start(":" + cfg.Port); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatalf("server: %v", err)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("server shutdown")
	}
	if err := tp.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("tracer shutdown")
	}
	if rc != nil {
		_ = rc.Close()
	}
}

func newLogger(cfg config.Config) *log.Logger {
	logger := log.New()
	if cfg.Debug {
		logger.SetLevel(log.DebugLevel)
	}
	if cfg.LogFormat == "json" {
		logger.SetFormatter(&log.JSONFormatter{})
	}
	return logger
}

func newAuth(cfg config.Config) (*auth.Auth, error) {
	if cfg.AuthTestMode {
		return auth.New(nil, "", "", []byte(cfg.TestJWTSecret)), nil
	}
	jwksURL := fmt.Sprintf("https://%s/.well-known/jwks.json", cfg.Auth0Domain)
	jwks, err := keyfunc.Get(jwksURL, keyfunc.Options{})
	if err != nil {
		return nil, fmt.Errorf("jwks: %w", err)
	}
	return auth.New(jwks, cfg.Auth0Audience, "https://"+cfg.Auth0Domain+"/", nil), nil
}
