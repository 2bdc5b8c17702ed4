package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/labstack/gommon/log"

	"github.com/iliyamo/cms-auth/internal/config"
	"github.com/iliyamo/cms-auth/internal/database"
	"github.com/iliyamo/cms-auth/internal/handler"
	"github.com/iliyamo/cms-auth/internal/repository"
	"github.com/iliyamo/cms-auth/internal/router"
	"github.com/iliyamo/cms-auth/internal/service"
	"github.com/iliyamo/cms-auth/internal/session"
	"github.com/iliyamo/cms-auth/internal/utils"
)

func main() {
	e := echo.New()
	e.HideBanner = true
	e.Logger.SetLevel(log.INFO)

	cfg, err := config.Load()
	if err != nil {
		e.Logger.Fatal(err)
	}

	db, err := database.Open(cfg.DBUser, cfg.DBPass, cfg.DBHost, cfg.DBPort, cfg.DBName)
	if err != nil {
		e.Logger.Fatal(err)
	}
	defer db.Close()
	if err := database.Migrate(context.Background(), db); err != nil {
		e.Logger.Fatal(err)
	}

	rdb, err := config.NewRedisClient(cfg.Redis)
	if err != nil {
		e.Logger.Fatal(err)
	}
	defer rdb.Close()

	codec, err := utils.NewTokenCodec(cfg.JWTSecret, cfg.AccessTTL, cfg.RefreshTTL)
	if err != nil {
		e.Logger.Fatal(err)
	}

	var events service.EventPublisher = service.NopPublisher{}
	if cfg.RabbitURL != "" {
		events = service.NewAMQPPublisher(cfg.RabbitURL)
	} else {
		e.Logger.Info("RABBITMQ_URL not set, auth events disabled")
	}

	sessions := session.NewCache(rdb)
	auth := service.NewAuthService(
		repository.NewUserRepo(db),
		repository.NewTokenRepo(db),
		sessions,
		codec,
		e.Logger,
		service.Options{SessionTTL: cfg.SessionTTL, BcryptCost: cfg.BcryptCost, Events: events},
	)

	e.Validator = handler.NewValidator()
	e.Use(echomw.Recover())
	e.Use(echomw.RequestLoggerWithConfig(echomw.RequestLoggerConfig{
		LogMethod:   true,
		LogURI:      true,
		LogStatus:   true,
		LogLatency:  true,
		LogRemoteIP: true,
		LogError:    true,
		LogValuesFunc: func(c echo.Context, v echomw.RequestLoggerValues) error {
			entry := log.JSON{
				"method":     v.Method,
				"uri":        v.URI,
				"status":     v.Status,
				"latency_ms": v.Latency.Milliseconds(),
				"remote_ip":  v.RemoteIP,
			}
			if v.Error != nil {
				entry["error"] = v.Error.Error()
			}
			c.Logger().Infoj(entry)
			return nil
		},
	}))

	router.RegisterRoutes(e, handler.NewHealth(map[string]handler.Pinger{
		"mysql": db.PingContext,
		"redis": sessions.Ping,
	}))
	router.RegisterAuth(e, handler.NewAuthHandler(auth), sessions, codec, cfg.RateLimit, rdb)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		addr := ":" + cfg.Port
		e.Logger.Infof("listening on %s (env=%s)", addr, cfg.Env)
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			e.Logger.Fatal(err)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		e.Logger.Error(err)
	}
}
