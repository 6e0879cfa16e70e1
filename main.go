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

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"

	"github.com/GNGRRNNR/tiger-claw-timing/config"
	"github.com/GNGRRNNR/tiger-claw-timing/db"
	"github.com/GNGRRNNR/tiger-claw-timing/handlers"
	applog "github.com/GNGRRNNR/tiger-claw-timing/logger"
	"github.com/GNGRRNNR/tiger-claw-timing/station"
)

func main() {
	cfg, err := config.Load(os.Args[1:])
	if errors.Is(err, config.ErrMissingStation) {
		fmt.Fprintln(os.Stderr, "Error: Checkpoint or Race ID missing. Scanning disabled.")
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	var logger *zap.Logger
	if cfg.LogFile != "" {
		logger, err = applog.NewWithOutput(cfg.Debug, "stderr", cfg.LogFile)
	} else {
		logger, err = applog.New(cfg.Debug)
	}
	if err != nil {
		panic(err)
	}
	defer func() { _ = logger.Sync() }()
	zap.ReplaceGlobals(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	bdb, err := db.Setup(ctx, cfg)
	if err != nil {
		logger.Fatal("open local store failed", zap.Error(err))
	}
	defer bdb.Close()

	session := station.New(cfg, bdb, logger)
	if err := session.Start(ctx); err != nil {
		logger.Fatal("station start failed", zap.Error(err))
	}
	logger.Info("station ready", zap.String("station", cfg.Station()))

	if cfg.Stdin {
		go func() {
			if err := session.ReadScans(ctx, os.Stdin); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("reading scans from stdin", zap.Error(err))
			}
			logger.Info("stdin closed")
		}()
	}

	h := handlers.New(session, cfg.JWTKey())

	e := echo.New()
	e.HideBanner = true
	e.Use(echomw.RequestLoggerWithConfig(echomw.RequestLoggerConfig{
		LogMethod: true,
		LogURI:    true,
		LogStatus: true,
		LogError:  true,
		LogValuesFunc: func(c echo.Context, v echomw.RequestLoggerValues) error {
			fields := []zap.Field{
				zap.Int("status", v.Status),
				zap.String("method", v.Method),
				zap.String("uri", v.URI),
			}
			if op, ok := c.Get("operator").(string); ok {
				fields = append(fields, zap.String("operator", op))
			}
			if v.Error != nil {
				fields = append(fields, zap.Error(v.Error))
			}
			switch {
			case v.Status >= 500:
				logger.Error("http request", fields...)
			case v.Status >= 400:
				logger.Warn("http request", fields...)
			default:
				logger.Info("http request", fields...)
			}
			return nil
		},
	}))
	e.Use(echomw.Recover())
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders: []string{"*", "Authorization"},
	}))
	h.Register(e)

	s := &http.Server{
		Addr:         cfg.Port,
		Handler:      e,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 120 * time.Second,
		IdleTimeout:  15 * time.Second,
	}

	go func() {
		logger.Info("starting console", zap.String("addr", cfg.Port))
		if err := s.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("console exited", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.Shutdown(shutdownCtx); err != nil {
		logger.Error("console shutdown", zap.Error(err))
	}
	session.Wait()
}
