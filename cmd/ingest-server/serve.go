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

	"github.com/labstack/echo-contrib/echoprometheus"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/labstack/gommon/log"
	"github.com/nrednav/cuid2"
	"github.com/spf13/cobra"

	"uk.co.dudmesh.tgingest/internal/boot"
	"uk.co.dudmesh.tgingest/internal/handlers"
	"uk.co.dudmesh.tgingest/internal/service/fetcher"
	"uk.co.dudmesh.tgingest/internal/store"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP service",
	RunE:  serveAction,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func serveAction(cmd *cobra.Command, _ []string) error {
	bootConfig, err := boot.Load()
	if err != nil {
		log.Fatalf("boot: %+v", err)
	}

	config, err := newConfig(bootConfig)
	if err != nil {
		log.Fatalf("boot: %+v", err)
	}
	defer config.Close()

	archive, err := store.Open(config.Database.Driver, config.DatabaseURL())
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer archive.Close()

	ingest, err := fetcher.New(config.MessageService(), fetcher.Config{
		PollInterval: config.Fetcher.PollInterval,
		BackoffBase:  config.Fetcher.BackoffBase,
		BackoffMax:   config.Fetcher.BackoffMax,
		PageLimit:    config.Fetcher.PageLimit,
		Resume:       config.Fetcher.Resume,
		Recorder:     archive,
		Logger:       log.New("fetcher"),
	})
	if err != nil {
		return fmt.Errorf("creating fetcher: %w", err)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go config.publishDemo(ctx, 10*time.Second)

	server := echo.New()
	server.HideBanner = true
	server.Use(middleware.BodyLimit("1M"))
	server.Use(middleware.RequestIDWithConfig(middleware.RequestIDConfig{
		Generator: func() string {
			return cuid2.Generate()
		},
	}))
	server.Use(echoprometheus.NewMiddleware("tgingest"))
	server.Use(middleware.Recover())

	if config.IsDevelopment() {
		server.Logger.SetLevel(log.DEBUG)
	} else {
		server.Logger.SetLevel(log.INFO)
	}

	headers := []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, echo.HeaderAuthorization, "If-None-Match"}
	server.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins:     config.AllowedOrigins(),
		AllowHeaders:     headers,
		ExposeHeaders:    []string{"ETag"},
		AllowCredentials: true,
	}))

	shutdown := make(chan struct{})
	server.Server.RegisterOnShutdown(func() { close(shutdown) })

	handlers.Register(server, handlers.Deps{
		Fetcher:        ingest,
		MessageService: config.MessageService(),
		Archive:        archive,
		ControlSecret:  config.Server.ControlSecret,
		Shutdown:       shutdown,
	})

	metrics := echo.New()
	metrics.HideBanner = true
	metrics.GET("/metrics", echoprometheus.NewHandler())
	go func() {
		if err := metrics.Start(":" + config.Server.MetricsPort); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal(err)
		}
	}()

	go func() {
		if err := server.Start(":" + config.Server.Port); err != nil && !errors.Is(err, http.ErrServerClosed) {
			server.Logger.Fatal("shutting down the server")
		}
	}()

	<-ctx.Done()
	server.Logger.Info("shutting down")

	if err := ingest.Close(); err != nil {
		server.Logger.Error(err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		server.Logger.Error(err)
	}
	if err := metrics.Shutdown(shutdownCtx); err != nil {
		server.Logger.Error(err)
	}
	return nil
}
