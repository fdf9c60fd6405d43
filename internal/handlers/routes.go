package handlers

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

type Deps struct {
	Fetcher        Fetcher
	MessageService MessageService
	Archive        Archive
	// ControlSecret protects start and stop when set.
	ControlSecret string
	Shutdown      <-chan struct{}
}

func Register(server *echo.Echo, deps Deps) {
	server.GET("/healthz", func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})

	var control []echo.MiddlewareFunc
	if deps.ControlSecret != "" {
		control = append(control, RequireToken(deps.ControlSecret))
	}

	fetcher := server.Group("/fetcher")
	fetcher.GET("/status", FetcherStatus(deps.Fetcher))
	fetcher.GET("/stream", Stream(deps.Fetcher, deps.Shutdown))
	fetcher.POST("/start", StartFetcher(deps.Fetcher), control...)
	fetcher.POST("/stop", StopFetcher(deps.Fetcher), control...)

	if deps.Archive != nil {
		fetcher.GET("/checkpoints/:channelId", GetCheckpoint(deps.Archive))
		server.GET("/channels/:channelId/archive", ArchivedMessages(deps.Archive))
	}

	server.GET("/channels/:channelId/messages", FetchMessages(deps.MessageService))
	server.POST("/files/resolve", ResolveFile(deps.MessageService))
}
