package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/cespare/xxhash"
	"github.com/labstack/echo/v4"

	"uk.co.dudmesh.tgingest/internal/model"
)

type resolveRequest struct {
	ChannelID model.ChannelID `json:"channelId"`
	MessageID model.MessageID `json:"messageId"`
}

type resolveResponse struct {
	FileID *string `json:"fileId"`
}

type archiveResponse struct {
	Messages []model.FetchedMessage `json:"messages"`
}

// FetchMessages serves one page of channel history straight from upstream.
// Responses carry an ETag so pollers can revalidate cheaply.
func FetchMessages(service MessageService) echo.HandlerFunc {
	return func(c echo.Context) error {
		opts := model.FetchOptions{}
		var startID int64
		err := echo.QueryParamsBinder(c).
			Int("limit", &opts.Limit).
			Int64("startId", &startID).
			Bool("resolveFiles", &opts.ResolveFiles).
			BindError()
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
		if c.QueryParam("startId") != "" {
			opts.StartID = model.MessageIDPtr(model.MessageID(startID))
		}

		page, err := service.FetchMessages(c.Request().Context(), c.Param("channelId"), opts)
		if err != nil {
			return httpError(err)
		}

		body, err := json.Marshal(page)
		if err != nil {
			return fmt.Errorf("marshalling page: %w", err)
		}
		etag := fmt.Sprintf(`"%016x"`, xxhash.Sum64(body))
		c.Response().Header().Set("ETag", etag)
		if c.Request().Header.Get("If-None-Match") == etag {
			return c.NoContent(http.StatusNotModified)
		}
		return c.JSONBlob(http.StatusOK, body)
	}
}

func ResolveFile(service MessageService) echo.HandlerFunc {
	return func(c echo.Context) error {
		params := &resolveRequest{}
		if err := c.Bind(params); err != nil {
			return err
		}

		fileID, err := service.ResolveFile(c.Request().Context(), params.ChannelID.String(), params.MessageID)
		if err != nil {
			return httpError(err)
		}
		return c.JSON(http.StatusOK, resolveResponse{FileID: fileID})
	}
}

func ArchivedMessages(archive Archive) echo.HandlerFunc {
	return func(c echo.Context) error {
		var limit int
		var beforeID int64
		err := echo.QueryParamsBinder(c).
			Int("limit", &limit).
			Int64("beforeId", &beforeID).
			BindError()
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
		if limit > 100 {
			limit = 100
		}

		messages, err := archive.Messages(c.Request().Context(), c.Param("channelId"), model.MessageID(beforeID), limit)
		if err != nil {
			return err
		}
		return c.JSON(http.StatusOK, archiveResponse{Messages: messages})
	}
}
