package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"uk.co.dudmesh.tgingest/internal/model"
)

type Fetcher interface {
	Start(ctx context.Context, channelID string, startID *model.MessageID) (model.FetcherState, error)
	Stop() model.FetcherState
	State() model.FetcherState
	Subscribe(fn func(model.FetcherEvent)) (unsubscribe func())
}

type MessageService interface {
	FetchMessages(ctx context.Context, channelID string, opts model.FetchOptions) (*model.MessagePage, error)
	ResolveFile(ctx context.Context, channelID string, messageID model.MessageID) (*string, error)
}

type Archive interface {
	Checkpoint(ctx context.Context, channelID string) (*model.Checkpoint, error)
	Messages(ctx context.Context, channelID string, beforeID model.MessageID, limit int) ([]model.FetchedMessage, error)
}

// httpError maps domain errors onto HTTP status codes. Anything unrecognized
// is an upstream failure.
func httpError(err error) error {
	switch {
	case errors.Is(err, model.ErrorMissingChannelID),
		errors.Is(err, model.ErrorConflictingCursors),
		errors.Is(err, model.ErrorInvalidCursor):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, model.ErrorChannelNotFound),
		errors.Is(err, model.ErrorCheckpointNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, context.Canceled):
		return err
	default:
		return echo.NewHTTPError(http.StatusBadGateway, "upstream request failed").SetInternal(err)
	}
}
