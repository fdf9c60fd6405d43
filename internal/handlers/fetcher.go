package handlers

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"uk.co.dudmesh.tgingest/internal/model"
)

type startRequest struct {
	ChannelID model.ChannelID  `json:"channelId"`
	StartID   *model.MessageID `json:"startId"`
}

func FetcherStatus(fetcher Fetcher) echo.HandlerFunc {
	return func(c echo.Context) error {
		return c.JSON(http.StatusOK, fetcher.State())
	}
}

func StartFetcher(fetcher Fetcher) echo.HandlerFunc {
	return func(c echo.Context) error {
		params := &startRequest{}
		if err := c.Bind(params); err != nil {
			return err
		}
		if params.ChannelID == "" {
			return echo.NewHTTPError(http.StatusBadRequest, model.ErrorMissingChannelID.Error())
		}

		state, err := fetcher.Start(c.Request().Context(), params.ChannelID.String(), params.StartID)
		if err != nil {
			if errors.Is(err, model.ErrorMissingChannelID) || errors.Is(err, model.ErrorInvalidCursor) {
				return echo.NewHTTPError(http.StatusBadRequest, err.Error())
			}
			return echo.NewHTTPError(http.StatusServiceUnavailable, err.Error()).SetInternal(err)
		}
		return c.JSON(http.StatusOK, state)
	}
}

func StopFetcher(fetcher Fetcher) echo.HandlerFunc {
	return func(c echo.Context) error {
		return c.JSON(http.StatusOK, fetcher.Stop())
	}
}

func GetCheckpoint(archive Archive) echo.HandlerFunc {
	return func(c echo.Context) error {
		checkpoint, err := archive.Checkpoint(c.Request().Context(), c.Param("channelId"))
		if err != nil {
			if errors.Is(err, model.ErrorCheckpointNotFound) {
				return echo.NewHTTPError(http.StatusNotFound, err.Error())
			}
			return err
		}
		return c.JSON(http.StatusOK, checkpoint)
	}
}
