package handlers

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/nrednav/cuid2"

	"uk.co.dudmesh.tgingest/internal/model"
	"uk.co.dudmesh.tgingest/pkg/sse"
)

const (
	streamBuffer    = 64
	streamRetry     = 3 * time.Second
	streamPingEvery = 15 * time.Second
)

type streamConfig struct {
	buffer    int
	pingEvery time.Duration
}

// Stream forwards fetcher events to the client as server-sent events. The
// first frame is always a snapshot of the current state. Closing shutdown
// ends every open stream.
func Stream(fetcher Fetcher, shutdown <-chan struct{}) echo.HandlerFunc {
	return streamHandler(fetcher, shutdown, streamConfig{buffer: streamBuffer, pingEvery: streamPingEvery})
}

func streamHandler(fetcher Fetcher, shutdown <-chan struct{}, config streamConfig) echo.HandlerFunc {
	return func(c echo.Context) error {
		subscriber := cuid2.Generate()
		logger := c.Logger()

		events := make(chan model.FetcherEvent, config.buffer)
		overflow := make(chan struct{})
		var once sync.Once

		unsubscribe := fetcher.Subscribe(func(event model.FetcherEvent) {
			select {
			case events <- event:
			default:
				once.Do(func() { close(overflow) })
			}
		})
		defer unsubscribe()

		res := c.Response()
		res.Header().Set(echo.HeaderContentType, sse.ContentType)
		res.Header().Set(echo.HeaderCacheControl, "no-cache")
		res.Header().Set(echo.HeaderConnection, "keep-alive")
		res.Header().Set("X-Accel-Buffering", "no")
		res.WriteHeader(http.StatusOK)

		w := sse.NewWriter(res)
		if err := w.Retry(streamRetry); err != nil {
			return nil
		}

		ping := time.NewTicker(config.pingEvery)
		defer ping.Stop()

		ctx := c.Request().Context()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-shutdown:
				return nil
			case <-overflow:
				logger.Warnf("stream %s fell behind, disconnecting", subscriber)
				return nil
			case <-ping.C:
				if err := w.Comment("ping"); err != nil {
					return nil
				}
			case event := <-events:
				data, err := json.Marshal(event)
				if err != nil {
					logger.Errorf("marshalling %s event: %+v", event.Type, err)
					continue
				}
				err = w.Event(sse.Event{ID: model.CreateID(), Name: string(event.Type), Data: data})
				if err != nil {
					return nil
				}
			}
		}
	}
}
