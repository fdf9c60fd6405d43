package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/gommon/log"

	"uk.co.dudmesh.tgingest/internal/boot"
	"uk.co.dudmesh.tgingest/internal/channel"
	"uk.co.dudmesh.tgingest/internal/handlers"
	"uk.co.dudmesh.tgingest/internal/service/messages"
	"uk.co.dudmesh.tgingest/internal/store"
)

const demoChannel = "demo"

type MessageService interface {
	handlers.MessageService
}

type fileIDCache interface {
	messages.FileIDCache
	Close() error
}

type config struct {
	boot.Config
	client         channel.Client
	demo           *channel.Memory
	cache          fileIDCache
	messageService MessageService
}

func (c *config) MessageService() MessageService {
	return c.messageService
}

func (c *config) Close() error {
	return c.cache.Close()
}

func newConfig(bootConfig *boot.Config) (*config, error) {
	c := &config{Config: *bootConfig}

	if bootConfig.Channel.BaseURL != "" {
		client, err := channel.NewHTTPClient(bootConfig.Channel.BaseURL,
			channel.WithHTTPClient(&http.Client{Timeout: bootConfig.Channel.Timeout}),
			channel.WithToken(bootConfig.Channel.Token),
			channel.WithRateLimit(bootConfig.Channel.RequestsPerSecond),
		)
		if err != nil {
			return nil, fmt.Errorf("creating channel client: %w", err)
		}
		c.client = client
	} else {
		log.Warnf("CHANNEL_API_URL not set, serving the in-memory %q channel", demoChannel)
		c.demo = channel.NewMemory()
		c.demo.Seed(demoChannel, 250, time.Now())
		c.client = c.demo
	}

	cache, err := store.NewFileIDCache("")
	if err != nil {
		return nil, fmt.Errorf("creating file id cache: %w", err)
	}
	c.cache = cache

	c.messageService = messages.New(c.client, messages.Config{
		ResolveConcurrency: bootConfig.Fetcher.ResolveConcurrency,
		FileIDCache:        cache,
		Logger:             log.New("messages"),
	})
	return c, nil
}

// publishDemo keeps the in-memory channel moving so the live stream has
// something to show in development.
func (c *config) publishDemo(ctx context.Context, every time.Duration) {
	if c.demo == nil {
		return
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			msg := c.demo.Publish(demoChannel, "demo message at "+now.Format(time.Kitchen), now)
			log.Debugf("published demo message %d", msg.ID)
		}
	}
}
