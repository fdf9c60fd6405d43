package messages

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync/atomic"

	"github.com/labstack/gommon/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"golang.org/x/sync/errgroup"

	"uk.co.dudmesh.tgingest/internal/channel"
	"uk.co.dudmesh.tgingest/internal/model"
)

const (
	DefaultLimit              = 20
	MaxLimit                  = 100
	DefaultResolveConcurrency = 8
)

var fileResolutions = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "tgingest",
	Name:      "file_resolutions_total",
	Help:      "File reference resolutions by result.",
}, []string{"result"})

// FileIDCache is optional; a nil cache always resolves upstream.
type FileIDCache interface {
	Get(ctx context.Context, channelID string, messageID model.MessageID) (string, error)
	Set(ctx context.Context, channelID string, messageID model.MessageID, fileID string) error
}

type Config struct {
	ResolveConcurrency int
	FileIDCache        FileIDCache
	Logger             *log.Logger
}

type service struct {
	client      channel.Client
	cache       FileIDCache
	concurrency int
	logger      *log.Logger
}

func New(client channel.Client, config Config) *service {
	if config.ResolveConcurrency <= 0 {
		config.ResolveConcurrency = DefaultResolveConcurrency
	}
	if config.Logger == nil {
		config.Logger = log.New("messages")
	}
	return &service{
		client:      client,
		cache:       config.FileIDCache,
		concurrency: config.ResolveConcurrency,
		logger:      config.Logger,
	}
}

// ClampLimit applies the default page size and the hard cap.
func ClampLimit(limit int) int {
	if limit <= 0 {
		return DefaultLimit
	}
	if limit > MaxLimit {
		return MaxLimit
	}
	return limit
}

// FetchMessages reads one page of channel history, sorted ascending by id.
// NextStartID is the oldest id of a full page and nil for a short one.
// Upstream errors are returned as is; there is no retry here.
func (s *service) FetchMessages(ctx context.Context, channelID string, opts model.FetchOptions) (*model.MessagePage, error) {
	channelID = strings.TrimSpace(channelID)
	if channelID == "" {
		return nil, model.ErrorMissingChannelID
	}
	if opts.StartID != nil && opts.MinID != nil {
		return nil, model.ErrorConflictingCursors
	}
	if (opts.StartID != nil && *opts.StartID <= 0) || (opts.MinID != nil && *opts.MinID < 0) {
		return nil, model.ErrorInvalidCursor
	}

	limit := ClampLimit(opts.Limit)
	query := channel.Query{Limit: limit}
	if opts.StartID != nil {
		query.OffsetID = *opts.StartID
	}
	if opts.MinID != nil {
		query.MinID = model.MessageIDPtr(*opts.MinID)
	}

	raw, err := s.client.GetMessages(ctx, channelID, query)
	if err != nil {
		return nil, err
	}
	sort.Slice(raw, func(i, j int) bool {
		return raw[i].ID < raw[j].ID
	})
	// Oversized batches keep the messages adjacent to the cursor: the oldest
	// above minId, otherwise the newest.
	if len(raw) > limit {
		if opts.MinID != nil {
			raw = raw[:limit]
		} else {
			raw = raw[len(raw)-limit:]
		}
	}

	messages := make([]model.FetchedMessage, len(raw))
	for i, m := range raw {
		messages[i] = model.FetchedMessage{
			ID:   m.ID,
			Date: m.Date.UTC(),
		}
		if m.Text != "" {
			messages[i].Text = model.StringPtr(m.Text)
		}
	}

	if opts.ResolveFiles {
		s.resolveFiles(ctx, channelID, raw, messages)
	}

	page := &model.MessagePage{Messages: messages}
	if len(messages) == limit {
		page.NextStartID = model.MessageIDPtr(messages[0].ID)
	}
	return page, nil
}

// ResolveFile resolves a single file reference. Nil means the message has no
// media or resolution failed; failures are logged, never returned.
func (s *service) ResolveFile(ctx context.Context, channelID string, messageID model.MessageID) (*string, error) {
	channelID = strings.TrimSpace(channelID)
	if channelID == "" {
		return nil, model.ErrorMissingChannelID
	}
	if messageID <= 0 {
		return nil, model.ErrorInvalidCursor
	}

	fileID, err := s.resolve(ctx, channelID, messageID)
	if err != nil {
		s.logger.Warnf("resolving file for %s/%d: %v", channelID, messageID, err)
		return nil, nil
	}
	if fileID == "" {
		return nil, nil
	}
	return &fileID, nil
}

// resolveFiles fills FileID for every media message in parallel. A failed
// resolution leaves that message's FileID nil and does not affect the rest.
func (s *service) resolveFiles(ctx context.Context, channelID string, raw []channel.RawMessage, messages []model.FetchedMessage) {
	var g errgroup.Group
	g.SetLimit(s.concurrency)

	var attempted, failed int32
	for i := range raw {
		if !raw[i].HasMedia {
			continue
		}
		i := i
		atomic.AddInt32(&attempted, 1)
		g.Go(func() error {
			fileID, err := s.resolve(ctx, channelID, raw[i].ID)
			if err != nil {
				atomic.AddInt32(&failed, 1)
				s.logger.Warnf("resolving file for %s/%d: %v", channelID, raw[i].ID, err)
				return nil
			}
			if fileID != "" {
				messages[i].FileID = model.StringPtr(fileID)
			}
			return nil
		})
	}
	g.Wait()

	if attempted > 0 && failed == attempted {
		s.logger.Warnf("all %d file resolutions failed for %s", attempted, channelID)
	}
}

func (s *service) resolve(ctx context.Context, channelID string, messageID model.MessageID) (string, error) {
	if s.cache != nil {
		fileID, err := s.cache.Get(ctx, channelID, messageID)
		if err == nil {
			fileResolutions.WithLabelValues("cached").Inc()
			return fileID, nil
		}
		if !errors.Is(err, model.ErrorFileNotCached) {
			s.logger.Warnf("reading file id cache: %v", err)
		}
	}

	fileID, err := s.client.ResolveFileID(ctx, channelID, messageID)
	if err != nil {
		fileResolutions.WithLabelValues("failed").Inc()
		return "", fmt.Errorf("resolving file id: %w", err)
	}
	if fileID == "" {
		fileResolutions.WithLabelValues("no_media").Inc()
		return "", nil
	}
	fileResolutions.WithLabelValues("resolved").Inc()

	if s.cache != nil {
		if err := s.cache.Set(ctx, channelID, messageID, fileID); err != nil {
			s.logger.Warnf("writing file id cache: %v", err)
		}
	}
	return fileID, nil
}
