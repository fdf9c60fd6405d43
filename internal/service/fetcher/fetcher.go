// Package fetcher runs the background forward scan over a channel: it polls
// for messages newer than its cursor, backs off on failure and publishes
// what it sees to subscribers.
package fetcher

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/labstack/gommon/log"

	"uk.co.dudmesh.tgingest/internal/model"
)

const recordTimeout = 10 * time.Second

// instances enforces one fetcher per process.
var instances int32

type MessageService interface {
	FetchMessages(ctx context.Context, channelID string, opts model.FetchOptions) (*model.MessagePage, error)
}

// Recorder persists delivered batches and serves checkpoints for resuming.
type Recorder interface {
	RecordBatch(ctx context.Context, channelID string, messages []model.FetchedMessage, lastMessageID model.MessageID) error
	Checkpoint(ctx context.Context, channelID string) (*model.Checkpoint, error)
}

type Config struct {
	PollInterval time.Duration
	BackoffBase  time.Duration
	BackoffMax   time.Duration
	PageLimit    int

	// Resume seeds the cursor from the recorder's checkpoint when Start is
	// called without a start id.
	Resume   bool
	Recorder Recorder
	Logger   *log.Logger
}

type Fetcher struct {
	config  Config
	service MessageService
	events  emitter
	logger  *log.Logger

	// mu serializes Start, Stop and Close.
	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
	closed bool

	stateMu sync.RWMutex
	state   model.FetcherState
}

// New creates the process's fetcher. It fails with model.ErrorFetcherExists
// while another fetcher has not been closed.
func New(service MessageService, config Config) (*Fetcher, error) {
	if service == nil {
		return nil, errors.New("fetcher: message service is required")
	}
	if !atomic.CompareAndSwapInt32(&instances, 0, 1) {
		return nil, model.ErrorFetcherExists
	}

	if config.PollInterval <= 0 {
		config.PollInterval = DefaultPollInterval
	}
	if config.BackoffBase <= 0 {
		config.BackoffBase = DefaultBackoffBase
	}
	if config.BackoffMax <= 0 {
		config.BackoffMax = DefaultBackoffMax
	}
	if config.BackoffMax < config.BackoffBase {
		config.BackoffMax = config.BackoffBase
	}
	if config.Logger == nil {
		config.Logger = log.New("fetcher")
	}

	f := &Fetcher{
		config:  config,
		service: service,
		logger:  config.Logger,
		state:   model.FetcherState{Status: model.FetcherStatusIdle},
	}
	observeStatus(model.FetcherStatusIdle)
	return f, nil
}

// State returns a snapshot of the current state.
func (f *Fetcher) State() model.FetcherState {
	f.stateMu.RLock()
	defer f.stateMu.RUnlock()
	return f.state.Clone()
}

// Subscribe registers fn for every subsequent event. fn first receives a
// state event with the current snapshot, before Subscribe returns. fn must not
// block or call Start, Stop or Close.
func (f *Fetcher) Subscribe(fn func(model.FetcherEvent)) (unsubscribe func()) {
	return f.events.subscribe(fn, func() model.FetcherEvent {
		return model.StateEvent(f.State())
	})
}

// Subscribers returns the number of registered listeners.
func (f *Fetcher) Subscribers() int {
	return f.events.size()
}

// Start begins a fresh scan of channelID, stopping any scan already in
// progress. Without startID the scan starts at the channel head, or at the
// stored checkpoint when resuming is enabled.
func (f *Fetcher) Start(ctx context.Context, channelID string, startID *model.MessageID) (model.FetcherState, error) {
	channelID = strings.TrimSpace(channelID)
	if channelID == "" {
		return f.State(), model.ErrorMissingChannelID
	}
	if startID != nil && *startID < 0 {
		return f.State(), model.ErrorInvalidCursor
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return f.State(), model.ErrorFetcherClosed
	}
	f.haltLocked()

	var cursor *model.MessageID
	if startID != nil {
		cursor = model.MessageIDPtr(*startID)
	} else if f.config.Resume && f.config.Recorder != nil {
		checkpoint, err := f.config.Recorder.Checkpoint(ctx, channelID)
		switch {
		case err == nil:
			cursor = model.MessageIDPtr(checkpoint.LastMessageID)
			f.logger.Infof("resuming %s from checkpoint %d", channelID, checkpoint.LastMessageID)
		case errors.Is(err, model.ErrorCheckpointNotFound):
		default:
			f.logger.Warnf("loading checkpoint for %s: %v", channelID, err)
		}
	}

	state := f.update(func(s *model.FetcherState) {
		*s = model.FetcherState{
			Status:        model.FetcherStatusRunning,
			ChannelID:     channelID,
			LastMessageID: cursor,
		}
	})
	f.events.emit(model.StateEvent(state))

	runCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	f.cancel, f.done = cancel, done
	go f.run(runCtx, channelID, done)

	f.logger.Infof("fetcher started for %s", channelID)
	return state, nil
}

// Stop halts the scan and cancels any pending poll or retry. No fetch is
// attempted after Stop returns. Stopping a stopped fetcher is a no-op.
func (f *Fetcher) Stop() model.FetcherState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stopLocked()
}

// Close stops the fetcher and releases the process-wide slot so that New may
// be called again.
func (f *Fetcher) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return nil
	}
	f.stopLocked()
	f.closed = true
	atomic.StoreInt32(&instances, 0)
	return nil
}

func (f *Fetcher) stopLocked() model.FetcherState {
	f.haltLocked()

	if f.State().Status == model.FetcherStatusStopped {
		return f.State()
	}

	state := f.update(func(s *model.FetcherState) {
		s.Status = model.FetcherStatusStopped
		s.RetryCount = 0
		s.Error = ""
	})
	f.events.emit(model.StateEvent(state))
	f.logger.Infof("fetcher stopped")
	return state
}

// haltLocked cancels the running loop and waits for it to exit.
func (f *Fetcher) haltLocked() {
	if f.cancel == nil {
		return
	}
	f.cancel()
	<-f.done
	f.cancel, f.done = nil, nil
}

// update applies fn to the state under the write lock and returns a snapshot.
func (f *Fetcher) update(fn func(s *model.FetcherState)) model.FetcherState {
	f.stateMu.Lock()
	defer f.stateMu.Unlock()
	fn(&f.state)
	observeStatus(f.state.Status)
	return f.state.Clone()
}

func (f *Fetcher) run(ctx context.Context, channelID string, done chan struct{}) {
	defer close(done)

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		delay := f.poll(ctx, channelID)
		if ctx.Err() != nil {
			return
		}
		timer.Reset(delay)
	}
}

// poll performs one fetch attempt and returns how long to wait before the
// next one. A panic is treated like any other failed attempt.
func (f *Fetcher) poll(ctx context.Context, channelID string) (delay time.Duration) {
	defer func() {
		if r := recover(); r != nil {
			delay = f.fail(ctx, channelID, fmt.Errorf("poll panicked: %v", r))
		}
	}()

	page, err := f.service.FetchMessages(ctx, channelID, model.FetchOptions{
		Limit: f.config.PageLimit,
		MinID: f.State().LastMessageID,
	})
	if ctx.Err() != nil {
		return 0
	}
	if err != nil {
		return f.fail(ctx, channelID, err)
	}

	f.succeed(ctx, channelID, page.Messages)
	return f.config.PollInterval
}

func (f *Fetcher) fail(ctx context.Context, channelID string, err error) time.Duration {
	if ctx.Err() != nil {
		return 0
	}

	var delay time.Duration
	state := f.update(func(s *model.FetcherState) {
		s.RetryCount++
		s.Status = model.FetcherStatusRetrying
		s.Error = err.Error()
		delay = backoffDuration(s.RetryCount, f.config.BackoffBase, f.config.BackoffMax)
	})
	fetchFailures.WithLabelValues(channelID).Inc()

	f.logger.Warnf("fetching %s failed (attempt %d), retrying in %s: %v", channelID, state.RetryCount, delay, err)
	f.events.emit(
		model.ErrorEvent(state.Error, delay.Milliseconds()),
		model.StateEvent(state),
	)
	return delay
}

func (f *Fetcher) succeed(ctx context.Context, channelID string, messages []model.FetchedMessage) {
	if len(messages) == 0 {
		if f.State().Status != model.FetcherStatusRetrying {
			return
		}
		state := f.update(func(s *model.FetcherState) {
			s.Status = model.FetcherStatusRunning
			s.RetryCount = 0
			s.Error = ""
		})
		f.logger.Infof("fetching %s recovered", channelID)
		f.events.emit(model.StateEvent(state))
		return
	}

	highest := messages[0].ID
	for _, m := range messages[1:] {
		if m.ID > highest {
			highest = m.ID
		}
	}

	state := f.update(func(s *model.FetcherState) {
		if s.LastMessageID == nil || highest > *s.LastMessageID {
			s.LastMessageID = model.MessageIDPtr(highest)
		}
		s.TotalFetched += len(messages)
		s.Status = model.FetcherStatusRunning
		s.RetryCount = 0
		s.Error = ""
	})
	messagesFetched.WithLabelValues(channelID).Add(float64(len(messages)))

	f.events.emit(model.MessagesEvent(messages), model.StateEvent(state))

	if f.config.Recorder != nil {
		// Stop cancels an in-flight write.
		recordCtx, cancel := context.WithTimeout(ctx, recordTimeout)
		defer cancel()
		err := f.config.Recorder.RecordBatch(recordCtx, channelID, messages, *state.LastMessageID)
		switch {
		case err == nil:
		case ctx.Err() != nil:
			f.logger.Warnf("recording batch for %s abandoned: fetcher stopped", channelID)
		default:
			f.logger.Errorf("recording batch for %s: %v", channelID, err)
		}
	}
}
