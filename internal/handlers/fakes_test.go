package handlers

import (
	"context"
	"sync"

	"uk.co.dudmesh.tgingest/internal/model"
)

type startCall struct {
	channelID string
	startID   *model.MessageID
}

type fakeFetcher struct {
	mu        sync.Mutex
	state     model.FetcherState
	startErr  error
	starts    []startCall
	listeners map[int]func(model.FetcherEvent)
	nextID    int
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{
		state:     model.FetcherState{Status: model.FetcherStatusIdle},
		listeners: map[int]func(model.FetcherEvent){},
	}
}

func (f *fakeFetcher) Start(ctx context.Context, channelID string, startID *model.MessageID) (model.FetcherState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.starts = append(f.starts, startCall{channelID, startID})
	if f.startErr != nil {
		return model.FetcherState{}, f.startErr
	}
	f.state = model.FetcherState{Status: model.FetcherStatusRunning, ChannelID: channelID, LastMessageID: startID}
	return f.state.Clone(), nil
}

func (f *fakeFetcher) Stop() model.FetcherState {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.state.Status = model.FetcherStatusStopped
	return f.state.Clone()
}

func (f *fakeFetcher) State() model.FetcherState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state.Clone()
}

func (f *fakeFetcher) Subscribe(fn func(model.FetcherEvent)) func() {
	f.mu.Lock()
	defer f.mu.Unlock()
	fn(model.StateEvent(f.state))
	id := f.nextID
	f.nextID++
	f.listeners[id] = fn
	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		delete(f.listeners, id)
	}
}

func (f *fakeFetcher) subscribers() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.listeners)
}

func (f *fakeFetcher) emit(events ...model.FetcherEvent) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, event := range events {
		for _, fn := range f.listeners {
			fn(event)
		}
	}
}

type fakeMessages struct {
	mu      sync.Mutex
	page    *model.MessagePage
	err     error
	fileID  *string
	options []model.FetchOptions
}

func (s *fakeMessages) FetchMessages(ctx context.Context, channelID string, opts model.FetchOptions) (*model.MessagePage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.options = append(s.options, opts)
	if s.err != nil {
		return nil, s.err
	}
	if channelID == "" {
		return nil, model.ErrorMissingChannelID
	}
	return s.page, nil
}

func (s *fakeMessages) ResolveFile(ctx context.Context, channelID string, messageID model.MessageID) (*string, error) {
	if channelID == "" {
		return nil, model.ErrorMissingChannelID
	}
	return s.fileID, s.err
}

type fakeArchive struct {
	checkpoints map[string]*model.Checkpoint
	messages    []model.FetchedMessage
	beforeID    model.MessageID
	limit       int
}

func (a *fakeArchive) Checkpoint(ctx context.Context, channelID string) (*model.Checkpoint, error) {
	checkpoint, ok := a.checkpoints[channelID]
	if !ok {
		return nil, model.ErrorCheckpointNotFound
	}
	return checkpoint, nil
}

func (a *fakeArchive) Messages(ctx context.Context, channelID string, beforeID model.MessageID, limit int) ([]model.FetchedMessage, error) {
	a.beforeID = beforeID
	a.limit = limit
	return a.messages, nil
}
