package channel

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"uk.co.dudmesh.tgingest/internal/model"
)

// Memory is an in-process channel source. It backs the dev server when no
// gateway is configured and stands in for the upstream in tests. Batches are
// returned newest first, as the real API does.
type Memory struct {
	mu         sync.Mutex
	channels   map[string][]RawMessage
	files      map[string]map[model.MessageID]string
	fileErrors map[string]map[model.MessageID]error
	failures   []error
	queries    []Query
}

func NewMemory() *Memory {
	return &Memory{
		channels:   make(map[string][]RawMessage),
		files:      make(map[string]map[model.MessageID]string),
		fileErrors: make(map[string]map[model.MessageID]error),
	}
}

// AddChannel registers an empty channel so that reads do not fail with
// ErrorChannelNotFound.
func (m *Memory) AddChannel(channelID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.channels[channelID]; !ok {
		m.channels[channelID] = nil
	}
}

// Append adds messages to a channel, creating it if needed.
func (m *Memory) Append(channelID string, messages ...RawMessage) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.channels[channelID] = append(m.channels[channelID], messages...)
	sort.Slice(m.channels[channelID], func(i, j int) bool {
		return m.channels[channelID][i].ID < m.channels[channelID][j].ID
	})
}

// Publish appends a text message with the next id and returns it.
func (m *Memory) Publish(channelID, text string, at time.Time) RawMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	var next model.MessageID = 1
	if existing := m.channels[channelID]; len(existing) > 0 {
		next = existing[len(existing)-1].ID + 1
	}
	msg := RawMessage{ID: next, Text: text, Date: at.UTC()}
	m.channels[channelID] = append(m.channels[channelID], msg)
	return msg
}

// SetFile registers the file reference returned for a media message.
func (m *Memory) SetFile(channelID string, messageID model.MessageID, fileID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.files[channelID] == nil {
		m.files[channelID] = make(map[model.MessageID]string)
	}
	m.files[channelID][messageID] = fileID
}

// FailFile makes ResolveFileID fail for one message.
func (m *Memory) FailFile(channelID string, messageID model.MessageID, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fileErrors[channelID] == nil {
		m.fileErrors[channelID] = make(map[model.MessageID]error)
	}
	m.fileErrors[channelID][messageID] = err
}

// FailNext queues errors returned by the next GetMessages calls, in order.
func (m *Memory) FailNext(errs ...error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures = append(m.failures, errs...)
}

// Queries returns every query GetMessages has received.
func (m *Memory) Queries() []Query {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Query(nil), m.queries...)
}

func (m *Memory) GetMessages(ctx context.Context, channelID string, q Query) ([]RawMessage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.queries = append(m.queries, q)
	if len(m.failures) > 0 {
		err := m.failures[0]
		m.failures = m.failures[1:]
		return nil, err
	}

	all, ok := m.channels[channelID]
	if !ok {
		return nil, fmt.Errorf("channel %s: %w", channelID, model.ErrorChannelNotFound)
	}

	var selected []RawMessage
	for _, msg := range all {
		if q.MinID != nil && msg.ID <= *q.MinID {
			continue
		}
		if q.OffsetID > 0 && msg.ID >= q.OffsetID {
			continue
		}
		selected = append(selected, msg)
	}

	if q.Limit > 0 && len(selected) > q.Limit {
		if q.MinID != nil {
			selected = selected[:q.Limit]
		} else {
			selected = selected[len(selected)-q.Limit:]
		}
	}

	batch := make([]RawMessage, len(selected))
	for i, msg := range selected {
		batch[len(selected)-1-i] = msg
	}
	return batch, nil
}

func (m *Memory) ResolveFileID(ctx context.Context, channelID string, messageID model.MessageID) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.fileErrors[channelID][messageID]; err != nil {
		return "", err
	}
	return m.files[channelID][messageID], nil
}

// Seed fills a channel with count demo messages ending at now, every third
// one carrying media.
func (m *Memory) Seed(channelID string, count int, now time.Time) {
	messages := make([]RawMessage, 0, count)
	for i := 1; i <= count; i++ {
		id := model.MessageID(i)
		msg := RawMessage{
			ID:   id,
			Text: fmt.Sprintf("message %d", i),
			Date: now.Add(-time.Duration(count-i) * time.Minute).UTC(),
		}
		if i%3 == 0 {
			msg.HasMedia = true
			msg.Text = ""
			m.SetFile(channelID, id, fmt.Sprintf("%s:%d", channelID, i))
		}
		messages = append(messages, msg)
	}
	m.Append(channelID, messages...)
}
