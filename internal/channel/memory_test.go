package channel

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"uk.co.dudmesh.tgingest/internal/model"
)

func ids(messages []RawMessage) []model.MessageID {
	out := make([]model.MessageID, 0, len(messages))
	for _, m := range messages {
		out = append(out, m.ID)
	}
	return out
}

func TestMemoryGetMessages(t *testing.T) {
	m := NewMemory()
	m.Seed("chan1", 10, time.Now())
	ctx := context.Background()

	tests := []struct {
		name  string
		query Query
		want  []model.MessageID
	}{
		{name: "latest", query: Query{Limit: 3}, want: []model.MessageID{10, 9, 8}},
		{name: "older than", query: Query{OffsetID: 5, Limit: 3}, want: []model.MessageID{4, 3, 2}},
		{name: "older than, short", query: Query{OffsetID: 3, Limit: 3}, want: []model.MessageID{2, 1}},
		{name: "newer than continues forward", query: Query{MinID: model.MessageIDPtr(4), Limit: 3}, want: []model.MessageID{7, 6, 5}},
		{name: "newer than zero starts at the oldest", query: Query{MinID: model.MessageIDPtr(0), Limit: 3}, want: []model.MessageID{3, 2, 1}},
		{name: "newer than, caught up", query: Query{MinID: model.MessageIDPtr(10), Limit: 3}, want: []model.MessageID{}},
		{name: "no limit", query: Query{MinID: model.MessageIDPtr(7)}, want: []model.MessageID{10, 9, 8}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			batch, err := m.GetMessages(ctx, "chan1", tt.query)
			require.NoError(t, err)
			assert.Equal(t, tt.want, ids(batch))
		})
	}
}

func TestMemoryFailures(t *testing.T) {
	assert := assert.New(t)
	m := NewMemory()
	m.AddChannel("chan1")
	ctx := context.Background()

	_, err := m.GetMessages(ctx, "nope", Query{})
	assert.True(errors.Is(err, model.ErrorChannelNotFound))

	boom := errors.New("boom")
	m.FailNext(boom)
	_, err = m.GetMessages(ctx, "chan1", Query{})
	assert.Equal(boom, err)

	batch, err := m.GetMessages(ctx, "chan1", Query{})
	assert.NoError(err)
	assert.Empty(batch)
	assert.Len(m.Queries(), 3)

	m.Publish("chan1", "hello", time.Now())
	m.FailFile("chan1", 1, boom)
	_, err = m.ResolveFileID(ctx, "chan1", 1)
	assert.Equal(boom, err)
}

func TestMemorySeedFiles(t *testing.T) {
	assert := assert.New(t)
	m := NewMemory()
	m.Seed("chan1", 6, time.Now())

	fileID, err := m.ResolveFileID(context.Background(), "chan1", 3)
	assert.NoError(err)
	assert.Equal("chan1:3", fileID)

	fileID, err = m.ResolveFileID(context.Background(), "chan1", 2)
	assert.NoError(err)
	assert.Empty(fileID)

	next := m.Publish("chan1", "seven", time.Now())
	assert.Equal(model.MessageID(7), next.ID)
}
