// Package channel provides access to the upstream messaging API that holds
// channel history.
package channel

import (
	"context"
	"time"

	"uk.co.dudmesh.tgingest/internal/model"
)

// Query selects a batch of channel history. OffsetID and MinID are exclusive
// bounds. A zero OffsetID means unset; MinID is unset only when nil, so a
// cursor of 0 still continues forward from the start of the channel.
type Query struct {
	OffsetID model.MessageID  // older than
	MinID    *model.MessageID // newer than
	Limit    int
}

// RawMessage is a message as returned by the upstream API, before
// normalization. Batches are not guaranteed to be in any order.
type RawMessage struct {
	ID       model.MessageID
	Text     string
	Date     time.Time
	HasMedia bool
}

// Client is the capability the ingestion pipeline depends on.
type Client interface {
	// GetMessages returns up to q.Limit messages. With MinID set, the batch
	// continues forward from the cursor: the oldest messages above it.
	GetMessages(ctx context.Context, channelID string, q Query) ([]RawMessage, error)

	// ResolveFileID returns a file reference for the message's media, or ""
	// when the message carries none.
	ResolveFileID(ctx context.Context, channelID string, messageID model.MessageID) (string, error)
}
