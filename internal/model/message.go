package model

import "time"

type MessageID int64

// FetchedMessage is a channel message normalized at read time.
type FetchedMessage struct {
	ID     MessageID `json:"id" db:"id"`
	Text   *string   `json:"text" db:"text"`
	FileID *string   `json:"fileId" db:"file_id"`
	Date   time.Time `json:"date" db:"date"`
}

// FetchOptions selects a page of messages. At most one of StartID and MinID
// may be set.
type FetchOptions struct {
	Limit        int
	StartID      *MessageID // older than
	MinID        *MessageID // newer than
	ResolveFiles bool
}

type MessagePage struct {
	Messages    []FetchedMessage `json:"messages"`
	NextStartID *MessageID       `json:"nextStartId"`
}

type Checkpoint struct {
	ChannelID     string    `json:"channelId" db:"channel_id"`
	LastMessageID MessageID `json:"lastMessageId" db:"last_message_id"`
	TotalArchived int64     `json:"totalArchived" db:"total_archived"`
	UpdatedAt     time.Time `json:"updatedAt" db:"updated_at"`
}

func StringPtr(s string) *string {
	return &s
}

func MessageIDPtr(id MessageID) *MessageID {
	return &id
}
