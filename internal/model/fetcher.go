package model

type FetcherStatus string

const (
	FetcherStatusIdle     FetcherStatus = "idle"
	FetcherStatusRunning  FetcherStatus = "running"
	FetcherStatusRetrying FetcherStatus = "retrying"
	FetcherStatusStopped  FetcherStatus = "stopped"
)

var FetcherStatuses = []FetcherStatus{
	FetcherStatusIdle,
	FetcherStatusRunning,
	FetcherStatusRetrying,
	FetcherStatusStopped,
}

type FetcherState struct {
	Status        FetcherStatus `json:"status"`
	ChannelID     string        `json:"channelId,omitempty"`
	LastMessageID *MessageID    `json:"lastMessageId"`
	TotalFetched  int           `json:"totalFetched"`
	RetryCount    int           `json:"retryCount"`
	Error         string        `json:"error,omitempty"`
}

// Clone returns a copy that shares no memory with s.
func (s FetcherState) Clone() FetcherState {
	if s.LastMessageID != nil {
		s.LastMessageID = MessageIDPtr(*s.LastMessageID)
	}
	return s
}

func (s FetcherState) IsActive() bool {
	return s.Status == FetcherStatusRunning || s.Status == FetcherStatusRetrying
}

type EventType string

const (
	EventTypeMessages EventType = "messages"
	EventTypeState    EventType = "state"
	EventTypeError    EventType = "error"
)

// FetcherEvent is one of: messages (Messages set), state (State set) or
// error (Error and RetryIn set, RetryIn in milliseconds).
type FetcherEvent struct {
	Type     EventType        `json:"type"`
	Messages []FetchedMessage `json:"messages,omitempty"`
	State    *FetcherState    `json:"state,omitempty"`
	Error    string           `json:"error,omitempty"`
	RetryIn  int64            `json:"retryIn,omitempty"`
}

func MessagesEvent(messages []FetchedMessage) FetcherEvent {
	return FetcherEvent{Type: EventTypeMessages, Messages: messages}
}

func StateEvent(state FetcherState) FetcherEvent {
	state = state.Clone()
	return FetcherEvent{Type: EventTypeState, State: &state}
}

func ErrorEvent(message string, retryInMillis int64) FetcherEvent {
	return FetcherEvent{Type: EventTypeError, Error: message, RetryIn: retryInMillis}
}
