// Package journal records connection lifecycle events of streaming sessions.
package journal

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Event types.
const (
	EventConnect    = "connect"
	EventStreaming  = "streaming"
	EventReconnect  = "reconnect"
	EventFailed     = "failed"
	EventDisconnect = "disconnect"
)

// Event represents a journaled event.
type Event struct {
	Time time.Time
	Type string // e.g., "connect", "reconnect", "failed"
	// SessionID groups the events of one Connect call.
	SessionID   uuid.UUID
	Venue       string
	Symbol      string
	Attempt     int
	Description string
	Data        map[string]any
}

// Journaler interface for journaling events.
type Journaler interface {
	LogEvent(ctx context.Context, event Event) error
	// GetEvents returns events of eventType in [start, end], oldest first.
	// An empty eventType matches every type.
	GetEvents(ctx context.Context, eventType string, start, end time.Time) ([]Event, error)
}

// Nop discards every event.
type Nop struct{}

func (Nop) LogEvent(context.Context, Event) error { return nil }

func (Nop) GetEvents(context.Context, string, time.Time, time.Time) ([]Event, error) {
	return nil, nil
}
