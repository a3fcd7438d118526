// Package journal
package journal

import (
	"context"
	"time"
)

// Event represents a journaled lifecycle event.
type Event struct {
	Time        time.Time
	Type        string // "open", "close", "rebalance", "error", "state"
	Description string
	Data        map[string]any
}

// Journaler interface for the append-only event journal.
type Journaler interface {
	LogEvent(ctx context.Context, event Event) error
	GetEvents(ctx context.Context, eventType string, start, end time.Time) ([]Event, error)
}
