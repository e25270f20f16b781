// Package notify defines the run completion notification contract.
package notify

import (
	"context"
	"time"
)

// Event describes a finished crawl run.
type Event struct {
	RunID     string    `json:"run_id"`
	Seed      string    `json:"seed"`
	State     string    `json:"state"`
	Done      int       `json:"done"`
	Failed    int       `json:"failed"`
	Added     int       `json:"added"`
	Changed   int       `json:"changed"`
	Removed   int       `json:"removed"`
	Duration  string    `json:"duration"`
	Timestamp time.Time `json:"timestamp"`
}

// HasChanges reports whether the run observed any page-level change.
func (e Event) HasChanges() bool {
	return e.Added > 0 || e.Changed > 0 || e.Removed > 0
}

// Notifier pushes completion events to an external endpoint.
type Notifier interface {
	Notify(ctx context.Context, event Event) error
}

// Nop is a Notifier that does nothing.
type Nop struct{}

// Notify discards the event.
func (Nop) Notify(context.Context, Event) error { return nil }
