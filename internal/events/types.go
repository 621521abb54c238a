// Package events provides an asynchronous event bus for decoupling progress
// reporting and error telemetry from the identification hot path, preventing
// blocking operations.
package events

import (
	"time"
)

// Event is the minimal payload the bus transports. Both progress events and
// error events implement it, so a single consumer set can observe the whole
// lifecycle of a request.
type Event interface {
	// GetComponent returns the component that generated the event
	GetComponent() string

	// GetCategory returns the event category for grouping
	GetCategory() string

	// GetContext returns additional context data for the event
	GetContext() map[string]any

	// GetTimestamp returns when the event occurred
	GetTimestamp() time.Time

	// GetMessage returns a human-readable message
	GetMessage() string
}

// ErrorEvent represents an error pushed onto the bus by the errors package.
// This interface allows the errors package to publish without creating a
// circular dependency.
type ErrorEvent interface {
	Event

	// GetError returns the underlying error
	GetError() error

	// IsReported returns whether this error has already been reported
	IsReported() bool

	// MarkReported marks the error as reported
	MarkReported()
}

// ProgressEvent represents a discrete lifecycle stage of one identification
// request, for live client feedback.
type ProgressEvent interface {
	Event

	// GetRequestID returns the identification request this event belongs to
	GetRequestID() string

	// GetStage returns the lifecycle stage, e.g. "provider-call"
	GetStage() string

	// GetStatus returns the stage status: started, completed, skipped or failed
	GetStatus() string
}

// EventConsumer represents a consumer that processes bus events
type EventConsumer interface {
	// Name returns the consumer name for identification
	Name() string

	// ProcessEvent processes a single event
	ProcessEvent(event Event) error

	// ProcessBatch processes multiple events at once (for efficiency)
	ProcessBatch(events []Event) error

	// SupportsBatching returns true if this consumer supports batch processing
	SupportsBatching() bool
}

// EventBusStats contains runtime statistics for monitoring
type EventBusStats struct {
	EventsReceived  uint64
	EventsProcessed uint64
	EventsDropped   uint64
	ConsumerErrors  uint64
}
