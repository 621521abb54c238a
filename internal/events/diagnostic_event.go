package events

import (
	"time"
)

// diagnosticEvent carries resilience bookkeeping notices (quota warnings,
// circuit transitions, fail-open decisions) onto the bus.
type diagnosticEvent struct {
	component string
	category  string
	message   string
	context   map[string]any
	timestamp time.Time
}

// NewDiagnosticEvent creates a bus event for a resilience notice. The context
// map is retained as-is; callers must not mutate it afterwards.
func NewDiagnosticEvent(component, category, message string, context map[string]any) Event {
	return &diagnosticEvent{
		component: component,
		category:  category,
		message:   message,
		context:   context,
		timestamp: time.Now(),
	}
}

func (de *diagnosticEvent) GetComponent() string       { return de.component }
func (de *diagnosticEvent) GetCategory() string        { return de.category }
func (de *diagnosticEvent) GetContext() map[string]any { return de.context }
func (de *diagnosticEvent) GetTimestamp() time.Time    { return de.timestamp }
func (de *diagnosticEvent) GetMessage() string         { return de.message }
