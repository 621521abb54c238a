package events

import (
	"time"

	"github.com/floraid/floraid-go/internal/errors"
)

// errorEventAdapter wraps an EnhancedError so it satisfies the bus Event
// interfaces without the errors package importing this one.
type errorEventAdapter struct {
	ee *errors.EnhancedError
}

func (a *errorEventAdapter) GetComponent() string       { return a.ee.GetComponent() }
func (a *errorEventAdapter) GetCategory() string        { return a.ee.GetCategory() }
func (a *errorEventAdapter) GetContext() map[string]any { return a.ee.GetContext() }
func (a *errorEventAdapter) GetTimestamp() time.Time    { return a.ee.GetTimestamp() }
func (a *errorEventAdapter) GetMessage() string         { return a.ee.GetMessage() }
func (a *errorEventAdapter) GetError() error            { return a.ee.GetError() }
func (a *errorEventAdapter) IsReported() bool           { return a.ee.IsReported() }
func (a *errorEventAdapter) MarkReported()              { a.ee.MarkReported() }

// InitializeErrorReporting wires the errors package into the bus so that every
// built EnhancedError is published as an ErrorEvent. Publishing is best-effort;
// a full buffer drops the event rather than blocking the error path.
func InitializeErrorReporting(eb *EventBus) {
	if eb == nil {
		return
	}
	errors.SetEventPublisher(func(ee *errors.EnhancedError) {
		eb.TryPublish(&errorEventAdapter{ee: ee})
	})
}
