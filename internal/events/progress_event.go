package events

import (
	"fmt"
	"time"
)

// Lifecycle stages emitted during one identification request.
const (
	StageReceived     = "received"
	StageCacheLookup  = "cache-lookup"
	StageLocalLookup  = "local-lookup"
	StageProviderCall = "provider-call"
	StageMerging      = "merging"
	StageFallback     = "fallback"
	StageAutoStore    = "auto-store"
	StageDone         = "done"
)

// Stage statuses.
const (
	StatusStarted   = "started"
	StatusCompleted = "completed"
	StatusSkipped   = "skipped"
	StatusFailed    = "failed"
)

// progressEvent is the concrete ProgressEvent carried on the bus.
type progressEvent struct {
	requestID string
	stage     string
	status    string
	component string
	payload   map[string]any
	timestamp time.Time
}

// NewProgressEvent creates a progress event for one request lifecycle stage.
// The payload map is retained as-is; callers must not mutate it afterwards.
func NewProgressEvent(requestID, stage, status string, payload map[string]any) ProgressEvent {
	return &progressEvent{
		requestID: requestID,
		stage:     stage,
		status:    status,
		component: "orchestrator",
		payload:   payload,
		timestamp: time.Now(),
	}
}

func (pe *progressEvent) GetRequestID() string { return pe.requestID }
func (pe *progressEvent) GetStage() string     { return pe.stage }
func (pe *progressEvent) GetStatus() string    { return pe.status }

func (pe *progressEvent) GetComponent() string { return pe.component }
func (pe *progressEvent) GetCategory() string  { return "progress" }

func (pe *progressEvent) GetContext() map[string]any {
	ctx := make(map[string]any, len(pe.payload)+3)
	for k, v := range pe.payload {
		ctx[k] = v
	}
	ctx["request_id"] = pe.requestID
	ctx["stage"] = pe.stage
	ctx["status"] = pe.status
	return ctx
}

func (pe *progressEvent) GetTimestamp() time.Time { return pe.timestamp }

func (pe *progressEvent) GetMessage() string {
	return fmt.Sprintf("%s %s", pe.stage, pe.status)
}
