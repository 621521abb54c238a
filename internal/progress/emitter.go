// Package progress publishes discrete lifecycle events for long-running
// identification requests. Publishing is strictly best-effort: a slow or
// absent consumer must never slow down or abort the orchestration.
package progress

import (
	"io"
	"log/slog"

	"github.com/floraid/floraid-go/internal/events"
	"github.com/floraid/floraid-go/internal/logging"
)

var logger *slog.Logger

func init() {
	var err error
	logger, _, err = logging.NewFileLogger("logs/progress.log", "progress", slog.LevelInfo)
	if err != nil || logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil)).With("service", "progress")
	}
}

// Emitter publishes request lifecycle events onto the event bus.
// A nil Emitter, or one with a nil bus, silently drops everything.
type Emitter struct {
	bus *events.EventBus
}

// NewEmitter creates an emitter on the given bus. The bus may be nil.
func NewEmitter(bus *events.EventBus) *Emitter {
	return &Emitter{bus: bus}
}

// Emit publishes one lifecycle stage event, fire-and-forget.
func (e *Emitter) Emit(requestID, stage, status string, payload map[string]any) {
	if e == nil || e.bus == nil {
		return
	}

	event := events.NewProgressEvent(requestID, stage, status, payload)
	if !e.bus.TryPublish(event) {
		logger.Debug("progress event dropped",
			"request_id", requestID, "stage", stage, "status", status)
	}
}
