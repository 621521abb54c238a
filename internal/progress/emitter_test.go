package progress

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/floraid/floraid-go/internal/conf"
	"github.com/floraid/floraid-go/internal/events"
)

type capturingConsumer struct {
	mu     sync.Mutex
	events []events.ProgressEvent
}

func (c *capturingConsumer) Name() string           { return "capturing" }
func (c *capturingConsumer) SupportsBatching() bool { return false }
func (c *capturingConsumer) ProcessBatch(batch []events.Event) error {
	for _, e := range batch {
		if err := c.ProcessEvent(e); err != nil {
			return err
		}
	}
	return nil
}

func (c *capturingConsumer) ProcessEvent(event events.Event) error {
	if pe, ok := event.(events.ProgressEvent); ok {
		c.mu.Lock()
		c.events = append(c.events, pe)
		c.mu.Unlock()
	}
	return nil
}

func (c *capturingConsumer) waitFor(t *testing.T, n int) []events.ProgressEvent {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		c.mu.Lock()
		captured := len(c.events)
		c.mu.Unlock()
		if captured >= n {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]events.ProgressEvent, len(c.events))
	copy(out, c.events)
	return out
}

func TestEmitterPublishesLifecycleEvents(t *testing.T) {
	events.ResetForTesting()
	bus, err := events.Initialize(nil)
	require.NoError(t, err)
	t.Cleanup(events.ResetForTesting)

	consumer := &capturingConsumer{}
	require.NoError(t, bus.RegisterConsumer(consumer))

	emitter := NewEmitter(bus)
	emitter.Emit("req-1", events.StageReceived, events.StatusStarted, nil)
	emitter.Emit("req-1", events.StageProviderCall, events.StatusCompleted, map[string]any{
		"service": "plantnet",
	})

	captured := consumer.waitFor(t, 2)
	require.Len(t, captured, 2)

	assert.Equal(t, "req-1", captured[0].GetRequestID())
	assert.Equal(t, events.StageReceived, captured[0].GetStage())
	assert.Equal(t, events.StatusStarted, captured[0].GetStatus())

	assert.Equal(t, events.StageProviderCall, captured[1].GetStage())
	assert.Equal(t, "plantnet", captured[1].GetContext()["service"])
}

func TestEmitterNilBusIsNoop(t *testing.T) {
	emitter := NewEmitter(nil)
	assert.NotPanics(t, func() {
		emitter.Emit("req-1", events.StageDone, events.StatusCompleted, nil)
	})

	var nilEmitter *Emitter
	assert.NotPanics(t, func() {
		nilEmitter.Emit("req-1", events.StageDone, events.StatusCompleted, nil)
	})
}

func TestMQTTSinkIgnoresNonProgressEvents(t *testing.T) {
	sink := NewMQTTSink(conf.MQTTSettings{TopicPrefix: "floraid/identify"})
	err := sink.ProcessEvent(events.NewDiagnosticEvent("quota", "quota-denied", "limit reached", nil))
	assert.NoError(t, err, "non-progress events are skipped without touching the broker")
}

func TestMQTTSinkRequiresConnection(t *testing.T) {
	sink := NewMQTTSink(conf.MQTTSettings{TopicPrefix: "floraid/identify"})
	err := sink.ProcessEvent(events.NewProgressEvent("req-1", events.StageDone, events.StatusCompleted, nil))
	assert.Error(t, err, "publishing while disconnected reports an error to the bus")
}
