package events

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockConsumer records every event it processes.
type mockConsumer struct {
	name      string
	mu        sync.Mutex
	events    []Event
	processed atomic.Int64
	fail      bool
}

func (m *mockConsumer) Name() string { return m.name }

func (m *mockConsumer) ProcessEvent(event Event) error {
	if m.fail {
		return assert.AnError
	}
	m.mu.Lock()
	m.events = append(m.events, event)
	m.mu.Unlock()
	m.processed.Add(1)
	return nil
}

func (m *mockConsumer) ProcessBatch(events []Event) error {
	for _, e := range events {
		if err := m.ProcessEvent(e); err != nil {
			return err
		}
	}
	return nil
}

func (m *mockConsumer) SupportsBatching() bool { return false }

func (m *mockConsumer) waitFor(t *testing.T, n int64) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for m.processed.Load() < n {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %d events, got %d", n, m.processed.Load())
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func newTestBus(t *testing.T, cfg *Config) *EventBus {
	t.Helper()
	ResetForTesting()
	t.Cleanup(ResetForTesting)

	eb, err := Initialize(cfg)
	require.NoError(t, err, "bus initialization failed")
	require.NotNil(t, eb, "expected a bus instance")
	return eb
}

func TestTryPublish_DeliversToConsumer(t *testing.T) {
	eb := newTestBus(t, nil)

	consumer := &mockConsumer{name: "recorder"}
	require.NoError(t, eb.RegisterConsumer(consumer))

	ev := NewProgressEvent("req-1", StageProviderCall, StatusStarted, map[string]any{"provider": "plantnet"})
	assert.True(t, eb.TryPublish(ev), "publish should be accepted")

	consumer.waitFor(t, 1)

	consumer.mu.Lock()
	defer consumer.mu.Unlock()
	require.Len(t, consumer.events, 1)
	pe, ok := consumer.events[0].(ProgressEvent)
	require.True(t, ok, "expected a progress event")
	assert.Equal(t, "req-1", pe.GetRequestID())
	assert.Equal(t, StageProviderCall, pe.GetStage())
	assert.Equal(t, StatusStarted, pe.GetStatus())
	assert.Equal(t, "plantnet", pe.GetContext()["provider"])
}

func TestTryPublish_NoConsumersIsNoop(t *testing.T) {
	eb := newTestBus(t, nil)

	ev := NewProgressEvent("req-2", StageDone, StatusCompleted, nil)
	assert.False(t, eb.TryPublish(ev), "publish without consumers should report false")
}

func TestTryPublish_FullBufferDrops(t *testing.T) {
	eb := newTestBus(t, &Config{BufferSize: 1, Workers: 1, Enabled: true})

	// A consumer that blocks keeps the buffer occupied.
	block := make(chan struct{})
	blocker := &blockingConsumer{name: "blocker", release: block}
	require.NoError(t, eb.RegisterConsumer(blocker))

	for i := 0; i < 10; i++ {
		eb.TryPublish(NewProgressEvent("req-3", StageMerging, StatusStarted, nil))
	}
	close(block)

	stats := eb.GetStats()
	assert.Positive(t, stats.EventsDropped, "overflow events must be dropped, not block")
}

type blockingConsumer struct {
	name    string
	release chan struct{}
}

func (b *blockingConsumer) Name() string { return b.name }
func (b *blockingConsumer) ProcessEvent(Event) error {
	<-b.release
	return nil
}
func (b *blockingConsumer) ProcessBatch(events []Event) error { return nil }
func (b *blockingConsumer) SupportsBatching() bool            { return false }

func TestRegisterConsumer_Duplicate(t *testing.T) {
	eb := newTestBus(t, nil)

	require.NoError(t, eb.RegisterConsumer(&mockConsumer{name: "dup"}))
	err := eb.RegisterConsumer(&mockConsumer{name: "dup"})
	assert.Error(t, err, "duplicate consumer names must be rejected")
}

func TestConsumerError_DoesNotStopProcessing(t *testing.T) {
	eb := newTestBus(t, nil)

	failing := &mockConsumer{name: "failing", fail: true}
	recording := &mockConsumer{name: "recording"}
	require.NoError(t, eb.RegisterConsumer(failing))
	require.NoError(t, eb.RegisterConsumer(recording))

	eb.TryPublish(NewProgressEvent("req-4", StageDone, StatusCompleted, nil))
	recording.waitFor(t, 1)

	stats := eb.GetStats()
	assert.Positive(t, stats.ConsumerErrors, "failing consumer should be counted")
}

func TestShutdown(t *testing.T) {
	eb := newTestBus(t, nil)
	require.NoError(t, eb.RegisterConsumer(&mockConsumer{name: "c"}))

	require.NoError(t, eb.Shutdown(time.Second), "shutdown should complete in time")
	assert.False(t, eb.TryPublish(NewProgressEvent("req-5", StageDone, StatusCompleted, nil)),
		"publish after shutdown must be rejected")
}
