package audit

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublisher_SyncMode(t *testing.T) {
	sink := NewMemorySink()
	pub := NewPublisher(sink)
	defer pub.Close()

	err := pub.Emit(context.Background(), Event{Action: ActionVerificationCompleted, Outcome: "ALLOW"})
	require.NoError(t, err)

	events := sink.Events()
	require.Len(t, events, 1)
	assert.Equal(t, ActionVerificationCompleted, events[0].Action)
}

func TestPublisher_SyncModeReturnsSinkError(t *testing.T) {
	boom := errors.New("boom")
	m := NewMetrics(prometheus.NewRegistry())
	pub := NewPublisher(failingSink{err: boom}, WithMetrics(m))
	defer pub.Close()

	err := pub.Emit(context.Background(), Event{Action: ActionVerificationRequested})
	require.ErrorIs(t, err, boom)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SinkFailures))
}

func TestPublisher_AsyncMode(t *testing.T) {
	sink := NewMemorySink()
	pub := NewPublisher(sink, WithAsyncBuffer(10))
	defer pub.Close()

	err := pub.Emit(context.Background(), Event{Action: ActionCredentialVerified})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return len(sink.Events()) == 1
	}, time.Second, 10*time.Millisecond)
	assert.Equal(t, ActionCredentialVerified, sink.Events()[0].Action)
}

func TestPublisher_AsyncDrainsOnClose(t *testing.T) {
	sink := NewMemorySink()
	pub := NewPublisher(sink, WithAsyncBuffer(100), WithBatchSize(3))

	for range 10 {
		require.NoError(t, pub.Emit(context.Background(), Event{Action: ActionVerificationRequested}))
	}

	pub.Close()
	assert.Len(t, sink.Events(), 10, "all events should be drained on close")
}

func TestPublisher_EmitAfterClose(t *testing.T) {
	pub := NewPublisher(NewMemorySink(), WithAsyncBuffer(4))
	pub.Close()
	pub.Close()

	err := pub.Emit(context.Background(), Event{Action: ActionVerificationRequested})
	assert.ErrorIs(t, err, ErrClosed)
}

func TestPublisher_BufferFullDoesNotBlock(t *testing.T) {
	blocked := &blockingSink{release: make(chan struct{})}
	pub := NewPublisher(blocked, WithAsyncBuffer(1))

	var wg sync.WaitGroup
	for range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = pub.Emit(context.Background(), Event{Action: ActionVerificationRequested})
		}()
	}
	wg.Wait()

	close(blocked.release)
	pub.Close()
}

func TestPublisher_SetsTimestamp(t *testing.T) {
	fixed := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	sink := NewMemorySink()
	pub := NewPublisher(sink, WithClock(func() time.Time { return fixed }))
	defer pub.Close()

	require.NoError(t, pub.Emit(context.Background(), Event{Action: ActionVerificationRequested}))
	assert.Equal(t, fixed, sink.Events()[0].Timestamp)
}

func TestRingBuffer_DropsOldest(t *testing.T) {
	b := NewRingBuffer(2)
	assert.False(t, b.Enqueue(Event{RequestID: "1"}))
	assert.False(t, b.Enqueue(Event{RequestID: "2"}))
	assert.True(t, b.Enqueue(Event{RequestID: "3"}))

	batch := b.DequeueBatch(10)
	require.Len(t, batch, 2)
	assert.Equal(t, "2", batch[0].RequestID)
	assert.Equal(t, "3", batch[1].RequestID)
	assert.Equal(t, int64(1), b.Dropped())
	assert.Zero(t, b.Len())
}

func TestFanout_JoinsErrors(t *testing.T) {
	boom := errors.New("boom")
	mem := NewMemorySink()
	err := Fanout{mem, failingSink{err: boom}}.Write(context.Background(), []Event{{Action: ActionBindingVerified}})
	require.ErrorIs(t, err, boom)
	assert.Len(t, mem.Events(), 1)
}

func TestPseudonymiser(t *testing.T) {
	key := make([]byte, 32)
	p, err := NewPseudonymiser(key)
	require.NoError(t, err)

	a := p.Pseudonymise("SUBJ-001")
	assert.Len(t, a, 32)
	assert.Equal(t, a, p.Pseudonymise("SUBJ-001"))
	assert.NotEqual(t, a, p.Pseudonymise("SUBJ-002"))
	assert.NotContains(t, a, "SUBJ")

	other := make([]byte, 32)
	other[0] = 1
	q, err := NewPseudonymiser(other)
	require.NoError(t, err)
	assert.NotEqual(t, a, q.Pseudonymise("SUBJ-001"))

	_, err = NewPseudonymiser([]byte("short"))
	assert.Error(t, err)
}

type failingSink struct{ err error }

func (s failingSink) Write(context.Context, []Event) error { return s.err }

type blockingSink struct{ release chan struct{} }

func (s *blockingSink) Write(ctx context.Context, _ []Event) error {
	select {
	case <-s.release:
	case <-ctx.Done():
	}
	return nil
}
