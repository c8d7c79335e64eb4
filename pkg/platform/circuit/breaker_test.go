package circuit

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func fail(t *testing.T, b *Breaker) StateChange {
	t.Helper()
	p, err := b.Allow()
	require.NoError(t, err)
	return b.RecordFailure(p)
}

func TestBreaker_InitialState(t *testing.T) {
	b := New("test")
	assert.Equal(t, StateClosed, b.State())
	assert.Equal(t, "test", b.Name())
}

func TestBreaker_OpensAfterThreshold(t *testing.T) {
	b := New("test", WithFailureThreshold(3))

	// First two failures don't open
	change := fail(t, b)
	assert.False(t, change.Opened)
	change = fail(t, b)
	assert.False(t, change.Opened)

	// Third failure opens the circuit
	change = fail(t, b)
	assert.True(t, change.Opened)
	assert.Equal(t, StateOpen, b.State())

	_, err := b.Allow()
	assert.ErrorIs(t, err, ErrOpen)
}

func TestBreaker_SuccessResetsFailureCount(t *testing.T) {
	b := New("test", WithFailureThreshold(3))

	fail(t, b)
	fail(t, b)
	assert.Equal(t, StateClosed, b.State())

	p, err := b.Allow()
	require.NoError(t, err)
	b.RecordSuccess(p)

	// Two more failures don't open (count was reset)
	fail(t, b)
	fail(t, b)
	assert.Equal(t, StateClosed, b.State())

	fail(t, b)
	assert.Equal(t, StateOpen, b.State())
}

func TestBreaker_WindowRestartsStreak(t *testing.T) {
	clock := newFakeClock()
	b := New("test", WithFailureThreshold(3), WithWindow(time.Minute), WithClock(clock.Now))

	fail(t, b)
	fail(t, b)
	clock.Advance(2 * time.Minute)

	// Streak is stale, this counts as the first failure of a new one
	fail(t, b)
	assert.Equal(t, StateClosed, b.State())
	assert.Equal(t, 1, b.Snapshot().Failures)
}

func TestBreaker_FastFailsUntilCooldownElapses(t *testing.T) {
	clock := newFakeClock()
	b := New("test", WithFailureThreshold(1), WithCooldown(30*time.Second), WithClock(clock.Now))

	fail(t, b)
	require.Equal(t, StateOpen, b.State())

	clock.Advance(29 * time.Second)
	_, err := b.Allow()
	assert.ErrorIs(t, err, ErrOpen)

	clock.Advance(time.Second)
	p, err := b.Allow()
	require.NoError(t, err)
	assert.True(t, p.Probe())
	assert.Equal(t, StateHalfOpen, b.State())
}

func TestBreaker_ExactlyOneProbe(t *testing.T) {
	clock := newFakeClock()
	b := New("test", WithFailureThreshold(1), WithCooldown(time.Second), WithClock(clock.Now))
	fail(t, b)
	clock.Advance(time.Second)

	var probes atomic.Int32
	var wg sync.WaitGroup
	for range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if p, err := b.Allow(); err == nil && p.Probe() {
				probes.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), probes.Load())
}

func TestBreaker_ProbeSuccessCloses(t *testing.T) {
	clock := newFakeClock()
	b := New("test", WithFailureThreshold(2), WithCooldown(time.Second), WithClock(clock.Now))
	fail(t, b)
	fail(t, b)
	clock.Advance(time.Second)

	p, err := b.Allow()
	require.NoError(t, err)
	change := b.RecordSuccess(p)

	assert.True(t, change.Closed)
	assert.Equal(t, StateClosed, b.State())
	assert.Equal(t, 0, b.Snapshot().Failures)

	// Counters were fully reset: one failure is not enough to re-open
	fail(t, b)
	assert.Equal(t, StateClosed, b.State())
}

func TestBreaker_ProbeFailureReopensWithBackoff(t *testing.T) {
	clock := newFakeClock()
	b := New("test",
		WithFailureThreshold(1),
		WithCooldown(10*time.Second),
		WithBackoff(2, 25*time.Second),
		WithClock(clock.Now),
	)
	fail(t, b)

	clock.Advance(10 * time.Second)
	p, err := b.Allow()
	require.NoError(t, err)
	change := b.RecordFailure(p)
	assert.True(t, change.Opened)
	assert.Equal(t, 20*time.Second, b.Snapshot().Cooldown)

	clock.Advance(19 * time.Second)
	_, err = b.Allow()
	assert.ErrorIs(t, err, ErrOpen)

	clock.Advance(time.Second)
	p, err = b.Allow()
	require.NoError(t, err)
	b.RecordFailure(p)
	assert.Equal(t, 25*time.Second, b.Snapshot().Cooldown, "cool-down is capped")
}

func TestBreaker_StaleResultsDoNotChangeOpenState(t *testing.T) {
	b := New("test", WithFailureThreshold(1))

	// Admitted while closed, finishes after another call opened the breaker
	stale, err := b.Allow()
	require.NoError(t, err)
	fail(t, b)
	require.Equal(t, StateOpen, b.State())

	change := b.RecordSuccess(stale)
	assert.False(t, change.Changed())
	assert.Equal(t, StateOpen, b.State())
}

func TestBreaker_ReleaseLeavesCountersAlone(t *testing.T) {
	b := New("test", WithFailureThreshold(2))
	fail(t, b)

	for range 5 {
		p, err := b.Allow()
		require.NoError(t, err)
		assert.False(t, b.Release(p).Changed())
	}
	assert.Equal(t, StateClosed, b.State())
	assert.Equal(t, 1, b.Snapshot().Failures)
}

func TestBreaker_ReleasedProbeFreesTheSlot(t *testing.T) {
	clock := newFakeClock()
	b := New("test", WithFailureThreshold(1), WithCooldown(10*time.Second), WithClock(clock.Now))
	fail(t, b)
	clock.Advance(10 * time.Second)

	p, err := b.Allow()
	require.NoError(t, err)
	require.True(t, p.Probe())

	change := b.Release(p)
	assert.Equal(t, StateOpen, change.To)
	assert.Equal(t, StateOpen, b.State())
	assert.Equal(t, 10*time.Second, b.Snapshot().Cooldown, "no backoff for a released probe")

	next, err := b.Allow()
	require.NoError(t, err)
	assert.True(t, next.Probe())
}

func TestBreaker_OnStateChangeHook(t *testing.T) {
	clock := newFakeClock()
	var mu sync.Mutex
	var seen []State
	b := New("bureau",
		WithFailureThreshold(1),
		WithCooldown(time.Second),
		WithClock(clock.Now),
		WithOnStateChange(func(name string, change StateChange) {
			mu.Lock()
			defer mu.Unlock()
			assert.Equal(t, "bureau", name)
			seen = append(seen, change.To)
		}),
	)

	fail(t, b)
	clock.Advance(time.Second)
	p, err := b.Allow()
	require.NoError(t, err)
	b.RecordSuccess(p)

	assert.Equal(t, []State{StateOpen, StateHalfOpen, StateClosed}, seen)
}

func TestTable_IsolatesBreakers(t *testing.T) {
	table := NewTable(WithFailureThreshold(1))

	a := table.Get("a")
	p, err := a.Allow()
	require.NoError(t, err)
	a.RecordFailure(p)

	assert.Equal(t, StateOpen, table.Get("a").State())
	assert.Equal(t, StateClosed, table.Get("b").State())
	assert.Same(t, a, table.Get("a"))

	statuses := table.Snapshot()
	require.Len(t, statuses, 2)
	assert.Equal(t, "a", statuses[0].Name)
	assert.Equal(t, "open", statuses[0].StateName)

	other := NewTable(WithFailureThreshold(1))
	assert.Equal(t, StateClosed, other.Get("a").State(), "tables never share state")
}
