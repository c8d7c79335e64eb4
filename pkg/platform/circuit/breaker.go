// Package circuit implements a per-dependency circuit breaker with
// CLOSED, OPEN and HALF_OPEN states.
//
// The breaker only decides whether a call may start and records how it ended.
// It never wraps the call itself, so its mutex is held for two short critical
// sections per call and never across I/O.
package circuit

import (
	"errors"
	"sync"
	"time"
)

// ErrOpen is returned by Allow when calls must fast-fail.
var ErrOpen = errors.New("circuit open")

// State is the breaker state.
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "closed"
	}
}

// StateChange describes the transition caused by a single operation.
// The zero value means no transition happened.
type StateChange struct {
	From       State
	To         State
	Opened     bool
	HalfOpened bool
	Closed     bool
}

// Changed reports whether a transition happened.
func (c StateChange) Changed() bool {
	return c.Opened || c.HalfOpened || c.Closed
}

func transition(from, to State) StateChange {
	return StateChange{
		From:       from,
		To:         to,
		Opened:     to == StateOpen,
		HalfOpened: to == StateHalfOpen,
		Closed:     to == StateClosed,
	}
}

// Permit is handed out by Allow and must be returned through Done,
// RecordSuccess, RecordFailure or Release.
type Permit struct {
	probe bool
}

// Probe reports whether this permit is the single HALF_OPEN trial call.
// Probes must not be retried.
func (p Permit) Probe() bool { return p.probe }

// Status is a read-only snapshot of a breaker.
type Status struct {
	Name      string        `json:"name"`
	State     State         `json:"-"`
	StateName string        `json:"state"`
	Failures  int           `json:"consecutive_failures"`
	OpenUntil time.Time     `json:"open_until,omitzero"`
	Cooldown  time.Duration `json:"-"`
}

// Breaker guards one dependency.
type Breaker struct {
	name     string
	settings settings

	mu            sync.Mutex
	state         State
	failures      int
	streakStarted time.Time
	openUntil     time.Time
	cooldown      time.Duration
	probing       bool
}

// New creates a closed breaker.
func New(name string, opts ...Option) *Breaker {
	s := defaultSettings()
	for _, opt := range opts {
		if opt != nil {
			opt(&s)
		}
	}
	return newBreaker(name, s)
}

func newBreaker(name string, s settings) *Breaker {
	return &Breaker{
		name:     name,
		settings: s,
		state:    StateClosed,
		cooldown: s.cooldown,
	}
}

func (b *Breaker) Name() string { return b.name }

// State returns the current state. An OPEN breaker whose cool-down elapsed
// still reports OPEN until a caller claims the probe.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Allow decides whether a call may start. While CLOSED every caller gets a
// normal permit. Once the cool-down of an OPEN breaker has elapsed exactly
// one caller gets the probe permit; everyone else gets ErrOpen until that
// probe is recorded.
func (b *Breaker) Allow() (Permit, error) {
	b.mu.Lock()
	var change StateChange
	var permit Permit
	var err error

	switch b.state {
	case StateClosed:
	case StateOpen:
		if b.probing || b.settings.now().Before(b.openUntil) {
			err = ErrOpen
			break
		}
		b.state = StateHalfOpen
		b.probing = true
		permit = Permit{probe: true}
		change = transition(StateOpen, StateHalfOpen)
	case StateHalfOpen:
		err = ErrOpen
	}
	b.mu.Unlock()

	b.notify(change)
	return permit, err
}

// RecordSuccess records a completed call. A successful probe closes the
// breaker and resets every counter.
func (b *Breaker) RecordSuccess(p Permit) StateChange {
	b.mu.Lock()
	var change StateChange

	switch {
	case p.probe && b.state == StateHalfOpen:
		b.reset()
		change = transition(StateHalfOpen, StateClosed)
	case b.state == StateClosed:
		b.failures = 0
		b.streakStarted = time.Time{}
	}
	// Results of calls admitted before the breaker opened are stale and
	// must not close it.
	b.mu.Unlock()

	b.notify(change)
	return change
}

// RecordFailure records a failed call. While CLOSED it extends the failure
// streak and opens the breaker at the threshold. A failed probe re-opens it
// with a longer cool-down.
func (b *Breaker) RecordFailure(p Permit) StateChange {
	b.mu.Lock()
	now := b.settings.now()
	var change StateChange

	switch {
	case p.probe && b.state == StateHalfOpen:
		b.cooldown = b.nextCooldown()
		b.open(now)
		change = transition(StateHalfOpen, StateOpen)
	case b.state == StateClosed:
		if b.failures == 0 || b.windowExpired(now) {
			b.failures = 0
			b.streakStarted = now
		}
		b.failures++
		if b.failures >= b.settings.failureThreshold {
			b.open(now)
			change = transition(StateClosed, StateOpen)
		}
	}
	b.mu.Unlock()

	b.notify(change)
	return change
}

// Done records the outcome of a call admitted by permit p.
func (b *Breaker) Done(p Permit, err error) StateChange {
	if err != nil {
		return b.RecordFailure(p)
	}
	return b.RecordSuccess(p)
}

// Release returns a permit whose call ended without telling anything about
// the dependency, such as one its caller abandoned. Counters are untouched;
// a released probe puts the breaker back to OPEN with the cool-down already
// elapsed, so the next caller claims a fresh probe.
func (b *Breaker) Release(p Permit) StateChange {
	b.mu.Lock()
	var change StateChange
	if p.probe && b.state == StateHalfOpen {
		b.state = StateOpen
		b.probing = false
		change = transition(StateHalfOpen, StateOpen)
	}
	b.mu.Unlock()

	b.notify(change)
	return change
}

// Snapshot returns the current status.
func (b *Breaker) Snapshot() Status {
	b.mu.Lock()
	defer b.mu.Unlock()
	st := Status{
		Name:      b.name,
		State:     b.state,
		StateName: b.state.String(),
		Failures:  b.failures,
		Cooldown:  b.cooldown,
	}
	if b.state != StateClosed {
		st.OpenUntil = b.openUntil
	}
	return st
}

func (b *Breaker) reset() {
	b.state = StateClosed
	b.failures = 0
	b.streakStarted = time.Time{}
	b.openUntil = time.Time{}
	b.cooldown = b.settings.cooldown
	b.probing = false
}

func (b *Breaker) open(now time.Time) {
	b.state = StateOpen
	b.openUntil = now.Add(b.cooldown)
	b.probing = false
}

func (b *Breaker) windowExpired(now time.Time) bool {
	return b.settings.window > 0 && now.Sub(b.streakStarted) > b.settings.window
}

func (b *Breaker) nextCooldown() time.Duration {
	next := time.Duration(float64(b.cooldown) * b.settings.backoffFactor)
	if b.settings.maxCooldown > 0 && next > b.settings.maxCooldown {
		next = b.settings.maxCooldown
	}
	if next < b.settings.cooldown {
		next = b.settings.cooldown
	}
	return next
}

func (b *Breaker) notify(change StateChange) {
	if change.Changed() && b.settings.onStateChange != nil {
		b.settings.onStateChange(b.name, change)
	}
}
