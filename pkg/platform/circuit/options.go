package circuit

import "time"

type settings struct {
	failureThreshold int
	window           time.Duration
	cooldown         time.Duration
	maxCooldown      time.Duration
	backoffFactor    float64
	now              func() time.Time
	onStateChange    func(name string, change StateChange)
}

func defaultSettings() settings {
	return settings{
		failureThreshold: 5,
		window:           time.Minute,
		cooldown:         time.Minute,
		maxCooldown:      10 * time.Minute,
		backoffFactor:    2,
		now:              time.Now,
	}
}

// Option configures a Breaker or a Table.
type Option func(*settings)

// WithFailureThreshold sets how many consecutive failures open the breaker.
func WithFailureThreshold(n int) Option {
	return func(s *settings) {
		if n > 0 {
			s.failureThreshold = n
		}
	}
}

// WithWindow bounds how long a failure streak may span. A failure arriving
// after the window restarts the count at one. Zero disables the window.
func WithWindow(d time.Duration) Option {
	return func(s *settings) {
		if d >= 0 {
			s.window = d
		}
	}
}

// WithCooldown sets how long the breaker stays OPEN before a probe.
func WithCooldown(d time.Duration) Option {
	return func(s *settings) {
		if d > 0 {
			s.cooldown = d
		}
	}
}

// WithBackoff multiplies the cool-down by factor after each failed probe,
// capped at max.
func WithBackoff(factor float64, max time.Duration) Option {
	return func(s *settings) {
		if factor >= 1 {
			s.backoffFactor = factor
		}
		if max > 0 {
			s.maxCooldown = max
		}
	}
}

// WithClock overrides time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *settings) {
		if now != nil {
			s.now = now
		}
	}
}

// WithOnStateChange registers a hook called after every transition, outside
// the breaker's lock.
func WithOnStateChange(fn func(name string, change StateChange)) Option {
	return func(s *settings) {
		s.onStateChange = fn
	}
}
