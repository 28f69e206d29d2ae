// Package ratelimit implements a per-sender sliding-window admission counter.
package ratelimit

import (
	"math/rand"
	"time"
)

const (
	DefaultWindow           = 60 * time.Second
	DefaultMax              = 30
	DefaultSweepProbability = 0.01
)

// Config holds the process-wide limiter settings.
type Config struct {
	Window           time.Duration `mapstructure:"window"`
	Max              int           `mapstructure:"max"`
	SweepProbability float64       `mapstructure:"sweep_probability"`
}

// Option customises a Limiter.
type Option func(*Limiter)

// WithClock replaces the time source.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) { l.now = now }
}

// WithRand replaces the random source used to decide when to sweep.
// It must return values in [0, 1).
func WithRand(rnd func() float64) Option {
	return func(l *Limiter) { l.rand = rnd }
}

// Limiter records accepted sends per sender within a trailing window.
//
// A Limiter is owned by a single room actor and is not safe for concurrent use.
// Timestamps for each sender are kept in ascending order, so pruning only
// ever trims a prefix.
type Limiter struct {
	window    time.Duration
	max       int
	sweepProb float64

	now  func() time.Time
	rand func() float64

	senders map[string][]time.Time
}

// New creates a Limiter. Zero config values fall back to the defaults.
func New(cfg Config, opts ...Option) *Limiter {
	if cfg.Window <= 0 {
		cfg.Window = DefaultWindow
	}
	if cfg.Max <= 0 {
		cfg.Max = DefaultMax
	}
	if cfg.SweepProbability < 0 {
		cfg.SweepProbability = 0
	}

	l := &Limiter{
		window:    cfg.Window,
		max:       cfg.Max,
		sweepProb: cfg.SweepProbability,
		now:       time.Now,
		rand:      rand.Float64,
		senders:   make(map[string][]time.Time),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Max returns the configured number of sends allowed per window.
func (l *Limiter) Max() int { return l.max }

// Window returns the configured window length.
func (l *Limiter) Window() time.Duration { return l.window }

// Accept records a send for senderID and reports whether it was admitted.
// A rejected send is not recorded.
func (l *Limiter) Accept(senderID string) bool {
	now := l.now()
	l.maybeSweep(now)

	stamps := l.prune(senderID, now)
	if len(stamps) >= l.max {
		return false
	}
	l.senders[senderID] = append(stamps, now)
	return true
}

// Remaining returns how many more sends senderID may make right now.
// It does not record anything.
func (l *Limiter) Remaining(senderID string) int {
	now := l.now()
	l.maybeSweep(now)

	n := l.max - len(l.prune(senderID, now))
	if n < 0 {
		return 0
	}
	return n
}

// RecordN records n sends for senderID without checking the quota. Callers
// check Remaining first so a batch is admitted or rejected as a whole.
func (l *Limiter) RecordN(senderID string, n int) {
	if n <= 0 {
		return
	}
	now := l.now()
	stamps := l.prune(senderID, now)
	for i := 0; i < n; i++ {
		stamps = append(stamps, now)
	}
	l.senders[senderID] = stamps
}

// RetryAfter returns how long senderID must wait until n sends fit in the
// window. It is zero when they already fit. Requests larger than the
// configured max can never fit and report a full window.
func (l *Limiter) RetryAfter(senderID string, n int) time.Duration {
	if n > l.max {
		return l.window
	}
	now := l.now()
	stamps := l.prune(senderID, now)

	// Number of recorded sends that must expire before n more are allowed.
	excess := len(stamps) + n - l.max
	if excess <= 0 {
		return 0
	}
	wait := stamps[excess-1].Add(l.window).Sub(now)
	if wait < 0 {
		return 0
	}
	return wait
}

// Len returns the number of senders currently tracked.
func (l *Limiter) Len() int { return len(l.senders) }

// Sweep drops every sender with no send inside the window.
func (l *Limiter) Sweep() {
	l.sweep(l.now())
}

func (l *Limiter) prune(senderID string, now time.Time) []time.Time {
	stamps, ok := l.senders[senderID]
	if !ok {
		return nil
	}
	cutoff := now.Add(-l.window)
	i := 0
	for i < len(stamps) && !stamps[i].After(cutoff) {
		i++
	}
	if i == len(stamps) {
		delete(l.senders, senderID)
		return nil
	}
	if i > 0 {
		stamps = stamps[i:]
		l.senders[senderID] = stamps
	}
	return stamps
}

func (l *Limiter) maybeSweep(now time.Time) {
	if l.sweepProb > 0 && l.rand() < l.sweepProb {
		l.sweep(now)
	}
}

func (l *Limiter) sweep(now time.Time) {
	cutoff := now.Add(-l.window)
	for id, stamps := range l.senders {
		if len(stamps) == 0 || !stamps[len(stamps)-1].After(cutoff) {
			delete(l.senders, id)
		}
	}
}
