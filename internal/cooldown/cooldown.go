// Package cooldown rate-limits OTP requests per phone number and drives the
// user-visible resend countdown.
package cooldown

import (
	"fmt"
	"sync"
	"time"
)

// Clock is the time source used by Timer.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// SystemClock returns the wall clock.
func SystemClock() Clock { return systemClock{} }

// Policy decides how long the cooldown lasts after the n-th OTP send for a
// phone (n starts at 1).
type Policy interface {
	Duration(send int) time.Duration
}

// TieredPolicy uses First after the first send and Subsequent after every
// later one.
type TieredPolicy struct {
	First      time.Duration
	Subsequent time.Duration
}

func (p TieredPolicy) Duration(send int) time.Duration {
	if send <= 1 {
		return p.First
	}
	return p.Subsequent
}

// FixedPolicy uses the same duration for every send.
type FixedPolicy time.Duration

func (p FixedPolicy) Duration(int) time.Duration { return time.Duration(p) }

// DefaultTiered is 2 minutes after the initial send, 10 minutes after each resend.
var DefaultTiered = TieredPolicy{First: 120 * time.Second, Subsequent: 600 * time.Second}

// DefaultFixed is a flat 10 minutes.
const DefaultFixed = FixedPolicy(600 * time.Second)

// PolicyByName maps the configured policy name to a Policy.
func PolicyByName(name string) (Policy, error) {
	switch name {
	case "", "tiered":
		return DefaultTiered, nil
	case "fixed":
		return DefaultFixed, nil
	default:
		return nil, fmt.Errorf("unknown cooldown policy %q", name)
	}
}

type entry struct {
	requestedAt time.Time
	duration    time.Duration
}

func (e entry) remaining(now time.Time) time.Duration {
	r := e.requestedAt.Add(e.duration).Sub(now)
	if r < 0 {
		return 0
	}
	return r
}

// Timer holds at most one cooldown entry per phone number.
type Timer struct {
	mu      sync.Mutex
	clock   Clock
	entries map[string]entry
}

// NewTimer creates a Timer. A nil clock means the wall clock.
func NewTimer(clock Clock) *Timer {
	if clock == nil {
		clock = systemClock{}
	}
	return &Timer{
		clock:   clock,
		entries: make(map[string]entry),
	}
}

// CanRequest reports whether an OTP may be requested for phone and, if not,
// how long is left. Expired entries are dropped.
func (t *Timer) CanRequest(phone string) (bool, time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.entries[phone]
	if !ok {
		return true, 0
	}
	r := e.remaining(t.clock.Now())
	if r == 0 {
		delete(t.entries, phone)
		return true, 0
	}
	return false, r
}

// Remaining returns the time left on phone's cooldown, zero when none.
func (t *Timer) Remaining(phone string) time.Duration {
	_, r := t.CanRequest(phone)
	return r
}

// Start creates or replaces the cooldown entry for phone.
func (t *Timer) Start(phone string, d time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries[phone] = entry{requestedAt: t.clock.Now(), duration: d}
}

// Clear removes phone's entry.
func (t *Timer) Clear(phone string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.entries, phone)
}

// FormatRemaining renders d as mm:ss, rounding partial seconds up.
func FormatRemaining(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	secs := int((d + time.Second - 1) / time.Second)
	return fmt.Sprintf("%02d:%02d", secs/60, secs%60)
}
