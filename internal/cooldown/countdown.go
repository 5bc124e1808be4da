package cooldown

import (
	"sync"
	"time"
)

// TickerFunc starts a ticker with period d and returns its channel and a stop
// function.
type TickerFunc func(d time.Duration) (<-chan time.Time, func())

// SystemTicker wraps time.NewTicker.
func SystemTicker(d time.Duration) (<-chan time.Time, func()) {
	tk := time.NewTicker(d)
	return tk.C, tk.Stop
}

// Countdown reports the remaining cooldown of one phone once per second
// until it reaches zero or Stop is called.
type Countdown struct {
	stop     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

// StartCountdown begins ticking for phone. onTick receives the remaining time
// after every tick; when it hits zero the entry is cleared and onReady runs
// exactly once.
func (t *Timer) StartCountdown(phone string, ticker TickerFunc, onTick func(time.Duration), onReady func()) *Countdown {
	if ticker == nil {
		ticker = SystemTicker
	}
	c := &Countdown{
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}
	ticks, stopTicker := ticker(time.Second)

	go func() {
		defer close(c.done)
		defer stopTicker()
		for {
			select {
			case <-c.stop:
				return
			case <-ticks:
			}
			// Stop wins over a tick that raced with it.
			select {
			case <-c.stop:
				return
			default:
			}
			r := t.Remaining(phone)
			if onTick != nil {
				onTick(r)
			}
			if r == 0 {
				t.Clear(phone)
				if onReady != nil {
					onReady()
				}
				return
			}
		}
	}()
	return c
}

// Stop cancels the countdown. It does not wait for a callback already in
// flight, so callers must tolerate one late tick. Safe to call more than once
// and on a nil Countdown.
func (c *Countdown) Stop() {
	if c == nil {
		return
	}
	c.stopOnce.Do(func() { close(c.stop) })
}

// Done is closed once the countdown has finished or been stopped.
func (c *Countdown) Done() <-chan struct{} {
	return c.done
}
