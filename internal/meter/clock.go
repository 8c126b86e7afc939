package meter

import (
	"sync"
	"time"
)

// FrameClock paces the meter at display refresh rate.
type FrameClock interface {
	C() <-chan time.Time
	Stop()
}

// ClockFactory creates a fresh clock for every loop.
type ClockFactory func() FrameClock

// TickerClock paces frames with a time.Ticker.
func TickerClock(interval time.Duration) ClockFactory {
	return func() FrameClock {
		return tickerClock{time.NewTicker(interval)}
	}
}

type tickerClock struct {
	*time.Ticker
}

func (t tickerClock) C() <-chan time.Time { return t.Ticker.C }

// ManualClock delivers frames only when Tick is called.
type ManualClock struct {
	ch      chan time.Time
	stopped chan struct{}
	once    sync.Once
}

func NewManualClock() *ManualClock {
	return &ManualClock{
		ch:      make(chan time.Time),
		stopped: make(chan struct{}),
	}
}

func (c *ManualClock) C() <-chan time.Time { return c.ch }

func (c *ManualClock) Stop() {
	c.once.Do(func() { close(c.stopped) })
}

// Tick hands one frame to the loop. It reports false if the clock was
// stopped before the frame was taken.
func (c *ManualClock) Tick() bool {
	select {
	case <-c.stopped:
		return false
	default:
	}
	select {
	case c.ch <- time.Now():
		return true
	case <-c.stopped:
		return false
	}
}

func (c *ManualClock) Stopped() bool {
	select {
	case <-c.stopped:
		return true
	default:
		return false
	}
}
