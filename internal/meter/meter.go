// Package meter turns analyser snapshots into the single loudness value
// shown to the user.
package meter

import (
	"math"
	"math/rand/v2"
	"sync"
)

// Sensitivity lifts typical speech out of the bottom third of the scale.
const Sensitivity = 2.5

// Source is anything that can produce byte-scaled magnitude bins.
type Source interface {
	ByteFrequencyData(dst []byte) []byte
}

// Level maps the mean bin magnitude onto [0,100].
func Level(bins []byte) float64 {
	if len(bins) == 0 {
		return 0
	}
	var sum int
	for _, b := range bins {
		sum += int(b)
	}
	mean := float64(sum) / float64(len(bins))
	return math.Min(100, mean/255*100*Sensitivity)
}

// Meter runs at most one sampling loop at a time.
type Meter struct {
	newClock ClockFactory
	publish  func(level float64)

	mu   sync.Mutex
	stop chan struct{}
	done chan struct{}
}

// New creates a meter that reports each reading through publish. publish is
// called from the loop goroutine.
func New(clock ClockFactory, publish func(level float64)) *Meter {
	return &Meter{
		newClock: clock,
		publish:  publish,
	}
}

// Start begins sampling src on every frame, replacing any running loop.
func (m *Meter) Start(src Source) {
	m.Stop()

	m.mu.Lock()
	defer m.mu.Unlock()

	m.stop = make(chan struct{})
	m.done = make(chan struct{})
	go m.loop(src, m.newClock(), m.stop, m.done)
}

// Stop ends the loop and waits for it to exit; no reading is published
// after Stop returns.
func (m *Meter) Stop() {
	m.mu.Lock()
	stop, done := m.stop, m.done
	m.stop, m.done = nil, nil
	m.mu.Unlock()

	if stop == nil {
		return
	}
	close(stop)
	<-done
}

func (m *Meter) Running() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stop != nil
}

func (m *Meter) loop(src Source, clock FrameClock, stop, done chan struct{}) {
	defer close(done)
	defer clock.Stop()

	var bins []byte
	for {
		select {
		case <-stop:
			return
		case <-clock.C():
		}

		// Stop may have raced with the frame
		select {
		case <-stop:
			return
		default:
		}

		bins = src.ByteFrequencyData(bins)
		m.publish(Level(bins))
	}
}

// Bars derives n cosmetic bar heights (percent, floor 4) from a single
// level. They are not a spectrum.
func Bars(level float64, n int, rnd *rand.Rand) []float64 {
	bars := make([]float64, n)
	for i := range bars {
		if level <= 0 {
			bars[i] = 4
			continue
		}
		shape := math.Sin(float64(i)*0.5)*0.5 + 0.5
		jitter := 0.5 + rnd.Float64()*0.5
		bars[i] = math.Max(4, level*shape*jitter)
	}
	return bars
}
