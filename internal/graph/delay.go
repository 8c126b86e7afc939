package graph

import (
	"math"
	"sync/atomic"
	"time"
)

// Delay is a fixed-capacity delay line. The delay time can be changed while
// audio is flowing; the new value takes effect on the next buffer.
type Delay struct {
	outputs

	sampleRate float64
	capacity   time.Duration
	samples    atomic.Int64

	buf []float32
	w   int
	out []float32
}

// NewDelay allocates room for capacity worth of audio at sampleRate.
func NewDelay(sampleRate float64, capacity time.Duration) *Delay {
	size := int(math.Ceil(capacity.Seconds()*sampleRate)) + 1
	return &Delay{
		sampleRate: sampleRate,
		capacity:   capacity,
		buf:        make([]float32, size),
	}
}

// SetDelay clamps t to [0, capacity].
func (d *Delay) SetDelay(t time.Duration) {
	t = max(0, min(t, d.capacity))
	d.samples.Store(int64(math.Round(t.Seconds() * d.sampleRate)))
}

func (d *Delay) Delay() time.Duration {
	secs := float64(d.samples.Load()) / d.sampleRate
	return time.Duration(math.Round(secs * float64(time.Second)))
}

func (d *Delay) Capacity() time.Duration { return d.capacity }

func (d *Delay) process(block []float32, out [][]float32) {
	if cap(d.out) < len(block) {
		d.out = make([]float32, len(block))
	}
	d.out = d.out[:len(block)]

	size := len(d.buf)
	lag := int(d.samples.Load())
	for i, s := range block {
		d.buf[d.w] = s
		r := d.w - lag
		if r < 0 {
			r += size
		}
		d.out[i] = d.buf[r]
		d.w = (d.w + 1) % size
	}
	d.forward(d.out, out)
}
