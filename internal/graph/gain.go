package graph

import (
	"math"
	"sync/atomic"
)

// Gain scales the signal by a value that can be changed at any time.
type Gain struct {
	outputs

	bits atomic.Uint64
	out  []float32
}

func NewGain(v float64) *Gain {
	g := &Gain{}
	g.SetValue(v)
	return g
}

func (g *Gain) SetValue(v float64) {
	g.bits.Store(math.Float64bits(v))
}

func (g *Gain) Value() float64 {
	return math.Float64frombits(g.bits.Load())
}

func (g *Gain) process(block []float32, out [][]float32) {
	if cap(g.out) < len(block) {
		g.out = make([]float32, len(block))
	}
	g.out = g.out[:len(block)]

	v := float32(g.Value())
	for i, s := range block {
		g.out[i] = s * v
	}
	g.forward(g.out, out)
}
