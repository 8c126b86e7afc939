package graph

import (
	"math"
	"math/cmplx"
	"sync"

	"gonum.org/v1/gonum/dsp/fourier"
	"gonum.org/v1/gonum/dsp/window"
)

// Byte-scaled magnitudes map this decibel range onto 0..255.
const (
	minDecibels = -100.0
	maxDecibels = -30.0
)

// Analyser is the metering tap. It keeps the most recent fftSize samples and
// produces smoothed, byte-scaled frequency magnitudes on demand. It has no
// outputs, so nothing it sees reaches the speakers.
//
// It is safe for concurrent use: the audio thread writes while the meter reads.
type Analyser struct {
	fftSize   int
	smoothing float64

	mu       sync.Mutex
	ring     []float64
	pos      int
	window   []float64
	frame    []float64
	coeffs   []complex128
	smoothed []float64
	fft      *fourier.FFT
}

// NewAnalyser creates an analyser over fftSize samples (a power of two)
// with the given smoothing factor in [0,1).
func NewAnalyser(fftSize int, smoothing float64) *Analyser {
	w := make([]float64, fftSize)
	for i := range w {
		w[i] = 1
	}

	return &Analyser{
		fftSize:   fftSize,
		smoothing: smoothing,
		ring:      make([]float64, fftSize),
		window:    window.Blackman(w),
		frame:     make([]float64, fftSize),
		coeffs:    make([]complex128, fftSize/2+1),
		smoothed:  make([]float64, fftSize/2),
		fft:       fourier.NewFFT(fftSize),
	}
}

func (a *Analyser) FFTSize() int { return a.fftSize }

func (a *Analyser) Smoothing() float64 { return a.smoothing }

// FrequencyBinCount is the number of values ByteFrequencyData returns.
func (a *Analyser) FrequencyBinCount() int { return a.fftSize / 2 }

func (a *Analyser) process(block []float32, _ [][]float32) {
	a.mu.Lock()
	defer a.mu.Unlock()

	for _, s := range block {
		a.ring[a.pos] = finite(float64(s))
		a.pos = (a.pos + 1) % a.fftSize
	}
}

func (a *Analyser) disconnect() {}

// ByteFrequencyData writes the current magnitude per bin into dst, growing it
// if needed, and returns it. Every call advances the smoothing state.
func (a *Analyser) ByteFrequencyData(dst []byte) []byte {
	a.mu.Lock()
	defer a.mu.Unlock()

	// a.pos is the oldest sample
	for i := 0; i < a.fftSize; i++ {
		a.frame[i] = a.ring[(a.pos+i)%a.fftSize] * a.window[i]
	}
	a.coeffs = a.fft.Coefficients(a.coeffs, a.frame)

	bins := a.FrequencyBinCount()
	if cap(dst) < bins {
		dst = make([]byte, bins)
	}
	dst = dst[:bins]

	scale := 255 / (maxDecibels - minDecibels)
	for k := 0; k < bins; k++ {
		mag := cmplx.Abs(a.coeffs[k]) / float64(a.fftSize)
		a.smoothed[k] = finite(a.smoothing*a.smoothed[k] + (1-a.smoothing)*finite(mag))

		db := minDecibels
		if a.smoothed[k] > 0 {
			db = 20 * math.Log10(a.smoothed[k])
		}
		v := (db - minDecibels) * scale
		dst[k] = byte(math.Max(0, math.Min(255, v)))
	}
	return dst
}

// finite maps NaN and ±Inf to 0 so one bad sample cannot poison the
// smoothing state.
func finite(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}
