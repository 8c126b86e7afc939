// Package graph builds and tears down the per-session audio routing:
//
//	capture → source ─┬→ analyser
//	                  └→ delay → gain → output
//
// The analyser feeds the level meter only; its output is never routed to the
// speakers.
package graph

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/petems/signal-monitor/internal/audio"
	"github.com/rs/zerolog"
)

const (
	AnalysisWindow    = 64
	AnalysisSmoothing = 0.8
	DelayCapacity     = 5 * time.Second
	MaxDelayMs        = 2000
)

// Params are the monitoring settings. They outlive any single graph and are
// applied to the live one whenever both exist.
type Params struct {
	EchoEnabled bool `json:"echo_enabled"`
	DelayMs     int  `json:"delay_ms"`
}

// ClampDelayMs limits ms to the supported [0, MaxDelayMs] range.
func ClampDelayMs(ms int) int {
	return max(0, min(ms, MaxDelayMs))
}

func (p Params) Delay() time.Duration {
	return time.Duration(ClampDelayMs(p.DelayMs)) * time.Millisecond
}

// GainValue is 1 with echo enabled and 0 (muted) otherwise.
func (p Params) GainValue() float64 {
	return gainFor(p.EchoEnabled)
}

func gainFor(enabled bool) float64 {
	if enabled {
		return 1.0
	}
	return 0.0
}

// Handle owns one live graph: the capture stream and its nodes.
type Handle struct {
	stream audio.Stream
	info   audio.StreamInfo

	// mu is held by the audio callback for the whole buffer.
	mu       sync.Mutex
	source   *source
	analyser *Analyser
	delay    *Delay
	gain     *Gain
	out      sink
	released bool

	releaseOnce sync.Once
	counted     bool
}

// Info returns the negotiated stream description.
func (h *Handle) Info() audio.StreamInfo { return h.info }

// Analyser returns the metering tap.
func (h *Handle) Analyser() *Analyser { return h.analyser }

// Delay returns the live delay time.
func (h *Handle) Delay() time.Duration { return h.delay.Delay() }

// Gain returns the live monitor gain.
func (h *Handle) Gain() float64 { return h.gain.Value() }

func (h *Handle) Released() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.released
}

func (h *Handle) process(in, out [][]float32) {
	for _, ch := range out {
		clear(ch)
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if h.released || h.source == nil {
		return
	}
	h.source.push(in, out)
}

func (h *Handle) build(p Params) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.source = &source{}
	h.analyser = NewAnalyser(AnalysisWindow, AnalysisSmoothing)
	h.delay = NewDelay(h.info.SampleRate, DelayCapacity)
	h.delay.SetDelay(p.Delay())
	h.gain = NewGain(p.GainValue())

	h.source.connect(h.analyser)
	h.source.connect(h.delay)
	h.delay.connect(h.gain)
	h.gain.connect(h.out)
}

func (h *Handle) disconnectAll() {
	h.mu.Lock()
	defer h.mu.Unlock()

	// Any order works; a partially built handle may lack some nodes.
	if h.source != nil {
		h.source.disconnect()
	}
	if h.analyser != nil {
		h.analyser.disconnect()
	}
	if h.delay != nil {
		h.delay.disconnect()
	}
	if h.gain != nil {
		h.gain.disconnect()
	}
	h.released = true
}

// Builder acquires and releases graphs against a platform.
type Builder struct {
	platform audio.Platform
	log      zerolog.Logger
	live     atomic.Int32
}

func NewBuilder(platform audio.Platform, log zerolog.Logger) *Builder {
	return &Builder{
		platform: platform,
		log:      log.With().Str("component", "graph").Logger(),
	}
}

// Live reports how many handles are currently built and not yet released.
func (b *Builder) Live() int {
	return int(b.live.Load())
}

// Acquire opens a capture stream for deviceID (audio.AnyDevice for the
// platform default) and wires a new graph around it. On failure nothing is
// left allocated and the error is an *audio.AcquisitionError.
func (b *Builder) Acquire(ctx context.Context, deviceID string, p Params) (*Handle, error) {
	h := &Handle{}

	stream, err := b.platform.Open(ctx, deviceID, h.process)
	if err != nil {
		return nil, asAcquisitionError(err)
	}
	h.stream = stream
	h.info = audio.ResolveInfo(stream.Settings())
	h.build(p)
	h.counted = true
	b.live.Add(1)

	if err := stream.Start(); err != nil {
		b.Release(h)
		return nil, asAcquisitionError(err)
	}

	b.log.Info().
		Str("device", h.info.Label).
		Float64("sample_rate", h.info.SampleRate).
		Int("channels", h.info.ChannelCount).
		Dur("delay", h.delay.Delay()).
		Bool("echo", p.EchoEnabled).
		Msg("Graph built")
	return h, nil
}

// Release tears the graph down: capture is stopped, every node disconnected
// and the processing context closed. Safe on nil or already released handles.
func (b *Builder) Release(h *Handle) {
	if h == nil {
		return
	}

	h.releaseOnce.Do(func() {
		if h.stream != nil {
			if err := h.stream.Stop(); err != nil {
				b.log.Debug().Err(err).Msg("Stream stop failed")
			}
		}

		h.disconnectAll()

		if h.stream != nil {
			if err := h.stream.Close(); err != nil {
				b.log.Debug().Err(err).Msg("Stream close failed")
			}
		}

		if h.counted {
			b.live.Add(-1)
		}
		b.log.Debug().Str("device", h.info.Label).Msg("Graph released")
	})
}

// SetEchoEnabled switches the monitor path on or off without rebuilding.
// No-op without a live handle.
func (b *Builder) SetEchoEnabled(h *Handle, enabled bool) {
	if h == nil || h.gain == nil {
		return
	}
	h.gain.SetValue(gainFor(enabled))
}

// SetDelayMs changes the live delay without rebuilding. No-op without a
// live handle.
func (b *Builder) SetDelayMs(h *Handle, ms int) {
	if h == nil || h.delay == nil {
		return
	}
	h.delay.SetDelay(time.Duration(ClampDelayMs(ms)) * time.Millisecond)
}

func asAcquisitionError(err error) error {
	var acqErr *audio.AcquisitionError
	if errors.As(err, &acqErr) {
		return acqErr
	}
	return audio.NewAcquisitionError(audio.ErrDeviceUnavailable, err, "acquisition failed")
}
