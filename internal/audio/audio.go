package audio

import (
	"context"
	"fmt"
)

// AnyDevice asks the platform for its default capture device.
const AnyDevice = ""

// Fallbacks used when the granted stream does not report a setting.
const (
	DefaultSampleRate   = 48000
	DefaultChannelCount = 1
	DefaultLabel        = "Unknown Microphone"
)

// Kind describes which directions a device supports
type Kind int

const (
	KindInput Kind = iota
	KindOutput
	KindDuplex
)

// CanCapture reports whether devices of this kind can be used as a capture source.
func (k Kind) CanCapture() bool {
	return k == KindInput || k == KindDuplex
}

// Device represents an audio device as reported by the platform inventory
type Device struct {
	ID    string `json:"id"`
	Label string `json:"label"`
	Kind  Kind   `json:"-"`
}

// DisplayName returns the label, or a short id-based name when the
// platform has not resolved one yet.
func (d Device) DisplayName() string {
	if d.Label != "" {
		return d.Label
	}
	id := []rune(d.ID)
	if len(id) > 8 {
		id = id[:8]
	}
	return fmt.Sprintf("Microphone %s...", string(id))
}

// TrackSettings holds what a granted stream negotiated. Zero values mean the
// platform did not report the field.
type TrackSettings struct {
	SampleRate   float64
	ChannelCount int
	Label        string
}

// StreamInfo is the negotiated stream description shown to the user
type StreamInfo struct {
	SampleRate   float64 `json:"sample_rate"`
	ChannelCount int     `json:"channel_count"`
	Label        string  `json:"label"`
}

// ResolveInfo fills missing settings with defaults.
func ResolveInfo(s TrackSettings) StreamInfo {
	info := StreamInfo{
		SampleRate:   s.SampleRate,
		ChannelCount: s.ChannelCount,
		Label:        s.Label,
	}
	if info.SampleRate <= 0 {
		info.SampleRate = DefaultSampleRate
	}
	if info.ChannelCount <= 0 {
		info.ChannelCount = DefaultChannelCount
	}
	if info.Label == "" {
		info.Label = DefaultLabel
	}
	return info
}

// ProcessFunc is invoked on the audio thread with one slice per channel.
// out must be fully written on every call.
type ProcessFunc func(in, out [][]float32)

// Stream is a granted capture stream together with its processing context
type Stream interface {
	Settings() TrackSettings
	Start() error
	// Stop halts capture; the stream can no longer deliver callbacks afterwards.
	Stop() error
	// Close releases the processing context. Safe to call after Stop.
	Close() error
}

// Platform defines the capture device and stream boundary
type Platform interface {
	Devices() ([]Device, error)
	// Open acquires a stream for deviceID (or AnyDevice) and routes its
	// buffers through process once started. Errors are *AcquisitionError.
	Open(ctx context.Context, deviceID string, process ProcessFunc) (Stream, error)
	// Changes signals whenever the device set may have changed, until ctx ends.
	Changes(ctx context.Context) <-chan struct{}
	Close() error
}
