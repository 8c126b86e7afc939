// Package audiotest provides an in-memory audio.Platform for tests.
package audiotest

import (
	"context"
	"sync"

	"github.com/petems/signal-monitor/internal/audio"
)

// OutputChannels is the channel count of every fake output buffer.
const OutputChannels = 2

// Platform is a scripted audio.Platform. Devices, settings and failures are
// configured up front; Hold makes acquisitions wait until Proceed is called.
type Platform struct {
	mu       sync.Mutex
	devices  []audio.Device
	settings map[string]audio.TrackSettings
	openErr  map[string]error
	startErr error
	gate     chan struct{}
	streams  []*Stream
	live     int
	maxLive  int
	waiting  int
	watchers []chan struct{}
	closed   bool
}

// NewPlatform creates a platform reporting devices in the given order.
func NewPlatform(devices ...audio.Device) *Platform {
	return &Platform{
		devices:  devices,
		settings: make(map[string]audio.TrackSettings),
		openErr:  make(map[string]error),
	}
}

// Input is shorthand for a capture device.
func Input(id, label string) audio.Device {
	return audio.Device{ID: id, Label: label, Kind: audio.KindInput}
}

// SetDevices replaces the inventory and notifies watchers.
func (p *Platform) SetDevices(devices ...audio.Device) {
	p.mu.Lock()
	p.devices = devices
	watchers := p.watchers
	p.mu.Unlock()

	for _, ch := range watchers {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

// SetSettings fixes what a stream opened on id reports.
func (p *Platform) SetSettings(id string, s audio.TrackSettings) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.settings[id] = s
}

// FailOpen makes opening id fail with err; a nil err clears the failure.
func (p *Platform) FailOpen(id string, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err == nil {
		delete(p.openErr, id)
		return
	}
	p.openErr[id] = err
}

// FailStart makes Stream.Start fail with err.
func (p *Platform) FailStart(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.startErr = err
}

// Hold makes subsequent Open calls block until Proceed.
func (p *Platform) Hold() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.gate == nil {
		p.gate = make(chan struct{})
	}
}

// Proceed lets one held Open call continue.
func (p *Platform) Proceed() {
	p.mu.Lock()
	gate := p.gate
	p.mu.Unlock()
	if gate != nil {
		gate <- struct{}{}
	}
}

// Waiting reports how many Open calls are currently held.
func (p *Platform) Waiting() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.waiting
}

// Streams returns every stream opened so far, oldest first.
func (p *Platform) Streams() []*Stream {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]*Stream(nil), p.streams...)
}

// Last returns the most recently opened stream, or nil.
func (p *Platform) Last() *Stream {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.streams) == 0 {
		return nil
	}
	return p.streams[len(p.streams)-1]
}

// Opens reports how many streams were successfully opened.
func (p *Platform) Opens() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.streams)
}

// Live reports how many opened streams have not been closed.
func (p *Platform) Live() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.live
}

// MaxLive is the highest Live value ever observed.
func (p *Platform) MaxLive() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.maxLive
}

func (p *Platform) Devices() ([]audio.Device, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]audio.Device(nil), p.devices...), nil
}

func (p *Platform) Open(ctx context.Context, id string, process audio.ProcessFunc) (audio.Stream, error) {
	p.mu.Lock()
	gate := p.gate
	p.waiting++
	p.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			p.mu.Lock()
			p.waiting--
			p.mu.Unlock()
			return nil, audio.NewAcquisitionError(audio.ErrDeviceUnavailable, ctx.Err(), "acquisition cancelled")
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.waiting--

	if err, ok := p.openErr[id]; ok {
		return nil, err
	}

	device, ok := p.lookupLocked(id)
	if !ok {
		return nil, audio.NewAcquisitionError(audio.ErrDeviceUnavailable, nil, "device not found: %s", id)
	}

	settings, ok := p.settings[device.ID]
	if !ok {
		settings = audio.TrackSettings{Label: device.Label}
	}

	s := &Stream{
		platform: p,
		deviceID: device.ID,
		settings: settings,
		process:  process,
		startErr: p.startErr,
	}
	p.streams = append(p.streams, s)
	p.live++
	p.maxLive = max(p.maxLive, p.live)
	return s, nil
}

func (p *Platform) lookupLocked(id string) (audio.Device, bool) {
	for _, d := range p.devices {
		if !d.Kind.CanCapture() {
			continue
		}
		if id == audio.AnyDevice || d.ID == id {
			return d, true
		}
	}
	return audio.Device{}, false
}

func (p *Platform) Changes(ctx context.Context) <-chan struct{} {
	ch := make(chan struct{}, 1)
	p.mu.Lock()
	p.watchers = append(p.watchers, ch)
	p.mu.Unlock()

	out := make(chan struct{})
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case <-ch:
				select {
				case out <- struct{}{}:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out
}

func (p *Platform) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

// Stream is a fake capture stream. Audio only flows when the test calls Pump.
type Stream struct {
	platform *Platform
	deviceID string
	settings audio.TrackSettings
	process  audio.ProcessFunc
	startErr error

	mu      sync.Mutex
	started bool
	stopped bool
	closed  bool
}

func (s *Stream) DeviceID() string { return s.deviceID }

func (s *Stream) Settings() audio.TrackSettings { return s.settings }

func (s *Stream) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.startErr != nil {
		return s.startErr
	}
	s.started = true
	return nil
}

func (s *Stream) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = true
	return nil
}

func (s *Stream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true

	s.platform.mu.Lock()
	s.platform.live--
	s.platform.mu.Unlock()
	return nil
}

// Running reports whether the stream was started and not yet stopped.
func (s *Stream) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.started && !s.stopped
}

func (s *Stream) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Pump runs one buffer through the stream's callback, as the audio thread
// would, and returns the output channels. It returns nil when the stream
// is not running.
func (s *Stream) Pump(in ...[]float32) [][]float32 {
	if !s.Running() {
		return nil
	}

	frames := 0
	if len(in) > 0 {
		frames = len(in[0])
	}
	out := make([][]float32, OutputChannels)
	for i := range out {
		out[i] = make([]float32, frames)
	}
	s.process(in, out)
	return out
}
