package audio

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gordonklaus/portaudio"
	"github.com/petems/signal-monitor/internal/config"
	"github.com/petems/signal-monitor/internal/permissions"
	"github.com/rs/zerolog"
)

const maxChannels = 2

type portAudioPlatform struct {
	log             zerolog.Logger
	pollInterval    time.Duration
	framesPerBuffer int

	// mu serializes every PortAudio library call except stream callbacks.
	mu   sync.Mutex
	open int
}

// New creates a new PortAudio-based platform
func New(cfg config.AudioConfig, log zerolog.Logger) (Platform, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("failed to initialize PortAudio: %w: %w", ErrPlatformUnsupported, err)
	}
	return &portAudioPlatform{
		log:             log.With().Str("component", "portaudio").Logger(),
		pollInterval:    cfg.PollInterval(),
		framesPerBuffer: cfg.FramesPerBuffer,
	}, nil
}

func (p *portAudioPlatform) Devices() ([]Device, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.devicesLocked()
}

func (p *portAudioPlatform) devicesLocked() ([]Device, error) {
	infos, err := portaudio.Devices()
	if err != nil {
		return nil, fmt.Errorf("failed to list devices: %w", err)
	}

	result := make([]Device, 0, len(infos))
	for _, d := range infos {
		kind, ok := deviceKind(d)
		if !ok {
			continue
		}
		result = append(result, Device{
			ID:    deviceID(d),
			Label: d.Name,
			Kind:  kind,
		})
	}
	return result, nil
}

func (p *portAudioPlatform) Open(ctx context.Context, id string, process ProcessFunc) (Stream, error) {
	// macOS requires explicit microphone approval before capture works
	if err := permissions.Microphone(); err != nil {
		return nil, NewAcquisitionError(ErrPermissionDenied, err, "microphone access not granted")
	}
	if err := ctx.Err(); err != nil {
		return nil, NewAcquisitionError(ErrDeviceUnavailable, err, "acquisition cancelled")
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	in, err := p.findInputLocked(id)
	if err != nil {
		return nil, err
	}

	out, err := portaudio.DefaultOutputDevice()
	if err != nil {
		p.log.Warn().Err(err).Msg("No output device, monitoring will be silent")
		out = nil
	}

	stream, err := p.openLocked(in, out, process)
	if err != nil && out != nil {
		// Some input/output pairs cannot share a duplex stream; keep metering alive.
		p.log.Warn().Err(err).Str("device", in.Name).Msg("Duplex stream rejected, retrying capture only")
		stream, err = p.openLocked(in, nil, process)
	}
	if err != nil {
		return nil, NewAcquisitionError(classify(err), err, "failed to open %q", in.Name)
	}

	p.open++
	return &portAudioStream{
		platform: p,
		stream:   stream,
		settings: TrackSettings{
			SampleRate:   stream.Info().SampleRate,
			ChannelCount: min(in.MaxInputChannels, maxChannels),
			Label:        in.Name,
		},
	}, nil
}

func (p *portAudioPlatform) openLocked(in, out *portaudio.DeviceInfo, process ProcessFunc) (*portaudio.Stream, error) {
	params := portaudio.LowLatencyParameters(in, out)
	params.Input.Channels = min(in.MaxInputChannels, maxChannels)
	if out != nil {
		params.Output.Channels = min(out.MaxOutputChannels, maxChannels)
	}
	if p.framesPerBuffer > 0 {
		params.FramesPerBuffer = p.framesPerBuffer
	}

	callback := func(in, out [][]float32) {
		process(in, out)
	}
	return portaudio.OpenStream(params, callback)
}

func (p *portAudioPlatform) findInputLocked(id string) (*portaudio.DeviceInfo, error) {
	if id == AnyDevice {
		device, err := portaudio.DefaultInputDevice()
		if err != nil {
			return nil, NewAcquisitionError(ErrDeviceUnavailable, err, "no default input device")
		}
		return device, nil
	}

	devices, err := portaudio.Devices()
	if err != nil {
		return nil, NewAcquisitionError(ErrPlatformUnsupported, err, "failed to enumerate devices")
	}
	for _, d := range devices {
		if deviceID(d) == id && d.MaxInputChannels > 0 {
			return d, nil
		}
	}
	return nil, NewAcquisitionError(ErrDeviceUnavailable, nil, "device not found: %s", id)
}

// maxPollBackoff caps how far an unchanged inventory stretches the rescan
// interval.
const maxPollBackoff = 30 * time.Second

func (p *portAudioPlatform) Changes(ctx context.Context) <-chan struct{} {
	ch := make(chan struct{}, 1)

	go func() {
		defer close(ch)

		interval := p.pollInterval
		timer := time.NewTimer(interval)
		defer timer.Stop()

		last := p.fingerprint()
		for {
			select {
			case <-ctx.Done():
				return
			case <-timer.C:
				current := p.fingerprint()
				changed := current != last
				interval = nextPollInterval(interval, p.pollInterval, changed)
				timer.Reset(interval)
				if !changed {
					continue
				}
				last = current
				p.log.Debug().Msg("Device set changed")
				select {
				case ch <- struct{}{}:
				default:
					// A notification is already pending
				}
			}
		}
	}()

	return ch
}

// nextPollInterval doubles the rescan interval while the inventory is
// stable, up to eight times base or maxPollBackoff, and returns to base on
// change.
func nextPollInterval(current, base time.Duration, changed bool) time.Duration {
	if changed || current < base {
		return base
	}
	limit := max(base, min(8*base, maxPollBackoff))
	return min(2*current, limit)
}

// fingerprint re-reads the inventory. PortAudio only rescans hardware on
// Initialize, so the library is restarted when no stream depends on it.
func (p *portAudioPlatform) fingerprint() string {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.open == 0 {
		if err := portaudio.Terminate(); err != nil {
			p.log.Debug().Err(err).Msg("Terminate before rescan failed")
		}
		if err := portaudio.Initialize(); err != nil {
			p.log.Error().Err(err).Msg("Failed to reinitialize PortAudio")
			return ""
		}
	}

	devices, err := p.devicesLocked()
	if err != nil {
		p.log.Error().Err(err).Msg("Failed to list devices")
		return ""
	}
	return fingerprint(devices)
}

func (p *portAudioPlatform) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return portaudio.Terminate()
}

type portAudioStream struct {
	platform *portAudioPlatform
	stream   *portaudio.Stream
	settings TrackSettings

	closeOnce sync.Once
	closeErr  error
}

func (s *portAudioStream) Settings() TrackSettings {
	return s.settings
}

func (s *portAudioStream) Start() error {
	if err := s.stream.Start(); err != nil {
		return NewAcquisitionError(classify(err), err, "failed to start %q", s.settings.Label)
	}
	return nil
}

func (s *portAudioStream) Stop() error {
	if err := s.stream.Stop(); err != nil && !errors.Is(err, portaudio.StreamIsStopped) {
		return fmt.Errorf("failed to stop stream: %w", err)
	}
	return nil
}

func (s *portAudioStream) Close() error {
	s.closeOnce.Do(func() {
		s.platform.mu.Lock()
		defer s.platform.mu.Unlock()
		s.closeErr = s.stream.Close()
		s.platform.open--
	})
	return s.closeErr
}

func deviceID(d *portaudio.DeviceInfo) string {
	if d.HostApi == nil {
		return d.Name
	}
	return d.HostApi.Name + "/" + d.Name
}

func deviceKind(d *portaudio.DeviceInfo) (Kind, bool) {
	switch {
	case d.MaxInputChannels > 0 && d.MaxOutputChannels > 0:
		return KindDuplex, true
	case d.MaxInputChannels > 0:
		return KindInput, true
	case d.MaxOutputChannels > 0:
		return KindOutput, true
	default:
		return 0, false
	}
}

func fingerprint(devices []Device) string {
	ids := make([]string, len(devices))
	for i, d := range devices {
		ids[i] = d.ID
	}
	return strings.Join(ids, "\n")
}

// classify maps PortAudio failures onto the acquisition error kinds.
func classify(err error) error {
	switch {
	case errors.Is(err, portaudio.NotInitialized),
		errors.Is(err, portaudio.HostApiNotFound),
		errors.Is(err, portaudio.InvalidHostApi):
		return ErrPlatformUnsupported
	default:
		return ErrDeviceUnavailable
	}
}
