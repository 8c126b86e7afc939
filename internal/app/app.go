package app

import (
	"context"
	"errors"
	"sync"

	"github.com/petems/signal-monitor/internal/audio"
	"github.com/petems/signal-monitor/internal/config"
	"github.com/petems/signal-monitor/internal/devices"
	"github.com/petems/signal-monitor/internal/graph"
	"github.com/petems/signal-monitor/internal/meter"
	"github.com/rs/zerolog"
)

// ErrorMessage is shown for every acquisition failure; the specific kind is
// only logged.
const ErrorMessage = "Failed to start the microphone. Check your settings."

var (
	ErrClosed     = errors.New("controller is shut down")
	ErrSuperseded = errors.New("start was superseded")
)

type State int

const (
	StateIdle State = iota
	StateStarting
	StateActive
	StateError
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateStarting:
		return "starting"
	case StateActive:
		return "active"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// StatusUpdater is an interface for updating status (e.g., tray icon)
type StatusUpdater interface {
	SetIdle()
	SetRecording()
	SetProcessing()
	SetError()
}

// Snapshot is the read-only view handed to presentation adapters.
type Snapshot struct {
	Devices          []audio.Device    `json:"devices"`
	SelectedDeviceID string            `json:"selected_device_id"`
	State            State             `json:"state"`
	ErrorMessage     string            `json:"error_message,omitempty"`
	IsRecording      bool              `json:"is_recording"`
	Level            float64           `json:"level"`
	StreamInfo       *audio.StreamInfo `json:"stream_info,omitempty"`
	Params           graph.Params      `json:"params"`
}

type Config struct {
	Platform      audio.Platform
	Config        *config.Config
	Logger        zerolog.Logger
	StatusUpdater StatusUpdater      // Optional - can be nil
	Clock         meter.ClockFactory // Optional - defaults to a ticker at the configured frame rate
}

type command struct {
	fn   func()
	done chan struct{}
}

type acquired struct {
	gen      uint64
	deviceID string
	handle   *graph.Handle
	devices  []audio.Device
	err      error
}

type settlement struct {
	waiters []chan error
	err     error
}

// App is the session controller. Every command runs on a single loop
// goroutine; acquisitions run beside it and report back through results.
type App struct {
	builder *graph.Builder
	dir     *devices.Directory
	meter   *meter.Meter
	log     zerolog.Logger
	status  StatusUpdater

	ctx       context.Context
	cancel    context.CancelFunc
	inbox     chan command
	results   chan acquired
	quit      chan struct{}
	done      chan struct{}
	closeOnce sync.Once

	// Owned by the loop goroutine.
	state    State
	errMsg   string
	devices  []audio.Device
	selected string
	info     *audio.StreamInfo
	params   graph.Params
	handle   *graph.Handle
	gen      uint64
	inflight bool
	pending  bool
	waiters  []chan error
	settled  []settlement

	mu      sync.RWMutex
	snap    Snapshot
	subs    map[int]chan Snapshot
	nextSub int
	closed  bool
}

// New creates the controller and starts its loop and device watch.
func New(cfg Config) *App {
	conf := cfg.Config
	if conf == nil {
		conf = config.Default()
	}
	clock := cfg.Clock
	if clock == nil {
		clock = meter.TickerClock(conf.Meter.FrameInterval())
	}

	log := cfg.Logger.With().Str("component", "app").Logger()
	ctx, cancel := context.WithCancel(context.Background())

	a := &App{
		builder:  graph.NewBuilder(cfg.Platform, cfg.Logger),
		dir:      devices.New(cfg.Platform, cfg.Logger),
		log:      log,
		status:   cfg.StatusUpdater,
		ctx:      ctx,
		cancel:   cancel,
		inbox:    make(chan command),
		results:  make(chan acquired),
		quit:     make(chan struct{}),
		done:     make(chan struct{}),
		selected: conf.Audio.DeviceID,
		params: graph.Params{
			EchoEnabled: conf.Monitor.EchoEnabled,
			DelayMs:     graph.ClampDelayMs(conf.Monitor.DelayMs),
		},
		subs: make(map[int]chan Snapshot),
	}
	a.meter = meter.New(clock, a.setLevel)
	a.snap = a.snapshotLocked(0)

	go a.run(a.dir.Watch(ctx))
	return a
}

func (a *App) run(watch <-chan []audio.Device) {
	defer close(a.done)

	for {
		var done chan struct{}
		select {
		case <-a.quit:
			a.dispose()
			return
		case list, ok := <-watch:
			if !ok {
				watch = nil
				continue
			}
			a.onDevices(list)
		case c := <-a.inbox:
			c.fn()
			done = c.done
		case r := <-a.results:
			a.onAcquired(r)
		}

		// Callers observe the published state once they are released.
		a.publish()
		a.flush()
		if done != nil {
			close(done)
		}
	}
}

// do runs fn on the loop goroutine and waits for it to finish.
func (a *App) do(ctx context.Context, fn func()) error {
	c := command{fn: fn, done: make(chan struct{})}
	select {
	case a.inbox <- c:
	case <-a.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case <-c.done:
		return nil
	case <-a.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (a *App) await(ctx context.Context, wait chan error, err error) error {
	if err != nil || wait == nil {
		return err
	}
	select {
	case err := <-wait:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Start acquires the selected device and begins metering. It returns once
// the attempt settles: nil when active, the acquisition error, or
// ErrSuperseded if a Stop cancelled it.
func (a *App) Start(ctx context.Context) error {
	var wait chan error
	err := a.do(ctx, func() { wait = a.start() })
	return a.await(ctx, wait, err)
}

// Stop releases the running session and returns to Idle.
func (a *App) Stop(ctx context.Context) error {
	return a.do(ctx, a.stop)
}

// SelectDevice records the selection. A running session is moved to the
// new device and the call waits for that attempt to settle.
func (a *App) SelectDevice(ctx context.Context, id string) error {
	var wait chan error
	err := a.do(ctx, func() { wait = a.selectDevice(id) })
	return a.await(ctx, wait, err)
}

func (a *App) SetEchoEnabled(ctx context.Context, enabled bool) error {
	return a.do(ctx, func() {
		a.params.EchoEnabled = enabled
		a.builder.SetEchoEnabled(a.handle, enabled)
		a.log.Info().Bool("enabled", enabled).Msg("Changed echo")
	})
}

// SetDelayMs sets the monitor delay, clamped to [0, 2000] ms.
func (a *App) SetDelayMs(ctx context.Context, ms int) error {
	return a.do(ctx, func() {
		a.params.DelayMs = graph.ClampDelayMs(ms)
		a.builder.SetDelayMs(a.handle, a.params.DelayMs)
		a.log.Info().Int("delay_ms", a.params.DelayMs).Msg("Changed delay")
	})
}

// Shutdown releases everything the controller holds. Pending Start and
// SelectDevice calls return ErrClosed; later commands fail with ErrClosed.
func (a *App) Shutdown(ctx context.Context) error {
	a.closeOnce.Do(func() { close(a.quit) })
	select {
	case <-a.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (a *App) start() chan error {
	switch a.state {
	case StateActive:
		return nil
	case StateStarting:
		return a.join()
	}
	a.beginStart()
	return a.join()
}

func (a *App) stop() {
	switch a.state {
	case StateIdle:
		return
	case StateStarting:
		// The in-flight result will be discarded on arrival.
		a.gen++
		a.pending = false
		a.setState(StateIdle, "")
		a.settle(ErrSuperseded)
	default:
		a.teardown()
		a.setState(StateIdle, "")
	}
	a.log.Info().Msg("Stopped monitoring")
}

func (a *App) selectDevice(id string) chan error {
	a.selected = id
	a.info = nil
	a.log.Info().Str("device", id).Msg("Selected device")

	switch a.state {
	case StateActive:
		a.teardown()
		a.beginStart()
		return a.join()
	case StateStarting:
		a.gen++
		a.pending = true
		return a.join()
	}
	return nil
}

func (a *App) beginStart() {
	a.gen++
	a.setState(StateStarting, "")
	if a.inflight {
		a.pending = true
		return
	}
	a.launch()
}

func (a *App) launch() {
	a.inflight = true
	a.pending = false
	gen, id, params := a.gen, a.selected, a.params
	a.log.Info().Str("device", id).Msg("Starting monitoring")

	go func() {
		r := acquired{gen: gen, deviceID: id}
		r.handle, r.err = a.builder.Acquire(a.ctx, id, params)
		if r.err == nil {
			// Labels are often only readable once permission is granted.
			list, err := a.dir.List()
			if err != nil {
				a.log.Debug().Err(err).Msg("Failed to refresh devices after start")
			}
			r.devices = list
		}
		a.results <- r
	}()
}

func (a *App) onAcquired(r acquired) {
	a.inflight = false

	if r.gen != a.gen || a.state != StateStarting {
		a.builder.Release(r.handle)
		a.log.Debug().Str("device", r.deviceID).Msg("Discarded superseded acquisition")
		if a.pending && a.state == StateStarting {
			a.launch()
		}
		return
	}

	if r.err != nil {
		a.log.Error().
			Err(r.err).
			Str("kind", audio.KindName(r.err)).
			Str("device", r.deviceID).
			Msg("Failed to start microphone")
		a.setState(StateError, ErrorMessage)
		a.settle(r.err)
		return
	}

	a.handle = r.handle
	info := r.handle.Info()
	a.info = &info
	// Parameters may have changed while the device was opening
	a.builder.SetEchoEnabled(a.handle, a.params.EchoEnabled)
	a.builder.SetDelayMs(a.handle, a.params.DelayMs)
	if r.devices != nil {
		a.onDevices(r.devices)
	}

	a.meter.Start(a.handle.Analyser())
	a.setState(StateActive, "")
	a.settle(nil)
}

func (a *App) onDevices(list []audio.Device) {
	a.devices = list
	if sel := devices.SelectDefault(a.selected, list); sel != a.selected {
		a.log.Info().Str("device", sel).Msg("Selected default device")
		a.selected = sel
	}
}

func (a *App) teardown() {
	a.meter.Stop()
	if a.handle != nil {
		a.builder.Release(a.handle)
		a.handle = nil
	}
}

func (a *App) dispose() {
	a.cancel()
	if a.inflight {
		r := <-a.results
		a.builder.Release(r.handle)
		a.inflight = false
	}
	a.teardown()
	a.gen++
	a.pending = false
	a.setState(StateIdle, "")
	a.settle(ErrClosed)
	a.publish()
	a.flush()

	a.mu.Lock()
	defer a.mu.Unlock()
	a.closed = true
	for id, ch := range a.subs {
		close(ch)
		delete(a.subs, id)
	}
	a.log.Info().Msg("Controller shut down")
}

func (a *App) join() chan error {
	ch := make(chan error, 1)
	a.waiters = append(a.waiters, ch)
	return ch
}

// settle resolves the current waiters with err. Delivery happens in flush,
// after the resulting state has been published.
func (a *App) settle(err error) {
	if len(a.waiters) == 0 {
		return
	}
	a.settled = append(a.settled, settlement{waiters: a.waiters, err: err})
	a.waiters = nil
}

func (a *App) flush() {
	for _, s := range a.settled {
		for _, w := range s.waiters {
			w <- s.err
		}
	}
	a.settled = nil
}

func (a *App) setState(s State, msg string) {
	if a.state == s && a.errMsg == msg {
		return
	}
	a.state = s
	a.errMsg = msg

	if a.status == nil {
		return
	}
	switch s {
	case StateIdle:
		a.status.SetIdle()
	case StateStarting:
		a.status.SetProcessing()
	case StateActive:
		a.status.SetRecording()
	case StateError:
		a.status.SetError()
	}
}

// Published state

func (a *App) Snapshot() Snapshot {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.snap
}

// Subscribe returns a channel receiving the current snapshot and then every
// change. Slow readers only see the latest snapshot. The channel closes on
// cancel or Shutdown.
func (a *App) Subscribe() (<-chan Snapshot, func()) {
	a.mu.Lock()
	defer a.mu.Unlock()

	ch := make(chan Snapshot, 1)
	if a.closed {
		close(ch)
		return ch, func() {}
	}

	id := a.nextSub
	a.nextSub++
	a.subs[id] = ch
	ch <- a.snap

	return ch, func() {
		a.mu.Lock()
		defer a.mu.Unlock()
		if c, ok := a.subs[id]; ok {
			delete(a.subs, id)
			close(c)
		}
	}
}

func (a *App) publish() {
	a.mu.Lock()
	defer a.mu.Unlock()

	level := a.snap.Level
	if a.handle == nil {
		level = 0
	}
	a.snap = a.snapshotLocked(level)
	a.notifyLocked()
}

func (a *App) snapshotLocked(level float64) Snapshot {
	snap := Snapshot{
		Devices:          make([]audio.Device, len(a.devices)),
		SelectedDeviceID: a.selected,
		State:            a.state,
		ErrorMessage:     a.errMsg,
		IsRecording:      a.state == StateActive,
		Level:            level,
		Params:           a.params,
	}
	copy(snap.Devices, a.devices)
	if a.info != nil {
		info := *a.info
		snap.StreamInfo = &info
	}
	return snap
}

// setLevel is called from the meter loop.
func (a *App) setLevel(level float64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.snap.Level = level
	a.notifyLocked()
}

func (a *App) notifyLocked() {
	for _, ch := range a.subs {
		select {
		case ch <- a.snap:
			continue
		default:
		}
		// Replace the stale pending snapshot
		select {
		case <-ch:
		default:
		}
		ch <- a.snap
	}
}
