package tray

import (
	"context"
	"fmt"
	"math/rand/v2"
	"strings"
	"sync"
	"time"

	"github.com/atotto/clipboard"
	"github.com/getlantern/systray"
	"github.com/petems/signal-monitor/internal/app"
	"github.com/petems/signal-monitor/internal/audio"
	"github.com/petems/signal-monitor/internal/meter"
	"github.com/rs/zerolog"
)

// LatencyPresets are the delay choices offered in the menu, in ms.
var LatencyPresets = []int{0, 50, 100, 200, 300, 500, 800, 1000, 1500, 2000}

const (
	titleBars     = 8
	renderEvery   = 100 * time.Millisecond
	commandWindow = 30 * time.Second
)

type UI struct {
	app     *app.App
	version string
	commit  string
	log     zerolog.Logger
	rnd     *rand.Rand

	mu     sync.Mutex
	ready  bool
	status string

	// Menu items
	mStartStop   *systray.MenuItem
	mDevices     *systray.MenuItem
	mEcho        *systray.MenuItem
	mLatency     *systray.MenuItem
	mCopyInfo    *systray.MenuItem
	deviceItems  map[string]*systray.MenuItem
	latencyItems map[int]*systray.MenuItem
}

// Status update methods for the app to call
func (u *UI) SetIdle() {
	u.updateStatus("idle")
}

func (u *UI) SetRecording() {
	u.updateStatus("recording")
}

func (u *UI) SetProcessing() {
	u.updateStatus("processing")
}

func (u *UI) SetError() {
	u.updateStatus("error")
}

func New(application *app.App, log zerolog.Logger, version, commit string) *UI {
	return &UI{
		app:          application,
		version:      version,
		commit:       commit,
		log:          log.With().Str("component", "tray").Logger(),
		rnd:          rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), 0)),
		status:       "idle",
		deviceItems:  make(map[string]*systray.MenuItem),
		latencyItems: make(map[int]*systray.MenuItem),
	}
}

// SetApp sets the app reference (for circular dependency resolution)
func (u *UI) SetApp(application *app.App) {
	u.app = application
}

// Run blocks on the system tray loop until Quit is chosen or ctx ends.
// It must be called from the main goroutine.
func (u *UI) Run(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		systray.Quit()
	}()
	systray.Run(func() { u.onReady(ctx) }, u.onExit)
	return nil
}

func (u *UI) onReady(ctx context.Context) {
	systray.SetTooltip("Microphone level and echo monitor")

	snap := u.app.Snapshot()

	// Build menu
	u.mStartStop = systray.AddMenuItem("Start Monitoring", "Capture from the selected microphone")
	systray.AddSeparator()

	u.mDevices = systray.AddMenuItem("Microphone", "Select capture device")
	u.mEcho = systray.AddMenuItemCheckbox("Echo Feedback", "Play the microphone back through the speakers", snap.Params.EchoEnabled)
	u.mLatency = systray.AddMenuItem("Latency", "Delay before the echo is heard")
	u.buildLatencyMenu(ctx)

	systray.AddSeparator()
	u.mCopyInfo = systray.AddMenuItem("Copy Stream Info", "Copy the negotiated stream settings")
	mAbout := systray.AddMenuItem("About", "About Signal Monitor")
	mQuit := systray.AddMenuItem("Quit", "Exit application")

	u.mu.Lock()
	u.ready = true
	u.mu.Unlock()
	u.render(ctx, snap)

	// Event loop
	go u.handleEvents(ctx, mAbout, mQuit)
	go u.watch(ctx)
}

func (u *UI) handleEvents(ctx context.Context, mAbout, mQuit *systray.MenuItem) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-u.mStartStop.ClickedCh:
			go u.toggleMonitoring(ctx)
		case <-u.mEcho.ClickedCh:
			go u.toggleEcho(ctx)
		case <-u.mCopyInfo.ClickedCh:
			u.copyStreamInfo()
		case <-mAbout.ClickedCh:
			u.showAbout()
		case <-mQuit.ClickedCh:
			systray.Quit()
			return
		}
	}
}

// watch re-renders the menu from controller snapshots, at most every
// renderEvery.
func (u *UI) watch(ctx context.Context) {
	updates, cancel := u.app.Subscribe()
	defer cancel()

	ticker := time.NewTicker(renderEvery)
	defer ticker.Stop()

	var latest app.Snapshot
	dirty := false
	for {
		select {
		case <-ctx.Done():
			return
		case snap, ok := <-updates:
			if !ok {
				return
			}
			latest, dirty = snap, true
		case <-ticker.C:
			if dirty {
				u.render(ctx, latest)
				dirty = false
			}
		}
	}
}

func (u *UI) render(ctx context.Context, snap app.Snapshot) {
	u.mu.Lock()
	status := u.status
	u.mu.Unlock()

	systray.SetTitle(formatTitle(emojiForStatus(status), snap.Level, meter.Bars(snap.Level, titleBars, u.rnd)))

	if snap.State == app.StateActive || snap.State == app.StateStarting {
		u.mStartStop.SetTitle("Stop Monitoring")
	} else {
		u.mStartStop.SetTitle("Start Monitoring")
	}

	u.renderDevices(ctx, snap)

	if snap.Params.EchoEnabled {
		u.mEcho.Check()
	} else {
		u.mEcho.Uncheck()
	}

	current := nearestPreset(snap.Params.DelayMs)
	for ms, item := range u.latencyItems {
		if ms == current {
			item.Check()
		} else {
			item.Uncheck()
		}
	}

	if snap.StreamInfo != nil {
		u.mCopyInfo.Enable()
	} else {
		u.mCopyInfo.Disable()
	}
}

func (u *UI) renderDevices(ctx context.Context, snap app.Snapshot) {
	present := make(map[string]bool, len(snap.Devices))

	for _, dev := range snap.Devices {
		present[dev.ID] = true
		item, ok := u.deviceItems[dev.ID]
		if !ok {
			item = u.mDevices.AddSubMenuItemCheckbox(dev.DisplayName(), "", false)
			u.deviceItems[dev.ID] = item
			go forwardClicks(ctx, item.ClickedCh, u.selectDevice(ctx, dev.ID))
		}
		item.SetTitle(dev.DisplayName())
		item.Show()
		if dev.ID == snap.SelectedDeviceID {
			item.Check()
		} else {
			item.Uncheck()
		}
	}

	// systray cannot remove items, so unplugged devices are hidden
	for id, item := range u.deviceItems {
		if !present[id] {
			item.Hide()
		}
	}
}

// forwardClicks calls onClick for every click until ctx ends. systray never
// closes ClickedCh, so ranging over it would outlive the tray.
func forwardClicks(ctx context.Context, clicks <-chan struct{}, onClick func()) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-clicks:
			onClick()
		}
	}
}

func (u *UI) selectDevice(ctx context.Context, deviceID string) func() {
	return func() {
		ctx, cancel := context.WithTimeout(ctx, commandWindow)
		defer cancel()
		if err := u.app.SelectDevice(ctx, deviceID); err != nil {
			u.log.Error().Err(err).Str("device", deviceID).Msg("Failed to switch device")
			return
		}
		u.log.Info().Str("device", deviceID).Msg("Changed audio device")
	}
}

func (u *UI) buildLatencyMenu(ctx context.Context) {
	for _, ms := range LatencyPresets {
		item := u.mLatency.AddSubMenuItemCheckbox(fmt.Sprintf("%d ms", ms), "", false)
		u.latencyItems[ms] = item

		go forwardClicks(ctx, item.ClickedCh, func() {
			if err := u.app.SetDelayMs(ctx, ms); err != nil {
				u.log.Error().Err(err).Msg("Failed to change latency")
				return
			}
			u.log.Info().Int("delay_ms", ms).Msg("Changed latency")
		})
	}
}

func (u *UI) toggleMonitoring(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, commandWindow)
	defer cancel()

	snap := u.app.Snapshot()
	if snap.State == app.StateActive || snap.State == app.StateStarting {
		if err := u.app.Stop(ctx); err != nil {
			u.log.Error().Err(err).Msg("Failed to stop monitoring")
		}
		return
	}
	// The controller already logs the failure kind and shows the error state
	if err := u.app.Start(ctx); err != nil {
		u.log.Debug().Err(err).Msg("Start did not complete")
	}
}

func (u *UI) toggleEcho(ctx context.Context) {
	enabled := !u.app.Snapshot().Params.EchoEnabled
	if err := u.app.SetEchoEnabled(ctx, enabled); err != nil {
		u.log.Error().Err(err).Msg("Failed to toggle echo")
	}
}

func (u *UI) copyStreamInfo() {
	info := u.app.Snapshot().StreamInfo
	if info == nil {
		return
	}
	if err := clipboard.WriteAll(formatStreamInfo(*info)); err != nil {
		u.log.Error().Err(err).Msg("Failed to copy stream info")
		return
	}
	u.log.Info().Msg("Copied stream info to clipboard")
}

func (u *UI) showAbout() {
	// TODO: Show about dialog with native UI
	fmt.Printf("Signal Monitor %s (%s)\nMicrophone level and echo monitor\n", u.version, u.commit)
}

func (u *UI) onExit() {
	u.log.Debug().Msg("Tray closed")
}

// updateStatus records the status and refreshes the title once the tray is up
func (u *UI) updateStatus(status string) {
	u.mu.Lock()
	u.status = status
	ready := u.ready
	u.mu.Unlock()

	if ready {
		systray.SetTitle(formatTitle(emojiForStatus(status), 0, nil))
	}
}

// emojiForStatus returns the appropriate status emoji
func emojiForStatus(status string) string {
	switch status {
	case "recording":
		return "🔴" // Red - capturing
	case "processing":
		return "🟡" // Yellow - waiting for the device
	case "idle":
		return "🟢" // Green - ready/idle
	case "error":
		return "⚪️" // White - error
	default:
		return "🟢" // Green - default to ready
	}
}

var barGlyphs = []rune("▁▂▃▄▅▆▇█")

// formatTitle renders the tray title: status, rounded level and bars.
func formatTitle(emoji string, level float64, bars []float64) string {
	var b strings.Builder
	fmt.Fprintf(&b, "🎤 %s %d%%", emoji, int(level+0.5))
	if len(bars) == 0 {
		return b.String()
	}

	b.WriteByte(' ')
	for _, h := range bars {
		idx := int(h / 100 * float64(len(barGlyphs)-1))
		idx = max(0, min(idx, len(barGlyphs)-1))
		b.WriteRune(barGlyphs[idx])
	}
	return b.String()
}

func formatStreamInfo(info audio.StreamInfo) string {
	return fmt.Sprintf("%s: %.0f Hz, %d channel(s)", info.Label, info.SampleRate, info.ChannelCount)
}

// nearestPreset maps any delay onto the closest menu entry.
func nearestPreset(ms int) int {
	best := LatencyPresets[0]
	for _, p := range LatencyPresets[1:] {
		if abs(p-ms) < abs(best-ms) {
			best = p
		}
	}
	return best
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
