package audio

import (
	"testing"
	"time"

	"github.com/gordonklaus/portaudio"
)

func TestDeviceKind(t *testing.T) {
	tests := []struct {
		name   string
		in     int
		out    int
		want   Kind
		wantOK bool
	}{
		{name: "input only", in: 2, out: 0, want: KindInput, wantOK: true},
		{name: "output only", in: 0, out: 2, want: KindOutput, wantOK: true},
		{name: "duplex", in: 1, out: 2, want: KindDuplex, wantOK: true},
		{name: "no channels", in: 0, out: 0, wantOK: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := deviceKind(&portaudio.DeviceInfo{MaxInputChannels: tt.in, MaxOutputChannels: tt.out})
			if ok != tt.wantOK {
				t.Fatalf("expected ok=%v, got %v", tt.wantOK, ok)
			}
			if ok && got != tt.want {
				t.Fatalf("expected kind %d, got %d", tt.want, got)
			}
		})
	}
}

func TestDeviceIDIncludesHostAPI(t *testing.T) {
	d := &portaudio.DeviceInfo{
		Name:    "USB Mic",
		HostApi: &portaudio.HostApiInfo{Name: "ALSA"},
	}
	if got := deviceID(d); got != "ALSA/USB Mic" {
		t.Fatalf("expected ALSA/USB Mic, got %s", got)
	}

	d.HostApi = nil
	if got := deviceID(d); got != "USB Mic" {
		t.Fatalf("expected bare name without host api, got %s", got)
	}
}

func TestFingerprintPreservesOrder(t *testing.T) {
	a := fingerprint([]Device{{ID: "a"}, {ID: "b"}})
	b := fingerprint([]Device{{ID: "b"}, {ID: "a"}})
	if a == b {
		t.Fatal("expected reordered device sets to produce different fingerprints")
	}
	if fingerprint(nil) != "" {
		t.Fatal("expected empty fingerprint for empty inventory")
	}
}

func TestClassify(t *testing.T) {
	if got := classify(portaudio.NotInitialized); got != ErrPlatformUnsupported {
		t.Fatalf("expected platform unsupported, got %v", got)
	}
	if got := classify(portaudio.DeviceUnavailable); got != ErrDeviceUnavailable {
		t.Fatalf("expected device unavailable, got %v", got)
	}
	if got := classify(portaudio.InvalidDevice); got != ErrDeviceUnavailable {
		t.Fatalf("expected device unavailable, got %v", got)
	}
}

func TestNextPollInterval(t *testing.T) {
	const base = 2 * time.Second
	tests := []struct {
		name    string
		current time.Duration
		base    time.Duration
		changed bool
		want    time.Duration
	}{
		{name: "stable doubles", current: base, base: base, want: 4 * time.Second},
		{name: "stable caps at eight times base", current: 16 * time.Second, base: base, want: 16 * time.Second},
		{name: "change resets", current: 16 * time.Second, base: base, changed: true, want: base},
		{name: "short base caps at eight times base", current: 2 * time.Second, base: 250 * time.Millisecond, want: 2 * time.Second},
		{name: "long base caps at max backoff", current: 20 * time.Second, base: 5 * time.Second, want: maxPollBackoff},
		{name: "base above max backoff stays", current: time.Minute, base: time.Minute, want: time.Minute},
		{name: "below base resets", current: time.Second, base: base, want: base},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := nextPollInterval(tt.current, tt.base, tt.changed); got != tt.want {
				t.Errorf("nextPollInterval(%v, %v, %v) = %v, want %v", tt.current, tt.base, tt.changed, got, tt.want)
			}
		})
	}
}

func TestPollBackoffConverges(t *testing.T) {
	const base = 2 * time.Second
	interval := base
	var rescans int
	for elapsed := time.Duration(0); elapsed < 10*time.Minute; elapsed += interval {
		interval = nextPollInterval(interval, base, false)
		rescans++
	}
	// A fixed 2s poll would rescan 300 times in ten minutes
	if rescans > 50 {
		t.Errorf("expected backoff to cut idle rescans, got %d in ten minutes", rescans)
	}
}
