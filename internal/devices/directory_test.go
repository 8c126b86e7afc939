package devices

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/petems/signal-monitor/internal/audio"
	"github.com/petems/signal-monitor/internal/audio/audiotest"
	"github.com/rs/zerolog"
)

type failingPlatform struct {
	*audiotest.Platform
}

func (failingPlatform) Devices() ([]audio.Device, error) {
	return nil, errors.New("backend gone")
}

func ids(list []audio.Device) []string {
	out := make([]string, len(list))
	for i, d := range list {
		out[i] = d.ID
	}
	return out
}

func equal(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func receive(t *testing.T, ch <-chan []audio.Device) []audio.Device {
	t.Helper()
	select {
	case list, ok := <-ch:
		if !ok {
			t.Fatal("watch channel closed unexpectedly")
		}
		return list
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for device list")
		return nil
	}
}

func TestListFiltersToCaptureDevicesInOrder(t *testing.T) {
	platform := audiotest.NewPlatform(
		audio.Device{ID: "speakers", Kind: audio.KindOutput},
		audiotest.Input("z-mic", ""),
		audio.Device{ID: "headset", Label: "Headset", Kind: audio.KindDuplex},
		audiotest.Input("a-mic", "Built-in"),
	)
	dir := New(platform, zerolog.Nop())

	list, err := dir.List()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got, want := ids(list), []string{"z-mic", "headset", "a-mic"}; !equal(got, want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
}

func TestListWrapsPlatformError(t *testing.T) {
	dir := New(failingPlatform{audiotest.NewPlatform()}, zerolog.Nop())
	if _, err := dir.List(); err == nil {
		t.Fatal("expected error from failing platform")
	}
}

func TestWatchPublishesInitialAndChangedLists(t *testing.T) {
	platform := audiotest.NewPlatform(audiotest.Input("a", ""))
	dir := New(platform, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch := dir.Watch(ctx)

	if got := ids(receive(t, ch)); !equal(got, []string{"a"}) {
		t.Fatalf("expected initial [a], got %v", got)
	}

	platform.SetDevices(audiotest.Input("a", "Mic A"), audiotest.Input("b", "Mic B"))
	list := receive(t, ch)
	if got := ids(list); !equal(got, []string{"a", "b"}) {
		t.Fatalf("expected [a b] after attach, got %v", got)
	}
	if list[0].Label != "Mic A" {
		t.Fatalf("expected refreshed label, got %q", list[0].Label)
	}

	cancel()
	select {
	case _, ok := <-ch:
		if ok {
			// A final in-flight list is fine; the channel must still close.
			<-ch
		}
	case <-time.After(time.Second):
		t.Fatal("expected watch channel to close after cancel")
	}
}

func TestSelectDefault(t *testing.T) {
	list := []audio.Device{{ID: "a"}, {ID: "b"}}

	tests := []struct {
		name    string
		current string
		list    []audio.Device
		want    string
	}{
		{name: "empty selection picks first", current: "", list: list, want: "a"},
		{name: "existing selection kept", current: "b", list: list, want: "b"},
		{name: "missing selection kept", current: "gone", list: list, want: "gone"},
		{name: "empty list", current: "", list: nil, want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := SelectDefault(tt.current, tt.list); got != tt.want {
				t.Fatalf("expected %q, got %q", tt.want, got)
			}
		})
	}
}
