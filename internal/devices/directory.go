// Package devices keeps the list of capture devices current.
package devices

import (
	"context"
	"fmt"

	"github.com/petems/signal-monitor/internal/audio"
	"github.com/rs/zerolog"
)

type Directory struct {
	platform audio.Platform
	log      zerolog.Logger
}

func New(platform audio.Platform, log zerolog.Logger) *Directory {
	return &Directory{
		platform: platform,
		log:      log.With().Str("component", "devices").Logger(),
	}
}

// List returns the capture-capable devices in platform order.
func (d *Directory) List() ([]audio.Device, error) {
	all, err := d.platform.Devices()
	if err != nil {
		return nil, fmt.Errorf("failed to list capture devices: %w", err)
	}

	inputs := make([]audio.Device, 0, len(all))
	for _, dev := range all {
		if dev.Kind.CanCapture() {
			inputs = append(inputs, dev)
		}
	}
	return inputs, nil
}

// Watch publishes the current list immediately and again after every
// platform change notification. The channel closes when ctx ends.
func (d *Directory) Watch(ctx context.Context) <-chan []audio.Device {
	out := make(chan []audio.Device)
	changes := d.platform.Changes(ctx)

	go func() {
		defer close(out)

		d.publish(ctx, out)
		for {
			select {
			case <-ctx.Done():
				return
			case _, ok := <-changes:
				if !ok {
					return
				}
				d.publish(ctx, out)
			}
		}
	}()

	return out
}

func (d *Directory) publish(ctx context.Context, out chan<- []audio.Device) {
	list, err := d.List()
	if err != nil {
		d.log.Error().Err(err).Msg("Failed to refresh devices")
		return
	}
	d.log.Debug().Int("count", len(list)).Msg("Devices refreshed")

	select {
	case out <- list:
	case <-ctx.Done():
	}
}

// SelectDefault picks the first device when nothing is selected yet. An
// existing selection is never overridden, even if it is no longer listed.
func SelectDefault(current string, list []audio.Device) string {
	if current != "" || len(list) == 0 {
		return current
	}
	return list[0].ID
}
