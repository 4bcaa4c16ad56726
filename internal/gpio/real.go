//go:build linux

package gpio

import (
	"fmt"

	"github.com/warthog618/go-gpiocdev"
)

// RealRelay drives the relay from actual hardware using the Linux GPIO character device.
type RealRelay struct {
	chip   *gpiocdev.Chip
	relay  *gpiocdev.Line
	button *gpiocdev.Line
}

// NewRealRelay requests the relay output (initially off) and, unless pinButton
// is NoButton, the button input with pull-up. Boards whose relay energizes on a
// low output set activeLow.
func NewRealRelay(pinRelay, pinButton int, activeLow bool) (*RealRelay, error) {
	chip, err := gpiocdev.NewChip("gpiochip0")
	if err != nil {
		return nil, fmt.Errorf("open gpio chip: %w", err)
	}

	opts := []gpiocdev.LineReqOption{gpiocdev.AsOutput(0)}
	if activeLow {
		opts = append(opts, gpiocdev.AsActiveLow)
	}
	relay, err := chip.RequestLine(pinRelay, opts...)
	if err != nil {
		chip.Close()
		return nil, fmt.Errorf("request relay pin %d: %w", pinRelay, err)
	}

	r := &RealRelay{chip: chip, relay: relay}
	if pinButton == NoButton {
		return r, nil
	}

	// The button shorts the line to ground, so pressed reads as active with AsActiveLow.
	button, err := chip.RequestLine(pinButton, gpiocdev.AsInput, gpiocdev.WithPullUp, gpiocdev.AsActiveLow)
	if err != nil {
		relay.Close()
		chip.Close()
		return nil, fmt.Errorf("request button pin %d: %w", pinButton, err)
	}
	r.button = button
	return r, nil
}

// Set drives the relay line.
func (r *RealRelay) Set(on bool) error {
	v := 0
	if on {
		v = 1
	}
	if err := r.relay.SetValue(v); err != nil {
		return fmt.Errorf("set relay: %w", err)
	}
	return nil
}

// Read returns the relay output level and the button state.
func (r *RealRelay) Read() (bool, bool, error) {
	relay, err := r.relay.Value()
	if err != nil {
		return false, false, fmt.Errorf("read relay pin: %w", err)
	}
	if r.button == nil {
		return relay == 1, false, nil
	}
	button, err := r.button.Value()
	if err != nil {
		return false, false, fmt.Errorf("read button pin: %w", err)
	}
	return relay == 1, button == 1, nil
}

// Close switches the relay off and returns both lines to input with
// pull-down (matching Pi boot defaults) before releasing them.
func (r *RealRelay) Close() error {
	var errs []error

	if r.relay != nil {
		if err := r.relay.SetValue(0); err != nil {
			errs = append(errs, fmt.Errorf("release relay: %w", err))
		}
		if err := r.relay.Reconfigure(gpiocdev.AsInput, gpiocdev.WithPullDown); err != nil {
			errs = append(errs, fmt.Errorf("reconfigure relay pin: %w", err))
		}
		if err := r.relay.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close relay pin: %w", err))
		}
	}
	if r.button != nil {
		if err := r.button.Reconfigure(gpiocdev.AsInput, gpiocdev.WithPullDown); err != nil {
			errs = append(errs, fmt.Errorf("reconfigure button pin: %w", err))
		}
		if err := r.button.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close button pin: %w", err))
		}
	}
	if r.chip != nil {
		if err := r.chip.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close chip: %w", err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("close errors: %v", errs)
	}
	return nil
}
