package gpio

import "time"

// debouncer filters a noisy two-state input. A new level is accepted only
// after it has been sampled continuously for the window.
type debouncer struct {
	window time.Duration

	stable       bool
	pending      bool
	hasPending   bool
	pendingSince time.Time
}

// update feeds one sample and reports whether the stable level changed.
// A zero window accepts the first differing sample.
func (d *debouncer) update(sample bool, now time.Time) bool {
	if sample == d.stable {
		// Bounce back to the stable level: drop the candidate.
		d.hasPending = false
		return false
	}

	if !d.hasPending || d.pending != sample {
		d.pending = sample
		d.hasPending = true
		d.pendingSince = now
	}

	if now.Sub(d.pendingSince) >= d.window {
		d.stable = sample
		d.hasPending = false
		return true
	}
	return false
}
