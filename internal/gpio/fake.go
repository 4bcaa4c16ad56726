package gpio

import "errors"

// FakeRelay is a test double that holds the relay state in memory and
// returns scripted button samples.
type FakeRelay struct {
	// On is the current relay state.
	On bool

	// Presses contains scripted button states. Each call to Read() consumes
	// the next one; when exhausted the button reads released.
	Presses []bool

	// Sets records every value passed to Set.
	Sets []bool

	// SetError, if set, will be returned by Set().
	SetError error

	// ReadError, if set, will be returned by Read().
	ReadError error

	// Closed tracks if Close was called.
	Closed bool

	index int
}

// NewFakeRelay creates a released FakeRelay with the given button script.
func NewFakeRelay(presses ...bool) *FakeRelay {
	return &FakeRelay{Presses: presses}
}

// Set records and applies the value.
func (f *FakeRelay) Set(on bool) error {
	if f.Closed {
		return errors.New("relay closed")
	}
	if f.SetError != nil {
		return f.SetError
	}
	f.Sets = append(f.Sets, on)
	f.On = on
	return nil
}

// Read returns the relay state and the next scripted button sample.
func (f *FakeRelay) Read() (bool, bool, error) {
	if f.ReadError != nil {
		return false, false, f.ReadError
	}
	pressed := false
	if f.index < len(f.Presses) {
		pressed = f.Presses[f.index]
		f.index++
	}
	return f.On, pressed, nil
}

// Close releases the relay.
func (f *FakeRelay) Close() error {
	f.On = false
	f.Closed = true
	return nil
}
