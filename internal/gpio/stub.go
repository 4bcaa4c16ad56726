//go:build !linux

package gpio

import "errors"

// RealRelay is not available on non-Linux platforms.
type RealRelay struct{}

// NewRealRelay returns an error on non-Linux platforms.
func NewRealRelay(pinRelay, pinButton int, activeLow bool) (*RealRelay, error) {
	return nil, errors.New("gpio: not supported on this platform (requires Linux)")
}

// Set is not implemented on non-Linux platforms.
func (r *RealRelay) Set(on bool) error {
	return errors.New("gpio: not supported")
}

// Read is not implemented on non-Linux platforms.
func (r *RealRelay) Read() (bool, bool, error) {
	return false, false, errors.New("gpio: not supported")
}

// Close is not implemented on non-Linux platforms.
func (r *RealRelay) Close() error {
	return nil
}
