//go:build !linux && !darwin

package main

// NewSystemDevice creates the platform media device
func NewSystemDevice(cfg Config) (MediaDevice, error) {
	return nil, ErrUnsupported
}
