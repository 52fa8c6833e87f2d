package camera

import (
	"time"

	"github.com/cjeanneret/PhotoCam/internal/debug"
	"github.com/cjeanneret/PhotoCam/internal/hw/gpio"
)

// RemoteRelease is a Shutter wired to a 3-pin remote release connector:
// - GND: connected to Raspberry Pi ground
// - FOCUS: half-press (activate by setting to LOW)
// - SHUTTER: full press (activate by setting to LOW)
//
// Fired by the platform when it acquires a frame, so an external body or
// flash can be synced with the photo.
type RemoteRelease struct {
	gpio         gpio.Driver
	focusPin     int
	shutterPin   int
	focusDelay   time.Duration // time for autofocus
	shutterDelay time.Duration // shutter hold time
}

// NewRemoteRelease configures focusPin and shutterPin as outputs held HIGH (inactive).
func NewRemoteRelease(g gpio.Driver, focusPin, shutterPin int, focusDelay, shutterDelay time.Duration) *RemoteRelease {
	_ = g.SetupPin(focusPin, gpio.Output)
	_ = g.SetupPin(shutterPin, gpio.Output)

	_ = g.WritePin(focusPin, gpio.High)
	_ = g.WritePin(shutterPin, gpio.High)

	return &RemoteRelease{
		gpio:         g,
		focusPin:     focusPin,
		shutterPin:   shutterPin,
		focusDelay:   focusDelay,
		shutterDelay: shutterDelay,
	}
}

// Shoot runs FOCUS -> wait for AF -> SHUTTER -> hold -> release.
func (r *RemoteRelease) Shoot() error {
	debug.Verbose("Release: triggering (focus=%d, shutter=%d)", r.focusPin, r.shutterPin)

	if err := r.gpio.WritePin(r.focusPin, gpio.Low); err != nil {
		return err
	}
	time.Sleep(r.focusDelay)

	if err := r.gpio.WritePin(r.shutterPin, gpio.Low); err != nil {
		// Release FOCUS on error
		_ = r.gpio.WritePin(r.focusPin, gpio.High)
		return err
	}
	time.Sleep(r.shutterDelay)

	if err := r.gpio.WritePin(r.shutterPin, gpio.High); err != nil {
		return err
	}
	if err := r.gpio.WritePin(r.focusPin, gpio.High); err != nil {
		return err
	}

	debug.Trace("Release: done")
	return nil
}
