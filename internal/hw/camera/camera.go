// Package camera describes the platform photo-capture subsystem the photo
// camera drives: supported resolutions, capture sessions, photo mode and
// frame acquisition. Every call is asynchronous and completes through a
// callback delivered on the platform's own goroutine, in issue order.
package camera

import (
	"errors"
	"fmt"

	"github.com/go-gl/mathgl/mgl32"
)

// Platform failures reported through callbacks.
var (
	ErrCreateFailed  = errors.New("capture session could not be created")
	ErrStartFailed   = errors.New("photo mode could not be started")
	ErrCaptureFailed = errors.New("frame acquisition failed")
	ErrSaveFailed    = errors.New("photo could not be written")
	ErrNotStarted    = errors.New("photo mode is not started")
	ErrSessionClosed = errors.New("capture session is closed")
)

// Resolution is a capture size in pixels.
type Resolution struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Area returns Width*Height.
func (r Resolution) Area() int {
	return r.Width * r.Height
}

func (r Resolution) String() string {
	return fmt.Sprintf("%dx%d", r.Width, r.Height)
}

// PixelFormat is the in-session pixel layout.
type PixelFormat int

const (
	// BGRA32 is raw 8-bit BGRA, required when the platform encodes the file itself.
	BGRA32 PixelFormat = iota
	// JPEG is a compact encoded frame, directly usable in memory.
	JPEG
)

func (f PixelFormat) String() string {
	switch f {
	case BGRA32:
		return "BGRA32"
	case JPEG:
		return "JPEG"
	default:
		return fmt.Sprintf("PixelFormat(%d)", int(f))
	}
}

// FileFormat is the encoding of a photo captured to a file.
type FileFormat int

const (
	JPG FileFormat = iota
)

// Params configures photo mode on a session.
type Params struct {
	HologramOpacity float32 // 0 = holograms invisible, 1 = fully opaque
	Width           int
	Height          int
	PixelFormat     PixelFormat
}

// Frame is one acquired photo held by the platform.
type Frame interface {
	// CopyRawImageData returns a copy of the frame bytes in the session pixel format.
	CopyRawImageData() []byte
	// CameraToWorldMatrix returns the capture camera pose, if the platform tracked it.
	CameraToWorldMatrix() (mgl32.Mat4, bool)
	// ProjectionMatrix returns the capture projection for the given clip planes.
	ProjectionMatrix(near, far float32) (mgl32.Mat4, bool)
}

// Session is an exclusive capture pipeline. It must be started, used,
// stopped and closed in that order.
type Session interface {
	StartPhotoModeAsync(p Params, done func(error))
	TakePhotoAsync(done func(Frame, error))
	TakePhotoToFileAsync(path string, format FileFormat, done func(error))
	StopPhotoModeAsync(done func(error))
	// Close releases the session. It is safe to call more than once.
	Close() error
}

// Platform creates capture sessions.
type Platform interface {
	SupportedResolutions() []Resolution
	CreateAsync(showHolograms bool, done func(Session, error))
}

// Shutter is an external trigger fired at the moment of frame acquisition
// (wired remote release, flash sync, etc.).
type Shutter interface {
	// Shoot triggers a single photo capture (simple mode).
	Shoot() error
}
