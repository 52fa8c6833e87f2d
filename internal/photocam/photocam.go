// Package photocam sequences a single still photo through the platform
// capture API: create a session, start photo mode, take the photo (into
// memory or onto disk), stop photo mode and release the session.
//
// A Camera runs at most one attempt at a time. RequestCapture is gated by an
// atomic flag; a request made while an attempt is in flight is dropped.
// Failures never reach the caller of RequestCapture: they are logged, carried
// on the captured event, and observable as Plan staying empty.
package photocam

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cjeanneret/PhotoCam/internal/debug"
	"github.com/cjeanneret/PhotoCam/internal/hw/camera"
	"github.com/go-gl/mathgl/mgl32"
	"github.com/google/uuid"
)

// Capture failures, wrapped around the platform error.
var (
	ErrSessionCreate = errors.New("unable to create capture session")
	ErrModeStart     = errors.New("unable to start photo mode")
	ErrFrameCapture  = errors.New("unable to capture photo to memory")
	ErrDiskWrite     = errors.New("failed to save photo to disk")
	ErrNoResolutions = errors.New("platform reports no supported resolutions")
)

const (
	// Hologram opacity composited into the photo when holograms are shown.
	shownHologramOpacity = 0.9

	fileNamePrefix = "CapturedPhoto_"
	fileNameLayout = "20060102_150405"
)

// State is the position of the camera in the capture sequence.
type State int

const (
	Idle State = iota
	Creating
	Starting
	Capturing
	Stopping
)

func (s State) String() string {
	switch s {
	case Idle:
		return "Idle"
	case Creating:
		return "Creating"
	case Starting:
		return "Starting"
	case Capturing:
		return "Capturing"
	case Stopping:
		return "Stopping"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Options is fixed for the lifetime of a Camera.
type Options struct {
	ShowHolograms bool
	SaveToDisk    bool
	PictureDir    string  // destination of CapturedPhoto_*.jpg in disk mode
	NearClip      float32 // clip planes passed to the frame projection, default 0.3
	FarClip       float32 // default 1000
	Now           func() time.Time
}

// Event is delivered to listeners.
type Event struct {
	Attempt uuid.UUID
	Time    time.Time
	Path    string // disk mode: file the photo was written to
	Err     error  // captured events only: acquisition or write failure
}

// Listener receives camera events synchronously on the platform callback goroutine.
type Listener func(Event)

type listenerEntry struct {
	id int
	fn Listener
}

// Camera takes single photos through a camera.Platform.
type Camera struct {
	platform   camera.Platform
	opts       Options
	resolution camera.Resolution
	format     camera.PixelFormat
	opacity    float32

	busy atomic.Bool

	mu      sync.Mutex
	state   State
	session camera.Session
	params  camera.Params
	plan    *ShootingPlan
	attempt uuid.UUID
	path    string
	idle    chan struct{} // closed once the current attempt has fully stopped

	lmu         sync.RWMutex
	nextID      int
	onBeginning []listenerEntry
	onCaptured  []listenerEntry
}

// New selects the largest supported resolution and derives the pixel format
// and hologram opacity from opts. It has no other side effects.
func New(p camera.Platform, opts Options) (*Camera, error) {
	res, err := SelectResolution(p.SupportedResolutions())
	if err != nil {
		return nil, err
	}
	if opts.NearClip <= 0 {
		opts.NearClip = 0.3
	}
	if opts.FarClip <= opts.NearClip {
		opts.FarClip = 1000
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	c := &Camera{
		platform:   p,
		opts:       opts,
		resolution: res,
		format:     camera.JPEG, // on memory
		idle:       make(chan struct{}),
	}
	if opts.SaveToDisk {
		c.format = camera.BGRA32 // on disk
	}
	if opts.ShowHolograms {
		c.opacity = shownHologramOpacity
	}
	close(c.idle)
	return c, nil
}

// SelectResolution returns the entry with the largest Width*Height. Ties keep
// the first entry.
func SelectResolution(list []camera.Resolution) (camera.Resolution, error) {
	if len(list) == 0 {
		return camera.Resolution{}, ErrNoResolutions
	}
	best := list[0]
	for _, r := range list[1:] {
		if r.Area() > best.Area() {
			best = r
		}
	}
	return best, nil
}

// PhotoFileName names the disk-mode photo taken at t.
func PhotoFileName(t time.Time) string {
	return fileNamePrefix + t.Format(fileNameLayout) + ".jpg"
}

// CanTakePhoto reports whether no attempt is in flight.
func (c *Camera) CanTakePhoto() bool {
	return !c.busy.Load()
}

// State returns the current capture state.
func (c *Camera) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Plan returns a copy of the latest in-memory capture result. The second
// value is false until an in-memory capture succeeds, and again from the
// start of every new attempt.
func (c *Camera) Plan() (ShootingPlan, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.plan == nil {
		return ShootingPlan{}, false
	}
	return c.plan.clone(), true
}

// Resolution returns the capture resolution chosen at construction.
func (c *Camera) Resolution() camera.Resolution { return c.resolution }

// PixelFormat returns the session pixel format: BGRA32 on disk, JPEG in memory.
func (c *Camera) PixelFormat() camera.PixelFormat { return c.format }

// HologramOpacity returns the compositing weight used for photo mode.
func (c *Camera) HologramOpacity() float32 { return c.opacity }

// Options returns the construction options.
func (c *Camera) Options() Options { return c.opts }

// OnCaptureBeginning registers fn to run once per attempt, when photo mode has
// started and right before the frame is acquired. The returned func removes it.
func (c *Camera) OnCaptureBeginning(fn Listener) func() {
	return c.subscribe(&c.onBeginning, fn)
}

// OnCaptured registers fn to run once per attempt that reached frame
// acquisition, whether it succeeded or not. Check Plan (or Event.Err) to
// tell them apart. The returned func removes it.
func (c *Camera) OnCaptured(fn Listener) func() {
	return c.subscribe(&c.onCaptured, fn)
}

func (c *Camera) subscribe(list *[]listenerEntry, fn Listener) func() {
	c.lmu.Lock()
	defer c.lmu.Unlock()
	c.nextID++
	id := c.nextID
	*list = append(*list, listenerEntry{id: id, fn: fn})
	return func() {
		c.lmu.Lock()
		defer c.lmu.Unlock()
		for i, e := range *list {
			if e.id == id {
				*list = append((*list)[:i:i], (*list)[i+1:]...)
				return
			}
		}
	}
}

func (c *Camera) emit(name string, list *[]listenerEntry, evt Event) {
	c.lmu.RLock()
	fns := make([]Listener, 0, len(*list))
	for _, e := range *list {
		fns = append(fns, e.fn)
	}
	c.lmu.RUnlock()

	debug.Event(name, evt.Attempt.String())
	for _, fn := range fns {
		fn(evt)
	}
}

// WaitIdle blocks until the attempt in flight, if any, has fully stopped.
// An attempt admitted after WaitIdle was called is not waited for.
func (c *Camera) WaitIdle(ctx context.Context) error {
	c.mu.Lock()
	idle := c.idle
	c.mu.Unlock()
	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RequestCapture starts an attempt and returns true. While another attempt
// is in flight it does nothing and returns false.
func (c *Camera) RequestCapture() bool {
	// The swap happens under mu so WaitIdle never pairs a busy camera with
	// the previous attempt's closed channel.
	c.mu.Lock()
	if !c.busy.CompareAndSwap(false, true) {
		c.mu.Unlock()
		debug.Live("Capture already in progress, request dropped")
		return false
	}
	c.plan = nil
	c.path = ""
	c.attempt = uuid.New()
	c.idle = make(chan struct{})
	c.setStateLocked(Creating)
	id := c.attempt
	c.mu.Unlock()

	debug.Info("Take photo ... (attempt %s)", id)
	c.platform.CreateAsync(c.opts.ShowHolograms, c.sessionCreated)
	return true
}

func (c *Camera) setStateLocked(s State) {
	if c.state != s {
		debug.Transition(c.state.String(), s.String())
	}
	c.state = s
}

func (c *Camera) event(err error) Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Event{Attempt: c.attempt, Time: c.opts.Now(), Path: c.path, Err: err}
}

func (c *Camera) sessionCreated(sess camera.Session, err error) {
	if err != nil || sess == nil {
		if err == nil {
			err = camera.ErrCreateFailed
		}
		debug.Error(fmt.Errorf("%w: %v", ErrSessionCreate, err))
		c.finish()
		return
	}

	params := camera.Params{
		HologramOpacity: c.opacity,
		Width:           c.resolution.Width,
		Height:          c.resolution.Height,
		PixelFormat:     c.format,
	}
	c.mu.Lock()
	c.session = sess
	c.params = params
	c.setStateLocked(Starting)
	c.mu.Unlock()

	debug.PrintStruct("Photo mode parameters", params)
	sess.StartPhotoModeAsync(params, c.photoModeStarted)
}

func (c *Camera) photoModeStarted(err error) {
	if err != nil {
		debug.Error(fmt.Errorf("%w: %v", ErrModeStart, err))
		c.release()
		c.finish()
		return
	}

	var path string
	if c.format == camera.BGRA32 {
		path = filepath.Join(c.opts.PictureDir, PhotoFileName(c.opts.Now()))
	}
	c.mu.Lock()
	c.path = path
	sess := c.session
	c.mu.Unlock()

	c.emit("capture-beginning", &c.onBeginning, c.event(nil))

	c.mu.Lock()
	c.setStateLocked(Capturing)
	c.mu.Unlock()

	if c.format == camera.JPEG {
		sess.TakePhotoAsync(c.capturedToMemory)
		return
	}
	debug.Verbose("Capturing to %s", path)
	sess.TakePhotoToFileAsync(path, camera.JPG, c.capturedToDisk)
}

func (c *Camera) capturedToMemory(frame camera.Frame, err error) {
	if err == nil && frame == nil {
		err = camera.ErrCaptureFailed
	}
	var captureErr error
	if err != nil {
		captureErr = fmt.Errorf("%w: %v", ErrFrameCapture, err)
		debug.Error(captureErr)
	}

	c.mu.Lock()
	if captureErr == nil {
		c.plan = c.buildPlan(frame)
		debug.Info("Done... (%d bytes)", len(c.plan.ImageBuffer))
	}
	c.setStateLocked(Stopping)
	sess := c.session
	c.mu.Unlock()

	evt := c.event(captureErr)
	sess.StopPhotoModeAsync(c.photoModeStopped)
	c.emit("captured", &c.onCaptured, evt)
}

// buildPlan runs with c.mu held.
func (c *Camera) buildPlan(frame camera.Frame) *ShootingPlan {
	cameraToWorld, ok := frame.CameraToWorldMatrix()
	if !ok {
		debug.Verbose("Frame has no camera-to-world matrix, using identity")
		cameraToWorld = mgl32.Ident4()
	}
	projection, ok := frame.ProjectionMatrix(c.opts.NearClip, c.opts.FarClip)
	if !ok {
		debug.Verbose("Frame has no projection matrix, using identity")
		projection = mgl32.Ident4()
	}

	if debug.IsEnabled(debug.LevelVerbose) {
		debug.Verbose("Camera to world: %v", cameraToWorld)
		debug.Verbose("Projection: %v", projection)
	}

	return &ShootingPlan{
		CameraResolution:    c.resolution,
		CameraPosition:      cameraToWorld.Col(3).Vec3(),
		CameraToWorldMatrix: cameraToWorld,
		PixelToCameraMatrix: projection.Inv(),
		ImageBuffer:         frame.CopyRawImageData(),
		CapturedAt:          c.opts.Now(),
	}
}

func (c *Camera) capturedToDisk(err error) {
	var captureErr error
	c.mu.Lock()
	path := c.path
	c.mu.Unlock()
	if err != nil {
		captureErr = fmt.Errorf("%w: %v", ErrDiskWrite, err)
		debug.Error(captureErr)
	} else {
		debug.Photo(path)
	}

	c.mu.Lock()
	c.setStateLocked(Stopping)
	sess := c.session
	c.mu.Unlock()

	evt := c.event(captureErr)
	sess.StopPhotoModeAsync(c.photoModeStopped)
	c.emit("captured", &c.onCaptured, evt)
}

func (c *Camera) photoModeStopped(err error) {
	if err != nil {
		debug.Errorf("stop photo mode: %v", err)
	}
	c.release()
	c.finish()
}

// release closes the session handle, if any.
func (c *Camera) release() {
	c.mu.Lock()
	sess := c.session
	c.session = nil
	c.mu.Unlock()
	if sess == nil {
		return
	}
	if err := sess.Close(); err != nil {
		debug.Errorf("release capture session: %v", err)
	}
}

// finish returns to Idle and reopens the gate. The session is already released.
func (c *Camera) finish() {
	c.mu.Lock()
	c.setStateLocked(Idle)
	idle := c.idle
	c.mu.Unlock()

	c.busy.Store(false)
	close(idle)
}
