package camera

import (
	"fmt"
	"image"
	"sync"
	"time"

	"github.com/cjeanneret/PhotoCam/internal/debug"
	"github.com/go-gl/mathgl/mgl32"
)

// Faults makes the simulated platform report failures.
type Faults struct {
	Create  bool // CreateAsync reports ErrCreateFailed
	Start   bool // StartPhotoModeAsync reports ErrStartFailed
	Capture bool // TakePhotoAsync reports ErrCaptureFailed
	Save    bool // TakePhotoToFileAsync reports ErrSaveFailed
}

// SimulatedOptions configures a Simulated platform.
type SimulatedOptions struct {
	Resolutions []Resolution
	Latency     time.Duration // delay before each callback
	Pose        mgl32.Mat4    // camera-to-world at capture time; zero value means identity
	VerticalFOV float32       // degrees, default 48
	Shutter     Shutter       // optional, fired on every frame acquisition
	Faults      Faults
}

// Simulated is a software Platform. It renders a synthetic scene with the
// hologram overlay composited at the session opacity, and delivers every
// callback on a single dispatcher goroutine in the order calls were issued.
type Simulated struct {
	opts SimulatedOptions

	mu     sync.Mutex
	queue  []func()
	faults Faults
	open   int // sessions created and not yet closed
	seq    int
	closed bool // dispatcher gone, post runs callbacks on their own goroutine

	wake      chan struct{}
	quit      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// NewSimulated starts the dispatcher. Close stops it.
func NewSimulated(opts SimulatedOptions) *Simulated {
	if opts.VerticalFOV <= 0 {
		opts.VerticalFOV = 48
	}
	if opts.Pose == (mgl32.Mat4{}) {
		opts.Pose = mgl32.Ident4()
	}
	s := &Simulated{
		opts:   opts,
		faults: opts.Faults,
		wake:   make(chan struct{}, 1),
		quit:   make(chan struct{}),
	}
	s.wg.Add(1)
	go s.loop()
	return s
}

// SetFaults replaces the failure switches for subsequent calls.
func (s *Simulated) SetFaults(f Faults) {
	s.mu.Lock()
	s.faults = f
	s.mu.Unlock()
}

func (s *Simulated) currentFaults() Faults {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.faults
}

// OpenSessions reports how many sessions were created and not closed.
func (s *Simulated) OpenSessions() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.open
}

// Close stops the dispatcher. Callbacks already queued, and the ones they
// queue in turn, are delivered first without latency, so an attempt in flight
// still completes. Calls issued after Close fail.
func (s *Simulated) Close() error {
	s.closeOnce.Do(func() { close(s.quit) })
	s.wg.Wait()
	return nil
}

func (s *Simulated) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *Simulated) post(fn func()) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		go fn()
		return
	}
	s.queue = append(s.queue, fn)
	s.mu.Unlock()
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// next pops the oldest callback. Once quitting, an empty queue marks the
// platform closed under the same lock.
func (s *Simulated) next(quitting bool) (func(), bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.queue) == 0 {
		if quitting {
			s.closed = true
		}
		return nil, false
	}
	fn := s.queue[0]
	s.queue = s.queue[1:]
	return fn, true
}

func (s *Simulated) loop() {
	defer s.wg.Done()
	for {
		fn, ok := s.next(false)
		if !ok {
			select {
			case <-s.wake:
				continue
			case <-s.quit:
				s.flush()
				return
			}
		}

		if s.opts.Latency > 0 {
			select {
			case <-time.After(s.opts.Latency):
			case <-s.quit:
			}
		}
		fn()
	}
}

func (s *Simulated) flush() {
	for {
		fn, ok := s.next(true)
		if !ok {
			return
		}
		fn()
	}
}

// SupportedResolutions returns a copy of the configured list, unordered.
func (s *Simulated) SupportedResolutions() []Resolution {
	return append([]Resolution(nil), s.opts.Resolutions...)
}

func (s *Simulated) CreateAsync(showHolograms bool, done func(Session, error)) {
	s.post(func() {
		if s.isClosed() {
			done(nil, fmt.Errorf("%w: platform closed", ErrCreateFailed))
			return
		}
		if s.currentFaults().Create {
			debug.Trace("Platform: create failed")
			done(nil, ErrCreateFailed)
			return
		}
		s.mu.Lock()
		s.open++
		s.mu.Unlock()
		debug.Trace("Platform: session created (holograms=%v)", showHolograms)
		done(&simSession{platform: s, showHolograms: showHolograms}, nil)
	})
}

func (s *Simulated) supports(w, h int) bool {
	for _, r := range s.opts.Resolutions {
		if r.Width == w && r.Height == h {
			return true
		}
	}
	return false
}

func (s *Simulated) nextSeq() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	return s.seq
}

// acquire fires the external shutter and renders the frame for the session.
func (s *Simulated) acquire(p Params) (*image.RGBA, error) {
	if s.opts.Shutter != nil {
		if err := s.opts.Shutter.Shoot(); err != nil {
			return nil, fmt.Errorf("%w: shutter: %v", ErrCaptureFailed, err)
		}
	}
	res := Resolution{Width: p.Width, Height: p.Height}
	return renderScene(res, p.HologramOpacity, s.nextSeq()), nil
}

type simSession struct {
	platform      *Simulated
	showHolograms bool

	mu      sync.Mutex
	params  Params
	started bool
	closed  bool
}

func (ss *simSession) state() (Params, bool, bool) {
	ss.mu.Lock()
	defer ss.mu.Unlock()
	return ss.params, ss.started, ss.closed
}

func (ss *simSession) StartPhotoModeAsync(p Params, done func(error)) {
	ss.platform.post(func() {
		_, _, closed := ss.state()
		switch {
		case closed:
			done(ErrSessionClosed)
			return
		case ss.platform.currentFaults().Start:
			done(ErrStartFailed)
			return
		case !ss.platform.supports(p.Width, p.Height):
			done(fmt.Errorf("%w: unsupported resolution %dx%d", ErrStartFailed, p.Width, p.Height))
			return
		}
		if !ss.showHolograms {
			p.HologramOpacity = 0
		}
		ss.mu.Lock()
		ss.params = p
		ss.started = true
		ss.mu.Unlock()
		debug.Trace("Platform: photo mode started %+v", p)
		done(nil)
	})
}

func (ss *simSession) TakePhotoAsync(done func(Frame, error)) {
	ss.platform.post(func() {
		p, started, closed := ss.state()
		switch {
		case closed:
			done(nil, ErrSessionClosed)
			return
		case !started:
			done(nil, ErrNotStarted)
			return
		case ss.platform.currentFaults().Capture:
			done(nil, ErrCaptureFailed)
			return
		}
		img, err := ss.platform.acquire(p)
		if err != nil {
			done(nil, err)
			return
		}
		data, err := encodeFrame(img, p.PixelFormat)
		if err != nil {
			done(nil, fmt.Errorf("%w: %v", ErrCaptureFailed, err))
			return
		}
		done(&simFrame{
			data:   data,
			pose:   ss.platform.opts.Pose,
			fovY:   ss.platform.opts.VerticalFOV,
			aspect: float32(p.Width) / float32(p.Height),
		}, nil)
	})
}

func (ss *simSession) TakePhotoToFileAsync(path string, format FileFormat, done func(error)) {
	ss.platform.post(func() {
		p, started, closed := ss.state()
		switch {
		case closed:
			done(ErrSessionClosed)
			return
		case !started:
			done(ErrNotStarted)
			return
		case ss.platform.currentFaults().Save:
			done(ErrSaveFailed)
			return
		}
		img, err := ss.platform.acquire(p)
		if err != nil {
			done(err)
			return
		}
		if err := writePhoto(path, img, format); err != nil {
			done(fmt.Errorf("%w: %v", ErrSaveFailed, err))
			return
		}
		done(nil)
	})
}

func (ss *simSession) StopPhotoModeAsync(done func(error)) {
	ss.platform.post(func() {
		ss.mu.Lock()
		ss.started = false
		ss.mu.Unlock()
		debug.Trace("Platform: photo mode stopped")
		done(nil)
	})
}

func (ss *simSession) Close() error {
	ss.mu.Lock()
	defer ss.mu.Unlock()
	if ss.closed {
		return nil
	}
	ss.closed = true
	ss.started = false
	ss.platform.mu.Lock()
	ss.platform.open--
	ss.platform.mu.Unlock()
	return nil
}

type simFrame struct {
	data   []byte
	pose   mgl32.Mat4
	fovY   float32
	aspect float32
}

func (f *simFrame) CopyRawImageData() []byte {
	return append([]byte(nil), f.data...)
}

func (f *simFrame) CameraToWorldMatrix() (mgl32.Mat4, bool) {
	return f.pose, true
}

func (f *simFrame) ProjectionMatrix(near, far float32) (mgl32.Mat4, bool) {
	if near <= 0 || far <= near {
		return mgl32.Mat4{}, false
	}
	return mgl32.Perspective(mgl32.DegToRad(f.fovY), f.aspect, near, far), true
}
