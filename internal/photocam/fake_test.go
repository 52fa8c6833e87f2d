package photocam

import (
	"os"
	"sync"

	"github.com/cjeanneret/PhotoCam/internal/hw/camera"
	"github.com/go-gl/mathgl/mgl32"
)

// fakePlatform queues every callback until the test delivers it with step or
// drain, so each transition of the capture sequence can be observed.
type fakePlatform struct {
	mu          sync.Mutex
	resolutions []camera.Resolution
	pending     []func()

	createCalls int
	sessions    []*fakeSession
	started     []camera.Params

	failCreate  bool
	failStart   bool
	failCapture bool
	failSave    bool

	frameData []byte
	pose      mgl32.Mat4
	proj      mgl32.Mat4
	noPose    bool

	// stopNow, when set, replaces the queued stop completion. It lets a
	// test complete stop synchronously inside StopPhotoModeAsync.
	stopNow func(done func(error))
}

func newFakePlatform() *fakePlatform {
	return &fakePlatform{
		resolutions: []camera.Resolution{{Width: 1280, Height: 720}, {Width: 2048, Height: 1152}, {Width: 1920, Height: 1080}},
		frameData:   []byte{0xff, 0xd8, 0xff, 0xe0, 1, 2, 3, 4, 5, 0xff, 0xd9},
		pose:        mgl32.Translate3D(0.5, 1.6, -2),
		proj:        mgl32.Perspective(mgl32.DegToRad(48), 16.0/9.0, 0.3, 1000),
	}
}

func (p *fakePlatform) post(fn func()) {
	p.mu.Lock()
	p.pending = append(p.pending, fn)
	p.mu.Unlock()
}

// step delivers the oldest pending callback and reports whether there was one.
func (p *fakePlatform) step() bool {
	p.mu.Lock()
	if len(p.pending) == 0 {
		p.mu.Unlock()
		return false
	}
	fn := p.pending[0]
	p.pending = p.pending[1:]
	p.mu.Unlock()
	fn()
	return true
}

func (p *fakePlatform) drain() {
	for p.step() {
	}
}

func (p *fakePlatform) openSessions() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, s := range p.sessions {
		if !s.closed {
			n++
		}
	}
	return n
}

func (p *fakePlatform) SupportedResolutions() []camera.Resolution {
	return p.resolutions
}

func (p *fakePlatform) CreateAsync(showHolograms bool, done func(camera.Session, error)) {
	p.mu.Lock()
	p.createCalls++
	p.mu.Unlock()
	p.post(func() {
		if p.failCreate {
			done(nil, camera.ErrCreateFailed)
			return
		}
		s := &fakeSession{p: p, showHolograms: showHolograms}
		p.mu.Lock()
		p.sessions = append(p.sessions, s)
		p.mu.Unlock()
		done(s, nil)
	})
}

type fakeSession struct {
	p             *fakePlatform
	showHolograms bool
	closed        bool
	stops         int
	files         []string
}

func (s *fakeSession) StartPhotoModeAsync(params camera.Params, done func(error)) {
	s.p.mu.Lock()
	s.p.started = append(s.p.started, params)
	s.p.mu.Unlock()
	s.p.post(func() {
		if s.p.failStart {
			done(camera.ErrStartFailed)
			return
		}
		done(nil)
	})
}

func (s *fakeSession) TakePhotoAsync(done func(camera.Frame, error)) {
	s.p.post(func() {
		if s.p.failCapture {
			done(nil, camera.ErrCaptureFailed)
			return
		}
		done(&fakeFrame{
			data:   s.p.frameData,
			pose:   s.p.pose,
			proj:   s.p.proj,
			noPose: s.p.noPose,
		}, nil)
	})
}

func (s *fakeSession) TakePhotoToFileAsync(path string, _ camera.FileFormat, done func(error)) {
	s.files = append(s.files, path)
	s.p.post(func() {
		if s.p.failSave {
			done(camera.ErrSaveFailed)
			return
		}
		done(os.WriteFile(path, s.p.frameData, 0o644))
	})
}

func (s *fakeSession) StopPhotoModeAsync(done func(error)) {
	s.stops++
	if hook := s.p.stopNow; hook != nil {
		hook(done)
		return
	}
	s.p.post(func() { done(nil) })
}

func (s *fakeSession) Close() error {
	s.p.mu.Lock()
	defer s.p.mu.Unlock()
	s.closed = true
	return nil
}

type fakeFrame struct {
	data   []byte
	pose   mgl32.Mat4
	proj   mgl32.Mat4
	noPose bool
}

func (f *fakeFrame) CopyRawImageData() []byte {
	return append([]byte(nil), f.data...)
}

func (f *fakeFrame) CameraToWorldMatrix() (mgl32.Mat4, bool) {
	if f.noPose {
		return mgl32.Mat4{}, false
	}
	return f.pose, true
}

func (f *fakeFrame) ProjectionMatrix(near, far float32) (mgl32.Mat4, bool) {
	return f.proj, true
}
