package trigger

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/cjeanneret/PhotoCam/internal/hw/camera"
	"github.com/cjeanneret/PhotoCam/internal/hw/gpio"
	"github.com/cjeanneret/PhotoCam/internal/photocam"
)

const (
	buttonPin = 17
	tallyPin  = 27
)

// fakeCamera accepts or rejects requests and holds WaitIdle until release.
type fakeCamera struct {
	mu        sync.Mutex
	accept    bool
	requests  int
	listeners []photocam.Listener
	idle      chan struct{}
}

func newFakeCamera(accept bool) *fakeCamera {
	return &fakeCamera{accept: accept, idle: make(chan struct{})}
}

func (f *fakeCamera) RequestCapture() bool {
	f.mu.Lock()
	f.requests++
	accept := f.accept
	ls := append([]photocam.Listener(nil), f.listeners...)
	f.mu.Unlock()
	if accept {
		for _, fn := range ls {
			fn(photocam.Event{})
		}
	}
	return accept
}

func (f *fakeCamera) OnCaptureBeginning(fn photocam.Listener) func() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listeners = append(f.listeners, fn)
	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.listeners = nil
	}
}

func (f *fakeCamera) WaitIdle(ctx context.Context) error {
	select {
	case <-f.idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (f *fakeCamera) requestCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.requests
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timeout waiting for %s", what)
		}
		time.Sleep(time.Millisecond)
	}
}

// startButton runs b until the test ends and waits for the pull-up to be set.
func startButton(t *testing.T, drv *gpio.MockDriver, b *Button) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- b.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		if err := <-done; !errors.Is(err, context.Canceled) {
			t.Errorf("Run returned %v, want context.Canceled", err)
		}
	})
	waitFor(t, "pull-up", func() bool {
		l, _ := drv.ReadPin(buttonPin)
		return l == gpio.High
	})
}

func press(t *testing.T, drv *gpio.MockDriver, b *Button, n int) {
	t.Helper()
	drv.SetInput(buttonPin, gpio.Low)
	waitFor(t, "press", func() bool { return b.Stats().Presses >= n })
	drv.SetInput(buttonPin, gpio.High)
	time.Sleep(10 * time.Millisecond) // let the poller sample the release
}

func TestButton_PressRequestsCapture(t *testing.T) {
	drv := &gpio.MockDriver{}
	cam := newFakeCamera(true)
	close(cam.idle)
	b := New(drv, cam, Config{ButtonPin: buttonPin, PollInterval: time.Millisecond})
	startButton(t, drv, b)

	press(t, drv, b, 1)
	press(t, drv, b, 2)

	if got := cam.requestCount(); got != 2 {
		t.Errorf("requests = %d, want 2", got)
	}
	if s := b.Stats(); s.Accepted != 2 || s.Limited != 0 || s.Busy != 0 {
		t.Errorf("stats = %+v", s)
	}
}

func TestButton_HeldButtonIsOnePress(t *testing.T) {
	drv := &gpio.MockDriver{}
	cam := newFakeCamera(true)
	close(cam.idle)
	b := New(drv, cam, Config{ButtonPin: buttonPin, PollInterval: time.Millisecond})
	startButton(t, drv, b)

	drv.SetInput(buttonPin, gpio.Low)
	waitFor(t, "press", func() bool { return b.Stats().Presses == 1 })
	time.Sleep(20 * time.Millisecond)

	if got := b.Stats().Presses; got != 1 {
		t.Errorf("presses while held = %d, want 1", got)
	}
}

func TestButton_RateLimited(t *testing.T) {
	drv := &gpio.MockDriver{}
	cam := newFakeCamera(true)
	close(cam.idle)
	b := New(drv, cam, Config{ButtonPin: buttonPin, PollInterval: time.Millisecond, MinInterval: time.Hour})
	startButton(t, drv, b)

	press(t, drv, b, 1)
	press(t, drv, b, 2)
	press(t, drv, b, 3)

	s := b.Stats()
	if s.Accepted != 1 || s.Limited != 2 {
		t.Errorf("stats = %+v, want 1 accepted and 2 limited", s)
	}
	if got := cam.requestCount(); got != 1 {
		t.Errorf("requests = %d, want 1", got)
	}
}

func TestButton_BusyCameraDropsPress(t *testing.T) {
	drv := &gpio.MockDriver{}
	cam := newFakeCamera(false)
	b := New(drv, cam, Config{ButtonPin: buttonPin, TallyPin: tallyPin, PollInterval: time.Millisecond})
	startButton(t, drv, b)

	press(t, drv, b, 1)

	if s := b.Stats(); s.Busy != 1 || s.Accepted != 0 {
		t.Errorf("stats = %+v, want 1 busy", s)
	}
	if l, _ := drv.ReadPin(tallyPin); l != gpio.Low {
		t.Error("tally should stay LOW when the request is dropped")
	}
}

func TestButton_TallyFollowsCapture(t *testing.T) {
	drv := &gpio.MockDriver{}
	cam := newFakeCamera(true)
	b := New(drv, cam, Config{ButtonPin: buttonPin, TallyPin: tallyPin, PollInterval: time.Millisecond})
	startButton(t, drv, b)

	if l, _ := drv.ReadPin(tallyPin); l != gpio.Low {
		t.Fatal("tally should start LOW")
	}
	press(t, drv, b, 1)
	waitFor(t, "tally HIGH", func() bool {
		l, _ := drv.ReadPin(tallyPin)
		return l == gpio.High
	})

	close(cam.idle)
	waitFor(t, "tally LOW", func() bool {
		l, _ := drv.ReadPin(tallyPin)
		return l == gpio.Low
	})
}

func TestButton_TallyFollowsCaptureFromOtherSource(t *testing.T) {
	platform := camera.NewSimulated(camera.SimulatedOptions{
		Resolutions: []camera.Resolution{{Width: 64, Height: 36}},
		Latency:     time.Millisecond,
	})
	t.Cleanup(func() { platform.Close() })
	cam, err := photocam.New(platform, photocam.Options{})
	if err != nil {
		t.Fatal(err)
	}

	drv := &gpio.MockDriver{}
	b := New(drv, cam, Config{ButtonPin: buttonPin, TallyPin: tallyPin, PollInterval: time.Millisecond})
	startButton(t, drv, b)

	var mu sync.Mutex
	var levelInFlight gpio.Level
	unsub := cam.OnCaptured(func(photocam.Event) {
		l, _ := drv.ReadPin(tallyPin)
		mu.Lock()
		levelInFlight = l
		mu.Unlock()
	})
	defer unsub()

	// Not a button press: the web page shares the camera in serve.
	if !cam.RequestCapture() {
		t.Fatal("RequestCapture rejected")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := cam.WaitIdle(ctx); err != nil {
		t.Fatal(err)
	}

	mu.Lock()
	if levelInFlight != gpio.High {
		t.Error("tally should be HIGH while the capture is in flight")
	}
	mu.Unlock()
	waitFor(t, "tally LOW after idle", func() bool {
		l, _ := drv.ReadPin(tallyPin)
		return l == gpio.Low
	})
	if s := b.Stats(); s.Presses != 0 {
		t.Errorf("stats = %+v, want no presses", s)
	}
}

func TestButton_NoPinReturnsImmediately(t *testing.T) {
	cam := newFakeCamera(true)
	b := New(&gpio.MockDriver{}, cam, Config{})
	if err := b.Run(context.Background()); err != nil {
		t.Errorf("Run without button pin: %v", err)
	}
	if len(cam.listeners) != 0 {
		t.Error("no listener should be registered without a button")
	}
}
