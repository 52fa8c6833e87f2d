// Package trigger turns a physical push button into capture requests and
// drives a tally light while a capture is in flight.
package trigger

import (
	"context"
	"sync"
	"time"

	"github.com/cjeanneret/PhotoCam/internal/debug"
	"github.com/cjeanneret/PhotoCam/internal/hw/gpio"
	"github.com/cjeanneret/PhotoCam/internal/photocam"
	"golang.org/x/time/rate"
)

// Capturer is the part of photocam.Camera the button needs.
type Capturer interface {
	RequestCapture() bool
	OnCaptureBeginning(fn photocam.Listener) func()
	WaitIdle(ctx context.Context) error
}

// Config describes the wiring. A pin of 0 means not connected.
type Config struct {
	ButtonPin    int           // active LOW, internal pull-up
	TallyPin     int           // HIGH while a capture is in flight
	PollInterval time.Duration // button sampling period
	MinInterval  time.Duration // minimum time between accepted presses
}

// Stats counts button activity since Run started.
type Stats struct {
	Presses  int // HIGH to LOW edges seen
	Limited  int // presses dropped by the rate limiter
	Accepted int // presses that started a capture
	Busy     int // presses dropped because a capture was in flight
}

// Button polls a shutter button and requests captures from a Capturer.
type Button struct {
	gpio    gpio.Driver
	cam     Capturer
	cfg     Config
	limiter *rate.Limiter

	mu    sync.Mutex
	stats Stats
	wg    sync.WaitGroup
}

func New(g gpio.Driver, cam Capturer, cfg Config) *Button {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 20 * time.Millisecond
	}
	limit := rate.Inf
	if cfg.MinInterval > 0 {
		limit = rate.Every(cfg.MinInterval)
	}
	return &Button{
		gpio:    g,
		cam:     cam,
		cfg:     cfg,
		limiter: rate.NewLimiter(limit, 1),
	}
}

// Stats returns a snapshot of the counters.
func (b *Button) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.stats
}

func (b *Button) count(fn func(*Stats)) {
	b.mu.Lock()
	fn(&b.stats)
	b.mu.Unlock()
}

func (b *Button) setup() error {
	if err := b.gpio.SetupPin(b.cfg.ButtonPin, gpio.InputPullUp); err != nil {
		return err
	}
	if b.cfg.TallyPin != 0 {
		if err := b.gpio.SetupPin(b.cfg.TallyPin, gpio.Output); err != nil {
			return err
		}
		return b.gpio.WritePin(b.cfg.TallyPin, gpio.Low)
	}
	return nil
}

func (b *Button) tally(level gpio.Level) {
	if b.cfg.TallyPin == 0 {
		return
	}
	if err := b.gpio.WritePin(b.cfg.TallyPin, level); err != nil {
		debug.Errorf("tally pin %d: %v", b.cfg.TallyPin, err)
	}
}

// Run samples the button until ctx is done. Without a button pin it returns
// immediately.
func (b *Button) Run(ctx context.Context) error {
	if b.cfg.ButtonPin == 0 {
		debug.Verbose("No shutter button configured")
		return nil
	}
	if err := b.setup(); err != nil {
		return err
	}
	unsubscribe := b.cam.OnCaptureBeginning(func(photocam.Event) {
		b.mu.Lock()
		defer b.mu.Unlock()
		if ctx.Err() != nil {
			return
		}
		b.tally(gpio.High)
		b.wg.Add(1)
		go b.tallyOffWhenIdle(ctx)
	})
	defer func() {
		unsubscribe()
		// ctx is done here; taking mu orders every Add before Wait.
		b.mu.Lock()
		b.mu.Unlock()
		b.wg.Wait()
	}()

	debug.Section("Shutter Button")
	debug.Value("Button pin", b.cfg.ButtonPin)
	debug.Value("Tally pin", b.cfg.TallyPin)

	ticker := time.NewTicker(b.cfg.PollInterval)
	defer ticker.Stop()

	prev := gpio.High
	for {
		select {
		case <-ctx.Done():
			b.tally(gpio.Low)
			return ctx.Err()
		case <-ticker.C:
		}

		level, err := b.gpio.ReadPin(b.cfg.ButtonPin)
		if err != nil {
			debug.Errorf("read button pin %d: %v", b.cfg.ButtonPin, err)
			continue
		}
		if prev == gpio.High && level == gpio.Low {
			b.press()
		}
		prev = level
	}
}

func (b *Button) press() {
	b.count(func(s *Stats) { s.Presses++ })
	if !b.limiter.Allow() {
		b.count(func(s *Stats) { s.Limited++ })
		debug.Live("Button press ignored (too soon)")
		return
	}
	if !b.cam.RequestCapture() {
		b.count(func(s *Stats) { s.Busy++ })
		return
	}
	b.count(func(s *Stats) { s.Accepted++ })
}

// tallyOffWhenIdle drops the tally once the attempt that raised it, whatever
// requested it, is over.
func (b *Button) tallyOffWhenIdle(ctx context.Context) {
	defer b.wg.Done()
	if err := b.cam.WaitIdle(ctx); err != nil {
		return
	}
	b.tally(gpio.Low)
}
