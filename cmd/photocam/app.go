package main

import (
	"fmt"
	"time"

	"github.com/cjeanneret/PhotoCam/internal/config"
	"github.com/cjeanneret/PhotoCam/internal/debug"
	"github.com/cjeanneret/PhotoCam/internal/hw/camera"
	"github.com/cjeanneret/PhotoCam/internal/hw/gpio"
	"github.com/cjeanneret/PhotoCam/internal/photocam"
	"github.com/cjeanneret/PhotoCam/internal/trigger"
)

// app holds the hardware and the camera built from one config file.
type app struct {
	cfg      *config.Config
	gpio     gpio.Driver
	platform *camera.Simulated
	cam      *photocam.Camera
}

// loadConfig validates the path, reads the YAML file and applies PHOTOCAM_*
// overrides from lookup.
func loadConfig(path string, lookup func(string) (string, bool)) (*config.Config, error) {
	if err := config.ValidateConfigPath(path); err != nil {
		return nil, fmt.Errorf("invalid config path: %w", err)
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("load config failed: %w", err)
	}
	if err := cfg.ApplyEnv(lookup); err != nil {
		return nil, fmt.Errorf("environment override: %w", err)
	}
	return cfg, nil
}

func newApp(cfgPath string, lookup func(string) (string, bool)) (*app, error) {
	cfg, err := loadConfig(cfgPath, lookup)
	if err != nil {
		return nil, err
	}

	debug.Init(cfg.Defaults.DebugLevel)
	debug.Section("Initialization")
	debug.Value("Config path", cfgPath)
	debug.Value("Debug level", cfg.Defaults.DebugLevel)

	debug.Value("Mock GPIO", cfg.Defaults.MockGPIO)
	debug.Step(1, "Initializing GPIO driver")
	g, err := gpio.NewDriver(cfg.Defaults.MockGPIO)
	if err != nil {
		return nil, fmt.Errorf("init GPIO failed: %w", err)
	}

	debug.Step(2, "Initializing capture platform")
	platform, err := newPlatformFromConfig(g, cfg)
	if err != nil {
		g.Close()
		return nil, err
	}
	debug.Value("Platform", cfg.Camera.Platform)

	debug.Step(3, "Initializing photo camera")
	cam, err := photocam.New(platform, cameraOptions(cfg))
	if err != nil {
		platform.Close()
		g.Close()
		return nil, fmt.Errorf("init camera failed: %w", err)
	}
	debug.Value("Resolution", cam.Resolution())
	debug.Value("Pixel format", cam.PixelFormat())
	debug.Value("Hologram opacity", cam.HologramOpacity())
	debug.Summary(fmt.Sprintf("PhotoCam ready (%s, %s)", cam.Resolution(), cam.PixelFormat()))

	return &app{cfg: cfg, gpio: g, platform: platform, cam: cam}, nil
}

func (a *app) Close() {
	if err := a.platform.Close(); err != nil {
		debug.Errorf("closing platform failed: %v", err)
	}
	if err := a.gpio.Close(); err != nil {
		debug.Errorf("closing GPIO driver failed: %v", err)
	}
}

// newPlatformFromConfig selects a capture platform based on configuration.
func newPlatformFromConfig(g gpio.Driver, cfg *config.Config) (*camera.Simulated, error) {
	switch cfg.Camera.Platform {
	case "simulated":
		opts := camera.SimulatedOptions{
			Resolutions: resolutions(cfg),
			Latency:     cfg.Latency(),
		}
		if l := cfg.Camera.Lens; l != nil {
			lens := camera.Lens{FocalLengthMm: l.FocalLengthMm, SensorWidthMm: l.SensorWidthMm, SensorHeightMm: l.SensorHeightMm}
			if err := lens.Validate(); err != nil {
				return nil, err
			}
			opts.VerticalFOV = float32(lens.VerticalFOV())
			debug.Value("Horizontal FOV", lens.HorizontalFOV())
			debug.Value("Vertical FOV", opts.VerticalFOV)
		}
		if rr := cfg.Camera.RemoteRelease; rr != nil {
			debug.PrintStruct("Remote release config", *rr)
			opts.Shutter = camera.NewRemoteRelease(g, rr.FocusPin, rr.ShutterPin, cfg.FocusDelay(), cfg.ShutterDelay())
		}
		return camera.NewSimulated(opts), nil
	default:
		return nil, fmt.Errorf("unsupported capture platform: %s", cfg.Camera.Platform)
	}
}

func resolutions(cfg *config.Config) []camera.Resolution {
	out := make([]camera.Resolution, 0, len(cfg.Camera.SupportedResolutions))
	for _, r := range cfg.Camera.SupportedResolutions {
		out = append(out, camera.Resolution{Width: r.WidthPx, Height: r.HeightPx})
	}
	return out
}

func cameraOptions(cfg *config.Config) photocam.Options {
	return photocam.Options{
		ShowHolograms: cfg.Camera.ShowHolograms,
		SaveToDisk:    cfg.Camera.SaveToDisk,
		PictureDir:    cfg.Camera.PictureDir,
		NearClip:      float32(cfg.Camera.NearClip),
		FarClip:       float32(cfg.Camera.FarClip),
		Now:           time.Now,
	}
}

func triggerConfig(cfg *config.Config) trigger.Config {
	return trigger.Config{
		ButtonPin:    cfg.Trigger.ButtonPin,
		TallyPin:     cfg.Trigger.TallyPin,
		PollInterval: cfg.PollInterval(),
		MinInterval:  cfg.MinPressInterval(),
	}
}
