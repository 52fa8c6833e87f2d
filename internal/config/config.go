package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// MaxConfigFileBytes caps the size of a config file accepted by Load.
const MaxConfigFileBytes = 64 * 1024

// EnvPrefix is the prefix of environment variables that override the YAML file.
const EnvPrefix = "PHOTOCAM_"

// ResolutionConfig is a capture resolution in pixels.
type ResolutionConfig struct {
	WidthPx  int `yaml:"width_px"`
	HeightPx int `yaml:"height_px"`
}

// RemoteReleaseConfig describes an optional wired remote release fired at shutter time.
type RemoteReleaseConfig struct {
	FocusPin       int `yaml:"focus_pin"`        // GPIO pin for FOCUS line
	ShutterPin     int `yaml:"shutter_pin"`      // GPIO pin for SHUTTER line
	FocusDelayMs   int `yaml:"focus_delay_ms"`   // autofocus delay (ms)
	ShutterDelayMs int `yaml:"shutter_delay_ms"` // shutter hold time (ms)
}

// LensConfig describes the viewing optics. The simulated platform derives its
// vertical field of view from it.
type LensConfig struct {
	FocalLengthMm  float64 `yaml:"focal_length_mm"`  // e.g., 35
	SensorWidthMm  float64 `yaml:"sensor_width_mm"`  // e.g., 23.6 for APS-C
	SensorHeightMm float64 `yaml:"sensor_height_mm"` // e.g., 15.8 for APS-C
}

// CameraConfig describes the capture platform and the photo camera options.
// Platform selects a concrete implementation (e.g., "simulated").
type CameraConfig struct {
	Platform      string  `yaml:"platform"`       // e.g., "simulated"
	ShowHolograms bool    `yaml:"show_holograms"` // composite holograms into the photo
	SaveToDisk    bool    `yaml:"save_to_disk"`   // BGRA32 capture to a file instead of JPEG in memory
	PictureDir    string  `yaml:"picture_dir"`    // directory for CapturedPhoto_*.jpg
	NearClip      float64 `yaml:"near_clip"`      // near clip plane of the viewing camera
	FarClip       float64 `yaml:"far_clip"`       // far clip plane of the viewing camera
	LatencyMs     int     `yaml:"latency_ms"`     // simulated platform: delay per async call (ms)

	SupportedResolutions []ResolutionConfig  `yaml:"supported_resolutions"`
	RemoteRelease        *RemoteReleaseConfig `yaml:"remote_release,omitempty"` // optional
	Lens                 *LensConfig          `yaml:"lens,omitempty"`           // optional, default 48° vertical FOV
}

// TriggerConfig wires a physical shutter button and a tally light.
type TriggerConfig struct {
	ButtonPin      int `yaml:"button_pin"`       // BCM pin, active LOW with pull-up. 0 = not used.
	TallyPin       int `yaml:"tally_pin"`        // BCM pin, HIGH while a capture is in flight. 0 = not used.
	PollIntervalMs int `yaml:"poll_interval_ms"` // button sampling period (ms)
	MinIntervalMs  int `yaml:"min_interval_ms"`  // minimum time between accepted presses (ms)
}

// WebConfig configures the HTTP control page.
type WebConfig struct {
	MinIntervalMs int `yaml:"min_interval_ms"` // minimum time between accepted POST /capture (ms)
}

// DefaultsConfig contains generic parameters.
type DefaultsConfig struct {
	DebugLevel int  `yaml:"debug_level"` // debug level 0-4 (0=off, 1=info, 2=live, 3=verbose, 4=trace)
	MockGPIO   bool `yaml:"mock_gpio"`   // use mock GPIO (true=dev/test, false=real Raspberry Pi)
}

// Config aggregates all application configuration.
type Config struct {
	Camera   CameraConfig   `yaml:"camera"`
	Trigger  TriggerConfig  `yaml:"trigger"`
	Web      WebConfig      `yaml:"web"`
	Defaults DefaultsConfig `yaml:"defaults"`
}

// ValidateConfigPath accepts only .yaml files whose parent directory is named configs.
func ValidateConfigPath(path string) error {
	if path == "" {
		return fmt.Errorf("config path is empty")
	}
	clean := filepath.Clean(path)
	for _, part := range strings.Split(filepath.ToSlash(clean), "/") {
		if part == ".." {
			return fmt.Errorf("config path %q must not contain '..'", path)
		}
	}
	if filepath.Ext(clean) != ".yaml" {
		return fmt.Errorf("config path %q must have .yaml extension", path)
	}
	abs, err := filepath.Abs(clean)
	if err != nil {
		return fmt.Errorf("resolve config path: %w", err)
	}
	if filepath.Base(filepath.Dir(abs)) != "configs" {
		return fmt.Errorf("config path %q must be inside a configs/ directory", path)
	}
	return nil
}

// Load reads a YAML file and returns the configuration.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open config file: %w", err)
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, MaxConfigFileBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	if len(data) > MaxConfigFileBytes {
		return nil, fmt.Errorf("config file exceeds %d bytes", MaxConfigFileBytes)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal yaml: %w", err)
	}

	if err := cfg.applyDefaults(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() error {
	if c.Camera.Platform == "" {
		return fmt.Errorf("camera.platform is required")
	}
	if c.Camera.PictureDir == "" {
		c.Camera.PictureDir = "." // development working directory
	}
	if c.Camera.NearClip <= 0 {
		c.Camera.NearClip = 0.3
	}
	if c.Camera.FarClip <= 0 {
		c.Camera.FarClip = 1000
	}
	if c.Camera.FarClip <= c.Camera.NearClip {
		return fmt.Errorf("camera.far_clip must be > near_clip, got %.2f <= %.2f", c.Camera.FarClip, c.Camera.NearClip)
	}
	if c.Camera.LatencyMs < 0 {
		return fmt.Errorf("camera.latency_ms must be >= 0, got %d", c.Camera.LatencyMs)
	}
	if len(c.Camera.SupportedResolutions) == 0 {
		c.Camera.SupportedResolutions = []ResolutionConfig{
			{WidthPx: 1280, HeightPx: 720},
			{WidthPx: 3904, HeightPx: 2196},
			{WidthPx: 1952, HeightPx: 1100},
			{WidthPx: 1920, HeightPx: 1080},
		}
	}
	for i, r := range c.Camera.SupportedResolutions {
		if r.WidthPx <= 0 || r.HeightPx <= 0 {
			return fmt.Errorf("camera.supported_resolutions[%d] must be positive, got %dx%d", i, r.WidthPx, r.HeightPx)
		}
	}

	if rr := c.Camera.RemoteRelease; rr != nil {
		if rr.FocusPin <= 0 || rr.ShutterPin <= 0 {
			return fmt.Errorf("camera.remote_release requires focus_pin and shutter_pin")
		}
		if rr.FocusDelayMs <= 0 {
			rr.FocusDelayMs = 500 // 500ms for autofocus
		}
		if rr.ShutterDelayMs <= 0 {
			rr.ShutterDelayMs = 200 // 200ms shutter hold
		}
	}

	if l := c.Camera.Lens; l != nil {
		if l.FocalLengthMm <= 0 || l.SensorWidthMm <= 0 || l.SensorHeightMm <= 0 {
			return fmt.Errorf("camera.lens requires positive focal_length_mm, sensor_width_mm and sensor_height_mm")
		}
	}

	if c.Trigger.PollIntervalMs <= 0 {
		c.Trigger.PollIntervalMs = 20
	}
	if c.Trigger.MinIntervalMs <= 0 {
		c.Trigger.MinIntervalMs = 1000
	}
	if c.Web.MinIntervalMs < 0 {
		return fmt.Errorf("web.min_interval_ms must be >= 0, got %d", c.Web.MinIntervalMs)
	}
	if c.Defaults.DebugLevel < 0 || c.Defaults.DebugLevel > 4 {
		return fmt.Errorf("debug_level must be between 0 and 4, got %d", c.Defaults.DebugLevel)
	}
	return nil
}

// ApplyEnv overrides fields from PHOTOCAM_* variables returned by lookup
// (os.LookupEnv in production).
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	if v, ok := lookup(EnvPrefix + "PICTURE_DIR"); ok && v != "" {
		c.Camera.PictureDir = v
	}
	for name, dst := range map[string]*bool{
		"SHOW_HOLOGRAMS": &c.Camera.ShowHolograms,
		"SAVE_TO_DISK":   &c.Camera.SaveToDisk,
		"MOCK_GPIO":      &c.Defaults.MockGPIO,
	} {
		v, ok := lookup(EnvPrefix + name)
		if !ok || v == "" {
			continue
		}
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%s%s: %w", EnvPrefix, name, err)
		}
		*dst = b
	}
	if v, ok := lookup(EnvPrefix + "DEBUG_LEVEL"); ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%sDEBUG_LEVEL: %w", EnvPrefix, err)
		}
		if n < 0 || n > 4 {
			return fmt.Errorf("%sDEBUG_LEVEL must be between 0 and 4, got %d", EnvPrefix, n)
		}
		c.Defaults.DebugLevel = n
	}
	return nil
}

// Latency returns the simulated delay per asynchronous platform call.
func (c *Config) Latency() time.Duration {
	return time.Duration(c.Camera.LatencyMs) * time.Millisecond
}

// PollInterval returns the shutter button sampling period.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.Trigger.PollIntervalMs) * time.Millisecond
}

// MinPressInterval returns the minimum time between two accepted button presses.
func (c *Config) MinPressInterval() time.Duration {
	return time.Duration(c.Trigger.MinIntervalMs) * time.Millisecond
}

// MinCaptureInterval returns the minimum time between two accepted web
// capture requests. 0 disables the throttle.
func (c *Config) MinCaptureInterval() time.Duration {
	return time.Duration(c.Web.MinIntervalMs) * time.Millisecond
}

// FocusDelay returns the remote release autofocus delay, or 0 without a remote release.
func (c *Config) FocusDelay() time.Duration {
	if c.Camera.RemoteRelease == nil {
		return 0
	}
	return time.Duration(c.Camera.RemoteRelease.FocusDelayMs) * time.Millisecond
}

// ShutterDelay returns the remote release shutter hold, or 0 without a remote release.
func (c *Config) ShutterDelay() time.Duration {
	if c.Camera.RemoteRelease == nil {
		return 0
	}
	return time.Duration(c.Camera.RemoteRelease.ShutterDelayMs) * time.Millisecond
}
