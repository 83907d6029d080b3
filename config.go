package vkrs

import (
	"io"
	"os"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/lwestlund/vkrs/hal"
)

// DefaultValidationLayer is enabled when validation is on and no layers are
// configured.
const DefaultValidationLayer = "VK_LAYER_KHRONOS_validation"

// SwapchainExtension is the device extension every selected adapter must have.
const SwapchainExtension = "VK_KHR_swapchain"

// Config holds everything tunable about the frame core.
type Config struct {
	AppName string `yaml:"app_name"`
	Width   uint32 `yaml:"width"`
	Height  uint32 `yaml:"height"`

	// FramesInFlight is the number of frame slots. Values above the swapchain
	// image count are allowed.
	FramesInFlight int `yaml:"frames_in_flight"`
	// ImageCount requests a swapchain length. Zero means one above the
	// surface minimum.
	ImageCount  uint32 `yaml:"image_count"`
	Format      string `yaml:"format"`
	PresentMode string `yaml:"present_mode"`

	// FenceTimeout bounds every wait on a frame slot. Expiry is treated as
	// device loss.
	FenceTimeout time.Duration `yaml:"fence_timeout"`
	// AcquireTimeout bounds image acquisition. Zero waits forever.
	AcquireTimeout time.Duration `yaml:"acquire_timeout"`
	ClearColor     hal.Color     `yaml:"clear_color"`

	Validation       bool         `yaml:"validation"`
	Layers           []string     `yaml:"layers"`
	DeviceExtensions []string     `yaml:"device_extensions"`
	RequiredFeatures hal.Features `yaml:"required_features"`
	PreferredAdapter string       `yaml:"preferred_adapter"`
}

// DefaultConfig returns the configuration used when no file is given.
func DefaultConfig() Config {
	return Config{
		AppName:          "vkrs",
		Width:            800,
		Height:           600,
		FramesInFlight:   2,
		Format:           hal.FormatB8G8R8A8Srgb.String(),
		PresentMode:      hal.PresentModeMailbox.String(),
		FenceTimeout:     10 * time.Second,
		ClearColor:       hal.Color{0, 0, 0, 1},
		DeviceExtensions: []string{SwapchainExtension},
	}
}

// LoadConfig reads a YAML file over DefaultConfig. Unknown keys are errors.
func LoadConfig(path string) (Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return Config{}, errors.Wrap(err, "open config")
	}
	defer f.Close()
	return ReadConfig(f)
}

// ReadConfig is LoadConfig for an already open stream.
func ReadConfig(r io.Reader) (Config, error) {
	cfg := DefaultConfig()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && err != io.EOF {
		return Config{}, errors.Wrap(err, "decode config")
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if c.Width == 0 || c.Height == 0 {
		return errors.Errorf("config: window size %dx%d must be non-zero", c.Width, c.Height)
	}
	if c.FramesInFlight < 1 {
		return errors.Errorf("config: frames_in_flight must be at least 1, got %d", c.FramesInFlight)
	}
	if _, err := hal.ParseFormat(c.Format); err != nil {
		return errors.Wrap(err, "config")
	}
	if _, err := hal.ParsePresentMode(c.PresentMode); err != nil {
		return errors.Wrap(err, "config")
	}
	if c.FenceTimeout <= 0 {
		return errors.Errorf("config: fence_timeout must be positive, got %s", c.FenceTimeout)
	}
	if c.AcquireTimeout < 0 {
		return errors.Errorf("config: acquire_timeout must not be negative, got %s", c.AcquireTimeout)
	}
	return nil
}

// Extent is the requested window size.
func (c Config) Extent() hal.Extent {
	return hal.Extent{Width: c.Width, Height: c.Height}
}

// SurfaceFormat is the preferred swapchain format. The color space is always
// SRGB nonlinear. Call Validate first; invalid names yield the undefined
// format.
func (c Config) SurfaceFormat() hal.SurfaceFormat {
	f, _ := hal.ParseFormat(c.Format)
	return hal.SurfaceFormat{Format: f, ColorSpace: hal.ColorSpaceSRGBNonlinear}
}

// PreferredPresentMode falls back to FIFO for invalid names.
func (c Config) PreferredPresentMode() hal.PresentMode {
	m, err := hal.ParsePresentMode(c.PresentMode)
	if err != nil {
		return hal.PresentModeFifo
	}
	return m
}

// EnabledLayers lists the instance layers to enable.
func (c Config) EnabledLayers() []string {
	if !c.Validation {
		return nil
	}
	if len(c.Layers) == 0 {
		return []string{DefaultValidationLayer}
	}
	return c.Layers
}

func (c Config) acquireTimeout() time.Duration {
	if c.AcquireTimeout == 0 {
		return hal.WaitForever
	}
	return c.AcquireTimeout
}
