package vkrs

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lwestlund/vkrs/hal"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, hal.Extent{Width: 800, Height: 600}, cfg.Extent())
	assert.Equal(t, 2, cfg.FramesInFlight)
	assert.Equal(t, 10*time.Second, cfg.FenceTimeout)
	assert.Equal(t, hal.SurfaceFormat{Format: hal.FormatB8G8R8A8Srgb, ColorSpace: hal.ColorSpaceSRGBNonlinear}, cfg.SurfaceFormat())
	assert.Equal(t, hal.PresentModeMailbox, cfg.PreferredPresentMode())
	assert.Equal(t, hal.WaitForever, cfg.acquireTimeout())
	assert.Nil(t, cfg.EnabledLayers())
}

func TestReadConfig(t *testing.T) {
	cfg, err := ReadConfig(strings.NewReader(`
app_name: triangle
width: 1280
height: 720
frames_in_flight: 3
image_count: 4
present_mode: fifo
fence_timeout: 2s
acquire_timeout: 500ms
clear_color: [0.1, 0.2, 0.3, 1]
validation: true
required_features:
  geometry_shader: true
preferred_adapter: Intel
`))
	require.NoError(t, err)
	assert.Equal(t, "triangle", cfg.AppName)
	assert.Equal(t, hal.Extent{Width: 1280, Height: 720}, cfg.Extent())
	assert.Equal(t, 3, cfg.FramesInFlight)
	assert.Equal(t, uint32(4), cfg.ImageCount)
	assert.Equal(t, hal.PresentModeFifo, cfg.PreferredPresentMode())
	assert.Equal(t, 2*time.Second, cfg.FenceTimeout)
	assert.Equal(t, 500*time.Millisecond, cfg.acquireTimeout())
	assert.Equal(t, hal.Color{0.1, 0.2, 0.3, 1}, cfg.ClearColor)
	assert.True(t, cfg.RequiredFeatures.GeometryShader)
	assert.Equal(t, "Intel", cfg.PreferredAdapter)
	assert.Equal(t, []string{DefaultValidationLayer}, cfg.EnabledLayers())
	// Untouched keys keep their defaults.
	assert.Equal(t, DefaultConfig().Format, cfg.Format)
	assert.Equal(t, []string{SwapchainExtension}, cfg.DeviceExtensions)
}

func TestReadConfigEmpty(t *testing.T) {
	cfg, err := ReadConfig(strings.NewReader(""))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestReadConfigErrors(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{"unknown key", "frames: 2\n", "field frames not found"},
		{"zero frames", "frames_in_flight: 0\n", "frames_in_flight"},
		{"zero width", "width: 0\n", "window size"},
		{"bad format", "format: rgb565\n", "unknown format"},
		{"bad present mode", "present_mode: vsync\n", "unknown present mode"},
		{"bad duration", "fence_timeout: soon\n", "decode config"},
		{"negative acquire timeout", "acquire_timeout: -1s\n", "acquire_timeout"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ReadConfig(strings.NewReader(tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vkrs.yaml")
	require.NoError(t, os.WriteFile(path, []byte("frames_in_flight: 1\nvalidation: true\nlayers: [VK_LAYER_LUNARG_api_dump]\n"), 0o644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 1, cfg.FramesInFlight)
	assert.Equal(t, []string{"VK_LAYER_LUNARG_api_dump"}, cfg.EnabledLayers())

	_, err = LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
