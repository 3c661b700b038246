package ov

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"qr-shutter-pi/pkg/types"
)

func TestStartConfig(t *testing.T) {
	defaults := types.CameraConfig{
		Speed:             types.Normal,
		DetectionInterval: 250 * time.Millisecond,
		StartTimeout:      5 * time.Second,
		Formats:           []types.Format{types.FormatAztec},
	}

	cfg, err := Start{}.Config(defaults)
	require.NoError(t, err)
	assert.Equal(t, types.Normal, cfg.Speed)
	assert.Equal(t, types.FacingFront, cfg.Facing)
	assert.Nil(t, cfg.Formats)

	cfg, err = Start{
		Facing:      "back",
		Torch:       true,
		Speed:       "noDuplicates",
		ReturnImage: true,
		Formats:     []string{"qr", "ean13"},
		Timeout:     1500,
		Interval:    100,
	}.Config(defaults)
	require.NoError(t, err)
	assert.Equal(t, types.FacingBack, cfg.Facing)
	assert.True(t, cfg.Torch)
	assert.Equal(t, types.NoDuplicates, cfg.Speed)
	assert.Equal(t, []types.Format{types.FormatQR, types.FormatEAN13}, cfg.Formats)
	assert.Equal(t, 1500*time.Millisecond, cfg.StartTimeout)
	assert.Equal(t, 100*time.Millisecond, cfg.DetectionInterval)

	_, err = Start{Speed: "turbo"}.Config(defaults)
	assert.Error(t, err)
	_, err = Start{Formats: []string{"morse"}}.Config(defaults)
	assert.Error(t, err)
	_, err = Start{Timeout: -1}.Config(defaults)
	assert.Error(t, err)
}

func TestConfigOf(t *testing.T) {
	assert.Nil(t, ConfigOf(nil))
	c := ConfigOf(&types.CameraConfig{Facing: types.FacingBack, Speed: types.Unrestricted, StartTimeout: 2 * time.Second})
	assert.Equal(t, "back", c.Facing)
	assert.Equal(t, "unrestricted", c.Speed)
	assert.Equal(t, int64(2000), c.Timeout)
}
