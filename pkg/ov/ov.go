// Package ov holds the request and response bodies of the HTTP API.
package ov

import (
	"fmt"
	"time"

	"qr-shutter-pi/pkg/detector"
	"qr-shutter-pi/pkg/types"
)

// Start is the body of a start request. Absent fields take the configured defaults.
// Durations are in milliseconds.
type Start struct {
	Facing          string   `json:"facing"`
	Torch           bool     `json:"torch"`
	Speed           string   `json:"speed"`
	ReturnImage     bool     `json:"returnImage"`
	Formats         []string `json:"formats"`
	Timeout         int64    `json:"timeout"`
	DuplicateWindow int64    `json:"duplicateWindow"`
	Interval        int64    `json:"interval"`
}

// Config merges the request into defaults.
func (s Start) Config(defaults types.CameraConfig) (types.CameraConfig, error) {
	cfg := defaults
	cfg.Torch = s.Torch
	cfg.ReturnImage = s.ReturnImage
	cfg.Formats = nil

	var err error
	if s.Facing != "" {
		if cfg.Facing, err = types.ParseFacing(s.Facing); err != nil {
			return cfg, err
		}
	}
	if s.Speed != "" {
		if cfg.Speed, err = types.ParseDetectionSpeed(s.Speed); err != nil {
			return cfg, err
		}
	}
	for _, name := range s.Formats {
		f, ok := detector.ParseFormat(name)
		if !ok {
			return cfg, fmt.Errorf("unknown barcode format %q", name)
		}
		cfg.Formats = append(cfg.Formats, f)
	}
	for _, d := range []struct {
		ms  int64
		dst *time.Duration
	}{
		{s.Timeout, &cfg.StartTimeout},
		{s.DuplicateWindow, &cfg.DuplicateWindow},
		{s.Interval, &cfg.DetectionInterval},
	} {
		if d.ms < 0 {
			return cfg, fmt.Errorf("negative duration %dms", d.ms)
		}
		if d.ms > 0 {
			*d.dst = time.Duration(d.ms) * time.Millisecond
		}
	}

	return cfg, nil
}

// Window sets the scan window from [left, top, right, bottom]; null or [] clears it.
type Window struct {
	Rect []float64 `json:"rect"`
}

type Torch struct {
	On *bool `json:"on" binding:"required"`
}

type Zoom struct {
	Value *float64 `json:"value" binding:"required"`
}

type Config struct {
	Facing          string         `json:"facing"`
	Torch           bool           `json:"torch"`
	Speed           string         `json:"speed"`
	ReturnImage     bool           `json:"returnImage"`
	Formats         []types.Format `json:"formats"`
	Timeout         int64          `json:"timeout"`
	DuplicateWindow int64          `json:"duplicateWindow"`
	Interval        int64          `json:"interval"`
}

func ConfigOf(c *types.CameraConfig) *Config {
	if c == nil {
		return nil
	}
	return &Config{
		Facing:          c.Facing.String(),
		Torch:           c.Torch,
		Speed:           c.Speed.String(),
		ReturnImage:     c.ReturnImage,
		Formats:         c.Formats,
		Timeout:         c.StartTimeout.Milliseconds(),
		DuplicateWindow: c.DuplicateWindow.Milliseconds(),
		Interval:        c.DetectionInterval.Milliseconds(),
	}
}

// Scanner describes the current session.
type Scanner struct {
	State     string            `json:"state"`
	Config    *Config           `json:"config,omitempty"`
	Window    *types.ScanWindow `json:"window,omitempty"`
	Analyzing bool              `json:"analyzing"`
	Clients   int               `json:"clients"`
}
