// Package config loads the service configuration from file, environment and flags.
package config

import (
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap/zapcore"

	"qr-shutter-pi/pkg/types"
)

type Config struct {
	LogLevel string         `mapstructure:"log_level"`
	Server   ServerConfig   `mapstructure:"server"`
	Camera   CameraConfig   `mapstructure:"camera"`
	Scanner  ScannerConfig  `mapstructure:"scanner"`
	Recorder RecorderConfig `mapstructure:"recorder"`
}

type ServerConfig struct {
	Port       int `mapstructure:"port"`
	WebdavPort int `mapstructure:"webdav_port"`
}

type CameraConfig struct {
	// Front and Back are the V4L2 device nodes per facing; empty means absent.
	Front       string `mapstructure:"front"`
	Back        string `mapstructure:"back"`
	Width       int    `mapstructure:"width"`
	Height      int    `mapstructure:"height"`
	FPS         int    `mapstructure:"fps"`
	BufferSize  int    `mapstructure:"buffer_size"`
	PixelFormat string `mapstructure:"pixel_format"`
	// Fake replaces the hardware with an in-memory camera.
	Fake bool `mapstructure:"fake"`
}

type ScannerConfig struct {
	Facing            string        `mapstructure:"facing"`
	Speed             string        `mapstructure:"speed"`
	DetectionInterval time.Duration `mapstructure:"detection_interval"`
	DuplicateWindow   time.Duration `mapstructure:"duplicate_window"`
	StartTimeout      time.Duration `mapstructure:"start_timeout"`
	TryHarder         bool          `mapstructure:"try_harder"`
}

type RecorderConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Dir       string `mapstructure:"dir"`
	FPS       int    `mapstructure:"fps"`
	MaxFrames int    `mapstructure:"max_frames"`
}

func (c *Config) Validate() error {
	var errs []error
	if _, err := zapcore.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, fmt.Errorf("log_level: %w", err))
	}
	if err := validPort(c.Server.Port); err != nil {
		errs = append(errs, fmt.Errorf("server.port: %w", err))
	}
	if err := validPort(c.Server.WebdavPort); err != nil {
		errs = append(errs, fmt.Errorf("server.webdav_port: %w", err))
	}
	if c.Server.Port == c.Server.WebdavPort {
		errs = append(errs, fmt.Errorf("server.webdav_port: same as server.port (%d)", c.Server.Port))
	}

	if !c.Camera.Fake && c.Camera.Front == "" && c.Camera.Back == "" {
		errs = append(errs, errors.New("camera: no device configured for either facing"))
	}
	if c.Camera.Width <= 0 || c.Camera.Height <= 0 {
		errs = append(errs, fmt.Errorf("camera: invalid size %d*%d", c.Camera.Width, c.Camera.Height))
	}
	if c.Camera.FPS <= 0 {
		errs = append(errs, fmt.Errorf("camera.fps: must be positive, got %d", c.Camera.FPS))
	}
	if c.Camera.BufferSize <= 0 {
		errs = append(errs, fmt.Errorf("camera.buffer_size: must be positive, got %d", c.Camera.BufferSize))
	}
	switch types.PixelFormat(c.Camera.PixelFormat) {
	case types.PixelFmtJPEG, types.PixelFmtMJPEG, types.PixelFmtRGB24, types.PixelFmtGray:
	default:
		errs = append(errs, fmt.Errorf("camera.pixel_format: unsupported %q", c.Camera.PixelFormat))
	}

	if _, err := types.ParseFacing(c.Scanner.Facing); err != nil {
		errs = append(errs, fmt.Errorf("scanner.facing: %w", err))
	}
	if _, err := types.ParseDetectionSpeed(c.Scanner.Speed); err != nil {
		errs = append(errs, fmt.Errorf("scanner.speed: %w", err))
	}
	for name, d := range map[string]time.Duration{
		"scanner.detection_interval": c.Scanner.DetectionInterval,
		"scanner.duplicate_window":   c.Scanner.DuplicateWindow,
		"scanner.start_timeout":      c.Scanner.StartTimeout,
	} {
		if d <= 0 {
			errs = append(errs, fmt.Errorf("%s: must be positive, got %s", name, d))
		}
	}

	if c.Recorder.Enabled {
		if c.Recorder.Dir == "" {
			errs = append(errs, errors.New("recorder.dir: required when the recorder is enabled"))
		}
		if c.Recorder.FPS <= 0 {
			errs = append(errs, fmt.Errorf("recorder.fps: must be positive, got %d", c.Recorder.FPS))
		}
	}

	return errors.Join(errs...)
}

func validPort(p int) error {
	if p <= 0 || p > 65535 {
		return fmt.Errorf("out of range: %d", p)
	}
	return nil
}

// SessionDefaults is the camera configuration used for fields a start request leaves out.
func (c *Config) SessionDefaults() types.CameraConfig {
	facing, _ := types.ParseFacing(c.Scanner.Facing)
	speed, _ := types.ParseDetectionSpeed(c.Scanner.Speed)
	return types.CameraConfig{
		Facing:            facing,
		Speed:             speed,
		DetectionInterval: c.Scanner.DetectionInterval,
		DuplicateWindow:   c.Scanner.DuplicateWindow,
		StartTimeout:      c.Scanner.StartTimeout,
		Width:             c.Camera.Width,
		Height:            c.Camera.Height,
	}
}

// Devices maps each configured facing to its device node.
func (c *Config) Devices() map[types.Facing]string {
	m := make(map[types.Facing]string)
	if c.Camera.Front != "" {
		m[types.FacingFront] = c.Camera.Front
	}
	if c.Camera.Back != "" {
		m[types.FacingBack] = c.Camera.Back
	}
	return m
}
