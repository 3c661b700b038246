package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

const (
	FileName  = "qr-shutter"
	EnvPrefix = "QRSHUTTER"
)

type Loader struct {
	v *viper.Viper
}

// NewLoader uses the global viper instance, so flags bound with viper.BindPFlag apply.
func NewLoader() *Loader {
	return &Loader{v: viper.GetViper()}
}

// NewLoaderWith uses v instead of the global instance.
func NewLoaderWith(v *viper.Viper) *Loader {
	return &Loader{v: v}
}

// Load reads file when set, otherwise searches for qr-shutter.yaml in the
// usual places. A missing searched file is not an error.
func (l *Loader) Load(file string) (*Config, error) {
	l.setDefaults()
	l.v.SetEnvPrefix(EnvPrefix)
	l.v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	l.v.AutomaticEnv()

	if file != "" {
		if _, err := os.Stat(file); err != nil {
			return nil, fmt.Errorf("config file: %w", err)
		}
		l.v.SetConfigFile(file)
	} else {
		l.v.SetConfigName(FileName)
		l.v.SetConfigType("yaml")
		l.v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			l.v.AddConfigPath(filepath.Join(home, ".config", FileName))
		}
		l.v.AddConfigPath(filepath.Join("/etc", FileName))
	}

	if err := l.v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if file != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := l.v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

// ConfigFileUsed is the file the last Load read, or "".
func (l *Loader) ConfigFileUsed() string {
	return l.v.ConfigFileUsed()
}

func (l *Loader) setDefaults() {
	l.v.SetDefault("log_level", "info")

	l.v.SetDefault("server.port", 9999)
	l.v.SetDefault("server.webdav_port", 9998)

	l.v.SetDefault("camera.front", "/dev/video0")
	l.v.SetDefault("camera.back", "")
	l.v.SetDefault("camera.width", 1280)
	l.v.SetDefault("camera.height", 720)
	l.v.SetDefault("camera.fps", 15)
	l.v.SetDefault("camera.buffer_size", 2)
	l.v.SetDefault("camera.pixel_format", "mjpeg")
	l.v.SetDefault("camera.fake", false)

	l.v.SetDefault("scanner.facing", "front")
	l.v.SetDefault("scanner.speed", "normal")
	l.v.SetDefault("scanner.detection_interval", "250ms")
	l.v.SetDefault("scanner.duplicate_window", "5s")
	l.v.SetDefault("scanner.start_timeout", "5s")
	l.v.SetDefault("scanner.try_harder", false)

	l.v.SetDefault("recorder.enabled", false)
	l.v.SetDefault("recorder.dir", "./qr-shutter")
	l.v.SetDefault("recorder.fps", 5)
	l.v.SetDefault("recorder.max_frames", 300)
}
