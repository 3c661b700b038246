package main

import (
	"context"
	"errors"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"qr-shutter-pi/pkg/api"
	"qr-shutter-pi/pkg/camera"
	"qr-shutter-pi/pkg/camera/fake"
	"qr-shutter-pi/pkg/config"
	"qr-shutter-pi/pkg/detector"
	"qr-shutter-pi/pkg/permission"
	"qr-shutter-pi/pkg/session"
	"qr-shutter-pi/pkg/sink"
	"qr-shutter-pi/pkg/types"
	"qr-shutter-pi/pkg/utils"
	"qr-shutter-pi/pkg/video"
	"qr-shutter-pi/pkg/webdav"
)

var (
	cfgFile string

	logger *zap.SugaredLogger
)

var rootCmd = &cobra.Command{
	Use:          "qr-shutter",
	Short:        "Barcode scanning service for the Raspberry Pi camera",
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return serve(cmd.Context())
	},
}

func init() {
	logger = utils.GetLogger()

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "config file (default is search in ., $HOME/.config/qr-shutter, /etc/qr-shutter)")
	flags.String("log-level", "info", "log level (debug, info, warn, error)")
	flags.Int("port", 9999, "ui port")
	flags.Int("webdav-port", 9998, "webdav port")
	flags.String("dir", "./qr-shutter", "recordings directory")
	flags.Bool("record", false, "record frames with detections")
	flags.Bool("fake", false, "use an in-memory camera instead of v4l2")

	_ = viper.BindPFlag("log_level", flags.Lookup("log-level"))
	_ = viper.BindPFlag("server.port", flags.Lookup("port"))
	_ = viper.BindPFlag("server.webdav_port", flags.Lookup("webdav-port"))
	_ = viper.BindPFlag("recorder.dir", flags.Lookup("dir"))
	_ = viper.BindPFlag("recorder.enabled", flags.Lookup("record"))
	_ = viper.BindPFlag("camera.fake", flags.Lookup("fake"))
}

func main() {
	defer logger.Sync()

	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}

func serve(ctx context.Context) error {
	loader := config.NewLoader()
	cfg, err := loader.Load(cfgFile)
	if err != nil {
		return err
	}
	if err := utils.SetLevel(cfg.LogLevel); err != nil {
		return err
	}
	if f := loader.ConfigFileUsed(); f != "" {
		logger.Infof("using config file %s", f)
	}

	ctx, stop := utils.SignalContext(ctx)
	defer stop()
	g, ctx := errgroup.WithContext(ctx)

	hub := sink.NewHub()
	defer hub.Close()
	sinks := sink.Multi{hub}

	dataDir := "."
	var recordings api.Recordings
	if cfg.Recorder.Enabled {
		rec, err := video.NewRecorder(cfg.Recorder.Dir, cfg.Recorder.FPS, cfg.Recorder.MaxFrames)
		if err != nil {
			return err
		}
		sinks = append(sinks, rec)
		g.Go(func() error {
			return rec.Run(ctx)
		})
		recordings = webdav.New(ctx, cfg.Server.WebdavPort, cfg.Recorder.Dir)
		dataDir = cfg.Recorder.Dir
	}

	provider, perms := newCamera(cfg)
	det := detector.NewZXing()
	det.TryHarder = cfg.Scanner.TryHarder
	ctl := session.New(provider, det, sinks, session.WithPermissions(perms))

	router := api.NewRouter(api.Options{
		Scanner:    ctl,
		Events:     hub,
		Recordings: recordings,
		Defaults:   cfg.SessionDefaults(),
		DataDir:    dataDir,
	})

	g.Go(func() error {
		return utils.ListenAndServe(ctx, router, cfg.Server.Port)
	})
	g.Go(func() error {
		<-ctx.Done()
		if err := ctl.Stop(); err != nil && !errors.Is(err, session.ErrAlreadyStopped) {
			logger.Warnf("stop scanner: %s", err)
		}
		return nil
	})
	logger.Infof("listening on :%d", cfg.Server.Port)

	return g.Wait()
}

func newCamera(cfg *config.Config) (camera.Provider, permission.Permissions) {
	if cfg.Camera.Fake {
		logger.Warn("using the in-memory camera")
		p := fake.NewProvider()
		p.Info.Width = cfg.Camera.Width
		p.Info.Height = cfg.Camera.Height
		return p, permission.Static{Granted: true}
	}

	devices := cfg.Devices()
	paths := make([]string, 0, len(devices))
	for _, p := range devices {
		paths = append(paths, p)
	}
	provider := camera.NewV4L2(camera.V4L2Config{
		Devices:     devices,
		PixelFormat: types.PixelFormat(cfg.Camera.PixelFormat),
		FPS:         cfg.Camera.FPS,
		BufferSize:  cfg.Camera.BufferSize,
	})

	return provider, permission.DeviceNodes{Paths: paths}
}
