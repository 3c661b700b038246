// Package api exposes the scanner over HTTP.
package api

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/vincent-vinf/go-jsend"
	"go.uber.org/zap"

	"qr-shutter-pi/pkg/session"
	"qr-shutter-pi/pkg/types"
	"qr-shutter-pi/pkg/utils"
)

const defaultMaxImageSize = 10 << 20

var logger *zap.SugaredLogger

func init() {
	logger = utils.GetLogger().Named("api")
}

// Scanner is the session control surface. *session.Controller implements it.
type Scanner interface {
	Start(ctx context.Context, cfg types.CameraConfig) (types.SessionStartedInfo, error)
	Stop() error
	SetTorch(on bool) error
	SetZoom(value float64) error
	SetScanWindow(w *types.ScanWindow) error
	AnalyzeOnce(ctx context.Context, data []byte) ([]types.DetectedSymbol, error)
	QueryPermission() bool
	RequestPermission(ctx context.Context) (bool, error)

	State() session.State
	Config() *types.CameraConfig
	ScanWindow() *types.ScanWindow
	Analyzing() bool
}

// EventStream serves the event websocket.
type EventStream interface {
	http.Handler
	Clients() int
}

// Recordings toggles the recordings file server.
type Recordings interface {
	Start() (bool, error)
	Stop() bool
	Addr() string
}

type Options struct {
	Scanner Scanner
	Events  EventStream
	// Recordings may be nil when recording is disabled.
	Recordings Recordings
	// Defaults fills the fields a start request leaves out.
	Defaults types.CameraConfig
	// DataDir is reported in the device status disk usage.
	DataDir      string
	MaxImageSize int64
}

type handler struct {
	Options
}

func NewRouter(o Options) *gin.Engine {
	if o.MaxImageSize <= 0 {
		o.MaxImageSize = defaultMaxImageSize
	}
	h := &handler{Options: o}

	r := gin.New()
	r.Use(gin.Logger())
	r.Use(gin.CustomRecovery(func(c *gin.Context, recovered any) {
		logger.Errorf("%s %s: panic: %v", c.Request.Method, c.Request.URL.Path, recovered)
		c.AbortWithStatusJSON(http.StatusInternalServerError, jsend.SimpleErr(unknownErr))
	}))
	r.Use(utils.Cors())
	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, jsend.SimpleErr("page not found"))
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	apiRouter := r.Group("/api")

	scannerRouter := apiRouter.Group("/scanner")
	scannerRouter.GET("", h.getScanner)
	scannerRouter.POST("/start", h.start)
	scannerRouter.POST("/stop", h.stop)
	scannerRouter.PUT("/window", h.setWindow)
	scannerRouter.PUT("/torch", h.setTorch)
	scannerRouter.PUT("/zoom", h.setZoom)
	scannerRouter.POST("/analyze", h.analyze)
	if o.Events != nil {
		scannerRouter.GET("/events", gin.WrapH(o.Events))
	}

	permissionRouter := apiRouter.Group("/permission")
	permissionRouter.GET("", h.queryPermission)
	permissionRouter.POST("", h.requestPermission)

	deviceRouter := apiRouter.Group("/device")
	deviceRouter.GET("/status", h.deviceStatus)
	deviceRouter.PUT("/webdav", h.ctlWebdav)

	return r
}
