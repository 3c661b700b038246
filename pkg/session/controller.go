package session

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/looplab/fsm"
	"go.uber.org/zap"

	"qr-shutter-pi/pkg/camera"
	"qr-shutter-pi/pkg/detector"
	"qr-shutter-pi/pkg/permission"
	"qr-shutter-pi/pkg/sink"
	"qr-shutter-pi/pkg/types"
	"qr-shutter-pi/pkg/utils"
)

// Controller 管理唯一的扫码会话。
//
// 行为：
//   - Start 打开摄像头，启动帧循环，并等待第一帧到达后进入 Running。
//   - Stop 释放摄像头并等待帧循环退出；Stop 返回后不会再发布任何事件。
//     Starting 期间调用 Stop 会取消正在进行的 Start。
//   - 设备的帧、闪光灯、变焦和错误通知都经由同一个事件通道进入帧循环，
//     因此对外发布的事件保持硬件发生的顺序。
//   - 设备句柄只会被释放一次（stop 与硬件错误并发时也是如此）。
type Controller struct {
	provider    camera.Provider
	detector    detector.Detector
	sink        sink.Sink
	permissions permission.Permissions
	now         func() time.Time
	logger      *zap.SugaredLogger

	// opMu 串行化控制操作
	opMu sync.Mutex

	// mu 保护以下状态
	mu        sync.Mutex
	machine   *fsm.FSM
	cur       *run
	cfg       *types.CameraConfig
	window    *types.ScanWindow
	analyzing bool
	textures  int64
}

type Option func(*Controller)

// WithPermissions makes Start fail with ErrPermissionDenied while p denies access.
func WithPermissions(p permission.Permissions) Option {
	return func(c *Controller) { c.permissions = p }
}

// WithClock replaces time.Now for detection speed decisions.
func WithClock(now func() time.Time) Option {
	return func(c *Controller) { c.now = now }
}

func WithLogger(l *zap.SugaredLogger) Option {
	return func(c *Controller) { c.logger = l }
}

func New(provider camera.Provider, det detector.Detector, s sink.Sink, opts ...Option) *Controller {
	c := &Controller{
		provider: provider,
		detector: det,
		sink:     s,
		now:      time.Now,
		logger:   utils.GetLogger().Named("session"),
	}
	if c.sink == nil {
		c.sink = sink.Discard
	}
	for _, opt := range opts {
		opt(c)
	}
	c.machine = newMachine(func(src, dst State) {
		c.logger.Debugf("state %s -> %s", src, dst)
		setStateMetric(dst)
	})
	setStateMetric(Idle)

	return c
}

// run is one open-camera-to-stop lifecycle.
type run struct {
	id      string
	texture int64
	cfg     types.CameraConfig
	policy  *policy

	ctx    context.Context
	cancel context.CancelFunc

	dev         camera.Device
	info        camera.Info
	loopStarted bool

	first     chan struct{}
	firstOnce sync.Once
	// done is closed when the frame loop has exited, or by abort if it never started.
	done chan struct{}

	// failErr is the device error that ended the loop. Written only by the loop.
	failErr error

	releaseOnce sync.Once
	releaseErr  error
}

// release closes the device. Only the first call reaches the device.
func (r *run) release() error {
	r.releaseOnce.Do(func() {
		if r.dev == nil {
			return
		}
		r.releaseErr = r.dev.Close()
		deviceReleases.Inc()
	})
	return r.releaseErr
}

func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state()
}

// state must be called with c.mu held.
func (c *Controller) state() State {
	return State(c.machine.Current())
}

// transition must be called with c.mu held.
func (c *Controller) transition(event string) {
	if err := c.machine.Event(context.Background(), event); err != nil {
		// the callers check the source state first, so this is a programming error
		panic(fmt.Sprintf("session: %s from %s: %s", event, c.machine.Current(), err))
	}
}

// Config returns the configuration of the current session, or nil.
func (c *Controller) Config() *types.CameraConfig {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cfg == nil {
		return nil
	}
	cfg := *c.cfg
	return &cfg
}

func (c *Controller) ScanWindow() *types.ScanWindow {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.window == nil {
		return nil
	}
	w := *c.window
	return &w
}

func withDefaults(cfg types.CameraConfig) types.CameraConfig {
	if cfg.DetectionInterval <= 0 {
		cfg.DetectionInterval = DefaultDetectionInterval
	}
	if cfg.DuplicateWindow <= 0 {
		cfg.DuplicateWindow = DefaultDuplicateWindow
	}
	if cfg.StartTimeout <= 0 {
		cfg.StartTimeout = DefaultStartTimeout
	}
	cfg.Formats = append([]types.Format(nil), cfg.Formats...)
	return cfg
}

// Start opens the camera and begins scanning. It returns once the first frame
// has arrived, or fails after cfg.StartTimeout.
func (c *Controller) Start(ctx context.Context, cfg types.CameraConfig) (types.SessionStartedInfo, error) {
	var info types.SessionStartedInfo
	if !cfg.Speed.Valid() {
		return info, fmt.Errorf("%w: unknown detection speed %d", ErrCameraError, cfg.Speed)
	}
	cfg = withDefaults(cfg)

	c.opMu.Lock()
	defer c.opMu.Unlock()

	c.mu.Lock()
	if !c.machine.Can(evStart) {
		state := c.state()
		c.mu.Unlock()
		return info, fmt.Errorf("%w: session is %s", ErrAlreadyStarted, state)
	}
	if c.permissions != nil && !c.permissions.HasPermission() {
		c.mu.Unlock()
		return info, ErrPermissionDenied
	}
	prev := c.cur
	c.textures++
	r := &run{
		id:      uuid.NewString(),
		texture: c.textures,
		cfg:     cfg,
		policy:  newPolicy(cfg),
		first:   make(chan struct{}),
		done:    make(chan struct{}),
	}
	r.ctx, r.cancel = context.WithCancel(context.Background())
	c.transition(evStart)
	c.cur = r
	c.cfg = &cfg
	c.mu.Unlock()

	// a failed session has released its device already; wait for its loop
	if prev != nil {
		<-prev.done
		_ = prev.release()
	}

	c.logger.Infof("starting session %s: %s camera, speed %s", r.id, cfg.Facing, cfg.Speed)
	dev, err := c.provider.Open(r.ctx, camera.OpenRequest{Facing: cfg.Facing, Width: cfg.Width, Height: cfg.Height})
	if err != nil {
		c.abort(r)
		if camera.KindOf(err) == camera.KindNoCamera {
			return info, fmt.Errorf("%w: %w", ErrNoCamera, err)
		}
		return info, fmt.Errorf("%w: %w", ErrCameraError, err)
	}
	r.dev = dev
	r.info = dev.Info()
	r.loopStarted = true
	go c.loop(r)

	if cfg.Torch {
		if !r.info.HasFlash {
			c.logger.Warnf("torch requested but the %s camera has no flash unit", cfg.Facing)
			c.emit(r, sink.TorchState(types.TorchUnavailable))
		} else if err := dev.SetTorch(true); err != nil {
			c.abort(r)
			return info, fmt.Errorf("%w: %w", ErrTorchError, err)
		}
	}
	if err := dev.Start(r.ctx); err != nil {
		c.abort(r)
		return info, fmt.Errorf("%w: %w", ErrCameraError, err)
	}

	timer := time.NewTimer(cfg.StartTimeout)
	defer timer.Stop()
	select {
	case <-r.first:
	case <-r.done:
		return info, c.abortStart(r)
	case <-timer.C:
		c.abort(r)
		return info, fmt.Errorf("%w: no frame within %s", ErrCameraError, cfg.StartTimeout)
	case <-ctx.Done():
		c.abort(r)
		return info, fmt.Errorf("%w: %w", ErrCameraError, ctx.Err())
	case <-r.ctx.Done():
		return info, c.abortStart(r)
	}

	c.mu.Lock()
	if c.cur != r || r.ctx.Err() != nil || c.state() != Starting {
		c.mu.Unlock()
		return info, c.abortStart(r)
	}
	c.transition(evStarted)
	c.mu.Unlock()

	info = types.SessionStartedInfo{
		TextureID:      r.texture,
		SessionID:      r.id,
		Width:          r.info.Width,
		Height:         r.info.Height,
		TorchAvailable: r.info.HasFlash,
	}
	c.logger.Infof("session %s running in %d*%d", r.id, info.Width, info.Height)

	return info, nil
}

// abort releases whatever a failed Start acquired and marks the session Failed.
func (c *Controller) abort(r *run) {
	r.cancel()
	if err := r.release(); err != nil {
		c.logger.Warnf("release camera: %s", err)
	}
	if r.loopStarted {
		<-r.done
	} else {
		close(r.done)
	}

	c.mu.Lock()
	if c.cur == r && c.state() == Starting {
		c.transition(evFail)
	}
	if c.cur == r && c.state() == Failed {
		c.cfg = nil
	}
	c.mu.Unlock()
}

// abortStart ends a Start that was cancelled by Stop or failed by the device.
func (c *Controller) abortStart(r *run) error {
	c.abort(r)
	// the loop has exited, so failErr is settled
	if r.failErr != nil {
		return fmt.Errorf("%w: camera failed while starting: %w", ErrCameraError, r.failErr)
	}
	return fmt.Errorf("%w: start cancelled: %w", ErrCameraError, context.Canceled)
}

// Stop releases the camera and returns to Idle. It returns ErrAlreadyStopped
// when there is nothing to stop.
func (c *Controller) Stop() error {
	c.mu.Lock()
	if c.state() == Starting && c.cur != nil {
		c.cur.cancel()
	}
	c.mu.Unlock()

	c.opMu.Lock()
	defer c.opMu.Unlock()

	c.mu.Lock()
	if !c.machine.Can(evStop) {
		c.mu.Unlock()
		return ErrAlreadyStopped
	}
	r := c.cur
	c.transition(evStop)
	c.mu.Unlock()

	if r != nil {
		r.cancel()
		if err := r.release(); err != nil {
			c.logger.Warnf("release camera: %s", err)
		}
		<-r.done
		c.logger.Infof("session %s stopped", r.id)
	}

	c.mu.Lock()
	c.transition(evStopped)
	c.cur = nil
	c.cfg = nil
	c.window = nil
	c.mu.Unlock()

	return nil
}

// running returns the current run if the session is Running, or an error of kind.
func (c *Controller) running(kind error) (*run, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if s := c.state(); s != Running {
		return nil, fmt.Errorf("%w: session is %s", kind, s)
	}
	return c.cur, nil
}

// SetTorch asks the camera to switch the torch. The torchState event follows
// once the camera confirms.
func (c *Controller) SetTorch(on bool) error {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	r, err := c.running(ErrTorchError)
	if err != nil {
		return err
	}
	if !r.info.HasFlash {
		return fmt.Errorf("%w: camera has no flash unit", ErrTorchError)
	}
	if err := r.dev.SetTorch(on); err != nil {
		return fmt.Errorf("%w: %w", ErrTorchError, err)
	}
	return nil
}

// SetZoom asks the camera to zoom. Values outside the camera's range are
// rejected, not clamped. The zoomState event follows once the camera confirms.
func (c *Controller) SetZoom(value float64) error {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	r, err := c.running(ErrCameraError)
	if err != nil {
		return err
	}
	if math.IsNaN(value) || value < r.info.MinZoom || value > r.info.MaxZoom {
		return fmt.Errorf("%w: zoom %v outside [%v, %v]", ErrCameraError, value, r.info.MinZoom, r.info.MaxZoom)
	}
	if err := r.dev.SetZoom(value); err != nil {
		return fmt.Errorf("%w: %w", ErrCameraError, err)
	}
	return nil
}

// SetScanWindow replaces the scan window from the next frame on; nil clears it.
// An invalid window leaves the previous one in effect.
func (c *Controller) SetScanWindow(w *types.ScanWindow) error {
	if w != nil {
		if err := w.Validate(); err != nil {
			return err
		}
		cp := *w
		w = &cp
	}

	c.mu.Lock()
	c.window = w
	c.mu.Unlock()
	return nil
}

func (c *Controller) QueryPermission() bool {
	if c.permissions == nil {
		return true
	}
	return c.permissions.HasPermission()
}

// RequestPermission reports whether access was granted. A refusal is not an error.
func (c *Controller) RequestPermission(ctx context.Context) (bool, error) {
	if c.permissions == nil {
		return true, nil
	}
	type result struct {
		granted bool
		err     error
	}
	ch := make(chan result, 1)
	c.permissions.RequestPermission(func(granted bool, err error) {
		select {
		case ch <- result{granted, err}:
		default:
		}
	})

	select {
	case res := <-ch:
		if res.err != nil {
			return false, fmt.Errorf("%w: %w", ErrPermissionDenied, res.err)
		}
		return res.granted, nil
	case <-ctx.Done():
		return false, ctx.Err()
	}
}
