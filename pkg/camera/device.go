//go:build linux

package camera

import (
	"context"
	"errors"
	"math"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/vladimirvivien/go4vl/device"
	"github.com/vladimirvivien/go4vl/v4l2"

	"qr-shutter-pi/pkg/types"
)

const (
	DefaultFPS        = 15
	DefaultBufferSize = 2
	eventBufferSize   = 8
)

type V4L2Config struct {
	// Devices maps a facing to a device node such as /dev/video0.
	Devices     map[types.Facing]string
	PixelFormat types.PixelFormat
	FPS         int
	BufferSize  int
	Controls    Controls
}

// V4L2 opens cameras through go4vl.
type V4L2 struct {
	cfg V4L2Config
}

func NewV4L2(cfg V4L2Config) *V4L2 {
	if cfg.FPS <= 0 {
		cfg.FPS = DefaultFPS
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = DefaultBufferSize
	}
	return &V4L2{cfg: cfg}
}

func (p *V4L2) Open(ctx context.Context, req OpenRequest) (Device, error) {
	if err := ctx.Err(); err != nil {
		return nil, NewError(KindDevice, "open", err)
	}
	path, ok := p.cfg.Devices[req.Facing]
	if !ok || path == "" {
		return nil, NewError(KindNoCamera, "open", errors.New("no device configured for "+req.Facing.String()+" camera"))
	}
	if _, err := os.Stat(path); err != nil {
		return nil, NewError(KindNoCamera, "open", err)
	}
	fourcc, err := pixelFormatOf(p.cfg.PixelFormat)
	if err != nil {
		return nil, NewError(KindDevice, "open", err)
	}

	logger.Infof("open %s (%s) in %d*%d", path, req.Facing, req.Width, req.Height)
	dev, err := device.Open(
		path,
		device.WithBufferSize(uint32(p.cfg.BufferSize)),
		device.WithFPS(uint32(p.cfg.FPS)),
		device.WithPixFormat(v4l2.PixFormat{
			PixelFormat: fourcc,
			Width:       uint32(req.Width),
			Height:      uint32(req.Height),
			Field:       v4l2.FieldNone,
		}),
	)
	if err != nil {
		return nil, NewError(KindNoCamera, "open", err)
	}
	pix, err := dev.GetPixFormat()
	if err != nil {
		_ = dev.Close()
		return nil, NewError(KindDevice, "open", err)
	}
	applyControls(dev, p.cfg.Controls)

	d := &v4l2Device{
		path:     path,
		dev:      dev,
		events:   make(chan Event, eventBufferSize),
		done:     make(chan struct{}),
		inflight: make(chan struct{}, 1),
		info: Info{
			Width:   int(pix.Width),
			Height:  int(pix.Height),
			Format:  p.cfg.PixelFormat,
			MinZoom: 1,
			MaxZoom: 1,
		},
	}
	if d.info.Format == "" {
		d.info.Format = types.PixelFmtMJPEG
	}
	if _, err := v4l2.GetControl(dev.Fd(), ctrlFlashLEDMode); err == nil {
		d.info.HasFlash = true
	}
	if ctrl, err := v4l2.GetControl(dev.Fd(), ctrlZoomAbsolute); err == nil {
		logger.Debug(CtrlToString(ctrl))
		d.info.MinZoom = float64(ctrl.Minimum)
		d.info.MaxZoom = float64(ctrl.Maximum)
		d.hasZoom = true
	}

	return d, nil
}

type v4l2Device struct {
	path string
	info Info

	lock    sync.Mutex
	dev     *device.Device
	ctx     context.Context
	cancel  context.CancelFunc
	hasZoom bool

	events    chan Event
	done      chan struct{}
	inflight  chan struct{}
	dropped   atomic.Int64
	closeOnce sync.Once
}

func (d *v4l2Device) Info() Info {
	return d.info
}

func (d *v4l2Device) Events() <-chan Event {
	return d.events
}

func (d *v4l2Device) Start(ctx context.Context) error {
	d.lock.Lock()
	defer d.lock.Unlock()
	if d.dev == nil {
		return NewError(KindClosed, "start", nil)
	}
	if d.cancel != nil {
		return NewError(KindDevice, "start", errors.New("already streaming"))
	}

	streamCtx, cancel := context.WithCancel(ctx)
	if err := d.dev.Start(streamCtx); err != nil {
		cancel()
		return NewError(KindDevice, "start", err)
	}
	d.ctx, d.cancel = streamCtx, cancel
	go d.pump(streamCtx, d.dev.GetOutput())

	return nil
}

// pump forwards captured frames while the previous frame is not on loan,
// and drops them otherwise.
func (d *v4l2Device) pump(ctx context.Context, out <-chan []byte) {
	for {
		select {
		case <-ctx.Done():
			return
		case data, ok := <-out:
			if !ok {
				if ctx.Err() == nil {
					d.send(ctx, Event{Kind: EventError, Err: NewError(KindDevice, "stream", errors.New("capture stream closed"))})
				}
				return
			}
			select {
			case d.inflight <- struct{}{}:
			default:
				d.dropped.Add(1)
				continue
			}
			f := NewFrame(types.Frame{
				Data:      data,
				Width:     d.info.Width,
				Height:    d.info.Height,
				Format:    d.info.Format,
				Timestamp: time.Now(),
			}, func() { <-d.inflight })
			if !d.send(ctx, Event{Kind: EventFrame, Frame: f}) {
				f.Release()
				return
			}
		}
	}
}

func (d *v4l2Device) send(ctx context.Context, ev Event) bool {
	select {
	case d.events <- ev:
		return true
	case <-ctx.Done():
		return false
	case <-d.done:
		return false
	}
}

func (d *v4l2Device) SetTorch(on bool) error {
	d.lock.Lock()
	if d.dev == nil {
		d.lock.Unlock()
		return NewError(KindClosed, "torch", nil)
	}
	if !d.info.HasFlash {
		d.lock.Unlock()
		return NewError(KindTorch, "torch", errors.New("device has no flash unit"))
	}
	value := flashLEDNone
	if on {
		value = flashLEDTorch
	}
	if err := d.dev.SetControlValue(ctrlFlashLEDMode, value); err != nil {
		d.lock.Unlock()
		return NewError(KindTorch, "torch", err)
	}
	ctrl, err := v4l2.GetControl(d.dev.Fd(), ctrlFlashLEDMode)
	ctx := d.streamContext()
	d.lock.Unlock()
	if err != nil {
		return NewError(KindTorch, "torch", err)
	}

	d.send(ctx, Event{Kind: EventTorch, Torch: torchStateOf(ctrl.Value)})
	return nil
}

func (d *v4l2Device) SetZoom(value float64) error {
	d.lock.Lock()
	if d.dev == nil {
		d.lock.Unlock()
		return NewError(KindClosed, "zoom", nil)
	}
	if !d.hasZoom {
		d.lock.Unlock()
		return NewError(KindZoom, "zoom", errors.New("device has no zoom control"))
	}
	if err := d.dev.SetControlValue(ctrlZoomAbsolute, v4l2.CtrlValue(math.Round(value))); err != nil {
		d.lock.Unlock()
		return NewError(KindZoom, "zoom", err)
	}
	ctrl, err := v4l2.GetControl(d.dev.Fd(), ctrlZoomAbsolute)
	ctx := d.streamContext()
	d.lock.Unlock()
	if err != nil {
		return NewError(KindZoom, "zoom", err)
	}

	d.send(ctx, Event{Kind: EventZoom, Zoom: float64(ctrl.Value)})
	return nil
}

// streamContext must be called with d.lock held.
func (d *v4l2Device) streamContext() context.Context {
	if d.ctx != nil {
		return d.ctx
	}
	return context.Background()
}

func (d *v4l2Device) Close() error {
	var err error
	d.closeOnce.Do(func() {
		d.lock.Lock()
		defer d.lock.Unlock()
		close(d.done)
		if d.cancel != nil {
			// 先取消上下文，让底层流处理 goroutine 走到 ctx.Done 分支并调用 d.Stop()，
			// 短暂等待，避免随即调用 Close() 时与其并发执行
			d.cancel()
			time.Sleep(100 * time.Millisecond)
			d.cancel = nil
		}
		if d.dev != nil {
			err = d.dev.Close()
			d.dev = nil
		}
		if n := d.dropped.Load(); n > 0 {
			logger.Debugf("%s closed, %d frames dropped while busy", d.path, n)
		}
	})
	if err != nil {
		return NewError(KindDevice, "close", err)
	}
	return nil
}
