// Package fake provides an in-memory camera binding. Frames, torch and zoom
// confirmations and device errors are injected by the caller.
package fake

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"qr-shutter-pi/pkg/camera"
	"qr-shutter-pi/pkg/types"
)

// Provider hands out fake devices and tracks how many are open at once.
type Provider struct {
	mu sync.Mutex

	// Info is reported by every device opened from now on.
	Info camera.Info
	// OpenErr, when set, is returned by the next Open calls.
	OpenErr error
	// OpenDelay makes Open block until it elapses or ctx is done.
	OpenDelay time.Duration
	// ManualFirstFrame disables the blank frame delivered on Start.
	ManualFirstFrame bool
	// ManualConfirm disables automatic torch and zoom confirmations.
	ManualConfirm bool
	// StartErr, when set, is returned by Device.Start.
	StartErr error
	// TorchErr, when set, is returned by Device.SetTorch.
	TorchErr error

	devices []*Device
	open    atomic.Int32
	maxOpen atomic.Int32
}

func NewProvider() *Provider {
	return &Provider{
		Info: camera.Info{
			Width:    4,
			Height:   4,
			Format:   types.PixelFmtGray,
			HasFlash: true,
			MinZoom:  1,
			MaxZoom:  4,
		},
	}
}

func (p *Provider) Open(ctx context.Context, req camera.OpenRequest) (camera.Device, error) {
	p.mu.Lock()
	openErr, delay := p.OpenErr, p.OpenDelay
	p.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, camera.NewError(camera.KindDevice, "open", ctx.Err())
		}
	}
	if openErr != nil {
		return nil, openErr
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	d := &Device{
		p:           p,
		req:         req,
		info:        p.Info,
		events:      make(chan camera.Event),
		closed:      make(chan struct{}),
		manualFirst: p.ManualFirstFrame,
		manual:      p.ManualConfirm,
		startErr:    p.StartErr,
		torchErr:    p.TorchErr,
	}
	p.devices = append(p.devices, d)
	n := p.open.Add(1)
	for {
		m := p.maxOpen.Load()
		if n <= m || p.maxOpen.CompareAndSwap(m, n) {
			break
		}
	}

	return d, nil
}

// Last returns the most recently opened device.
func (p *Provider) Last() *Device {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.devices) == 0 {
		return nil
	}
	return p.devices[len(p.devices)-1]
}

// Opened reports how many devices were opened in total.
func (p *Provider) Opened() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.devices)
}

// OpenNow reports how many devices are currently open.
func (p *Provider) OpenNow() int {
	return int(p.open.Load())
}

// MaxOpen reports the largest number of devices that were open at the same time.
func (p *Provider) MaxOpen() int {
	return int(p.maxOpen.Load())
}

// Device is a fake open camera. Events are delivered unbuffered, so a Send
// returns only after the consumer has taken the event.
type Device struct {
	p    *Provider
	req  camera.OpenRequest
	info camera.Info

	events chan camera.Event
	closed chan struct{}

	manualFirst bool
	manual      bool
	startErr    error
	torchErr    error

	mu       sync.Mutex
	started  bool
	torch    []bool
	zoom     []float64
	releases atomic.Int32
}

func (d *Device) Info() camera.Info {
	return d.info
}

func (d *Device) Events() <-chan camera.Event {
	return d.events
}

func (d *Device) Request() camera.OpenRequest {
	return d.req
}

func (d *Device) Start(_ context.Context) error {
	if d.startErr != nil {
		return camera.NewError(camera.KindDevice, "start", d.startErr)
	}
	d.mu.Lock()
	d.started = true
	d.mu.Unlock()

	if !d.manualFirst {
		go d.SendFrame(make([]byte, d.info.Width*d.info.Height))
	}
	return nil
}

func (d *Device) SetTorch(on bool) error {
	if !d.info.HasFlash {
		return camera.NewError(camera.KindTorch, "torch", errors.New("device has no flash unit"))
	}
	if d.torchErr != nil {
		return camera.NewError(camera.KindTorch, "torch", d.torchErr)
	}
	d.mu.Lock()
	d.torch = append(d.torch, on)
	d.mu.Unlock()

	if !d.manual {
		state := types.TorchOff
		if on {
			state = types.TorchOn
		}
		go d.ConfirmTorch(state)
	}
	return nil
}

func (d *Device) SetZoom(value float64) error {
	d.mu.Lock()
	d.zoom = append(d.zoom, value)
	d.mu.Unlock()

	if !d.manual {
		go d.ConfirmZoom(value)
	}
	return nil
}

func (d *Device) Started() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.started
}

// TorchRequests returns every value passed to SetTorch.
func (d *Device) TorchRequests() []bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]bool(nil), d.torch...)
}

// ZoomRequests returns every value passed to SetZoom.
func (d *Device) ZoomRequests() []float64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]float64(nil), d.zoom...)
}

// Close releases the device. Every call is counted so tests can detect a double release.
func (d *Device) Close() error {
	if d.releases.Add(1) == 1 {
		close(d.closed)
		d.p.open.Add(-1)
	}
	return nil
}

// Releases reports how many times Close was called.
func (d *Device) Releases() int {
	return int(d.releases.Load())
}

func (d *Device) Closed() bool {
	select {
	case <-d.closed:
		return true
	default:
		return false
	}
}

// SendFrame delivers a frame and waits until the consumer releases it.
// It reports false if the device was closed first.
func (d *Device) SendFrame(data []byte) bool {
	released := make(chan struct{})
	f := camera.NewFrame(types.Frame{
		Data:      data,
		Width:     d.info.Width,
		Height:    d.info.Height,
		Format:    d.info.Format,
		Timestamp: time.Now(),
	}, func() { close(released) })

	if !d.send(camera.Event{Kind: camera.EventFrame, Frame: f}) {
		return false
	}
	select {
	case <-released:
		return true
	case <-d.closed:
		return false
	}
}

// SendGray delivers a frame filled with one gray level.
func (d *Device) SendGray(level byte) bool {
	data := make([]byte, d.info.Width*d.info.Height)
	for i := range data {
		data[i] = level
	}
	return d.SendFrame(data)
}

func (d *Device) ConfirmTorch(state types.TorchState) bool {
	return d.send(camera.Event{Kind: camera.EventTorch, Torch: state})
}

func (d *Device) ConfirmZoom(value float64) bool {
	return d.send(camera.Event{Kind: camera.EventZoom, Zoom: value})
}

// Fail reports a fatal device error.
func (d *Device) Fail(err error) bool {
	return d.send(camera.Event{Kind: camera.EventError, Err: camera.NewError(camera.KindDevice, "stream", err)})
}

func (d *Device) send(ev camera.Event) bool {
	select {
	case d.events <- ev:
		return true
	case <-d.closed:
		return false
	}
}
