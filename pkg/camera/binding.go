package camera

import (
	"context"
	"sync"

	"qr-shutter-pi/pkg/types"
)

// Provider opens camera devices.
type Provider interface {
	// Open acquires the device for req.Facing. The returned Device is
	// exclusively owned by the caller until Close.
	Open(ctx context.Context, req OpenRequest) (Device, error)
}

type OpenRequest struct {
	Facing types.Facing
	Width  int
	Height int
}

// Device is one open camera handle.
//
// All asynchronous notifications (frames, torch and zoom confirmations,
// fatal errors) arrive in hardware order on the channel returned by Events.
// A frame event carries a Frame that must be released before the device
// delivers the next one; frames captured meanwhile are dropped.
type Device interface {
	Info() Info
	Events() <-chan Event
	// Start begins frame delivery. Delivery stops when ctx is done or the device is closed.
	Start(ctx context.Context) error
	// SetTorch requests a torch change; the new state is reported by an EventTorch.
	SetTorch(on bool) error
	// SetZoom requests a zoom change; the new value is reported by an EventZoom.
	SetZoom(value float64) error
	Close() error
}

type Info struct {
	Width    int
	Height   int
	Format   types.PixelFormat
	HasFlash bool
	MinZoom  float64
	MaxZoom  float64
}

type EventKind int

const (
	EventFrame EventKind = iota
	EventTorch
	EventZoom
	EventError
)

func (k EventKind) String() string {
	switch k {
	case EventFrame:
		return "frame"
	case EventTorch:
		return "torch"
	case EventZoom:
		return "zoom"
	case EventError:
		return "error"
	default:
		return "unknown"
	}
}

type Event struct {
	Kind  EventKind
	Frame *Frame
	Torch types.TorchState
	Zoom  float64
	Err   error
}

// Frame is a captured frame on loan from the device.
type Frame struct {
	types.Frame

	once    sync.Once
	release func()
}

func NewFrame(f types.Frame, release func()) *Frame {
	return &Frame{Frame: f, release: release}
}

// Release hands the buffer back to the device. Only the first call has an effect.
func (f *Frame) Release() {
	f.once.Do(func() {
		if f.release != nil {
			f.release()
		}
	})
}
