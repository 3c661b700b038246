package camera

import (
	"errors"
	"fmt"
)

type ErrorKind int

const (
	KindUnknown ErrorKind = iota
	// KindNoCamera means no device exists for the requested facing or it could not be opened.
	KindNoCamera
	// KindDevice covers configuration and streaming failures of an open device.
	KindDevice
	// KindTorch means the device has no flash unit or rejected the torch request.
	KindTorch
	// KindZoom means the device has no zoom control or rejected the value.
	KindZoom
	// KindClosed is returned by operations on a closed device.
	KindClosed
)

func (k ErrorKind) String() string {
	switch k {
	case KindNoCamera:
		return "no camera"
	case KindDevice:
		return "device"
	case KindTorch:
		return "torch"
	case KindZoom:
		return "zoom"
	case KindClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Error is the single error type returned by bindings.
type Error struct {
	Kind ErrorKind
	Op   string
	Err  error
}

func NewError(kind ErrorKind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("camera %s: %s error", e.Op, e.Kind)
	}
	return fmt.Sprintf("camera %s: %s error: %s", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf reports the kind of a binding error, KindUnknown for anything else.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}
