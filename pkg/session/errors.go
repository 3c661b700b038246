package session

import (
	"errors"

	"qr-shutter-pi/pkg/types"
)

var (
	ErrAlreadyStarted = errors.New("called start() while already started")
	// ErrAlreadyStopped is returned by Stop on an idle controller. Callers treat it as success.
	ErrAlreadyStopped    = errors.New("called stop() while already stopped")
	ErrNoCamera          = errors.New("no camera found or failed to open camera")
	ErrCameraError       = errors.New("error occurred when setting up camera")
	ErrTorchError        = errors.New("error occurred when setting torch")
	ErrPermissionDenied  = errors.New("camera permission denied")
	ErrInvalidScanWindow = types.ErrInvalidScanWindow
	ErrAnalyzerBusy      = errors.New("another image analysis is still pending")
	ErrDetectorError     = errors.New("barcode detector failed")
)

type Kind string

const (
	KindNone              Kind = ""
	KindAlreadyStarted    Kind = "AlreadyStarted"
	KindAlreadyStopped    Kind = "AlreadyStopped"
	KindNoCamera          Kind = "NoCamera"
	KindCameraError       Kind = "CameraError"
	KindTorchError        Kind = "TorchError"
	KindPermissionDenied  Kind = "PermissionDenied"
	KindInvalidScanWindow Kind = "InvalidScanWindow"
	KindAnalyzerBusy      Kind = "AnalyzerBusy"
	KindDetectorError     Kind = "DetectorError"
	KindUnknown           Kind = "Unknown"
)

var kinds = []struct {
	err  error
	kind Kind
}{
	{ErrAlreadyStarted, KindAlreadyStarted},
	{ErrAlreadyStopped, KindAlreadyStopped},
	{ErrNoCamera, KindNoCamera},
	{ErrCameraError, KindCameraError},
	{ErrTorchError, KindTorchError},
	{ErrPermissionDenied, KindPermissionDenied},
	{ErrInvalidScanWindow, KindInvalidScanWindow},
	{ErrAnalyzerBusy, KindAnalyzerBusy},
	{ErrDetectorError, KindDetectorError},
}

// KindOf names the failure kind of err.
func KindOf(err error) Kind {
	if err == nil {
		return KindNone
	}
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k.kind
		}
	}
	return KindUnknown
}
