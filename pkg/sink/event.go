package sink

import (
	"qr-shutter-pi/pkg/types"
)

type Name string

const (
	NameBarcode    Name = "barcode"
	NameError      Name = "error"
	NameTorchState Name = "torchState"
	NameZoomState  Name = "zoomState"
)

// Event is pushed to the consumer. Data holds []types.DetectedSymbol for
// barcode, a string for error, a types.TorchState for torchState and a
// float64 for zoomState.
type Event struct {
	Name   Name              `json:"name"`
	Data   any               `json:"data"`
	Image  []byte            `json:"image,omitempty"`
	Format types.PixelFormat `json:"format,omitempty"`
	Width  int               `json:"width,omitempty"`
	Height int               `json:"height,omitempty"`
}

// Barcode builds a barcode event. When frame is non-nil its bytes are copied
// into the event, since the frame buffer goes back to the device afterwards.
func Barcode(symbols []types.DetectedSymbol, frame *types.Frame) Event {
	ev := Event{Name: NameBarcode, Data: symbols}
	if frame != nil {
		ev.Image = append([]byte(nil), frame.Data...)
		ev.Format = frame.Format
		ev.Width = frame.Width
		ev.Height = frame.Height
	}
	return ev
}

func Error(msg string) Event {
	return Event{Name: NameError, Data: msg}
}

func TorchState(state types.TorchState) Event {
	return Event{Name: NameTorchState, Data: state}
}

func ZoomState(value float64) Event {
	return Event{Name: NameZoomState, Data: value}
}

// Symbols returns the symbols of a barcode event.
func (e Event) Symbols() []types.DetectedSymbol {
	s, _ := e.Data.([]types.DetectedSymbol)
	return s
}
