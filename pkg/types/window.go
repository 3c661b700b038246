package types

import (
	"errors"
	"fmt"
	"image"
	"math"
)

var ErrInvalidScanWindow = errors.New("invalid scan window")

// ScanWindow is a crop rectangle in normalized [0,1] frame coordinates.
type ScanWindow struct {
	Left   float64 `json:"left"`
	Top    float64 `json:"top"`
	Right  float64 `json:"right"`
	Bottom float64 `json:"bottom"`
}

// ScanWindowFromSlice accepts the [left, top, right, bottom] list form.
// A nil or empty slice means no window.
func ScanWindowFromSlice(rect []float64) (*ScanWindow, error) {
	if len(rect) == 0 {
		return nil, nil
	}
	if len(rect) != 4 {
		return nil, fmt.Errorf("%w: expected 4 values, got %d", ErrInvalidScanWindow, len(rect))
	}
	w := &ScanWindow{Left: rect[0], Top: rect[1], Right: rect[2], Bottom: rect[3]}
	if err := w.Validate(); err != nil {
		return nil, err
	}

	return w, nil
}

func (w ScanWindow) Validate() error {
	for _, v := range []float64{w.Left, w.Top, w.Right, w.Bottom} {
		if math.IsNaN(v) || v < 0 || v > 1 {
			return fmt.Errorf("%w: %v out of [0,1]", ErrInvalidScanWindow, v)
		}
	}
	if w.Left >= w.Right {
		return fmt.Errorf("%w: left %v >= right %v", ErrInvalidScanWindow, w.Left, w.Right)
	}
	if w.Top >= w.Bottom {
		return fmt.Errorf("%w: top %v >= bottom %v", ErrInvalidScanWindow, w.Top, w.Bottom)
	}

	return nil
}

// Rect maps the window onto a width x height frame. The result is never empty
// for a valid window and a non-empty frame.
func (w ScanWindow) Rect(width, height int) image.Rectangle {
	r := image.Rect(
		int(math.Floor(w.Left*float64(width))),
		int(math.Floor(w.Top*float64(height))),
		int(math.Ceil(w.Right*float64(width))),
		int(math.Ceil(w.Bottom*float64(height))),
	)

	return r.Intersect(image.Rect(0, 0, width, height))
}
