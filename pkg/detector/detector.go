// Package detector decodes barcodes from images.
//
// The session pipeline only depends on the Detector interface; ZXing is the
// default implementation and tests plug in a Func.
package detector

import (
	"context"
	"image"

	"qr-shutter-pi/pkg/types"
)

// Detector returns the symbols found in img, in detection order.
// An image without symbols is not an error.
type Detector interface {
	Detect(ctx context.Context, img image.Image, formats []types.Format) ([]types.DetectedSymbol, error)
}

// Func adapts a function to the Detector interface.
type Func func(ctx context.Context, img image.Image, formats []types.Format) ([]types.DetectedSymbol, error)

func (f Func) Detect(ctx context.Context, img image.Image, formats []types.Format) ([]types.DetectedSymbol, error) {
	return f(ctx, img, formats)
}
