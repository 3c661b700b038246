package detector

import (
	"context"
	"fmt"
	"image"

	"github.com/makiuchi-d/gozxing"
	"github.com/makiuchi-d/gozxing/aztec"
	"github.com/makiuchi-d/gozxing/datamatrix"
	"github.com/makiuchi-d/gozxing/oned"
	"github.com/makiuchi-d/gozxing/qrcode"

	"qr-shutter-pi/pkg/types"
)

// ZXing decodes with gozxing. Each requested symbology is tried once per
// image, so at most one symbol per symbology is reported.
type ZXing struct {
	TryHarder bool
}

func NewZXing() *ZXing {
	return &ZXing{}
}

func newReader(f types.Format) gozxing.Reader {
	switch f {
	case types.FormatQR:
		return qrcode.NewQRCodeReader()
	case types.FormatDataMatrix:
		return datamatrix.NewDataMatrixReader()
	case types.FormatAztec:
		return aztec.NewAztecReader()
	case types.FormatCode128:
		return oned.NewCode128Reader()
	case types.FormatCode39:
		return oned.NewCode39Reader()
	case types.FormatEAN8:
		return oned.NewEAN8Reader()
	case types.FormatEAN13:
		return oned.NewEAN13Reader()
	case types.FormatUPCA:
		return oned.NewUPCAReader()
	case types.FormatUPCE:
		return oned.NewUPCEReader()
	case types.FormatITF:
		return oned.NewITFReader()
	case types.FormatCodabar:
		return oned.NewCodaBarReader()
	default:
		return nil
	}
}

func (z *ZXing) Detect(ctx context.Context, img image.Image, formats []types.Format) ([]types.DetectedSymbol, error) {
	if img == nil || img.Bounds().Empty() {
		return nil, nil
	}
	if len(formats) == 0 {
		formats = AllFormats
	}

	bmp, err := gozxing.NewBinaryBitmapFromImage(img)
	if err != nil {
		return nil, fmt.Errorf("binarize image: %w", err)
	}
	var hints map[gozxing.DecodeHintType]interface{}
	if z.TryHarder {
		hints = map[gozxing.DecodeHintType]interface{}{gozxing.DecodeHintType_TRY_HARDER: true}
	}

	origin := img.Bounds().Min
	var out []types.DetectedSymbol
	seen := make(map[string]bool)
	for _, f := range formats {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		reader := newReader(f)
		if reader == nil {
			continue
		}
		// a decode error only means this symbology was not found
		r, err := reader.Decode(bmp, hints)
		if err != nil || r == nil {
			continue
		}
		format := formatFromZXing(r.GetBarcodeFormat())
		key := string(format) + "\x00" + r.GetText()
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, types.DetectedSymbol{
			RawValue:    r.GetText(),
			Format:      format,
			BoundingBox: boundsOf(r.GetResultPoints()).Add(origin),
		})
	}

	return out, nil
}

func boundsOf(pts []gozxing.ResultPoint) image.Rectangle {
	if len(pts) == 0 {
		return image.Rectangle{}
	}
	minX, minY := pts[0].GetX(), pts[0].GetY()
	maxX, maxY := minX, minY
	for _, p := range pts[1:] {
		minX = min(minX, p.GetX())
		minY = min(minY, p.GetY())
		maxX = max(maxX, p.GetX())
		maxY = max(maxY, p.GetY())
	}

	return image.Rect(int(minX), int(minY), int(maxX)+1, int(maxY)+1)
}
