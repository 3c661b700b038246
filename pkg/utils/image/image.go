package image

import (
	"bytes"
	"fmt"
	"image"
	"io"

	"github.com/disintegration/imaging"

	"qr-shutter-pi/pkg/types"
)

func RGBToRGBA(in, out []byte, width, height int) {
	outStride := width * 4
	inStride := len(in) / height

	for i := 0; i < height; i++ {
		oIndex := i * outStride
		iIndex := i * inStride
		for j := 0; j < width; j++ {
			out[oIndex] = in[iIndex]
			out[oIndex+1] = in[iIndex+1]
			out[oIndex+2] = in[iIndex+2]
			out[oIndex+3] = 0xff

			oIndex += 4
			iIndex += 3
		}
	}
}

func DecodeRGB(data []byte, width, height int) image.Image {
	i := image.NewRGBA(image.Rect(0, 0, width, height))
	RGBToRGBA(data, i.Pix, width, height)

	return i
}

// DecodeFrame turns a captured frame into an image. Raw layouts are copied,
// so the result stays valid after the frame is released.
func DecodeFrame(f types.Frame) (image.Image, error) {
	switch f.Format {
	case types.PixelFmtJPEG, types.PixelFmtMJPEG:
		return Decode(f.Data)
	case types.PixelFmtRGB24:
		if f.Width <= 0 || f.Height <= 0 || len(f.Data) < f.Width*f.Height*3 {
			return nil, fmt.Errorf("rgb24 frame %dx%d: short buffer (%d bytes)", f.Width, f.Height, len(f.Data))
		}
		return DecodeRGB(f.Data, f.Width, f.Height), nil
	case types.PixelFmtGray:
		if f.Width <= 0 || f.Height <= 0 || len(f.Data) < f.Width*f.Height {
			return nil, fmt.Errorf("gray frame %dx%d: short buffer (%d bytes)", f.Width, f.Height, len(f.Data))
		}
		g := image.NewGray(image.Rect(0, 0, f.Width, f.Height))
		copy(g.Pix, f.Data)
		return g, nil
	default:
		return nil, fmt.Errorf("unsupported pixel format %q", f.Format)
	}
}

// Decode decodes an encoded image (jpeg, png, gif, bmp, tiff).
func Decode(data []byte) (image.Image, error) {
	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}

	return img, nil
}

// Crop returns the part of img inside r. The result is re-based at the origin;
// add r.Min to map coordinates back into img.
func Crop(img image.Image, r image.Rectangle) image.Image {
	return imaging.Crop(img, r)
}

func EncodeJPEG(img image.Image, dst io.Writer, quality int) error {
	return imaging.Encode(dst, img, imaging.JPEG, imaging.JPEGQuality(quality))
}
