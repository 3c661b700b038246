package image

import (
	"bytes"
	"image"
	"image/color"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"qr-shutter-pi/pkg/types"
)

func TestDecodeRGB(t *testing.T) {
	data := []byte{
		255, 0, 0, 0, 255, 0,
		0, 0, 255, 10, 20, 30,
	}
	img := DecodeRGB(data, 2, 2)
	assert.Equal(t, color.RGBA{R: 255, A: 255}, img.At(0, 0))
	assert.Equal(t, color.RGBA{R: 10, G: 20, B: 30, A: 255}, img.At(1, 1))
}

func TestDecodeFrame(t *testing.T) {
	t.Run("gray", func(t *testing.T) {
		img, err := DecodeFrame(types.Frame{Data: []byte{1, 2, 3, 4}, Width: 2, Height: 2, Format: types.PixelFmtGray})
		require.NoError(t, err)
		assert.Equal(t, color.Gray{Y: 4}, img.At(1, 1))
	})

	t.Run("short buffer", func(t *testing.T) {
		_, err := DecodeFrame(types.Frame{Data: []byte{1, 2}, Width: 2, Height: 2, Format: types.PixelFmtRGB24})
		assert.Error(t, err)
	})

	t.Run("jpeg", func(t *testing.T) {
		var buf bytes.Buffer
		src := image.NewGray(image.Rect(0, 0, 8, 6))
		require.NoError(t, EncodeJPEG(src, &buf, 90))

		img, err := DecodeFrame(types.Frame{Data: buf.Bytes(), Width: 8, Height: 6, Format: types.PixelFmtJPEG})
		require.NoError(t, err)
		assert.Equal(t, image.Rect(0, 0, 8, 6), img.Bounds())
	})

	t.Run("unknown format", func(t *testing.T) {
		_, err := DecodeFrame(types.Frame{Format: "yuyv"})
		assert.Error(t, err)
	})
}

func TestCrop(t *testing.T) {
	src := image.NewGray(image.Rect(0, 0, 10, 10))
	src.SetGray(6, 7, color.Gray{Y: 200})

	out := Crop(src, image.Rect(5, 5, 10, 10))
	assert.Equal(t, image.Rect(0, 0, 5, 5), out.Bounds())
	r, _, _, _ := out.At(1, 2).RGBA()
	assert.Equal(t, uint32(200)*0x101, r)
}
