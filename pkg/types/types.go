package types

import (
	"fmt"
	"image"
	"strings"
	"time"
)

type Facing int

const (
	FacingFront Facing = iota
	FacingBack
)

func (f Facing) String() string {
	if f == FacingBack {
		return "back"
	}
	return "front"
}

// DetectionSpeed governs how often barcode events are emitted.
type DetectionSpeed int

const (
	// NoDuplicates suppresses a raw value already emitted within the duplicate window.
	NoDuplicates DetectionSpeed = iota
	// Normal emits at most one event per detection interval.
	Normal
	// Unrestricted emits every non-empty result.
	Unrestricted
)

func (s DetectionSpeed) String() string {
	switch s {
	case NoDuplicates:
		return "noDuplicates"
	case Normal:
		return "normal"
	case Unrestricted:
		return "unrestricted"
	default:
		return "unknown"
	}
}

func (s DetectionSpeed) Valid() bool {
	return s >= NoDuplicates && s <= Unrestricted
}

// ParseDetectionSpeed accepts a speed name in any case or its index ("0", "1", "2").
func ParseDetectionSpeed(v string) (DetectionSpeed, error) {
	for s := NoDuplicates; s <= Unrestricted; s++ {
		if strings.EqualFold(v, s.String()) || v == fmt.Sprint(int(s)) {
			return s, nil
		}
	}
	return 0, fmt.Errorf("unknown detection speed %q", v)
}

// ParseFacing accepts "front", "back" or their index.
func ParseFacing(v string) (Facing, error) {
	switch strings.ToLower(v) {
	case "front", "0":
		return FacingFront, nil
	case "back", "1":
		return FacingBack, nil
	}
	return 0, fmt.Errorf("unknown camera facing %q", v)
}

type TorchState int

const (
	TorchUnavailable TorchState = -1
	TorchOff         TorchState = 0
	TorchOn          TorchState = 1
)

func (t TorchState) String() string {
	switch t {
	case TorchOn:
		return "on"
	case TorchOff:
		return "off"
	default:
		return "unavailable"
	}
}

// Format is a barcode symbology name, e.g. "qr" or "ean13".
type Format string

const (
	FormatUnknown    Format = "unknown"
	FormatQR         Format = "qr"
	FormatDataMatrix Format = "datamatrix"
	FormatAztec      Format = "aztec"
	FormatCode128    Format = "code128"
	FormatCode39     Format = "code39"
	FormatEAN8       Format = "ean8"
	FormatEAN13      Format = "ean13"
	FormatUPCA       Format = "upca"
	FormatUPCE       Format = "upce"
	FormatITF        Format = "itf"
	FormatCodabar    Format = "codabar"
)

// PixelFormat describes the layout of Frame.Data.
type PixelFormat string

const (
	PixelFmtJPEG  PixelFormat = "jpeg"
	PixelFmtMJPEG PixelFormat = "mjpeg"
	PixelFmtRGB24 PixelFormat = "rgb24"
	PixelFmtGray  PixelFormat = "gray"
)

// CameraConfig is created fresh for every start and never modified afterwards.
type CameraConfig struct {
	Facing      Facing
	Torch       bool
	Speed       DetectionSpeed
	ReturnImage bool
	Formats     []Format

	// DuplicateWindow only applies to NoDuplicates.
	DuplicateWindow time.Duration
	// DetectionInterval only applies to Normal.
	DetectionInterval time.Duration
	// StartTimeout bounds the wait for the first frame.
	StartTimeout time.Duration

	Width  int
	Height int
}

// Frame is one captured image. Data is only valid during a single analysis pass.
type Frame struct {
	Data      []byte
	Width     int
	Height    int
	Format    PixelFormat
	Timestamp time.Time
}

type DetectedSymbol struct {
	RawValue    string          `json:"rawValue"`
	Format      Format          `json:"format"`
	BoundingBox image.Rectangle `json:"boundingBox"`
}

type SessionStartedInfo struct {
	TextureID      int64  `json:"textureId"`
	SessionID      string `json:"sessionId"`
	Width          int    `json:"width"`
	Height         int    `json:"height"`
	TorchAvailable bool   `json:"torchable"`
}
