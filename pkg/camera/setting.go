//go:build linux

package camera

import (
	"fmt"

	"github.com/vladimirvivien/go4vl/device"
	"github.com/vladimirvivien/go4vl/v4l2"
	"go.uber.org/zap"

	"qr-shutter-pi/pkg/types"
	"qr-shutter-pi/pkg/utils"
)

var logger *zap.SugaredLogger

func init() {
	logger = utils.GetLogger().Named("camera")
}

const (
	// V4L2_CID_FLASH_LED_MODE
	ctrlFlashLEDMode v4l2.CtrlID = 0x009c0901
	// V4L2_CID_ZOOM_ABSOLUTE
	ctrlZoomAbsolute v4l2.CtrlID = 0x009a090d

	flashLEDNone  v4l2.CtrlValue = 0
	flashLEDTorch v4l2.CtrlValue = 2
)

// Controls is a set of V4L2 control values applied after a device is opened.
type Controls map[v4l2.CtrlID]v4l2.CtrlValue

func applyControls(dev *device.Device, ctrls Controls) {
	for k, v := range ctrls {
		if err := dev.SetControlValue(k, v); err != nil {
			logger.Warnf("set ctrl(%d) to %d, err: %s", k, v, err)
			continue
		}
		logger.Debugf("set ctrl(%d) to %d", k, v)
	}
}

func torchStateOf(v v4l2.CtrlValue) types.TorchState {
	if v == flashLEDTorch {
		return types.TorchOn
	}
	return types.TorchOff
}

func pixelFormatOf(f types.PixelFormat) (v4l2.FourCCType, error) {
	switch f {
	case types.PixelFmtJPEG:
		return v4l2.PixelFmtJPEG, nil
	case types.PixelFmtMJPEG, "":
		return v4l2.PixelFmtMJPEG, nil
	case types.PixelFmtRGB24:
		return v4l2.PixelFmtRGB24, nil
	default:
		return 0, fmt.Errorf("pixel format %q is not supported by v4l2 capture", f)
	}
}

func CtrlToString(ctrl v4l2.Control) string {
	return fmt.Sprintf("Control id (%d) name: %s\t[min: %d; max: %d; step: %d; default: %d current_val: %d]",
		ctrl.ID, ctrl.Name, ctrl.Minimum, ctrl.Maximum, ctrl.Step, ctrl.Default, ctrl.Value)
}
