package detector

import (
	"strings"

	"github.com/makiuchi-d/gozxing"

	"qr-shutter-pi/pkg/types"
)

// AllFormats lists every symbology the ZXing detector understands.
var AllFormats = []types.Format{
	types.FormatQR,
	types.FormatDataMatrix,
	types.FormatAztec,
	types.FormatCode128,
	types.FormatCode39,
	types.FormatEAN8,
	types.FormatEAN13,
	types.FormatUPCA,
	types.FormatUPCE,
	types.FormatITF,
	types.FormatCodabar,
}

// ParseFormat accepts the common spellings of a symbology name.
func ParseFormat(s string) (types.Format, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "qr", "qrcode", "qr-code":
		return types.FormatQR, true
	case "datamatrix", "data-matrix":
		return types.FormatDataMatrix, true
	case "aztec":
		return types.FormatAztec, true
	case "code128", "code-128":
		return types.FormatCode128, true
	case "code39", "code-39":
		return types.FormatCode39, true
	case "ean8", "ean-8":
		return types.FormatEAN8, true
	case "ean13", "ean-13":
		return types.FormatEAN13, true
	case "upca", "upc-a":
		return types.FormatUPCA, true
	case "upce", "upc-e":
		return types.FormatUPCE, true
	case "itf", "interleaved2of5":
		return types.FormatITF, true
	case "codabar":
		return types.FormatCodabar, true
	default:
		return types.FormatUnknown, false
	}
}

func formatFromZXing(bf gozxing.BarcodeFormat) types.Format {
	switch bf {
	case gozxing.BarcodeFormat_QR_CODE:
		return types.FormatQR
	case gozxing.BarcodeFormat_DATA_MATRIX:
		return types.FormatDataMatrix
	case gozxing.BarcodeFormat_AZTEC:
		return types.FormatAztec
	case gozxing.BarcodeFormat_CODE_128:
		return types.FormatCode128
	case gozxing.BarcodeFormat_CODE_39:
		return types.FormatCode39
	case gozxing.BarcodeFormat_EAN_8:
		return types.FormatEAN8
	case gozxing.BarcodeFormat_EAN_13:
		return types.FormatEAN13
	case gozxing.BarcodeFormat_UPC_A:
		return types.FormatUPCA
	case gozxing.BarcodeFormat_UPC_E:
		return types.FormatUPCE
	case gozxing.BarcodeFormat_ITF:
		return types.FormatITF
	case gozxing.BarcodeFormat_CODABAR:
		return types.FormatCodabar
	default:
		return types.FormatUnknown
	}
}
