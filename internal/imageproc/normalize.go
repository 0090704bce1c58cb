// Package imageproc sniffs uploaded image bytes and converts HEIC photos to JPEG.
package imageproc

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
	"io"

	"github.com/EXCurryBar/mybot/internal/models"

	"github.com/gabriel-vasile/mimetype"
	"github.com/jdeng/goheif"
)

type Format string

const (
	FormatHEIC    Format = "heic"
	FormatJPEG    Format = "jpeg"
	FormatPNG     Format = "png"
	FormatGIF     Format = "gif"
	FormatWEBP    Format = "webp"
	FormatBMP     Format = "bmp"
	FormatUnknown Format = "unknown"
)

// MIME returns the media type for f, empty for FormatUnknown.
func (f Format) MIME() string {
	switch f {
	case FormatHEIC:
		return "image/heic"
	case FormatJPEG:
		return "image/jpeg"
	case FormatPNG:
		return "image/png"
	case FormatGIF:
		return "image/gif"
	case FormatWEBP:
		return "image/webp"
	case FormatBMP:
		return "image/bmp"
	default:
		return ""
	}
}

// brands found after "ftyp" in HEIF-family files
var heifBrands = map[string]bool{
	"heic": true, "heix": true, "hevc": true, "hevx": true,
	"heim": true, "heis": true, "hevm": true, "hevs": true,
	"mif1": true, "msf1": true,
}

const jpegQuality = 90

var decodeHEIC = func(r io.Reader) (image.Image, error) {
	return goheif.Decode(r)
}

// IsHEIC reports whether data starts with an ISO-BMFF ftyp box carrying a HEIF brand.
func IsHEIC(data []byte) bool {
	if len(data) < 12 || string(data[4:8]) != "ftyp" {
		return false
	}
	return heifBrands[string(data[8:12])]
}

// Detect classifies data by content. HEIC is checked by its magic bytes before
// generic sniffing.
func Detect(data []byte) Format {
	if IsHEIC(data) {
		return FormatHEIC
	}
	switch mimetype.Detect(data).String() {
	case "image/jpeg":
		return FormatJPEG
	case "image/png":
		return FormatPNG
	case "image/gif":
		return FormatGIF
	case "image/webp":
		return FormatWEBP
	case "image/bmp":
		return FormatBMP
	default:
		return FormatUnknown
	}
}

// Normalize converts HEIC input to JPEG and returns every other input untouched,
// along with the format of the returned bytes.
func Normalize(data []byte) ([]byte, Format, error) {
	format := Detect(data)
	if format != FormatHEIC {
		return data, format, nil
	}
	img, err := decodeHEIC(bytes.NewReader(data))
	if err != nil {
		return nil, FormatHEIC, fmt.Errorf("decode heic: %w: %w", models.ErrImageConversionFailed, err)
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: jpegQuality}); err != nil {
		return nil, FormatHEIC, fmt.Errorf("encode jpeg: %w: %w", models.ErrImageConversionFailed, err)
	}
	return buf.Bytes(), FormatJPEG, nil
}
