// Package imageprep normalizes an uploaded photo before it is sent for generation.
package imageprep

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"math"
	"mime"
	"strings"

	"github.com/disintegration/imaging"
	_ "golang.org/x/image/webp"

	"github.com/therealutkarshpriyadarshi/stickerforge/pkg/apperr"
	"github.com/therealutkarshpriyadarshi/stickerforge/pkg/models"
)

// OutputMIME is the format every prepared image is re-encoded to
const OutputMIME = "image/png"

var allowedMIME = map[string]bool{
	"image/jpeg": true,
	"image/jpg":  true,
	"image/png":  true,
	"image/webp": true,
}

// Options control resizing and padding
type Options struct {
	MaxDimension int
	PadFraction  float64
}

// Prepared is the normalized image handed to the generation provider
type Prepared struct {
	Data          []byte
	MIME          string
	Width         int
	Height        int
	ContentWidth  int
	ContentHeight int
	Pad           int
}

// IsAllowedMIME reports whether a client-declared content type is accepted
func IsAllowedMIME(contentType string) bool {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return false
	}
	return allowedMIME[strings.ToLower(mediaType)]
}

// Prepare orients the image from its EXIF data, shrinks it into the
// MaxDimension box (never enlarging), pads every side by PadFraction of the
// larger side and encodes PNG. Sticker padding is transparent; image padding is white.
func Prepare(data []byte, contentType string, mode models.Mode, opts Options) (*Prepared, error) {
	if !IsAllowedMIME(contentType) {
		return nil, apperr.ErrUnsupportedMediaType.WithDetails(map[string]any{"mime": contentType})
	}

	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, apperr.Validation("image could not be decoded")
	}

	if opts.MaxDimension > 0 {
		img = imaging.Fit(img, opts.MaxDimension, opts.MaxDimension, imaging.Lanczos)
	}

	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	pad := int(math.Round(opts.PadFraction * float64(max(w, h))))

	background := color.NRGBA{R: 255, G: 255, B: 255, A: 255}
	if mode == models.ModeSticker {
		background = color.NRGBA{}
	}

	canvas := imaging.New(w+2*pad, h+2*pad, background)
	canvas = imaging.Overlay(canvas, img, image.Pt(pad, pad), 1.0)

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, canvas, imaging.PNG); err != nil {
		return nil, fmt.Errorf("failed to encode prepared image: %w", err)
	}

	return &Prepared{
		Data:          buf.Bytes(),
		MIME:          OutputMIME,
		Width:         canvas.Bounds().Dx(),
		Height:        canvas.Bounds().Dy(),
		ContentWidth:  w,
		ContentHeight: h,
		Pad:           pad,
	}, nil
}
