// Package qr reads the QR code printed at the bottom of an NFC-e receipt.
// The payload is the portal URL carrying the access key.
package qr

import (
	"errors"
	"fmt"
	"image"
	"io"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/makiuchi-d/gozxing"
	"github.com/makiuchi-d/gozxing/qrcode"
)

// ErrNoCode is returned when no QR code could be read from the image.
var ErrNoCode = errors.New("no qr code found")

// maxSide bounds the retry candidate; phone photos are often 4000px wide and
// the finder patterns get lost in sensor noise at full size.
const maxSide = 1600

// Decode reads an encoded image (JPEG, PNG, ...) honoring EXIF orientation.
func Decode(r io.Reader) (string, error) {
	img, err := imaging.Decode(r, imaging.AutoOrientation(true))
	if err != nil {
		return "", fmt.Errorf("decode image: %w", err)
	}
	return DecodeImage(img)
}

// DecodeFile is Decode on a file path.
func DecodeFile(path string) (string, error) {
	img, err := imaging.Open(path, imaging.AutoOrientation(true))
	if err != nil {
		return "", fmt.Errorf("open image: %w", err)
	}
	return DecodeImage(img)
}

// DecodeImage tries the image as-is, then a grayscale copy bounded to maxSide.
func DecodeImage(img image.Image) (string, error) {
	if img == nil || img.Bounds().Empty() {
		return "", ErrNoCode
	}
	candidates := []image.Image{img}
	b := img.Bounds()
	alt := imaging.Grayscale(img)
	if b.Dx() > maxSide || b.Dy() > maxSide {
		alt = imaging.Fit(alt, maxSide, maxSide, imaging.Lanczos)
	}
	candidates = append(candidates, alt)

	hints := map[gozxing.DecodeHintType]interface{}{
		gozxing.DecodeHintType_TRY_HARDER: true,
	}
	reader := qrcode.NewQRCodeReader()
	var lastErr error
	for _, c := range candidates {
		bmp, err := gozxing.NewBinaryBitmapFromImage(c)
		if err != nil {
			lastErr = err
			continue
		}
		res, err := reader.Decode(bmp, hints)
		if err != nil {
			lastErr = err
			continue
		}
		if text := strings.TrimSpace(res.GetText()); text != "" {
			return text, nil
		}
	}
	if lastErr != nil {
		return "", fmt.Errorf("%w: %v", ErrNoCode, lastErr)
	}
	return "", ErrNoCode
}
