package ocr

import (
	"image"
	"image/color"

	"github.com/anthonynsimon/bild/effect"
	"github.com/disintegration/imaging"
)

// contrastFactor is the slope applied around the image's mean gray.
const contrastFactor = 2.0

// sharpenKernel is the classic 3x3 sharpen mask (centre 32, ring -2); imaging
// normalizes it by its sum of 16.
var sharpenKernel = [9]float64{
	-2, -2, -2,
	-2, 32, -2,
	-2, -2, -2,
}

// Preprocess turns a cropped CAPTCHA region into an OCR-ready grayscale bitmap:
// grayscale, 3x3 median, contrast x2.0 around the mean gray, sharpen. The
// function is pure; the same input always yields the same pixels.
func Preprocess(src image.Image) (*image.Gray, error) {
	if src == nil || src.Bounds().Empty() {
		return nil, ErrEmptyImage
	}
	gray := toGray(imaging.Grayscale(src))
	gray = toGray(effect.Median(gray, 1))
	boosted := stretchContrast(gray, contrastFactor)
	sharp := imaging.Convolve3x3(boosted, sharpenKernel, &imaging.ConvolveOptions{Normalize: true})
	return toGray(sharp), nil
}

// toGray copies img into a single-channel bitmap anchored at the origin.
func toGray(img image.Image) *image.Gray {
	b := img.Bounds()
	out := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))
	for y := 0; y < b.Dy(); y++ {
		for x := 0; x < b.Dx(); x++ {
			out.SetGray(x, y, color.GrayModel.Convert(img.At(b.Min.X+x, b.Min.Y+y)).(color.Gray))
		}
	}
	return out
}

// stretchContrast scales each pixel's distance from the mean gray by factor,
// clipping to [0,255]. A flat image comes back unchanged.
func stretchContrast(g *image.Gray, factor float64) *image.NRGBA {
	mean := meanGray(g)
	var lut [256]uint8
	for v := range lut {
		lut[v] = clampByte(mean + factor*(float64(v)-mean))
	}
	return imaging.AdjustFunc(g, func(c color.NRGBA) color.NRGBA {
		c.R, c.G, c.B = lut[c.R], lut[c.G], lut[c.B]
		return c
	})
}

// meanGray is the average intensity rounded to a whole level.
func meanGray(g *image.Gray) float64 {
	b := g.Bounds()
	var sum, n int
	for y := b.Min.Y; y < b.Max.Y; y++ {
		row := g.Pix[(y-b.Min.Y)*g.Stride:]
		for x := 0; x < b.Dx(); x++ {
			sum += int(row[x])
			n++
		}
	}
	if n == 0 {
		return 0
	}
	return float64(int(float64(sum)/float64(n) + 0.5))
}

func clampByte(v float64) uint8 {
	switch {
	case v <= 0:
		return 0
	case v >= 255:
		return 255
	}
	return uint8(v + 0.5)
}
