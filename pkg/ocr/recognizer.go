package ocr

import "image"

// DigitWhitelist restricts recognition to the ten decimal digits.
const DigitWhitelist = "0123456789"

// Recognizer returns the engine's best guess for the text in img, limited to
// the characters in whitelist. The raw text is returned untrimmed.
type Recognizer interface {
	Recognize(img image.Image, whitelist string) (string, error)
}

// RecognizerFunc adapts a plain function to Recognizer.
type RecognizerFunc func(img image.Image, whitelist string) (string, error)

// Recognize calls f.
func (f RecognizerFunc) Recognize(img image.Image, whitelist string) (string, error) {
	return f(img, whitelist)
}
