// Package tesseract runs recognition through the Tesseract engine via gosseract.
package tesseract

import (
	"bytes"
	"fmt"
	"image"

	"github.com/disintegration/imaging"
	"github.com/otiai10/gosseract/v2"
)

// Engine implements ocr.Recognizer. A fresh gosseract client is created per
// call, so an Engine is safe to share.
type Engine struct {
	Language    string
	PageSegMode gosseract.PageSegMode
}

// New returns an Engine reading language lang as a single uniform block of text.
func New(lang string) *Engine {
	if lang == "" {
		lang = "eng"
	}
	return &Engine{Language: lang, PageSegMode: gosseract.PSM_SINGLE_BLOCK}
}

// Recognize encodes img as PNG in memory and hands it to Tesseract.
func (e *Engine) Recognize(img image.Image, whitelist string) (string, error) {
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.PNG); err != nil {
		return "", fmt.Errorf("encode image: %w", err)
	}

	client := gosseract.NewClient()
	defer client.Close()
	if err := client.SetLanguage(e.Language); err != nil {
		return "", fmt.Errorf("set language: %w", err)
	}
	if whitelist != "" {
		if err := client.SetWhitelist(whitelist); err != nil {
			return "", fmt.Errorf("set whitelist: %w", err)
		}
	}
	if err := client.SetPageSegMode(e.PageSegMode); err != nil {
		return "", fmt.Errorf("set page seg mode: %w", err)
	}
	if err := client.SetImageFromBytes(buf.Bytes()); err != nil {
		return "", fmt.Errorf("set image: %w", err)
	}
	text, err := client.Text()
	if err != nil {
		return "", fmt.Errorf("ocr error: %w", err)
	}
	return text, nil
}
