package ocr

import "errors"

// ErrEmptyImage is returned when a crop has no pixels to work with.
var ErrEmptyImage = errors.New("empty image")
