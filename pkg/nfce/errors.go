package nfce

import "errors"

var (
	// ErrNotReceiptPage is returned when the fetched page has no receipt header.
	ErrNotReceiptPage = errors.New("page is not a receipt")
	// ErrCaptchaRejected marks an attempt where the portal did not show the receipt after submit.
	ErrCaptchaRejected = errors.New("captcha rejected")
	// ErrWrongLength marks an OCR guess that failed the length gate and was never submitted.
	ErrWrongLength = errors.New("captcha guess has wrong length")
	// ErrAttemptsExhausted is returned when a bounded solver runs out of attempts.
	ErrAttemptsExhausted = errors.New("captcha attempts exhausted")
	ErrInvalidAmount     = errors.New("invalid amount")
	ErrNegativeAmount    = errors.New("negative amount")
	ErrInvalidTimestamp  = errors.New("invalid timestamp")
	ErrNoAccessKey       = errors.New("no access key")
)
