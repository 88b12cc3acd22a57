package nfce

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/disintegration/imaging"
	"github.com/rs/zerolog"

	"nfcescan/pkg/ocr"
)

// SolverConfig names the portal's CAPTCHA form elements and the waits around them.
type SolverConfig struct {
	CaptchaSelector string
	InputSelector   string
	SubmitSelector  string
	ResultSelector  string
	// CaptchaLength is the only guess length ever submitted.
	CaptchaLength int
	CaptchaWait   time.Duration
	ResultWait    time.Duration
	SubmitPause   time.Duration
}

// DefaultSolverConfig matches the NFC-e portal form.
func DefaultSolverConfig() SolverConfig {
	return SolverConfig{
		CaptchaSelector: "#img_captcha",
		InputSelector:   `[name="txt_cod_antirobo"]`,
		SubmitSelector:  `[name="btnVerDanfe"]`,
		ResultSelector:  "#divConteudoDanfe",
		CaptchaLength:   6,
		CaptchaWait:     10 * time.Second,
		ResultWait:      15 * time.Second,
		SubmitPause:     3 * time.Second,
	}
}

// Outcome classifies a single solve attempt.
type Outcome int

const (
	OutcomeAccepted Outcome = iota
	// OutcomeRejected: a guess was submitted but the receipt never showed.
	OutcomeRejected
	// OutcomeUnreadable: OCR failed or produced a guess of the wrong length.
	OutcomeUnreadable
	// OutcomePageFailed: the form could not be loaded or driven.
	OutcomePageFailed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeAccepted:
		return "accepted"
	case OutcomeRejected:
		return "rejected"
	case OutcomeUnreadable:
		return "unreadable"
	case OutcomePageFailed:
		return "page_failed"
	}
	return fmt.Sprintf("outcome(%d)", int(o))
}

// Attempt records what happened on one pass through the form.
type Attempt struct {
	Number  int
	Crop    image.Image
	Guess   string
	Outcome Outcome
	Err     error
}

// Solver drives a Session through the numeric CAPTCHA until the receipt page
// appears. It holds no per-solve state and may be shared.
type Solver struct {
	cfg   SolverConfig
	retry Retry
	ocr   ocr.Recognizer
	log   zerolog.Logger

	// OnAttempt, if set, observes every finished attempt.
	OnAttempt func(Attempt)
}

func NewSolver(cfg SolverConfig, retry Retry, rec ocr.Recognizer, log zerolog.Logger) *Solver {
	if cfg.CaptchaLength <= 0 {
		cfg.CaptchaLength = 6
	}
	return &Solver{cfg: cfg, retry: retry, ocr: rec, log: log}
}

// Solve loads target in sess and retries until the receipt content is present.
// Every attempt starts from a fresh navigation to target. It returns the
// number of attempts made. On success the session is left on the receipt
// page. A wrong-length guess is never typed into the form.
func (s *Solver) Solve(ctx context.Context, sess Session, target string) (int, error) {
	log := s.log.With().Str("target", target).Logger()
	n := 0
	op := func() error {
		if err := ctx.Err(); err != nil {
			return backoff.Permanent(err)
		}
		n++
		at := s.attempt(ctx, sess, target, n)
		if s.OnAttempt != nil {
			s.OnAttempt(at)
		}
		if at.Outcome == OutcomeAccepted {
			return nil
		}
		log.Warn().Err(at.Err).Int("attempt", n).Str("outcome", at.Outcome.String()).
			Str("guess", at.Guess).Msg("captcha attempt failed")
		if err := ctx.Err(); err != nil {
			return backoff.Permanent(err)
		}
		if at.Err == nil {
			return fmt.Errorf("attempt %d: %s", n, at.Outcome)
		}
		return at.Err
	}
	notify := func(err error, next time.Duration) {
		log.Debug().Int("attempt", n).Dur("retry_in", next).Msg("retrying")
	}

	err := backoff.RetryNotifyWithTimer(op, s.retry.backOff(ctx), notify, s.retry.timer(ctx))
	switch {
	case err == nil:
		log.Info().Int("attempt", n).Msg("captcha accepted")
		return n, nil
	case ctx.Err() != nil:
		return n, ctx.Err()
	}
	return n, fmt.Errorf("%w after %d attempts: %v", ErrAttemptsExhausted, n, err)
}

func (s *Solver) attempt(ctx context.Context, sess Session, target string, n int) Attempt {
	at := Attempt{Number: n}
	fail := func(o Outcome, err error) Attempt {
		at.Outcome = o
		at.Err = err
		return at
	}

	if err := sess.Navigate(ctx, target); err != nil {
		return fail(OutcomePageFailed, err)
	}
	if err := sess.WaitFor(ctx, s.cfg.CaptchaSelector, s.cfg.CaptchaWait); err != nil {
		return fail(OutcomePageFailed, err)
	}

	crop, err := s.captureCaptcha(ctx, sess)
	if err != nil {
		return fail(OutcomePageFailed, err)
	}
	at.Crop = crop
	clean, err := ocr.Preprocess(crop)
	if err != nil {
		return fail(OutcomeUnreadable, err)
	}
	raw, err := s.ocr.Recognize(clean, ocr.DigitWhitelist)
	if err != nil {
		return fail(OutcomeUnreadable, err)
	}
	at.Guess = strings.TrimSpace(raw)
	if len(at.Guess) != s.cfg.CaptchaLength {
		return fail(OutcomeUnreadable, fmt.Errorf("%w: %q", ErrWrongLength, snippet(at.Guess, 32)))
	}

	if err := sess.Type(ctx, s.cfg.InputSelector, at.Guess); err != nil {
		return fail(OutcomePageFailed, err)
	}
	if err := s.retry.sleep(ctx, s.cfg.SubmitPause); err != nil {
		return fail(OutcomePageFailed, err)
	}
	if err := sess.Click(ctx, s.cfg.SubmitSelector); err != nil {
		return fail(OutcomePageFailed, err)
	}
	if err := sess.WaitFor(ctx, s.cfg.ResultSelector, s.cfg.ResultWait); err != nil {
		return fail(OutcomeRejected, fmt.Errorf("%w: %v", ErrCaptchaRejected, err))
	}
	at.Outcome = OutcomeAccepted
	return at
}

// captureCaptcha crops the CAPTCHA element out of a full-page screenshot.
func (s *Solver) captureCaptcha(ctx context.Context, sess Session) (image.Image, error) {
	shot, err := sess.Screenshot(ctx)
	if err != nil {
		return nil, err
	}
	page, err := imaging.Decode(bytes.NewReader(shot))
	if err != nil {
		return nil, fmt.Errorf("decode screenshot: %w", err)
	}
	box, err := sess.Bounds(ctx, s.cfg.CaptchaSelector)
	if err != nil {
		return nil, err
	}
	box = box.Intersect(page.Bounds())
	if box.Empty() {
		return nil, fmt.Errorf("captcha box outside screenshot: %w", ocr.ErrEmptyImage)
	}
	return imaging.Crop(page, box), nil
}
