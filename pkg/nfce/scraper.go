package nfce

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
)

// Archiver keeps a copy of the raw receipt page. It returns where the copy went.
type Archiver interface {
	SavePage(ctx context.Context, accessKey string, html []byte) (string, error)
}

// Scraper fetches one receipt end to end: launch, solve, extract, close.
type Scraper struct {
	launch    Launcher
	solver    *Solver
	extractor *Extractor
	archive   Archiver
	log       zerolog.Logger
}

func NewScraper(launch Launcher, solver *Solver, extractor *Extractor, log zerolog.Logger) *Scraper {
	return &Scraper{launch: launch, solver: solver, extractor: extractor, log: log}
}

// WithArchive enables raw page archiving. Archive failures are logged, never fatal.
func (s *Scraper) WithArchive(a Archiver) *Scraper {
	s.archive = a
	return s
}

// Fetch runs the whole flow against target. The browser session is released
// on every path, including cancellation.
func (s *Scraper) Fetch(ctx context.Context, target string) (*ReceiptRecord, error) {
	sess, err := s.launch(ctx)
	if err != nil {
		return nil, fmt.Errorf("start browser: %w", err)
	}
	defer func() {
		if cerr := sess.Close(); cerr != nil {
			s.log.Warn().Err(cerr).Msg("browser close failed")
		}
	}()

	attempts, err := s.solver.Solve(ctx, sess, target)
	if err != nil {
		return nil, fmt.Errorf("solve captcha: %w", err)
	}
	html, err := sess.HTML(ctx)
	if err != nil {
		return nil, err
	}
	rec, err := s.extractor.Extract(html)
	if err != nil {
		return nil, err
	}
	if rec.AccessKey == "" {
		rec.AccessKey = AccessKeyFromURL(target)
	}
	s.log.Info().Str("access_key", rec.AccessKey).Int("attempts", attempts).
		Int("items", len(rec.Items)).Msg("receipt extracted")

	if s.archive != nil {
		loc, aerr := s.archive.SavePage(ctx, rec.AccessKey, []byte(html))
		if aerr != nil {
			s.log.Warn().Err(aerr).Str("access_key", rec.AccessKey).Msg("archive page failed")
		} else {
			rec.ArchiveObject = loc
			s.log.Debug().Str("object", loc).Msg("page archived")
		}
	}
	return rec, nil
}
