// Package app assembles the scraper, database and archive from a Config.
// It is shared by the HTTP server and the CLI.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"nfcescan/pkg/archive"
	"nfcescan/pkg/config"
	"nfcescan/pkg/nfce"
	"nfcescan/pkg/ocr/tesseract"
	"nfcescan/pkg/store"
)

// ErrNoDSN is returned by OpenStore when DB_DSN is not set.
var ErrNoDSN = errors.New("DB_DSN is not set")

// OpenStore connects to Postgres and, when DB_AUTO_MIGRATE allows, migrates
// the receipt tables. Migration problems are logged, not fatal.
func OpenStore(cfg *config.Config, log zerolog.Logger) (*store.Store, error) {
	if cfg.DBDSN == "" {
		return nil, ErrNoDSN
	}
	gdb, err := gorm.Open(postgres.Open(cfg.DBDSN), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Warn),
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	st := store.New(gdb, log.With().Str("component", "store").Logger())
	if cfg.DBAutoMigrate {
		if err := st.Migrate(); err != nil {
			log.Warn().Err(err).Msg("migration incomplete")
		}
	}
	return st, nil
}

// OpenArchive returns the page archive, or nil when none is configured or the
// bucket cannot be prepared.
func OpenArchive(ctx context.Context, cfg *config.Config, log zerolog.Logger) *archive.Store {
	a, err := archive.New(cfg.Archive())
	if errors.Is(err, archive.ErrDisabled) {
		return nil
	}
	if err != nil {
		log.Warn().Err(err).Msg("archive unavailable")
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	if err := a.EnsureBucket(ctx); err != nil {
		log.Warn().Err(err).Msg("archive bucket unavailable, archiving disabled")
		return nil
	}
	return a
}

// NewScraper wires Chromium, Tesseract and the extractor into a Scraper.
func NewScraper(cfg *config.Config, arch *archive.Store, log zerolog.Logger) *nfce.Scraper {
	slog := log.With().Str("component", "solver").Logger()
	solver := nfce.NewSolver(cfg.Solver(), cfg.Retry(), tesseract.New(cfg.TesseractLang), slog)
	s := nfce.NewScraper(
		nfce.RodLauncher(cfg.Browser(), log.With().Str("component", "browser").Logger()),
		solver,
		nfce.NewExtractor(log.With().Str("component", "extractor").Logger()),
		log,
	)
	if arch != nil {
		s.WithArchive(arch)
	}
	return s
}
