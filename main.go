package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"nfcescan/pkg/app"
	"nfcescan/pkg/config"
	"nfcescan/pkg/nfce"
	"nfcescan/pkg/qr"
)

var (
	appCfg  *config.Config
	logger  zerolog.Logger
	pending = newPendingStore(24 * time.Hour)

	// fetchReceipt runs the browser flow for one portal URL.
	fetchReceipt func(ctx context.Context, target string) (*nfce.ReceiptRecord, error)
	decodeQR     = qr.Decode
)

func main() {
	// Auto-load ./.env if present before reading vars
	if err := config.LoadDotEnv(".env"); err != nil {
		fmt.Fprintln(os.Stderr, "warning: .env:", err)
	}
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}
	appCfg = cfg
	logger = config.NewLogger(cfg.LogLevel, nil)

	// `./nfcescan migrate` runs the schema migration and exits.
	if len(os.Args) > 1 && os.Args[1] == "migrate" {
		st := initDB()
		if err := st.Migrate(); err != nil {
			logger.Fatal().Err(err).Msg("migration failed")
		}
		fmt.Println("migration completed")
		return
	}

	initDB()
	arch := app.OpenArchive(context.Background(), cfg, logger)
	fetchReceipt = app.NewScraper(cfg, arch, logger).Fetch

	r := gin.Default()
	setupRoutes(r)

	logger.Info().Str("addr", cfg.HTTPAddr).Msg("listening")
	if err := r.Run(cfg.HTTPAddr); err != nil {
		logger.Fatal().Err(err).Msg("server stopped")
	}
}
