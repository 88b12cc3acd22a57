package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"nfcescan/models"
	"nfcescan/pkg/app"
	"nfcescan/pkg/archive"
	"nfcescan/pkg/config"
	"nfcescan/pkg/nfce"
	"nfcescan/pkg/store"
	"nfcescan/process/report"
	"nfcescan/process/watcher"
)

var (
	envFile  string
	logLevel string

	cfg *config.Config
	log zerolog.Logger
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rootCmd := newRootCommand()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "nfce: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "nfce",
		Short: "Consumer receipt (NFC-e) scraper",
		Long: `nfce fetches consumer receipts from the state portal, solving the lookup CAPTCHA
with OCR, and stores their header and line items in Postgres.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := config.LoadDotEnv(envFile); err != nil {
				fmt.Fprintln(os.Stderr, "warning: .env:", err)
			}
			c, err := config.Load()
			if err != nil {
				return err
			}
			if logLevel != "" {
				c.LogLevel = logLevel
			}
			cfg = c
			log = config.NewLogger(cfg.LogLevel, os.Stderr)
			return nil
		},
	}
	cmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file loaded before reading the environment")
	cmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Override LOG_LEVEL (debug, info, warn, error)")
	cmd.AddCommand(
		newScanCmd(),
		newWatchCmd(),
		newReportCmd(),
		newReextractCmd(),
		newMigrateCmd(),
	)
	return cmd
}

func newScanCmd() *cobra.Command {
	var category string
	var dryRun bool
	cmd := &cobra.Command{
		Use:   "scan <access-key|url>",
		Short: "Fetch one receipt from the portal and store it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if category != "" && !nfce.IsCategory(category) {
				return fmt.Errorf("%w: %q", store.ErrUnknownCategory, category)
			}
			target, err := nfce.ResolveTarget(cfg.PortalURL, args[0])
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			var saver receiptSaver
			var arch *archive.Store
			if !dryRun {
				// fail on a bad DB_DSN before spending minutes on the CAPTCHA
				st, err := app.OpenStore(cfg, log)
				if err != nil {
					return err
				}
				saver = st
				arch = app.OpenArchive(ctx, cfg, log)
			}
			fetch := app.NewScraper(cfg, arch, log).Fetch
			return scanAndSave(ctx, cmd.OutOrStdout(), cmd.ErrOrStderr(), fetch, saver, target, category, cfg.ScanTimeout)
		},
	}
	cmd.Flags().StringVarP(&category, "category", "c", "", "Category to file the receipt under")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Print the extracted receipt as JSON instead of saving")
	return cmd
}

type receiptSaver interface {
	SaveReceipt(ctx context.Context, rec *nfce.ReceiptRecord) (*models.Receipt, bool, error)
}

// scanAndSave fetches target within timeout and stores the record. A nil
// saver prints the record as JSON instead. The save runs on ctx, not on the
// fetch deadline, and a failed save dumps the record to errOut so it can be
// stored later without another CAPTCHA run.
func scanAndSave(ctx context.Context, out, errOut io.Writer, fetch watcher.FetchFunc, saver receiptSaver, target, category string, timeout time.Duration) error {
	fetchCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		fetchCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	rec, err := fetch(fetchCtx, target)
	if err != nil {
		return err
	}
	if category != "" {
		rec.Category = category
	}
	if saver == nil {
		return printJSON(out, rec)
	}

	m, dup, err := saver.SaveReceipt(ctx, rec)
	if err != nil {
		fmt.Fprintln(errOut, "save failed, extracted receipt follows:")
		_ = printJSON(errOut, rec)
		return err
	}
	if dup {
		fmt.Fprintf(out, "already recorded: id=%d access_key=%s\n", m.ID, m.AccessKey)
		return nil
	}
	fmt.Fprintf(out, "saved: id=%d access_key=%s items=%d total=%s\n", m.ID, m.AccessKey, len(m.Items), m.TotalValue.StringFixed(2))
	return nil
}

func newWatchCmd() *cobra.Command {
	var opts watcher.Options
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Ingest receipt photos from a directory by their QR code",
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.Category != "" && !nfce.IsCategory(opts.Category) {
				return fmt.Errorf("%w: %q", store.ErrUnknownCategory, opts.Category)
			}
			if opts.Dir == "" {
				opts.Dir = cfg.WatchDir
			}
			if opts.ProcessedDir == "" {
				opts.ProcessedDir = cfg.ProcessedDir
			}
			if opts.Workers <= 0 {
				opts.Workers = cfg.Workers
			}
			opts.PortalURL = cfg.PortalURL

			ctx := cmd.Context()
			var fetch watcher.FetchFunc
			var saver watcher.Saver
			if !opts.DryRun {
				st, err := app.OpenStore(cfg, log)
				if err != nil {
					return err
				}
				saver = st
				fetch = app.NewScraper(cfg, app.OpenArchive(ctx, cfg, log), log).Fetch
			}
			r := watcher.New(opts, fetch, saver, log.With().Str("component", "watcher").Logger())
			stats, err := r.Run(ctx)
			if err != nil {
				return err
			}
			log.Info().
				Int("saved", stats.Count(watcher.OutcomeSaved)).
				Int("duplicate", stats.Count(watcher.OutcomeDuplicate)+stats.Count(watcher.OutcomeKnown)).
				Int("no_code", stats.Count(watcher.OutcomeNoCode)).
				Int("failed", stats.Count(watcher.OutcomeFailed)).
				Msg("done")
			return nil
		},
	}
	cmd.Flags().StringVar(&opts.Dir, "dir", "", "Directory to scan (default WATCH_DIR)")
	cmd.Flags().StringVar(&opts.ProcessedDir, "processed-dir", "", "Where handled photos go (default PROCESSED_DIR)")
	cmd.Flags().IntVar(&opts.Workers, "workers", 0, "Concurrent workers (default WATCH_WORKERS)")
	cmd.Flags().BoolVar(&opts.Watch, "watch", false, "Keep watching for new photos after the initial scan")
	cmd.Flags().StringVarP(&opts.Category, "category", "c", "", "Category to file every receipt under")
	cmd.Flags().BoolVar(&opts.DryRun, "dry-run", false, "Decode QR codes only, no portal access or writes")
	return cmd
}

func newReportCmd() *cobra.Command {
	var month, category string
	var list bool
	cmd := &cobra.Command{
		Use:   "report",
		Short: "Print receipt totals for one month",
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := app.OpenStore(cfg, log)
			if err != nil {
				return err
			}
			return report.Run(cmd.Context(), cmd.OutOrStdout(), st, month, category, list)
		},
	}
	cmd.Flags().StringVar(&month, "month", "", "Month to report (YYYY-MM)")
	cmd.Flags().StringVarP(&category, "category", "c", "", "Only this category")
	cmd.Flags().BoolVar(&list, "list", false, "List matching receipts")
	_ = cmd.MarkFlagRequired("month")
	return cmd
}

func newReextractCmd() *cobra.Command {
	var save bool
	cmd := &cobra.Command{
		Use:   "reextract <access-key>",
		Short: "Re-run extraction on an archived receipt page",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			arch := app.OpenArchive(ctx, cfg, log)
			if arch == nil {
				return archive.ErrDisabled
			}
			key := nfce.NormalizeAccessKey(args[0])
			page, err := arch.LoadPage(ctx, key)
			if err != nil {
				return err
			}
			rec, err := nfce.NewExtractor(log).Extract(string(page))
			if err != nil {
				return err
			}
			if rec.AccessKey == "" {
				rec.AccessKey = key
			}
			rec.ArchiveObject = archive.ObjectKey(key)
			if !save {
				return printJSON(cmd.OutOrStdout(), rec)
			}

			st, err := app.OpenStore(cfg, log)
			if err != nil {
				return err
			}
			m, err := st.GetByAccessKey(ctx, rec.AccessKey)
			if errors.Is(err, store.ErrNotFound) {
				m, _, err = st.SaveReceipt(ctx, rec)
				if err != nil {
					return err
				}
				fmt.Printf("saved: id=%d items=%d\n", m.ID, len(m.Items))
				return nil
			}
			if err != nil {
				return err
			}
			m, err = st.ReplaceItems(ctx, m.ID, rec.Items, "")
			if err != nil {
				return err
			}
			fmt.Printf("items replaced: id=%d items=%d\n", m.ID, len(m.Items))
			return nil
		},
	}
	cmd.Flags().BoolVar(&save, "save", false, "Write the re-extracted items to the database")
	return cmd
}

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the receipt tables",
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := app.OpenStore(cfg, log)
			if err != nil {
				return err
			}
			if err := st.Migrate(); err != nil {
				return err
			}
			fmt.Println("migration completed")
			return nil
		},
	}
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
