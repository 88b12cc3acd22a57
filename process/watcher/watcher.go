// Package watcher ingests receipts in bulk from a directory of receipt photos:
// each photo's QR code is decoded, the receipt is fetched from the portal and
// stored, and the photo is moved out of the way.
package watcher

import (
	"context"
	"errors"
	"io"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/disintegration/imaging"
	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"

	"nfcescan/models"
	"nfcescan/pkg/nfce"
	"nfcescan/pkg/qr"
)

// FetchFunc runs the portal flow for one target URL.
type FetchFunc func(ctx context.Context, target string) (*nfce.ReceiptRecord, error)

// Saver is the persistence side of the watcher.
type Saver interface {
	Exists(ctx context.Context, accessKey string) (bool, error)
	SaveReceipt(ctx context.Context, rec *nfce.ReceiptRecord) (*models.Receipt, bool, error)
}

type Options struct {
	Dir          string
	ProcessedDir string
	PortalURL    string
	Workers      int
	Watch        bool
	// Category overrides the extracted default when set.
	Category string
	// DryRun decodes QR codes and logs targets without scraping or writing.
	DryRun bool
}

// Outcome is what happened to one photo.
type Outcome string

const (
	OutcomeSaved     Outcome = "saved"
	OutcomeDuplicate Outcome = "duplicate"
	OutcomeKnown     Outcome = "known"
	OutcomeNoCode    Outcome = "no_code"
	OutcomeFailed    Outcome = "failed"
	OutcomeDryRun    Outcome = "dry_run"
)

// Stats counts outcomes over a run.
type Stats struct {
	mu     sync.Mutex
	counts map[Outcome]int
}

func (s *Stats) add(o Outcome) {
	s.mu.Lock()
	if s.counts == nil {
		s.counts = map[Outcome]int{}
	}
	s.counts[o]++
	s.mu.Unlock()
}

// Count returns how many photos ended with o.
func (s *Stats) Count(o Outcome) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.counts[o]
}

type Runner struct {
	opts   Options
	fetch  FetchFunc
	saver  Saver
	decode func(path string) (string, error)
	log    zerolog.Logger

	mu       sync.Mutex
	inflight map[string]bool
	stats    Stats
}

func New(opts Options, fetch FetchFunc, saver Saver, log zerolog.Logger) *Runner {
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if opts.ProcessedDir == "" {
		opts.ProcessedDir = filepath.Join(opts.Dir, "processed")
	}
	return &Runner{
		opts:     opts,
		fetch:    fetch,
		saver:    saver,
		decode:   qr.DecodeFile,
		log:      log,
		inflight: map[string]bool{},
	}
}

// Run processes every photo already in the directory and, in watch mode,
// keeps picking up new ones until ctx is cancelled.
func (r *Runner) Run(ctx context.Context) (*Stats, error) {
	files := listImageFiles(r.opts.Dir)
	r.log.Info().Str("dir", r.opts.Dir).Int("files", len(files)).Int("workers", r.opts.Workers).Msg("scanning")

	fileCh := make(chan string, 256)
	var wg sync.WaitGroup
	for i := 0; i < r.opts.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for name := range fileCh {
				if ctx.Err() != nil {
					r.release(name)
					continue
				}
				o := r.processFile(ctx, name)
				r.stats.add(o)
				r.release(name)
			}
		}()
	}

	var err error
	for _, f := range files {
		r.enqueue(ctx, fileCh, f)
	}
	if r.opts.Watch {
		err = r.watchDirectory(ctx, fileCh)
	}
	close(fileCh)
	wg.Wait()
	if errors.Is(err, context.Canceled) {
		err = nil
	}
	return &r.stats, err
}

// enqueue hands name to the workers unless it is already queued.
func (r *Runner) enqueue(ctx context.Context, ch chan<- string, name string) {
	r.mu.Lock()
	if r.inflight[name] {
		r.mu.Unlock()
		return
	}
	r.inflight[name] = true
	r.mu.Unlock()
	select {
	case ch <- name:
	case <-ctx.Done():
		r.release(name)
	}
}

func (r *Runner) release(name string) {
	r.mu.Lock()
	delete(r.inflight, name)
	r.mu.Unlock()
}

func (r *Runner) watchDirectory(ctx context.Context, fileCh chan<- string) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()
	if err := w.Add(r.opts.Dir); err != nil {
		return err
	}
	r.log.Info().Str("dir", r.opts.Dir).Msg("watching (debounced)")

	// debounce: a file is handed over once it stopped changing
	pending := map[string]time.Time{}
	ticker := time.NewTicker(250 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}
			name := filepath.Base(ev.Name)
			if !isSupportedExt(name) {
				continue
			}
			pending[name] = time.Now()
		case <-ticker.C:
			now := time.Now()
			for name, t := range pending {
				if now.Sub(t) > 300*time.Millisecond { // stable
					delete(pending, name)
					r.enqueue(ctx, fileCh, name)
				}
			}
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			r.log.Warn().Err(err).Msg("watch error")
		}
	}
}

// processFile takes one photo through decode, fetch and save. Photos that
// fail to fetch or save stay in place for the next run.
func (r *Runner) processFile(ctx context.Context, name string) Outcome {
	path := filepath.Join(r.opts.Dir, name)
	log := r.log.With().Str("file", name).Logger()

	text, err := r.decode(path)
	if err != nil {
		log.Warn().Err(err).Msg("no readable qr code")
		return OutcomeNoCode
	}
	target, err := nfce.ResolveTarget(r.opts.PortalURL, text)
	if err != nil {
		log.Warn().Err(err).Str("qr", text).Msg("qr code carries no access key")
		return OutcomeNoCode
	}
	key := nfce.AccessKeyFromURL(target)
	if r.opts.DryRun {
		log.Info().Str("target", target).Str("access_key", key).Msg("dry-run")
		return OutcomeDryRun
	}

	if key != "" {
		known, err := r.saver.Exists(ctx, key)
		if err != nil {
			log.Warn().Err(err).Msg("lookup failed, fetching anyway")
		} else if known {
			log.Info().Str("access_key", key).Msg("already recorded, skipping fetch")
			r.moveProcessed(log, path, name)
			return OutcomeKnown
		}
	}

	rec, err := r.fetch(ctx, target)
	if err != nil {
		log.Error().Err(err).Str("target", target).Msg("fetch failed")
		return OutcomeFailed
	}
	if r.opts.Category != "" {
		rec.Category = r.opts.Category
	}
	m, dup, err := r.saver.SaveReceipt(ctx, rec)
	if err != nil {
		log.Error().Err(err).Str("access_key", rec.AccessKey).Msg("save failed")
		return OutcomeFailed
	}
	r.moveProcessed(log, path, name)
	if dup {
		log.Info().Uint("id", m.ID).Str("access_key", m.AccessKey).Msg("duplicate receipt")
		return OutcomeDuplicate
	}
	log.Info().Uint("id", m.ID).Str("access_key", m.AccessKey).Int("items", len(rec.Items)).Msg("receipt saved")
	return OutcomeSaved
}

func (r *Runner) moveProcessed(log zerolog.Logger, path, name string) {
	if err := moveToProcessed(path, r.opts.ProcessedDir, name); err != nil {
		log.Warn().Err(err).Msg("failed to move processed file")
		return
	}
	log.Debug().Str("dir", r.opts.ProcessedDir).Msg("moved processed file")
}

func listImageFiles(dir string) []string {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if !isSupportedExt(e.Name()) {
			continue
		}
		out = append(out, e.Name())
	}
	sort.Strings(out)
	return out
}

func isSupportedExt(name string) bool {
	if strings.HasPrefix(name, ".") {
		return false
	}
	switch strings.ToLower(filepath.Ext(name)) {
	case ".png", ".jpg", ".jpeg", ".gif", ".webp":
		return true
	}
	return false
}

// moveToProcessed moves a photo into processedDir. Photos over 1 MB are
// downscaled on the way. It attempts an atomic rename and falls back to
// copy+remove when necessary.
func moveToProcessed(srcFullPath, processedDir, name string) error {
	const maxBytes = 1_000_000
	if err := os.MkdirAll(processedDir, 0o755); err != nil {
		return err
	}
	dst := filepath.Join(processedDir, name)

	fi, err := os.Stat(srcFullPath)
	if err != nil {
		return err
	}
	if fi.Size() <= maxBytes {
		return renameOrCopy(srcFullPath, dst)
	}
	img, err := imaging.Open(srcFullPath, imaging.AutoOrientation(true))
	if err != nil { // cannot decode, move as-is
		return renameOrCopy(srcFullPath, dst)
	}
	// size roughly scales with area
	scale := math.Sqrt(float64(maxBytes) / float64(fi.Size()))
	if scale > 0.95 {
		scale = 0.95
	}
	if scale < 0.1 {
		scale = 0.1
	}
	w := img.Bounds().Dx()
	h := img.Bounds().Dy()
	newW := int(math.Max(1, math.Round(float64(w)*scale)))
	newH := int(math.Max(1, math.Round(float64(h)*scale)))
	img = imaging.Resize(img, newW, newH, imaging.Lanczos)
	if err := imaging.Save(img, dst); err != nil {
		return renameOrCopy(srcFullPath, dst)
	}
	_ = os.Remove(srcFullPath)
	// one more 80% pass if still too big
	if fi2, err2 := os.Stat(dst); err2 == nil && fi2.Size() > maxBytes {
		if img2, errOpen2 := imaging.Open(dst); errOpen2 == nil {
			img2 = imaging.Resize(img2, int(float64(img2.Bounds().Dx())*0.8), 0, imaging.Lanczos)
			_ = imaging.Save(img2, dst)
		}
	}
	return nil
}

func renameOrCopy(src, dst string) error {
	if err := os.Rename(src, dst); err == nil {
		return nil
	}
	return copyRemove(src, dst)
}

func copyRemove(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		_ = os.Remove(dst)
		return err
	}
	if err := out.Close(); err != nil {
		return err
	}
	return os.Remove(src)
}
