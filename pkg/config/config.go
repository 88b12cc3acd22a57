// Package config reads runtime settings from the environment (optionally
// seeded from a .env file) into typed values.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"nfcescan/pkg/archive"
	"nfcescan/pkg/nfce"
)

type Config struct {
	DBDSN         string
	DBAutoMigrate bool
	HTTPAddr      string
	LogLevel      string

	PortalURL       string
	BrowserHeadless bool
	BrowserBin      string
	UserAgent       string
	CaptchaWait     time.Duration
	DanfeWait       time.Duration
	RetryDelay      time.Duration
	SubmitPause     time.Duration
	MaxAttempts     int
	ScanTimeout     time.Duration
	TesseractLang   string

	ArchiveEndpoint  string
	ArchiveAccessKey string
	ArchiveSecretKey string
	ArchiveBucket    string
	ArchiveRegion    string
	ArchiveUseSSL    bool

	WatchDir     string
	ProcessedDir string
	Workers      int
}

const (
	defaultHTTPAddr     = ":8081"
	defaultCaptchaWait  = 10 * time.Second
	defaultDanfeWait    = 15 * time.Second
	defaultRetryDelay   = 5 * time.Second
	defaultSubmitPause  = 3 * time.Second
	defaultScanTimeout  = 10 * time.Minute
	defaultBucket       = "danfe"
	defaultWatchDir     = "inbox"
	defaultProcessedDir = "inbox/processed"
)

// Load reads configuration from environment variables falling back to defaults.
// Malformed numbers and durations are ignored in favour of the default.
func Load() (*Config, error) {
	cfg := &Config{
		DBDSN:         readEnv("DB_DSN", ""),
		DBAutoMigrate: parseBool("DB_AUTO_MIGRATE", true),
		HTTPAddr:      readEnv("HTTP_ADDR", defaultHTTPAddr),
		LogLevel:      readEnv("LOG_LEVEL", "info"),

		PortalURL:       readEnv("NFCE_PORTAL_URL", nfce.DefaultPortalURL),
		BrowserHeadless: parseBool("BROWSER_HEADLESS", true),
		BrowserBin:      readEnv("BROWSER_BIN", ""),
		UserAgent:       readEnv("BROWSER_USER_AGENT", ""),
		CaptchaWait:     parseDuration("CAPTCHA_WAIT", defaultCaptchaWait),
		DanfeWait:       parseDuration("DANFE_WAIT", defaultDanfeWait),
		RetryDelay:      parseDuration("RETRY_DELAY", defaultRetryDelay),
		SubmitPause:     parseDuration("SUBMIT_PAUSE", defaultSubmitPause),
		MaxAttempts:     parseInt("MAX_ATTEMPTS", 0),
		ScanTimeout:     parseDuration("SCAN_TIMEOUT", defaultScanTimeout),
		TesseractLang:   readEnv("TESSERACT_LANG", "eng"),

		ArchiveEndpoint:  readEnv("ARCHIVE_ENDPOINT", ""),
		ArchiveAccessKey: readEnv("ARCHIVE_ACCESS_KEY", ""),
		ArchiveSecretKey: readEnv("ARCHIVE_SECRET_KEY", ""),
		ArchiveBucket:    readEnv("ARCHIVE_BUCKET", defaultBucket),
		ArchiveRegion:    readEnv("ARCHIVE_REGION", ""),
		ArchiveUseSSL:    parseBool("ARCHIVE_USE_SSL", false),

		WatchDir:     readEnv("WATCH_DIR", defaultWatchDir),
		ProcessedDir: readEnv("PROCESSED_DIR", defaultProcessedDir),
		Workers:      parseInt("WATCH_WORKERS", 1),
	}
	if cfg.MaxAttempts < 0 {
		cfg.MaxAttempts = 0
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.ScanTimeout <= 0 {
		cfg.ScanTimeout = defaultScanTimeout
	}
	return cfg, nil
}

// Solver returns the solver settings with the configured waits.
func (c *Config) Solver() nfce.SolverConfig {
	sc := nfce.DefaultSolverConfig()
	sc.CaptchaWait = c.CaptchaWait
	sc.ResultWait = c.DanfeWait
	sc.SubmitPause = c.SubmitPause
	return sc
}

func (c *Config) Retry() nfce.Retry {
	return nfce.Retry{Delay: c.RetryDelay, MaxAttempts: c.MaxAttempts}
}

func (c *Config) Browser() nfce.BrowserOptions {
	o := nfce.DefaultBrowserOptions()
	o.Headless = c.BrowserHeadless
	o.Bin = c.BrowserBin
	o.UserAgent = c.UserAgent
	return o
}

func (c *Config) Archive() archive.Config {
	return archive.Config{
		Endpoint:  c.ArchiveEndpoint,
		AccessKey: c.ArchiveAccessKey,
		SecretKey: c.ArchiveSecretKey,
		Bucket:    c.ArchiveBucket,
		Region:    c.ArchiveRegion,
		UseSSL:    c.ArchiveUseSSL,
	}
}

func readEnv(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return def
}

func parseBool(key string, def bool) bool {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return def
	}
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	}
	return def
}

func parseInt(key string, def int) int {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			return parsed
		}
	}
	return def
}

func parseDuration(key string, def time.Duration) time.Duration {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if parsed, err := time.ParseDuration(v); err == nil {
			return parsed
		}
	}
	return def
}
