package nfce

import (
	"context"
	"errors"
	"fmt"
	"image"
	"math"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/rs/zerolog"
)

// BrowserOptions configure the Chromium instance behind a RodSession.
type BrowserOptions struct {
	Headless       bool
	Bin            string
	UserAgent      string
	ViewportWidth  int
	ViewportHeight int
}

// DefaultBrowserOptions returns a headless 1280x900 desktop profile.
func DefaultBrowserOptions() BrowserOptions {
	return BrowserOptions{Headless: true, ViewportWidth: 1280, ViewportHeight: 900}
}

// RodSession is a Session backed by a locally launched Chromium.
type RodSession struct {
	launcher *launcher.Launcher
	browser  *rod.Browser
	page     *rod.Page
	log      zerolog.Logger

	closeOnce sync.Once
	closeErr  error
}

// RodLauncher returns a Launcher that starts a new browser per call.
func RodLauncher(opts BrowserOptions, log zerolog.Logger) Launcher {
	return func(ctx context.Context) (Session, error) {
		return LaunchRod(ctx, opts, log)
	}
}

// LaunchRod starts Chromium, connects to it and opens a blank page.
func LaunchRod(ctx context.Context, opts BrowserOptions, log zerolog.Logger) (*RodSession, error) {
	l := launcher.New().
		Context(ctx).
		Headless(opts.Headless).
		Set("disable-gpu").
		Set("no-sandbox").
		Set("disable-dev-shm-usage")
	if opts.UserAgent != "" {
		l = l.Set("user-agent", opts.UserAgent)
	}
	if opts.Bin != "" {
		l = l.Bin(opts.Bin)
	}

	u, err := l.Launch()
	if err != nil {
		// Cleanup waits on the process exit and can hang after a failed launch.
		l.Kill()
		return nil, fmt.Errorf("launch browser: %w", err)
	}
	s := &RodSession{launcher: l, log: log}

	browser := rod.New().ControlURL(u)
	if err := browser.Connect(); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("connect browser: %w", err)
	}
	s.browser = browser

	page, err := browser.Page(proto.TargetCreateTarget{})
	if err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("create page: %w", err)
	}
	w, h := opts.ViewportWidth, opts.ViewportHeight
	if w <= 0 || h <= 0 {
		w, h = 1280, 900
	}
	if err := page.SetViewport(&proto.EmulationSetDeviceMetricsOverride{
		Width:             w,
		Height:            h,
		DeviceScaleFactor: 1,
		Mobile:            false,
	}); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("set viewport: %w", err)
	}
	s.page = page
	log.Debug().Str("control_url", u).Msg("browser started")
	return s, nil
}

func (s *RodSession) Navigate(ctx context.Context, url string) error {
	p := s.page.Context(ctx)
	if err := p.Navigate(url); err != nil {
		return fmt.Errorf("navigate: %w", err)
	}
	if err := p.WaitLoad(); err != nil {
		return fmt.Errorf("wait load: %w", err)
	}
	return nil
}

func (s *RodSession) WaitFor(ctx context.Context, selector string, timeout time.Duration) error {
	p := s.page.Context(ctx).Timeout(timeout)
	defer p.CancelTimeout()
	if _, err := p.Element(selector); err != nil {
		return fmt.Errorf("wait for %s: %w", selector, err)
	}
	return nil
}

func (s *RodSession) Screenshot(ctx context.Context) ([]byte, error) {
	b, err := s.page.Context(ctx).Screenshot(true, &proto.PageCaptureScreenshot{
		Format: proto.PageCaptureScreenshotFormatPng,
	})
	if err != nil {
		return nil, fmt.Errorf("screenshot: %w", err)
	}
	return b, nil
}

// boundsJS reports the element box offset by the scroll position so it lines
// up with a full-page capture.
const boundsJS = `() => {
	const r = this.getBoundingClientRect();
	return {x: r.left + window.scrollX, y: r.top + window.scrollY, w: r.width, h: r.height};
}`

func (s *RodSession) Bounds(ctx context.Context, selector string) (image.Rectangle, error) {
	el, err := s.page.Context(ctx).Element(selector)
	if err != nil {
		return image.Rectangle{}, fmt.Errorf("find %s: %w", selector, err)
	}
	res, err := el.Eval(boundsJS)
	if err != nil {
		return image.Rectangle{}, fmt.Errorf("measure %s: %w", selector, err)
	}
	x := res.Value.Get("x").Num()
	y := res.Value.Get("y").Num()
	w := res.Value.Get("w").Num()
	h := res.Value.Get("h").Num()
	return image.Rect(
		int(math.Floor(x)), int(math.Floor(y)),
		int(math.Ceil(x+w)), int(math.Ceil(y+h)),
	), nil
}

func (s *RodSession) Type(ctx context.Context, selector, text string) error {
	el, err := s.page.Context(ctx).Element(selector)
	if err != nil {
		return fmt.Errorf("find %s: %w", selector, err)
	}
	if err := el.SelectAllText(); err != nil {
		return fmt.Errorf("select %s: %w", selector, err)
	}
	if err := el.Input(text); err != nil {
		return fmt.Errorf("input %s: %w", selector, err)
	}
	return nil
}

func (s *RodSession) Click(ctx context.Context, selector string) error {
	el, err := s.page.Context(ctx).Element(selector)
	if err != nil {
		return fmt.Errorf("find %s: %w", selector, err)
	}
	if err := el.Click(proto.InputMouseButtonLeft, 1); err != nil {
		return fmt.Errorf("click %s: %w", selector, err)
	}
	return nil
}

func (s *RodSession) HTML(ctx context.Context) (string, error) {
	html, err := s.page.Context(ctx).HTML()
	if err != nil {
		return "", fmt.Errorf("page html: %w", err)
	}
	return html, nil
}

// Close shuts the browser down and removes its profile directory. Safe to
// call more than once.
func (s *RodSession) Close() error {
	s.closeOnce.Do(func() {
		var errs []error
		if s.browser != nil {
			if err := s.browser.Close(); err != nil {
				errs = append(errs, fmt.Errorf("close browser: %w", err))
			}
		}
		if s.launcher != nil {
			s.launcher.Kill()
			s.launcher.Cleanup()
		}
		s.closeErr = errors.Join(errs...)
		s.log.Debug().Err(s.closeErr).Msg("browser closed")
	})
	return s.closeErr
}
