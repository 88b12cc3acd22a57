package nfce

import (
	"context"
	"image"
	"time"
)

// Session is one browser page the solver drives. Implementations must make
// Close idempotent; the owner of a session always closes it.
type Session interface {
	// Navigate does a full page load of url, discarding the previous page.
	Navigate(ctx context.Context, url string) error
	// WaitFor blocks until selector is present or timeout elapses.
	WaitFor(ctx context.Context, selector string, timeout time.Duration) error
	// Screenshot returns a full-page PNG.
	Screenshot(ctx context.Context) ([]byte, error)
	// Bounds returns the element's box in document coordinates, the same
	// space as Screenshot.
	Bounds(ctx context.Context, selector string) (image.Rectangle, error)
	Type(ctx context.Context, selector, text string) error
	Click(ctx context.Context, selector string) error
	HTML(ctx context.Context) (string, error)
	Close() error
}

// Launcher opens a fresh Session.
type Launcher func(ctx context.Context) (Session, error)
