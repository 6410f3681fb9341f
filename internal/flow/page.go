// File: internal/flow/page.go
package flow

import (
	"context"
	"time"
)

// Selector describes one detectable page condition. Exactly one of CSS,
// XPath or Text is set. Text is a case-insensitive regular expression
// matched against visible element text, mirroring the provider's localized
// interstitial pages.
type Selector struct {
	Name  string
	CSS   string
	XPath string
	Text  string
}

// Cookie is the session artifact the flow exists to obtain.
type Cookie struct {
	Name   string
	Domain string
	Value  string
}

// Page is the capability surface the controller drives. A control is
// "present" only if it exists and is visible, searched across the main
// document and every nested frame; invisible or detached matches are ignored
// rather than acted on. Any browser-automation binding can satisfy this.
type Page interface {
	// Navigate loads the given address and waits for the document to settle.
	Navigate(ctx context.Context, url string) error
	// CurrentURL reports the page's present address.
	CurrentURL(ctx context.Context) (string, error)
	// Visible reports whether a visible match for the selector exists.
	Visible(ctx context.Context, sel Selector) (bool, error)
	// Click locates a visible match and clicks it. The bool reports whether
	// a match was found; absence is not an error.
	Click(ctx context.Context, sel Selector) (bool, error)
	// Type focuses a visible match and types the text with human-paced key
	// events. The bool reports whether a match was found.
	Type(ctx context.Context, sel Selector, text string) (bool, error)
	// PressEnter submits the focused control.
	PressEnter(ctx context.Context) error
	// Cookie looks up the named cookie across the browser's active storage.
	Cookie(ctx context.Context, name string) (*Cookie, bool, error)
	// RestoreState loads a previously persisted browser storage state, if
	// one exists for this session's account.
	RestoreState(ctx context.Context) (bool, error)
	// PersistState snapshots the browser storage state for reuse by future
	// attempts.
	PersistState(ctx context.Context) error
}

// Clock abstracts wall-clock time so the polling loops can run under fake
// time in tests.
type Clock interface {
	Now() time.Time
	Sleep(ctx context.Context, d time.Duration) error
}

// RealClock is the production Clock.
type RealClock struct{}

func (RealClock) Now() time.Time { return time.Now() }

// Sleep waits for the duration or until the context is cancelled.
func (RealClock) Sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
