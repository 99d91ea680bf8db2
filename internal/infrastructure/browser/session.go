// Package browser defines the thin boundary between the pipeline and
// whatever drives the actual browser tab. Out of scope per spec.md §1
// ("the browser-automation library bindings themselves... the
// UI-interaction primitives"): this package only names the interface
// the pipeline needs, plus a fake good enough to drive the pipeline
// and its tests end to end. A production binding would implement
// Session against chromedp or a Playwright driver; neither appears in
// the example pack, so wiring a real one is left as glue.
package browser

import (
	"context"
	"time"
)

// DebugSnapshot is the bundle captured on 500/502/422 pipeline
// failures (spec §7, "Debug snapshots").
type DebugSnapshot struct {
	ScreenshotJPEG []byte
	DOMHTML        string
	ElementTreeMD  string
	ConsoleLog     []string
	NetworkLog     []string
	LocatorState   string
}

// Session is everything the pipeline needs from the singleton UI
// session. Implementations must be safe to call from only one
// in-flight request at a time (the processing lock already guarantees
// this at the caller level).
type Session interface {
	// Navigate reloads the current page, used after a model switch.
	Navigate(ctx context.Context) error

	// SwitchModel sets the UI's local-storage model preference and
	// reloads (spec §4.7 step 3).
	SwitchModel(ctx context.Context, modelID string) error

	// SetParameter applies one UI-visible sampling parameter and reads
	// it back for verification (spec §4.7 step 6).
	SetParameter(ctx context.Context, name string, value interface{}) (readBack interface{}, err error)

	// FillPrompt fills the prompt textarea with the combined prompt
	// string and attaches any files from the upload sandbox.
	FillPrompt(ctx context.Context, prompt string, attachmentPaths []string) error

	// ClickSubmit clicks submit, falling back to Enter and then
	// Ctrl/Meta+Enter if the control never enables in time (spec §4.7
	// step 7).
	ClickSubmit(ctx context.Context, timeout time.Duration) error

	// WaitDone polls for the UI "done" condition in DOM-scrape mode:
	// submit re-enabled, edit affordance present, textarea empty.
	WaitDone(ctx context.Context) error

	// ExtractText returns the assembled response text in DOM-scrape
	// mode, preferring the edit-mode textarea value and falling back
	// to the "copy markdown" clipboard affordance.
	ExtractText(ctx context.Context) (string, error)

	// QuiesceStopButton ensures the provider's stop/generate control
	// has returned to idle (spec §4.6 step h, best-effort).
	QuiesceStopButton(ctx context.Context) error

	// ClearChat resets the temporary-chat session (spec §4.6 step i;
	// redundant under incognito mode but defensive).
	ClearChat(ctx context.Context) error

	// Snapshot captures a DebugSnapshot for the error-handling path.
	Snapshot(ctx context.Context) (DebugSnapshot, error)
}

// Fake is a no-op Session good enough to drive the pipeline and its
// tests without a real browser attached. SetParameter simply echoes
// back whatever was set, so the parameter cache's verify-mismatch path
// never trips unless a test explicitly wants it to.
type Fake struct {
	Params map[string]interface{}
}

// NewFake returns a ready-to-use Fake session.
func NewFake() *Fake {
	return &Fake{Params: make(map[string]interface{})}
}

func (f *Fake) Navigate(ctx context.Context) error { return nil }

func (f *Fake) SwitchModel(ctx context.Context, modelID string) error { return nil }

func (f *Fake) SetParameter(ctx context.Context, name string, value interface{}) (interface{}, error) {
	f.Params[name] = value
	return value, nil
}

func (f *Fake) FillPrompt(ctx context.Context, prompt string, attachmentPaths []string) error {
	return nil
}

func (f *Fake) ClickSubmit(ctx context.Context, timeout time.Duration) error { return nil }

func (f *Fake) WaitDone(ctx context.Context) error { return nil }

func (f *Fake) ExtractText(ctx context.Context) (string, error) { return "", nil }

func (f *Fake) QuiesceStopButton(ctx context.Context) error { return nil }

func (f *Fake) ClearChat(ctx context.Context) error { return nil }

func (f *Fake) Snapshot(ctx context.Context) (DebugSnapshot, error) {
	return DebugSnapshot{ElementTreeMD: "(fake session, no DOM captured)"}, nil
}
