// Package testutil provides shared test doubles for use across package tests.
// All dummies implement the corresponding interfaces from the production code,
// allowing injection into components under test without real I/O or side effects.
package testutil

import (
	"context"
	"errors"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/raysh454/perfsandbox/internal/logging"
	"github.com/raysh454/perfsandbox/internal/tools"
	"github.com/raysh454/perfsandbox/internal/webclient"
)

// ─── Logger ────────────────────────────────────────────────────────────

// DummyLogger implements logging.Logger with in-memory recording.
type DummyLogger struct {
	mu     sync.Mutex
	Errors []string
	Infos  []string
	Debugs []string
	Warns  []string
}

func (l *DummyLogger) Debug(msg string, fields ...logging.Field) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.Debugs = append(l.Debugs, msg)
}

func (l *DummyLogger) Info(msg string, fields ...logging.Field) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.Infos = append(l.Infos, msg)
}

func (l *DummyLogger) Warn(msg string, fields ...logging.Field) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.Warns = append(l.Warns, msg)
}

func (l *DummyLogger) Error(msg string, fields ...logging.Field) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.Errors = append(l.Errors, msg)
}

func (l *DummyLogger) With(_ ...logging.Field) logging.Logger { return l }

// WarnCount returns how many warnings were logged.
func (l *DummyLogger) WarnCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.Warns)
}

// HasDebug reports whether msg was logged at debug level.
func (l *DummyLogger) HasDebug(msg string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, m := range l.Debugs {
		if m == msg {
			return true
		}
	}
	return false
}

// ─── WebClient ─────────────────────────────────────────────────────────

// DummyWebClient implements webclient.WebClient.
// By default it returns body "ok:<url>" with status 200.
// Set FailURLs[url] = true to force an error, or Statuses[url] to change the
// status code for a specific URL.
type DummyWebClient struct {
	ResponseDelay time.Duration
	FailURLs      map[string]bool
	Statuses      map[string]int
	mu            sync.Mutex
	Requests      []*webclient.Request
}

func (d *DummyWebClient) Do(ctx context.Context, req *webclient.Request) (*webclient.Response, error) {
	if d.ResponseDelay > 0 {
		select {
		case <-time.After(d.ResponseDelay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	d.mu.Lock()
	d.Requests = append(d.Requests, req)
	d.mu.Unlock()

	if d.FailURLs != nil && d.FailURLs[req.URL] {
		return nil, &errString{"dummy fetch fail for " + req.URL}
	}
	status := 200
	if s, ok := d.Statuses[req.URL]; ok {
		status = s
	}

	return &webclient.Response{
		Request:    req,
		Body:       []byte("ok:" + req.URL),
		StatusCode: status,
		FetchedAt:  time.Now(),
	}, nil
}

func (d *DummyWebClient) Get(ctx context.Context, url string) (*webclient.Response, error) {
	return d.Do(ctx, &webclient.Request{Method: "GET", URL: url})
}

func (d *DummyWebClient) Close() error { return nil }

// ─── Browser ───────────────────────────────────────────────────────────

// FakeBrowser implements webclient.Browser without Chrome. Tabs are plain
// cancelable contexts, so chromedp actions run against them fail; it is
// meant for code that only needs tab bookkeeping or the lost-context path.
type FakeBrowser struct {
	// TabErr, when set, is returned by every NewTab call.
	TabErr error

	mu     sync.Mutex
	closed bool
	tabs   int
}

func (b *FakeBrowser) NewTab(ctx context.Context) (context.Context, context.CancelFunc, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, nil, webclient.ErrBrowserClosed
	}
	if b.TabErr != nil {
		return nil, nil, b.TabErr
	}
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}
	b.tabs++
	tab, cancel := context.WithCancel(ctx)
	return tab, cancel, nil
}

func (b *FakeBrowser) Err() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return webclient.ErrBrowserClosed
	}
	return nil
}

func (b *FakeBrowser) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	return nil
}

// Tabs returns how many tabs were opened.
func (b *FakeBrowser) Tabs() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.tabs
}

// FakeLauncher hands out FakeBrowsers.
type FakeLauncher struct {
	Err error

	mu       sync.Mutex
	Browsers []*FakeBrowser
	Options  []webclient.LaunchOptions
}

func (l *FakeLauncher) Launch(ctx context.Context, opts webclient.LaunchOptions) (webclient.Browser, error) {
	if l.Err != nil {
		return nil, l.Err
	}
	b := &FakeBrowser{}
	l.mu.Lock()
	l.Browsers = append(l.Browsers, b)
	l.Options = append(l.Options, opts)
	l.mu.Unlock()
	return b, nil
}

// Last returns the most recently launched browser, or nil.
func (l *FakeLauncher) Last() *FakeBrowser {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.Browsers) == 0 {
		return nil
	}
	return l.Browsers[len(l.Browsers)-1]
}

// ─── Artifacts ─────────────────────────────────────────────────────────

// ArtifactRecorder implements tools.ArtifactWriter in memory.
type ArtifactRecorder struct {
	mu    sync.Mutex
	Files map[string][]byte
}

func (a *ArtifactRecorder) Write(name string, data []byte) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.Files == nil {
		a.Files = make(map[string][]byte)
	}
	a.Files[name] = append([]byte(nil), data...)
	return nil
}

func (a *ArtifactRecorder) URL(name string) string { return "mem://" + name }

// Get returns a stored file.
func (a *ArtifactRecorder) Get(name string) ([]byte, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	data, ok := a.Files[name]
	return data, ok
}

// ─── Runners ───────────────────────────────────────────────────────────

// ScriptedRunner implements tools.Runner with a fixed script: wait Delay (or
// until Gate is closed), then return Err if set, otherwise Outcome.
type ScriptedRunner struct {
	Code    string
	Delay   time.Duration
	Gate    <-chan struct{}
	Outcome tools.Outcome
	Err     error

	calls   atomic.Int32
	mu      sync.Mutex
	started chan struct{}
	once    sync.Once
}

// Succeeding settles successfully after delay.
func Succeeding(code string, delay time.Duration) *ScriptedRunner {
	return &ScriptedRunner{Code: code, Delay: delay, Outcome: tools.Outcome{
		Status:     tools.StatusSucceeded,
		ResultsURL: "https://results.example/" + code,
		Screenshot: []byte("png:" + code),
		ReportHTML: "<html>" + code + "</html>",
		Summary:    code + " summary",
	}}
}

// Failing settles as a tool-level failure after delay.
func Failing(code string, delay time.Duration, msg string) *ScriptedRunner {
	return &ScriptedRunner{Code: code, Delay: delay, Outcome: tools.Failed(code, errors.New(msg))}
}

// Fatal reports a lost automation context after delay.
func Fatal(code string, delay time.Duration) *ScriptedRunner {
	return &ScriptedRunner{Code: code, Delay: delay, Err: &tools.FatalError{Code: code, Err: webclient.ErrBrowserClosed}}
}

func (r *ScriptedRunner) Run(ctx context.Context, _ *url.URL, _ tools.Env) (tools.Outcome, error) {
	r.calls.Add(1)
	r.once.Do(func() { close(r.startedChan()) })

	var wait <-chan time.Time
	if r.Delay > 0 {
		timer := time.NewTimer(r.Delay)
		defer timer.Stop()
		wait = timer.C
	}
	if r.Gate != nil {
		select {
		case <-r.Gate:
		case <-ctx.Done():
			return tools.Failed(r.Code, ctx.Err()), nil
		}
	}
	if wait != nil {
		select {
		case <-wait:
		case <-ctx.Done():
			return tools.Failed(r.Code, ctx.Err()), nil
		}
	}

	if r.Err != nil {
		return tools.Outcome{}, r.Err
	}
	out := r.Outcome
	out.ToolCode = r.Code
	if out.Status == "" {
		out.Status = tools.StatusSucceeded
	}
	return out, nil
}

// Calls returns how many times Run was invoked.
func (r *ScriptedRunner) Calls() int { return int(r.calls.Load()) }

// Started is closed on the first Run call.
func (r *ScriptedRunner) Started() <-chan struct{} { return r.startedChan() }

func (r *ScriptedRunner) startedChan() chan struct{} {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.started == nil {
		r.started = make(chan struct{})
	}
	return r.started
}

// ─── Renderer ──────────────────────────────────────────────────────────

// FakeRenderer implements report.Renderer.
type FakeRenderer struct {
	Err error

	mu    sync.Mutex
	Calls int
	HTML  []byte
}

func (f *FakeRenderer) RenderPDF(_ context.Context, _ webclient.Browser, html []byte) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Calls++
	f.HTML = append([]byte(nil), html...)
	if f.Err != nil {
		return nil, f.Err
	}
	return []byte("%PDF-1.4 fake"), nil
}

// ─── helpers ───────────────────────────────────────────────────────────

type errString struct{ s string }

func (e *errString) Error() string { return e.s }
