package app

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raysh454/perfsandbox/internal/artifacts"
	"github.com/raysh454/perfsandbox/internal/progress"
	"github.com/raysh454/perfsandbox/internal/report"
	"github.com/raysh454/perfsandbox/internal/share"
	"github.com/raysh454/perfsandbox/internal/testutil"
	"github.com/raysh454/perfsandbox/internal/tools"
)

// ─── Harness ───────────────────────────────────────────────────────────

type fakePublisher struct {
	err error

	mu        sync.Mutex
	targets   []string
	forgotten []string
}

func (p *fakePublisher) Publish(_ context.Context, sessionID, target string) (*share.Link, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.targets = append(p.targets, target)
	if p.err != nil {
		return nil, p.err
	}
	return &share.Link{Alias: "abc", PublicURL: "http://test/s/abc", ShortURL: "https://bit.ly/abc"}, nil
}

func (p *fakePublisher) Forget(_ context.Context, sessionID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.forgotten = append(p.forgotten, sessionID)
	return nil
}

type harness struct {
	coord     *Coordinator
	store     *artifacts.Store
	launcher  *testutil.FakeLauncher
	renderer  *testutil.FakeRenderer
	publisher *fakePublisher
	web       *testutil.DummyWebClient
	logger    *testutil.DummyLogger
}

func newHarness(t *testing.T, runners ...*testutil.ScriptedRunner) *harness {
	t.Helper()

	h := &harness{
		launcher:  &testutil.FakeLauncher{},
		renderer:  &testutil.FakeRenderer{},
		publisher: &fakePublisher{},
		web:       &testutil.DummyWebClient{},
		logger:    &testutil.DummyLogger{},
	}

	table := make(map[string]tools.Runner, len(runners))
	for _, r := range runners {
		table[r.Code] = r
	}
	reg, err := tools.NewRegistry(tools.DefaultCatalog(), table)
	require.NoError(t, err)

	h.store, err = artifacts.New(artifacts.Config{Root: t.TempDir(), PublicBaseURL: "http://test"}, h.logger)
	require.NoError(t, err)

	compiler, err := report.NewCompiler(h.store, h.renderer, h.logger)
	require.NoError(t, err)

	h.coord, err = NewCoordinator(DefaultConfig(), Deps{
		Registry:  reg,
		Store:     h.store,
		Launcher:  h.launcher,
		HTTP:      h.web,
		Compiler:  compiler,
		Publisher: h.publisher,
		Logger:    h.logger,
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = h.coord.Shutdown(ctx)
	})
	return h
}

func request(codes ...string) RunRequest {
	return RunRequest{TargetURL: "example.com", ToolCodes: codes}
}

// drain reads events until the subscription ends.
func drain(t *testing.T, sub *progress.Subscription) []progress.Event {
	t.Helper()
	var got []progress.Event
	timeout := time.After(5 * time.Second)
	for {
		select {
		case ev, ok := <-sub.Events():
			if !ok {
				return got
			}
			got = append(got, ev)
		case <-timeout:
			t.Fatalf("timed out waiting for events; got %+v", got)
		}
	}
}

func next(t *testing.T, sub *progress.Subscription) progress.Event {
	t.Helper()
	select {
	case ev, ok := <-sub.Events():
		require.True(t, ok, "subscription ended early")
		return ev
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for event")
	}
	return progress.Event{}
}

func terminals(events []progress.Event) int {
	n := 0
	for _, e := range events {
		if e.Terminal() {
			n++
		}
	}
	return n
}

func (h *harness) exists(t *testing.T, id, name string) bool {
	t.Helper()
	_, err := h.store.Read(id, name)
	if errors.Is(err, artifacts.ErrNotFound) {
		return false
	}
	require.NoError(t, err)
	return true
}

// ─── Submit ────────────────────────────────────────────────────────────

func TestSubmit_UnknownCodesOnlyRejected(t *testing.T) {
	t.Parallel()
	h := newHarness(t, testutil.Succeeding("LH", 0))

	sess, err := h.coord.Submit(context.Background(), request("SS", "NOPE"))
	require.Error(t, err)
	assert.Nil(t, sess)
	assert.ErrorIs(t, err, ErrValidation)

	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "tools", verr.Field)

	assert.Empty(t, h.coord.List())
	entries, err := os.ReadDir(h.store.Root())
	require.NoError(t, err)
	assert.Empty(t, entries, "no namespace may be created for a rejected run")
	assert.Empty(t, h.launcher.Browsers)
	assert.Empty(t, h.web.Requests, "preflight must not run for a rejected tool set")
}

func TestSubmit_InvalidRequests(t *testing.T) {
	t.Parallel()
	h := newHarness(t, testutil.Succeeding("LH", 0))

	cases := []struct {
		name  string
		req   RunRequest
		field string
	}{
		{"empty url", RunRequest{TargetURL: "", ToolCodes: []string{"LH"}}, "url"},
		{"blank url", RunRequest{TargetURL: "   ", ToolCodes: []string{"LH"}}, "url"},
		{"ftp scheme", RunRequest{TargetURL: "ftp://example.com", ToolCodes: []string{"LH"}}, "url"},
		{"no host", RunRequest{TargetURL: "http://", ToolCodes: []string{"LH"}}, "url"},
		{"no tools", RunRequest{TargetURL: "example.com"}, "tools"},
		{"empty tools", RunRequest{TargetURL: "example.com", ToolCodes: []string{}}, "tools"},
		{"blank tool", RunRequest{TargetURL: "example.com", ToolCodes: []string{""}}, "tools"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := h.coord.Submit(context.Background(), tc.req)
			var verr *ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, tc.field, verr.Field)
		})
	}
	assert.Empty(t, h.coord.List())
}

func TestSubmit_PreflightFailureRejected(t *testing.T) {
	t.Parallel()
	h := newHarness(t, testutil.Succeeding("LH", 0))
	h.web.FailURLs = map[string]bool{"http://down.example": true}
	h.web.Statuses = map[string]int{"http://broken.example": 503}

	for _, target := range []string{"down.example", "http://broken.example"} {
		_, err := h.coord.Submit(context.Background(), RunRequest{TargetURL: target, ToolCodes: []string{"LH"}})
		var verr *ValidationError
		require.ErrorAs(t, err, &verr, target)
		assert.Equal(t, "url", verr.Field)
		assert.Contains(t, verr.Reason, "unreachable")
	}
	assert.Empty(t, h.coord.List())
}

func TestSubmit_ClientErrorStatusIsReachable(t *testing.T) {
	t.Parallel()
	h := newHarness(t, testutil.Succeeding("LH", 0))
	h.web.Statuses = map[string]int{"http://example.com": 404}

	sess, err := h.coord.Submit(context.Background(), request("LH"))
	require.NoError(t, err)
	assert.Equal(t, StatusDispatched, sess.Status())
}

func TestSubmit_NormalizesRequest(t *testing.T) {
	t.Parallel()
	h := newHarness(t, testutil.Succeeding("LH", 0), testutil.Succeeding("PSI", 0))

	sess, err := h.coord.Submit(context.Background(), RunRequest{
		TargetURL: "  Bücher.example/path#frag ",
		ToolCodes: []string{"lh", "LH", "psi", "CRUX"},
	})
	require.NoError(t, err)

	assert.Equal(t, "http://xn--bcher-kva.example/path", sess.Target.String())
	assert.ElementsMatch(t, []string{"LH", "PSI"}, sess.Codes)
	assert.True(t, sess.Headless, "headless defaults from config")
	assert.Equal(t, StatusDispatched, sess.Status())

	snap, ok := h.coord.Get(sess.ID)
	require.True(t, ok)
	assert.Equal(t, StatusDispatched, snap.Status)
	assert.Nil(t, snap.EndedAt)
	assert.Empty(t, h.launcher.Browsers, "nothing launches before Start")
}

func TestStart_OnlyOnce(t *testing.T) {
	t.Parallel()
	h := newHarness(t, testutil.Succeeding("LH", 0))

	sess, err := h.coord.Submit(context.Background(), request("LH"))
	require.NoError(t, err)
	sub := sess.Subscribe()
	require.NoError(t, h.coord.Start(sess))
	assert.ErrorIs(t, h.coord.Start(sess), ErrAlreadyStarted)
	drain(t, sub)
	assert.Len(t, h.launcher.Browsers, 1)

	assert.ErrorIs(t, h.coord.Start(&Session{}), ErrNotStarted)
}

// ─── Run lifecycle ─────────────────────────────────────────────────────

func TestRun_PartialFailureCompletes(t *testing.T) {
	t.Parallel()
	h := newHarness(t,
		testutil.Succeeding("LH", 5*time.Millisecond),
		testutil.Failing("PSI", 40*time.Millisecond, "results selector timeout"),
	)

	headless := false
	sess, sub, err := h.coord.Run(context.Background(), RunRequest{
		TargetURL: "example.com", ToolCodes: []string{"LH", "PSI"}, Headless: &headless,
	})
	require.NoError(t, err)
	events := drain(t, sub)

	require.Len(t, events, 3)
	assert.Equal(t, progress.KindToolDone, events[0].Kind)
	assert.Equal(t, "LH", events[0].ToolCode)
	assert.Equal(t, progress.StatusSucceeded, events[0].Status)
	assert.Equal(t, "https://results.example/LH", events[0].ResultsURL)
	assert.Equal(t, h.store.ResolveURL(sess.ID, "LH.png"), events[0].ScreenshotURL)

	assert.Equal(t, "PSI", events[1].ToolCode)
	assert.Equal(t, progress.StatusFailed, events[1].Status)
	assert.Equal(t, "results selector timeout", events[1].Detail)
	assert.Empty(t, events[1].ScreenshotURL)

	done := events[2]
	assert.Equal(t, progress.KindRunComplete, done.Kind)
	assert.Equal(t, h.store.ResolveURL(sess.ID, report.HTMLName), done.ViewURL)
	assert.Equal(t, h.store.ResolveURL(sess.ID, report.PDFName), done.PDFURL)
	assert.Equal(t, "http://test/s/abc", done.PublicURL)
	assert.Equal(t, "https://bit.ly/abc", done.ShortURL)
	assert.Equal(t, 1, terminals(events))

	snap := sess.Snapshot()
	assert.Equal(t, StatusCompleted, snap.Status)
	require.Len(t, snap.Outcomes, 2)
	assert.NotNil(t, snap.EndedAt)
	assert.Equal(t, done.ViewURL, snap.ViewURL)

	html := string(h.renderer.HTML)
	assert.Contains(t, html, `data-tool="LH"`)
	assert.NotContains(t, html, `data-tool="PSI"`)

	h.coord.runs.Wait()
	for _, name := range []string{"LH.png", "LH.html", "LH.json", "PSI.json", report.HTMLName, report.PDFName} {
		assert.True(t, h.exists(t, sess.ID, name), name)
	}
	assert.False(t, h.exists(t, sess.ID, "PSI.png"))

	require.Len(t, h.launcher.Options, 1)
	assert.False(t, h.launcher.Options[0].Headless)
	assert.Error(t, h.launcher.Last().Err(), "browser is closed when the run ends")
	assert.Equal(t, []string{done.PDFURL}, h.publisher.targets)
}

func TestRun_EventsFollowCompletionOrder(t *testing.T) {
	t.Parallel()
	gates := map[string]chan struct{}{
		"LH":  make(chan struct{}),
		"PSI": make(chan struct{}),
		"TMS": make(chan struct{}),
	}
	var runners []*testutil.ScriptedRunner
	for code, gate := range gates {
		r := testutil.Succeeding(code, 0)
		r.Gate = gate
		runners = append(runners, r)
	}
	h := newHarness(t, runners...)

	sess, sub, err := h.coord.Run(context.Background(), request("LH", "TMS", "PSI"))
	require.NoError(t, err)

	for _, code := range []string{"TMS", "LH", "PSI"} {
		close(gates[code])
		ev := next(t, sub)
		assert.Equal(t, code, ev.ToolCode)
	}
	rest := drain(t, sub)
	require.Len(t, rest, 1)
	assert.Equal(t, progress.KindRunComplete, rest[0].Kind)

	var order []string
	for _, o := range sess.Outcomes() {
		order = append(order, o.ToolCode)
	}
	assert.Equal(t, []string{"TMS", "LH", "PSI"}, order)

	html := string(h.renderer.HTML)
	assert.Less(t, strings.Index(html, `data-tool="TMS"`), strings.Index(html, `data-tool="LH"`))
	assert.Less(t, strings.Index(html, `data-tool="LH"`), strings.Index(html, `data-tool="PSI"`))
}

func TestRun_FatalAbortsOnce(t *testing.T) {
	t.Parallel()
	fatalGate := make(chan struct{})
	lateGate := make(chan struct{})

	a := testutil.Succeeding("LH", 0)
	b := testutil.Fatal("PSI", 0)
	b.Gate = fatalGate
	c := testutil.Succeeding("TMS", 0)
	c.Gate = lateGate
	h := newHarness(t, a, b, c)

	sess, sub, err := h.coord.Run(context.Background(), request("LH", "PSI", "TMS"))
	require.NoError(t, err)

	first := next(t, sub)
	assert.Equal(t, "LH", first.ToolCode)
	close(fatalGate)

	rest := drain(t, sub)
	require.Len(t, rest, 1)
	assert.Equal(t, progress.KindRunError, rest[0].Kind)
	assert.Contains(t, rest[0].Detail, "PSI")

	// TMS settles after the abort and must be discarded.
	close(lateGate)
	h.coord.runs.Wait()

	snap := sess.Snapshot()
	assert.Equal(t, StatusFailed, snap.Status)
	require.Len(t, snap.Outcomes, 1)
	assert.Equal(t, "LH", snap.Outcomes[0].ToolCode)
	assert.NotEmpty(t, snap.Error)

	assert.True(t, h.exists(t, sess.ID, "LH.png"), "artifacts written before the abort remain")
	assert.False(t, h.exists(t, sess.ID, "PSI.json"))
	assert.False(t, h.exists(t, sess.ID, "TMS.json"))
	assert.False(t, h.exists(t, sess.ID, report.HTMLName))
	assert.Zero(t, h.renderer.Calls)
	assert.Empty(t, h.publisher.targets)
}

func TestRun_PlainRunnerErrorIsFatal(t *testing.T) {
	t.Parallel()
	r := testutil.Succeeding("LH", 0)
	r.Err = errors.New("unclassified")
	h := newHarness(t, r)

	_, sub, err := h.coord.Run(context.Background(), request("LH"))
	require.NoError(t, err)
	events := drain(t, sub)
	require.Len(t, events, 1)
	assert.Equal(t, progress.KindRunError, events[0].Kind)
	assert.Contains(t, events[0].Detail, tools.ErrFatal.Error())
}

func TestRun_ZeroSuccessesStillReports(t *testing.T) {
	t.Parallel()
	h := newHarness(t,
		testutil.Failing("LH", 0, "api 500"),
		testutil.Failing("PSI", 0, "timeout"),
	)

	sess, sub, err := h.coord.Run(context.Background(), request("LH", "PSI"))
	require.NoError(t, err)
	events := drain(t, sub)

	require.Len(t, events, 3)
	assert.Equal(t, progress.KindRunComplete, events[2].Kind)
	assert.Equal(t, StatusCompleted, sess.Status())
	assert.Contains(t, string(h.renderer.HTML), `class="empty"`)
	assert.True(t, h.exists(t, sess.ID, report.PDFName))
}

func TestRun_ShareFailureIsNotFatal(t *testing.T) {
	t.Parallel()
	h := newHarness(t, testutil.Succeeding("LH", 0))
	h.publisher.err = errors.New("bitly down")

	sess, sub, err := h.coord.Run(context.Background(), request("LH"))
	require.NoError(t, err)
	events := drain(t, sub)

	require.Len(t, events, 2)
	done := events[1]
	assert.Equal(t, progress.KindRunComplete, done.Kind)
	assert.NotEmpty(t, done.ViewURL)
	assert.Empty(t, done.PublicURL)
	assert.Empty(t, done.ShortURL)
	assert.Equal(t, StatusCompleted, sess.Status())
	assert.Positive(t, h.logger.WarnCount())
}

func TestRun_RenderFailureIsRunError(t *testing.T) {
	t.Parallel()
	h := newHarness(t, testutil.Succeeding("LH", 0))
	h.renderer.Err = errors.New("printToPDF failed")

	sess, sub, err := h.coord.Run(context.Background(), request("LH"))
	require.NoError(t, err)
	events := drain(t, sub)

	require.Len(t, events, 2)
	assert.Equal(t, progress.KindRunError, events[1].Kind)
	assert.Contains(t, events[1].Detail, "render pdf")
	assert.Equal(t, StatusFailed, sess.Status())
	assert.True(t, h.exists(t, sess.ID, "LH.png"), "tool artifacts stay on disk")
	assert.False(t, h.exists(t, sess.ID, report.PDFName))
}

func TestRun_LaunchFailureIsRunError(t *testing.T) {
	t.Parallel()
	a := testutil.Succeeding("LH", 0)
	h := newHarness(t, a)
	h.launcher.Err = errors.New("no chrome binary")

	sess, sub, err := h.coord.Run(context.Background(), request("LH"))
	require.NoError(t, err)
	events := drain(t, sub)

	require.Len(t, events, 1)
	assert.Equal(t, progress.KindRunError, events[0].Kind)
	assert.Contains(t, events[0].Detail, "launch browser")
	assert.Equal(t, StatusFailed, sess.Status())
	assert.Zero(t, a.Calls())
}

func TestRun_ConcurrentRunsUseSeparateNamespaces(t *testing.T) {
	t.Parallel()
	h := newHarness(t, testutil.Succeeding("LH", 5*time.Millisecond))

	const runs = 6
	sessions := make([]*Session, runs)
	var wg sync.WaitGroup
	for i := range runs {
		sess, sub, err := h.coord.Run(context.Background(), request("LH"))
		require.NoError(t, err)
		sessions[i] = sess
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range sub.Events() {
			}
		}()
	}
	wg.Wait()

	seen := make(map[string]bool)
	for _, sess := range sessions {
		assert.Equal(t, StatusCompleted, sess.Status())
		assert.False(t, seen[sess.ID])
		seen[sess.ID] = true
		data, err := h.store.Read(sess.ID, "LH.png")
		require.NoError(t, err)
		assert.Equal(t, "png:LH", string(data))
	}
	assert.Len(t, h.coord.List(), runs)
}

// ─── Queries and eviction ──────────────────────────────────────────────

func TestList_OldestFirst(t *testing.T) {
	t.Parallel()
	h := newHarness(t, testutil.Succeeding("LH", 0))

	base := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	var ids []string
	for i := range 3 {
		h.coord.now = func() time.Time { return base.Add(time.Duration(i) * time.Minute) }
		sess, err := h.coord.Submit(context.Background(), request("LH"))
		require.NoError(t, err)
		ids = append(ids, sess.ID)
	}

	list := h.coord.List()
	require.Len(t, list, 3)
	for i, snap := range list {
		assert.Equal(t, ids[i], snap.ID)
		assert.Equal(t, "http://example.com", snap.Target)
	}

	_, ok := h.coord.Get("missing")
	assert.False(t, ok)
}

func TestEvict_DropsEndedSessions(t *testing.T) {
	t.Parallel()
	h := newHarness(t, testutil.Succeeding("LH", 0))

	done, sub, err := h.coord.Run(context.Background(), request("LH"))
	require.NoError(t, err)
	drain(t, sub)

	pending, err := h.coord.Submit(context.Background(), request("LH"))
	require.NoError(t, err)

	// Leftover namespace from nobody, old enough to sweep.
	orphan := uuid.NewString()
	require.NoError(t, h.store.Write(orphan, "x.png", []byte("x")))
	old := time.Now().Add(-3 * time.Hour)
	require.NoError(t, os.Chtimes(filepath.Join(h.store.Root(), orphan), old, old))

	assert.Zero(t, h.coord.Evict(context.Background(), time.Now()), "retention not yet elapsed")

	n := h.coord.Evict(context.Background(), time.Now().Add(2*time.Hour))
	assert.Equal(t, 1, n)

	_, ok := h.coord.Get(done.ID)
	assert.False(t, ok)
	_, ok = h.coord.Get(pending.ID)
	assert.True(t, ok, "sessions that have not ended are kept")

	_, err = os.Stat(filepath.Join(h.store.Root(), done.ID))
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(filepath.Join(h.store.Root(), orphan))
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(filepath.Join(h.store.Root(), pending.ID))
	assert.NoError(t, err)

	assert.Equal(t, []string{done.ID}, h.publisher.forgotten)
}
