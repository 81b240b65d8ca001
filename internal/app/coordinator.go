package app

import (
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"slices"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/raysh454/perfsandbox/internal/artifacts"
	"github.com/raysh454/perfsandbox/internal/logging"
	"github.com/raysh454/perfsandbox/internal/progress"
	"github.com/raysh454/perfsandbox/internal/report"
	"github.com/raysh454/perfsandbox/internal/share"
	"github.com/raysh454/perfsandbox/internal/telemetry"
	"github.com/raysh454/perfsandbox/internal/tools"
	"github.com/raysh454/perfsandbox/internal/webclient"
)

var (
	ErrAlreadyStarted = errors.New("session already started")
	ErrNotStarted     = errors.New("session was not accepted by this coordinator")
)

// Forgetter drops whatever a Publisher keeps for a session.
type Forgetter interface {
	Forget(ctx context.Context, sessionID string) error
}

// Deps are the collaborators of a Coordinator. Publisher and Telemetry are
// optional.
type Deps struct {
	Registry  *tools.Registry
	Store     *artifacts.Store
	Launcher  webclient.Launcher
	HTTP      webclient.WebClient
	Compiler  *report.Compiler
	Publisher share.Publisher
	Telemetry *telemetry.Instruments
	Logger    logging.Logger
}

// Coordinator owns every Session: it validates requests, fans each run out
// to its tool runners and drives the session to exactly one terminal event.
type Coordinator struct {
	cfg       *Config
	registry  *tools.Registry
	store     *artifacts.Store
	launcher  webclient.Launcher
	http      webclient.WebClient
	compiler  *report.Compiler
	publisher share.Publisher
	tel       *telemetry.Instruments
	logger    logging.Logger
	validate  *validator.Validate
	now       func() time.Time

	base   context.Context
	cancel context.CancelFunc
	runs   sync.WaitGroup

	mu       sync.Mutex
	sessions map[string]*Session
}

func NewCoordinator(cfg *Config, d Deps) (*Coordinator, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	switch {
	case d.Registry == nil:
		return nil, errors.New("app: registry is nil")
	case d.Store == nil:
		return nil, errors.New("app: artifact store is nil")
	case d.Launcher == nil:
		return nil, errors.New("app: browser launcher is nil")
	case d.Compiler == nil:
		return nil, errors.New("app: report compiler is nil")
	}
	if d.Logger == nil {
		d.Logger = logging.NewNop()
	}
	if d.Telemetry == nil {
		d.Telemetry = telemetry.New()
	}

	base, cancel := context.WithCancel(context.Background())
	return &Coordinator{
		cfg:       cfg,
		registry:  d.Registry,
		store:     d.Store,
		launcher:  d.Launcher,
		http:      d.HTTP,
		compiler:  d.Compiler,
		publisher: d.Publisher,
		tel:       d.Telemetry,
		logger:    d.Logger.With(logging.F("component", "coordinator")),
		validate:  newValidator(),
		now:       func() time.Time { return time.Now().UTC() },
		base:      base,
		cancel:    cancel,
		sessions:  make(map[string]*Session),
	}, nil
}

// Registry exposes the tool table the coordinator resolves codes against.
func (c *Coordinator) Registry() *tools.Registry { return c.registry }

// Submit validates req and registers a new dispatched-pending session. On a
// validation error nothing is registered and no artifacts are touched.
func (c *Coordinator) Submit(ctx context.Context, req RunRequest) (*Session, error) {
	sess := &Session{ID: uuid.NewString(), status: StatusIdle}
	sess.status = StatusValidating

	target, codes, err := c.check(ctx, req)
	if err != nil {
		c.logger.Info("run rejected", logging.F("url", req.TargetURL), logging.Err(err))
		return nil, err
	}

	sess.Target = target
	sess.Codes = codes
	sess.Headless = c.cfg.DefaultHeadless
	if req.Headless != nil {
		sess.Headless = *req.Headless
	}

	if err := c.store.Reset(sess.ID); err != nil {
		return nil, fmt.Errorf("reset artifacts: %w", err)
	}
	sess.channel = progress.NewChannel()
	sess.startedAt = c.now()
	sess.status = StatusDispatched

	c.mu.Lock()
	c.sessions[sess.ID] = sess
	c.mu.Unlock()

	c.logger.Info("run accepted",
		logging.F("session_id", sess.ID),
		logging.F("url", target.String()),
		logging.F("tools", codes))
	return sess, nil
}

func (c *Coordinator) check(ctx context.Context, req RunRequest) (*url.URL, []string, error) {
	if err := checkStruct(c.validate, req); err != nil {
		return nil, nil, err
	}
	target, err := NormalizeTarget(req.TargetURL)
	if err != nil {
		return nil, nil, err
	}
	codes := c.registry.Filter(req.ToolCodes)
	if len(codes) == 0 {
		return nil, nil, &ValidationError{Field: "tools", Reason: "no runnable tools requested"}
	}

	if c.http != nil {
		pctx := ctx
		if c.cfg.PreflightTimeout > 0 {
			var cancel context.CancelFunc
			pctx, cancel = context.WithTimeout(ctx, c.cfg.PreflightTimeout)
			defer cancel()
		}
		if err := preflight(pctx, c.http, target.String()); err != nil {
			return nil, nil, &ValidationError{Field: "url", Reason: fmt.Sprintf("target unreachable: %v", err)}
		}
	}
	return target, codes, nil
}

// Start dispatches every resolved runner of sess. It returns immediately;
// progress is observed through sess.Subscribe.
func (c *Coordinator) Start(sess *Session) error {
	if sess == nil || sess.channel == nil {
		return ErrNotStarted
	}
	sess.mu.Lock()
	if sess.started {
		sess.mu.Unlock()
		return ErrAlreadyStarted
	}
	sess.started = true
	sess.mu.Unlock()

	c.runs.Add(1)
	go func() {
		defer c.runs.Done()
		c.execute(sess)
	}()
	return nil
}

// Run is Submit, Subscribe and Start in one call: the returned subscription
// sees every event of the new session.
func (c *Coordinator) Run(ctx context.Context, req RunRequest) (*Session, *progress.Subscription, error) {
	sess, err := c.Submit(ctx, req)
	if err != nil {
		return nil, nil, err
	}
	sub := sess.Subscribe()
	if err := c.Start(sess); err != nil {
		sub.Close()
		return nil, nil, err
	}
	return sess, sub, nil
}

// Lookup returns the live session with id.
func (c *Coordinator) Lookup(id string) (*Session, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	sess, ok := c.sessions[id]
	return sess, ok
}

func (c *Coordinator) Get(id string) (Snapshot, bool) {
	sess, ok := c.Lookup(id)
	if !ok {
		return Snapshot{}, false
	}
	return sess.Snapshot(), true
}

// List returns every retained session, oldest first.
func (c *Coordinator) List() []Snapshot {
	c.mu.Lock()
	all := make([]*Session, 0, len(c.sessions))
	for _, s := range c.sessions {
		all = append(all, s)
	}
	c.mu.Unlock()

	out := make([]Snapshot, 0, len(all))
	for _, s := range all {
		out = append(out, s.Snapshot())
	}
	slices.SortFunc(out, func(a, b Snapshot) int {
		return cmp.Or(a.StartedAt.Compare(b.StartedAt), cmp.Compare(a.ID, b.ID))
	})
	return out
}

// Shutdown waits for in-flight runs. When ctx ends first, the remaining runs
// are canceled and ctx's error is returned.
func (c *Coordinator) Shutdown(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		c.runs.Wait()
		close(done)
	}()
	select {
	case <-done:
		c.cancel()
		return nil
	case <-ctx.Done():
		c.cancel()
		return ctx.Err()
	}
}

func (c *Coordinator) execute(sess *Session) {
	ctx, span := c.tel.StartRun(c.base, sess.ID, sess.Target.String(), sess.Codes)
	log := c.logger.With(logging.F("session_id", sess.ID))

	browser, err := c.launcher.Launch(ctx, webclient.LaunchOptions{Headless: sess.Headless})
	if err != nil {
		err = fmt.Errorf("launch browser: %w", err)
		c.fail(sess, err)
		c.tel.EndRun(ctx, span, string(StatusFailed), err)
		return
	}
	defer func() {
		if err := browser.Close(); err != nil {
			log.Warn("browser close failed", logging.Err(err))
		}
	}()

	env := tools.Env{
		Browser:   browser,
		HTTP:      c.http,
		Artifacts: c.store.Writer(sess.ID),
		Logger:    log,
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, code := range sess.Codes {
		runner, ok := c.registry.Resolve(code)
		if !ok {
			continue
		}
		g.Go(func() error {
			return c.runTool(gctx, sess, code, runner, env)
		})
	}
	if err := g.Wait(); err != nil {
		c.tel.EndRun(ctx, span, string(StatusFailed), err)
		return
	}

	err = c.aggregate(ctx, sess, browser)
	c.tel.EndRun(ctx, span, string(sess.Status()), err)
}

// runTool runs one tool and settles its outcome. A returned error is always
// a *tools.FatalError and has already aborted the session.
func (c *Coordinator) runTool(ctx context.Context, sess *Session, code string, runner tools.Runner, env tools.Env) error {
	tctx, span := c.tel.StartTool(ctx, code)
	begun := time.Now()
	out, err := runner.Run(tctx, sess.Target, env)
	elapsed := time.Since(begun)

	if err != nil {
		var fatal *tools.FatalError
		if !errors.As(err, &fatal) {
			fatal = &tools.FatalError{Code: code, Err: err}
		}
		c.tel.EndTool(ctx, span, code, string(tools.StatusFailed), elapsed, fatal)
		c.fail(sess, fatal)
		return fatal
	}

	out.ToolCode = code
	if out.Duration == 0 {
		out.Duration = elapsed
	}
	var toolErr error
	if out.Succeeded() {
		out.Error = ""
	} else {
		out.Status = tools.StatusFailed
		if out.Error == "" {
			out.Error = "tool failed without detail"
		}
		toolErr = errors.New(out.Error)
	}
	c.tel.EndTool(ctx, span, code, string(out.Status), elapsed, toolErr)
	c.settle(sess, out)
	return nil
}

// settle records one outcome. The artifacts, the tool-done event and the
// append happen under the session lock, so an abort either sees all three
// or none.
func (c *Coordinator) settle(sess *Session, out tools.Outcome) {
	sess.mu.Lock()
	defer sess.mu.Unlock()

	log := c.logger.With(logging.F("session_id", sess.ID), logging.F("tool", out.ToolCode))
	if sess.status != StatusDispatched {
		log.Debug("settlement discarded", logging.F("status", string(sess.status)))
		return
	}

	var screenshotURL string
	if len(out.Screenshot) > 0 {
		name := out.ToolCode + ".png"
		if err := c.store.Write(sess.ID, name, out.Screenshot); err != nil {
			log.Warn("screenshot not stored", logging.Err(err))
		} else {
			screenshotURL = c.store.ResolveURL(sess.ID, name)
		}
	}
	if out.ReportHTML != "" {
		if err := c.store.Write(sess.ID, out.ToolCode+".html", []byte(out.ReportHTML)); err != nil {
			log.Warn("tool page not stored", logging.Err(err))
		}
	}
	if record, err := json.MarshalIndent(out, "", "  "); err == nil {
		if err := c.store.Write(sess.ID, out.ToolCode+".json", record); err != nil {
			log.Warn("outcome record not stored", logging.Err(err))
		}
	}

	ev := progress.ToolDone(out.ToolCode, string(out.Status), out.ResultsURL, screenshotURL, out.Error)
	if err := sess.channel.Publish(ev); err != nil {
		log.Warn("tool-done not published", logging.Err(err))
	}
	sess.outcomes = append(sess.outcomes, out)
	log.Info("tool settled", logging.F("status", string(out.Status)), logging.F("duration", out.Duration))
}

// fail moves sess to failed and publishes the single run-error. It is a
// no-op once the session is terminal.
func (c *Coordinator) fail(sess *Session, err error) {
	sess.mu.Lock()
	defer sess.mu.Unlock()
	if sess.status.Terminal() {
		return
	}
	sess.status = StatusFailed
	sess.errMsg = err.Error()
	sess.endedAt = c.now()

	if perr := sess.channel.Publish(progress.RunError(sess.errMsg)); perr != nil {
		c.logger.Warn("run-error not published", logging.F("session_id", sess.ID), logging.Err(perr))
	}
	sess.channel.Close()
	c.logger.Error("run failed", logging.F("session_id", sess.ID), logging.Err(err))
}

func (c *Coordinator) aggregate(ctx context.Context, sess *Session, browser webclient.Browser) error {
	sess.mu.Lock()
	if sess.status != StatusDispatched {
		sess.mu.Unlock()
		return nil
	}
	sess.status = StatusAggregating
	outcomes := slices.Clone(sess.outcomes)
	sess.mu.Unlock()

	doc, err := report.Aggregate(c.registry.Catalog(), sess.Target.String(), outcomes, c.now())
	if err != nil {
		err = fmt.Errorf("compose report: %w", err)
		c.fail(sess, err)
		return err
	}

	cctx := ctx
	if c.cfg.ReportTimeout > 0 {
		var cancel context.CancelFunc
		cctx, cancel = context.WithTimeout(ctx, c.cfg.ReportTimeout)
		defer cancel()
	}
	art, err := c.compiler.Compile(cctx, browser, sess.ID, doc)
	if err != nil {
		c.fail(sess, err)
		return err
	}

	var link share.Link
	if c.publisher != nil {
		l, err := c.publisher.Publish(ctx, sess.ID, art.PDFURL)
		if err != nil {
			c.logger.Warn("report not shared", logging.F("session_id", sess.ID), logging.Err(err))
		} else if l != nil {
			link = *l
		}
	}

	sess.mu.Lock()
	defer sess.mu.Unlock()
	if sess.status != StatusAggregating {
		return nil
	}
	sess.status = StatusCompleted
	sess.endedAt = c.now()
	sess.viewURL = art.ViewURL
	sess.pdfURL = art.PDFURL
	sess.publicURL = link.PublicURL
	sess.shortURL = link.ShortURL

	ev := progress.RunComplete(art.ViewURL, art.PDFURL, link.PublicURL, link.ShortURL)
	if err := sess.channel.Publish(ev); err != nil {
		c.logger.Warn("run-complete not published", logging.F("session_id", sess.ID), logging.Err(err))
	}
	sess.channel.Close()
	c.logger.Info("run completed",
		logging.F("session_id", sess.ID),
		logging.F("sections", len(doc.Sections)),
		logging.F("view_url", art.ViewURL))
	return nil
}
