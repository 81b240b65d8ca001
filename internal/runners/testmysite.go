package runners

import (
	"context"
	"net/url"
	"time"

	"github.com/chromedp/chromedp"
	"github.com/chromedp/chromedp/kb"

	"github.com/raysh454/perfsandbox/internal/logging"
	"github.com/raysh454/perfsandbox/internal/tools"
)

// TestMySite submits the target through the Test My Site form and captures
// the results page.
type TestMySite struct {
	cfg  Config
	info tools.Info
}

func NewTestMySite(cfg Config, info tools.Info) *TestMySite {
	return &TestMySite{cfg: cfg, info: info}
}

func (t *TestMySite) Run(ctx context.Context, target *url.URL, env tools.Env) (tools.Outcome, error) {
	start := time.Now()
	logger := toolLogger(env, CodeTestMySite)

	tabCtx, closeTab, err := openTab(ctx, CodeTestMySite, env)
	if err != nil {
		return fail(CodeTestMySite, env, err)
	}
	defer closeTab()

	logger.Debug("opening form", logging.F("url", t.info.URL))
	navCtx, cancelNav := context.WithTimeout(tabCtx, t.cfg.SettleTimeout)
	err = chromedp.Run(navCtx,
		chromedp.Navigate(t.info.URL),
		chromedp.WaitReady(t.info.InputSelector, chromedp.ByQuery),
		chromedp.SendKeys(t.info.InputSelector, target.String()+kb.Enter, chromedp.ByQuery),
	)
	cancelNav()
	if err != nil {
		return fail(CodeTestMySite, env, err)
	}
	if err := waitFor(tabCtx, t.cfg.TMSResultsSelector, t.cfg.TMSWait); err != nil {
		return fail(CodeTestMySite, env, err)
	}

	var (
		shot     []byte
		html     string
		location string
	)
	if err := chromedp.Run(tabCtx, chromedp.Location(&location), capturePage(&shot, &html)); err != nil {
		return fail(CodeTestMySite, env, err)
	}

	return tools.Outcome{
		ToolCode:   CodeTestMySite,
		Status:     tools.StatusSucceeded,
		ResultsURL: location,
		Screenshot: shot,
		ReportHTML: html,
		Summary:    summarize(html, ".results .speed", ".results h2", ".results"),
		Duration:   time.Since(start),
	}, nil
}
