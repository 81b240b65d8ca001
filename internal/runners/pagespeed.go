package runners

import (
	"context"
	"net/url"
	"time"

	"github.com/chromedp/chromedp"

	"github.com/raysh454/perfsandbox/internal/logging"
	"github.com/raysh454/perfsandbox/internal/tools"
)

// PageSpeed loads the PageSpeed Insights page for the target and captures
// the result once it renders.
type PageSpeed struct {
	cfg Config
}

func NewPageSpeed(cfg Config) *PageSpeed {
	return &PageSpeed{cfg: cfg}
}

// ResultsURL is the PageSpeed Insights page for target.
func (p *PageSpeed) ResultsURL(target *url.URL) string {
	return p.cfg.PSIURL + "?url=" + url.QueryEscape(target.String())
}

func (p *PageSpeed) Run(ctx context.Context, target *url.URL, env tools.Env) (tools.Outcome, error) {
	start := time.Now()
	resultsURL := p.ResultsURL(target)
	logger := toolLogger(env, CodePageSpeed)

	tabCtx, closeTab, err := openTab(ctx, CodePageSpeed, env)
	if err != nil {
		return fail(CodePageSpeed, env, err)
	}
	defer closeTab()

	logger.Debug("loading pagespeed page", logging.F("url", resultsURL))
	navCtx, cancelNav := context.WithTimeout(tabCtx, p.cfg.SettleTimeout)
	err = chromedp.Run(navCtx, chromedp.Navigate(resultsURL))
	cancelNav()
	if err != nil {
		return fail(CodePageSpeed, env, err)
	}
	if err := waitFor(tabCtx, p.cfg.PSIResultsSelector, p.cfg.PSIWait); err != nil {
		return fail(CodePageSpeed, env, err)
	}

	var (
		shot []byte
		html string
	)
	if err := chromedp.Run(tabCtx, capturePage(&shot, &html)); err != nil {
		return fail(CodePageSpeed, env, err)
	}

	return tools.Outcome{
		ToolCode:   CodePageSpeed,
		Status:     tools.StatusSucceeded,
		ResultsURL: resultsURL,
		Screenshot: shot,
		ReportHTML: html,
		Summary:    summarize(html, ".lh-gauge__percentage", ".field-data .metric-value", "title"),
		Duration:   time.Since(start),
	}, nil
}
