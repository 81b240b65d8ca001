package runners

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/chromedp/chromedp"

	"github.com/raysh454/perfsandbox/internal/logging"
	"github.com/raysh454/perfsandbox/internal/tools"
)

// Tool codes with a runner.
const (
	CodeLighthouse  = "LH"
	CodePageSpeed   = "PSI"
	CodeTestMySite  = "TMS"
	CodeWebPageTest = "WPT"
)

// Default returns every runner, keyed by code, ready for tools.NewRegistry.
func Default(cfg Config, catalog *tools.Catalog) map[string]tools.Runner {
	info := func(code string) tools.Info {
		i, _ := catalog.Get(code)
		return i
	}
	return map[string]tools.Runner{
		CodeLighthouse:  NewLighthouse(cfg),
		CodePageSpeed:   NewPageSpeed(cfg),
		CodeTestMySite:  NewTestMySite(cfg, info(CodeTestMySite)),
		CodeWebPageTest: NewWebPageTest(cfg),
	}
}

// fail maps err onto the runner contract: fatal errors pass through,
// everything else becomes a failed outcome.
func fail(code string, env tools.Env, err error) (tools.Outcome, error) {
	var fe *tools.FatalError
	if errors.As(err, &fe) {
		return tools.Outcome{}, err
	}
	return tools.Settle(code, env.Browser, err)
}

func toolLogger(env tools.Env, code string) logging.Logger {
	if env.Logger == nil {
		return logging.NewNop()
	}
	return env.Logger.With(logging.F("tool", code))
}

// openTab opens a tab for code. Failing to open one means the browser is
// unusable, unless ctx itself ran out first.
func openTab(ctx context.Context, code string, env tools.Env) (context.Context, context.CancelFunc, error) {
	if env.Browser == nil {
		return nil, nil, &tools.FatalError{Code: code, Err: errors.New("no browser")}
	}
	tabCtx, cancel, err := env.Browser.NewTab(ctx)
	if err != nil {
		if ctx.Err() != nil && env.Browser.Err() == nil {
			return nil, nil, fmt.Errorf("open tab: %w", ctx.Err())
		}
		return nil, nil, &tools.FatalError{Code: code, Err: err}
	}
	return tabCtx, cancel, nil
}

// waitFor waits up to bound for sel to be present in the tab.
func waitFor(tabCtx context.Context, sel string, bound time.Duration) error {
	waitCtx, cancel := context.WithTimeout(tabCtx, bound)
	defer cancel()
	if err := chromedp.Run(waitCtx, chromedp.WaitReady(sel, chromedp.ByQuery)); err != nil {
		return fmt.Errorf("waiting %s for %s: %w", bound, sel, err)
	}
	return nil
}

// capturePage grabs a full-page PNG and the serialized document.
func capturePage(shot *[]byte, html *string) chromedp.Tasks {
	return chromedp.Tasks{
		chromedp.FullScreenshot(shot, 100),
		chromedp.OuterHTML("html", html, chromedp.ByQuery),
	}
}

var spaces = regexp.MustCompile(`\s+`)

const maxSummary = 280

// summarize returns the text of the first selector that matches in html,
// whitespace-collapsed and truncated.
func summarize(html string, selectors ...string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return ""
	}
	for _, sel := range selectors {
		text := squash(doc.Find(sel).First().Text())
		if text != "" {
			return text
		}
	}
	return ""
}

func squash(s string) string {
	s = strings.TrimSpace(spaces.ReplaceAllString(s, " "))
	if r := []rune(s); len(r) > maxSummary {
		s = string(r[:maxSummary-1]) + "…"
	}
	return s
}
