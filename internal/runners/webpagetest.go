package runners

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/chromedp/chromedp"
	"golang.org/x/time/rate"

	"github.com/raysh454/perfsandbox/internal/logging"
	"github.com/raysh454/perfsandbox/internal/tools"
	"github.com/raysh454/perfsandbox/internal/webclient"
)

// ErrNoWPTKey is reported when WebPageTest is requested without an API key.
var ErrNoWPTKey = errors.New("webpagetest: no API key configured")

// WebPageTest starts a test through the WebPageTest REST API, polls until it
// finishes and screenshots the details page.
type WebPageTest struct {
	cfg Config
}

func NewWebPageTest(cfg Config) *WebPageTest {
	return &WebPageTest{cfg: cfg}
}

type wptStartResponse struct {
	StatusCode int    `json:"statusCode"`
	StatusText string `json:"statusText"`
	Data       struct {
		TestID  string `json:"testId"`
		UserURL string `json:"userUrl"`
		JSONURL string `json:"jsonUrl"`
	} `json:"data"`
}

type wptStatusResponse struct {
	StatusCode int    `json:"statusCode"`
	StatusText string `json:"statusText"`
}

// wptTest identifies a started test.
type wptTest struct {
	ID      string
	UserURL string
}

func (w *WebPageTest) Run(ctx context.Context, target *url.URL, env tools.Env) (tools.Outcome, error) {
	start := time.Now()
	logger := toolLogger(env, CodeWebPageTest)

	test, err := w.start(ctx, target, env.HTTP)
	if err != nil {
		return fail(CodeWebPageTest, env, err)
	}
	logger.Info("started webpagetest run", logging.F("test_id", test.ID), logging.F("user_url", test.UserURL))

	if err := w.await(ctx, test, env.HTTP, logger); err != nil {
		return fail(CodeWebPageTest, env, err)
	}

	tabCtx, closeTab, err := openTab(ctx, CodeWebPageTest, env)
	if err != nil {
		return fail(CodeWebPageTest, env, err)
	}
	defer closeTab()

	var (
		shot []byte
		html string
	)
	navCtx, cancelNav := context.WithTimeout(tabCtx, w.cfg.SettleTimeout)
	err = chromedp.Run(navCtx,
		chromedp.Navigate(detailsURL(test.UserURL)),
		chromedp.WaitReady("#main", chromedp.ByQuery),
		chromedp.Screenshot("#main", &shot, chromedp.ByQuery),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	)
	cancelNav()
	if err != nil {
		return fail(CodeWebPageTest, env, err)
	}

	return tools.Outcome{
		ToolCode:   CodeWebPageTest,
		Status:     tools.StatusSucceeded,
		ResultsURL: test.UserURL,
		Screenshot: shot,
		ReportHTML: html,
		Summary:    summarize(html, "#tableResults", "#test_results-container", "title"),
		Duration:   time.Since(start),
	}, nil
}

func (w *WebPageTest) start(ctx context.Context, target *url.URL, client webclient.WebClient) (*wptTest, error) {
	if w.cfg.WPTKey == "" {
		return nil, ErrNoWPTKey
	}
	if client == nil {
		return nil, errors.New("webpagetest: no http client")
	}
	q := url.Values{}
	q.Set("k", w.cfg.WPTKey)
	q.Set("f", "json")
	q.Set("location", w.cfg.WPTLocation)
	q.Set("fvonly", "1")
	q.Set("priority", "0")
	q.Set("runs", "1")
	q.Set("url", target.String())

	var body wptStartResponse
	if err := getJSON(ctx, client, w.endpoint("runtest.php", q), &body); err != nil {
		return nil, fmt.Errorf("webpagetest: start: %w", err)
	}
	if body.StatusCode != 200 {
		return nil, fmt.Errorf("webpagetest: start: %d %s", body.StatusCode, body.StatusText)
	}
	if body.Data.TestID == "" || body.Data.UserURL == "" {
		return nil, errors.New("webpagetest: start: response has no test id")
	}
	return &wptTest{ID: body.Data.TestID, UserURL: body.Data.UserURL}, nil
}

// await polls testStatus.php once per WPTPollInterval until the test
// completes, fails, or WPTMaxWait passes. Transport errors while polling are
// logged and retried.
func (w *WebPageTest) await(ctx context.Context, test *wptTest, client webclient.WebClient, logger logging.Logger) error {
	if w.cfg.WPTMaxWait > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, w.cfg.WPTMaxWait)
		defer cancel()
	}

	limiter := rate.NewLimiter(rate.Every(w.cfg.WPTPollInterval), 1)
	// The test was just queued; the first status check waits a full interval.
	limiter.Allow()

	q := url.Values{}
	q.Set("test", test.ID)
	statusURL := w.endpoint("testStatus.php", q)

	for {
		if err := limiter.Wait(ctx); err != nil {
			return fmt.Errorf("webpagetest: waiting for test %s: %w", test.ID, err)
		}

		var status wptStatusResponse
		if err := getJSON(ctx, client, statusURL, &status); err != nil {
			if ctx.Err() != nil {
				return fmt.Errorf("webpagetest: waiting for test %s: %w", test.ID, ctx.Err())
			}
			logger.Warn("polling webpagetest status", logging.F("test_id", test.ID), logging.Err(err))
			continue
		}

		switch {
		case status.StatusCode == 200:
			return nil
		case status.StatusCode >= 400:
			return fmt.Errorf("webpagetest: test %s: %d %s", test.ID, status.StatusCode, status.StatusText)
		default:
			logger.Debug("webpagetest pending", logging.F("test_id", test.ID), logging.F("status", status.StatusText))
		}
	}
}

func (w *WebPageTest) endpoint(path string, q url.Values) string {
	return strings.TrimRight(w.cfg.WPTBaseURL, "/") + "/" + path + "?" + q.Encode()
}

// detailsURL is the first-run details page of a result.
func detailsURL(userURL string) string {
	if !strings.HasSuffix(userURL, "/") {
		userURL += "/"
	}
	return userURL + "1/details/"
}

func getJSON(ctx context.Context, client webclient.WebClient, rawURL string, v any) error {
	resp, err := client.Get(ctx, rawURL)
	if err != nil {
		return err
	}
	if resp.StatusCode >= 300 {
		return fmt.Errorf("http %d", resp.StatusCode)
	}
	if err := json.Unmarshal(resp.Body, v); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
