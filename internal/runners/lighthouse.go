package runners

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"math"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/chromedp/chromedp"

	"github.com/raysh454/perfsandbox/internal/logging"
	"github.com/raysh454/perfsandbox/internal/tools"
	"github.com/raysh454/perfsandbox/internal/webclient"
)

// Lighthouse runs a Lighthouse audit through the PageSpeed Insights API and
// screenshots a score card built from the result.
type Lighthouse struct {
	cfg Config
}

func NewLighthouse(cfg Config) *Lighthouse {
	return &Lighthouse{cfg: cfg}
}

var lighthouseCategories = []string{"performance", "accessibility", "best-practices", "seo"}

var lighthouseMetrics = []string{
	"first-contentful-paint",
	"largest-contentful-paint",
	"total-blocking-time",
	"cumulative-layout-shift",
	"speed-index",
	"interactive",
}

type psiResponse struct {
	LighthouseResult json.RawMessage `json:"lighthouseResult"`
	Error            *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

type lighthouseResult struct {
	RequestedURL      string `json:"requestedUrl"`
	FinalURL          string `json:"finalUrl"`
	LighthouseVersion string `json:"lighthouseVersion"`
	FetchTime         string `json:"fetchTime"`
	Categories        map[string]struct {
		Title string   `json:"title"`
		Score *float64 `json:"score"`
	} `json:"categories"`
	Audits map[string]struct {
		Title        string   `json:"title"`
		DisplayValue string   `json:"displayValue"`
		Score        *float64 `json:"score"`
	} `json:"audits"`
}

type scoreEntry struct {
	Title string
	Score int
	Grade string
}

type metricEntry struct {
	Title string
	Value string
	Grade string
}

type scoreCardData struct {
	URL       string
	Version   string
	FetchTime string
	Scores    []scoreEntry
	Metrics   []metricEntry
}

var scoreCardTemplate = template.Must(template.New("lh").Parse(`<!DOCTYPE html>
<html><head><meta charset="utf-8"><title>Lighthouse report for {{.URL}}</title>
<style>
body { font-family: Roboto, Helvetica, Arial, sans-serif; margin: 32px; color: #212121; }
.gauges { display: flex; gap: 48px; margin: 24px 0; }
.gauge { text-align: center; width: 120px; }
.gauge .value { font-size: 40px; border: 8px solid; border-radius: 50%; width: 96px; height: 96px; line-height: 96px; margin: 0 auto 8px; }
.pass { color: #0cce6b; } .average { color: #ffa400; } .fail { color: #ff4e42; } .na { color: #757575; }
table { border-collapse: collapse; width: 100%; }
td { padding: 8px 12px; border-bottom: 1px solid #e0e0e0; }
td.v { text-align: right; font-weight: bold; }
.meta { color: #757575; font-size: 13px; }
</style></head>
<body>
<h1>Lighthouse</h1>
<p class="meta">{{.URL}}{{with .Version}} &middot; Lighthouse {{.}}{{end}}{{with .FetchTime}} &middot; {{.}}{{end}}</p>
<div class="gauges">
{{- range .Scores}}
<div class="gauge {{.Grade}}"><div class="value">{{.Score}}</div><div class="label">{{.Title}}</div></div>
{{- end}}
</div>
<table>
{{- range .Metrics}}
<tr><td>{{.Title}}</td><td class="v {{.Grade}}">{{.Value}}</td></tr>
{{- end}}
</table>
</body></html>`))

func (l *Lighthouse) Run(ctx context.Context, target *url.URL, env tools.Env) (tools.Outcome, error) {
	start := time.Now()
	logger := toolLogger(env, CodeLighthouse)

	if l.cfg.LighthouseTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, l.cfg.LighthouseTimeout)
		defer cancel()
	}

	lhr, raw, err := l.fetch(ctx, target, env.HTTP)
	if err != nil {
		return fail(CodeLighthouse, env, err)
	}
	if env.Artifacts != nil {
		if err := env.Artifacts.Write(CodeLighthouse+".lhr.json", raw); err != nil {
			logger.Warn("storing lighthouse result", logging.Err(err))
		}
	}

	card, err := renderScoreCard(lhr, target.String())
	if err != nil {
		return fail(CodeLighthouse, env, err)
	}

	tabCtx, closeTab, err := openTab(ctx, CodeLighthouse, env)
	if err != nil {
		return fail(CodeLighthouse, env, err)
	}
	defer closeTab()

	var shot []byte
	err = chromedp.Run(tabCtx,
		chromedp.Navigate("about:blank"),
		webclient.SetContent(card),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.FullScreenshot(&shot, 100),
	)
	if err != nil {
		return fail(CodeLighthouse, env, err)
	}

	return tools.Outcome{
		ToolCode:   CodeLighthouse,
		Status:     tools.StatusSucceeded,
		ResultsURL: l.cfg.PSIURL + "?url=" + url.QueryEscape(target.String()),
		Screenshot: shot,
		ReportHTML: card,
		Summary:    lighthouseSummary(lhr),
		Duration:   time.Since(start),
	}, nil
}

// fetch calls the runPagespeed API and returns the decoded Lighthouse result
// together with its raw JSON.
func (l *Lighthouse) fetch(ctx context.Context, target *url.URL, client webclient.WebClient) (*lighthouseResult, []byte, error) {
	if client == nil {
		return nil, nil, errors.New("lighthouse: no http client")
	}
	q := url.Values{}
	q.Set("url", target.String())
	if l.cfg.LighthouseStrategy != "" {
		q.Set("strategy", l.cfg.LighthouseStrategy)
	}
	for _, c := range lighthouseCategories {
		q.Add("category", c)
	}
	if l.cfg.LighthouseKey != "" {
		q.Set("key", l.cfg.LighthouseKey)
	}

	resp, err := client.Get(ctx, l.cfg.LighthouseAPI+"?"+q.Encode())
	if err != nil {
		return nil, nil, fmt.Errorf("lighthouse: %w", err)
	}

	var body psiResponse
	decodeErr := json.Unmarshal(resp.Body, &body)
	if resp.StatusCode != http.StatusOK {
		if decodeErr == nil && body.Error != nil && body.Error.Message != "" {
			return nil, nil, fmt.Errorf("lighthouse: api returned %d: %s", resp.StatusCode, body.Error.Message)
		}
		return nil, nil, fmt.Errorf("lighthouse: api returned %d", resp.StatusCode)
	}
	if decodeErr != nil {
		return nil, nil, fmt.Errorf("lighthouse: decode response: %w", decodeErr)
	}
	if len(body.LighthouseResult) == 0 {
		return nil, nil, errors.New("lighthouse: response has no lighthouseResult")
	}

	var lhr lighthouseResult
	if err := json.Unmarshal(body.LighthouseResult, &lhr); err != nil {
		return nil, nil, fmt.Errorf("lighthouse: decode lighthouseResult: %w", err)
	}
	return &lhr, body.LighthouseResult, nil
}

func renderScoreCard(lhr *lighthouseResult, fallbackURL string) (string, error) {
	data := scoreCardData{
		URL:       lhr.FinalURL,
		Version:   lhr.LighthouseVersion,
		FetchTime: lhr.FetchTime,
	}
	if data.URL == "" {
		data.URL = fallbackURL
	}
	for _, id := range lighthouseCategories {
		c, ok := lhr.Categories[id]
		if !ok {
			continue
		}
		e := scoreEntry{Title: c.Title, Grade: "na"}
		if c.Score != nil {
			e.Score = percent(*c.Score)
			e.Grade = grade(*c.Score)
		}
		data.Scores = append(data.Scores, e)
	}
	for _, id := range lighthouseMetrics {
		a, ok := lhr.Audits[id]
		if !ok || a.DisplayValue == "" {
			continue
		}
		m := metricEntry{Title: a.Title, Value: a.DisplayValue, Grade: "na"}
		if a.Score != nil {
			m.Grade = grade(*a.Score)
		}
		data.Metrics = append(data.Metrics, m)
	}

	var buf bytes.Buffer
	if err := scoreCardTemplate.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("lighthouse: render score card: %w", err)
	}
	return buf.String(), nil
}

func lighthouseSummary(lhr *lighthouseResult) string {
	parts := make([]string, 0, len(lighthouseCategories))
	for _, id := range lighthouseCategories {
		c, ok := lhr.Categories[id]
		if !ok || c.Score == nil {
			continue
		}
		parts = append(parts, fmt.Sprintf("%s %d", c.Title, percent(*c.Score)))
	}
	return strings.Join(parts, " · ")
}

func percent(score float64) int {
	return int(math.Round(score * 100))
}

// grade buckets a 0..1 score the way Lighthouse colors its gauges.
func grade(score float64) string {
	switch {
	case score >= 0.9:
		return "pass"
	case score >= 0.5:
		return "average"
	default:
		return "fail"
	}
}
