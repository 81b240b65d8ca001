// Package runners holds the concrete tool runners: Lighthouse (through the
// PageSpeed Insights API), the PageSpeed Insights page, Test My Site and
// WebPageTest.
package runners

import "time"

// Config holds endpoints, credentials and per-tool wait bounds.
type Config struct {
	// LighthouseAPI is the PageSpeed Insights v5 runPagespeed endpoint.
	LighthouseAPI      string
	LighthouseKey      string
	LighthouseStrategy string
	LighthouseTimeout  time.Duration

	// PSIURL is the PageSpeed Insights page that accepts ?url=.
	PSIURL             string
	PSIResultsSelector string
	PSIWait            time.Duration

	TMSResultsSelector string
	TMSWait            time.Duration

	WPTBaseURL      string
	WPTKey          string
	WPTLocation     string
	WPTPollInterval time.Duration
	WPTMaxWait      time.Duration

	// SettleTimeout bounds the page load before a selector wait starts.
	SettleTimeout time.Duration
}

func DefaultConfig() Config {
	return Config{
		LighthouseAPI:      "https://www.googleapis.com/pagespeedonline/v5/runPagespeed",
		LighthouseStrategy: "mobile",
		LighthouseTimeout:  2 * time.Minute,

		PSIURL:             "https://developers.google.com/speed/pagespeed/insights/",
		PSIResultsSelector: "#page-speed-insights.results",
		PSIWait:            10 * time.Second,

		TMSResultsSelector: ".results",
		TMSWait:            60 * time.Second,

		WPTBaseURL:      "https://www.webpagetest.org",
		WPTLocation:     "Dulles_MotoG4:MotoG4 - Chrome.3GFast",
		WPTPollInterval: 10 * time.Second,
		WPTMaxWait:      10 * time.Minute,

		SettleTimeout: 30 * time.Second,
	}
}
