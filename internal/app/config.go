package app

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/raysh454/perfsandbox/internal/artifacts"
	"github.com/raysh454/perfsandbox/internal/runners"
	"github.com/raysh454/perfsandbox/internal/share"
	"github.com/raysh454/perfsandbox/internal/webclient"
)

// Config is the process-wide configuration. Each component's own config is
// carried in a named field (ArtifactsCfg, WebClientCfg, RunnersCfg) and
// handed to that component alone.
type Config struct {
	// ListenAddr is the HTTP listen address of `perfsandbox serve`.
	ListenAddr string

	// PublicBaseURL prefixes every artifact and share URL handed to clients.
	PublicBaseURL string

	LogLevel string

	// CatalogPath overrides the embedded tool catalog when set.
	CatalogPath string

	// DefaultHeadless applies when a request does not say.
	DefaultHeadless bool

	PreflightTimeout time.Duration
	ReportTimeout    time.Duration

	// SessionRetention is how long an ended session and its artifacts stay
	// around. The janitor runs every SweepInterval.
	SessionRetention time.Duration
	SweepInterval    time.Duration

	// ShareDBPath is the sqlite file holding share aliases.
	ShareDBPath   string
	BitlyToken    string
	BitlyEndpoint string

	ArtifactsCfg artifacts.Config
	WebClientCfg webclient.Config
	RunnersCfg   runners.Config
}

// DefaultConfig returns a Config populated with sensible development defaults.
func DefaultConfig() *Config {
	return &Config{
		ListenAddr:       ":8080",
		PublicBaseURL:    "http://localhost:8080",
		LogLevel:         "info",
		DefaultHeadless:  true,
		PreflightTimeout: 15 * time.Second,
		ReportTimeout:    time.Minute,
		SessionRetention: time.Hour,
		SweepInterval:    5 * time.Minute,
		ShareDBPath:      "data/share.db",
		BitlyEndpoint:    share.DefaultBitlyEndpoint,
		ArtifactsCfg:     artifacts.DefaultConfig(),
		WebClientCfg:     webclient.DefaultConfig(),
		RunnersCfg:       runners.DefaultConfig(),
	}
}

// NewViper returns a viper instance reading PERFSANDBOX_* environment
// variables, with every key defaulted from DefaultConfig.
func NewViper() *viper.Viper {
	d := DefaultConfig()

	v := viper.New()
	v.SetEnvPrefix("PERFSANDBOX")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	v.SetDefault("LISTEN_ADDR", d.ListenAddr)
	v.SetDefault("PUBLIC_BASE_URL", d.PublicBaseURL)
	v.SetDefault("LOG_LEVEL", d.LogLevel)
	v.SetDefault("CATALOG_PATH", d.CatalogPath)
	v.SetDefault("HEADLESS", d.DefaultHeadless)
	v.SetDefault("PREFLIGHT_TIMEOUT", d.PreflightTimeout)
	v.SetDefault("REPORT_TIMEOUT", d.ReportTimeout)
	v.SetDefault("SESSION_RETENTION", d.SessionRetention)
	v.SetDefault("SWEEP_INTERVAL", d.SweepInterval)
	v.SetDefault("SHARE_DB_PATH", d.ShareDBPath)
	v.SetDefault("BITLY_TOKEN", "")
	v.SetDefault("BITLY_ENDPOINT", d.BitlyEndpoint)
	v.SetDefault("STORAGE_ROOT", d.ArtifactsCfg.Root)

	v.SetDefault("HTTP_TIMEOUT", d.WebClientCfg.Timeout)
	v.SetDefault("USER_AGENT", d.WebClientCfg.UserAgent)
	v.SetDefault("CHROME_PATH", "")
	v.SetDefault("CHROME_REMOTE_URL", "")
	v.SetDefault("CHROME_NO_SANDBOX", false)

	r := d.RunnersCfg
	v.SetDefault("LIGHTHOUSE_API", r.LighthouseAPI)
	v.SetDefault("LIGHTHOUSE_KEY", "")
	v.SetDefault("LIGHTHOUSE_STRATEGY", r.LighthouseStrategy)
	v.SetDefault("LIGHTHOUSE_TIMEOUT", r.LighthouseTimeout)
	v.SetDefault("PSI_URL", r.PSIURL)
	v.SetDefault("PSI_RESULTS_SELECTOR", r.PSIResultsSelector)
	v.SetDefault("PSI_WAIT", r.PSIWait)
	v.SetDefault("TMS_RESULTS_SELECTOR", r.TMSResultsSelector)
	v.SetDefault("TMS_WAIT", r.TMSWait)
	v.SetDefault("WPT_BASE_URL", r.WPTBaseURL)
	v.SetDefault("WPT_KEY", "")
	v.SetDefault("WPT_LOCATION", r.WPTLocation)
	v.SetDefault("WPT_POLL_INTERVAL", r.WPTPollInterval)
	v.SetDefault("WPT_MAX_WAIT", r.WPTMaxWait)
	v.SetDefault("SETTLE_TIMEOUT", r.SettleTimeout)

	return v
}

// LoadConfig builds a Config from v and validates it.
func LoadConfig(v *viper.Viper) (*Config, error) {
	base := strings.TrimRight(v.GetString("PUBLIC_BASE_URL"), "/")
	cfg := &Config{
		ListenAddr:       v.GetString("LISTEN_ADDR"),
		PublicBaseURL:    base,
		LogLevel:         v.GetString("LOG_LEVEL"),
		CatalogPath:      v.GetString("CATALOG_PATH"),
		DefaultHeadless:  v.GetBool("HEADLESS"),
		PreflightTimeout: v.GetDuration("PREFLIGHT_TIMEOUT"),
		ReportTimeout:    v.GetDuration("REPORT_TIMEOUT"),
		SessionRetention: v.GetDuration("SESSION_RETENTION"),
		SweepInterval:    v.GetDuration("SWEEP_INTERVAL"),
		ShareDBPath:      v.GetString("SHARE_DB_PATH"),
		BitlyToken:       v.GetString("BITLY_TOKEN"),
		BitlyEndpoint:    v.GetString("BITLY_ENDPOINT"),
		ArtifactsCfg: artifacts.Config{
			Root:          v.GetString("STORAGE_ROOT"),
			PublicBaseURL: base,
		},
		WebClientCfg: webclient.Config{
			Timeout:    v.GetDuration("HTTP_TIMEOUT"),
			UserAgent:  v.GetString("USER_AGENT"),
			ChromePath: v.GetString("CHROME_PATH"),
			RemoteURL:  v.GetString("CHROME_REMOTE_URL"),
			NoSandbox:  v.GetBool("CHROME_NO_SANDBOX"),
			Viewport:   webclient.DefaultViewport,
		},
		RunnersCfg: runners.Config{
			LighthouseAPI:      v.GetString("LIGHTHOUSE_API"),
			LighthouseKey:      v.GetString("LIGHTHOUSE_KEY"),
			LighthouseStrategy: v.GetString("LIGHTHOUSE_STRATEGY"),
			LighthouseTimeout:  v.GetDuration("LIGHTHOUSE_TIMEOUT"),
			PSIURL:             v.GetString("PSI_URL"),
			PSIResultsSelector: v.GetString("PSI_RESULTS_SELECTOR"),
			PSIWait:            v.GetDuration("PSI_WAIT"),
			TMSResultsSelector: v.GetString("TMS_RESULTS_SELECTOR"),
			TMSWait:            v.GetDuration("TMS_WAIT"),
			WPTBaseURL:         v.GetString("WPT_BASE_URL"),
			WPTKey:             v.GetString("WPT_KEY"),
			WPTLocation:        v.GetString("WPT_LOCATION"),
			WPTPollInterval:    v.GetDuration("WPT_POLL_INTERVAL"),
			WPTMaxWait:         v.GetDuration("WPT_MAX_WAIT"),
			SettleTimeout:      v.GetDuration("SETTLE_TIMEOUT"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the fields every component depends on.
func (c *Config) Validate() error {
	u, err := url.Parse(c.PublicBaseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("invalid PUBLIC_BASE_URL %q", c.PublicBaseURL)
	}
	if strings.TrimSpace(c.ArtifactsCfg.Root) == "" {
		return fmt.Errorf("STORAGE_ROOT must be set")
	}
	if c.SessionRetention <= 0 {
		return fmt.Errorf("invalid SESSION_RETENTION %s", c.SessionRetention)
	}
	if c.SweepInterval <= 0 {
		return fmt.Errorf("invalid SWEEP_INTERVAL %s", c.SweepInterval)
	}
	if c.PreflightTimeout < 0 || c.ReportTimeout < 0 {
		return fmt.Errorf("timeouts must not be negative")
	}
	r := c.RunnersCfg
	for _, b := range []struct {
		key string
		d   time.Duration
	}{
		{"WPT_POLL_INTERVAL", r.WPTPollInterval},
		{"SETTLE_TIMEOUT", r.SettleTimeout},
		{"PSI_WAIT", r.PSIWait},
		{"TMS_WAIT", r.TMSWait},
	} {
		if b.d <= 0 {
			return fmt.Errorf("invalid %s %s", b.key, b.d)
		}
	}
	return nil
}
