// Package config loads runtime settings for the papersync core.
//
// Sources are applied in order, later ones winning: built-in defaults,
// a JSON config file (-c/-config), then command-line flags.
package config

import "time"

// Config holds runtime settings for the sync core.
type Config struct {
	// ServerURL is the base URL of the document-management server.
	ServerURL string
	// APIToken is the bearer credential sent on every request. Obtaining
	// and refreshing it is the host application's job.
	APIToken string
	// DatabasePath is the SQLite file holding cache, ledgers, and history.
	DatabasePath string

	// RequestTimeout bounds metadata calls; UploadTimeout bounds the
	// multipart document submit.
	RequestTimeout time.Duration
	UploadTimeout  time.Duration

	// Probe cadence of the server reachability monitor.
	ForegroundProbeInterval time.Duration
	BackgroundProbeInterval time.Duration

	// SyncInterval is the periodic drain-cycle schedule.
	SyncInterval time.Duration

	// MaxRetries is the automatic-replay ceiling per queue entry.
	MaxRetries int
	// BackoffBase doubles per failed attempt, capped at BackoffCap.
	BackoffBase time.Duration
	BackoffCap  time.Duration
}

// LoadDefaults populates c with sensible defaults.
func (c *Config) LoadDefaults() {
	c.ServerURL = "http://127.0.0.1:8000"
	c.APIToken = ""
	c.DatabasePath = "papersync.db"
	c.RequestTimeout = 12 * time.Second
	c.UploadTimeout = 5 * time.Minute
	c.ForegroundProbeInterval = 30 * time.Second
	c.BackgroundProbeInterval = 5 * time.Minute
	c.SyncInterval = 15 * time.Minute
	c.MaxRetries = 3
	c.BackoffBase = 30 * time.Second
	c.BackoffCap = 30 * time.Minute
}

// LoadConfig constructs a Config, applies defaults, then overlays values
// from JSON (if present) and command-line flags (if present).
func LoadConfig() *Config {
	cfg := &Config{}
	cfg.LoadDefaults()
	parseJson(cfg)
	parseFlags(cfg)
	return cfg
}
