package config

import (
	"encoding/json"
	"os"

	"github.com/dkorolevs/papersync/internal/flagx"
	"github.com/dkorolevs/papersync/internal/timex"
)

// JsonConfig is a DTO used exclusively for JSON unmarshalling. Interval
// fields use timex.Duration so the file can specify them either as strings
// like "30s" or as integer nanoseconds. Zero-valued fields leave the
// current Config value untouched.
type JsonConfig struct {
	ServerURL               string         `json:"server_url"`
	APIToken                string         `json:"api_token"`
	DatabasePath            string         `json:"database_path"`
	RequestTimeout          timex.Duration `json:"request_timeout"`
	UploadTimeout           timex.Duration `json:"upload_timeout"`
	ForegroundProbeInterval timex.Duration `json:"foreground_probe_interval"`
	BackgroundProbeInterval timex.Duration `json:"background_probe_interval"`
	SyncInterval            timex.Duration `json:"sync_interval"`
	MaxRetries              *int           `json:"max_retries"`
	BackoffBase             timex.Duration `json:"backoff_base"`
	BackoffCap              timex.Duration `json:"backoff_cap"`
}

// parseJson overlays cfg with values loaded from the JSON file named by
// the -c/-config flags. When no file is given, cfg is left as is. Read or
// unmarshal errors panic; config must be valid if present.
func parseJson(cfg *Config) {
	jsonConfigFile := flagx.JsonConfigFlags()
	if jsonConfigFile == "" {
		return
	}

	var jc JsonConfig

	data, err := os.ReadFile(jsonConfigFile)
	if err != nil {
		panic(err)
	}
	if err := json.Unmarshal(data, &jc); err != nil {
		panic(err)
	}

	if jc.ServerURL != "" {
		cfg.ServerURL = jc.ServerURL
	}
	if jc.APIToken != "" {
		cfg.APIToken = jc.APIToken
	}
	if jc.DatabasePath != "" {
		cfg.DatabasePath = jc.DatabasePath
	}
	if jc.RequestTimeout.Duration != 0 {
		cfg.RequestTimeout = jc.RequestTimeout.Duration
	}
	if jc.UploadTimeout.Duration != 0 {
		cfg.UploadTimeout = jc.UploadTimeout.Duration
	}
	if jc.ForegroundProbeInterval.Duration != 0 {
		cfg.ForegroundProbeInterval = jc.ForegroundProbeInterval.Duration
	}
	if jc.BackgroundProbeInterval.Duration != 0 {
		cfg.BackgroundProbeInterval = jc.BackgroundProbeInterval.Duration
	}
	if jc.SyncInterval.Duration != 0 {
		cfg.SyncInterval = jc.SyncInterval.Duration
	}
	if jc.MaxRetries != nil {
		cfg.MaxRetries = *jc.MaxRetries
	}
	if jc.BackoffBase.Duration != 0 {
		cfg.BackoffBase = jc.BackoffBase.Duration
	}
	if jc.BackoffCap.Duration != 0 {
		cfg.BackoffCap = jc.BackoffCap.Duration
	}
}
