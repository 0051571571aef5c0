package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	var c Config
	c.LoadDefaults()

	assert.Equal(t, "http://127.0.0.1:8000", c.ServerURL)
	assert.Equal(t, "papersync.db", c.DatabasePath)
	assert.Equal(t, 30*time.Second, c.ForegroundProbeInterval)
	assert.Equal(t, 5*time.Minute, c.BackgroundProbeInterval)
	assert.Equal(t, 3, c.MaxRetries)
	assert.Equal(t, 30*time.Second, c.BackoffBase)
}

func TestLoadConfig_FlagsOverrideDefaults(t *testing.T) {
	origArgs := os.Args
	t.Cleanup(func() { os.Args = origArgs })

	os.Args = []string{"testbin", "-a", "https://dms.example.net", "-t", "sekrit", "-i", "60"}

	cfg := LoadConfig()
	assert.Equal(t, "https://dms.example.net", cfg.ServerURL)
	assert.Equal(t, "sekrit", cfg.APIToken)
	assert.Equal(t, 60*time.Second, cfg.SyncInterval)
	// untouched by flags
	assert.Equal(t, "papersync.db", cfg.DatabasePath)
}

func TestLoadConfig_JsonThenFlags(t *testing.T) {
	origArgs := os.Args
	t.Cleanup(func() { os.Args = origArgs })

	f, err := os.CreateTemp(t.TempDir(), "cfg-*.json")
	require.NoError(t, err)
	_, err = f.WriteString(`{
		"server_url": "https://json.example.net",
		"database_path": "/tmp/paper.db",
		"background_probe_interval": "10m",
		"max_retries": 5
	}`)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	// The flag value for -a must win over the JSON value.
	os.Args = []string{"testbin", "-c", f.Name(), "-a", "https://flags.example.net"}

	cfg := LoadConfig()
	assert.Equal(t, "https://flags.example.net", cfg.ServerURL)
	assert.Equal(t, "/tmp/paper.db", cfg.DatabasePath)
	assert.Equal(t, 10*time.Minute, cfg.BackgroundProbeInterval)
	assert.Equal(t, 5, cfg.MaxRetries)
}
