package flagx

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFilterArgs(t *testing.T) {
	tests := []struct {
		name         string
		args         []string
		allowedFlags []string
		want         []string
	}{
		{
			name:         "flag with separate value",
			args:         []string{"-a", "http://dms.local:8000", "-t", "token123"},
			allowedFlags: []string{"-a"},
			want:         []string{"-a", "http://dms.local:8000"},
		},
		{
			name:         "flag with equals form",
			args:         []string{"--config=alt.json", "-d", "sync.db"},
			allowedFlags: []string{"-c", "--config"},
			want:         []string{"--config=alt.json"},
		},
		{
			name:         "several allowed flags keep their order",
			args:         []string{"-d", "sync.db", "-i", "300", "-t", "token123"},
			allowedFlags: []string{"-d", "-i"},
			want:         []string{"-d", "sync.db", "-i", "300"},
		},
		{
			name:         "unknown flags and positionals ignored",
			args:         []string{"-x", "1", "--y=2", "positional"},
			allowedFlags: []string{"-a"},
			want:         []string{},
		},
		{
			name:         "flag without value at end",
			args:         []string{"-a"},
			allowedFlags: []string{"-a"},
			want:         []string{"-a"},
		},
		{
			name:         "next dash-prefixed token is not a value",
			args:         []string{"-a", "-t"},
			allowedFlags: []string{"-a", "-t"},
			want:         []string{"-a", "-t"},
		},
		{
			name:         "repeated flag preserved in order",
			args:         []string{"-t", "old", "-t", "new"},
			allowedFlags: []string{"-t"},
			want:         []string{"-t", "old", "-t", "new"},
		},
		{
			name:         "empty args",
			args:         []string{},
			allowedFlags: []string{"-a"},
			want:         []string{},
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, FilterArgs(tt.args, tt.allowedFlags))
		})
	}
}

func TestJsonConfigFlags(t *testing.T) {
	origArgs := os.Args
	t.Cleanup(func() { os.Args = origArgs })

	t.Run("short -c with value", func(t *testing.T) {
		os.Args = []string{"papersync", "-c", "/etc/papersync.json"}
		assert.Equal(t, "/etc/papersync.json", JsonConfigFlags())
	})

	t.Run("long -config with value", func(t *testing.T) {
		os.Args = []string{"papersync", "-config", "/etc/papersync.json"}
		assert.Equal(t, "/etc/papersync.json", JsonConfigFlags())
	})

	t.Run("no config flag means empty path", func(t *testing.T) {
		os.Args = []string{"papersync", "-a", "http://dms.local:8000"}
		assert.Empty(t, JsonConfigFlags())
	})

	t.Run("last occurrence wins", func(t *testing.T) {
		os.Args = []string{"papersync", "-c", "/one.json", "-config", "/two.json"}
		assert.Equal(t, "/two.json", JsonConfigFlags())
	})
}
