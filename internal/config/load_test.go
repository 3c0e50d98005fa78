package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func newFlags(t *testing.T, args ...string) *pflag.FlagSet {
	t.Helper()
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	BindFlags(fs)
	fs.String("config", "", "")
	require.NoError(t, fs.Parse(args))
	return fs
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Loader{Flags: newFlags(t)}.Load()
	require.NoError(t, err)
	assert.Equal(t, Defaults(), *cfg)
	assert.Equal(t, "localhost:42069", cfg.Addr())
}

func TestLoadPrecedence(t *testing.T) {
	path := writeFile(t, "config.toml", "host = \"x\"\npolling_rate = 500\n")

	// file only
	cfg, err := Loader{Path: path, Flags: newFlags(t)}.Load()
	require.NoError(t, err)
	assert.Equal(t, "x", cfg.Host)
	assert.Equal(t, 500, cfg.PollingRate)

	// environment beats file
	t.Setenv("XSNOTIF_HOST", "y")
	cfg, err = Loader{Path: path, Flags: newFlags(t)}.Load()
	require.NoError(t, err)
	assert.Equal(t, "y", cfg.Host)
	assert.Equal(t, 500, cfg.PollingRate)

	// command line beats environment
	cfg, err = Loader{Path: path, Flags: newFlags(t, "--host", "z")}.Load()
	require.NoError(t, err)
	assert.Equal(t, "z", cfg.Host)
	assert.Equal(t, 500, cfg.PollingRate, "unset flags must not override the file")
}

func TestLoadEnvironmentTypes(t *testing.T) {
	t.Setenv("XSNOTIF_PORT", "42070")
	t.Setenv("XSNOTIF_POLLING_RATE", "1000")
	t.Setenv("XSNOTIF_NOTIFICATION_STRATEGY", "Polling")
	t.Setenv("XSNOTIF_TIMEOUT", "3.5")

	cfg, err := Loader{}.Load()
	require.NoError(t, err)
	assert.Equal(t, 42070, cfg.Port)
	assert.Equal(t, 1000, cfg.PollingRate)
	assert.Equal(t, StrategyPolling, cfg.NotificationStrategy)
	assert.InDelta(t, 3.5, cfg.Timeout, 1e-9)
}

func TestLoadFlagsUseDashes(t *testing.T) {
	cfg, err := Loader{Flags: newFlags(t, "--polling-rate", "100", "-n", "polling", "--config", "ignored.toml")}.Load()
	require.NoError(t, err)
	assert.Equal(t, 100, cfg.PollingRate)
	assert.Equal(t, StrategyPolling, cfg.NotificationStrategy)
}

func TestLoadFileFormats(t *testing.T) {
	tests := []struct {
		name string
		file string
		body string
	}{
		{"toml", "config.toml", "port = 5000\nnotification_strategy = \"polling\"\n"},
		{"yaml", "config.yaml", "port: 5000\nnotification_strategy: polling\n"},
		{"jsonc", "config.json", "{\n  // overlay port\n  \"port\": 5000,\n  \"notification_strategy\": \"polling\",\n}\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Loader{Path: writeFile(t, tt.file, tt.body)}.Load()
			require.NoError(t, err)
			assert.Equal(t, 5000, cfg.Port)
			assert.Equal(t, StrategyPolling, cfg.NotificationStrategy)
			assert.Equal(t, DefaultHost, cfg.Host)
		})
	}
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Loader{Path: filepath.Join(t.TempDir(), "absent.toml")}.Load()
	require.NoError(t, err)
	assert.Equal(t, DefaultPort, cfg.Port)
}

func TestLoadRejectsBadConfig(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"syntax", "port = = 1"},
		{"strategy", "notification_strategy = \"carrier-pigeon\""},
		{"port", "port = 0"},
		{"polling rate", "polling_rate = -5"},
		{"stats schedule", "stats_schedule = \"every tuesday\""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Loader{Path: writeFile(t, "config.toml", tt.body)}.Load()
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrParse)
		})
	}
}

func TestEnsureFileWritesDefaultsOnce(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.toml")

	created, err := EnsureFile(path)
	require.NoError(t, err)
	assert.True(t, created)

	cfg, err := Loader{Path: path}.Load()
	require.NoError(t, err)
	assert.Equal(t, Defaults(), *cfg)

	require.NoError(t, os.WriteFile(path, []byte("port = 1234\n"), 0o600))
	created, err = EnsureFile(path)
	require.NoError(t, err)
	assert.False(t, created)
	b, _ := os.ReadFile(path)
	assert.Equal(t, "port = 1234\n", string(b))
}

func TestSummarize(t *testing.T) {
	a := Defaults()
	b := a
	b.Port = 1
	b.NotificationStrategy = StrategyPolling

	changed, fields := Summarize(a, b)
	assert.Equal(t, []string{"port", "notification_strategy"}, changed)
	assert.Len(t, fields, 2)

	changed, _ = Summarize(a, a)
	assert.Empty(t, changed)
}
