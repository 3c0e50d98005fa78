package config

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/adrg/xdg"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/pflag"
)

// EnvPrefix is the prefix of environment overrides, e.g. XSNOTIF_PORT.
const EnvPrefix = "XSNOTIF_"

const appDir = "xsoverlay_notifier"

//go:embed default_config.toml
var defaultConfigTOML []byte

// DefaultPath returns the per-user config file location
// ($XDG_CONFIG_HOME/xsoverlay_notifier/config.toml), creating the directory.
func DefaultPath() (string, error) {
	return xdg.ConfigFile(filepath.Join(appDir, "config.toml"))
}

// EnsureFile writes the default config to path if nothing exists there yet.
// It reports whether a file was created.
func EnsureFile(path string) (bool, error) {
	if _, err := os.Stat(path); err == nil {
		return false, nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return false, err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return false, err
	}
	if err := os.WriteFile(path, defaultConfigTOML, 0o644); err != nil {
		return false, err
	}
	return true, nil
}

// Loader assembles a Config from layered sources, in ascending precedence:
// built-in defaults, the config file, XSNOTIF_ environment variables, and
// command-line flags that were explicitly set.
//
// A Loader is reusable; the file watcher calls Load again on every edit so
// environment and flag overrides keep winning over the file.
type Loader struct {
	// Path of the config file. Empty or missing files contribute nothing.
	Path string
	// Flags holds the command-line overrides. Flag names use dashes
	// (--polling-rate) and map to underscore keys (polling_rate).
	Flags *pflag.FlagSet
}

// Load builds a validated snapshot. Any failure wraps ErrParse.
func (l Loader) Load() (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(confmap.Provider(defaultMap(), "."), nil); err != nil {
		return nil, fmt.Errorf("%w: defaults: %v", ErrParse, err)
	}

	if path := strings.TrimSpace(l.Path); path != "" {
		if _, err := os.Stat(path); err == nil {
			if err := k.Load(file.Provider(path), parserFor(path)); err != nil {
				return nil, fmt.Errorf("%w: %s: %v", ErrParse, path, err)
			}
		} else if !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s: %v", ErrParse, path, err)
		}
	}

	envProvider := env.Provider(EnvPrefix, ".", func(s string) string {
		return strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	})
	if err := k.Load(envProvider, nil); err != nil {
		return nil, fmt.Errorf("%w: environment: %v", ErrParse, err)
	}

	if l.Flags != nil {
		known := defaultMap()
		flagProvider := posflag.ProviderWithFlag(l.Flags, ".", k, func(f *pflag.Flag) (string, interface{}) {
			key := strings.ReplaceAll(f.Name, "-", "_")
			if _, ok := known[key]; !ok || !f.Changed {
				return "", nil
			}
			return key, posflag.FlagVal(l.Flags, f)
		})
		if err := k.Load(flagProvider, nil); err != nil {
			return nil, fmt.Errorf("%w: flags: %v", ErrParse, err)
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrParse, err)
	}
	cfg.Host = strings.TrimSpace(cfg.Host)
	cfg.NotificationStrategy = Strategy(strings.ToLower(strings.TrimSpace(string(cfg.NotificationStrategy))))

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrParse, err)
	}
	return &cfg, nil
}

// BindFlags registers the override flags on fs with the built-in defaults,
// so --help shows them. Unset flags never override lower layers.
func BindFlags(fs *pflag.FlagSet) {
	d := Defaults()
	fs.IntP("port", "p", d.Port, "XSOverlay UDP port")
	fs.String("host", d.Host, "XSOverlay host")
	fs.StringP("notification-strategy", "n", string(d.NotificationStrategy), "notification acquisition strategy (listener|polling)")
	fs.Int("polling-rate", d.PollingRate, "polling interval in milliseconds")
	fs.Float64("timeout", d.Timeout, "seconds a notification stays on screen")
	fs.String("log-level", d.LogLevel, "log level (trace|debug|info|warn|error)")
	fs.String("log-file", d.LogFile, "also write JSON logs to this file")
	fs.String("history-path", d.HistoryPath, "record delivered notifications (.db/.sqlite for SQLite, otherwise JSON lines)")
	fs.String("metrics-addr", d.MetricsAddr, "serve /metrics and /debug/pprof on this address")
	fs.String("stats-schedule", d.StatsSchedule, "cron schedule for the periodic stats log line (empty disables)")
}
