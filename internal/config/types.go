package config

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// ErrParse marks configuration that could not be read, decoded or validated.
var ErrParse = errors.New("config parse error")

// Strategy selects how notifications are acquired from the host.
type Strategy string

const (
	StrategyListener Strategy = "listener"
	StrategyPolling  Strategy = "polling"
)

func (s Strategy) Valid() bool { return s == StrategyListener || s == StrategyPolling }

// Defaults.
const (
	DefaultPort          = 42069
	DefaultHost          = "localhost"
	DefaultStrategy      = StrategyListener
	DefaultPollingRate   = 250
	DefaultTimeout       = 2.0
	DefaultLogLevel      = "info"
	DefaultStatsSchedule = "@every 10m"
)

// Config is one complete, immutable configuration snapshot.
//
// Snapshots are never patched in place; a change is a new Config published
// through the Broadcaster.
type Config struct {
	Port                 int      `koanf:"port" json:"port"`
	Host                 string   `koanf:"host" json:"host"`
	NotificationStrategy Strategy `koanf:"notification_strategy" json:"notification_strategy"`
	// PollingRate is the polling interval in milliseconds.
	PollingRate int `koanf:"polling_rate" json:"polling_rate"`
	// Timeout is how long a popup stays on screen, in seconds.
	Timeout float64 `koanf:"timeout" json:"timeout"`

	LogLevel      string `koanf:"log_level" json:"log_level"`
	LogFile       string `koanf:"log_file" json:"log_file,omitempty"`
	HistoryPath   string `koanf:"history_path" json:"history_path,omitempty"`
	MetricsAddr   string `koanf:"metrics_addr" json:"metrics_addr,omitempty"`
	StatsSchedule string `koanf:"stats_schedule" json:"stats_schedule"`
}

// Defaults returns the built-in configuration.
func Defaults() Config {
	return Config{
		Port:                 DefaultPort,
		Host:                 DefaultHost,
		NotificationStrategy: DefaultStrategy,
		PollingRate:          DefaultPollingRate,
		Timeout:              DefaultTimeout,
		LogLevel:             DefaultLogLevel,
		StatsSchedule:        DefaultStatsSchedule,
	}
}

// defaultMap is the koanf base layer. Keys match the koanf struct tags.
func defaultMap() map[string]any {
	d := Defaults()
	return map[string]any{
		"port":                  d.Port,
		"host":                  d.Host,
		"notification_strategy": string(d.NotificationStrategy),
		"polling_rate":          d.PollingRate,
		"timeout":               d.Timeout,
		"log_level":             d.LogLevel,
		"log_file":              d.LogFile,
		"history_path":          d.HistoryPath,
		"metrics_addr":          d.MetricsAddr,
		"stats_schedule":        d.StatsSchedule,
	}
}

// Addr returns the XSOverlay destination as host:port.
func (c Config) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// PollingInterval converts PollingRate to a duration.
func (c Config) PollingInterval() time.Duration {
	return time.Duration(c.PollingRate) * time.Millisecond
}

var statsParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// ParseStatsSchedule parses StatsSchedule. An empty schedule returns (nil, nil).
func (c Config) ParseStatsSchedule() (cron.Schedule, error) {
	s := strings.TrimSpace(c.StatsSchedule)
	if s == "" {
		return nil, nil
	}
	sched, err := statsParser.Parse(s)
	if err != nil {
		return nil, fmt.Errorf("stats_schedule: invalid %q: %w", s, err)
	}
	return sched, nil
}

// Validate rejects values no component can run with.
func (c Config) Validate() error {
	if strings.TrimSpace(c.Host) == "" {
		return fmt.Errorf("host must not be empty")
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("port must be in 1..65535, got %d", c.Port)
	}
	if !c.NotificationStrategy.Valid() {
		return fmt.Errorf("notification_strategy must be %q or %q, got %q", StrategyListener, StrategyPolling, c.NotificationStrategy)
	}
	if c.PollingRate <= 0 {
		return fmt.Errorf("polling_rate must be > 0, got %d", c.PollingRate)
	}
	if c.Timeout < 0 {
		return fmt.Errorf("timeout must be >= 0, got %v", c.Timeout)
	}
	if _, err := c.ParseStatsSchedule(); err != nil {
		return err
	}
	return nil
}
