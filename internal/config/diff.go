package config

import (
	logx "xsnotifier/pkg/logx"
)

// RestartRequired lists keys that only take effect at process start.
var RestartRequired = map[string]bool{
	"notification_strategy": true,
	"history_path":          true,
	"metrics_addr":          true,
	"stats_schedule":        true,
}

// Summarize returns the changed keys between two snapshots and log fields
// describing the new values.
func Summarize(oldCfg, newCfg Config) ([]string, []logx.Field) {
	changed := make([]string, 0, 4)
	fields := make([]logx.Field, 0, 8)

	add := func(key string, differs bool, f logx.Field) {
		if differs {
			changed = append(changed, key)
			fields = append(fields, f)
		}
	}
	add("host", oldCfg.Host != newCfg.Host, logx.String("host", newCfg.Host))
	add("port", oldCfg.Port != newCfg.Port, logx.Int("port", newCfg.Port))
	add("notification_strategy", oldCfg.NotificationStrategy != newCfg.NotificationStrategy,
		logx.String("notification_strategy", string(newCfg.NotificationStrategy)))
	add("polling_rate", oldCfg.PollingRate != newCfg.PollingRate, logx.Int("polling_rate", newCfg.PollingRate))
	add("timeout", oldCfg.Timeout != newCfg.Timeout, logx.Float64("timeout", newCfg.Timeout))
	add("log_level", oldCfg.LogLevel != newCfg.LogLevel, logx.String("log_level", newCfg.LogLevel))
	add("log_file", oldCfg.LogFile != newCfg.LogFile, logx.String("log_file", newCfg.LogFile))
	add("history_path", oldCfg.HistoryPath != newCfg.HistoryPath, logx.String("history_path", newCfg.HistoryPath))
	add("metrics_addr", oldCfg.MetricsAddr != newCfg.MetricsAddr, logx.String("metrics_addr", newCfg.MetricsAddr))
	add("stats_schedule", oldCfg.StatsSchedule != newCfg.StatsSchedule, logx.String("stats_schedule", newCfg.StatsSchedule))
	return changed, fields
}
