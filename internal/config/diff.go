package config

import (
	"strings"

	logx "cronflow/pkg/logx"
)

// SummarizeChange returns the list of changed sections and structured
// attrs describing the new values, for a single reload log line.
func SummarizeChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 4)
	attrs := make([]logx.Field, 0, 10)

	if oldCfg.Logging != newCfg.Logging {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
		)
	}

	oe, ne := oldCfg.Executor, newCfg.Executor
	if strings.TrimSpace(oe.Timezone) != strings.TrimSpace(ne.Timezone) ||
		strings.TrimSpace(oe.KillGrace) != strings.TrimSpace(ne.KillGrace) ||
		strings.TrimSpace(oe.FailureLogRate) != strings.TrimSpace(ne.FailureLogRate) {
		changed = append(changed, "executor")
		attrs = append(attrs,
			logx.String("executor.timezone", strings.TrimSpace(ne.Timezone)),
			logx.String("executor.kill_grace", strings.TrimSpace(ne.KillGrace)),
			logx.String("executor.failure_log_rate", strings.TrimSpace(ne.FailureLogRate)),
		)
	}

	if oldCfg.Metrics.Enabled != newCfg.Metrics.Enabled || oldCfg.Metrics.Addr() != newCfg.Metrics.Addr() ||
		oldCfg.Metrics.Pprof != newCfg.Metrics.Pprof {
		changed = append(changed, "metrics")
		attrs = append(attrs,
			logx.Bool("metrics.enabled", newCfg.Metrics.Enabled),
			logx.String("metrics.address", newCfg.Metrics.Addr()),
			logx.Bool("metrics.pprof", newCfg.Metrics.Pprof),
		)
	}

	if strings.TrimSpace(oldCfg.Graphs.ConfigDir) != strings.TrimSpace(newCfg.Graphs.ConfigDir) {
		changed = append(changed, "graphs")
		attrs = append(attrs, logx.String("graphs.config_dir", strings.TrimSpace(newCfg.Graphs.ConfigDir)))
	}

	return changed, attrs
}
