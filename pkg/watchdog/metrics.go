package watchdog

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "emby_watchdog"

type Metrics struct {
	Lines       prometheus.Counter
	Matches     *prometheus.CounterVec
	Throttled   *prometheus.CounterVec
	Dispatches  *prometheus.CounterVec
	RuleReloads *prometheus.CounterVec
	RulesActive prometheus.Gauge
	FilesActive prometheus.Gauge
	FileErrors  prometheus.Counter
	TailResets  *prometheus.CounterVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {

	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	factory := promauto.With(reg)

	return &Metrics{
		Lines: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "lines_total",
			Help:      "Complete log lines evaluated",
		}),
		Matches: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rule_matches_total",
			Help:      "Lines matched per rule",
		}, []string{"rule"}),
		Throttled: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "actions_throttled_total",
			Help:      "Matches suppressed by the rate limiter",
		}, []string{"rule"}),
		Dispatches: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dispatch_attempts_total",
			Help:      "Dispatch attempts by outcome",
		}, []string{"rule", "status"}),
		RuleReloads: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rule_reloads_total",
			Help:      "Rule document reloads by result",
		}, []string{"result"}),
		RulesActive: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "rules_active",
			Help:      "Rules in the active rule set",
		}),
		FilesActive: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "files_active",
			Help:      "Files currently tailed",
		}),
		FileErrors: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "file_errors_total",
			Help:      "Files dropped after an access error",
		}),
		TailResets: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tail_resets_total",
			Help:      "Truncations and rotations detected while tailing",
		}, []string{"reason"}),
	}
}
