// Package metrics exposes process counters on the inbox router's /metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	OracleCalls = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ouro_oracle_calls_total",
		Help: "Oracle round-trips by purpose and outcome.",
	}, []string{"purpose", "outcome"})

	OracleTokens = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ouro_oracle_tokens_total",
		Help: "Tokens consumed by direction.",
	}, []string{"direction"})

	OracleLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "ouro_oracle_latency_seconds",
		Help:    "Oracle call latency.",
		Buckets: prometheus.ExponentialBuckets(0.25, 2, 10),
	})

	Actions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ouro_actions_total",
		Help: "Dispatched actions by kind and outcome.",
	}, []string{"kind", "outcome"})

	ChainSteps = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "ouro_chain_steps",
		Help:    "Oracle steps per top-level trigger.",
		Buckets: []float64{1, 2, 3, 5, 8, 13, 21, 34, 50},
	})

	Envelopes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ouro_envelopes_total",
		Help: "Inbound envelopes by source.",
	}, []string{"source"})

	ChannelErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ouro_channel_errors_total",
		Help: "Adapter poll errors by channel.",
	}, []string{"channel"})

	Rollbacks = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ouro_guarded_rollbacks_total",
		Help: "Self-edits rolled back after failed validation.",
	})

	Compactions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ouro_history_compactions_total",
		Help: "Conversation history compactions.",
	})
)

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
