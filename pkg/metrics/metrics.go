// Package metrics defines the counters the trunk server emits.
package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics counts push and import activity.
type Metrics interface {
	IncPushAttempt(operation string)
	IncPushOutcome(operation, outcome string)
	IncImportedCommit(changeType string)
	IncWebhookIgnored(reason string)
}

// Noop implements Metrics without emitting anything.
type Noop struct{}

func (Noop) IncPushAttempt(string)          {}
func (Noop) IncPushOutcome(string, string)  {}
func (Noop) IncImportedCommit(string)       {}
func (Noop) IncWebhookIgnored(string)       {}

// Prom implements Metrics backed by Prometheus counters.
type Prom struct {
	pushAttempts    *prometheus.CounterVec
	pushOutcomes    *prometheus.CounterVec
	importedCommits *prometheus.CounterVec
	webhookIgnored  *prometheus.CounterVec
	once            sync.Once
}

// NewProm creates and registers the Prometheus-backed metrics.
func NewProm(namespace string) *Prom {
	p := &Prom{
		pushAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "push_attempts_total",
			Help:      "Push attempts by operation",
		}, []string{"operation"}),
		pushOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "push_outcomes_total",
			Help:      "Terminal push states by operation and outcome",
		}, []string{"operation", "outcome"}),
		importedCommits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "imported_commits_total",
			Help:      "Webhook-imported commits by change type",
		}, []string{"change_type"}),
		webhookIgnored: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "webhook_ignored_total",
			Help:      "Webhook deliveries ignored by reason",
		}, []string{"reason"}),
	}
	p.register()
	return p
}

func (p *Prom) register() {
	p.once.Do(func() {
		prometheus.MustRegister(p.pushAttempts, p.pushOutcomes, p.importedCommits, p.webhookIgnored)
	})
}

func (p *Prom) IncPushAttempt(operation string) {
	p.pushAttempts.WithLabelValues(operation).Inc()
}

func (p *Prom) IncPushOutcome(operation, outcome string) {
	p.pushOutcomes.WithLabelValues(operation, outcome).Inc()
}

func (p *Prom) IncImportedCommit(changeType string) {
	p.importedCommits.WithLabelValues(changeType).Inc()
}

func (p *Prom) IncWebhookIgnored(reason string) {
	p.webhookIgnored.WithLabelValues(reason).Inc()
}

// Handler returns the /metrics endpoint handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
