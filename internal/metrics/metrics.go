// Package metrics exports the server's Prometheus metrics.
package metrics

import (
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics owns one registry and the instruments the server records into.
type Metrics struct {
	registry *prometheus.Registry

	chatRequests *prometheus.CounterVec
	chatLatency  prometheus.Histogram

	cacheHits   prometheus.Counter
	cacheMisses prometheus.Counter

	breakerState       prometheus.Gauge
	degradedResponses  prometheus.Counter
	reminderDispatches *prometheus.CounterVec
	webhookVerified    *prometheus.CounterVec
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		chatRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "valet",
			Name:      "chat_requests_total",
			Help:      "Chat requests by outcome.",
		}, []string{"outcome"}),
		chatLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "valet",
			Name:      "chat_latency_seconds",
			Help:      "End-to-end chat turn latency.",
			Buckets:   []float64{0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
		}),
		cacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "valet",
			Name:      "llm_cache_hits_total",
			Help:      "Completions served from the cache tier.",
		}),
		cacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "valet",
			Name:      "llm_cache_misses_total",
			Help:      "Completions that went to the backend.",
		}),
		breakerState: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "valet",
			Name:      "breaker_state",
			Help:      "Inference breaker state: 0 closed, 1 open, 2 half-open.",
		}),
		degradedResponses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "valet",
			Name:      "degraded_responses_total",
			Help:      "Responses served by the degraded fallback.",
		}),
		reminderDispatches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "valet",
			Name:      "reminder_dispatches_total",
			Help:      "Reminder notifications by outcome.",
		}, []string{"outcome"}),
		webhookVerified: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "valet",
			Name:      "webhook_verifications_total",
			Help:      "Webhook signature checks by outcome.",
		}, []string{"outcome"}),
	}
	m.registry.MustRegister(
		collectors.NewGoCollector(),
		m.chatRequests, m.chatLatency,
		m.cacheHits, m.cacheMisses,
		m.breakerState, m.degradedResponses,
		m.reminderDispatches, m.webhookVerified,
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Snapshot flattens the registry into a name -> value map for the JSON
// counters endpoint. Labeled series get a `name{k=v,...}` key;
// histograms contribute their _count and _sum.
func (m *Metrics) Snapshot() (map[string]float64, error) {
	families, err := m.registry.Gather()
	if err != nil {
		return nil, err
	}
	out := make(map[string]float64)
	for _, mf := range families {
		for _, metric := range mf.GetMetric() {
			name := mf.GetName()
			if labels := metric.GetLabel(); len(labels) > 0 {
				parts := make([]string, 0, len(labels))
				for _, l := range labels {
					parts = append(parts, l.GetName()+"="+l.GetValue())
				}
				name = name + "{" + strings.Join(parts, ",") + "}"
			}
			switch {
			case metric.GetCounter() != nil:
				out[name] = metric.GetCounter().GetValue()
			case metric.GetGauge() != nil:
				out[name] = metric.GetGauge().GetValue()
			case metric.GetHistogram() != nil:
				h := metric.GetHistogram()
				out[name+"_count"] = float64(h.GetSampleCount())
				out[name+"_sum"] = h.GetSampleSum()
			case metric.GetSummary() != nil:
				s := metric.GetSummary()
				out[name+"_count"] = float64(s.GetSampleCount())
				out[name+"_sum"] = s.GetSampleSum()
			}
		}
	}
	return out, nil
}

func (m *Metrics) ObserveChat(outcome string, elapsed time.Duration) {
	m.chatRequests.WithLabelValues(outcome).Inc()
	m.chatLatency.Observe(elapsed.Seconds())
}

func (m *Metrics) CacheHit()  { m.cacheHits.Inc() }
func (m *Metrics) CacheMiss() { m.cacheMisses.Inc() }

func (m *Metrics) SetBreakerState(state int) { m.breakerState.Set(float64(state)) }
func (m *Metrics) Degraded()                 { m.degradedResponses.Inc() }

func (m *Metrics) ReminderDispatch(outcome string) {
	m.reminderDispatches.WithLabelValues(outcome).Inc()
}

func (m *Metrics) WebhookVerification(outcome string) {
	m.webhookVerified.WithLabelValues(outcome).Inc()
}
