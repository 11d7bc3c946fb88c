package statsbus

import (
	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusCollectors is the DOMAIN STACK's built-in statistics
// subscriber (§4.I): it feeds every Record into a small set of registered
// collectors. No HTTP exporter is mounted here — scraping endpoints belong
// to the out-of-scope web dashboard — but an embedder can mount
// promhttp.HandlerFor(Registry, ...) itself.
type PrometheusCollectors struct {
	Registry *prometheus.Registry

	requestsTotal      *prometheus.CounterVec
	processingSecs     prometheus.Histogram
	rateLimitCooldowns prometheus.Gauge
}

// NewPrometheusCollectors registers the collectors on a fresh registry and
// returns the bundle.
func NewPrometheusCollectors() *PrometheusCollectors {
	reg := prometheus.NewRegistry()

	p := &PrometheusCollectors{
		Registry: reg,
		requestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dhcp",
			Name:      "requests_total",
			Help:      "DHCP requests handled, by classified method and whether they were processed.",
		}, []string{"method", "processed"}),
		processingSecs: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "dhcp",
			Name:      "processing_seconds",
			Help:      "Time spent handling one inbound DHCP packet, end to end.",
			Buckets:   prometheus.DefBuckets,
		}),
		rateLimitCooldowns: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "dhcp",
			Name:      "rate_limit_cooldowns",
			Help:      "MACs currently sitting in an unknown or misbehaving rate-limiter cooldown.",
		}),
	}
	reg.MustRegister(p.requestsTotal, p.processingSecs, p.rateLimitCooldowns)
	return p
}

// Observe implements StatsFunc; register it with Bus.SubscribeStats.
func (p *PrometheusCollectors) Observe(rec Record) {
	processed := "false"
	if rec.Processed {
		processed = "true"
	}
	p.requestsTotal.WithLabelValues(methodLabel(rec.Method), processed).Inc()
	p.processingSecs.Observe(rec.ProcessingTime.Seconds())
}

// SetCooldownGauge sets the current cooldown count. The caller (typically
// a tick subscriber) is responsible for recomputing it; the bus has no
// visibility into the rate limiter's internal map.
func (p *PrometheusCollectors) SetCooldownGauge(n int) {
	p.rateLimitCooldowns.Set(float64(n))
}

func methodLabel(m Method) string {
	switch m {
	case MethodDiscover:
		return "discover"
	case MethodRequest:
		return "request"
	case MethodDecline:
		return "decline"
	case MethodRelease:
		return "release"
	case MethodInform:
		return "inform"
	case MethodLeaseQuery:
		return "leasequery"
	default:
		return "none"
	}
}
