package metrics

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

// Recorder exposes the engine's operational counters via Prometheus.
// A single Recorder is created by the process root and passed to the
// components that record into it.
type Recorder struct {
	registry *prometheus.Registry

	statsCacheHits   prometheus.Counter
	statsCacheMisses prometheus.Counter
	statsFetches     *prometheus.CounterVec // source: primary|fallback|denied
	budgetDenials    *prometheus.CounterVec // kind: feed|stats
	feedItems        *prometheus.CounterVec // cycle: general|smart
	funnelDrops      *prometheus.CounterVec // stage
	alertsEmitted    *prometheus.CounterVec // conviction
	fills            *prometheus.CounterVec // side, outcome
	breakerTrips     prometheus.Counter
	openPositions    prometheus.Gauge
	httpLatency      *prometheus.HistogramVec // target
}

// New creates a Recorder with its own registry.
func New() *Recorder {
	reg := prometheus.NewRegistry()
	r := &Recorder{
		registry: reg,
		statsCacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "callsbot_stats_cache_hits_total",
			Help: "Token stats served from the TTL cache",
		}),
		statsCacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "callsbot_stats_cache_misses_total",
			Help: "Token stats cache misses",
		}),
		statsFetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "callsbot_stats_fetches_total",
			Help: "Upstream stats fetches by source",
		}, []string{"source"}),
		budgetDenials: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "callsbot_budget_denials_total",
			Help: "Spend attempts refused by the credit budget",
		}, []string{"kind"}),
		feedItems: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "callsbot_feed_items_total",
			Help: "Feed items ingested by cycle",
		}, []string{"cycle"}),
		funnelDrops: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "callsbot_funnel_drops_total",
			Help: "Candidates dropped by funnel stage",
		}, []string{"stage"}),
		alertsEmitted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "callsbot_alerts_emitted_total",
			Help: "Alerts emitted by conviction",
		}, []string{"conviction"}),
		fills: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "callsbot_fills_total",
			Help: "Broker fills by side and outcome",
		}, []string{"side", "outcome"}),
		breakerTrips: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "callsbot_breaker_trips_total",
			Help: "Circuit breaker trips",
		}),
		openPositions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "callsbot_open_positions",
			Help: "Currently open positions",
		}),
		httpLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "callsbot_http_request_seconds",
			Help:    "Outbound HTTP request latency by target",
			Buckets: prometheus.DefBuckets,
		}, []string{"target"}),
	}

	reg.MustRegister(
		r.statsCacheHits, r.statsCacheMisses, r.statsFetches,
		r.budgetDenials, r.feedItems, r.funnelDrops, r.alertsEmitted,
		r.fills, r.breakerTrips, r.openPositions, r.httpLatency,
	)
	return r
}

func (r *Recorder) StatsCacheHit()  { r.statsCacheHits.Inc() }
func (r *Recorder) StatsCacheMiss() { r.statsCacheMisses.Inc() }

func (r *Recorder) StatsFetch(source string) {
	r.statsFetches.WithLabelValues(source).Inc()
}

func (r *Recorder) BudgetDenied(kind string) {
	r.budgetDenials.WithLabelValues(kind).Inc()
}

func (r *Recorder) FeedItems(cycle string, n int) {
	r.feedItems.WithLabelValues(cycle).Add(float64(n))
}

func (r *Recorder) FunnelDrop(stage string) {
	r.funnelDrops.WithLabelValues(stage).Inc()
}

func (r *Recorder) AlertEmitted(conviction string) {
	r.alertsEmitted.WithLabelValues(conviction).Inc()
}

func (r *Recorder) Fill(side string, success bool) {
	outcome := "success"
	if !success {
		outcome = "failure"
	}
	r.fills.WithLabelValues(side, outcome).Inc()
}

func (r *Recorder) BreakerTripped()       { r.breakerTrips.Inc() }
func (r *Recorder) SetOpenPositions(n int) { r.openPositions.Set(float64(n)) }

func (r *Recorder) ObserveHTTP(target string, d time.Duration) {
	r.httpLatency.WithLabelValues(target).Observe(d.Seconds())
}

// Serve exposes /metrics on the given port. Blocks; run in a goroutine.
func (r *Recorder) Serve(port int) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{}))
	addr := fmt.Sprintf(":%d", port)
	log.Info().Str("addr", addr).Msg("metrics: serving /metrics")
	if err := http.ListenAndServe(addr, mux); err != nil {
		log.Error().Err(err).Msg("metrics: server stopped")
	}
}
