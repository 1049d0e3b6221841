package observability

import (
	"fmt"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

const namespace = "staybook"

var (
	HTTPRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "http_requests_total", Help: "HTTP requests."},
		[]string{"route", "method", "status"},
	)
	HTTPLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace, Name: "http_request_duration_seconds",
			Help:    "HTTP request duration seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route", "method"},
	)
	ExternalRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "external_requests_total", Help: "Outbound requests."},
		[]string{"service", "endpoint", "status"},
	)
	ExternalLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace, Name: "external_request_duration_seconds",
			Help:    "Outbound request duration seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"service", "endpoint"},
	)
	CacheEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "cache_events_total", Help: "Cache hits/misses/sets/dels."},
		[]string{"cache", "event"}, // event: hit|miss|set|del
	)
	ProviderTransfers = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "provider_transfers_total", Help: "Money movements sent to the payment provider."},
		[]string{"kind", "outcome"}, // kind: transfer|refund, outcome: ok|retryable|ambiguous|rejected
	)
	DisputeTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "dispute_transitions_total", Help: "Dispute status transitions."},
		[]string{"from", "to"},
	)
	SweepRows = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "sweep_rows_total", Help: "Rows visited by background sweeps."},
		[]string{"sweep", "result"}, // result: done|skipped|failed
	)
	FinanceConfigHealthy = prometheus.NewGauge(
		prometheus.GaugeOpts{Namespace: namespace, Name: "finance_config_healthy", Help: "1 when the finance configuration loaded cleanly, 0 on fallback."},
	)
)

// Serve starts a standalone metrics listener on METRICS_ADDR, if set.
func Serve(reg *prometheus.Registry) {
	addr := os.Getenv("METRICS_ADDR")
	if addr == "" {
		return // disabled
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", MetricsHandler(reg))

	go func() {
		srv := &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		}
		log.Info().Str("addr", addr).Msg("metrics server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("metrics server failed")
		}
	}()
}

func InitRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(HTTPRequests, HTTPLatency, ExternalRequests, ExternalLatency, CacheEvents,
		ProviderTransfers, DisputeTransitions, SweepRows, FinanceConfigHealthy)
	return reg
}

func MetricsHandler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}

func ObserveHTTP(route, method string, status int, dur time.Duration) {
	HTTPRequests.WithLabelValues(route, method, strconv.Itoa(status)).Inc()
	HTTPLatency.WithLabelValues(route, method).Observe(dur.Seconds())
}

func ObserveExternal(service, endpoint string, status int, dur time.Duration) {
	ExternalRequests.WithLabelValues(service, endpoint, strconv.Itoa(status)).Inc()
	ExternalLatency.WithLabelValues(service, endpoint).Observe(dur.Seconds())
}

func ObserveCache(cache, event string) { // event: hit|miss|set|del
	CacheEvents.WithLabelValues(cache, event).Inc()
}

func ObserveTransfer(kind, outcome string) {
	ProviderTransfers.WithLabelValues(kind, outcome).Inc()
}

func ObserveDisputeTransition(from, to string) {
	DisputeTransitions.WithLabelValues(from, to).Inc()
}

func ObserveSweepRow(sweep, result string) {
	SweepRows.WithLabelValues(sweep, result).Inc()
}

func SetFinanceConfigHealthy(ok bool) {
	if ok {
		FinanceConfigHealthy.Set(1)
		return
	}
	FinanceConfigHealthy.Set(0)
}

func LabelErr(err error) string {
	if err == nil {
		return "none"
	}
	return fmt.Sprintf("%T", err)
}
