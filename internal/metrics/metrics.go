package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Claim results.
const (
	ClaimCreated     = "created"
	ClaimReconnected = "reconnected"
	ClaimRepaired    = "repaired"
	ClaimRejected    = "rejected"
	ClaimFailed      = "failed"
)

var (
	CodesGenerated = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pairing_codes_generated_total",
		Help: "Pairing codes issued, by kind (pair or repair).",
	}, []string{"kind"})

	Claims = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pairing_claims_total",
		Help: "Pairing code claims by outcome.",
	}, []string{"result"})

	Heartbeats = promauto.NewCounter(prometheus.CounterOpts{
		Name: "device_heartbeats_total",
		Help: "Accepted device heartbeats.",
	})

	ControlCommands = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "device_control_commands_total",
		Help: "Playback control commands by action and outcome.",
	}, []string{"action", "result"})

	RequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "HTTP request latency.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "route", "status"})
)

func Handler() http.Handler {
	return promhttp.Handler()
}

// Instrument records request latency labelled by the matched chi route pattern.
func Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				route = pattern
			}
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}

		RequestDuration.
			WithLabelValues(r.Method, route, strconv.Itoa(status)).
			Observe(time.Since(start).Seconds())
	})
}
