package httpx

import (
	"bufio"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var histogramBuckets = []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10}

func (r *Router) initMetrics() {
	r.metricsOnce.Do(func() {
		r.requestTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "imagectl",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Count of processed HTTP requests",
		}, []string{"method", "route", "status"})

		r.requestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "imagectl",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Latency distribution of HTTP handlers",
			Buckets:   histogramBuckets,
		}, []string{"method", "route", "status"})

		r.bakeSubmissions = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "imagectl",
			Subsystem: "bake",
			Name:      "submissions_total",
			Help:      "Bake submissions by outcome",
		}, []string{"outcome"})

		r.lintFindings = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "imagectl",
			Subsystem: "lint",
			Name:      "findings_total",
			Help:      "Lint findings reported by rule and severity",
		}, []string{"rule", "severity"})

		r.requestTotal = registerCounter(r.requestTotal)
		r.bakeSubmissions = registerCounter(r.bakeSubmissions)
		r.lintFindings = registerCounter(r.lintFindings)
		if err := prometheus.Register(r.requestDuration); err != nil {
			var already prometheus.AlreadyRegisteredError
			if errors.As(err, &already) {
				if existing, ok := already.ExistingCollector.(*prometheus.HistogramVec); ok {
					r.requestDuration = existing
				}
			}
		}
		r.metricsInitialized = true
	})
}

// registerCounter returns the already registered collector when a router is
// built more than once in a process.
func registerCounter(c *prometheus.CounterVec) *prometheus.CounterVec {
	if err := prometheus.Register(c); err != nil {
		var already prometheus.AlreadyRegisteredError
		if errors.As(err, &already) {
			if existing, ok := already.ExistingCollector.(*prometheus.CounterVec); ok {
				return existing
			}
		}
	}
	return c
}

func (r *Router) instrument(route string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		if !r.metricsInitialized {
			next(w, req)
			return
		}
		recorder := &responseRecorder{ResponseWriter: w}
		start := time.Now()
		next(recorder, req)
		status := recorder.status
		if status == 0 {
			status = http.StatusOK
		}
		r.recordRequest(req.Method, route, status, time.Since(start))
	}
}

func (r *Router) recordRequest(method, route string, status int, duration time.Duration) {
	labels := prometheus.Labels{
		"method": method,
		"route":  route,
		"status": strconv.Itoa(status),
	}
	r.requestTotal.With(labels).Inc()
	r.requestDuration.With(labels).Observe(duration.Seconds())
}

func (r *Router) recordBakeSubmission(outcome string) {
	if !r.metricsInitialized {
		return
	}
	r.bakeSubmissions.With(prometheus.Labels{"outcome": outcome}).Inc()
}

func (r *Router) recordLintFinding(rule, severity string) {
	if !r.metricsInitialized {
		return
	}
	r.lintFindings.With(prometheus.Labels{"rule": rule, "severity": severity}).Inc()
}

type responseRecorder struct {
	http.ResponseWriter
	status int
}

func (rr *responseRecorder) WriteHeader(code int) {
	rr.status = code
	rr.ResponseWriter.WriteHeader(code)
}

func (rr *responseRecorder) Write(b []byte) (int, error) {
	if rr.status == 0 {
		rr.status = http.StatusOK
	}
	return rr.ResponseWriter.Write(b)
}

// Hijack lets the websocket upgrader take over instrumented connections.
func (rr *responseRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := rr.ResponseWriter.(http.Hijacker); ok {
		if rr.status == 0 {
			rr.status = http.StatusSwitchingProtocols
		}
		return h.Hijack()
	}
	return nil, nil, errors.New("hijacker not supported")
}
