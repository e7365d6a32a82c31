package httpx

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"log/slog"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hussain-mohammed/kirana-store/internal/domain"
	"github.com/hussain-mohammed/kirana-store/internal/service/bake"
	"github.com/hussain-mohammed/kirana-store/internal/ws"
)

// BakeService is the bake workflow surface used by the router.
type BakeService interface {
	Submit(ctx context.Context, req bake.Request) (domain.Bake, error)
	Get(ctx context.Context, id string) (domain.Bake, error)
	List(ctx context.Context, limit int) ([]domain.Bake, error)
}

// Router exposes HTTP endpoints for imagectl.
type Router struct {
	mux                *http.ServeMux
	logger             *slog.Logger
	bakes              BakeService
	hub                *ws.Hub
	health             func(context.Context) error
	authSecret         string
	upgrader           websocket.Upgrader
	metricsOnce        sync.Once
	metricsInitialized bool
	requestTotal       *prometheus.CounterVec
	requestDuration    *prometheus.HistogramVec
	bakeSubmissions    *prometheus.CounterVec
	lintFindings       *prometheus.CounterVec
}

const (
	healthCheckTimeout = 2 * time.Second
	maxBodyBytes       = 1 << 20
)

// New creates and registers handlers. An empty authSecret disables bearer
// authentication.
func New(logger *slog.Logger, bakes BakeService, hub *ws.Hub, health func(context.Context) error, authSecret string) *Router {
	r := &Router{
		mux:        http.NewServeMux(),
		logger:     logger,
		bakes:      bakes,
		hub:        hub,
		health:     health,
		authSecret: strings.TrimSpace(authSecret),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
	r.initMetrics()
	r.routes()
	return r
}

// ServeHTTP satisfies http.Handler.
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.mux.ServeHTTP(w, req)
}

func (r *Router) routes() {
	r.mux.HandleFunc("/metrics", promhttp.Handler().ServeHTTP)
	r.mux.HandleFunc("/healthz", r.instrument("/healthz", r.handleHealth))
	r.mux.HandleFunc("/variants", r.instrument("/variants", r.handleVariants))
	r.mux.HandleFunc("/render", r.instrument("/render", r.handleRender))
	r.mux.HandleFunc("/lint", r.instrument("/lint", r.handleLint))
	r.mux.HandleFunc("/bakes", r.instrument("/bakes", r.handleBakes))
	r.mux.HandleFunc("/bakes/", r.instrument("/bakes/:id", r.handleBake))
}

func (r *Router) handleHealth(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	ctx, cancel := context.WithTimeout(req.Context(), healthCheckTimeout)
	defer cancel()
	component := map[string]any{"status": "up"}
	status := "ok"
	if r.health != nil {
		if err := r.health(ctx); err != nil {
			status = "degraded"
			component = map[string]any{"status": "down", "error": err.Error()}
		}
	}
	payload := map[string]any{
		"status":     status,
		"components": map[string]any{"docker": component},
		"timestamp":  time.Now().UTC().Format(time.RFC3339Nano),
	}
	code := http.StatusOK
	if status != "ok" {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, payload)
}

func (r *Router) methodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}
