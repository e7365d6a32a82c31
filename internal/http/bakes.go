package httpx

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/hussain-mohammed/kirana-store/internal/domain"
	"github.com/hussain-mohammed/kirana-store/internal/service/bake"
	"github.com/hussain-mohammed/kirana-store/internal/store"
	"github.com/hussain-mohammed/kirana-store/internal/ws"
	"github.com/hussain-mohammed/kirana-store/pkg/jwt"
)

const defaultListLimit = 20

func (r *Router) handleBakes(w http.ResponseWriter, req *http.Request) {
	switch req.Method {
	case http.MethodPost:
		r.requireScope(jwt.ScopeWrite, r.submitBake)(w, req)
	case http.MethodGet:
		r.requireScope(jwt.ScopeRead, r.listBakes)(w, req)
	default:
		r.methodNotAllowed(w)
	}
}

func (r *Router) submitBake(w http.ResponseWriter, req *http.Request) {
	var payload bake.Request
	if err := decodeJSON(w, req, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	submitted, err := r.bakes.Submit(req.Context(), payload)
	if err != nil {
		if errors.Is(err, bake.ErrInvalidRequest) {
			r.recordBakeSubmission("rejected")
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		r.recordBakeSubmission("failure")
		r.logger.Error("bake submission failed", "error", err)
		writeError(w, http.StatusInternalServerError, "bake submission failed")
		return
	}
	r.recordBakeSubmission("accepted")
	if claims, ok := claimsFromContext(req.Context()); ok {
		r.logger.Info("bake submitted", "bake_id", submitted.ID, "subject", claims.Subject)
	}
	w.Header().Set("Location", "/bakes/"+submitted.ID)
	writeJSON(w, http.StatusAccepted, submitted)
}

func (r *Router) listBakes(w http.ResponseWriter, req *http.Request) {
	limit := defaultListLimit
	if raw := req.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = parsed
	}
	bakes, err := r.bakes.List(req.Context(), limit)
	if err != nil {
		r.logger.Error("list bakes failed", "error", err)
		writeError(w, http.StatusInternalServerError, "list bakes failed")
		return
	}
	if bakes == nil {
		bakes = []domain.Bake{}
	}
	writeJSON(w, http.StatusOK, bakes)
}

func (r *Router) handleBake(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	parts := strings.Split(strings.Trim(strings.TrimPrefix(req.URL.Path, "/bakes/"), "/"), "/")
	id := parts[0]
	if id == "" {
		writeError(w, http.StatusBadRequest, "bake id required")
		return
	}
	switch {
	case len(parts) == 1:
		r.requireScope(jwt.ScopeRead, func(w http.ResponseWriter, req *http.Request) {
			r.getBake(w, req, id)
		})(w, req)
	case len(parts) == 2 && parts[1] == "stream":
		r.requireScope(jwt.ScopeRead, func(w http.ResponseWriter, req *http.Request) {
			r.streamBake(w, req, id)
		})(w, req)
	default:
		writeError(w, http.StatusNotFound, "not found")
	}
}

func (r *Router) getBake(w http.ResponseWriter, req *http.Request, id string) {
	b, err := r.bakes.Get(req.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "bake not found")
			return
		}
		r.logger.Error("get bake failed", "bake_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "get bake failed")
		return
	}
	writeJSON(w, http.StatusOK, b)
}

func (r *Router) streamBake(w http.ResponseWriter, req *http.Request, id string) {
	if r.hub == nil {
		writeError(w, http.StatusNotImplemented, "log streaming disabled")
		return
	}
	b, err := r.bakes.Get(req.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "bake not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "get bake failed")
		return
	}
	// Finished bakes whose log is gone (expired, or run before a restart)
	// have nothing to stream.
	if b.Terminal() && !r.hub.Known(id) {
		writeJSON(w, http.StatusOK, b)
		return
	}
	conn, err := r.upgrader.Upgrade(w, req, nil)
	if err != nil {
		r.logger.Error("websocket upgrade failed", "error", err)
		return
	}
	client := ws.NewClient(conn, r.logger)
	if !r.hub.Register(id, client) {
		return
	}
	go func() {
		defer r.hub.Unregister(id, client)
		client.Wait()
	}()
}
