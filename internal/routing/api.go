package routing

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/charmbracelet/log"
	"github.com/go-chi/chi/v5"

	"github.com/lox/holdemgrid/internal/httpx"
)

// StatusRequest is the body of PUT /v1/servers/{id}/status.
type StatusRequest struct {
	Status Status `json:"status"`
}

// NewHandler exposes the authority over HTTP.
func NewHandler(a *Authority, logger *log.Logger) http.Handler {
	h := &handler{authority: a}
	r := httpx.NewRouter(logger)
	r.Route("/v1", func(r chi.Router) {
		r.Get("/servers", h.listServers)
		r.Post("/servers", h.registerServer)
		r.Get("/servers/{id}", h.getServer)
		r.Delete("/servers/{id}", h.unregisterServer)
		r.Post("/servers/{id}/heartbeat", h.heartbeat)
		r.Put("/servers/{id}/metrics", h.updateMetrics)
		r.Put("/servers/{id}/status", h.setStatus)
		r.Get("/route", h.route)
	})
	return r
}

type handler struct {
	authority *Authority
}

func (h *handler) listServers(w http.ResponseWriter, _ *http.Request) {
	httpx.WriteJSON(w, http.StatusOK, h.authority.Servers())
}

func (h *handler) registerServer(w http.ResponseWriter, r *http.Request) {
	var info ServerInfo
	if err := httpx.DecodeJSON(r, &info); err != nil {
		writeError(w, fmt.Errorf("%w: %v", ErrInvalidServer, err))
		return
	}
	registered, err := h.authority.RegisterServer(info)
	if err != nil {
		writeError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, registered)
}

func (h *handler) getServer(w http.ResponseWriter, r *http.Request) {
	info, err := h.authority.Server(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, info)
}

func (h *handler) unregisterServer(w http.ResponseWriter, r *http.Request) {
	if err := h.authority.UnregisterServer(chi.URLParam(r, "id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handler) heartbeat(w http.ResponseWriter, r *http.Request) {
	if err := h.authority.Heartbeat(chi.URLParam(r, "id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handler) updateMetrics(w http.ResponseWriter, r *http.Request) {
	var m Metrics
	if err := httpx.DecodeJSON(r, &m); err != nil {
		writeError(w, fmt.Errorf("%w: %v", ErrInvalidServer, err))
		return
	}
	if err := h.authority.UpdateServerMetrics(chi.URLParam(r, "id"), m); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handler) setStatus(w http.ResponseWriter, r *http.Request) {
	var req StatusRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		writeError(w, fmt.Errorf("%w: %v", ErrInvalidServer, err))
		return
	}
	if err := h.authority.SetStatus(chi.URLParam(r, "id"), req.Status); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// route answers GET /v1/route?player=&region=&maxLatencyMs=&minFreeTables=.
func (h *handler) route(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	c := Criteria{Region: q.Get("region")}
	if v := q.Get("maxLatencyMs"); v != "" {
		ms, err := strconv.Atoi(v)
		if err != nil || ms < 0 {
			writeError(w, fmt.Errorf("%w: maxLatencyMs %q", ErrInvalidServer, v))
			return
		}
		c.MaxLatency = time.Duration(ms) * time.Millisecond
	}
	if v := q.Get("minFreeTables"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, fmt.Errorf("%w: minFreeTables %q", ErrInvalidServer, v))
			return
		}
		c.MinFreeTables = n
	}

	var (
		info ServerInfo
		err  error
	)
	if player := q.Get("player"); player != "" {
		info, err = h.authority.RoutePlayerToServer(player, c)
	} else {
		info, err = h.authority.FindBestServer(c)
	}
	if err != nil {
		writeError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, info)
}

func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, ErrInvalidServer):
		status = http.StatusBadRequest
	case errors.Is(err, ErrServerNotFound):
		status = http.StatusNotFound
	case errors.Is(err, ErrDuplicateServer):
		status = http.StatusConflict
	case errors.Is(err, ErrNoServerAvailable):
		status = http.StatusServiceUnavailable
	}
	httpx.WriteError(w, status, ErrorCode(err), err)
}
