// Package router configures the service host's HTTP routes.
//
// Routes configured:
//   - GET /healthz - 200 once the service manager is initialized, 503 before
//   - GET /metrics - Prometheus metrics
//   - GET /services?type=&appId=&plantId= - list registered services
//   - POST /services - create a service from a configuration document
//   - GET /services/{id} - runtime record of a service
//   - DELETE /services/{id} - remove a service and its documents
//   - GET /services/{id}/config - stored configuration document
//   - PUT /services/{id}/config - replace the configuration document
//   - GET /services/{id}/forecast - latest output of the service
//
// Errors are JSON bodies of the form {"error": "..."}.
package router

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/HatiCode/gridservices/pkg/httpx"
	"github.com/HatiCode/gridservices/pkg/services"
)

// maxBodyBytes bounds configuration documents accepted over HTTP.
const maxBodyBytes = 1 << 20

// Registry is the part of services.Manager the routes use.
type Registry interface {
	Initialized() bool
	List(ctx context.Context, f services.Filter) ([]services.Record, error)
	Get(ctx context.Context, id string) (services.Record, error)
	Config(ctx context.Context, id string) (services.Document, error)
	Update(ctx context.Context, id string, doc services.Document) error
	Create(ctx context.Context, doc services.Document) (services.Record, error)
	Remove(ctx context.Context, id string) error
	Forecast(ctx context.Context, id string) (services.Output, error)
}

// ListResponse is the body of GET /services.
type ListResponse struct {
	Services []services.Record `json:"services"`
}

// SetupRoutes configures HTTP endpoints for the service host. A nil gatherer
// serves the default Prometheus registry.
func SetupRoutes(reg Registry, gatherer prometheus.Gatherer, logger *slog.Logger) *http.ServeMux {
	if logger == nil {
		logger = slog.Default()
	}
	h := &handlers{reg: reg, logger: logger}
	mux := http.NewServeMux()

	mux.Handle("GET /healthz", httpx.HealthHandlerWithCheck(func() error {
		if !reg.Initialized() {
			return services.ErrNotInitialized
		}
		return nil
	}))

	if gatherer == nil {
		mux.Handle("GET /metrics", promhttp.Handler())
	} else {
		mux.Handle("GET /metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}

	mux.HandleFunc("GET /services", h.list)
	mux.HandleFunc("POST /services", h.create)
	mux.HandleFunc("GET /services/{id}", h.get)
	mux.HandleFunc("DELETE /services/{id}", h.remove)
	mux.HandleFunc("GET /services/{id}/config", h.config)
	mux.HandleFunc("PUT /services/{id}/config", h.update)
	mux.HandleFunc("GET /services/{id}/forecast", h.forecast)

	return mux
}

type handlers struct {
	reg    Registry
	logger *slog.Logger
}

func (h *handlers) list(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	records, err := h.reg.List(r.Context(), services.Filter{
		Type:    services.Kind(q.Get("type")),
		AppID:   q.Get("appId"),
		PlantID: q.Get("plantId"),
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	_ = httpx.WriteJSON(w, http.StatusOK, ListResponse{Services: records})
}

func (h *handlers) create(w http.ResponseWriter, r *http.Request) {
	doc, ok := decodeDocument(w, r)
	if !ok {
		return
	}
	rec, err := h.reg.Create(r.Context(), doc)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	w.Header().Set("Location", "/services/"+rec.ID)
	_ = httpx.WriteJSON(w, http.StatusCreated, rec)
}

func (h *handlers) get(w http.ResponseWriter, r *http.Request) {
	rec, err := h.reg.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	_ = httpx.WriteJSON(w, http.StatusOK, rec)
}

func (h *handlers) remove(w http.ResponseWriter, r *http.Request) {
	if err := h.reg.Remove(r.Context(), r.PathValue("id")); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handlers) config(w http.ResponseWriter, r *http.Request) {
	doc, err := h.reg.Config(r.Context(), r.PathValue("id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	_ = httpx.WriteJSON(w, http.StatusOK, doc)
}

func (h *handlers) update(w http.ResponseWriter, r *http.Request) {
	doc, ok := decodeDocument(w, r)
	if !ok {
		return
	}
	if err := h.reg.Update(r.Context(), r.PathValue("id"), doc); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handlers) forecast(w http.ResponseWriter, r *http.Request) {
	out, err := h.reg.Forecast(r.Context(), r.PathValue("id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	_ = httpx.WriteJSON(w, http.StatusOK, out)
}

func decodeDocument(w http.ResponseWriter, r *http.Request) (services.Document, bool) {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	var doc services.Document
	if err := dec.Decode(&doc); err != nil {
		httpx.WriteErrorMessage(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return services.Document{}, false
	}
	return doc, true
}

// writeError maps service errors to status codes. Unexpected errors are
// logged and hidden behind a generic message.
func (h *handlers) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var cfgErr *services.ConfigurationError
	switch {
	case errors.Is(err, services.ErrNotInitialized):
		httpx.WriteError(w, http.StatusServiceUnavailable, err)
	case errors.Is(err, services.ErrNotFound):
		httpx.WriteError(w, http.StatusNotFound, err)
	case errors.As(err, &cfgErr):
		httpx.WriteError(w, http.StatusBadRequest, err)
	default:
		h.logger.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		httpx.WriteErrorMessage(w, http.StatusInternalServerError, "internal server error")
	}
}
