package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/aquameter/telemetry-hub/internal/hub"
	"github.com/aquameter/telemetry-hub/internal/model"
)

// Store is the read/ack slice of storage the HTTP surface needs.
type Store interface {
	ListReadings(ctx context.Context, from, to time.Time, limit int) ([]*model.ValidatedReading, error)
	ListAlerts(ctx context.Context, offset, limit int) ([]*model.AlertRecord, error)
	AcknowledgeAlert(ctx context.Context, id string) error
}

// LatestCache serves the most recent reading without a database hit.
// Optional.
type LatestCache interface {
	GetLatest(ctx context.Context) (*model.ValidatedReading, error)
}

// Handler is the thin request/response glue over storage and the fan-out
// hub. The ingestion pipeline never passes through here.
type Handler struct {
	logger *zap.Logger
	store  Store
	cache  LatestCache
	hub    *hub.Hub
}

// NewHandler creates the HTTP handler. cache may be nil.
func NewHandler(logger *zap.Logger, store Store, cache LatestCache, h *hub.Hub) *Handler {
	return &Handler{
		logger: logger.Named("api"),
		store:  store,
		cache:  cache,
		hub:    h,
	}
}

// Router builds the chi route table.
func (h *Handler) Router() *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/ws", h.hub.ServeWS)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Get("/readings", h.listReadings)
		r.Get("/alerts", h.listAlerts)
		r.Post("/alerts/{id}/ack", h.acknowledgeAlert)
		r.Get("/latest", h.latestReading)
	})

	return r
}

func (h *Handler) listReadings(w http.ResponseWriter, r *http.Request) {
	to := time.Now().UTC()
	from := to.Add(-24 * time.Hour)

	if v := r.URL.Query().Get("from"); v != "" {
		parsed, err := time.Parse(time.RFC3339, v)
		if err != nil {
			http.Error(w, "invalid from timestamp", http.StatusBadRequest)
			return
		}
		from = parsed
	}
	if v := r.URL.Query().Get("to"); v != "" {
		parsed, err := time.Parse(time.RFC3339, v)
		if err != nil {
			http.Error(w, "invalid to timestamp", http.StatusBadRequest)
			return
		}
		to = parsed
	}
	limit := queryInt(r, "limit", 100)

	readings, err := h.store.ListReadings(r.Context(), from, to, limit)
	if err != nil {
		h.logger.Error("Failed to list readings", zap.Error(err))
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	if readings == nil {
		readings = []*model.ValidatedReading{}
	}
	writeJSON(w, readings)
}

func (h *Handler) listAlerts(w http.ResponseWriter, r *http.Request) {
	alerts, err := h.store.ListAlerts(r.Context(), queryInt(r, "offset", 0), queryInt(r, "limit", 50))
	if err != nil {
		h.logger.Error("Failed to list alerts", zap.Error(err))
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	if alerts == nil {
		alerts = []*model.AlertRecord{}
	}
	writeJSON(w, alerts)
}

func (h *Handler) acknowledgeAlert(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.store.AcknowledgeAlert(r.Context(), id); err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) latestReading(w http.ResponseWriter, r *http.Request) {
	if h.cache != nil {
		reading, err := h.cache.GetLatest(r.Context())
		if err != nil {
			h.logger.Warn("Cache lookup failed, falling back to storage", zap.Error(err))
		} else if reading != nil {
			writeJSON(w, reading)
			return
		}
	}

	now := time.Now().UTC()
	readings, err := h.store.ListReadings(r.Context(), now.Add(-24*time.Hour), now, 1)
	if err != nil {
		h.logger.Error("Failed to query latest reading", zap.Error(err))
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	if len(readings) == 0 {
		http.Error(w, "no readings", http.StatusNotFound)
		return
	}
	writeJSON(w, readings[0])
}

func queryInt(r *http.Request, name string, fallback int) int {
	v := r.URL.Query().Get(name)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return fallback
	}
	return n
}

func writeJSON(w http.ResponseWriter, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(payload)
}
