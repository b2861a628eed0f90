package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/smc-engine/smcengine/internal/aggregate"
	"github.com/smc-engine/smcengine/internal/bus"
	"github.com/smc-engine/smcengine/internal/models"
	"github.com/smc-engine/smcengine/internal/scheduler"
	"github.com/smc-engine/smcengine/internal/store"
)

// maxSearchResults bounds GET /signals/search (spec.md §6).
const maxSearchResults = 20

// SignalHandler serves the signal-store-backed read endpoints:
// GET /signals, /signals/{symbol}, /signals/search, /stats, and
// POST /rescan.
type SignalHandler struct {
	store     *store.Store
	scheduler *scheduler.Scheduler
}

// NewSignalHandler creates a new signal handler.
func NewSignalHandler(store *store.Store, sched *scheduler.Scheduler) *SignalHandler {
	return &SignalHandler{store: store, scheduler: sched}
}

// ListSignals handles GET /signals?minMatches=N&direction=upper|lower&proximity=P
func (h *SignalHandler) ListSignals(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	filter := store.Filter{}

	if proximity := query.Get("proximity"); proximity != "" {
		if p, err := strconv.ParseFloat(proximity, 64); err == nil {
			filter.ProximityMaxPct = &p
		}
	}

	if direction := query.Get("direction"); direction != "" {
		d, ok := parseDirection(direction)
		if !ok {
			respondWithError(w, http.StatusBadRequest, "direction must be 'upper' or 'lower'")
			return
		}
		filter.Direction = &d
	}

	minMatches := 0
	if raw := query.Get("minMatches"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil {
			minMatches = n
		}
	}

	signals := h.store.List(filter)
	filtered := signals[:0]
	for _, s := range signals {
		if s.MatchingTimeframes >= minMatches {
			filtered = append(filtered, s)
		}
	}
	aggregate.SortBatch(filtered)

	respondWithJSON(w, http.StatusOK, map[string]interface{}{
		"signals": filtered,
		"count":   len(filtered),
	})
}

// GetSignal handles GET /signals/{symbol}
func (h *SignalHandler) GetSignal(w http.ResponseWriter, r *http.Request) {
	symbol := mux.Vars(r)["symbol"]

	signal, ok := h.store.Get(symbol)
	if !ok {
		respondWithError(w, http.StatusNotFound, "symbol not found")
		return
	}

	respondWithJSON(w, http.StatusOK, signal)
}

// SearchSignals handles GET /signals/search?q=…
func (h *SignalHandler) SearchSignals(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query().Get("q")
	signals := h.store.List(store.Filter{Search: q})
	aggregate.SortBatch(signals)

	if len(signals) > maxSearchResults {
		signals = signals[:maxSearchResults]
	}

	respondWithJSON(w, http.StatusOK, map[string]interface{}{
		"signals": signals,
		"count":   len(signals),
	})
}

// Stats handles GET /stats
func (h *SignalHandler) Stats(w http.ResponseWriter, r *http.Request) {
	signals := h.store.List(store.Filter{})

	upper, lower := 0, 0
	for _, s := range signals {
		switch s.OverallStructure {
		case models.StructureBullish, models.StructureBullishCHOCH:
			upper++
		case models.StructureBearish, models.StructureBearishCHOCH:
			lower++
		}
	}

	var lastScanTime *time.Time
	nextScanIn := 0
	if h.scheduler != nil {
		last := h.scheduler.LastScan()
		if !last.IsZero() {
			lastScanTime = &last
		}
		nextScanIn = int(h.scheduler.NextScanIn().Seconds())
	}

	respondWithJSON(w, http.StatusOK, map[string]interface{}{
		"total":             len(signals),
		"upper":             upper,
		"lower":             lower,
		"favorites":         0,
		"lastScanTime":      lastScanTime,
		"nextScanInSeconds": nextScanIn,
	})
}

// Rescan handles POST /rescan
func (h *SignalHandler) Rescan(w http.ResponseWriter, r *http.Request) {
	if h.scheduler != nil {
		h.scheduler.Rescan(r.Context())
	}
	w.WriteHeader(http.StatusAccepted)
}

func parseDirection(s string) (models.Direction, bool) {
	switch s {
	case "upper":
		return models.Bullish, true
	case "lower":
		return models.Bearish, true
	default:
		return 0, false
	}
}

// AlertHandler serves the bus-backed alert history endpoints:
// GET /alerts and POST /alerts/{id}/read.
type AlertHandler struct {
	bus *bus.Bus
}

// NewAlertHandler creates a new alert handler.
func NewAlertHandler(b *bus.Bus) *AlertHandler {
	return &AlertHandler{bus: b}
}

// ListAlerts handles GET /alerts?limit=N
func (h *AlertHandler) ListAlerts(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			limit = n
		}
	}

	alerts := h.bus.Recent(limit)
	respondWithJSON(w, http.StatusOK, map[string]interface{}{
		"alerts": alerts,
		"count":  len(alerts),
	})
}

// MarkAlertRead handles POST /alerts/{id}/read
func (h *AlertHandler) MarkAlertRead(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	h.bus.MarkRead(id)
	respondWithJSON(w, http.StatusOK, map[string]string{"id": id, "status": "read"})
}

// HealthHandler serves liveness/readiness probes.
type HealthHandler struct {
	source readyChecker
}

type readyChecker interface {
	IsReady() bool
}

// NewHealthHandler creates a new health handler over the candle source's
// readiness.
func NewHealthHandler(source readyChecker) *HealthHandler {
	return &HealthHandler{source: source}
}

// Healthz handles GET /healthz: process is up.
func (h *HealthHandler) Healthz(w http.ResponseWriter, r *http.Request) {
	respondWithJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

// Readyz handles GET /readyz: process can serve real data.
func (h *HealthHandler) Readyz(w http.ResponseWriter, r *http.Request) {
	if h.source == nil || !h.source.IsReady() {
		respondWithError(w, http.StatusServiceUnavailable, "candle source not ready")
		return
	}
	respondWithJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}
