package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/realdoomsman/BTC500/internal/logging"
	"github.com/realdoomsman/BTC500/internal/models"
	"github.com/realdoomsman/BTC500/internal/status"
	"github.com/realdoomsman/BTC500/internal/store"
)

const defaultListLimit = 20

// StatusReader serves the cached bot status. May be nil when the cache
// is disabled.
type StatusReader interface {
	Get(ctx context.Context) (*status.BotStatus, error)
}

// Handler serves the reporting API backed by the ledger store.
type Handler struct {
	store       store.Store
	statusCache StatusReader
	log         *logging.Logger
}

// NewHandler creates the reporting handler.
func NewHandler(st store.Store, statusCache StatusReader, log *logging.Logger) *Handler {
	return &Handler{
		store:       st,
		statusCache: statusCache,
		log:         log.Component("server"),
	}
}

// HealthCheck reports liveness.
func (h *Handler) HealthCheck(w http.ResponseWriter, _ *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// BotStatus returns the cached summary of the last cycle.
func (h *Handler) BotStatus(w http.ResponseWriter, r *http.Request) {
	if h.statusCache == nil {
		h.writeError(w, http.StatusNotFound, "status cache disabled")
		return
	}

	s, err := h.statusCache.Get(r.Context())
	if errors.Is(err, status.ErrNotFound) {
		h.writeError(w, http.StatusNotFound, "no status recorded yet")
		return
	}
	if err != nil {
		h.serverError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, s)
}

// ListConversions returns recent conversion events, newest first.
func (h *Handler) ListConversions(w http.ResponseWriter, r *http.Request) {
	conversions, err := h.store.RecentConversions(r.Context(), listLimit(r))
	if err != nil {
		h.serverError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"conversions": conversions})
}

// ListDistributions returns recent distribution events, newest first.
func (h *Handler) ListDistributions(w http.ResponseWriter, r *http.Request) {
	distributions, err := h.store.RecentDistributions(r.Context(), listLimit(r))
	if err != nil {
		h.serverError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"distributions": distributions})
}

// GetDistribution returns one distribution and its allocations.
func (h *Handler) GetDistribution(w http.ResponseWriter, r *http.Request) {
	distributionID := r.PathValue("id")

	event, err := h.store.DistributionByID(r.Context(), distributionID)
	if errors.Is(err, store.ErrDistributionNotFound) {
		h.writeError(w, http.StatusNotFound, "distribution not found")
		return
	}
	if err != nil {
		h.serverError(w, err)
		return
	}

	allocations, err := h.store.AllocationsByDistribution(r.Context(), distributionID)
	if err != nil {
		h.serverError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]any{
		"distribution": event,
		"allocations":  allocations,
	})
}

// HolderAllocations returns the payment history of one holder address.
func (h *Handler) HolderAllocations(w http.ResponseWriter, r *http.Request) {
	address := r.PathValue("address")

	allocations, err := h.store.AllocationsByHolder(r.Context(), address)
	if err != nil {
		h.serverError(w, err)
		return
	}

	var totalReceived int64
	for _, a := range allocations {
		if a.Status == models.AllocationSuccess {
			totalReceived += a.Amount
		}
	}

	h.writeJSON(w, http.StatusOK, map[string]any{
		"address":        address,
		"total_received": totalReceived,
		"allocations":    allocations,
	})
}

// Stats returns lifetime totals for the dashboard header.
func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	converted, err := h.store.TotalConverted(r.Context())
	if err != nil {
		h.serverError(w, err)
		return
	}

	distributed, err := h.store.TotalDistributed(r.Context())
	if err != nil {
		h.serverError(w, err)
		return
	}

	last, err := h.store.LastDistribution(r.Context())
	if err != nil && !errors.Is(err, store.ErrDistributionNotFound) {
		h.serverError(w, err)
		return
	}

	resp := map[string]any{
		"total_input":       converted.TotalInput,
		"total_converted":   converted.TotalOutput,
		"total_distributed": distributed,
	}
	if last != nil {
		resp["last_distribution"] = last
	}

	h.writeJSON(w, http.StatusOK, resp)
}

func listLimit(r *http.Request) int {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return defaultListLimit
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit <= 0 || limit > 100 {
		return defaultListLimit
	}
	return limit
}

func (h *Handler) writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.log.Error("failed to encode response", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, code int, msg string) {
	h.writeJSON(w, code, map[string]string{"error": msg})
}

func (h *Handler) serverError(w http.ResponseWriter, err error) {
	h.log.Error("request failed", "error", err)
	h.writeError(w, http.StatusInternalServerError, "internal error")
}
