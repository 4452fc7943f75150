package http

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/robertarktes/ticket-holds-and-bookings/internal/booking"
	"github.com/robertarktes/ticket-holds-and-bookings/internal/clock"
	"github.com/robertarktes/ticket-holds-and-bookings/internal/config"
	"github.com/robertarktes/ticket-holds-and-bookings/internal/domain"
	"github.com/robertarktes/ticket-holds-and-bookings/internal/holds"
	"github.com/robertarktes/ticket-holds-and-bookings/internal/idempotency"
	"github.com/robertarktes/ticket-holds-and-bookings/internal/inventory"
	"github.com/robertarktes/ticket-holds-and-bookings/internal/observability"
)

// ReadinessCheck reports whether a dependency can serve traffic.
type ReadinessCheck func(ctx context.Context) error

type Handlers struct {
	engine    config.Engine
	holds     *holds.Manager
	bookings  *booking.Finalizer
	inventory *inventory.Calculator
	idemp     *idempotency.Idempotency
	clock     clock.Clock
	logger    observability.Logger
	checks    map[string]ReadinessCheck
}

func NewHandlers(engine config.Engine, holdManager *holds.Manager, finalizer *booking.Finalizer, calc *inventory.Calculator, idemp *idempotency.Idempotency, clk clock.Clock, logger observability.Logger, checks map[string]ReadinessCheck) *Handlers {
	return &Handlers{
		engine:    engine,
		holds:     holdManager,
		bookings:  finalizer,
		inventory: calc,
		idemp:     idemp,
		clock:     clk,
		logger:    logger,
		checks:    checks,
	}
}

type selectionsRequest struct {
	Selections []domain.Selection `json:"selections"`
}

type holdsResponse struct {
	Success          bool                    `json:"success"`
	Holds            []domain.Hold           `json:"holds"`
	UnavailableTiers []holds.UnavailableTier `json:"unavailable_tiers,omitempty"`
	Error            string                  `json:"error,omitempty"`
}

func (h *Handlers) GetInventory(w http.ResponseWriter, r *http.Request) {
	itemID := chi.URLParam(r, "itemID")
	tiers, err := h.inventory.Inventory(r.Context(), itemID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"item_id": itemID, "tiers": tiers})
}

func (h *Handlers) GetSessionHolds(w http.ResponseWriter, r *http.Request) {
	list, err := h.holds.GetHoldsForSession(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, holdsResponse{Success: true, Holds: nonNil(list)})
}

func (h *Handlers) GetItemHolds(w http.ResponseWriter, r *http.Request) {
	list, err := h.holds.GetHoldsForItem(r.Context(), chi.URLParam(r, "sessionID"), chi.URLParam(r, "itemID"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, holdsResponse{Success: true, Holds: nonNil(list)})
}

func (h *Handlers) PutHolds(w http.ResponseWriter, r *http.Request) {
	var req selectionsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, r, errors.Wrap(domain.ErrInvalidInput, "malformed body"))
		return
	}

	res, err := h.holds.CreateOrUpdateHolds(r.Context(), chi.URLParam(r, "sessionID"), chi.URLParam(r, "itemID"), req.Selections)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	body := holdsResponse{Success: res.Success, Holds: nonNil(res.Holds), UnavailableTiers: res.UnavailableTiers}
	if res.Err != nil {
		body.Error = res.Err.Error()
	}
	writeJSON(w, statusFor(res.Err, http.StatusOK), body)
}

func (h *Handlers) DeleteItemHolds(w http.ResponseWriter, r *http.Request) {
	if err := h.holds.ReleaseHolds(r.Context(), chi.URLParam(r, "sessionID"), chi.URLParam(r, "itemID")); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handlers) DeleteSessionHolds(w http.ResponseWriter, r *http.Request) {
	if err := h.holds.ReleaseAllHolds(r.Context(), chi.URLParam(r, "sessionID")); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handlers) Heartbeat(w http.ResponseWriter, r *http.Request) {
	var req struct {
		LastActivityAt *time.Time `json:"last_activity_at"`
		TabVisible     *bool      `json:"tab_visible"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, r, errors.Wrap(domain.ErrInvalidInput, "malformed body"))
		return
	}
	lastActivity := h.clock.Now()
	if req.LastActivityAt != nil {
		lastActivity = *req.LastActivityAt
	}
	visible := req.TabVisible == nil || *req.TabVisible

	res, err := h.holds.ProcessHeartbeat(r.Context(), chi.URLParam(r, "sessionID"), chi.URLParam(r, "itemID"), lastActivity, visible)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	body := map[string]interface{}{
		"success":  res.Success,
		"extended": res.Extended,
		"holds":    nonNil(res.Holds),
	}
	if res.Err != nil {
		body["error"] = res.Err.Error()
	} else {
		body["expires_at"] = res.NewExpiry
	}
	writeJSON(w, statusFor(res.Err, http.StatusOK), body)
}

func (h *Handlers) CreateBooking(w http.ResponseWriter, r *http.Request) {
	key := r.Header.Get("Idempotency-Key")
	if key == "" {
		http.Error(w, "missing Idempotency-Key", http.StatusBadRequest)
		return
	}
	sessionID, itemID := chi.URLParam(r, "sessionID"), chi.URLParam(r, "itemID")
	key = sessionID + ":" + key

	if h.idemp != nil {
		if h.replayStored(w, r, key) {
			return
		}
		release, err := h.idemp.Begin(r.Context(), key)
		if errors.Is(err, idempotency.ErrInFlight) {
			http.Error(w, err.Error(), http.StatusConflict)
			return
		}
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		defer release()
		// A request holding the key may have finished between Get and Begin.
		if h.replayStored(w, r, key) {
			return
		}
	}

	var req selectionsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, r, errors.Wrap(domain.ErrInvalidInput, "malformed body"))
		return
	}

	res, err := h.bookings.ProcessBooking(r.Context(), sessionID, itemID, req.Selections)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	body := map[string]interface{}{
		"success":       res.Success,
		"retry_allowed": res.RetryAllowed,
		"booking":       res.Booking,
	}
	if res.Err != nil {
		body["error"] = res.Err.Error()
	}
	status := statusFor(res.Err, http.StatusCreated)
	data, err := json.Marshal(body)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(data)

	if h.idemp != nil && status < http.StatusInternalServerError {
		if err := h.idemp.Set(r.Context(), key, idempotency.Response{Status: status, Result: data}); err != nil {
			requestLogger(r, h.logger).WithError(err).Warn("store idempotent response")
		}
	}
}

// replayStored writes the stored response for key, if any, and reports
// whether it did. A lookup failure is written as an error.
func (h *Handlers) replayStored(w http.ResponseWriter, r *http.Request, key string) bool {
	existing, err := h.idemp.Get(r.Context(), key)
	if err != nil {
		h.writeError(w, r, err)
		return true
	}
	if existing == nil {
		return false
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Idempotent-Replayed", "true")
	w.WriteHeader(existing.Status)
	_, _ = w.Write(existing.Result)
	return true
}

func (h *Handlers) ListSessionBookings(w http.ResponseWriter, r *http.Request) {
	list, err := h.bookings.GetBookingsForSession(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if list == nil {
		list = []domain.Booking{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"bookings": list})
}

func (h *Handlers) GetBooking(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "invalid id", http.StatusBadRequest)
		return
	}
	b, err := h.bookings.GetBookingByID(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

// GetConfig exposes the durations and caps clients need to drive heartbeats.
func (h *Handlers) GetConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"hold_duration_seconds":      int(h.engine.HoldDuration.Seconds()),
		"inactivity_timeout_seconds": int(h.engine.InactivityTimeout.Seconds()),
		"grace_period_seconds":       int(h.engine.GracePeriod.Seconds()),
		"hard_cap_seconds":           int(h.engine.HardCap.Seconds()),
		"heartbeat_interval_seconds": int(h.engine.HeartbeatInterval.Seconds()),
		"max_per_tier":               h.engine.MaxPerTier,
		"max_per_order":              h.engine.MaxPerOrder,
	})
}

func (h *Handlers) Healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

func (h *Handlers) Readyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	for name, check := range h.checks {
		if err := check(ctx); err != nil {
			requestLogger(r, h.logger).WithError(err).WithField("dependency", name).Warn("not ready")
			http.Error(w, name+" not ready", http.StatusServiceUnavailable)
			return
		}
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("Ready"))
}

func (h *Handlers) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err, http.StatusInternalServerError)
	msg := err.Error()
	switch status {
	case http.StatusInternalServerError:
		requestLogger(r, h.logger).WithError(err).Error("request failed")
		msg = "internal error"
	case http.StatusServiceUnavailable:
		w.Header().Set("Retry-After", "1")
	}
	http.Error(w, msg, status)
}

// statusFor maps an outcome to an HTTP status; ok is used for a nil error.
func statusFor(err error, ok int) int {
	switch {
	case err == nil:
		return ok
	case errors.Is(err, domain.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrCapacityUnavailable),
		errors.Is(err, domain.ErrHoldMissingOrInsufficient),
		errors.Is(err, domain.ErrNoActiveHolds):
		return http.StatusConflict
	case errors.Is(err, domain.ErrPaymentDeclined):
		return http.StatusPaymentRequired
	case errors.Is(err, domain.ErrBusy), errors.Is(err, domain.ErrSerializationFailure):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func nonNil(list []domain.Hold) []domain.Hold {
	if list == nil {
		return []domain.Hold{}
	}
	return list
}
