package api

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strings"

	"github.com/example/ticket-inventory/internal/api/middleware"
	"github.com/example/ticket-inventory/internal/availability"
	"github.com/example/ticket-inventory/internal/domain/conflict"
	"github.com/example/ticket-inventory/internal/domain/hold"
	"github.com/example/ticket-inventory/internal/domain/inventory"
	"github.com/example/ticket-inventory/internal/idempotency"
	"github.com/example/ticket-inventory/internal/reservation"
)

const IdempotencyKeyHeader = "Idempotency-Key"

type Handlers struct {
	gateway     *reservation.Gateway
	idempotency idempotency.Store
	alerts      *availability.Alerter
}

func NewHandlers(gateway *reservation.Gateway, idem idempotency.Store, alerts *availability.Alerter) *Handlers {
	return &Handlers{
		gateway:     gateway,
		idempotency: idem,
		alerts:      alerts,
	}
}

// AvailabilityResponse is keyed by ticket type id
type AvailabilityResponse struct {
	EventID     string                         `json:"event_id"`
	TicketTypes map[string]availability.Status `json:"ticket_types"`
}

// HoldResponse reports a create or update attempt
type HoldResponse struct {
	Success   bool                     `json:"success"`
	Outcome   string                   `json:"outcome"`
	Message   string                   `json:"message"`
	Requested int                      `json:"requested"`
	Granted   int                      `json:"granted"`
	Hold      *reservation.HoldDetails `json:"hold,omitempty"`
}

// SessionHoldsResponse lists a session's active holds
type SessionHoldsResponse struct {
	SessionID string                    `json:"session_id"`
	Holds     []reservation.HoldDetails `json:"holds"`
	TotalHeld int                       `json:"total_held"`
}

type PurchaseResponse struct {
	Success   bool   `json:"success"`
	Outcome   string `json:"outcome"`
	Message   string `json:"message"`
	Remaining int    `json:"remaining"`
}

// Availability Handlers

func (h *Handlers) GetAvailability(w http.ResponseWriter, r *http.Request, eventID string) {
	statuses, err := h.gateway.CheckAvailability(r.Context(), eventID)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, AvailabilityResponse{EventID: eventID, TicketTypes: statuses})
}

// GetEventStatus returns ledger totals. Only the caller's own holds are listed.
func (h *Handlers) GetEventStatus(w http.ResponseWriter, r *http.Request, eventID string) {
	status, err := h.gateway.EventStatus(r.Context(), eventID)
	if err != nil {
		respondError(w, err)
		return
	}

	sessionID := middleware.GetSessionID(r.Context())
	own := []hold.Hold{}
	for _, hd := range status.ActiveHolds {
		if sessionID != "" && hd.SessionID == sessionID {
			own = append(own, hd)
		}
	}
	status.ActiveHolds = own

	respondJSON(w, http.StatusOK, status)
}

// Hold Handlers

func (h *Handlers) CreateHold(w http.ResponseWriter, r *http.Request) {
	sessionID := middleware.GetSessionID(r.Context())

	var req reservation.CreateHoldRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondErrorMessage(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	req.SessionID = sessionID
	if req.Purpose == hold.PurposeAdminReserve {
		respondErrorMessage(w, "admin-reserve holds are created through the admin API", http.StatusForbidden)
		return
	}

	h.withIdempotency(w, r, sessionID, func(ctx context.Context) (int, any, error) {
		result, err := h.gateway.CreateHold(ctx, req)
		if err != nil {
			return 0, nil, err
		}
		return holdStatusCode(result), h.holdResponse(req.Quantity, result), nil
	})
}

func (h *Handlers) ListHolds(w http.ResponseWriter, r *http.Request) {
	sessionID := middleware.GetSessionID(r.Context())

	active, err := h.gateway.SessionHolds(r.Context(), sessionID)
	if err != nil {
		respondError(w, err)
		return
	}

	resp := SessionHoldsResponse{SessionID: sessionID, Holds: []reservation.HoldDetails{}}
	for _, hd := range active {
		resp.Holds = append(resp.Holds, h.gateway.Describe(hd))
		resp.TotalHeld += hd.Quantity
	}
	respondJSON(w, http.StatusOK, resp)
}

// ReleaseAllHolds tears down a checkout session
func (h *Handlers) ReleaseAllHolds(w http.ResponseWriter, r *http.Request) {
	released, err := h.gateway.ReleaseAllHolds(r.Context(), middleware.GetSessionID(r.Context()))
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]int{"released": released})
}

func (h *Handlers) GetHold(w http.ResponseWriter, r *http.Request, holdID string) {
	details, err := h.ownedHold(r, holdID)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, details)
}

func (h *Handlers) UpdateHold(w http.ResponseWriter, r *http.Request, holdID string) {
	var req struct {
		Quantity int `json:"quantity"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondErrorMessage(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if _, err := h.ownedHold(r, holdID); err != nil {
		respondError(w, err)
		return
	}

	result, err := h.gateway.UpdateHold(r.Context(), holdID, req.Quantity)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, holdStatusCode(result), h.holdResponse(req.Quantity, result))
}

func (h *Handlers) ReleaseHold(w http.ResponseWriter, r *http.Request, holdID string) {
	if _, err := h.ownedHold(r, holdID); err != nil {
		respondError(w, err)
		return
	}

	if err := h.gateway.ReleaseHold(r.Context(), holdID, hold.ReasonCancelled); err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"message": "Hold released"})
}

// CommitHold is called once payment for the hold is confirmed
func (h *Handlers) CommitHold(w http.ResponseWriter, r *http.Request, holdID string) {
	if _, err := h.ownedHold(r, holdID); err != nil {
		respondError(w, err)
		return
	}

	result, err := h.gateway.CommitHold(r.Context(), holdID)
	if err != nil {
		if errors.Is(err, reservation.ErrHoldExpired) {
			respondJSON(w, http.StatusGone, result)
			return
		}
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, result)
}

// Purchase Handlers

func (h *Handlers) Purchase(w http.ResponseWriter, r *http.Request) {
	sessionID := middleware.GetSessionID(r.Context())

	var req reservation.PurchaseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondErrorMessage(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	req.SessionID = sessionID

	h.withIdempotency(w, r, sessionID, func(ctx context.Context) (int, any, error) {
		result, err := h.gateway.Purchase(ctx, req)
		if err != nil {
			return 0, nil, err
		}
		status := http.StatusOK
		if !result.Success() {
			status = http.StatusConflict
		}
		return status, PurchaseResponse{
			Success:   result.Success(),
			Outcome:   result.Outcome.Kind(),
			Message:   result.Message,
			Remaining: result.Remaining,
		}, nil
	})
}

// Admin Handlers

func (h *Handlers) GetHistory(w http.ResponseWriter, r *http.Request, ticketTypeID string) {
	entries, err := h.gateway.History(r.Context(), ticketTypeID)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, entries)
}

func (h *Handlers) GetAlerts(w http.ResponseWriter, r *http.Request, eventID string) {
	alerts := []availability.Alert{}
	if h.alerts != nil {
		alerts = append(alerts, h.alerts.Recent(eventID)...)
	}
	respondJSON(w, http.StatusOK, alerts)
}

// AdminReserve places an admin-reserve hold under the caller's session
func (h *Handlers) AdminReserve(w http.ResponseWriter, r *http.Request) {
	var req reservation.CreateHoldRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondErrorMessage(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	req.SessionID = middleware.GetSessionID(r.Context())
	req.Purpose = hold.PurposeAdminReserve

	result, err := h.gateway.CreateHold(r.Context(), req)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, holdStatusCode(result), h.holdResponse(req.Quantity, result))
}

func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Helper functions

// ownedHold loads a hold and hides it from sessions that do not own it
func (h *Handlers) ownedHold(r *http.Request, holdID string) (reservation.HoldDetails, error) {
	details, err := h.gateway.GetHold(r.Context(), holdID)
	if err != nil {
		return reservation.HoldDetails{}, err
	}
	if details.SessionID != middleware.GetSessionID(r.Context()) {
		return reservation.HoldDetails{}, hold.ErrHoldNotFound
	}
	return details, nil
}

func (h *Handlers) holdResponse(requested int, result reservation.CreateHoldResult) HoldResponse {
	resp := HoldResponse{
		Success:   result.Success(),
		Outcome:   result.Outcome.Kind(),
		Message:   result.Message,
		Requested: requested,
	}
	if result.Hold != nil {
		details := h.gateway.Describe(*result.Hold)
		resp.Hold = &details
		resp.Granted = result.Hold.Quantity
	}
	return resp
}

// holdStatusCode is 201 whenever a hold exists, including partial grants
func holdStatusCode(result reservation.CreateHoldResult) int {
	if result.Hold != nil {
		return http.StatusCreated
	}
	switch result.Outcome.(type) {
	case conflict.SoldOut, conflict.Denied:
		return http.StatusConflict
	}
	return http.StatusOK
}

type storedResponse struct {
	Status int             `json:"status"`
	Body   json.RawMessage `json:"body"`
}

// withIdempotency replays the stored response for a repeated Idempotency-Key.
// Keys are scoped to the session.
func (h *Handlers) withIdempotency(w http.ResponseWriter, r *http.Request, sessionID string, run func(ctx context.Context) (int, any, error)) {
	ctx := r.Context()
	key := r.Header.Get(IdempotencyKeyHeader)
	if key == "" || h.idempotency == nil {
		status, body, err := run(ctx)
		if err != nil {
			respondError(w, err)
			return
		}
		respondJSON(w, status, body)
		return
	}

	scoped := sessionID + ":" + key
	cached, err := h.idempotency.Begin(ctx, scoped)
	if err != nil {
		respondError(w, err)
		return
	}
	if cached != nil {
		var stored storedResponse
		if err := json.Unmarshal(cached, &stored); err == nil {
			w.Header().Set("Idempotent-Replayed", "true")
			respondRaw(w, stored.Status, stored.Body)
			return
		}
	}

	status, body, err := run(ctx)
	if err != nil {
		if abortErr := h.idempotency.Abort(ctx, scoped); abortErr != nil {
			log.Printf("[API] Failed to abort idempotency key %s: %v", key, abortErr)
		}
		respondError(w, err)
		return
	}

	raw, err := json.Marshal(body)
	if err != nil {
		respondError(w, err)
		return
	}
	stored, _ := json.Marshal(storedResponse{Status: status, Body: raw})
	if err := h.idempotency.Complete(ctx, scoped, stored); err != nil {
		log.Printf("[API] Failed to store idempotent result for %s: %v", key, err)
	}
	respondRaw(w, status, raw)
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func respondRaw(w http.ResponseWriter, status int, body []byte) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}

func respondErrorMessage(w http.ResponseWriter, message string, status int) {
	respondJSON(w, status, map[string]string{"error": message})
}

// respondError maps domain errors to status codes
func respondError(w http.ResponseWriter, err error) {
	status := statusForError(err)
	message := err.Error()
	if status == http.StatusInternalServerError {
		log.Printf("[API] Internal error: %v", err)
		message = "internal error"
	}
	respondErrorMessage(w, message, status)
}

func statusForError(err error) int {
	switch {
	case errors.Is(err, hold.ErrInvalidQuantity),
		errors.Is(err, hold.ErrSessionRequired),
		errors.Is(err, hold.ErrTicketTypeNeeded),
		errors.Is(err, inventory.ErrInvalidQuantity):
		return http.StatusBadRequest
	case errors.Is(err, hold.ErrHoldNotFound),
		errors.Is(err, inventory.ErrUnknownTicketType),
		errors.Is(err, reservation.ErrUnknownEvent):
		return http.StatusNotFound
	case errors.Is(err, hold.ErrHoldNotActive),
		errors.Is(err, idempotency.ErrInProgress):
		return http.StatusConflict
	case errors.Is(err, reservation.ErrHoldExpired):
		return http.StatusGone
	default:
		return http.StatusInternalServerError
	}
}

// splitPath returns the path segments after prefix
func splitPath(path, prefix string) []string {
	rest := strings.Trim(strings.TrimPrefix(path, prefix), "/")
	if rest == "" {
		return nil
	}
	return strings.Split(rest, "/")
}
