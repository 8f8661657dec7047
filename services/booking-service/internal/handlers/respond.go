package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/md-rashed-zaman/bookingsync/services/booking-service/internal/booking"
	"github.com/md-rashed-zaman/bookingsync/services/booking-service/internal/model"
)

type errorBody struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	body, err := json.Marshal(v)
	if err != nil {
		http.Error(w, "failed to build response", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}

// badRequest reports a malformed request that never reached the orchestrator.
func badRequest(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusBadRequest, errorBody{Error: msg, Code: string(booking.KindValidation)})
}

// writeError maps a booking error to its HTTP status. Internal causes are
// logged and never returned to the caller.
func writeError(w http.ResponseWriter, logger *slog.Logger, err error) {
	kind := booking.KindOf(err)
	status := statusFor(kind)
	if kind == booking.KindInternal || kind == booking.KindRemoteUnavailable {
		logger.Error("request failed", "kind", string(kind), "err", err)
	}
	writeJSON(w, status, errorBody{Error: booking.PublicMessage(err), Code: string(kind)})
}

func statusFor(kind booking.Kind) int {
	switch kind {
	case booking.KindNotFound:
		return http.StatusNotFound
	case booking.KindConflict:
		return http.StatusConflict
	case booking.KindUnauthorized:
		return http.StatusUnauthorized
	case booking.KindRemoteUnavailable:
		return http.StatusServiceUnavailable
	case booking.KindValidation:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

type appointmentItem struct {
	ID              string `json:"id"`
	Reference       string `json:"reference"`
	ServiceID       string `json:"service_id"`
	UserID          string `json:"user_id,omitempty"`
	GuestName       string `json:"guest_name,omitempty"`
	GuestEmail      string `json:"guest_email,omitempty"`
	GuestPhone      string `json:"guest_phone,omitempty"`
	StartTime       string `json:"start_time"`
	EndTime         string `json:"end_time"`
	Status          string `json:"status"`
	Source          string `json:"source"`
	ExternalEventID string `json:"external_event_id,omitempty"`
	Notes           string `json:"notes,omitempty"`
	CancelledAt     string `json:"cancelled_at,omitempty"`
	CancelReason    string `json:"cancel_reason,omitempty"`
	CreatedAt       string `json:"created_at"`
}

func toItem(a model.Appointment) appointmentItem {
	item := appointmentItem{
		ID:              a.ID,
		Reference:       a.Reference,
		ServiceID:       a.ServiceID,
		UserID:          a.UserID,
		GuestName:       a.GuestName,
		GuestEmail:      a.GuestEmail,
		GuestPhone:      a.GuestPhone,
		StartTime:       a.StartTime.UTC().Format(time.RFC3339),
		EndTime:         a.EndTime.UTC().Format(time.RFC3339),
		Status:          string(a.Status),
		Source:          string(a.Source),
		ExternalEventID: a.ExternalEventID,
		Notes:           a.Notes,
		CancelReason:    a.CancelReason,
		CreatedAt:       a.CreatedAt.UTC().Format(time.RFC3339),
	}
	if a.CancelledAt != nil {
		item.CancelledAt = a.CancelledAt.UTC().Format(time.RFC3339)
	}
	return item
}
