package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/md-rashed-zaman/bookingsync/services/booking-service/internal/booking"
	"github.com/md-rashed-zaman/bookingsync/services/booking-service/internal/reconcile"
)

// SyncTrigger runs one reconciliation pass.
type SyncTrigger interface {
	SyncOnce(ctx context.Context) (reconcile.Result, error)
}

type AdminHandler struct {
	orch        *booking.Orchestrator
	sync        SyncTrigger
	logger      *slog.Logger
	syncTimeout time.Duration
	now         func() time.Time
}

// NewAdminHandler builds the owner-facing handler. sync may be nil when no
// remote calendar is configured.
func NewAdminHandler(orch *booking.Orchestrator, sync SyncTrigger, logger *slog.Logger, syncTimeout time.Duration) *AdminHandler {
	if syncTimeout <= 0 {
		syncTimeout = 2 * time.Minute
	}
	return &AdminHandler{orch: orch, sync: sync, logger: logger, syncTimeout: syncTimeout, now: time.Now}
}

// List returns appointments starting in [from, to). Both accept RFC 3339 or
// YYYY-MM-DD; the default is the next seven days from today.
func (h *AdminHandler) List(w http.ResponseWriter, r *http.Request) {
	loc := h.orch.Location()
	today := h.now().In(loc)
	from := time.Date(today.Year(), today.Month(), today.Day(), 0, 0, 0, 0, loc)
	to := from.AddDate(0, 0, 7)

	var err error
	if raw := strings.TrimSpace(r.URL.Query().Get("from")); raw != "" {
		if from, err = parseBound(raw, loc); err != nil {
			badRequest(w, "invalid from")
			return
		}
		if r.URL.Query().Get("to") == "" {
			to = from.AddDate(0, 0, 7)
		}
	}
	if raw := strings.TrimSpace(r.URL.Query().Get("to")); raw != "" {
		if to, err = parseBound(raw, loc); err != nil {
			badRequest(w, "invalid to")
			return
		}
	}

	appts, err := h.orch.List(r.Context(), from, to)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	items := make([]appointmentItem, 0, len(appts))
	for _, a := range appts {
		items = append(items, toItem(a))
	}
	writeJSON(w, http.StatusOK, items)
}

func (h *AdminHandler) Confirm(w http.ResponseWriter, r *http.Request) {
	appt, err := h.orch.Confirm(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, toItem(appt))
}

type cancelRequest struct {
	Reason string `json:"reason"`
}

func (h *AdminHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	var req cancelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		badRequest(w, "invalid json body")
		return
	}
	appt, err := h.orch.Cancel(r.Context(), r.PathValue("id"), req.Reason)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, toItem(appt))
}

type syncResponse struct {
	Cancelled    int `json:"cancelled"`
	Updated      int `json:"updated"`
	Imported     int `json:"imported"`
	Linked       int `json:"linked"`
	Mirrored     int `json:"mirrored"`
	StrayDeleted int `json:"stray_deleted"`
	Failed       int `json:"failed"`
}

// Sync runs a reconciliation pass on demand. The pass is detached from the
// request so a client disconnect does not abort it half way.
func (h *AdminHandler) Sync(w http.ResponseWriter, r *http.Request) {
	if h.sync == nil {
		writeJSON(w, http.StatusServiceUnavailable, errorBody{Error: "calendar sync not configured", Code: string(booking.KindRemoteUnavailable)})
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), h.syncTimeout)
	defer cancel()

	res, err := h.sync.SyncOnce(ctx)
	switch {
	case errors.Is(err, reconcile.ErrSyncInProgress):
		writeJSON(w, http.StatusConflict, errorBody{Error: err.Error(), Code: string(booking.KindConflict)})
		return
	case err != nil:
		h.logger.Error("manual calendar sync failed", "err", err)
		writeJSON(w, http.StatusServiceUnavailable, errorBody{Error: "calendar sync failed", Code: string(booking.KindRemoteUnavailable)})
		return
	}
	writeJSON(w, http.StatusOK, syncResponse(res))
}

func parseBound(raw string, loc *time.Location) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t, nil
	}
	return time.ParseInLocation(dateLayout, raw, loc)
}
