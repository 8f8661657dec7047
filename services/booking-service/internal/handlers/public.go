package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/md-rashed-zaman/bookingsync/services/booking-service/internal/booking"
)

const dateLayout = "2006-01-02"

// PublicHandler serves the unauthenticated booking surface.
type PublicHandler struct {
	orch   *booking.Orchestrator
	logger *slog.Logger
}

func NewPublicHandler(orch *booking.Orchestrator, logger *slog.Logger) *PublicHandler {
	return &PublicHandler{orch: orch, logger: logger}
}

type serviceItem struct {
	ID              string `json:"id"`
	Name            string `json:"name"`
	Description     string `json:"description,omitempty"`
	DurationMinutes int    `json:"duration_minutes"`
	Price           string `json:"price,omitempty"`
}

func (h *PublicHandler) Services(w http.ResponseWriter, r *http.Request) {
	services, err := h.orch.ListServices(r.Context())
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	items := make([]serviceItem, 0, len(services))
	for _, s := range services {
		items = append(items, serviceItem{
			ID:              s.ID,
			Name:            s.Name,
			Description:     s.Description,
			DurationMinutes: s.DurationMinutes,
			Price:           s.Price,
		})
	}
	writeJSON(w, http.StatusOK, items)
}

type slotItem struct {
	StartTime string `json:"start_time"`
	EndTime   string `json:"end_time"`
	Available bool   `json:"available"`
}

type availabilityResponse struct {
	Date      string     `json:"date"`
	ServiceID string     `json:"service_id"`
	Timezone  string     `json:"timezone"`
	Slots     []slotItem `json:"slots"`
}

func (h *PublicHandler) Availability(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	serviceID := strings.TrimSpace(q.Get("service_id"))
	dateStr := strings.TrimSpace(q.Get("date"))
	if serviceID == "" || dateStr == "" {
		badRequest(w, "service_id and date are required")
		return
	}
	loc := h.orch.Location()
	day, err := time.ParseInLocation(dateLayout, dateStr, loc)
	if err != nil {
		badRequest(w, "date must be YYYY-MM-DD")
		return
	}

	slots, err := h.orch.Availability(r.Context(), serviceID, day)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	resp := availabilityResponse{Date: dateStr, ServiceID: serviceID, Timezone: loc.String(), Slots: []slotItem{}}
	for s := range slots {
		resp.Slots = append(resp.Slots, slotItem{
			StartTime: s.Start.In(loc).Format(time.RFC3339),
			EndTime:   s.End.In(loc).Format(time.RFC3339),
			Available: s.Available,
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

type createAppointmentRequest struct {
	ServiceID  string `json:"service_id"`
	StartTime  string `json:"start_time"`
	EndTime    string `json:"end_time"`
	GuestName  string `json:"guest_name"`
	GuestEmail string `json:"guest_email"`
	GuestPhone string `json:"guest_phone"`
	Notes      string `json:"notes"`
}

const userHeader = "X-User-Id"

// Create books an appointment. An X-User-Id header, set by the upstream
// gateway after authentication, marks a signed-in customer.
func (h *PublicHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createAppointmentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "invalid json body")
		return
	}
	start, err := time.Parse(time.RFC3339, strings.TrimSpace(req.StartTime))
	if err != nil {
		badRequest(w, "invalid start_time")
		return
	}
	var end time.Time
	if raw := strings.TrimSpace(req.EndTime); raw != "" {
		if end, err = time.Parse(time.RFC3339, raw); err != nil {
			badRequest(w, "invalid end_time")
			return
		}
	}

	appt, err := h.orch.CreateAppointment(r.Context(), booking.CreateRequest{
		ServiceID: strings.TrimSpace(req.ServiceID),
		Start:     start,
		End:       end,
		Guest: booking.Guest{
			Name:  req.GuestName,
			Email: req.GuestEmail,
			Phone: req.GuestPhone,
		},
		UserID: strings.TrimSpace(r.Header.Get(userHeader)),
		Notes:  strings.TrimSpace(req.Notes),
	})
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, toItem(appt))
}

// ListMine lists the signed-in customer's own appointments.
func (h *PublicHandler) ListMine(w http.ResponseWriter, r *http.Request) {
	appts, err := h.orch.ListForUser(r.Context(), r.Header.Get(userHeader))
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

func (h *PublicHandler) CancelMine(w http.ResponseWriter, r *http.Request) {
	var req cancelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		badRequest(w, "invalid json body")
		return
	}
	appt, err := h.orch.CancelForUser(r.Context(), r.Header.Get(userHeader), r.PathValue("id"), req.Reason)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, toItem(appt))
}
