package outbox

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/md-rashed-zaman/bookingsync/services/booking-service/internal/model"
)

// Event is the envelope written to the outbox table. The Kafka topic equals
// EventType.
type Event struct {
	EventID       string
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       []byte
}

const AggregateAppointment = "appointment"

const (
	AppointmentBooked      = "booking.appointment.booked.v1"
	AppointmentConfirmed   = "booking.appointment.confirmed.v1"
	AppointmentCancelled   = "booking.appointment.cancelled.v1"
	AppointmentRescheduled = "booking.appointment.rescheduled.v1"
	AppointmentImported    = "booking.appointment.imported.v1"
	AppointmentCompleted   = "booking.appointment.completed.v1"
)

type AppointmentPayload struct {
	EventID         string    `json:"event_id"`
	OccurredAt      time.Time `json:"occurred_at"`
	AppointmentID   string    `json:"appointment_id"`
	Reference       string    `json:"reference"`
	ServiceID       string    `json:"service_id"`
	Status          string    `json:"status"`
	Source          string    `json:"source"`
	StartTime       time.Time `json:"start_time"`
	EndTime         time.Time `json:"end_time"`
	GuestEmail      string    `json:"guest_email,omitempty"`
	UserID          string    `json:"user_id,omitempty"`
	ExternalEventID string    `json:"external_event_id,omitempty"`
	CancelReason    string    `json:"cancel_reason,omitempty"`
}

// StatusEvent maps a status a lifecycle change landed on to its event type.
func StatusEvent(s model.Status) string {
	switch s {
	case model.StatusConfirmed:
		return AppointmentConfirmed
	case model.StatusCancelled:
		return AppointmentCancelled
	case model.StatusCompleted:
		return AppointmentCompleted
	default:
		return AppointmentBooked
	}
}

func NewAppointmentEvent(eventType string, appt model.Appointment, now time.Time) (Event, error) {
	id := uuid.NewString()
	payload, err := json.Marshal(AppointmentPayload{
		EventID:         id,
		OccurredAt:      now.UTC(),
		AppointmentID:   appt.ID,
		Reference:       appt.Reference,
		ServiceID:       appt.ServiceID,
		Status:          string(appt.Status),
		Source:          string(appt.Source),
		StartTime:       appt.StartTime.UTC(),
		EndTime:         appt.EndTime.UTC(),
		GuestEmail:      appt.GuestEmail,
		UserID:          appt.UserID,
		ExternalEventID: appt.ExternalEventID,
		CancelReason:    appt.CancelReason,
	})
	if err != nil {
		return Event{}, err
	}
	return Event{
		EventID:       id,
		AggregateType: AggregateAppointment,
		AggregateID:   appt.ID,
		EventType:     eventType,
		Payload:       payload,
	}, nil
}
