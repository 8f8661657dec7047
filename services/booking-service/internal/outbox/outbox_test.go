package outbox

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/md-rashed-zaman/bookingsync/services/booking-service/internal/model"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
)

func TestNewAppointmentEventPayload(t *testing.T) {
	start := time.Date(2026, 1, 28, 9, 0, 0, 0, time.FixedZone("CET", 3600))
	appt := model.Appointment{
		ID:        "a1",
		Reference: "K7QX2MHD",
		ServiceID: "s1",
		Status:    model.StatusConfirmed,
		Source:    model.SourceBooking,
		StartTime: start,
		EndTime:   start.Add(30 * time.Minute),
	}
	evt, err := NewAppointmentEvent(AppointmentBooked, appt, start)
	if err != nil {
		t.Fatalf("NewAppointmentEvent: %v", err)
	}
	if evt.AggregateID != "a1" || evt.AggregateType != AggregateAppointment || evt.EventID == "" {
		t.Fatalf("unexpected envelope %+v", evt)
	}
	var p AppointmentPayload
	if err := json.Unmarshal(evt.Payload, &p); err != nil {
		t.Fatalf("payload: %v", err)
	}
	if p.EventID != evt.EventID || p.Status != "confirmed" || p.StartTime.Location() != time.UTC {
		t.Fatalf("unexpected payload %+v", p)
	}
}

func TestStatusEvent(t *testing.T) {
	cases := map[model.Status]string{
		model.StatusConfirmed: AppointmentConfirmed,
		model.StatusCancelled: AppointmentCancelled,
		model.StatusCompleted: AppointmentCompleted,
		model.StatusPending:   AppointmentBooked,
	}
	for s, want := range cases {
		if got := StatusEvent(s); got != want {
			t.Fatalf("StatusEvent(%s) = %s, want %s", s, got, want)
		}
	}
}

func TestMessagesCarryHeadersAndTrace(t *testing.T) {
	otel.SetTextMapPropagator(propagation.TraceContext{})
	records := []Record{{
		ID:          7,
		EventID:     "e-7",
		AggregateID: "a1",
		EventType:   AppointmentCancelled,
		Payload:     []byte(`{}`),
		Traceparent: "00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01",
	}}
	msgs := Messages(context.Background(), records)
	if len(msgs) != 1 {
		t.Fatalf("expected one message")
	}
	m := msgs[0]
	if m.Topic != AppointmentCancelled || string(m.Key) != "a1" {
		t.Fatalf("unexpected routing topic=%s key=%s", m.Topic, m.Key)
	}
	headers := map[string]string{}
	for _, h := range m.Headers {
		headers[h.Key] = string(h.Value)
	}
	if headers["event_id"] != "e-7" || headers["traceparent"] != records[0].Traceparent {
		t.Fatalf("unexpected headers %v", headers)
	}
}
