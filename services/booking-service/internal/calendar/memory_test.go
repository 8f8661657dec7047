package calendar

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestMemoryGatewayLifecycle(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryGateway()
	start := time.Date(2026, 1, 28, 9, 0, 0, 0, time.UTC)

	ev, err := m.CreateEvent(ctx, EventInput{Summary: "x", Start: start, End: start.Add(time.Hour), AppointmentID: "a1"})
	if err != nil {
		t.Fatalf("CreateEvent: %v", err)
	}
	m.Put(RemoteEvent{Summary: "outside", Start: start.AddDate(0, 0, 5), End: start.AddDate(0, 0, 5).Add(time.Hour)})

	list, err := m.ListEvents(ctx, start.Add(-time.Hour), start.Add(2*time.Hour))
	if err != nil || len(list) != 1 || list[0].ID != ev.ID {
		t.Fatalf("ListEvents = %v, %v", list, err)
	}

	if _, err := m.UpdateEvent(ctx, "nope", EventInput{}); !errors.Is(err, ErrEventNotFound) {
		t.Fatalf("UpdateEvent(nope) = %v", err)
	}
	if ok, _ := m.DeleteEvent(ctx, ev.ID); !ok {
		t.Fatalf("expected delete to report true")
	}
	if ok, _ := m.DeleteEvent(ctx, ev.ID); ok {
		t.Fatalf("second delete should report false")
	}
	if _, err := m.GetEvent(ctx, ev.ID); !errors.Is(err, ErrEventNotFound) {
		t.Fatalf("GetEvent after delete = %v", err)
	}

	m.Fail(errors.New("boom"))
	if _, err := m.ListEvents(ctx, start, start.Add(time.Hour)); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
	if m.Calls("list") != 2 {
		t.Fatalf("expected two list calls, got %d", m.Calls("list"))
	}
}
