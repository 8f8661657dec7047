package mirror

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"github.com/md-rashed-zaman/bookingsync/services/booking-service/internal/calendar"
	"github.com/md-rashed-zaman/bookingsync/services/booking-service/internal/model"
	"github.com/md-rashed-zaman/bookingsync/services/booking-service/internal/storage"
)

var start = time.Date(2026, 1, 28, 10, 0, 0, 0, time.UTC)

func quietLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func seed(t *testing.T, status model.Status) (*storage.MemoryStore, model.Appointment) {
	t.Helper()
	store := storage.NewMemoryStore()
	svc := store.AddService(model.Service{Name: "Haircut", DurationMinutes: 30})
	appt := model.Appointment{
		ServiceID:  svc.ID,
		GuestName:  "Ana",
		GuestEmail: "ana@example.com",
		GuestPhone: "555-0100",
		StartTime:  start,
		EndTime:    start.Add(30 * time.Minute),
		Status:     status,
	}
	if err := store.Create(context.Background(), &appt); err != nil {
		t.Fatalf("Create: %v", err)
	}
	return store, appt
}

func TestMirrorCreatesAndLinks(t *testing.T) {
	store, appt := seed(t, model.StatusConfirmed)
	gw := calendar.NewMemoryGateway()
	m := NewMirrorer(store, store, gw, quietLogger())

	if err := m.Mirror(context.Background(), appt.ID); err != nil {
		t.Fatalf("Mirror: %v", err)
	}
	got, _ := store.FindByID(context.Background(), appt.ID)
	if got.ExternalEventID == "" {
		t.Fatalf("appointment not linked")
	}
	ev, ok := gw.Event(got.ExternalEventID)
	if !ok {
		t.Fatalf("remote event missing")
	}
	if ev.Summary != "Haircut - Ana" || ev.AppointmentID != appt.ID {
		t.Fatalf("unexpected event %+v", ev)
	}
	if !strings.Contains(ev.Description, "Email: ana@example.com") || !strings.Contains(ev.Description, "Phone: 555-0100") {
		t.Fatalf("description missing contact: %q", ev.Description)
	}

	// Second call is a no-op.
	if err := m.Mirror(context.Background(), appt.ID); err != nil {
		t.Fatalf("Mirror again: %v", err)
	}
	if gw.Len() != 1 || gw.Calls("create") != 1 {
		t.Fatalf("expected exactly one remote event, got %d", gw.Len())
	}
}

func TestMirrorSkipsPending(t *testing.T) {
	store, appt := seed(t, model.StatusPending)
	gw := calendar.NewMemoryGateway()
	if err := NewMirrorer(store, store, gw, quietLogger()).Mirror(context.Background(), appt.ID); err != nil {
		t.Fatalf("Mirror: %v", err)
	}
	if gw.Calls("create") != 0 {
		t.Fatalf("pending appointment must not be mirrored")
	}
}

type racingStore struct {
	*storage.MemoryStore
	winner string
}

func (r racingStore) LinkExternalEvent(ctx context.Context, id, eventID string) error {
	_ = r.MemoryStore.LinkExternalEvent(ctx, id, r.winner)
	return r.MemoryStore.LinkExternalEvent(ctx, id, eventID)
}

func TestMirrorLosingLinkRaceDeletesDuplicate(t *testing.T) {
	store, appt := seed(t, model.StatusConfirmed)
	gw := calendar.NewMemoryGateway()
	winner := gw.Put(calendar.RemoteEvent{Summary: "winner", Start: start, End: start.Add(30 * time.Minute), AppointmentID: appt.ID})

	m := NewMirrorer(racingStore{MemoryStore: store, winner: winner.ID}, store, gw, quietLogger())
	if err := m.Mirror(context.Background(), appt.ID); err != nil {
		t.Fatalf("Mirror: %v", err)
	}
	if gw.Len() != 1 {
		t.Fatalf("duplicate remote event not removed, %d events remain", gw.Len())
	}
	got, _ := store.FindByID(context.Background(), appt.ID)
	if got.ExternalEventID != winner.ID {
		t.Fatalf("expected winner link %s, got %s", winner.ID, got.ExternalEventID)
	}
}

func TestMirrorRemoteFailureIsRetryable(t *testing.T) {
	store, appt := seed(t, model.StatusConfirmed)
	gw := calendar.NewMemoryGateway()
	gw.Fail(errors.New("503"))
	err := NewMirrorer(store, store, gw, quietLogger()).Mirror(context.Background(), appt.ID)
	if !errors.Is(err, calendar.ErrUnavailable) || errors.Is(err, ErrPermanent) {
		t.Fatalf("expected retryable ErrUnavailable, got %v", err)
	}
}

func TestServeMuxProcessesTasks(t *testing.T) {
	store, appt := seed(t, model.StatusConfirmed)
	gw := calendar.NewMemoryGateway()
	mux := NewServeMux(NewMirrorer(store, store, gw, quietLogger()), quietLogger())
	ctx := context.Background()

	task, _ := NewMirrorTask(appt.ID)
	if err := mux.ProcessTask(ctx, task); err != nil {
		t.Fatalf("mirror task: %v", err)
	}
	linked, _ := store.FindByID(ctx, appt.ID)
	if linked.ExternalEventID == "" {
		t.Fatalf("task did not mirror")
	}

	task, _ = NewUnmirrorTask(linked.ExternalEventID)
	if err := mux.ProcessTask(ctx, task); err != nil {
		t.Fatalf("unmirror task: %v", err)
	}
	if gw.Len() != 0 {
		t.Fatalf("remote event not deleted")
	}

	missing, _ := NewMirrorTask("does-not-exist")
	if err := mux.ProcessTask(ctx, missing); !errors.Is(err, asynq.SkipRetry) {
		t.Fatalf("missing appointment should skip retry, got %v", err)
	}
	if err := mux.ProcessTask(ctx, asynq.NewTask(TypeMirror, []byte("{"))); !errors.Is(err, asynq.SkipRetry) {
		t.Fatalf("bad payload should skip retry, got %v", err)
	}
}

type fakeEnqueuer struct {
	tasks []*asynq.Task
	err   error
}

func (f *fakeEnqueuer) EnqueueContext(_ context.Context, task *asynq.Task, _ ...asynq.Option) (*asynq.TaskInfo, error) {
	f.tasks = append(f.tasks, task)
	if f.err != nil {
		return nil, f.err
	}
	return &asynq.TaskInfo{ID: "x", Type: task.Type()}, nil
}

func TestAsynqDispatcher(t *testing.T) {
	enq := &fakeEnqueuer{}
	d := NewAsynqDispatcher(enq)
	if err := d.Mirror(context.Background(), "appt-1"); err != nil {
		t.Fatalf("Mirror: %v", err)
	}
	if enq.tasks[0].Type() != TypeMirror {
		t.Fatalf("unexpected task type %s", enq.tasks[0].Type())
	}
	var p mirrorPayload
	if err := json.Unmarshal(enq.tasks[0].Payload(), &p); err != nil || p.AppointmentID != "appt-1" {
		t.Fatalf("unexpected payload %s", enq.tasks[0].Payload())
	}

	enq.err = asynq.ErrTaskIDConflict
	if err := d.Unmirror(context.Background(), "evt-1"); err != nil {
		t.Fatalf("duplicate task id should be treated as queued, got %v", err)
	}
	enq.err = errors.New("redis: connection refused")
	if err := d.Mirror(context.Background(), "appt-2"); err == nil {
		t.Fatalf("expected enqueue error")
	}
}

func TestInlineDispatcherRunsAfterRequestEnds(t *testing.T) {
	store, appt := seed(t, model.StatusConfirmed)
	gw := calendar.NewMemoryGateway()
	d := NewInlineDispatcher(NewMirrorer(store, store, gw, quietLogger()), quietLogger(), time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	if err := d.Mirror(ctx, appt.ID); err != nil {
		t.Fatalf("Mirror: %v", err)
	}
	cancel()
	d.Wait()
	if gw.Len() != 1 {
		t.Fatalf("inline mirror did not run to completion")
	}
}

func TestDescriptionForImportedAppointment(t *testing.T) {
	got := Description(model.Appointment{Source: model.SourceCalendar, Notes: "Imported from calendar: Dentist"})
	want := "Appointment for calendar import\nNotes: Imported from calendar: Dentist"
	if got != want {
		t.Fatalf("Description = %q, want %q", got, want)
	}
}
