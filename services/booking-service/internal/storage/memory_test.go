package storage

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/md-rashed-zaman/bookingsync/services/booking-service/internal/model"
	"github.com/md-rashed-zaman/bookingsync/services/booking-service/internal/outbox"
)

var base = time.Date(2026, 1, 28, 9, 0, 0, 0, time.UTC)

func confirmedAt(start time.Time, d time.Duration) *model.Appointment {
	return &model.Appointment{ServiceID: "svc", StartTime: start, EndTime: start.Add(d), Status: model.StatusConfirmed, GuestName: "Ana"}
}

func TestMemoryCreateRejectsOverlapOnlyBetweenConfirmed(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	if err := s.Create(ctx, confirmedAt(base, 30*time.Minute)); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := s.Create(ctx, confirmedAt(base.Add(15*time.Minute), 30*time.Minute)); !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
	if err := s.Create(ctx, confirmedAt(base.Add(30*time.Minute), 30*time.Minute)); err != nil {
		t.Fatalf("back-to-back appointment rejected: %v", err)
	}
	pending := confirmedAt(base, 30*time.Minute)
	pending.Status = model.StatusPending
	if err := s.Create(ctx, pending); err != nil {
		t.Fatalf("pending overlap should be stored: %v", err)
	}

	// Confirming the pending one now collides.
	if _, err := s.UpdateStatus(ctx, pending.ID, model.StatusConfirmed, ""); !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict on confirm, got %v", err)
	}
}

func TestMemoryConcurrentCreateHasOneWinner(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	const n = 32

	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- s.Create(ctx, confirmedAt(base, 45*time.Minute))
		}()
	}
	wg.Wait()
	close(errs)

	var ok, conflicts int
	for err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, ErrConflict):
			conflicts++
		default:
			t.Fatalf("unexpected error %v", err)
		}
	}
	if ok != 1 || conflicts != n-1 {
		t.Fatalf("expected 1 winner and %d conflicts, got %d and %d", n-1, ok, conflicts)
	}
}

func TestMemoryUpdateStatusCompareAndSet(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	a := confirmedAt(base, 30*time.Minute)
	_ = s.Create(ctx, a)

	got, err := s.UpdateStatus(ctx, a.ID, model.StatusCancelled, "changed plans")
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if got.CancelledAt == nil || got.CancelReason != "changed plans" {
		t.Fatalf("cancel metadata missing: %+v", got)
	}
	if _, err := s.UpdateStatus(ctx, a.ID, model.StatusCompleted, ""); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
	if _, err := s.UpdateStatus(ctx, "missing", model.StatusCancelled, ""); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	events := s.Events()
	if len(events) != 2 || events[0].EventType != outbox.AppointmentBooked || events[1].EventType != outbox.AppointmentCancelled {
		t.Fatalf("unexpected outbox events %+v", events)
	}
}

func TestMemoryExternalIDUniqueness(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	a := confirmedAt(base, 30*time.Minute)
	b := confirmedAt(base.Add(time.Hour), 30*time.Minute)
	_ = s.Create(ctx, a)
	_ = s.Create(ctx, b)

	if err := s.LinkExternalEvent(ctx, a.ID, "evt-1"); err != nil {
		t.Fatalf("link: %v", err)
	}
	if err := s.LinkExternalEvent(ctx, a.ID, "evt-1"); err != nil {
		t.Fatalf("relinking the same event should be a no-op: %v", err)
	}
	if err := s.LinkExternalEvent(ctx, a.ID, "evt-2"); !errors.Is(err, ErrAlreadyLinked) {
		t.Fatalf("expected ErrAlreadyLinked, got %v", err)
	}
	if err := s.LinkExternalEvent(ctx, b.ID, "evt-1"); !errors.Is(err, ErrDuplicateExternalID) {
		t.Fatalf("expected ErrDuplicateExternalID, got %v", err)
	}

	// A cancelled appointment releases its event id, but lookups still find it.
	_, _ = s.UpdateStatus(ctx, a.ID, model.StatusCancelled, "")
	found, err := s.FindByExternalID(ctx, "evt-1")
	if err != nil || found.ID != a.ID {
		t.Fatalf("FindByExternalID = %+v, %v", found, err)
	}
	if err := s.LinkExternalEvent(ctx, b.ID, "evt-1"); err != nil {
		t.Fatalf("relink after cancel: %v", err)
	}
	found, _ = s.FindByExternalID(ctx, "evt-1")
	if found.ID != b.ID {
		t.Fatalf("expected live appointment preferred, got %s", found.ID)
	}
}

func TestMemoryCompleteElapsed(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	past := confirmedAt(base, 30*time.Minute)
	future := confirmedAt(base.Add(2*time.Hour), 30*time.Minute)
	pending := confirmedAt(base.Add(-time.Hour), 30*time.Minute)
	pending.Status = model.StatusPending
	for _, a := range []*model.Appointment{past, future, pending} {
		if err := s.Create(ctx, a); err != nil {
			t.Fatalf("Create: %v", err)
		}
	}

	done, err := s.CompleteElapsed(ctx, base.Add(30*time.Minute))
	if err != nil || len(done) != 1 || done[0] != past.ID {
		t.Fatalf("CompleteElapsed = %v, %v", done, err)
	}
	got, _ := s.FindByID(ctx, pending.ID)
	if got.Status != model.StatusPending {
		t.Fatalf("pending appointment must not complete")
	}
}

func TestMemoryUpdateTimesRejectsTerminal(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	a := confirmedAt(base, 30*time.Minute)
	_ = s.Create(ctx, a)
	moved, err := s.UpdateTimes(ctx, a.ID, base.Add(time.Hour), base.Add(90*time.Minute))
	if err != nil || !moved.StartTime.Equal(base.Add(time.Hour)) {
		t.Fatalf("UpdateTimes = %+v, %v", moved, err)
	}
	_, _ = s.UpdateStatus(ctx, a.ID, model.StatusCancelled, "")
	if _, err := s.UpdateTimes(ctx, a.ID, base, base.Add(30*time.Minute)); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
}

func TestMemoryListByUser(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	late := confirmedAt(base.Add(2*time.Hour), 30*time.Minute)
	late.UserID = "u-1"
	early := confirmedAt(base, 30*time.Minute)
	early.UserID = "u-1"
	guest := confirmedAt(base.Add(time.Hour), 30*time.Minute)
	for _, a := range []*model.Appointment{late, early, guest} {
		if err := s.Create(ctx, a); err != nil {
			t.Fatalf("create: %v", err)
		}
	}
	got, err := s.ListByUser(ctx, "u-1")
	if err != nil || len(got) != 2 || got[0].ID != early.ID || got[1].ID != late.ID {
		t.Fatalf("ListByUser = %+v, %v", got, err)
	}
	if got, _ := s.ListByUser(ctx, "nobody"); len(got) != 0 {
		t.Fatalf("expected none, got %d", len(got))
	}
}
