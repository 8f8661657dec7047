package storage

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/md-rashed-zaman/bookingsync/libs/ids"
	"github.com/md-rashed-zaman/bookingsync/services/booking-service/internal/availability"
	"github.com/md-rashed-zaman/bookingsync/services/booking-service/internal/model"
	"github.com/md-rashed-zaman/bookingsync/services/booking-service/internal/outbox"
)

// MemoryStore keeps appointments and services in process. It applies the
// same atomic rules as the Postgres store: overlap, external id uniqueness
// and status compare-and-set are all checked under one lock.
type MemoryStore struct {
	mu       sync.Mutex
	appts    map[string]model.Appointment
	services []model.Service
	events   []outbox.Event
	now      func() time.Time

	// BeforeWrite, when set, runs before every mutation. A non-nil error aborts it.
	BeforeWrite func(op, id string) error
}

func NewMemoryStore(services ...model.Service) *MemoryStore {
	s := &MemoryStore{appts: map[string]model.Appointment{}, now: time.Now}
	for _, svc := range services {
		s.AddService(svc)
	}
	return s
}

func (s *MemoryStore) AddService(svc model.Service) model.Service {
	s.mu.Lock()
	defer s.mu.Unlock()
	if svc.ID == "" {
		svc.ID = uuid.NewString()
	}
	if svc.CreatedAt.IsZero() {
		svc.CreatedAt = s.now().Add(time.Duration(len(s.services)) * time.Millisecond)
	}
	s.services = append(s.services, svc)
	return svc
}

// Events returns the outbox events recorded so far.
func (s *MemoryStore) Events() []outbox.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.events)
}

// All returns every appointment ordered by start time.
func (s *MemoryStore) All() []model.Appointment {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.Appointment, 0, len(s.appts))
	for _, a := range s.appts {
		out = append(out, a)
	}
	sortByStart(out)
	return out
}

func (s *MemoryStore) hook(op, id string) error {
	if s.BeforeWrite == nil {
		return nil
	}
	return s.BeforeWrite(op, id)
}

func (s *MemoryStore) Create(_ context.Context, appt *model.Appointment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.hook("create", appt.ID); err != nil {
		return err
	}

	candidate := *appt
	if candidate.ID == "" {
		candidate.ID = uuid.NewString()
	}
	if candidate.Reference == "" {
		candidate.Reference = ids.NewReference()
	}
	if candidate.Source == "" {
		candidate.Source = model.SourceBooking
	}
	if err := s.checkOverlap(candidate, candidate.StartTime, candidate.EndTime); err != nil {
		return err
	}
	if err := s.checkExternalID(candidate.ID, candidate.ExternalEventID); err != nil {
		return err
	}
	now := s.now()
	candidate.CreatedAt, candidate.UpdatedAt = now, now
	s.appts[candidate.ID] = candidate

	eventType := outbox.AppointmentBooked
	if candidate.Source == model.SourceCalendar {
		eventType = outbox.AppointmentImported
	}
	s.record(eventType, candidate)
	*appt = candidate
	return nil
}

func (s *MemoryStore) FindByID(_ context.Context, id string) (model.Appointment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.appts[id]
	if !ok {
		return model.Appointment{}, ErrNotFound
	}
	return a, nil
}

func (s *MemoryStore) FindByExternalID(_ context.Context, eventID string) (model.Appointment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var best *model.Appointment
	for _, a := range s.appts {
		if a.ExternalEventID != eventID || eventID == "" {
			continue
		}
		if best == nil || (best.Status == model.StatusCancelled && a.Status != model.StatusCancelled) {
			best = &a
		}
	}
	if best == nil {
		return model.Appointment{}, ErrNotFound
	}
	return *best, nil
}

func (s *MemoryStore) FindOverlapping(_ context.Context, start, end time.Time, statuses ...model.Status) ([]model.Appointment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	window := availability.Interval{Start: start, End: end}
	var out []model.Appointment
	for _, a := range s.appts {
		if len(statuses) > 0 && !slices.Contains(statuses, a.Status) {
			continue
		}
		if availability.Overlaps(window, availability.Interval{Start: a.StartTime, End: a.EndTime}) {
			out = append(out, a)
		}
	}
	sortByStart(out)
	return out, nil
}

func (s *MemoryStore) ListStartingIn(_ context.Context, from, to time.Time) ([]model.Appointment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.Appointment
	for _, a := range s.appts {
		if !a.StartTime.Before(from) && a.StartTime.Before(to) {
			out = append(out, a)
		}
	}
	sortByStart(out)
	return out, nil
}

func (s *MemoryStore) ListByUser(_ context.Context, userID string) ([]model.Appointment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.Appointment
	for _, a := range s.appts {
		if a.UserID == userID {
			out = append(out, a)
		}
	}
	sortByStart(out)
	return out, nil
}

func (s *MemoryStore) UpdateStatus(_ context.Context, id string, to model.Status, reason string) (model.Appointment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.hook("update_status", id); err != nil {
		return model.Appointment{}, err
	}
	a, ok := s.appts[id]
	if !ok {
		return model.Appointment{}, ErrNotFound
	}
	if !model.CanTransition(a.Status, to) {
		return model.Appointment{}, fmt.Errorf("%w: appointment is %s", ErrInvalidTransition, a.Status)
	}
	next := a
	next.Status = to
	if err := s.checkOverlap(next, next.StartTime, next.EndTime); err != nil {
		return model.Appointment{}, err
	}
	now := s.now()
	if to == model.StatusCancelled {
		next.CancelledAt = &now
		next.CancelReason = reason
	}
	next.UpdatedAt = now
	s.appts[id] = next
	s.record(outbox.StatusEvent(to), next)
	return next, nil
}

func (s *MemoryStore) UpdateTimes(_ context.Context, id string, start, end time.Time) (model.Appointment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.hook("update_times", id); err != nil {
		return model.Appointment{}, err
	}
	a, ok := s.appts[id]
	if !ok {
		return model.Appointment{}, ErrNotFound
	}
	if a.Status.Terminal() {
		return model.Appointment{}, fmt.Errorf("%w: appointment is %s", ErrInvalidTransition, a.Status)
	}
	if err := s.checkOverlap(a, start, end); err != nil {
		return model.Appointment{}, err
	}
	a.StartTime, a.EndTime = start, end
	a.UpdatedAt = s.now()
	s.appts[id] = a
	s.record(outbox.AppointmentRescheduled, a)
	return a, nil
}

func (s *MemoryStore) LinkExternalEvent(_ context.Context, id, eventID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.hook("link", id); err != nil {
		return err
	}
	a, ok := s.appts[id]
	if !ok {
		return ErrNotFound
	}
	if a.ExternalEventID == eventID {
		return nil
	}
	if a.ExternalEventID != "" {
		return ErrAlreadyLinked
	}
	if err := s.checkExternalID(id, eventID); err != nil {
		return err
	}
	a.ExternalEventID = eventID
	a.UpdatedAt = s.now()
	s.appts[id] = a
	return nil
}

func (s *MemoryStore) CompleteElapsed(_ context.Context, now time.Time) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var done []string
	for id, a := range s.appts {
		if a.Status != model.StatusConfirmed || a.EndTime.After(now) {
			continue
		}
		a.Status = model.StatusCompleted
		a.UpdatedAt = s.now()
		s.appts[id] = a
		s.record(outbox.AppointmentCompleted, a)
		done = append(done, id)
	}
	sort.Strings(done)
	return done, nil
}

func (s *MemoryStore) GetService(_ context.Context, id string) (model.Service, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, svc := range s.services {
		if svc.ID == id {
			return svc, nil
		}
	}
	return model.Service{}, ErrNotFound
}

func (s *MemoryStore) ListServices(context.Context) ([]model.Service, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.services), nil
}

func (s *MemoryStore) DefaultService(ctx context.Context, preferredID string) (model.Service, error) {
	if preferredID != "" {
		return s.GetService(ctx, preferredID)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.services) == 0 {
		return model.Service{}, ErrNotFound
	}
	return s.services[0], nil
}

// checkOverlap rejects a confirmed appointment whose interval intersects
// another confirmed one. Callers hold s.mu.
func (s *MemoryStore) checkOverlap(a model.Appointment, start, end time.Time) error {
	if a.Status != model.StatusConfirmed {
		return nil
	}
	want := availability.Interval{Start: start, End: end}
	for id, other := range s.appts {
		if id == a.ID || other.Status != model.StatusConfirmed {
			continue
		}
		if availability.Overlaps(want, availability.Interval{Start: other.StartTime, End: other.EndTime}) {
			return ErrConflict
		}
	}
	return nil
}

func (s *MemoryStore) checkExternalID(id, eventID string) error {
	if eventID == "" {
		return nil
	}
	for otherID, other := range s.appts {
		if otherID != id && other.ExternalEventID == eventID && other.Status != model.StatusCancelled {
			return ErrDuplicateExternalID
		}
	}
	return nil
}

func (s *MemoryStore) record(eventType string, a model.Appointment) {
	evt, err := outbox.NewAppointmentEvent(eventType, a, s.now())
	if err != nil {
		return
	}
	s.events = append(s.events, evt)
}

func sortByStart(appts []model.Appointment) {
	sort.Slice(appts, func(i, j int) bool {
		if appts[i].StartTime.Equal(appts[j].StartTime) {
			return appts[i].ID < appts[j].ID
		}
		return appts[i].StartTime.Before(appts[j].StartTime)
	})
}
