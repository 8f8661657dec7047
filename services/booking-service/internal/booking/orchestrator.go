// Package booking validates and writes appointments on behalf of callers.
package booking

import (
	"context"
	"errors"
	"iter"
	"log/slog"
	"net/mail"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/md-rashed-zaman/bookingsync/services/booking-service/internal/availability"
	"github.com/md-rashed-zaman/bookingsync/services/booking-service/internal/calendar"
	"github.com/md-rashed-zaman/bookingsync/services/booking-service/internal/model"
	"github.com/md-rashed-zaman/bookingsync/services/booking-service/internal/storage"
)

var tracer = otel.Tracer("github.com/md-rashed-zaman/bookingsync/booking")

type Store interface {
	Create(ctx context.Context, appt *model.Appointment) error
	FindByID(ctx context.Context, id string) (model.Appointment, error)
	FindOverlapping(ctx context.Context, start, end time.Time, statuses ...model.Status) ([]model.Appointment, error)
	ListStartingIn(ctx context.Context, from, to time.Time) ([]model.Appointment, error)
	ListByUser(ctx context.Context, userID string) ([]model.Appointment, error)
	UpdateStatus(ctx context.Context, id string, to model.Status, reason string) (model.Appointment, error)
}

type Catalog interface {
	GetService(ctx context.Context, id string) (model.Service, error)
	ListServices(ctx context.Context) ([]model.Service, error)
}

// Dispatcher schedules calendar mirroring outside the request path.
type Dispatcher interface {
	Mirror(ctx context.Context, appointmentID string) error
	Unmirror(ctx context.Context, eventID string) error
}

type Config struct {
	Location        *time.Location
	Hours           availability.WeeklyHours
	Granularity     time.Duration
	MaxAdvance      time.Duration
	PendingForUsers bool
	Now             func() time.Time
}

type Orchestrator struct {
	store      Store
	catalog    Catalog
	gateway    calendar.Gateway
	dispatcher Dispatcher
	logger     *slog.Logger
	cfg        Config
}

// NewOrchestrator wires the booking flow. gateway and dispatcher may be nil
// when no remote calendar is configured.
func NewOrchestrator(store Store, catalog Catalog, gateway calendar.Gateway, dispatcher Dispatcher, logger *slog.Logger, cfg Config) *Orchestrator {
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.Granularity <= 0 {
		cfg.Granularity = 30 * time.Minute
	}
	if cfg.MaxAdvance <= 0 {
		cfg.MaxAdvance = 30 * 24 * time.Hour
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Orchestrator{
		store:      store,
		catalog:    catalog,
		gateway:    gateway,
		dispatcher: dispatcher,
		logger:     logger,
		cfg:        cfg,
	}
}

func (o *Orchestrator) Location() *time.Location { return o.cfg.Location }

type Guest struct {
	Name  string
	Email string
	Phone string
}

func (g Guest) empty() bool { return g.Name == "" && g.Email == "" && g.Phone == "" }

type CreateRequest struct {
	ServiceID string
	Start     time.Time
	// End may be left zero to take the service duration.
	End    time.Time
	Guest  Guest
	UserID string
	Notes  string
}

// CreateAppointment books a slot after re-checking it against local and
// remote state. Nothing about the slot the client saw earlier is trusted.
func (o *Orchestrator) CreateAppointment(ctx context.Context, req CreateRequest) (appt model.Appointment, err error) {
	ctx, span := tracer.Start(ctx, "booking.create", trace.WithAttributes(
		attribute.String("service.id", req.ServiceID),
		attribute.String("booking.start", req.Start.Format(time.RFC3339)),
	))
	defer func() { endSpan(span, err) }()

	req.Guest = Guest{
		Name:  strings.TrimSpace(req.Guest.Name),
		Email: strings.TrimSpace(req.Guest.Email),
		Phone: strings.TrimSpace(req.Guest.Phone),
	}
	req.UserID = strings.TrimSpace(req.UserID)

	svc, err := o.service(ctx, req.ServiceID)
	if err != nil {
		return model.Appointment{}, err
	}
	if err := validateIdentity(req); err != nil {
		return model.Appointment{}, err
	}
	if req.End.IsZero() {
		req.End = req.Start.Add(svc.Duration())
	}
	if !req.End.Equal(req.Start.Add(svc.Duration())) {
		return model.Appointment{}, validation("end time must equal start time plus service duration")
	}
	if err := o.checkBookable(req.Start, req.End); err != nil {
		return model.Appointment{}, err
	}
	if err := o.checkLocal(ctx, req.Start, req.End, ""); err != nil {
		return model.Appointment{}, err
	}
	if err := o.checkRemote(ctx, req.Start, req.End, ""); err != nil {
		return model.Appointment{}, err
	}

	appt = model.Appointment{
		ServiceID:  svc.ID,
		UserID:     req.UserID,
		GuestName:  req.Guest.Name,
		GuestEmail: req.Guest.Email,
		GuestPhone: req.Guest.Phone,
		StartTime:  req.Start.In(o.cfg.Location),
		EndTime:    req.End.In(o.cfg.Location),
		Status:     o.initialStatus(req),
		Source:     model.SourceBooking,
		Notes:      strings.TrimSpace(req.Notes),
	}
	if err := o.store.Create(ctx, &appt); err != nil {
		if errors.Is(err, storage.ErrConflict) {
			return model.Appointment{}, ErrSlotUnavailable
		}
		return model.Appointment{}, internal(err)
	}
	span.SetAttributes(attribute.String("appointment.id", appt.ID))
	o.logger.Info("appointment booked",
		"appointment_id", appt.ID,
		"reference", appt.Reference,
		"status", appt.Status,
		"start", appt.StartTime,
	)

	if appt.Status == model.StatusConfirmed {
		o.dispatchMirror(ctx, appt.ID)
	}
	return appt, nil
}

func validateIdentity(req CreateRequest) error {
	switch {
	case req.UserID != "" && !req.Guest.empty():
		return validation("provide guest details or sign in, not both")
	case req.UserID != "":
		return nil
	case req.Guest.Name == "" || req.Guest.Email == "":
		return validation("guest name and email are required")
	}
	if _, err := mail.ParseAddress(req.Guest.Email); err != nil {
		return validation("guest email is invalid")
	}
	return nil
}

func (o *Orchestrator) initialStatus(req CreateRequest) model.Status {
	if req.UserID != "" && o.cfg.PendingForUsers {
		return model.StatusPending
	}
	return model.StatusConfirmed
}

func (o *Orchestrator) checkBookable(start, end time.Time) error {
	now := o.cfg.Now()
	switch {
	case start.Before(now):
		return validation("start time is in the past")
	case start.After(now.Add(o.cfg.MaxAdvance)):
		return validation("start time is too far in the future")
	case !availability.FitsWithin(start, end, o.cfg.Hours, o.cfg.Location):
		return validation("requested time is outside business hours")
	}
	return nil
}

// checkLocal fails when a confirmed appointment other than exceptID overlaps.
func (o *Orchestrator) checkLocal(ctx context.Context, start, end time.Time, exceptID string) error {
	overlapping, err := o.store.FindOverlapping(ctx, start, end, model.StatusConfirmed)
	if err != nil {
		return internal(err)
	}
	for _, a := range overlapping {
		if a.ID != exceptID {
			return ErrSlotUnavailable
		}
	}
	return nil
}

func (o *Orchestrator) checkRemote(ctx context.Context, start, end time.Time, exceptID string) error {
	busy, err := o.remoteBusy(ctx, start, end, exceptID)
	if err != nil {
		return err
	}
	want := availability.Interval{Start: start, End: end}
	for _, b := range busy {
		if availability.Overlaps(want, b) {
			return ErrSlotUnavailable
		}
	}
	return nil
}

// remoteBusy lists foreign remote events in [start, end). Events created for
// local appointments are skipped: the local row is authoritative for them.
// Any gateway failure fails closed.
func (o *Orchestrator) remoteBusy(ctx context.Context, start, end time.Time, exceptEventID string) ([]availability.Interval, error) {
	if o.gateway == nil {
		return nil, nil
	}
	events, err := o.gateway.ListEvents(ctx, start, end)
	if err != nil {
		o.logger.Warn("remote calendar check failed", "err", err)
		return nil, wrap(ErrRemoteUnavailable, err)
	}
	busy := make([]availability.Interval, 0, len(events))
	for _, ev := range events {
		if ev.Cancelled() || ev.AppointmentID != "" || (exceptEventID != "" && ev.ID == exceptEventID) {
			continue
		}
		busy = append(busy, availability.Interval{Start: ev.Start, End: ev.End})
	}
	return busy, nil
}

func (o *Orchestrator) dispatchMirror(ctx context.Context, id string) {
	if o.dispatcher == nil {
		return
	}
	if err := o.dispatcher.Mirror(ctx, id); err != nil {
		o.logger.Warn("calendar mirror dispatch failed", "appointment_id", id, "err", err)
	}
}

// Availability returns the slot sequence for serviceID on the business-local
// date of day.
func (o *Orchestrator) Availability(ctx context.Context, serviceID string, day time.Time) (iter.Seq[availability.TimeSlot], error) {
	ctx, span := tracer.Start(ctx, "booking.availability")
	var err error
	defer func() { endSpan(span, err) }()

	svc, err := o.service(ctx, serviceID)
	if err != nil {
		return nil, err
	}
	now := o.cfg.Now()
	horizon := now.Add(o.cfg.MaxAdvance)
	d := day.In(o.cfg.Location)
	date := time.Date(d.Year(), d.Month(), d.Day(), 0, 0, 0, 0, o.cfg.Location)
	if date.After(horizon) {
		err = validation("date is too far in the future")
		return nil, err
	}

	win, open := o.cfg.Hours.Window(date, o.cfg.Location)
	if !open {
		return availability.Slots(date, svc.Duration(), nil, nil, o.cfg.Hours, o.cfg.Granularity, now), nil
	}

	local, lerr := o.store.FindOverlapping(ctx, win.Start, win.End, model.StatusConfirmed)
	if lerr != nil {
		err = internal(lerr)
		return nil, err
	}
	remote, err := o.remoteBusy(ctx, win.Start, win.End, "")
	if err != nil {
		return nil, err
	}
	// Same horizon rule as checkBookable, so no advertised slot is rejected.
	slots := availability.Slots(date, svc.Duration(), local, remote, o.cfg.Hours, o.cfg.Granularity, now)
	return availability.Until(slots, horizon), nil
}

// Confirm moves a pending appointment to confirmed after a fresh remote check.
// Local overlap is arbitrated by the store.
func (o *Orchestrator) Confirm(ctx context.Context, id string) (model.Appointment, error) {
	appt, err := o.Get(ctx, id)
	if err != nil {
		return model.Appointment{}, err
	}
	if appt.Status == model.StatusConfirmed {
		return appt, nil
	}
	if !model.CanTransition(appt.Status, model.StatusConfirmed) {
		return model.Appointment{}, ErrInvalidTransition
	}
	if err := o.checkRemote(ctx, appt.StartTime, appt.EndTime, appt.ExternalEventID); err != nil {
		return model.Appointment{}, err
	}

	updated, err := o.store.UpdateStatus(ctx, id, model.StatusConfirmed, "")
	switch {
	case errors.Is(err, storage.ErrConflict):
		return model.Appointment{}, ErrSlotUnavailable
	case errors.Is(err, storage.ErrInvalidTransition):
		return model.Appointment{}, wrap(ErrInvalidTransition, err)
	case err != nil:
		return model.Appointment{}, internal(err)
	}
	o.logger.Info("appointment confirmed", "appointment_id", id)
	if updated.ExternalEventID == "" {
		o.dispatchMirror(ctx, id)
	}
	return updated, nil
}

// Cancel is idempotent for already-cancelled appointments. The mirrored
// remote event, if any, is removed best-effort.
func (o *Orchestrator) Cancel(ctx context.Context, id, reason string) (model.Appointment, error) {
	appt, err := o.Get(ctx, id)
	if err != nil {
		return model.Appointment{}, err
	}
	if appt.Status == model.StatusCancelled {
		return appt, nil
	}
	if !model.CanTransition(appt.Status, model.StatusCancelled) {
		return model.Appointment{}, ErrInvalidTransition
	}

	updated, err := o.store.UpdateStatus(ctx, id, model.StatusCancelled, strings.TrimSpace(reason))
	switch {
	case errors.Is(err, storage.ErrInvalidTransition):
		// Lost a race; report the winner's state if it also cancelled.
		if cur, gerr := o.store.FindByID(ctx, id); gerr == nil && cur.Status == model.StatusCancelled {
			return cur, nil
		}
		return model.Appointment{}, wrap(ErrInvalidTransition, err)
	case err != nil:
		return model.Appointment{}, internal(err)
	}
	o.logger.Info("appointment cancelled", "appointment_id", id, "reason", updated.CancelReason)

	if updated.ExternalEventID != "" && o.dispatcher != nil {
		if err := o.dispatcher.Unmirror(ctx, updated.ExternalEventID); err != nil {
			o.logger.Warn("calendar unmirror dispatch failed", "appointment_id", id, "event_id", updated.ExternalEventID, "err", err)
		}
	}
	return updated, nil
}

// CancelForUser cancels id on behalf of the signed-in user who booked it.
// Appointments owned by someone else are reported as not found.
func (o *Orchestrator) CancelForUser(ctx context.Context, userID, id, reason string) (model.Appointment, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return model.Appointment{}, ErrUnauthorized
	}
	appt, err := o.Get(ctx, id)
	if err != nil {
		return model.Appointment{}, err
	}
	if appt.UserID != userID {
		return model.Appointment{}, ErrAppointmentNotFound
	}
	return o.Cancel(ctx, id, reason)
}

func (o *Orchestrator) Get(ctx context.Context, id string) (model.Appointment, error) {
	appt, err := o.store.FindByID(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return model.Appointment{}, ErrAppointmentNotFound
	}
	if err != nil {
		return model.Appointment{}, internal(err)
	}
	return appt, nil
}

// List returns appointments starting in [from, to).
func (o *Orchestrator) List(ctx context.Context, from, to time.Time) ([]model.Appointment, error) {
	if !to.After(from) {
		return nil, validation("to must be after from")
	}
	appts, err := o.store.ListStartingIn(ctx, from, to)
	if err != nil {
		return nil, internal(err)
	}
	return appts, nil
}

// ListForUser returns every appointment booked by userID, earliest first.
func (o *Orchestrator) ListForUser(ctx context.Context, userID string) ([]model.Appointment, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, ErrUnauthorized
	}
	appts, err := o.store.ListByUser(ctx, userID)
	if err != nil {
		return nil, internal(err)
	}
	return appts, nil
}

func (o *Orchestrator) ListServices(ctx context.Context) ([]model.Service, error) {
	services, err := o.catalog.ListServices(ctx)
	if err != nil {
		return nil, internal(err)
	}
	return services, nil
}

func (o *Orchestrator) service(ctx context.Context, id string) (model.Service, error) {
	if strings.TrimSpace(id) == "" {
		return model.Service{}, validation("service_id is required")
	}
	svc, err := o.catalog.GetService(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return model.Service{}, ErrServiceNotFound
	}
	if err != nil {
		return model.Service{}, internal(err)
	}
	return svc, nil
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, PublicMessage(err))
	}
	span.End()
}
