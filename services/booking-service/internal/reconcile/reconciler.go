// Package reconcile keeps local appointments and the remote calendar in step.
package reconcile

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/md-rashed-zaman/bookingsync/services/booking-service/internal/calendar"
	"github.com/md-rashed-zaman/bookingsync/services/booking-service/internal/mirror"
	"github.com/md-rashed-zaman/bookingsync/services/booking-service/internal/model"
	"github.com/md-rashed-zaman/bookingsync/services/booking-service/internal/storage"
)

var tracer = otel.Tracer("github.com/md-rashed-zaman/bookingsync/reconcile")

// ErrSyncInProgress is returned when a pass is requested while one is running.
var ErrSyncInProgress = errors.New("calendar sync already in progress")

const removedReason = "removed from calendar"

type Store interface {
	ListStartingIn(ctx context.Context, from, to time.Time) ([]model.Appointment, error)
	FindByID(ctx context.Context, id string) (model.Appointment, error)
	FindByExternalID(ctx context.Context, eventID string) (model.Appointment, error)
	Create(ctx context.Context, appt *model.Appointment) error
	UpdateStatus(ctx context.Context, id string, to model.Status, reason string) (model.Appointment, error)
	UpdateTimes(ctx context.Context, id string, start, end time.Time) (model.Appointment, error)
	LinkExternalEvent(ctx context.Context, id, eventID string) error
}

type Catalog interface {
	GetService(ctx context.Context, id string) (model.Service, error)
	DefaultService(ctx context.Context, preferredID string) (model.Service, error)
}

// Mirror creates the remote event for a confirmed, unlinked appointment.
type Mirror interface {
	Mirror(ctx context.Context, appointmentID string) error
}

type Config struct {
	Interval   time.Duration
	WindowDays int
	Location   *time.Location
	// ImportServiceID is the service given to imported events. Empty means
	// the oldest service in the catalog.
	ImportServiceID string
	Now             func() time.Time
}

// Result counts what one pass changed.
type Result struct {
	Cancelled    int
	Updated      int
	Imported     int
	Linked       int
	Mirrored     int
	StrayDeleted int
	Failed       int
}

func (r Result) Changes() int {
	return r.Cancelled + r.Updated + r.Imported + r.Linked + r.Mirrored + r.StrayDeleted
}

func (r Result) LogAttrs() []any {
	return []any{
		"cancelled", r.Cancelled,
		"updated", r.Updated,
		"imported", r.Imported,
		"linked", r.Linked,
		"mirrored", r.Mirrored,
		"stray_deleted", r.StrayDeleted,
		"failed", r.Failed,
	}
}

type Reconciler struct {
	store   Store
	catalog Catalog
	gateway calendar.Gateway
	mirror  Mirror
	logger  *slog.Logger
	cfg     Config
	running atomic.Bool
}

// NewReconciler builds a reconciler. mirror may be nil, in which case
// unlinked confirmed appointments are left alone.
func NewReconciler(store Store, catalog Catalog, gateway calendar.Gateway, m Mirror, logger *slog.Logger, cfg Config) *Reconciler {
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Minute
	}
	if cfg.WindowDays <= 0 {
		cfg.WindowDays = 30
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Reconciler{store: store, catalog: catalog, gateway: gateway, mirror: m, logger: logger, cfg: cfg}
}

// Run performs a pass immediately and then on every interval until ctx ends.
func (r *Reconciler) Run(ctx context.Context) {
	r.logger.Info("calendar sync started", "interval", r.cfg.Interval.String(), "window_days", r.cfg.WindowDays)
	r.tick(ctx)

	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.tick(ctx)
		}
	}
}

func (r *Reconciler) tick(ctx context.Context) {
	res, err := r.SyncOnce(ctx)
	switch {
	case errors.Is(err, ErrSyncInProgress):
		r.logger.Info("calendar sync skipped, previous pass still running")
	case err != nil:
		if ctx.Err() == nil {
			r.logger.Error("calendar sync failed", "err", err)
		}
	case res.Changes() > 0 || res.Failed > 0:
		r.logger.Info("calendar sync finished", res.LogAttrs()...)
	default:
		r.logger.Debug("calendar sync finished, nothing to do")
	}
}

// Window returns the span reconciled for a pass at now: from the start of
// today to the end of the last day in the window, in the business timezone.
func (r *Reconciler) Window(now time.Time) (time.Time, time.Time) {
	local := now.In(r.cfg.Location)
	from := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, r.cfg.Location)
	return from, from.AddDate(0, 0, r.cfg.WindowDays+1)
}

// SyncOnce runs a single pass. Failures on individual items are logged and
// counted; only failing to read either side aborts the pass.
func (r *Reconciler) SyncOnce(ctx context.Context) (res Result, err error) {
	if !r.running.CompareAndSwap(false, true) {
		return Result{}, ErrSyncInProgress
	}
	defer r.running.Store(false)

	ctx, span := tracer.Start(ctx, "calendar.sync")
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.SetAttributes(
			attribute.Int("sync.cancelled", res.Cancelled),
			attribute.Int("sync.updated", res.Updated),
			attribute.Int("sync.imported", res.Imported),
			attribute.Int("sync.failed", res.Failed),
		)
		span.End()
	}()

	from, to := r.Window(r.cfg.Now())
	remote, err := r.gateway.ListEvents(ctx, from, to)
	if err != nil {
		return res, err
	}
	local, err := r.store.ListStartingIn(ctx, from, to)
	if err != nil {
		return res, err
	}

	p := &pass{Reconciler: r, res: &res, linked: map[string]bool{}}
	byID := make(map[string]calendar.RemoteEvent, len(remote))
	for _, ev := range remote {
		if !ev.Cancelled() {
			byID[ev.ID] = ev
		}
	}

	matched := map[string]bool{}
	for _, appt := range local {
		if appt.ExternalEventID == "" {
			continue
		}
		ev, ok := byID[appt.ExternalEventID]
		if ok {
			matched[ev.ID] = true
		}
		switch {
		case appt.Status == model.StatusCancelled:
			if ok {
				p.deleteStray(ctx, ev.ID, "appointment_id", appt.ID)
			}
		case appt.Status.Terminal():
		case ok:
			p.applyDrift(ctx, appt, ev)
		default:
			p.checkMissing(ctx, appt)
		}
	}

	for _, ev := range remote {
		if ev.Cancelled() || matched[ev.ID] {
			continue
		}
		p.handleUnmatched(ctx, ev)
	}

	if r.mirror != nil {
		for _, appt := range local {
			if appt.Status != model.StatusConfirmed || appt.ExternalEventID != "" || p.linked[appt.ID] {
				continue
			}
			if err := r.mirror.Mirror(ctx, appt.ID); err != nil {
				p.fail("mirror appointment", err, "appointment_id", appt.ID)
				continue
			}
			res.Mirrored++
		}
	}
	return res, nil
}

// pass holds per-pass state.
type pass struct {
	*Reconciler
	res    *Result
	linked map[string]bool
}

func (p *pass) fail(msg string, err error, attrs ...any) {
	p.res.Failed++
	p.logger.Warn("calendar sync: "+msg, append(attrs, "err", err)...)
}

// checkMissing handles a linked appointment whose event was not in the listing.
// The event may have moved outside the window, so it is looked up directly.
func (p *pass) checkMissing(ctx context.Context, appt model.Appointment) {
	ev, err := p.gateway.GetEvent(ctx, appt.ExternalEventID)
	gone := errors.Is(err, calendar.ErrEventNotFound)
	if err != nil && !gone {
		p.fail("look up remote event", err, "appointment_id", appt.ID, "event_id", appt.ExternalEventID)
		return
	}
	if !gone && !ev.Cancelled() {
		p.applyDrift(ctx, appt, ev)
		return
	}

	if _, err := p.store.UpdateStatus(ctx, appt.ID, model.StatusCancelled, removedReason); err != nil {
		p.fail("cancel appointment", err, "appointment_id", appt.ID)
		return
	}
	p.res.Cancelled++
	p.logger.Info("appointment cancelled, event removed from calendar", "appointment_id", appt.ID, "event_id", appt.ExternalEventID)
	if !gone {
		if _, err := p.gateway.DeleteEvent(ctx, ev.ID); err != nil {
			p.logger.Warn("failed to delete cancelled remote event", "event_id", ev.ID, "err", err)
		}
	}
}

// applyDrift takes the remote times when they differ from the local ones and
// refreshes the remote event's content.
func (p *pass) applyDrift(ctx context.Context, appt model.Appointment, ev calendar.RemoteEvent) {
	if ev.AllDay || (sameSecond(appt.StartTime, ev.Start) && sameSecond(appt.EndTime, ev.End)) {
		return
	}
	if !ev.End.After(ev.Start) {
		p.fail("apply remote times", errors.New("remote event has no duration"), "appointment_id", appt.ID, "event_id", ev.ID)
		return
	}
	updated, err := p.store.UpdateTimes(ctx, appt.ID, ev.Start, ev.End)
	if err != nil {
		p.fail("apply remote times", err, "appointment_id", appt.ID, "event_id", ev.ID)
		return
	}
	p.res.Updated++
	p.logger.Info("appointment moved to match calendar", "appointment_id", appt.ID,
		"start", ev.Start.Format(time.RFC3339), "end", ev.End.Format(time.RFC3339))

	svc, err := p.catalog.GetService(ctx, updated.ServiceID)
	if err != nil {
		p.logger.Warn("service lookup failed, using generic summary", "service_id", updated.ServiceID, "err", err)
	}
	if _, err := p.gateway.UpdateEvent(ctx, ev.ID, mirror.EventInputFor(updated, svc)); err != nil {
		p.fail("refresh remote event", err, "appointment_id", appt.ID, "event_id", ev.ID)
	}
}

func (p *pass) handleUnmatched(ctx context.Context, ev calendar.RemoteEvent) {
	appt, err := p.store.FindByExternalID(ctx, ev.ID)
	switch {
	case err == nil:
		switch {
		case appt.Status == model.StatusCancelled:
			p.deleteStray(ctx, ev.ID, "appointment_id", appt.ID)
		case !appt.Status.Terminal():
			p.applyDrift(ctx, appt, ev)
		}
		return
	case !errors.Is(err, storage.ErrNotFound):
		p.fail("look up appointment by event", err, "event_id", ev.ID)
		return
	}

	if ev.AppointmentID != "" {
		owner, err := p.store.FindByID(ctx, ev.AppointmentID)
		switch {
		case err == nil:
			p.adopt(ctx, owner, ev)
			return
		case !errors.Is(err, storage.ErrNotFound):
			p.fail("look up referenced appointment", err, "event_id", ev.ID, "appointment_id", ev.AppointmentID)
			return
		}
		// Reference to an appointment this store never had; treat as foreign.
	}
	p.importEvent(ctx, ev)
}

// adopt resolves a remote event that points back at a local appointment.
func (p *pass) adopt(ctx context.Context, owner model.Appointment, ev calendar.RemoteEvent) {
	switch {
	case owner.Status == model.StatusCompleted:
		return
	case owner.ExternalEventID == ev.ID:
		return
	case owner.Status == model.StatusCancelled, owner.ExternalEventID != "":
		// Either the appointment is gone or it is linked to another copy.
		p.deleteStray(ctx, ev.ID, "appointment_id", owner.ID)
		return
	}

	err := p.store.LinkExternalEvent(ctx, owner.ID, ev.ID)
	switch {
	case err == nil:
		p.res.Linked++
		p.linked[owner.ID] = true
		p.logger.Info("appointment linked to existing event", "appointment_id", owner.ID, "event_id", ev.ID)
		owner.ExternalEventID = ev.ID
		p.applyDrift(ctx, owner, ev)
	case errors.Is(err, storage.ErrAlreadyLinked), errors.Is(err, storage.ErrDuplicateExternalID):
		if cur, ferr := p.store.FindByID(ctx, owner.ID); ferr == nil && cur.ExternalEventID == ev.ID {
			return
		}
		p.deleteStray(ctx, ev.ID, "appointment_id", owner.ID)
	default:
		p.fail("link remote event", err, "appointment_id", owner.ID, "event_id", ev.ID)
	}
}

func (p *pass) importEvent(ctx context.Context, ev calendar.RemoteEvent) {
	if ev.AllDay {
		p.logger.Debug("skipping all-day event", "event_id", ev.ID)
		return
	}
	if !ev.End.After(ev.Start) {
		p.logger.Debug("skipping event without duration", "event_id", ev.ID)
		return
	}
	svc, err := p.catalog.DefaultService(ctx, p.cfg.ImportServiceID)
	if err != nil {
		p.fail("no service for imported event", err, "event_id", ev.ID, "service_id", p.cfg.ImportServiceID)
		return
	}

	appt := model.Appointment{
		ServiceID:       svc.ID,
		StartTime:       ev.Start,
		EndTime:         ev.End,
		Status:          model.StatusConfirmed,
		ExternalEventID: ev.ID,
		Source:          model.SourceCalendar,
		Notes:           "Imported from calendar: " + title(ev.Summary),
	}
	err = p.store.Create(ctx, &appt)
	switch {
	case err == nil:
		p.res.Imported++
		p.logger.Info("calendar event imported", "appointment_id", appt.ID, "event_id", ev.ID)
	case errors.Is(err, storage.ErrDuplicateExternalID):
		// Imported by a concurrent writer.
	default:
		p.fail("import remote event", err, "event_id", ev.ID)
	}
}

func (p *pass) deleteStray(ctx context.Context, eventID string, attrs ...any) {
	existed, err := p.gateway.DeleteEvent(ctx, eventID)
	if err != nil {
		p.fail("delete stray remote event", err, append(attrs, "event_id", eventID)...)
		return
	}
	if existed {
		p.res.StrayDeleted++
		p.logger.Info("stray remote event deleted", append(attrs, "event_id", eventID)...)
	}
}

func title(summary string) string {
	if s := strings.TrimSpace(summary); s != "" {
		return s
	}
	return "No title"
}

func sameSecond(a, b time.Time) bool {
	return a.Truncate(time.Second).Equal(b.Truncate(time.Second))
}
