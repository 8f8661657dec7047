// Package mirror copies confirmed appointments to the remote calendar.
package mirror

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/md-rashed-zaman/bookingsync/services/booking-service/internal/calendar"
	"github.com/md-rashed-zaman/bookingsync/services/booking-service/internal/model"
	"github.com/md-rashed-zaman/bookingsync/services/booking-service/internal/storage"
)

// ErrPermanent marks failures that retrying cannot fix.
var ErrPermanent = errors.New("permanent mirror failure")

type Store interface {
	FindByID(ctx context.Context, id string) (model.Appointment, error)
	LinkExternalEvent(ctx context.Context, id, eventID string) error
}

type Catalog interface {
	GetService(ctx context.Context, id string) (model.Service, error)
}

type Mirrorer struct {
	store   Store
	catalog Catalog
	gateway calendar.Gateway
	logger  *slog.Logger
}

func NewMirrorer(store Store, catalog Catalog, gateway calendar.Gateway, logger *slog.Logger) *Mirrorer {
	return &Mirrorer{store: store, catalog: catalog, gateway: gateway, logger: logger}
}

// Mirror creates the remote event for a confirmed appointment and links it.
// Appointments that are not confirmed or are already linked are skipped.
func (m *Mirrorer) Mirror(ctx context.Context, appointmentID string) error {
	appt, err := m.store.FindByID(ctx, appointmentID)
	if errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("%w: appointment %s not found", ErrPermanent, appointmentID)
	}
	if err != nil {
		return err
	}
	if appt.Status != model.StatusConfirmed || appt.ExternalEventID != "" {
		return nil
	}
	svc, err := m.catalog.GetService(ctx, appt.ServiceID)
	if err != nil {
		return fmt.Errorf("load service %s: %w", appt.ServiceID, err)
	}

	ev, err := m.gateway.CreateEvent(ctx, EventInputFor(appt, svc))
	if err != nil {
		return fmt.Errorf("create remote event: %w", err)
	}

	err = m.store.LinkExternalEvent(ctx, appt.ID, ev.ID)
	switch {
	case err == nil:
		m.logger.Info("appointment mirrored", "appointment_id", appt.ID, "event_id", ev.ID)
		return nil
	case errors.Is(err, storage.ErrAlreadyLinked), errors.Is(err, storage.ErrDuplicateExternalID):
		// A sync pass may have adopted this very event through its back-reference.
		if cur, ferr := m.store.FindByID(ctx, appt.ID); ferr == nil && cur.ExternalEventID == ev.ID {
			m.logger.Info("appointment mirrored", "appointment_id", appt.ID, "event_id", ev.ID)
			return nil
		}
		m.logger.Info("mirror lost link race, removing duplicate event", "appointment_id", appt.ID, "event_id", ev.ID)
		if _, derr := m.gateway.DeleteEvent(ctx, ev.ID); derr != nil {
			m.logger.Warn("failed to delete duplicate remote event", "event_id", ev.ID, "err", derr)
		}
		return nil
	default:
		if _, derr := m.gateway.DeleteEvent(ctx, ev.ID); derr != nil {
			m.logger.Warn("failed to delete unlinked remote event", "event_id", ev.ID, "err", derr)
		}
		return fmt.Errorf("link remote event: %w", err)
	}
}

// Unmirror deletes a remote event. An event that is already gone is not an error.
func (m *Mirrorer) Unmirror(ctx context.Context, eventID string) error {
	deleted, err := m.gateway.DeleteEvent(ctx, eventID)
	if err != nil {
		return fmt.Errorf("delete remote event: %w", err)
	}
	m.logger.Info("remote event removed", "event_id", eventID, "existed", deleted)
	return nil
}

// EventInputFor renders the remote event content for an appointment.
func EventInputFor(appt model.Appointment, svc model.Service) calendar.EventInput {
	return calendar.EventInput{
		Summary:       Summary(appt, svc),
		Description:   Description(appt),
		Start:         appt.StartTime,
		End:           appt.EndTime,
		AttendeeEmail: appt.GuestEmail,
		AppointmentID: appt.ID,
	}
}

func Summary(appt model.Appointment, svc model.Service) string {
	name := svc.Name
	if name == "" {
		name = "Appointment"
	}
	return name + " - " + appt.DisplayName()
}

func Description(appt model.Appointment) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Appointment for %s\n", appt.DisplayName())
	if appt.GuestEmail != "" {
		fmt.Fprintf(&b, "Email: %s\n", appt.GuestEmail)
	}
	if appt.GuestPhone != "" {
		fmt.Fprintf(&b, "Phone: %s\n", appt.GuestPhone)
	}
	if appt.Reference != "" {
		fmt.Fprintf(&b, "Reference: %s\n", appt.Reference)
	}
	if appt.Notes != "" {
		fmt.Fprintf(&b, "Notes: %s\n", appt.Notes)
	}
	return strings.TrimRight(b.String(), "\n")
}
