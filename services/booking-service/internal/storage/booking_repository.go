package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/md-rashed-zaman/bookingsync/libs/db"
	"github.com/md-rashed-zaman/bookingsync/libs/ids"
	"github.com/md-rashed-zaman/bookingsync/services/booking-service/internal/model"
	"github.com/md-rashed-zaman/bookingsync/services/booking-service/internal/outbox"
)

// BookingRepository is the Postgres appointment store. Every lifecycle change
// writes its outbox event in the same transaction.
type BookingRepository struct {
	pool   *db.Pool
	outbox *outbox.Repository
	now    func() time.Time
}

func NewBookingRepository(pool *db.Pool, outboxRepo *outbox.Repository) *BookingRepository {
	return &BookingRepository{pool: pool, outbox: outboxRepo, now: time.Now}
}

const appointmentColumns = `
	id, reference, service_id, COALESCE(user_id, ''), guest_name, guest_email, guest_phone,
	start_time, end_time, status, COALESCE(external_event_id, ''), source, notes,
	cancelled_at, COALESCE(cancellation_reason, ''), created_at, updated_at`

func scanAppointment(row pgx.Row) (model.Appointment, error) {
	var (
		appt   model.Appointment
		status string
		source string
	)
	err := row.Scan(
		&appt.ID,
		&appt.Reference,
		&appt.ServiceID,
		&appt.UserID,
		&appt.GuestName,
		&appt.GuestEmail,
		&appt.GuestPhone,
		&appt.StartTime,
		&appt.EndTime,
		&status,
		&appt.ExternalEventID,
		&source,
		&appt.Notes,
		&appt.CancelledAt,
		&appt.CancelReason,
		&appt.CreatedAt,
		&appt.UpdatedAt,
	)
	if err != nil {
		return model.Appointment{}, err
	}
	appt.Status = model.Status(status)
	appt.Source = model.Source(source)
	return appt, nil
}

func collectAppointments(rows pgx.Rows) ([]model.Appointment, error) {
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.Appointment, error) {
		return scanAppointment(row)
	})
}

// Create inserts appt, filling ID, Reference and timestamps. A confirmed
// appointment overlapping another confirmed one fails with ErrConflict: the
// exclusion constraint makes check and write one atomic step.
func (r *BookingRepository) Create(ctx context.Context, appt *model.Appointment) error {
	if appt.ID == "" {
		appt.ID = uuid.NewString()
	}
	if appt.Reference == "" {
		appt.Reference = ids.NewReference()
	}
	if appt.Source == "" {
		appt.Source = model.SourceBooking
	}
	eventType := outbox.AppointmentBooked
	if appt.Source == model.SourceCalendar {
		eventType = outbox.AppointmentImported
	}

	return r.pool.WithTx(ctx, func(tx pgx.Tx) error {
		err := tx.QueryRow(ctx, `
			INSERT INTO appointments
				(id, reference, service_id, user_id, guest_name, guest_email, guest_phone,
				 start_time, end_time, status, external_event_id, source, notes)
			VALUES ($1, $2, $3, NULLIF($4, ''), $5, $6, $7, $8, $9, $10, NULLIF($11, ''), $12, $13)
			RETURNING created_at, updated_at
		`, appt.ID, appt.Reference, appt.ServiceID, appt.UserID, appt.GuestName, appt.GuestEmail, appt.GuestPhone,
			appt.StartTime, appt.EndTime, string(appt.Status), appt.ExternalEventID, string(appt.Source), appt.Notes,
		).Scan(&appt.CreatedAt, &appt.UpdatedAt)
		if err != nil {
			return mapWriteErr(err)
		}
		return r.writeEvent(ctx, tx, eventType, *appt)
	})
}

func (r *BookingRepository) FindByID(ctx context.Context, id string) (model.Appointment, error) {
	if _, err := uuid.Parse(id); err != nil {
		return model.Appointment{}, ErrNotFound
	}
	appt, err := scanAppointment(r.pool.QueryRow(ctx, `SELECT `+appointmentColumns+` FROM appointments WHERE id = $1`, id))
	return appt, mapWriteErr(err)
}

// FindByExternalID searches every status, preferring the live appointment
// when a cancelled one shares the event id.
func (r *BookingRepository) FindByExternalID(ctx context.Context, eventID string) (model.Appointment, error) {
	appt, err := scanAppointment(r.pool.QueryRow(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE external_event_id = $1
		ORDER BY (status = 'cancelled'), updated_at DESC
		LIMIT 1
	`, eventID))
	return appt, mapWriteErr(err)
}

// FindOverlapping returns appointments intersecting [start, end). With no
// statuses every status matches.
func (r *BookingRepository) FindOverlapping(ctx context.Context, start, end time.Time, statuses ...model.Status) ([]model.Appointment, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE start_time < $2
			AND end_time > $1
			AND ($3::text[] IS NULL OR status = ANY($3))
		ORDER BY start_time ASC
	`, start, end, statusStrings(statuses))
	if err != nil {
		return nil, err
	}
	return collectAppointments(rows)
}

func (r *BookingRepository) ListStartingIn(ctx context.Context, from, to time.Time) ([]model.Appointment, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE start_time >= $1 AND start_time < $2
		ORDER BY start_time ASC
	`, from, to)
	if err != nil {
		return nil, err
	}
	return collectAppointments(rows)
}

func (r *BookingRepository) ListByUser(ctx context.Context, userID string) ([]model.Appointment, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE user_id = $1
		ORDER BY start_time ASC
	`, userID)
	if err != nil {
		return nil, err
	}
	return collectAppointments(rows)
}

// UpdateStatus moves the appointment to `to` only if its current status is
// one `to` may be reached from.
func (r *BookingRepository) UpdateStatus(ctx context.Context, id string, to model.Status, reason string) (model.Appointment, error) {
	var out model.Appointment
	err := r.pool.WithTx(ctx, func(tx pgx.Tx) error {
		appt, err := scanAppointment(tx.QueryRow(ctx, `
			UPDATE appointments
			SET status = $2,
				cancelled_at = CASE WHEN $2 = 'cancelled' THEN now() ELSE cancelled_at END,
				cancellation_reason = CASE WHEN $2 = 'cancelled' THEN NULLIF($3, '') ELSE cancellation_reason END,
				updated_at = now()
			WHERE id = $1 AND status = ANY($4)
			RETURNING `+appointmentColumns,
			id, string(to), reason, statusStrings(model.AllowedFrom(to))))
		if errors.Is(err, pgx.ErrNoRows) {
			return r.missingOrInvalid(ctx, tx, id)
		}
		if err != nil {
			return mapWriteErr(err)
		}
		out = appt
		return r.writeEvent(ctx, tx, outbox.StatusEvent(to), appt)
	})
	return out, err
}

// UpdateTimes moves a pending or confirmed appointment to a new interval.
func (r *BookingRepository) UpdateTimes(ctx context.Context, id string, start, end time.Time) (model.Appointment, error) {
	var out model.Appointment
	err := r.pool.WithTx(ctx, func(tx pgx.Tx) error {
		appt, err := scanAppointment(tx.QueryRow(ctx, `
			UPDATE appointments
			SET start_time = $2, end_time = $3, updated_at = now()
			WHERE id = $1 AND status IN ('pending', 'confirmed')
			RETURNING `+appointmentColumns,
			id, start, end))
		if errors.Is(err, pgx.ErrNoRows) {
			return r.missingOrInvalid(ctx, tx, id)
		}
		if err != nil {
			return mapWriteErr(err)
		}
		out = appt
		return r.writeEvent(ctx, tx, outbox.AppointmentRescheduled, appt)
	})
	return out, err
}

// LinkExternalEvent sets the remote event id on an appointment that has none.
// Linking the event it already has is a no-op.
func (r *BookingRepository) LinkExternalEvent(ctx context.Context, id, eventID string) error {
	return r.pool.WithTx(ctx, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			UPDATE appointments
			SET external_event_id = $2, updated_at = now()
			WHERE id = $1 AND external_event_id IS NULL
		`, id, eventID)
		if err != nil {
			return mapWriteErr(err)
		}
		if tag.RowsAffected() == 1 {
			return nil
		}
		var current string
		err = tx.QueryRow(ctx, `SELECT COALESCE(external_event_id, '') FROM appointments WHERE id = $1`, id).Scan(&current)
		switch {
		case errors.Is(err, pgx.ErrNoRows):
			return ErrNotFound
		case err != nil:
			return err
		case current == eventID:
			return nil
		}
		return ErrAlreadyLinked
	})
}

// CompleteElapsed marks confirmed appointments that ended at or before now as
// completed and returns their ids.
func (r *BookingRepository) CompleteElapsed(ctx context.Context, now time.Time) ([]string, error) {
	var done []string
	err := r.pool.WithTx(ctx, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, `
			UPDATE appointments
			SET status = 'completed', updated_at = now()
			WHERE status = 'confirmed' AND end_time <= $1
			RETURNING `+appointmentColumns, now)
		if err != nil {
			return err
		}
		appts, err := collectAppointments(rows)
		if err != nil {
			return err
		}
		for _, appt := range appts {
			if err := r.writeEvent(ctx, tx, outbox.AppointmentCompleted, appt); err != nil {
				return err
			}
			done = append(done, appt.ID)
		}
		return nil
	})
	return done, err
}

func (r *BookingRepository) missingOrInvalid(ctx context.Context, tx pgx.Tx, id string) error {
	var status string
	err := tx.QueryRow(ctx, `SELECT status FROM appointments WHERE id = $1`, id).Scan(&status)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	return fmt.Errorf("%w: appointment is %s", ErrInvalidTransition, status)
}

func (r *BookingRepository) writeEvent(ctx context.Context, tx pgx.Tx, eventType string, appt model.Appointment) error {
	evt, err := outbox.NewAppointmentEvent(eventType, appt, r.now())
	if err != nil {
		return err
	}
	if err := r.outbox.Insert(ctx, tx, evt); err != nil {
		return fmt.Errorf("write outbox event: %w", err)
	}
	return nil
}

func statusStrings(statuses []model.Status) []string {
	if len(statuses) == 0 {
		return nil
	}
	out := make([]string, len(statuses))
	for i, s := range statuses {
		out[i] = string(s)
	}
	return out
}
