package storage

import (
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

var (
	ErrNotFound = errors.New("not found")
	// ErrConflict means the write would overlap a confirmed appointment.
	ErrConflict = errors.New("overlaps a confirmed appointment")
	// ErrInvalidTransition means the row was not in a status the change is allowed from.
	ErrInvalidTransition = errors.New("invalid status transition")
	// ErrDuplicateExternalID means another live appointment already owns the remote event.
	ErrDuplicateExternalID = errors.New("external event already linked to another appointment")
	// ErrAlreadyLinked means the appointment already has a remote event.
	ErrAlreadyLinked = errors.New("appointment already linked to an external event")
)

const (
	sqlstateExclusionViolation = "23P01"
	sqlstateUniqueViolation    = "23505"

	externalEventIndex = "appointments_external_event_uniq"
)

// mapWriteErr turns constraint violations into the package's sentinel errors.
func mapWriteErr(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch {
		case pgErr.Code == sqlstateExclusionViolation:
			return ErrConflict
		case pgErr.Code == sqlstateUniqueViolation && pgErr.ConstraintName == externalEventIndex:
			return ErrDuplicateExternalID
		}
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	return err
}
