// Package calendar talks to the remote calendar that mirrors appointments.
package calendar

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrUnavailable wraps every transport, auth or server failure.
	ErrUnavailable = errors.New("calendar unavailable")
	// ErrEventNotFound means the remote event does not exist or was deleted.
	ErrEventNotFound = errors.New("calendar event not found")
)

const StatusCancelled = "cancelled"

type RemoteEvent struct {
	ID          string
	Summary     string
	Description string
	Start       time.Time
	End         time.Time
	AllDay      bool
	Status      string
	// AppointmentID is the local appointment this event was created for, if any.
	AppointmentID string
}

func (e RemoteEvent) Cancelled() bool { return e.Status == StatusCancelled }

// EventInput is the content written to a remote event for an appointment.
type EventInput struct {
	Summary       string
	Description   string
	Start         time.Time
	End           time.Time
	AttendeeEmail string
	AppointmentID string
}

type Gateway interface {
	// ListEvents returns non-cancelled events overlapping [start, end), ordered by start.
	ListEvents(ctx context.Context, start, end time.Time) ([]RemoteEvent, error)
	GetEvent(ctx context.Context, id string) (RemoteEvent, error)
	CreateEvent(ctx context.Context, in EventInput) (RemoteEvent, error)
	UpdateEvent(ctx context.Context, id string, in EventInput) (RemoteEvent, error)
	// DeleteEvent reports false when the event was already gone.
	DeleteEvent(ctx context.Context, id string) (bool, error)
}
