package model

import "time"

// Source records where an appointment entered the system.
type Source string

const (
	SourceBooking  Source = "booking"
	SourceCalendar Source = "calendar"
)

type Appointment struct {
	ID              string
	Reference       string
	ServiceID       string
	UserID          string
	GuestName       string
	GuestEmail      string
	GuestPhone      string
	StartTime       time.Time
	EndTime         time.Time
	Status          Status
	ExternalEventID string
	Source          Source
	Notes           string
	CancelledAt     *time.Time
	CancelReason    string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

func (a Appointment) HasGuest() bool {
	return a.GuestName != "" || a.GuestEmail != "" || a.GuestPhone != ""
}

// DisplayName is the label used for the appointment on the calendar.
func (a Appointment) DisplayName() string {
	switch {
	case a.GuestName != "":
		return a.GuestName
	case a.GuestEmail != "":
		return a.GuestEmail
	case a.UserID != "":
		return "user " + a.UserID
	case a.Source == SourceCalendar:
		return "calendar import"
	default:
		return "guest"
	}
}

// Blocks reports whether the appointment occupies its interval for availability.
func (a Appointment) Blocks() bool {
	return a.Status == StatusConfirmed
}
