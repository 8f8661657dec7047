package model

import "time"

// Service is a bookable offering. DurationMinutes fixes the length of every
// appointment booked for it.
type Service struct {
	ID              string
	Name            string
	Description     string
	DurationMinutes int
	Price           string
	CreatedAt       time.Time
}

func (s Service) Duration() time.Duration {
	return time.Duration(s.DurationMinutes) * time.Minute
}
