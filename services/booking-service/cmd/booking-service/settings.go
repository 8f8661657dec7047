package main

import (
	"fmt"
	"time"

	"github.com/md-rashed-zaman/bookingsync/libs/config"
	"github.com/md-rashed-zaman/bookingsync/libs/kafkax"
	"github.com/md-rashed-zaman/bookingsync/services/booking-service/internal/availability"
	"github.com/md-rashed-zaman/bookingsync/services/booking-service/internal/calendar"
)

type settings struct {
	Service     string
	Port        string
	DatabaseURL string
	AutoMigrate bool
	SeedData    bool

	Location        *time.Location
	Hours           availability.WeeklyHours
	Granularity     time.Duration
	MaxAdvance      time.Duration
	PendingForUsers bool

	SyncInterval    time.Duration
	SyncWindowDays  int
	ImportServiceID string
	SweepInterval   time.Duration

	CalendarID      string
	CalendarTimeout time.Duration
	InviteAttendees bool
	Credentials     calendar.Credentials

	RedisURL     string
	RatePerMin   int
	KafkaBrokers []string
	JWTSecret    string
}

func loadSettings() (settings, error) {
	s := settings{
		Service:         config.String("SERVICE_NAME", "booking-service"),
		AutoMigrate:     config.Bool("DB_AUTO_MIGRATE", true),
		SeedData:        config.Bool("SEED_SERVICES", true),
		PendingForUsers: config.Bool("PENDING_FOR_USERS", true),
		ImportServiceID: config.String("IMPORT_SERVICE_ID", ""),
		CalendarID:      config.String("GOOGLE_CALENDAR_ID", "primary"),
		InviteAttendees: config.Bool("GOOGLE_INVITE_ATTENDEES", false),
		Credentials: calendar.Credentials{
			File:        config.String("GOOGLE_CREDENTIALS_FILE", ""),
			ClientEmail: config.String("GOOGLE_CLIENT_EMAIL", ""),
			PrivateKey:  config.String("GOOGLE_PRIVATE_KEY", ""),
		},
		RedisURL:     config.String("REDIS_URL", ""),
		KafkaBrokers: kafkax.SplitBrokers(config.String("KAFKA_BROKERS", "")),
	}

	var err error
	if s.Port, err = config.Port("PORT", "8080"); err != nil {
		return s, err
	}
	if s.DatabaseURL, err = config.RequiredString("DATABASE_URL"); err != nil {
		return s, err
	}
	if s.JWTSecret, err = config.RequiredString("JWT_SECRET"); err != nil {
		return s, err
	}

	tz := config.String("BUSINESS_TIMEZONE", "UTC")
	if s.Location, err = time.LoadLocation(tz); err != nil {
		return s, fmt.Errorf("BUSINESS_TIMEZONE: %w", err)
	}
	if s.Hours, err = availability.ParseWeeklyHours(config.String("BUSINESS_HOURS", availability.DefaultWeeklyHours)); err != nil {
		return s, fmt.Errorf("BUSINESS_HOURS: %w", err)
	}
	if s.Granularity, err = config.Minutes("SLOT_GRANULARITY_MINUTES", 30); err != nil {
		return s, err
	}
	days, err := config.Int("BOOKING_MAX_ADVANCE_DAYS", 30)
	if err != nil {
		return s, err
	}
	s.MaxAdvance = time.Duration(days) * 24 * time.Hour

	if s.SyncInterval, err = config.Minutes("SYNC_INTERVAL_MINUTES", 5); err != nil {
		return s, err
	}
	if s.SyncWindowDays, err = config.Int("SYNC_WINDOW_DAYS", 30); err != nil {
		return s, err
	}
	if s.SweepInterval, err = config.Minutes("COMPLETE_SWEEP_MINUTES", 10); err != nil {
		return s, err
	}
	if s.CalendarTimeout, err = config.Seconds("CALENDAR_TIMEOUT_SECONDS", 5); err != nil {
		return s, err
	}
	if s.RatePerMin, err = config.Int("RATE_LIMIT_PER_MINUTE", 60); err != nil {
		return s, err
	}
	return s, nil
}
