package calendar

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"golang.org/x/oauth2/google"
	"golang.org/x/oauth2/jwt"
	gcal "google.golang.org/api/calendar/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

const appointmentIDKey = "appointmentId"

// Credentials selects a service account either from a JSON key file or from
// an email plus PEM private key.
type Credentials struct {
	File        string
	ClientEmail string
	PrivateKey  string
}

func (c Credentials) Configured() bool {
	return c.File != "" || (c.ClientEmail != "" && c.PrivateKey != "")
}

// NewServiceAccountService builds a Calendar API client authenticated as a
// service account. ctx should outlive the returned service since it backs
// token refreshes.
func NewServiceAccountService(ctx context.Context, creds Credentials) (*gcal.Service, error) {
	var cfg *jwt.Config
	switch {
	case creds.File != "":
		raw, err := os.ReadFile(creds.File)
		if err != nil {
			return nil, fmt.Errorf("read google credentials: %w", err)
		}
		cfg, err = google.JWTConfigFromJSON(raw, gcal.CalendarScope)
		if err != nil {
			return nil, fmt.Errorf("parse google credentials: %w", err)
		}
	case creds.ClientEmail != "" && creds.PrivateKey != "":
		cfg = &jwt.Config{
			Email: creds.ClientEmail,
			// Keys pasted into env files usually carry literal \n sequences.
			PrivateKey: []byte(strings.ReplaceAll(creds.PrivateKey, `\n`, "\n")),
			Scopes:     []string{gcal.CalendarScope},
			TokenURL:   google.JWTTokenURL,
		}
	default:
		return nil, errors.New("google calendar credentials not configured")
	}

	svc, err := gcal.NewService(ctx, option.WithHTTPClient(cfg.Client(ctx)))
	if err != nil {
		return nil, fmt.Errorf("create calendar service: %w", err)
	}
	return svc, nil
}

type GoogleOptions struct {
	CalendarID string
	// Timeout bounds every remote call.
	Timeout  time.Duration
	Location *time.Location
	// InviteAttendees adds the guest as an attendee and emails them updates.
	// Service accounts need domain-wide delegation for this.
	InviteAttendees bool
}

// GoogleGateway implements Gateway on the Google Calendar v3 API.
type GoogleGateway struct {
	svc  *gcal.Service
	opts GoogleOptions
}

func NewGoogleGateway(svc *gcal.Service, opts GoogleOptions) *GoogleGateway {
	if opts.CalendarID == "" {
		opts.CalendarID = "primary"
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 5 * time.Second
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	return &GoogleGateway{svc: svc, opts: opts}
}

func (g *GoogleGateway) ListEvents(ctx context.Context, start, end time.Time) ([]RemoteEvent, error) {
	ctx, cancel := context.WithTimeout(ctx, g.opts.Timeout)
	defer cancel()

	var out []RemoteEvent
	err := g.svc.Events.List(g.opts.CalendarID).
		TimeMin(start.Format(time.RFC3339)).
		TimeMax(end.Format(time.RFC3339)).
		SingleEvents(true).
		OrderBy("startTime").
		MaxResults(250).
		Pages(ctx, func(page *gcal.Events) error {
			for _, item := range page.Items {
				ev, ok := g.fromAPI(item)
				if !ok || ev.Cancelled() {
					continue
				}
				out = append(out, ev)
			}
			return nil
		})
	if err != nil {
		return nil, classify("list events", err)
	}
	return out, nil
}

func (g *GoogleGateway) GetEvent(ctx context.Context, id string) (RemoteEvent, error) {
	ctx, cancel := context.WithTimeout(ctx, g.opts.Timeout)
	defer cancel()

	item, err := g.svc.Events.Get(g.opts.CalendarID, id).Context(ctx).Do()
	if err != nil {
		return RemoteEvent{}, classify("get event", err)
	}
	ev, ok := g.fromAPI(item)
	if !ok {
		return RemoteEvent{}, fmt.Errorf("%w: event %s has no usable start/end", ErrUnavailable, id)
	}
	return ev, nil
}

func (g *GoogleGateway) CreateEvent(ctx context.Context, in EventInput) (RemoteEvent, error) {
	ctx, cancel := context.WithTimeout(ctx, g.opts.Timeout)
	defer cancel()

	item, err := g.svc.Events.Insert(g.opts.CalendarID, g.toAPI(in)).
		SendUpdates(g.sendUpdates()).
		Context(ctx).
		Do()
	if err != nil {
		return RemoteEvent{}, classify("create event", err)
	}
	ev, _ := g.fromAPI(item)
	return ev, nil
}

func (g *GoogleGateway) UpdateEvent(ctx context.Context, id string, in EventInput) (RemoteEvent, error) {
	ctx, cancel := context.WithTimeout(ctx, g.opts.Timeout)
	defer cancel()

	item, err := g.svc.Events.Patch(g.opts.CalendarID, id, g.toAPI(in)).
		SendUpdates(g.sendUpdates()).
		Context(ctx).
		Do()
	if err != nil {
		return RemoteEvent{}, classify("update event", err)
	}
	ev, _ := g.fromAPI(item)
	return ev, nil
}

func (g *GoogleGateway) DeleteEvent(ctx context.Context, id string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, g.opts.Timeout)
	defer cancel()

	err := g.svc.Events.Delete(g.opts.CalendarID, id).
		SendUpdates(g.sendUpdates()).
		Context(ctx).
		Do()
	if err != nil {
		err = classify("delete event", err)
		if errors.Is(err, ErrEventNotFound) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (g *GoogleGateway) sendUpdates() string {
	if g.opts.InviteAttendees {
		return "all"
	}
	return "none"
}

func (g *GoogleGateway) toAPI(in EventInput) *gcal.Event {
	ev := &gcal.Event{
		Summary:     in.Summary,
		Description: in.Description,
		Start:       g.eventTime(in.Start),
		End:         g.eventTime(in.End),
	}
	if in.AppointmentID != "" {
		ev.ExtendedProperties = &gcal.EventExtendedProperties{
			Private: map[string]string{appointmentIDKey: in.AppointmentID},
		}
	}
	if g.opts.InviteAttendees && in.AttendeeEmail != "" {
		ev.Attendees = []*gcal.EventAttendee{{Email: in.AttendeeEmail}}
	}
	return ev
}

func (g *GoogleGateway) eventTime(t time.Time) *gcal.EventDateTime {
	edt := &gcal.EventDateTime{DateTime: t.In(g.opts.Location).Format(time.RFC3339)}
	if name := g.opts.Location.String(); name != "Local" {
		edt.TimeZone = name
	}
	return edt
}

// fromAPI converts an API event. ok is false when start or end cannot be parsed.
func (g *GoogleGateway) fromAPI(item *gcal.Event) (RemoteEvent, bool) {
	if item == nil {
		return RemoteEvent{}, false
	}
	ev := RemoteEvent{
		ID:          item.Id,
		Summary:     item.Summary,
		Description: item.Description,
		Status:      item.Status,
	}
	if item.ExtendedProperties != nil {
		ev.AppointmentID = item.ExtendedProperties.Private[appointmentIDKey]
	}
	if item.Status == StatusCancelled && item.Start == nil {
		return ev, true
	}
	var okStart, okEnd bool
	ev.Start, ev.AllDay, okStart = g.parseTime(item.Start)
	ev.End, _, okEnd = g.parseTime(item.End)
	return ev, okStart && okEnd
}

func (g *GoogleGateway) parseTime(edt *gcal.EventDateTime) (time.Time, bool, bool) {
	if edt == nil {
		return time.Time{}, false, false
	}
	if edt.DateTime != "" {
		t, err := time.Parse(time.RFC3339, edt.DateTime)
		if err != nil {
			return time.Time{}, false, false
		}
		return t.In(g.opts.Location), false, true
	}
	if edt.Date != "" {
		t, err := time.ParseInLocation(time.DateOnly, edt.Date, g.opts.Location)
		if err != nil {
			return time.Time{}, true, false
		}
		return t, true, true
	}
	return time.Time{}, false, false
}

func classify(op string, err error) error {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		switch apiErr.Code {
		case http.StatusNotFound, http.StatusGone:
			return fmt.Errorf("%s: %w", op, ErrEventNotFound)
		}
	}
	return fmt.Errorf("%s: %w: %w", op, ErrUnavailable, err)
}
