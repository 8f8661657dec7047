package availability

import (
	"fmt"
	"strings"
	"time"
)

// DefaultWeeklyHours is used when no hours are configured.
const DefaultWeeklyHours = "mon=09:00-17:00,tue=09:00-17:00,wed=09:00-17:00,thu=09:00-17:00,fri=09:00-17:00,sat=10:00-16:00,sun=closed"

// Clock is a wall-clock time of day in the business timezone.
type Clock struct {
	Hour   int
	Minute int
}

func (c Clock) minutes() int { return c.Hour*60 + c.Minute }

func (c Clock) String() string { return fmt.Sprintf("%02d:%02d", c.Hour, c.Minute) }

// DayHours is the open interval for one weekday. The zero value is closed.
type DayHours struct {
	Open   Clock
	Close  Clock
	IsOpen bool
}

// WeeklyHours is indexed by time.Weekday.
type WeeklyHours [7]DayHours

var weekdayNames = map[string]time.Weekday{
	"sun": time.Sunday,
	"mon": time.Monday,
	"tue": time.Tuesday,
	"wed": time.Wednesday,
	"thu": time.Thursday,
	"fri": time.Friday,
	"sat": time.Saturday,
}

// ParseWeeklyHours reads "mon=09:00-17:00,sun=closed,...". Days that are not
// listed are closed.
func ParseWeeklyHours(raw string) (WeeklyHours, error) {
	var w WeeklyHours
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		name, value, ok := strings.Cut(part, "=")
		if !ok {
			return w, fmt.Errorf("business hours: %q is not day=HH:MM-HH:MM", part)
		}
		key := strings.ToLower(strings.TrimSpace(name))
		if len(key) > 3 {
			key = key[:3]
		}
		day, ok := weekdayNames[key]
		if !ok {
			return w, fmt.Errorf("business hours: unknown weekday %q", name)
		}
		value = strings.ToLower(strings.TrimSpace(value))
		if value == "closed" {
			w[day] = DayHours{}
			continue
		}
		openRaw, closeRaw, ok := strings.Cut(value, "-")
		if !ok {
			return w, fmt.Errorf("business hours: %q is not HH:MM-HH:MM", value)
		}
		open, err := parseClock(openRaw)
		if err != nil {
			return w, err
		}
		closing, err := parseClock(closeRaw)
		if err != nil {
			return w, err
		}
		if closing.minutes() <= open.minutes() {
			return w, fmt.Errorf("business hours: %s closes before it opens", name)
		}
		w[day] = DayHours{Open: open, Close: closing, IsOpen: true}
	}
	return w, nil
}

func parseClock(raw string) (Clock, error) {
	t, err := time.Parse("15:04", strings.TrimSpace(raw))
	if err != nil {
		return Clock{}, fmt.Errorf("business hours: bad time %q", raw)
	}
	return Clock{Hour: t.Hour(), Minute: t.Minute()}, nil
}

// Window returns the open interval for the calendar date of day in loc.
// ok is false when the business is closed that day.
func (w WeeklyHours) Window(day time.Time, loc *time.Location) (Interval, bool) {
	if loc == nil {
		loc = day.Location()
	}
	d := day.In(loc)
	h := w[d.Weekday()]
	if !h.IsOpen {
		return Interval{}, false
	}
	y, m, dd := d.Date()
	return Interval{
		Start: time.Date(y, m, dd, h.Open.Hour, h.Open.Minute, 0, 0, loc),
		End:   time.Date(y, m, dd, h.Close.Hour, h.Close.Minute, 0, 0, loc),
	}, true
}

// FitsWithin reports whether [start, end) lies inside the business hours of
// the day start falls on.
func FitsWithin(start, end time.Time, hours WeeklyHours, loc *time.Location) bool {
	win, ok := hours.Window(start, loc)
	if !ok {
		return false
	}
	return !start.Before(win.Start) && !end.After(win.End) && end.After(start)
}
