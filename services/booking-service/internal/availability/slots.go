package availability

import (
	"iter"
	"time"

	"github.com/md-rashed-zaman/bookingsync/services/booking-service/internal/model"
)

type Interval struct {
	Start time.Time
	End   time.Time
}

// Overlaps treats both intervals as half-open, so [9:00,9:30) and [9:30,10:00)
// do not overlap.
func Overlaps(a, b Interval) bool {
	return a.Start.Before(b.End) && a.End.After(b.Start)
}

type TimeSlot struct {
	Start     time.Time
	End       time.Time
	Available bool
}

// Slots enumerates candidate starts on day (in day's location) from opening
// to closing every granularity, dropping candidates that would end after
// closing. A slot is available when it starts no earlier than now and
// overlaps neither a confirmed local appointment nor a remote busy interval.
//
// The sequence is lazy and can be ranged over repeatedly; each pass
// recomputes from the same inputs.
func Slots(day time.Time, duration time.Duration, local []model.Appointment, remote []Interval, hours WeeklyHours, granularity time.Duration, now time.Time) iter.Seq[TimeSlot] {
	return func(yield func(TimeSlot) bool) {
		if duration <= 0 || granularity <= 0 {
			return
		}
		win, open := hours.Window(day, day.Location())
		if !open {
			return
		}

		busy := make([]Interval, 0, len(local)+len(remote))
		for _, a := range local {
			if a.Blocks() {
				busy = append(busy, Interval{Start: a.StartTime, End: a.EndTime})
			}
		}
		busy = append(busy, remote...)

		for start := win.Start; !start.Add(duration).After(win.End); start = start.Add(granularity) {
			slot := Interval{Start: start, End: start.Add(duration)}
			ok := !start.Before(now) && !overlapsAny(slot, busy)
			if !yield(TimeSlot{Start: slot.Start, End: slot.End, Available: ok}) {
				return
			}
		}
	}
}

// Until marks every slot of seq that starts after limit as unavailable.
func Until(seq iter.Seq[TimeSlot], limit time.Time) iter.Seq[TimeSlot] {
	return func(yield func(TimeSlot) bool) {
		for slot := range seq {
			if slot.Start.After(limit) {
				slot.Available = false
			}
			if !yield(slot) {
				return
			}
		}
	}
}

func overlapsAny(slot Interval, busy []Interval) bool {
	for _, b := range busy {
		if Overlaps(slot, b) {
			return true
		}
	}
	return false
}
