// Package reminder holds the reminder kinds, their fire records, and the
// weekly meeting arithmetic the scheduler evaluates on every tick.
package reminder

import (
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// Type names a reminder kind.
type Type string

const (
	// Void is the initial value of the reminder signal and never fires.
	Void Type = "Void"
	// OneHour fires during the hour before the meeting.
	OneHour Type = "OneHour"
)

// Lead returns how long before the meeting the reminder fires. Kinds that
// never fire report false.
func (t Type) Lead() (time.Duration, bool) {
	switch t {
	case OneHour:
		return time.Hour, true
	default:
		return 0, false
	}
}

// Record tracks when a reminder kind last fired.
type Record struct {
	Type     Type
	LastFire time.Time
}

// DefaultRecords seeds one record per firing kind with lastFire set to now.
// Seeding with now suppresses a fire if the process starts inside a window.
func DefaultRecords(now time.Time) []Record {
	return []Record{{Type: OneHour, LastFire: now}}
}

// Window is the half-open interval [Start, End).
type Window struct {
	Start time.Time
	End   time.Time
}

// RemindWindow is the lead-long window ending at meeting.
func RemindWindow(meeting time.Time, lead time.Duration) Window {
	return Window{Start: meeting.Add(-lead), End: meeting}
}

// Contains reports whether t falls inside the window.
func (w Window) Contains(t time.Time) bool {
	return !t.Before(w.Start) && t.Before(w.End)
}

// Anchor is the weekly meeting slot.
type Anchor struct {
	Weekday  time.Weekday
	Hour     int
	Minute   int
	Location *time.Location
}

// DefaultAnchor is Thursday 12:15 local time.
func DefaultAnchor() Anchor {
	return Anchor{Weekday: time.Thursday, Hour: 12, Minute: 15, Location: time.Local}
}

var anchorParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// Schedule compiles the anchor into a cron schedule.
func (a Anchor) Schedule() (cron.Schedule, error) {
	if a.Hour < 0 || a.Hour > 23 || a.Minute < 0 || a.Minute > 59 {
		return nil, fmt.Errorf("invalid meeting time %02d:%02d", a.Hour, a.Minute)
	}
	if a.Weekday < time.Sunday || a.Weekday > time.Saturday {
		return nil, fmt.Errorf("invalid meeting weekday %d", a.Weekday)
	}
	return anchorParser.Parse(fmt.Sprintf("%d %d * * %d", a.Minute, a.Hour, int(a.Weekday)))
}

// NextMeeting returns the earliest meeting instant strictly after now,
// expressed in the anchor's location. When now is exactly at the meeting
// time the result is one week later.
func (a Anchor) NextMeeting(now time.Time) (time.Time, error) {
	schedule, err := a.Schedule()
	if err != nil {
		return time.Time{}, err
	}
	loc := a.Location
	if loc == nil {
		loc = time.Local
	}
	// The parsed schedule evaluates in the location of its argument.
	next := schedule.Next(now.In(loc))
	if next.IsZero() {
		return time.Time{}, fmt.Errorf("no meeting after %s", now.Format(time.RFC3339))
	}
	return next, nil
}

func (a Anchor) String() string {
	loc := "Local"
	if a.Location != nil {
		loc = a.Location.String()
	}
	return fmt.Sprintf("%s %02d:%02d %s", a.Weekday, a.Hour, a.Minute, loc)
}

// ParseAnchor builds an Anchor from a weekday name ("thursday", "thu") and an
// "HH:MM" clock. An empty zone means the local zone.
func ParseAnchor(weekday, clock, zone string) (Anchor, error) {
	wd, err := ParseWeekday(weekday)
	if err != nil {
		return Anchor{}, err
	}
	t, err := time.Parse("15:04", strings.TrimSpace(clock))
	if err != nil {
		return Anchor{}, fmt.Errorf("invalid meeting time %q: want HH:MM", clock)
	}
	loc := time.Local
	if zone = strings.TrimSpace(zone); zone != "" {
		loc, err = time.LoadLocation(zone)
		if err != nil {
			return Anchor{}, fmt.Errorf("invalid meeting timezone %q: %w", zone, err)
		}
	}
	return Anchor{Weekday: wd, Hour: t.Hour(), Minute: t.Minute(), Location: loc}, nil
}

// ParseWeekday accepts full or three-letter English weekday names.
func ParseWeekday(s string) (time.Weekday, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for d := time.Sunday; d <= time.Saturday; d++ {
		name := strings.ToLower(d.String())
		if s == name || s == name[:3] {
			return d, nil
		}
	}
	return 0, fmt.Errorf("invalid weekday %q", s)
}
