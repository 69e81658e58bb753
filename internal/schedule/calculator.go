package schedule

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Calculator converts user-chosen local day/time choices into absolute
// instants using the posting account owner's civil calendar convention,
// not the server's. The zone observes a seasonal offset shift, which
// time.Date resolves per target date.
type Calculator struct {
	loc *time.Location
}

func NewCalculator(timezone string) (*Calculator, error) {
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		return nil, fmt.Errorf("failed to load owner timezone %q: %w", timezone, err)
	}
	return &Calculator{loc: loc}, nil
}

// Location exposes the owner convention for rendering schedules back to
// the contact.
func (c *Calculator) Location() *time.Location {
	return c.loc
}

// At combines a calendar date (in the owner convention) with a wall-clock
// time and returns the absolute instant. Deterministic: depends only on
// its inputs and the zone rules for that date.
func (c *Calculator) At(year int, month time.Month, day, hour, minute int) time.Time {
	return time.Date(year, month, day, hour, minute, 0, 0, c.loc)
}

// DayChoice is one entry of the schedule-day selection list.
type DayChoice struct {
	Offset int
	Date   time.Time // midnight in the owner convention
	Label  string
}

// DayChoices returns the 8 offered days: today through +6, plus "in a
// week" at +7. now is interpreted in the owner convention.
func (c *Calculator) DayChoices(now time.Time) []DayChoice {
	local := now.In(c.loc)
	today := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, c.loc)

	choices := make([]DayChoice, 0, 8)
	for offset := 0; offset <= 7; offset++ {
		date := today.AddDate(0, 0, offset)
		var label string
		switch offset {
		case 0:
			label = "Today"
		case 1:
			label = "Tomorrow"
		case 7:
			label = "In a week"
		default:
			label = date.Format("Monday, Jan 2")
		}
		choices = append(choices, DayChoice{Offset: offset, Date: date, Label: label})
	}
	return choices
}

// DateForOffset returns the calendar date offset days from now in the
// owner convention.
func (c *Calculator) DateForOffset(now time.Time, offset int) time.Time {
	local := now.In(c.loc)
	return time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, c.loc).AddDate(0, 0, offset)
}

// ParseClock parses a user-typed time of day. Accepted shapes: "7", "07",
// "7:30", "07:30", "730", "0730", "7.30". Returns an error for anything
// else or for out-of-range hour/minute.
func ParseClock(s string) (hour, minute int, err error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, 0, fmt.Errorf("empty time")
	}

	normalized := strings.ReplaceAll(s, ".", ":")
	var hh, mm string
	if idx := strings.Index(normalized, ":"); idx >= 0 {
		hh, mm = normalized[:idx], normalized[idx+1:]
		if len(mm) != 2 {
			return 0, 0, fmt.Errorf("invalid minutes %q", mm)
		}
	} else {
		switch len(normalized) {
		case 1, 2:
			hh, mm = normalized, "00"
		case 3:
			hh, mm = normalized[:1], normalized[1:]
		case 4:
			hh, mm = normalized[:2], normalized[2:]
		default:
			return 0, 0, fmt.Errorf("unrecognized time %q", s)
		}
	}

	hour, err = strconv.Atoi(hh)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid hour %q", hh)
	}
	minute, err = strconv.Atoi(mm)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid minutes %q", mm)
	}
	if hour < 0 || hour > 23 {
		return 0, 0, fmt.Errorf("hour %d out of range", hour)
	}
	if minute < 0 || minute > 59 {
		return 0, 0, fmt.Errorf("minute %d out of range", minute)
	}
	return hour, minute, nil
}

// ParseDate parses the stored 2006-01-02 calendar date back into its
// components.
func ParseDate(s string) (year int, month time.Month, day int, err error) {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return 0, 0, 0, fmt.Errorf("invalid stored date %q: %w", s, err)
	}
	return t.Year(), t.Month(), t.Day(), nil
}

// FormatDate renders a calendar date for storage in state data.
func FormatDate(t time.Time) string {
	return t.Format("2006-01-02")
}
