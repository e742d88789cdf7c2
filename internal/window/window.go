// Package window decides, per layout mode, which slice of time a run covers
// and turns the surviving events into sorted and optionally day-grouped
// output.
package window

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"calagg/internal/model"
)

// Mode is a layout mode.
type Mode string

const (
	ModeDefault      Mode = "default"
	ModeTodayOnly    Mode = "today_only"
	ModeWeek         Mode = "week"
	ModeMonth        Mode = "month"
	ModeRollingMonth Mode = "rolling_month"
	ModeSchedule     Mode = "schedule"
)

// Modes lists every supported layout mode.
var Modes = []Mode{ModeDefault, ModeTodayOnly, ModeWeek, ModeMonth, ModeRollingMonth, ModeSchedule}

// ParseMode accepts a mode name, case-insensitively. Empty means default.
func ParseMode(s string) (Mode, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return ModeDefault, nil
	}
	for _, m := range Modes {
		if string(m) == s {
			return m, nil
		}
	}
	return "", fmt.Errorf("unknown layout %q", s)
}

// anchors are the reference instants every layout row is expressed in.
type anchors struct {
	now        time.Time
	today      time.Time // midnight
	endOfToday time.Time // last nanosecond of today
	weekStart  time.Time
	monthStart time.Time
}

type layout struct {
	displayStart func(a anchors) time.Time
	displayEnd   func(a anchors) time.Time
	expandStart  func(a anchors) time.Time
	expandEnd    func(a anchors) time.Time
	// cutoffAtExpansion uses the expansion start as the cutoff instead of
	// today/now.
	cutoffAtExpansion bool
	grouped           bool
}

func daysAfterToday(n int) func(anchors) time.Time {
	return func(a anchors) time.Time { return a.endOfToday.AddDate(0, 0, n) }
}

func daysBeforeToday(n int) func(anchors) time.Time {
	return func(a anchors) time.Time { return a.today.AddDate(0, 0, -n) }
}

func today(a anchors) time.Time { return a.today }

var layouts = map[Mode]layout{
	ModeDefault: {
		displayStart: today,
		displayEnd:   daysAfterToday(7),
		expandStart:  today,
		expandEnd:    daysAfterToday(7),
		grouped:      true,
	},
	ModeTodayOnly: {
		displayStart: today,
		displayEnd:   daysAfterToday(0),
		expandStart:  today,
		expandEnd:    daysAfterToday(2),
		grouped:      true,
	},
	ModeWeek: {
		displayStart: daysBeforeToday(7),
		displayEnd:   daysAfterToday(7),
		expandStart:  daysBeforeToday(7),
		expandEnd:    daysAfterToday(7),
		grouped:      true,
	},
	ModeMonth: {
		displayStart:      daysBeforeToday(30),
		displayEnd:        daysAfterToday(30),
		expandStart:       func(a anchors) time.Time { return a.monthStart },
		expandEnd:         daysAfterToday(30),
		cutoffAtExpansion: true,
		grouped:           true,
	},
	ModeRollingMonth: {
		displayStart:      func(a anchors) time.Time { return a.weekStart },
		displayEnd:        daysAfterToday(30),
		expandStart:       func(a anchors) time.Time { return a.weekStart },
		expandEnd:         daysAfterToday(30),
		cutoffAtExpansion: true,
		grouped:           true,
	},
	ModeSchedule: {
		displayStart: today,
		displayEnd:   daysAfterToday(14),
		expandStart:  today,
		expandEnd:    daysAfterToday(14),
	},
}

// Params are the run inputs a layout is evaluated against.
type Params struct {
	Now         time.Time
	Location    *time.Location
	WeekStart   time.Weekday
	IncludePast bool
}

// Bounds is the evaluated layout row for one run.
type Bounds struct {
	Mode Mode
	// Window is what the viewer sees; admission is checked against it.
	Window model.Range
	// Expansion is the range recurring masters are materialized over.
	Expansion model.Range
	// Cutoff hides events that ended strictly before it. With past events
	// off it is now, while the window still starts at midnight.
	Cutoff  time.Time
	Grouped bool
}

// Compute evaluates mode for p.
func Compute(mode Mode, p Params) (Bounds, error) {
	l, ok := layouts[mode]
	if !ok {
		return Bounds{}, fmt.Errorf("unknown layout %q", mode)
	}
	loc := p.Location
	if loc == nil {
		loc = time.UTC
	}
	a := anchorsAt(p.Now.In(loc), p.WeekStart)

	b := Bounds{
		Mode:      mode,
		Window:    model.Range{Start: l.displayStart(a), End: l.displayEnd(a)},
		Expansion: model.Range{Start: l.expandStart(a), End: l.expandEnd(a)},
		Grouped:   l.grouped,
	}
	switch {
	case l.cutoffAtExpansion:
		b.Cutoff = b.Expansion.Start
	case p.IncludePast:
		b.Cutoff = a.today
	default:
		b.Cutoff = a.now
	}
	return b, nil
}

func anchorsAt(now time.Time, weekStart time.Weekday) anchors {
	y, m, d := now.Date()
	loc := now.Location()
	a := anchors{
		now:        now,
		today:      time.Date(y, m, d, 0, 0, 0, 0, loc),
		endOfToday: time.Date(y, m, d, 23, 59, 59, int(time.Second-time.Nanosecond), loc),
		monthStart: time.Date(y, m, 1, 0, 0, 0, 0, loc),
	}
	back := (int(now.Weekday()) - int(weekStart) + 7) % 7
	a.weekStart = a.today.AddDate(0, 0, -back)
	return a
}

// ParseWeekStart accepts "monday" or "sunday" (or their abbreviations).
// Empty means Monday.
func ParseWeekStart(s string) (time.Weekday, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "monday", "mon":
		return time.Monday, nil
	case "sunday", "sun":
		return time.Sunday, nil
	default:
		return time.Monday, fmt.Errorf("unknown week start %q", s)
	}
}

// Admit reports whether ev belongs in w: its start lies within w, or it is
// a timed event whose end lies within w. Both bounds are inclusive.
func Admit(ev model.NormalizedEvent, w model.Range) bool {
	if w.Contains(ev.Start) {
		return true
	}
	return !ev.AllDay && w.Contains(ev.EffectiveEnd())
}

// AdmitAll keeps the events Admit accepts, in order.
func AdmitAll(evs []model.NormalizedEvent, w model.Range) []model.NormalizedEvent {
	out := make([]model.NormalizedEvent, 0, len(evs))
	for _, ev := range evs {
		if Admit(ev, w) {
			out = append(out, ev)
		}
	}
	return out
}

// Sort orders evs by start instant in place. Ties keep fetch order.
func Sort(evs []model.NormalizedEvent) {
	sort.SliceStable(evs, func(i, j int) bool {
		if !evs[i].Start.Equal(evs[j].Start) {
			return evs[i].Start.Before(evs[j].Start)
		}
		return evs[i].Seq < evs[j].Seq
	})
}

// Group is the events of one calendar day.
type Group struct {
	// Day is the label, formatted with the configured day layout.
	Day    string
	Date   time.Time
	Events []model.NormalizedEvent
}

// DefaultDayFormat renders "June 03".
const DefaultDayFormat = "January 02"

// GroupByDay buckets sorted events by their start date in loc. Groups and
// the events within them keep input order.
func GroupByDay(evs []model.NormalizedEvent, loc *time.Location, dayFormat string) []Group {
	if loc == nil {
		loc = time.UTC
	}
	if dayFormat == "" {
		dayFormat = DefaultDayFormat
	}
	var groups []Group
	index := make(map[string]int)
	for _, ev := range evs {
		y, m, d := ev.Start.In(loc).Date()
		date := time.Date(y, m, d, 0, 0, 0, 0, loc)
		key := date.Format(time.DateOnly)
		i, ok := index[key]
		if !ok {
			i = len(groups)
			index[key] = i
			groups = append(groups, Group{Day: date.Format(dayFormat), Date: date})
		}
		groups[i].Events = append(groups[i].Events, ev)
	}
	return groups
}

// ShouldGroup resolves the group_by_day setting ("auto", "yes", "no")
// against the layout's default.
func ShouldGroup(setting string, b Bounds) bool {
	switch strings.ToLower(strings.TrimSpace(setting)) {
	case "yes", "true":
		return true
	case "no", "false":
		return false
	default:
		return b.Grouped
	}
}
