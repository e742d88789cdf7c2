// Package recurrence expands recurring masters into concrete occurrences
// and applies RECURRENCE-ID overrides and EXDATE exclusions.
package recurrence

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/teambition/rrule-go"

	appLog "calagg/internal/log"
	"calagg/internal/model"
)

const (
	defaultMaxOccurrencesPerEvent = 5000
)

// Expander computes occurrence start instants of a master within
// [start, end], both inclusive.
type Expander interface {
	OccurrencesBetween(master model.NormalizedEvent, start, end time.Time) ([]time.Time, error)
}

// RRuleExpander is the Expander backed by rrule-go.
type RRuleExpander struct{}

func (RRuleExpander) OccurrencesBetween(master model.NormalizedEvent, start, end time.Time) ([]time.Time, error) {
	loc := master.Start.Location()

	// Floating UNTIL values are read in the series location.
	opt, err := rrule.StrToROptionInLocation(cleanRule(master.RecurrenceRule), loc)
	if err != nil {
		return nil, fmt.Errorf("parse RRULE %q: %w", master.RecurrenceRule, err)
	}
	opt.Dtstart = master.Start
	r, err := rrule.NewRRule(*opt)
	if err != nil {
		return nil, fmt.Errorf("build RRULE %q: %w", master.RecurrenceRule, err)
	}

	var set rrule.Set
	set.RRule(r)
	return set.Between(start.In(loc), end.In(loc), true), nil
}

// cleanRule strips the RRULE: prefix and vendor X- parts rrule-go rejects.
func cleanRule(rule string) string {
	rule = strings.TrimSpace(rule)
	rule = strings.TrimPrefix(rule, "RRULE:")
	parts := strings.Split(rule, ";")
	kept := parts[:0]
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" || strings.HasPrefix(strings.ToUpper(p), "X-") {
			continue
		}
		kept = append(kept, p)
	}
	return strings.Join(kept, ";")
}

// subDaily reports whether rule repeats more than once a day.
func subDaily(rule string) bool {
	for _, p := range strings.Split(cleanRule(rule), ";") {
		k, v, ok := strings.Cut(p, "=")
		if ok && strings.EqualFold(k, "FREQ") {
			switch strings.ToUpper(v) {
			case "HOURLY", "MINUTELY", "SECONDLY":
				return true
			}
		}
	}
	return false
}

// Materializer turns masters into occurrences displayed in Location.
type Materializer struct {
	Expander Expander
	// Location is the viewer's display zone.
	Location *time.Location
	// MaxOccurrencesPerEvent is a safety cap against runaway rules. If zero,
	// defaultMaxOccurrencesPerEvent is used.
	MaxOccurrencesPerEvent int
}

// New returns a Materializer using rrule-go.
func New(loc *time.Location) *Materializer {
	return &Materializer{Expander: RRuleExpander{}, Location: loc}
}

type overrideKey struct {
	sourceID string
	uid      string
	instant  int64
}

func keyOf(sourceID, uid string, t time.Time) overrideKey {
	return overrideKey{sourceID: sourceID, uid: uid, instant: t.UnixNano()}
}

// Overrides indexes RECURRENCE-ID instances for one run and tracks which
// were consumed by a generated occurrence.
type Overrides struct {
	byKey map[overrideKey]int
	evs   []model.NormalizedEvent
	used  []bool
}

// NewOverrides indexes the override events among evs. Later duplicates of
// the same key replace earlier ones.
func NewOverrides(evs []model.NormalizedEvent) *Overrides {
	o := &Overrides{byKey: make(map[overrideKey]int)}
	for _, ev := range evs {
		if !ev.IsOverride() {
			continue
		}
		k := keyOf(ev.SourceID, ev.UID, *ev.RecurrenceID)
		if i, ok := o.byKey[k]; ok {
			o.evs[i] = ev
			continue
		}
		o.byKey[k] = len(o.evs)
		o.evs = append(o.evs, ev)
		o.used = append(o.used, false)
	}
	return o
}

func (o *Overrides) take(sourceID, uid string, start time.Time) (model.NormalizedEvent, bool) {
	if o == nil {
		return model.NormalizedEvent{}, false
	}
	i, ok := o.byKey[keyOf(sourceID, uid, start)]
	if !ok {
		return model.NormalizedEvent{}, false
	}
	o.used[i] = true
	return o.evs[i], true
}

func (o *Overrides) consumed(ev model.NormalizedEvent) bool {
	if o == nil || !ev.IsOverride() {
		return false
	}
	i, ok := o.byKey[keyOf(ev.SourceID, ev.UID, *ev.RecurrenceID)]
	return ok && o.used[i]
}

// Materialize expands master within rng. Occurrences whose start matches
// an override are replaced by that override verbatim; occurrences on an
// EXDATE are skipped. A rule the expander rejects yields no occurrences.
func (m *Materializer) Materialize(master model.NormalizedEvent, rng model.Range, overrides *Overrides) []model.NormalizedEvent {
	if !master.IsMaster() {
		return []model.NormalizedEvent{master}
	}
	viewer := m.Location
	if viewer == nil {
		viewer = time.UTC
	}
	capN := m.MaxOccurrencesPerEvent
	if capN <= 0 {
		capN = defaultMaxOccurrencesPerEvent
	}

	seriesLoc := master.SeriesLocation
	if seriesLoc == nil {
		seriesLoc = viewer
	}
	start := master.Start.In(seriesLoc)
	end := master.EffectiveEnd().In(seriesLoc)
	if master.AllDay {
		// Date-only masters expand on viewer-local midnights.
		seriesLoc = viewer
		start = midnight(master.Start.In(viewer))
		end = start.Add(dayCeil(master.EffectiveEnd().Sub(master.Start)))
	}
	dur := end.Sub(start)
	endDayOffset := daysBetween(start, end)

	anchored := master
	anchored.Start = start
	anchored.End = end

	// Widen the query so occurrences straddling rng.Start are found.
	times, err := m.Expander.OccurrencesBetween(anchored, rng.Start.Add(-dur), rng.End)
	if err != nil {
		appLog.Error("expand: failed to expand RRULE", err, "uid", master.UID, "rrule", master.RecurrenceRule)
		return nil
	}
	if len(times) > capN {
		appLog.Error("expand: truncated occurrences for UID due to cap",
			errors.New("max occurrences reached"),
			"uid", master.UID,
			"cap", capN,
		)
		times = times[:capN]
	}

	intraday := subDaily(master.RecurrenceRule)

	out := make([]model.NormalizedEvent, 0, len(times))
	for _, t := range times {
		var occStart, occEnd time.Time
		if intraday {
			// Several occurrences share a date; keep the primitive's instant.
			occStart = t.In(seriesLoc)
			occEnd = occStart.Add(dur)
		} else {
			// The primitive is trusted for the date only; the master's wall
			// clock is re-applied in the series location.
			y, mo, d := t.In(seriesLoc).Date()
			occStart = time.Date(y, mo, d, start.Hour(), start.Minute(), start.Second(), 0, seriesLoc)
			occEnd = time.Date(y, mo, d+endDayOffset, end.Hour(), end.Minute(), end.Second(), 0, seriesLoc)
		}
		occStart = occStart.In(viewer)
		occEnd = occEnd.In(viewer)

		if ov, ok := overrides.take(master.SourceID, master.UID, occStart); ok {
			out = append(out, ov)
			continue
		}
		if model.ExcludedBy(occStart, master.ExDates) {
			continue
		}

		occ := master
		occ.Start = occStart
		occ.End = occEnd
		occ.RecurrenceRule = ""
		occ.RecurrenceID = nil
		occ.Generated = true
		out = append(out, occ)
	}
	return out
}

// Expand materializes every master in evs over rng. Singles pass through
// untouched, and overrides not consumed by any occurrence (moved in from
// outside the range, or orphaned) are kept as standalone events. The input
// order is preserved, with occurrences in place of their master.
func (m *Materializer) Expand(evs []model.NormalizedEvent, rng model.Range) []model.NormalizedEvent {
	overrides := NewOverrides(evs)

	expanded := make([][]model.NormalizedEvent, len(evs))
	for i, ev := range evs {
		if ev.IsMaster() && !ev.IsOverride() {
			expanded[i] = m.Materialize(ev, rng, overrides)
		}
	}

	out := make([]model.NormalizedEvent, 0, len(evs))
	for i, ev := range evs {
		switch {
		case ev.IsMaster() && !ev.IsOverride():
			out = append(out, expanded[i]...)
		case ev.IsOverride():
			if overrides.consumed(ev) {
				continue
			}
			ev.RecurrenceRule = ""
			out = append(out, ev)
		default:
			out = append(out, ev)
		}
	}
	return out
}

func midnight(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// dayCeil rounds a duration up to whole days, minimum one.
func dayCeil(d time.Duration) time.Duration {
	days := (d + 24*time.Hour - 1) / (24 * time.Hour)
	if days < 1 {
		days = 1
	}
	return days * 24 * time.Hour
}

// daysBetween counts calendar days from a's date to b's date.
func daysBetween(a, b time.Time) int {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	da := time.Date(ay, am, ad, 0, 0, 0, 0, time.UTC)
	db := time.Date(by, bm, bd, 0, 0, 0, 0, time.UTC)
	return int(db.Sub(da) / (24 * time.Hour))
}
