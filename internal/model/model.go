package model

import (
	"strings"
	"time"
)

// Status is the normalized lifecycle state of an event.
type Status string

const (
	StatusConfirmed Status = "confirmed"
	StatusTentative Status = "tentative"
	StatusCancelled Status = "cancelled"
	StatusUnknown   Status = "unknown"
)

// ParseStatus maps provider status strings (ICS STATUS, Google status) onto Status.
func ParseStatus(s string) Status {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "confirmed":
		return StatusConfirmed
	case "tentative":
		return StatusTentative
	case "cancelled", "canceled":
		return StatusCancelled
	default:
		return StatusUnknown
	}
}

// Response is the viewer's own RSVP on an event. The zero value means no
// attendee entry was found for the viewer.
type Response string

const (
	ResponseNone        Response = ""
	ResponseAccepted    Response = "accepted"
	ResponseDeclined    Response = "declined"
	ResponseTentative   Response = "tentative"
	ResponseNeedsAction Response = "needs_action"
)

// ParseResponse accepts both ICS PARTSTAT values and Google responseStatus values.
func ParseResponse(s string) Response {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "":
		return ResponseNone
	case "accepted":
		return ResponseAccepted
	case "declined":
		return ResponseDeclined
	case "tentative":
		return ResponseTentative
	default:
		// NEEDS-ACTION, needsAction, DELEGATED and anything unknown.
		return ResponseNeedsAction
	}
}

// Range is an inclusive [Start, End] time span.
type Range struct {
	Start time.Time
	End   time.Time
}

// Contains reports whether t lies within the range, both ends inclusive.
func (r Range) Contains(t time.Time) bool {
	return !t.Before(r.Start) && !t.After(r.End)
}

// NormalizedEvent is the canonical event every pipeline stage after the
// normalizer operates on.
type NormalizedEvent struct {
	SourceID string
	UID      string

	Summary     string
	Description string
	Location    string
	Status      Status

	// Start / End are in the viewer's display location.
	Start  time.Time
	End    time.Time
	AllDay bool
	// NoStart marks events whose source omitted the start; Start then equals End.
	NoStart bool

	CalendarName string

	// SeriesLocation is the zone the event was defined in. Recurrence
	// expansion happens here so wall-clock times survive DST changes.
	SeriesLocation *time.Location

	// RecurrenceID is set only on override instances.
	RecurrenceID *time.Time
	// RecurrenceRule is set only on unexpanded masters.
	RecurrenceRule string
	// ExDates are the master's exception dates. Generated occurrences keep
	// them so the filter chain can re-check exclusions.
	ExDates []ExDate

	Response  Response
	Generated bool

	// Seq is the fetch order within a run, used for stable tie-breaking.
	Seq int
}

// IsMaster reports whether ev is an unexpanded recurring definition.
func (ev NormalizedEvent) IsMaster() bool {
	return ev.RecurrenceRule != ""
}

// IsOverride reports whether ev replaces one occurrence of a series.
func (ev NormalizedEvent) IsOverride() bool {
	return ev.RecurrenceID != nil
}

// EffectiveEnd is End, or Start+24h when End is unset.
func (ev NormalizedEvent) EffectiveEnd() time.Time {
	if ev.End.IsZero() {
		return ev.Start.Add(24 * time.Hour)
	}
	return ev.End
}

// ExDate is one EXDATE value. DateOnly entries (VALUE=DATE) cancel the
// whole calendar day; the others cancel a single instant.
type ExDate struct {
	At       time.Time
	DateOnly bool
}

// ExcludedBy reports whether an occurrence starting at start is cancelled
// by one of exdates. Date-only exdates compare the calendar date in their
// own location.
func ExcludedBy(start time.Time, exdates []ExDate) bool {
	for _, ex := range exdates {
		if ex.DateOnly {
			if SameDay(start.In(ex.At.Location()), ex.At) {
				return true
			}
			continue
		}
		if ex.At.Equal(start) {
			return true
		}
	}
	return false
}

// SameDay reports whether a and b fall on the same calendar date as
// written (no zone conversion).
func SameDay(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}
