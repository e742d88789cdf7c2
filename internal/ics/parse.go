package ics

import (
	"bytes"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"

	appLog "calagg/internal/log"
)

// Time is an ICS date or date-time value together with the information the
// normalizer needs to place it in the viewer's timezone.
type Time struct {
	time.Time
	// DateOnly is set for VALUE=DATE values (no time-of-day).
	DateOnly bool
	// Floating is set for values without TZID or UTC marker; the wall clock
	// must be re-anchored in the viewer's location. Date-only values are
	// always floating.
	Floating bool
}

// Attendee is one ATTENDEE line of a VEVENT.
type Attendee struct {
	Email    string
	PartStat string
}

// ParsedEvent is a VEVENT as read from the document: times keep their
// source zone and recurrence data is left unexpanded.
type ParsedEvent struct {
	Source Source

	UID string
	Seq int

	Summary     string
	Description string
	Location    string
	Status      string

	// CalendarName is the document's X-WR-CALNAME, if any.
	CalendarName string

	Start *Time
	End   *Time

	RawRRule   string
	ExDates    []Time
	Recurrence *Time // RECURRENCE-ID (if present)
	IsOverride bool  // true if this VEVENT is an override for a recurring instance

	Attendees []Attendee
}

// ParseICS parses a single ICS payload into a list of ParsedEvent.
//
//   - DTSTART/DTEND/EXDATE/RECURRENCE-ID honour TZID and the UTC marker;
//     values with neither are flagged floating.
//   - All-day is not decided here; date-only values are flagged and the
//     normalizer applies the all-day rules.
//   - VEVENTs without a UID are kept with a synthetic one so overrides of
//     other series are unaffected; only an unparsable document is an error.
func ParseICS(src Source, body []byte) ([]ParsedEvent, error) {
	if len(bytes.TrimSpace(body)) == 0 {
		return nil, errors.New("empty ICS body")
	}

	// Some producers put stray properties between components; accept them.
	cal, err := ical.ParseCalendarWithOptions(bytes.NewReader(body),
		ical.WithUnknownPropertyHandler(ical.AcceptUnknownPropertyHandler))
	if err != nil {
		appLog.Error("ics parse failed", err, "id", src.ID, "url", redactURL(src.URL))
		return nil, fmt.Errorf("parse calendar: %w", err)
	}

	calName := ""
	for _, p := range cal.CalendarProperties {
		if strings.EqualFold(p.IANAToken, "X-WR-CALNAME") {
			calName = strings.TrimSpace(p.Value)
			break
		}
	}

	vevents := cal.Events()
	events := make([]ParsedEvent, 0, len(vevents))

	for i, comp := range vevents {
		ev, perr := parseVEvent(src, comp)
		if perr != nil {
			// Log and skip this event, but keep parsing others.
			appLog.Error("ics vevent parse failed", perr, "id", src.ID, "url", redactURL(src.URL))
			continue
		}
		if ev.UID == "" {
			ev.UID = fmt.Sprintf("%s-anon-%d", src.ID, i)
		}
		ev.CalendarName = calName
		events = append(events, ev)
	}

	appLog.Debug("ics parse completed", "id", src.ID, "url", redactURL(src.URL), "event_count", len(events))
	return events, nil
}

func parseVEvent(src Source, ve *ical.VEvent) (ParsedEvent, error) {
	var out ParsedEvent
	out.Source = src

	if p := ve.GetProperty(ical.ComponentPropertyUniqueId); p != nil {
		out.UID = strings.TrimSpace(p.Value)
	}

	// SEQUENCE (optional, used for overrides/versioning)
	if seqProp := ve.GetProperty(ical.ComponentPropertySequence); seqProp != nil {
		if n, err := strconv.Atoi(strings.TrimSpace(seqProp.Value)); err == nil {
			out.Seq = n
		}
	}

	if p := ve.GetProperty(ical.ComponentPropertySummary); p != nil {
		out.Summary = p.Value
	}
	if p := ve.GetProperty(ical.ComponentPropertyDescription); p != nil {
		out.Description = p.Value
	}
	if p := ve.GetProperty(ical.ComponentPropertyLocation); p != nil {
		out.Location = p.Value
	}
	if p := ve.GetProperty(ical.ComponentPropertyStatus); p != nil {
		out.Status = strings.TrimSpace(p.Value)
	}

	if p := ve.GetProperty(ical.ComponentPropertyDtStart); p != nil && strings.TrimSpace(p.Value) != "" {
		t, err := parsePropTime(p.Value, p.ICalParameters)
		if err != nil {
			return out, fmt.Errorf("DTSTART: %w", err)
		}
		out.Start = &t
	}
	if p := ve.GetProperty(ical.ComponentPropertyDtEnd); p != nil && strings.TrimSpace(p.Value) != "" {
		t, err := parsePropTime(p.Value, p.ICalParameters)
		if err != nil {
			return out, fmt.Errorf("DTEND: %w", err)
		}
		out.End = &t
	}
	if out.End == nil && out.Start != nil {
		if p := ve.GetProperty(ical.ComponentPropertyDuration); p != nil {
			if d, err := parseDuration(p.Value); err == nil {
				end := *out.Start
				end.Time = end.Time.Add(d)
				out.End = &end
			}
		}
	}

	// RRULE (we only keep raw string here; expansion happens in internal/recurrence).
	if rruleProp := ve.GetProperty(ical.ComponentPropertyRrule); rruleProp != nil {
		out.RawRRule = strings.TrimSpace(rruleProp.Value)
	}

	// EXDATE (can appear multiple times, each possibly comma-separated)
	for _, p := range ve.GetProperties(ical.ComponentPropertyExdate) {
		for _, part := range strings.Split(p.Value, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			if t, err := parsePropTime(part, p.ICalParameters); err == nil {
				out.ExDates = append(out.ExDates, t)
			}
		}
	}

	// RECURRENCE-ID (overridden instance)
	if ridProp := ve.GetProperty(ical.ComponentPropertyRecurrenceId); ridProp != nil {
		if t, err := parsePropTime(ridProp.Value, ridProp.ICalParameters); err == nil {
			out.Recurrence = &t
			out.IsOverride = true
		}
	}

	for _, p := range ve.GetProperties(ical.ComponentPropertyAttendee) {
		a := Attendee{Email: normalizeEmail(p.Value)}
		if vs, ok := p.ICalParameters["PARTSTAT"]; ok && len(vs) > 0 {
			a.PartStat = vs[0]
		}
		out.Attendees = append(out.Attendees, a)
	}

	return out, nil
}

// parsePropTime parses a DATE or DATE-TIME value using its TZID/VALUE params.
func parsePropTime(v string, params map[string][]string) (Time, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return Time{}, errors.New("empty time value")
	}

	dateOnly := false
	if vs, ok := params["VALUE"]; ok && len(vs) > 0 && strings.EqualFold(vs[0], "DATE") {
		dateOnly = true
	}
	if !strings.Contains(v, "T") {
		dateOnly = true
	}

	if dateOnly {
		t, err := time.ParseInLocation("20060102", v[:min(len(v), 8)], time.UTC)
		if err != nil {
			return Time{}, err
		}
		return Time{Time: t, DateOnly: true, Floating: true}, nil
	}

	// UTC form, e.g., 20250101T090000Z
	if strings.HasSuffix(v, "Z") {
		t, err := time.Parse("20060102T150405Z", v)
		if err != nil {
			return Time{}, err
		}
		return Time{Time: t}, nil
	}

	if tzs, ok := params["TZID"]; ok && len(tzs) > 0 {
		if loc := loadLocation(tzs[0]); loc != nil {
			t, err := time.ParseInLocation("20060102T150405", v, loc)
			if err != nil {
				return Time{}, err
			}
			return Time{Time: t}, nil
		}
	}

	// Floating local time: keep the wall clock, anchor later.
	t, err := time.ParseInLocation("20060102T150405", v, time.UTC)
	if err != nil {
		return Time{}, err
	}
	return Time{Time: t, Floating: true}, nil
}

// loadLocation resolves a TZID. Unknown (e.g. Outlook "Customized Time Zone")
// zones return nil and the value is treated as floating.
func loadLocation(tzid string) *time.Location {
	tzid = strings.Trim(strings.TrimSpace(tzid), `"`)
	if tzid == "" {
		return nil
	}
	if loc, err := time.LoadLocation(tzid); err == nil {
		return loc
	}
	if name, ok := windowsZones[tzid]; ok {
		if loc, err := time.LoadLocation(name); err == nil {
			return loc
		}
	}
	return nil
}

// windowsZones maps the Windows zone names Outlook/Exchange emit most often.
var windowsZones = map[string]string{
	"Eastern Standard Time":          "America/New_York",
	"Central Standard Time":          "America/Chicago",
	"Mountain Standard Time":         "America/Denver",
	"Pacific Standard Time":          "America/Los_Angeles",
	"GMT Standard Time":              "Europe/London",
	"W. Europe Standard Time":        "Europe/Berlin",
	"Romance Standard Time":          "Europe/Paris",
	"Central Europe Standard Time":   "Europe/Budapest",
	"Central European Standard Time": "Europe/Warsaw",
	"Tokyo Standard Time":            "Asia/Tokyo",
	"Korea Standard Time":            "Asia/Seoul",
	"China Standard Time":            "Asia/Shanghai",
	"India Standard Time":            "Asia/Kolkata",
	"AUS Eastern Standard Time":      "Australia/Sydney",
	"UTC":                            "UTC",
}

// parseDuration handles the RFC 5545 dur-value subset calendars emit
// (e.g. PT1H30M, P1D, P1W).
func parseDuration(v string) (time.Duration, error) {
	v = strings.TrimSpace(v)
	neg := false
	switch {
	case strings.HasPrefix(v, "-"):
		neg = true
		v = v[1:]
	case strings.HasPrefix(v, "+"):
		v = v[1:]
	}
	if !strings.HasPrefix(v, "P") {
		return 0, fmt.Errorf("invalid duration %q", v)
	}
	v = v[1:]

	var d time.Duration
	inTime := false
	num := ""
	for _, r := range v {
		switch {
		case r >= '0' && r <= '9':
			num += string(r)
			continue
		case r == 'T':
			inTime = true
			continue
		}
		n, err := strconv.Atoi(num)
		if err != nil {
			return 0, fmt.Errorf("invalid duration %q", v)
		}
		num = ""
		switch {
		case r == 'W' && !inTime:
			d += time.Duration(n) * 7 * 24 * time.Hour
		case r == 'D' && !inTime:
			d += time.Duration(n) * 24 * time.Hour
		case r == 'H' && inTime:
			d += time.Duration(n) * time.Hour
		case r == 'M' && inTime:
			d += time.Duration(n) * time.Minute
		case r == 'S' && inTime:
			d += time.Duration(n) * time.Second
		default:
			return 0, fmt.Errorf("invalid duration %q", v)
		}
	}
	if num != "" {
		return 0, fmt.Errorf("invalid duration %q", v)
	}
	if neg {
		d = -d
	}
	return d, nil
}

func normalizeEmail(v string) string {
	v = strings.TrimSpace(v)
	if len(v) >= 7 && strings.EqualFold(v[:7], "mailto:") {
		v = v[7:]
	}
	return strings.ToLower(v)
}
