// Package normalize converts provider events into model.NormalizedEvent in
// the viewer's timezone.
package normalize

import (
	"strings"
	"time"

	"google.golang.org/api/calendar/v3"

	"calagg/internal/ics"
	appLog "calagg/internal/log"
	"calagg/internal/model"
	"calagg/internal/sanitize"
	"calagg/internal/source"
)

// DefaultSummary replaces empty titles; private events often omit them.
const DefaultSummary = "Busy"

// guaranteedSpan is the assumed length of an event without an end.
const guaranteedSpan = 24 * time.Hour

// Normalize converts raw into a NormalizedEvent displayed in loc. It returns
// false for events that carry neither a start nor an end.
func Normalize(raw source.RawEvent, loc *time.Location) (model.NormalizedEvent, bool) {
	if loc == nil {
		loc = time.UTC
	}
	switch {
	case raw.ICS != nil:
		return fromICS(raw, loc)
	case raw.Google != nil:
		return fromGoogle(raw, loc)
	default:
		return model.NormalizedEvent{}, false
	}
}

// All normalizes raws in order, dropping the ones Normalize rejects.
func All(raws []source.RawEvent, loc *time.Location) []model.NormalizedEvent {
	out := make([]model.NormalizedEvent, 0, len(raws))
	dropped := 0
	for _, raw := range raws {
		ev, ok := Normalize(raw, loc)
		if !ok {
			dropped++
			continue
		}
		out = append(out, ev)
	}
	if dropped > 0 {
		appLog.Debug("normalize dropped events without start or end", "count", dropped)
	}
	return out
}

func fromICS(raw source.RawEvent, loc *time.Location) (model.NormalizedEvent, bool) {
	p := raw.ICS
	if p.Start == nil && p.End == nil {
		return model.NormalizedEvent{}, false
	}

	ev := model.NormalizedEvent{
		SourceID:       raw.SourceID,
		UID:            p.UID,
		Summary:        summary(p.Summary),
		Description:    sanitize.FirstLine(p.Description),
		Location:       strings.TrimSpace(p.Location),
		Status:         model.ParseStatus(p.Status),
		CalendarName:   firstNonEmpty(raw.CalendarName, raw.SourceName),
		SeriesLocation: loc,
		RecurrenceRule: p.RawRRule,
		Response:       response(p.Attendees, raw.SelfEmail),
	}

	var hasEnd bool
	switch {
	case p.Start == nil:
		ev.End = resolve(*p.End, loc)
		ev.Start = ev.End
		ev.NoStart = true
		hasEnd = true
	default:
		ev.Start = resolve(*p.Start, loc)
		if !p.Start.Floating {
			ev.SeriesLocation = p.Start.Location()
		}
		if p.End != nil {
			ev.End = resolve(*p.End, loc)
			hasEnd = true
		} else {
			ev.End = ev.Start.Add(guaranteedSpan)
		}
	}

	switch {
	case p.Start != nil && p.Start.DateOnly:
		ev.AllDay = true
	case ev.RecurrenceRule == "" && hasEnd && !ev.NoStart:
		ev.AllDay = ev.End.Sub(ev.Start) >= guaranteedSpan
	}

	for _, ex := range p.ExDates {
		ev.ExDates = append(ev.ExDates, model.ExDate{At: resolve(ex, loc), DateOnly: ex.DateOnly})
	}
	if p.Recurrence != nil {
		rid := resolve(*p.Recurrence, loc)
		ev.RecurrenceID = &rid
	}
	return ev, true
}

// resolve places an ICS time in loc. Floating and date-only values keep
// their wall clock; zoned values are converted.
func resolve(t ics.Time, loc *time.Location) time.Time {
	if t.Floating {
		return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(), 0, loc)
	}
	return t.In(loc)
}

func fromGoogle(raw source.RawEvent, loc *time.Location) (model.NormalizedEvent, bool) {
	g := raw.Google
	start, startDateOnly, startOK := googleTime(g.Start, loc)
	end, _, endOK := googleTime(g.End, loc)
	if !startOK && !endOK {
		return model.NormalizedEvent{}, false
	}

	uid := g.ICalUID
	if uid == "" {
		uid = g.Id
	}

	ev := model.NormalizedEvent{
		SourceID:       raw.SourceID,
		UID:            uid,
		Summary:        summary(g.Summary),
		Description:    sanitize.PlainText(g.Description),
		Location:       strings.TrimSpace(g.Location),
		Status:         model.ParseStatus(g.Status),
		CalendarName:   raw.GoogleCalendarID,
		SeriesLocation: loc,
		Start:          start,
		End:            end,
	}
	if ev.CalendarName == "" {
		ev.CalendarName = raw.SourceName
	}

	for _, a := range g.Attendees {
		if a != nil && a.Self {
			if a.Email != "" {
				ev.CalendarName = a.Email
			}
			ev.Response = model.ParseResponse(a.ResponseStatus)
			break
		}
	}

	switch {
	case !startOK:
		ev.Start = ev.End
		ev.NoStart = true
	case !endOK:
		ev.End = ev.Start.Add(guaranteedSpan)
	}
	if startOK && g.Start.TimeZone != "" {
		if zone, err := time.LoadLocation(g.Start.TimeZone); err == nil {
			ev.SeriesLocation = zone
		}
	}

	ev.AllDay = startDateOnly || (startOK && endOK && ev.End.Sub(ev.Start) >= guaranteedSpan)
	return ev, true
}

// googleTime reads an EventDateTime. All-day values carry only Date.
func googleTime(dt *calendar.EventDateTime, loc *time.Location) (time.Time, bool, bool) {
	if dt == nil {
		return time.Time{}, false, false
	}
	if dt.DateTime != "" {
		t, err := time.Parse(time.RFC3339, dt.DateTime)
		if err != nil {
			appLog.Warn("google event time unparsable", "value", dt.DateTime, "err", err)
			return time.Time{}, false, false
		}
		return t.In(loc), false, true
	}
	if dt.Date != "" {
		t, err := time.ParseInLocation("2006-01-02", dt.Date, loc)
		if err != nil {
			appLog.Warn("google event date unparsable", "value", dt.Date, "err", err)
			return time.Time{}, false, false
		}
		return t, true, true
	}
	return time.Time{}, false, false
}

func summary(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return DefaultSummary
	}
	return s
}

// response finds the viewer's own attendee entry.
func response(attendees []ics.Attendee, self string) model.Response {
	self = strings.ToLower(strings.TrimSpace(self))
	if self == "" {
		return model.ResponseNone
	}
	for _, a := range attendees {
		if a.Email != self {
			continue
		}
		if a.PartStat == "" {
			// RFC 5545 default.
			return model.ResponseNeedsAction
		}
		return model.ParseResponse(a.PartStat)
	}
	return model.ResponseNone
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
