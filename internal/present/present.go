// Package present turns an aggregation result into the JSON payload
// consumed by calendar views.
package present

import (
	"time"

	"calagg/internal/aggregate"
	"calagg/internal/config"
	"calagg/internal/model"
	"calagg/internal/window"
)

const (
	defaultScrollTime    = "08:00:00"
	defaultScrollTimeEnd = "24:00:00"
	hourLayout           = "15:00:00"
)

// Options control how records are rendered.
type Options struct {
	// TimeFormat is "am/pm" or "24h".
	TimeFormat         string
	DayFormat          string
	IncludeDescription bool
	// ScrollTime / ScrollTimeEnd, when set, replace the computed hour range.
	ScrollTime    string
	ScrollTimeEnd string
}

// OptionsFromConfig copies the presentation settings out of cfg.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		TimeFormat:         cfg.TimeFormat,
		DayFormat:          cfg.DayFormat,
		IncludeDescription: cfg.IncludeDescription,
		ScrollTime:         cfg.ScrollTime,
		ScrollTimeEnd:      cfg.ScrollTimeEnd,
	}
}

func (o Options) timeLayout() string {
	if o.TimeFormat == "24h" {
		return "15:04"
	}
	return "3:04 PM"
}

func (o Options) dayLayout() string {
	if o.DayFormat == "" {
		return window.DefaultDayFormat
	}
	return o.DayFormat
}

// Record is one displayable event.
type Record struct {
	Summary     string `json:"summary"`
	Description string `json:"description,omitempty"`
	Location    string `json:"location,omitempty"`
	Status      string `json:"status"`
	// Start / End are formatted for display; all-day events show the date.
	Start        string `json:"start"`
	End          string `json:"end"`
	StartFull    string `json:"start_full"`
	EndFull      string `json:"end_full"`
	AllDay       bool   `json:"all_day"`
	CalendarName string `json:"calendar_name"`
	Day          string `json:"day"`
}

// DayGroup is one day of a grouped payload.
type DayGroup struct {
	Day    string   `json:"day"`
	Date   string   `json:"date"`
	Events []Record `json:"events"`
}

// Payload is the response body of one run. Exactly one of Events and
// Groups is populated, depending on the layout.
type Payload struct {
	RunID         string                    `json:"run_id"`
	GeneratedAt   string                    `json:"generated_at"`
	Layout        string                    `json:"layout"`
	Timezone      string                    `json:"timezone"`
	Today         string                    `json:"today"`
	FirstDay      int                       `json:"first_day"`
	WindowStart   string                    `json:"window_start"`
	WindowEnd     string                    `json:"window_end"`
	ScrollTime    string                    `json:"scroll_time"`
	ScrollTimeEnd string                    `json:"scroll_time_end"`
	Grouped       bool                      `json:"grouped"`
	Events        []Record                  `json:"events,omitempty"`
	Groups        []DayGroup                `json:"groups,omitempty"`
	Failures      []aggregate.SourceFailure `json:"failures,omitempty"`
}

// Build renders res.
func Build(res *aggregate.Result, opts Options) *Payload {
	loc := res.Location
	if loc == nil {
		loc = time.UTC
	}
	now := res.Now.In(loc)

	p := &Payload{
		RunID:       res.RunID,
		GeneratedAt: now.Format(time.RFC3339),
		Layout:      string(res.Bounds.Mode),
		Timezone:    loc.String(),
		Today:       now.Format(time.DateOnly),
		FirstDay:    int(res.WeekStart),
		WindowStart: res.Bounds.Window.Start.In(loc).Format(time.RFC3339),
		WindowEnd:   res.Bounds.Window.End.In(loc).Format(time.RFC3339),
		Grouped:     res.Grouped,
		Failures:    res.Failures,
	}
	p.ScrollTime, p.ScrollTimeEnd = scrollRange(res.Events, loc, opts)

	if res.Grouped {
		p.Groups = make([]DayGroup, 0, len(res.Groups))
		for _, g := range res.Groups {
			dg := DayGroup{Day: g.Day, Date: g.Date.Format(time.DateOnly), Events: make([]Record, 0, len(g.Events))}
			for _, ev := range g.Events {
				dg.Events = append(dg.Events, record(ev, loc, opts))
			}
			p.Groups = append(p.Groups, dg)
		}
		return p
	}
	p.Events = make([]Record, 0, len(res.Events))
	for _, ev := range res.Events {
		p.Events = append(p.Events, record(ev, loc, opts))
	}
	return p
}

func record(ev model.NormalizedEvent, loc *time.Location, opts Options) Record {
	start := ev.Start.In(loc)
	end := ev.EffectiveEnd().In(loc)
	r := Record{
		Summary:      ev.Summary,
		Location:     ev.Location,
		Status:       string(ev.Status),
		StartFull:    start.Format(time.RFC3339),
		EndFull:      end.Format(time.RFC3339),
		AllDay:       ev.AllDay,
		CalendarName: ev.CalendarName,
		Day:          start.Format(opts.dayLayout()),
	}
	if opts.IncludeDescription {
		r.Description = ev.Description
	}
	if ev.AllDay {
		r.Start = start.Format(opts.dayLayout())
		// The end of an all-day event is exclusive; show its last day.
		last := end.Add(-time.Nanosecond)
		if last.Before(start) {
			last = start
		}
		r.End = last.Format(opts.dayLayout())
		return r
	}
	r.Start = start.Format(opts.timeLayout())
	r.End = end.Format(opts.timeLayout())
	return r
}

// scrollRange is the earliest start hour and latest end hour among timed
// events, for views that scroll a day grid.
func scrollRange(evs []model.NormalizedEvent, loc *time.Location, opts Options) (string, string) {
	var first, last string
	for _, ev := range evs {
		if ev.AllDay {
			continue
		}
		s := ev.Start.In(loc).Format(hourLayout)
		e := ev.EffectiveEnd().In(loc).Format(hourLayout)
		if first == "" || s < first {
			first = s
		}
		if last == "" || e > last {
			last = e
		}
	}
	if first == "" {
		first = defaultScrollTime
	}
	if last == "" {
		last = defaultScrollTimeEnd
	}
	if opts.ScrollTime != "" {
		first = opts.ScrollTime
	}
	if opts.ScrollTimeEnd != "" {
		last = opts.ScrollTimeEnd
	}
	return first, last
}
