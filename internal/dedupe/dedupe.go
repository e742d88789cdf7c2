// Package dedupe removes events that several sources report identically.
package dedupe

import (
	"calagg/internal/model"
)

type key struct {
	summary     string
	description string
	status      model.Status
	start       int64
	allDay      bool
	end         int64
}

func keyOf(ev model.NormalizedEvent) key {
	return key{
		summary:     ev.Summary,
		description: ev.Description,
		status:      ev.Status,
		start:       ev.Start.UnixNano(),
		allDay:      ev.AllDay,
		end:         ev.EffectiveEnd().UnixNano(),
	}
}

// Dedupe keeps the first event of every (summary, description, status,
// start, all-day, end) group, in input order. Times compare as instants.
func Dedupe(evs []model.NormalizedEvent) []model.NormalizedEvent {
	seen := make(map[key]struct{}, len(evs))
	out := make([]model.NormalizedEvent, 0, len(evs))
	for _, ev := range evs {
		k := keyOf(ev)
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, ev)
	}
	return out
}
