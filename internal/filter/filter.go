// Package filter decides which normalized events are hidden from the
// viewer. Predicates are independent; an event is ignored as soon as one
// of them matches.
package filter

import (
	"strings"
	"time"

	"calagg/internal/model"
)

// Reasons an event was ignored, used as metric labels.
const (
	ReasonStatus     = "status"
	ReasonCutoff     = "cutoff"
	ReasonAcceptance = "acceptance"
	ReasonPhrase     = "phrase"
)

// Policy is the user-configured filtering for one run.
type Policy struct {
	// IgnorePhrases hide events whose summary or description contains any entry.
	IgnorePhrases []string
	// IgnorePhrasesExact hide events whose trimmed summary or description equals any entry.
	IgnorePhrasesExact []string
	// ConfirmedOnly hides every event whose status is not confirmed.
	ConfirmedOnly bool
	// Cutoff hides events that ended strictly before it. Zero disables the check.
	Cutoff time.Time
}

type predicate struct {
	reason string
	match  func(model.NormalizedEvent) bool
}

// Chain evaluates the predicates of a Policy, cheapest first.
type Chain struct {
	preds []predicate
}

// NewChain builds the chain for p.
func NewChain(p Policy) *Chain {
	c := &Chain{}
	c.preds = append(c.preds,
		predicate{ReasonStatus, statusRule(p.ConfirmedOnly)},
		predicate{ReasonAcceptance, declinedByViewer},
	)
	if !p.Cutoff.IsZero() {
		c.preds = append(c.preds, predicate{ReasonCutoff, endedBefore(p.Cutoff)})
	}
	if len(p.IgnorePhrases) > 0 || len(p.IgnorePhrasesExact) > 0 {
		c.preds = append(c.preds, predicate{ReasonPhrase, phraseRule(p.IgnorePhrases, p.IgnorePhrasesExact)})
	}
	return c
}

// ShouldIgnore reports whether ev must be hidden.
func (c *Chain) ShouldIgnore(ev model.NormalizedEvent) bool {
	_, ignored := c.reason(ev)
	return ignored
}

func (c *Chain) reason(ev model.NormalizedEvent) (string, bool) {
	for _, p := range c.preds {
		if p.match(ev) {
			return p.reason, true
		}
	}
	return "", false
}

// Apply returns the events that pass, in order, and how many were dropped
// per reason.
func (c *Chain) Apply(evs []model.NormalizedEvent) ([]model.NormalizedEvent, map[string]int) {
	kept := make([]model.NormalizedEvent, 0, len(evs))
	dropped := make(map[string]int)
	for _, ev := range evs {
		if r, ignored := c.reason(ev); ignored {
			dropped[r]++
			continue
		}
		kept = append(kept, ev)
	}
	return kept, dropped
}

func statusRule(confirmedOnly bool) func(model.NormalizedEvent) bool {
	return func(ev model.NormalizedEvent) bool {
		if ev.Status == model.StatusCancelled && (ev.NoStart || ev.IsOverride()) {
			return true
		}
		if len(ev.ExDates) > 0 && model.ExcludedBy(ev.Start, ev.ExDates) {
			return true
		}
		if ev.Status == model.StatusConfirmed {
			return false
		}
		return confirmedOnly
	}
}

// declinedByViewer hides events the viewer has not accepted. Events without
// a viewer attendee entry count as accepted, and generated occurrences carry
// no meaningful attendee data.
func declinedByViewer(ev model.NormalizedEvent) bool {
	if ev.Generated || ev.Response == model.ResponseNone {
		return false
	}
	return ev.Response != model.ResponseAccepted
}

func endedBefore(cutoff time.Time) func(model.NormalizedEvent) bool {
	return func(ev model.NormalizedEvent) bool {
		return ev.EffectiveEnd().Before(cutoff)
	}
}

func phraseRule(contains, exact []string) func(model.NormalizedEvent) bool {
	return func(ev model.NormalizedEvent) bool {
		for _, field := range []string{ev.Summary, ev.Description} {
			for _, p := range contains {
				if strings.Contains(field, p) {
					return true
				}
			}
			trimmed := strings.TrimSpace(field)
			for _, p := range exact {
				if trimmed == p {
					return true
				}
			}
		}
		return false
	}
}

// ParsePhrases splits a user phrase list. Commas and newlines separate
// entries; runs of whitespace inside an entry collapse to one space and
// empty entries are dropped. Matching is case-sensitive.
func ParsePhrases(s string) []string {
	fields := strings.FieldsFunc(s, func(r rune) bool {
		return r == ',' || r == '\n' || r == '\r'
	})
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		f = strings.Join(strings.Fields(f), " ")
		if f != "" {
			out = append(out, f)
		}
	}
	return out
}
