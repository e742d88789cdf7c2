// Package aggregate runs the calendar pipeline: fetch every source
// concurrently, then normalize, expand recurrences, filter, deduplicate and
// window the result.
package aggregate

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"calagg/internal/config"
	"calagg/internal/dedupe"
	"calagg/internal/filter"
	appLog "calagg/internal/log"
	"calagg/internal/metrics"
	"calagg/internal/model"
	"calagg/internal/normalize"
	"calagg/internal/recurrence"
	"calagg/internal/source"
	"calagg/internal/window"
)

var (
	// ErrNoSources is returned when a run has nothing to fetch.
	ErrNoSources = errors.New("no calendar sources configured")
	// ErrNoData is returned (wrapped in *NoDataError) when every source failed.
	ErrNoData = errors.New("no calendar source produced data")
)

// Failure kinds.
const (
	FailureUnavailable = "unavailable"
	FailureMalformed   = "malformed"
)

// Drop reasons recorded beside the filter reasons.
const (
	ReasonDuplicate = "duplicate"
	ReasonWindow    = "window"
)

// SourceFailure records why one source contributed no events.
type SourceFailure struct {
	SourceID string `json:"source_id"`
	Kind     string `json:"kind"`
	Reason   string `json:"reason"`
}

// NoDataError reports a run in which every source failed.
type NoDataError struct {
	Failures []SourceFailure
}

func (e *NoDataError) Error() string {
	parts := make([]string, 0, len(e.Failures))
	for _, f := range e.Failures {
		parts = append(parts, fmt.Sprintf("%s (%s): %s", f.SourceID, f.Kind, f.Reason))
	}
	return fmt.Sprintf("%v: %s", ErrNoData, strings.Join(parts, "; "))
}

func (e *NoDataError) Unwrap() error { return ErrNoData }

// Settings are the configured, per-process inputs of every run.
type Settings struct {
	Location           *time.Location
	WeekStart          time.Weekday
	Layout             window.Mode
	IncludePast        bool
	ConfirmedOnly      bool
	IgnorePhrases      []string
	IgnorePhrasesExact []string
	DayFormat          string
	// GroupByDay is "auto", "yes" or "no".
	GroupByDay   string
	FetchTimeout time.Duration
}

// SettingsFromConfig resolves cfg into run settings.
func SettingsFromConfig(cfg *config.Config) (Settings, error) {
	mode, err := window.ParseMode(cfg.Layout)
	if err != nil {
		return Settings{}, err
	}
	weekStart, err := window.ParseWeekStart(cfg.WeekStart)
	if err != nil {
		return Settings{}, err
	}
	return Settings{
		Location:           cfg.Location(),
		WeekStart:          weekStart,
		Layout:             mode,
		IncludePast:        cfg.IncludePastEvents,
		ConfirmedOnly:      cfg.EventStatusFilter == "confirmed_only",
		IgnorePhrases:      filter.ParsePhrases(cfg.IgnorePhrases),
		IgnorePhrasesExact: filter.ParsePhrases(cfg.IgnorePhrasesExact),
		DayFormat:          cfg.DayFormat,
		GroupByDay:         cfg.GroupByDay,
		FetchTimeout:       cfg.FetchTimeout,
	}, nil
}

// RunContext is everything one run needs, resolved once at its start and
// never mutated afterwards. Stages receive it by pointer.
type RunContext struct {
	ID       string
	Now      time.Time
	Settings Settings
	Bounds   window.Bounds
	Grouped  bool
	// FetchRange covers both the display window and the expansion range.
	FetchRange   model.Range
	Filter       *filter.Chain
	Materializer *recurrence.Materializer
}

// NewRunContext evaluates s at now.
func NewRunContext(now time.Time, s Settings) (*RunContext, error) {
	if s.Location == nil {
		s.Location = time.UTC
	}
	if s.Layout == "" {
		s.Layout = window.ModeDefault
	}
	b, err := window.Compute(s.Layout, window.Params{
		Now:         now,
		Location:    s.Location,
		WeekStart:   s.WeekStart,
		IncludePast: s.IncludePast,
	})
	if err != nil {
		return nil, err
	}
	return &RunContext{
		ID:       uuid.NewString(),
		Now:      now.In(s.Location),
		Settings: s,
		Bounds:   b,
		Grouped:  window.ShouldGroup(s.GroupByDay, b),
		FetchRange: model.Range{
			Start: earlier(b.Window.Start, b.Expansion.Start),
			End:   later(b.Window.End, b.Expansion.End),
		},
		Filter: filter.NewChain(filter.Policy{
			IgnorePhrases:      s.IgnorePhrases,
			IgnorePhrasesExact: s.IgnorePhrasesExact,
			ConfirmedOnly:      s.ConfirmedOnly,
			Cutoff:             b.Cutoff,
		}),
		Materializer: recurrence.New(s.Location),
	}, nil
}

func earlier(a, b time.Time) time.Time {
	if b.Before(a) {
		return b
	}
	return a
}

func later(a, b time.Time) time.Time {
	if b.After(a) {
		return b
	}
	return a
}

// Stats counts events through the pipeline stages.
type Stats struct {
	Fetched    int            `json:"fetched"`
	Normalized int            `json:"normalized"`
	Expanded   int            `json:"expanded"`
	Dropped    map[string]int `json:"dropped"`
	Events     int            `json:"events"`
}

// Result is the outcome of one successful run.
type Result struct {
	RunID    string
	Now      time.Time
	Location *time.Location
	// WeekStart is the configured first day of the week.
	WeekStart time.Weekday
	Bounds    window.Bounds
	Grouped   bool
	// Events are admitted and sorted by start.
	Events []model.NormalizedEvent
	// Groups holds Events bucketed by day when Grouped is set.
	Groups   []window.Group
	Failures []SourceFailure
	Stats    Stats
}

// Request selects per-run overrides. Zero fields use the aggregator's
// clock and configured layout.
type Request struct {
	Now    time.Time
	Layout window.Mode
}

// Aggregator runs the pipeline over a fixed set of sources.
type Aggregator struct {
	sources  []source.Source
	settings Settings
	metrics  *metrics.Metrics
	now      func() time.Time
}

// Option configures an Aggregator.
type Option func(*Aggregator)

// WithMetrics records runs into m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(a *Aggregator) { a.metrics = m }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(a *Aggregator) { a.now = now }
}

// New returns an Aggregator over sources, fetched and attributed in the
// given order.
func New(sources []source.Source, s Settings, opts ...Option) *Aggregator {
	a := &Aggregator{sources: sources, settings: s, now: time.Now}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Settings returns the configured run settings.
func (a *Aggregator) Settings() Settings {
	return a.settings
}

// Run executes one aggregation. Per-source failures are reported in the
// result; only a run where every source failed returns an error
// (*NoDataError). Cancelling ctx aborts the run with ctx.Err().
func (a *Aggregator) Run(ctx context.Context, req Request) (*Result, error) {
	started := time.Now()
	res, err := a.run(ctx, req)

	outcome := metrics.RunOK
	switch {
	case err == nil:
		a.metrics.SetEvents(len(res.Events))
	case errors.Is(err, ErrNoData):
		outcome = metrics.RunNoData
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		outcome = metrics.RunCanceled
	default:
		outcome = metrics.RunError
	}
	a.metrics.ObserveRun(outcome, time.Since(started))
	return res, err
}

func (a *Aggregator) run(ctx context.Context, req Request) (*Result, error) {
	started := time.Now()
	if len(a.sources) == 0 {
		return nil, ErrNoSources
	}
	now := req.Now
	if now.IsZero() {
		now = a.now()
	}
	s := a.settings
	if req.Layout != "" {
		s.Layout = req.Layout
	}
	rc, err := NewRunContext(now, s)
	if err != nil {
		return nil, err
	}

	raws, failures, err := a.fetchAll(ctx, rc)
	if err != nil {
		return nil, err
	}

	res := Process(rc, raws)
	res.Failures = failures
	for reason, n := range res.Stats.Dropped {
		a.metrics.Dropped(reason, n)
	}

	appLog.Info("aggregation run finished",
		"run_id", rc.ID,
		"layout", string(rc.Bounds.Mode),
		"events", len(res.Events),
		"failures", len(failures),
		"duration", time.Since(started).String(),
	)
	return res, nil
}

type fetchResult struct {
	raws []source.RawEvent
	err  error
}

// fetchAll queries every source in parallel, each under its own timeout.
// Results are reassembled in source order so later tie-breaks do not
// depend on scheduling.
func (a *Aggregator) fetchAll(ctx context.Context, rc *RunContext) ([]source.RawEvent, []SourceFailure, error) {
	results := make([]fetchResult, len(a.sources))

	g, gctx := errgroup.WithContext(ctx)
	for i, src := range a.sources {
		i, src := i, src
		g.Go(func() error {
			fctx := gctx
			if rc.Settings.FetchTimeout > 0 {
				var cancel context.CancelFunc
				fctx, cancel = context.WithTimeout(gctx, rc.Settings.FetchTimeout)
				defer cancel()
			}
			started := time.Now()
			raws, err := src.Fetch(fctx, rc.FetchRange)
			a.metrics.ObserveFetch(src.ID(), src.Kind(), time.Since(started))
			results[i] = fetchResult{raws: raws, err: err}
			// Source errors are recorded, not propagated: one bad
			// calendar must not cancel the others.
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}

	var (
		raws      []source.RawEvent
		failures  []SourceFailure
		succeeded int
	)
	for i, r := range results {
		src := a.sources[i]
		if r.err == nil {
			succeeded++
			raws = append(raws, r.raws...)
			appLog.Debug("source fetched", "run_id", rc.ID, "source", src.ID(), "events", len(r.raws))
			continue
		}
		f := SourceFailure{SourceID: src.ID(), Kind: FailureUnavailable, Reason: r.err.Error()}
		if errors.Is(r.err, source.ErrMalformed) {
			f.Kind = FailureMalformed
		}
		appLog.Error("source fetch failed", r.err, "run_id", rc.ID, "source", src.ID(), "failure", f.Kind)
		a.metrics.SourceFailed(src.ID(), f.Kind)
		failures = append(failures, f)
	}
	if succeeded == 0 {
		return nil, failures, &NoDataError{Failures: failures}
	}
	return raws, failures, nil
}

// Process runs the synchronous stages over raws, which must be in fetch
// order.
func Process(rc *RunContext, raws []source.RawEvent) *Result {
	stats := Stats{Fetched: len(raws), Dropped: make(map[string]int)}

	evs := normalize.All(raws, rc.Settings.Location)
	for i := range evs {
		evs[i].Seq = i
	}
	stats.Normalized = len(evs)

	evs = rc.Materializer.Expand(evs, rc.Bounds.Expansion)
	stats.Expanded = len(evs)

	evs, dropped := rc.Filter.Apply(evs)
	for reason, n := range dropped {
		stats.Dropped[reason] += n
	}

	before := len(evs)
	evs = dedupe.Dedupe(evs)
	if n := before - len(evs); n > 0 {
		stats.Dropped[ReasonDuplicate] = n
	}

	before = len(evs)
	evs = window.AdmitAll(evs, rc.Bounds.Window)
	if n := before - len(evs); n > 0 {
		stats.Dropped[ReasonWindow] = n
	}
	window.Sort(evs)
	stats.Events = len(evs)

	res := &Result{
		RunID:     rc.ID,
		Now:       rc.Now,
		Location:  rc.Settings.Location,
		WeekStart: rc.Settings.WeekStart,
		Bounds:    rc.Bounds,
		Grouped:   rc.Grouped,
		Events:    evs,
		Stats:     stats,
	}
	if rc.Grouped {
		res.Groups = window.GroupByDay(evs, rc.Settings.Location, rc.Settings.DayFormat)
	}
	return res
}
