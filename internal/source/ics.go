package source

import (
	"context"

	"calagg/internal/config"
	"calagg/internal/ics"
	"calagg/internal/model"
)

// ICSSource is a subscribed .ics feed. Feeds carry their full history, so
// the range is not sent upstream; the recurrence and window stages trim it.
type ICSSource struct {
	cfg     config.SourceConfig
	fetcher *ics.Fetcher
}

func NewICS(sc config.SourceConfig, opts Options) *ICSSource {
	f := ics.NewFetcher(opts.CacheDir, opts.Timeout)
	if opts.HTTPClient != nil {
		f.WithClient(opts.HTTPClient)
	}
	return &ICSSource{cfg: sc, fetcher: f}
}

func (s *ICSSource) ID() string   { return s.cfg.ID }
func (s *ICSSource) Kind() string { return config.KindICS }

func (s *ICSSource) Fetch(ctx context.Context, _ model.Range) ([]RawEvent, error) {
	res, err := s.fetcher.FetchOne(ctx, ics.Source{
		ID:      s.cfg.ID,
		URL:     s.cfg.URL,
		Headers: s.cfg.Headers,
	})
	if err != nil {
		return nil, err
	}

	parsed, err := ics.ParseICS(res.Source, res.Body)
	if err != nil {
		return nil, malformed(err)
	}
	return s.wrap(parsed), nil
}

func (s *ICSSource) wrap(parsed []ics.ParsedEvent) []RawEvent {
	out := make([]RawEvent, 0, len(parsed))
	for i := range parsed {
		out = append(out, RawEvent{
			SourceID:     s.cfg.ID,
			SourceName:   s.cfg.Name,
			CalendarName: parsed[i].CalendarName,
			SelfEmail:    s.cfg.AttendeeEmail,
			ICS:          &parsed[i],
		})
	}
	return out
}
