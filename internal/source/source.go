// Package source fetches raw events from configured calendars. Each kind
// (ICS feed, CalDAV collection, Google Calendar) implements Source; the
// aggregator never needs to know which one it is talking to.
package source

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"google.golang.org/api/calendar/v3"

	"calagg/internal/config"
	"calagg/internal/ics"
	"calagg/internal/model"
)

// ErrMalformed marks a payload that was retrieved but could not be parsed.
// Any other Fetch error means the source was unavailable.
var ErrMalformed = errors.New("malformed calendar document")

// RawEvent is one provider event before normalization. Exactly one of ICS
// and Google is set.
type RawEvent struct {
	SourceID   string
	SourceName string
	// CalendarName is the provider's name for the calendar, when known.
	CalendarName string
	// SelfEmail identifies the viewer among ICS attendees.
	SelfEmail string

	ICS    *ics.ParsedEvent
	Google *calendar.Event
	// GoogleCalendarID is the id the Google event was listed from.
	GoogleCalendarID string
}

// Source retrieves the events of one configured calendar for a range.
// Implementations must honour ctx cancellation.
type Source interface {
	ID() string
	Kind() string
	Fetch(ctx context.Context, rng model.Range) ([]RawEvent, error)
}

// Options carries process-wide settings shared by all sources.
type Options struct {
	CacheDir string
	Timeout  time.Duration
	// HTTPClient, if set, replaces the default client (tests).
	HTTPClient *http.Client
}

// New builds the Source for sc.
func New(ctx context.Context, sc config.SourceConfig, opts Options) (Source, error) {
	switch sc.Kind {
	case config.KindICS, "":
		return NewICS(sc, opts), nil
	case config.KindCalDAV:
		return NewCalDAV(sc, opts)
	case config.KindGoogle:
		return NewGoogle(ctx, sc, opts)
	default:
		return nil, fmt.Errorf("source %q: unknown kind %q", sc.ID, sc.Kind)
	}
}

// NewAll builds every configured source, stopping at the first error.
func NewAll(ctx context.Context, scs []config.SourceConfig, opts Options) ([]Source, error) {
	out := make([]Source, 0, len(scs))
	for _, sc := range scs {
		s, err := New(ctx, sc, opts)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}

func malformed(err error) error {
	return fmt.Errorf("%w: %v", ErrMalformed, err)
}
