package source

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/emersion/go-ical"
	"github.com/emersion/go-webdav/caldav"

	"calagg/internal/config"
	parser "calagg/internal/ics"
	appLog "calagg/internal/log"
	"calagg/internal/model"
)

// CalDAVSource queries one CalDAV collection for VEVENTs in range. Objects
// are re-encoded and run through the ICS parser so both kinds share one
// normalization path.
type CalDAVSource struct {
	cfg    config.SourceConfig
	client *caldav.Client
}

func NewCalDAV(sc config.SourceConfig, opts Options) (*CalDAVSource, error) {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: opts.Timeout}
	}
	if sc.Username != "" || sc.Password != "" {
		base := httpClient.Transport
		if base == nil {
			base = http.DefaultTransport
		}
		httpClient = &http.Client{
			Transport: &basicAuthTransport{
				username: sc.Username,
				password: sc.Password,
				base:     base,
			},
			Timeout: httpClient.Timeout,
		}
	}

	client, err := caldav.NewClient(httpClient, sc.URL)
	if err != nil {
		return nil, fmt.Errorf("source %q: connect to CalDAV: %w", sc.ID, err)
	}
	return &CalDAVSource{cfg: sc, client: client}, nil
}

// basicAuthTransport adds Basic Auth to HTTP requests.
type basicAuthTransport struct {
	username string
	password string
	base     http.RoundTripper
}

func (t *basicAuthTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	req.SetBasicAuth(t.username, t.password)
	return t.base.RoundTrip(req)
}

func (s *CalDAVSource) ID() string   { return s.cfg.ID }
func (s *CalDAVSource) Kind() string { return config.KindCalDAV }

func (s *CalDAVSource) Fetch(ctx context.Context, rng model.Range) ([]RawEvent, error) {
	path, calName, err := s.calendarPath(ctx)
	if err != nil {
		return nil, err
	}

	query := &caldav.CalendarQuery{
		CompRequest: caldav.CalendarCompRequest{
			Name:     "VCALENDAR",
			AllProps: true,
			AllComps: true,
		},
		CompFilter: caldav.CompFilter{
			Name: "VCALENDAR",
			Comps: []caldav.CompFilter{
				{
					Name:  "VEVENT",
					Start: rng.Start,
					End:   rng.End,
				},
			},
		},
	}

	objects, err := s.client.QueryCalendar(ctx, path, query)
	if err != nil {
		return nil, fmt.Errorf("query calendar: %w", err)
	}

	src := parser.Source{ID: s.cfg.ID, URL: s.cfg.URL}
	var (
		out    []RawEvent
		failed int
	)
	for _, obj := range objects {
		parsed, perr := decodeObject(src, obj)
		if perr != nil {
			failed++
			appLog.Warn("caldav object skipped", "id", s.cfg.ID, "path", obj.Path, "err", perr)
			continue
		}
		for i := range parsed {
			name := parsed[i].CalendarName
			if name == "" {
				name = calName
			}
			out = append(out, RawEvent{
				SourceID:     s.cfg.ID,
				SourceName:   s.cfg.Name,
				CalendarName: name,
				SelfEmail:    s.cfg.AttendeeEmail,
				ICS:          &parsed[i],
			})
		}
	}
	if failed > 0 && failed == len(objects) {
		return nil, malformed(fmt.Errorf("all %d calendar objects failed to parse", failed))
	}

	appLog.Debug("caldav fetch completed", "id", s.cfg.ID, "objects", len(objects), "events", len(out))
	return out, nil
}

// calendarPath returns the configured collection, or discovers the user's
// first calendar when none is configured.
func (s *CalDAVSource) calendarPath(ctx context.Context) (string, string, error) {
	if s.cfg.CalendarPath != "" {
		return s.cfg.CalendarPath, "", nil
	}

	principal, err := s.client.FindCurrentUserPrincipal(ctx)
	if err != nil {
		return "", "", fmt.Errorf("find principal: %w", err)
	}
	homeSet, err := s.client.FindCalendarHomeSet(ctx, principal)
	if err != nil {
		return "", "", fmt.Errorf("find home set: %w", err)
	}
	cals, err := s.client.FindCalendars(ctx, homeSet)
	if err != nil {
		return "", "", fmt.Errorf("find calendars: %w", err)
	}
	if len(cals) == 0 {
		return "", "", errors.New("no calendars found")
	}
	return cals[0].Path, cals[0].Name, nil
}

func decodeObject(src parser.Source, obj caldav.CalendarObject) ([]parser.ParsedEvent, error) {
	if obj.Data == nil {
		return nil, errors.New("no data in calendar object")
	}
	var buf bytes.Buffer
	if err := ical.NewEncoder(&buf).Encode(obj.Data); err != nil {
		return nil, fmt.Errorf("encode: %w", err)
	}
	return parser.ParseICS(src, buf.Bytes())
}
