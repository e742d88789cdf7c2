package web

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"calagg/internal/aggregate"
	"calagg/internal/cache"
	"calagg/internal/config"
	"calagg/internal/ics"
	"calagg/internal/metrics"
	"calagg/internal/model"
	"calagg/internal/present"
	"calagg/internal/source"
	"calagg/internal/window"
)

type countingSource struct {
	fetches atomic.Int32
	err     error
}

func (c *countingSource) ID() string   { return "team" }
func (c *countingSource) Kind() string { return config.KindICS }

func (c *countingSource) Fetch(context.Context, model.Range) ([]source.RawEvent, error) {
	c.fetches.Add(1)
	if c.err != nil {
		return nil, c.err
	}
	start := time.Date(2024, 6, 3, 9, 0, 0, 0, time.UTC)
	return []source.RawEvent{{
		SourceID:   "team",
		SourceName: "Team",
		ICS: &ics.ParsedEvent{
			UID:     "standup",
			Summary: "Standup",
			Start:   &ics.Time{Time: start},
			End:     &ics.Time{Time: start.Add(30 * time.Minute)},
		},
	}}, nil
}

func newTestServer(t *testing.T, src source.Source, mutate func(*config.Config)) (*Server, *metrics.Metrics) {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Layout = "week"
	if mutate != nil {
		mutate(cfg)
	}
	settings, err := aggregate.SettingsFromConfig(cfg)
	require.NoError(t, err)

	m := metrics.New()
	agg := aggregate.New([]source.Source{src}, settings,
		aggregate.WithMetrics(m),
		aggregate.WithClock(func() time.Time { return time.Date(2024, 6, 3, 8, 0, 0, 0, time.UTC) }),
	)
	return NewServer(cfg, agg, cache.NewMemory(time.Minute), m), m
}

func get(t *testing.T, h http.Handler, target string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
	return rec
}

func TestHealth(t *testing.T) {
	s, _ := newTestServer(t, &countingSource{}, nil)
	rec := get(t, s.Handler(), "/health")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "OK", rec.Body.String())
}

func TestEvents_PayloadAndCache(t *testing.T) {
	src := &countingSource{}
	s, _ := newTestServer(t, src, nil)
	h := s.Handler()

	rec := get(t, h, "/api/events")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "application/json")

	var p present.Payload
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &p))
	assert.Equal(t, "week", p.Layout)
	require.Len(t, p.Groups, 1)
	assert.Equal(t, "Standup", p.Groups[0].Events[0].Summary)
	assert.Equal(t, "9:00 AM", p.Groups[0].Events[0].Start)

	rec = get(t, h, "/api/events")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, int32(1), src.fetches.Load(), "second request served from cache")

	rec = get(t, h, "/api/events?layout=schedule")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, int32(2), src.fetches.Load(), "layouts are cached separately")
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &p))
	assert.Equal(t, "schedule", p.Layout)
}

func TestEvents_BadLayout(t *testing.T) {
	s, _ := newTestServer(t, &countingSource{}, nil)
	rec := get(t, s.Handler(), "/api/events?layout=fortnight")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "fortnight")
}

func TestEvents_NoData(t *testing.T) {
	s, _ := newTestServer(t, &countingSource{err: errors.New("dial tcp: connection refused")}, nil)
	rec := get(t, s.Handler(), "/api/events")

	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	var body noDataResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, aggregate.ErrNoData.Error(), body.Error)
	require.Len(t, body.Failures, 1)
	assert.Equal(t, aggregate.FailureUnavailable, body.Failures[0].Kind)
}

func TestRefresh(t *testing.T) {
	src := &countingSource{}
	s, _ := newTestServer(t, src, nil)
	h := s.Handler()

	require.NoError(t, s.Refresh(context.Background()))
	assert.Equal(t, int32(1), src.fetches.Load())

	rec := get(t, h, "/api/events")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, int32(1), src.fetches.Load(), "refresh warmed the cache")

	rec = get(t, h, "/api/refresh")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/refresh", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, int32(2), src.fetches.Load())
}

func TestBasicAuth(t *testing.T) {
	s, _ := newTestServer(t, &countingSource{}, func(c *config.Config) {
		c.BasicAuth = &config.BasicAuthConfig{Username: "admin", Password: "secret"}
	})
	h := s.Handler()

	assert.Equal(t, http.StatusOK, get(t, h, "/health").Code, "health stays open")

	rec := get(t, h, "/api/events")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Header().Get("WWW-Authenticate"), "Basic")

	req := httptest.NewRequest(http.MethodGet, "/api/events", nil)
	req.SetBasicAuth("admin", "wrong")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/api/events", nil)
	req.SetBasicAuth("admin", "secret")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	s, _ := newTestServer(t, &countingSource{}, nil)
	h := s.Handler()

	get(t, h, "/api/events")
	get(t, h, "/api/events")

	rec := get(t, h, "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, `calagg_runs_total{result="ok"} 1`)
	assert.Contains(t, body, `calagg_cache_lookups_total{result="hit"} 1`)
	assert.True(t, strings.Contains(body, `calagg_events 1`))
}

func TestStartServer_ShutsDownOnCancel(t *testing.T) {
	s, _ := newTestServer(t, &countingSource{}, func(c *config.Config) {
		c.Listen = "127.0.0.1:0"
	})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- StartServer(ctx, s) }()

	time.Sleep(50 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}

func TestCacheKeyPerLayout(t *testing.T) {
	assert.NotEqual(t, cacheKey(window.ModeWeek), cacheKey(window.ModeMonth))
}
