package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleYAML = `
timezone: Europe/Berlin
layout: week
include_past_events: false
ignore_phrases: "OOO, Lunch"
sources:
  - name: Work
    url: webcal://example.com/work.ics
  - id: team
    kind: caldav
    url: https://dav.example.com/
    username: me
    password: secret
  - id: personal
    kind: google
    refresh_token: abc
`

func writeTemp(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad_FirstRunCreatesDefault(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "default", cfg.Layout)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}

func TestLoad_MergesOverDefaults(t *testing.T) {
	cfg, err := Load(writeTemp(t, sampleYAML))
	require.NoError(t, err)

	assert.Equal(t, "Europe/Berlin", cfg.Timezone)
	assert.Equal(t, "week", cfg.Layout)
	assert.False(t, cfg.IncludePastEvents)
	// Keys absent from the file keep their defaults.
	assert.True(t, cfg.IncludeDescription)
	assert.Equal(t, 15*time.Second, cfg.FetchTimeout)
	assert.Equal(t, "January 02", cfg.DayFormat)

	require.Len(t, cfg.Sources, 3)
	assert.Equal(t, KindICS, cfg.Sources[0].Kind)
	assert.Equal(t, "ics-1", cfg.Sources[0].ID)
	assert.Equal(t, "Work", cfg.Sources[0].Name)
	assert.Equal(t, "team", cfg.Sources[1].Name)
	assert.Equal(t, []string{"primary"}, cfg.Sources[2].Calendars)
	assert.Equal(t, "Europe/Berlin", cfg.Location().String())
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("CALAGG_TIMEZONE", "Asia/Seoul")
	t.Setenv("CALAGG_INCLUDE_PAST_EVENTS", "true")
	t.Setenv("CALAGG_CACHE_TTL", "2m")
	t.Setenv("CALAGG_LOG_LEVEL", "debug")

	cfg, err := Load(writeTemp(t, sampleYAML))
	require.NoError(t, err)

	assert.Equal(t, "Asia/Seoul", cfg.Timezone)
	assert.True(t, cfg.IncludePastEvents)
	assert.Equal(t, 2*time.Minute, cfg.Cache.TTL)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestLoad_InvalidConfig(t *testing.T) {
	_, err := Load(writeTemp(t, "timezone: Mars/Olympus\nsources:\n  - id: a\n    kind: carrier-pigeon\n  - id: a\n    url: https://x\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "timezone")
	assert.Contains(t, err.Error(), "unknown kind")
	assert.Contains(t, err.Error(), "duplicate id")

	_, err = Load(writeTemp(t, "sources: [::"))
	assert.Error(t, err)
}

func TestNormalize_FallsBackOnUnknownEnums(t *testing.T) {
	cfg := &Config{WeekStart: "Tuesday", TimeFormat: "24H", GroupByDay: "maybe", EventStatusFilter: "CONFIRMED_ONLY"}
	cfg.Normalize()

	assert.Equal(t, "monday", cfg.WeekStart)
	assert.Equal(t, "24h", cfg.TimeFormat)
	assert.Equal(t, "auto", cfg.GroupByDay)
	assert.Equal(t, "confirmed_only", cfg.EventStatusFilter)
	assert.Equal(t, "memory", cfg.Cache.Backend)
}

func TestSave_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	cfg := DefaultConfig()
	cfg.Sources = append(cfg.Sources, SourceConfig{ID: "a", Kind: KindICS, URL: "https://example.com/a.ics"})
	require.NoError(t, cfg.Save(path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, cfg.Sources[0].URL, loaded.Sources[0].URL)
	assert.Equal(t, cfg.FetchTimeout, loaded.FetchTimeout)
}
