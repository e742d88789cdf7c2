package present

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"calagg/internal/aggregate"
	"calagg/internal/config"
	"calagg/internal/model"
	"calagg/internal/window"
)

func sampleResult(t *testing.T, grouped bool) *aggregate.Result {
	t.Helper()
	ny, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)

	evs := []model.NormalizedEvent{
		{
			Summary:      "Holiday",
			Status:       model.StatusConfirmed,
			Start:        time.Date(2024, 6, 3, 0, 0, 0, 0, ny),
			End:          time.Date(2024, 6, 4, 0, 0, 0, 0, ny),
			AllDay:       true,
			CalendarName: "Family",
		},
		{
			Summary:      "Standup",
			Description:  "Daily sync",
			Status:       model.StatusConfirmed,
			Start:        time.Date(2024, 6, 3, 9, 0, 0, 0, ny),
			End:          time.Date(2024, 6, 3, 9, 30, 0, 0, ny),
			CalendarName: "Work",
		},
		{
			Summary:      "Dinner",
			Status:       model.StatusTentative,
			Start:        time.Date(2024, 6, 4, 18, 15, 0, 0, ny),
			End:          time.Date(2024, 6, 4, 20, 45, 0, 0, ny),
			CalendarName: "Family",
		},
	}
	res := &aggregate.Result{
		RunID:     "run-1",
		Now:       time.Date(2024, 6, 3, 12, 0, 0, 0, time.UTC),
		Location:  ny,
		WeekStart: time.Sunday,
		Bounds: window.Bounds{
			Mode:   window.ModeWeek,
			Window: model.Range{Start: time.Date(2024, 5, 27, 0, 0, 0, 0, ny), End: time.Date(2024, 6, 10, 23, 59, 59, 0, ny)},
		},
		Grouped:  grouped,
		Events:   evs,
		Failures: []aggregate.SourceFailure{{SourceID: "down", Kind: aggregate.FailureUnavailable, Reason: "timeout"}},
	}
	if grouped {
		res.Groups = window.GroupByDay(evs, ny, "")
	}
	return res
}

func TestBuild_Flat(t *testing.T) {
	p := Build(sampleResult(t, false), Options{TimeFormat: "am/pm", IncludeDescription: true})

	assert.Equal(t, "run-1", p.RunID)
	assert.Equal(t, "week", p.Layout)
	assert.Equal(t, "America/New_York", p.Timezone)
	assert.Equal(t, "2024-06-03", p.Today)
	assert.Equal(t, 0, p.FirstDay)
	assert.Equal(t, "2024-05-27T00:00:00-04:00", p.WindowStart)
	assert.Equal(t, "09:00:00", p.ScrollTime)
	assert.Equal(t, "20:00:00", p.ScrollTimeEnd)
	assert.Nil(t, p.Groups)
	require.Len(t, p.Failures, 1)

	require.Len(t, p.Events, 3)
	holiday, standup, dinner := p.Events[0], p.Events[1], p.Events[2]

	assert.True(t, holiday.AllDay)
	assert.Equal(t, "June 03", holiday.Start)
	assert.Equal(t, "June 03", holiday.End)

	assert.Equal(t, "9:00 AM", standup.Start)
	assert.Equal(t, "9:30 AM", standup.End)
	assert.Equal(t, "2024-06-03T09:00:00-04:00", standup.StartFull)
	assert.Equal(t, "2024-06-03T09:30:00-04:00", standup.EndFull)
	assert.Equal(t, "Daily sync", standup.Description)
	assert.Equal(t, "Work", standup.CalendarName)
	assert.Equal(t, "June 03", standup.Day)

	assert.Equal(t, "6:15 PM", dinner.Start)
	assert.Equal(t, "tentative", dinner.Status)
}

func TestBuild_Grouped24hWithoutDescription(t *testing.T) {
	opts := Options{TimeFormat: "24h", DayFormat: "Mon Jan 2", IncludeDescription: false, ScrollTime: "07:00:00"}
	p := Build(sampleResult(t, true), opts)

	assert.True(t, p.Grouped)
	assert.Nil(t, p.Events)
	require.Len(t, p.Groups, 2)
	assert.Equal(t, "2024-06-03", p.Groups[0].Date)
	require.Len(t, p.Groups[0].Events, 2)
	assert.Equal(t, "09:00", p.Groups[0].Events[1].Start)
	assert.Empty(t, p.Groups[0].Events[1].Description)
	assert.Equal(t, "Mon Jun 3", p.Groups[0].Events[1].Day)
	assert.Equal(t, "18:15", p.Groups[1].Events[0].Start)

	assert.Equal(t, "07:00:00", p.ScrollTime)
	assert.Equal(t, "20:00:00", p.ScrollTimeEnd)

	raw, err := json.Marshal(p)
	require.NoError(t, err)
	assert.NotContains(t, string(raw), `"description"`)
	assert.Contains(t, string(raw), `"groups"`)
}

func TestBuild_ScrollDefaultsWithoutTimedEvents(t *testing.T) {
	res := sampleResult(t, false)
	res.Events = res.Events[:1]
	p := Build(res, Options{})

	assert.Equal(t, defaultScrollTime, p.ScrollTime)
	assert.Equal(t, defaultScrollTimeEnd, p.ScrollTimeEnd)
}

func TestOptionsFromConfig(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.TimeFormat = "24h"
	cfg.ScrollTimeEnd = "22:00:00"

	opts := OptionsFromConfig(cfg)
	assert.Equal(t, "24h", opts.TimeFormat)
	assert.Equal(t, "January 02", opts.DayFormat)
	assert.True(t, opts.IncludeDescription)
	assert.Equal(t, "22:00:00", opts.ScrollTimeEnd)
}
