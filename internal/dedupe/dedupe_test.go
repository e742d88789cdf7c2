package dedupe

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"calagg/internal/model"
)

func standup(source, calendar string, loc *time.Location) model.NormalizedEvent {
	start := time.Date(2024, 6, 3, 9, 0, 0, 0, time.UTC).In(loc)
	return model.NormalizedEvent{
		SourceID:     source,
		UID:          source + "-standup",
		Summary:      "Standup",
		Status:       model.StatusConfirmed,
		Start:        start,
		End:          start.Add(30 * time.Minute),
		CalendarName: calendar,
	}
}

func TestDedupe_TwoCalendarsOneEntry(t *testing.T) {
	tokyo, err := time.LoadLocation("Asia/Tokyo")
	require.NoError(t, err)

	out := Dedupe([]model.NormalizedEvent{
		standup("work", "Work", time.UTC),
		standup("team", "Team", tokyo),
	})

	require.Len(t, out, 1)
	assert.Equal(t, "Work", out[0].CalendarName, "first in fetch order wins")
}

func TestDedupe_DistinguishingFields(t *testing.T) {
	base := standup("a", "A", time.UTC)

	tentative := base
	tentative.Status = model.StatusTentative

	longer := base
	longer.End = base.End.Add(15 * time.Minute)

	described := base
	described.Description = "room 4"

	allDay := base
	allDay.AllDay = true

	out := Dedupe([]model.NormalizedEvent{base, tentative, longer, described, allDay})
	assert.Len(t, out, 5)
}

func TestDedupe_Idempotent(t *testing.T) {
	a := standup("a", "A", time.UTC)
	b := standup("b", "B", time.UTC)
	c := a
	c.Summary = "Retro"

	once := Dedupe([]model.NormalizedEvent{a, b, c, a})
	twice := Dedupe(once)

	assert.Equal(t, once, twice)
	assert.Len(t, once, 2)
}

func TestDedupe_Empty(t *testing.T) {
	assert.Empty(t, Dedupe(nil))
}
