package window

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"calagg/internal/model"
)

// Wednesday.
var now = time.Date(2024, 6, 5, 14, 0, 0, 0, time.UTC)

func day(d, h, m int) time.Time {
	return time.Date(2024, 6, d, h, m, 0, 0, time.UTC)
}

func endOfDay(y int, mo time.Month, d int) time.Time {
	return time.Date(y, mo, d, 23, 59, 59, 999999999, time.UTC)
}

func TestParseMode(t *testing.T) {
	m, err := ParseMode("")
	require.NoError(t, err)
	assert.Equal(t, ModeDefault, m)

	m, err = ParseMode(" Rolling_Month ")
	require.NoError(t, err)
	assert.Equal(t, ModeRollingMonth, m)

	_, err = ParseMode("fortnight")
	assert.Error(t, err)
}

func TestCompute_Table(t *testing.T) {
	cases := []struct {
		mode        Mode
		includePast bool
		window      model.Range
		expansion   model.Range
		cutoff      time.Time
		grouped     bool
	}{
		{ModeDefault, true, model.Range{Start: day(5, 0, 0), End: endOfDay(2024, 6, 12)}, model.Range{Start: day(5, 0, 0), End: endOfDay(2024, 6, 12)}, day(5, 0, 0), true},
		{ModeDefault, false, model.Range{Start: day(5, 0, 0), End: endOfDay(2024, 6, 12)}, model.Range{Start: day(5, 0, 0), End: endOfDay(2024, 6, 12)}, now, true},
		{ModeTodayOnly, true, model.Range{Start: day(5, 0, 0), End: endOfDay(2024, 6, 5)}, model.Range{Start: day(5, 0, 0), End: endOfDay(2024, 6, 7)}, day(5, 0, 0), true},
		{ModeWeek, false, model.Range{Start: time.Date(2024, 5, 29, 0, 0, 0, 0, time.UTC), End: endOfDay(2024, 6, 12)}, model.Range{Start: time.Date(2024, 5, 29, 0, 0, 0, 0, time.UTC), End: endOfDay(2024, 6, 12)}, now, true},
		{ModeMonth, false, model.Range{Start: time.Date(2024, 5, 6, 0, 0, 0, 0, time.UTC), End: endOfDay(2024, 7, 5)}, model.Range{Start: day(1, 0, 0), End: endOfDay(2024, 7, 5)}, day(1, 0, 0), true},
		{ModeRollingMonth, true, model.Range{Start: day(3, 0, 0), End: endOfDay(2024, 7, 5)}, model.Range{Start: day(3, 0, 0), End: endOfDay(2024, 7, 5)}, day(3, 0, 0), true},
		{ModeSchedule, true, model.Range{Start: day(5, 0, 0), End: endOfDay(2024, 6, 19)}, model.Range{Start: day(5, 0, 0), End: endOfDay(2024, 6, 19)}, day(5, 0, 0), false},
	}
	for _, tc := range cases {
		t.Run(string(tc.mode), func(t *testing.T) {
			b, err := Compute(tc.mode, Params{Now: now, Location: time.UTC, WeekStart: time.Monday, IncludePast: tc.includePast})
			require.NoError(t, err)
			assert.True(t, tc.window.Start.Equal(b.Window.Start), "window start %s", b.Window.Start)
			assert.True(t, tc.window.End.Equal(b.Window.End), "window end %s", b.Window.End)
			assert.True(t, tc.expansion.Start.Equal(b.Expansion.Start), "expansion start %s", b.Expansion.Start)
			assert.True(t, tc.expansion.End.Equal(b.Expansion.End), "expansion end %s", b.Expansion.End)
			assert.True(t, tc.cutoff.Equal(b.Cutoff), "cutoff %s", b.Cutoff)
			assert.Equal(t, tc.grouped, b.Grouped)
		})
	}

	_, err := Compute(Mode("fortnight"), Params{Now: now})
	assert.Error(t, err)
}

func TestCompute_WeekStartSunday(t *testing.T) {
	b, err := Compute(ModeRollingMonth, Params{Now: now, Location: time.UTC, WeekStart: time.Sunday})
	require.NoError(t, err)
	assert.Equal(t, day(2, 0, 0), b.Window.Start)

	// On the week's first day the week starts today.
	sunday := day(9, 8, 0)
	b, err = Compute(ModeRollingMonth, Params{Now: sunday, Location: time.UTC, WeekStart: time.Sunday})
	require.NoError(t, err)
	assert.Equal(t, day(9, 0, 0), b.Window.Start)
}

func TestCompute_UsesViewerLocation(t *testing.T) {
	seoul, err := time.LoadLocation("Asia/Seoul")
	require.NoError(t, err)

	// 20:00 UTC on the 5th is already the 6th in Seoul.
	b, err := Compute(ModeDefault, Params{Now: day(5, 20, 0), Location: seoul, IncludePast: true})
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 6, 6, 0, 0, 0, 0, seoul), b.Window.Start)
	assert.Equal(t, seoul, b.Window.Start.Location())
}

func TestCompute_DefaultKeepsTodaysAllDayEvents(t *testing.T) {
	b, err := Compute(ModeDefault, Params{Now: now, Location: time.UTC, IncludePast: false})
	require.NoError(t, err)

	allDay := model.NormalizedEvent{Start: day(5, 0, 0), End: day(6, 0, 0), AllDay: true}
	assert.True(t, Admit(allDay, b.Window))
	assert.False(t, allDay.EffectiveEnd().Before(b.Cutoff), "not hidden by the cutoff either")

	// Timed events that already ended today are left to the cutoff.
	morning := model.NormalizedEvent{Start: day(5, 9, 0), End: day(5, 10, 0)}
	assert.True(t, Admit(morning, b.Window))
	assert.True(t, morning.EffectiveEnd().Before(b.Cutoff))
}

func TestParseWeekStart(t *testing.T) {
	for in, want := range map[string]time.Weekday{"": time.Monday, "Monday": time.Monday, "sun": time.Sunday, "SUNDAY": time.Sunday} {
		got, err := ParseWeekStart(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := ParseWeekStart("friday")
	assert.Error(t, err)
}

func TestAdmit_BoundaryInclusive(t *testing.T) {
	w := model.Range{Start: day(3, 0, 0), End: day(9, 23, 59)}

	atEnd := model.NormalizedEvent{Start: w.End, End: w.End.Add(time.Hour)}
	assert.True(t, Admit(atEnd, w), "start exactly at window end")

	atStart := model.NormalizedEvent{Start: w.Start, End: w.Start.Add(time.Hour)}
	assert.True(t, Admit(atStart, w))

	before := model.NormalizedEvent{Start: day(2, 9, 0), End: w.Start.Add(-time.Nanosecond)}
	assert.False(t, Admit(before, w), "end strictly before window start")

	endsOnStart := model.NormalizedEvent{Start: day(2, 23, 0), End: w.Start}
	assert.True(t, Admit(endsOnStart, w), "timed event ending at window start")

	allDayStraddle := model.NormalizedEvent{Start: day(2, 0, 0), End: day(3, 12, 0), AllDay: true}
	assert.False(t, Admit(allDayStraddle, w), "all-day events are admitted by start only")

	after := model.NormalizedEvent{Start: day(10, 0, 0), End: day(10, 1, 0)}
	assert.False(t, Admit(after, w))

	kept := AdmitAll([]model.NormalizedEvent{before, atStart, after, atEnd}, w)
	require.Len(t, kept, 2)
	assert.Equal(t, w.Start, kept[0].Start)
}

func TestSort_StableByStartThenSeq(t *testing.T) {
	evs := []model.NormalizedEvent{
		{Summary: "c", Start: day(4, 9, 0), Seq: 2},
		{Summary: "a", Start: day(3, 9, 0), Seq: 5},
		{Summary: "b2", Start: day(4, 8, 0), Seq: 4},
		{Summary: "b1", Start: day(4, 8, 0), Seq: 1},
	}
	Sort(evs)

	var got []string
	for i, ev := range evs {
		got = append(got, ev.Summary)
		if i > 0 {
			assert.False(t, ev.Start.Before(evs[i-1].Start))
		}
	}
	assert.Equal(t, []string{"a", "b1", "b2", "c"}, got)
}

func TestGroupByDay(t *testing.T) {
	tokyo, err := time.LoadLocation("Asia/Tokyo")
	require.NoError(t, err)

	evs := []model.NormalizedEvent{
		{Summary: "early", Start: day(3, 14, 0)}, // 23:00 on the 3rd in Tokyo
		{Summary: "late", Start: day(3, 16, 0)},  // 01:00 on the 4th
		{Summary: "next", Start: day(4, 1, 0)},
	}
	groups := GroupByDay(evs, tokyo, "")

	require.Len(t, groups, 2)
	assert.Equal(t, "June 03", groups[0].Day)
	assert.Len(t, groups[0].Events, 1)
	assert.Equal(t, "June 04", groups[1].Day)
	assert.Equal(t, "late", groups[1].Events[0].Summary)
	assert.Equal(t, "next", groups[1].Events[1].Summary)

	custom := GroupByDay(evs[:1], time.UTC, "Mon Jan 2")
	assert.Equal(t, "Mon Jun 3", custom[0].Day)

	assert.Empty(t, GroupByDay(nil, time.UTC, ""))
}

func TestShouldGroup(t *testing.T) {
	grouped := Bounds{Grouped: true}
	flat := Bounds{}

	assert.True(t, ShouldGroup("auto", grouped))
	assert.False(t, ShouldGroup("", flat))
	assert.True(t, ShouldGroup("yes", flat))
	assert.False(t, ShouldGroup("no", grouped))
}
