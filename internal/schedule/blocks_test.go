package schedule

import (
	"testing"
	"time"

	"dayplan/internal/model"
)

// 2026-10-19 is a Monday.
var monday = time.Date(2026, 10, 19, 0, 0, 0, 0, time.UTC)

func at(day time.Time, hour, minute int) time.Time {
	return time.Date(day.Year(), day.Month(), day.Day(), hour, minute, 0, 0, day.Location())
}

func weekdayWindow(start, end string) model.DayWindow {
	return model.DayWindow{
		DaysOfWeek: []int{1, 2, 3, 4, 5},
		StartTime:  model.ClockTime(start),
		EndTime:    model.ClockTime(end),
	}
}

func TestBlockSlotsQuietHoursTruncateWindow(t *testing.T) {
	b := model.Block{
		ID:      "late",
		Enabled: true,
		Windows: []model.DayWindow{{StartTime: "20:00", EndTime: "23:00"}},
		Constraints: model.BlockConstraints{
			QuietHours: []model.DayWindow{{StartTime: "22:00", EndTime: "06:00"}},
		},
	}

	slots := BlockSlots(b, monday, nil)
	if len(slots) != 1 {
		t.Fatalf("slots = %d, want 1", len(slots))
	}
	if !slots[0].Start.Equal(at(monday, 20, 0)) || !slots[0].End.Equal(at(monday, 22, 0)) {
		t.Fatalf("slot = %s–%s, want 20:00–22:00", slots[0].Start, slots[0].End)
	}
}

func TestBlockSlotsQuietHoursFromPreviousEvening(t *testing.T) {
	b := model.Block{
		ID:      "early",
		Enabled: true,
		Windows: []model.DayWindow{{StartTime: "05:00", EndTime: "09:00"}},
		Constraints: model.BlockConstraints{
			QuietHours: []model.DayWindow{{StartTime: "22:00", EndTime: "06:00"}},
		},
	}

	slots := BlockSlots(b, monday, nil)
	if len(slots) != 1 || !slots[0].Start.Equal(at(monday, 6, 0)) {
		t.Fatalf("slots = %+v, want one starting 06:00", slots)
	}
}

func TestBlockSlotsQuietWindowInsideSplits(t *testing.T) {
	b := model.Block{
		ID:      "day",
		Enabled: true,
		Windows: []model.DayWindow{{StartTime: "09:00", EndTime: "17:00"}},
		Constraints: model.BlockConstraints{
			QuietHours: []model.DayWindow{{StartTime: "12:00", EndTime: "13:00"}},
		},
	}

	slots := BlockSlots(b, monday, nil)
	if len(slots) != 2 {
		t.Fatalf("slots = %d, want 2", len(slots))
	}
	if !slots[0].End.Equal(at(monday, 12, 0)) || !slots[1].Start.Equal(at(monday, 13, 0)) {
		t.Fatalf("slots = %+v, want split around 12:00–13:00", slots)
	}
}

func TestBlockSlotsSubtractsBusyAndDropsShortFragments(t *testing.T) {
	b := model.Block{
		ID:                 "focus",
		Enabled:            true,
		Windows:            []model.DayWindow{{StartTime: "09:00", EndTime: "12:00"}},
		MinDurationMinutes: 30,
		Buffers:            model.Buffers{Before: 5, After: 5},
	}
	busy := []model.Interval{
		{Start: at(monday, 9, 20), End: at(monday, 10, 0)},
		// Seconds-long sliver left after this one must not survive.
		{Start: at(monday, 10, 0).Add(10 * time.Second), End: at(monday, 11, 0)},
	}

	slots := BlockSlots(b, monday, busy)
	if len(slots) != 1 {
		t.Fatalf("slots = %d (%+v), want 1", len(slots), slots)
	}
	s := slots[0]
	if !s.Start.Equal(at(monday, 11, 0)) || !s.End.Equal(at(monday, 12, 0)) {
		t.Fatalf("slot = %s–%s, want 11:00–12:00", s.Start, s.End)
	}
	if !s.NextStart.Equal(at(monday, 11, 5)) {
		t.Fatalf("cursor = %s, want 11:05 (before-buffer)", s.NextStart)
	}
}

func TestBlockSlotsNoWindowForWeekday(t *testing.T) {
	b := model.Block{ID: "weekday", Enabled: true, Windows: []model.DayWindow{weekdayWindow("18:00", "21:00")}}
	sunday := monday.AddDate(0, 0, 6)
	if slots := BlockSlots(b, sunday, nil); len(slots) != 0 {
		t.Fatalf("slots = %d, want 0 on Sunday", len(slots))
	}
	if HasWindowOn(b, sunday) {
		t.Fatalf("HasWindowOn(Sunday) = true")
	}
}

func TestBlockSlotsMergesOverlappingWindows(t *testing.T) {
	b := model.Block{
		ID:      "merged",
		Enabled: true,
		Windows: []model.DayWindow{
			{StartTime: "08:00", EndTime: "10:00"},
			{StartTime: "09:30", EndTime: "11:00"},
		},
	}
	slots := BlockSlots(b, monday, nil)
	if len(slots) != 1 || !slots[0].End.Equal(at(monday, 11, 0)) {
		t.Fatalf("slots = %+v, want one merged 08:00–11:00", slots)
	}
}

func TestBlockSlotsValidityRange(t *testing.T) {
	w := weekdayWindow("08:00", "09:00")
	w.ValidFrom = "2026-10-20"
	b := model.Block{ID: "later", Enabled: true, Windows: []model.DayWindow{w}}
	if slots := BlockSlots(b, monday, nil); len(slots) != 0 {
		t.Fatalf("slots before validFrom = %d, want 0", len(slots))
	}
	if slots := BlockSlots(b, monday.AddDate(0, 0, 1), nil); len(slots) != 1 {
		t.Fatalf("slots on validFrom = %d, want 1", len(slots))
	}
}

func TestBlockSlotsKeepsWallClockOnDSTDay(t *testing.T) {
	berlin, err := time.LoadLocation("Europe/Berlin")
	if err != nil {
		t.Fatalf("load location: %v", err)
	}
	// Clocks go back on 2026-10-25 in Berlin.
	day := time.Date(2026, 10, 25, 0, 0, 0, 0, berlin)
	b := model.Block{ID: "sunday", Enabled: true, Windows: []model.DayWindow{{StartTime: "09:00", EndTime: "10:00"}}}
	slots := BlockSlots(b, day, nil)
	if len(slots) != 1 || slots[0].Start.Hour() != 9 || slots[0].End.Sub(slots[0].Start) != time.Hour {
		t.Fatalf("slots = %+v, want 09:00–10:00 local", slots)
	}
}

func TestSubtractEdgeCases(t *testing.T) {
	base := []model.Interval{{Start: at(monday, 10, 0), End: at(monday, 12, 0)}}
	cases := []struct {
		name string
		cut  model.Interval
		want int
	}{
		{"no overlap", model.Interval{Start: at(monday, 13, 0), End: at(monday, 14, 0)}, 1},
		{"inside splits", model.Interval{Start: at(monday, 10, 30), End: at(monday, 11, 0)}, 2},
		{"left edge truncates", model.Interval{Start: at(monday, 9, 0), End: at(monday, 10, 30)}, 1},
		{"covers all", model.Interval{Start: at(monday, 9, 0), End: at(monday, 13, 0)}, 0},
		{"touching is not overlap", model.Interval{Start: at(monday, 12, 0), End: at(monday, 13, 0)}, 1},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := subtract(base, tc.cut); len(got) != tc.want {
				t.Fatalf("fragments = %d, want %d (%+v)", len(got), tc.want, got)
			}
		})
	}
}
