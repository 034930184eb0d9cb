package recur

import (
	"testing"
	"time"

	"github.com/teambition/rrule-go"

	"dayplan/internal/model"
)

func mustLoad(t *testing.T, name string) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation(name)
	if err != nil {
		t.Fatalf("load location %s: %v", name, err)
	}
	return loc
}

func TestExpandWeeklyKeepsWallClockAcrossDST(t *testing.T) {
	london := mustLoad(t, "Europe/London")
	def := model.RecurrenceDefinition{
		Rule:     "RRULE:FREQ=WEEKLY;BYDAY=MO,WE",
		Anchor:   time.Date(2026, 10, 1, 7, 30, 0, 0, london),
		TimeZone: "Europe/London",
	}
	w := Window{
		Start: time.Date(2026, 10, 19, 0, 0, 0, 0, london),
		End:   time.Date(2026, 11, 1, 0, 0, 0, 0, london),
	}

	got := Expand(def, w, time.UTC)
	wantDays := []model.DayKey{"2026-10-19", "2026-10-21", "2026-10-26", "2026-10-28"}
	if len(got) != len(wantDays) {
		t.Fatalf("occurrences = %d, want %d (%v)", len(got), len(wantDays), got)
	}
	for i, occ := range got {
		if model.DayKeyOf(occ) != wantDays[i] {
			t.Fatalf("occ[%d] day = %s, want %s", i, model.DayKeyOf(occ), wantDays[i])
		}
		if occ.Hour() != 7 || occ.Minute() != 30 {
			t.Fatalf("occ[%d] = %s, want 07:30 local", i, occ.Format(time.RFC3339))
		}
		if occ.Location().String() != "Europe/London" {
			t.Fatalf("occ[%d] location = %s", i, occ.Location())
		}
	}
}

func TestExpandSuppressesExceptionDates(t *testing.T) {
	def := model.RecurrenceDefinition{
		Rule:           "FREQ=WEEKLY;BYDAY=MO,WE",
		Anchor:         time.Date(2026, 10, 1, 9, 0, 0, 0, time.UTC),
		ExceptionDates: []model.DayKey{"2026-10-21"},
	}
	w := Window{
		Start: time.Date(2026, 10, 19, 0, 0, 0, 0, time.UTC),
		End:   time.Date(2026, 10, 25, 0, 0, 0, 0, time.UTC),
	}

	got := Expand(def, w, time.UTC)
	if len(got) != 1 {
		t.Fatalf("occurrences = %d, want 1 (%v)", len(got), got)
	}
	if model.DayKeyOf(got[0]) != "2026-10-19" {
		t.Fatalf("day = %s, want 2026-10-19", model.DayKeyOf(got[0]))
	}
}

func TestExpandMalformedRuleYieldsNothing(t *testing.T) {
	w := Window{
		Start: time.Date(2026, 10, 19, 0, 0, 0, 0, time.UTC),
		End:   time.Date(2026, 10, 25, 0, 0, 0, 0, time.UTC),
	}
	for _, rule := range []string{"", "   ", "FREQ=SOMETIMES", "not a rule"} {
		if got := Expand(model.RecurrenceDefinition{Rule: rule}, w, time.UTC); len(got) != 0 {
			t.Fatalf("rule %q: occurrences = %d, want 0", rule, len(got))
		}
	}
}

func TestExpandAnchorDefaultsToWindowStart(t *testing.T) {
	w := Window{
		Start: time.Date(2026, 10, 19, 15, 0, 0, 0, time.UTC),
		End:   time.Date(2026, 10, 21, 0, 0, 0, 0, time.UTC),
	}
	got := Expand(model.RecurrenceDefinition{Rule: "FREQ=DAILY"}, w, time.UTC)
	if len(got) != 3 {
		t.Fatalf("occurrences = %d, want 3", len(got))
	}
	for i, occ := range got {
		if occ.Hour() != 0 || occ.Minute() != 0 {
			t.Fatalf("occ[%d] = %s, want midnight", i, occ)
		}
	}
}

func TestExpandHonorsCount(t *testing.T) {
	def := model.RecurrenceDefinition{
		Rule:   "FREQ=DAILY;COUNT=2",
		Anchor: time.Date(2026, 10, 19, 8, 0, 0, 0, time.UTC),
	}
	w := Window{
		Start: time.Date(2026, 10, 19, 0, 0, 0, 0, time.UTC),
		End:   time.Date(2026, 10, 30, 0, 0, 0, 0, time.UTC),
	}
	if got := Expand(def, w, time.UTC); len(got) != 2 {
		t.Fatalf("occurrences = %d, want 2", len(got))
	}
}

func TestExpandStopsAtCap(t *testing.T) {
	start := time.Date(2026, 10, 19, 0, 0, 0, 0, time.UTC)
	def := model.RecurrenceDefinition{Rule: "FREQ=SECONDLY", Anchor: start}
	w := Window{Start: start, End: start.AddDate(0, 0, 1)}

	got := Expand(def, w, time.UTC)
	if len(got) != MaxOccurrences {
		t.Fatalf("occurrences = %d, want %d", len(got), MaxOccurrences)
	}
	if last := got[len(got)-1]; !last.Equal(start.Add((MaxOccurrences - 1) * time.Second)) {
		t.Fatalf("last = %s, want the earliest %d firings", last.Format(time.RFC3339), MaxOccurrences)
	}
}

func TestBetweenSkipsEarlierFiringsAndReportsTruncation(t *testing.T) {
	r, err := rrule.NewRRule(rrule.ROption{
		Freq:    rrule.HOURLY,
		Dtstart: time.Date(2026, 10, 19, 0, 0, 0, 0, time.UTC),
	})
	if err != nil {
		t.Fatalf("NewRRule: %v", err)
	}
	var set rrule.Set
	set.RRule(r)
	start := time.Date(2026, 10, 19, 5, 0, 0, 0, time.UTC)
	end := time.Date(2026, 10, 19, 7, 0, 0, 0, time.UTC)

	got, truncated := Between(&set, start, end, 3)
	if truncated || len(got) != 3 || !got[0].Equal(start) || !got[2].Equal(end) {
		t.Fatalf("Between = %v truncated=%v, want 05:00..07:00 inclusive", got, truncated)
	}
	got, truncated = Between(&set, start, end, 2)
	if !truncated || len(got) != 2 {
		t.Fatalf("Between = %v truncated=%v, want 2 firings and truncated", got, truncated)
	}
}

func TestActiveDaysAndUnknownZone(t *testing.T) {
	def := model.RecurrenceDefinition{
		Rule:     "FREQ=WEEKLY;BYDAY=SA,SU",
		TimeZone: "Mars/Olympus_Mons",
	}
	w := Window{
		Start: time.Date(2026, 10, 19, 0, 0, 0, 0, time.UTC),
		End:   time.Date(2026, 10, 25, 0, 0, 0, 0, time.UTC),
	}
	days := ActiveDays(def, w, time.UTC)
	if len(days) != 2 || !days["2026-10-24"] || !days["2026-10-25"] {
		t.Fatalf("active days = %v, want Saturday and Sunday", days)
	}
}

func TestWindowDays(t *testing.T) {
	w := Window{
		Start: time.Date(2026, 10, 30, 22, 0, 0, 0, time.UTC),
		End:   time.Date(2026, 11, 2, 1, 0, 0, 0, time.UTC),
	}
	days := w.Days(time.UTC)
	if len(days) != 4 {
		t.Fatalf("days = %d, want 4", len(days))
	}
	if model.DayKeyOf(days[0]) != "2026-10-30" || model.DayKeyOf(days[3]) != "2026-11-02" {
		t.Fatalf("days = %v", days)
	}
}

func TestValidate(t *testing.T) {
	if err := Validate("RRULE:FREQ=MONTHLY;BYMONTHDAY=1"); err != nil {
		t.Fatalf("valid rule rejected: %v", err)
	}
	if err := Validate("FREQ=NEVER"); err == nil {
		t.Fatalf("invalid rule accepted")
	}
}
