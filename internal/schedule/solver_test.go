package schedule

import (
	"fmt"
	"reflect"
	"strings"
	"testing"
	"time"

	"dayplan/internal/model"
	"dayplan/internal/recur"
)

func evenings() model.Block {
	return model.Block{
		ID:                   "evenings",
		Name:                 "Evenings",
		Windows:              []model.DayWindow{weekdayWindow("18:00", "21:00")},
		DailyCapacityMinutes: 180,
		Priority:             3,
		Enabled:              true,
	}
}

func taskOcc(id string, minutes, priority int, day model.DayKey) model.Occurrence {
	return model.Occurrence{
		SourceType:      model.SourceTask,
		SourceID:        id,
		OwnerID:         "owner-1",
		Title:           strings.ToUpper(id[:1]) + id[1:],
		DayKey:          day,
		DurationMinutes: minutes,
		Priority:        priority,
		Policy:          model.Policy{Mode: model.PolicyRollForward, GraceWindowMinutes: DefaultGraceWindowMinutes},
	}
}

func weekInput(blocks []model.Block, occs ...model.Occurrence) Input {
	return Input{
		OwnerID:     "owner-1",
		RunID:       "run-1",
		Window:      recur.Window{Start: monday, End: monday.AddDate(0, 0, 6)},
		Location:    time.UTC,
		Blocks:      blocks,
		Occurrences: occs,
	}
}

func findInstance(t *testing.T, res Result, sourceID string) model.Instance {
	t.Helper()
	for _, inst := range res.Instances {
		if inst.SourceID == sourceID {
			return inst
		}
	}
	t.Fatalf("no instance for %s; unscheduled = %+v", sourceID, res.Unscheduled)
	return model.Instance{}
}

func assertSpan(t *testing.T, inst model.Instance, start, end time.Time) {
	t.Helper()
	if !inst.PlannedStart.Equal(start) || !inst.PlannedEnd.Equal(end) {
		t.Fatalf("%s planned %s–%s, want %s–%s", inst.SourceID,
			inst.PlannedStart.Format("15:04"), inst.PlannedEnd.Format("15:04"),
			start.Format("15:04"), end.Format("15:04"))
	}
}

func TestSolvePlacesIntoFirstFreeSlot(t *testing.T) {
	res := Solve(weekInput([]model.Block{evenings()}, taskOcc("task-a", 60, 2, "2026-10-19")))

	if len(res.Instances) != 1 || len(res.Unscheduled) != 0 || len(res.Conflicts) != 0 {
		t.Fatalf("result = %+v", res)
	}
	inst := res.Instances[0]
	assertSpan(t, inst, at(monday, 18, 0), at(monday, 19, 0))
	if inst.ID != "2fd216de-23c3-5b1a-9f69-7e38eafa1ccb" {
		t.Fatalf("id = %s", inst.ID)
	}
	if inst.BlockID != "evenings" || inst.Status != model.InstancePlanned || inst.OccurrenceDate != "2026-10-19" {
		t.Fatalf("instance = %+v", inst)
	}
	ctx := inst.SchedulingContext
	if ctx.RunID != "run-1" || ctx.PolicyMode != model.PolicyRollForward || ctx.ThemeDecision != ThemeBlockUnthemed {
		t.Fatalf("scheduling context = %+v", ctx)
	}
}

func TestSolveReportsInsufficientCapacity(t *testing.T) {
	res := Solve(weekInput([]model.Block{evenings()},
		taskOcc("task-a", 60, 2, "2026-10-19"),
		taskOcc("task-b", 150, 2, "2026-10-19"),
	))

	if len(res.Instances) != 1 || res.Instances[0].SourceID != "task-a" {
		t.Fatalf("instances = %+v", res.Instances)
	}
	if len(res.Unscheduled) != 1 {
		t.Fatalf("unscheduled = %+v", res.Unscheduled)
	}
	u := res.Unscheduled[0]
	if u.SourceID != "task-b" || u.Reason != model.ReasonNoAvailableSlot || !sameIDs(u.CandidateBlockIDs, []string{"evenings"}) {
		t.Fatalf("unscheduled = %+v", u)
	}
	if len(res.Conflicts) != 1 {
		t.Fatalf("conflicts = %+v", res.Conflicts)
	}
	c := res.Conflicts[0]
	if c.Reason != model.ReasonCapacity || c.BlockID != "evenings" || c.NeededMinutes != 150 || c.RemainingMinutes != 120 {
		t.Fatalf("conflict = %+v", c)
	}
	if !strings.Contains(c.Message, "needed 150 min, remaining 120 min") {
		t.Fatalf("message = %q", c.Message)
	}
}

func TestSolveRejectsThemeMismatch(t *testing.T) {
	gym := model.Block{ID: "gym", Name: "Gym", Theme: "Health", Enabled: true,
		Windows: []model.DayWindow{{StartTime: "07:00", EndTime: "09:00"}}}
	due := monday.AddDate(0, 0, 20)
	occ := model.Occurrence{
		SourceType: model.SourceRoutine, SourceID: "read", OwnerID: "owner-1", Title: "Read book",
		DayKey: "2026-10-19", DurationMinutes: 30, Priority: 3, Theme: "Learning", DueAt: &due,
	}

	res := Solve(weekInput([]model.Block{gym}, occ))
	if len(res.Instances) != 0 || len(res.Unscheduled) != 1 {
		t.Fatalf("result = %+v", res)
	}
	if res.Unscheduled[0].Reason != model.ReasonNoEligibleBlock {
		t.Fatalf("reason = %s, want %s", res.Unscheduled[0].Reason, model.ReasonNoEligibleBlock)
	}
	if len(res.Conflicts) != 1 || !strings.Contains(res.Conflicts[0].Message, "No eligible block for Read book") {
		t.Fatalf("conflicts = %+v", res.Conflicts)
	}

	// The same occurrence due tomorrow morning overrides the theme.
	soon := monday.Add(20 * time.Hour)
	occ.DueAt = &soon
	res = Solve(weekInput([]model.Block{gym}, occ))
	inst := findInstance(t, res, "read")
	if inst.SchedulingContext.ThemeDecision != ThemeDueSoon {
		t.Fatalf("decision = %s, want %s", inst.SchedulingContext.ThemeDecision, ThemeDueSoon)
	}
}

func TestSolveRerunIsIdempotent(t *testing.T) {
	in := weekInput([]model.Block{evenings()}, taskOcc("task-a", 60, 2, "2026-10-19"))
	first := Solve(in)

	in.Existing = first.Instances
	second := Solve(in)
	if !reflect.DeepEqual(first.Instances, second.Instances) {
		t.Fatalf("rerun changed instances:\nfirst  %+v\nsecond %+v", first.Instances, second.Instances)
	}
	if !sameIDs(second.ExistingIDs, []string{first.Instances[0].ID}) {
		t.Fatalf("existing ids = %v", second.ExistingIDs)
	}
	if len(second.StaleIDs) != 0 {
		t.Fatalf("stale ids = %v", second.StaleIDs)
	}
}

func TestSolveKeepsPlacementWhenHigherPriorityArrives(t *testing.T) {
	in := weekInput([]model.Block{evenings()}, taskOcc("task-a", 60, 2, "2026-10-19"))
	first := Solve(in)

	in.Existing = first.Instances
	in.RunID = "run-2"
	in.Occurrences = append(in.Occurrences, taskOcc("task-c", 60, 1, "2026-10-19"))
	second := Solve(in)

	a := findInstance(t, second, "task-a")
	assertSpan(t, a, at(monday, 18, 0), at(monday, 19, 0))
	if a.SchedulingContext.RunID != "run-2" {
		t.Fatalf("carried context not refreshed: %+v", a.SchedulingContext)
	}
	c := findInstance(t, second, "task-c")
	assertSpan(t, c, at(monday, 19, 0), at(monday, 20, 0))
}

func TestSolveCarriedInstanceKeepsSlotWhenTitleChanges(t *testing.T) {
	in := weekInput([]model.Block{evenings()}, taskOcc("task-a", 60, 2, "2026-10-19"))
	first := Solve(in)

	in.Existing = first.Instances
	renamed := taskOcc("task-a", 60, 1, "2026-10-19")
	renamed.Title = "Task A (renamed)"
	in.Occurrences = []model.Occurrence{renamed}
	second := Solve(in)

	inst := findInstance(t, second, "task-a")
	if inst.ID != first.Instances[0].ID || inst.Title != "Task A (renamed)" || inst.Priority != 1 {
		t.Fatalf("instance = %+v", inst)
	}
	assertSpan(t, inst, at(monday, 18, 0), at(monday, 19, 0))
}

func TestSolveReportsStaleInstances(t *testing.T) {
	in := weekInput([]model.Block{evenings()}, taskOcc("task-a", 60, 2, "2026-10-19"))
	first := Solve(in)

	in.Existing = first.Instances
	in.Occurrences = []model.Occurrence{taskOcc("task-b", 60, 2, "2026-10-19")}
	second := Solve(in)

	if !sameIDs(second.StaleIDs, []string{first.Instances[0].ID}) {
		t.Fatalf("stale ids = %v", second.StaleIDs)
	}
	// Stale placements do not hold on to their time.
	b := findInstance(t, second, "task-b")
	assertSpan(t, b, at(monday, 18, 0), at(monday, 19, 0))
}

func TestSolveAvoidsBusyTime(t *testing.T) {
	in := weekInput([]model.Block{evenings()}, taskOcc("task-a", 60, 2, "2026-10-19"))
	in.Busy = []model.Interval{{Start: at(monday, 17, 30), End: at(monday, 18, 30)}}

	res := Solve(in)
	assertSpan(t, findInstance(t, res, "task-a"), at(monday, 18, 30), at(monday, 19, 30))
}

func TestSolveHonorsBuffers(t *testing.T) {
	b := evenings()
	b.Buffers = model.Buffers{Before: 10, After: 10}
	res := Solve(weekInput([]model.Block{b},
		taskOcc("task-a", 30, 2, "2026-10-19"),
		taskOcc("task-b", 30, 2, "2026-10-19"),
	))

	assertSpan(t, findInstance(t, res, "task-a"), at(monday, 18, 10), at(monday, 18, 40))
	assertSpan(t, findInstance(t, res, "task-b"), at(monday, 19, 0), at(monday, 19, 30))
}

func TestSolveNeverDoubleBooksAcrossBlocks(t *testing.T) {
	left := evenings()
	left.ID = "left"
	right := evenings()
	right.ID = "right"

	a := taskOcc("task-a", 60, 2, "2026-10-19")
	a.RequiredBlockID = "left"
	b := taskOcc("task-b", 60, 2, "2026-10-19")
	b.RequiredBlockID = "right"

	res := Solve(weekInput([]model.Block{left, right}, a, b))
	assertSpan(t, findInstance(t, res, "task-a"), at(monday, 18, 0), at(monday, 19, 0))
	assertSpan(t, findInstance(t, res, "task-b"), at(monday, 19, 0), at(monday, 20, 0))
}

func TestSolvePrefersLowerBlockPriority(t *testing.T) {
	late := evenings()
	late.ID = "late"
	late.Priority = 1
	late.Windows = []model.DayWindow{weekdayWindow("20:00", "22:00")}

	res := Solve(weekInput([]model.Block{evenings(), late}, taskOcc("task-a", 60, 2, "2026-10-19")))
	inst := findInstance(t, res, "task-a")
	if inst.BlockID != "late" {
		t.Fatalf("block = %s, want late", inst.BlockID)
	}
	assertSpan(t, inst, at(monday, 20, 0), at(monday, 21, 0))
}

func TestSolveChoresWinPriorityTies(t *testing.T) {
	b := evenings()
	b.DailyCapacityMinutes = 30
	routine := model.Occurrence{SourceType: model.SourceRoutine, SourceID: "a-routine", DayKey: "2026-10-19", DurationMinutes: 30, Priority: 3}
	chore := model.Occurrence{SourceType: model.SourceChore, SourceID: "z-chore", DayKey: "2026-10-19", DurationMinutes: 30, Priority: 3}

	res := Solve(weekInput([]model.Block{b}, routine, chore))
	if len(res.Instances) != 1 || res.Instances[0].SourceID != "z-chore" {
		t.Fatalf("instances = %+v, want only the chore", res.Instances)
	}
	if len(res.Unscheduled) != 1 || res.Unscheduled[0].SourceID != "a-routine" {
		t.Fatalf("unscheduled = %+v", res.Unscheduled)
	}
}

func TestSolveMaxDurationIsCapacityConflict(t *testing.T) {
	b := evenings()
	b.MaxDurationMinutes = 45
	res := Solve(weekInput([]model.Block{b}, taskOcc("task-a", 60, 2, "2026-10-19")))

	if len(res.Instances) != 0 || len(res.Unscheduled) != 1 {
		t.Fatalf("result = %+v", res)
	}
	if len(res.Conflicts) != 1 || res.Conflicts[0].Reason != model.ReasonCapacity {
		t.Fatalf("conflicts = %+v", res.Conflicts)
	}
}

func TestSolveNoSlotLeft(t *testing.T) {
	b := evenings()
	b.DailyCapacityMinutes = 0
	in := weekInput([]model.Block{b}, taskOcc("task-a", 60, 2, "2026-10-19"))
	in.Busy = []model.Interval{{Start: at(monday, 18, 0), End: at(monday, 20, 30)}}

	res := Solve(in)
	if len(res.Unscheduled) != 1 || res.Unscheduled[0].Reason != model.ReasonNoAvailableSlot {
		t.Fatalf("unscheduled = %+v", res.Unscheduled)
	}
	if len(res.Conflicts) != 1 || res.Conflicts[0].Reason != model.ReasonNoAvailableSlot || res.Conflicts[0].RemainingMinutes != 30 {
		t.Fatalf("conflicts = %+v", res.Conflicts)
	}
}

func TestSolveSkipsDisabledAndInactiveBlocks(t *testing.T) {
	off := evenings()
	off.ID = "off"
	off.Enabled = false

	tuesdays := evenings()
	tuesdays.ID = "tuesdays"
	tuesdays.Recurrence = model.RecurrenceDefinition{Rule: "FREQ=WEEKLY;BYDAY=TU"}

	res := Solve(weekInput([]model.Block{off, tuesdays},
		taskOcc("task-mon", 30, 2, "2026-10-19"),
		taskOcc("task-tue", 30, 2, "2026-10-20"),
	))
	if len(res.Unscheduled) != 1 || res.Unscheduled[0].SourceID != "task-mon" || res.Unscheduled[0].Reason != model.ReasonNoEligibleBlock {
		t.Fatalf("unscheduled = %+v", res.Unscheduled)
	}
	if inst := findInstance(t, res, "task-tue"); inst.BlockID != "tuesdays" {
		t.Fatalf("block = %s", inst.BlockID)
	}
}

func TestSolveCapacityAndOverlapInvariants(t *testing.T) {
	morning := model.Block{ID: "morning", Enabled: true, Priority: 2, DailyCapacityMinutes: 90,
		Windows: []model.DayWindow{{StartTime: "07:00", EndTime: "09:00"}}, Buffers: model.Buffers{After: 5}}
	blocks := []model.Block{evenings(), morning}

	var occs []model.Occurrence
	for d := 0; d < 7; d++ {
		day := model.DayKeyOf(monday.AddDate(0, 0, d))
		for i := 0; i < 6; i++ {
			occs = append(occs, taskOcc(fmt.Sprintf("t%d-%d", d, i), 20+i*10, 1+i%4, day))
		}
	}
	res := Solve(weekInput(blocks, occs...))
	if len(res.Instances)+len(res.Unscheduled) != len(occs) {
		t.Fatalf("placed %d + unscheduled %d != %d", len(res.Instances), len(res.Unscheduled), len(occs))
	}

	capacity := map[string]int{"evenings": 180, "morning": 90}
	used := map[blockDay]int{}
	for i, a := range res.Instances {
		used[blockDay{blockID: a.BlockID, day: a.OccurrenceDate}] += a.DurationMinutes
		if got := int(a.PlannedEnd.Sub(a.PlannedStart) / time.Minute); got != a.DurationMinutes {
			t.Fatalf("%s span %d min, want %d", a.SourceID, got, a.DurationMinutes)
		}
		for _, b := range res.Instances[i+1:] {
			if a.Interval().Overlaps(b.Interval()) {
				t.Fatalf("%s overlaps %s", a.SourceID, b.SourceID)
			}
		}
	}
	for k, mins := range used {
		if mins > capacity[k.blockID] {
			t.Fatalf("%s on %s uses %d min, capacity %d", k.blockID, k.day, mins, capacity[k.blockID])
		}
	}

	// Solving again with its own output changes nothing.
	in := weekInput(blocks, occs...)
	in.Existing = res.Instances
	again := Solve(in)
	if !reflect.DeepEqual(again.Instances, res.Instances) {
		t.Fatalf("rerun is not idempotent")
	}
}

func TestSolveResultSlicesAreNeverNil(t *testing.T) {
	res := Solve(Input{})
	if res.Instances == nil || res.Unscheduled == nil || res.Conflicts == nil || res.ExistingIDs == nil || res.StaleIDs == nil {
		t.Fatalf("nil slice in empty result: %+v", res)
	}
}

func TestSolveCollapsesSameDayFiringsToOneInstance(t *testing.T) {
	allDay := model.Block{ID: "day", Name: "Day", Enabled: true, Priority: 1, DailyCapacityMinutes: 840,
		Windows: []model.DayWindow{{StartTime: "07:00", EndTime: "21:00"}}}
	stretch := model.RecurringItem{
		ID:              "stretch",
		Kind:            model.SourceRoutine,
		Title:           "Stretch",
		DurationMinutes: 15,
		Recurrence: model.RecurrenceDefinition{
			Rule:   "FREQ=DAILY;BYHOUR=8,19;BYMINUTE=0;BYSECOND=0",
			Anchor: at(monday, 8, 0),
		},
	}
	occs := BuildRecurringOccurrences(stretch, weekContext())
	// A caller that bypasses the builder can still hand in a same-day twin.
	evening := occs[0]
	evening.DueAt = ptr(at(monday, 19, 0))
	occs = append(occs, evening)

	in := weekInput([]model.Block{allDay}, occs...)
	first := Solve(in)
	if len(first.Instances) != 7 {
		t.Fatalf("instances = %d, want 7 (one per day)", len(first.Instances))
	}
	ids := map[string]bool{}
	for i, a := range first.Instances {
		if ids[a.ID] {
			t.Fatalf("duplicate instance id %s on %s", a.ID, a.OccurrenceDate)
		}
		ids[a.ID] = true
		for _, b := range first.Instances[i+1:] {
			if a.Interval().Overlaps(b.Interval()) {
				t.Fatalf("%s overlaps %s", a.OccurrenceDate, b.OccurrenceDate)
			}
		}
	}
	if used := findInstance(t, first, "stretch").DurationMinutes; used != 15 {
		t.Fatalf("duration = %d, want 15", used)
	}

	in.Existing = first.Instances
	second := Solve(in)
	if !reflect.DeepEqual(first.Instances, second.Instances) {
		t.Fatalf("rerun changed instances:\nfirst  %+v\nsecond %+v", first.Instances, second.Instances)
	}
	if len(second.StaleIDs) != 0 {
		t.Fatalf("stale ids = %v", second.StaleIDs)
	}
}
