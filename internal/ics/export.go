package ics

import (
	"fmt"
	"sort"
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"

	"dayplan/internal/model"
)

// ExportInstances renders planned instances as a PUBLISH calendar that
// other calendar apps can subscribe to. The instance id is the event UID,
// so re-exports update events in place instead of duplicating them.
func ExportInstances(name string, instances []model.Instance, stamp time.Time) string {
	cal := ical.NewCalendarFor("dayplan")
	cal.SetMethod(ical.MethodPublish)
	if name != "" {
		cal.SetXWRCalName(name)
	}

	sorted := make([]model.Instance, len(instances))
	copy(sorted, instances)
	sort.SliceStable(sorted, func(i, j int) bool {
		if !sorted[i].PlannedStart.Equal(sorted[j].PlannedStart) {
			return sorted[i].PlannedStart.Before(sorted[j].PlannedStart)
		}
		return sorted[i].ID < sorted[j].ID
	})

	for _, inst := range sorted {
		ev := cal.AddEvent(inst.ID)
		ev.SetDtStampTime(stamp.UTC())
		ev.SetStartAt(inst.PlannedStart.UTC())
		ev.SetEndAt(inst.PlannedEnd.UTC())
		ev.SetSummary(summaryOf(inst))
		ev.SetDescription(describe(inst))
		if inst.Status == model.InstanceSkipped {
			ev.SetStatus(ical.ObjectStatusCancelled)
		} else {
			ev.SetStatus(ical.ObjectStatusConfirmed)
		}
		if link := inst.SchedulingContext.DeepLink; link != "" {
			ev.SetURL(link)
		}
		if cats := categories(inst); cats != "" {
			ev.SetProperty(ical.ComponentPropertyCategories, cats)
		}
	}
	return cal.Serialize()
}

func summaryOf(inst model.Instance) string {
	if inst.Title != "" {
		return inst.Title
	}
	return fmt.Sprintf("%s %s", inst.SourceType, inst.SourceID)
}

func describe(inst model.Instance) string {
	lines := []string{
		fmt.Sprintf("Source: %s %s", inst.SourceType, inst.SourceID),
		fmt.Sprintf("Block: %s", inst.BlockID),
		fmt.Sprintf("Priority: P%d", inst.Priority),
		fmt.Sprintf("Status: %s", inst.Status),
	}
	if d := inst.SchedulingContext.ThemeDecision; d != "" {
		lines = append(lines, "Theme decision: "+d)
	}
	return strings.Join(lines, "\n")
}

func categories(inst model.Instance) string {
	var out []string
	if inst.SchedulingContext.Theme != "" {
		out = append(out, inst.SchedulingContext.Theme)
	}
	out = append(out, string(inst.SourceType))
	return strings.Join(out, ",")
}
