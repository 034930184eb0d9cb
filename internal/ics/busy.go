package ics

import (
	"sort"
	"time"

	"github.com/teambition/rrule-go"

	appLog "dayplan/internal/log"
	"dayplan/internal/model"
	"dayplan/internal/recur"
)

// BusyOptions controls which feed events count as busy time.
type BusyOptions struct {
	// IncludeAllDay makes opaque all-day events block the whole day.
	IncludeAllDay bool
	// MaxPerEvent caps one recurring event's expansion; zero uses
	// recur.MaxOccurrences.
	MaxPerEvent int
}

// ExpandBusy turns parsed feed events into the busy intervals that overlap
// the planning window, sorted by start. Recurring events are expanded with
// their EXDATEs and RECURRENCE-ID overrides; cancelled and transparent
// events do not block time.
func ExpandBusy(events []ParsedEvent, w recur.Window, loc *time.Location, opts BusyOptions) []model.Interval {
	if loc == nil {
		loc = time.UTC
	}
	if opts.MaxPerEvent <= 0 {
		opts.MaxPerEvent = recur.MaxOccurrences
	}
	rangeStart, rangeEnd := w.Bounds(loc)

	bases := make(map[string][]ParsedEvent)
	overrides := make(map[string][]ParsedEvent)
	var uids []string
	for _, ev := range events {
		if ev.IsOverride {
			overrides[ev.UID] = append(overrides[ev.UID], ev)
			continue
		}
		if _, ok := bases[ev.UID]; !ok {
			uids = append(uids, ev.UID)
		}
		bases[ev.UID] = append(bases[ev.UID], ev)
	}
	sort.Strings(uids)

	var out []model.Interval
	add := func(ev ParsedEvent, start, end time.Time) {
		if ev.Cancelled || ev.Transparent || (ev.AllDay && !opts.IncludeAllDay) {
			return
		}
		if !end.After(start) || !start.Before(rangeEnd) || !end.After(rangeStart) {
			return
		}
		out = append(out, model.Interval{Start: start.In(loc), End: end.In(loc)})
	}

	for _, uid := range uids {
		ov := overrides[uid]
		for _, ev := range bases[uid] {
			if ev.RawRRule == "" {
				if o, ok := overrideFor(ov, ev.Start); ok {
					add(o, o.Start, o.End)
					continue
				}
				add(ev, ev.Start, ev.End)
				continue
			}
			for _, start := range firings(ev, rangeStart, rangeEnd, opts.MaxPerEvent) {
				if o, ok := overrideFor(ov, start); ok {
					add(o, o.Start, o.End)
					continue
				}
				end := start.Add(ev.End.Sub(ev.Start))
				if ev.AllDay {
					end = start.AddDate(0, 0, 1)
				}
				add(ev, start, end)
			}
		}
	}

	sort.Slice(out, func(i, j int) bool {
		if !out[i].Start.Equal(out[j].Start) {
			return out[i].Start.Before(out[j].Start)
		}
		return out[i].End.Before(out[j].End)
	})
	return out
}

// firings expands a recurring event in its own zone, widening the range by
// the event length so that instances running into the window are kept.
func firings(ev ParsedEvent, rangeStart, rangeEnd time.Time, limit int) []time.Time {
	r, err := rrule.StrToRRule(ev.RawRRule)
	if err != nil {
		appLog.Warn("ics: bad RRULE; event ignored", "feed_id", ev.Source.ID, "uid", ev.UID, "rrule", ev.RawRRule)
		return nil
	}
	evLoc := ev.Start.Location()
	r.DTStart(ev.Start)

	var set rrule.Set
	set.RRule(r)
	for _, ex := range ev.ExDates {
		set.ExDate(ex.In(evLoc))
	}

	span := ev.End.Sub(ev.Start)
	times, truncated := recur.Between(&set, rangeStart.Add(-span).In(evLoc), rangeEnd.In(evLoc), limit)
	if truncated {
		appLog.Warn("ics: truncated recurring event", "feed_id", ev.Source.ID, "uid", ev.UID, "cap", limit)
	}
	return times
}

func overrideFor(overrides []ParsedEvent, start time.Time) (ParsedEvent, bool) {
	for _, o := range overrides {
		if o.Recurrence != nil && o.Recurrence.Equal(start) {
			return o, true
		}
	}
	return ParsedEvent{}, false
}
