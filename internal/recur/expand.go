// Package recur expands RRULE recurrence definitions into concrete,
// zone-aware firing times.
package recur

import (
	"errors"
	"sort"
	"strings"
	"time"

	"github.com/teambition/rrule-go"

	appLog "dayplan/internal/log"
	"dayplan/internal/model"
)

// MaxOccurrences caps a single expansion so that a runaway rule (e.g.
// FREQ=SECONDLY) cannot blow up a planning run.
const MaxOccurrences = 5000

// Window is an inclusive, day-level date range.
type Window struct {
	Start time.Time
	End   time.Time
}

// Days returns local midnights for every day of the window in loc.
func (w Window) Days(loc *time.Location) []time.Time {
	if loc == nil {
		loc = time.UTC
	}
	start := startOfDay(w.Start, loc)
	end := startOfDay(w.End, loc)
	var out []time.Time
	for d := start; !d.After(end); d = d.AddDate(0, 0, 1) {
		out = append(out, d)
	}
	return out
}

// Bounds returns the first and last instant covered by the window in loc.
func (w Window) Bounds(loc *time.Location) (time.Time, time.Time) {
	if loc == nil {
		loc = time.UTC
	}
	start := startOfDay(w.Start, loc)
	end := startOfDay(w.End, loc).AddDate(0, 0, 1).Add(-time.Nanosecond)
	return start, end
}

// Validate reports whether rule parses as an RRULE.
func Validate(rule string) error {
	rule = normalizeRule(rule)
	if rule == "" {
		return errors.New("recur: empty rule")
	}
	_, err := rrule.StrToRRule(rule)
	return err
}

// Expand returns the ordered, duplicate-free firing times of def inside the
// window, with every firing on an exception date removed. An absent or
// malformed rule yields no firings and a logged warning; it never fails.
//
// defaultLoc is used when def.TimeZone is empty or unknown.
func Expand(def model.RecurrenceDefinition, w Window, defaultLoc *time.Location) []time.Time {
	rule := normalizeRule(def.Rule)
	if rule == "" {
		appLog.Warn("recur: empty rule; no occurrences")
		return nil
	}
	if w.End.Before(w.Start) {
		appLog.Warn("recur: window end before start; no occurrences",
			"start", w.Start.Format(time.RFC3339), "end", w.End.Format(time.RFC3339))
		return nil
	}

	loc := ResolveLocation(def.TimeZone, defaultLoc)
	rangeStart, rangeEnd := w.Bounds(loc)

	r, err := rrule.StrToRRule(rule)
	if err != nil {
		appLog.Warn("recur: failed to parse RRULE; no occurrences", "rule", def.Rule, "err", err.Error())
		return nil
	}

	anchor := def.Anchor
	if anchor.IsZero() {
		anchor = rangeStart
	}
	r.DTStart(anchor.In(loc))

	var set rrule.Set
	set.RRule(r)

	times, truncated := Between(&set, rangeStart, rangeEnd, MaxOccurrences)
	if truncated {
		appLog.Warn("recur: truncated occurrences due to cap", "rule", def.Rule, "cap", MaxOccurrences)
	}

	excluded := make(map[model.DayKey]struct{}, len(def.ExceptionDates))
	for _, d := range def.ExceptionDates {
		excluded[d] = struct{}{}
	}

	seen := make(map[int64]struct{}, len(times))
	out := make([]time.Time, 0, len(times))
	for _, t := range times {
		t = t.In(loc)
		if _, skip := excluded[model.DayKeyOf(t)]; skip {
			continue
		}
		k := t.UnixNano()
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return out
}

// Between walks set from its start and returns the firings in
// [start, end], stopping once limit firings are collected. The bool reports
// whether the walk stopped at the limit with firings still inside the range.
func Between(set *rrule.Set, start, end time.Time, limit int) ([]time.Time, bool) {
	var out []time.Time
	next := set.Iterator()
	for {
		t, ok := next()
		if !ok || t.After(end) {
			return out, false
		}
		if t.Before(start) {
			continue
		}
		if len(out) == limit {
			return out, true
		}
		out = append(out, t)
	}
}

// ActiveDays returns the set of local days on which def fires in the window.
func ActiveDays(def model.RecurrenceDefinition, w Window, defaultLoc *time.Location) map[model.DayKey]bool {
	loc := ResolveLocation(def.TimeZone, defaultLoc)
	days := make(map[model.DayKey]bool)
	for _, t := range Expand(def, w, defaultLoc) {
		days[model.DayKeyOf(t.In(loc))] = true
	}
	return days
}

// ResolveLocation loads name, falling back to def (or UTC) when name is
// empty or unknown.
func ResolveLocation(name string, def *time.Location) *time.Location {
	if def == nil {
		def = time.UTC
	}
	if strings.TrimSpace(name) == "" {
		return def
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		appLog.Warn("recur: unknown time zone; using default", "time_zone", name, "default", def.String())
		return def
	}
	return loc
}

func normalizeRule(rule string) string {
	rule = strings.TrimSpace(rule)
	if len(rule) >= 6 && strings.EqualFold(rule[:6], "RRULE:") {
		rule = rule[6:]
	}
	return strings.TrimSpace(rule)
}

func startOfDay(t time.Time, loc *time.Location) time.Time {
	t = t.In(loc)
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc)
}
