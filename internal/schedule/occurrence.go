package schedule

import (
	"math"
	"sort"
	"strings"
	"time"

	"dayplan/internal/model"
	"dayplan/internal/recur"
)

const (
	defaultRecurringMinutes = 30
	defaultPriority         = 3
	lockedInPriority        = 1

	taskDefaultMinutes = 60
	taskMinMinutes     = 15
	taskMaxMinutes     = 240

	storyDefaultMinutes = 90
	storyMinMinutes     = 30
	storyMaxMinutes     = 360

	minutesPerPoint = 45

	DefaultGraceWindowMinutes = 60

	themeChores         = "Chores"
	themePersonalGrowth = "Personal Growth"
)

// themeKeywords maps title/category keywords to an inferred theme. Order
// matters: the first group with a matching keyword wins.
var themeKeywords = []struct {
	theme    string
	keywords []string
}{
	{"Health", []string{"exercise", "workout", "gym", "run", "yoga", "walk", "stretch", "swim"}},
	{"Mindfulness", []string{"meditat", "mindful", "journal", "breath", "gratitude"}},
	{"Learning", []string{"read", "study", "learn", "course", "practice", "language"}},
	{themeChores, []string{"clean", "tidy", "laundry", "dishes", "vacuum", "groceries"}},
}

// Items is everything the builders turn into occurrences for one owner.
type Items struct {
	Chores   []model.RecurringItem
	Routines []model.RecurringItem
	Tasks    []model.Task
	Stories  []model.Story
	Sprints  []model.Sprint
}

// BuildContext is the shared input of every builder.
type BuildContext struct {
	OwnerID       string
	Window        recur.Window
	Location      *time.Location
	DefaultPolicy model.Policy
}

func (c BuildContext) loc() *time.Location {
	if c.Location == nil {
		return time.UTC
	}
	return c.Location
}

func (c BuildContext) inWindow(t time.Time) bool {
	start, end := c.Window.Bounds(c.loc())
	t = t.In(c.loc())
	return !t.Before(start) && !t.After(end)
}

// BuildOccurrences runs every builder over items.
func BuildOccurrences(items Items, ctx BuildContext) []model.Occurrence {
	var out []model.Occurrence
	for _, c := range items.Chores {
		c.Kind = model.SourceChore
		out = append(out, BuildRecurringOccurrences(c, ctx)...)
	}
	for _, r := range items.Routines {
		r.Kind = model.SourceRoutine
		out = append(out, BuildRecurringOccurrences(r, ctx)...)
	}
	for _, t := range items.Tasks {
		if occ, ok := BuildTaskOccurrence(t, ctx); ok {
			out = append(out, occ)
		}
	}
	sprints := make(map[string]model.Sprint, len(items.Sprints))
	for _, s := range items.Sprints {
		sprints[s.ID] = s
	}
	for _, s := range items.Stories {
		if occ, ok := BuildStoryOccurrence(s, sprints, ctx); ok {
			out = append(out, occ)
		}
	}
	return out
}

// BuildRecurringOccurrences expands a chore or routine into one occurrence
// per firing inside the window.
func BuildRecurringOccurrences(item model.RecurringItem, ctx BuildContext) []model.Occurrence {
	if item.Archived {
		return nil
	}
	kind := item.Kind
	if kind != model.SourceRoutine {
		kind = model.SourceChore
	}

	duration := item.DurationMinutes
	if duration <= 0 {
		duration = defaultRecurringMinutes
	}
	priority := item.Priority
	if priority <= 0 {
		priority = defaultPriority
	}
	theme := item.Theme
	if theme == "" {
		theme = InferTheme(kind, item.Title, item.Category)
	}
	owner := item.OwnerID
	if owner == "" {
		owner = ctx.OwnerID
	}

	firings := recur.Expand(item.Recurrence, ctx.Window, ctx.loc())
	out := make([]model.Occurrence, 0, len(firings))
	seen := make(map[model.DayKey]struct{}, len(firings))
	for _, fired := range firings {
		at := fired.In(ctx.loc())
		// One occurrence per item per day; the day's first firing wins.
		day := model.DayKeyOf(at)
		if _, dup := seen[day]; dup {
			continue
		}
		seen[day] = struct{}{}
		out = append(out, model.Occurrence{
			SourceType:       kind,
			SourceID:         item.ID,
			OwnerID:          owner,
			Title:            item.Title,
			DayKey:           day,
			DueAt:            &at,
			DurationMinutes:  duration,
			Priority:         priority,
			RequiredBlockID:  item.RequiredBlockID,
			EligibleBlockIDs: item.EligibleBlockIDs,
			Location:         item.Location,
			Tags:             occurrenceTags(item.Tags, theme),
			Theme:            theme,
			Policy:           resolvePolicy(item.Policy, ctx.DefaultPolicy),
			DeepLink:         item.DeepLink,
		})
	}
	return out
}

// BuildTaskOccurrence returns the task's occurrence on its anchor day, or
// false when the task is finished or its anchor falls outside the window.
func BuildTaskOccurrence(t model.Task, ctx BuildContext) (model.Occurrence, bool) {
	if t.Status == model.TaskDone || t.Deleted || t.ConvertedTo != "" {
		return model.Occurrence{}, false
	}
	anchor := firstTime(t.ScheduledStart, t.DueDate)
	if anchor == nil || !ctx.inWindow(*anchor) {
		return model.Occurrence{}, false
	}

	owner := t.OwnerID
	if owner == "" {
		owner = ctx.OwnerID
	}
	return model.Occurrence{
		SourceType:       model.SourceTask,
		SourceID:         t.ID,
		OwnerID:          owner,
		Title:            t.Title,
		DayKey:           model.DayKeyOf(anchor.In(ctx.loc())),
		DueAt:            dueAt(t.DueDate, anchor, ctx.loc()),
		DurationMinutes:  estimateMinutes(t.EstimateMinutes, t.EstimateHours, t.Points, taskDefaultMinutes, taskMinMinutes, taskMaxMinutes),
		Priority:         itemPriority(t.DueTodayLockedIn, t.PriorityOverride),
		RequiredBlockID:  t.RequiredBlockID,
		EligibleBlockIDs: t.EligibleBlockIDs,
		Location:         t.Location,
		Tags:             occurrenceTags(t.Tags, t.Theme),
		Theme:            t.Theme,
		Policy:           resolvePolicy(t.Policy, ctx.DefaultPolicy),
		DeepLink:         t.DeepLink,
	}, true
}

// BuildStoryOccurrence is the story counterpart of BuildTaskOccurrence. A
// story without dates of its own inherits its sprint's start and end.
func BuildStoryOccurrence(s model.Story, sprints map[string]model.Sprint, ctx BuildContext) (model.Occurrence, bool) {
	if s.Status >= model.StoryDone || s.Deleted {
		return model.Occurrence{}, false
	}
	planned, due := s.PlannedStartDate, s.SprintDueDate
	if planned == nil && due == nil && s.SprintID != "" {
		if sp, ok := sprints[s.SprintID]; ok {
			start, end := sp.StartDate, sp.EndDate
			if !start.IsZero() {
				planned = &start
			}
			if !end.IsZero() {
				due = &end
			}
		}
	}
	anchor := firstTime(planned, due)
	if anchor == nil || !ctx.inWindow(*anchor) {
		return model.Occurrence{}, false
	}

	owner := s.OwnerID
	if owner == "" {
		owner = ctx.OwnerID
	}
	return model.Occurrence{
		SourceType:       model.SourceStory,
		SourceID:         s.ID,
		OwnerID:          owner,
		Title:            s.Title,
		DayKey:           model.DayKeyOf(anchor.In(ctx.loc())),
		DueAt:            dueAt(due, anchor, ctx.loc()),
		DurationMinutes:  estimateMinutes(s.EstimateMinutes, s.EstimateHours, s.Points, storyDefaultMinutes, storyMinMinutes, storyMaxMinutes),
		Priority:         itemPriority(s.DueTodayLockedIn, s.PriorityOverride),
		RequiredBlockID:  s.RequiredBlockID,
		EligibleBlockIDs: s.EligibleBlockIDs,
		Location:         s.Location,
		Tags:             occurrenceTags(s.Tags, s.Theme),
		Theme:            s.Theme,
		Policy:           resolvePolicy(s.Policy, ctx.DefaultPolicy),
		DeepLink:         s.DeepLink,
	}, true
}

// InferTheme guesses a theme for a recurring item that has none.
func InferTheme(kind model.SourceType, title, category string) string {
	if kind == model.SourceChore {
		return themeChores
	}
	text := strings.ToLower(title + " " + category)
	for _, group := range themeKeywords {
		for _, kw := range group.keywords {
			if strings.Contains(text, kw) {
				return group.theme
			}
		}
	}
	return themePersonalGrowth
}

// estimateMinutes prefers explicit minutes, then hours, then points, then
// the default, and clamps the result to [lo, hi].
func estimateMinutes(mins int, hours, points float64, def, lo, hi int) int {
	d := def
	switch {
	case mins > 0:
		d = mins
	case hours > 0:
		d = int(math.Round(hours * 60))
	case points > 0:
		d = int(math.Round(points * minutesPerPoint))
	}
	if d < lo {
		d = lo
	}
	if d > hi {
		d = hi
	}
	return d
}

func itemPriority(lockedIn bool, override int) int {
	if lockedIn {
		return lockedInPriority
	}
	if override > 0 {
		return override
	}
	return defaultPriority
}

func resolvePolicy(p *model.Policy, def model.Policy) model.Policy {
	if p == nil {
		p = &def
	}
	out := model.Policy{
		Mode:               model.ParsePolicyMode(string(p.Mode)),
		GraceWindowMinutes: p.GraceWindowMinutes,
	}
	if out.GraceWindowMinutes <= 0 {
		out.GraceWindowMinutes = DefaultGraceWindowMinutes
	}
	return out
}

// occurrenceTags lowercases and dedupes tags, adding the theme so tag
// constraints can match on it.
func occurrenceTags(tags []string, theme string) []string {
	set := make(map[string]struct{}, len(tags)+1)
	for _, t := range tags {
		if t = normalizeTag(t); t != "" {
			set[t] = struct{}{}
		}
	}
	if t := normalizeTag(theme); t != "" {
		set[t] = struct{}{}
	}
	out := make([]string, 0, len(set))
	for t := range set {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

func normalizeTag(t string) string {
	return strings.ToLower(strings.TrimSpace(t))
}

func firstTime(ts ...*time.Time) *time.Time {
	for _, t := range ts {
		if t != nil && !t.IsZero() {
			return t
		}
	}
	return nil
}

func dueAt(due, anchor *time.Time, loc *time.Location) *time.Time {
	t := firstTime(due, anchor)
	if t == nil {
		return nil
	}
	v := t.In(loc)
	return &v
}
