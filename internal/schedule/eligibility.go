package schedule

import (
	"strings"
	"time"

	"dayplan/internal/model"
)

// Theme decisions. The accepting ones are returned by the first matching
// predicate in themeRules; ThemeMismatch is returned when none match.
const (
	ThemeBlockUnthemed      = "block-unthemed"
	ThemeOccurrenceUnthemed = "occurrence-unthemed"
	ThemeMatch              = "theme-match"
	ThemeDueSoon            = "due-within-24h"
	ThemeHighPriority       = "high-priority"
	ThemeMismatch           = "theme-mismatch"
)

// urgentWithin is how close a due time must be to override a theme.
const urgentWithin = 24 * time.Hour

// highPriorityMax is the numerically largest priority that overrides a theme.
const highPriorityMax = 2

type themeRule struct {
	name  string
	match func(b model.Block, o model.Occurrence, now time.Time) bool
}

var themeRules = []themeRule{
	{ThemeBlockUnthemed, func(b model.Block, _ model.Occurrence, _ time.Time) bool {
		return strings.TrimSpace(b.Theme) == ""
	}},
	{ThemeOccurrenceUnthemed, func(_ model.Block, o model.Occurrence, _ time.Time) bool {
		return strings.TrimSpace(o.Theme) == ""
	}},
	{ThemeMatch, func(b model.Block, o model.Occurrence, _ time.Time) bool {
		return strings.EqualFold(strings.TrimSpace(b.Theme), strings.TrimSpace(o.Theme))
	}},
	{ThemeDueSoon, func(_ model.Block, o model.Occurrence, now time.Time) bool {
		return o.DueAt != nil && o.DueAt.Sub(now) <= urgentWithin
	}},
	{ThemeHighPriority, func(_ model.Block, o model.Occurrence, _ time.Time) bool {
		return o.Priority > 0 && o.Priority <= highPriorityMax
	}},
}

// ThemeDecision returns the name of the first theme rule that lets b host o,
// and whether any did.
func ThemeDecision(b model.Block, o model.Occurrence, now time.Time) (string, bool) {
	for _, r := range themeRules {
		if r.match(b, o, now) {
			return r.name, true
		}
	}
	return ThemeMismatch, false
}

// EligibleBlocks narrows blocks to the ones allowed to host o, preserving
// input order. Stages run in sequence (pinning, allow-list, location, tags,
// theme) and an empty stage ends the filter. The returned map holds the
// accepting theme decision per surviving block id.
func EligibleBlocks(blocks []model.Block, o model.Occurrence, now time.Time) ([]model.Block, map[string]string) {
	stages := []func(model.Block) bool{
		func(b model.Block) bool {
			return o.RequiredBlockID == "" || b.ID == o.RequiredBlockID
		},
		func(b model.Block) bool {
			return len(o.EligibleBlockIDs) == 0 || containsString(o.EligibleBlockIDs, b.ID)
		},
		func(b model.Block) bool {
			return strings.TrimSpace(o.Location) == "" ||
				strings.EqualFold(strings.TrimSpace(b.Constraints.Location), strings.TrimSpace(o.Location))
		},
		func(b model.Block) bool {
			return tagsAllowed(b.Constraints, o.Tags)
		},
	}

	current := blocks
	for _, keep := range stages {
		if len(current) == 0 {
			return nil, nil
		}
		current = filterBlocks(current, keep)
	}
	if len(current) == 0 {
		return nil, nil
	}

	decisions := make(map[string]string, len(current))
	out := make([]model.Block, 0, len(current))
	for _, b := range current {
		if reason, ok := ThemeDecision(b, o, now); ok {
			decisions[b.ID] = reason
			out = append(out, b)
		}
	}
	if len(out) == 0 {
		return nil, nil
	}
	return out, decisions
}

// tagsAllowed drops blocks excluding any carried tag; otherwise a block with
// required tags needs at least one of them.
func tagsAllowed(c model.BlockConstraints, tags []string) bool {
	carried := make(map[string]struct{}, len(tags))
	for _, t := range tags {
		carried[normalizeTag(t)] = struct{}{}
	}
	for _, ex := range c.ExcludedTags {
		if _, ok := carried[normalizeTag(ex)]; ok {
			return false
		}
	}
	if len(c.RequiredTags) == 0 {
		return true
	}
	for _, req := range c.RequiredTags {
		if _, ok := carried[normalizeTag(req)]; ok {
			return true
		}
	}
	return false
}

func filterBlocks(in []model.Block, keep func(model.Block) bool) []model.Block {
	out := make([]model.Block, 0, len(in))
	for _, b := range in {
		if keep(b) {
			out = append(out, b)
		}
	}
	return out
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
