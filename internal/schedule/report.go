package schedule

import (
	"fmt"

	"dayplan/internal/model"
)

// reporter accumulates diagnostics for occurrences the solver gave up on.
type reporter struct {
	unscheduled []model.Unscheduled
	conflicts   []model.Conflict
}

func (r *reporter) unschedule(o model.Occurrence, reason model.Reason, candidates []string) {
	r.unscheduled = append(r.unscheduled, model.Unscheduled{
		SourceType:        o.SourceType,
		SourceID:          o.SourceID,
		Title:             o.Title,
		DayKey:            o.DayKey,
		Reason:            reason,
		RequiredBlockID:   o.RequiredBlockID,
		CandidateBlockIDs: nonNil(candidates),
	})
}

func (r *reporter) noEligibleBlock(o model.Occurrence) {
	candidates := requestedBlocks(o)
	r.unschedule(o, model.ReasonNoEligibleBlock, candidates)
	r.conflicts = append(r.conflicts, model.Conflict{
		SourceType:        o.SourceType,
		SourceID:          o.SourceID,
		DayKey:            o.DayKey,
		Reason:            model.ReasonNoEligibleBlock,
		RequiredBlockID:   o.RequiredBlockID,
		CandidateBlockIDs: nonNil(candidates),
		NeededMinutes:     o.DurationMinutes,
		Message:           fmt.Sprintf("No eligible block for %s on %s", label(o), o.DayKey),
	})
}

func (r *reporter) capacity(o model.Occurrence, b model.Block, remaining int, candidates []string) {
	r.conflicts = append(r.conflicts, model.Conflict{
		SourceType:        o.SourceType,
		SourceID:          o.SourceID,
		DayKey:            o.DayKey,
		Reason:            model.ReasonCapacity,
		RequiredBlockID:   o.RequiredBlockID,
		CandidateBlockIDs: nonNil(candidates),
		BlockID:           b.ID,
		NeededMinutes:     o.DurationMinutes,
		RemainingMinutes:  remaining,
		Message: fmt.Sprintf("Block %s has insufficient capacity for %s; needed %d min, remaining %d min",
			b.DisplayName(), label(o), o.DurationMinutes, remaining),
	})
}

func (r *reporter) tooLong(o model.Occurrence, b model.Block, candidates []string) {
	r.conflicts = append(r.conflicts, model.Conflict{
		SourceType:        o.SourceType,
		SourceID:          o.SourceID,
		DayKey:            o.DayKey,
		Reason:            model.ReasonCapacity,
		RequiredBlockID:   o.RequiredBlockID,
		CandidateBlockIDs: nonNil(candidates),
		BlockID:           b.ID,
		NeededMinutes:     o.DurationMinutes,
		RemainingMinutes:  b.MaxDurationMinutes,
		Message: fmt.Sprintf("Block %s accepts at most %d min per item; %s needs %d min",
			b.DisplayName(), b.MaxDurationMinutes, label(o), o.DurationMinutes),
	})
}

func (r *reporter) noSlot(o model.Occurrence, b model.Block, largest int, candidates []string) {
	r.conflicts = append(r.conflicts, model.Conflict{
		SourceType:        o.SourceType,
		SourceID:          o.SourceID,
		DayKey:            o.DayKey,
		Reason:            model.ReasonNoAvailableSlot,
		RequiredBlockID:   o.RequiredBlockID,
		CandidateBlockIDs: nonNil(candidates),
		BlockID:           b.ID,
		NeededMinutes:     o.DurationMinutes,
		RemainingMinutes:  largest,
		Message: fmt.Sprintf("Block %s has no free slot for %s on %s; needed %d min, largest free %d min",
			b.DisplayName(), label(o), o.DayKey, o.DurationMinutes, largest),
	})
}

// requestedBlocks is what the occurrence asked for, for diagnostics.
func requestedBlocks(o model.Occurrence) []string {
	if o.RequiredBlockID != "" {
		return []string{o.RequiredBlockID}
	}
	out := make([]string, len(o.EligibleBlockIDs))
	copy(out, o.EligibleBlockIDs)
	return out
}

func label(o model.Occurrence) string {
	if o.Title != "" {
		return o.Title
	}
	return string(o.SourceType) + " " + o.SourceID
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
