package schedule

import (
	"sort"
	"time"

	"dayplan/internal/model"
)

// minFragment is the shortest interval kept after splitting; anything shorter
// is a rounding artifact of the subtraction and is treated as empty.
const minFragment = 30 * time.Second

// subtract removes cut from every interval in base. A cut strictly inside an
// interval splits it in two, a cut over one edge truncates it, and a
// non-overlapping cut leaves it unchanged.
func subtract(base []model.Interval, cut model.Interval) []model.Interval {
	if !cut.Start.Before(cut.End) {
		return base
	}
	out := make([]model.Interval, 0, len(base)+1)
	for _, iv := range base {
		if !iv.Overlaps(cut) {
			out = append(out, iv)
			continue
		}
		if iv.Start.Before(cut.Start) {
			left := model.Interval{Start: iv.Start, End: cut.Start}
			if left.End.Sub(left.Start) >= minFragment {
				out = append(out, left)
			}
		}
		if cut.End.Before(iv.End) {
			right := model.Interval{Start: cut.End, End: iv.End}
			if right.End.Sub(right.Start) >= minFragment {
				out = append(out, right)
			}
		}
	}
	return out
}

func subtractAll(base []model.Interval, cuts []model.Interval) []model.Interval {
	for _, c := range cuts {
		if len(base) == 0 {
			return base
		}
		base = subtract(base, c)
	}
	return base
}

// merge sorts intervals and joins the ones that overlap or touch.
func merge(ivs []model.Interval) []model.Interval {
	if len(ivs) < 2 {
		return ivs
	}
	sorted := make([]model.Interval, len(ivs))
	copy(sorted, ivs)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Start.Before(sorted[j].Start) })

	out := []model.Interval{sorted[0]}
	for _, iv := range sorted[1:] {
		last := &out[len(out)-1]
		if !iv.Start.After(last.End) {
			if iv.End.After(last.End) {
				last.End = iv.End
			}
			continue
		}
		out = append(out, iv)
	}
	return out
}

// firstOverlap returns the earliest-ending busy interval overlapping win.
func firstOverlap(busy []model.Interval, win model.Interval) (model.Interval, bool) {
	var hit model.Interval
	found := false
	for _, b := range busy {
		if !b.Overlaps(win) {
			continue
		}
		if !found || b.End.Before(hit.End) {
			hit = b
			found = true
		}
	}
	return hit, found
}

func minutes(n int) time.Duration {
	return time.Duration(n) * time.Minute
}
