package schedule

import (
	"time"

	appLog "dayplan/internal/log"
	"dayplan/internal/model"
)

// Slot is a contiguous open piece of one block on one day. NextStart is the
// cursor advanced as occurrences are placed; it only lives for one Solve.
type Slot struct {
	BlockID   string
	Day       model.DayKey
	Start     time.Time
	End       time.Time
	NextStart time.Time
}

// Remaining is the unplaced length of the slot.
func (s Slot) Remaining() time.Duration {
	if !s.NextStart.Before(s.End) {
		return 0
	}
	return s.End.Sub(s.NextStart)
}

// BlockSlots materializes the open slots of b on day (local midnight): the
// windows applying to the day, minus quiet hours, minus busy time, minus
// fragments shorter than the block minimum. Buffers are not baked in; only
// the cursor starts buffers.Before into each fragment.
func BlockSlots(b model.Block, day time.Time, busy []model.Interval) []Slot {
	open := blockWindows(b, day)
	if len(open) == 0 {
		return nil
	}
	open = subtractAll(open, quietIntervals(b, day))
	open = subtractAll(open, busy)

	minLen := minutes(b.MinDurationMinutes)
	if minLen < minFragment {
		minLen = minFragment
	}

	key := model.DayKeyOf(day)
	slots := make([]Slot, 0, len(open))
	for _, iv := range open {
		if iv.End.Sub(iv.Start) < minLen {
			continue
		}
		slots = append(slots, Slot{
			BlockID:   b.ID,
			Day:       key,
			Start:     iv.Start,
			End:       iv.End,
			NextStart: iv.Start.Add(minutes(b.Buffers.Before)),
		})
	}
	return slots
}

// HasWindowOn reports whether any of b's windows applies on day.
func HasWindowOn(b model.Block, day time.Time) bool {
	for _, w := range b.Windows {
		if w.AppliesOn(day) {
			return true
		}
	}
	return false
}

// blockWindows returns the merged absolute windows of b on day.
func blockWindows(b model.Block, day time.Time) []model.Interval {
	var out []model.Interval
	for _, w := range b.Windows {
		if !w.AppliesOn(day) {
			continue
		}
		iv, ok := windowInterval(w, day)
		if !ok {
			appLog.Warn("schedule: skipping invalid block window", "block_id", b.ID,
				"start", string(w.StartTime), "end", string(w.EndTime))
			continue
		}
		out = append(out, iv)
	}
	return merge(out)
}

// quietIntervals returns every quiet-hour interval that can touch day,
// including windows that started the evening before and wrap past midnight.
func quietIntervals(b model.Block, day time.Time) []model.Interval {
	var out []model.Interval
	for _, q := range b.Constraints.QuietHours {
		for offset := -1; offset <= 1; offset++ {
			d := day.AddDate(0, 0, offset)
			if !q.AppliesOn(d) {
				continue
			}
			if iv, ok := windowInterval(q, d); ok {
				out = append(out, iv)
			}
		}
	}
	return out
}

// windowInterval anchors w on day. An end at or before the start wraps past
// midnight into the next day.
func windowInterval(w model.DayWindow, day time.Time) (model.Interval, bool) {
	start, err := w.StartTime.Minutes()
	if err != nil {
		return model.Interval{}, false
	}
	end, err := w.EndTime.Minutes()
	if err != nil {
		return model.Interval{}, false
	}
	if end <= start {
		end += 24 * 60
	}
	return model.Interval{Start: wallClock(day, start), End: wallClock(day, end)}, true
}

// wallClock returns the instant at the given minutes after local midnight of
// day, resolved through the calendar so DST days keep wall-clock times.
func wallClock(day time.Time, mins int) time.Time {
	return time.Date(day.Year(), day.Month(), day.Day(), 0, mins, 0, 0, day.Location())
}

type blockDay struct {
	blockID string
	day     model.DayKey
}

// slotArena owns every Slot of one Solve, indexed by block and day. Slots
// are built on first use and mutated in place through their index.
type slotArena struct {
	slots []Slot
	index map[blockDay][]int
	busy  []model.Interval
}

func newSlotArena(busy []model.Interval) *slotArena {
	return &slotArena{index: make(map[blockDay][]int), busy: busy}
}

// forBlockDay returns arena indexes of b's slots on day, in start order.
func (a *slotArena) forBlockDay(b model.Block, day time.Time) []int {
	k := blockDay{blockID: b.ID, day: model.DayKeyOf(day)}
	if idx, ok := a.index[k]; ok {
		return idx
	}
	built := BlockSlots(b, day, a.busy)
	idx := make([]int, 0, len(built))
	for _, s := range built {
		a.slots = append(a.slots, s)
		idx = append(idx, len(a.slots)-1)
	}
	a.index[k] = idx
	return idx
}
