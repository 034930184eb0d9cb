// Package schedule places recurring chores, routines, tasks and stories into
// open slots of availability blocks over a multi-day window.
//
// Solve is a pure, synchronous function of its Input: it does no I/O, keeps
// no state between calls, and is safe to call concurrently for different
// owners. Runs for the same owner must be serialized by the caller, since
// each run's Existing view has to include the previous run's output.
package schedule

import (
	"math"
	"sort"
	"time"

	appLog "dayplan/internal/log"
	"dayplan/internal/model"
	"dayplan/internal/recur"
)

// Input is everything one planning run needs.
type Input struct {
	OwnerID string
	RunID   string
	// Now anchors the "due within 24 hours" theme override. Zero means the
	// start of the window.
	Now      time.Time
	Window   recur.Window
	Location *time.Location
	// Blocks may include disabled blocks; they are ignored.
	Blocks      []model.Block
	Occurrences []model.Occurrence
	// Busy is externally occupied time, e.g. meetings from a calendar feed.
	Busy []model.Interval
	// Existing is the previous runs' output for this owner.
	Existing []model.Instance
}

// Result is the outcome of one run.
type Result struct {
	Instances   []model.Instance    `json:"instances"`
	Unscheduled []model.Unscheduled `json:"unscheduled"`
	Conflicts   []model.Conflict    `json:"conflicts"`
	// ExistingIDs are ids of existing instances reused by this run.
	ExistingIDs []string `json:"existingIds"`
	// StaleIDs are ids of existing instances inside the window that no
	// longer match any occurrence.
	StaleIDs []string `json:"staleIds"`
}

type solver struct {
	in        Input
	loc       *time.Location
	now       time.Time
	blocks    []model.Block
	blockByID map[string]model.Block
	// activeDays holds, for blocks with their own recurrence, the days the
	// block fires. Blocks without one are active every day.
	activeDays map[string]map[model.DayKey]bool
	remaining  map[blockDay]int
	occupied   []model.Interval
	arena      *slotArena
	report     reporter
}

// Solve places every occurrence it can and reports the rest.
func Solve(in Input) Result {
	s := newSolver(in)
	occs := s.normalize(in.Occurrences)
	existing := indexExisting(in.OwnerID, in.Existing)

	// Existing placements are reserved before anything new is placed so their
	// capacity and time are never handed out twice.
	carried := make(map[int]model.Instance)
	matched := make(map[identityKey]bool)
	for i, o := range occs {
		prev, ok := existing[occurrenceKey(o)]
		if !ok {
			continue
		}
		carried[i] = s.carryForward(prev, o)
		matched[occurrenceKey(o)] = true
		s.reserve(prev)
	}
	s.arena = newSlotArena(append([]model.Interval(nil), s.occupied...))

	res := Result{
		Instances:   []model.Instance{},
		ExistingIDs: []string{},
		StaleIDs:    []string{},
	}
	for i, o := range occs {
		if inst, ok := carried[i]; ok {
			res.Instances = append(res.Instances, inst)
			res.ExistingIDs = append(res.ExistingIDs, inst.ID)
			continue
		}
		if inst, ok := s.place(o); ok {
			res.Instances = append(res.Instances, inst)
		}
	}

	start, end := in.Window.Bounds(s.loc)
	for key, inst := range existing {
		if matched[key] {
			continue
		}
		day, err := model.ParseDayKey(string(inst.OccurrenceDate), s.loc)
		if err != nil || day.Before(start) || day.After(end) {
			continue
		}
		res.StaleIDs = append(res.StaleIDs, inst.ID)
	}
	sort.Strings(res.StaleIDs)

	res.Unscheduled = nonNilUnscheduled(s.report.unscheduled)
	res.Conflicts = nonNilConflicts(s.report.conflicts)
	return res
}

func newSolver(in Input) *solver {
	loc := in.Location
	if loc == nil {
		loc = time.UTC
	}
	now := in.Now
	if now.IsZero() {
		now, _ = in.Window.Bounds(loc)
	}

	blocks := make([]model.Block, 0, len(in.Blocks))
	for _, b := range in.Blocks {
		if b.Enabled {
			blocks = append(blocks, b)
		}
	}
	sort.SliceStable(blocks, func(i, j int) bool { return blocks[i].ID < blocks[j].ID })

	s := &solver{
		in:         in,
		loc:        loc,
		now:        now,
		blocks:     blocks,
		blockByID:  make(map[string]model.Block, len(blocks)),
		activeDays: make(map[string]map[model.DayKey]bool),
		remaining:  make(map[blockDay]int),
		occupied:   append([]model.Interval(nil), in.Busy...),
	}
	for _, b := range blocks {
		s.blockByID[b.ID] = b
		if !b.Recurrence.IsZero() {
			s.activeDays[b.ID] = recur.ActiveDays(b.Recurrence, in.Window, loc)
		}
	}
	return s
}

// normalize fills safe defaults, orders occurrences by priority, chores
// first on ties, then source id, and keeps one occurrence per identity.
func (s *solver) normalize(in []model.Occurrence) []model.Occurrence {
	occs := make([]model.Occurrence, len(in))
	copy(occs, in)
	for i := range occs {
		if occs[i].DurationMinutes <= 0 {
			occs[i].DurationMinutes = defaultRecurringMinutes
		}
		if occs[i].Priority <= 0 {
			occs[i].Priority = defaultPriority
		}
		if occs[i].OwnerID == "" {
			occs[i].OwnerID = s.in.OwnerID
		}
	}
	sort.SliceStable(occs, func(i, j int) bool {
		a, b := occs[i], occs[j]
		if a.Priority != b.Priority {
			return a.Priority < b.Priority
		}
		ac, bc := a.SourceType == model.SourceChore, b.SourceType == model.SourceChore
		if ac != bc {
			return ac
		}
		if a.SourceID != b.SourceID {
			return a.SourceID < b.SourceID
		}
		if a.DayKey != b.DayKey {
			return a.DayKey < b.DayKey
		}
		return a.SourceType < b.SourceType
	})

	// Identity is per item per day, so later duplicates would share an id.
	seen := make(map[identityKey]struct{}, len(occs))
	out := occs[:0]
	for _, o := range occs {
		k := occurrenceKey(o)
		if _, dup := seen[k]; dup {
			appLog.Warn("schedule: duplicate occurrence dropped",
				"source_type", string(o.SourceType), "source_id", o.SourceID, "day", string(o.DayKey))
			continue
		}
		seen[k] = struct{}{}
		out = append(out, o)
	}
	return out
}

// carryForward keeps prev's placement and refreshes only metadata.
func (s *solver) carryForward(prev model.Instance, o model.Occurrence) model.Instance {
	inst := prev
	inst.Title = o.Title
	inst.Priority = o.Priority
	if inst.Status == "" {
		inst.Status = model.InstancePlanned
	}
	inst.SchedulingContext = s.context(o, prev.SchedulingContext.ThemeDecision)
	return inst
}

// reserve books an existing placement's capacity and buffered time.
func (s *solver) reserve(prev model.Instance) {
	b, ok := s.blockByID[prev.BlockID]
	if !ok {
		s.occupied = append(s.occupied, prev.Interval())
		return
	}
	k := blockDay{blockID: b.ID, day: prev.OccurrenceDate}
	s.remaining[k] = s.capacityLeft(b, prev.OccurrenceDate) - prev.DurationMinutes
	s.occupied = append(s.occupied, buffered(prev.Interval(), b.Buffers))
}

type candidate struct {
	block    model.Block
	slots    []int
	earliest time.Time
}

// place runs the per-occurrence state machine for an occurrence with no
// existing placement: Pending → Placed | Unscheduled.
func (s *solver) place(o model.Occurrence) (model.Instance, bool) {
	day, err := model.ParseDayKey(string(o.DayKey), s.loc)
	if err != nil {
		appLog.Warn("schedule: occurrence has invalid day", "source_id", o.SourceID, "day", string(o.DayKey))
		s.report.noEligibleBlock(o)
		return model.Instance{}, false
	}

	eligible, decisions := EligibleBlocks(s.blocks, o, s.now)
	active := filterBlocks(eligible, func(b model.Block) bool { return s.activeOn(b, day) })
	if len(active) == 0 {
		s.report.noEligibleBlock(o)
		return model.Instance{}, false
	}
	ids := make([]string, len(active))
	for i, b := range active {
		ids[i] = b.ID
	}

	var cands []candidate
	for _, b := range active {
		if b.MaxDurationMinutes > 0 && o.DurationMinutes > b.MaxDurationMinutes {
			s.report.tooLong(o, b, ids)
			continue
		}
		left := s.capacityLeft(b, o.DayKey)
		if left < o.DurationMinutes {
			s.report.capacity(o, b, left, ids)
			continue
		}
		c := candidate{block: b, slots: s.arena.forBlockDay(b, day)}
		if len(c.slots) > 0 {
			c.earliest = s.arena.slots[c.slots[0]].Start
		}
		cands = append(cands, c)
	}
	sort.SliceStable(cands, func(i, j int) bool {
		a, b := cands[i], cands[j]
		if a.block.Priority != b.block.Priority {
			return a.block.Priority < b.block.Priority
		}
		if len(a.slots) == 0 || len(b.slots) == 0 {
			return len(a.slots) > len(b.slots)
		}
		if !a.earliest.Equal(b.earliest) {
			return a.earliest.Before(b.earliest)
		}
		if len(a.slots) != len(b.slots) {
			return len(a.slots) < len(b.slots)
		}
		return a.block.ID < b.block.ID
	})

	for _, c := range cands {
		for _, si := range c.slots {
			slot := &s.arena.slots[si]
			span, ok := s.fit(slot, c.block.Buffers, o.DurationMinutes)
			if !ok {
				continue
			}
			k := blockDay{blockID: c.block.ID, day: o.DayKey}
			s.remaining[k] = s.capacityLeft(c.block, o.DayKey) - o.DurationMinutes
			s.occupied = append(s.occupied, buffered(span, c.block.Buffers))
			return s.instance(o, c.block, span, decisions[c.block.ID]), true
		}
		s.report.noSlot(o, c.block, s.largestFree(c.slots), ids)
	}

	s.report.unschedule(o, model.ReasonNoAvailableSlot, ids)
	return model.Instance{}, false
}

// fit tries to place duration minutes at the slot cursor (first fit). When
// the buffered placement overlaps occupied time the cursor jumps past it and
// the same slot is retried.
func (s *solver) fit(slot *Slot, buf model.Buffers, duration int) (model.Interval, bool) {
	d := minutes(duration)
	for slot.End.Sub(slot.NextStart) >= d {
		span := model.Interval{Start: slot.NextStart, End: slot.NextStart.Add(d)}
		if hit, ok := firstOverlap(s.occupied, buffered(span, buf)); ok {
			slot.NextStart = hit.End.Add(minutes(buf.Before))
			continue
		}
		slot.NextStart = span.End.Add(minutes(buf.After + buf.Before))
		return span, true
	}
	return model.Interval{}, false
}

func (s *solver) instance(o model.Occurrence, b model.Block, span model.Interval, decision string) model.Instance {
	return model.Instance{
		ID:                InstanceID(o.OwnerID, o.SourceType, o.SourceID, o.DayKey),
		OwnerID:           o.OwnerID,
		SourceType:        o.SourceType,
		SourceID:          o.SourceID,
		Title:             o.Title,
		OccurrenceDate:    o.DayKey,
		BlockID:           b.ID,
		PlannedStart:      span.Start,
		PlannedEnd:        span.End,
		DurationMinutes:   o.DurationMinutes,
		Priority:          o.Priority,
		Status:            model.InstancePlanned,
		SchedulingContext: s.context(o, decision),
	}
}

func (s *solver) context(o model.Occurrence, decision string) model.SchedulingContext {
	return model.SchedulingContext{
		RunID:              s.in.RunID,
		PolicyMode:         o.Policy.Mode,
		GraceWindowMinutes: o.Policy.GraceWindowMinutes,
		DeepLink:           o.DeepLink,
		Theme:              o.Theme,
		Tags:               o.Tags,
		ThemeDecision:      decision,
	}
}

func (s *solver) activeOn(b model.Block, day time.Time) bool {
	if !HasWindowOn(b, day) {
		return false
	}
	if days, ok := s.activeDays[b.ID]; ok {
		return days[model.DayKeyOf(day)]
	}
	return true
}

// capacityLeft returns the block's unallocated minutes on day. A block
// without a daily capacity is limited only by its slots.
func (s *solver) capacityLeft(b model.Block, day model.DayKey) int {
	if left, ok := s.remaining[blockDay{blockID: b.ID, day: day}]; ok {
		return left
	}
	if b.DailyCapacityMinutes <= 0 {
		return math.MaxInt32
	}
	return b.DailyCapacityMinutes
}

func (s *solver) largestFree(slots []int) int {
	var best time.Duration
	for _, si := range slots {
		if r := s.arena.slots[si].Remaining(); r > best {
			best = r
		}
	}
	return int(best / time.Minute)
}

func buffered(iv model.Interval, buf model.Buffers) model.Interval {
	return model.Interval{
		Start: iv.Start.Add(-minutes(buf.Before)),
		End:   iv.End.Add(minutes(buf.After)),
	}
}

func nonNilUnscheduled(u []model.Unscheduled) []model.Unscheduled {
	if u == nil {
		return []model.Unscheduled{}
	}
	return u
}

func nonNilConflicts(c []model.Conflict) []model.Conflict {
	if c == nil {
		return []model.Conflict{}
	}
	return c
}
