package model

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// DayKeyLayout is the layout of DayKey values.
const DayKeyLayout = "2006-01-02"

// DayKey identifies a calendar day in the planning time zone, e.g. "2026-10-19".
type DayKey string

// DayKeyOf returns the DayKey of t in t's own location.
func DayKeyOf(t time.Time) DayKey {
	return DayKey(t.Format(DayKeyLayout))
}

// ParseDayKey parses a DayKey into local midnight in loc.
func ParseDayKey(s string, loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.UTC
	}
	return time.ParseInLocation(DayKeyLayout, strings.TrimSpace(s), loc)
}

// ClockTime is a wall-clock time of day in "HH:MM" form.
type ClockTime string

// Minutes returns the number of minutes after midnight. "24:00" is accepted
// as the end of the day.
func (c ClockTime) Minutes() (int, error) {
	s := strings.TrimSpace(string(c))
	hh, mm, ok := strings.Cut(s, ":")
	if !ok {
		return 0, fmt.Errorf("clock time %q: expected HH:MM", s)
	}
	h, err := strconv.Atoi(hh)
	if err != nil {
		return 0, fmt.Errorf("clock time %q: %w", s, err)
	}
	m, err := strconv.Atoi(mm)
	if err != nil {
		return 0, fmt.Errorf("clock time %q: %w", s, err)
	}
	if h < 0 || h > 24 || m < 0 || m > 59 || (h == 24 && m != 0) {
		return 0, fmt.Errorf("clock time %q: out of range", s)
	}
	return h*60 + m, nil
}

// Interval is a half-open absolute time range [Start, End).
type Interval struct {
	Start time.Time `json:"start" yaml:"start"`
	End   time.Time `json:"end" yaml:"end"`
}

// Minutes returns the interval length in (possibly fractional) minutes.
func (iv Interval) Minutes() float64 {
	return iv.End.Sub(iv.Start).Minutes()
}

// Overlaps reports whether the two half-open intervals share any instant.
func (iv Interval) Overlaps(o Interval) bool {
	return iv.Start.Before(o.End) && o.Start.Before(iv.End)
}

// RecurrenceDefinition is an RRULE plus its local reference point.
type RecurrenceDefinition struct {
	// Rule is an RRULE string, with or without the "RRULE:" prefix.
	Rule string `json:"rule" yaml:"rule"`
	// Anchor is the rule's DTSTART. Zero means "start of the window".
	Anchor time.Time `json:"anchor,omitempty" yaml:"anchor,omitempty"`
	// TimeZone is an IANA zone name; empty means the planning zone.
	TimeZone string `json:"timeZone,omitempty" yaml:"time_zone,omitempty"`
	// ExceptionDates suppress every firing on those local dates.
	ExceptionDates []DayKey `json:"exceptionDates,omitempty" yaml:"exception_dates,omitempty"`
}

// IsZero reports whether no rule is configured.
func (r RecurrenceDefinition) IsZero() bool {
	return strings.TrimSpace(r.Rule) == ""
}

// DayWindow is a recurring wall-clock window on selected weekdays.
type DayWindow struct {
	// DaysOfWeek uses ISO numbering, 1=Monday … 7=Sunday. Empty means every day.
	DaysOfWeek []int     `json:"daysOfWeek,omitempty" yaml:"days_of_week,omitempty"`
	StartTime  ClockTime `json:"startTime" yaml:"start_time"`
	EndTime    ClockTime `json:"endTime" yaml:"end_time"`
	ValidFrom  DayKey    `json:"validFrom,omitempty" yaml:"valid_from,omitempty"`
	ValidTo    DayKey    `json:"validTo,omitempty" yaml:"valid_to,omitempty"`
}

// AppliesOn reports whether the window is active on the given local day.
func (w DayWindow) AppliesOn(day time.Time) bool {
	if len(w.DaysOfWeek) > 0 {
		wd := ISOWeekday(day)
		found := false
		for _, d := range w.DaysOfWeek {
			if d == wd {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	key := DayKeyOf(day)
	if w.ValidFrom != "" && key < w.ValidFrom {
		return false
	}
	if w.ValidTo != "" && key > w.ValidTo {
		return false
	}
	return true
}

// ISOWeekday returns 1 for Monday through 7 for Sunday.
func ISOWeekday(t time.Time) int {
	wd := int(t.Weekday())
	if wd == 0 {
		return 7
	}
	return wd
}

// Buffers are minutes kept free around every placement in a block.
type Buffers struct {
	Before int `json:"before" yaml:"before"`
	After  int `json:"after" yaml:"after"`
}

// BlockConstraints narrow which occurrences a block accepts.
type BlockConstraints struct {
	Location     string      `json:"location,omitempty" yaml:"location,omitempty"`
	RequiredTags []string    `json:"requiredTags,omitempty" yaml:"required_tags,omitempty"`
	ExcludedTags []string    `json:"excludedTags,omitempty" yaml:"excluded_tags,omitempty"`
	QuietHours   []DayWindow `json:"quietHours,omitempty" yaml:"quiet_hours,omitempty"`
}

// Block is a recurring availability template such as "Deep Work" or "Evenings".
type Block struct {
	ID                   string               `json:"id" yaml:"id"`
	OwnerID              string               `json:"ownerId" yaml:"owner_id"`
	Name                 string               `json:"name" yaml:"name"`
	Windows              []DayWindow          `json:"windows" yaml:"windows"`
	Recurrence           RecurrenceDefinition `json:"recurrence,omitempty" yaml:"recurrence,omitempty"`
	Buffers              Buffers              `json:"buffers" yaml:"buffers"`
	MinDurationMinutes   int                  `json:"minDurationMinutes" yaml:"min_duration_minutes"`
	MaxDurationMinutes   int                  `json:"maxDurationMinutes" yaml:"max_duration_minutes"`
	DailyCapacityMinutes int                  `json:"dailyCapacityMinutes" yaml:"daily_capacity_minutes"`
	// Priority orders candidate blocks; lower is preferred.
	Priority    int              `json:"priority" yaml:"priority"`
	Enabled     bool             `json:"enabled" yaml:"enabled"`
	Constraints BlockConstraints `json:"constraints" yaml:"constraints"`
	Theme       string           `json:"theme,omitempty" yaml:"theme,omitempty"`
}

// DisplayName returns Name, or ID when the block is unnamed.
func (b Block) DisplayName() string {
	if b.Name != "" {
		return b.Name
	}
	return b.ID
}

// Policy records how downstream schedulers should treat an item that misses
// its anchor day. It is carried through, never enforced here.
type Policy struct {
	Mode               PolicyMode `json:"mode" yaml:"mode"`
	GraceWindowMinutes int        `json:"graceWindowMinutes" yaml:"grace_window_minutes"`
}

// Occurrence is one day's scheduling request derived from a domain item.
// It is recomputed on every run and never persisted.
type Occurrence struct {
	SourceType SourceType `json:"sourceType"`
	SourceID   string     `json:"sourceId"`
	OwnerID    string     `json:"ownerId"`
	Title      string     `json:"title"`
	DayKey     DayKey     `json:"dayKey"`
	// DueAt is when the item is due, used for the urgency theme override.
	DueAt            *time.Time `json:"dueAt,omitempty"`
	DurationMinutes  int        `json:"durationMinutes"`
	Priority         int        `json:"priority"`
	RequiredBlockID  string     `json:"requiredBlockId,omitempty"`
	EligibleBlockIDs []string   `json:"eligibleBlockIds,omitempty"`
	Location         string     `json:"location,omitempty"`
	Tags             []string   `json:"tags,omitempty"`
	Theme            string     `json:"theme,omitempty"`
	Policy           Policy     `json:"policy"`
	DeepLink         string     `json:"deepLink,omitempty"`
}

// SchedulingContext is the non-temporal metadata attached to an instance.
// It is refreshed on every run, even when the placement is carried forward.
type SchedulingContext struct {
	RunID              string     `json:"runId"`
	PolicyMode         PolicyMode `json:"policyMode"`
	GraceWindowMinutes int        `json:"graceWindowMinutes"`
	DeepLink           string     `json:"deepLink,omitempty"`
	Theme              string     `json:"theme,omitempty"`
	Tags               []string   `json:"tags,omitempty"`
	ThemeDecision      string     `json:"themeDecision,omitempty"`
}

// Instance is a concrete placement of one occurrence into a block slot.
type Instance struct {
	ID                string            `json:"id"`
	OwnerID           string            `json:"ownerId"`
	SourceType        SourceType        `json:"sourceType"`
	SourceID          string            `json:"sourceId"`
	Title             string            `json:"title"`
	OccurrenceDate    DayKey            `json:"occurrenceDate"`
	BlockID           string            `json:"blockId"`
	PlannedStart      time.Time         `json:"plannedStart"`
	PlannedEnd        time.Time         `json:"plannedEnd"`
	DurationMinutes   int               `json:"durationMinutes"`
	Priority          int               `json:"priority"`
	Status            InstanceStatus    `json:"status"`
	SchedulingContext SchedulingContext `json:"schedulingContext"`
}

// Interval returns the planned (unbuffered) span.
func (i Instance) Interval() Interval {
	return Interval{Start: i.PlannedStart, End: i.PlannedEnd}
}

// Unscheduled reports an occurrence the solver could not place.
type Unscheduled struct {
	SourceType        SourceType `json:"sourceType"`
	SourceID          string     `json:"sourceId"`
	Title             string     `json:"title"`
	DayKey            DayKey     `json:"dayKey"`
	Reason            Reason     `json:"reason"`
	RequiredBlockID   string     `json:"requiredBlockId,omitempty"`
	CandidateBlockIDs []string   `json:"candidateBlockIds"`
}

// Conflict is a user-facing diagnostic about one occurrence and, when known,
// one block.
type Conflict struct {
	SourceType        SourceType `json:"sourceType"`
	SourceID          string     `json:"sourceId"`
	DayKey            DayKey     `json:"dayKey"`
	Reason            Reason     `json:"reason"`
	RequiredBlockID   string     `json:"requiredBlockId,omitempty"`
	CandidateBlockIDs []string   `json:"candidateBlockIds"`
	BlockID           string     `json:"blockId,omitempty"`
	NeededMinutes     int        `json:"neededMinutes,omitempty"`
	RemainingMinutes  int        `json:"remainingMinutes,omitempty"`
	Message           string     `json:"message"`
}
