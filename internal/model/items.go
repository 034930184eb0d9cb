package model

import (
	"encoding/json"
	"time"
)

// RecurringItem is a chore or a routine: something that repeats on its own
// recurrence rule.
type RecurringItem struct {
	ID               string               `json:"id"`
	OwnerID          string               `json:"ownerId"`
	Kind             SourceType           `json:"kind"`
	Title            string               `json:"title"`
	Category         string               `json:"category,omitempty"`
	Recurrence       RecurrenceDefinition `json:"recurrence"`
	DurationMinutes  int                  `json:"durationMinutes,omitempty"`
	Priority         int                  `json:"priority,omitempty"`
	Theme            string               `json:"theme,omitempty"`
	Tags             []string             `json:"tags,omitempty"`
	Location         string               `json:"location,omitempty"`
	RequiredBlockID  string               `json:"requiredBlockId,omitempty"`
	EligibleBlockIDs []string             `json:"eligibleBlockIds,omitempty"`
	Policy           *Policy              `json:"policy,omitempty"`
	Archived         bool                 `json:"archived,omitempty"`
	DeepLink         string               `json:"deepLink,omitempty"`
}

// Task is a dated unit of work.
type Task struct {
	ID             string     `json:"id"`
	OwnerID        string     `json:"ownerId"`
	Title          string     `json:"title"`
	Status         TaskStatus `json:"status"`
	Deleted        bool       `json:"deleted,omitempty"`
	ConvertedTo    string     `json:"convertedToStoryId,omitempty"`
	ScheduledStart *time.Time `json:"scheduledStart,omitempty"`
	DueDate        *time.Time `json:"dueDate,omitempty"`
	// Duration inputs, in order of preference.
	EstimateMinutes  int      `json:"estimateMinutes,omitempty"`
	EstimateHours    float64  `json:"estimateHours,omitempty"`
	Points           float64  `json:"points,omitempty"`
	DueTodayLockedIn bool     `json:"dueTodayLockedIn,omitempty"`
	PriorityOverride int      `json:"priorityOverride,omitempty"`
	Theme            string   `json:"theme,omitempty"`
	Tags             []string `json:"tags,omitempty"`
	Location         string   `json:"location,omitempty"`
	RequiredBlockID  string   `json:"requiredBlockId,omitempty"`
	EligibleBlockIDs []string `json:"eligibleBlockIds,omitempty"`
	Policy           *Policy  `json:"policy,omitempty"`
	DeepLink         string   `json:"deepLink,omitempty"`
}

// Story is a larger, sprint-bound unit of work.
type Story struct {
	ID               string      `json:"id"`
	OwnerID          string      `json:"ownerId"`
	Title            string      `json:"title"`
	Status           StoryStatus `json:"status"`
	Deleted          bool        `json:"deleted,omitempty"`
	SprintID         string      `json:"sprintId,omitempty"`
	PlannedStartDate *time.Time  `json:"plannedStartDate,omitempty"`
	SprintDueDate    *time.Time  `json:"sprintDueDate,omitempty"`
	EstimateMinutes  int         `json:"estimateMinutes,omitempty"`
	EstimateHours    float64     `json:"estimateHours,omitempty"`
	Points           float64     `json:"points,omitempty"`
	DueTodayLockedIn bool        `json:"dueTodayLockedIn,omitempty"`
	PriorityOverride int         `json:"priorityOverride,omitempty"`
	Theme            string      `json:"theme,omitempty"`
	Tags             []string    `json:"tags,omitempty"`
	Location         string      `json:"location,omitempty"`
	RequiredBlockID  string      `json:"requiredBlockId,omitempty"`
	EligibleBlockIDs []string    `json:"eligibleBlockIds,omitempty"`
	Policy           *Policy     `json:"policy,omitempty"`
	DeepLink         string      `json:"deepLink,omitempty"`
}

// Sprint supplies inherited dates to stories that have none of their own.
type Sprint struct {
	ID        string    `json:"id"`
	OwnerID   string    `json:"ownerId"`
	Name      string    `json:"name"`
	StartDate time.Time `json:"startDate"`
	EndDate   time.Time `json:"endDate"`
}

// UnmarshalJSON accepts the store's numeric or textual status encodings.
func (s *TaskStatus) UnmarshalJSON(data []byte) error {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if raw == nil {
		*s = TaskBacklog
		return nil
	}
	parsed, err := ParseTaskStatus(raw)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// UnmarshalJSON accepts the store's numeric or textual status encodings.
func (s *StoryStatus) UnmarshalJSON(data []byte) error {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if raw == nil {
		*s = StoryBacklog
		return nil
	}
	parsed, err := ParseStoryStatus(raw)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}
