package model

import (
	"fmt"
	"strconv"
	"strings"
)

// SourceType names the kind of domain item an occurrence came from.
type SourceType string

const (
	SourceChore   SourceType = "chore"
	SourceRoutine SourceType = "routine"
	SourceTask    SourceType = "task"
	SourceStory   SourceType = "story"
)

// ParseSourceType accepts the canonical names and common plurals.
func ParseSourceType(s string) (SourceType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "chore", "chores":
		return SourceChore, nil
	case "routine", "routines", "habit", "habits":
		return SourceRoutine, nil
	case "task", "tasks":
		return SourceTask, nil
	case "story", "stories":
		return SourceStory, nil
	}
	return "", fmt.Errorf("unknown source type %q", s)
}

// Reason explains why an occurrence was not placed.
type Reason string

const (
	ReasonNoEligibleBlock Reason = "no-eligible-block"
	ReasonNoAvailableSlot Reason = "no-available-slot"
	ReasonCapacity        Reason = "capacity"
)

// PolicyMode is the rescheduling policy recorded on occurrences.
type PolicyMode string

const (
	PolicyRollForward PolicyMode = "roll_forward"
	PolicyFixed       PolicyMode = "fixed"
	PolicySkip        PolicyMode = "skip"
)

// ParsePolicyMode returns PolicyRollForward for unknown or empty values.
func ParsePolicyMode(s string) PolicyMode {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "fixed", "pinned":
		return PolicyFixed
	case "skip", "drop":
		return PolicySkip
	default:
		return PolicyRollForward
	}
}

// InstanceStatus is the lifecycle state of a placement.
type InstanceStatus string

const (
	InstancePlanned   InstanceStatus = "planned"
	InstanceCompleted InstanceStatus = "completed"
	InstanceSkipped   InstanceStatus = "skipped"
)

// TaskStatus is the workflow state of a task.
type TaskStatus int

const (
	TaskBacklog TaskStatus = iota
	TaskInProgress
	TaskDone
	TaskBlocked
)

func (s TaskStatus) String() string {
	switch s {
	case TaskBacklog:
		return "backlog"
	case TaskInProgress:
		return "in_progress"
	case TaskDone:
		return "done"
	case TaskBlocked:
		return "blocked"
	}
	return "unknown"
}

// ParseTaskStatus converts a stored status, numeric or textual, into a
// TaskStatus. Numbers follow the store's 0=backlog, 1=in progress, 2=done,
// 3=blocked encoding.
func ParseTaskStatus(v any) (TaskStatus, error) {
	if n, ok := asInt(v); ok {
		if n < int(TaskBacklog) || n > int(TaskBlocked) {
			return TaskBacklog, fmt.Errorf("task status %d out of range", n)
		}
		return TaskStatus(n), nil
	}
	s, ok := v.(string)
	if !ok {
		return TaskBacklog, fmt.Errorf("task status: unsupported type %T", v)
	}
	switch normalizeWord(s) {
	case "", "backlog", "todo", "open", "new":
		return TaskBacklog, nil
	case "inprogress", "doing", "active", "started":
		return TaskInProgress, nil
	case "done", "complete", "completed", "closed":
		return TaskDone, nil
	case "blocked", "onhold", "waiting":
		return TaskBlocked, nil
	}
	return TaskBacklog, fmt.Errorf("unknown task status %q", s)
}

// StoryStatus is the workflow state of a story.
type StoryStatus int

const (
	StoryBacklog StoryStatus = iota
	StoryPlanned
	StoryInProgress
	StoryTesting
	StoryDone
)

func (s StoryStatus) String() string {
	switch s {
	case StoryBacklog:
		return "backlog"
	case StoryPlanned:
		return "planned"
	case StoryInProgress:
		return "in_progress"
	case StoryTesting:
		return "testing"
	case StoryDone:
		return "done"
	}
	return "unknown"
}

// ParseStoryStatus converts a stored story status. Numbers at or above the
// done threshold (4) all map to StoryDone.
func ParseStoryStatus(v any) (StoryStatus, error) {
	if n, ok := asInt(v); ok {
		if n < 0 {
			return StoryBacklog, fmt.Errorf("story status %d out of range", n)
		}
		if n >= int(StoryDone) {
			return StoryDone, nil
		}
		return StoryStatus(n), nil
	}
	s, ok := v.(string)
	if !ok {
		return StoryBacklog, fmt.Errorf("story status: unsupported type %T", v)
	}
	switch normalizeWord(s) {
	case "", "backlog", "todo", "new":
		return StoryBacklog, nil
	case "planned", "ready", "selected":
		return StoryPlanned, nil
	case "inprogress", "doing", "active":
		return StoryInProgress, nil
	case "testing", "review", "qa":
		return StoryTesting, nil
	case "done", "complete", "completed", "closed", "archived":
		return StoryDone, nil
	}
	return StoryBacklog, fmt.Errorf("unknown story status %q", s)
}

// ParsePriority converts "P1", "high", "2" or a number into the numeric
// priority scale where 1 is most urgent. Zero means "not set".
func ParsePriority(v any) (int, error) {
	if v == nil {
		return 0, nil
	}
	if n, ok := asInt(v); ok {
		if n < 0 {
			return 0, fmt.Errorf("priority %d out of range", n)
		}
		return n, nil
	}
	s, ok := v.(string)
	if !ok {
		return 0, fmt.Errorf("priority: unsupported type %T", v)
	}
	w := normalizeWord(s)
	switch w {
	case "":
		return 0, nil
	case "critical", "urgent":
		return 1, nil
	case "high":
		return 2, nil
	case "medium", "normal":
		return 3, nil
	case "low":
		return 4, nil
	}
	w = strings.TrimPrefix(w, "p")
	n, err := strconv.Atoi(w)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("unknown priority %q", s)
	}
	return n, nil
}

func asInt(v any) (int, bool) {
	switch val := v.(type) {
	case int:
		return val, true
	case int32:
		return int(val), true
	case int64:
		return int(val), true
	case float64:
		return int(val), true
	case float32:
		return int(val), true
	case TaskStatus:
		return int(val), true
	case StoryStatus:
		return int(val), true
	}
	return 0, false
}

func normalizeWord(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	return strings.NewReplacer("_", "", "-", "", " ", "").Replace(s)
}
