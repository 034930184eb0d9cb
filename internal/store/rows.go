package store

import (
	"time"

	"gorm.io/datatypes"
)

type blockRow struct {
	OwnerID   string `gorm:"primaryKey;size:128"`
	ID        string `gorm:"primaryKey;size:128"`
	Enabled   bool
	Doc       datatypes.JSON
	UpdatedAt time.Time
}

func (blockRow) TableName() string { return "blocks" }

type itemRow struct {
	OwnerID   string `gorm:"primaryKey;size:128"`
	Kind      string `gorm:"primaryKey;size:16"`
	ID        string `gorm:"primaryKey;size:128"`
	Doc       datatypes.JSON
	UpdatedAt time.Time
}

func (itemRow) TableName() string { return "items" }

type instanceRow struct {
	ID           string `gorm:"primaryKey;size:64"`
	OwnerID      string `gorm:"size:128;index:idx_instances_owner_day,priority:1"`
	DayKey       string `gorm:"size:10;index:idx_instances_owner_day,priority:2"`
	SourceType   string `gorm:"size:16"`
	SourceID     string `gorm:"size:128"`
	BlockID      string `gorm:"size:128"`
	Status       string `gorm:"size:16"`
	PlannedStart time.Time
	PlannedEnd   time.Time
	Doc          datatypes.JSON
	UpdatedAt    time.Time
}

func (instanceRow) TableName() string { return "instances" }

type busyRow struct {
	ID        uint      `gorm:"primaryKey"`
	OwnerID   string    `gorm:"size:128;index"`
	StartsAt  time.Time `gorm:"index"`
	EndsAt    time.Time
	Note      string
	CreatedAt time.Time
}

func (busyRow) TableName() string { return "busy_intervals" }

type runRow struct {
	ID          string    `gorm:"primaryKey;size:64"`
	OwnerID     string    `gorm:"size:128;index:idx_runs_owner_started,priority:1"`
	StartedAt   time.Time `gorm:"index:idx_runs_owner_started,priority:2"`
	FinishedAt  time.Time
	Placed      int
	Carried     int
	Unscheduled int
	Conflicts   int
	Stale       int
	Error       string
	Report      datatypes.JSON
}

func (runRow) TableName() string { return "plan_runs" }
