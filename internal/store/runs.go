package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Run is the history row of one planning run.
type Run struct {
	ID          string          `json:"id"`
	OwnerID     string          `json:"ownerId"`
	StartedAt   time.Time       `json:"startedAt"`
	FinishedAt  time.Time       `json:"finishedAt"`
	Placed      int             `json:"placed"`
	Carried     int             `json:"carried"`
	Unscheduled int             `json:"unscheduled"`
	Conflicts   int             `json:"conflicts"`
	Stale       int             `json:"stale"`
	Error       string          `json:"error,omitempty"`
	Report      json.RawMessage `json:"report,omitempty"`
}

// SaveRun appends a run to the history.
func (s *Store) SaveRun(ctx context.Context, r Run) error {
	if r.ID == "" || r.OwnerID == "" {
		return errors.New("store: run needs id and owner")
	}
	report := r.Report
	if len(report) == 0 {
		report = json.RawMessage(`{}`)
	}
	row := runRow{
		ID:          r.ID,
		OwnerID:     r.OwnerID,
		StartedAt:   r.StartedAt.UTC(),
		FinishedAt:  r.FinishedAt.UTC(),
		Placed:      r.Placed,
		Carried:     r.Carried,
		Unscheduled: r.Unscheduled,
		Conflicts:   r.Conflicts,
		Stale:       r.Stale,
		Error:       r.Error,
		Report:      datatypes.JSON(report),
	}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return fmt.Errorf("store: save run: %w", err)
	}
	return nil
}

// LatestRun returns owner's most recent run or ErrNotFound.
func (s *Store) LatestRun(ctx context.Context, ownerID string) (Run, error) {
	var row runRow
	err := s.db.WithContext(ctx).Where("owner_id = ?", ownerID).Order("started_at DESC").First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Run{}, ErrNotFound
	}
	if err != nil {
		return Run{}, fmt.Errorf("store: latest run: %w", err)
	}
	return Run{
		ID:          row.ID,
		OwnerID:     row.OwnerID,
		StartedAt:   row.StartedAt,
		FinishedAt:  row.FinishedAt,
		Placed:      row.Placed,
		Carried:     row.Carried,
		Unscheduled: row.Unscheduled,
		Conflicts:   row.Conflicts,
		Stale:       row.Stale,
		Error:       row.Error,
		Report:      json.RawMessage(row.Report),
	}, nil
}
