package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"dayplan/internal/model"
)

// AddBusy records a manual busy interval (an appointment that is not on any
// feed) and returns its id.
func (s *Store) AddBusy(ctx context.Context, ownerID string, iv model.Interval, note string) (uint, error) {
	if !iv.End.After(iv.Start) {
		return 0, errors.New("store: busy interval must end after it starts")
	}
	row := busyRow{
		OwnerID:  ownerID,
		StartsAt: iv.Start.UTC(),
		EndsAt:   iv.End.UTC(),
		Note:     note,
	}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return 0, fmt.Errorf("store: add busy: %w", err)
	}
	return row.ID, nil
}

// ListBusy returns owner's manual busy intervals overlapping [from, to),
// in loc and ordered by start.
func (s *Store) ListBusy(ctx context.Context, ownerID string, from, to time.Time, loc *time.Location) ([]model.Interval, error) {
	if loc == nil {
		loc = time.UTC
	}
	var rows []busyRow
	err := s.db.WithContext(ctx).
		Where("owner_id = ? AND starts_at < ? AND ends_at > ?", ownerID, to.UTC(), from.UTC()).
		Order("starts_at").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("store: list busy: %w", err)
	}
	out := make([]model.Interval, 0, len(rows))
	for _, r := range rows {
		out = append(out, model.Interval{Start: r.StartsAt.In(loc), End: r.EndsAt.In(loc)})
	}
	return out, nil
}

// DeleteBusy removes one manual busy interval.
func (s *Store) DeleteBusy(ctx context.Context, ownerID string, id uint) error {
	res := s.db.WithContext(ctx).Where("owner_id = ? AND id = ?", ownerID, id).Delete(&busyRow{})
	if res.Error != nil {
		return fmt.Errorf("store: delete busy: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}
