package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	appLog "dayplan/internal/log"
	"dayplan/internal/model"
)

func toInstanceRow(inst model.Instance, now time.Time) (instanceRow, error) {
	doc, err := json.Marshal(inst)
	if err != nil {
		return instanceRow{}, err
	}
	return instanceRow{
		ID:           inst.ID,
		OwnerID:      inst.OwnerID,
		DayKey:       string(inst.OccurrenceDate),
		SourceType:   string(inst.SourceType),
		SourceID:     inst.SourceID,
		BlockID:      inst.BlockID,
		Status:       string(inst.Status),
		PlannedStart: inst.PlannedStart.UTC(),
		PlannedEnd:   inst.PlannedEnd.UTC(),
		Doc:          datatypes.JSON(doc),
		UpdatedAt:    now,
	}, nil
}

func fromInstanceRow(r instanceRow) (model.Instance, error) {
	var inst model.Instance
	if err := json.Unmarshal(r.Doc, &inst); err != nil {
		return model.Instance{}, err
	}
	inst.ID = r.ID
	inst.OwnerID = r.OwnerID
	inst.Status = model.InstanceStatus(r.Status)
	return inst, nil
}

// SaveInstances upserts instances by id in one transaction.
func (s *Store) SaveInstances(ctx context.Context, instances []model.Instance) error {
	if len(instances) == 0 {
		return nil
	}
	now := time.Now().UTC()
	rows := make([]instanceRow, 0, len(instances))
	for _, inst := range instances {
		if inst.ID == "" || inst.OwnerID == "" {
			return fmt.Errorf("store: instance for %s %s has no id or owner", inst.SourceType, inst.SourceID)
		}
		r, err := toInstanceRow(inst, now)
		if err != nil {
			return fmt.Errorf("store: encode instance %s: %w", inst.ID, err)
		}
		rows = append(rows, r)
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "id"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"owner_id", "day_key", "source_type", "source_id", "block_id",
				"status", "planned_start", "planned_end", "doc", "updated_at",
			}),
		}).CreateInBatches(&rows, 200).Error
	})
}

// ListInstances returns owner's instances with occurrence dates in
// [from, to], ordered by planned start. An empty bound is open.
func (s *Store) ListInstances(ctx context.Context, ownerID string, from, to model.DayKey) ([]model.Instance, error) {
	q := s.db.WithContext(ctx).Where("owner_id = ?", ownerID)
	if from != "" {
		q = q.Where("day_key >= ?", string(from))
	}
	if to != "" {
		q = q.Where("day_key <= ?", string(to))
	}
	var rows []instanceRow
	if err := q.Order("planned_start, id").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("store: list instances: %w", err)
	}
	out := make([]model.Instance, 0, len(rows))
	for _, r := range rows {
		inst, err := fromInstanceRow(r)
		if err != nil {
			appLog.Warn("store: skipping undecodable instance", "owner_id", ownerID, "instance_id", r.ID, "err", err.Error())
			continue
		}
		out = append(out, inst)
	}
	return out, nil
}

// GetInstance returns one instance or ErrNotFound.
func (s *Store) GetInstance(ctx context.Context, ownerID, id string) (model.Instance, error) {
	var r instanceRow
	err := s.db.WithContext(ctx).Where("owner_id = ? AND id = ?", ownerID, id).First(&r).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return model.Instance{}, ErrNotFound
	}
	if err != nil {
		return model.Instance{}, fmt.Errorf("store: get instance: %w", err)
	}
	return fromInstanceRow(r)
}

// SetInstanceStatus records progress on a placed instance.
func (s *Store) SetInstanceStatus(ctx context.Context, ownerID, id string, status model.InstanceStatus) (model.Instance, error) {
	inst, err := s.GetInstance(ctx, ownerID, id)
	if err != nil {
		return model.Instance{}, err
	}
	inst.Status = status
	if err := s.SaveInstances(ctx, []model.Instance{inst}); err != nil {
		return model.Instance{}, err
	}
	return inst, nil
}

// DeleteInstance removes one instance, freeing its identity for the next
// run.
func (s *Store) DeleteInstance(ctx context.Context, ownerID, id string) error {
	res := s.db.WithContext(ctx).Where("owner_id = ? AND id = ?", ownerID, id).Delete(&instanceRow{})
	if res.Error != nil {
		return fmt.Errorf("store: delete instance: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// DeletePlanned removes the listed instances that are still in the planned
// state and returns how many went. Completed and skipped ones are history
// and stay.
func (s *Store) DeletePlanned(ctx context.Context, ownerID string, ids []string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	res := s.db.WithContext(ctx).
		Where("owner_id = ? AND id IN ? AND status = ?", ownerID, ids, string(model.InstancePlanned)).
		Delete(&instanceRow{})
	if res.Error != nil {
		return 0, fmt.Errorf("store: delete planned: %w", res.Error)
	}
	return res.RowsAffected, nil
}
