package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm/clause"

	appLog "dayplan/internal/log"
	"dayplan/internal/model"
	"dayplan/internal/schedule"
)

// ItemKind names the document kinds kept in the items table.
type ItemKind string

const (
	KindChore   ItemKind = "chore"
	KindRoutine ItemKind = "routine"
	KindTask    ItemKind = "task"
	KindStory   ItemKind = "story"
	KindSprint  ItemKind = "sprint"
)

// ParseItemKind accepts singular or plural kind names in any case.
func ParseItemKind(s string) (ItemKind, error) {
	k := strings.TrimSuffix(strings.ToLower(strings.TrimSpace(s)), "s")
	if k == "storie" {
		k = "story"
	}
	switch ItemKind(k) {
	case KindChore, KindRoutine, KindTask, KindStory, KindSprint:
		return ItemKind(k), nil
	}
	return "", fmt.Errorf("store: unknown item kind %q", s)
}

// PutBlock inserts or replaces a block.
func (s *Store) PutBlock(ctx context.Context, b model.Block) error {
	if b.OwnerID == "" || b.ID == "" {
		return errors.New("store: block needs owner and id")
	}
	doc, err := json.Marshal(b)
	if err != nil {
		return fmt.Errorf("store: encode block %s: %w", b.ID, err)
	}
	row := blockRow{
		OwnerID:   b.OwnerID,
		ID:        b.ID,
		Enabled:   b.Enabled,
		Doc:       datatypes.JSON(doc),
		UpdatedAt: time.Now().UTC(),
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "owner_id"}, {Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"enabled", "doc", "updated_at"}),
	}).Create(&row).Error
}

// ListBlocks returns all of owner's blocks ordered by id, disabled ones
// included.
func (s *Store) ListBlocks(ctx context.Context, ownerID string) ([]model.Block, error) {
	var rows []blockRow
	if err := s.db.WithContext(ctx).Where("owner_id = ?", ownerID).Order("id").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("store: list blocks: %w", err)
	}
	out := make([]model.Block, 0, len(rows))
	for _, r := range rows {
		var b model.Block
		if err := json.Unmarshal(r.Doc, &b); err != nil {
			appLog.Warn("store: skipping undecodable block", "owner_id", ownerID, "block_id", r.ID, "err", err.Error())
			continue
		}
		b.ID, b.OwnerID = r.ID, r.OwnerID
		out = append(out, b)
	}
	return out, nil
}

// DeleteBlock removes one block.
func (s *Store) DeleteBlock(ctx context.Context, ownerID, id string) error {
	res := s.db.WithContext(ctx).Where("owner_id = ? AND id = ?", ownerID, id).Delete(&blockRow{})
	if res.Error != nil {
		return fmt.Errorf("store: delete block: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// PutItem inserts or replaces one item document of the given kind.
func (s *Store) PutItem(ctx context.Context, ownerID string, kind ItemKind, id string, doc any) error {
	if ownerID == "" || id == "" {
		return errors.New("store: item needs owner and id")
	}
	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("store: encode %s %s: %w", kind, id, err)
	}
	row := itemRow{
		OwnerID:   ownerID,
		Kind:      string(kind),
		ID:        id,
		Doc:       datatypes.JSON(data),
		UpdatedAt: time.Now().UTC(),
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "owner_id"}, {Name: "kind"}, {Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"doc", "updated_at"}),
	}).Create(&row).Error
}

// DeleteItem removes one item.
func (s *Store) DeleteItem(ctx context.Context, ownerID string, kind ItemKind, id string) error {
	res := s.db.WithContext(ctx).Where("owner_id = ? AND kind = ? AND id = ?", ownerID, string(kind), id).Delete(&itemRow{})
	if res.Error != nil {
		return fmt.Errorf("store: delete item: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// LoadItems decodes every item of owner into the builder input. Documents
// that fail to decode are logged and skipped.
func (s *Store) LoadItems(ctx context.Context, ownerID string) (schedule.Items, error) {
	var rows []itemRow
	if err := s.db.WithContext(ctx).Where("owner_id = ?", ownerID).Order("kind, id").Find(&rows).Error; err != nil {
		return schedule.Items{}, fmt.Errorf("store: load items: %w", err)
	}

	var items schedule.Items
	for _, r := range rows {
		var err error
		switch ItemKind(r.Kind) {
		case KindChore, KindRoutine:
			var it model.RecurringItem
			if err = json.Unmarshal(r.Doc, &it); err == nil {
				it.ID, it.OwnerID = r.ID, r.OwnerID
				if r.Kind == string(KindChore) {
					it.Kind = model.SourceChore
					items.Chores = append(items.Chores, it)
				} else {
					it.Kind = model.SourceRoutine
					items.Routines = append(items.Routines, it)
				}
			}
		case KindTask:
			var t model.Task
			if err = json.Unmarshal(r.Doc, &t); err == nil {
				t.ID, t.OwnerID = r.ID, r.OwnerID
				items.Tasks = append(items.Tasks, t)
			}
		case KindStory:
			var st model.Story
			if err = json.Unmarshal(r.Doc, &st); err == nil {
				st.ID, st.OwnerID = r.ID, r.OwnerID
				items.Stories = append(items.Stories, st)
			}
		case KindSprint:
			var sp model.Sprint
			if err = json.Unmarshal(r.Doc, &sp); err == nil {
				sp.ID, sp.OwnerID = r.ID, r.OwnerID
				items.Sprints = append(items.Sprints, sp)
			}
		default:
			err = fmt.Errorf("unknown kind %q", r.Kind)
		}
		if err != nil {
			appLog.Warn("store: skipping undecodable item", "owner_id", ownerID, "kind", r.Kind, "item_id", r.ID, "err", err.Error())
		}
	}
	return items, nil
}
