package schedule

import (
	"testing"

	"dayplan/internal/model"
)

func TestInstanceIDIsStable(t *testing.T) {
	got := InstanceID("owner-1", model.SourceTask, "task-a", "2026-10-19")
	if want := "2fd216de-23c3-5b1a-9f69-7e38eafa1ccb"; got != want {
		t.Fatalf("InstanceID = %s, want %s", got, want)
	}
	if again := InstanceID("owner-1", model.SourceTask, "task-a", "2026-10-19"); again != got {
		t.Fatalf("InstanceID not deterministic: %s vs %s", again, got)
	}
}

func TestInstanceIDDistinguishesEveryPart(t *testing.T) {
	base := InstanceID("owner-1", model.SourceTask, "task-a", "2026-10-19")
	variants := []string{
		InstanceID("owner-2", model.SourceTask, "task-a", "2026-10-19"),
		InstanceID("owner-1", model.SourceStory, "task-a", "2026-10-19"),
		InstanceID("owner-1", model.SourceTask, "task-b", "2026-10-19"),
		InstanceID("owner-1", model.SourceTask, "task-a", "2026-10-20"),
	}
	for i, v := range variants {
		if v == base {
			t.Fatalf("variant %d collides with base id %s", i, base)
		}
	}
}

func TestIndexExistingFiltersOwner(t *testing.T) {
	idx := indexExisting("owner-1", []model.Instance{
		{ID: "a", OwnerID: "owner-1", SourceType: model.SourceTask, SourceID: "t", OccurrenceDate: "2026-10-19"},
		{ID: "b", OwnerID: "owner-2", SourceType: model.SourceTask, SourceID: "t", OccurrenceDate: "2026-10-20"},
	})
	if len(idx) != 1 {
		t.Fatalf("index size = %d, want 1", len(idx))
	}
	if _, ok := idx[identityKey{sourceType: model.SourceTask, sourceID: "t", day: "2026-10-19"}]; !ok {
		t.Fatalf("owner-1 instance missing from index")
	}
}
