package schedule

import (
	"strings"

	"github.com/google/uuid"

	"dayplan/internal/model"
)

// instanceNamespace scopes name-based instance ids to this application.
var instanceNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("dayplan:instance"))

// InstanceID is the stable identity of a placement: a name-based (SHA-1)
// UUID of owner, source type, source id and occurrence date. The chosen
// block and time do not take part, so re-running never mints a new id.
func InstanceID(ownerID string, sourceType model.SourceType, sourceID string, day model.DayKey) string {
	name := strings.Join([]string{ownerID, string(sourceType), sourceID, string(day)}, "|")
	return uuid.NewSHA1(instanceNamespace, []byte(name)).String()
}

// identityKey is how existing instances are looked up.
type identityKey struct {
	sourceType model.SourceType
	sourceID   string
	day        model.DayKey
}

func occurrenceKey(o model.Occurrence) identityKey {
	return identityKey{sourceType: o.SourceType, sourceID: o.SourceID, day: o.DayKey}
}

func instanceKey(i model.Instance) identityKey {
	return identityKey{sourceType: i.SourceType, sourceID: i.SourceID, day: i.OccurrenceDate}
}

// existingIndex maps identities to the prior run's instances of one owner.
type existingIndex map[identityKey]model.Instance

func indexExisting(ownerID string, existing []model.Instance) existingIndex {
	idx := make(existingIndex, len(existing))
	for _, inst := range existing {
		if ownerID != "" && inst.OwnerID != ownerID {
			continue
		}
		idx[instanceKey(inst)] = inst
	}
	return idx
}
