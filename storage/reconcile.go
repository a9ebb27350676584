package storage

import (
	"time"

	"github.com/poiesic/grimoire/core"
)

// Reconcile applies a scan observation to the stored record (nil when the
// path is new) and returns the updated record.
func Reconcile(doc *core.DocumentMetadata, obs Observation, now time.Time) (ChangeKind, *core.DocumentMetadata) {
	change := Unchanged
	switch {
	case doc == nil:
		change = New
		doc = &core.DocumentMetadata{
			Id:          core.IDFromContent(obs.Path),
			Path:        obs.Path,
			ContentHash: obs.ContentHash,
			Revision:    1,
			FirstSeenAt: now,
			UpdatedAt:   now,
		}
	case doc.ContentHash != obs.ContentHash:
		change = Modified
		doc.ContentHash = obs.ContentHash
		doc.Revision++
		doc.UpdatedAt = now
	}
	doc.RulesetID = obs.RulesetID
	doc.Kind = obs.Kind
	doc.LastScannedAt = now
	return change, doc
}
