// Package compare diffs a source snapshot against the canonical record of
// the same scope and produces typed changes. It never touches the store or
// the network: both sides arrive as already-materialized lists, so the same
// functions serve all three sources and test without mocking.
package compare

import (
	"strconv"
	"time"
)

// ChangeType identifies one kind of detected difference
type ChangeType string

const (
	CollectionAdded              ChangeType = "collection_added"
	CollectionRemoved            ChangeType = "collection_removed"
	CollectionRenamed            ChangeType = "collection_renamed"
	CollectionDescriptionChanged ChangeType = "collection_description_changed"
	ItemAdded                    ChangeType = "item_added"
	ItemRemoved                  ChangeType = "item_removed"
	ItemMoved                    ChangeType = "item_moved"
	ItemMetadataChanged          ChangeType = "item_metadata_changed"
)

// Change is a write-once record of one detected difference. It carries
// enough context to be applied without asking the source again.
type Change struct {
	Type       ChangeType
	Source     string
	DetectedAt time.Time

	CollectionID  int64  // canonical collection id, 0 when not yet created
	CollectionKey string // the source's identifier for the collection
	ItemID        int64  // canonical item id, 0 when not yet created
	ItemKey       string // the source's identifier for the item

	Name    string // new name for additions and renames
	OldName string

	Description *string // new description when the snapshot supplied one

	Position    *int
	OldPosition *int

	Collection *CollectionSnapshot // full entry for CollectionAdded
	Item       *MemberSnapshot     // full entry for ItemAdded

	Fields []FieldChange // per-field deltas for ItemMetadataChanged
}

// FieldChange is one changed metadata field with old and new values
type FieldChange struct {
	Field string
	Old   string
	New   string
}

// CollectionRecord is the canonical side of a collection comparison
type CollectionRecord struct {
	Key         string
	ID          int64
	Name        string
	Description string
}

// CollectionSnapshot is one collection as a source currently reports it.
// A nil Description means the source offered no opinion on it.
type CollectionSnapshot struct {
	Key         string
	Name        string
	Description *string
}

// MemberRecord is the canonical side of a membership comparison. Present
// is the presence flag of the source under comparison, so a false value
// with the key still in the snapshot reads as a re-addition.
type MemberRecord struct {
	Key        string
	ItemID     int64
	Present    bool
	Position   *int
	Title      string
	Artist     string
	Album      string
	DurationMs int
}

// MemberSnapshot is one membership entry as a source currently reports it.
// Nil fields mean the source offered no opinion; they are never compared.
type MemberSnapshot struct {
	Key         string
	Title       *string
	Artist      *string
	Album       *string
	DurationMs  *int
	Position    *int
	Unavailable bool // upstream says the content itself is gone
}

// CompareCollections diffs the canonical collection list against one
// source's snapshot. A simultaneous rename and description change yields
// two separate changes so either can fail to apply without the other.
func CompareCollections(canonical []CollectionRecord, snapshot []CollectionSnapshot, source string) []Change {
	now := time.Now()

	known := make(map[string]CollectionRecord, len(canonical))
	for _, rec := range canonical {
		known[rec.Key] = rec
	}

	var changes []Change
	seen := make(map[string]bool, len(snapshot))

	for i := range snapshot {
		snap := snapshot[i]
		if snap.Key == "" || seen[snap.Key] {
			continue
		}
		seen[snap.Key] = true

		rec, ok := known[snap.Key]
		if !ok {
			changes = append(changes, Change{
				Type:          CollectionAdded,
				Source:        source,
				DetectedAt:    now,
				CollectionKey: snap.Key,
				Name:          snap.Name,
				Description:   snap.Description,
				Collection:    &snapshot[i],
			})
			continue
		}

		if snap.Name != rec.Name {
			changes = append(changes, Change{
				Type:          CollectionRenamed,
				Source:        source,
				DetectedAt:    now,
				CollectionID:  rec.ID,
				CollectionKey: snap.Key,
				OldName:       rec.Name,
				Name:          snap.Name,
			})
		}

		if snap.Description != nil && *snap.Description != rec.Description {
			changes = append(changes, Change{
				Type:          CollectionDescriptionChanged,
				Source:        source,
				DetectedAt:    now,
				CollectionID:  rec.ID,
				CollectionKey: snap.Key,
				Name:          rec.Name,
				Description:   snap.Description,
			})
		}
	}

	for _, rec := range canonical {
		if !seen[rec.Key] {
			changes = append(changes, Change{
				Type:          CollectionRemoved,
				Source:        source,
				DetectedAt:    now,
				CollectionID:  rec.ID,
				CollectionKey: rec.Key,
				Name:          rec.Name,
			})
		}
	}

	return changes
}

// CompareMembership diffs one collection's canonical membership against a
// source's snapshot of the same collection. Additions come out before
// positional updates; removals come last.
func CompareMembership(canonical []MemberRecord, snapshot []MemberSnapshot, collectionID int64, source string) []Change {
	now := time.Now()

	known := make(map[string]MemberRecord, len(canonical))
	for _, rec := range canonical {
		known[rec.Key] = rec
	}

	var changes []Change
	seen := make(map[string]bool, len(snapshot))

	for i := range snapshot {
		snap := snapshot[i]
		if snap.Key == "" || seen[snap.Key] {
			continue
		}
		seen[snap.Key] = true

		rec, ok := known[snap.Key]
		if !ok || !rec.Present {
			// New to this source, or returning after a soft removal
			change := Change{
				Type:         ItemAdded,
				Source:       source,
				DetectedAt:   now,
				CollectionID: collectionID,
				ItemKey:      snap.Key,
				Position:     snap.Position,
				Item:         &snapshot[i],
			}
			if ok {
				change.ItemID = rec.ItemID
			}
			changes = append(changes, change)
			continue
		}

		if snap.Position != nil && (rec.Position == nil || *rec.Position != *snap.Position) {
			changes = append(changes, Change{
				Type:         ItemMoved,
				Source:       source,
				DetectedAt:   now,
				CollectionID: collectionID,
				ItemID:       rec.ItemID,
				ItemKey:      snap.Key,
				OldPosition:  rec.Position,
				Position:     snap.Position,
			})
		}

		if fields := metadataFields(rec, snap); len(fields) > 0 {
			changes = append(changes, Change{
				Type:         ItemMetadataChanged,
				Source:       source,
				DetectedAt:   now,
				CollectionID: collectionID,
				ItemID:       rec.ItemID,
				ItemKey:      snap.Key,
				Fields:       fields,
			})
		}
	}

	for _, rec := range canonical {
		if rec.Present && !seen[rec.Key] {
			changes = append(changes, Change{
				Type:         ItemRemoved,
				Source:       source,
				DetectedAt:   now,
				CollectionID: collectionID,
				ItemID:       rec.ItemID,
				ItemKey:      rec.Key,
			})
		}
	}

	return changes
}

// metadataFields collects the per-field deltas between a canonical item and
// a snapshot entry, skipping fields the snapshot did not supply
func metadataFields(rec MemberRecord, snap MemberSnapshot) []FieldChange {
	var fields []FieldChange

	if snap.Title != nil && *snap.Title != rec.Title {
		fields = append(fields, FieldChange{Field: "title", Old: rec.Title, New: *snap.Title})
	}
	if snap.Artist != nil && *snap.Artist != rec.Artist {
		fields = append(fields, FieldChange{Field: "artist", Old: rec.Artist, New: *snap.Artist})
	}
	if snap.Album != nil && *snap.Album != rec.Album {
		fields = append(fields, FieldChange{Field: "album", Old: rec.Album, New: *snap.Album})
	}
	if snap.DurationMs != nil && *snap.DurationMs != rec.DurationMs {
		fields = append(fields, FieldChange{
			Field: "duration_ms",
			Old:   strconv.Itoa(rec.DurationMs),
			New:   strconv.Itoa(*snap.DurationMs),
		})
	}

	return fields
}
