package compare

import (
	"testing"
)

func strPtr(s string) *string { return &s }
func intPtr(i int) *int       { return &i }

func TestCompareCollections_Identical(t *testing.T) {
	canonical := []CollectionRecord{
		{Key: "pl-1", ID: 1, Name: "Summer Mix"},
		{Key: "pl-2", ID: 2, Name: "Roadtrip", Description: "long drives"},
	}
	snapshot := []CollectionSnapshot{
		{Key: "pl-1", Name: "Summer Mix"},
		{Key: "pl-2", Name: "Roadtrip", Description: strPtr("long drives")},
	}

	changes := CompareCollections(canonical, snapshot, "catalog")
	if len(changes) != 0 {
		t.Errorf("expected no changes for identical lists, got %d: %+v", len(changes), changes)
	}
}

func TestCompareCollections_OneRename(t *testing.T) {
	canonical := []CollectionRecord{
		{Key: "pl-1", ID: 1, Name: "Summer Mix"},
		{Key: "pl-2", ID: 2, Name: "Roadtrip"},
	}
	snapshot := []CollectionSnapshot{
		{Key: "pl-1", Name: "Summer Mix 2024"},
		{Key: "pl-2", Name: "Roadtrip"},
	}

	changes := CompareCollections(canonical, snapshot, "catalog")
	if len(changes) != 1 {
		t.Fatalf("expected exactly one change, got %d: %+v", len(changes), changes)
	}

	c := changes[0]
	if c.Type != CollectionRenamed {
		t.Errorf("expected %s, got %s", CollectionRenamed, c.Type)
	}
	if c.CollectionID != 1 || c.OldName != "Summer Mix" || c.Name != "Summer Mix 2024" {
		t.Errorf("unexpected rename change: %+v", c)
	}
}

func TestCompareCollections_AddedAndRemoved(t *testing.T) {
	canonical := []CollectionRecord{
		{Key: "pl-1", ID: 1, Name: "Summer Mix"},
	}
	snapshot := []CollectionSnapshot{
		{Key: "pl-2", Name: "Winter Mix", Description: strPtr("cold")},
	}

	changes := CompareCollections(canonical, snapshot, "catalog")
	if len(changes) != 2 {
		t.Fatalf("expected two changes, got %d: %+v", len(changes), changes)
	}

	if changes[0].Type != CollectionAdded || changes[0].CollectionKey != "pl-2" {
		t.Errorf("expected addition of pl-2 first, got %+v", changes[0])
	}
	if changes[0].Collection == nil || changes[0].Collection.Name != "Winter Mix" {
		t.Errorf("expected addition to carry the snapshot entry, got %+v", changes[0].Collection)
	}

	if changes[1].Type != CollectionRemoved || changes[1].CollectionID != 1 {
		t.Errorf("expected removal of pl-1, got %+v", changes[1])
	}
}

func TestCompareCollections_RenameAndDescriptionAreSeparate(t *testing.T) {
	canonical := []CollectionRecord{
		{Key: "pl-1", ID: 1, Name: "Summer Mix", Description: "old"},
	}
	snapshot := []CollectionSnapshot{
		{Key: "pl-1", Name: "Summer Mix 2024", Description: strPtr("new")},
	}

	changes := CompareCollections(canonical, snapshot, "catalog")
	if len(changes) != 2 {
		t.Fatalf("expected two separate changes, got %d: %+v", len(changes), changes)
	}
	if changes[0].Type != CollectionRenamed {
		t.Errorf("expected rename first, got %s", changes[0].Type)
	}
	if changes[1].Type != CollectionDescriptionChanged {
		t.Errorf("expected description change second, got %s", changes[1].Type)
	}
	if changes[1].Description == nil || *changes[1].Description != "new" {
		t.Errorf("expected new description carried, got %+v", changes[1].Description)
	}
}

func TestCompareCollections_NilDescriptionIsNoOpinion(t *testing.T) {
	canonical := []CollectionRecord{
		{Key: "pl-1", ID: 1, Name: "Summer Mix", Description: "keep me"},
	}
	snapshot := []CollectionSnapshot{
		{Key: "pl-1", Name: "Summer Mix"}, // no description supplied
	}

	changes := CompareCollections(canonical, snapshot, "desktop")
	if len(changes) != 0 {
		t.Errorf("expected absent field to mean no opinion, got %+v", changes)
	}
}

func TestCompareMembership_AddedMovedRemoved(t *testing.T) {
	canonical := []MemberRecord{
		{Key: "t-1", ItemID: 10, Present: true, Position: intPtr(0), Title: "Song 1", Artist: "Artist A"},
		{Key: "t-2", ItemID: 20, Present: true, Position: intPtr(1), Title: "Song 2", Artist: "Artist A"},
	}
	snapshot := []MemberSnapshot{
		{Key: "t-2", Title: strPtr("Song 2"), Artist: strPtr("Artist A"), Position: intPtr(0)},
		{Key: "t-3", Title: strPtr("Song 3"), Artist: strPtr("Artist B"), Position: intPtr(1)},
	}

	changes := CompareMembership(canonical, snapshot, 5, "catalog")
	if len(changes) != 3 {
		t.Fatalf("expected three changes, got %d: %+v", len(changes), changes)
	}

	// Snapshot order first: the move, then the addition, removals last
	if changes[0].Type != ItemMoved || changes[0].ItemID != 20 {
		t.Errorf("expected move of t-2, got %+v", changes[0])
	}
	if changes[0].OldPosition == nil || *changes[0].OldPosition != 1 {
		t.Errorf("expected old position 1, got %+v", changes[0].OldPosition)
	}
	if changes[0].Position == nil || *changes[0].Position != 0 {
		t.Errorf("expected new position 0, got %+v", changes[0].Position)
	}

	if changes[1].Type != ItemAdded || changes[1].ItemKey != "t-3" {
		t.Errorf("expected addition of t-3, got %+v", changes[1])
	}
	if changes[1].Item == nil || changes[1].Item.Title == nil || *changes[1].Item.Title != "Song 3" {
		t.Errorf("expected addition to carry the snapshot entry, got %+v", changes[1].Item)
	}
	if changes[1].CollectionID != 5 {
		t.Errorf("expected collection id on change, got %d", changes[1].CollectionID)
	}

	if changes[2].Type != ItemRemoved || changes[2].ItemID != 10 {
		t.Errorf("expected removal of t-1, got %+v", changes[2])
	}
}

func TestCompareMembership_ReAdditionAfterSoftRemoval(t *testing.T) {
	// The edge exists but this source's flag is down; seeing the key again
	// must read as an addition that carries the canonical item id
	canonical := []MemberRecord{
		{Key: "t-1", ItemID: 10, Present: false, Title: "Song 1", Artist: "Artist A"},
	}
	snapshot := []MemberSnapshot{
		{Key: "t-1", Title: strPtr("Song 1"), Artist: strPtr("Artist A")},
	}

	changes := CompareMembership(canonical, snapshot, 5, "catalog")
	if len(changes) != 1 {
		t.Fatalf("expected one change, got %d: %+v", len(changes), changes)
	}
	if changes[0].Type != ItemAdded {
		t.Errorf("expected %s, got %s", ItemAdded, changes[0].Type)
	}
	if changes[0].ItemID != 10 {
		t.Errorf("expected existing item id carried, got %d", changes[0].ItemID)
	}
}

func TestCompareMembership_MetadataFields(t *testing.T) {
	canonical := []MemberRecord{
		{Key: "t-1", ItemID: 10, Present: true, Title: "Song 1", Artist: "Artist A", Album: "Old Album", DurationMs: 200000},
	}
	snapshot := []MemberSnapshot{
		{
			Key:        "t-1",
			Title:      strPtr("Song One"), // renamed upstream
			Artist:     strPtr("Artist A"),
			DurationMs: intPtr(201000),
			// Album deliberately absent: no opinion
		},
	}

	changes := CompareMembership(canonical, snapshot, 5, "catalog")
	if len(changes) != 1 {
		t.Fatalf("expected one change, got %d: %+v", len(changes), changes)
	}

	c := changes[0]
	if c.Type != ItemMetadataChanged {
		t.Fatalf("expected %s, got %s", ItemMetadataChanged, c.Type)
	}
	if len(c.Fields) != 2 {
		t.Fatalf("expected two changed fields, got %+v", c.Fields)
	}
	if c.Fields[0].Field != "title" || c.Fields[0].Old != "Song 1" || c.Fields[0].New != "Song One" {
		t.Errorf("unexpected title delta: %+v", c.Fields[0])
	}
	if c.Fields[1].Field != "duration_ms" || c.Fields[1].New != "201000" {
		t.Errorf("unexpected duration delta: %+v", c.Fields[1])
	}
}

func TestCompareMembership_IdenticalYieldsNothing(t *testing.T) {
	canonical := []MemberRecord{
		{Key: "t-1", ItemID: 10, Present: true, Position: intPtr(0), Title: "Song 1", Artist: "Artist A"},
	}
	snapshot := []MemberSnapshot{
		{Key: "t-1", Title: strPtr("Song 1"), Artist: strPtr("Artist A"), Position: intPtr(0)},
	}

	changes := CompareMembership(canonical, snapshot, 5, "catalog")
	if len(changes) != 0 {
		t.Errorf("expected no changes for identical membership, got %+v", changes)
	}
}

func TestCompareMembership_DuplicateSnapshotKeysIgnored(t *testing.T) {
	snapshot := []MemberSnapshot{
		{Key: "t-1", Title: strPtr("Song 1"), Artist: strPtr("Artist A"), Position: intPtr(0)},
		{Key: "t-1", Title: strPtr("Song 1"), Artist: strPtr("Artist A"), Position: intPtr(7)},
	}

	changes := CompareMembership(nil, snapshot, 5, "catalog")
	if len(changes) != 1 {
		t.Fatalf("expected one change for a duplicated key, got %d: %+v", len(changes), changes)
	}
	if changes[0].Position == nil || *changes[0].Position != 0 {
		t.Errorf("expected first occurrence to win, got %+v", changes[0].Position)
	}
}

func TestCompareMembership_AbsentAndUnflaggedIsSilent(t *testing.T) {
	// Edge already soft-removed for this source and still absent: nothing to say
	canonical := []MemberRecord{
		{Key: "t-1", ItemID: 10, Present: false, Title: "Song 1", Artist: "Artist A"},
	}

	changes := CompareMembership(canonical, nil, 5, "catalog")
	if len(changes) != 0 {
		t.Errorf("expected no changes, got %+v", changes)
	}
}
