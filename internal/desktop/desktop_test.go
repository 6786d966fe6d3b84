package desktop

import (
	"path/filepath"
	"testing"
)

func openDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "desktop.db"))
	if err != nil {
		t.Fatalf("failed to open desktop database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestEnsureContentDedupe(t *testing.T) {
	db := openDB(t)

	first, err := db.EnsureContent(&Content{
		Title:      "Song 1",
		Artist:     "Artist A",
		Album:      "Album X",
		FolderPath: "/music/Playlists/Summer Mix/Artist A - Song 1.mp3",
	})
	if err != nil {
		t.Fatalf("EnsureContent failed: %v", err)
	}
	if first.ID == 0 {
		t.Fatal("expected a content id")
	}

	// Same path resolves to the same row
	byPath, err := db.EnsureContent(&Content{
		Title:      "Song 1 (different spelling)",
		Artist:     "Artist A",
		FolderPath: "/music/Playlists/Summer Mix/Artist A - Song 1.mp3",
	})
	if err != nil {
		t.Fatalf("EnsureContent by path failed: %v", err)
	}
	if byPath.ID != first.ID {
		t.Errorf("expected path dedupe to reuse row %d, got %d", first.ID, byPath.ID)
	}

	// Same title and artist at a new path also resolves to the same row
	byMeta, err := db.EnsureContent(&Content{
		Title:      "Song 1",
		Artist:     "Artist A",
		FolderPath: "/music/Playlists/Roadtrip/Artist A - Song 1.mp3",
	})
	if err != nil {
		t.Fatalf("EnsureContent by metadata failed: %v", err)
	}
	if byMeta.ID != first.ID {
		t.Errorf("expected metadata dedupe to reuse row %d, got %d", first.ID, byMeta.ID)
	}

	// A different track creates a new row
	other, err := db.EnsureContent(&Content{
		Title:      "Song 2",
		Artist:     "Artist A",
		FolderPath: "/music/Playlists/Summer Mix/Artist A - Song 2.mp3",
	})
	if err != nil {
		t.Fatalf("EnsureContent for new track failed: %v", err)
	}
	if other.ID == first.ID {
		t.Error("expected a distinct row for a distinct track")
	}
}

func TestMirrorAddRemoveDelete(t *testing.T) {
	db := openDB(t)

	tracks := []Track{
		{Title: "Song 1", Artist: "Artist A", AbsPath: "/m/Playlists/Mix/Artist A - Song 1.mp3"},
		{Title: "Song 2", Artist: "Artist B", AbsPath: "/m/Playlists/Mix/Artist B - Song 2.mp3"},
	}

	res, err := db.Mirror("Mix", tracks)
	if err != nil {
		t.Fatalf("Mirror failed: %v", err)
	}
	if res.Added != 2 || res.Removed != 0 || res.Deleted {
		t.Fatalf("unexpected first push result: %+v", res)
	}

	songs, err := db.PlaylistSongs(res.Playlist.ID)
	if err != nil {
		t.Fatalf("PlaylistSongs failed: %v", err)
	}
	if len(songs) != 2 {
		t.Fatalf("expected 2 songs, got %d", len(songs))
	}
	if songs[0].TrackNo != 1 || songs[0].Content.Title != "Song 1" {
		t.Errorf("unexpected first song: %+v", songs[0])
	}

	// Identical push changes nothing
	res, err = db.Mirror("Mix", tracks)
	if err != nil {
		t.Fatalf("second Mirror failed: %v", err)
	}
	if res.Added != 0 || res.Removed != 0 || res.Renumbered != 0 {
		t.Errorf("expected an idempotent push, got %+v", res)
	}

	// Dropping a track removes it from the playlist but not the collection
	res, err = db.Mirror("Mix", tracks[:1])
	if err != nil {
		t.Fatalf("shrinking Mirror failed: %v", err)
	}
	if res.Removed != 1 || res.Deleted {
		t.Errorf("expected one removal, got %+v", res)
	}
	kept, err := db.FindContentByPath("/m/Playlists/Mix/Artist B - Song 2.mp3")
	if err != nil {
		t.Fatalf("FindContentByPath failed: %v", err)
	}
	if kept == nil {
		t.Error("expected removed song to survive in the collection")
	}

	// An empty push deletes the playlist
	res, err = db.Mirror("Mix", nil)
	if err != nil {
		t.Fatalf("emptying Mirror failed: %v", err)
	}
	if !res.Deleted {
		t.Error("expected the emptied playlist to be deleted")
	}
	pl, err := db.FindPlaylistByName("Mix")
	if err != nil {
		t.Fatalf("FindPlaylistByName failed: %v", err)
	}
	if pl != nil {
		t.Error("expected playlist row to be gone")
	}

	// Mirroring nothing into a missing playlist creates nothing
	res, err = db.Mirror("Mix", nil)
	if err != nil {
		t.Fatalf("no-op Mirror failed: %v", err)
	}
	if res.Playlist != nil {
		t.Error("expected no playlist to be created for an empty push")
	}
}

func TestMirrorReorders(t *testing.T) {
	db := openDB(t)

	a := Track{Title: "Song 1", Artist: "Artist A", AbsPath: "/m/a.mp3"}
	b := Track{Title: "Song 2", Artist: "Artist B", AbsPath: "/m/b.mp3"}

	if _, err := db.Mirror("Mix", []Track{a, b}); err != nil {
		t.Fatalf("Mirror failed: %v", err)
	}

	res, err := db.Mirror("Mix", []Track{b, a})
	if err != nil {
		t.Fatalf("reordering Mirror failed: %v", err)
	}
	if res.Renumbered != 2 || res.Added != 0 || res.Removed != 0 {
		t.Errorf("expected a pure renumber, got %+v", res)
	}

	songs, err := db.PlaylistSongs(res.Playlist.ID)
	if err != nil {
		t.Fatalf("PlaylistSongs failed: %v", err)
	}
	if songs[0].Content.Title != "Song 2" || songs[1].Content.Title != "Song 1" {
		t.Errorf("expected new order, got %q then %q", songs[0].Content.Title, songs[1].Content.Title)
	}
}

func TestSnapshot(t *testing.T) {
	db := openDB(t)

	if _, err := db.Mirror("Mix", []Track{
		{Title: "Song 1", Artist: "Artist A", Album: "Album X", AbsPath: "/m/a.mp3"},
		{Title: "Song 2", Artist: "Artist B", AbsPath: "/m/b.mp3"},
	}); err != nil {
		t.Fatalf("Mirror failed: %v", err)
	}

	snaps, err := db.Snapshot()
	if err != nil {
		t.Fatalf("Snapshot failed: %v", err)
	}
	if len(snaps) != 1 {
		t.Fatalf("expected 1 playlist snapshot, got %d", len(snaps))
	}

	snap := snaps[0]
	if snap.Collection.Name != "Mix" || snap.Collection.Key == "" {
		t.Errorf("unexpected collection snapshot: %+v", snap.Collection)
	}
	if len(snap.Members) != 2 {
		t.Fatalf("expected 2 members, got %d", len(snap.Members))
	}

	m := snap.Members[0]
	if m.Key == "" {
		t.Error("expected member keyed by content id")
	}
	if m.Title == nil || *m.Title != "Song 1" {
		t.Error("expected title opinion from the desktop library")
	}
	if m.Album == nil || *m.Album != "Album X" {
		t.Error("expected album opinion when the desktop knows one")
	}
	if m.Position == nil || *m.Position != 0 {
		t.Error("expected zero-based position from track number")
	}
	if snap.Members[1].Album != nil {
		t.Error("expected no album opinion when the desktop has none")
	}
}
