package decide

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/franz/playlist-sync/internal/meta"
	"github.com/franz/playlist-sync/internal/store"
	"github.com/franz/playlist-sync/internal/util"
)

func openStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "state.db"))
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

// newEngine builds an engine with a cache of the store's current state.
// Call it after the fixtures are in place.
func newEngine(t *testing.T, st *store.Store, root string) *Engine {
	t.Helper()
	cache, err := NewCache(st)
	if err != nil {
		t.Fatalf("failed to build cache: %v", err)
	}
	return New(&Config{Store: st, LibraryRoot: root, Cache: cache})
}

func writeFile(t *testing.T, path string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("failed to create directory: %v", err)
	}
	if err := os.WriteFile(path, []byte("not really audio"), 0o644); err != nil {
		t.Fatalf("failed to write %s: %v", path, err)
	}
}

func createCollection(t *testing.T, st *store.Store, name string) *store.Collection {
	t.Helper()
	coll := &store.Collection{
		CatalogID: "cat-" + name,
		Name:      name,
		Folder:    meta.CollectionFolder(name),
	}
	if err := st.CreateCollection(coll); err != nil {
		t.Fatalf("failed to create collection: %v", err)
	}
	return coll
}

func createItem(t *testing.T, st *store.Store, catalogID, artist, title string) *store.Item {
	t.Helper()
	item := &store.Item{
		CatalogID: catalogID,
		Artist:    artist,
		Title:     title,
		MatchKey:  meta.MatchKey(artist, title),
	}
	if err := st.CreateItem(item); err != nil {
		t.Fatalf("failed to create item: %v", err)
	}
	return item
}

func TestDecideDownloadMissing(t *testing.T) {
	st := openStore(t)
	root := t.TempDir()

	coll := createCollection(t, st, "Summer Mix")
	item := createItem(t, st, "trk-1", "Artist A", "Song 1")
	if err := st.SetMembershipPresence(coll.ID, item.ID, store.SourceCatalog, true); err != nil {
		t.Fatal(err)
	}

	engine := newEngine(t, st, root)
	decisions, err := engine.DecideCollection(context.Background(), coll.ID)
	if err != nil {
		t.Fatalf("DecideCollection failed: %v", err)
	}

	if len(decisions) != 1 {
		t.Fatalf("expected 1 decision, got %d", len(decisions))
	}
	d := decisions[0]
	if d.Action != ActionDownload {
		t.Errorf("action = %q, want %q", d.Action, ActionDownload)
	}
	if d.Priority != PriorityFresh {
		t.Errorf("priority = %d, want %d", d.Priority, PriorityFresh)
	}
	if d.Path != "Playlists/Summer Mix/Artist A - Song 1.mp3" {
		t.Errorf("path = %q, want %q", d.Path, "Playlists/Summer Mix/Artist A - Song 1.mp3")
	}
	if d.ItemID != item.ID || d.CollectionID != coll.ID {
		t.Errorf("decision references item %d collection %d", d.ItemID, d.CollectionID)
	}
}

func TestDecideDownloadPriorities(t *testing.T) {
	st := openStore(t)
	root := t.TempDir()
	coll := createCollection(t, st, "Mixed")

	fresh := createItem(t, st, "trk-fresh", "Artist A", "Fresh One")
	failed := createItem(t, st, "trk-failed", "Artist B", "Failed One")
	fetched := createItem(t, st, "trk-fetched", "Artist C", "Fetched One")

	for _, it := range []*store.Item{fresh, failed, fetched} {
		if err := st.SetMembershipPresence(coll.ID, it.ID, store.SourceCatalog, true); err != nil {
			t.Fatal(err)
		}
	}
	if err := st.SetItemFetchStatus(failed.ID, store.FetchStatusFailed, "connection reset"); err != nil {
		t.Fatal(err)
	}
	if err := st.SetItemFetchStatus(fetched.ID, store.FetchStatusFetched, ""); err != nil {
		t.Fatal(err)
	}

	engine := newEngine(t, st, root)
	decisions, err := engine.DecideAll(context.Background())
	if err != nil {
		t.Fatalf("DecideAll failed: %v", err)
	}

	byItem := make(map[int64]Decision)
	for _, d := range decisions {
		byItem[d.ItemID] = d
	}

	tests := []struct {
		name     string
		itemID   int64
		priority int
	}{
		{"fresh download", fresh.ID, PriorityFresh},
		{"retry after failure", failed.ID, PriorityRetry},
		{"fetched elsewhere", fetched.ID, PriorityRefetch},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, ok := byItem[tt.itemID]
			if !ok {
				t.Fatalf("no decision for item %d", tt.itemID)
			}
			if d.Action != ActionDownload {
				t.Errorf("action = %q, want %q", d.Action, ActionDownload)
			}
			if d.Priority != tt.priority {
				t.Errorf("priority = %d, want %d", d.Priority, tt.priority)
			}
		})
	}
}

func TestDecideLocalOnlyPreserved(t *testing.T) {
	st := openStore(t)
	root := t.TempDir()

	coll := createCollection(t, st, "Summer Mix")
	item := createItem(t, st, "trk-1", "Artist A", "Song 1")

	// The catalog listed the item once, then dropped it; the scanner
	// still sees the local copy.
	if err := st.SetMembershipPresence(coll.ID, item.ID, store.SourceCatalog, true); err != nil {
		t.Fatal(err)
	}
	if err := st.SetMembershipPresence(coll.ID, item.ID, store.SourceCatalog, false); err != nil {
		t.Fatal(err)
	}
	if err := st.SetMembershipPresence(coll.ID, item.ID, store.SourceLocal, true); err != nil {
		t.Fatal(err)
	}
	writeFile(t, filepath.Join(root, "Playlists", "Summer Mix", "Artist A - Song 1.mp3"))

	engine := newEngine(t, st, root)
	decisions, err := engine.DecideAll(context.Background())
	if err != nil {
		t.Fatalf("DecideAll failed: %v", err)
	}

	if len(decisions) != 1 {
		t.Fatalf("expected 1 decision, got %d", len(decisions))
	}
	d := decisions[0]
	if d.Action != ActionNoAction {
		t.Fatalf("action = %q, want %q", d.Action, ActionNoAction)
	}
	if d.Reason != "local-only, preserved" {
		t.Errorf("reason = %q, want %q", d.Reason, "local-only, preserved")
	}
}

func TestDecideRemovesCatalogDroppedCopy(t *testing.T) {
	st := openStore(t)
	root := t.TempDir()

	coll := createCollection(t, st, "Summer Mix")
	item := createItem(t, st, "trk-1", "Artist A", "Song 1")

	// Dropped from the catalog, no local flag: the file on disk is an
	// engine-managed copy nobody wants any more.
	if err := st.SetMembershipPresence(coll.ID, item.ID, store.SourceCatalog, true); err != nil {
		t.Fatal(err)
	}
	if err := st.SetMembershipPresence(coll.ID, item.ID, store.SourceCatalog, false); err != nil {
		t.Fatal(err)
	}
	writeFile(t, filepath.Join(root, "Playlists", "Summer Mix", "Artist A - Song 1.mp3"))

	engine := newEngine(t, st, root)
	decisions, err := engine.DecideAll(context.Background())
	if err != nil {
		t.Fatalf("DecideAll failed: %v", err)
	}

	if len(decisions) != 1 {
		t.Fatalf("expected 1 decision, got %d", len(decisions))
	}
	d := decisions[0]
	if d.Action != ActionRemoveFile {
		t.Fatalf("action = %q, want %q", d.Action, ActionRemoveFile)
	}
	if d.Priority != PriorityRemove {
		t.Errorf("priority = %d, want %d", d.Priority, PriorityRemove)
	}
	if d.Path != "Playlists/Summer Mix/Artist A - Song 1.mp3" {
		t.Errorf("path = %q", d.Path)
	}
}

func TestDecideFilePresentVariants(t *testing.T) {
	tests := []struct {
		name     string
		artist   string
		title    string
		fileName string
	}{
		{"exact canonical name", "Artist A", "Song 1", "Artist A - Song 1.mp3"},
		{"sanitized differently", "AC/DC", "T.N.T.", "ACDC - TNT.mp3"},
		{"different case", "Artist A", "Song 1", "artist a - SONG 1.mp3"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st := openStore(t)
			root := t.TempDir()

			coll := createCollection(t, st, "Summer Mix")
			item := createItem(t, st, "trk-1", tt.artist, tt.title)
			if err := st.SetMembershipPresence(coll.ID, item.ID, store.SourceCatalog, true); err != nil {
				t.Fatal(err)
			}
			writeFile(t, filepath.Join(root, "Playlists", "Summer Mix", tt.fileName))

			engine := newEngine(t, st, root)
			decisions, err := engine.DecideAll(context.Background())
			if err != nil {
				t.Fatalf("DecideAll failed: %v", err)
			}

			if len(decisions) != 1 {
				t.Fatalf("expected 1 decision, got %d", len(decisions))
			}
			if decisions[0].Action != ActionNoAction {
				t.Errorf("action = %q, want no redundant download for %s", decisions[0].Action, tt.fileName)
			}
		})
	}
}

func TestDecideUnavailableUpstream(t *testing.T) {
	st := openStore(t)
	root := t.TempDir()

	coll := createCollection(t, st, "Summer Mix")
	item := createItem(t, st, "trk-1", "Artist A", "Song 1")
	if err := st.SetMembershipPresence(coll.ID, item.ID, store.SourceCatalog, true); err != nil {
		t.Fatal(err)
	}
	if err := st.SetItemUnavailable(item.ID, true); err != nil {
		t.Fatal(err)
	}

	engine := newEngine(t, st, root)
	decisions, err := engine.DecideAll(context.Background())
	if err != nil {
		t.Fatalf("DecideAll failed: %v", err)
	}

	if len(decisions) != 1 {
		t.Fatalf("expected 1 decision, got %d", len(decisions))
	}
	if decisions[0].Action != ActionNoAction {
		t.Errorf("action = %q, want %q", decisions[0].Action, ActionNoAction)
	}
	if decisions[0].Reason != "unavailable upstream" {
		t.Errorf("reason = %q", decisions[0].Reason)
	}
}

func TestDecideAdoptsStrayFiles(t *testing.T) {
	st := openStore(t)
	root := t.TempDir()

	coll := createCollection(t, st, "Summer Mix")
	writeFile(t, filepath.Join(root, "Playlists", "Summer Mix", "Artist B - Extra Song.mp3"))
	writeFile(t, filepath.Join(root, "Playlists", "Summer Mix", "liveset.mp3"))

	engine := newEngine(t, st, root)
	decisions, err := engine.DecideAll(context.Background())
	if err != nil {
		t.Fatalf("DecideAll failed: %v", err)
	}

	if len(decisions) != 2 {
		t.Fatalf("expected 2 decisions, got %d", len(decisions))
	}
	for _, d := range decisions {
		if d.Action != ActionNoAction || d.Reason != "local-only, preserved" {
			t.Errorf("stray decision = %q (%s)", d.Action, d.Reason)
		}
	}

	// The parseable stem became a full item
	adopted, err := st.GetItemByMatchKey(meta.MatchKey("Artist B", "Extra Song"))
	if err != nil || adopted == nil {
		t.Fatalf("adopted item not found: %v", err)
	}
	if adopted.Artist != "Artist B" || adopted.Title != "Extra Song" {
		t.Errorf("adopted identity = %q / %q", adopted.Artist, adopted.Title)
	}
	m, err := st.GetMembership(coll.ID, adopted.ID)
	if err != nil || m == nil {
		t.Fatalf("adopted membership not found: %v", err)
	}
	if !m.InLocal || m.InCatalog || m.InDesktop {
		t.Errorf("adopted membership flags = %+v", m)
	}
	paths, err := st.GetItemPaths(adopted.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(paths) != 1 || paths[0] != "Playlists/Summer Mix/Artist B - Extra Song.mp3" {
		t.Errorf("adopted paths = %v", paths)
	}

	// A second run over the same state adopts nothing new
	engine = newEngine(t, st, root)
	again, err := engine.DecideAll(context.Background())
	if err != nil {
		t.Fatalf("second DecideAll failed: %v", err)
	}
	if len(again) != 2 {
		t.Fatalf("second run: expected 2 decisions, got %d", len(again))
	}
	items, err := st.GetAllItems()
	if err != nil {
		t.Fatal(err)
	}
	if len(items) != 2 {
		t.Errorf("second run created items: %d total", len(items))
	}
}

func TestDecideCollectionsAreScoped(t *testing.T) {
	st := openStore(t)
	root := t.TempDir()

	alpha := createCollection(t, st, "Alpha")
	beta := createCollection(t, st, "Beta")

	item := createItem(t, st, "trk-1", "Artist A", "Song 1")
	if err := st.SetMembershipPresence(alpha.ID, item.ID, store.SourceCatalog, true); err != nil {
		t.Fatal(err)
	}

	// The only copy on disk sits in Beta's directory
	writeFile(t, filepath.Join(root, "Playlists", "Beta", "Artist A - Song 1.mp3"))

	engine := newEngine(t, st, root)
	decisions, err := engine.DecideAll(context.Background())
	if err != nil {
		t.Fatalf("DecideAll failed: %v", err)
	}

	var alphaDecision, betaDecision *Decision
	for i := range decisions {
		switch decisions[i].CollectionID {
		case alpha.ID:
			alphaDecision = &decisions[i]
		case beta.ID:
			betaDecision = &decisions[i]
		}
	}

	if alphaDecision == nil {
		t.Fatal("no decision for Alpha")
	}
	if alphaDecision.Action != ActionDownload {
		t.Errorf("Alpha: action = %q, want download despite the copy in Beta", alphaDecision.Action)
	}
	if alphaDecision.Path != "Playlists/Alpha/Artist A - Song 1.mp3" {
		t.Errorf("Alpha: path = %q", alphaDecision.Path)
	}

	if betaDecision == nil {
		t.Fatal("no decision for Beta")
	}
	if betaDecision.Action != ActionNoAction || betaDecision.Reason != "local-only, preserved" {
		t.Errorf("Beta: %q (%s)", betaDecision.Action, betaDecision.Reason)
	}
}

func TestDecideCollectionMissing(t *testing.T) {
	st := openStore(t)
	engine := newEngine(t, st, t.TempDir())

	_, err := engine.DecideCollection(context.Background(), 999)
	if !errors.Is(err, util.ErrRecordNotFound) {
		t.Errorf("expected ErrRecordNotFound, got %v", err)
	}
}

func TestCountAndFilterByAction(t *testing.T) {
	decisions := []Decision{
		{Action: ActionDownload},
		{Action: ActionDownload},
		{Action: ActionRemoveFile},
		{Action: ActionNoAction},
	}

	counts := CountByAction(decisions)
	if counts[ActionDownload] != 2 || counts[ActionRemoveFile] != 1 || counts[ActionNoAction] != 1 {
		t.Errorf("counts = %v", counts)
	}

	downloads := FilterByAction(decisions, ActionDownload)
	if len(downloads) != 2 {
		t.Errorf("filtered %d downloads, want 2", len(downloads))
	}
}
