package report

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/franz/playlist-sync/internal/meta"
	"github.com/franz/playlist-sync/internal/store"
)

func openSummaryStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "state.db"))
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

func summaryCollection(t *testing.T, st *store.Store, name string) *store.Collection {
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

func summaryItem(t *testing.T, st *store.Store, catalogID, artist, title string) *store.Item {
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

func setPresence(t *testing.T, st *store.Store, collID, itemID int64, sources ...string) {
	t.Helper()
	for _, src := range sources {
		if err := st.SetMembershipPresence(collID, itemID, src, true); err != nil {
			t.Fatalf("failed to set presence: %v", err)
		}
	}
}

func TestGenerateSummaryReport(t *testing.T) {
	st := openSummaryStore(t)

	summer := summaryCollection(t, st, "Summer Mix")
	beta := summaryCollection(t, st, "Beta")

	fetched := summaryItem(t, st, "c1", "Artist A", "Song 1")
	pending := summaryItem(t, st, "c2", "Artist B", "Song 2")
	broken := summaryItem(t, st, "c3", "Artist C", "Song 3")
	stray := summaryItem(t, st, "", "Artist D", "Live Set")

	setPresence(t, st, summer.ID, fetched.ID, store.SourceCatalog, store.SourceLocal)
	setPresence(t, st, summer.ID, pending.ID, store.SourceCatalog)
	setPresence(t, st, summer.ID, broken.ID, store.SourceCatalog)
	setPresence(t, st, beta.ID, stray.ID, store.SourceLocal)

	if err := st.SetItemFetchStatus(fetched.ID, store.FetchStatusFetched, ""); err != nil {
		t.Fatalf("failed to set fetch status: %v", err)
	}
	if err := st.SetItemFetchStatus(broken.ID, store.FetchStatusFailed, "auth rejected (401)"); err != nil {
		t.Fatalf("failed to set fetch status: %v", err)
	}
	if err := st.SetItemUnavailable(broken.ID, true); err != nil {
		t.Fatalf("failed to set unavailable: %v", err)
	}
	if err := st.AddItemPath(fetched.ID, "Playlists/Summer Mix/Artist A - Song 1.mp3", 100, time.Now().Unix()); err != nil {
		t.Fatalf("failed to add path: %v", err)
	}
	if err := st.AddItemPath(stray.ID, "Playlists/Beta/Artist D - Live Set.mp3", 50, time.Now().Unix()); err != nil {
		t.Fatalf("failed to add path: %v", err)
	}

	if err := st.CreateRun(&store.Run{ID: "run-1"}); err != nil {
		t.Fatalf("failed to create run: %v", err)
	}
	if err := st.FinishRun("run-1", 5, 3, 2, 1, ""); err != nil {
		t.Fatalf("failed to finish run: %v", err)
	}

	summary, err := GenerateSummaryReport(st, "events.jsonl")
	if err != nil {
		t.Fatalf("GenerateSummaryReport failed: %v", err)
	}

	if summary.ItemsTotal != 4 {
		t.Errorf("ItemsTotal = %d, want 4", summary.ItemsTotal)
	}
	if summary.ItemsFetched != 1 {
		t.Errorf("ItemsFetched = %d, want 1", summary.ItemsFetched)
	}
	if summary.ItemsNotFetched != 2 {
		t.Errorf("ItemsNotFetched = %d, want 2", summary.ItemsNotFetched)
	}
	if summary.ItemsFetchFailed != 1 {
		t.Errorf("ItemsFetchFailed = %d, want 1", summary.ItemsFetchFailed)
	}
	if summary.ItemsUnavailable != 1 {
		t.Errorf("ItemsUnavailable = %d, want 1", summary.ItemsUnavailable)
	}
	if summary.LocalOnlyItems != 1 {
		t.Errorf("LocalOnlyItems = %d, want 1", summary.LocalOnlyItems)
	}
	if summary.BytesOnDisk != 150 {
		t.Errorf("BytesOnDisk = %d, want 150", summary.BytesOnDisk)
	}

	rows := make(map[string]CollectionSummary)
	for _, c := range summary.Collections {
		rows[c.Name] = c
	}
	if got := rows["Summer Mix"]; got.Members != 3 || got.OnDisk != 1 {
		t.Errorf("Summer Mix row = %+v, want 3 members with 1 on disk", got)
	}
	if got := rows["Beta"]; got.Members != 1 || got.OnDisk != 1 {
		t.Errorf("Beta row = %+v, want 1 member with 1 on disk", got)
	}

	if summary.CatalogMemberships != 3 {
		t.Errorf("CatalogMemberships = %d, want 3", summary.CatalogMemberships)
	}
	if summary.LocalMemberships != 2 {
		t.Errorf("LocalMemberships = %d, want 2", summary.LocalMemberships)
	}
	if summary.DesktopMemberships != 0 {
		t.Errorf("DesktopMemberships = %d, want 0", summary.DesktopMemberships)
	}

	if len(summary.RecentRuns) != 1 {
		t.Fatalf("RecentRuns = %d entries, want 1", len(summary.RecentRuns))
	}
	if summary.RecentRuns[0].DecisionsMade != 3 {
		t.Errorf("run decisions = %d, want 3", summary.RecentRuns[0].DecisionsMade)
	}

	if len(summary.FetchFailures) != 1 {
		t.Fatalf("FetchFailures = %d entries, want 1", len(summary.FetchFailures))
	}
	if f := summary.FetchFailures[0]; f.Artist != "Artist C" || f.Error != "auth rejected (401)" {
		t.Errorf("fetch failure = %+v", f)
	}

	if summary.EventLogPath != "events.jsonl" {
		t.Errorf("EventLogPath = %q", summary.EventLogPath)
	}
	if summary.GeneratedAt.IsZero() {
		t.Error("GeneratedAt not set")
	}
}

func TestWriteMarkdownReport(t *testing.T) {
	outputPath := filepath.Join(t.TempDir(), "reports", "summary.md")

	finished := time.Date(2024, 6, 1, 12, 0, 30, 0, time.UTC)
	summary := &SummaryReport{
		GeneratedAt:      time.Now(),
		ItemsTotal:       42,
		ItemsFetched:     30,
		ItemsNotFetched:  10,
		ItemsFetchFailed: 2,
		ItemsUnavailable: 1,
		LocalOnlyItems:   3,
		BytesOnDisk:      500 * 1024 * 1024,
		Collections: []CollectionSummary{
			{Name: "Summer Mix", Folder: "Playlists/Summer Mix", Members: 20, OnDisk: 18},
		},
		CatalogMemberships: 38,
		LocalMemberships:   21,
		DesktopMemberships: 35,
		RecentRuns: []*store.Run{
			{
				ID:                "run-1",
				StartedAt:         finished.Add(-90 * time.Second),
				FinishedAt:        &finished,
				ChangesDetected:   5,
				DecisionsMade:     4,
				DecisionsExecuted: 3,
				DecisionsFailed:   1,
			},
		},
		FetchFailures: []FetchFailure{
			{Artist: "Artist C", Title: "Song 3", Error: "auth rejected (401)"},
		},
		DatabasePath: "/data/state.db",
		EventLogPath: "/data/events.jsonl",
	}

	if err := WriteMarkdownReport(summary, outputPath); err != nil {
		t.Fatalf("WriteMarkdownReport failed: %v", err)
	}

	content, err := os.ReadFile(outputPath)
	if err != nil {
		t.Fatalf("failed to read report: %v", err)
	}
	got := string(content)

	for _, want := range []string{
		"# Playlist Sync - Library Report",
		"| Items | 42 |",
		"| Fetched | 30 |",
		"| Fetch Failures | 2 |",
		"| Local-Only Items | 3 |",
		"| Summer Mix | 20 | 18 |",
		"| Catalog | 38 |",
		"1m30s",
		"Artist C - Song 3",
		"`/data/state.db`",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("report missing %q", want)
		}
	}
}

func TestWriteMarkdownReportOmitsEmptySections(t *testing.T) {
	outputPath := filepath.Join(t.TempDir(), "summary.md")

	summary := &SummaryReport{GeneratedAt: time.Now()}
	if err := WriteMarkdownReport(summary, outputPath); err != nil {
		t.Fatalf("WriteMarkdownReport failed: %v", err)
	}

	content, err := os.ReadFile(outputPath)
	if err != nil {
		t.Fatalf("failed to read report: %v", err)
	}
	got := string(content)

	for _, absent := range []string{"Recent Runs", "Fetch Failures", "## 📚 Collections"} {
		if strings.Contains(got, absent) {
			t.Errorf("empty report should not contain %q", absent)
		}
	}
}

func TestTruncatePath(t *testing.T) {
	tests := []struct {
		name  string
		in    string
		max   int
		check func(string) bool
	}{
		{
			name:  "short string unchanged",
			in:    "short.mp3",
			max:   20,
			check: func(s string) bool { return s == "short.mp3" },
		},
		{
			name: "long string keeps both ends",
			in:   strings.Repeat("a", 50) + "/middle/" + strings.Repeat("z", 50),
			max:  40,
			check: func(s string) bool {
				return len(s) <= 43 && strings.Contains(s, "...") &&
					strings.HasPrefix(s, "aaa") && strings.HasSuffix(s, "zzz")
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := truncatePath(tt.in, tt.max)
			if !tt.check(got) {
				t.Errorf("truncatePath(%q, %d) = %q", tt.in, tt.max, got)
			}
		})
	}
}
