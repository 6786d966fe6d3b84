package report

import (
	"fmt"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/franz/playlist-sync/internal/store"
)

// SummaryReport is a point-in-time picture of the reconciled library
type SummaryReport struct {
	GeneratedAt time.Time

	// Item statistics
	ItemsTotal       int
	ItemsFetched     int
	ItemsNotFetched  int
	ItemsFetchFailed int
	ItemsUnavailable int
	LocalOnlyItems   int
	BytesOnDisk      int64

	// Per-collection rows
	Collections []CollectionSummary

	// Membership statistics
	CatalogMemberships int
	LocalMemberships   int
	DesktopMemberships int
	DeadMemberships    int

	// Recent activity, newest first
	RecentRuns []*store.Run

	// Failures worth surfacing
	FetchFailures []FetchFailure

	// Metadata
	DatabasePath string
	EventLogPath string
	LibraryRoot  string
}

// CollectionSummary is one collection's row in the report
type CollectionSummary struct {
	Name    string
	Folder  string
	Members int // memberships some source still lists
	OnDisk  int // members with a file recorded under the collection folder
}

// FetchFailure is one item whose last transfer attempt failed
type FetchFailure struct {
	Artist string
	Title  string
	Error  string
}

// GenerateSummaryReport builds a summary from the store's current state
func GenerateSummaryReport(db *store.Store, eventLogPath string) (*SummaryReport, error) {
	summary := &SummaryReport{
		GeneratedAt:   time.Now(),
		EventLogPath:  eventLogPath,
		Collections:   make([]CollectionSummary, 0),
		FetchFailures: make([]FetchFailure, 0),
	}

	summary.ItemsFetched, _ = db.CountItemsByFetchStatus(store.FetchStatusFetched)
	summary.ItemsNotFetched, _ = db.CountItemsByFetchStatus(store.FetchStatusNotFetched)
	summary.ItemsFetchFailed, _ = db.CountItemsByFetchStatus(store.FetchStatusFailed)

	items, _ := db.GetAllItems()
	summary.ItemsTotal = len(items)
	for _, it := range items {
		if it.Unavailable {
			summary.ItemsUnavailable++
		}
	}
	summary.FetchFailures = gatherFetchFailures(items, 10)

	pathInfo, _ := db.GetAllPathInfo()
	for _, pi := range pathInfo {
		summary.BytesOnDisk += pi.SizeBytes
	}

	paths, _ := db.GetAllItemPaths()
	collections, _ := db.GetAllCollections()
	localOnly := make(map[int64]bool)

	for _, coll := range collections {
		row := CollectionSummary{Name: coll.Name, Folder: coll.Folder}

		members, _ := db.GetMembershipsByCollection(coll.ID)
		for _, m := range members {
			if !m.InCatalog && !m.InLocal && !m.InDesktop {
				continue
			}
			row.Members++
			if m.InLocal && !m.InCatalog && !m.InDesktop {
				localOnly[m.ItemID] = true
			}
			for _, p := range paths[m.ItemID] {
				if path.Dir(p) == coll.Folder {
					row.OnDisk++
					break
				}
			}
		}

		summary.Collections = append(summary.Collections, row)
	}
	summary.LocalOnlyItems = len(localOnly)

	summary.CatalogMemberships, _ = db.CountMembershipsBySource(store.SourceCatalog)
	summary.LocalMemberships, _ = db.CountMembershipsBySource(store.SourceLocal)
	summary.DesktopMemberships, _ = db.CountMembershipsBySource(store.SourceDesktop)
	summary.DeadMemberships, _ = db.CountDeadMemberships()

	summary.RecentRuns, _ = db.GetRecentRuns(10)

	return summary, nil
}

// gatherFetchFailures collects the items whose last transfer failed,
// alphabetically, capped at limit
func gatherFetchFailures(items []*store.Item, limit int) []FetchFailure {
	failures := make([]FetchFailure, 0)
	for _, it := range items {
		if it.FetchStatus != store.FetchStatusFailed {
			continue
		}
		failures = append(failures, FetchFailure{
			Artist: it.Artist,
			Title:  it.Title,
			Error:  it.FetchError,
		})
	}

	sort.Slice(failures, func(i, j int) bool {
		if failures[i].Artist != failures[j].Artist {
			return failures[i].Artist < failures[j].Artist
		}
		return failures[i].Title < failures[j].Title
	})

	if len(failures) > limit {
		failures = failures[:limit]
	}
	return failures
}

// WriteMarkdownReport writes the summary report as Markdown
func WriteMarkdownReport(summary *SummaryReport, outputPath string) error {
	dir := filepath.Dir(outputPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	var md strings.Builder

	md.WriteString("# Playlist Sync - Library Report\n\n")
	md.WriteString(fmt.Sprintf("**Generated:** %s\n\n", summary.GeneratedAt.Format("2006-01-02 15:04:05")))

	if summary.DatabasePath != "" {
		md.WriteString(fmt.Sprintf("**Database:** `%s`\n\n", summary.DatabasePath))
	}
	if summary.LibraryRoot != "" {
		md.WriteString(fmt.Sprintf("**Library:** `%s`\n\n", summary.LibraryRoot))
	}
	if summary.EventLogPath != "" {
		md.WriteString(fmt.Sprintf("**Event Log:** `%s`\n\n", summary.EventLogPath))
	}

	md.WriteString("---\n\n")

	// Overview
	md.WriteString("## 📊 Overview\n\n")
	md.WriteString("| Metric | Value |\n")
	md.WriteString("|--------|-------|\n")
	md.WriteString(fmt.Sprintf("| Collections | %d |\n", len(summary.Collections)))
	md.WriteString(fmt.Sprintf("| Items | %d |\n", summary.ItemsTotal))
	md.WriteString(fmt.Sprintf("| Fetched | %d |\n", summary.ItemsFetched))
	md.WriteString(fmt.Sprintf("| Pending | %d |\n", summary.ItemsNotFetched))
	if summary.ItemsFetchFailed > 0 {
		md.WriteString(fmt.Sprintf("| Fetch Failures | %d |\n", summary.ItemsFetchFailed))
	}
	if summary.ItemsUnavailable > 0 {
		md.WriteString(fmt.Sprintf("| Unavailable Upstream | %d |\n", summary.ItemsUnavailable))
	}
	if summary.LocalOnlyItems > 0 {
		md.WriteString(fmt.Sprintf("| Local-Only Items | %d |\n", summary.LocalOnlyItems))
	}
	md.WriteString(fmt.Sprintf("| On Disk | %s |\n", humanize.Bytes(uint64(summary.BytesOnDisk))))
	md.WriteString("\n")

	// Memberships
	md.WriteString("## 🔗 Memberships\n\n")
	md.WriteString("| Source | Listed |\n")
	md.WriteString("|--------|--------|\n")
	md.WriteString(fmt.Sprintf("| Catalog | %d |\n", summary.CatalogMemberships))
	md.WriteString(fmt.Sprintf("| Local | %d |\n", summary.LocalMemberships))
	md.WriteString(fmt.Sprintf("| Desktop | %d |\n", summary.DesktopMemberships))
	if summary.DeadMemberships > 0 {
		md.WriteString(fmt.Sprintf("| Dropped Everywhere | %d |\n", summary.DeadMemberships))
	}
	md.WriteString("\n")

	// Collections
	if len(summary.Collections) > 0 {
		md.WriteString("## 📚 Collections\n\n")
		md.WriteString("| Collection | Members | On Disk | Folder |\n")
		md.WriteString("|------------|---------|---------|--------|\n")
		for _, c := range summary.Collections {
			md.WriteString(fmt.Sprintf("| %s | %d | %d | `%s` |\n",
				c.Name, c.Members, c.OnDisk, c.Folder))
		}
		md.WriteString("\n")
	}

	// Recent runs
	if len(summary.RecentRuns) > 0 {
		md.WriteString("## 🔄 Recent Runs\n\n")
		md.WriteString("| Started | Duration | Changes | Decisions | Executed | Failed | Mode |\n")
		md.WriteString("|---------|----------|---------|-----------|----------|--------|------|\n")
		for _, r := range summary.RecentRuns {
			duration := "-"
			if r.FinishedAt != nil {
				duration = r.FinishedAt.Sub(r.StartedAt).Round(time.Second).String()
			}
			mode := "live"
			if r.DryRun {
				mode = "dry-run"
			}
			md.WriteString(fmt.Sprintf("| %s | %s | %d | %d | %d | %d | %s |\n",
				r.StartedAt.Format("2006-01-02 15:04:05"), duration,
				r.ChangesDetected, r.DecisionsMade, r.DecisionsExecuted, r.DecisionsFailed, mode))
		}
		md.WriteString("\n")
	}

	// Fetch failures
	if len(summary.FetchFailures) > 0 {
		md.WriteString("## ⚠️ Fetch Failures\n\n")
		md.WriteString("| Item | Error |\n")
		md.WriteString("|------|-------|\n")
		for _, f := range summary.FetchFailures {
			md.WriteString(fmt.Sprintf("| %s - %s | %s |\n",
				f.Artist, f.Title, truncatePath(f.Error, 80)))
		}
		md.WriteString("\n")
	}

	md.WriteString("---\n\n")
	md.WriteString("*Generated by [pls](https://github.com/franz/playlist-sync) - Playlist Sync*\n")

	if err := os.WriteFile(outputPath, []byte(md.String()), 0644); err != nil {
		return fmt.Errorf("failed to write report: %w", err)
	}

	return nil
}

// truncatePath truncates a long string keeping its start and end
func truncatePath(path string, maxLen int) string {
	if len(path) <= maxLen {
		return path
	}
	start := maxLen/2 - 2
	end := len(path) - (maxLen/2 - 2)
	return path[:start] + "..." + path[end:]
}
