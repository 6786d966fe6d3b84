package main

import (
	"context"
	"fmt"
	"math"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strconv"

	"github.com/spf13/viper"
	"golang.org/x/time/rate"

	"github.com/franz/playlist-sync/internal/apply"
	"github.com/franz/playlist-sync/internal/catalog"
	"github.com/franz/playlist-sync/internal/compare"
	"github.com/franz/playlist-sync/internal/desktop"
	"github.com/franz/playlist-sync/internal/report"
	"github.com/franz/playlist-sync/internal/scan"
	"github.com/franz/playlist-sync/internal/store"
	"github.com/franz/playlist-sync/internal/util"
)

// newEventLogger builds the run's JSONL event logger. Failing to create
// one degrades to the null logger rather than aborting the command.
func newEventLogger(runID string) *report.EventLogger {
	logLevel := report.LevelInfo
	if viper.GetBool("quiet") {
		logLevel = report.LevelWarning
	} else if viper.GetBool("verbose") {
		logLevel = report.LevelDebug
	}

	logger, err := report.NewEventLogger("artifacts", logLevel, runID)
	if err != nil {
		util.WarnLog("Failed to create event logger: %v", err)
		return report.NullLogger()
	}
	util.InfoLog("Event log: %s", logger.Path())
	return logger
}

// catalogClient builds a catalog client from configuration, or nil when
// no catalog URL is set
func catalogClient() *catalog.Client {
	baseURL := viper.GetString("catalog_url")
	if baseURL == "" {
		return nil
	}

	cfg := catalog.Config{
		BaseURL:  baseURL,
		Token:    viper.GetString("catalog_token"),
		PageSize: viper.GetInt("page_size"),
	}
	if rps := viper.GetFloat64("rate_limit"); rps > 0 {
		cfg.RateLimit = rate.Limit(rps)
	}
	return catalog.NewClient(cfg)
}

// stageResult aggregates one snapshot stage's compare-and-apply outcome
type stageResult struct {
	Detected int
	Applied  int
	Failed   int
}

func (r *stageResult) add(changes []compare.Change, res *apply.Result) {
	r.Detected += len(changes)
	r.Applied += res.Applied()
	r.Failed += len(res.Failures)
}

// itemsByID loads every canonical item into a map
func itemsByID(db *store.Store) (map[int64]*store.Item, error) {
	all, err := db.GetAllItems()
	if err != nil {
		return nil, err
	}
	items := make(map[int64]*store.Item, len(all))
	for _, it := range all {
		items[it.ID] = it
	}
	return items, nil
}

// memberRecords builds the canonical side of a membership comparison for
// one source. Items the source has no identifier for are invisible to it
// and stay out of the comparison.
func memberRecords(db *store.Store, collectionID int64, source string, items map[int64]*store.Item) ([]compare.MemberRecord, error) {
	members, err := db.GetMembershipsByCollection(collectionID)
	if err != nil {
		return nil, err
	}

	records := make([]compare.MemberRecord, 0, len(members))
	for _, m := range members {
		it := items[m.ItemID]
		if it == nil {
			continue
		}

		var key string
		switch source {
		case store.SourceCatalog:
			key = it.CatalogID
		case store.SourceDesktop:
			key = it.DesktopID
		default:
			key = it.MatchKey
		}
		if key == "" {
			continue
		}

		records = append(records, compare.MemberRecord{
			Key:        key,
			ItemID:     it.ID,
			Present:    m.Present(source),
			Position:   m.Position,
			Title:      it.Title,
			Artist:     it.Artist,
			Album:      it.Album,
			DurationMs: it.DurationMs,
		})
	}
	return records, nil
}

// createdCollections reports the snapshot keys the collection pass just
// created. Their members were attached by the lister hook, so comparing
// them again in the membership pass would double-apply.
func createdCollections(changes []compare.Change) map[string]bool {
	created := make(map[string]bool)
	for _, ch := range changes {
		if ch.Type == compare.CollectionAdded {
			created[ch.CollectionKey] = true
		}
	}
	return created
}

// fetchStage pulls the catalog's current state and reconciles the
// canonical store against it: the collection list first, then each
// collection's membership.
func fetchStage(ctx context.Context, db *store.Store, client *catalog.Client, events *report.EventLogger) (*stageResult, error) {
	result := &stageResult{}

	remote, err := client.ListCollections(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing catalog collections: %w", err)
	}
	events.LogFetch(store.SourceCatalog, "", len(remote))

	snaps := make([]compare.CollectionSnapshot, 0, len(remote))
	for i := range remote {
		c := remote[i]
		snaps = append(snaps, compare.CollectionSnapshot{
			Key:         c.ID,
			Name:        c.Name,
			Description: &c.Description,
		})
	}

	applier := apply.New(db, events, func(ctx context.Context, collectionKey string) ([]compare.MemberSnapshot, error) {
		entries, err := client.ListItems(ctx, collectionKey)
		if err != nil {
			return nil, err
		}
		return catalogMemberSnapshots(entries), nil
	})

	canonical, err := catalogCollectionRecords(db)
	if err != nil {
		return nil, err
	}

	changes := compare.CompareCollections(canonical, snaps, store.SourceCatalog)
	result.add(changes, applier.Apply(ctx, changes))
	created := createdCollections(changes)

	items, err := itemsByID(db)
	if err != nil {
		return result, err
	}
	byCatalog := make(map[string]*store.Item, len(items))
	for _, it := range items {
		if it.CatalogID != "" {
			byCatalog[it.CatalogID] = it
		}
	}

	for _, c := range remote {
		if created[c.ID] {
			continue
		}
		if err := ctx.Err(); err != nil {
			return result, err
		}

		coll, err := db.GetCollectionByCatalogID(c.ID)
		if err != nil {
			return result, err
		}
		if coll == nil {
			// The collection addition failed to apply; its members wait
			util.DebugLog("No canonical collection for catalog id %s", c.ID)
			continue
		}

		entries, err := client.ListItems(ctx, c.ID)
		if err != nil {
			util.WarnLog("Cannot list catalog items for %q: %v", c.Name, err)
			events.LogError(report.EventFetch, "", err)
			continue
		}
		memberSnaps := catalogMemberSnapshots(entries)
		events.LogFetch(store.SourceCatalog, c.Name, len(memberSnaps))

		// Availability can flip without any membership change
		for _, snap := range memberSnaps {
			it := byCatalog[snap.Key]
			if it == nil || it.Unavailable == snap.Unavailable {
				continue
			}
			if err := db.SetItemUnavailable(it.ID, snap.Unavailable); err != nil {
				return result, err
			}
			it.Unavailable = snap.Unavailable
		}

		records, err := memberRecords(db, coll.ID, store.SourceCatalog, items)
		if err != nil {
			return result, err
		}

		memberChanges := compare.CompareMembership(records, memberSnaps, coll.ID, store.SourceCatalog)
		result.add(memberChanges, applier.Apply(ctx, memberChanges))

		if err := db.SetCollectionSourceCount(coll.ID, store.SourceCatalog, len(memberSnaps)); err != nil {
			return result, err
		}
	}

	return result, nil
}

// catalogMemberSnapshots converts catalog items to comparator entries.
// The catalog states every field except album, which it omits for
// singles, so album is an opinion only when non-empty.
func catalogMemberSnapshots(entries []catalog.Item) []compare.MemberSnapshot {
	snaps := make([]compare.MemberSnapshot, 0, len(entries))
	for i := range entries {
		it := entries[i]
		snap := compare.MemberSnapshot{
			Key:         it.ID,
			Title:       &it.Title,
			Artist:      &it.Artist,
			DurationMs:  &it.DurationMs,
			Position:    &it.Position,
			Unavailable: it.Unavailable,
		}
		if it.Album != "" {
			snap.Album = &it.Album
		}
		snaps = append(snaps, snap)
	}
	return snaps
}

// catalogCollectionRecords returns the canonical collections the catalog
// knows about, keyed by catalog id
func catalogCollectionRecords(db *store.Store) ([]compare.CollectionRecord, error) {
	colls, err := db.GetAllCollections()
	if err != nil {
		return nil, err
	}

	records := make([]compare.CollectionRecord, 0, len(colls))
	for _, c := range colls {
		if c.CatalogID == "" {
			continue
		}
		records = append(records, compare.CollectionRecord{
			Key:         c.CatalogID,
			ID:          c.ID,
			Name:        c.Name,
			Description: c.Description,
		})
	}
	return records, nil
}

// scanStage walks the on-disk library, reconciles the canonical store
// against it, and records the stat fingerprint of every file it saw so
// the next scan can skip unchanged files.
func scanStage(ctx context.Context, db *store.Store, events *report.EventLogger, root string, concurrency int) (*stageResult, *scan.Result, error) {
	result := &stageResult{}

	scanner := scan.New(&scan.Config{
		Store:          db,
		LibraryRoot:    root,
		AdditionalExts: viper.GetStringSlice("extensions"),
		Concurrency:    concurrency,
		Logger:         events,
	})

	scanned, err := scanner.Scan(ctx)
	if err != nil {
		return nil, nil, err
	}

	// Directory names are sanitized on disk, so the canonical side is
	// keyed and named by folder base name. A rename on disk reads as
	// remove plus add, which is all the filesystem can express.
	colls, err := db.GetAllCollections()
	if err != nil {
		return nil, nil, err
	}
	var canonical []compare.CollectionRecord
	for _, c := range colls {
		if c.LocalCount == 0 {
			continue
		}
		base := path.Base(c.Folder)
		canonical = append(canonical, compare.CollectionRecord{
			Key:  base,
			ID:   c.ID,
			Name: base,
		})
	}

	snaps := make([]compare.CollectionSnapshot, 0, len(scanned.Collections))
	for _, c := range scanned.Collections {
		snaps = append(snaps, c.Snapshot)
	}

	applier := apply.New(db, events, func(_ context.Context, collectionKey string) ([]compare.MemberSnapshot, error) {
		for i := range scanned.Collections {
			if scanned.Collections[i].Name == collectionKey {
				return scanned.Collections[i].Members, nil
			}
		}
		return nil, nil
	})

	changes := compare.CompareCollections(canonical, snaps, store.SourceLocal)
	result.add(changes, applier.Apply(ctx, changes))
	created := createdCollections(changes)

	items, err := itemsByID(db)
	if err != nil {
		return result, scanned, err
	}

	for i := range scanned.Collections {
		c := &scanned.Collections[i]
		if err := ctx.Err(); err != nil {
			return result, scanned, err
		}

		coll, err := db.GetCollectionByFolder(c.Folder)
		if err != nil {
			return result, scanned, err
		}
		if coll == nil {
			util.DebugLog("No canonical collection for folder %s", c.Folder)
			continue
		}

		if !created[c.Name] {
			records, err := memberRecords(db, coll.ID, store.SourceLocal, items)
			if err != nil {
				return result, scanned, err
			}
			memberChanges := compare.CompareMembership(records, c.Members, coll.ID, store.SourceLocal)
			result.add(memberChanges, applier.Apply(ctx, memberChanges))

			if err := db.SetCollectionSourceCount(coll.ID, store.SourceLocal, len(c.Members)); err != nil {
				return result, scanned, err
			}
		}

		for j := range c.Files {
			f := &c.Files[j]
			itemID := f.ItemID
			if itemID == 0 {
				it, err := db.GetItemByMatchKey(f.MatchKey)
				if err != nil {
					return result, scanned, err
				}
				if it == nil {
					continue
				}
				itemID = it.ID
				if !f.Reused {
					rememberTagInfo(db, it, f)
				}
			}
			if err := db.AddItemPath(itemID, f.RelPath, f.SizeBytes, f.MtimeUnix); err != nil {
				return result, scanned, err
			}
		}
	}

	return result, scanned, nil
}

// rememberTagInfo backfills year and ISRC from a fresh tag read onto an
// item that lacks them. Existing values win; tags never overwrite.
func rememberTagInfo(db *store.Store, it *store.Item, f *scan.File) {
	if (f.Year == 0 || it.Year != 0) && (f.ISRC == "" || it.ISRC != "") {
		return
	}

	year := it.Year
	if year == 0 {
		year = f.Year
	}
	isrc := it.ISRC
	if isrc == "" {
		isrc = f.ISRC
	}
	if err := db.SetItemTagInfo(it.ID, year, isrc); err != nil {
		util.WarnLog("Cannot record tag info for item %d: %v", it.ID, err)
	}
}

// desktopStage reads the desktop player's playlists and reconciles the
// canonical store against them. Desktop metadata is file-derived, so for
// items the store already knows the snapshot keeps only ordering; the
// catalog stays the metadata authority.
func desktopStage(ctx context.Context, db *store.Store, ddb *desktop.DB, events *report.EventLogger) (*stageResult, error) {
	result := &stageResult{}

	playlists, err := ddb.Snapshot()
	if err != nil {
		return nil, fmt.Errorf("reading desktop library: %w", err)
	}
	events.LogFetch(store.SourceDesktop, "", len(playlists))

	items, err := itemsByID(db)
	if err != nil {
		return nil, err
	}
	known := make(map[string]bool, len(items))
	for _, it := range items {
		if it.DesktopID != "" {
			known[it.DesktopID] = true
		}
	}
	for i := range playlists {
		members := playlists[i].Members
		for j := range members {
			if known[members[j].Key] {
				members[j].Title = nil
				members[j].Artist = nil
				members[j].Album = nil
			}
		}
	}

	colls, err := db.GetAllCollections()
	if err != nil {
		return nil, err
	}
	var canonical []compare.CollectionRecord
	for _, c := range colls {
		if c.DesktopID == "" {
			continue
		}
		canonical = append(canonical, compare.CollectionRecord{
			Key:  c.DesktopID,
			ID:   c.ID,
			Name: c.Name,
		})
	}

	snaps := make([]compare.CollectionSnapshot, 0, len(playlists))
	for _, ps := range playlists {
		snaps = append(snaps, ps.Collection)
	}

	applier := apply.New(db, events, func(_ context.Context, collectionKey string) ([]compare.MemberSnapshot, error) {
		for i := range playlists {
			if playlists[i].Collection.Key == collectionKey {
				return playlists[i].Members, nil
			}
		}
		return nil, nil
	})

	changes := compare.CompareCollections(canonical, snaps, store.SourceDesktop)
	result.add(changes, applier.Apply(ctx, changes))
	created := createdCollections(changes)

	for i := range playlists {
		ps := &playlists[i]
		if created[ps.Collection.Key] {
			continue
		}
		if err := ctx.Err(); err != nil {
			return result, err
		}

		coll, err := db.GetCollectionByDesktopID(ps.Collection.Key)
		if err != nil {
			return result, err
		}
		if coll == nil {
			util.DebugLog("No canonical collection for desktop id %s", ps.Collection.Key)
			continue
		}

		records, err := memberRecords(db, coll.ID, store.SourceDesktop, items)
		if err != nil {
			return result, err
		}
		memberChanges := compare.CompareMembership(records, ps.Members, coll.ID, store.SourceDesktop)
		result.add(memberChanges, applier.Apply(ctx, memberChanges))

		if err := db.SetCollectionSourceCount(coll.ID, store.SourceDesktop, len(ps.Members)); err != nil {
			return result, err
		}
	}

	return result, nil
}

// mirrorSummary aggregates the desktop mirror's per-playlist results
type mirrorSummary struct {
	Playlists int
	Added     int
	Removed   int
	Deleted   int
}

// mirrorStage pushes every collection's converged state into the desktop
// library and backfills desktop ids so the next ingest recognizes the
// rows it is about to see. An empty only mirrors everything.
func mirrorStage(ctx context.Context, db *store.Store, ddb *desktop.DB, events *report.EventLogger, root, only string) (*mirrorSummary, error) {
	colls, err := db.GetAllCollections()
	if err != nil {
		return nil, err
	}
	items, err := itemsByID(db)
	if err != nil {
		return nil, err
	}
	paths, err := db.GetAllItemPaths()
	if err != nil {
		return nil, err
	}

	summary := &mirrorSummary{}
	for _, coll := range colls {
		if only != "" && coll.Name != only {
			continue
		}
		if err := ctx.Err(); err != nil {
			return summary, err
		}

		tracks, trackItems, err := desiredTracks(db, coll, items, paths, root)
		if err != nil {
			return summary, err
		}

		res, err := ddb.Mirror(coll.Name, tracks)
		if err != nil {
			util.WarnLog("Cannot mirror %q to desktop: %v", coll.Name, err)
			events.LogError(report.EventDesktop, coll.Folder, err)
			continue
		}
		if res.Playlist == nil {
			continue
		}

		if res.Added+res.Removed+res.Renumbered > 0 || res.Deleted {
			events.Log(&report.Event{
				Level:      report.LevelInfo,
				Event:      report.EventDesktop,
				Collection: coll.Name,
				Extra: map[string]string{
					"added":   strconv.Itoa(res.Added),
					"removed": strconv.Itoa(res.Removed),
				},
			})
		}

		summary.Playlists++
		summary.Added += res.Added
		summary.Removed += res.Removed
		if res.Deleted {
			// The playlist row is gone; the next ingest clears the
			// desktop side of the canonical record
			summary.Deleted++
			continue
		}

		if coll.DesktopID == "" {
			if err := db.SetCollectionDesktopID(coll.ID, strconv.FormatInt(res.Playlist.ID, 10)); err != nil {
				return summary, err
			}
		}

		// Content rows now exist for every pushed track
		for idx, tr := range tracks {
			it := trackItems[idx]
			if it.DesktopID != "" {
				continue
			}
			content, err := ddb.FindContentByPath(tr.AbsPath)
			if err != nil {
				return summary, err
			}
			if content == nil {
				continue
			}
			desktopID := strconv.FormatInt(content.ID, 10)
			if err := db.SetItemDesktopID(it.ID, desktopID); err != nil {
				// Two items can share one content row when the desktop
				// deduplicated them; the first claim wins
				util.DebugLog("Cannot backfill desktop id for item %d: %v", it.ID, err)
				continue
			}
			it.DesktopID = desktopID
		}
	}

	return summary, nil
}

// desiredTracks assembles the push list for one collection: members the
// catalog or the library still lists, in position order, that have a
// file recorded under the collection folder and present on disk
func desiredTracks(db *store.Store, coll *store.Collection, items map[int64]*store.Item, paths map[int64][]string, root string) ([]desktop.Track, []*store.Item, error) {
	members, err := db.GetMembershipsByCollection(coll.ID)
	if err != nil {
		return nil, nil, err
	}

	type entry struct {
		item *store.Item
		pos  int
		rel  string
	}
	var entries []entry
	for _, m := range members {
		if !m.InCatalog && !m.InLocal {
			continue
		}
		it := items[m.ItemID]
		if it == nil {
			continue
		}

		rel := ""
		for _, p := range paths[it.ID] {
			if path.Dir(p) == coll.Folder {
				rel = p
				break
			}
		}
		if rel == "" {
			continue
		}

		pos := math.MaxInt // unordered members sort last
		if m.Position != nil {
			pos = *m.Position
		}
		entries = append(entries, entry{item: it, pos: pos, rel: rel})
	}

	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].pos != entries[j].pos {
			return entries[i].pos < entries[j].pos
		}
		return entries[i].rel < entries[j].rel
	})

	tracks := make([]desktop.Track, 0, len(entries))
	trackItems := make([]*store.Item, 0, len(entries))
	for _, e := range entries {
		abs := filepath.Join(root, filepath.FromSlash(e.rel))
		if _, err := os.Stat(abs); err != nil {
			continue
		}
		tracks = append(tracks, desktop.Track{
			Title:   e.item.Title,
			Artist:  e.item.Artist,
			Album:   e.item.Album,
			Year:    e.item.Year,
			AbsPath: abs,
		})
		trackItems = append(trackItems, e.item)
	}
	return tracks, trackItems, nil
}
