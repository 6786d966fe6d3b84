// Package decide turns the store's reconciled per-source state into
// prioritized actions: downloads for catalog items missing locally,
// removals for engine-managed copies the catalog dropped, and explicit
// no-action records for everything else.
package decide

import (
	"context"
	"fmt"
	"path"
	"path/filepath"
	"strings"

	"github.com/franz/playlist-sync/internal/meta"
	"github.com/franz/playlist-sync/internal/report"
	"github.com/franz/playlist-sync/internal/store"
	"github.com/franz/playlist-sync/internal/util"
)

// Actions a Decision can carry. The resolver ranks these when two
// decisions collide on one path.
const (
	ActionDownload       = "download"
	ActionUpdateMetadata = "update_metadata"
	ActionVerify         = "verify"
	ActionRemoveFile     = "remove_file"
	ActionNoAction       = "no_action"
)

// Download and removal priorities. Fresh fetches drain first; retries
// of items that already failed once queue behind everything else.
const (
	PriorityFresh   = 10
	PriorityRemove  = 8
	PriorityRefetch = 6
	PriorityRetry   = 5
)

// Decision is one proposed, not yet executed, reconciliation action
type Decision struct {
	Action       string
	CollectionID int64
	ItemID       int64
	Path         string // relative to the library root; empty for no_action
	Priority     int
	Reason       string
}

// Cache holds the run-scoped lookups every Decide call of one run
// shares: items by id, their recorded paths, and directory listings.
// Build a fresh one per run and discard it with the run.
type Cache struct {
	items    map[int64]*store.Item
	paths    map[int64][]string
	listings map[string]*dirListing
}

// NewCache preloads items and their recorded paths
func NewCache(s *store.Store) (*Cache, error) {
	items, err := s.GetAllItems()
	if err != nil {
		return nil, fmt.Errorf("failed to load items: %w", err)
	}
	byID := make(map[int64]*store.Item, len(items))
	for _, it := range items {
		byID[it.ID] = it
	}

	paths, err := s.GetAllItemPaths()
	if err != nil {
		return nil, fmt.Errorf("failed to load item paths: %w", err)
	}

	return &Cache{
		items:    byID,
		paths:    paths,
		listings: make(map[string]*dirListing),
	}, nil
}

// Engine computes per-membership decisions for collections
type Engine struct {
	store  *store.Store
	root   string
	format string // target download extension, without the dot
	cache  *Cache
	logger *report.EventLogger
}

// Config holds engine configuration
type Config struct {
	Store        *store.Store
	LibraryRoot  string
	TargetFormat string // defaults to mp3
	Cache        *Cache
	Logger       *report.EventLogger
}

// New creates a new Engine. The cache must come from NewCache and must
// not outlive the run it was built for.
func New(cfg *Config) *Engine {
	format := strings.TrimPrefix(strings.ToLower(cfg.TargetFormat), ".")
	if format == "" {
		format = "mp3"
	}

	return &Engine{
		store:  cfg.Store,
		root:   cfg.LibraryRoot,
		format: format,
		cache:  cfg.Cache,
		logger: cfg.Logger,
	}
}

// DecideAll computes decisions for every collection
func (e *Engine) DecideAll(ctx context.Context) ([]Decision, error) {
	collections, err := e.store.GetAllCollections()
	if err != nil {
		return nil, fmt.Errorf("failed to load collections: %w", err)
	}

	util.InfoLog("Analyzing %d collections", len(collections))

	var decisions []Decision
	for _, coll := range collections {
		select {
		case <-ctx.Done():
			return decisions, ctx.Err()
		default:
		}

		ds, err := e.decideCollection(coll)
		if err != nil {
			return decisions, err
		}
		decisions = append(decisions, ds...)
	}

	counts := CountByAction(decisions)
	util.InfoLog("Analysis complete: %d decisions (%d downloads, %d removals, %d no-action)",
		len(decisions), counts[ActionDownload], counts[ActionRemoveFile], counts[ActionNoAction])

	return decisions, nil
}

// DecideCollection computes decisions for a single collection
func (e *Engine) DecideCollection(ctx context.Context, collectionID int64) ([]Decision, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	coll, err := e.store.GetCollectionByID(collectionID)
	if err != nil {
		return nil, err
	}
	if coll == nil {
		return nil, fmt.Errorf("collection %d: %w", collectionID, util.ErrRecordNotFound)
	}

	return e.decideCollection(coll)
}

func (e *Engine) decideCollection(coll *store.Collection) ([]Decision, error) {
	listing, err := e.listing(coll.Folder)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", coll.Folder, err)
	}

	memberships, err := e.store.GetMembershipsByCollection(coll.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load memberships: %w", err)
	}

	// Matching first: every membership claims its file before the stray
	// pass judges what was left behind.
	matched := make(map[int64]fileEntry)
	for _, m := range memberships {
		item := e.cache.items[m.ItemID]
		if item == nil {
			continue
		}
		entry, ok := listing.matchFile(item.Artist, item.Title, e.recordedNames(item.ID, coll.Folder))
		if ok && listing.claim(entry.name, item.ID) {
			matched[item.ID] = entry
		}
	}

	// Files no membership claimed are adopted as local-only items so
	// later runs can protect and report them.
	for _, entry := range listing.unclaimed() {
		m, item, err := e.adoptStray(coll, entry)
		if err != nil {
			util.WarnLog("Cannot record local file %s/%s: %v", coll.Folder, entry.name, err)
			continue
		}
		listing.claim(entry.name, item.ID)
		matched[item.ID] = entry
		memberships = append(memberships, m)
	}

	decisions := make([]Decision, 0, len(memberships))
	for _, m := range memberships {
		d := e.decideMembership(coll, m, matched)
		if e.logger != nil {
			e.logger.LogDecision(d.Action, coll.Name, d.Path, d.Reason, d.Priority)
		}
		decisions = append(decisions, d)
	}

	return decisions, nil
}

// decideMembership applies the decision rules to one collection edge.
// Precedence: local-only files are preserved, then removal of copies the
// catalog dropped, then the on-disk check, then downloads. Every path
// out of here carries a reason; no membership is skipped silently.
func (e *Engine) decideMembership(coll *store.Collection, m *store.Membership, matched map[int64]fileEntry) Decision {
	d := Decision{
		Action:       ActionNoAction,
		CollectionID: coll.ID,
		ItemID:       m.ItemID,
	}

	item := e.cache.items[m.ItemID]
	if item == nil {
		util.WarnLog("Membership %d/%d references a missing item", coll.ID, m.ItemID)
		d.Reason = "item record missing"
		return d
	}

	entry, hasFile := matched[m.ItemID]
	localOnly := m.InLocal && !m.InCatalog && !m.InDesktop

	switch {
	case localOnly && hasFile:
		d.Reason = "local-only, preserved"

	case !m.InCatalog && m.CatalogRemovedAt != nil && !m.InLocal && hasFile:
		d.Action = ActionRemoveFile
		d.Path = path.Join(coll.Folder, entry.name)
		d.Priority = PriorityRemove
		d.Reason = "no longer in catalog collection"

	case hasFile:
		d.Reason = "file present in collection directory"

	case m.InCatalog && item.Unavailable:
		d.Reason = "unavailable upstream"

	case m.InCatalog && (item.Artist == "" || item.Title == ""):
		d.Reason = "missing artist or title metadata"

	case m.InCatalog && item.CatalogID == "":
		d.Reason = "no catalog id recorded"

	case m.InCatalog:
		d.Action = ActionDownload
		d.Path = path.Join(coll.Folder, meta.CanonicalFilename(item.Artist, item.Title, e.format))
		switch item.FetchStatus {
		case store.FetchStatusFailed:
			d.Priority = PriorityRetry
			d.Reason = "previous fetch failed, retrying"
		case store.FetchStatusFetched:
			d.Priority = PriorityRefetch
			d.Reason = "fetched elsewhere, missing from this collection"
		default:
			d.Priority = PriorityFresh
			d.Reason = "not yet fetched"
		}

	case m.InLocal:
		d.Reason = "recorded locally but file not found"

	default:
		d.Reason = "not listed by catalog, nothing to fetch"
	}

	return d
}

// adoptStray records a file no membership claims as a local-only item.
// The one write this package performs: without the record a later run
// would neither protect nor report the file.
func (e *Engine) adoptStray(coll *store.Collection, entry fileEntry) (*store.Membership, *store.Item, error) {
	artist, title, ok := meta.ParseStem(entry.stem)
	var matchKey string
	if ok {
		matchKey = meta.MatchKey(artist, title)
	} else {
		title = entry.stem
		matchKey = meta.NormalizeTitle(entry.stem)
	}

	item, err := e.store.EnsureItem(&store.Item{
		Title:    title,
		Artist:   artist,
		MatchKey: matchKey,
	})
	if err != nil {
		return nil, nil, err
	}

	relPath := path.Join(coll.Folder, entry.name)
	if err := e.store.AddItemPath(item.ID, relPath, entry.sizeBytes, entry.mtimeUnix); err != nil {
		return nil, nil, err
	}
	if err := e.store.SetMembershipPresence(coll.ID, item.ID, store.SourceLocal, true); err != nil {
		return nil, nil, err
	}
	m, err := e.store.GetMembership(coll.ID, item.ID)
	if err != nil {
		return nil, nil, err
	}
	if m == nil {
		return nil, nil, fmt.Errorf("membership %d/%d not readable after write", coll.ID, item.ID)
	}

	// Keep the run cache coherent with what was just written
	e.cache.items[item.ID] = item
	e.cache.paths[item.ID] = append(e.cache.paths[item.ID], relPath)

	util.InfoLog("Recorded local file with no source record: %s", relPath)
	return m, item, nil
}

// listing returns the cached directory contents for a collection folder
func (e *Engine) listing(folder string) (*dirListing, error) {
	if l, ok := e.cache.listings[folder]; ok {
		return l, nil
	}

	l, err := readListing(filepath.Join(e.root, filepath.FromSlash(folder)))
	if err != nil {
		return nil, err
	}
	e.cache.listings[folder] = l
	return l, nil
}

// recordedNames returns the base names of an item's recorded paths that
// live inside the given collection folder. Paths under other collections
// never count: each collection owns its own on-disk copy.
func (e *Engine) recordedNames(itemID int64, folder string) []string {
	var names []string
	for _, p := range e.cache.paths[itemID] {
		if path.Dir(p) == folder {
			names = append(names, path.Base(p))
		}
	}
	return names
}

// CountByAction tallies decisions per action type
func CountByAction(decisions []Decision) map[string]int {
	counts := make(map[string]int)
	for _, d := range decisions {
		counts[d.Action]++
	}
	return counts
}

// FilterByAction returns the decisions carrying one action type
func FilterByAction(decisions []Decision, action string) []Decision {
	var out []Decision
	for _, d := range decisions {
		if d.Action == action {
			out = append(out, d)
		}
	}
	return out
}
