// Package apply writes detected changes into the canonical store. Each
// change is one unit of work: a failure is recorded and the rest of the
// batch continues, so one bad row never blocks a reconciliation pass.
package apply

import (
	"context"
	"fmt"
	"strconv"

	"github.com/franz/playlist-sync/internal/compare"
	"github.com/franz/playlist-sync/internal/meta"
	"github.com/franz/playlist-sync/internal/report"
	"github.com/franz/playlist-sync/internal/store"
	"github.com/franz/playlist-sync/internal/util"
)

// ListItemsFunc returns the item list a source currently reports for an
// externally-identified collection. Used when a whole collection is new,
// so its members can be attached in the same pass.
type ListItemsFunc func(ctx context.Context, collectionKey string) ([]compare.MemberSnapshot, error)

// Applier applies changes from one source to the canonical store
type Applier struct {
	store     *store.Store
	events    *report.EventLogger
	listItems ListItemsFunc
}

// New creates an Applier. listItems may be nil when the caller prefers to
// let the next membership comparison attach new collections' items.
func New(st *store.Store, events *report.EventLogger, listItems ListItemsFunc) *Applier {
	return &Applier{
		store:     st,
		events:    events,
		listItems: listItems,
	}
}

// Failure pairs a change with the error that kept it from applying
type Failure struct {
	Change compare.Change
	Err    error
}

// Result reports what one Apply call did
type Result struct {
	Counts   map[compare.ChangeType]int
	Failures []Failure
}

// Applied returns the total number of successfully applied changes
func (r *Result) Applied() int {
	total := 0
	for _, n := range r.Counts {
		total += n
	}
	return total
}

// Apply writes a batch of changes in the order the comparator emitted them.
// Additions land before positional updates; a cancelled context stops the
// batch between changes, never inside one.
func (a *Applier) Apply(ctx context.Context, changes []compare.Change) *Result {
	result := &Result{Counts: make(map[compare.ChangeType]int)}

	for _, change := range changes {
		if ctx.Err() != nil {
			break
		}

		err := a.applyChange(ctx, change)
		a.events.LogChange(change.Source, string(change.Type), change.CollectionKey, change.ItemKey, err)

		if err != nil {
			util.WarnLog("could not apply %s from %s: %v", change.Type, change.Source, err)
			result.Failures = append(result.Failures, Failure{Change: change, Err: err})
			continue
		}
		result.Counts[change.Type]++
	}

	return result
}

func (a *Applier) applyChange(ctx context.Context, change compare.Change) error {
	switch change.Type {
	case compare.CollectionAdded:
		return a.applyCollectionAdded(ctx, change)
	case compare.CollectionRemoved:
		return a.applyCollectionRemoved(change)
	case compare.CollectionRenamed:
		return a.applyCollectionRenamed(change)
	case compare.CollectionDescriptionChanged:
		return a.applyCollectionDescription(change)
	case compare.ItemAdded:
		return a.applyItemAdded(change)
	case compare.ItemRemoved:
		return a.applyItemRemoved(change)
	case compare.ItemMoved:
		return a.applyItemMoved(change)
	case compare.ItemMetadataChanged:
		return a.applyItemMetadata(change)
	}
	return fmt.Errorf("unknown change type %q", change.Type)
}

func (a *Applier) applyCollectionAdded(ctx context.Context, change compare.Change) error {
	coll, err := a.ensureCollection(change)
	if err != nil {
		return err
	}

	if a.listItems == nil {
		return nil
	}

	items, err := a.listItems(ctx, change.CollectionKey)
	if err != nil {
		return fmt.Errorf("listing items for new collection %q: %w", change.Name, err)
	}

	for _, snap := range items {
		if err := a.attachItem(coll.ID, change.Source, snap); err != nil {
			return err
		}
	}

	return a.store.SetCollectionSourceCount(coll.ID, change.Source, len(items))
}

// ensureCollection reuses a collection another source already created for
// the same name, backfilling this source's external id, before creating one.
// The folder lookup comes first: directory names are sanitized, so a local
// report of "AC-DC Hits" must land on the collection named "AC/DC Hits".
func (a *Applier) ensureCollection(change compare.Change) (*store.Collection, error) {
	existing, err := a.store.GetCollectionByFolder(meta.CollectionFolder(change.Name))
	if err != nil {
		return nil, err
	}
	if existing == nil {
		existing, err = a.store.GetCollectionByName(change.Name)
		if err != nil {
			return nil, err
		}
	}

	if existing == nil {
		coll := &store.Collection{
			Name:   change.Name,
			Folder: meta.CollectionFolder(change.Name),
		}
		if change.Description != nil {
			coll.Description = *change.Description
		}
		switch change.Source {
		case store.SourceCatalog:
			coll.CatalogID = change.CollectionKey
		case store.SourceDesktop:
			coll.DesktopID = change.CollectionKey
		}
		if err := a.store.CreateCollection(coll); err != nil {
			return nil, err
		}
		return coll, nil
	}

	switch change.Source {
	case store.SourceCatalog:
		if existing.CatalogID == "" {
			if err := a.store.SetCollectionCatalogID(existing.ID, change.CollectionKey); err != nil {
				return nil, err
			}
			existing.CatalogID = change.CollectionKey
		}
	case store.SourceDesktop:
		if existing.DesktopID == "" {
			if err := a.store.SetCollectionDesktopID(existing.ID, change.CollectionKey); err != nil {
				return nil, err
			}
			existing.DesktopID = change.CollectionKey
		}
	}

	return existing, nil
}

func (a *Applier) applyCollectionRemoved(change compare.Change) error {
	if change.CollectionID == 0 {
		return fmt.Errorf("%w: collection %q", util.ErrRecordNotFound, change.CollectionKey)
	}

	// The collection row survives; only this source's view of its
	// memberships is withdrawn
	n, err := a.store.SoftRemoveCollectionMemberships(change.CollectionID, change.Source)
	if err != nil {
		return err
	}
	if n > 0 {
		util.DebugLog("soft-removed %d memberships under collection %d for %s", n, change.CollectionID, change.Source)
	}
	return a.store.SetCollectionSourceCount(change.CollectionID, change.Source, 0)
}

func (a *Applier) applyCollectionRenamed(change compare.Change) error {
	if change.CollectionID == 0 {
		return fmt.Errorf("%w: collection %q", util.ErrRecordNotFound, change.CollectionKey)
	}
	return a.store.RenameCollection(change.CollectionID, change.Name, meta.CollectionFolder(change.Name))
}

func (a *Applier) applyCollectionDescription(change compare.Change) error {
	if change.CollectionID == 0 {
		return fmt.Errorf("%w: collection %q", util.ErrRecordNotFound, change.CollectionKey)
	}
	if change.Description == nil {
		return nil
	}
	return a.store.SetCollectionDescription(change.CollectionID, *change.Description)
}

func (a *Applier) applyItemAdded(change compare.Change) error {
	if change.CollectionID == 0 {
		return fmt.Errorf("%w: collection for item %q", util.ErrRecordNotFound, change.ItemKey)
	}

	if change.ItemID != 0 {
		// Returning after a soft removal: restore the flag on the same row
		if err := a.store.SetMembershipPresence(change.CollectionID, change.ItemID, change.Source, true); err != nil {
			return err
		}
		if change.Position != nil {
			return a.store.SetMembershipPosition(change.CollectionID, change.ItemID, change.Position)
		}
		return nil
	}

	if change.Item == nil {
		return fmt.Errorf("item addition %q carries no snapshot entry", change.ItemKey)
	}
	return a.attachItem(change.CollectionID, change.Source, *change.Item)
}

// attachItem finds or creates the item a snapshot entry refers to and marks
// it present in the collection for this source
func (a *Applier) attachItem(collectionID int64, source string, snap compare.MemberSnapshot) error {
	probe := &store.Item{}
	if snap.Title != nil {
		probe.Title = *snap.Title
	}
	if snap.Artist != nil {
		probe.Artist = *snap.Artist
	}
	if snap.Album != nil {
		probe.Album = *snap.Album
	}
	if snap.DurationMs != nil {
		probe.DurationMs = *snap.DurationMs
	}

	switch source {
	case store.SourceCatalog:
		probe.CatalogID = snap.Key
		probe.MatchKey = meta.MatchKey(probe.Artist, probe.Title)
	case store.SourceDesktop:
		probe.DesktopID = snap.Key
		probe.MatchKey = meta.MatchKey(probe.Artist, probe.Title)
	default:
		// The local source has no external ids; its key is the match key
		probe.MatchKey = snap.Key
	}

	item, err := a.store.EnsureItem(probe)
	if err != nil {
		return err
	}

	if err := a.store.SetMembershipPresence(collectionID, item.ID, source, true); err != nil {
		return err
	}
	if snap.Position != nil {
		if err := a.store.SetMembershipPosition(collectionID, item.ID, snap.Position); err != nil {
			return err
		}
	}

	// Only the catalog knows whether upstream content is gone
	if source == store.SourceCatalog && item.Unavailable != snap.Unavailable {
		if err := a.store.SetItemUnavailable(item.ID, snap.Unavailable); err != nil {
			return err
		}
	}

	return nil
}

func (a *Applier) applyItemRemoved(change compare.Change) error {
	if change.CollectionID == 0 || change.ItemID == 0 {
		return fmt.Errorf("%w: membership %q", util.ErrRecordNotFound, change.ItemKey)
	}
	return a.store.SetMembershipPresence(change.CollectionID, change.ItemID, change.Source, false)
}

func (a *Applier) applyItemMoved(change compare.Change) error {
	if change.CollectionID == 0 || change.ItemID == 0 {
		return fmt.Errorf("%w: membership %q", util.ErrRecordNotFound, change.ItemKey)
	}
	// Position only; presence flags are never touched by a move
	return a.store.SetMembershipPosition(change.CollectionID, change.ItemID, change.Position)
}

func (a *Applier) applyItemMetadata(change compare.Change) error {
	if change.ItemID == 0 {
		return fmt.Errorf("%w: item %q", util.ErrRecordNotFound, change.ItemKey)
	}

	item, err := a.store.GetItemByID(change.ItemID)
	if err != nil {
		return err
	}
	if item == nil {
		return fmt.Errorf("%w: item %d", util.ErrRecordNotFound, change.ItemID)
	}

	var title, artist, album *string
	var durationMs *int

	for _, f := range change.Fields {
		switch f.Field {
		case "title":
			v := f.New
			title = &v
		case "artist":
			v := f.New
			artist = &v
		case "album":
			v := f.New
			album = &v
		case "duration_ms":
			n, err := strconv.Atoi(f.New)
			if err != nil {
				return fmt.Errorf("bad duration %q: %w", f.New, err)
			}
			durationMs = &n
		default:
			return fmt.Errorf("unknown metadata field %q", f.Field)
		}
	}

	// The match key follows title and artist; merge unchanged fields in
	var matchKey *string
	if title != nil || artist != nil {
		newTitle := item.Title
		if title != nil {
			newTitle = *title
		}
		newArtist := item.Artist
		if artist != nil {
			newArtist = *artist
		}
		k := meta.MatchKey(newArtist, newTitle)
		matchKey = &k
	}

	return a.store.UpdateItemMetadata(change.ItemID, title, artist, album, durationMs, matchKey)
}
