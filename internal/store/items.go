package store

import (
	"database/sql"
	"fmt"
	"strings"
)

const itemColumns = `id, COALESCE(catalog_id, ''), COALESCE(desktop_id, ''), title, artist,
       COALESCE(album, ''), year, COALESCE(isrc, ''), duration_ms, match_key,
       fetch_status, COALESCE(fetch_error, ''), fetched_at,
       unavailable, COALESCE(sha1, ''), size_bytes, format, created_at, updated_at`

func scanItem(row interface{ Scan(...any) error }) (*Item, error) {
	it := &Item{}
	var unavailable int
	var fetchedAt sql.NullTime
	err := row.Scan(
		&it.ID, &it.CatalogID, &it.DesktopID, &it.Title, &it.Artist,
		&it.Album, &it.Year, &it.ISRC, &it.DurationMs, &it.MatchKey,
		&it.FetchStatus, &it.FetchError, &fetchedAt,
		&unavailable, &it.SHA1, &it.SizeBytes, &it.Format, &it.CreatedAt, &it.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	it.Unavailable = unavailable == 1
	if fetchedAt.Valid {
		it.FetchedAt = &fetchedAt.Time
	}
	return it, nil
}

// nullIfEmpty maps empty strings to NULL so UNIQUE columns
// accept any number of rows without an external id
func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// CreateItem inserts a new item and sets its ID
func (s *Store) CreateItem(it *Item) error {
	if it.FetchStatus == "" {
		it.FetchStatus = FetchStatusNotFetched
	}

	result, err := s.db.Exec(`
		INSERT INTO items (catalog_id, desktop_id, title, artist, album, year, isrc, duration_ms, match_key, fetch_status)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, nullIfEmpty(it.CatalogID), nullIfEmpty(it.DesktopID), it.Title, it.Artist,
		nullIfEmpty(it.Album), it.Year, nullIfEmpty(it.ISRC), it.DurationMs, it.MatchKey, it.FetchStatus)
	if err != nil {
		return fmt.Errorf("failed to insert item: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get item ID: %w", err)
	}
	it.ID = id

	return nil
}

// EnsureItem finds the item a source report refers to, or creates it.
// Lookup order: catalog id, desktop id, match key. External ids seen for
// the first time are backfilled onto the existing row; metadata is not
// overwritten here, that is the comparator's job to detect.
func (s *Store) EnsureItem(it *Item) (*Item, error) {
	var found *Item
	var err error

	if it.CatalogID != "" {
		found, err = s.GetItemByCatalogID(it.CatalogID)
		if err != nil {
			return nil, err
		}
	}
	if found == nil && it.DesktopID != "" {
		found, err = s.GetItemByDesktopID(it.DesktopID)
		if err != nil {
			return nil, err
		}
	}
	if found == nil && it.MatchKey != "" {
		found, err = s.GetItemByMatchKey(it.MatchKey)
		if err != nil {
			return nil, err
		}
	}

	if found == nil {
		if err := s.CreateItem(it); err != nil {
			return nil, err
		}
		return it, nil
	}

	if it.CatalogID != "" && found.CatalogID == "" {
		if err := s.SetItemCatalogID(found.ID, it.CatalogID); err != nil {
			return nil, err
		}
		found.CatalogID = it.CatalogID
	}
	if it.DesktopID != "" && found.DesktopID == "" {
		if err := s.SetItemDesktopID(found.ID, it.DesktopID); err != nil {
			return nil, err
		}
		found.DesktopID = it.DesktopID
	}

	return found, nil
}

// GetItemByID retrieves an item by its ID
func (s *Store) GetItemByID(id int64) (*Item, error) {
	it, err := scanItem(s.db.QueryRow(
		`SELECT `+itemColumns+` FROM items WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get item: %w", err)
	}
	return it, nil
}

// GetItemByCatalogID retrieves an item by its catalog identifier
func (s *Store) GetItemByCatalogID(catalogID string) (*Item, error) {
	it, err := scanItem(s.db.QueryRow(
		`SELECT `+itemColumns+` FROM items WHERE catalog_id = ?`, catalogID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get item: %w", err)
	}
	return it, nil
}

// GetItemByDesktopID retrieves an item by its desktop database identifier
func (s *Store) GetItemByDesktopID(desktopID string) (*Item, error) {
	it, err := scanItem(s.db.QueryRow(
		`SELECT `+itemColumns+` FROM items WHERE desktop_id = ?`, desktopID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get item: %w", err)
	}
	return it, nil
}

// GetItemByMatchKey retrieves the oldest item with the given match key
func (s *Store) GetItemByMatchKey(key string) (*Item, error) {
	it, err := scanItem(s.db.QueryRow(
		`SELECT `+itemColumns+` FROM items WHERE match_key = ? ORDER BY id LIMIT 1`, key))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get item: %w", err)
	}
	return it, nil
}

// GetAllItems retrieves all items
func (s *Store) GetAllItems() ([]*Item, error) {
	rows, err := s.db.Query(`SELECT ` + itemColumns + ` FROM items ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query items: %w", err)
	}
	defer rows.Close()

	var items []*Item
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan item: %w", err)
		}
		items = append(items, it)
	}

	return items, rows.Err()
}

// UpdateItemMetadata updates only the given fields; nil means leave unchanged.
// matchKey must be supplied by the caller whenever title or artist change.
func (s *Store) UpdateItemMetadata(id int64, title, artist, album *string, durationMs *int, matchKey *string) error {
	var sets []string
	var args []any

	if title != nil {
		sets = append(sets, "title = ?")
		args = append(args, *title)
	}
	if artist != nil {
		sets = append(sets, "artist = ?")
		args = append(args, *artist)
	}
	if album != nil {
		sets = append(sets, "album = ?")
		args = append(args, nullIfEmpty(*album))
	}
	if durationMs != nil {
		sets = append(sets, "duration_ms = ?")
		args = append(args, *durationMs)
	}
	if matchKey != nil {
		sets = append(sets, "match_key = ?")
		args = append(args, *matchKey)
	}

	if len(sets) == 0 {
		return nil
	}

	sets = append(sets, "updated_at = CURRENT_TIMESTAMP")
	args = append(args, id)

	_, err := s.db.Exec("UPDATE items SET "+strings.Join(sets, ", ")+" WHERE id = ?", args...)
	if err != nil {
		return fmt.Errorf("failed to update item metadata: %w", err)
	}

	return nil
}

// SetItemFetchStatus updates the fetch lifecycle state of an item
func (s *Store) SetItemFetchStatus(id int64, status string, errorMsg string) error {
	_, err := s.db.Exec(`
		UPDATE items SET fetch_status = ?, fetch_error = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ?
	`, status, nullIfEmpty(errorMsg), id)
	if err != nil {
		return fmt.Errorf("failed to update fetch status: %w", err)
	}
	return nil
}

// SetItemContent records the verified content hash, size and format after
// a completed transfer, stamping fetched_at
func (s *Store) SetItemContent(id int64, sha1 string, sizeBytes int64, format string) error {
	_, err := s.db.Exec(`
		UPDATE items SET sha1 = ?, size_bytes = ?, format = ?,
		       fetched_at = CURRENT_TIMESTAMP, updated_at = CURRENT_TIMESTAMP
		WHERE id = ?
	`, nullIfEmpty(sha1), sizeBytes, format, id)
	if err != nil {
		return fmt.Errorf("failed to update item content: %w", err)
	}
	return nil
}

// SetItemTagInfo records year and ISRC read from file tags. The scanner is
// the only writer of these fields.
func (s *Store) SetItemTagInfo(id int64, year int, isrc string) error {
	_, err := s.db.Exec(`
		UPDATE items SET year = ?, isrc = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ?
	`, year, nullIfEmpty(isrc), id)
	if err != nil {
		return fmt.Errorf("failed to update item tag info: %w", err)
	}
	return nil
}

// SetItemUnavailable marks whether upstream reports the content as gone
func (s *Store) SetItemUnavailable(id int64, unavailable bool) error {
	v := 0
	if unavailable {
		v = 1
	}
	_, err := s.db.Exec(`
		UPDATE items SET unavailable = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ?
	`, v, id)
	if err != nil {
		return fmt.Errorf("failed to update item availability: %w", err)
	}
	return nil
}

// SetItemCatalogID backfills the catalog identifier on an item
func (s *Store) SetItemCatalogID(id int64, catalogID string) error {
	_, err := s.db.Exec(`
		UPDATE items SET catalog_id = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ?
	`, nullIfEmpty(catalogID), id)
	if err != nil {
		return fmt.Errorf("failed to set catalog id: %w", err)
	}
	return nil
}

// SetItemDesktopID backfills the desktop database identifier on an item
func (s *Store) SetItemDesktopID(id int64, desktopID string) error {
	_, err := s.db.Exec(`
		UPDATE items SET desktop_id = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ?
	`, nullIfEmpty(desktopID), id)
	if err != nil {
		return fmt.Errorf("failed to set desktop id: %w", err)
	}
	return nil
}

// CountItemsByFetchStatus returns the number of items in a fetch state
func (s *Store) CountItemsByFetchStatus(status string) (int, error) {
	var count int
	err := s.db.QueryRow("SELECT COUNT(*) FROM items WHERE fetch_status = ?", status).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count items: %w", err)
	}
	return count, nil
}

// AddItemPath records a known on-disk location for an item. Re-recording
// an existing path refreshes its size and mtime.
func (s *Store) AddItemPath(itemID int64, relPath string, sizeBytes, mtimeUnix int64) error {
	_, err := s.db.Exec(`
		INSERT INTO item_paths (item_id, rel_path, size_bytes, mtime_unix) VALUES (?, ?, ?, ?)
		ON CONFLICT(item_id, rel_path) DO UPDATE SET size_bytes = excluded.size_bytes, mtime_unix = excluded.mtime_unix
	`, itemID, relPath, sizeBytes, mtimeUnix)
	if err != nil {
		return fmt.Errorf("failed to add item path: %w", err)
	}
	return nil
}

// RemoveItemPath forgets an on-disk location for an item
func (s *Store) RemoveItemPath(itemID int64, relPath string) error {
	_, err := s.db.Exec(`
		DELETE FROM item_paths WHERE item_id = ? AND rel_path = ?
	`, itemID, relPath)
	if err != nil {
		return fmt.Errorf("failed to remove item path: %w", err)
	}
	return nil
}

// RecordFetch stores the outcome of a completed transfer: content
// fingerprint, fetch state and the new on-disk location, in one
// transaction so a crash cannot leave them disagreeing.
func (s *Store) RecordFetch(itemID int64, relPath, sha1 string, sizeBytes int64, format string, mtimeUnix int64) error {
	return s.Transaction(func(tx *sql.Tx) error {
		if _, err := tx.Exec(`
			UPDATE items SET fetch_status = ?, fetch_error = NULL, sha1 = ?, size_bytes = ?, format = ?,
			       fetched_at = CURRENT_TIMESTAMP, updated_at = CURRENT_TIMESTAMP
			WHERE id = ?
		`, FetchStatusFetched, nullIfEmpty(sha1), sizeBytes, format, itemID); err != nil {
			return fmt.Errorf("failed to update item content: %w", err)
		}
		if _, err := tx.Exec(`
			INSERT INTO item_paths (item_id, rel_path, size_bytes, mtime_unix) VALUES (?, ?, ?, ?)
			ON CONFLICT(item_id, rel_path) DO UPDATE SET size_bytes = excluded.size_bytes, mtime_unix = excluded.mtime_unix
		`, itemID, relPath, sizeBytes, mtimeUnix); err != nil {
			return fmt.Errorf("failed to record item path: %w", err)
		}
		return nil
	})
}

// DropItemPath forgets an on-disk location and, when it was the last
// one, resets the item's fetch state so a later catalog re-add
// schedules a fresh transfer.
func (s *Store) DropItemPath(itemID int64, relPath string) error {
	return s.Transaction(func(tx *sql.Tx) error {
		if _, err := tx.Exec(`
			DELETE FROM item_paths WHERE item_id = ? AND rel_path = ?
		`, itemID, relPath); err != nil {
			return fmt.Errorf("failed to remove item path: %w", err)
		}

		var remaining int
		if err := tx.QueryRow(`SELECT COUNT(*) FROM item_paths WHERE item_id = ?`, itemID).Scan(&remaining); err != nil {
			return fmt.Errorf("failed to count item paths: %w", err)
		}
		if remaining == 0 {
			if _, err := tx.Exec(`
				UPDATE items SET fetch_status = ?, fetched_at = NULL, updated_at = CURRENT_TIMESTAMP
				WHERE id = ?
			`, FetchStatusNotFetched, itemID); err != nil {
				return fmt.Errorf("failed to reset fetch status: %w", err)
			}
		}
		return nil
	})
}

// GetItemPaths returns the known locations of an item in first-recorded order
func (s *Store) GetItemPaths(itemID int64) ([]string, error) {
	rows, err := s.db.Query(`
		SELECT rel_path FROM item_paths WHERE item_id = ? ORDER BY rowid
	`, itemID)
	if err != nil {
		return nil, fmt.Errorf("failed to query item paths: %w", err)
	}
	defer rows.Close()

	var paths []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, fmt.Errorf("failed to scan item path: %w", err)
		}
		paths = append(paths, p)
	}

	return paths, rows.Err()
}

// GetAllItemPaths returns every known location keyed by item id
func (s *Store) GetAllItemPaths() (map[int64][]string, error) {
	rows, err := s.db.Query(`SELECT item_id, rel_path FROM item_paths ORDER BY item_id, rowid`)
	if err != nil {
		return nil, fmt.Errorf("failed to query item paths: %w", err)
	}
	defer rows.Close()

	paths := make(map[int64][]string)
	for rows.Next() {
		var id int64
		var p string
		if err := rows.Scan(&id, &p); err != nil {
			return nil, fmt.Errorf("failed to scan item path: %w", err)
		}
		paths[id] = append(paths[id], p)
	}

	return paths, rows.Err()
}

// GetItemIDByPath returns the item that owns a recorded path, 0 when unknown
func (s *Store) GetItemIDByPath(relPath string) (int64, error) {
	var id int64
	err := s.db.QueryRow(`SELECT item_id FROM item_paths WHERE rel_path = ?`, relPath).Scan(&id)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to look up path: %w", err)
	}
	return id, nil
}

// PathInfo is the stat fingerprint recorded for one on-disk location
type PathInfo struct {
	ItemID    int64
	SizeBytes int64
	MtimeUnix int64
}

// GetAllPathInfo returns the recorded stat fingerprint of every known
// location, keyed by relative path. The scanner uses it to skip files
// whose size and mtime have not moved.
func (s *Store) GetAllPathInfo() (map[string]PathInfo, error) {
	rows, err := s.db.Query(`SELECT rel_path, item_id, size_bytes, mtime_unix FROM item_paths`)
	if err != nil {
		return nil, fmt.Errorf("failed to query path info: %w", err)
	}
	defer rows.Close()

	info := make(map[string]PathInfo)
	for rows.Next() {
		var p string
		var pi PathInfo
		if err := rows.Scan(&p, &pi.ItemID, &pi.SizeBytes, &pi.MtimeUnix); err != nil {
			return nil, fmt.Errorf("failed to scan path info: %w", err)
		}
		info[p] = pi
	}

	return info, rows.Err()
}
