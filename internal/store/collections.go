package store

import (
	"database/sql"
	"fmt"
)

const collectionColumns = `id, COALESCE(catalog_id, ''), COALESCE(desktop_id, ''), name,
       COALESCE(description, ''), folder, catalog_count, local_count, desktop_count,
       created_at, updated_at`

func scanCollection(row interface{ Scan(...any) error }) (*Collection, error) {
	c := &Collection{}
	err := row.Scan(
		&c.ID, &c.CatalogID, &c.DesktopID, &c.Name,
		&c.Description, &c.Folder, &c.CatalogCount, &c.LocalCount, &c.DesktopCount,
		&c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return c, nil
}

// CreateCollection inserts a new collection and sets its ID
func (s *Store) CreateCollection(c *Collection) error {
	result, err := s.db.Exec(`
		INSERT INTO collections (catalog_id, desktop_id, name, description, folder)
		VALUES (?, ?, ?, ?, ?)
	`, nullIfEmpty(c.CatalogID), nullIfEmpty(c.DesktopID), c.Name,
		nullIfEmpty(c.Description), c.Folder)
	if err != nil {
		return fmt.Errorf("failed to insert collection: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get collection ID: %w", err)
	}
	c.ID = id

	return nil
}

// GetCollectionByID retrieves a collection by its ID
func (s *Store) GetCollectionByID(id int64) (*Collection, error) {
	c, err := scanCollection(s.db.QueryRow(
		`SELECT `+collectionColumns+` FROM collections WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get collection: %w", err)
	}
	return c, nil
}

// GetCollectionByCatalogID retrieves a collection by its catalog identifier
func (s *Store) GetCollectionByCatalogID(catalogID string) (*Collection, error) {
	c, err := scanCollection(s.db.QueryRow(
		`SELECT `+collectionColumns+` FROM collections WHERE catalog_id = ?`, catalogID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get collection: %w", err)
	}
	return c, nil
}

// GetCollectionByDesktopID retrieves a collection by its desktop playlist identifier
func (s *Store) GetCollectionByDesktopID(desktopID string) (*Collection, error) {
	c, err := scanCollection(s.db.QueryRow(
		`SELECT `+collectionColumns+` FROM collections WHERE desktop_id = ?`, desktopID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get collection: %w", err)
	}
	return c, nil
}

// GetCollectionByName retrieves a collection by its display name
func (s *Store) GetCollectionByName(name string) (*Collection, error) {
	c, err := scanCollection(s.db.QueryRow(
		`SELECT `+collectionColumns+` FROM collections WHERE name = ? ORDER BY id LIMIT 1`, name))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get collection: %w", err)
	}
	return c, nil
}

// GetCollectionByFolder retrieves a collection by its library directory.
// Directory names are sanitized, so local reports join on folder rather
// than on the display name.
func (s *Store) GetCollectionByFolder(folder string) (*Collection, error) {
	c, err := scanCollection(s.db.QueryRow(
		`SELECT `+collectionColumns+` FROM collections WHERE folder = ? ORDER BY id LIMIT 1`, folder))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get collection: %w", err)
	}
	return c, nil
}

// GetAllCollections retrieves all collections
func (s *Store) GetAllCollections() ([]*Collection, error) {
	rows, err := s.db.Query(`SELECT ` + collectionColumns + ` FROM collections ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("failed to query collections: %w", err)
	}
	defer rows.Close()

	var collections []*Collection
	for rows.Next() {
		c, err := scanCollection(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan collection: %w", err)
		}
		collections = append(collections, c)
	}

	return collections, rows.Err()
}

// RenameCollection updates the display name and folder of a collection
func (s *Store) RenameCollection(id int64, name, folder string) error {
	_, err := s.db.Exec(`
		UPDATE collections SET name = ?, folder = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ?
	`, name, folder, id)
	if err != nil {
		return fmt.Errorf("failed to rename collection: %w", err)
	}
	return nil
}

// SetCollectionDescription updates the description of a collection
func (s *Store) SetCollectionDescription(id int64, description string) error {
	_, err := s.db.Exec(`
		UPDATE collections SET description = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ?
	`, nullIfEmpty(description), id)
	if err != nil {
		return fmt.Errorf("failed to set collection description: %w", err)
	}
	return nil
}

// SetCollectionCatalogID backfills the catalog identifier on a collection
func (s *Store) SetCollectionCatalogID(id int64, catalogID string) error {
	_, err := s.db.Exec(`
		UPDATE collections SET catalog_id = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ?
	`, nullIfEmpty(catalogID), id)
	if err != nil {
		return fmt.Errorf("failed to set collection catalog id: %w", err)
	}
	return nil
}

// SetCollectionDesktopID records the desktop database row this collection
// is mirrored to
func (s *Store) SetCollectionDesktopID(id int64, desktopID string) error {
	_, err := s.db.Exec(`
		UPDATE collections SET desktop_id = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ?
	`, nullIfEmpty(desktopID), id)
	if err != nil {
		return fmt.Errorf("failed to set collection desktop id: %w", err)
	}
	return nil
}

// SetCollectionSourceCount caches the item count one source reports
func (s *Store) SetCollectionSourceCount(id int64, source string, count int) error {
	var column string
	switch source {
	case SourceCatalog:
		column = "catalog_count"
	case SourceLocal:
		column = "local_count"
	case SourceDesktop:
		column = "desktop_count"
	default:
		return fmt.Errorf("unknown source %q", source)
	}

	_, err := s.db.Exec(
		"UPDATE collections SET "+column+" = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?",
		count, id)
	if err != nil {
		return fmt.Errorf("failed to set %s count: %w", source, err)
	}
	return nil
}
