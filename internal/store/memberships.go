package store

import (
	"database/sql"
	"fmt"
	"time"
)

const membershipColumns = `collection_id, item_id, position, in_catalog, in_local, in_desktop,
       catalog_first_seen, catalog_removed_at, local_first_seen, local_removed_at,
       desktop_first_seen, desktop_removed_at`

func scanMembership(row interface{ Scan(...any) error }) (*Membership, error) {
	m := &Membership{}
	var position sql.NullInt64
	var inCatalog, inLocal, inDesktop int
	var times [6]sql.NullTime

	err := row.Scan(
		&m.CollectionID, &m.ItemID, &position, &inCatalog, &inLocal, &inDesktop,
		&times[0], &times[1], &times[2], &times[3], &times[4], &times[5],
	)
	if err != nil {
		return nil, err
	}

	if position.Valid {
		p := int(position.Int64)
		m.Position = &p
	}
	m.InCatalog = inCatalog == 1
	m.InLocal = inLocal == 1
	m.InDesktop = inDesktop == 1

	assign := func(nt sql.NullTime) *time.Time {
		if !nt.Valid {
			return nil
		}
		t := nt.Time
		return &t
	}
	m.CatalogFirstSeen = assign(times[0])
	m.CatalogRemovedAt = assign(times[1])
	m.LocalFirstSeen = assign(times[2])
	m.LocalRemovedAt = assign(times[3])
	m.DesktopFirstSeen = assign(times[4])
	m.DesktopRemovedAt = assign(times[5])

	return m, nil
}

// presenceColumns maps a source to its flag and timestamp columns
func presenceColumns(source string) (flag, firstSeen, removedAt string, err error) {
	switch source {
	case SourceCatalog:
		return "in_catalog", "catalog_first_seen", "catalog_removed_at", nil
	case SourceLocal:
		return "in_local", "local_first_seen", "local_removed_at", nil
	case SourceDesktop:
		return "in_desktop", "desktop_first_seen", "desktop_removed_at", nil
	}
	return "", "", "", fmt.Errorf("unknown source %q", source)
}

// SetMembershipPresence sets one source's presence flag on a membership.
// Marking present creates the row if needed, keeps the original first-seen
// timestamp, and clears any earlier removal. Marking absent stamps the
// removal time on rows that were present and never creates a row.
func (s *Store) SetMembershipPresence(collectionID, itemID int64, source string, present bool) error {
	flag, firstSeen, removedAt, err := presenceColumns(source)
	if err != nil {
		return err
	}

	if present {
		query := fmt.Sprintf(`
			INSERT INTO memberships (collection_id, item_id, %[1]s, %[2]s)
			VALUES (?, ?, 1, CURRENT_TIMESTAMP)
			ON CONFLICT(collection_id, item_id) DO UPDATE SET
				%[1]s = 1,
				%[2]s = COALESCE(memberships.%[2]s, CURRENT_TIMESTAMP),
				%[3]s = NULL
		`, flag, firstSeen, removedAt)
		if _, err := s.db.Exec(query, collectionID, itemID); err != nil {
			return fmt.Errorf("failed to mark membership present: %w", err)
		}
		return nil
	}

	query := fmt.Sprintf(`
		UPDATE memberships SET %[1]s = 0, %[2]s = CURRENT_TIMESTAMP
		WHERE collection_id = ? AND item_id = ? AND %[1]s = 1
	`, flag, removedAt)
	if _, err := s.db.Exec(query, collectionID, itemID); err != nil {
		return fmt.Errorf("failed to mark membership removed: %w", err)
	}
	return nil
}

// SetMembershipPosition records the ordering the reporting source gave.
// Last writer wins; other sources' orderings are not merged.
func (s *Store) SetMembershipPosition(collectionID, itemID int64, position *int) error {
	var value any
	if position != nil {
		value = *position
	}
	_, err := s.db.Exec(`
		UPDATE memberships SET position = ?
		WHERE collection_id = ? AND item_id = ?
	`, value, collectionID, itemID)
	if err != nil {
		return fmt.Errorf("failed to set membership position: %w", err)
	}
	return nil
}

// GetMembership retrieves one collection/item edge
func (s *Store) GetMembership(collectionID, itemID int64) (*Membership, error) {
	m, err := scanMembership(s.db.QueryRow(
		`SELECT `+membershipColumns+` FROM memberships WHERE collection_id = ? AND item_id = ?`,
		collectionID, itemID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get membership: %w", err)
	}
	return m, nil
}

// GetMembershipsByCollection returns a collection's edges in source order,
// unordered rows last
func (s *Store) GetMembershipsByCollection(collectionID int64) ([]*Membership, error) {
	rows, err := s.db.Query(`
		SELECT `+membershipColumns+` FROM memberships
		WHERE collection_id = ?
		ORDER BY position IS NULL, position, item_id
	`, collectionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query memberships: %w", err)
	}
	defer rows.Close()

	var memberships []*Membership
	for rows.Next() {
		m, err := scanMembership(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan membership: %w", err)
		}
		memberships = append(memberships, m)
	}

	return memberships, rows.Err()
}

// GetMembershipsByItem returns every collection edge of an item
func (s *Store) GetMembershipsByItem(itemID int64) ([]*Membership, error) {
	rows, err := s.db.Query(`
		SELECT `+membershipColumns+` FROM memberships
		WHERE item_id = ?
		ORDER BY collection_id
	`, itemID)
	if err != nil {
		return nil, fmt.Errorf("failed to query memberships: %w", err)
	}
	defer rows.Close()

	var memberships []*Membership
	for rows.Next() {
		m, err := scanMembership(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan membership: %w", err)
		}
		memberships = append(memberships, m)
	}

	return memberships, rows.Err()
}

// SoftRemoveCollectionMemberships clears one source's flag on every active
// edge under a collection, as when the source dropped the whole collection.
// Returns the number of edges touched.
func (s *Store) SoftRemoveCollectionMemberships(collectionID int64, source string) (int, error) {
	flag, _, removedAt, err := presenceColumns(source)
	if err != nil {
		return 0, err
	}

	query := fmt.Sprintf(`
		UPDATE memberships SET %[1]s = 0, %[2]s = CURRENT_TIMESTAMP
		WHERE collection_id = ? AND %[1]s = 1
	`, flag, removedAt)
	result, err := s.db.Exec(query, collectionID)
	if err != nil {
		return 0, fmt.Errorf("failed to soft-remove memberships: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

// PurgeDeadMemberships deletes edges no source lists any more.
// Run at the end of a reconciliation pass, never during it, so decision
// logic still sees the flag history of freshly removed edges.
func (s *Store) PurgeDeadMemberships() (int, error) {
	result, err := s.db.Exec(`
		DELETE FROM memberships
		WHERE in_catalog = 0 AND in_local = 0 AND in_desktop = 0
	`)
	if err != nil {
		return 0, fmt.Errorf("failed to purge memberships: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

// CountMembershipsBySource returns how many edges a source currently lists
func (s *Store) CountMembershipsBySource(source string) (int, error) {
	flag, _, _, err := presenceColumns(source)
	if err != nil {
		return 0, err
	}

	var count int
	err = s.db.QueryRow("SELECT COUNT(*) FROM memberships WHERE " + flag + " = 1").Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count memberships: %w", err)
	}
	return count, nil
}

// CountDeadMemberships returns the number of edges awaiting the purge pass
func (s *Store) CountDeadMemberships() (int, error) {
	var count int
	err := s.db.QueryRow(`
		SELECT COUNT(*) FROM memberships
		WHERE in_catalog = 0 AND in_local = 0 AND in_desktop = 0
	`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count dead memberships: %w", err)
	}
	return count, nil
}
