// Package desktop bridges to the desktop player's library database,
// a separate SQLite file with its own playlist and content tables.
// The bridge is deliberately narrow: find, create, add, remove. The
// player's other tables are never touched.
package desktop

import (
	"database/sql"
	_ "embed"
	"fmt"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/franz/playlist-sync/internal/util"
)

//go:embed schema.sql
var schema string

// DB is a handle on the desktop player's library database
type DB struct {
	db   *sql.DB
	path string
}

// Open opens the desktop library database, creating the bridged tables
// when they do not exist yet
func Open(path string) (*DB, error) {
	dsn := fmt.Sprintf("file:%s?_journal_mode=WAL&_timeout=5000&_busy_timeout=5000", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open desktop database: %w", err)
	}

	// Single writer; the desktop app itself must stay closed during sync
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to desktop database: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ensure desktop schema: %w", err)
	}

	util.DebugLog("Desktop database opened: %s", path)
	return &DB{db: db, path: path}, nil
}

// Close closes the database connection
func (d *DB) Close() error {
	return d.db.Close()
}

// Path returns the database file location
func (d *DB) Path() string {
	return d.path
}

// Transaction executes a function within a database transaction
func (d *DB) Transaction(fn func(*sql.Tx) error) error {
	tx, err := d.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("transaction failed: %v, rollback failed: %w", err, rbErr)
		}
		return err
	}

	return tx.Commit()
}

// Playlist is one playlist row in the desktop library
type Playlist struct {
	ID   int64
	Name string
}

// Content is one track row in the desktop library. Artist and album are
// stored relationally; the bridge flattens them to names.
type Content struct {
	ID          int64
	Title       string
	Artist      string
	Album       string
	FolderPath  string
	ReleaseYear int
}

// Song is one playlist entry joined with its content
type Song struct {
	ID      int64
	TrackNo int
	Content Content
}

// FindPlaylistByName returns a playlist or nil when none has the name
func (d *DB) FindPlaylistByName(name string) (*Playlist, error) {
	p := &Playlist{}
	err := d.db.QueryRow(`SELECT id, name FROM playlists WHERE name = ?`, name).
		Scan(&p.ID, &p.Name)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find playlist: %w", err)
	}
	return p, nil
}

// CreatePlaylist inserts a new, empty playlist
func (d *DB) CreatePlaylist(name string) (*Playlist, error) {
	result, err := d.db.Exec(`INSERT INTO playlists (name) VALUES (?)`, name)
	if err != nil {
		return nil, fmt.Errorf("failed to create playlist: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("failed to get playlist ID: %w", err)
	}
	util.DebugLog("Created desktop playlist %q (id %d)", name, id)
	return &Playlist{ID: id, Name: name}, nil
}

// DeletePlaylist removes a playlist and its song rows. Content rows stay
// in the collection.
func (d *DB) DeletePlaylist(id int64) error {
	return d.Transaction(func(tx *sql.Tx) error {
		if _, err := tx.Exec(`DELETE FROM playlist_songs WHERE playlist_id = ?`, id); err != nil {
			return fmt.Errorf("failed to clear playlist songs: %w", err)
		}
		if _, err := tx.Exec(`DELETE FROM playlists WHERE id = ?`, id); err != nil {
			return fmt.Errorf("failed to delete playlist: %w", err)
		}
		return nil
	})
}

// ListPlaylists returns every playlist ordered by name
func (d *DB) ListPlaylists() ([]*Playlist, error) {
	rows, err := d.db.Query(`SELECT id, name FROM playlists ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("failed to query playlists: %w", err)
	}
	defer rows.Close()

	var playlists []*Playlist
	for rows.Next() {
		p := &Playlist{}
		if err := rows.Scan(&p.ID, &p.Name); err != nil {
			return nil, fmt.Errorf("failed to scan playlist: %w", err)
		}
		playlists = append(playlists, p)
	}

	return playlists, rows.Err()
}

const contentColumns = `c.id, c.title, COALESCE(a.name, ''), COALESCE(al.name, ''),
       c.folder_path, COALESCE(c.release_year, 0)`

const contentJoins = `FROM contents c
       LEFT JOIN artists a ON a.id = c.artist_id
       LEFT JOIN albums al ON al.id = c.album_id`

func scanContent(row interface{ Scan(...any) error }, c *Content) error {
	return row.Scan(&c.ID, &c.Title, &c.Artist, &c.Album, &c.FolderPath, &c.ReleaseYear)
}

// PlaylistSongs returns a playlist's entries in track order
func (d *DB) PlaylistSongs(playlistID int64) ([]*Song, error) {
	rows, err := d.db.Query(`
		SELECT s.id, s.track_no, `+contentColumns+`
		`+contentJoins+`
		JOIN playlist_songs s ON s.content_id = c.id
		WHERE s.playlist_id = ?
		ORDER BY s.track_no, s.id
	`, playlistID)
	if err != nil {
		return nil, fmt.Errorf("failed to query playlist songs: %w", err)
	}
	defer rows.Close()

	var songs []*Song
	for rows.Next() {
		s := &Song{}
		if err := rows.Scan(&s.ID, &s.TrackNo, &s.Content.ID, &s.Content.Title,
			&s.Content.Artist, &s.Content.Album, &s.Content.FolderPath, &s.Content.ReleaseYear); err != nil {
			return nil, fmt.Errorf("failed to scan song: %w", err)
		}
		songs = append(songs, s)
	}

	return songs, rows.Err()
}

// FindContentByPath returns the content at a file path, or nil
func (d *DB) FindContentByPath(path string) (*Content, error) {
	c := &Content{}
	err := scanContent(d.db.QueryRow(`
		SELECT `+contentColumns+` `+contentJoins+` WHERE c.folder_path = ?
	`, path), c)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find content: %w", err)
	}
	return c, nil
}

func (d *DB) findContentByTitleArtist(title, artist string) (*Content, error) {
	c := &Content{}
	err := scanContent(d.db.QueryRow(`
		SELECT `+contentColumns+` `+contentJoins+`
		WHERE c.title = ? AND COALESCE(a.name, '') = ?
		ORDER BY c.id LIMIT 1
	`, title, artist), c)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find content: %w", err)
	}
	return c, nil
}

func (d *DB) ensureNamed(table, name string) (any, error) {
	if name == "" {
		return nil, nil
	}

	var id int64
	err := d.db.QueryRow(`SELECT id FROM `+table+` WHERE name = ?`, name).Scan(&id)
	if err == nil {
		return id, nil
	}
	if err != sql.ErrNoRows {
		return nil, fmt.Errorf("failed to look up %s: %w", table, err)
	}

	result, err := d.db.Exec(`INSERT INTO `+table+` (name) VALUES (?)`, name)
	if err != nil {
		return nil, fmt.Errorf("failed to insert %s: %w", table, err)
	}
	id, err = result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("failed to get %s ID: %w", table, err)
	}
	return id, nil
}

// EnsureContent finds the content a track resolves to, or creates it.
// Lookup order follows the desktop app's own dedupe: file path first,
// then title plus artist. The same track at a new path stays one row.
func (d *DB) EnsureContent(c *Content) (*Content, error) {
	existing, err := d.FindContentByPath(c.FolderPath)
	if err != nil {
		return nil, err
	}
	if existing == nil {
		existing, err = d.findContentByTitleArtist(c.Title, c.Artist)
		if err != nil {
			return nil, err
		}
	}
	if existing != nil {
		return existing, nil
	}

	artistID, err := d.ensureNamed("artists", c.Artist)
	if err != nil {
		return nil, err
	}
	albumID, err := d.ensureNamed("albums", c.Album)
	if err != nil {
		return nil, err
	}

	var year any
	if c.ReleaseYear > 0 {
		year = c.ReleaseYear
	}

	result, err := d.db.Exec(`
		INSERT INTO contents (title, artist_id, album_id, folder_path, release_year)
		VALUES (?, ?, ?, ?, ?)
	`, c.Title, artistID, albumID, c.FolderPath, year)
	if err != nil {
		return nil, fmt.Errorf("failed to insert content: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("failed to get content ID: %w", err)
	}

	created := *c
	created.ID = id
	util.DebugLog("Added desktop content %q - %q (id %d)", c.Artist, c.Title, id)
	return &created, nil
}

// AddSong puts content into a playlist at the given track number.
// Re-adding existing content only renumbers it.
func (d *DB) AddSong(playlistID, contentID int64, trackNo int) error {
	_, err := d.db.Exec(`
		INSERT INTO playlist_songs (playlist_id, content_id, track_no) VALUES (?, ?, ?)
		ON CONFLICT(playlist_id, content_id) DO UPDATE SET track_no = excluded.track_no
	`, playlistID, contentID, trackNo)
	if err != nil {
		return fmt.Errorf("failed to add song: %w", err)
	}
	return nil
}

// RemoveSong takes content out of a playlist. The content row survives.
func (d *DB) RemoveSong(playlistID, contentID int64) error {
	_, err := d.db.Exec(`
		DELETE FROM playlist_songs WHERE playlist_id = ? AND content_id = ?
	`, playlistID, contentID)
	if err != nil {
		return fmt.Errorf("failed to remove song: %w", err)
	}
	return nil
}

// CountSongs returns the number of entries in a playlist
func (d *DB) CountSongs(playlistID int64) (int, error) {
	var count int
	err := d.db.QueryRow(`SELECT COUNT(*) FROM playlist_songs WHERE playlist_id = ?`, playlistID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count songs: %w", err)
	}
	return count, nil
}
