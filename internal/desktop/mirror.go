package desktop

import (
	"database/sql"
	"fmt"
	"strconv"

	"github.com/franz/playlist-sync/internal/compare"
	"github.com/franz/playlist-sync/internal/util"
)

// PlaylistSnapshot is one playlist's current desktop state in comparator form
type PlaylistSnapshot struct {
	Collection compare.CollectionSnapshot
	Members    []compare.MemberSnapshot
}

// Snapshot reads every playlist for the comparator. Keys are the desktop's
// own ids; track numbers are reported as zero-based positions.
func (d *DB) Snapshot() ([]PlaylistSnapshot, error) {
	playlists, err := d.ListPlaylists()
	if err != nil {
		return nil, err
	}

	snapshots := make([]PlaylistSnapshot, 0, len(playlists))
	for _, p := range playlists {
		songs, err := d.PlaylistSongs(p.ID)
		if err != nil {
			return nil, err
		}

		snap := PlaylistSnapshot{
			Collection: compare.CollectionSnapshot{
				Key:  strconv.FormatInt(p.ID, 10),
				Name: p.Name,
			},
		}

		for _, s := range songs {
			pos := s.TrackNo - 1
			if pos < 0 {
				pos = 0
			}
			title := s.Content.Title
			artist := s.Content.Artist
			m := compare.MemberSnapshot{
				Key:      strconv.FormatInt(s.Content.ID, 10),
				Title:    &title,
				Artist:   &artist,
				Position: &pos,
			}
			if s.Content.Album != "" {
				album := s.Content.Album
				m.Album = &album
			}
			snap.Members = append(snap.Members, m)
		}

		snapshots = append(snapshots, snap)
	}

	return snapshots, nil
}

// Track is one entry of the desired playlist state, in order
type Track struct {
	Title   string
	Artist  string
	Album   string
	Year    int
	AbsPath string
}

// MirrorResult reports what one playlist push changed
type MirrorResult struct {
	Playlist   *Playlist
	Added      int
	Removed    int
	Renumbered int
	Deleted    bool // playlist was empty after the push
}

// Mirror pushes the desired state of one playlist into the desktop
// library: missing tracks are added, extra ones removed from the playlist
// (never from the collection), and a playlist left empty is deleted.
// Song-row changes happen in a single transaction.
func (d *DB) Mirror(name string, tracks []Track) (*MirrorResult, error) {
	result := &MirrorResult{}

	pl, err := d.FindPlaylistByName(name)
	if err != nil {
		return nil, err
	}
	if pl == nil {
		if len(tracks) == 0 {
			return result, nil
		}
		pl, err = d.CreatePlaylist(name)
		if err != nil {
			return nil, err
		}
	}
	result.Playlist = pl

	// Resolve desired tracks to content rows, keeping first-seen order.
	// Two files can resolve to the same content; the first one wins.
	type target struct {
		contentID int64
		trackNo   int
	}
	var desired []target
	seen := make(map[int64]bool)
	for _, tr := range tracks {
		content, err := d.EnsureContent(&Content{
			Title:       tr.Title,
			Artist:      tr.Artist,
			Album:       tr.Album,
			ReleaseYear: tr.Year,
			FolderPath:  tr.AbsPath,
		})
		if err != nil {
			return nil, fmt.Errorf("resolving %q: %w", tr.AbsPath, err)
		}
		if seen[content.ID] {
			continue
		}
		seen[content.ID] = true
		desired = append(desired, target{contentID: content.ID, trackNo: len(desired) + 1})
	}

	songs, err := d.PlaylistSongs(pl.ID)
	if err != nil {
		return nil, err
	}
	current := make(map[int64]int, len(songs))
	for _, s := range songs {
		current[s.Content.ID] = s.TrackNo
	}

	err = util.Retry(util.DefaultRetryConfig(), func() error {
		return d.Transaction(func(tx *sql.Tx) error {
			// A retried attempt starts over
			result.Added, result.Removed, result.Renumbered = 0, 0, 0

			for _, t := range desired {
				trackNo, ok := current[t.contentID]
				if ok && trackNo == t.trackNo {
					continue
				}
				if _, err := tx.Exec(`
					INSERT INTO playlist_songs (playlist_id, content_id, track_no) VALUES (?, ?, ?)
					ON CONFLICT(playlist_id, content_id) DO UPDATE SET track_no = excluded.track_no
				`, pl.ID, t.contentID, t.trackNo); err != nil {
					return fmt.Errorf("failed to add song: %w", err)
				}
				if ok {
					result.Renumbered++
				} else {
					result.Added++
				}
			}

			for contentID := range current {
				if seen[contentID] {
					continue
				}
				if _, err := tx.Exec(`
					DELETE FROM playlist_songs WHERE playlist_id = ? AND content_id = ?
				`, pl.ID, contentID); err != nil {
					return fmt.Errorf("failed to remove song: %w", err)
				}
				result.Removed++
			}

			return nil
		})
	}, fmt.Sprintf("mirror(%s)", name))
	if err != nil {
		return nil, err
	}

	count, err := d.CountSongs(pl.ID)
	if err != nil {
		return nil, err
	}
	if count == 0 {
		util.InfoLog("Desktop playlist %q is empty after push, deleting", name)
		if err := d.DeletePlaylist(pl.ID); err != nil {
			return nil, err
		}
		result.Deleted = true
	}

	return result, nil
}
