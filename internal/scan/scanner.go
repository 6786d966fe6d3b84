// Package scan reads the local library and reports what is actually on
// disk, one snapshot per playlist directory. It never writes to the
// store; the comparator decides what its findings mean.
package scan

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/schollz/progressbar/v3"

	"github.com/franz/playlist-sync/internal/compare"
	"github.com/franz/playlist-sync/internal/meta"
	"github.com/franz/playlist-sync/internal/report"
	"github.com/franz/playlist-sync/internal/store"
	"github.com/franz/playlist-sync/internal/util"
)

// Scanner walks the playlist directories under the library root
type Scanner struct {
	store       *store.Store
	root        string
	extensions  map[string]bool
	concurrency int
	logger      *report.EventLogger
}

// Config holds scanner configuration
type Config struct {
	Store          *store.Store
	LibraryRoot    string
	AdditionalExts []string
	Concurrency    int
	Logger         *report.EventLogger
}

// New creates a new Scanner
func New(cfg *Config) *Scanner {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}

	extMap := make(map[string]bool)
	for _, ext := range meta.AudioExtensions {
		extMap[strings.ToLower(ext)] = true
	}
	for _, ext := range cfg.AdditionalExts {
		extMap[strings.ToLower(ext)] = true
	}

	return &Scanner{
		store:       cfg.Store,
		root:        cfg.LibraryRoot,
		extensions:  extMap,
		concurrency: cfg.Concurrency,
		logger:      cfg.Logger,
	}
}

// File is one audio file seen during a scan
type File struct {
	RelPath   string
	SizeBytes int64
	MtimeUnix int64
	ItemID    int64 // set when the stat fingerprint matched a recorded path
	MatchKey  string
	Title     string
	Artist    string
	Album     string
	Year      int
	ISRC      string
	Reused    bool // fingerprint unchanged, tags not re-read
}

// Collection is the scanned state of one playlist directory
type Collection struct {
	Name     string // directory base name
	Folder   string // relative to the library root
	Snapshot compare.CollectionSnapshot
	Members  []compare.MemberSnapshot
	Files    []File
	Strays   []File // files with no readable identity
}

// Result represents a finished library scan
type Result struct {
	Collections []Collection
	FilesSeen   int
	FilesReused int
	TagsRead    int
	Strays      int
	Errors      []error
}

type task struct {
	coll    int
	dirName string
	relPath string
	absPath string
}

// Scan walks every playlist directory and builds per-collection snapshots.
// Files whose size and mtime match a recorded path reuse the stored match
// key instead of re-reading tags.
func (s *Scanner) Scan(ctx context.Context) (*Result, error) {
	playlistsPath := filepath.Join(s.root, meta.PlaylistsDir)
	result := &Result{}

	entries, err := os.ReadDir(playlistsPath)
	if os.IsNotExist(err) {
		util.InfoLog("No %s directory under %s yet, nothing to scan", meta.PlaylistsDir, s.root)
		return result, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read library: %w", err)
	}

	// Recorded stat fingerprints and the items that own them
	known, err := s.store.GetAllPathInfo()
	if err != nil {
		return nil, fmt.Errorf("failed to load path fingerprints: %w", err)
	}
	allItems, err := s.store.GetAllItems()
	if err != nil {
		return nil, fmt.Errorf("failed to load items: %w", err)
	}
	items := make(map[int64]*store.Item, len(allItems))
	for _, it := range allItems {
		items[it.ID] = it
	}

	// Gather work first so the progress bar has a total
	var tasks []task
	for _, entry := range entries {
		if !entry.IsDir() || strings.HasPrefix(entry.Name(), ".") {
			continue
		}

		name := entry.Name()
		result.Collections = append(result.Collections, Collection{
			Name:     name,
			Folder:   path.Join(meta.PlaylistsDir, name),
			Snapshot: compare.CollectionSnapshot{Key: name, Name: name},
		})
		collIdx := len(result.Collections) - 1

		dirPath := filepath.Join(playlistsPath, name)
		files, err := os.ReadDir(dirPath)
		if err != nil {
			util.WarnLog("Cannot read playlist directory %s: %v", dirPath, err)
			result.Errors = append(result.Errors, fmt.Errorf("reading %s: %w", dirPath, err))
			continue
		}

		for _, f := range files {
			if f.IsDir() {
				util.DebugLog("Skipping nested directory: %s/%s", name, f.Name())
				continue
			}
			if !s.extensions[strings.ToLower(filepath.Ext(f.Name()))] {
				continue
			}
			tasks = append(tasks, task{
				coll:    collIdx,
				dirName: name,
				relPath: path.Join(meta.PlaylistsDir, name, f.Name()),
				absPath: filepath.Join(dirPath, f.Name()),
			})
		}
	}

	util.InfoLog("Scanning %d files across %d playlist directories", len(tasks), len(result.Collections))

	var bar *progressbar.ProgressBar
	if util.IsTerminal(os.Stdout.Fd()) && !util.IsQuiet() {
		bar = progressbar.NewOptions(len(tasks),
			progressbar.OptionSetDescription("Scanning"),
			progressbar.OptionSetWidth(40),
			progressbar.OptionShowCount(),
			progressbar.OptionThrottle(100*time.Millisecond),
			progressbar.OptionClearOnFinish(),
		)
	}

	var (
		mu       sync.Mutex // guards result contents
		wg       sync.WaitGroup
		reused   atomic.Int64
		tagReads atomic.Int64
	)
	work := make(chan task)

	for i := 0; i < s.concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for t := range work {
				select {
				case <-ctx.Done():
					return
				default:
				}

				file, err := s.scanFile(t, known, items)
				if bar != nil {
					bar.Add(1)
				}

				mu.Lock()
				if err != nil {
					util.WarnLog("Failed to scan %s: %v", t.relPath, err)
					result.Errors = append(result.Errors, fmt.Errorf("scanning %s: %w", t.relPath, err))
				} else if file.MatchKey == "" {
					result.Collections[t.coll].Strays = append(result.Collections[t.coll].Strays, file)
				} else {
					result.Collections[t.coll].Files = append(result.Collections[t.coll].Files, file)
				}
				mu.Unlock()

				if err == nil {
					if file.Reused {
						reused.Add(1)
					} else {
						tagReads.Add(1)
						if s.logger != nil {
							s.logger.LogScan(t.dirName, t.relPath, file.SizeBytes)
						}
					}
				}
			}
		}()
	}

	for _, t := range tasks {
		select {
		case work <- t:
		case <-ctx.Done():
		}
	}
	close(work)
	wg.Wait()

	if bar != nil {
		bar.Finish()
	}
	if err := ctx.Err(); err != nil {
		return result, err
	}

	// Worker completion order is nondeterministic
	for i := range result.Collections {
		c := &result.Collections[i]
		sort.Slice(c.Files, func(a, b int) bool { return c.Files[a].RelPath < c.Files[b].RelPath })
		sort.Slice(c.Strays, func(a, b int) bool { return c.Strays[a].RelPath < c.Strays[b].RelPath })
		c.Members = memberSnapshots(c.Files)
		result.FilesSeen += len(c.Files) + len(c.Strays)
		result.Strays += len(c.Strays)
	}
	result.FilesReused = int(reused.Load())
	result.TagsRead = int(tagReads.Load())

	util.SuccessLog("Scan complete: %d files (%d unchanged, %d read, %d unidentified), %d errors",
		result.FilesSeen, result.FilesReused, result.TagsRead, result.Strays, len(result.Errors))

	return result, nil
}

// scanFile stats one file and determines its identity, preferring the
// recorded fingerprint, then tags, then the filename stem
func (s *Scanner) scanFile(t task, known map[string]store.PathInfo, items map[int64]*store.Item) (File, error) {
	info, err := os.Stat(t.absPath)
	if err != nil {
		return File{}, err
	}

	file := File{
		RelPath:   t.relPath,
		SizeBytes: info.Size(),
		MtimeUnix: info.ModTime().Unix(),
	}

	if pi, ok := known[t.relPath]; ok && pi.SizeBytes == file.SizeBytes && pi.MtimeUnix == file.MtimeUnix {
		if it := items[pi.ItemID]; it != nil && it.MatchKey != "" {
			file.ItemID = pi.ItemID
			file.MatchKey = it.MatchKey
			file.Reused = true
			return file, nil
		}
		// Recorded owner is gone, fall through to a fresh read
	}

	tags, err := meta.ReadTags(t.absPath)
	if err != nil {
		return File{}, err
	}

	file.Title = tags.Title
	file.Artist = tags.Artist
	file.Album = tags.Album
	file.Year = tags.Year
	file.ISRC = tags.ISRC

	if file.Title == "" || file.Artist == "" {
		stem := strings.TrimSuffix(filepath.Base(t.relPath), filepath.Ext(t.relPath))
		if artist, title, ok := meta.ParseStem(stem); ok {
			if file.Artist == "" {
				file.Artist = artist
			}
			if file.Title == "" {
				file.Title = title
			}
		}
	}

	file.MatchKey = meta.MatchKey(file.Artist, file.Title)
	return file, nil
}

// memberSnapshots converts scanned files into comparator input. Unchanged
// files carry the key alone; fresh reads also carry the scanner's metadata
// opinion so new items can be created from it.
func memberSnapshots(files []File) []compare.MemberSnapshot {
	snaps := make([]compare.MemberSnapshot, 0, len(files))
	for i := range files {
		f := &files[i]
		snap := compare.MemberSnapshot{Key: f.MatchKey}
		if !f.Reused {
			snap.Title = &f.Title
			snap.Artist = &f.Artist
			if f.Album != "" {
				snap.Album = &f.Album
			}
		}
		snaps = append(snaps, snap)
	}
	return snaps
}
