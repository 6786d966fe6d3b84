package decide

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/adrg/strutil"
	"github.com/adrg/strutil/metrics"

	"github.com/franz/playlist-sync/internal/meta"
)

// fuzzyThreshold is the minimum Jaro-Winkler similarity between two
// normalized stems for the loosest matching tier to accept a file
const fuzzyThreshold = 0.85

// fileEntry is one audio file found in a collection directory
type fileEntry struct {
	name      string // base name on disk
	stem      string // base name without extension
	normStem  string
	sizeBytes int64
	mtimeUnix int64
}

// dirListing is the cached contents of one collection directory.
// claimed records which files a membership already matched, so later
// memberships and the stray pass only see what is left.
type dirListing struct {
	entries []fileEntry
	byName  map[string]int
	claimed map[string]int64 // file name -> claiming item id
}

func newDirListing(entries []fileEntry) *dirListing {
	l := &dirListing{
		entries: entries,
		byName:  make(map[string]int, len(entries)),
		claimed: make(map[string]int64),
	}
	for i, e := range entries {
		l.byName[e.name] = i
	}
	return l
}

// readListing loads the audio files of one directory. A directory that
// does not exist yet is an empty listing, not an error.
func readListing(absDir string) (*dirListing, error) {
	dirents, err := os.ReadDir(absDir)
	if os.IsNotExist(err) {
		return newDirListing(nil), nil
	}
	if err != nil {
		return nil, err
	}

	audio := make(map[string]bool, len(meta.AudioExtensions))
	for _, ext := range meta.AudioExtensions {
		audio[ext] = true
	}

	var entries []fileEntry
	for _, d := range dirents {
		if d.IsDir() || strings.HasPrefix(d.Name(), ".") {
			continue
		}
		name := d.Name()
		if !audio[strings.ToLower(filepath.Ext(name))] {
			continue
		}
		info, err := d.Info()
		if err != nil {
			continue
		}
		stem := strings.TrimSuffix(name, filepath.Ext(name))
		entries = append(entries, fileEntry{
			name:      name,
			stem:      stem,
			normStem:  meta.NormalizeStem(stem),
			sizeBytes: info.Size(),
			mtimeUnix: info.ModTime().Unix(),
		})
	}
	return newDirListing(entries), nil
}

// claim marks a file as owned by an item. Returns false when another
// item claimed it first.
func (l *dirListing) claim(name string, itemID int64) bool {
	if _, taken := l.claimed[name]; taken {
		return false
	}
	l.claimed[name] = itemID
	return true
}

// unclaimed returns the files no membership matched, in directory order
func (l *dirListing) unclaimed() []fileEntry {
	var out []fileEntry
	for _, e := range l.entries {
		if _, taken := l.claimed[e.name]; !taken {
			out = append(out, e)
		}
	}
	return out
}

// matchFile finds the on-disk file for an item among the unclaimed
// entries. Tiers, strictest first: recorded file name, canonical
// filename stem, case-insensitive stem, normalized stem, Jaro-Winkler
// similarity on normalized stems. The looser tiers exist because the
// download step and the user's own tooling sanitize special characters
// differently; missing a renamed copy would queue a redundant download.
func (l *dirListing) matchFile(artist, title string, recordedNames []string) (fileEntry, bool) {
	for _, name := range recordedNames {
		if i, ok := l.byName[name]; ok && !l.isClaimed(name) {
			return l.entries[i], true
		}
	}

	if artist == "" && title == "" {
		return fileEntry{}, false
	}
	canon := meta.CanonicalStem(artist, title)
	candidates := l.unclaimed()

	for _, e := range candidates {
		if e.stem == canon {
			return e, true
		}
	}

	for _, e := range candidates {
		if strings.EqualFold(e.stem, canon) {
			return e, true
		}
	}

	normCanon := meta.NormalizeStem(canon)
	if normCanon == "" {
		return fileEntry{}, false
	}
	for _, e := range candidates {
		if e.normStem == normCanon {
			return e, true
		}
	}

	// Last tier: closest fuzzy match above the threshold wins
	jw := metrics.NewJaroWinkler()
	var best fileEntry
	bestScore := 0.0
	for _, e := range candidates {
		if e.normStem == "" {
			continue
		}
		score := strutil.Similarity(normCanon, e.normStem, jw)
		if score >= fuzzyThreshold && score > bestScore {
			bestScore = score
			best = e
		}
	}
	if bestScore > 0 {
		return best, true
	}

	return fileEntry{}, false
}

func (l *dirListing) isClaimed(name string) bool {
	_, taken := l.claimed[name]
	return taken
}
