package meta

import (
	"fmt"
	"os"

	"github.com/dhowden/tag"
)

// AudioExtensions are the audio file extensions handled by default
var AudioExtensions = []string{
	".mp3",
	".flac",
	".m4a",
	".wav",
}

// Tags holds the embedded metadata read from an audio file.
// Any field may be empty; tag reading is best-effort.
type Tags struct {
	Artist string
	Title  string
	Album  string
	Year   int
	Track  int
	ISRC   string
}

// ReadTags reads embedded metadata from an audio file.
// Files without tags are not an error: callers fall back to
// filename parsing, so an empty Tags with nil error is returned.
func ReadTags(path string) (Tags, error) {
	f, err := os.Open(path)
	if err != nil {
		return Tags{}, fmt.Errorf("opening file: %w", err)
	}
	defer f.Close()

	m, err := tag.ReadFrom(f)
	if err != nil {
		// No tags or unsupported format; not fatal
		return Tags{}, nil
	}

	t := Tags{
		Artist: m.Artist(),
		Title:  m.Title(),
		Album:  m.Album(),
		Year:   m.Year(),
	}
	t.Track, _ = m.Track()

	// ISRC lives in the raw frame map, keyed per container format
	raw := m.Raw()
	for _, key := range []string{"TSRC", "ISRC", "isrc"} {
		if v, found := raw[key]; found {
			if s, isStr := v.(string); isStr && s != "" {
				t.ISRC = s
				break
			}
		}
	}

	return t, nil
}
