package meta

import (
	"fmt"
	"path"
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// PlaylistsDir is the directory under the library root that holds one
// subdirectory per collection
const PlaylistsDir = "Playlists"

// CollectionFolder is the on-disk directory for a collection, relative to
// the library root
func CollectionFolder(name string) string {
	return path.Join(PlaylistsDir, SanitizeFilename(name))
}

// MatchKey builds the comparison key used to recognize the same logical track
// across sources that spell it differently. It is a secondary lookup key only;
// exact external-id match is always attempted first.
func MatchKey(artist, title string) string {
	a := NormalizeArtist(artist)
	t := NormalizeTitle(title)
	if a == "" && t == "" {
		return ""
	}
	return a + " - " + t
}

var (
	// "Artist A, Artist B" / "Artist A feat. Artist B" / "Artist A & Artist B"
	// all key on the primary artist alone
	extraArtistsPattern = regexp.MustCompile(`(,| feat\.| & ).*`)

	bracketPattern = regexp.MustCompile(`\[.*?\]|\(.*?\)`)
	yearPattern    = regexp.MustCompile(`\b\d{4}\b`)
	versionPattern = regexp.MustCompile(`remix|edit|mix|version`)

	whitespacePattern = regexp.MustCompile(`\s+`)
)

// NormalizeArtist normalizes an artist name for comparison.
// Additional artists after a comma, "feat." or "&" are dropped so that
// "Artist A feat. Artist B" and "Artist A" produce the same key.
func NormalizeArtist(artist string) string {
	if artist == "" {
		return ""
	}

	// Unicode NFC normalization
	artist = norm.NFC.String(artist)

	artist = strings.ToLower(strings.TrimSpace(artist))

	// "Beatles, The" -> "the beatles", before the comma cut below eats it
	if strings.HasSuffix(artist, ", the") {
		artist = "the " + strings.TrimSuffix(artist, ", the")
	}

	// Keep only the primary artist
	artist = extraArtistsPattern.ReplaceAllString(artist, "")

	artist = removePunctuation(artist)

	return collapseWhitespace(artist)
}

// NormalizeTitle normalizes a track title for comparison.
// Parenthetical noise like "(Remix)" or "[2019 Edit]" does not change the key.
func NormalizeTitle(title string) string {
	if title == "" {
		return ""
	}

	// Unicode NFC normalization
	title = norm.NFC.String(title)

	title = strings.ToLower(strings.TrimSpace(title))

	// Remove bracketed and parenthesized segments
	title = bracketPattern.ReplaceAllString(title, "")

	// Remove years
	title = yearPattern.ReplaceAllString(title, "")

	// Remove version terms
	title = versionPattern.ReplaceAllString(title, "")

	title = removePunctuation(title)

	return collapseWhitespace(title)
}

// removePunctuation removes common punctuation characters
func removePunctuation(s string) string {
	replacer := strings.NewReplacer(
		".", "",
		",", "",
		"!", "",
		"?", "",
		"'", "",
		"\"", "",
		":", "",
		";", "",
		"-", " ",
		"_", " ",
		"&", "and",
		"/", "",
	)
	return replacer.Replace(s)
}

// collapseWhitespace replaces multiple spaces with a single space
func collapseWhitespace(s string) string {
	return strings.TrimSpace(whitespacePattern.ReplaceAllString(s, " "))
}

// NormalizeStem reduces a filename stem to letters and digits only.
// The loosest deterministic tier of file matching: differences in casing,
// punctuation and sanitization collapse to the same value.
func NormalizeStem(stem string) string {
	stem = norm.NFC.String(stem)
	stem = strings.ToLower(stem)
	var b strings.Builder
	for _, r := range stem {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// SanitizeFilename removes or replaces characters that are unsafe in filenames
func SanitizeFilename(s string) string {
	if s == "" {
		return ""
	}

	// Unicode NFC normalization
	s = norm.NFC.String(s)

	// Replace illegal characters with safe alternatives
	replacer := strings.NewReplacer(
		"/", "-",
		"\\", "-",
		":", "-",
		"*", "",
		"?", "",
		"!", "",
		"\"", "'",
		"<", "",
		">", "",
		"|", "-",
	)
	s = replacer.Replace(s)

	// Remove control characters
	s = removeControlChars(s)

	s = collapseWhitespace(s)

	// Trailing dots cause trouble on some filesystems
	s = strings.Trim(s, " .")

	return s
}

// removeControlChars removes non-printable control characters
func removeControlChars(s string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, s)
}

// CanonicalFilename is the expected on-disk name for an item:
// "{artist} - {title}.{ext}". Casing is preserved; only
// filesystem-unsafe characters are replaced.
func CanonicalFilename(artist, title, ext string) string {
	if !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	return CanonicalStem(artist, title) + ext
}

// CanonicalStem is CanonicalFilename without the extension
func CanonicalStem(artist, title string) string {
	return fmt.Sprintf("%s - %s", SanitizeFilename(artist), SanitizeFilename(title))
}

// ParseStem splits a filename stem of the form "Artist - Title".
// Returns ok=false when the stem has no separator.
func ParseStem(stem string) (artist, title string, ok bool) {
	parts := strings.SplitN(stem, " - ", 2)
	if len(parts) != 2 {
		return "", "", false
	}
	artist = strings.TrimSpace(parts[0])
	title = strings.TrimSpace(parts[1])
	if artist == "" || title == "" {
		return "", "", false
	}
	return artist, title, true
}
