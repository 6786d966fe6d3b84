package execute

import (
	"context"
	"fmt"
	"os/exec"

	"github.com/franz/playlist-sync/internal/util"
)

// formatArgs maps a target format onto ffmpeg codec and muxer
// arguments. The muxer must be explicit because the output file still
// carries its temporary name.
var formatArgs = map[string][]string{
	"mp3":  {"-c:a", "libmp3lame", "-b:a", "320k", "-f", "mp3"},
	"flac": {"-c:a", "flac", "-f", "flac"},
	"m4a":  {"-c:a", "aac", "-b:a", "256k", "-f", "ipod"},
	"wav":  {"-c:a", "pcm_s16le", "-f", "wav"},
}

// convertAudio transcodes src into dst in the given format, carrying
// the tags over. src is left in place; the caller removes it once dst
// is confirmed.
func convertAudio(ctx context.Context, ffmpeg, src, dst, format string) error {
	codec, ok := formatArgs[format]
	if !ok {
		return fmt.Errorf("unsupported target format: %s", format)
	}

	args := []string{"-i", src, "-map_metadata", "0", "-y"}
	args = append(args, codec...)
	args = append(args, dst)

	cmd := exec.CommandContext(ctx, ffmpeg, args...)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("ffmpeg failed: %w (output: %s)", err, string(output))
	}

	util.DebugLog("Converted to %s: %s", format, dst)
	return nil
}

// findFFmpeg resolves the converter binary. An empty result means
// conversion is unavailable and downloads keep their delivered format.
func findFFmpeg(configured string) string {
	if configured != "" {
		return configured
	}
	if p, err := exec.LookPath("ffmpeg"); err == nil {
		return p
	}
	return ""
}
