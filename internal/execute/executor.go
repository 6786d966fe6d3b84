// Package execute carries out resolved decisions: it fetches catalog
// content into the library, removes files the catalog dropped, and
// records every outcome back onto the store.
package execute

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/schollz/progressbar/v3"

	"github.com/franz/playlist-sync/internal/catalog"
	"github.com/franz/playlist-sync/internal/decide"
	"github.com/franz/playlist-sync/internal/report"
	"github.com/franz/playlist-sync/internal/store"
	"github.com/franz/playlist-sync/internal/util"
)

// Conflict policies for a target path that already exists on disk
const (
	ConflictBackup    = "backup"
	ConflictOverwrite = "overwrite"
	ConflictSkip      = "skip"
)

// Fetcher streams one catalog item's content into w and reports the
// bytes copied and the delivered audio format. *catalog.Client
// satisfies it; tests substitute their own.
type Fetcher interface {
	Download(ctx context.Context, catalogID string, w io.Writer) (int64, string, error)
}

// Executor runs download and removal decisions against the library
type Executor struct {
	store       *store.Store
	fetcher     Fetcher
	root        string
	concurrency int
	dryRun      bool
	onConflict  string
	ffmpeg      string // empty when conversion is unavailable
	logger      *report.EventLogger
}

// Config holds executor configuration
type Config struct {
	Store       *store.Store
	Fetcher     Fetcher
	LibraryRoot string
	Concurrency int
	DryRun      bool
	OnConflict  string // "backup", "overwrite" or "skip"
	FFmpegPath  string // empty = find ffmpeg on PATH
	Logger      *report.EventLogger
}

// New creates a new Executor
func New(cfg *Config) *Executor {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	if cfg.OnConflict == "" {
		cfg.OnConflict = ConflictBackup
	}

	return &Executor{
		store:       cfg.Store,
		fetcher:     cfg.Fetcher,
		root:        cfg.LibraryRoot,
		concurrency: cfg.Concurrency,
		dryRun:      cfg.DryRun,
		onConflict:  cfg.OnConflict,
		ffmpeg:      findFFmpeg(cfg.FFmpegPath),
		logger:      cfg.Logger,
	}
}

// Result represents execution results. Interrupted is set when
// cancellation stopped the run before every attempted decision was
// carried out.
type Result struct {
	Attempted    int
	Succeeded    int
	Failed       int
	Interrupted  bool
	Downloaded   int
	Removed      int
	BytesFetched int64
	Errors       []error
}

// outcome is what one carried-out decision reports back to the pool
type outcome struct {
	bytes   int64
	fetched bool
	removed bool
}

// Execute runs all actionable decisions over a bounded worker pool.
// Higher priority decisions are scheduled first; equal priorities keep
// their input order. A failing decision never stops the others.
func (e *Executor) Execute(ctx context.Context, decisions []decide.Decision) *Result {
	queue := actionable(decisions)
	if len(queue) == 0 {
		util.InfoLog("Nothing to execute")
		return &Result{}
	}
	sort.SliceStable(queue, func(i, j int) bool {
		return queue[i].Priority > queue[j].Priority
	})

	total := len(queue)
	util.InfoLog("Executing %d decisions", total)
	if e.dryRun {
		util.InfoLog("DRY-RUN mode: no files will be fetched or removed")
	}

	var (
		mu         sync.Mutex // guards errs
		errs       []error
		wg         sync.WaitGroup
		succeeded  atomic.Int64
		failed     atomic.Int64
		downloaded atomic.Int64
		removed    atomic.Int64
		fetched    atomic.Int64
	)

	var bar *progressbar.ProgressBar
	if util.IsTerminal(os.Stdout.Fd()) && !util.IsQuiet() {
		bar = progressbar.NewOptions(total,
			progressbar.OptionSetDescription("Executing"),
			progressbar.OptionSetWidth(40),
			progressbar.OptionShowCount(),
			progressbar.OptionThrottle(100*time.Millisecond),
			progressbar.OptionClearOnFinish(),
		)
	}

	// Off-terminal runs still get periodic progress lines
	progressCtx, cancelProgress := context.WithCancel(context.Background())
	defer cancelProgress()
	if bar == nil {
		go func() {
			ticker := time.NewTicker(5 * time.Second)
			defer ticker.Stop()
			for {
				select {
				case <-progressCtx.Done():
					return
				case <-ticker.C:
					done := succeeded.Load() + failed.Load()
					util.InfoLog("Executing: %d/%d done, %s fetched",
						done, total, humanize.Bytes(uint64(fetched.Load())))
				}
			}
		}()
	}

	work := make(chan decide.Decision)
	for i := 0; i < e.concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for d := range work {
				select {
				case <-ctx.Done():
					return
				default:
				}

				start := time.Now()
				out, err := e.perform(ctx, d)
				e.logger.LogExecute(d.Action, d.Path, out.bytes, time.Since(start), err)

				if err != nil {
					util.ErrorLog("Failed %s for %s: %v", d.Action, d.Path, err)
					failed.Add(1)
					mu.Lock()
					errs = append(errs, err)
					mu.Unlock()
				} else {
					succeeded.Add(1)
					fetched.Add(out.bytes)
					if out.fetched {
						downloaded.Add(1)
					}
					if out.removed {
						removed.Add(1)
					}
				}
				if bar != nil {
					bar.Add(1)
				}
			}
		}()
	}

	go func() {
		defer close(work)
		for _, d := range queue {
			select {
			case <-ctx.Done():
				return
			case work <- d:
			}
		}
	}()

	wg.Wait()
	cancelProgress()
	if bar != nil {
		bar.Finish()
	}

	result := &Result{
		Attempted:    total,
		Succeeded:    int(succeeded.Load()),
		Failed:       int(failed.Load()),
		Downloaded:   int(downloaded.Load()),
		Removed:      int(removed.Load()),
		BytesFetched: fetched.Load(),
		Errors:       errs,
	}
	result.Interrupted = result.Attempted > result.Succeeded+result.Failed

	if result.Interrupted {
		util.WarnLog("Execution interrupted: %d of %d decisions not carried out",
			result.Attempted-result.Succeeded-result.Failed, result.Attempted)
	} else {
		util.SuccessLog("Execution complete: %d succeeded, %d failed, %s fetched",
			result.Succeeded, result.Failed, humanize.Bytes(uint64(result.BytesFetched)))
	}

	return result
}

// actionable filters out no-action records; they are bookkeeping, not work
func actionable(decisions []decide.Decision) []decide.Decision {
	var out []decide.Decision
	for _, d := range decisions {
		if d.Action != decide.ActionNoAction {
			out = append(out, d)
		}
	}
	return out
}

// perform dispatches a single decision
func (e *Executor) perform(ctx context.Context, d decide.Decision) (outcome, error) {
	switch d.Action {
	case decide.ActionDownload:
		return e.download(ctx, d)
	case decide.ActionRemoveFile:
		return e.remove(d)
	default:
		return outcome{}, fmt.Errorf("unknown action %q for %s", d.Action, d.Path)
	}
}

// download fetches an item into the collection directory and records
// the result. The file lands under a .part name first and is renamed
// only once complete, so a crash never leaves a half file that looks
// like audio.
func (e *Executor) download(ctx context.Context, d decide.Decision) (outcome, error) {
	var out outcome

	item, err := e.store.GetItemByID(d.ItemID)
	if err != nil {
		return out, err
	}
	if item == nil {
		return out, fmt.Errorf("item %d: %w", d.ItemID, util.ErrRecordNotFound)
	}
	if item.CatalogID == "" {
		return out, fmt.Errorf("item %d has no catalog id", d.ItemID)
	}

	target := filepath.Join(e.root, filepath.FromSlash(d.Path))

	if e.dryRun {
		util.DebugLog("DRY-RUN: would fetch %s - %s -> %s", item.Artist, item.Title, d.Path)
		out.bytes = item.SizeBytes
		out.fetched = true
		return out, nil
	}

	if e.onConflict == ConflictSkip {
		if _, err := os.Stat(target); err == nil {
			util.DebugLog("Target exists, keeping it: %s", d.Path)
			return out, nil
		}
	}

	if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
		return out, fmt.Errorf("failed to create directory: %w", err)
	}

	tmp := target + ".part"
	f, err := os.Create(tmp)
	if err != nil {
		return out, fmt.Errorf("failed to create temp file: %w", err)
	}

	n, delivered, err := e.fetcher.Download(ctx, item.CatalogID, f)
	closeErr := f.Close()
	if err != nil {
		os.Remove(tmp)
		if errors.Is(err, catalog.ErrContentGone) {
			if serr := e.store.SetItemUnavailable(item.ID, true); serr != nil {
				util.WarnLog("Failed to mark item %d unavailable: %v", item.ID, serr)
			}
			e.store.SetItemFetchStatus(item.ID, store.FetchStatusFailed, "content gone upstream")
			return out, fmt.Errorf("item %d (%s - %s): %w", item.ID, item.Artist, item.Title, err)
		}
		e.store.SetItemFetchStatus(item.ID, store.FetchStatusFailed, err.Error())
		return out, fmt.Errorf("failed to fetch %s: %w", d.Path, err)
	}
	if closeErr != nil {
		os.Remove(tmp)
		return out, fmt.Errorf("failed to flush temp file: %w", closeErr)
	}
	out.bytes = n

	relPath := d.Path
	format := strings.TrimPrefix(strings.ToLower(filepath.Ext(target)), ".")
	if delivered != "" && delivered != format {
		if e.ffmpeg != "" {
			conv := target + ".conv.part"
			if err := convertAudio(ctx, e.ffmpeg, tmp, conv, format); err != nil {
				os.Remove(tmp)
				os.Remove(conv)
				e.store.SetItemFetchStatus(item.ID, store.FetchStatusFailed, err.Error())
				return out, fmt.Errorf("%w: converting %s: %v", util.ErrTransferFailure, d.Path, err)
			}
			os.Remove(tmp)
			tmp = conv
		} else {
			// No converter on this system: keep the delivered format
			// and adjust the target so the extension stays truthful
			util.WarnLog("ffmpeg not found, keeping %s as %s", d.Path, delivered)
			target = strings.TrimSuffix(target, filepath.Ext(target)) + "." + delivered
			relPath = strings.TrimSuffix(relPath, path.Ext(relPath)) + "." + delivered
			format = delivered
		}
	}

	if _, err := os.Stat(target); err == nil {
		switch e.onConflict {
		case ConflictSkip:
			os.Remove(tmp)
			util.DebugLog("Target exists, keeping it: %s", relPath)
			return out, nil
		case ConflictOverwrite:
			// rename below replaces it
		default:
			backup := backupName(target, time.Now())
			if err := os.Rename(target, backup); err != nil {
				os.Remove(tmp)
				return out, fmt.Errorf("%w: backing up %s: %v", util.ErrFileConflict, relPath, err)
			}
			util.InfoLog("Backed up existing file: %s", filepath.Base(backup))
		}
	}

	if err := os.Rename(tmp, target); err != nil {
		os.Remove(tmp)
		return out, fmt.Errorf("failed to rename: %w", err)
	}

	sha, err := util.ContentHash(target)
	if err != nil {
		return out, fmt.Errorf("failed to hash %s: %w", relPath, err)
	}
	st, err := os.Stat(target)
	if err != nil {
		return out, fmt.Errorf("failed to stat %s: %w", relPath, err)
	}

	if err := e.store.RecordFetch(item.ID, relPath, sha, st.Size(), format, st.ModTime().Unix()); err != nil {
		return out, fmt.Errorf("failed to record fetch of %s: %w", relPath, err)
	}

	out.fetched = true
	util.DebugLog("Fetched: %s (%s)", relPath, humanize.Bytes(uint64(n)))
	return out, nil
}

// remove unlinks a file the catalog dropped and forgets its path.
// The file is re-checked first: it may have moved or vanished since
// the decision was made, and a missing file still counts as done.
func (e *Executor) remove(d decide.Decision) (outcome, error) {
	var out outcome
	abs := filepath.Join(e.root, filepath.FromSlash(d.Path))

	if e.dryRun {
		util.DebugLog("DRY-RUN: would remove %s", d.Path)
		out.removed = true
		return out, nil
	}

	if _, err := os.Stat(abs); err == nil {
		if err := os.Remove(abs); err != nil {
			return out, fmt.Errorf("failed to remove %s: %w", d.Path, err)
		}
	} else if !os.IsNotExist(err) {
		return out, fmt.Errorf("failed to stat %s: %w", d.Path, err)
	}

	if err := e.store.DropItemPath(d.ItemID, d.Path); err != nil {
		return out, fmt.Errorf("failed to forget path %s: %w", d.Path, err)
	}

	out.removed = true
	util.DebugLog("Removed: %s", d.Path)
	return out, nil
}

// backupName returns the conflict backup path for target, next to the
// original: "Song.mp3" becomes "Song.backup_20240131-154500.mp3".
func backupName(target string, now time.Time) string {
	ext := filepath.Ext(target)
	stem := strings.TrimSuffix(target, ext)
	return stem + ".backup_" + now.Format("20060102-150405") + ext
}
