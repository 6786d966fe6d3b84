package main

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/franz/playlist-sync/internal/decide"
	"github.com/franz/playlist-sync/internal/desktop"
	"github.com/franz/playlist-sync/internal/execute"
	"github.com/franz/playlist-sync/internal/report"
	"github.com/franz/playlist-sync/internal/resolve"
	"github.com/franz/playlist-sync/internal/store"
	"github.com/franz/playlist-sync/internal/util"
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Run the full reconciliation pipeline",
	Long: `Run the whole pipeline: snapshot the catalog, scan the library, ingest
the desktop database, then decide, resolve, and execute the resulting
actions, mirror the converged state back to the desktop, and purge
memberships every source has dropped.

Snapshot stages always cover every collection; --playlist narrows the
acting half of the run (decisions, execution, mirror) to one
collection. A source that cannot be reached is skipped with a warning
so the others still converge.

--dry-run computes and reports everything a real run would do without
touching the library, the catalog, or the desktop database.`,
	RunE: runSync,
}

func init() {
	rootCmd.AddCommand(syncCmd)

	syncCmd.Flags().Bool("dry-run", false, "report what would happen without doing it")
	syncCmd.Flags().String("playlist", "", "only decide and execute for this collection")
	syncCmd.Flags().Bool("skip-fetch", false, "skip the catalog snapshot stage")
	syncCmd.Flags().Bool("skip-scan", false, "skip the library scan stage")
	syncCmd.Flags().Bool("skip-desktop", false, "skip desktop ingest and mirror")
	syncCmd.Flags().IntP("concurrency", "c", 0, "worker count for scan and execution (default from config)")
}

func runSync(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	// Set log level
	util.SetVerbose(viper.GetBool("verbose"))
	util.SetQuiet(viper.GetBool("quiet"))

	dryRun, _ := cmd.Flags().GetBool("dry-run")
	playlist, _ := cmd.Flags().GetString("playlist")
	skipFetch, _ := cmd.Flags().GetBool("skip-fetch")
	skipScan, _ := cmd.Flags().GetBool("skip-scan")
	skipDesktop, _ := cmd.Flags().GetBool("skip-desktop")

	concurrency, _ := cmd.Flags().GetInt("concurrency")
	if concurrency <= 0 {
		concurrency = viper.GetInt("concurrency")
	}
	if concurrency <= 0 {
		concurrency = 4
	}

	root := viper.GetString("library")
	if root == "" {
		return fmt.Errorf("%w: library root is required (--library or config)", util.ErrInvalidConfig)
	}

	dbPath := viper.GetString("db")
	util.InfoLog("Opening database: %s", dbPath)
	db, err := store.Open(dbPath)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	run := &store.Run{ID: uuid.NewString(), DryRun: dryRun}
	if err := db.CreateRun(run); err != nil {
		return fmt.Errorf("failed to record run: %w", err)
	}

	logger := newEventLogger(run.ID)
	defer logger.Close()

	if dryRun {
		util.InfoLog("Run %s started (dry run)", run.ID)
	} else {
		util.InfoLog("Run %s started", run.ID)
	}

	startTime := time.Now()
	changes := 0
	var firstErr string
	noteErr := func(err error) {
		if firstErr == "" && err != nil {
			firstErr = err.Error()
		}
	}

	client := catalogClient()

	// Phase 1: Catalog snapshot
	if skipFetch {
		util.InfoLog("Catalog snapshot skipped (--skip-fetch)")
	} else if client == nil {
		util.WarnLog("No catalog_url configured, catalog snapshot skipped")
	} else {
		util.InfoLog("")
		util.InfoLog("=== Phase 1: Catalog Snapshot ===")
		res, err := fetchStage(ctx, db, client, logger)
		if res != nil {
			changes += res.Detected
		}
		if err != nil {
			util.WarnLog("Catalog stage failed: %v", err)
			noteErr(err)
		} else {
			util.InfoLog("Catalog: %d changes detected", res.Detected)
		}
	}

	// Phase 2: Library scan
	if skipScan {
		util.InfoLog("Library scan skipped (--skip-scan)")
	} else {
		util.InfoLog("")
		util.InfoLog("=== Phase 2: Library Scan ===")
		res, scanned, err := scanStage(ctx, db, logger, root, concurrency)
		if res != nil {
			changes += res.Detected
		}
		if err != nil {
			util.WarnLog("Scan stage failed: %v", err)
			noteErr(err)
		} else {
			util.InfoLog("Library: %d changes detected (%d files seen)", res.Detected, scanned.FilesSeen)
		}
	}

	// Phase 3: Desktop ingest
	var ddb *desktop.DB
	desktopPath := viper.GetString("desktop_db")
	if skipDesktop {
		util.InfoLog("Desktop stages skipped (--skip-desktop)")
	} else if desktopPath == "" {
		util.InfoLog("No desktop_db configured, desktop stages skipped")
	} else {
		util.InfoLog("")
		util.InfoLog("=== Phase 3: Desktop Ingest ===")
		ddb, err = desktop.Open(desktopPath)
		if err != nil {
			util.WarnLog("Cannot open desktop database: %v", err)
			noteErr(err)
			ddb = nil
		} else {
			defer ddb.Close()
			res, err := desktopStage(ctx, db, ddb, logger)
			if res != nil {
				changes += res.Detected
			}
			if err != nil {
				util.WarnLog("Desktop stage failed: %v", err)
				noteErr(err)
			} else {
				util.InfoLog("Desktop: %d changes detected", res.Detected)
			}
		}
	}

	// Phase 4: Decide and resolve
	util.InfoLog("")
	util.InfoLog("=== Phase 4: Analysis ===")
	cache, err := decide.NewCache(db)
	if err != nil {
		noteErr(err)
		finishRun(db, run.ID, changes, 0, 0, 0, firstErr)
		return fmt.Errorf("analysis failed: %w", err)
	}
	engine := decide.New(&decide.Config{
		Store:        db,
		LibraryRoot:  root,
		TargetFormat: viper.GetString("format"),
		Cache:        cache,
		Logger:       logger,
	})

	decisions, err := makeDecisions(ctx, engine, db, playlist)
	if err != nil {
		noteErr(err)
		finishRun(db, run.ID, changes, 0, 0, 0, firstErr)
		return fmt.Errorf("analysis failed: %w", err)
	}

	final, unresolved := resolve.Collapse(decisions, logger)
	for _, c := range unresolved {
		util.WarnLog("Unresolved conflict on %s (%s), skipped", c.Path, c.Kind)
	}

	counts := decide.CountByAction(final)
	pending := counts[decide.ActionDownload] + counts[decide.ActionRemoveFile]
	util.InfoLog("Decisions: %d download, %d remove, %d no action",
		counts[decide.ActionDownload], counts[decide.ActionRemoveFile], counts[decide.ActionNoAction])

	// Phase 5: Execute
	result := &execute.Result{}
	if pending == 0 {
		util.SuccessLog("Nothing to execute, sources already agree")
	} else {
		if client == nil && counts[decide.ActionDownload] > 0 && !dryRun {
			err := fmt.Errorf("%w: catalog_url must be set to execute %d downloads",
				util.ErrInvalidConfig, counts[decide.ActionDownload])
			noteErr(err)
			finishRun(db, run.ID, changes, len(decisions), 0, 0, firstErr)
			return err
		}

		util.InfoLog("")
		util.InfoLog("=== Phase 5: Execution ===")
		util.InfoLog("Concurrency: %d workers", concurrency)
		if dryRun {
			util.InfoLog("Dry-run mode: no changes will be made")
		}

		executor := execute.New(&execute.Config{
			Store:       db,
			Fetcher:     client,
			LibraryRoot: root,
			Concurrency: concurrency,
			DryRun:      dryRun,
			OnConflict:  viper.GetString("on_conflict"),
			FFmpegPath:  viper.GetString("ffmpeg"),
			Logger:      logger,
		})
		result = executor.Execute(ctx, final)

		for i, execErr := range result.Errors {
			if i >= 10 {
				util.WarnLog("... and %d more errors", len(result.Errors)-10)
				break
			}
			util.WarnLog("  - %v", execErr)
		}
		if len(result.Errors) > 0 {
			noteErr(result.Errors[0])
		}
	}

	// Phase 6: Desktop mirror
	var mirror *mirrorSummary
	if ddb != nil && dryRun {
		util.InfoLog("Dry-run mode: desktop mirror skipped")
	} else if ddb != nil {
		util.InfoLog("")
		util.InfoLog("=== Phase 6: Desktop Mirror ===")
		mirror, err = mirrorStage(ctx, db, ddb, logger, root, playlist)
		if err != nil {
			util.WarnLog("Desktop mirror failed: %v", err)
			noteErr(err)
		}
	}

	// Phase 7: Purge memberships every source has dropped
	if dryRun {
		util.InfoLog("Dry-run mode: purge skipped")
	} else {
		purged, err := db.PurgeDeadMemberships()
		if err != nil {
			util.WarnLog("Failed to purge dead memberships: %v", err)
			noteErr(err)
		} else if purged > 0 {
			logger.LogPurge(purged)
			util.InfoLog("Purged %d memberships no source still lists", purged)
		}
	}

	finishRun(db, run.ID, changes, len(decisions), result.Succeeded, result.Failed, firstErr)

	// Summary
	util.InfoLog("")
	util.SuccessLog("=== Sync Summary ===")
	util.InfoLog("Total time: %v", time.Since(startTime).Round(time.Millisecond))
	util.InfoLog("Changes detected: %d", changes)
	util.InfoLog("Decisions: %d (%d executable)", len(final), pending)
	if result.Attempted > 0 {
		util.InfoLog("Executed: %d succeeded, %d failed", result.Succeeded, result.Failed)
		if result.Downloaded > 0 {
			util.InfoLog("  Downloaded: %d files (%s)", result.Downloaded, humanize.Bytes(uint64(result.BytesFetched)))
		}
		if result.Removed > 0 {
			util.InfoLog("  Removed: %d files", result.Removed)
		}
		if result.Interrupted {
			util.WarnLog("Interrupted before every decision was attempted")
		}
	}
	if mirror != nil {
		util.InfoLog("Desktop mirror: %d playlists (%d added, %d removed, %d deleted)",
			mirror.Playlists, mirror.Added, mirror.Removed, mirror.Deleted)
	}
	if len(unresolved) > 0 {
		util.WarnLog("Unresolved conflicts: %d (skipped)", len(unresolved))
	}

	// Save a summary report alongside the event log
	if !dryRun {
		summaryReport, err := report.GenerateSummaryReport(db, logger.Path())
		if err != nil {
			util.WarnLog("Failed to generate summary report: %v", err)
		} else {
			summaryReport.DatabasePath = dbPath
			summaryReport.LibraryRoot = root

			reportPath := filepath.Join("artifacts", "reports", time.Now().Format("20060102-150405"), "summary.md")
			if err := report.WriteMarkdownReport(summaryReport, reportPath); err != nil {
				util.WarnLog("Failed to write summary report: %v", err)
			} else {
				util.InfoLog("Summary report: %s", reportPath)
			}
		}
	}

	if result.Failed > 0 {
		return fmt.Errorf("sync finished with %d failed decisions", result.Failed)
	}
	if firstErr != "" {
		return fmt.Errorf("sync finished with errors: %s", firstErr)
	}
	return nil
}

// makeDecisions runs the decision engine over everything, or over the one
// named collection
func makeDecisions(ctx context.Context, engine *decide.Engine, db *store.Store, playlist string) ([]decide.Decision, error) {
	if playlist == "" {
		return engine.DecideAll(ctx)
	}

	coll, err := db.GetCollectionByName(playlist)
	if err != nil {
		return nil, err
	}
	if coll == nil {
		return nil, fmt.Errorf("collection %q: %w", playlist, util.ErrRecordNotFound)
	}
	return engine.DecideCollection(ctx, coll.ID)
}

// finishRun closes out the run record. Failing to stamp it only warns;
// the run's real outcome has already been decided.
func finishRun(db *store.Store, id string, changes, made, executed, failed int, errMsg string) {
	if err := db.FinishRun(id, changes, made, executed, failed, errMsg); err != nil {
		util.WarnLog("Failed to finish run record: %v", err)
	}
}
