package main

import (
	"context"
	"fmt"

	"github.com/franz/playlist-sync/internal/decide"
	"github.com/franz/playlist-sync/internal/resolve"
	"github.com/franz/playlist-sync/internal/store"
	"github.com/franz/playlist-sync/internal/util"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var analyzeCmd = &cobra.Command{
	Use:   "analyze",
	Short: "Work out what a sync would do",
	Long: `Run the decision engine over the canonical state: which items need
downloading, which engine-managed files should be removed, and which
memberships need nothing. Decisions colliding on one path are collapsed
exactly the way a real run collapses them.

Nothing is downloaded, removed, or written. Run 'pls sync' to act on
the result.`,
	RunE: runAnalyze,
}

func init() {
	rootCmd.AddCommand(analyzeCmd)
}

func runAnalyze(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	// Set log level
	util.SetVerbose(viper.GetBool("verbose"))
	util.SetQuiet(viper.GetBool("quiet"))

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

	logger := newEventLogger("")
	defer logger.Close()

	util.InfoLog("=== Analysis ===")

	cache, err := decide.NewCache(db)
	if err != nil {
		return fmt.Errorf("analysis failed: %w", err)
	}
	engine := decide.New(&decide.Config{
		Store:        db,
		LibraryRoot:  root,
		TargetFormat: viper.GetString("format"),
		Cache:        cache,
		Logger:       logger,
	})

	decisions, err := engine.DecideAll(ctx)
	if err != nil {
		return fmt.Errorf("analysis failed: %w", err)
	}

	resolved, unresolved := resolve.Collapse(decisions, logger)
	counts := decide.CountByAction(resolved)

	util.InfoLog("")
	util.SuccessLog("=== Analysis Summary ===")
	util.InfoLog("Decisions: %d", len(resolved))
	if counts[decide.ActionDownload] > 0 {
		util.InfoLog("  Download: %d items", counts[decide.ActionDownload])
	}
	if counts[decide.ActionRemoveFile] > 0 {
		util.InfoLog("  Remove: %d files", counts[decide.ActionRemoveFile])
	}
	util.InfoLog("  No action: %d memberships", counts[decide.ActionNoAction])
	if len(unresolved) > 0 {
		util.WarnLog("  Unresolved conflicts: %d (excluded from execution)", len(unresolved))
	}

	if counts[decide.ActionDownload]+counts[decide.ActionRemoveFile] == 0 {
		util.SuccessLog("Library already matches the sources")
		return nil
	}

	util.InfoLog("")
	util.InfoLog("Review details:  pls decisions")
	util.InfoLog("Apply decisions: pls sync")

	return nil
}
