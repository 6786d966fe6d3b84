package main

import (
	"context"
	"fmt"

	"github.com/franz/playlist-sync/internal/decide"
	"github.com/franz/playlist-sync/internal/report"
	"github.com/franz/playlist-sync/internal/resolve"
	"github.com/franz/playlist-sync/internal/store"
	"github.com/franz/playlist-sync/internal/util"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var decisionsCmd = &cobra.Command{
	Use:   "decisions",
	Short: "List the decisions a sync would execute",
	Long: `List every decision the engine generates, one line each, after conflict
collapse. Filter with --action and cap the output with --limit.

Examples:
  # Show everything
  pls decisions

  # Only downloads
  pls decisions --action download

  # First 20 removals
  pls decisions --action remove_file --limit 20`,
	RunE: runDecisions,
}

func init() {
	rootCmd.AddCommand(decisionsCmd)

	decisionsCmd.Flags().String("action", "", "only decisions with this action (download, remove_file, no_action)")
	decisionsCmd.Flags().IntP("limit", "l", 0, "maximum decisions to list (0 = no limit)")
}

func runDecisions(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	// Set log level
	util.SetVerbose(viper.GetBool("verbose"))
	util.SetQuiet(viper.GetBool("quiet"))

	action, _ := cmd.Flags().GetString("action")
	limit, _ := cmd.Flags().GetInt("limit")

	root := viper.GetString("library")
	if root == "" {
		return fmt.Errorf("%w: library root is required (--library or config)", util.ErrInvalidConfig)
	}

	db, err := store.Open(viper.GetString("db"))
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	// A listing should not leave an event file behind
	cache, err := decide.NewCache(db)
	if err != nil {
		return err
	}
	engine := decide.New(&decide.Config{
		Store:        db,
		LibraryRoot:  root,
		TargetFormat: viper.GetString("format"),
		Cache:        cache,
		Logger:       report.NullLogger(),
	})

	decisions, err := engine.DecideAll(ctx)
	if err != nil {
		return err
	}
	resolved, unresolved := resolve.Collapse(decisions, report.NullLogger())

	if action != "" {
		resolved = decide.FilterByAction(resolved, action)
	}
	truncated := 0
	if limit > 0 && len(resolved) > limit {
		truncated = len(resolved) - limit
		resolved = resolved[:limit]
	}

	if len(resolved) == 0 {
		util.InfoLog("No decisions match")
		return nil
	}

	fmt.Println()
	for _, d := range resolved {
		switch d.Action {
		case decide.ActionDownload:
			fmt.Printf("  ↓ [%2d] %s\n         %s\n", d.Priority, d.Path, d.Reason)
		case decide.ActionRemoveFile:
			fmt.Printf("  ✗ [%2d] %s\n         %s\n", d.Priority, d.Path, d.Reason)
		default:
			fmt.Printf("  =      item %d: %s\n", d.ItemID, d.Reason)
		}
	}
	fmt.Println()

	counts := decide.CountByAction(resolved)
	fmt.Printf("Listed: %d decisions (%d download, %d remove, %d no action)\n",
		len(resolved), counts[decide.ActionDownload], counts[decide.ActionRemoveFile], counts[decide.ActionNoAction])
	if truncated > 0 {
		fmt.Printf("... %d more not shown (raise --limit)\n", truncated)
	}
	if len(unresolved) > 0 {
		util.WarnLog("Unresolved conflicts: %d (run 'pls analyze' for details)", len(unresolved))
	}

	return nil
}
