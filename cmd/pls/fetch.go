package main

import (
	"context"
	"fmt"

	"github.com/franz/playlist-sync/internal/store"
	"github.com/franz/playlist-sync/internal/util"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var fetchCmd = &cobra.Command{
	Use:   "fetch",
	Short: "Snapshot the catalog and apply detected changes",
	Long: `Fetch the current collections and items from the catalog service and
reconcile the canonical database against them.

The fetch runs in two passes:
1. Collection pass: new, renamed, and withdrawn collections
2. Membership pass: each collection's items, positions, and metadata

Detected changes are applied immediately. A change that fails to apply
is reported and the rest of the batch continues.`,
	RunE: runFetch,
}

func init() {
	rootCmd.AddCommand(fetchCmd)
}

func runFetch(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	// Set log level
	util.SetVerbose(viper.GetBool("verbose"))
	util.SetQuiet(viper.GetBool("quiet"))

	client := catalogClient()
	if client == nil {
		return fmt.Errorf("%w: catalog_url is not set (config file or PLS_CATALOG_URL)", util.ErrInvalidConfig)
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

	util.InfoLog("=== Catalog Fetch ===")
	util.InfoLog("Catalog: %s", viper.GetString("catalog_url"))

	result, err := fetchStage(ctx, db, client, logger)
	if err != nil {
		return fmt.Errorf("fetch failed: %w", err)
	}

	util.SuccessLog("Fetch complete: %d changes detected, %d applied", result.Detected, result.Applied)
	if result.Failed > 0 {
		util.WarnLog("  Failed to apply: %d", result.Failed)
	}

	if result.Detected == 0 {
		util.InfoLog("Catalog and canonical state already agree")
	} else {
		util.InfoLog("")
		util.InfoLog("Next step: pls analyze")
	}

	return nil
}
