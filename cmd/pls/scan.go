package main

import (
	"context"
	"fmt"
	"os"

	"github.com/franz/playlist-sync/internal/store"
	"github.com/franz/playlist-sync/internal/util"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Scan the local library and apply detected changes",
	Long: `Scan the playlist directories under the library root and reconcile the
canonical database against what is actually on disk.

Each playlist directory becomes one collection snapshot. Files whose
size and modification time match a recorded location skip the tag read,
so repeat scans of an unchanged library stay fast.`,
	RunE: runScanCmd,
}

func init() {
	rootCmd.AddCommand(scanCmd)
}

func runScanCmd(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	// Set log level
	util.SetVerbose(viper.GetBool("verbose"))
	util.SetQuiet(viper.GetBool("quiet"))

	root := viper.GetString("library")
	if root == "" {
		return fmt.Errorf("%w: library root is required (--library or config)", util.ErrInvalidConfig)
	}
	if _, err := os.Stat(root); os.IsNotExist(err) {
		return fmt.Errorf("library root does not exist: %s", root)
	}

	concurrency := viper.GetInt("concurrency")
	if concurrency <= 0 {
		concurrency = 4
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

	util.InfoLog("=== Library Scan ===")
	util.InfoLog("Library: %s", root)
	util.InfoLog("Concurrency: %d workers", concurrency)

	result, scanned, err := scanStage(ctx, db, logger, root, concurrency)
	if err != nil {
		return fmt.Errorf("scan failed: %w", err)
	}

	util.SuccessLog("Scan complete: %d changes detected, %d applied", result.Detected, result.Applied)
	util.InfoLog("  Files seen: %d (%d fingerprint hits, %d tags read)",
		scanned.FilesSeen, scanned.FilesReused, scanned.TagsRead)
	if scanned.Strays > 0 {
		util.InfoLog("  Strays: %d files matched no known item", scanned.Strays)
	}
	if result.Failed > 0 {
		util.WarnLog("  Failed to apply: %d", result.Failed)
	}
	if len(scanned.Errors) > 0 {
		util.WarnLog("  Read errors: %d", len(scanned.Errors))
		for i, scanErr := range scanned.Errors {
			if i >= 10 {
				util.WarnLog("  ... and %d more errors", len(scanned.Errors)-10)
				break
			}
			util.WarnLog("    - %v", scanErr)
		}
	}

	util.InfoLog("")
	util.InfoLog("Next step: pls analyze")

	return nil
}
