package main

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/franz/playlist-sync/internal/report"
	"github.com/franz/playlist-sync/internal/store"
	"github.com/franz/playlist-sync/internal/util"
)

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Generate a library health report",
	Long: `Generate a summary report in Markdown format from the canonical
database.

The report includes:
- Item counts by fetch state
- Bytes on disk and per-collection coverage
- Membership counts per source
- Recent runs and their outcomes
- Items whose last fetch failed

The report is saved to artifacts/reports/<timestamp>/summary.md`,
	RunE: runReport,
}

func init() {
	rootCmd.AddCommand(reportCmd)

	reportCmd.Flags().String("out", "", "output directory (default: artifacts/reports/<timestamp>)")
	reportCmd.Flags().String("event-log", "", "event log file to reference in the report")
}

func runReport(cmd *cobra.Command, args []string) error {
	// Set log level
	util.SetVerbose(viper.GetBool("verbose"))
	util.SetQuiet(viper.GetBool("quiet"))

	dbPath := viper.GetString("db")

	util.InfoLog("=== Generating Summary Report ===")
	util.InfoLog("Database: %s", dbPath)

	db, err := store.Open(dbPath)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	eventLogPath, _ := cmd.Flags().GetString("event-log")

	util.InfoLog("Analyzing data...")
	summary, err := report.GenerateSummaryReport(db, eventLogPath)
	if err != nil {
		return fmt.Errorf("failed to generate report: %w", err)
	}

	summary.DatabasePath = dbPath
	summary.LibraryRoot = viper.GetString("library")

	outputDir, _ := cmd.Flags().GetString("out")
	if outputDir == "" {
		outputDir = filepath.Join("artifacts", "reports", time.Now().Format("20060102-150405"))
	}
	outputPath := filepath.Join(outputDir, "summary.md")

	util.InfoLog("Writing report to: %s", outputPath)
	if err := report.WriteMarkdownReport(summary, outputPath); err != nil {
		return fmt.Errorf("failed to write report: %w", err)
	}

	util.SuccessLog("Report generated successfully!")
	util.InfoLog("")
	util.InfoLog("Summary:")
	util.InfoLog("  Collections: %d", len(summary.Collections))
	util.InfoLog("  Items: %d (%d fetched, %d pending)", summary.ItemsTotal, summary.ItemsFetched, summary.ItemsNotFetched)
	if summary.ItemsFetchFailed > 0 {
		util.WarnLog("  Fetch failures: %d", summary.ItemsFetchFailed)
	}
	if summary.ItemsUnavailable > 0 {
		util.WarnLog("  Unavailable upstream: %d", summary.ItemsUnavailable)
	}
	util.InfoLog("  On disk: %s", humanize.Bytes(uint64(summary.BytesOnDisk)))

	return nil
}
