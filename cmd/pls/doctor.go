package main

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/franz/playlist-sync/internal/desktop"
	"github.com/franz/playlist-sync/internal/store"
	"github.com/franz/playlist-sync/internal/util"
)

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Run diagnostic checks on the environment and configuration",
	Long: `Run diagnostic checks to ensure pls can operate correctly.

This command checks:
- Optional tools (ffmpeg for format conversion)
- SQLite availability
- Canonical database accessibility and integrity
- Catalog configuration (no network calls)
- Library root permissions
- Desktop database accessibility
- Disk space availability

Use this command to troubleshoot issues before running a sync.`,
	RunE: runDoctor,
}

func init() {
	rootCmd.AddCommand(doctorCmd)
}

type checkResult struct {
	name    string
	message string
	error   bool
	warning bool
}

func runDoctor(cmd *cobra.Command, args []string) error {
	util.InfoLog("=== PLS Doctor - System Diagnostics ===")
	util.InfoLog("")

	results := []checkResult{}

	// 1. Check ffmpeg (optional)
	results = append(results, checkFFmpeg(viper.GetString("ffmpeg")))

	// 2. Check SQLite
	results = append(results, checkSQLite())

	// 3. Check canonical database
	results = append(results, checkDatabase(viper.GetString("db")))

	// 4. Check catalog configuration
	results = append(results, checkCatalog(viper.GetString("catalog_url"), viper.GetString("catalog_token")))

	// 5. Check library root
	root := viper.GetString("library")
	if root != "" {
		results = append(results, checkLibraryRoot(root))
	}

	// 6. Check desktop database
	desktopPath := viper.GetString("desktop_db")
	if desktopPath != "" {
		results = append(results, checkDesktopDB(desktopPath))
	}

	// 7. Check disk space
	if root != "" {
		results = append(results, checkDiskSpace(root, "library"))
	}

	// Print results
	util.InfoLog("")
	util.InfoLog("=== Diagnostic Results ===")
	util.InfoLog("")

	hasErrors := false
	hasWarnings := false

	for _, r := range results {
		symbol := "✓"
		if r.error {
			symbol = "✗"
			hasErrors = true
		} else if r.warning {
			symbol = "⚠"
			hasWarnings = true
		}

		line := fmt.Sprintf("[%s] %s", symbol, r.name)
		if r.message != "" {
			line += fmt.Sprintf(": %s", r.message)
		}

		if r.error {
			util.ErrorLog("%s", line)
		} else if r.warning {
			util.WarnLog("%s", line)
		} else {
			util.SuccessLog("%s", line)
		}
	}

	// Summary
	util.InfoLog("")
	if hasErrors {
		util.ErrorLog("❌ Some critical checks failed. Please resolve errors before running pls.")
		return fmt.Errorf("system diagnostics failed")
	} else if hasWarnings {
		util.WarnLog("⚠️  Some checks produced warnings. Review them before proceeding.")
	} else {
		util.SuccessLog("✅ All checks passed! System is ready for pls operations.")
	}

	return nil
}

// checkFFmpeg verifies ffmpeg is available and gets its version. The tool
// is optional: without it downloads keep the delivered format.
func checkFFmpeg(configured string) checkResult {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	binary := configured
	if binary == "" {
		binary = "ffmpeg"
	}

	cmd := exec.CommandContext(ctx, binary, "-version")
	output, err := cmd.CombinedOutput()

	if err != nil {
		return checkResult{
			name:    "ffmpeg (optional)",
			warning: true,
			message: "not found (downloads will keep the delivered format)",
		}
	}

	// Parse version from first line
	lines := strings.Split(string(output), "\n")
	version := "unknown"
	if len(lines) > 0 {
		parts := strings.Fields(lines[0])
		if len(parts) >= 3 {
			version = parts[2]
		}
	}

	return checkResult{
		name:    "ffmpeg (optional)",
		message: fmt.Sprintf("version %s", version),
	}
}

// checkSQLite verifies SQLite version
func checkSQLite() checkResult {
	// modernc.org/sqlite needs no external library; just report the version
	version := store.SQLiteVersion()
	if version == "" {
		return checkResult{
			name:    "SQLite",
			error:   true,
			message: "unable to determine version",
		}
	}

	return checkResult{
		name:    "SQLite",
		message: fmt.Sprintf("version %s (built-in)", version),
	}
}

// checkDatabase verifies canonical database accessibility
func checkDatabase(dbPath string) checkResult {
	if dbPath == "" {
		return checkResult{
			name:    "Database",
			warning: true,
			message: "no database path specified (use --db flag or config)",
		}
	}

	info, err := os.Stat(dbPath)
	if err != nil {
		if os.IsNotExist(err) {
			return checkResult{
				name:    "Database",
				message: fmt.Sprintf("%s (will be created on first run)", dbPath),
			}
		}
		return checkResult{
			name:    "Database",
			error:   true,
			message: fmt.Sprintf("cannot access %s: %v", dbPath, err),
		}
	}

	if !info.Mode().IsRegular() {
		return checkResult{
			name:    "Database",
			error:   true,
			message: fmt.Sprintf("%s is not a regular file", dbPath),
		}
	}

	db, err := store.Open(dbPath)
	if err != nil {
		return checkResult{
			name:    "Database",
			error:   true,
			message: fmt.Sprintf("cannot open %s: %v", dbPath, err),
		}
	}
	defer db.Close()

	if err := db.CheckIntegrity(); err != nil {
		return checkResult{
			name:    "Database",
			error:   true,
			message: fmt.Sprintf("integrity check failed: %v", err),
		}
	}

	fetched, _ := db.CountItemsByFetchStatus(store.FetchStatusFetched)
	size := humanize.Bytes(uint64(info.Size()))

	return checkResult{
		name:    "Database",
		message: fmt.Sprintf("%s (%s, %d items fetched)", dbPath, size, fetched),
	}
}

// checkCatalog verifies catalog configuration without touching the network
func checkCatalog(url, token string) checkResult {
	if url == "" {
		return checkResult{
			name:    "Catalog",
			warning: true,
			message: "catalog_url not set (fetch and downloads disabled)",
		}
	}
	if token == "" {
		return checkResult{
			name:    "Catalog",
			warning: true,
			message: fmt.Sprintf("%s (no token configured)", url),
		}
	}
	return checkResult{
		name:    "Catalog",
		message: fmt.Sprintf("%s (token set)", url),
	}
}

// checkLibraryRoot verifies the library root is writable
func checkLibraryRoot(path string) checkResult {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			// Try to create it
			if err := os.MkdirAll(path, 0755); err != nil {
				return checkResult{
					name:    "Library root",
					error:   true,
					message: fmt.Sprintf("cannot create %s: %v", path, err),
				}
			}
			return checkResult{
				name:    "Library root",
				message: fmt.Sprintf("%s (created)", path),
			}
		}
		return checkResult{
			name:    "Library root",
			error:   true,
			message: fmt.Sprintf("cannot access %s: %v", path, err),
		}
	}

	if !info.IsDir() {
		return checkResult{
			name:    "Library root",
			error:   true,
			message: fmt.Sprintf("%s is not a directory", path),
		}
	}

	// Check write permission by creating a temp file
	testFile := filepath.Join(path, ".pls_write_test")
	f, err := os.Create(testFile)
	if err != nil {
		return checkResult{
			name:    "Library root",
			error:   true,
			message: fmt.Sprintf("cannot write to %s: %v", path, err),
		}
	}
	f.Close()
	os.Remove(testFile)

	return checkResult{
		name:    "Library root",
		message: fmt.Sprintf("%s (writable)", path),
	}
}

// checkDesktopDB verifies the desktop database can be read. The file is
// statted before opening because Open creates missing schema.
func checkDesktopDB(path string) checkResult {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return checkResult{
				name:    "Desktop database",
				message: fmt.Sprintf("%s (will be created on first mirror)", path),
			}
		}
		return checkResult{
			name:    "Desktop database",
			error:   true,
			message: fmt.Sprintf("cannot access %s: %v", path, err),
		}
	}

	if !info.Mode().IsRegular() {
		return checkResult{
			name:    "Desktop database",
			error:   true,
			message: fmt.Sprintf("%s is not a regular file", path),
		}
	}

	db, err := desktop.Open(path)
	if err != nil {
		return checkResult{
			name:    "Desktop database",
			error:   true,
			message: fmt.Sprintf("cannot open %s: %v", path, err),
		}
	}
	defer db.Close()

	playlists, err := db.ListPlaylists()
	if err != nil {
		return checkResult{
			name:    "Desktop database",
			error:   true,
			message: fmt.Sprintf("cannot read playlists: %v", err),
		}
	}

	return checkResult{
		name:    "Desktop database",
		message: fmt.Sprintf("%s (%s, %d playlists)", path, humanize.Bytes(uint64(info.Size())), len(playlists)),
	}
}

// checkDiskSpace verifies available disk space
func checkDiskSpace(path string, label string) checkResult {
	var stat syscall.Statfs_t
	if err := syscall.Statfs(path, &stat); err != nil {
		return checkResult{
			name:    fmt.Sprintf("Disk space (%s)", label),
			warning: true,
			message: fmt.Sprintf("cannot determine disk space: %v", err),
		}
	}

	// Available bytes = available blocks * block size
	availBytes := stat.Bavail * uint64(stat.Bsize)
	totalBytes := stat.Blocks * uint64(stat.Bsize)
	usedBytes := totalBytes - (stat.Bfree * uint64(stat.Bsize))

	availGB := float64(availBytes) / (1024 * 1024 * 1024)
	usedPercent := float64(usedBytes) / float64(totalBytes) * 100

	// Warn if less than 10GB available or >90% used
	warning := false
	warningMsg := ""
	if availGB < 10 {
		warning = true
		warningMsg = " (low space!)"
	} else if usedPercent > 90 {
		warning = true
		warningMsg = " (>90% used)"
	}

	return checkResult{
		name:    fmt.Sprintf("Disk space (%s)", label),
		warning: warning,
		message: fmt.Sprintf("%.1f GB available%s", availGB, warningMsg),
	}
}
