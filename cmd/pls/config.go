package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show the effective configuration",
	Long: `Print every setting the current invocation would use, after merging
command-line flags, PLS_* environment variables, and the config file.

Secrets are reported as set or not set, never printed.`,
	RunE: runConfig,
}

func init() {
	rootCmd.AddCommand(configCmd)
}

func runConfig(cmd *cobra.Command, args []string) error {
	fmt.Println("=== Effective Configuration ===")
	if used := viper.ConfigFileUsed(); used != "" {
		fmt.Printf("Config file:   %s\n", used)
	} else {
		fmt.Println("Config file:   (none found)")
	}
	fmt.Println()

	fmt.Printf("db:            %s\n", viper.GetString("db"))
	fmt.Printf("library:       %s\n", orUnset(viper.GetString("library")))
	fmt.Printf("catalog_url:   %s\n", orUnset(viper.GetString("catalog_url")))
	fmt.Printf("catalog_token: %s\n", secretState(viper.GetString("catalog_token")))
	fmt.Printf("desktop_db:    %s\n", orUnset(viper.GetString("desktop_db")))
	fmt.Printf("format:        %s\n", orDefault(viper.GetString("format"), "mp3"))
	fmt.Printf("on_conflict:   %s\n", orDefault(viper.GetString("on_conflict"), "backup"))
	fmt.Printf("concurrency:   %d\n", orDefaultInt(viper.GetInt("concurrency"), 4))
	fmt.Printf("ffmpeg:        %s\n", orDefault(viper.GetString("ffmpeg"), "(from PATH)"))
	if exts := viper.GetStringSlice("extensions"); len(exts) > 0 {
		fmt.Printf("extensions:    %s\n", strings.Join(exts, ", "))
	}
	fmt.Printf("verbose:       %v\n", viper.GetBool("verbose"))
	fmt.Printf("quiet:         %v\n", viper.GetBool("quiet"))

	return nil
}

func orUnset(v string) string {
	if v == "" {
		return "(not set)"
	}
	return v
}

func secretState(v string) string {
	if v == "" {
		return "(not set)"
	}
	return "(set)"
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

func orDefaultInt(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
