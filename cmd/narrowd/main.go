// narrowd conducts safe automated type-narrowing campaigns: it scans a
// TypeScript working tree for "any" escape hatches, classifies each one,
// applies narrowing replacements under a safety gate with backup and
// rollback, and monitors campaign health.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"narrowd/internal/config"
	"narrowd/internal/logging"
)

var (
	workspace string
	verbose   bool

	cfg    *config.Config
	logger *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "narrowd",
	Short: "narrowd - safe automated type-narrowing campaigns",
	Long: `narrowd locates weakly-typed "any" markers in a TypeScript codebase,
classifies each occurrence as intentional or unintentional, and applies
narrowing replacements under a safety contract: backup before write,
compiler validation after write, full rollback on failure.

A campaign never commits a batch that leaves the repository uncompilable.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(workspace)
		if err != nil {
			return err
		}

		level := cfg.Logging.Level
		if verbose {
			level = "debug"
		}
		logger, err = logging.New(level, cfg.Logging.JSON)
		if err != nil {
			return fmt.Errorf("initializing logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

func main() {
	rootCmd.PersistentFlags().StringVarP(&workspace, "workspace", "w", ".", "workspace root to campaign against")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	rootCmd.AddCommand(scanCmd)
	rootCmd.AddCommand(classifyCmd)
	rootCmd.AddCommand(applyCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(monitorCmd)
	rootCmd.AddCommand(backupsCmd)
	rootCmd.AddCommand(checkpointCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
