package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"chitragupta/internal/config"
	"chitragupta/internal/logging"
)

var (
	// Global flags
	workspace  string
	configPath string
	verbose    bool

	// Loaded configuration, available to every subcommand.
	cfg *config.Config
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "chitragupta",
	Short: "chitragupta - agent lifecycle core",
	Long: `chitragupta supervises a tree of autonomous agents: heartbeat tracking,
stale/dead detection and healing, guarded turns with retry and context
compaction, and procedural memory mined from past sessions.

The name is the record keeper's: every agent's turns, tokens, and fate are
written down.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := logging.Initialize(workspace); err != nil {
			return fmt.Errorf("failed to initialize logging: %w", err)
		}
		if verbose {
			logging.EnableDebug()
		}

		path := configPath
		if path == "" {
			path = config.DefaultConfigPath(workspace)
		}
		var err error
		cfg, err = config.Load(path)
		if err != nil {
			return err
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logging.CloseAll()
		logging.CloseAudit()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&workspace, "workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (default <workspace>/.chitragupta/config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(sweepCmd)
	rootCmd.AddCommand(extractCmd)
	rootCmd.AddCommand(vidhisCmd)
	rootCmd.AddCommand(simulateCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
