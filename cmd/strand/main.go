package main

import (
	"fmt"
	"os"

	"github.com/sandwichfarm/strand/internal/config"
	"github.com/spf13/cobra"
)

var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
	builtBy = "manual"
)

var (
	configPath string
	rootCmd    = &cobra.Command{
		Use:           "strand",
		Short:         "Nostr feed and thread client with a local event cache",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
)

func main() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "strand.yaml", "Path to configuration file")

	rootCmd.AddCommand(
		initCmd(),
		versionCmd(),
		keysCmd(),
		feedCmd(),
		threadCmd(),
		postCmd(),
		commentCmd(),
		reactCmd(),
		quoteCmd(),
		statsCmd(),
		statusCmd(),
		backupCmd(),
		restoreCmd(),
		pruneCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		printError(os.Stderr, err)
		os.Exit(1)
	}
}

func initCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Print an example configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			exampleConfig, err := config.GetExampleConfig()
			if err != nil {
				return fmt.Errorf("reading example config: %w", err)
			}
			_, err = cmd.OutOrStdout().Write(exampleConfig)
			return err
		},
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "strand %s\n", version)
			fmt.Fprintf(out, "  commit: %s\n", commit)
			fmt.Fprintf(out, "  built:  %s\n", date)
			fmt.Fprintf(out, "  by:     %s\n", builtBy)
		},
	}
}
