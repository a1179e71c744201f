package main

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/sandwichfarm/strand/internal/config"
	"github.com/sandwichfarm/strand/internal/ops"
	"github.com/spf13/cobra"
)

func statusCmd() *cobra.Command {
	var inspect bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show cache, relay and session diagnostics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := openApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			var relays ops.RelayInspector
			if inspect {
				if err := a.connect(ctx); err != nil {
					printError(cmd.ErrOrStderr(), err)
				}
				relays = a.client
			}
			session := func() ops.SessionStats {
				return ops.SessionStats{
					State:                a.store.State().String(),
					DroppedNotifications: a.hub.Dropped(),
				}
			}

			diag, err := ops.NewDiagnosticsCollector(version, commit, a.storage, relays, session).CollectAll(ctx)
			if err != nil {
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), diag.FormatAsText())
			return nil
		},
	}

	cmd.Flags().BoolVar(&inspect, "inspect", false, "Connect to relays and query their capabilities")
	return cmd
}

func backupCmd() *cobra.Command {
	var keepDays int

	cmd := &cobra.Command{
		Use:   "backup <file-or-directory>",
		Short: "Write a snapshot of the event cache",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := openApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			path, err := ops.NewBackupManager(a.storage, a.logger).Backup(ctx, args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "✓ Backup written to %s\n", path)

			if keepDays > 0 {
				deleted, err := ops.CleanOldBackups(filepath.Dir(path), time.Duration(keepDays)*24*time.Hour, a.logger)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "  removed %d old backups\n", deleted)
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&keepDays, "keep-days", 0, "Remove backups in the directory older than this many days")
	return cmd
}

func restoreCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "restore <backup-file>",
		Short: "Replace the event cache with a backup",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return fmt.Errorf("loading configuration: %w", err)
			}
			logger := ops.NewLogger(&cfg.Logging)

			if err := ops.NewBackupManager(nil, logger).Restore(cmd.Context(), args[0], cfg.Storage.SQLitePath); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "✓ Restored %s\n", cfg.Storage.SQLitePath)
			return nil
		},
	}
}

func pruneCmd() *cobra.Command {
	var olderThan int

	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Delete old events by other authors from the cache",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := openApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			retention := ops.NewRetentionManager(a.storage, &a.cfg.Retention, a.logger)

			var deleted int64
			if olderThan > 0 {
				deleted, err = retention.PruneBefore(ctx, time.Now().AddDate(0, 0, -olderThan), a.protectedAuthors(ctx)...)
			} else {
				if a.cfg.Retention.KeepDays == 0 {
					return fmt.Errorf("nothing to prune: pass --older-than or set retention.keep_days")
				}
				deleted, err = retention.PruneOldEvents(ctx, a.protectedAuthors(ctx)...)
			}
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "✓ Pruned %d events\n", deleted)
			return nil
		},
	}

	cmd.Flags().IntVar(&olderThan, "older-than", 0, "Age in days; defaults to retention.keep_days")
	return cmd
}
