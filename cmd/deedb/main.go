// Package main provides the deedb CLI entry point.
package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/deedb/deedb/pkg/config"
	"github.com/deedb/deedb/pkg/exec"
	"github.com/deedb/deedb/pkg/session"
)

var (
	version = "0.1.0"
	commit  = "dev"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "deedb",
		Short: "deedb - an embeddable hybrid relational/graph database engine",
		Long: `deedb stores entities in typed collections and connects them with
directed, typed edges whose relevance score reinforces with use and decays
with neglect. One query language covers both row-style filtering and graph
traversal.`,
	}

	rootCmd.AddCommand(versionCmd(), serveCmd(), shellCmd(), backupCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("deedb v%s (%s)\n", version, commit)
		},
	}
}

func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg := config.LoadFromEnv()
	if path, _ := cmd.Flags().GetString("config"); path != "" {
		if err := cfg.MergeFile(path); err != nil {
			return nil, fmt.Errorf("loading config file: %w", err)
		}
	}
	if dir, _ := cmd.Flags().GetString("data-dir"); dir != "" {
		cfg.WAL.Dir = dir
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func addCommonFlags(cmd *cobra.Command) {
	cmd.Flags().String("config", "", "Path to a YAML config file overlaying environment defaults")
	cmd.Flags().String("data-dir", "./data/wal", "Write-ahead log directory")
}

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Open the database and keep it running until interrupted",
		RunE:  runServe,
	}
	addCommonFlags(cmd)
	return cmd
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	fmt.Printf("deedb v%s\n", version)
	fmt.Printf("  wal dir:   %s\n", cfg.WAL.Dir)
	fmt.Printf("  pool:      %d..%d sessions\n", cfg.Pool.MinSize, cfg.Pool.MaxSize)
	fmt.Printf("  metrics:   %v\n", cfg.Metrics.Enabled)
	fmt.Println()

	db, err := session.Open(cfg)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer db.Close()

	fmt.Println("database ready, press Ctrl+C to stop")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	fmt.Println("shutting down...")
	if err := db.Close(); err != nil {
		return fmt.Errorf("closing database: %w", err)
	}
	fmt.Println("stopped")
	return nil
}

func shellCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "shell",
		Short: "Interactive query shell",
		RunE:  runShell,
	}
	addCommonFlags(cmd)
	return cmd
}

func runShell(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	db, err := session.Open(cfg)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer db.Close()

	ctx := context.Background()
	sess, err := db.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquiring session: %w", err)
	}
	defer sess.Close()

	fmt.Println("deedb shell. Type a query and press Enter; 'exit' or Ctrl+D to quit.")
	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("deedb> ")
		if !scanner.Scan() {
			fmt.Println()
			break
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if line == "exit" || line == "quit" {
			break
		}

		res, err := sess.Query(ctx, line)
		if err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			continue
		}
		printResult(res)
	}
	return nil
}

func printResult(res *exec.Result) {
	if res == nil {
		return
	}
	if len(res.Columns) == 0 {
		fmt.Printf("ok (%d rows affected)\n", res.RowsAffected)
		return
	}
	fmt.Println(strings.Join(res.Columns, "\t"))
	for _, row := range res.Rows {
		vals := make([]string, len(res.Columns))
		for i, col := range res.Columns {
			vals[i] = row[col].String()
		}
		fmt.Println(strings.Join(vals, "\t"))
	}
}

func backupCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "backup",
		Short: "Create, list, verify, and restore backups",
	}

	var snapshotDir string
	var compress bool

	createCmd := &cobra.Command{
		Use:   "create",
		Short: "Create a full backup of the database",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			db, err := session.Open(cfg)
			if err != nil {
				return fmt.Errorf("opening database: %w", err)
			}
			defer db.Close()

			bm, err := session.NewBackupManager(snapshotDir, compress)
			if err != nil {
				return err
			}
			meta, err := bm.CreateFullBackup(db)
			if err != nil {
				return fmt.Errorf("creating backup: %w", err)
			}
			fmt.Printf("created backup %s (%d entities, %d edges)\n", meta.ID, meta.EntityCount, meta.EdgeCount)
			return nil
		},
	}
	addCommonFlags(createCmd)

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List backups",
		RunE: func(cmd *cobra.Command, args []string) error {
			bm, err := session.NewBackupManager(snapshotDir, compress)
			if err != nil {
				return err
			}
			backups, err := bm.ListBackups()
			if err != nil {
				return err
			}
			for _, b := range backups {
				fmt.Printf("%s  %-11s  %s  entities=%d edges=%d\n", b.ID, b.Type, b.Timestamp.Format(time.RFC3339), b.EntityCount, b.EdgeCount)
			}
			return nil
		},
	}

	verifyCmd := &cobra.Command{
		Use:   "verify [id]",
		Short: "Verify a backup's checksum",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			bm, err := session.NewBackupManager(snapshotDir, compress)
			if err != nil {
				return err
			}
			if err := bm.VerifyBackup(args[0]); err != nil {
				return err
			}
			fmt.Println("ok")
			return nil
		},
	}

	restoreCmd := &cobra.Command{
		Use:   "restore [id]",
		Short: "Restore a backup into the configured data directory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			db, err := session.Open(cfg)
			if err != nil {
				return fmt.Errorf("opening database: %w", err)
			}
			defer db.Close()

			bm, err := session.NewBackupManager(snapshotDir, compress)
			if err != nil {
				return err
			}
			if err := bm.RestoreBackup(db, args[0]); err != nil {
				return fmt.Errorf("restoring backup: %w", err)
			}
			fmt.Println("restored")
			return nil
		},
	}
	addCommonFlags(restoreCmd)

	deleteCmd := &cobra.Command{
		Use:   "delete [id]",
		Short: "Delete a backup",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			bm, err := session.NewBackupManager(snapshotDir, compress)
			if err != nil {
				return err
			}
			return bm.DeleteBackup(args[0])
		},
	}

	for _, c := range []*cobra.Command{createCmd, listCmd, verifyCmd, restoreCmd, deleteCmd} {
		c.Flags().StringVar(&snapshotDir, "snapshot-dir", "./data/backups", "Backup directory")
		c.Flags().BoolVar(&compress, "compress", true, "gzip-compress the backup payload")
	}
	cmd.AddCommand(createCmd, listCmd, verifyCmd, restoreCmd, deleteCmd)
	return cmd
}
