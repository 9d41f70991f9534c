package main

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"
	"k8s.io/klog/v2"

	"github.com/fortiblox/X1-Ballot/pkg/accounts"
)

var snapshotDataDir string

func init() {
	snapshotCmd.PersistentFlags().StringVar(&snapshotDataDir, "data-dir", "./data", "Node data directory")
	snapshotCmd.AddCommand(snapshotCreateCmd, snapshotLoadCmd)
	rootCmd.AddCommand(snapshotCmd)
}

var snapshotCmd = &cobra.Command{
	Use:   "snapshot",
	Short: "Create or load accounts snapshots (node must be stopped)",
}

var snapshotCreateCmd = &cobra.Command{
	Use:   "create <file>",
	Short: "Write every account to a snapshot file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withAccounts(func(db *accounts.BadgerDB) error {
			header, err := accounts.CreateSnapshot(db, args[0])
			if err != nil {
				return err
			}
			printHeader(cmd, header)
			return nil
		})
	},
}

var snapshotLoadCmd = &cobra.Command{
	Use:   "load <file>",
	Short: "Load a snapshot file into the accounts database",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withAccounts(func(db *accounts.BadgerDB) error {
			header, err := accounts.LoadSnapshot(db, args[0])
			if err != nil {
				return err
			}
			if err := db.Commit(); err != nil {
				return err
			}
			printHeader(cmd, header)
			return nil
		})
	},
}

func withAccounts(fn func(db *accounts.BadgerDB) error) error {
	path := filepath.Join(snapshotDataDir, "accounts")
	db, err := accounts.NewBadgerDB(accounts.DefaultBadgerDBConfig(path))
	if err != nil {
		return fmt.Errorf("open accounts database %s: %w", path, err)
	}
	defer func() {
		if err := db.Close(); err != nil {
			klog.ErrorS(err, "Failed to close accounts database")
		}
	}()
	return fn(db)
}

func printHeader(cmd *cobra.Command, h *accounts.SnapshotHeader) {
	fmt.Fprintf(cmd.OutOrStdout(), "slot=%d accounts=%d hash=%s\n", h.Slot, h.AccountsCount, h.AccountsHash)
}
