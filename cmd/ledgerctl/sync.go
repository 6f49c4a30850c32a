package main

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"warehouse-ledger/internal/models"
	"warehouse-ledger/internal/syncstate"

	"github.com/spf13/cobra"
)

var (
	syncLimit int
	syncedAt  string
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Inspect and acknowledge replication state",
}

var syncListCmd = &cobra.Command{
	Use:   "list <entity-type>",
	Short: "List rows awaiting replication, oldest change first",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openStore()
		if err != nil {
			return err
		}
		defer s.Close()

		records, err := syncstate.NewReader(s, 100).ListDiverged(cmd.Context(), models.EntityType(args[0]), syncLimit)
		if err != nil {
			return err
		}
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(records)
	},
}

var syncMarkCmd = &cobra.Command{
	Use:   "mark <entity-type> <id> <sync-version>",
	Short: "Mark a row as replicated at the version listed by sync list",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := strconv.ParseInt(args[1], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid id %q", args[1])
		}
		version, err := strconv.ParseInt(args[2], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid sync version %q", args[2])
		}
		at := time.Now().UTC()
		if syncedAt != "" {
			if at, err = time.Parse(time.RFC3339Nano, syncedAt); err != nil {
				return fmt.Errorf("invalid --at: %w", err)
			}
		}

		s, err := openStore()
		if err != nil {
			return err
		}
		defer s.Close()

		applied, err := syncstate.NewReader(s, 100).MarkSynced(cmd.Context(), models.EntityType(args[0]), id, version, at)
		if err != nil {
			return err
		}
		if applied {
			fmt.Fprintf(cmd.OutOrStdout(), "%s %d marked synced\n", args[0], id)
		} else {
			fmt.Fprintf(cmd.OutOrStdout(), "%s %d is past version %d, left diverged\n", args[0], id, version)
		}
		return nil
	},
}

func init() {
	syncListCmd.Flags().IntVarP(&syncLimit, "limit", "n", 0, "Maximum rows to list (default from the reader)")
	syncMarkCmd.Flags().StringVar(&syncedAt, "at", "", "Time the row reached the replica (RFC3339, default now)")
	syncCmd.AddCommand(syncListCmd, syncMarkCmd)
	rootCmd.AddCommand(syncCmd)
}
