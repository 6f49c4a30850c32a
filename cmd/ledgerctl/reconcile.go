package main

import (
	"encoding/json"
	"fmt"

	"warehouse-ledger/internal/reconcile"

	"github.com/spf13/cobra"
)

var reconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Re-derive cached totals from the ledgers and report drift",
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openStore()
		if err != nil {
			return err
		}
		defer s.Close()

		report, err := reconcile.NewReconciler(s).Run(cmd.Context())
		if err != nil {
			return err
		}

		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		if err := enc.Encode(report); err != nil {
			return err
		}
		if !report.Clean() {
			return fmt.Errorf("%d discrepancies found", len(report.Discrepancies))
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(reconcileCmd)
}
