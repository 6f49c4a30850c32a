package main

import (
	"fmt"

	"warehouse-ledger/internal/store"

	"github.com/spf13/cobra"
)

var migrateCmd = &cobra.Command{
	Use:       "migrate up|down",
	Short:     "Apply or roll back the schema migrations",
	Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
	ValidArgs: []string{"up", "down"},
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openStore()
		if err != nil {
			return err
		}
		defer s.Close()

		pg, ok := s.(*store.PGStore)
		if !ok {
			return fmt.Errorf("migrations need the postgres store driver")
		}
		if err := pg.Migrate(args[0] == "up"); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Migrations %s applied\n", args[0])
		return nil
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}
