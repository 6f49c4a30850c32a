package main

import (
	"fmt"
	"os"

	"warehouse-ledger/config"
	"warehouse-ledger/internal/store"
	"warehouse-ledger/internal/util"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:           "ledgerctl",
	Short:         "Operator commands for the warehouse ledger",
	SilenceUsage:  true,
	SilenceErrors: true,
}

// openStore connects the configured store for a single command
func openStore() (store.Store, error) {
	cfg := config.Load()
	if err := util.InitLogger(cfg.Server.Env, cfg.Server.LogLevel); err != nil {
		return nil, err
	}
	return store.Open(cfg.Database.Driver, cfg.Database.URL)
}

func main() {
	err := rootCmd.Execute()
	util.SyncLogger()
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
