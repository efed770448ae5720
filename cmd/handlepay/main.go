package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ManuelReschke/HandlePay/internal/pkg/config"
	"github.com/ManuelReschke/HandlePay/internal/pkg/env"
)

var Version = "dev"

func main() {
	rootCmd := &cobra.Command{
		Use:     "handlepay",
		Short:   "HandlePay - stablecoin payments to email and phone handles",
		Version: Version,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			env.SetupEnvFile()
		},
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(syncCmd())
	rootCmd.AddCommand(dispatchCmd())
	rootCmd.AddCommand(migrateCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	return cfg, nil
}
