package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ManuelReschke/HandlePay/internal/pkg/bootstrap"
)

func syncCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Run one indexer pass and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runOnce(cmd.Context(), func(ctx context.Context, c *bootstrap.Container) (any, error) {
				return c.Manager.RunIndexerSyncOnce(ctx)
			})
		},
	}
}

func dispatchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "dispatch",
		Short: "Deliver one batch of due notifications and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runOnce(cmd.Context(), func(ctx context.Context, c *bootstrap.Container) (any, error) {
				return c.Manager.RunDispatchOnce(ctx)
			})
		},
	}
}

// runOnce opens the container, runs fn and prints its result as JSON.
func runOnce(ctx context.Context, fn func(context.Context, *bootstrap.Container) (any, error)) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	c, err := bootstrap.Open(ctx, cfg)
	if err != nil {
		return err
	}
	defer c.Close()

	res, err := fn(ctx, c)
	if err != nil {
		return fmt.Errorf("run failed: %w", err)
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(res)
}
