package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/spf13/cobra"

	"github.com/ManuelReschke/HandlePay/app/controllers"
	"github.com/ManuelReschke/HandlePay/internal/pkg/bootstrap"
	"github.com/ManuelReschke/HandlePay/internal/pkg/metrics"
	"github.com/ManuelReschke/HandlePay/internal/pkg/router"
)

func serveCmd() *cobra.Command {
	var noWorkers bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API and the background workers",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			c, err := bootstrap.Open(ctx, cfg)
			if err != nil {
				return err
			}
			defer c.Close()

			app := NewApplication(c)
			if !noWorkers {
				c.Manager.Start()
			}

			errCh := make(chan error, 1)
			go func() {
				errCh <- app.Listen(fmt.Sprintf("%s:%s", cfg.App.Host, cfg.App.Port))
			}()

			select {
			case err := <-errCh:
				return err
			case <-ctx.Done():
				log.Info("Shutting down...")
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				return app.ShutdownWithContext(shutdownCtx)
			}
		},
	}

	cmd.Flags().BoolVar(&noWorkers, "no-workers", false, "do not start the indexer and notification workers")
	return cmd
}

// NewApplication builds the fiber app with middlewares and routes installed.
func NewApplication(c *bootstrap.Container) *fiber.App {
	app := fiber.New(fiber.Config{
		AppName:      "HandlePay",
		ErrorHandler: controllers.ErrorHandler,
		// confirm may wait up to the receipt timeout before it writes
		WriteTimeout: c.Config.Chain.ReceiptTimeout + c.Config.Chain.RPCTimeout,
	})

	// recovery and logging
	app.Use(recover.New(), logger.New(), metrics.Middleware())

	// ROUTER
	router.InstallRouter(app, c)

	return app
}
