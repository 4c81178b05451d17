package cli

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/mdelorme/roomsched/internal/server"
)

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP worker",
	Long: `Run one HTTP worker process. Any number of workers may run against
the same data directory; they coordinate rebuilds and background loops
through advisory file locks.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address (default :$ROOMSCHED_PORT)")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := buildApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.close()

	addr := serveAddr
	if addr == "" {
		addr = ":" + cfg.Port
	}

	srv := &server.Server{
		Coordinator: a.coordinator,
		Cache:       a.cache,
		Scheduler:   a.scheduler,
		State:       a.state,
		Metrics:     a.collector,
		Logger:      logger,
		Addr:        addr,
	}
	return srv.Run(ctx)
}
