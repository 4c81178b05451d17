package cli

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var fetchCmd = &cobra.Command{
	Use:   "fetch",
	Short: "Run one ingestion pass and rebuild the artifact",
	Long: `Fetch every configured calendar source once, then rebuild the derived
schedule artifact. Intended for cron and troubleshooting; the serve
command runs the same pass periodically in the elected leader process.`,
	RunE: runFetch,
}

func init() {
	rootCmd.AddCommand(fetchCmd)
}

func runFetch(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := buildApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.close()

	if !a.scheduler.RunFetchPass(ctx) {
		return fmt.Errorf("a fetch pass is already running in this process")
	}

	snap := a.state.Snapshot(0)
	fmt.Printf("Fetched %d source(s)\n", snap.ItemsExtracted)
	return nil
}
