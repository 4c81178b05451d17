package cli

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/mdelorme/roomsched/internal/client"
)

var extractServer string

var extractCmd = &cobra.Command{
	Use:   "extract",
	Short: "Trigger a manual extraction pass on a running server",
	Long: `Ask a running roomsched server to start an ingestion and rebuild pass
now, instead of waiting for the next scheduled one. Fails when a pass is
already in flight.`,
	RunE: runExtract,
}

func init() {
	extractCmd.Flags().StringVar(&extractServer, "server", "", "server base URL (default $ROOMSCHED_SERVER_URL)")
	rootCmd.AddCommand(extractCmd)
}

func runExtract(cmd *cobra.Command, args []string) error {
	c := client.New(extractServer)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := c.TriggerExtract(ctx); err != nil {
		return err
	}

	if term.IsTerminal(int(os.Stdout.Fd())) {
		return runStatusWatch(c)
	}
	fmt.Println("Extraction started")
	return nil
}
