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

var (
	statusWatch    bool
	statusLogLines int
	statusServer   string
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the extraction status of a running server",
	Long: `Poll a running roomsched server for its extraction state and recent
log lines.

Examples:
  roomsched status
  roomsched status --watch
  roomsched status --lines 50`,
	RunE: runStatus,
}

func init() {
	statusCmd.Flags().BoolVarP(&statusWatch, "watch", "w", false, "live view, polling until the pass finishes")
	statusCmd.Flags().IntVar(&statusLogLines, "lines", 20, "log lines to show")
	statusCmd.Flags().StringVar(&statusServer, "server", "", "server base URL (default $ROOMSCHED_SERVER_URL)")
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	c := client.New(statusServer)

	if statusWatch && term.IsTerminal(int(os.Stdout.Fd())) {
		return runStatusWatch(c)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	status, err := c.Status(ctx, statusLogLines)
	if err != nil {
		return fmt.Errorf("fetch status: %w", err)
	}

	printStatus(status)

	diag, err := c.Diagnostics(ctx)
	if err != nil {
		return fmt.Errorf("fetch diagnostics: %w", err)
	}
	printDiagnostics(diag)
	return nil
}

func printStatus(s *client.Status) {
	if s.Running {
		fmt.Printf("Extraction: running (run %s, started %s)\n", s.RunID, s.StartedAt.Format("15:04:05"))
		if s.CurrentItem != "" {
			fmt.Printf("  Current:  %s\n", s.CurrentItem)
		}
		if s.ProgressMessage != "" {
			fmt.Printf("  Progress: %s\n", s.ProgressMessage)
		}
	} else {
		fmt.Println("Extraction: idle")
	}
	fmt.Printf("  Items extracted: %d\n", s.ItemsExtracted)

	if len(s.Log) > 0 {
		fmt.Printf("\nRecent log (%d lines):\n", len(s.Log))
		for _, line := range s.Log {
			fmt.Printf("  %s\n", line)
		}
	}
}

func printDiagnostics(d *client.Diagnostics) {
	fmt.Println("\nArtifact:")
	if d.ArtifactExists {
		fmt.Printf("  Present:  yes (%d bytes, mtime %s)\n", d.ArtifactBytes, d.ArtifactMtime.Format(time.RFC3339))
	} else {
		fmt.Println("  Present:  no")
	}
	fmt.Printf("  Inputs:   %d files, newest %s\n", d.InputFileCount, d.InputMaxMtime.Format(time.RFC3339))
	fmt.Printf("  Rebuild needed: %v\n", d.RebuildRequired)
	if d.LastWasEmpty {
		fmt.Println("  Last build was empty")
	}
	fmt.Printf("  This worker owns background loops: %v\n", d.OwnsBackground)
}
