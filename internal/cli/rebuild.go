package cli

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
)

var rebuildCmd = &cobra.Command{
	Use:   "rebuild",
	Short: "Ensure the schedule artifact is current",
	Long: `Check the input fingerprint and rebuild the derived artifact if
needed, exactly as a worker would on a request. Prints what happened.`,
	RunE: runRebuild,
}

func init() {
	rootCmd.AddCommand(rebuildCmd)
}

func runRebuild(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := buildApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.close()

	before, err := a.coordinator.Diagnose()
	if err != nil {
		return err
	}
	if !before.RebuildRequired {
		fmt.Println("Artifact is current, nothing to do")
		return nil
	}

	path, err := a.coordinator.EnsureArtifact(ctx)
	if err != nil {
		return fmt.Errorf("rebuild: %w", err)
	}

	after, err := a.coordinator.Diagnose()
	if err != nil {
		return err
	}

	fmt.Printf("Artifact: %s\n", path)
	if after.ArtifactExists {
		fmt.Printf("  Size:   %d bytes\n", after.ArtifactBytes)
		fmt.Printf("  Mtime:  %s\n", after.ArtifactMtime.Format(time.RFC3339))
	}
	if after.LastWasEmpty {
		fmt.Println("  Result: empty (no records yet)")
	}
	return nil
}
