package rebuild

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"time"

	"github.com/mdelorme/roomsched/internal/extract"
	"github.com/mdelorme/roomsched/internal/schedule"
)

// Outcome is the tri-state result of one pipeline invocation.
type Outcome int

const (
	// OutcomeData means the pipeline exited 0 and wrote records.
	OutcomeData Outcome = iota
	// OutcomeEmpty means the pipeline exited 2: success, zero records.
	OutcomeEmpty
	// OutcomeFailure covers every other exit status, plus timeouts.
	OutcomeFailure
)

func (o Outcome) String() string {
	switch o {
	case OutcomeData:
		return "data"
	case OutcomeEmpty:
		return "empty"
	default:
		return "failure"
	}
}

// emptyExitCode is the pipeline's "success, zero records" exit status.
const emptyExitCode = 2

// Executor invokes the external build pipeline as a bounded-time
// subprocess. The pipeline always targets a fixed wide window around
// today, independent of any caller's requested range, so one rebuild
// serves every request until inputs change again.
type Executor struct {
	BuildCmd     string
	ArtifactPath string
	Timeout      time.Duration
	WindowDays   int
	Logger       *slog.Logger
	State        *extract.State // may be nil; receives pipeline output lines
}

// Run executes the pipeline and classifies its exit status. A timed-out
// subprocess is killed and reported as OutcomeFailure together with an
// error. For both success outcomes, a missing artifact file is replaced
// by a synthesized empty one so readers always find well-formed JSON.
func (e *Executor) Run(ctx context.Context) (Outcome, error) {
	today := time.Now()
	from := today.AddDate(0, 0, -e.WindowDays).Format("2006-01-02")
	to := today.AddDate(0, 0, e.WindowDays).Format("2006-01-02")

	ctx, cancel := context.WithTimeout(ctx, e.Timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, e.BuildCmd, "--from", from, "--to", to)
	var output bytes.Buffer
	cmd.Stdout = &output
	cmd.Stderr = &output

	e.Logger.Info("running build pipeline", "cmd", e.BuildCmd, "from", from, "to", to)
	start := time.Now()
	err := cmd.Run()
	elapsed := time.Since(start)

	e.captureOutput(&output)

	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			e.Logger.Error("build pipeline timed out", "timeout", e.Timeout)
			return OutcomeFailure, fmt.Errorf("build pipeline timed out after %s", e.Timeout)
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && exitErr.ExitCode() == emptyExitCode {
			e.Logger.Info("build pipeline produced no records", "elapsed", elapsed)
			if synthErr := e.ensureArtifactFile(); synthErr != nil {
				return OutcomeFailure, synthErr
			}
			return OutcomeEmpty, nil
		}
		e.Logger.Error("build pipeline failed", "error", err, "elapsed", elapsed)
		return OutcomeFailure, fmt.Errorf("build pipeline: %w", err)
	}

	e.Logger.Info("build pipeline succeeded", "elapsed", elapsed)
	if synthErr := e.ensureArtifactFile(); synthErr != nil {
		return OutcomeFailure, synthErr
	}
	return OutcomeData, nil
}

// ensureArtifactFile synthesizes a minimal empty artifact when the
// pipeline reported success but short-circuited its file writes.
func (e *Executor) ensureArtifactFile() error {
	if _, err := os.Stat(e.ArtifactPath); err == nil {
		return nil
	}
	e.Logger.Warn("pipeline succeeded but wrote no artifact, synthesizing empty one", "path", e.ArtifactPath)
	if err := schedule.WriteEmpty(e.ArtifactPath); err != nil {
		return fmt.Errorf("synthesize empty artifact: %w", err)
	}
	return nil
}

// captureOutput surfaces pipeline stdout/stderr through the extraction log.
func (e *Executor) captureOutput(output *bytes.Buffer) {
	if e.State == nil || output.Len() == 0 {
		return
	}
	sc := bufio.NewScanner(output)
	for sc.Scan() {
		if line := sc.Text(); line != "" {
			e.State.Logf("build: %s", line)
		}
	}
}
