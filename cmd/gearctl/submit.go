package main

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/wdatlassian/twisted-gears/internal/gearman"
	"github.com/wdatlassian/twisted-gears/internal/protocol"
	"github.com/wdatlassian/twisted-gears/internal/ui"
)

// Submit flags
var (
	submitUnique     string
	submitPriority   string
	submitBackground bool
	submitProgress   bool
	submitExceptions bool
)

func init() {
	rootCmd.AddCommand(submitCmd)

	submitCmd.Flags().StringVarP(&submitUnique, "unique", "u", "", "Unique ID used by the server to coalesce jobs")
	submitCmd.Flags().StringVarP(&submitPriority, "priority", "p", "normal", "Job priority (low, normal, high)")
	submitCmd.Flags().BoolVarP(&submitBackground, "background", "b", false, "Submit a background job and print its handle")
	submitCmd.Flags().BoolVar(&submitProgress, "progress", true, "Show a progress bar when attached to a terminal")
	submitCmd.Flags().BoolVar(&submitExceptions, "exceptions", true, "Ask the server to forward WORK_EXCEPTION")
}

var submitCmd = &cobra.Command{
	Use:   "submit FUNCTION [DATA]",
	Short: "Submit a job",
	Long: `Submit a job to the function FUNCTION with DATA as its workload.
Use "-" as DATA to read the workload from stdin.

Foreground jobs are followed until they finish: WORK_STATUS drives a
progress bar, WORK_DATA and WORK_WARNING are reported as they arrive and
the WORK_COMPLETE payload is written to stdout. Background jobs return
their handle immediately; query them later with 'gearctl status'.`,
	Example: `  # Run a job and print the result
  gearctl submit reverse "hello world"

  # High priority job fed from a file
  gearctl submit -p high resize - < image.png > thumb.png

  # Fire and forget
  gearctl submit --background reindex catalog`,
	Args: cobra.RangeArgs(1, 2),
	RunE: runSubmit,
}

func runSubmit(cmd *cobra.Command, args []string) error {
	function := args[0]
	priority, err := gearman.ParsePriority(submitPriority)
	if err != nil {
		return err
	}

	var data []byte
	if len(args) == 2 {
		data, err = buildPayload(args[1:], cmd.InOrStdin())
		if err != nil {
			return err
		}
	}

	ctx, cancel := signalContext()
	defer cancel()

	key := submitUnique
	if key == "" {
		key = function
	}
	c, _, err := dial(ctx, key)
	if err != nil {
		return err
	}
	defer c.Close()

	gc := gearman.NewClient(c)
	defer gc.Close()

	// Closing the connection fails the job, which ends followJob.
	go func() {
		<-ctx.Done()
		_ = c.Close()
	}()

	if submitBackground {
		handle, err := gc.SubmitBackground(ctx, function, submitUnique, data, priority)
		if err != nil {
			return fmt.Errorf("submit failed: %s", describeError(err))
		}
		fmt.Fprintln(cmd.OutOrStdout(), handle)
		return nil
	}

	if submitExceptions {
		if err := gc.EnableExceptions(ctx); err != nil {
			return fmt.Errorf("failed to enable exceptions: %s", describeError(err))
		}
	}

	start := time.Now()
	job, err := gc.Submit(ctx, function, submitUnique, data, priority)
	if err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("interrupted while submitting: %s", describeError(err))
		}
		return fmt.Errorf("submit failed: %s", describeError(err))
	}

	if submitProgress && ui.IsTerminal() {
		finished, err := ui.RunJobProgress(job, function)
		if err != nil {
			return err
		}
		if !finished {
			return fmt.Errorf("stopped following job %s; it keeps running on the server", job.Handle)
		}
	} else {
		followJob(cmd.ErrOrStderr(), job)
	}

	result, err := job.Wait(ctx)
	if ctx.Err() != nil {
		return fmt.Errorf("interrupted; job %s keeps running on the server", job.Handle)
	}
	if err != nil {
		return fmt.Errorf("%s failed after %s: %s", function, ui.Elapsed(time.Since(start)), describeError(err))
	}
	_, err = cmd.OutOrStdout().Write(result)
	return err
}

// followJob prints intermediate job notifications as plain lines until the
// job finishes
func followJob(w io.Writer, job *gearman.Job) {
	for u := range job.Updates() {
		switch u.Command {
		case protocol.WorkStatus:
			fmt.Fprintf(w, "%s: %d/%d\n", job.Handle, u.Numerator, u.Denominator)
		case protocol.WorkData:
			fmt.Fprintf(w, "%s: data %s\n", job.Handle, ui.FormatPayload(u.Data))
		case protocol.WorkWarning:
			fmt.Fprintf(w, "%s: warning %s\n", job.Handle, ui.FormatPayload(u.Data))
		}
	}
}
