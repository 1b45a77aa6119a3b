package main

import (
	"context"
	"fmt"
	"os"
	"slices"
	"sort"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/wdatlassian/twisted-gears/internal/gearman"
	"github.com/wdatlassian/twisted-gears/internal/logging"
)

var (
	workFunctions []string
	workClientID  string
	workStepDelay time.Duration
)

func init() {
	rootCmd.AddCommand(workCmd)

	workCmd.Flags().StringSliceVarP(&workFunctions, "function", "f", nil, "Built-in functions to serve (default: all)")
	workCmd.Flags().StringVar(&workClientID, "id", "", "Worker ID reported to the server (default: gearctl-<host>-<pid>)")
	workCmd.Flags().DurationVar(&workStepDelay, "step-delay", 200*time.Millisecond, "Delay between progress steps of the count function")
}

var workCmd = &cobra.Command{
	Use:   "work",
	Short: "Run a worker serving built-in test functions",
	Long: `Run a worker that serves a few built-in functions, useful for checking
a server end to end together with 'gearctl submit':

  echo     returns the workload unchanged
  reverse  returns the workload reversed
  upper    returns the workload in upper case
  count    counts to N (the workload), sending WORK_STATUS per step
  fail     always fails with an exception

The worker sleeps with PRE_SLEEP between jobs and stops on Ctrl+C.`,
	Example: `  # Serve every built-in function
  gearctl work

  # In another terminal
  gearctl submit count 10`,
	Args: cobra.NoArgs,
	RunE: runWork,
}

func runWork(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	c, _, err := dial(ctx, "")
	if err != nil {
		return err
	}
	defer c.Close()

	w := gearman.NewWorker(c)
	defer w.Close()

	funcs, err := selectFunctions(builtinFunctions(w, workStepDelay), workFunctions)
	if err != nil {
		return err
	}

	id := workClientID
	if id == "" {
		host, _ := os.Hostname()
		id = fmt.Sprintf("gearctl-%s-%d", host, os.Getpid())
	}
	if err := w.SetClientID(id); err != nil {
		return err
	}

	names := make([]string, 0, len(funcs))
	for name := range funcs {
		names = append(names, name)
	}
	sort.Strings(names)
	fmt.Fprintf(cmd.ErrOrStderr(), "Worker %s serving %s on %s\n", id, strings.Join(names, ", "), c.RemoteAddr())

	err = w.Run(ctx, funcs)
	if ctx.Err() != nil {
		return nil
	}
	return err
}

// selectFunctions keeps the named functions, or all when names is empty
func selectFunctions(all map[string]gearman.JobFunc, names []string) (map[string]gearman.JobFunc, error) {
	if len(names) == 0 {
		return all, nil
	}
	out := make(map[string]gearman.JobFunc, len(names))
	for _, n := range names {
		fn, ok := all[n]
		if !ok {
			known := make([]string, 0, len(all))
			for k := range all {
				known = append(known, k)
			}
			sort.Strings(known)
			return nil, fmt.Errorf("unknown function %q (available: %s)", n, strings.Join(known, ", "))
		}
		out[n] = fn
	}
	return out, nil
}

func builtinFunctions(w *gearman.Worker, stepDelay time.Duration) map[string]gearman.JobFunc {
	return map[string]gearman.JobFunc{
		"echo": func(_ context.Context, job *gearman.Assignment) ([]byte, error) {
			return job.Data, nil
		},
		"reverse": func(_ context.Context, job *gearman.Assignment) ([]byte, error) {
			return reverseRunes(job.Data), nil
		},
		"upper": func(_ context.Context, job *gearman.Assignment) ([]byte, error) {
			return []byte(strings.ToUpper(string(job.Data))), nil
		},
		"count": func(ctx context.Context, job *gearman.Assignment) ([]byte, error) {
			n, err := strconv.ParseUint(strings.TrimSpace(string(job.Data)), 10, 32)
			if err != nil {
				return nil, fmt.Errorf("count: workload must be a number: %w", err)
			}
			for i := uint64(1); i <= n; i++ {
				select {
				case <-time.After(stepDelay):
				case <-ctx.Done():
					return nil, ctx.Err()
				}
				if err := w.Status(job.Handle, i, n); err != nil {
					return nil, err
				}
			}
			logging.Debug("Count finished", zap.String("handle", job.Handle), zap.Uint64("n", n))
			return []byte(strconv.FormatUint(n, 10)), nil
		},
		"fail": func(_ context.Context, job *gearman.Assignment) ([]byte, error) {
			return nil, fmt.Errorf("fail: requested failure for %s", job.Handle)
		},
	}
}

// reverseRunes reverses valid UTF-8 by rune and anything else by byte
func reverseRunes(b []byte) []byte {
	if !utf8.Valid(b) {
		out := slices.Clone(b)
		slices.Reverse(out)
		return out
	}
	r := []rune(string(b))
	slices.Reverse(r)
	return []byte(string(r))
}
