// Command jobctl lists and runs maintenance jobs once, outside the API process.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/fx"

	"github.com/fatflowers/knightly/internal/app"
	"github.com/fatflowers/knightly/internal/app/service/scheduler"
)

func main() {
	root := &cobra.Command{
		Use:          "jobctl",
		Short:        "Inspect and run knightly maintenance jobs",
		SilenceUsage: true,
	}
	root.AddCommand(newListCmd(), newRunCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// withScheduler starts the core graph, hands the scheduler to fn and stops
// the graph again whatever fn returns.
func withScheduler(ctx context.Context, fn func(*scheduler.Scheduler) error) (err error) {
	var s *scheduler.Scheduler
	a := fx.New(app.CoreModule, fx.NopLogger, fx.Populate(&s))
	if err := a.Err(); err != nil {
		return err
	}

	startCtx, cancel := context.WithTimeout(ctx, app.DefaultStartTimeout)
	defer cancel()
	if err := a.Start(startCtx); err != nil {
		return fmt.Errorf("start: %w", err)
	}
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), app.DefaultStopTimeout)
		defer cancel()
		if stopErr := a.Stop(stopCtx); stopErr != nil && err == nil {
			err = fmt.Errorf("stop: %w", stopErr)
		}
	}()
	return fn(s)
}

func newListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List registered jobs and their schedules",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withScheduler(cmd.Context(), func(s *scheduler.Scheduler) error {
				w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(w, "NAME\tSCHEDULE\tENABLED\tDESCRIPTION")
				for _, st := range s.Jobs() {
					fmt.Fprintf(w, "%s\t%s\t%t\t%s\n", st.Name, st.Spec, !st.Disabled, st.Description)
				}
				return w.Flush()
			})
		},
	}
}

func newRunCmd() *cobra.Command {
	var timeout time.Duration
	cmd := &cobra.Command{
		Use:   "run <job>",
		Short: "Run one job now and print its status",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if timeout > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, timeout)
				defer cancel()
			}
			return withScheduler(ctx, func(s *scheduler.Scheduler) error {
				runErr := s.RunJob(ctx, args[0])
				if st, err := s.Status(args[0]); err == nil {
					enc := json.NewEncoder(cmd.OutOrStdout())
					enc.SetIndent("", "  ")
					if err := enc.Encode(st); err != nil {
						return err
					}
				}
				return runErr
			})
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "abort the run after this long (0 uses the configured job timeout)")
	return cmd
}
