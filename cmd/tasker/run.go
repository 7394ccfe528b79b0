package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/seantiz/tasker/internal/await"
	"github.com/seantiz/tasker/internal/config"
	"github.com/seantiz/tasker/internal/jobs"
	"github.com/seantiz/tasker/internal/middleware"
	"github.com/seantiz/tasker/internal/scheduler"
)

type runOutput struct {
	Kind       string `json:"kind"`
	Value      any    `json:"value,omitempty"`
	Error      string `json:"error,omitempty"`
	DurationMS int64  `json:"duration_ms"`
}

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run <kind>",
		Short: "Run one job on an in-process scheduler and print its result",
		Args:  cobra.ExactArgs(1),
		RunE:  runJob,
	}
	cmd.Flags().String("params", "", "Job parameters as JSON")
	cmd.Flags().Duration("timeout", 0, "Give up waiting after this long (0 waits forever)")
	cmd.Flags().Int("retries", 0, "Retry retryable failures this many times")
	cmd.Flags().Duration("backoff", 100*time.Millisecond, "Pause between retries")
	return cmd
}

func runJob(cmd *cobra.Command, args []string) error {
	params, _ := cmd.Flags().GetString("params")
	timeout, _ := cmd.Flags().GetDuration("timeout")
	retries, _ := cmd.Flags().GetInt("retries")
	backoff, _ := cmd.Flags().GetDuration("backoff")

	job, err := jobs.Builtin().Build(args[0], json.RawMessage(params))
	if err != nil {
		return err
	}

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	logger := config.NewLogger(cmd.ErrOrStderr(), cfg.LogLevel)

	opts := []scheduler.Option{scheduler.WithWorkers(1), scheduler.WithLogger(logger)}
	if retries > 0 {
		retry := middleware.NewRetry(retries, backoff)
		opts = append(opts, scheduler.WithReactors(retry), scheduler.WithObservers(retry))
	}
	sched := scheduler.New(opts...)
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = sched.Shutdown(ctx)
	}()

	start := time.Now()
	v, runErr := await.Run(cmd.Context(), sched, job, timeout)
	out := runOutput{Kind: args[0], Value: v, DurationMS: time.Since(start).Milliseconds()}
	if runErr != nil {
		out.Error = runErr.Error()
	}
	if err := writeJSON(cmd.OutOrStdout(), out); err != nil {
		return err
	}
	if runErr != nil {
		return fmt.Errorf("job %s: %w", args[0], runErr)
	}
	return nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newJobsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "jobs",
		Short: "List the job kinds that can be submitted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "KIND\tDESCRIPTION")
			for _, info := range jobs.Builtin().List() {
				fmt.Fprintf(tw, "%s\t%s\n", info.Kind, info.Description)
			}
			return tw.Flush()
		},
	}
}

