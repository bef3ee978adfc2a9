package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/compsearch/internal/progress"
)

// NewWatchCommand creates the watch command.
func NewWatchCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Follow progress events published by another process",
		Long: `Subscribe to the Redis channel that expand and score publish progress
events on (progress.redis_addr, progress.channel) and print each event
until interrupted, or until a run reports completion with --exit-on-done.`,
		Args: cobra.NoArgs,
	}

	var exitOnDone bool
	cmd.Flags().String("redis", "", "Redis address")
	cmd.Flags().BoolVar(&exitOnDone, "exit-on-done", false, "exit after the first completed run")
	bindFlags(rootOpts.Viper, cmd.Flags(), map[string]string{"progress.redis_addr": "redis"})

	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}
		a, err := loadApp(rootOpts, cmd.ErrOrStderr())
		if err != nil {
			return err
		}
		if a.cfg.Progress.RedisAddr == "" {
			return NewExitError(ExitCommandError, "watch needs --redis or progress.redis_addr")
		}

		rr, err := progress.NewRedisReporter(ctx, a.cfg.Progress.RedisAddr, a.cfg.Progress.Channel, a.logger)
		if err != nil {
			return WrapExitError(ExitFailure, "failed to connect", err)
		}
		defer rr.Close()

		ctx, cancel := context.WithCancel(ctx)
		defer cancel()

		w := cmd.OutOrStdout()
		enc := json.NewEncoder(w)
		err = rr.Subscribe(ctx, func(ev progress.Event) {
			if rootOpts.Format == "json" {
				_ = enc.Encode(ev)
			} else {
				fmt.Fprintf(w, "%s %-6s %-8s run=%s iter=%d fetched=%d inserted=%d rate=%.0f/s\n",
					ev.At.Format(time.TimeOnly), ev.Phase, ev.State, ev.Run,
					ev.Iteration, ev.Fetched, ev.Inserted, ev.Rate)
			}
			if exitOnDone && ev.Done {
				cancel()
			}
		})
		if err != nil {
			return WrapExitError(ExitFailure, "failed to subscribe", err)
		}

		<-ctx.Done()
		return nil
	}

	return cmd
}
