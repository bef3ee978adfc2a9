package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/compsearch/internal/engine"
)

// ExpandOutput is the result of the expand command.
type ExpandOutput struct {
	RunID       string  `json:"run_id"`
	MaxSize     int     `json:"max_size"`
	Seeded      bool    `json:"seeded"`
	Iterations  int64   `json:"iterations"`
	Expanded    int64   `json:"expanded"`
	Children    int64   `json:"children"`
	Inserted    int64   `json:"inserted"`
	Batches     int64   `json:"batches"`
	Retries     int64   `json:"retries"`
	ElapsedSecs float64 `json:"elapsed_seconds"`
}

// NewExpandCommand creates the expand command.
func NewExpandCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "expand",
		Short: "Enumerate compositions up to the maximum size",
		Long: `Seed the store with one singleton per catalog entity if it is empty, then
expand pending compositions until none remain below the maximum size.

Every batch is applied atomically, so an interrupted run loses no work:
running expand again resumes from the pending compositions. Raising
--max-size on a finished store continues from the previous frontier.

Example:
  compsearch expand --db ./comps.db --max-size 5
  compsearch expand --backend postgres --dsn postgres://localhost/comps --writers 4`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runExpand(cmd.Context(), rootOpts, cmd)
		},
	}

	f := cmd.Flags()
	f.Int("max-size", 0, "largest composition to enumerate")
	f.Int("page-size", 0, "pending compositions fetched per iteration")
	f.Int("batch-size", 0, "expansions per atomic batch")
	f.Int("workers", 0, "goroutines expanding a page")
	f.Int("writers", 0, "goroutines applying batches")
	bindFlags(rootOpts.Viper, f, map[string]string{
		"expand.max_size":   "max-size",
		"expand.page_size":  "page-size",
		"expand.batch_size": "batch-size",
		"expand.workers":    "workers",
		"expand.writers":    "writers",
	})

	return cmd
}

func runExpand(ctx context.Context, opts *RootOptions, cmd *cobra.Command) error {
	if ctx == nil {
		ctx = context.Background()
	}

	a, err := openApp(ctx, opts, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			a.logger.Error("error closing resources", "error", err)
		}
	}()

	eopts := engine.Options{
		MaxSize:   a.cfg.Expand.MaxSize,
		PageSize:  a.cfg.Expand.PageSize,
		BatchSize: a.cfg.Expand.BatchSize,
		Workers:   a.cfg.Expand.Workers,
		Writers:   a.cfg.Expand.Writers,
		Retry:     a.retryPolicy(),
	}

	runIDs := opts.RunIDs
	if runIDs == nil {
		runIDs = engine.UUIDv7Generator{}
	}
	eng, err := engine.New(a.store, a.cat, eopts,
		engine.WithLogger(a.logger),
		engine.WithMetrics(a.metrics),
		engine.WithReporter(a.reporter),
		engine.WithRunIDGenerator(runIDs),
		engine.WithTracerProvider(a.tracing),
	)
	if err != nil {
		return wrapRunError("invalid expand options", err)
	}

	res, err := eng.Run(ctx)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			a.logger.Info("expand interrupted; run again to resume",
				"run", res.RunID,
				"expanded", res.Totals.Expanded,
			)
		}
		return wrapRunError("expand failed", err)
	}

	out := ExpandOutput{
		RunID:       res.RunID,
		MaxSize:     eopts.MaxSize,
		Seeded:      res.Seeded,
		Iterations:  res.Totals.Iterations,
		Expanded:    res.Totals.Expanded,
		Children:    res.Totals.Children,
		Inserted:    res.Totals.Inserted,
		Batches:     res.Totals.Batches,
		Retries:     res.Totals.Retries,
		ElapsedSecs: res.Elapsed.Seconds(),
	}
	return opts.formatter(cmd).Success(out, func(w io.Writer) {
		if out.Seeded {
			fmt.Fprintln(w, "Seeded empty store.")
		}
		fmt.Fprintf(w, "Expanded %d compositions in %d iterations (max size %d).\n",
			out.Expanded, out.Iterations, out.MaxSize)
		fmt.Fprintf(w, "Children produced: %d, new: %d, batches: %d, retries: %d\n",
			out.Children, out.Inserted, out.Batches, out.Retries)
		fmt.Fprintf(w, "Elapsed: %s\n", res.Elapsed.Round(time.Millisecond))
	})
}
