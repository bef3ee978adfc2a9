package cli

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/compsearch/internal/score"
)

// ScoreOutput is the result of the score command.
type ScoreOutput struct {
	Pages       int     `json:"pages"`
	Scored      int     `json:"scored"`
	ElapsedSecs float64 `json:"elapsed_seconds"`
}

// NewScoreCommand creates the score command.
func NewScoreCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "score",
		Short: "Score every unscored composition",
		Long: `Compute the trait score of every stored composition that has none yet.

A trait contributes one point per threshold its member count reaches, in
ascending order, stopping at the first threshold missed. Per-trait
weights replace the one point per threshold. They are read from the
--weights file, then from scoring.weights in the config file, which wins
for any trait named in both.

Example:
  compsearch score --db ./comps.db
  compsearch score --db ./comps.db --weights ./weights.yaml`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScore(cmd.Context(), rootOpts, cmd)
		},
	}

	f := cmd.Flags()
	f.String("weights", "", "YAML weights file (weights: {trait: [w0, w1, ...]})")
	f.Int("page-size", 0, "compositions scored per page")
	f.Int("workers", 0, "goroutines scoring a page")
	bindFlags(rootOpts.Viper, f, map[string]string{
		"scoring.weights_file": "weights",
		"scoring.page_size":    "page-size",
		"scoring.workers":      "workers",
	})

	return cmd
}

func runScore(ctx context.Context, opts *RootOptions, cmd *cobra.Command) error {
	if ctx == nil {
		ctx = context.Background()
	}

	a, err := loadApp(opts, cmd.ErrOrStderr())
	if err != nil {
		return err
	}

	// Weights are checked against the catalog before anything is opened.
	scorer, err := a.scorer()
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid weights", err)
	}

	if err := a.open(ctx, cmd.ErrOrStderr()); err != nil {
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			a.logger.Error("error closing resources", "error", err)
		}
	}()

	res, err := score.NewRunner(a.store, scorer,
		score.WithPageSize(a.cfg.Scoring.PageSize),
		score.WithWorkers(a.cfg.Scoring.Workers),
		score.WithRetryPolicy(a.retryPolicy()),
		score.WithLogger(a.logger),
		score.WithMetrics(a.metrics),
		score.WithReporter(a.reporter),
	).Run(ctx)
	if err != nil {
		return wrapRunError("score failed", err)
	}

	out := ScoreOutput{Pages: res.Pages, Scored: res.Scored, ElapsedSecs: res.Elapsed.Seconds()}
	return opts.formatter(cmd).Success(out, func(w io.Writer) {
		fmt.Fprintf(w, "Scored %d compositions in %d pages (%s).\n",
			out.Scored, out.Pages, res.Elapsed.Round(time.Millisecond))
	})
}

// scorer builds the scorer from the weights file merged under the
// weights given in the configuration.
func (a *app) scorer() (*score.Scorer, error) {
	var fromFile map[string][]float64
	if path := a.cfg.Scoring.WeightsFile; path != "" {
		var err error
		if fromFile, err = score.LoadWeightsFile(path); err != nil {
			return nil, err
		}
	}

	w, err := score.ResolveWeights(a.cat, score.Merge(fromFile, a.cfg.Scoring.Weights))
	if err != nil {
		return nil, err
	}
	return score.NewScorer(a.cat, w)
}
