package cli

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

// StatsOutput is the result of the stats command.
type StatsOutput struct {
	Fingerprint string          `json:"catalog_fingerprint"`
	Total       int64           `json:"total"`
	Pending     int64           `json:"pending"`
	Scored      int64           `json:"scored"`
	Sizes       []SizeOutput    `json:"sizes"`
	Histograms  []HistogramSize `json:"histograms,omitempty"`
}

// SizeOutput counts compositions of one size.
type SizeOutput struct {
	Size    int   `json:"size"`
	Total   int64 `json:"total"`
	Pending int64 `json:"pending"`
	Scored  int64 `json:"scored"`
}

// HistogramSize is the score distribution of one size.
type HistogramSize struct {
	Size    int            `json:"size"`
	Buckets []BucketOutput `json:"buckets"`
}

// BucketOutput is one score with the number of compositions reaching it.
type BucketOutput struct {
	Score float64 `json:"score"`
	Count int64   `json:"count"`
}

// NewStatsCommand creates the stats command.
func NewStatsCommand(rootOpts *RootOptions) *cobra.Command {
	var histogram bool

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show composition counts per size",
		Long: `Show how many compositions of each size are stored, how many are still
pending expansion and how many are scored. With --histogram, also show
how many compositions of each size reached each score.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStats(cmd.Context(), rootOpts, histogram, cmd)
		},
	}
	cmd.Flags().BoolVar(&histogram, "histogram", false, "include the score histogram per size")

	return cmd
}

func runStats(ctx context.Context, opts *RootOptions, histogram bool, cmd *cobra.Command) error {
	if ctx == nil {
		ctx = context.Background()
	}
	a, err := openReader(ctx, opts, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer a.Close()

	st, err := a.store.Stats(ctx)
	if err != nil {
		return WrapExitError(ExitFailure, "failed to read stats", err)
	}

	out := StatsOutput{
		Fingerprint: st.Fingerprint,
		Total:       st.Total,
		Pending:     st.Pending,
		Scored:      st.Scored,
		Sizes:       make([]SizeOutput, len(st.Sizes)),
	}
	for i, sz := range st.Sizes {
		out.Sizes[i] = SizeOutput{Size: sz.Size, Total: sz.Total, Pending: sz.Pending, Scored: sz.Scored}
		if histogram && sz.Scored > 0 {
			buckets, err := a.store.ScoreHistogram(ctx, sz.Size)
			if err != nil {
				return WrapExitError(ExitFailure, "failed to read score histogram", err)
			}
			h := HistogramSize{Size: sz.Size, Buckets: make([]BucketOutput, len(buckets))}
			for j, b := range buckets {
				h.Buckets[j] = BucketOutput{Score: b.Score, Count: b.Count}
			}
			out.Histograms = append(out.Histograms, h)
		}
	}

	return opts.formatter(cmd).Success(out, func(w io.Writer) {
		tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "SIZE\tTOTAL\tPENDING\tSCORED")
		for _, sz := range out.Sizes {
			fmt.Fprintf(tw, "%d\t%d\t%d\t%d\n", sz.Size, sz.Total, sz.Pending, sz.Scored)
		}
		fmt.Fprintf(tw, "all\t%d\t%d\t%d\n", out.Total, out.Pending, out.Scored)
		tw.Flush()

		for _, h := range out.Histograms {
			fmt.Fprintf(w, "\nScores for size %d:\n", h.Size)
			for _, b := range h.Buckets {
				fmt.Fprintf(w, "  %8s  %d\n", strconv.FormatFloat(b.Score, 'g', -1, 64), b.Count)
			}
		}
	})
}
