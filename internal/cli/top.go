package cli

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
)

// TopOutput lists the best scored compositions of one size.
type TopOutput struct {
	Size         int          `json:"size"`
	Compositions []CompOutput `json:"compositions"`
}

// CompOutput describes one stored composition.
type CompOutput struct {
	Key      string   `json:"key"`
	Members  []string `json:"members"`
	Cost     int      `json:"cost"`
	Score    *float64 `json:"score,omitempty"`
	Expanded *bool    `json:"expanded,omitempty"`
}

// NewTopCommand creates the top command.
func NewTopCommand(rootOpts *RootOptions) *cobra.Command {
	var size, limit int

	cmd := &cobra.Command{
		Use:   "top",
		Short: "List the best scored compositions of a size",
		Long: `List the highest scoring compositions of one size, best first.
Ties are broken by canonical key.

Example:
  compsearch top --db ./comps.db --size 4 --limit 20`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if size < 1 {
				return NewExitError(ExitCommandError, "--size must be at least 1")
			}
			if limit < 1 {
				return NewExitError(ExitCommandError, "--limit must be at least 1")
			}
			return runTop(cmd.Context(), rootOpts, size, limit, cmd)
		},
	}

	cmd.Flags().IntVar(&size, "size", 0, "composition size (required)")
	cmd.Flags().IntVar(&limit, "limit", 10, "number of compositions")
	_ = cmd.MarkFlagRequired("size")

	return cmd
}

func runTop(ctx context.Context, opts *RootOptions, size, limit int, cmd *cobra.Command) error {
	if ctx == nil {
		ctx = context.Background()
	}
	a, err := openReader(ctx, opts, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer a.Close()

	best, err := a.store.TopScored(ctx, size, limit)
	if err != nil {
		return WrapExitError(ExitFailure, "failed to read scores", err)
	}

	out := TopOutput{Size: size, Compositions: make([]CompOutput, len(best))}
	for i, b := range best {
		c := a.describe(b.Composition.Members())
		c.Score = &b.Score
		out.Compositions[i] = c
	}

	return opts.formatter(cmd).Success(out, func(w io.Writer) {
		if len(out.Compositions) == 0 {
			fmt.Fprintf(w, "No scored compositions of size %d.\n", size)
			return
		}
		for i, c := range out.Compositions {
			fmt.Fprintf(w, "%3d. %-6s %s (cost %d)\n",
				i+1, strconv.FormatFloat(*c.Score, 'g', -1, 64), strings.Join(c.Members, ", "), c.Cost)
		}
	})
}
