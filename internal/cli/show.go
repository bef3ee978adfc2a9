package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/compsearch/internal/catalog"
	"github.com/roach88/compsearch/internal/comp"
	"github.com/roach88/compsearch/internal/store"
)

// ShowOutput describes one composition looked up by its members.
type ShowOutput struct {
	CompOutput
	Stored bool          `json:"stored"`
	Traits []TraitOutput `json:"traits"`
}

// TraitOutput is one trait carried by a composition.
type TraitOutput struct {
	Name       string `json:"name"`
	Count      int    `json:"count"`
	Thresholds []int  `json:"thresholds"`
	Reached    int    `json:"reached"`
}

// NewShowCommand creates the show command.
func NewShowCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <member>[,<member>...]",
		Short: "Look up one composition",
		Long: `Look up a composition by its members, given as entity names or ids,
separated by commas or given as separate arguments, in any order. Quote
names that contain spaces.

Prints whether the composition is stored, its traits with the
thresholds reached, and its score once scored.

Example:
  compsearch show --db ./comps.db Ash,Fir,Gale
  compsearch show --db ./comps.db 0 5 6
  compsearch show --db ./comps.db "Lee Sin" Ahri`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runShow(cmd.Context(), rootOpts, args, cmd)
		},
	}
	return cmd
}

func runShow(ctx context.Context, opts *RootOptions, args []string, cmd *cobra.Command) error {
	if ctx == nil {
		ctx = context.Background()
	}
	a, err := openReader(ctx, opts, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer a.Close()

	c, err := parseMembers(a.cat, args)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid composition", err)
	}

	out := ShowOutput{CompOutput: a.describe(c.Members())}
	counts := a.cat.TraitCounts(c.Members())
	for _, id := range catalog.SortedTraitIDs(counts) {
		t, _ := a.cat.Trait(id)
		reached := 0
		for _, th := range t.Thresholds {
			if counts[id] < th {
				break
			}
			reached++
		}
		out.Traits = append(out.Traits, TraitOutput{
			Name:       t.Name,
			Count:      counts[id],
			Thresholds: t.Thresholds,
			Reached:    reached,
		})
	}

	rec, err := a.store.Get(ctx, c.Key())
	switch {
	case errors.Is(err, store.ErrNotFound):
	case err != nil:
		return WrapExitError(ExitFailure, "failed to read composition", err)
	default:
		out.Stored = true
		out.Expanded = &rec.Expanded
		if rec.Scored {
			out.Score = &rec.Score
		}
	}

	return opts.formatter(cmd).Success(out, func(w io.Writer) {
		fmt.Fprintf(w, "Composition {%s} (key %s, cost %d)\n", strings.Join(out.Members, ", "), out.Key, out.Cost)
		if !out.Stored {
			fmt.Fprintln(w, "Not stored: unreachable or beyond the expanded size.")
		} else {
			state := "pending"
			if *out.Expanded {
				state = "expanded"
			}
			score := "unscored"
			if out.Score != nil {
				score = strconv.FormatFloat(*out.Score, 'g', -1, 64)
			}
			fmt.Fprintf(w, "Stored: %s, score: %s\n", state, score)
		}
		for _, t := range out.Traits {
			fmt.Fprintf(w, "  %-16s %d  reached %d of %v\n", t.Name, t.Count, t.Reached, t.Thresholds)
		}
	})
}

// parseMembers resolves names or ids, separated by commas or given as
// separate arguments, into a composition. Names take precedence over ids.
func parseMembers(cat *catalog.Catalog, args []string) (comp.Composition, error) {
	var tokens []string
	for _, arg := range args {
		for _, tok := range strings.Split(arg, ",") {
			if tok = strings.TrimSpace(tok); tok != "" {
				tokens = append(tokens, tok)
			}
		}
	}
	if len(tokens) == 0 {
		return comp.Composition{}, errors.New("no members given")
	}

	ids := make([]catalog.EntityID, 0, len(tokens))
	for _, tok := range tokens {
		if id, ok := cat.EntityByName(tok); ok {
			ids = append(ids, id)
			continue
		}
		n, err := strconv.Atoi(tok)
		if err != nil {
			return comp.Composition{}, fmt.Errorf("unknown entity %q", tok)
		}
		if _, ok := cat.Entity(catalog.EntityID(n)); !ok {
			return comp.Composition{}, fmt.Errorf("entity id %d out of range", n)
		}
		ids = append(ids, catalog.EntityID(n))
	}
	return comp.New(ids...)
}

// describe renders members with their names and total cost.
func (a *app) describe(members []catalog.EntityID) CompOutput {
	out := CompOutput{
		Key:     string(comp.KeyOf(members)),
		Members: a.cat.Names(members),
	}
	for _, id := range members {
		if e, ok := a.cat.Entity(id); ok {
			out.Cost += e.Cost
		}
	}
	return out
}
