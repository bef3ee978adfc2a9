package cli

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

// CatalogOutput describes the loaded catalog.
type CatalogOutput struct {
	Fingerprint string          `json:"fingerprint"`
	Traits      []TraitListing  `json:"traits"`
	Entities    []EntityListing `json:"entities"`
}

// TraitListing is one catalog trait.
type TraitListing struct {
	ID         int    `json:"id"`
	Name       string `json:"name"`
	Thresholds []int  `json:"thresholds"`
	Entities   int    `json:"entities"`
}

// EntityListing is one catalog entity.
type EntityListing struct {
	ID     int      `json:"id"`
	Name   string   `json:"name"`
	Cost   int      `json:"cost"`
	Traits []string `json:"traits"`
}

// NewCatalogCommand creates the catalog command.
func NewCatalogCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "catalog",
		Short: "Print the catalog and its fingerprint",
		Long: `Validate and print the catalog selected by --catalog (or the built-in one):
every trait with its thresholds, every entity with its id, cost and
traits, and the fingerprint recorded in stores built from it.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp(rootOpts, cmd.ErrOrStderr())
			if err != nil {
				return err
			}

			out := CatalogOutput{Fingerprint: a.cat.Fingerprint()}
			for _, t := range a.cat.Traits() {
				out.Traits = append(out.Traits, TraitListing{
					ID:         int(t.ID),
					Name:       t.Name,
					Thresholds: t.Thresholds,
					Entities:   len(a.cat.EntitiesWithTrait(t.ID)),
				})
			}
			for _, e := range a.cat.Entities() {
				traits := make([]string, len(e.Traits))
				for i, id := range e.Traits {
					t, _ := a.cat.Trait(id)
					traits[i] = t.Name
				}
				out.Entities = append(out.Entities, EntityListing{
					ID:     int(e.ID),
					Name:   e.Name,
					Cost:   e.Cost,
					Traits: traits,
				})
			}

			return rootOpts.formatter(cmd).Success(out, func(w io.Writer) {
				fmt.Fprintf(w, "Fingerprint: %s\n\n", out.Fingerprint)
				tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "TRAIT\tTHRESHOLDS\tENTITIES")
				for _, t := range out.Traits {
					fmt.Fprintf(tw, "%s\t%v\t%d\n", t.Name, t.Thresholds, t.Entities)
				}
				fmt.Fprintln(tw)
				fmt.Fprintln(tw, "ID\tENTITY\tCOST\tTRAITS")
				for _, e := range out.Entities {
					fmt.Fprintf(tw, "%d\t%s\t%d\t%s\n", e.ID, e.Name, e.Cost, strings.Join(e.Traits, ", "))
				}
				tw.Flush()
			})
		},
	}
	return cmd
}
