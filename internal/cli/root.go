package cli

import (
	"fmt"
	"slices"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/roach88/compsearch/internal/config"
	"github.com/roach88/compsearch/internal/engine"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Verbose    bool
	Format     string // "json" | "text"
	ConfigFile string

	// Viper layers defaults, the config file, COMPSEARCH_* variables and
	// bound flags.
	Viper *viper.Viper

	// RunIDs overrides the run id generator (for testing).
	// If nil, expand uses engine.UUIDv7Generator.
	RunIDs engine.RunIDGenerator
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for the compsearch CLI.
func NewRootCommand() *cobra.Command {
	return newRootCommand(&RootOptions{Viper: config.New()})
}

func newRootCommand(opts *RootOptions) *cobra.Command {

	cmd := &cobra.Command{
		Use:   "compsearch",
		Short: "Enumerate and score entity compositions",
		Long: `compsearch enumerates every composition of catalog entities reachable by
growing through shared traits, stores them in a deduplicating frontier,
and scores each one by the trait thresholds it reaches.

Settings come from built-in defaults, a YAML file (--config),
COMPSEARCH_* environment variables and flags, in increasing precedence.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !slices.Contains(ValidFormats, opts.Format) {
				return NewExitError(ExitCommandError,
					fmt.Sprintf("invalid format %q: must be one of %v", opts.Format, ValidFormats))
			}
			if opts.ConfigFile != "" {
				if err := config.ReadFile(opts.Viper, opts.ConfigFile); err != nil {
					return WrapExitError(ExitCommandError, "failed to load config", err)
				}
			}
			return nil
		},
	}

	pf := cmd.PersistentFlags()
	pf.BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output (debug logging)")
	pf.StringVar(&opts.Format, "format", "text", "output format (json|text)")
	pf.StringVarP(&opts.ConfigFile, "config", "c", "", "YAML config file")
	pf.String("catalog", "", "catalog file (.cue, .json, .yaml); empty uses the built-in catalog")
	pf.String("backend", "", "store backend (sqlite|postgres|badger|memory)")
	pf.String("db", "", "SQLite file or Badger directory")
	pf.String("dsn", "", "PostgreSQL connection string")
	pf.String("log-level", "", "log level (debug|info|warn|error)")
	pf.String("metrics-addr", "", "serve Prometheus metrics on this address")
	pf.Bool("trace", false, "write OpenTelemetry spans to stderr")
	bindFlags(opts.Viper, pf, map[string]string{
		"catalog.path":   "catalog",
		"store.backend":  "backend",
		"store.path":     "db",
		"store.dsn":      "dsn",
		"logging.level":  "log-level",
		"metrics.addr":   "metrics-addr",
		"tracing.stdout": "trace",
	})

	cmd.AddCommand(NewExpandCommand(opts))
	cmd.AddCommand(NewScoreCommand(opts))
	cmd.AddCommand(NewStatsCommand(opts))
	cmd.AddCommand(NewTopCommand(opts))
	cmd.AddCommand(NewShowCommand(opts))
	cmd.AddCommand(NewCatalogCommand(opts))
	cmd.AddCommand(NewTestCommand(opts))
	cmd.AddCommand(NewWatchCommand(opts))

	return cmd
}

// bindFlags binds each config key to the named flag. A flag only overrides
// lower layers when it was set on the command line.
func bindFlags(v *viper.Viper, fs *pflag.FlagSet, keys map[string]string) {
	for key, name := range keys {
		_ = v.BindPFlag(key, fs.Lookup(name))
	}
}

func (o *RootOptions) formatter(cmd *cobra.Command) *OutputFormatter {
	return &OutputFormatter{Format: o.Format, Writer: cmd.OutOrStdout()}
}
