package cli

import (
	"context"
	"fmt"
	"slices"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/roach88/gamecat/internal/config"
	"github.com/roach88/gamecat/internal/remote"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Verbose    bool
	Format     string // "json" | "text"
	ConfigFile string

	// flags bound onto config keys, collected while building the tree
	bindings map[string]*pflag.Flag

	// OpenCollection overrides backend selection (for testing).
	// If nil, defaults to OpenCollection.
	OpenCollection func(ctx context.Context, cfg *config.Config) (remote.Collection, error)
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for the gamecat CLI.
func NewRootCommand() *cobra.Command {
	return newRootCommand(&RootOptions{})
}

func newRootCommand(opts *RootOptions) *cobra.Command {
	opts.bindings = make(map[string]*pflag.Flag)

	cmd := &cobra.Command{
		Use:   "gamecat",
		Short: "gamecat - game catalogue",
		Long:  "Browse a live game catalogue and track which games you have played.",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !isValidFormat(opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			return nil
		},
	}

	// Global flags
	flags := cmd.PersistentFlags()
	flags.BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	flags.StringVar(&opts.Format, "format", "text", "output format (json|text)")
	flags.StringVarP(&opts.ConfigFile, "config", "c", "", "path to config file (YAML)")
	flags.String("driver", "", "backend driver (memory|sqlite|postgres|redis)")
	flags.String("db", "", "SQLite database path")
	flags.String("collection", "", "remote collection name")
	opts.bind("backend.driver", flags.Lookup("driver"))
	opts.bind("backend.sqlite_path", flags.Lookup("db"))
	opts.bind("collection", flags.Lookup("collection"))

	// Add subcommands
	cmd.AddCommand(NewListCommand(opts))
	cmd.AddCommand(NewShowCommand(opts))
	cmd.AddCommand(NewMarkCommand(opts))
	cmd.AddCommand(NewToggleCommand(opts))
	cmd.AddCommand(NewWatchCommand(opts))
	cmd.AddCommand(NewSeedCommand(opts))

	return cmd
}

// bind ties a flag to a config key; the flag wins only when set.
func (o *RootOptions) bind(key string, flag *pflag.Flag) {
	o.bindings[key] = flag
}

// loadConfig resolves configuration for one command invocation.
func (o *RootOptions) loadConfig() (*config.Config, error) {
	return config.Load(o.ConfigFile, o.bindings)
}

// isValidFormat checks if the format is one of the allowed values.
func isValidFormat(format string) bool {
	return slices.Contains(ValidFormats, format)
}
