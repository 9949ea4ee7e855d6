package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/gamecat/internal/seed"
)

// NewSeedCommand creates the seed command.
func NewSeedCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "seed <fixture>",
		Short: "Create games from a YAML or CUE fixture",
		Long: `Validate a catalogue fixture against the built-in schema, then create
one document per game in fixture order. A collection named in the fixture
takes precedence over the configured one.

Example:
  gamecat seed ./games.yaml
  gamecat seed --driver redis ./games.cue`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSeed(rootOpts, args[0], cmd)
		},
	}
	return cmd
}

func runSeed(opts *RootOptions, path string, cmd *cobra.Command) error {
	s, err := openSession(opts, cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	fixture, err := seed.Load(path)
	if err != nil {
		_ = s.formatter.Error(ErrCodeFixture, err.Error(), nil)
		return WrapExitError(ExitFailure, "invalid fixture", err)
	}

	collection := s.cfg.Collection
	if fixture.Collection != "" {
		collection = fixture.Collection
	}
	s.formatter.VerboseLog("seeding %d game(s) into %s", len(fixture.Games), collection)

	ids, err := seed.Apply(commandContext(cmd), s.coll, collection, fixture)
	if err != nil {
		_ = s.formatter.Error(ErrCodeFixture, err.Error(), map[string]any{"created": ids})
		return WrapExitError(ExitFailure, "seeding stopped", err)
	}

	text := fmt.Sprintf("Created %d game(s) in %s:\n  %s", len(ids), collection, strings.Join(ids, "\n  "))
	return s.formatter.Emit(seedResult{Collection: collection, IDs: ids}, text)
}
