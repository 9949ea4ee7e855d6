package cli

import (
	"github.com/spf13/cobra"
)

// NewListCommand creates the list command.
func NewListCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List every game in the catalogue",
		Long: `Subscribe to the catalogue, wait for the first snapshot and print it.

Documents that cannot be decoded are skipped; run with --verbose to see how
many were.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runList(rootOpts, cmd)
		},
	}
	return cmd
}

func runList(opts *RootOptions, cmd *cobra.Command) error {
	s, err := openSession(opts, cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	sub, err := s.subscribe(commandContext(cmd))
	if err != nil {
		return err
	}
	defer sub.Cancel()

	records := s.store.List()
	if n := s.problems.Len(); n > 0 {
		s.formatter.VerboseLog("%d problem(s) reported while loading", n)
	}
	return s.formatter.EmitVersioned(s.store.Version(),
		listResult{Collection: s.store.Collection(), Count: len(records), Games: records},
		renderTable(s.store.Collection(), records),
	)
}
