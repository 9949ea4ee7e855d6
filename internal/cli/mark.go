package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/gamecat/internal/catalogue"
	"github.com/roach88/gamecat/internal/game"
)

// MarkOptions holds flags for the mark command.
type MarkOptions struct {
	*RootOptions
	Read   bool
	Unread bool
}

// NewMarkCommand creates the mark command.
func NewMarkCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &MarkOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "mark <id> --read|--unread",
		Short: "Set the read status of a game",
		Long: `Send a read status update for one game and wait for the backend to
accept it. The local catalogue is not consulted; an unknown id is reported
by the backend.

Example:
  gamecat mark 0192c1a4-... --read`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMark(opts, args[0], cmd)
		},
	}

	cmd.Flags().BoolVar(&opts.Read, "read", false, "mark as read")
	cmd.Flags().BoolVar(&opts.Unread, "unread", false, "mark as new")
	cmd.MarkFlagsMutuallyExclusive("read", "unread")
	cmd.MarkFlagsOneRequired("read", "unread")

	return cmd
}

func runMark(opts *MarkOptions, id string, cmd *cobra.Command) error {
	s, err := openSession(opts.RootOptions, cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	read := opts.Read
	ctx := commandContext(cmd)
	if err := awaitMutation(ctx, s, s.mutator.SetReadStatus(ctx, id, read)); err != nil {
		return err
	}

	return s.formatter.Emit(
		statusChange{ID: id, Read: read, Status: game.StatusLabel(read)},
		fmt.Sprintf("%s marked %s", id, game.StatusLabel(read)),
	)
}

// NewToggleCommand creates the toggle command.
func NewToggleCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "toggle <id>",
		Short: "Flip the read status of a game",
		Long: `Load the catalogue, look the game up and request the opposite of its
current read status. Two concurrent toggles from the same view write the
same value.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runToggle(rootOpts, args[0], cmd)
		},
	}
	return cmd
}

func runToggle(opts *RootOptions, id string, cmd *cobra.Command) error {
	s, err := openSession(opts, cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	ctx := commandContext(cmd)
	sub, err := s.subscribe(ctx)
	if err != nil {
		return err
	}
	defer sub.Cancel()

	rec, ok := s.store.FindByID(id)
	if !ok {
		msg := fmt.Sprintf("no game with id %q", id)
		_ = s.formatter.Error(ErrCodeNotFound, msg, nil)
		return NewExitError(ExitFailure, msg)
	}

	if err := awaitMutation(ctx, s, s.mutator.ToggleReadStatus(ctx, rec)); err != nil {
		return err
	}

	return s.formatter.Emit(
		statusChange{ID: id, Read: !rec.Read, Status: game.StatusLabel(!rec.Read)},
		fmt.Sprintf("%s: %s -> %s", id, rec.Status(), game.StatusLabel(!rec.Read)),
	)
}

// awaitMutation blocks for the outcome of one update and maps failures onto
// CLI errors.
func awaitMutation(ctx context.Context, s *session, result <-chan error) error {
	var err error
	select {
	case err = <-result:
	case <-ctx.Done():
		err = ctx.Err()
	}
	if err == nil {
		return nil
	}

	code := ErrCodeMutation
	if catalogue.IsNotFound(err) {
		code = ErrCodeNotFound
	}
	_ = s.formatter.Error(code, "read status update failed", errorDetails(err))
	return WrapExitError(ExitFailure, "read status update failed", err)
}
