package cli

import (
	"context"
	"io"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/roach88/gamecat/internal/catalogue"
	"github.com/roach88/gamecat/internal/config"
	"github.com/roach88/gamecat/internal/logging"
	"github.com/roach88/gamecat/internal/observe"
	"github.com/roach88/gamecat/internal/remote"
)

// session is the per-invocation wiring shared by every command: config,
// logging, backend, catalogue store and mutator.
type session struct {
	cfg       *config.Config
	coll      remote.Collection
	store     *catalogue.Store
	mutator   *catalogue.Mutator
	problems  *observe.Recorder
	registry  *prometheus.Registry
	formatter *OutputFormatter
	logCloser io.Closer
}

// openSession resolves config, installs the logger and opens the backend.
// Errors come back as ExitError with the matching code already printed.
func openSession(opts *RootOptions, cmd *cobra.Command, storeOpts ...catalogue.Option) (*session, error) {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(), // Verbose logs go to stderr to avoid corrupting JSON
		Verbose:   opts.Verbose,
	}

	cfg, err := opts.loadConfig()
	if err != nil {
		_ = formatter.Error(ErrCodeConfig, err.Error(), nil)
		return nil, WrapExitError(ExitCommandError, "invalid configuration", err)
	}

	_, logCloser := logging.Setup(cfg.Log, opts.Verbose)
	formatter.VerboseLog("backend %s, collection %s", cfg.Backend.Driver, cfg.Collection)

	open := opts.OpenCollection
	if open == nil {
		open = OpenCollection
	}
	coll, err := open(commandContext(cmd), cfg)
	if err != nil {
		_ = logCloser.Close()
		_ = formatter.Error(ErrCodeBackend, err.Error(), map[string]string{"driver": cfg.Backend.Driver})
		return nil, WrapExitError(ExitCommandError, "failed to open backend", err)
	}

	problems := observe.NewRecorder()
	registry := prometheus.NewRegistry()
	shared := []catalogue.Option{
		catalogue.WithReporter(observe.Multi{observe.NewSlogReporter(nil), problems}),
		catalogue.WithMetrics(observe.NewMetrics(registry)),
		catalogue.WithTimeout(cfg.MutationTimeout),
	}

	return &session{
		cfg:       cfg,
		coll:      coll,
		store:     catalogue.NewStore(coll, cfg.Collection, append(shared, storeOpts...)...),
		mutator:   catalogue.NewMutator(coll, cfg.Collection, shared...),
		problems:  problems,
		registry:  registry,
		formatter: formatter,
		logCloser: logCloser,
	}, nil
}

// subscribe starts the live watch and blocks until the first snapshot is
// applied, the watch fails or ctx ends.
func (s *session) subscribe(ctx context.Context) (*catalogue.Subscription, error) {
	sub := s.store.Subscribe(ctx)
	select {
	case <-s.store.Ready():
		return sub, nil
	case <-sub.Done():
		err := sub.Err()
		if err == nil {
			err = ctx.Err()
		}
		_ = s.formatter.Error(ErrCodeSubscription, "cannot load catalogue", errorDetails(err))
		return nil, WrapExitError(ExitCommandError, "cannot load catalogue", err)
	case <-ctx.Done():
		sub.Cancel()
		return nil, ctx.Err()
	}
}

// Close waits for in-flight updates, then releases the backend and log file.
func (s *session) Close() {
	s.mutator.Wait()
	if err := s.coll.Close(); err != nil {
		slog.Error("error closing backend", "error", err)
	}
	_ = s.logCloser.Close()
}

// commandContext returns the command's context, or Background when run
// outside Execute (tests calling RunE directly).
func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

func errorDetails(err error) map[string]string {
	if err == nil {
		return nil
	}
	return map[string]string{"cause": err.Error()}
}
