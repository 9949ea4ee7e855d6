package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/gamecat/internal/catalogue"
	"github.com/roach88/gamecat/internal/game"
	"github.com/roach88/gamecat/internal/observe"
)

// NewWatchCommand creates the watch command.
func NewWatchCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Print the catalogue every time it changes",
		Long: `Subscribe to the catalogue and print every applied snapshot until
interrupted. With --metrics-addr, Prometheus metrics are served on
/metrics at that address.

Example:
  gamecat watch --metrics-addr :9464`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWatch(rootOpts, cmd)
		},
	}

	cmd.Flags().String("metrics-addr", "", "serve Prometheus metrics on this address")
	rootOpts.bind("metrics.addr", cmd.Flags().Lookup("metrics-addr"))

	return cmd
}

func runWatch(opts *RootOptions, cmd *cobra.Command) error {
	ctx, stop := signal.NotifyContext(commandContext(cmd), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// The listener runs on the delivery goroutine, the only writer of output
	var formatter *OutputFormatter
	var collection string
	var version int64
	listener := func(records []game.Record) {
		version++
		text := fmt.Sprintf("# snapshot %d: %d game(s)\n%s", version, len(records), renderTable(collection, records))
		_ = formatter.EmitVersioned(version, listResult{Collection: collection, Count: len(records), Games: records}, text)
	}

	s, err := openSession(opts, cmd, catalogue.WithListener(listener))
	if err != nil {
		return err
	}
	defer s.Close()
	formatter = s.formatter
	collection = s.store.Collection()

	if addr := s.cfg.Metrics.Addr; addr != "" {
		srv, err := serveMetrics(addr, s)
		if err != nil {
			_ = s.formatter.Error(ErrCodeGeneric, "cannot serve metrics", errorDetails(err))
			return WrapExitError(ExitCommandError, "cannot serve metrics", err)
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
		s.formatter.VerboseLog("metrics on http://%s/metrics", addr)
	}

	slog.Info("watching catalogue", "collection", collection, "driver", s.cfg.Backend.Driver)
	sub := s.store.Subscribe(ctx)
	defer sub.Cancel()

	<-sub.Done()
	if err := sub.Err(); err != nil {
		_ = s.formatter.Error(ErrCodeSubscription, "live watch ended", errorDetails(err))
		return WrapExitError(ExitFailure, "live watch ended", err)
	}
	slog.Info("watch stopped")
	return nil
}

func serveMetrics(addr string, s *session) (*http.Server, error) {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", observe.Handler(s.registry))
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("metrics server failed", "error", err)
		}
	}()
	return srv, nil
}
