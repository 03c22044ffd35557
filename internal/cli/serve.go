package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/fmueller/voxscribe/internal/metrics"
	"github.com/fmueller/voxscribe/internal/server"
	"github.com/fmueller/voxscribe/internal/version"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newServeCmd(app *appState) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the transcription API on a local address",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return app.serve(ctx)
		},
	}

	cmd.Flags().StringVar(&app.flags.Listen, "listen", app.flags.Listen, "Address to listen on (host:port)")
	cmd.Flags().IntVar(&app.flags.QueueSize, "queue-size", app.flags.QueueSize, "Maximum number of queued transcription requests")
	return cmd
}

func (a *appState) serve(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	recorder := metrics.New()
	manager, err := a.managerFn(a.cfg, recorder)
	if err != nil {
		return err
	}
	defer func() {
		if err := manager.Close(); err != nil {
			a.log().Warn("failed to close session manager", zap.Error(err))
		}
	}()

	var historyJournal server.Journal
	if store := a.historyStore(); store != nil {
		defer store.Close()
		historyJournal = store
	}

	srv, err := server.New(server.Config{
		Addr:            a.cfg.Listen,
		Manager:         manager,
		History:         historyJournal,
		Metrics:         recorder.Handler(),
		DefaultModel:    a.cfg.Model,
		DefaultLanguage: a.cfg.Language,
		Version:         version.Resolve(),
		Logger:          a.log().Named("server"),
	})
	if err != nil {
		return err
	}

	a.log().Info("serving transcription api", zap.String("listen", a.cfg.Listen), zap.String("model", a.cfg.Model))
	return srv.Run(ctx)
}
