package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fmueller/voxscribe/internal/history"
	"github.com/fmueller/voxscribe/internal/session"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newTranscribeCmd(app *appState) *cobra.Command {
	return &cobra.Command{
		Use:   "transcribe <audio-file>...",
		Short: "Transcribe one or more audio files",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return app.transcribeFiles(cmd.Context(), cmd.OutOrStdout(), args)
		},
	}
}

// transcribeFiles runs every file through one manager so the model is loaded
// once. Per-file failures are reported and summarized at the end.
func (a *appState) transcribeFiles(ctx context.Context, out io.Writer, paths []string) error {
	if ctx == nil {
		ctx = context.Background()
	}

	for i, p := range paths {
		paths[i] = filepath.Clean(p)
		if _, err := os.Stat(paths[i]); err != nil {
			return fmt.Errorf("audio file not found: %w", err)
		}
	}

	manager, err := a.managerFn(a.cfg, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err := manager.Close(); err != nil {
			a.log().Warn("failed to close session manager", zap.Error(err))
		}
	}()

	store := a.historyStore()
	if store != nil {
		defer store.Close()
	}

	var failures []error
	for _, audioPath := range paths {
		res, elapsed := a.transcribeOne(ctx, manager, audioPath)
		a.recordHistory(ctx, store, audioPath, res, elapsed)

		if res.Err != nil {
			a.log().Warn("transcription failed", zap.String("audio", audioPath), zap.String("kind", session.Kind(res.Err)), zap.Error(res.Err))
			failures = append(failures, fmt.Errorf("%s: %w", audioPath, res.Err))
			continue
		}

		if len(paths) > 1 {
			fmt.Fprintf(out, "%s: %s\n", audioPath, res.Text)
		} else {
			fmt.Fprintln(out, res.Text)
		}
		if isBlankTranscript(res.Text) {
			a.log().Warn(noSpeechHint(audioPath))
		}
	}

	switch len(failures) {
	case 0:
		return nil
	case 1:
		return failures[0]
	default:
		return fmt.Errorf("%d of %d transcriptions failed: %w", len(failures), len(paths), errors.Join(failures...))
	}
}

func (a *appState) transcribeOne(ctx context.Context, manager transcriber, audioPath string) (session.Result, time.Duration) {
	started := time.Now()
	if transcript, skipped, err := a.silenceGateTranscript(audioPath); err != nil {
		return session.Result{Model: a.cfg.Model, Err: err}, time.Since(started)
	} else if skipped {
		return session.Result{Model: a.cfg.Model, Text: transcript}, time.Since(started)
	}

	a.log().Info("transcribing...", zap.String("audio", audioPath), zap.String("model", a.cfg.Model), zap.String("language", a.cfg.Language))
	describe, stopSpinner := startSpinner(a.progressEnabled(), "Transcribing")
	manager.SetListener(func(p session.Progress) {
		describe(p.Text)
	})

	res := manager.Transcribe(ctx, session.Request{
		AudioPath: audioPath,
		Model:     a.cfg.Model,
		Language:  a.cfg.Language,
	})
	manager.SetListener(nil)
	stopSpinner()

	if res.Err == nil {
		a.log().Info("transcription finished", zap.Duration("elapsed", time.Since(started)), zap.String("model", res.Model), zap.String("language", res.Language))
	}
	return res, time.Since(started)
}

func (a *appState) historyStore() journal {
	if !a.cfg.History || a.historyFn == nil {
		return nil
	}
	store, err := a.historyFn(a.cfg)
	if err != nil {
		a.log().Warn("history journal unavailable; transcripts will not be recorded", zap.Error(err))
		return nil
	}
	return store
}

func (a *appState) recordHistory(ctx context.Context, store journal, audioPath string, res session.Result, elapsed time.Duration) {
	if store == nil {
		return
	}
	if kind := session.Kind(res.Err); kind == "invalid_request" || kind == "canceled" {
		return
	}

	abs, err := filepath.Abs(audioPath)
	if err != nil {
		abs = audioPath
	}
	entry := &history.Entry{
		AudioPath: abs,
		Model:     res.Model,
		Language:  res.Language,
		Text:      res.Text,
		ErrorKind: session.Kind(res.Err),
		Elapsed:   elapsed,
	}
	if err := store.Append(ctx, entry); err != nil {
		a.log().Warn("failed to append history entry", zap.String("audio", audioPath), zap.Error(err))
	}
}

func sanitizeLanguage(input string) string {
	trimmed := strings.TrimSpace(strings.ToLower(input))
	if trimmed == "" {
		return "auto"
	}
	return trimmed
}
