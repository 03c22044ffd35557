package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/fmueller/voxscribe/internal/audio"
	"github.com/fmueller/voxscribe/internal/config"
	"github.com/fmueller/voxscribe/internal/history"
	"github.com/fmueller/voxscribe/internal/logging"
	"github.com/fmueller/voxscribe/internal/platform"
	"github.com/fmueller/voxscribe/internal/session"
	"github.com/fmueller/voxscribe/internal/version"
	"github.com/fmueller/voxscribe/internal/whisper"
	"go.uber.org/zap"
	"golang.org/x/term"

	"github.com/spf13/cobra"
)

// transcriber is the slice of session.Manager the commands use.
type transcriber interface {
	Transcribe(ctx context.Context, req session.Request) session.Result
	SetListener(l session.Listener)
	Current() (session.ModelHandle, bool)
	Close() error
}

type journal interface {
	Append(ctx context.Context, e *history.Entry) error
	Recent(ctx context.Context, limit int) ([]history.Entry, error)
	Get(ctx context.Context, id string) (history.Entry, error)
	Close() error
}

type appState struct {
	verbose    bool
	jsonLogs   bool
	noProgress bool
	configPath string

	// flags holds flag-bound values; cfg is the effective layered config.
	flags config.Config
	cfg   config.Config

	logger *zap.Logger
	out    io.Writer

	managerFn func(cfg config.Config, observer session.Observer) (transcriber, error)
	historyFn func(cfg config.Config) (journal, error)
}

func NewRootCmd() *cobra.Command {
	return newRootCmd(newAppState())
}

func newAppState() *appState {
	app := &appState{
		flags: config.Default(),
		cfg:   config.Default(),
		out:   os.Stdout,
	}
	app.managerFn = app.newManager
	app.historyFn = app.openHistory
	return app
}

func newRootCmd(app *appState) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "voxscribe",
		Short:         "On-device speech transcription for your journal",
		SilenceUsage:  true,
		SilenceErrors: true,
		Version:       version.Resolve(),
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			logger, err := logging.New(logging.Options{Verbose: app.verbose, JSON: app.jsonLogs})
			if err != nil {
				return fmt.Errorf("initialize logger: %w", err)
			}
			app.logger = logger
			return app.loadSettings(cmd)
		},
	}

	cmd.SetVersionTemplate("{{.Name}} v{{.Version}}\n")

	bindLoggingFlags(cmd, app)
	bindProgressFlag(cmd, app)
	bindModelFlags(cmd, app)
	bindLanguageAndModelDownloadFlags(cmd, app)
	bindSilenceFlags(cmd, app)
	bindHistoryFlags(cmd, app)

	cmd.AddCommand(newTranscribeCmd(app))
	cmd.AddCommand(newServeCmd(app))
	cmd.AddCommand(newSetupCmd(app))
	cmd.AddCommand(newModelsCmd(app))
	cmd.AddCommand(newHistoryCmd(app))
	cmd.AddCommand(newVersionCmd())

	return cmd
}

func bindLoggingFlags(cmd *cobra.Command, app *appState) {
	cmd.PersistentFlags().BoolVar(&app.verbose, "verbose", app.verbose, "Enable verbose logs")
	cmd.PersistentFlags().BoolVar(&app.jsonLogs, "json", app.jsonLogs, "Enable JSON logging")
	cmd.PersistentFlags().StringVar(&app.configPath, "config", app.configPath, "Config file path (default: platform config dir)")
}

func bindProgressFlag(cmd *cobra.Command, app *appState) {
	cmd.PersistentFlags().BoolVar(&app.noProgress, "no-progress", app.noProgress, "Disable progress indicators")
}

func bindModelFlags(cmd *cobra.Command, app *appState) {
	cmd.PersistentFlags().StringVar(&app.flags.Model, "model", app.flags.Model, "Model name, \"default\", or model file path")
	cmd.PersistentFlags().StringVar(&app.flags.ModelDir, "model-dir", app.flags.ModelDir, "Directory where models are stored")
}

func bindLanguageAndModelDownloadFlags(cmd *cobra.Command, app *appState) {
	cmd.PersistentFlags().StringVar(&app.flags.Language, "language", app.flags.Language, "Language code (auto|en|de|...) for transcription")
	cmd.PersistentFlags().BoolVar(&app.flags.AutoDownload, "auto-download", app.flags.AutoDownload, "Automatically download missing models")
	cmd.PersistentFlags().BoolVar(&app.flags.PrefillWithLanguage, "prefill", app.flags.PrefillWithLanguage, "Prime the decoder with an explicitly requested language")
}

func bindSilenceFlags(cmd *cobra.Command, app *appState) {
	cmd.PersistentFlags().BoolVar(&app.flags.SilenceGate, "silence-gate", app.flags.SilenceGate, "Detect near-silent WAV audio and skip transcription")
	cmd.PersistentFlags().Float64Var(&app.flags.SilenceThresholdDBFS, "silence-threshold-dbfs", app.flags.SilenceThresholdDBFS, "Silence gate threshold in dBFS")
}

func bindHistoryFlags(cmd *cobra.Command, app *appState) {
	cmd.PersistentFlags().BoolVar(&app.flags.History, "history", app.flags.History, "Record transcripts in the history journal")
	cmd.PersistentFlags().StringVar(&app.flags.HistoryPath, "history-path", app.flags.HistoryPath, "History database path")
}

// loadSettings layers explicitly set flags over the config file over defaults.
func (a *appState) loadSettings(cmd *cobra.Command) error {
	path, err := platform.ResolveConfigPath(a.configPath)
	if err != nil {
		return err
	}

	cfg, err := config.Load(path)
	if err != nil {
		return err
	}

	overrides := map[string]func(){
		"model": func() {
			// "default" names whatever the config file configured.
			if !whisper.IsAlias(a.flags.Model) {
				cfg.Model = a.flags.Model
			}
		},
		"model-dir":              func() { cfg.ModelDir = a.flags.ModelDir },
		"language":               func() { cfg.Language = a.flags.Language },
		"auto-download":          func() { cfg.AutoDownload = a.flags.AutoDownload },
		"prefill":                func() { cfg.PrefillWithLanguage = a.flags.PrefillWithLanguage },
		"silence-gate":           func() { cfg.SilenceGate = a.flags.SilenceGate },
		"silence-threshold-dbfs": func() { cfg.SilenceThresholdDBFS = a.flags.SilenceThresholdDBFS },
		"history":                func() { cfg.History = a.flags.History },
		"history-path":           func() { cfg.HistoryPath = a.flags.HistoryPath },
		"listen":                 func() { cfg.Listen = a.flags.Listen },
		"queue-size":             func() { cfg.QueueSize = a.flags.QueueSize },
	}
	for name, apply := range overrides {
		if f := cmd.Flags().Lookup(name); f != nil && f.Changed {
			apply()
		}
	}

	cfg.Language = sanitizeLanguage(cfg.Language)
	if err := cfg.Validate(); err != nil {
		return err
	}

	a.cfg = cfg
	a.log().Debug("settings loaded", zap.String("config", path), zap.String("model", cfg.Model), zap.String("language", cfg.Language))
	return nil
}

func (a *appState) newManager(cfg config.Config, observer session.Observer) (transcriber, error) {
	modelDir, err := a.modelStorageDir()
	if err != nil {
		return nil, err
	}

	return session.New(session.Config{
		Loader: &whisper.CLILoader{
			ModelDir:     modelDir,
			AutoDownload: cfg.AutoDownload,
			// Download progress is surfaced through manager progress events.
			NoProgress: true,
			Logger:     a.log(),
		},
		DefaultModel:        cfg.Model,
		PrefillWithLanguage: cfg.PrefillWithLanguage,
		QueueSize:           cfg.QueueSize,
		Logger:              a.log().Named("session"),
		Observer:            observer,
	})
}

func (a *appState) openHistory(cfg config.Config) (journal, error) {
	path, err := platform.ResolveHistoryPath(cfg.HistoryPath)
	if err != nil {
		return nil, err
	}
	return history.Open(path)
}

func (a *appState) modelStorageDir() (string, error) {
	dir, err := platform.ResolveModelDir(a.cfg.ModelDir)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create model directory %s: %w", dir, err)
	}
	return dir, nil
}

func (a *appState) log() *zap.Logger {
	if a.logger == nil {
		return zap.NewNop()
	}
	return a.logger
}

func (a *appState) progressEnabled() bool {
	if a.noProgress {
		return false
	}
	return term.IsTerminal(int(os.Stderr.Fd()))
}

func (a *appState) outWriter() io.Writer {
	if a.out == nil {
		return os.Stdout
	}
	return a.out
}

func (a *appState) silenceGateTranscript(audioPath string) (string, bool, error) {
	if !a.cfg.SilenceGate {
		return "", false, nil
	}

	if !strings.EqualFold(filepath.Ext(audioPath), ".wav") {
		return "", false, nil
	}

	silent, metrics, err := audio.IsSilentWAV(audioPath, a.cfg.SilenceThresholdDBFS)
	if err != nil {
		a.log().Warn("silence gate analysis failed; continuing transcription", zap.Error(err), zap.String("audio", audioPath))
		return "", false, nil
	}

	// Empty audio is reported by the session manager, not masked as blank.
	if !silent || metrics.Samples == 0 {
		return "", false, nil
	}

	a.log().Info(
		"audio considered silent; skipping transcription",
		zap.String("audio", audioPath),
		zap.Float64("rms_dbfs", metrics.RMSdBFS),
		zap.Float64("peak_dbfs", metrics.PeakdBFS),
		zap.Float64("threshold_dbfs", a.cfg.SilenceThresholdDBFS),
	)

	return blankAudioToken, true, nil
}
