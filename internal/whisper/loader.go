package whisper

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/fmueller/voxscribe/internal/audio"
	"github.com/fmueller/voxscribe/internal/download"
	"go.uber.org/zap"
)

// ggmlMagic is "ggml" read as a little-endian uint32 from the artifact header.
const ggmlMagic = 0x67676d6c

var (
	ErrModelMissing = errors.New("model artifact missing")
	ErrInvalidModel = errors.New("invalid model artifact")
	ErrModelClosed  = errors.New("model is closed")
)

// CLILoader resolves model references against the registry, fetches missing
// artifacts, and binds them to a whisper-cli runner.
type CLILoader struct {
	ModelDir     string
	AutoDownload bool
	NoProgress   bool
	Logger       *zap.Logger

	NewRunner func(logger *zap.Logger) (*Runner, error)
	Download  func(ctx context.Context, opts download.Options) error
}

func (l *CLILoader) Load(ctx context.Context, modelRef string, status StatusFunc) (Model, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if status == nil {
		status = func(string) {}
	}

	logger := l.log()
	resolved, err := ResolveModel(modelRef, l.ModelDir)
	if err != nil {
		return nil, err
	}

	if resolved.NeedsDownload {
		if !l.AutoDownload {
			return nil, fmt.Errorf("%w: %q is not at %s; run `voxscribe setup --model %s` or enable auto_download", ErrModelMissing, resolved.Name, resolved.Path, resolved.Name)
		}
		if err := l.fetch(ctx, resolved, status); err != nil {
			return nil, err
		}
	}

	if err := VerifyArtifact(resolved.Path); err != nil {
		return nil, err
	}

	newRunner := l.NewRunner
	if newRunner == nil {
		newRunner = NewRunner
	}
	runner, err := newRunner(logger)
	if err != nil {
		return nil, err
	}

	logger.Debug("model bound to engine", zap.String("model", resolved.DisplayName()), zap.String("path", resolved.Path), zap.String("engine", runner.Executable))
	return &cliModel{
		name:         resolved.DisplayName(),
		path:         resolved.Path,
		capabilities: resolved.Capabilities(),
		runner:       runner,
	}, nil
}

func (l *CLILoader) fetch(ctx context.Context, resolved ResolvedModel, status StatusFunc) error {
	fetchFn := l.Download
	if fetchFn == nil {
		fetchFn = download.DownloadFile
	}

	l.log().Info("model not found, downloading", zap.String("model", resolved.Name), zap.String("destination", resolved.Path))
	status(fmt.Sprintf("Downloading model %s...", resolved.Name))

	lastPercent := -1
	err := fetchFn(ctx, download.Options{
		URL:            resolved.URL,
		Destination:    resolved.Path,
		ExpectedSHA256: resolved.SHA256,
		ChecksumURL:    resolved.SHA256URL,
		NoProgress:     l.NoProgress,
		Logger:         l.log(),
		OnProgress: func(written, total int64) {
			if total <= 0 {
				return
			}
			percent := int(written * 100 / total)
			if percent != lastPercent {
				lastPercent = percent
				status(fmt.Sprintf("Downloading model %s %d%%", resolved.Name, percent))
			}
		},
	})
	if err != nil {
		return fmt.Errorf("download model %q: %w", resolved.Name, err)
	}
	return nil
}

func (l *CLILoader) log() *zap.Logger {
	if l.Logger == nil {
		return zap.NewNop()
	}
	return l.Logger
}

// VerifyArtifact checks that path exists and starts with the ggml magic.
func VerifyArtifact(path string) error {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("%w: %s", ErrModelMissing, path)
		}
		return fmt.Errorf("open model artifact: %w", err)
	}
	defer f.Close()

	header := make([]byte, 4)
	if _, err := io.ReadFull(f, header); err != nil {
		return fmt.Errorf("%w: %s is too short", ErrInvalidModel, path)
	}
	if binary.LittleEndian.Uint32(header) != ggmlMagic {
		return fmt.Errorf("%w: %s has no ggml header", ErrInvalidModel, path)
	}
	return nil
}

type cliModel struct {
	name         string
	path         string
	capabilities Capabilities
	runner       *Runner

	mu     sync.Mutex
	closed bool
}

func (m *cliModel) Name() string {
	return m.name
}

func (m *cliModel) Capabilities() Capabilities {
	return m.capabilities
}

func (m *cliModel) Decode(ctx context.Context, samples []float32, opts DecodeOptions, onSegment SegmentFunc) (Transcription, error) {
	m.mu.Lock()
	closed := m.closed
	m.mu.Unlock()
	if closed {
		return Transcription{}, ErrModelClosed
	}

	tmp, err := os.CreateTemp("", "voxscribe-*.wav")
	if err != nil {
		return Transcription{}, fmt.Errorf("create decode input: %w", err)
	}
	wavPath := tmp.Name()
	_ = tmp.Close()
	defer os.Remove(wavPath)

	if err := audio.WriteWAV(wavPath, samples, audio.TargetSampleRate); err != nil {
		return Transcription{}, err
	}

	return m.runner.Run(ctx, Invocation{
		ModelPath: m.path,
		AudioPath: wavPath,
		Language:  engineLanguage(opts),
	}, onSegment)
}

func (m *cliModel) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// engineLanguage pins the decoder language only when priming is wanted; an
// unprimed decode runs with detection and is labeled by the caller.
func engineLanguage(opts DecodeOptions) string {
	if opts.DetectLanguage || !opts.UsePrefill || opts.Language == "" {
		return "auto"
	}
	return opts.Language
}
