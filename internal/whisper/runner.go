package whisper

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/fmueller/voxscribe/internal/platform"
	"go.uber.org/zap"
)

const engineEnvOverride = "VOXSCRIBE_WHISPER_PATH"

var ErrEngineNotFound = errors.New("whisper engine not found")

// Runner drives one whisper-cli process per decode.
type Runner struct {
	Executable string
	Logger     *zap.Logger
}

type Invocation struct {
	ModelPath string
	AudioPath string
	Language  string
}

func NewRunner(logger *zap.Logger) (*Runner, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	if override := strings.TrimSpace(os.Getenv(engineEnvOverride)); override != "" {
		if err := ensureExecutable(override); err != nil {
			return nil, fmt.Errorf("%s is not executable: %w", engineEnvOverride, err)
		}
		return &Runner{Executable: override, Logger: logger}, nil
	}

	self, err := os.Executable()
	if err != nil {
		return nil, fmt.Errorf("resolve voxscribe executable path: %w", err)
	}

	if path, err := ResolveBundledEnginePath(self); err == nil {
		return &Runner{Executable: path, Logger: logger}, nil
	}

	if path, err := exec.LookPath(engineBinaryName()); err == nil {
		return &Runner{Executable: path, Logger: logger}, nil
	}

	return nil, fmt.Errorf("%w near %s or on PATH; install whisper-cli or set %s", ErrEngineNotFound, self, engineEnvOverride)
}

func ResolveBundledEnginePath(executable string) (string, error) {
	for _, candidate := range EnginePathCandidates(executable) {
		if err := ensureExecutable(candidate); err == nil {
			return candidate, nil
		}
	}

	return "", fmt.Errorf("%w: expected at ../libexec/whisper/%s relative to %s", ErrEngineNotFound, engineBinaryName(), executable)
}

func EnginePathCandidates(executable string) []string {
	binDir := filepath.Dir(executable)
	engineName := engineBinaryName()

	return []string{
		filepath.Join(binDir, "..", "libexec", "whisper", engineName),
		filepath.Join(binDir, "libexec", "whisper", engineName),
		filepath.Join(binDir, "packaging", "whisper", platform.CurrentRuntime().Target(), engineName),
		filepath.Join(binDir, engineName),
	}
}

// Run executes whisper-cli, forwarding each printed segment as it appears.
// The JSON output file is authoritative for the final transcription.
func (r *Runner) Run(ctx context.Context, inv Invocation, onSegment SegmentFunc) (Transcription, error) {
	if strings.TrimSpace(inv.AudioPath) == "" {
		return Transcription{}, errors.New("audio path is required")
	}
	if strings.TrimSpace(inv.ModelPath) == "" {
		return Transcription{}, errors.New("model path is required")
	}
	if err := ensureExecutable(r.Executable); err != nil {
		return Transcription{}, fmt.Errorf("whisper engine missing or not executable: %w", err)
	}

	logger := r.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	workDir, err := os.MkdirTemp("", "voxscribe-run-*")
	if err != nil {
		return Transcription{}, fmt.Errorf("create whisper output dir: %w", err)
	}
	defer os.RemoveAll(workDir)

	outBase := filepath.Join(workDir, "out")
	jsonOut := outBase + ".json"

	language := strings.TrimSpace(inv.Language)
	if language == "" {
		language = "auto"
	}
	args := []string{"-m", inv.ModelPath, "-f", inv.AudioPath, "-l", language, "-oj", "-of", outBase}

	cmd := exec.CommandContext(ctx, r.Executable, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return Transcription{}, fmt.Errorf("open whisper stdout: %w", err)
	}

	logger.Debug("running whisper engine", zap.String("engine", r.Executable), zap.Strings("args", args))
	if err := cmd.Start(); err != nil {
		return Transcription{}, fmt.Errorf("start whisper engine: %w", err)
	}

	scanner := bufio.NewScanner(stdout)
	for scanner.Scan() {
		segment, ok := ParseSegmentLine(scanner.Text())
		if ok && onSegment != nil {
			onSegment(segment)
		}
	}

	if err := cmd.Wait(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Transcription{}, ctxErr
		}
		return Transcription{}, classifyEngineFailure(r.Executable, err, strings.TrimSpace(stderr.String()))
	}

	content, err := os.ReadFile(jsonOut)
	if err != nil {
		return Transcription{}, fmt.Errorf("read whisper output: %w", err)
	}

	return ParseJSONOutput(content)
}

func classifyEngineFailure(executable string, err error, errText string) error {
	if isMissingSharedLibraryError(errText) {
		return fmt.Errorf("whisper engine at %s is missing required shared libraries (%s); rebuild whisper-cli with BUILD_SHARED_LIBS=OFF", executable, errText)
	}
	if isIllegalInstructionError(errText) || isIllegalInstructionError(err.Error()) {
		return fmt.Errorf("whisper engine crashed with an illegal CPU instruction; " +
			"your CPU may lack required instruction set extensions; " +
			"set " + engineEnvOverride + " to a whisper-cli binary built for your CPU")
	}
	return fmt.Errorf("whisper transcribe failed: %w (%s)", err, errText)
}

func engineBinaryName() string {
	if runtime.GOOS == "windows" {
		return "whisper-cli.exe"
	}
	return "whisper-cli"
}

func ensureExecutable(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if info.IsDir() {
		return fmt.Errorf("%s is a directory", path)
	}
	if runtime.GOOS != "windows" && info.Mode()&0o111 == 0 {
		return fmt.Errorf("%s is not executable", path)
	}
	return nil
}

func isMissingSharedLibraryError(stderr string) bool {
	value := strings.ToLower(strings.TrimSpace(stderr))
	if value == "" {
		return false
	}

	patterns := []string{
		"error while loading shared libraries",
		"cannot open shared object file",
		"dyld: library not loaded",
		"image not found",
	}

	for _, pattern := range patterns {
		if strings.Contains(value, pattern) {
			return true
		}
	}

	return false
}

func isIllegalInstructionError(stderr string) bool {
	return strings.Contains(strings.ToLower(stderr), "illegal instruction")
}
