package whisper

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/fmueller/voxscribe/internal/platform"
	"github.com/stretchr/testify/require"
)

const fakeEngineScript = `#!/bin/sh
out=""
lang=""
while [ $# -gt 0 ]; do
  case "$1" in
    -of) out="$2"; shift 2 ;;
    -l) lang="$2"; shift 2 ;;
    *) shift ;;
  esac
done
detected="$lang"
if [ "$detected" = "auto" ]; then
  detected="de"
fi
echo "[00:00:00.000 --> 00:00:01.500]   hello"
echo "[00:00:01.500 --> 00:00:03.000]   world"
cat > "$out.json" <<JSON
{"result":{"language":"$detected"},"transcription":[{"offsets":{"from":0,"to":1500},"text":" hello"},{"offsets":{"from":1500,"to":3000},"text":" world"}]}
JSON
`

func writeFakeEngine(t *testing.T, script string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("fake engine is a POSIX shell script")
	}

	path := filepath.Join(t.TempDir(), "whisper-cli")
	require.NoError(t, os.WriteFile(path, []byte(script), 0o755))
	return path
}

func TestResolveBundledEnginePathFindsLibexecSibling(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	binDir := filepath.Join(root, "bin")
	engineDir := filepath.Join(root, "libexec", "whisper")
	require.NoError(t, os.MkdirAll(binDir, 0o755))
	require.NoError(t, os.MkdirAll(engineDir, 0o755))

	self := filepath.Join(binDir, "voxscribe")
	require.NoError(t, os.WriteFile(self, []byte(""), 0o755))

	enginePath := filepath.Join(engineDir, engineBinaryName())
	require.NoError(t, os.WriteFile(enginePath, []byte(""), 0o755))

	resolved, err := ResolveBundledEnginePath(self)
	require.NoError(t, err)
	require.Equal(t, enginePath, resolved)
}

func TestResolveBundledEnginePathMissing(t *testing.T) {
	t.Parallel()

	self := filepath.Join(t.TempDir(), "bin", "voxscribe")
	require.NoError(t, os.MkdirAll(filepath.Dir(self), 0o755))
	require.NoError(t, os.WriteFile(self, []byte(""), 0o755))

	_, err := ResolveBundledEnginePath(self)
	require.ErrorIs(t, err, ErrEngineNotFound)
}

func TestResolveBundledEnginePathFindsPackagingPathForLocalDev(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	self := filepath.Join(root, "voxscribe")
	require.NoError(t, os.WriteFile(self, []byte(""), 0o755))

	targetDir := filepath.Join(root, "packaging", "whisper", platform.CurrentRuntime().Target())
	require.NoError(t, os.MkdirAll(targetDir, 0o755))
	enginePath := filepath.Join(targetDir, engineBinaryName())
	require.NoError(t, os.WriteFile(enginePath, []byte(""), 0o755))

	resolved, err := ResolveBundledEnginePath(self)
	require.NoError(t, err)
	require.Equal(t, enginePath, resolved)
}

func TestRunnerStreamsSegmentsAndReadsJSON(t *testing.T) {
	t.Parallel()

	runner := &Runner{Executable: writeFakeEngine(t, fakeEngineScript)}
	audioPath := filepath.Join(t.TempDir(), "in.wav")
	require.NoError(t, os.WriteFile(audioPath, []byte("RIFF"), 0o644))

	var streamed []Segment
	result, err := runner.Run(context.Background(), Invocation{
		ModelPath: "/models/ggml-tiny.bin",
		AudioPath: audioPath,
		Language:  "",
	}, func(s Segment) {
		streamed = append(streamed, s)
	})
	require.NoError(t, err)
	require.Equal(t, "de", result.Language)
	require.Equal(t, "hello world", result.Text())
	require.Len(t, streamed, 2)
	require.Equal(t, "  hello", streamed[0].Text)
	require.Equal(t, 1500*time.Millisecond, streamed[1].Start)
}

func TestRunnerReportsEngineFailure(t *testing.T) {
	t.Parallel()

	runner := &Runner{Executable: writeFakeEngine(t, "#!/bin/sh\necho 'failed to read audio' >&2\nexit 3\n")}
	_, err := runner.Run(context.Background(), Invocation{ModelPath: "m.bin", AudioPath: "a.wav"}, nil)
	require.Error(t, err)
	require.Contains(t, err.Error(), "failed to read audio")
}

func TestRunnerRequiresPaths(t *testing.T) {
	t.Parallel()

	runner := &Runner{Executable: "/nonexistent"}
	_, err := runner.Run(context.Background(), Invocation{ModelPath: "m.bin"}, nil)
	require.EqualError(t, err, "audio path is required")

	_, err = runner.Run(context.Background(), Invocation{AudioPath: "a.wav"}, nil)
	require.EqualError(t, err, "model path is required")
}

func TestIsMissingSharedLibraryError(t *testing.T) {
	t.Parallel()

	require.True(t, isMissingSharedLibraryError("error while loading shared libraries: libwhisper.so.1: cannot open shared object file"))
	require.True(t, isMissingSharedLibraryError("dyld: Library not loaded: @rpath/libwhisper.dylib"))
	require.False(t, isMissingSharedLibraryError("some other runtime error"))
}

func TestIsIllegalInstructionError(t *testing.T) {
	t.Parallel()

	require.True(t, isIllegalInstructionError("signal: illegal instruction (core dumped)"))
	require.False(t, isIllegalInstructionError("some other runtime error"))
	require.False(t, isIllegalInstructionError(""))
}
