package cli

import (
	"bytes"
	"context"
	"math"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/fmueller/voxscribe/internal/audio"
	"github.com/fmueller/voxscribe/internal/config"
	"github.com/fmueller/voxscribe/internal/session"
	"github.com/stretchr/testify/require"
)

func runCommand(t *testing.T, args []string) (stdout string, stderr string, err error) {
	t.Helper()
	return runAppCommand(t, newAppState(), args)
}

// runAppCommand isolates the run from the user's config file.
func runAppCommand(t *testing.T, app *appState, args []string) (stdout string, stderr string, err error) {
	t.Helper()

	cmd := newRootCmd(app)
	outBuf := new(bytes.Buffer)
	errBuf := new(bytes.Buffer)

	cmd.SetOut(outBuf)
	cmd.SetErr(errBuf)
	cmd.SetArgs(append([]string{"--config", filepath.Join(t.TempDir(), "config.yaml")}, args...))

	err = cmd.Execute()
	return outBuf.String(), errBuf.String(), err
}

type fakeTranscriber struct {
	mu       sync.Mutex
	requests []session.Request
	results  map[string]session.Result
	progress []string
	listener session.Listener
	closed   bool
}

func (f *fakeTranscriber) Transcribe(_ context.Context, req session.Request) session.Result {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	listener := f.listener
	res, ok := f.results[filepath.Base(req.AudioPath)]
	f.mu.Unlock()

	for _, text := range f.progress {
		if listener != nil {
			listener(session.Progress{Text: text})
		}
	}
	if !ok {
		res = session.Result{Model: req.Model, Language: "en", Text: "hello world"}
	}
	return res
}

func (f *fakeTranscriber) SetListener(l session.Listener) {
	f.mu.Lock()
	f.listener = l
	f.mu.Unlock()
}

func (f *fakeTranscriber) Current() (session.ModelHandle, bool) {
	return session.ModelHandle{}, false
}

func (f *fakeTranscriber) Close() error {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
	return nil
}

func newFakeApp(fake *fakeTranscriber) *appState {
	app := newAppState()
	app.cfg = config.Default()
	app.cfg.History = false
	app.managerFn = func(config.Config, session.Observer) (transcriber, error) {
		return fake, nil
	}
	return app
}

func writeToneWAV(t *testing.T, name string, amplitude float64, seconds float64) string {
	t.Helper()

	samples := make([]float32, int(seconds*audio.TargetSampleRate))
	for i := range samples {
		samples[i] = float32(amplitude * math.Sin(2*math.Pi*440*float64(i)/audio.TargetSampleRate))
	}
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, audio.EncodeWAV(samples, audio.TargetSampleRate), 0o644))
	return path
}
