package session

import (
	"context"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/fmueller/voxscribe/internal/audio"
	"github.com/fmueller/voxscribe/internal/whisper"
	"github.com/stretchr/testify/require"
)

type decodeCall struct {
	model   string
	id      string
	opts    whisper.DecodeOptions
	samples int
}

// fakeBackend implements whisper.Loader. Model refs starting with "english"
// load as English-only models.
type fakeBackend struct {
	mu      sync.Mutex
	loads   []string
	unloads []string
	decodes []decodeCall

	loadErr   map[string]error
	decodeErr error
	detected  string
	segments  []string
	statuses  []string

	loadGate      chan struct{}
	loadStarted   chan string
	decodeGate    chan struct{}
	decodeStarted chan string

	inflight   atomic.Int32
	reentrancy atomic.Bool
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		detected: "de",
		segments: []string{" hello", " world"},
	}
}

func (b *fakeBackend) Load(ctx context.Context, ref string, status whisper.StatusFunc) (whisper.Model, error) {
	b.mu.Lock()
	b.loads = append(b.loads, ref)
	err := b.loadErr[ref]
	statuses := b.statuses
	b.mu.Unlock()

	for _, s := range statuses {
		status(s)
	}

	if b.loadGate != nil {
		b.loadStarted <- ref
		select {
		case <-b.loadGate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}

	return &fakeModel{
		backend: b,
		name:    ref,
		caps:    whisper.Capabilities{LanguageDetection: !strings.HasPrefix(ref, "english")},
	}, nil
}

func (b *fakeBackend) snapshot() (loads, unloads []string, decodes []decodeCall) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.loads...), append([]string(nil), b.unloads...), append([]decodeCall(nil), b.decodes...)
}

type fakeModel struct {
	backend *fakeBackend
	name    string
	caps    whisper.Capabilities
}

func (m *fakeModel) Name() string                       { return m.name }
func (m *fakeModel) Capabilities() whisper.Capabilities { return m.caps }

func (m *fakeModel) Decode(ctx context.Context, samples []float32, opts whisper.DecodeOptions, onSegment whisper.SegmentFunc) (whisper.Transcription, error) {
	b := m.backend
	if b.inflight.Add(1) > 1 {
		b.reentrancy.Store(true)
	}
	defer b.inflight.Add(-1)

	id := ""
	if len(samples) > 0 {
		id = idFromSamples(samples)
	}

	b.mu.Lock()
	b.decodes = append(b.decodes, decodeCall{model: m.name, id: id, opts: opts, samples: len(samples)})
	decodeErr := b.decodeErr
	segments := b.segments
	detected := b.detected
	b.mu.Unlock()

	if b.decodeGate != nil {
		b.decodeStarted <- id
		select {
		case <-b.decodeGate:
		case <-ctx.Done():
			return whisper.Transcription{}, ctx.Err()
		}
	}
	if decodeErr != nil {
		return whisper.Transcription{}, decodeErr
	}

	language := detected
	if !opts.DetectLanguage {
		language = opts.Language
	}
	out := whisper.Transcription{Language: language}
	if silent(samples) {
		return out, nil
	}

	for i, text := range segments {
		segment := whisper.Segment{
			Start: time.Duration(i) * time.Second,
			End:   time.Duration(i+1) * time.Second,
			Text:  text,
		}
		out.Segments = append(out.Segments, segment)
		onSegment(segment)
	}
	return out, nil
}

func (m *fakeModel) Close() error {
	m.backend.mu.Lock()
	m.backend.unloads = append(m.backend.unloads, m.name)
	m.backend.mu.Unlock()
	return nil
}

func silent(samples []float32) bool {
	for _, s := range samples {
		if s != 0 {
			return false
		}
	}
	return true
}

// Test fixtures encode a request marker in the first sample's amplitude so the
// fake model can tell requests apart.
func idFromSamples(samples []float32) string {
	switch {
	case samples[0] > 0.45:
		return "b"
	case samples[0] > 0.15:
		return "a"
	default:
		return ""
	}
}

func writeTone(t *testing.T, name string, amplitude float32, seconds float64) string {
	t.Helper()

	samples := make([]float32, int(seconds*audio.TargetSampleRate))
	for i := range samples {
		samples[i] = amplitude
	}
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, audio.WriteWAV(path, samples, audio.TargetSampleRate))
	return path
}

func speech(t *testing.T) string {
	return writeTone(t, "speech.wav", 0.25, 1)
}

func newTestManager(t *testing.T, backend *fakeBackend, mutate func(*Config)) *Manager {
	t.Helper()

	cfg := Config{Loader: backend, PrefillWithLanguage: true}
	if mutate != nil {
		mutate(&cfg)
	}
	m, err := New(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Close() })
	return m
}

type recorder struct {
	mu     sync.Mutex
	events []Progress
}

func (r *recorder) listen(p Progress) {
	r.mu.Lock()
	r.events = append(r.events, p)
	r.mu.Unlock()
}

func (r *recorder) snapshot() []Progress {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Progress(nil), r.events...)
}
