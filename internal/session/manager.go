package session

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fmueller/voxscribe/internal/audio"
	"github.com/fmueller/voxscribe/internal/whisper"
	"go.uber.org/zap"
)

const DefaultQueueSize = 32

type Config struct {
	Loader whisper.Loader
	// DecodeAudio turns a file into mono samples at 16 kHz. Defaults to
	// audio.LoadSamples.
	DecodeAudio func(path string) ([]float32, error)
	// DefaultModel is what the "default" alias loads. Defaults to
	// whisper.DefaultModel.
	DefaultModel        string
	PrefillWithLanguage bool
	QueueSize           int
	Logger              *zap.Logger
	Observer            Observer
}

// Manager serializes transcriptions against a single resident model. All
// loads, decodes and progress callbacks run on one worker goroutine.
type Manager struct {
	cache       *ModelCache
	decodeAudio func(path string) ([]float32, error)
	prefill     bool
	logger      *zap.Logger
	observer    Observer

	listenerMu sync.RWMutex
	listener   Listener

	sendMu  sync.RWMutex
	closed  bool
	jobs    chan *job
	pending atomic.Int64

	shuttingDown atomic.Bool
	closeOnce    sync.Once
	done         chan struct{}

	// active is only touched by the worker goroutine.
	active *job
}

const (
	jobQueued int32 = iota
	jobRunning
	jobAbandoned
)

type job struct {
	ctx    context.Context
	req    Request
	state  atomic.Int32
	result chan Result
}

func New(cfg Config) (*Manager, error) {
	if cfg.Loader == nil {
		return nil, errors.New("session: loader is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Observer == nil {
		cfg.Observer = nopObserver{}
	}
	if cfg.DecodeAudio == nil {
		cfg.DecodeAudio = audio.LoadSamples
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultQueueSize
	}

	m := &Manager{
		decodeAudio: cfg.DecodeAudio,
		prefill:     cfg.PrefillWithLanguage,
		logger:      cfg.Logger,
		observer:    cfg.Observer,
		jobs:        make(chan *job, cfg.QueueSize),
		done:        make(chan struct{}),
	}
	m.cache = NewModelCache(cfg.Loader, cfg.Logger)
	m.cache.observer = cfg.Observer
	m.cache.status = m.emitStatus
	m.cache.setDefaultModel(cfg.DefaultModel)

	go m.work()
	return m, nil
}

// Transcribe queues req and blocks until its result is ready. Per-request
// failures are reported on Result.Err.
func (m *Manager) Transcribe(ctx context.Context, req Request) Result {
	start := time.Now()
	req = normalizeRequest(req)

	if err := validateRequest(req); err != nil {
		return m.finish(Result{RequestID: req.ID, Model: req.Model, Err: err}, start)
	}

	j := &job{ctx: ctx, req: req, result: make(chan Result, 1)}
	if err := m.enqueue(j); err != nil {
		return m.finish(Result{RequestID: req.ID, Model: req.Model, Err: err}, start)
	}

	select {
	case res := <-j.result:
		return m.finish(res, start)
	case <-ctx.Done():
		if j.state.CompareAndSwap(jobQueued, jobAbandoned) {
			return m.finish(Result{RequestID: req.ID, Model: req.Model, Err: ctx.Err()}, start)
		}
		return m.finish(<-j.result, start)
	}
}

// SetListener installs the single progress listener. A nil listener clears it.
func (m *Manager) SetListener(l Listener) {
	m.listenerMu.Lock()
	m.listener = l
	m.listenerMu.Unlock()
}

func (m *Manager) Current() (ModelHandle, bool) {
	return m.cache.Current()
}

// Close lets the running request finish, rejects queued ones with
// ErrShutdown and unloads the model.
func (m *Manager) Close() error {
	m.closeOnce.Do(func() {
		m.sendMu.Lock()
		m.closed = true
		m.shuttingDown.Store(true)
		close(m.jobs)
		m.sendMu.Unlock()

		<-m.done
		m.cache.Unload()
		m.logger.Debug("session manager closed")
	})
	return nil
}

func (m *Manager) enqueue(j *job) error {
	m.sendMu.RLock()
	defer m.sendMu.RUnlock()

	if m.closed {
		return ErrShutdown
	}

	// Count before the send so the worker never observes a negative depth.
	depth := m.pending.Add(1)
	select {
	case m.jobs <- j:
		m.observer.QueueDepth(int(depth))
		return nil
	default:
		m.pending.Add(-1)
		return fmt.Errorf("%w (%d pending)", ErrQueueFull, cap(m.jobs))
	}
}

func (m *Manager) work() {
	defer close(m.done)

	for j := range m.jobs {
		m.observer.QueueDepth(int(m.pending.Add(-1)))

		if !j.state.CompareAndSwap(jobQueued, jobRunning) {
			continue
		}
		if m.shuttingDown.Load() {
			j.result <- Result{RequestID: j.req.ID, Model: j.req.Model, Err: ErrShutdown}
			continue
		}

		m.active = j
		j.result <- m.run(j.ctx, j.req)
		m.active = nil
	}
}

func (m *Manager) run(ctx context.Context, req Request) Result {
	result := Result{RequestID: req.ID, Model: req.Model}
	if err := ctx.Err(); err != nil {
		result.Err = err
		return result
	}

	samples, err := m.decodeAudio(req.AudioPath)
	if err != nil {
		result.Err = fmt.Errorf("%w: read audio %s: %w", ErrDecode, req.AudioPath, err)
		return result
	}
	if len(samples) == 0 {
		result.Err = fmt.Errorf("%w: %s", ErrEmptyAudio, req.AudioPath)
		return result
	}

	handle, model, err := m.cache.acquire(ctx, req.Model)
	if err != nil {
		result.Err = err
		return result
	}
	result.Model = handle.Name

	opts := decodeOptions(req.Language, handle.Capabilities, m.prefill)
	logger := m.logger.With(zap.String("model", handle.Name), zap.String("audio", req.AudioPath))
	logger.Debug("decode started", zap.Bool("detect_language", opts.DetectLanguage), zap.Bool("prefill", opts.UsePrefill))

	var (
		partial strings.Builder
		elapsed time.Duration
	)
	start := time.Now()
	out, err := model.Decode(ctx, samples, opts, func(segment whisper.Segment) {
		partial.WriteString(segment.Text)
		if segment.End > elapsed {
			elapsed = segment.End
		}
		m.emit(Progress{RequestID: req.ID, Text: strings.TrimSpace(partial.String()), Elapsed: elapsed})
	})
	decodeElapsed := time.Since(start)
	m.observer.DecodeFinished(handle.Name, decodeElapsed)

	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			logger.Info("decode canceled", zap.Duration("elapsed", decodeElapsed))
			result.Err = ctxErr
			return result
		}
		logger.Warn("decode failed", zap.Duration("elapsed", decodeElapsed), zap.Error(err))
		result.Err = fmt.Errorf("%w: %w", ErrDecode, err)
		return result
	}

	result.Language = resultLanguage(req.Language, opts, out.Language)
	result.Text = out.Text()
	logger.Debug("decode finished", zap.Duration("elapsed", decodeElapsed), zap.String("language", result.Language))
	return result
}

func (m *Manager) finish(res Result, start time.Time) Result {
	m.observer.RequestFinished(Kind(res.Err), time.Since(start))
	return res
}

func (m *Manager) emit(p Progress) {
	m.listenerMu.RLock()
	l := m.listener
	m.listenerMu.RUnlock()

	if l != nil {
		l(p)
	}
}

func (m *Manager) emitStatus(message string) {
	var id string
	if m.active != nil {
		id = m.active.req.ID
	}
	m.emit(Progress{RequestID: id, Text: message})
}

func normalizeRequest(req Request) Request {
	req.AudioPath = strings.TrimSpace(req.AudioPath)
	req.Model = strings.TrimSpace(req.Model)
	req.Language = strings.ToLower(strings.TrimSpace(req.Language))
	if req.Language == "auto" {
		req.Language = ""
	}
	return req
}

func validateRequest(req Request) error {
	if req.Model == "" {
		return fmt.Errorf("%w: model identifier is required", ErrInvalidRequest)
	}
	if req.AudioPath == "" {
		return fmt.Errorf("%w: audio path is required", ErrInvalidRequest)
	}

	f, err := os.Open(req.AudioPath)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}
	if info.IsDir() {
		return fmt.Errorf("%w: %s is a directory", ErrInvalidRequest, req.AudioPath)
	}
	return nil
}

// decodeOptions applies the language policy. Detection never primes the
// decoder; a model without detection is English-only and decodes as "en".
func decodeOptions(language string, caps whisper.Capabilities, prefill bool) whisper.DecodeOptions {
	if language == "" {
		if caps.LanguageDetection {
			return whisper.DecodeOptions{DetectLanguage: true}
		}
		return whisper.DecodeOptions{Language: "en", UsePrefill: prefill}
	}
	return whisper.DecodeOptions{Language: language, UsePrefill: prefill}
}

func resultLanguage(requested string, opts whisper.DecodeOptions, detected string) string {
	if requested != "" {
		return requested
	}
	if !opts.DetectLanguage {
		return opts.Language
	}
	return detected
}
