package session

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/fmueller/voxscribe/internal/whisper"
	"go.uber.org/zap"
)

const initializingMessage = "Initializing model..."

// ModelCache holds at most one loaded model. EnsureLoaded and Unload are
// driven from a single goroutine; Current may be called from anywhere.
type ModelCache struct {
	loader   whisper.Loader
	logger   *zap.Logger
	observer Observer

	// status receives load notifications while a load is in flight.
	status whisper.StatusFunc

	// defaultModel is what the default alias resolves to.
	defaultModel string

	mu     sync.Mutex
	handle ModelHandle
	model  whisper.Model
}

func NewModelCache(loader whisper.Loader, logger *zap.Logger) *ModelCache {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ModelCache{
		loader:       loader,
		logger:       logger,
		observer:     nopObserver{},
		defaultModel: whisper.DefaultModel,
	}
}

// EnsureLoaded returns the resident model when it satisfies identifier and
// otherwise replaces it. A failed or canceled load leaves the cache empty.
func (c *ModelCache) EnsureLoaded(ctx context.Context, identifier string) (ModelHandle, error) {
	handle, _, err := c.acquire(ctx, identifier)
	return handle, err
}

func (c *ModelCache) Current() (ModelHandle, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.handle.State == StateUnloaded {
		return ModelHandle{}, false
	}
	return c.handle, true
}

// Unload releases the resident model, if any.
func (c *ModelCache) Unload() {
	c.mu.Lock()
	model, name := c.model, c.handle.Name
	c.model = nil
	c.handle = ModelHandle{}
	c.mu.Unlock()

	if model != nil {
		c.release(model, name)
	}
}

func (c *ModelCache) acquire(ctx context.Context, identifier string) (ModelHandle, whisper.Model, error) {
	key := c.canonical(identifier)

	c.mu.Lock()
	if c.handle.State == StateReady && c.handle.matches(key) {
		handle, model := c.handle, c.model
		c.mu.Unlock()
		c.logger.Debug("reusing resident model", zap.String("model", handle.Name))
		return handle, model, nil
	}
	previous, previousName := c.model, c.handle.Name
	c.model = nil
	c.handle = ModelHandle{Requested: key, State: StateLoading}
	c.mu.Unlock()

	if previous != nil {
		c.release(previous, previousName)
	}

	c.notify(initializingMessage)
	start := time.Now()
	c.logger.Info("loading model", zap.String("model", key))

	model, err := c.loader.Load(ctx, key, c.notify)
	if err == nil && ctx.Err() != nil {
		_ = model.Close()
		model, err = nil, ctx.Err()
	}
	if err != nil {
		c.mu.Lock()
		c.handle = ModelHandle{}
		c.mu.Unlock()

		if ctxErr := ctx.Err(); ctxErr != nil {
			c.logger.Info("model load canceled", zap.String("model", key))
			return ModelHandle{}, nil, fmt.Errorf("load model %q: %w", key, ctxErr)
		}
		c.logger.Warn("model load failed", zap.String("model", key), zap.Error(err))
		return ModelHandle{}, nil, fmt.Errorf("%w: %q: %w", ErrModelLoad, key, err)
	}

	handle := ModelHandle{
		Requested:    key,
		Name:         model.Name(),
		State:        StateReady,
		Capabilities: model.Capabilities(),
	}
	c.mu.Lock()
	c.handle = handle
	c.model = model
	c.mu.Unlock()

	elapsed := time.Since(start)
	c.observer.ModelLoaded(handle.Name, elapsed)
	c.logger.Info("model ready", zap.String("model", handle.Name), zap.Duration("elapsed", elapsed))
	return handle, model, nil
}

func (c *ModelCache) release(model whisper.Model, name string) {
	if err := model.Close(); err != nil {
		c.logger.Warn("model close failed", zap.String("model", name), zap.Error(err))
	}
	c.observer.ModelUnloaded(name)
	c.logger.Info("model unloaded", zap.String("model", name))
}

func (c *ModelCache) notify(message string) {
	if c.status != nil {
		c.status(message)
	}
}

func (h ModelHandle) matches(key string) bool {
	return key == h.Requested || key == h.Name
}

// canonical folds the default alias onto the configured default model so
// both spellings share one resident model.
func (c *ModelCache) canonical(identifier string) string {
	if whisper.IsAlias(identifier) {
		return c.defaultModel
	}
	return strings.TrimSpace(identifier)
}

// setDefaultModel changes the alias target. An empty or aliased name keeps
// the registry default.
func (c *ModelCache) setDefaultModel(name string) {
	name = strings.TrimSpace(name)
	if whisper.IsAlias(name) {
		name = whisper.DefaultModel
	}
	c.defaultModel = name
}
