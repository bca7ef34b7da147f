// Package session owns the lifecycle of the loaded model: loading with
// progress, unloading, clearing caches and streaming generations.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"regexp"
	"sync"
	"time"
	"unicode/utf8"

	"kiln/internal/cache"
	"kiln/internal/engine"
	"kiln/internal/kv"
	"kiln/internal/logger"
	"kiln/internal/models"
	"kiln/internal/progress"
)

var (
	ErrNotReady     = errors.New("engine not ready")
	ErrEmptyHistory = errors.New("history is empty")
	// ErrSuperseded is returned by a Load that an Unload overtook.
	ErrSuperseded = errors.New("load superseded by unload")
)

// CachePattern selects the named caches ClearCaches removes.
var CachePattern = regexp.MustCompile(`(?i)kiln|ollama|catalog`)

const minElapsed = time.Millisecond

// Controller is the single engine session of the process. Its methods may
// be called from any goroutine.
type Controller struct {
	runtime engine.Runtime
	caches  *cache.Dir
	store   kv.Store
	observe func(progress.Snapshot)
	log     *slog.Logger

	tracker *progress.Tracker

	mu        sync.Mutex
	state     models.EngineState
	model     string
	handle    engine.Handle
	streaming bool
	stats     models.Stats
	// gen changes on every Load and Unload so a stale load can tell it lost.
	gen uint64
}

type Option func(*Controller)

// WithCaches lets ClearCaches remove named caches from dir.
func WithCaches(dir *cache.Dir) Option {
	return func(c *Controller) { c.caches = dir }
}

// WithStore lets ClearCaches drop the key-value database behind store.
func WithStore(store kv.Store) Option {
	return func(c *Controller) { c.store = store }
}

// WithProgressObserver receives every snapshot produced while loading.
func WithProgressObserver(fn func(progress.Snapshot)) Option {
	return func(c *Controller) { c.observe = fn }
}

func New(rt engine.Runtime, opts ...Option) *Controller {
	c := &Controller{
		runtime: rt,
		tracker: progress.NewTracker(),
		log:     logger.With("kiln.session"),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *Controller) State() models.EngineState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Controller) Streaming() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.streaming
}

// Model is the model being loaded or loaded, "" when idle.
func (c *Controller) Model() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.model
}

func (c *Controller) Stats() models.Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats
}

func (c *Controller) Progress() progress.Snapshot {
	return c.tracker.Snapshot()
}

// Load creates a handle for model. It does nothing unless the session is
// idle. On failure the session returns to idle. A load overtaken by Unload
// releases its handle and returns ErrSuperseded.
func (c *Controller) Load(ctx context.Context, model string) error {
	c.mu.Lock()
	if c.state != models.StateIdle {
		c.mu.Unlock()
		return nil
	}
	c.state = models.StateLoading
	c.model = model
	c.gen++
	gen := c.gen
	c.tracker.Reset("Initializing")
	c.mu.Unlock()

	c.notify(c.tracker.Snapshot())
	c.log.Info("loading model", "model", model)
	start := time.Now()

	h, err := c.runtime.Create(ctx, model, func(ev progress.Event) {
		c.mu.Lock()
		if c.gen != gen {
			c.mu.Unlock()
			return
		}
		snap := c.tracker.Update(ev)
		c.mu.Unlock()
		c.notify(snap)
	})

	c.mu.Lock()
	if err != nil {
		if c.gen == gen {
			c.state = models.StateIdle
			c.model = ""
			c.handle = nil
		}
		c.mu.Unlock()
		c.log.Warn("loading model failed", "model", model, "error", err)
		return fmt.Errorf("loading %s: %w", model, err)
	}
	if c.gen != gen {
		// Unloaded while loading; the new handle has no owner.
		c.mu.Unlock()
		c.closeHandle(ctx, h, model)
		return ErrSuperseded
	}
	c.handle = h
	c.state = models.StateReady
	c.mu.Unlock()

	c.log.Info("model loaded", "model", model, "duration_ms", time.Since(start).Milliseconds())
	return nil
}

// Unload drops the handle and returns to idle. Releasing the model in the
// runtime is best effort.
func (c *Controller) Unload(ctx context.Context) {
	c.mu.Lock()
	h, model := c.handle, c.model
	c.handle = nil
	c.state = models.StateIdle
	c.model = ""
	c.gen++
	c.tracker.Reset("")
	c.mu.Unlock()

	if h != nil {
		c.closeHandle(ctx, h, model)
	}
	c.log.Info("model unloaded", "model", model)
}

func (c *Controller) closeHandle(ctx context.Context, h engine.Handle, model string) {
	if err := h.Close(ctx); err != nil {
		c.log.Debug("releasing model failed", "model", model, "error", err)
	}
}

// ClearCaches removes the runtime's named caches and drops the key-value
// database. Every failure is logged and ignored. It returns the names of
// the caches it removed.
func (c *Controller) ClearCaches(ctx context.Context) []string {
	var deleted []string
	if c.caches != nil {
		var err error
		deleted, err = c.caches.DeleteMatching(CachePattern)
		if err != nil {
			c.log.Debug("clearing caches failed", "error", err)
		}
	}
	if c.store != nil {
		if err := c.store.Drop(ctx); err != nil {
			c.log.Debug("dropping database failed", "error", err)
		}
	}
	c.log.Info("caches cleared", "caches", deleted)
	return deleted
}

// Generate streams a reply to history, calling onToken with every fragment
// in arrival order. Stats are replaced only when the stream completes.
func (c *Controller) Generate(ctx context.Context, history []models.Message, onToken func(string)) (models.Stats, error) {
	c.mu.Lock()
	h := c.handle
	if h == nil {
		c.mu.Unlock()
		return models.Stats{}, ErrNotReady
	}
	if len(history) == 0 {
		c.mu.Unlock()
		return models.Stats{}, ErrEmptyHistory
	}
	c.streaming = true
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		c.streaming = false
		c.mu.Unlock()
	}()

	c.log.Debug("generating",
		"messages", len(history),
		"prompt", logger.Truncate(history[len(history)-1].Content, 80))

	start := time.Now()
	runes := 0
	err := h.Stream(ctx, history, func(delta string) {
		runes += utf8.RuneCountInString(delta)
		if onToken != nil {
			onToken(delta)
		}
	})
	if err != nil {
		c.log.Warn("generation failed", "error", err)
		return models.Stats{}, fmt.Errorf("generating: %w", err)
	}

	elapsed := time.Since(start)
	stats := EstimateStats(runes, elapsed)

	c.mu.Lock()
	c.stats = stats
	c.mu.Unlock()

	c.log.Debug("generation done",
		"tokens", stats.Tokens,
		"tokens_per_second", math.Round(stats.TokensPerSecond*10)/10,
		"duration_ms", elapsed.Milliseconds())
	return stats, nil
}

// EstimateStats approximates the token count as one token per four
// characters, with at least one token.
func EstimateStats(runes int, elapsed time.Duration) models.Stats {
	tokens := max(1, int(math.Round(float64(runes)/4)))
	secs := max(elapsed, minElapsed).Seconds()
	return models.Stats{
		Tokens:          tokens,
		TokensPerSecond: float64(tokens) / secs,
		Elapsed:         elapsed,
	}
}

func (c *Controller) notify(s progress.Snapshot) {
	if c.observe != nil {
		c.observe(s)
	}
}
