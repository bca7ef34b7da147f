package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"kiln/internal/logger"
	"kiln/internal/ollama"
	"kiln/internal/progress"
)

// ErrRuntimeDown is returned by Create when the Ollama server does not answer.
var ErrRuntimeDown = errors.New("ollama is not running")

// Share of the progress bar spent downloading; the rest is the warm-up.
const pullShare = 0.9

// Ollama is a Runtime backed by a local Ollama server.
type Ollama struct {
	client    *ollama.Client
	keepAlive time.Duration
	log       *slog.Logger
}

var _ Runtime = (*Ollama)(nil)

func NewOllama(client *ollama.Client, keepAlive time.Duration) *Ollama {
	return &Ollama{
		client:    client,
		keepAlive: keepAlive,
		log:       logger.With("kiln.engine"),
	}
}

// Create pulls modelID when it is not installed, then loads it into memory.
func (o *Ollama) Create(ctx context.Context, modelID string, onProgress func(progress.Event)) (Handle, error) {
	if onProgress == nil {
		onProgress = func(progress.Event) {}
	}
	if !o.client.IsRunning(ctx) {
		return nil, fmt.Errorf("%w at %s", ErrRuntimeDown, o.client.BaseURL())
	}

	installed, err := o.client.HasModel(ctx, modelID)
	if err != nil {
		return nil, fmt.Errorf("checking local models: %w", err)
	}

	if !installed {
		o.log.Info("pulling model", "model", modelID)
		agg := newPullAggregator()
		err := o.client.PullModel(ctx, modelID, func(p ollama.PullProgress) {
			onProgress(agg.event(p))
		})
		if err != nil {
			return nil, fmt.Errorf("downloading %s: %w", modelID, err)
		}
	} else {
		onProgress(progress.Event{Progress: 0, Text: "Found " + modelID + " locally"})
	}

	onProgress(progress.Event{Progress: pullShare, Text: "Loading " + modelID + " into memory"})
	start := time.Now()
	if err := o.client.Load(ctx, modelID, o.keepAlive); err != nil {
		return nil, fmt.Errorf("loading %s: %w", modelID, err)
	}
	o.log.Info("model ready", "model", modelID, "load_ms", time.Since(start).Milliseconds())
	onProgress(progress.Event{Progress: 1, Text: "Ready"})

	return newChatHandle(o.client, modelID), nil
}

type layer struct {
	total, completed int64
}

// pullAggregator turns per-layer pull lines into overall progress events.
type pullAggregator struct {
	mu     sync.Mutex
	layers map[string]*layer
	last   float64
}

func newPullAggregator() *pullAggregator {
	return &pullAggregator{layers: make(map[string]*layer)}
}

func (a *pullAggregator) event(p ollama.PullProgress) progress.Event {
	a.mu.Lock()
	defer a.mu.Unlock()

	ev := progress.Event{Text: p.Status}
	if p.Digest != "" {
		l, ok := a.layers[p.Digest]
		if !ok {
			l = &layer{}
			a.layers[p.Digest] = l
		}
		if p.Total > 0 {
			l.total = p.Total
		}
		if p.Completed > l.completed {
			l.completed = p.Completed
		}
		ev.Artifact = ShortDigest(p.Digest)
		ev.ArtifactDone = l.total > 0 && l.completed >= l.total
	}

	var total, done int64
	for _, l := range a.layers {
		total += l.total
		done += min(l.completed, l.total)
	}
	frac := 0.0
	if total > 0 {
		frac = float64(done) / float64(total) * pullShare
	}
	if p.Status == "success" {
		frac = pullShare
	}
	// New layers grow the total; never move the bar backwards.
	if frac < a.last {
		frac = a.last
	}
	a.last = frac
	ev.Progress = frac
	return ev
}

// ShortDigest is the 12-character form Ollama prints for a layer digest.
func ShortDigest(digest string) string {
	d := strings.TrimPrefix(digest, "sha256:")
	if len(d) > 12 {
		d = d[:12]
	}
	return d
}
