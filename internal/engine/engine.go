// Package engine is the boundary to the inference runtime: it creates a
// ready-to-use handle for a model, reporting load progress, and streams
// chat completions through that handle.
package engine

import (
	"context"

	"kiln/internal/models"
	"kiln/internal/progress"
)

// Runtime loads models. Create blocks until the model is ready or loading
// failed; onProgress is called from the loading goroutine.
type Runtime interface {
	Create(ctx context.Context, modelID string, onProgress func(progress.Event)) (Handle, error)
}

// Handle is a loaded model.
type Handle interface {
	// Stream sends the conversation and calls onDelta with every text
	// fragment of the reply, in order. It returns once the reply is complete.
	Stream(ctx context.Context, messages []models.Message, onDelta func(string)) error
	// Close releases the model's memory in the runtime.
	Close(ctx context.Context) error
}
