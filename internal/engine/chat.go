package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"

	"kiln/internal/logger"
	"kiln/internal/models"
	"kiln/internal/ollama"
)

// chatHandle streams completions through Ollama's OpenAI-compatible API.
type chatHandle struct {
	openai openai.Client
	ollama *ollama.Client
	model  string
	log    *slog.Logger
}

var _ Handle = (*chatHandle)(nil)

func newChatHandle(client *ollama.Client, model string) *chatHandle {
	return &chatHandle{
		openai: openai.NewClient(
			// Ollama ignores the key but the client requires one.
			option.WithAPIKey("ollama"),
			option.WithBaseURL(client.BaseURL()+"/v1/"),
		),
		ollama: client,
		model:  model,
		log:    logger.With("kiln.engine"),
	}
}

func (h *chatHandle) Stream(ctx context.Context, messages []models.Message, onDelta func(string)) error {
	params := openai.ChatCompletionNewParams{
		Model:    h.model,
		Messages: toParams(messages),
	}

	start := time.Now()
	stream := h.openai.Chat.Completions.NewStreaming(ctx, params)
	defer stream.Close()

	chunks := 0
	for stream.Next() {
		chunk := stream.Current()
		if len(chunk.Choices) == 0 {
			continue
		}
		if delta := chunk.Choices[0].Delta.Content; delta != "" {
			chunks++
			onDelta(delta)
		}
	}
	if err := stream.Err(); err != nil {
		return fmt.Errorf("streaming completion: %w", err)
	}

	h.log.Debug("completion streamed",
		"model", h.model,
		"chunks", chunks,
		"duration_ms", time.Since(start).Milliseconds())
	return nil
}

func (h *chatHandle) Close(ctx context.Context) error {
	return h.ollama.Release(ctx, h.model)
}

func toParams(messages []models.Message) []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(messages))
	for _, m := range messages {
		switch m.Role {
		case models.RoleSystem:
			out = append(out, openai.SystemMessage(m.Content))
		case models.RoleAssistant:
			out = append(out, openai.AssistantMessage(m.Content))
		default:
			out = append(out, openai.UserMessage(m.Content))
		}
	}
	return out
}
