package models

import "time"

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

// Message is one entry of a chat transcript. Content grows while an
// assistant reply is streaming and is left alone afterwards.
type Message struct {
	ID      string `json:"id"`
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ModelInfo describes a model the runtime can load.
type ModelInfo struct {
	ID          string
	Label       string
	Description string
	SizeBytes   int64 // 0 when the model is not installed locally
	Installed   bool
}

// TranscriptSummary is a row of the saved transcripts list.
type TranscriptSummary struct {
	ModelID        string
	MessageCount   int
	UpdatedAt      time.Time
	LastUserPrompt string
}

// EngineState is the lifecycle state of the engine session.
type EngineState int

const (
	StateIdle EngineState = iota
	StateLoading
	StateReady
)

func (s EngineState) String() string {
	switch s {
	case StateLoading:
		return "loading"
	case StateReady:
		return "ready"
	default:
		return "idle"
	}
}

// Stats is the throughput estimate of the last generation.
type Stats struct {
	Tokens          int
	TokensPerSecond float64
	Elapsed         time.Duration
}
