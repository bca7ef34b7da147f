package ui

import (
	"context"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textarea"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/glamour"

	"kiln/internal/chatstore"
	"kiln/internal/engine"
	"kiln/internal/gpu"
	"kiln/internal/models"
	"kiln/internal/progress"
	"kiln/internal/session"
)

const (
	MaxChatWidth     = 100
	HistoryPageSize  = 10
	MaxArtifactLines = 8
)

// ModalWidth follows the window size, clamped to 30..60.
var ModalWidth = 60

type (
	// LoadedMsg reports the end of a Load, successful or not.
	LoadedMsg struct {
		Model string
		Err   error
	}
	UnloadedMsg struct{}

	// TokenMsg is sent from the generation goroutine for every streamed
	// fragment; the fragment is already in the transcript store.
	TokenMsg struct{ ID string }

	GeneratedMsg struct {
		ID    string
		Stats models.Stats
		Err   error
	}

	CatalogMsg struct {
		Models []models.ModelInfo
		Err    error
	}

	GPUMsg struct{ Info gpu.Info }

	TranscriptsMsg struct {
		List []models.TranscriptSummary
		Err  error
	}

	// ModelSwitchedMsg follows a transcript switch to Model.
	ModelSwitchedMsg struct {
		Model string
		Err   error
	}

	CachesClearedMsg struct{ Names []string }
)

type renderedMsg struct {
	source string
	width  int
	out    string
}

// Deps are the long-lived services the UI drives. They outlive the program.
type Deps struct {
	Session *session.Controller
	Chats   *chatstore.Store
	Catalog *engine.Catalog
}

type Model struct {
	Viewport      viewport.Model
	ModelViewport viewport.Model
	TextInput     textarea.Model
	Spinner       spinner.Model
	Renderer      *glamour.TermRenderer
	Program       *tea.Program

	Session *session.Controller
	Chats   *chatstore.Store
	Catalog *engine.Catalog
	ctx     context.Context

	// Mirrors of session state, refreshed in Update.
	State       models.EngineState
	loadPending bool
	Progress    progress.Snapshot
	Streaming   bool
	// StreamingID is the assistant placeholder being filled.
	StreamingID string
	Stats       models.Stats

	CurrentModel       string
	Models             []models.ModelInfo
	SelectedModelIndex int
	GPU                gpu.Info
	GPUProbed          bool

	Err    error
	Notice string

	// rendered caches glamour output per finished assistant message.
	rendered map[string]renderedMsg

	WindowWidth  int
	WindowHeight int

	ModelSelectorOpen bool
	ShortcutsOpen     bool

	HistoryOpen        bool
	HistorySelectedIdx int
	HistoryChats       []models.TranscriptSummary
	HistoryErr         error
	HistoryPage        int
}
