package ui

import (
	"context"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textarea"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"kiln/internal/gpu"
)

func InitialModel(ctx context.Context, deps Deps) Model {
	ti := textarea.New()
	ti.Placeholder = "Load a model to start chatting (Ctrl+L)"
	ti.Prompt = "❯ "
	ti.ShowLineNumbers = false
	ti.CharLimit = 0
	ti.MaxHeight = 6
	ti.SetHeight(2)
	ti.SetWidth(80)
	ti.FocusedStyle.Prompt = lipgloss.NewStyle().Foreground(lipgloss.Color("#B39DDB")).Bold(true)
	ti.BlurredStyle.Prompt = lipgloss.NewStyle().Foreground(lipgloss.Color("#B39DDB")).Bold(true)
	ti.FocusedStyle.Placeholder = lipgloss.NewStyle().Foreground(lipgloss.Color("#545454"))
	ti.BlurredStyle.Placeholder = lipgloss.NewStyle().Foreground(lipgloss.Color("#545454"))
	ti.FocusedStyle.CursorLine = lipgloss.NewStyle()
	ti.BlurredStyle.CursorLine = lipgloss.NewStyle()
	ti.Focus()

	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("#B39DDB"))

	m := Model{
		TextInput:     ti,
		Viewport:      viewport.New(60, 15),
		ModelViewport: viewport.New(ModalWidth-4, 15),
		Spinner:       sp,
		Session:       deps.Session,
		Chats:         deps.Chats,
		Catalog:       deps.Catalog,
		ctx:           ctx,
		CurrentModel:  deps.Chats.ModelID(),
		rendered:      make(map[string]renderedMsg),
	}
	if deps.Catalog != nil {
		m.Models = OrderModels(deps.Catalog.Cached())
	}
	if _, idx, ok := FindModelByID(m.Models, m.CurrentModel); ok {
		m.SelectedModelIndex = idx
	}
	return m
}

func (m *Model) Init() tea.Cmd {
	return tea.Batch(
		m.TextInput.Cursor.BlinkCmd(),
		m.Spinner.Tick,
		m.fetchCatalogCmd(),
		probeGPUCmd(m.ctx),
	)
}

func NewProgram(ctx context.Context, deps Deps) *tea.Program {
	m := InitialModel(ctx, deps)
	p := tea.NewProgram(&m, tea.WithAltScreen())
	m.Program = p
	return p
}

func (m *Model) fetchCatalogCmd() tea.Cmd {
	if m.Catalog == nil {
		return nil
	}
	cat, ctx := m.Catalog, m.ctx
	return func() tea.Msg {
		list, err := cat.List(ctx)
		return CatalogMsg{Models: list, Err: err}
	}
}

func probeGPUCmd(ctx context.Context) tea.Cmd {
	return func() tea.Msg {
		return GPUMsg{Info: gpu.Probe(ctx)}
	}
}
