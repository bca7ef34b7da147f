package ui

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"

	"kiln/internal/models"
	"kiln/internal/session"
	"kiln/internal/styles"
)

func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var (
		tiCmd tea.Cmd
		vpCmd tea.Cmd
		spCmd tea.Cmd
	)

	switch msg := msg.(type) {
	case spinner.TickMsg:
		m.Spinner, spCmd = m.Spinner.Update(msg)
		m.syncSession()
		if m.State == models.StateLoading || m.Streaming {
			m.UpdateViewport()
		}
		return m, spCmd

	case tea.KeyMsg:
		if m.HistoryOpen {
			return m.updateHistory(msg)
		}
		if m.ModelSelectorOpen {
			return m.updateModelSelector(msg)
		}
		if m.ShortcutsOpen {
			switch msg.String() {
			case "ctrl+c":
				return m, tea.Quit
			case "esc", "enter", "?", "ctrl+s":
				m.ShortcutsOpen = false
			}
			return m, nil
		}

		if isNewlineShortcut(msg) {
			m.TextInput.InsertString("\n")
			m.updateInputLayout()
			return m, nil
		}

		switch msg.Type {
		case tea.KeyCtrlC, tea.KeyEsc:
			return m, tea.Quit

		case tea.KeyCtrlN:
			if m.Streaming {
				return m, nil
			}
			m.Chats.Clear()
			m.Stats = models.Stats{}
			m.Err = nil
			m.Notice = ""
			m.UpdateViewport()
			return m, nil

		case tea.KeyCtrlB:
			if m.State != models.StateIdle {
				m.Notice = "Unload the model (Ctrl+U) to pick another one"
				return m, nil
			}
			m.ModelSelectorOpen = true
			m.HistoryOpen = false
			m.ShortcutsOpen = false
			m.UpdateModelSelectorContent()
			m.SyncModelViewportScroll()
			return m, m.fetchCatalogCmd()

		case tea.KeyCtrlL:
			return m, m.startLoad()

		case tea.KeyCtrlU:
			if m.State == models.StateIdle || m.Streaming {
				return m, nil
			}
			m.Notice = ""
			return m, m.unloadCmd()

		case tea.KeyCtrlX:
			if m.Streaming {
				return m, nil
			}
			return m, m.clearCachesCmd()

		case tea.KeyCtrlS:
			m.ShortcutsOpen = true
			m.ModelSelectorOpen = false
			m.HistoryOpen = false
			return m, nil

		case tea.KeyCtrlH:
			m.ModelSelectorOpen = false
			m.HistoryOpen = true
			m.ShortcutsOpen = false
			m.HistoryPage = 0
			m.HistorySelectedIdx = 0
			m.HistoryErr = nil
			return m, m.fetchTranscriptsCmd()

		case tea.KeyEnter:
			return m, m.submit()
		}

	case LoadedMsg:
		m.loadPending = false
		m.syncSession()
		switch {
		case errors.Is(msg.Err, session.ErrSuperseded):
		case msg.Err != nil:
			m.Err = msg.Err
			m.Notice = ""
		default:
			m.Err = nil
			m.TextInput.Placeholder = "Ask " + msg.Model + " anything..."
		}
		m.UpdateViewport()
		return m, nil

	case UnloadedMsg:
		m.syncSession()
		m.TextInput.Placeholder = "Load a model to start chatting (Ctrl+L)"
		m.UpdateViewport()
		return m, nil

	case TokenMsg:
		m.Streaming = true
		m.UpdateViewport()
		return m, nil

	case GeneratedMsg:
		m.StreamingID = ""
		m.syncSession()
		m.Streaming = false
		if msg.Err != nil {
			text := msg.Err.Error()
			m.Chats.UpdateAssistant(msg.ID, func(prev string) string {
				return prev + "\n[Error] " + text
			})
		}
		m.UpdateViewport()
		return m, nil

	case CatalogMsg:
		if len(msg.Models) > 0 {
			m.setModels(msg.Models)
		}
		if msg.Err != nil && m.ModelSelectorOpen {
			m.Notice = "Ollama unreachable, showing cached catalog"
		}
		if m.ModelSelectorOpen {
			m.UpdateModelSelectorContent()
		}
		return m, nil

	case GPUMsg:
		m.GPU = msg.Info
		m.GPUProbed = true
		return m, nil

	case TranscriptsMsg:
		m.HistoryChats = msg.List
		m.HistoryErr = msg.Err
		m.HistorySelectedIdx = 0
		return m, nil

	case ModelSwitchedMsg:
		m.CurrentModel = msg.Model
		if _, idx, ok := FindModelByID(m.Models, msg.Model); ok {
			m.SelectedModelIndex = idx
		}
		m.Err = msg.Err
		m.Stats = models.Stats{}
		m.UpdateViewport()
		return m, nil

	case CachesClearedMsg:
		if len(msg.Names) == 0 {
			m.Notice = "Caches cleared"
		} else {
			m.Notice = "Cleared " + strings.Join(msg.Names, ", ")
		}
		return m, m.fetchCatalogCmd()

	case tea.WindowSizeMsg:
		m.WindowWidth = msg.Width
		m.WindowHeight = msg.Height

		ModalWidth = min(max(msg.Width-10, 30), 60)
		styles.ContentWidth = ModalWidth - 6

		m.ModelViewport.Width = styles.ContentWidth
		m.ModelViewport.Height = min(max(msg.Height-15, 5), 20)

		chatWidth := min(msg.Width-2, MaxChatWidth)
		m.Viewport.Width = chatWidth - 2

		m.updateInputLayout()
		glamourStyle := "dark"
		if !lipgloss.HasDarkBackground() {
			glamourStyle = "light"
		}
		m.Renderer, _ = glamour.NewTermRenderer(
			glamour.WithStylePath(glamourStyle),
			glamour.WithWordWrap(chatWidth-6),
		)
		m.UpdateViewport()
		return m, nil
	}

	m.TextInput, tiCmd = m.TextInput.Update(msg)
	m.updateInputLayout()

	// Terminal background color replies can leak into the input.
	val := m.TextInput.Value()
	if strings.Contains(val, "]11;rgb:") || strings.Contains(val, "1;rgb:") || strings.Contains(val, "[1;1R") {
		m.TextInput.Reset()
	}

	m.Viewport, vpCmd = m.Viewport.Update(msg)

	return m, tea.Batch(tiCmd, vpCmd)
}

func (m *Model) updateHistory(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	pageStart := m.HistoryPage * HistoryPageSize
	pageLen := min(max(len(m.HistoryChats)-pageStart, 0), HistoryPageSize)

	switch msg.String() {
	case "ctrl+c":
		return m, tea.Quit
	case "esc", "ctrl+h":
		m.HistoryOpen = false
		m.HistoryErr = nil
	case "up", "k":
		if pageLen == 0 {
			return m, nil
		}
		m.HistorySelectedIdx--
		if m.HistorySelectedIdx < 0 {
			m.HistorySelectedIdx = pageLen - 1
		}
	case "down", "j":
		if pageLen == 0 {
			return m, nil
		}
		m.HistorySelectedIdx++
		if m.HistorySelectedIdx >= pageLen {
			m.HistorySelectedIdx = 0
		}
	case "left", "h":
		if m.HistoryPage > 0 {
			m.HistoryPage--
			m.HistorySelectedIdx = 0
		}
	case "right", "l":
		if m.HistoryPage < m.historyPages()-1 {
			m.HistoryPage++
			m.HistorySelectedIdx = 0
		}
	case "enter":
		if pageLen == 0 {
			return m, nil
		}
		chat := m.HistoryChats[pageStart+m.HistorySelectedIdx]
		if m.State != models.StateIdle {
			m.HistoryErr = errors.New("unload the model before switching transcripts")
			return m, nil
		}
		m.HistoryOpen = false
		m.HistoryErr = nil
		return m, m.switchModelCmd(chat.ModelID)
	}
	return m, nil
}

func (m *Model) historyPages() int {
	return max((len(m.HistoryChats)+HistoryPageSize-1)/HistoryPageSize, 1)
}

func (m *Model) updateModelSelector(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "ctrl+c":
		return m, tea.Quit
	case "esc", "ctrl+b":
		m.ModelSelectorOpen = false
		return m, nil
	case "up", "k":
		if len(m.Models) == 0 {
			return m, nil
		}
		m.SelectedModelIndex--
		if m.SelectedModelIndex < 0 {
			m.SelectedModelIndex = len(m.Models) - 1
		}
	case "down", "j":
		if len(m.Models) == 0 {
			return m, nil
		}
		m.SelectedModelIndex++
		if m.SelectedModelIndex >= len(m.Models) {
			m.SelectedModelIndex = 0
		}
	case "enter":
		m.ModelSelectorOpen = false
		if len(m.Models) == 0 {
			return m, nil
		}
		id := m.Models[m.SelectedModelIndex].ID
		if id == m.CurrentModel {
			return m, nil
		}
		return m, m.switchModelCmd(id)
	default:
		return m, nil
	}
	m.SyncModelViewportScroll()
	m.UpdateModelSelectorContent()
	return m, nil
}

// syncSession copies the session state the view depends on.
func (m *Model) syncSession() {
	m.State = m.Session.State()
	if m.loadPending && m.State == models.StateIdle {
		// Load has not started yet.
		m.State = models.StateLoading
	}
	m.Streaming = m.Session.Streaming()
	m.Stats = m.Session.Stats()
	if m.State == models.StateLoading {
		m.Progress = m.Session.Progress()
	}
}

func (m *Model) setModels(list []models.ModelInfo) {
	m.Models = OrderModels(list)
	m.SelectedModelIndex = 0
	if _, idx, ok := FindModelByID(m.Models, m.CurrentModel); ok {
		m.SelectedModelIndex = idx
	}
}

// startLoad begins loading the current model. It does nothing unless the
// session is idle.
func (m *Model) startLoad() tea.Cmd {
	if m.State != models.StateIdle || m.CurrentModel == "" {
		return nil
	}
	m.Err = nil
	m.Notice = ""
	sess, ctx, model := m.Session, m.ctx, m.CurrentModel
	// The spinner tick polls progress while the load runs.
	cmd := func() tea.Msg {
		err := sess.Load(ctx, model)
		return LoadedMsg{Model: model, Err: err}
	}
	m.State = models.StateLoading
	m.loadPending = true
	m.Progress = sess.Progress()
	m.UpdateViewport()
	return cmd
}

func (m *Model) unloadCmd() tea.Cmd {
	sess, ctx := m.Session, m.ctx
	return func() tea.Msg {
		sess.Unload(ctx)
		return UnloadedMsg{}
	}
}

func (m *Model) clearCachesCmd() tea.Cmd {
	sess, ctx := m.Session, m.ctx
	return func() tea.Msg {
		return CachesClearedMsg{Names: sess.ClearCaches(ctx)}
	}
}

func (m *Model) fetchTranscriptsCmd() tea.Cmd {
	chats, ctx := m.Chats, m.ctx
	return func() tea.Msg {
		list, err := chats.ListTranscripts(ctx)
		return TranscriptsMsg{List: list, Err: err}
	}
}

func (m *Model) switchModelCmd(id string) tea.Cmd {
	chats, ctx := m.Chats, m.ctx
	return func() tea.Msg {
		err := chats.SetModel(ctx, id)
		if err != nil {
			err = fmt.Errorf("restoring transcript: %w", err)
		}
		return ModelSwitchedMsg{Model: id, Err: err}
	}
}

// submit sends the input as a user turn. Input is ignored unless a model
// is ready and no reply is streaming.
func (m *Model) submit() tea.Cmd {
	if m.State != models.StateReady || m.Streaming {
		return nil
	}
	input := strings.TrimSpace(m.TextInput.Value())
	if input == "" {
		return nil
	}
	if input == "/clear" || input == "/reset" {
		m.Chats.Clear()
		m.TextInput.Reset()
		m.updateInputLayout()
		m.UpdateViewport()
		return nil
	}

	m.Chats.AppendUser(input)
	placeholder := m.Chats.AppendAssistant("")
	msgs := m.Chats.Messages()
	history := msgs[:len(msgs)-1]

	m.TextInput.Reset()
	m.updateInputLayout()
	m.Streaming = true
	m.StreamingID = placeholder.ID
	m.Err = nil
	m.UpdateViewport()

	return tea.Batch(m.generateCmd(placeholder.ID, history), m.Spinner.Tick)
}

func (m *Model) generateCmd(id string, history []models.Message) tea.Cmd {
	sess, chats, prog := m.Session, m.Chats, m.Program
	ctx := m.ctx
	if ctx == nil {
		ctx = context.Background()
	}
	return func() tea.Msg {
		stats, err := sess.Generate(ctx, history, func(token string) {
			chats.UpdateAssistant(id, func(prev string) string { return prev + token })
			if prog != nil {
				prog.Send(TokenMsg{ID: id})
			}
		})
		return GeneratedMsg{ID: id, Stats: stats, Err: err}
	}
}

func isNewlineShortcut(msg tea.KeyMsg) bool {
	switch msg.String() {
	case "shift+enter", "shift+return", "ctrl+j", "ctrl+enter", "alt+enter":
		return true
	default:
		return false
	}
}

func (m *Model) updateInputLayout() {
	if m.WindowWidth == 0 || m.WindowHeight == 0 {
		return
	}

	inputWidth := max(m.WindowWidth-6, 20)
	contentWidth := max(inputWidth-2, 1)

	maxInputHeight := 6
	lineCount := min(max(WrappedLineCount(m.TextInput.Value(), contentWidth), 1), maxInputHeight)

	m.TextInput.MaxHeight = maxInputHeight
	m.TextInput.SetWidth(inputWidth)
	m.TextInput.SetHeight(lineCount)

	inputBoxHeight := m.TextInput.Height() + 2
	reserved := inputBoxHeight + 6
	m.Viewport.Height = max(m.WindowHeight-reserved, 5)
}
