package ui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"kiln/internal/models"
	"kiln/internal/styles"
)

func (m *Model) UpdateModelSelectorContent() {
	var items []string
	var lastGroup string
	for i, mdl := range m.Models {
		group := ModelGroup(mdl)
		if group != lastGroup {
			if lastGroup != "" {
				items = append(items, "")
			}
			groupColor := "#545454"
			if c, ok := styles.GroupColors[group]; ok {
				groupColor = c
			}
			header := styles.ModalHeaderStyle.
				Foreground(lipgloss.Color(groupColor)).
				Render(group)
			items = append(items, header)
			lastGroup = group
		}

		isSelected := i == m.SelectedModelIndex
		isCurrent := m.CurrentModel == mdl.ID

		name := mdl.Label
		if name == "" {
			name = mdl.ID
		}
		prefix := "  "
		if isCurrent {
			prefix = "● "
		}
		size := FormatBytes(mdl.SizeBytes)
		nameWidth := styles.ContentWidth - 3 - lipgloss.Width(size)
		row := prefix + TruncateRunes(name, nameWidth-2)
		row += strings.Repeat(" ", max(styles.ContentWidth-2-lipgloss.Width(row)-lipgloss.Width(size), 1)) + size

		var styled string
		if isSelected {
			styled = styles.ModalSelectedStyle.Width(styles.ContentWidth).Render(row)
		} else {
			style := styles.ModalItemStyle.Width(styles.ContentWidth)
			if isCurrent {
				style = style.Foreground(lipgloss.Color("#90CAF9"))
			} else {
				style = style.Foreground(lipgloss.AdaptiveColor{Light: "#1a1a2e", Dark: "#FFFFFF"})
			}
			styled = style.Render(row)
		}
		items = append(items, styled)
		if isSelected && mdl.Description != "" {
			desc := TruncateRunes(mdl.Description, styles.ContentWidth-4)
			items = append(items, styles.ModalItemStyle.Render(styles.DescStyle.Render("  "+desc)))
		}
	}

	if len(items) == 0 {
		items = append(items, styles.ModalItemStyle.Render(lipgloss.NewStyle().Foreground(styles.HintColor).Render("No models available")))
	}
	m.ModelViewport.SetContent(lipgloss.JoinVertical(lipgloss.Left, items...))
}

func (m *Model) RenderModelSelector() string {
	title := styles.ModalTitleStyle.Render("Select Model")
	content := lipgloss.JoinVertical(lipgloss.Left, title, m.ModelViewport.View())

	hint := lipgloss.NewStyle().
		Foreground(styles.HintColor).
		Width(styles.ContentWidth).
		PaddingTop(1).
		Render("↑/↓: navigate • Enter: select • Esc: close")

	return lipgloss.JoinVertical(lipgloss.Left, content, hint)
}

func (m *Model) RenderHistorySelector() string {
	total := len(m.HistoryChats)
	title := styles.ModalTitleStyle.Render(fmt.Sprintf("Saved Transcripts (%d) - Page %d/%d", total, m.HistoryPage+1, m.historyPages()))

	var body string
	switch {
	case m.HistoryErr != nil:
		body = lipgloss.NewStyle().Width(styles.ContentWidth).Render(styles.ErrorStyle.Render(fmt.Sprintf("Error: %v", m.HistoryErr)))
	case total == 0:
		body = styles.ModalItemStyle.Render(lipgloss.NewStyle().Foreground(styles.HintColor).Render("No transcripts yet"))
	default:
		start := m.HistoryPage * HistoryPageSize
		end := min(start+HistoryPageSize, total)
		items := make([]string, 0, end-start)
		for i, chat := range m.HistoryChats[start:end] {
			isSelected := i == m.HistorySelectedIdx
			cursor := "  "
			if isSelected {
				cursor = "> "
			}
			meta := fmt.Sprintf("%d msgs · %s", chat.MessageCount, RelativeTime(chat.UpdatedAt))
			model := chat.ModelID
			prompt := PromptPreview(chat.LastUserPrompt)
			if prompt == "" {
				prompt = "(no prompt)"
			}
			available := styles.ContentWidth - 2 - len(cursor) - 1 - lipgloss.Width(meta)
			head := TruncateRunes(model, available)

			line := fmt.Sprintf("%s%s %s", cursor, head, lipgloss.NewStyle().Foreground(styles.HintColor).Render(meta))
			sub := "    " + TruncateRunes(prompt, styles.ContentWidth-6)
			text := line + "\n" + sub
			if isSelected {
				items = append(items, styles.ModalSelectedStyle.Render(text))
			} else {
				items = append(items, styles.ModalItemStyle.Render(text))
			}
		}
		body = lipgloss.JoinVertical(lipgloss.Left, items...)
	}

	content := lipgloss.JoinVertical(lipgloss.Left, title, body)
	hint := lipgloss.NewStyle().
		Foreground(styles.HintColor).
		Width(styles.ContentWidth).
		PaddingTop(1).
		Render("↑/↓: navigate • ←/→: page • Enter: open • Esc: close")

	return lipgloss.JoinVertical(lipgloss.Left, content, hint)
}

func (m *Model) RenderShortcutsModal() string {
	title := styles.ModalTitleStyle.Render("Keyboard Shortcuts")

	shortcuts := []struct {
		key  string
		desc string
	}{
		{"Ctrl+C", "Quit"},
		{"Ctrl+L", "Load Selected Model"},
		{"Ctrl+U", "Unload Model"},
		{"Ctrl+B", "Select Model (when idle)"},
		{"Ctrl+N", "Clear Transcript"},
		{"Ctrl+H", "Saved Transcripts"},
		{"Ctrl+X", "Clear Caches"},
		{"Ctrl+S", "Shortcuts (this menu)"},
		{"Alt+Enter", "New Line"},
	}

	keyStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("#FFCC80")).
		Bold(true).
		Width(12)
	descStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("#E0E0E0"))

	var items []string
	for _, s := range shortcuts {
		line := fmt.Sprintf("%s %s", keyStyle.Render(s.key), descStyle.Render(s.desc))
		items = append(items, styles.ModalItemStyle.Render(line))
	}

	content := lipgloss.JoinVertical(lipgloss.Left, title, lipgloss.JoinVertical(lipgloss.Left, items...))
	hint := lipgloss.NewStyle().
		Foreground(styles.HintColor).
		Width(styles.ContentWidth).
		PaddingTop(1).
		Render("Esc/Enter: close")

	return lipgloss.JoinVertical(lipgloss.Left, content, hint)
}

func (m *Model) RenderBottomBar() string {
	stateName := m.State.String()
	badge := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("#FFFFFF")).
		Background(styles.StateColor(stateName)).
		Padding(0, 1).
		Render(strings.ToUpper(stateName))

	model := lipgloss.NewStyle().
		Foreground(lipgloss.Color("#B39DDB")).
		Render(TruncateRunes(m.CurrentModel, 25))

	left := []string{badge, "  ", model}
	if m.State == models.StateLoading {
		phase := fmt.Sprintf("%d%% %s", m.Progress.Percent, m.Progress.Phase)
		left = append(left, "  ", styles.PhaseStyle.Render(TruncateRunes(phase, 40)))
	}
	leftSide := lipgloss.JoinHorizontal(lipgloss.Center, left...)

	gpuText := "GPU: probing"
	if m.GPUProbed {
		gpuText = m.GPU.Badge()
	}
	gpu := lipgloss.NewStyle().Foreground(lipgloss.Color("#888888")).Render(gpuText)

	right := []string{gpu}
	if m.Stats.Tokens > 0 {
		right = append(right, "  ", styles.StatsStyle.Render(fmt.Sprintf("%.1f tok/s · %d tok", m.Stats.TokensPerSecond, m.Stats.Tokens)))
	}
	help := lipgloss.NewStyle().
		Foreground(lipgloss.Color("#555555")).
		Render("Help: ^S")
	right = append(right, "  ", help)
	rightSide := lipgloss.JoinHorizontal(lipgloss.Center, right...)

	spacer := strings.Repeat(" ", max(m.WindowWidth-lipgloss.Width(leftSide)-lipgloss.Width(rightSide)-2, 0))
	bar := lipgloss.JoinHorizontal(lipgloss.Center, leftSide, spacer, rightSide)

	return lipgloss.NewStyle().
		Width(m.WindowWidth).
		BorderTop(true).
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(lipgloss.Color("#333333")).
		Padding(0, 1).
		Render(bar)
}

// RenderProgress is the load panel: a bar, the phase line and the most
// recent artifacts.
func (m *Model) RenderProgress() string {
	width := max(min(m.Viewport.Width-12, 50), 10)
	head := fmt.Sprintf("%s Loading %s", m.Spinner.View(), m.CurrentModel)
	bar := fmt.Sprintf("%s %3d%%", ProgressBar(m.Progress.Percent, width), m.Progress.Percent)
	lines := []string{head, "", bar, styles.PhaseStyle.Render(TruncateRunes(m.Progress.Phase, width+5))}

	arts := m.Progress.Artifacts
	if len(arts) > 0 {
		lines = append(lines, "")
		if hidden := len(arts) - MaxArtifactLines; hidden > 0 {
			lines = append(lines, styles.ArtifactPendingStyle.Render(fmt.Sprintf("  … %d more", hidden)))
			arts = arts[hidden:]
		}
		for _, a := range arts {
			lines = append(lines, "  "+ArtifactLine(a))
		}
	}
	return strings.Join(lines, "\n")
}

func GetWelcomeScreen(width, height int) string {
	art := `
 ╭──────────────────────────────────────╮
 │                                      │
 │   ██╗  ██╗ ██╗ ██╗      ███╗   ██╗   │
 │   ██║ ██╔╝ ██║ ██║      ████╗  ██║   │
 │   █████╔╝  ██║ ██║      ██╔██╗ ██║   │
 │   ██╔═██╗  ██║ ██║      ██║╚██╗██║   │
 │   ██║  ██╗ ██║ ███████╗ ██║ ╚████║   │
 │   ╚═╝  ╚═╝ ╚═╝ ╚══════╝ ╚═╝  ╚═══╝   │
 │                                      │
 ╰──────────────────────────────────────╯
`
	subtitle := "Local models, fired on your own machine. Ctrl+L to load, Ctrl+B to pick."

	styledArt := styles.WelcomeArtStyle.Render(art)
	styledSubtitle := styles.WelcomeSubtitleStyle.Render(subtitle)

	content := lipgloss.JoinVertical(lipgloss.Center, styledArt, "", styledSubtitle)
	return lipgloss.Place(width, height, lipgloss.Center, lipgloss.Center, content)
}

// renderAssistant renders finished replies as markdown, reusing earlier
// output while the text and width are unchanged.
func (m *Model) renderAssistant(msg models.Message) string {
	if m.Renderer == nil || msg.Content == "" {
		return msg.Content
	}
	if r, ok := m.rendered[msg.ID]; ok && r.source == msg.Content && r.width == m.Viewport.Width {
		return r.out
	}
	out, err := m.Renderer.Render(msg.Content)
	if err != nil {
		return msg.Content
	}
	out = strings.TrimSpace(out)
	if m.rendered == nil {
		m.rendered = make(map[string]renderedMsg)
	}
	m.rendered[msg.ID] = renderedMsg{source: msg.Content, width: m.Viewport.Width, out: out}
	return out
}

func (m *Model) UpdateViewport() {
	var parts []string
	msgs := m.Chats.Messages()
	for _, msg := range msgs {
		switch msg.Role {
		case models.RoleUser:
			parts = append(parts, FormatUserMessage(msg.Content, m.Viewport.Width, len(parts) == 0))
		case models.RoleAssistant:
			if msg.ID == m.StreamingID {
				parts = append(parts, FormatStreamingMessage(msg.Content, m.Spinner.View(), m.Viewport.Width))
			} else {
				parts = append(parts, FormatAIMessage(m.renderAssistant(msg)))
			}
		}
	}

	if m.State == models.StateLoading {
		parts = append(parts, m.RenderProgress())
	}
	if m.Err != nil {
		parts = append(parts, styles.ErrorStyle.Render(fmt.Sprintf("Error: %v", m.Err)))
	}

	if len(parts) == 0 {
		m.Viewport.SetContent(GetWelcomeScreen(m.Viewport.Width, m.Viewport.Height))
		return
	}
	m.Viewport.SetContent(strings.Join(parts, "\n\n"))
	m.Viewport.GotoBottom()
}

func (m *Model) View() string {
	inputWidth := m.WindowWidth - 4
	boxStyle := styles.InputBoxStyle
	if m.State != models.StateReady || m.Streaming {
		boxStyle = styles.InputBoxDisabledStyle
	}
	inputBox := boxStyle.Width(inputWidth).Render(m.TextInput.View())

	var notice string
	if m.Notice != "" {
		notice = styles.NoticeStyle.Render(m.Notice)
	}

	chatContent := lipgloss.JoinVertical(lipgloss.Center,
		styles.TitleStyle.Render("KILN"),
		"",
		m.Viewport.View(),
		notice,
		inputBox,
	)
	chatArea := lipgloss.PlaceHorizontal(m.WindowWidth, lipgloss.Center, chatContent)
	content := lipgloss.JoinVertical(lipgloss.Left, chatArea, m.RenderBottomBar())

	var modal string
	switch {
	case m.HistoryOpen:
		modal = m.RenderHistorySelector()
	case m.ModelSelectorOpen:
		modal = m.RenderModelSelector()
	case m.ShortcutsOpen:
		modal = m.RenderShortcutsModal()
	default:
		return content
	}
	modal = styles.ModalStyle.Width(ModalWidth).Render(modal)
	return lipgloss.Place(m.WindowWidth, m.WindowHeight, lipgloss.Center, lipgloss.Center, modal)
}
