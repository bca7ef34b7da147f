package ui

import (
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/mattn/go-runewidth"

	"kiln/internal/models"
	"kiln/internal/progress"
	"kiln/internal/styles"
)

const (
	GroupInstalled = "Installed"
	GroupDownload  = "Download on load"
)

func WrappedLineCount(value string, width int) int {
	if width <= 0 {
		return 1
	}
	lines := strings.Split(value, "\n")
	if len(lines) == 0 {
		return 1
	}
	count := 0
	for _, line := range lines {
		w := runewidth.StringWidth(line)
		if w == 0 {
			count++
			continue
		}
		count += (w-1)/width + 1
	}
	return count
}

func PromptPreview(s string) string {
	s = strings.TrimSpace(s)
	s = strings.ReplaceAll(s, "\r", " ")
	s = strings.ReplaceAll(s, "\n", " ")
	s = strings.Join(strings.Fields(s), " ")
	const maxRunes = 500
	r := []rune(s)
	if len(r) > maxRunes {
		return string(r[:maxRunes])
	}
	return s
}

// TruncateRunes cuts s to at most max terminal cells, ending with "…" when
// anything was dropped.
func TruncateRunes(s string, max int) string {
	if max <= 0 {
		return ""
	}
	if runewidth.StringWidth(s) <= max {
		return s
	}
	if max <= 1 {
		return "…"
	}
	return runewidth.Truncate(s, max, "…")
}

func RelativeTime(t time.Time) string {
	d := time.Since(t)
	if d < 0 {
		d = -d
	}
	if d < time.Minute {
		return "just now"
	}
	if d < time.Hour {
		mins := int(d.Minutes())
		if mins == 1 {
			return "1 min ago"
		}
		return fmt.Sprintf("%d mins ago", mins)
	}
	if d < 24*time.Hour {
		hrs := int(d.Hours())
		if hrs == 1 {
			return "1 hr ago"
		}
		return fmt.Sprintf("%d hrs ago", hrs)
	}
	days := int(d.Hours() / 24)
	if days < 14 {
		if days == 1 {
			return "1 day ago"
		}
		return fmt.Sprintf("%d days ago", days)
	}
	weeks := days / 7
	if weeks == 1 {
		return "1 week ago"
	}
	return fmt.Sprintf("%d weeks ago", weeks)
}

// FormatBytes renders a model size, "?" when unknown.
func FormatBytes(n int64) string {
	if n <= 0 {
		return "?"
	}
	return humanize.Bytes(uint64(n))
}

// ProgressBar draws percent as a bar width cells wide.
func ProgressBar(percent, width int) string {
	if width <= 0 {
		return ""
	}
	percent = min(max(percent, 0), 100)
	filled := width * percent / 100
	return styles.ProgressFilledStyle.Render(strings.Repeat("█", filled)) +
		styles.ProgressEmptyStyle.Render(strings.Repeat("░", width-filled))
}

func ArtifactLine(a progress.Artifact) string {
	switch a.Status {
	case progress.StatusDone:
		return styles.ArtifactDoneStyle.Render("✓ " + a.Label)
	case progress.StatusDownloading:
		return styles.ArtifactDownloadingStyle.Render("↓ " + a.Label)
	default:
		return styles.ArtifactPendingStyle.Render("· " + a.Label)
	}
}

// ModelGroup is the selector section a model is listed under.
func ModelGroup(m models.ModelInfo) string {
	if m.Installed {
		return GroupInstalled
	}
	return GroupDownload
}

// OrderModels lists installed models first, keeping the catalog order
// within each group.
func OrderModels(list []models.ModelInfo) []models.ModelInfo {
	out := make([]models.ModelInfo, 0, len(list))
	for _, m := range list {
		if m.Installed {
			out = append(out, m)
		}
	}
	for _, m := range list {
		if !m.Installed {
			out = append(out, m)
		}
	}
	return out
}

func (m *Model) SyncModelViewportScroll() {
	const itemHeight = 1
	const headerHeight = 1

	var currentY int
	var lastGroup string
	for i, mdl := range m.Models {
		group := ModelGroup(mdl)
		itemStartY := currentY
		if group != lastGroup {
			if lastGroup != "" {
				currentY++
			}
			itemStartY = currentY
			currentY += headerHeight
			lastGroup = group
		}

		if i == m.SelectedModelIndex {
			if currentY+itemHeight > m.ModelViewport.YOffset+m.ModelViewport.Height {
				m.ModelViewport.SetYOffset(currentY + itemHeight - m.ModelViewport.Height)
			}
			if itemStartY < m.ModelViewport.YOffset {
				m.ModelViewport.SetYOffset(itemStartY)
			}
			break
		}
		currentY += itemHeight
	}
}

func FindModelByID(list []models.ModelInfo, id string) (models.ModelInfo, int, bool) {
	for i, mdl := range list {
		if mdl.ID == id {
			return mdl, i, true
		}
	}
	return models.ModelInfo{}, 0, false
}

func FormatUserMessage(content string, width int, isFirst bool) string {
	label := styles.UserLabelStyle.Render("YOU")
	msg := styles.UserMsgStyle.Width(max(width-4, 1)).Render(content)
	if isFirst {
		return fmt.Sprintf("\n%s\n%s", label, msg)
	}
	return fmt.Sprintf("%s\n%s", label, msg)
}

func FormatAIMessage(content string) string {
	label := styles.AiLabelStyle.Render("KILN")
	msg := styles.AiMsgStyle.Render(content)
	return fmt.Sprintf("%s\n%s", label, msg)
}

// FormatStreamingMessage shows a reply that is still arriving, unrendered.
func FormatStreamingMessage(content, spinner string, width int) string {
	label := styles.AiLabelStyle.Render("KILN")
	if content == "" {
		return fmt.Sprintf("%s\n%s Generating...", label, spinner)
	}
	msg := styles.StreamingMsgStyle.Width(max(width-4, 1)).Render(content)
	return fmt.Sprintf("%s\n%s\n%s", label, msg, spinner)
}
