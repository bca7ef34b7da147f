package cli

import (
	"fmt"
	"io"

	"github.com/charmbracelet/lipgloss"

	"kiln/internal/styles"
)

func printSuccess(w io.Writer, format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	fmt.Fprintln(w, lipgloss.NewStyle().Foreground(styles.CurrentTheme.Success).Render("✓ "+msg))
}

func printWarning(w io.Writer, format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	fmt.Fprintln(w, lipgloss.NewStyle().Foreground(styles.CurrentTheme.Warning).Render("⚠ "+msg))
}

func printStep(w io.Writer, format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	fmt.Fprintln(w, lipgloss.NewStyle().Foreground(styles.CurrentTheme.Info).Render("→ "+msg))
}

func printStatus(w io.Writer, label string, format string, args ...any) {
	val := fmt.Sprintf(format, args...)
	l := lipgloss.NewStyle().Bold(true).Render(label + ":")
	fmt.Fprintf(w, "  %s %s\n", l, val)
}
