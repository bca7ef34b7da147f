package styles

import (
	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
)

// Theme defines a complete color scheme for the application
type Theme struct {
	// Core colors
	Primary   lipgloss.Color
	Secondary lipgloss.Color
	Accent    lipgloss.Color

	// Text colors
	TextPrimary   lipgloss.Color
	TextSecondary lipgloss.Color
	TextMuted     lipgloss.Color

	// Semantic colors
	Success lipgloss.Color
	Warning lipgloss.Color
	Error   lipgloss.Color
	Info    lipgloss.Color

	Border lipgloss.Color

	// Engine state badges
	StateIdle    lipgloss.Color
	StateLoading lipgloss.Color
	StateReady   lipgloss.Color
}

// DarkTheme is the dark mode color scheme
var DarkTheme = Theme{
	Primary:   lipgloss.Color("#B39DDB"),
	Secondary: lipgloss.Color("#90CAF9"),
	Accent:    lipgloss.Color("#FFCC80"),

	TextPrimary:   lipgloss.Color("#F1F5F9"), // Slate 100
	TextSecondary: lipgloss.Color("#94A3B8"), // Slate 400
	TextMuted:     lipgloss.Color("#64748B"), // Slate 500

	Success: lipgloss.Color("#34D399"), // Emerald 400
	Warning: lipgloss.Color("#FBBF24"), // Amber 400
	Error:   lipgloss.Color("#FB7185"), // Rose 400
	Info:    lipgloss.Color("#60A5FA"), // Blue 400

	Border: lipgloss.Color("#333333"),

	StateIdle:    lipgloss.Color("#666666"),
	StateLoading: lipgloss.Color("#F59E0B"),
	StateReady:   lipgloss.Color("#10B981"),
}

// LightTheme is the light mode color scheme
var LightTheme = Theme{
	Primary:   lipgloss.Color("#7E57C2"),
	Secondary: lipgloss.Color("#1E88E5"),
	Accent:    lipgloss.Color("#EF6C00"),

	TextPrimary:   lipgloss.Color("#18181B"), // Zinc 900
	TextSecondary: lipgloss.Color("#52525B"), // Zinc 600
	TextMuted:     lipgloss.Color("#A1A1AA"), // Zinc 400

	Success: lipgloss.Color("#10B981"),
	Warning: lipgloss.Color("#F59E0B"),
	Error:   lipgloss.Color("#EF4444"),
	Info:    lipgloss.Color("#3B82F6"),

	Border: lipgloss.Color("#E4E4E7"),

	StateIdle:    lipgloss.Color("#A1A1AA"),
	StateLoading: lipgloss.Color("#D97706"),
	StateReady:   lipgloss.Color("#059669"),
}

// CurrentTheme holds the active theme (set at runtime based on terminal)
var CurrentTheme = DarkTheme

// InitTheme picks the theme from the terminal background. With noColor
// every style renders as plain text.
func InitTheme(noColor bool) {
	if noColor {
		lipgloss.SetColorProfile(termenv.Ascii)
	}
	if lipgloss.HasDarkBackground() {
		CurrentTheme = DarkTheme
	} else {
		CurrentTheme = LightTheme
	}
}

// StateColor is the badge color for an engine state name.
func StateColor(state string) lipgloss.Color {
	switch state {
	case "loading":
		return CurrentTheme.StateLoading
	case "ready":
		return CurrentTheme.StateReady
	default:
		return CurrentTheme.StateIdle
	}
}
