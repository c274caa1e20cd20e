package tui

import (
	"github.com/charmbracelet/lipgloss"
)

// Colors - forest green dark theme
var (
	primaryColor   = lipgloss.Color("#4ade80")
	secondaryColor = lipgloss.Color("#6b7b6b")
	successColor   = lipgloss.Color("#22c55e")
	errorColor     = lipgloss.Color("#ef4444")
	warningColor   = lipgloss.Color("#eab308")
	accentColor    = lipgloss.Color("#2dd4bf")
	textColor      = lipgloss.Color("#d1d5db")

	bgSecondary = lipgloss.Color("#1a211a")
)

// Styles defines the visual styles of the dashboard
type Styles struct {
	// Header
	Header    lipgloss.Style
	HeaderSub lipgloss.Style

	// Stat panels
	Panel      lipgloss.Style
	PanelTitle lipgloss.Style
	PanelValue lipgloss.Style
	PanelLabel lipgloss.Style

	// Tables
	TableHeader lipgloss.Style
	TableRow    lipgloss.Style
	TableMuted  lipgloss.Style
	Tab         lipgloss.Style
	TabActive   lipgloss.Style

	// Status bar
	StatusBar  lipgloss.Style
	StatusTime lipgloss.Style

	// Help bar
	HelpBar lipgloss.Style

	// General
	Error   lipgloss.Style
	Success lipgloss.Style
	Warning lipgloss.Style
	Accent  lipgloss.Style
}

// DefaultStyles returns the default style configuration
func DefaultStyles() Styles {
	return Styles{
		Header: lipgloss.NewStyle().
			Bold(true).
			Foreground(primaryColor),

		HeaderSub: lipgloss.NewStyle().
			Foreground(secondaryColor).
			Italic(true),

		Panel: lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(secondaryColor).
			Padding(0, 1).
			Width(22),

		PanelTitle: lipgloss.NewStyle().
			Foreground(secondaryColor),

		PanelValue: lipgloss.NewStyle().
			Bold(true).
			Foreground(primaryColor),

		PanelLabel: lipgloss.NewStyle().
			Foreground(textColor),

		TableHeader: lipgloss.NewStyle().
			Bold(true).
			Foreground(accentColor),

		TableRow: lipgloss.NewStyle().
			Foreground(textColor),

		TableMuted: lipgloss.NewStyle().
			Foreground(secondaryColor),

		Tab: lipgloss.NewStyle().
			Foreground(secondaryColor).
			Padding(0, 1),

		TabActive: lipgloss.NewStyle().
			Bold(true).
			Foreground(bgSecondary).
			Background(primaryColor).
			Padding(0, 1),

		StatusBar: lipgloss.NewStyle().
			Foreground(secondaryColor).
			Background(bgSecondary).
			Padding(0, 1),

		StatusTime: lipgloss.NewStyle().
			Foreground(secondaryColor),

		HelpBar: lipgloss.NewStyle().
			Padding(0, 1),

		Error: lipgloss.NewStyle().
			Bold(true).
			Foreground(errorColor),

		Success: lipgloss.NewStyle().
			Bold(true).
			Foreground(successColor),

		Warning: lipgloss.NewStyle().
			Bold(true).
			Foreground(warningColor),

		Accent: lipgloss.NewStyle().
			Foreground(accentColor),
	}
}
