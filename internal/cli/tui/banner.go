package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// Banner colors - gradient over the forest green theme
var (
	bannerColor1 = lipgloss.Color("#4ade80")
	bannerColor2 = lipgloss.Color("#3fcc73")
	bannerColor3 = lipgloss.Color("#35ba66")
	bannerColor4 = lipgloss.Color("#2ba859")
	bannerColor5 = lipgloss.Color("#22964c")
	bannerDim    = lipgloss.Color("#6b7b6b")
)

var bannerArt = []string{
	"██╗     ███████╗ ██████╗ ██╗ ██████╗ ███╗   ██╗",
	"██║     ██╔════╝██╔════╝ ██║██╔═══██╗████╗  ██║",
	"██║     █████╗  ██║  ███╗██║██║   ██║██╔██╗ ██║",
	"██║     ██╔══╝  ██║   ██║██║██║   ██║██║╚██╗██║",
	"███████╗███████╗╚██████╔╝██║╚██████╔╝██║ ╚████║",
	"╚══════╝╚══════╝ ╚═════╝ ╚═╝ ╚═════╝ ╚═╝  ╚═══╝",
}

// GetStartupBanner returns the styled ASCII art banner centered in width
func GetStartupBanner(version string, width int) string {
	artWidth := lipgloss.Width(bannerArt[0])
	if width < artWidth {
		width = artWidth
	}
	padStr := strings.Repeat(" ", (width-artWidth)/2)
	colors := []lipgloss.Color{bannerColor1, bannerColor2, bannerColor3, bannerColor4, bannerColor5, bannerDim}

	var sb strings.Builder
	sb.WriteString("\n")
	for i, line := range bannerArt {
		style := lipgloss.NewStyle().Foreground(colors[i])
		if i < len(bannerArt)-1 {
			style = style.Bold(true)
		}
		sb.WriteString(padStr + style.Render(line) + "\n")
	}
	sb.WriteString("\n")

	dim := lipgloss.NewStyle().Foreground(bannerDim)
	sb.WriteString(centerText(dim.Render("Emulate · Condense · Repurpose · Redeploy"), width) + "\n")
	sb.WriteString(centerText(dim.Render(version), width) + "\n")
	return sb.String()
}

// GetHeader returns the one-line dashboard header
func GetHeader(width int, subtitle string) string {
	if width < 40 {
		width = 40
	}
	logo := lipgloss.NewStyle().Bold(true).Foreground(bannerColor1).Render("◈ LEGION")
	sub := lipgloss.NewStyle().Foreground(bannerDim).Italic(true).Render(subtitle)

	lineWidth := width - lipgloss.Width(logo) - lipgloss.Width(sub) - 4
	if lineWidth < 4 {
		lineWidth = 4
	}
	line := lipgloss.NewStyle().Foreground(bannerDim).Render(strings.Repeat("─", lineWidth))
	return fmt.Sprintf("%s %s %s", logo, line, sub)
}

// centerText centers text within a given width
func centerText(text string, width int) string {
	textWidth := lipgloss.Width(text)
	if textWidth >= width {
		return text
	}
	return strings.Repeat(" ", (width-textWidth)/2) + text
}
