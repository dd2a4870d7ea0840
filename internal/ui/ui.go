// Package ui provides small terminal output helpers for the CLI.
package ui

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
)

var (
	passStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	warnStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	failStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	mutedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
)

// RenderPassIcon returns a green check mark.
func RenderPassIcon() string {
	return passStyle.Render("✓")
}

// RenderWarnIcon returns a yellow warning marker.
func RenderWarnIcon() string {
	return warnStyle.Render("!")
}

// RenderFailIcon returns a red cross.
func RenderFailIcon() string {
	return failStyle.Render("✗")
}

// RenderMuted renders dimmed secondary text.
func RenderMuted(s string) string {
	return mutedStyle.Render(s)
}

// RelativeTime formats a timestamp as a human-friendly age.
func RelativeTime(t time.Time) string {
	d := time.Since(t)
	switch {
	case d < time.Minute:
		return fmt.Sprintf("%ds ago", int(d.Seconds()))
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	default:
		return fmt.Sprintf("%dd ago", int(d.Hours()/24))
	}
}

// ShortenPath replaces the home directory prefix with ~.
func ShortenPath(path string) string {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return path
	}
	if strings.HasPrefix(path, home) {
		return filepath.Join("~", strings.TrimPrefix(path, home))
	}
	return path
}
