// Package ui provides terminal rendering helpers for the boardlive CLI.
package ui

import (
	"fmt"
	"os"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
	"golang.org/x/term"
)

// enabled is false when stdout is not a TTY or the terminal reports no
// color support, so piped output stays clean.
var enabled = term.IsTerminal(int(os.Stdout.Fd())) && termenv.ColorProfile() != termenv.Ascii

var (
	accentStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("12")).Bold(true)
	passStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	warnStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	errStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true)
	dimStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	bannerStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("0")).Background(lipgloss.Color("11")).Padding(0, 1)
)

func render(style lipgloss.Style, s string) string {
	if !enabled {
		return s
	}
	return style.Render(s)
}

// RenderAccent renders highlighted informational text.
func RenderAccent(s string) string { return render(accentStyle, s) }

// RenderPass renders success text.
func RenderPass(s string) string { return render(passStyle, s) }

// RenderWarn renders warning text.
func RenderWarn(s string) string { return render(warnStyle, s) }

// RenderErr renders error text.
func RenderErr(s string) string { return render(errStyle, s) }

// RenderDim renders de-emphasized text such as timestamps.
func RenderDim(s string) string { return render(dimStyle, s) }

// Toast formats a short-lived notification line.
func Toast(message string) string {
	return fmt.Sprintf("%s %s", RenderAccent("•"), message)
}

// OfflineBanner formats the persistent offline affordance.
func OfflineBanner(pending int) string {
	msg := "working offline"
	if pending == 1 {
		msg += " - 1 update pending"
	} else if pending > 1 {
		msg += fmt.Sprintf(" - %d updates pending", pending)
	}
	if !enabled {
		return "[" + msg + "]"
	}
	return bannerStyle.Render(msg)
}
