package main

import (
	"fmt"
	"io"
	"os"

	"github.com/charmbracelet/lipgloss"
)

var (
	successStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("2"))
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("1"))
	warningStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("3"))
	stepStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("6"))
	labelStyle   = lipgloss.NewStyle().Bold(true)
	idStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("6"))
	dimStyle     = lipgloss.NewStyle().Faint(true)
	userStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("4"))
	botStyle     = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("5"))
)

// stderr is where status lines go; tests swap it.
var stderr io.Writer = os.Stderr

func disableColor() {
	for _, s := range []*lipgloss.Style{
		&successStyle, &errorStyle, &warningStyle, &stepStyle,
		&labelStyle, &idStyle, &dimStyle, &userStyle, &botStyle,
	} {
		*s = lipgloss.NewStyle()
	}
}

func printSuccess(format string, args ...any) {
	fmt.Fprintln(stderr, successStyle.Render("✓ "+fmt.Sprintf(format, args...)))
}

func printError(format string, args ...any) {
	fmt.Fprintln(stderr, errorStyle.Render("✗ "+fmt.Sprintf(format, args...)))
}

func printWarning(format string, args ...any) {
	fmt.Fprintln(stderr, warningStyle.Render("⚠ "+fmt.Sprintf(format, args...)))
}

func printStatus(label string, format string, args ...any) {
	fmt.Fprintf(stderr, "  %s %s\n", labelStyle.Render(label+":"), fmt.Sprintf(format, args...))
}

func printStep(format string, args ...any) {
	fmt.Fprintln(stderr, stepStyle.Render("→ "+fmt.Sprintf(format, args...)))
}
