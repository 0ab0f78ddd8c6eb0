// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package ux provides rich terminal output styling for the Patchsmith CLI.
package ux

import (
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"
)

// Aleutian color palette - deep ocean teals and arctic waters
var (
	// Primary palette (brightest to darkest)
	ColorTealBright  = lipgloss.Color("#2CD7C7") // Bright teal - highlights, success
	ColorTealPrimary = lipgloss.Color("#20B9B4") // Primary teal - main brand color
	ColorTealVibrant = lipgloss.Color("#1D9EA3") // Vibrant teal - interactive elements
	ColorTealDeep    = lipgloss.Color("#16858E") // Deep teal - borders, accents

	// Dark palette (for backgrounds, muted elements)
	ColorSlate = lipgloss.Color("#2C4A54") // Slate - muted text, borders

	// Semantic colors (keeping standard conventions for clarity)
	ColorSuccess = lipgloss.Color("#2CD7C7") // Bright teal for success
	ColorWarning = lipgloss.Color("#F4D03F") // Gold/amber for warnings
	ColorError   = lipgloss.Color("#E74C3C") // Red for errors
	ColorAdded   = lipgloss.Color("#27AE60") // Green for added diff lines
	ColorRemoved = lipgloss.Color("#E74C3C") // Red for removed diff lines
)

// Styles provides pre-configured lipgloss styles
var Styles = struct {
	// Text styles
	Title     lipgloss.Style
	Subtitle  lipgloss.Style
	Bold      lipgloss.Style
	Muted     lipgloss.Style
	Success   lipgloss.Style
	Warning   lipgloss.Style
	Error     lipgloss.Style
	Highlight lipgloss.Style

	// Diff styles
	DiffAdded   lipgloss.Style
	DiffRemoved lipgloss.Style
	DiffHeader  lipgloss.Style

	// Box styles
	Box        lipgloss.Style
	WarningBox lipgloss.Style
	ErrorBox   lipgloss.Style
}{
	// Text styles
	Title:     lipgloss.NewStyle().Bold(true).Foreground(ColorTealBright),
	Subtitle:  lipgloss.NewStyle().Foreground(ColorTealPrimary),
	Bold:      lipgloss.NewStyle().Bold(true),
	Muted:     lipgloss.NewStyle().Foreground(ColorSlate),
	Success:   lipgloss.NewStyle().Foreground(ColorSuccess),
	Warning:   lipgloss.NewStyle().Foreground(ColorWarning),
	Error:     lipgloss.NewStyle().Foreground(ColorError),
	Highlight: lipgloss.NewStyle().Foreground(ColorTealBright).Bold(true),

	// Diff styles
	DiffAdded:   lipgloss.NewStyle().Foreground(ColorAdded),
	DiffRemoved: lipgloss.NewStyle().Foreground(ColorRemoved),
	DiffHeader:  lipgloss.NewStyle().Foreground(ColorTealVibrant).Bold(true),

	// Box styles
	Box: lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(ColorTealDeep).
		Padding(0, 1),
	WarningBox: lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(ColorWarning).
		Padding(0, 1),
	ErrorBox: lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(ColorError).
		Padding(0, 1),
}

// Icon provides themed status icons
type Icon string

const (
	IconSuccess Icon = "✓"
	IconWarning Icon = "⚠"
	IconError   Icon = "✗"
	IconPending Icon = "○"
	IconArrow   Icon = "→"
	IconBullet  Icon = "•"
	IconAnchor  Icon = "⚓"
)

// Render returns the icon with appropriate styling
func (i Icon) Render() string {
	if Plain() {
		return string(i)
	}
	switch i {
	case IconSuccess:
		return Styles.Success.Render(string(i))
	case IconWarning:
		return Styles.Warning.Render(string(i))
	case IconError:
		return Styles.Error.Render(string(i))
	case IconPending:
		return Styles.Muted.Render(string(i))
	default:
		return string(i)
	}
}

var (
	plainOnce sync.Once
	plainMu   sync.RWMutex
	plain     bool
)

// Plain reports whether output should skip styling and animation.
//
// Plain mode is enabled when stdout is not a terminal, when the
// NO_COLOR convention is set, or when forced via SetPlain.
func Plain() bool {
	plainOnce.Do(func() {
		if os.Getenv("NO_COLOR") != "" {
			plain = true
			return
		}
		fd := os.Stdout.Fd()
		plain = !isatty.IsTerminal(fd) && !isatty.IsCygwinTerminal(fd)
	})
	plainMu.RLock()
	defer plainMu.RUnlock()
	return plain
}

// SetPlain forces plain output on or off, overriding terminal
// detection. Used by the --plain CLI flag and by tests.
func SetPlain(v bool) {
	plainOnce.Do(func() {})
	plainMu.Lock()
	plain = v
	plainMu.Unlock()
}

// Print helpers that respect plain mode

// Title prints a styled title
func Title(text string) {
	if Plain() {
		fmt.Println(text)
		return
	}
	fmt.Println(Styles.Title.Render(text))
}

// Success prints a success message with checkmark
func Success(text string) {
	if Plain() {
		fmt.Fprintf(os.Stdout, "OK: %s\n", text)
		return
	}
	fmt.Printf("%s %s\n", IconSuccess.Render(), Styles.Success.Render(text))
}

// Warning prints a warning message
func Warning(text string) {
	if Plain() {
		fmt.Fprintf(os.Stderr, "WARN: %s\n", text)
		return
	}
	fmt.Printf("%s %s\n", IconWarning.Render(), Styles.Warning.Render(text))
}

// Error prints an error message
func Error(text string) {
	if Plain() {
		fmt.Fprintf(os.Stderr, "ERROR: %s\n", text)
		return
	}
	fmt.Printf("%s %s\n", IconError.Render(), Styles.Error.Render(text))
}

// Info prints an informational message
func Info(text string) {
	if Plain() {
		fmt.Println(text)
		return
	}
	fmt.Printf("%s %s\n", Styles.Muted.Render("│"), text)
}

// Muted prints muted/secondary text
func Muted(text string) {
	if Plain() {
		fmt.Println(text)
		return
	}
	fmt.Println(Styles.Muted.Render(text))
}

// Box prints text in a rounded box
func Box(title, content string) {
	if Plain() {
		fmt.Printf("%s: %s\n", title, content)
		return
	}
	boxStyle := Styles.Box.Width(60)
	titleLine := Styles.Title.Render(title)
	fmt.Println(boxStyle.Render(titleLine + "\n" + content))
}

// WarningBox prints text in a warning-styled box
func WarningBox(title, content string) {
	if Plain() {
		fmt.Fprintf(os.Stderr, "WARN %s: %s\n", title, content)
		return
	}
	boxStyle := Styles.WarningBox.Width(60)
	titleLine := Styles.Warning.Bold(true).Render(title)
	fmt.Println(boxStyle.Render(titleLine + "\n" + content))
}

// FileStatus prints a file with its apply status
func FileStatus(path string, status Icon, reason string) {
	if Plain() {
		fmt.Printf("%s\t%s\t%s\n", status, path, reason)
		return
	}
	if reason != "" {
		fmt.Printf("%s %s %s\n", status.Render(), path, Styles.Muted.Render("("+reason+")"))
	} else {
		fmt.Printf("%s %s\n", status.Render(), path)
	}
}

// AttemptStatus prints one refinement attempt with its outcome
func AttemptStatus(attempt int, status Icon, detail string) {
	if Plain() {
		fmt.Printf("attempt %d\t%s\t%s\n", attempt, status, detail)
		return
	}
	label := Styles.Subtitle.Render(fmt.Sprintf("attempt %d", attempt))
	if detail != "" {
		fmt.Printf("%s %s %s\n", status.Render(), label, Styles.Muted.Render(detail))
	} else {
		fmt.Printf("%s %s\n", status.Render(), label)
	}
}

// Summary prints a summary line with counts
func Summary(applied, reverted, total int) {
	if Plain() {
		fmt.Printf("SUMMARY: applied=%d reverted=%d total=%d\n", applied, reverted, total)
		return
	}
	fmt.Printf("\n%s %s  %s %s  %s %s\n",
		Styles.Success.Render(fmt.Sprintf("%d", applied)), Styles.Muted.Render("applied"),
		Styles.Warning.Render(fmt.Sprintf("%d", reverted)), Styles.Muted.Render("reverted"),
		Styles.Bold.Render(fmt.Sprintf("%d", total)), Styles.Muted.Render("total"),
	)
}

// RenderDiff returns a unified diff with per-line coloring.
//
// Header and hunk lines render in the brand accent, additions in
// green, removals in red. In plain mode the text is returned as-is.
func RenderDiff(diffText string) string {
	if Plain() || diffText == "" {
		return diffText
	}
	var b strings.Builder
	lines := strings.Split(diffText, "\n")
	for i, line := range lines {
		switch {
		case strings.HasPrefix(line, "+++"), strings.HasPrefix(line, "---"):
			b.WriteString(Styles.DiffHeader.Render(line))
		case strings.HasPrefix(line, "@@"):
			b.WriteString(Styles.Subtitle.Render(line))
		case strings.HasPrefix(line, "+"):
			b.WriteString(Styles.DiffAdded.Render(line))
		case strings.HasPrefix(line, "-"):
			b.WriteString(Styles.DiffRemoved.Render(line))
		default:
			b.WriteString(line)
		}
		if i < len(lines)-1 {
			b.WriteByte('\n')
		}
	}
	return b.String()
}

// ProgressBar renders a simple progress bar
func ProgressBar(current, total int, width int) string {
	if Plain() {
		return fmt.Sprintf("%d/%d", current, total)
	}
	pct := float64(current) / float64(total)
	filled := int(pct * float64(width))
	empty := width - filled

	bar := Styles.Success.Render(repeatChar('█', filled)) +
		Styles.Muted.Render(repeatChar('░', empty))

	return fmt.Sprintf("%s %3.0f%%", bar, pct*100)
}

func repeatChar(c rune, n int) string {
	if n <= 0 {
		return ""
	}
	result := make([]rune, n)
	for i := range result {
		result[i] = c
	}
	return string(result)
}
