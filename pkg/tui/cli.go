// Package tui renders analysis output for the terminal.
// Plain streaming output, no full-screen interface.
package tui

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	lgtable "github.com/charmbracelet/lipgloss/table"
	"github.com/schollz/progressbar/v3"

	"github.com/beamflow/beamflow/pkg/storage/table"
)

// Colors
var (
	accent  = lipgloss.Color("#FF0000")
	muted   = lipgloss.Color("#666666")
	success = lipgloss.Color("#00CC66")
	white   = lipgloss.Color("#FFFFFF")
)

// Styles
var (
	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(white)
	accentStyle  = lipgloss.NewStyle().Foreground(accent).Bold(true)
	mutedStyle   = lipgloss.NewStyle().Foreground(muted)
	successStyle = lipgloss.NewStyle().Foreground(success).Bold(true)
	headerStyle  = lipgloss.NewStyle().Bold(true).Foreground(white).Padding(0, 1)
	cellStyle    = lipgloss.NewStyle().Padding(0, 1)
	numberStyle  = cellStyle.Align(lipgloss.Right)
)

// RenderTable draws t with a title line. Columns whose cells are all
// numeric are right-aligned.
func RenderTable(t *table.Table) string {
	numeric := make([]bool, len(t.Columns))
	for c := range t.Columns {
		numeric[c] = len(t.Rows) > 0
		for _, row := range t.Rows {
			if row[c] != "" && !isNumber(row[c]) {
				numeric[c] = false
				break
			}
		}
	}

	lt := lgtable.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(mutedStyle).
		Headers(t.Columns...).
		Rows(t.Rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == lgtable.HeaderRow {
				return headerStyle
			}
			if col < len(numeric) && numeric[col] {
				return numberStyle
			}
			return cellStyle
		})

	var b strings.Builder
	if t.Name != "" {
		b.WriteString(accentStyle.Render("▸ " + strings.ToUpper(t.Name)))
		b.WriteString("\n")
	}
	b.WriteString(lt.Render())
	b.WriteString("\n")
	return b.String()
}

// PrintTables writes every table to w, separated by blank lines.
func PrintTables(w io.Writer, tables ...*table.Table) error {
	for i, t := range tables {
		if i > 0 {
			if _, err := fmt.Fprintln(w); err != nil {
				return err
			}
		}
		if _, err := io.WriteString(w, RenderTable(t)); err != nil {
			return err
		}
	}
	return nil
}

func isNumber(s string) bool {
	if s == "" {
		return false
	}
	dot := false
	for i, r := range s {
		switch {
		case r >= '0' && r <= '9':
		case r == '-' && i == 0:
		case r == '.' && !dot:
			dot = true
		default:
			return false
		}
	}
	return true
}

// Summary describes a finished analysis.
type Summary struct {
	Title    string
	Location string
	Events   int64
	Issues   int
	Cached   bool
	Duration time.Duration
}

// PrintSummary prints a short result block.
func PrintSummary(w io.Writer, s Summary) {
	fmt.Fprintln(w)
	fmt.Fprintln(w, successStyle.Render("  ✓ "+strings.ToUpper(s.Title)))
	if s.Location != "" {
		fmt.Fprintf(w, "  %s %s\n", mutedStyle.Render("Source:"), titleStyle.Render(s.Location))
	}
	if s.Cached {
		fmt.Fprintf(w, "  %s %s\n", mutedStyle.Render("Result:"), titleStyle.Render("from cache"))
	} else if s.Events > 0 {
		fmt.Fprintf(w, "  %s %s\n", mutedStyle.Render("Events:"), titleStyle.Render(formatNumber(s.Events)))
	}
	if s.Issues > 0 {
		fmt.Fprintf(w, "  %s %s\n", mutedStyle.Render("Issues:"), accentStyle.Render(formatNumber(int64(s.Issues))))
	}
	if s.Duration > 0 {
		fmt.Fprintf(w, "  %s %s\n", mutedStyle.Render("Time:"), titleStyle.Render(formatDuration(s.Duration)))
	}
	fmt.Fprintln(w)
}

// formatDuration formats a duration in a human-readable way.
func formatDuration(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	if d < time.Minute {
		return fmt.Sprintf("%.1fs", d.Seconds())
	}
	return fmt.Sprintf("%dm%ds", int(d.Minutes()), int(d.Seconds())%60)
}

func formatNumber(n int64) string {
	if n < 1000 {
		return fmt.Sprintf("%d", n)
	}
	if n < 1000000 {
		return fmt.Sprintf("%.1fK", float64(n)/1000)
	}
	return fmt.Sprintf("%.1fM", float64(n)/1000000)
}

func formatBytes(b int64) string {
	const unit = 1024
	if b < unit {
		return fmt.Sprintf("%d B", b)
	}
	div, exp := int64(unit), 0
	for n := b / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(b)/float64(div), "KMGTPE"[exp])
}

// ShowProgress creates a byte progress bar for a download. A negative
// total shows a spinner instead of a bar.
func ShowProgress(total int64, description string) *progressbar.ProgressBar {
	return progressbar.NewOptions64(total,
		progressbar.OptionSetDescription(description),
		progressbar.OptionSetWidth(40),
		progressbar.OptionShowBytes(true),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "█",
			SaucerHead:    "█",
			SaucerPadding: "░",
			BarStart:      "",
			BarEnd:        "",
		}),
		progressbar.OptionThrottle(100*time.Millisecond),
		progressbar.OptionClearOnFinish(),
	)
}

// Progress adapts ShowProgress to the writer factory a source opener takes.
func Progress(total int64, description string) io.Writer {
	return ShowProgress(total, description)
}
