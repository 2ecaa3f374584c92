package ui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/macrolog/macrolog/internal/schema"
)

// EntryTable renders entries as aligned rows. Pending entries are marked so
// they are never mistaken for ones the service has accepted.
func EntryTable(entries []schema.FoodEntry) string {
	if len(entries) == 0 {
		return RenderMuted("No entries.") + "\n"
	}

	rows := [][]string{{"ID", "FOOD", "KCAL", "P", "C", "F", "SERVING", ""}}
	for i := range entries {
		e := &entries[i]
		status := ""
		if e.IsPending() {
			status = "pending"
		}
		rows = append(rows, []string{
			e.ID.String(),
			e.Name,
			formatAmount(e.Calories),
			formatAmount(e.Protein),
			formatAmount(e.Carbs),
			formatAmount(e.Fats),
			e.ServingSize,
			status,
		})
	}

	widths := make([]int, len(rows[0]))
	for _, row := range rows {
		for i, cell := range row {
			if w := lipgloss.Width(cell); w > widths[i] {
				widths[i] = w
			}
		}
	}

	var b strings.Builder
	for r, row := range rows {
		cells := make([]string, len(row))
		for i, cell := range row {
			padded := cell + strings.Repeat(" ", widths[i]-lipgloss.Width(cell))
			switch {
			case r == 0:
				padded = headerStyle.Render(padded)
			case i == len(row)-1 && cell != "":
				padded = RenderWarn(padded)
			case i == 0:
				padded = RenderMuted(padded)
			}
			cells[i] = padded
		}
		b.WriteString(strings.TrimRight(strings.Join(cells, "  "), " "))
		b.WriteByte('\n')
	}
	return b.String()
}

// barWidth is the width of a progress bar in cells.
const barWidth = 20

// SummaryView renders a day's totals against its goals.
func SummaryView(s schema.MacroSummary) string {
	var b strings.Builder

	title := fmt.Sprintf("Summary for %s", s.Date)
	if s.Source == schema.SourceLocal {
		title += " " + RenderWarn("(offline estimate)")
	}
	b.WriteString(headerStyle.Render(title))
	b.WriteByte('\n')

	rows := []struct {
		label       string
		total, goal float64
		unit        string
	}{
		{"Calories", s.Totals.Calories, s.Goals.Calories, "kcal"},
		{"Protein", s.Totals.Protein, s.Goals.Protein, "g"},
		{"Carbs", s.Totals.Carbs, s.Goals.Carbs, "g"},
		{"Fats", s.Totals.Fats, s.Goals.Fats, "g"},
	}
	for _, r := range rows {
		fmt.Fprintf(&b, "  %-8s %s %s / %s %s\n",
			r.label, Bar(r.total, r.goal, barWidth), formatAmount(r.total), formatAmount(r.goal), r.unit)
	}
	return b.String()
}

// Bar renders total/goal as a fixed-width bar. Over-goal bars are drawn in
// the failure color.
func Bar(total, goal float64, width int) string {
	if width <= 0 {
		return ""
	}
	ratio := 0.0
	if goal > 0 {
		ratio = total / goal
	}
	filled := int(ratio*float64(width) + 0.5)
	if filled > width {
		filled = width
	}
	if filled < 0 {
		filled = 0
	}
	bar := strings.Repeat("█", filled) + strings.Repeat("░", width-filled)
	if ratio > 1 {
		return RenderFail(bar)
	}
	return RenderPass(bar)
}

// formatAmount prints whole numbers without decimals and others with one.
func formatAmount(v float64) string {
	if v == float64(int64(v)) {
		return fmt.Sprintf("%d", int64(v))
	}
	return fmt.Sprintf("%.1f", v)
}
