package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/lox/sanitrack/internal/grading"
	"github.com/lox/sanitrack/internal/models"
	"github.com/lox/sanitrack/internal/proximity"
)

type reportStyles struct {
	header lipgloss.Style
	dim    lipgloss.Style
	closed lipgloss.Style
}

func newReportStyles() reportStyles {
	return reportStyles{
		header: lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12")),
		dim:    lipgloss.NewStyle().Foreground(lipgloss.Color("8")),
		closed: lipgloss.NewStyle().Foreground(lipgloss.Color("9")),
	}
}

// gradeStyle colors a grade letter the same way the public displays do.
func gradeStyle(table *grading.Table, g grading.Grade) lipgloss.Style {
	return lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color(table.Color(g)))
}

func gradeLabel(g grading.Grade) string {
	if g == grading.GradeUnknown {
		return "?"
	}
	return string(g)
}

func renderReport(w io.Writer, table *grading.Table, facilities []models.Facility, counts map[grading.Grade]int, avg float64) {
	styles := newReportStyles()

	total := 0
	for _, n := range counts {
		total += n
	}

	fmt.Fprintln(w, styles.header.Render("FACILITY CLEANLINESS REPORT"))
	fmt.Fprintf(w, "%d facilities, average score %.1f\n\n", total, avg)

	for _, tier := range table.Tiers() {
		n := counts[tier.Grade]
		fmt.Fprintf(w, "  %s %s %-4d %s\n",
			gradeStyle(table, tier.Grade).Render(string(tier.Grade)),
			styles.dim.Render(fmt.Sprintf("(%3.0f+)", tier.MinScore)),
			n,
			renderBar(n, total, table.Color(tier.Grade)))
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, styles.header.Render(fmt.Sprintf("%4s  %-32s %6s  %-5s  %s", "ID", "NAME", "SCORE", "GRADE", "STATUS")))
	for _, f := range facilities {
		status := "open"
		if !f.IsOperational {
			status = styles.closed.Render("closed")
		} else if !f.WaterAvailable {
			status = styles.closed.Render("no water")
		}
		fmt.Fprintf(w, "%4d  %-32s %6.1f  %s      %s\n",
			f.ID,
			truncate(f.Name, 32),
			f.CleanlinessScore,
			gradeStyle(table, f.CleanlinessGrade).Render(gradeLabel(f.CleanlinessGrade)),
			status)
	}
}

func renderNearby(w io.Writer, table *grading.Table, alts []proximity.Alternative) {
	styles := newReportStyles()
	if len(alts) == 0 {
		fmt.Fprintln(w, styles.dim.Render("no facilities found"))
		return
	}
	fmt.Fprintln(w, styles.header.Render(fmt.Sprintf("%4s  %-32s %8s  %-5s", "ID", "NAME", "DISTANCE", "GRADE")))
	for _, a := range alts {
		fmt.Fprintf(w, "%4d  %-32s %6.2fkm  %s\n",
			a.Facility.ID,
			truncate(a.Facility.Name, 32),
			a.DistanceKM,
			gradeStyle(table, a.Facility.CleanlinessGrade).Render(gradeLabel(a.Facility.CleanlinessGrade)))
	}
}

func renderBar(count, total int, color string) string {
	if total == 0 {
		return ""
	}
	const width = 20
	filled := count * width / total
	if count > 0 && filled == 0 {
		filled = 1
	}
	fill := lipgloss.NewStyle().Foreground(lipgloss.Color(color))
	empty := lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	return fill.Render(strings.Repeat("█", filled)) + empty.Render(strings.Repeat("░", width-filled))
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}
