package grading

import (
	"math"
	"strings"
)

// Grade is a cleanliness letter grade.
type Grade string

const (
	GradeA       Grade = "A"
	GradeB       Grade = "B"
	GradeC       Grade = "C"
	GradeD       Grade = "D"
	GradeF       Grade = "F"
	GradeUnknown Grade = ""
)

// Score cut points. Each is the inclusive lower bound of its tier.
const (
	MinScoreA = 85.0
	MinScoreB = 70.0
	MinScoreC = 50.0
	MinScoreD = 30.0
)

// Display colors shared by every surface that shows a grade.
const (
	ColorA       = "#27AE60"
	ColorB       = "#82E0AA"
	ColorC       = "#F4D03F"
	ColorD       = "#E67E22"
	ColorF       = "#C0392B"
	ColorUnknown = "#95A5A6"
)

// Rank returns a numeric rank for ordering (higher = cleaner).
// Unknown grades rank below F.
func (g Grade) Rank() int {
	switch g {
	case GradeA:
		return 4
	case GradeB:
		return 3
	case GradeC:
		return 2
	case GradeD:
		return 1
	case GradeF:
		return 0
	default:
		return -1
	}
}

// AtLeast reports whether g is the same as or better than floor.
func (g Grade) AtLeast(floor Grade) bool {
	return g.Rank() >= 0 && g.Rank() >= floor.Rank()
}

// Valid reports whether g is one of A, B, C, D or F.
func (g Grade) Valid() bool {
	return g.Rank() >= 0
}

func (g Grade) String() string {
	if g == GradeUnknown {
		return "?"
	}
	return string(g)
}

// ParseGrade parses a letter grade, case-insensitively.
func ParseGrade(s string) (Grade, bool) {
	g := Grade(strings.ToUpper(strings.TrimSpace(s)))
	if !g.Valid() {
		return GradeUnknown, false
	}
	return g, true
}

// Tier is one row of the grade table.
type Tier struct {
	Grade    Grade   `json:"grade"`
	MinScore float64 `json:"min_score"`
	Color    string  `json:"color"`
}

// Classification is the result of classifying a score.
type Classification struct {
	Score float64 `json:"score"`
	Grade Grade   `json:"grade"`
	Color string  `json:"color"`
}

// Table maps scores to grades and colors. It is built once at startup and
// never modified; share the pointer.
type Table struct {
	tiers []Tier // descending by MinScore
}

var defaultTable = &Table{tiers: []Tier{
	{Grade: GradeA, MinScore: MinScoreA, Color: ColorA},
	{Grade: GradeB, MinScore: MinScoreB, Color: ColorB},
	{Grade: GradeC, MinScore: MinScoreC, Color: ColorC},
	{Grade: GradeD, MinScore: MinScoreD, Color: ColorD},
	{Grade: GradeF, MinScore: 0, Color: ColorF},
}}

// Default returns the canonical grade table.
func Default() *Table {
	return defaultTable
}

// Classify maps a score to a grade and color. It never fails: scores outside
// [0, 100] are clamped and NaN is treated as the worst grade.
func (t *Table) Classify(score float64) Classification {
	if math.IsNaN(score) {
		score = 0
	}
	score = Clamp(score)
	for _, tier := range t.tiers {
		if score >= tier.MinScore {
			return Classification{Score: score, Grade: tier.Grade, Color: tier.Color}
		}
	}
	last := t.tiers[len(t.tiers)-1]
	return Classification{Score: score, Grade: last.Grade, Color: last.Color}
}

// GradeFor is shorthand for Classify(score).Grade.
func (t *Table) GradeFor(score float64) Grade {
	return t.Classify(score).Grade
}

// Color returns the display color for a grade, or a neutral gray for
// anything not in the table.
func (t *Table) Color(g Grade) string {
	for _, tier := range t.tiers {
		if tier.Grade == g {
			return tier.Color
		}
	}
	return ColorUnknown
}

// IsPoor reports whether a facility with this grade should surface
// alternatives (D or F).
func (t *Table) IsPoor(g Grade) bool {
	return g.Valid() && g.Rank() <= GradeD.Rank()
}

// Tiers returns a copy of the table rows, best grade first.
func (t *Table) Tiers() []Tier {
	out := make([]Tier, len(t.tiers))
	copy(out, t.tiers)
	return out
}

// Clamp limits a score to [0, 100].
func Clamp(score float64) float64 {
	switch {
	case score < 0:
		return 0
	case score > 100:
		return 100
	default:
		return score
	}
}
