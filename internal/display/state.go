// Package display builds the public display state for a facility and pushes
// it to kiosks over MQTT.
package display

import (
	"time"

	"github.com/lox/sanitrack/internal/grading"
	"github.com/lox/sanitrack/internal/models"
	"github.com/lox/sanitrack/internal/proximity"
)

// Suggestion is a nearby better facility shown on a poor facility's display.
type Suggestion struct {
	FacilityID int64         `json:"toilet_id"`
	Name       string        `json:"name"`
	Grade      grading.Grade `json:"grade"`
	Color      string        `json:"color"`
	DistanceKM float64       `json:"distance_km"`
}

// State is everything a public display renders for one facility.
type State struct {
	FacilityID       int64         `json:"toilet_id"`
	Name             string        `json:"name"`
	Score            float64       `json:"score"`
	Grade            grading.Grade `json:"grade"`
	Color            string        `json:"color"`
	IsOperational    bool          `json:"is_operational"`
	WaterAvailable   bool          `json:"water_available"`
	TotalInspections int           `json:"total_inspections"`
	LastUpdated      time.Time     `json:"last_updated"`
	Poor             bool          `json:"poor"`
	Suggestions      []Suggestion  `json:"suggestions"`
	GeneratedAt      time.Time     `json:"generated_at"`
}

// Options controls how suggestions are chosen.
type Options struct {
	MaxSuggestions  int
	RadiusKM        float64
	OperationalOnly bool
}

// Build computes the display state for f. Poor or closed facilities get
// suggestions drawn from all, ranked by distance.
func Build(table *grading.Table, f models.Facility, all []models.Facility, opts Options) State {
	c := table.Classify(f.CleanlinessScore)
	st := State{
		FacilityID:       f.ID,
		Name:             f.Name,
		Score:            c.Score,
		Grade:            c.Grade,
		Color:            c.Color,
		IsOperational:    f.IsOperational,
		WaterAvailable:   f.WaterAvailable,
		TotalInspections: f.TotalInspections,
		LastUpdated:      f.LastUpdated,
		Poor:             table.IsPoor(c.Grade),
		Suggestions:      []Suggestion{},
		GeneratedAt:      time.Now().UTC(),
	}

	if !st.Poor && f.IsOperational {
		return st
	}

	floor := proximity.DefaultFloor(table, c.Grade)
	if !f.IsOperational {
		// any acceptable facility beats a closed one
		floor = grading.GradeC
	}
	alts := proximity.FindAlternatives(f, all, proximity.Query{
		Floor:           floor,
		MaxResults:      opts.MaxSuggestions,
		MaxRadiusKM:     opts.RadiusKM,
		OperationalOnly: opts.OperationalOnly,
	})
	for _, a := range alts {
		st.Suggestions = append(st.Suggestions, Suggestion{
			FacilityID: a.Facility.ID,
			Name:       a.Facility.Name,
			Grade:      a.Facility.CleanlinessGrade,
			Color:      table.Color(a.Facility.CleanlinessGrade),
			DistanceKM: a.DistanceKM,
		})
	}
	return st
}
