package api

import (
	"encoding/json"
	"time"

	"github.com/lox/sanitrack/internal/grading"
	"github.com/lox/sanitrack/internal/inspection"
	"github.com/lox/sanitrack/internal/models"
	"github.com/lox/sanitrack/internal/proximity"
	"github.com/lox/sanitrack/internal/scoring"
)

// FacilityView is a facility with its grade color resolved.
type FacilityView struct {
	models.Facility
	Color string `json:"color"`
}

type AlternativeView struct {
	FacilityView
	DistanceKM float64 `json:"distance_km"`
}

type InspectionView struct {
	ID          string             `json:"id"`
	FacilityID  int64              `json:"toilet_id"`
	InspectorID string             `json:"inspector_id,omitempty"`
	CreatedAt   time.Time          `json:"created_at"`
	LitterCount int                `json:"litter_count"`
	WetFloor    bool               `json:"wet_floor_detected"`
	Overflow    bool               `json:"overflow_detected"`
	Score       *float64           `json:"calculated_score"`
	Grade       grading.Grade      `json:"grade,omitempty"`
	ImageURL    string             `json:"image_url,omitempty"`
	Provenance  scoring.Provenance `json:"provenance"`
	Detection   json.RawMessage    `json:"detection_json,omitempty"`
}

// InspectionResponse is returned after recording an inspection.
type InspectionResponse struct {
	Inspection   InspectionView    `json:"inspection"`
	Facility     FacilityView      `json:"facility"`
	Poor         bool              `json:"poor"`
	Alternatives []AlternativeView `json:"alternatives"`
}

type DetectResponse struct {
	Score           float64             `json:"score"`
	Grade           grading.Grade       `json:"grade"`
	Color           string              `json:"color"`
	Method          string              `json:"method"`
	ImageBase64     string              `json:"image_base64"`
	Detections      []scoring.Detection `json:"detections"`
	TotalDetections int                 `json:"total_detections"`
	InspectionID    string              `json:"inspection_id"`
	Alternatives    []AlternativeView   `json:"alternatives"`
}

type AnalyzeResponse struct {
	Gemini       scoring.Signals   `json:"gemini"`
	Score        float64           `json:"score"`
	Grade        grading.Grade     `json:"grade"`
	Color        string            `json:"color"`
	ImageBase64  string            `json:"image_base64"`
	InspectionID string            `json:"inspection_id,omitempty"`
	Alternatives []AlternativeView `json:"alternatives,omitempty"`
}

type RecentScore struct {
	InspectionID string             `json:"inspection_id"`
	FacilityID   int64              `json:"toilet_id"`
	Score        float64            `json:"score"`
	Grade        grading.Grade      `json:"grade"`
	Provenance   scoring.Provenance `json:"provenance"`
	CreatedAt    time.Time          `json:"created_at"`
}

type DashboardResponse struct {
	Total             int                   `json:"total"`
	Counts            map[grading.Grade]int `json:"counts"`
	AverageScore      float64               `json:"average_score"`
	Poor              []FacilityView        `json:"poor"`
	RecentInspections []RecentScore         `json:"recent_inspections"`
}

type HealthResponse struct {
	Status        string `json:"status"`
	SchemaVersion int    `json:"schema_version"`
	Facilities    int    `json:"facilities"`
	Uptime        string `json:"uptime"`
	Error         string `json:"error,omitempty"`
}

type createFacilityRequest struct {
	Name           string   `json:"name"`
	Address        string   `json:"address"`
	Lat            *float64 `json:"lat"`
	Lng            *float64 `json:"lng"`
	IsOperational  *bool    `json:"is_operational"`
	WaterAvailable *bool    `json:"water_available"`
}

type statusRequest struct {
	IsOperational  *bool `json:"is_operational"`
	WaterAvailable *bool `json:"water_available"`
}

type manualScoreRequest struct {
	Score       *float64 `json:"score"`
	InspectorID string   `json:"inspector_id"`
}

type signalsRequest struct {
	LitterCount *int   `json:"litter_count"`
	WetFloor    bool   `json:"wet_floor_detected"`
	Overflow    bool   `json:"overflow_detected"`
	InspectorID string `json:"inspector_id"`
	ImageURL    string `json:"image_url"`
}

type ratingRequest struct {
	UserID  string `json:"user_id"`
	Rating  int    `json:"rating"`
	Comment string `json:"comment"`
}

func (s *Server) facilityView(f models.Facility) FacilityView {
	return FacilityView{Facility: f, Color: s.store.Grades().Color(f.CleanlinessGrade)}
}

func (s *Server) alternativeViews(alts []proximity.Alternative) []AlternativeView {
	out := make([]AlternativeView, 0, len(alts))
	for _, a := range alts {
		out = append(out, AlternativeView{FacilityView: s.facilityView(a.Facility), DistanceKM: a.DistanceKM})
	}
	return out
}

func (s *Server) inspectionView(insp models.Inspection) InspectionView {
	v := InspectionView{
		ID:          insp.ID,
		FacilityID:  insp.FacilityID,
		InspectorID: insp.InspectorID.String,
		CreatedAt:   insp.CreatedAt,
		LitterCount: insp.LitterCount,
		WetFloor:    insp.WetFloor,
		Overflow:    insp.Overflow,
		ImageURL:    insp.ImageURL.String,
		Provenance:  insp.Provenance,
		Detection:   insp.DetectionJSON,
	}
	if insp.CalculatedScore.Valid {
		score := insp.CalculatedScore.Float64
		v.Score = &score
		v.Grade = s.store.Grades().GradeFor(score)
	}
	return v
}

func (s *Server) inspectionResponse(out *inspection.Outcome) InspectionResponse {
	return InspectionResponse{
		Inspection:   s.inspectionView(out.Inspection),
		Facility:     s.facilityView(out.Facility),
		Poor:         out.Poor,
		Alternatives: s.alternativeViews(out.Alternatives),
	}
}
