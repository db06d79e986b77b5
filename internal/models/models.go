package models

import (
	"database/sql"
	"encoding/json"
	"time"

	"github.com/lox/sanitrack/internal/grading"
	"github.com/lox/sanitrack/internal/scoring"
)

type Coordinate struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

type Facility struct {
	ID               int64         `json:"id"`
	Name             string        `json:"name"`
	Address          string        `json:"address,omitempty"`
	Latitude         float64       `json:"lat"`
	Longitude        float64       `json:"lng"`
	CleanlinessScore float64       `json:"score"`
	CleanlinessGrade grading.Grade `json:"grade"`
	IsOperational    bool          `json:"is_operational"`
	WaterAvailable   bool          `json:"water_available"`
	TotalInspections int           `json:"total_inspections"`
	LastUpdated      time.Time     `json:"last_updated"`
	SourceRef        string        `json:"source_ref,omitempty"` // key in the external registry, if imported
	CreatedAt        time.Time     `json:"created_at"`
}

func (f Facility) Coordinate() Coordinate {
	return Coordinate{Lat: f.Latitude, Lng: f.Longitude}
}

type Inspection struct {
	ID              string
	FacilityID      int64
	InspectorID     sql.NullString
	CreatedAt       time.Time
	LitterCount     int
	WetFloor        bool
	Overflow        bool
	CalculatedScore sql.NullFloat64
	ImageURL        sql.NullString
	DetectionJSON   json.RawMessage // opaque payload from the vision service or detector
	Provenance      scoring.Provenance
}

type Rating struct {
	ID         string    `json:"id"`
	FacilityID int64     `json:"toilet_id"`
	UserID     string    `json:"user_id"`
	Rating     int       `json:"rating"`
	Comment    string    `json:"comment,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

type Role string

const (
	RoleAdmin            Role = "admin"
	RoleMaintenanceStaff Role = "maintenance_staff"
)

type Profile struct {
	ID          string
	DisplayName string
	CreatedAt   time.Time
}
