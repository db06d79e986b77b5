// Package proximity ranks nearby facilities by great-circle distance.
//
// Two call patterns are supported. FindAlternatives answers "where is the
// nearest acceptable facility to this one", and Nearby answers "what is close
// to this point". Both are pure: the caller fetches the candidate set.
package proximity

import (
	"math"
	"sort"

	"github.com/lox/sanitrack/internal/grading"
	"github.com/lox/sanitrack/internal/models"
)

// EarthRadiusKM is the mean Earth radius used for all distances.
const EarthRadiusKM = 6371.0

// DefaultNearbyRadiusKM is the radius used by Nearby when none is given.
const DefaultNearbyRadiusKM = 2.0

// Query configures a ranking call.
type Query struct {
	// Floor is the worst grade a candidate may have. GradeUnknown accepts
	// any valid grade.
	Floor grading.Grade
	// MaxResults caps the output length. Zero or negative means no cap.
	MaxResults int
	// MaxRadiusKM excludes candidates further away. Zero means unlimited.
	MaxRadiusKM float64
	// OperationalOnly excludes facilities flagged as not operational.
	OperationalOnly bool
}

// Alternative is a candidate facility with its distance from the origin.
type Alternative struct {
	Facility   models.Facility `json:"facility"`
	DistanceKM float64         `json:"distance_km"`
}

// Haversine returns the great-circle distance in km between two coordinates.
func Haversine(a, b models.Coordinate) float64 {
	dLat := toRadians(b.Lat - a.Lat)
	dLng := toRadians(b.Lng - a.Lng)

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(toRadians(a.Lat))*math.Cos(toRadians(b.Lat))*
			math.Sin(dLng/2)*math.Sin(dLng/2)
	// Rounding can push h just past 1 for near-antipodal points.
	h = math.Min(1, math.Max(0, h))

	return 2 * EarthRadiusKM * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
}

func toRadians(deg float64) float64 {
	return deg * math.Pi / 180
}

// ValidCoordinate reports whether c is finite and on the globe.
func ValidCoordinate(c models.Coordinate) bool {
	if math.IsNaN(c.Lat) || math.IsNaN(c.Lng) || math.IsInf(c.Lat, 0) || math.IsInf(c.Lng, 0) {
		return false
	}
	return c.Lat >= -90 && c.Lat <= 90 && c.Lng >= -180 && c.Lng <= 180
}

// FindAlternatives returns candidates that meet the query's grade floor,
// nearest first. The origin itself is never included.
func FindAlternatives(origin models.Facility, candidates []models.Facility, q Query) []Alternative {
	return rank(origin.Coordinate(), &origin.ID, candidates, q)
}

// Nearby returns candidates within the query radius of a point, nearest
// first. DefaultNearbyRadiusKM applies when the query has no radius.
func Nearby(point models.Coordinate, candidates []models.Facility, q Query) []Alternative {
	if q.MaxRadiusKM <= 0 {
		q.MaxRadiusKM = DefaultNearbyRadiusKM
	}
	return rank(point, nil, candidates, q)
}

// DefaultFloor returns the floor used when a caller asks for alternatives
// without naming one. Poor facilities look for C or better; others look for
// anything at least one grade better.
func DefaultFloor(table *grading.Table, origin grading.Grade) grading.Grade {
	if !origin.Valid() || table.IsPoor(origin) {
		return grading.GradeC
	}
	switch origin {
	case grading.GradeC:
		return grading.GradeB
	default:
		return grading.GradeA
	}
}

func rank(point models.Coordinate, excludeID *int64, candidates []models.Facility, q Query) []Alternative {
	if !ValidCoordinate(point) {
		return []Alternative{}
	}

	out := make([]Alternative, 0, len(candidates))
	for _, c := range candidates {
		if excludeID != nil && c.ID == *excludeID {
			continue
		}
		if q.Floor != grading.GradeUnknown && !c.CleanlinessGrade.AtLeast(q.Floor) {
			continue
		}
		if q.Floor == grading.GradeUnknown && !c.CleanlinessGrade.Valid() {
			continue
		}
		if q.OperationalOnly && !c.IsOperational {
			continue
		}
		if !ValidCoordinate(c.Coordinate()) {
			continue
		}

		dist := Haversine(point, c.Coordinate())
		if q.MaxRadiusKM > 0 && dist > q.MaxRadiusKM {
			continue
		}
		out = append(out, Alternative{Facility: c, DistanceKM: dist})
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].DistanceKM != out[j].DistanceKM {
			return out[i].DistanceKM < out[j].DistanceKM
		}
		return out[i].Facility.ID < out[j].Facility.ID
	})

	if q.MaxResults > 0 && len(out) > q.MaxResults {
		out = out[:q.MaxResults]
	}
	return out
}
