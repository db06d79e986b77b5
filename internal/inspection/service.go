// Package inspection runs the inspection lifecycle: score the submission,
// record it against the facility, classify the result and, for poor results,
// look up better facilities nearby.
package inspection

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/lox/sanitrack/internal/display"
	"github.com/lox/sanitrack/internal/events"
	"github.com/lox/sanitrack/internal/grading"
	"github.com/lox/sanitrack/internal/metrics"
	"github.com/lox/sanitrack/internal/models"
	"github.com/lox/sanitrack/internal/proximity"
	"github.com/lox/sanitrack/internal/scoring"
)

// Store is the persistence the service needs.
type Store interface {
	GetFacility(id int64) (*models.Facility, error)
	ListFacilities() ([]models.Facility, error)
	RecordInspection(insp *models.Inspection) (*models.Facility, error)
	StoreAnalysisPayload(inspectionID, source string, payload []byte) (int64, error)
}

// DisplayPublisher receives fresh display state after each inspection.
type DisplayPublisher interface {
	Publish(st display.State) error
}

// Options tunes alternative selection.
type Options struct {
	MaxAlternatives int
	NearbyRadiusKM  float64
	OperationalOnly bool
}

type Service struct {
	store   Store
	grades  *grading.Table
	events  events.Publisher
	display DisplayPublisher
	opts    Options
	logger  *slog.Logger
}

func NewService(st Store, grades *grading.Table, pub events.Publisher, logger *slog.Logger, opts Options) *Service {
	if pub == nil {
		pub = events.Nop{}
	}
	if opts.MaxAlternatives <= 0 {
		opts.MaxAlternatives = 2
	}
	return &Service{store: st, grades: grades, events: pub, opts: opts, logger: logger}
}

// SetDisplay attaches a display publisher. Nil disables display pushes.
func (s *Service) SetDisplay(d DisplayPublisher) {
	s.display = d
}

func (s *Service) Grades() *grading.Table {
	return s.grades
}

// Submission is one inspection to record.
type Submission struct {
	FacilityID  int64
	InspectorID string
	Input       scoring.Input
	ImageURL    string

	// Provenance overrides the provenance derived from Input, for signals
	// that came from an upstream analysis rather than a person.
	Provenance scoring.Provenance

	// Detection is the upstream analysis payload, stored opaquely with the
	// inspection and archived under PayloadSource when set.
	Detection     json.RawMessage
	PayloadSource string
}

// Outcome is the result of a recorded inspection.
type Outcome struct {
	Inspection     models.Inspection
	Facility       models.Facility
	Classification grading.Classification
	Poor           bool
	Alternatives   []proximity.Alternative
}

// Submit scores and records an inspection. Scoring errors wrap
// scoring.ErrInvalidInput and nothing is stored.
func (s *Service) Submit(ctx context.Context, sub Submission) (*Outcome, error) {
	result, err := scoring.Compute(sub.Input)
	if err != nil {
		metrics.InspectionsRejected.WithLabelValues("invalid_input").Inc()
		return nil, err
	}
	if sub.Provenance != "" {
		result.Provenance = sub.Provenance
	}

	insp := models.Inspection{
		FacilityID:      sub.FacilityID,
		InspectorID:     sql.NullString{String: sub.InspectorID, Valid: sub.InspectorID != ""},
		CalculatedScore: sql.NullFloat64{Float64: result.Score, Valid: true},
		ImageURL:        sql.NullString{String: sub.ImageURL, Valid: sub.ImageURL != ""},
		DetectionJSON:   sub.Detection,
		Provenance:      result.Provenance,
	}
	if sig, ok := sub.Input.Signals(); ok {
		insp.LitterCount = sig.LitterCount
		insp.WetFloor = sig.WetFloor
		insp.Overflow = sig.Overflow
	}

	facility, err := s.store.RecordInspection(&insp)
	if err != nil {
		return nil, fmt.Errorf("record inspection: %w", err)
	}

	c := s.grades.Classify(facility.CleanlinessScore)
	metrics.InspectionsRecorded.WithLabelValues(string(result.Provenance), string(c.Grade)).Inc()

	out := &Outcome{
		Inspection:     insp,
		Facility:       *facility,
		Classification: c,
		Poor:           s.grades.IsPoor(c.Grade),
		Alternatives:   []proximity.Alternative{},
	}

	var all []models.Facility
	if out.Poor || s.display != nil {
		all, err = s.store.ListFacilities()
		if err != nil {
			s.logger.Warn("failed to load facilities for alternatives", "error", err)
		}
	}
	if out.Poor && all != nil {
		out.Alternatives = proximity.FindAlternatives(*facility, all, s.query(proximity.DefaultFloor(s.grades, c.Grade), 0))
	}

	if len(sub.Detection) > 0 && sub.PayloadSource != "" {
		if _, err := s.store.StoreAnalysisPayload(insp.ID, sub.PayloadSource, sub.Detection); err != nil {
			s.logger.Warn("failed to archive analysis payload", "error", err, "inspection_id", insp.ID)
		}
	}

	s.publish(ctx, out)
	if s.display != nil && all != nil {
		st := display.Build(s.grades, *facility, all, display.Options{
			MaxSuggestions:  s.opts.MaxAlternatives,
			RadiusKM:        s.opts.NearbyRadiusKM,
			OperationalOnly: s.opts.OperationalOnly,
		})
		if err := s.display.Publish(st); err != nil {
			s.logger.Warn("failed to publish display state", "error", err, "toilet_id", facility.ID)
		}
	}

	s.logger.Info("inspection recorded",
		"inspection_id", insp.ID, "toilet_id", facility.ID,
		"score", c.Score, "grade", c.Grade, "provenance", result.Provenance,
		"alternatives", len(out.Alternatives))
	return out, nil
}

func (s *Service) publish(ctx context.Context, out *Outcome) {
	ev := events.Event{
		Type:         events.TypeInspectionRecorded,
		FacilityID:   out.Facility.ID,
		InspectionID: out.Inspection.ID,
		Score:        out.Classification.Score,
		Grade:        out.Classification.Grade,
		Provenance:   out.Inspection.Provenance,
		At:           out.Inspection.CreatedAt,
	}
	for _, a := range out.Alternatives {
		ev.Alternatives = append(ev.Alternatives, events.Alternative{
			FacilityID: a.Facility.ID,
			Name:       a.Facility.Name,
			Grade:      a.Facility.CleanlinessGrade,
			DistanceKM: a.DistanceKM,
		})
	}
	if err := s.events.Publish(ctx, ev); err != nil {
		s.logger.Warn("failed to publish inspection event", "error", err, "toilet_id", out.Facility.ID)
	}
}

// AlternativeQuery narrows an alternatives lookup. Zero values take the
// service defaults.
type AlternativeQuery struct {
	Floor      grading.Grade
	MaxResults int
	RadiusKM   float64
}

// Alternatives ranks facilities near origin that meet the floor. An unset
// floor uses proximity.DefaultFloor for the origin's grade.
func (s *Service) Alternatives(ctx context.Context, originID int64, aq AlternativeQuery) (*models.Facility, []proximity.Alternative, error) {
	origin, err := s.store.GetFacility(originID)
	if err != nil {
		return nil, nil, err
	}
	all, err := s.store.ListFacilities()
	if err != nil {
		return nil, nil, fmt.Errorf("list facilities: %w", err)
	}

	floor := aq.Floor
	if !floor.Valid() {
		floor = proximity.DefaultFloor(s.grades, origin.CleanlinessGrade)
	}
	q := s.query(floor, aq.MaxResults)
	if aq.RadiusKM > 0 {
		q.MaxRadiusKM = aq.RadiusKM
	}
	return origin, proximity.FindAlternatives(*origin, all, q), nil
}

// Nearby lists graded facilities within radiusKM of a point. A zero radius
// uses proximity.DefaultNearbyRadiusKM.
func (s *Service) Nearby(ctx context.Context, point models.Coordinate, radiusKM float64, floor grading.Grade) ([]proximity.Alternative, error) {
	if !proximity.ValidCoordinate(point) {
		return nil, fmt.Errorf("%w: coordinate out of range", scoring.ErrInvalidInput)
	}
	all, err := s.store.ListFacilities()
	if err != nil {
		return nil, fmt.Errorf("list facilities: %w", err)
	}
	return proximity.Nearby(point, all, proximity.Query{
		Floor:           floor,
		MaxRadiusKM:     radiusKM,
		OperationalOnly: s.opts.OperationalOnly,
	}), nil
}

func (s *Service) query(floor grading.Grade, maxResults int) proximity.Query {
	if maxResults <= 0 {
		maxResults = s.opts.MaxAlternatives
	}
	return proximity.Query{
		Floor:           floor,
		MaxResults:      maxResults,
		MaxRadiusKM:     s.opts.NearbyRadiusKM,
		OperationalOnly: s.opts.OperationalOnly,
	}
}

// HandleMessage records an inspection received from the intake topic.
func (s *Service) HandleMessage(ctx context.Context, msg events.InspectionMessage, raw []byte) error {
	in := scoring.FromSignals(msg.Signals())
	if msg.Score != nil {
		in = scoring.Supplied(*msg.Score, scoring.ProvenanceManual)
	}
	_, err := s.Submit(ctx, Submission{
		FacilityID:    msg.FacilityID,
		InspectorID:   msg.InspectorID,
		Input:         in,
		Detection:     raw,
		PayloadSource: "kafka",
	})
	return err
}

// IsInvalidInput reports whether err came from rejected input.
func IsInvalidInput(err error) bool {
	return errors.Is(err, scoring.ErrInvalidInput)
}
