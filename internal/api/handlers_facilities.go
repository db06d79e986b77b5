package api

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/lox/sanitrack/internal/events"
	"github.com/lox/sanitrack/internal/grading"
	"github.com/lox/sanitrack/internal/inspection"
	"github.com/lox/sanitrack/internal/models"
	"github.com/lox/sanitrack/internal/proximity"
	"github.com/lox/sanitrack/internal/scoring"
	"github.com/lox/sanitrack/internal/store"
)

func (s *Server) handleListFacilities(w http.ResponseWriter, r *http.Request) {
	facilities, err := s.store.ListFacilities()
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	out := make([]FacilityView, 0, len(facilities))
	for _, f := range facilities {
		out = append(out, s.facilityView(f))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleGetFacility(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	f, err := s.store.GetFacility(id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s.facilityView(*f))
}

func (s *Server) handleCreateFacility(w http.ResponseWriter, r *http.Request) {
	var req createFacilityRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		s.writeError(w, r, badRequest("name required"))
		return
	}

	nf := store.NewFacility{
		Name:           req.Name,
		Address:        strings.TrimSpace(req.Address),
		IsOperational:  true,
		WaterAvailable: true,
	}
	if req.IsOperational != nil {
		nf.IsOperational = *req.IsOperational
	}
	if req.WaterAvailable != nil {
		nf.WaterAvailable = *req.WaterAvailable
	}

	switch {
	case req.Lat != nil && req.Lng != nil:
		nf.Latitude, nf.Longitude = *req.Lat, *req.Lng
	case nf.Address != "":
		if s.geocoder == nil {
			s.writeError(w, r, badRequest("lat and lng required"))
			return
		}
		res, err := s.geocoder.Geocode(r.Context(), nf.Address)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		nf.Latitude, nf.Longitude = res.Coordinate.Lat, res.Coordinate.Lng
		if res.FormattedAddress != "" {
			nf.Address = res.FormattedAddress
		}
	default:
		s.writeError(w, r, badRequest("lat and lng, or address, required"))
		return
	}
	if !proximity.ValidCoordinate(models.Coordinate{Lat: nf.Latitude, Lng: nf.Longitude}) {
		s.writeError(w, r, badRequest("coordinate out of range"))
		return
	}

	f, err := s.store.CreateFacility(nf)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.publishFacility(r, events.TypeFacilityCreated, *f)
	writeJSON(w, http.StatusCreated, s.facilityView(*f))
}

func (s *Server) handleDeleteFacility(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	f, err := s.store.GetFacility(id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.store.DeleteFacility(id); err != nil {
		s.writeError(w, r, err)
		return
	}
	if s.display != nil {
		if err := s.display.Clear(id); err != nil {
			s.logger.Warn("failed to clear display", "error", err, "toilet_id", id)
		}
	}
	s.publishFacility(r, events.TypeFacilityDeleted, *f)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleUpdateStatus(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req statusRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if req.IsOperational == nil && req.WaterAvailable == nil {
		s.writeError(w, r, badRequest("is_operational or water_available required"))
		return
	}

	f, err := s.store.UpdateFacilityStatus(id, store.StatusUpdate{
		IsOperational:  req.IsOperational,
		WaterAvailable: req.WaterAvailable,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.publishFacility(r, events.TypeFacilityUpdated, *f)
	writeJSON(w, http.StatusOK, s.facilityView(*f))
}

func (s *Server) publishFacility(r *http.Request, typ events.Type, f models.Facility) {
	ev := events.Event{
		Type:       typ,
		FacilityID: f.ID,
		Score:      f.CleanlinessScore,
		Grade:      f.CleanlinessGrade,
		At:         time.Now().UTC(),
	}
	if err := s.events.Publish(r.Context(), ev); err != nil {
		s.logger.Warn("failed to publish facility event", "error", err, "type", typ, "toilet_id", f.ID)
	}
}

// handleAlternatives ranks better facilities near the given one. Query
// parameters: limit, floor (grade letter), radius_km.
func (s *Server) handleAlternatives(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	q := r.URL.Query()
	var aq inspection.AlternativeQuery
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			s.writeError(w, r, badRequest("limit must be a positive integer"))
			return
		}
		aq.MaxResults = n
	}
	if v := q.Get("floor"); v != "" {
		g, ok := grading.ParseGrade(v)
		if !ok {
			s.writeError(w, r, badRequest("unknown grade %q", v))
			return
		}
		aq.Floor = g
	}
	if v := q.Get("radius_km"); v != "" {
		km, err := strconv.ParseFloat(v, 64)
		if err != nil || km <= 0 {
			s.writeError(w, r, badRequest("radius_km must be a positive number"))
			return
		}
		aq.RadiusKM = km
	}

	_, alts, err := s.inspections.Alternatives(r.Context(), id, aq)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s.alternativeViews(alts))
}

// handleNearby lists facilities around a point: lat, lng, radius_km
// (default 2) and an optional floor.
func (s *Server) handleNearby(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	lat, err := strconv.ParseFloat(q.Get("lat"), 64)
	if err != nil {
		s.writeError(w, r, badRequest("lat required"))
		return
	}
	lng, err := strconv.ParseFloat(q.Get("lng"), 64)
	if err != nil {
		s.writeError(w, r, badRequest("lng required"))
		return
	}

	radius := s.ranking.NearbyRadiusKM
	if v := q.Get("radius_km"); v != "" {
		radius, err = strconv.ParseFloat(v, 64)
		if err != nil || radius <= 0 {
			s.writeError(w, r, badRequest("radius_km must be a positive number"))
			return
		}
	}
	floor := grading.GradeUnknown
	if v := q.Get("floor"); v != "" {
		g, ok := grading.ParseGrade(v)
		if !ok {
			s.writeError(w, r, badRequest("unknown grade %q", v))
			return
		}
		floor = g
	}

	alts, err := s.inspections.Nearby(r.Context(), models.Coordinate{Lat: lat, Lng: lng}, radius, floor)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s.alternativeViews(alts))
}

// handleManualScore records an inspector-supplied score.
func (s *Server) handleManualScore(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req manualScoreRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if req.Score == nil {
		s.writeError(w, r, badRequest("score required"))
		return
	}

	out, err := s.inspections.Submit(r.Context(), inspection.Submission{
		FacilityID:  id,
		InspectorID: s.inspectorID(r, req.InspectorID),
		Input:       scoring.Supplied(*req.Score, scoring.ProvenanceManual),
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s.inspectionResponse(out))
}

// handleSubmitInspection records an inspection scored from raw signals.
func (s *Server) handleSubmitInspection(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req signalsRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if req.LitterCount == nil {
		s.writeError(w, r, badRequest("litter_count required"))
		return
	}

	out, err := s.inspections.Submit(r.Context(), inspection.Submission{
		FacilityID:  id,
		InspectorID: s.inspectorID(r, req.InspectorID),
		Input: scoring.FromSignals(scoring.Signals{
			LitterCount: *req.LitterCount,
			WetFloor:    req.WetFloor,
			Overflow:    req.Overflow,
		}),
		ImageURL: req.ImageURL,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, s.inspectionResponse(out))
}

func (s *Server) handleListInspections(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if _, err := s.store.GetFacility(id); err != nil {
		s.writeError(w, r, err)
		return
	}

	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		if limit, err = strconv.Atoi(v); err != nil || limit < 1 {
			s.writeError(w, r, badRequest("limit must be a positive integer"))
			return
		}
	}
	insps, err := s.store.ListInspections(id, limit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	out := make([]InspectionView, 0, len(insps))
	for _, insp := range insps {
		out = append(out, s.inspectionView(insp))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleAddRating(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req ratingRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	userID := s.inspectorID(r, req.UserID)
	if userID == "" {
		s.writeError(w, r, badRequest("user_id required"))
		return
	}

	rating := &models.Rating{
		FacilityID: id,
		UserID:     userID,
		Rating:     req.Rating,
		Comment:    strings.TrimSpace(req.Comment),
	}
	if err := s.store.AddRating(rating); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, rating)
}

func (s *Server) handleListRatings(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if _, err := s.store.GetFacility(id); err != nil {
		s.writeError(w, r, err)
		return
	}
	ratings, err := s.store.ListRatings(id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if ratings == nil {
		ratings = []models.Rating{}
	}
	writeJSON(w, http.StatusOK, ratings)
}

// inspectorID prefers the authenticated caller over a body-supplied id.
func (s *Server) inspectorID(r *http.Request, fromBody string) string {
	if id := r.Header.Get(userHeader); id != "" {
		return id
	}
	return strings.TrimSpace(fromBody)
}
