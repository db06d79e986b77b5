package api

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/lox/sanitrack/internal/display"
	"github.com/lox/sanitrack/internal/grading"
	"github.com/lox/sanitrack/internal/imagery"
)

func (s *Server) displayState(r *http.Request) (*display.State, error) {
	id, err := pathID(r)
	if err != nil {
		return nil, err
	}
	f, err := s.store.GetFacility(id)
	if err != nil {
		return nil, err
	}
	all, err := s.store.ListFacilities()
	if err != nil {
		return nil, err
	}
	st := display.Build(s.store.Grades(), *f, all, display.Options{
		MaxSuggestions:  s.ranking.MaxAlternatives,
		RadiusKM:        s.ranking.NearbyRadiusKM,
		OperationalOnly: s.ranking.OperationalOnly,
	})
	return &st, nil
}

// handleDisplay serves what an unattended public display shows for one
// facility. Kiosks poll this when they are not subscribed over MQTT.
func (s *Server) handleDisplay(w http.ResponseWriter, r *http.Request) {
	st, err := s.displayState(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	w.Header().Set("Cache-Control", "no-store")
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleDisplayCard(w http.ResponseWriter, r *http.Request) {
	st, err := s.displayState(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	card := imagery.CardData{
		Name:           st.Name,
		Classification: grading.Classification{Score: st.Score, Grade: st.Grade, Color: st.Color},
		Operational:    st.IsOperational,
	}
	if len(st.Suggestions) > 0 {
		card.Alternative = st.Suggestions[0].Name
	}
	data, err := imagery.RenderCard(card)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-store")
	w.Write(data)
}

func (s *Server) handleGrades(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.store.Grades().Tiers())
}

func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	table := s.store.Grades()

	counts, err := s.store.GradeCounts()
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	avg, err := s.store.AverageScore()
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	var poorGrades []grading.Grade
	for _, tier := range table.Tiers() {
		if table.IsPoor(tier.Grade) {
			poorGrades = append(poorGrades, tier.Grade)
		}
	}
	poor, err := s.store.ListFacilitiesByGrade(poorGrades...)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	recent, err := s.store.RecentInspections(20)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	resp := DashboardResponse{
		Counts:            make(map[grading.Grade]int),
		AverageScore:      avg,
		Poor:              make([]FacilityView, 0, len(poor)),
		RecentInspections: make([]RecentScore, 0, len(recent)),
	}
	for _, tier := range table.Tiers() {
		resp.Counts[tier.Grade] = counts[tier.Grade]
		resp.Total += counts[tier.Grade]
	}
	for _, f := range poor {
		resp.Poor = append(resp.Poor, s.facilityView(f))
	}
	for _, insp := range recent {
		resp.RecentInspections = append(resp.RecentInspections, RecentScore{
			InspectionID: insp.ID,
			FacilityID:   insp.FacilityID,
			Score:        insp.CalculatedScore.Float64,
			Grade:        table.GradeFor(insp.CalculatedScore.Float64),
			Provenance:   insp.Provenance,
			CreatedAt:    insp.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleImage(w http.ResponseWriter, r *http.Request) {
	if s.images == nil {
		s.writeError(w, r, imagery.ErrImageNotFound)
		return
	}
	data, err := s.images.Get(mux.Vars(r)["name"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", http.DetectContentType(data))
	w.Header().Set("Cache-Control", "public, max-age=86400")
	w.Write(data)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	health := HealthResponse{
		Status: "ok",
		Uptime: time.Since(s.startedAt).Round(time.Second).String(),
	}

	version, err := s.store.MigrationVersion()
	if err == nil {
		health.SchemaVersion = version
		var counts map[grading.Grade]int
		counts, err = s.store.GradeCounts()
		for _, n := range counts {
			health.Facilities += n
		}
	}
	if err != nil {
		health.Status = "error"
		health.Error = err.Error()
		writeJSON(w, http.StatusServiceUnavailable, health)
		return
	}
	writeJSON(w, http.StatusOK, health)
}
