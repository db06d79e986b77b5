package api

import (
	"encoding/base64"
	"net/http"
	"strconv"

	"github.com/lox/sanitrack/internal/grading"
	"github.com/lox/sanitrack/internal/imagery"
	"github.com/lox/sanitrack/internal/inspection"
	"github.com/lox/sanitrack/internal/scoring"
)

// handleDetect runs the uploaded photo through the detector, records the
// result against the facility and returns the annotated image.
func (s *Server) handleDetect(w http.ResponseWriter, r *http.Request) {
	if s.detector == nil {
		s.writeError(w, r, errUnavailable)
		return
	}
	id, err := pathID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if _, err := s.store.GetFacility(id); err != nil {
		s.writeError(w, r, err)
		return
	}

	up, err := s.readUpload(w, r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	resp, raw, err := s.detector.Detect(r.Context(), up.Filename, up.Data)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	// Annotate before recording so a rendering failure leaves no inspection.
	input := scoring.FromDetections(resp.Detections)
	annotated, err := s.annotate(up.Data, resp.Detections, input)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	out, err := s.inspections.Submit(r.Context(), inspection.Submission{
		FacilityID:    id,
		InspectorID:   r.Header.Get(userHeader),
		Input:         input,
		ImageURL:      s.saveImage(up),
		Detection:     raw,
		PayloadSource: "detector",
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	dets := resp.Detections
	if dets == nil {
		dets = []scoring.Detection{}
	}
	writeJSON(w, http.StatusOK, DetectResponse{
		Score:           out.Classification.Score,
		Grade:           out.Classification.Grade,
		Color:           out.Classification.Color,
		Method:          resp.Method,
		ImageBase64:     base64.StdEncoding.EncodeToString(annotated),
		Detections:      dets,
		TotalDetections: len(dets),
		InspectionID:    out.Inspection.ID,
		Alternatives:    s.alternativeViews(out.Alternatives),
	})
}

// handleAnalyze asks the vision model for inspection signals. When the form
// carries toilet_id the result is recorded as an inspection.
func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	if s.analyzer == nil {
		s.writeError(w, r, errUnavailable)
		return
	}

	up, err := s.readUpload(w, r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	var facilityID int64
	if v := r.FormValue("toilet_id"); v != "" {
		facilityID, err = strconv.ParseInt(v, 10, 64)
		if err != nil {
			s.writeError(w, r, badRequest("invalid toilet_id"))
			return
		}
		if _, err := s.store.GetFacility(facilityID); err != nil {
			s.writeError(w, r, err)
			return
		}
	}

	res, err := s.analyzer.Analyze(r.Context(), up.Data, up.ContentType)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	resp := AnalyzeResponse{Gemini: res.Signals}
	input := scoring.FromSignals(res.Signals)
	annotated, err := s.annotate(up.Data, nil, input)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	resp.ImageBase64 = base64.StdEncoding.EncodeToString(annotated)

	var c grading.Classification
	if facilityID != 0 {
		out, err := s.inspections.Submit(r.Context(), inspection.Submission{
			FacilityID:    facilityID,
			InspectorID:   r.Header.Get(userHeader),
			Input:         input,
			ImageURL:      s.saveImage(up),
			Provenance:    scoring.ProvenanceVision,
			Detection:     res.Raw,
			PayloadSource: "vision",
		})
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		c = out.Classification
		resp.InspectionID = out.Inspection.ID
		resp.Alternatives = s.alternativeViews(out.Alternatives)
	} else {
		result, err := scoring.Compute(input)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		c = s.store.Grades().Classify(result.Score)
	}
	resp.Score, resp.Grade, resp.Color = c.Score, c.Grade, c.Color
	writeJSON(w, http.StatusOK, resp)
}

// annotate scores input the same way Submit will and draws the result over
// the upload.
func (s *Server) annotate(data []byte, dets []scoring.Detection, input scoring.Input) ([]byte, error) {
	result, err := scoring.Compute(input)
	if err != nil {
		return nil, err
	}
	return imagery.Annotate(data, dets, s.store.Grades().Classify(result.Score))
}

// saveImage keeps the original upload and returns its URL. Failures are
// logged; the inspection is recorded without an image.
func (s *Server) saveImage(up *upload) string {
	if s.images == nil {
		return ""
	}
	name, err := s.images.Save(up.Data, up.Format)
	if err != nil {
		s.logger.Warn("failed to save inspection image", "error", err)
		return ""
	}
	return "/images/" + name
}
