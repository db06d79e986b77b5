package api_test

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"hash/crc32"
	"image"
	"image/color"
	"image/png"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	_ "modernc.org/sqlite"

	"github.com/lox/sanitrack/internal/api"
	"github.com/lox/sanitrack/internal/config"
	"github.com/lox/sanitrack/internal/detect"
	"github.com/lox/sanitrack/internal/geocode"
	"github.com/lox/sanitrack/internal/grading"
	"github.com/lox/sanitrack/internal/imagery"
	"github.com/lox/sanitrack/internal/inspection"
	"github.com/lox/sanitrack/internal/logging"
	"github.com/lox/sanitrack/internal/models"
	"github.com/lox/sanitrack/internal/scoring"
	"github.com/lox/sanitrack/internal/store"
	"github.com/lox/sanitrack/internal/vision"
)

type testEnv struct {
	store  *store.Store
	server *api.Server
	h      http.Handler
}

func ptr(f float64) *float64 { return &f }

func setupTestServer(t *testing.T, mutate func(*config.Config)) *testEnv {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatal(err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	st := store.New(db, store.DialectSQLite, grading.Default())
	if err := st.Migrate(); err != nil {
		t.Fatal(err)
	}

	seed := []store.NewFacility{
		{Name: "Zero Mile Public Toilet", Latitude: 21.1498, Longitude: 79.0806, Score: ptr(92), IsOperational: true, WaterAvailable: true},
		{Name: "Sitabuldi Restroom", Latitude: 21.1450, Longitude: 79.0820, Score: ptr(63), IsOperational: true, WaterAvailable: true},
		{Name: "Maharajbagh Zoo Toilet", Latitude: 21.1400, Longitude: 79.0750, Score: ptr(81), IsOperational: true, WaterAvailable: true},
		{Name: "Vidhan Bhavan Facility", Latitude: 21.1550, Longitude: 79.0850, Score: ptr(22), IsOperational: false},
		{Name: "RBI Square Restroom", Latitude: 21.1510, Longitude: 79.0780, Score: ptr(44), IsOperational: true, WaterAvailable: true},
	}
	for _, nf := range seed {
		if _, err := st.CreateFacility(nf); err != nil {
			t.Fatal(err)
		}
	}

	cfg := config.DefaultConfig()
	if mutate != nil {
		mutate(cfg)
	}

	images, err := imagery.NewStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	svc := inspection.NewService(st, st.Grades(), nil, logging.Discard(), inspection.Options{
		MaxAlternatives: cfg.Ranking.MaxAlternatives,
		NearbyRadiusKM:  cfg.Ranking.NearbyRadiusKM,
		OperationalOnly: cfg.Ranking.OperationalOnly,
	})
	srv := api.NewServer(st, svc, images, cfg.API, cfg.Ranking, logging.Discard())
	return &testEnv{store: st, server: srv, h: srv.Handler()}
}

func (e *testEnv) do(t *testing.T, method, path string, body any, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatal(err)
		}
		r = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, r)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	w := httptest.NewRecorder()
	e.h.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(w.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %q: %v", w.Body.String(), err)
	}
	return v
}

func testPNG(t *testing.T) []byte {
	t.Helper()
	return sizedPNG(t, 64, 48)
}

func sizedPNG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{200, 200, 200, 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func multipartRequest(t *testing.T, path string, data []byte, fields map[string]string) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	for k, v := range fields {
		mw.WriteField(k, v)
	}
	fw, err := mw.CreateFormFile("file", "inspection.png")
	if err != nil {
		t.Fatal(err)
	}
	fw.Write(data)
	mw.Close()

	req := httptest.NewRequest(http.MethodPost, path, &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func TestHealthEndpoint(t *testing.T) {
	t.Parallel()
	e := setupTestServer(t, nil)

	w := e.do(t, "GET", "/health", nil)
	if w.Code != 200 {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	health := decode[api.HealthResponse](t, w)
	if health.Status != "ok" || health.Facilities != 5 || health.SchemaVersion == 0 {
		t.Errorf("health = %+v", health)
	}
}

func TestListFacilities(t *testing.T) {
	t.Parallel()
	e := setupTestServer(t, nil)

	w := e.do(t, "GET", "/facilities", nil)
	if w.Code != 200 {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	list := decode[[]api.FacilityView](t, w)
	if len(list) != 5 {
		t.Fatalf("expected 5 facilities, got %d", len(list))
	}
	if list[0].CleanlinessGrade != grading.GradeA || list[0].Color != grading.ColorA {
		t.Errorf("first facility = %+v", list[0])
	}
	if list[3].CleanlinessGrade != grading.GradeF || list[3].IsOperational {
		t.Errorf("Vidhan Bhavan = %+v", list[3])
	}
}

func TestGetFacility_NotFound(t *testing.T) {
	t.Parallel()
	e := setupTestServer(t, nil)

	if w := e.do(t, "GET", "/facilities/99", nil); w.Code != 404 {
		t.Errorf("expected 404, got %d", w.Code)
	}
	if w := e.do(t, "GET", "/facilities/abc", nil); w.Code != 404 {
		t.Errorf("non-numeric id: expected 404, got %d", w.Code)
	}
}

type fakeGeocoder struct {
	calls int
}

func (g *fakeGeocoder) Geocode(_ context.Context, address string) (*geocode.Result, error) {
	g.calls++
	if address == "nowhere" {
		return nil, geocode.ErrNoResults
	}
	return &geocode.Result{
		Coordinate:       models.Coordinate{Lat: 21.1458, Lng: 79.0882},
		FormattedAddress: "Nagpur, Maharashtra, India",
	}, nil
}

func TestCreateFacility(t *testing.T) {
	t.Parallel()
	e := setupTestServer(t, nil)
	geo := &fakeGeocoder{}
	e.server.SetGeocoder(geo)

	tests := []struct {
		name       string
		body       map[string]any
		wantStatus int
	}{
		{"with coordinates", map[string]any{"name": "Futala Lake Toilet", "lat": 21.1532, "lng": 79.0452}, 201},
		{"geocoded address", map[string]any{"name": "Cotton Market", "address": "Cotton Market, Nagpur"}, 201},
		{"unknown address", map[string]any{"name": "Lost", "address": "nowhere"}, 422},
		{"missing name", map[string]any{"lat": 21.1, "lng": 79.1}, 400},
		{"missing location", map[string]any{"name": "Nowhere"}, 400},
		{"out of range", map[string]any{"name": "Pole", "lat": 95.0, "lng": 79.1}, 400},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := e.do(t, "POST", "/facilities", tt.body)
			if w.Code != tt.wantStatus {
				t.Fatalf("expected %d, got %d: %s", tt.wantStatus, w.Code, w.Body.String())
			}
			if w.Code != 201 {
				return
			}
			f := decode[api.FacilityView](t, w)
			if f.CleanlinessScore != 100 || f.CleanlinessGrade != grading.GradeA || !f.IsOperational {
				t.Errorf("new facility = %+v", f)
			}
		})
	}

	if geo.calls != 2 {
		t.Errorf("geocoder calls = %d, want 2", geo.calls)
	}
}

func TestAlternativesEndpoint(t *testing.T) {
	t.Parallel()
	e := setupTestServer(t, nil)

	tests := []struct {
		path       string
		wantStatus int
		wantIDs    []int64
	}{
		{"/facilities/nearby/5", 200, []int64{1, 2}},
		{"/facilities/nearby/5?floor=A", 200, []int64{1}},
		{"/facilities/nearby/5?limit=1", 200, []int64{1}},
		{"/facilities/nearby/5?radius_km=0.5", 200, []int64{1}},
		{"/facilities/nearby/1", 200, []int64{}},
		{"/facilities/nearby/5?floor=Z", 400, nil},
		{"/facilities/nearby/5?limit=0", 400, nil},
		{"/facilities/nearby/42", 404, nil},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			w := e.do(t, "GET", tt.path, nil)
			if w.Code != tt.wantStatus {
				t.Fatalf("expected %d, got %d: %s", tt.wantStatus, w.Code, w.Body.String())
			}
			if tt.wantStatus != 200 {
				return
			}
			alts := decode[[]api.AlternativeView](t, w)
			if len(alts) != len(tt.wantIDs) {
				t.Fatalf("got %d alternatives, want %v", len(alts), tt.wantIDs)
			}
			for i, a := range alts {
				if a.ID != tt.wantIDs[i] {
					t.Errorf("alternative %d = %d, want %d", i, a.ID, tt.wantIDs[i])
				}
				if a.DistanceKM <= 0 {
					t.Errorf("alternative %d has distance %v", i, a.DistanceKM)
				}
			}
		})
	}
}

func TestNearbyEndpoint(t *testing.T) {
	t.Parallel()
	e := setupTestServer(t, nil)

	w := e.do(t, "GET", "/nearby?lat=21.1498&lng=79.0806&radius_km=1", nil)
	if w.Code != 200 {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	alts := decode[[]api.AlternativeView](t, w)
	if len(alts) != 3 || alts[0].ID != 1 || alts[0].DistanceKM != 0 {
		t.Errorf("nearby = %+v", alts)
	}

	for _, path := range []string{"/nearby?lng=79.0", "/nearby?lat=91&lng=79", "/nearby?lat=21&lng=79&radius_km=-1"} {
		if w := e.do(t, "GET", path, nil); w.Code != 400 {
			t.Errorf("%s: expected 400, got %d", path, w.Code)
		}
	}
}

func TestManualScore(t *testing.T) {
	t.Parallel()
	e := setupTestServer(t, nil)

	w := e.do(t, "PUT", "/facilities/1/inspect", map[string]any{"score": 28})
	if w.Code != 200 {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	resp := decode[api.InspectionResponse](t, w)
	if resp.Facility.CleanlinessScore != 28 || resp.Facility.CleanlinessGrade != grading.GradeF {
		t.Errorf("facility = %+v", resp.Facility)
	}
	if resp.Inspection.Provenance != scoring.ProvenanceManual || resp.Inspection.Score == nil || *resp.Inspection.Score != 28 {
		t.Errorf("inspection = %+v", resp.Inspection)
	}
	if !resp.Poor || len(resp.Alternatives) != 2 {
		t.Errorf("poor = %v, alternatives = %+v", resp.Poor, resp.Alternatives)
	}

	if w := e.do(t, "PUT", "/facilities/1/inspect", map[string]any{}); w.Code != 400 {
		t.Errorf("missing score: expected 400, got %d", w.Code)
	}
	if w := e.do(t, "PUT", "/facilities/77/inspect", map[string]any{"score": 50}); w.Code != 404 {
		t.Errorf("unknown facility: expected 404, got %d", w.Code)
	}
}

func TestSubmitInspection(t *testing.T) {
	t.Parallel()
	e := setupTestServer(t, nil)

	body := map[string]any{"litter_count": 3, "wet_floor_detected": true, "overflow_detected": false}
	w := e.do(t, "POST", "/facilities/3/inspections", body, "X-User-ID", "staff-9")
	if w.Code != 201 {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}
	resp := decode[api.InspectionResponse](t, w)
	// 100 - 15 - 15
	if *resp.Inspection.Score != 70 || resp.Facility.CleanlinessGrade != grading.GradeB {
		t.Errorf("response = %+v", resp)
	}
	if resp.Inspection.InspectorID != "staff-9" || resp.Inspection.LitterCount != 3 || !resp.Inspection.WetFloor {
		t.Errorf("inspection = %+v", resp.Inspection)
	}

	for name, body := range map[string]any{
		"negative litter": map[string]any{"litter_count": -2},
		"missing litter":  map[string]any{"wet_floor_detected": true},
		"non-numeric":     map[string]any{"litter_count": "many"},
	} {
		if w := e.do(t, "POST", "/facilities/3/inspections", body); w.Code != 400 {
			t.Errorf("%s: expected 400, got %d", name, w.Code)
		}
	}

	w = e.do(t, "GET", "/facilities/3/inspections", nil)
	if w.Code != 200 {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	history := decode[[]api.InspectionView](t, w)
	if len(history) != 1 || history[0].ID != resp.Inspection.ID {
		t.Errorf("history = %+v", history)
	}
}

func TestRatings(t *testing.T) {
	t.Parallel()
	e := setupTestServer(t, nil)

	w := e.do(t, "POST", "/facilities/2/ratings", map[string]any{"rating": 4, "comment": "clean enough"}, "X-User-ID", "user-1")
	if w.Code != 201 {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}
	if w := e.do(t, "POST", "/facilities/2/ratings", map[string]any{"rating": 9}, "X-User-ID", "user-1"); w.Code != 400 {
		t.Errorf("out of range: expected 400, got %d", w.Code)
	}
	if w := e.do(t, "POST", "/facilities/2/ratings", map[string]any{"rating": 3}); w.Code != 400 {
		t.Errorf("anonymous: expected 400, got %d", w.Code)
	}

	w = e.do(t, "GET", "/facilities/2/ratings", nil)
	ratings := decode[[]models.Rating](t, w)
	if len(ratings) != 1 || ratings[0].Rating != 4 || ratings[0].UserID != "user-1" {
		t.Errorf("ratings = %+v", ratings)
	}
}

func TestAdminRoutes(t *testing.T) {
	t.Parallel()
	e := setupTestServer(t, func(cfg *config.Config) { cfg.API.RequireAuth = true })
	if err := e.store.GrantRole("admin-1", models.RoleAdmin); err != nil {
		t.Fatal(err)
	}
	if err := e.store.GrantRole("staff-1", models.RoleMaintenanceStaff); err != nil {
		t.Fatal(err)
	}

	patch := map[string]any{"water_available": false}
	if w := e.do(t, "PATCH", "/facilities/2", patch); w.Code != 401 {
		t.Errorf("no user: expected 401, got %d", w.Code)
	}
	if w := e.do(t, "PATCH", "/facilities/2", patch, "X-User-ID", "staff-1"); w.Code != 403 {
		t.Errorf("staff: expected 403, got %d", w.Code)
	}

	w := e.do(t, "PATCH", "/facilities/2", patch, "X-User-ID", "admin-1")
	if w.Code != 200 {
		t.Fatalf("admin patch: expected 200, got %d: %s", w.Code, w.Body.String())
	}
	f := decode[api.FacilityView](t, w)
	if f.WaterAvailable || !f.IsOperational {
		t.Errorf("patched facility = %+v", f)
	}

	if w := e.do(t, "PATCH", "/facilities/2", map[string]any{}, "X-User-ID", "admin-1"); w.Code != 400 {
		t.Errorf("empty patch: expected 400, got %d", w.Code)
	}

	if w := e.do(t, "DELETE", "/facilities/4", nil, "X-User-ID", "admin-1"); w.Code != 204 {
		t.Fatalf("delete: expected 204, got %d", w.Code)
	}
	if w := e.do(t, "GET", "/facilities/4", nil); w.Code != 404 {
		t.Errorf("deleted facility: expected 404, got %d", w.Code)
	}
	if w := e.do(t, "DELETE", "/facilities/4", nil, "X-User-ID", "admin-1"); w.Code != 404 {
		t.Errorf("second delete: expected 404, got %d", w.Code)
	}
}

func TestDisplay(t *testing.T) {
	t.Parallel()
	e := setupTestServer(t, nil)

	w := e.do(t, "GET", "/display/5", nil)
	if w.Code != 200 {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var st struct {
		Grade       grading.Grade `json:"grade"`
		Poor        bool          `json:"poor"`
		Suggestions []struct {
			ID int64 `json:"toilet_id"`
		} `json:"suggestions"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &st); err != nil {
		t.Fatal(err)
	}
	if st.Grade != grading.GradeD || !st.Poor || len(st.Suggestions) == 0 || st.Suggestions[0].ID != 1 {
		t.Errorf("display state = %+v", st)
	}

	w = e.do(t, "GET", "/display/5/card.png", nil)
	if w.Code != 200 || w.Header().Get("Content-Type") != "image/png" {
		t.Fatalf("card: status %d, content type %q", w.Code, w.Header().Get("Content-Type"))
	}
	if _, err := png.Decode(w.Body); err != nil {
		t.Errorf("card is not a PNG: %v", err)
	}
}

func TestGradesAndDashboard(t *testing.T) {
	t.Parallel()
	e := setupTestServer(t, nil)

	tiers := decode[[]grading.Tier](t, e.do(t, "GET", "/grades", nil))
	if len(tiers) != 5 || tiers[0].Grade != grading.GradeA || tiers[0].MinScore != 85 {
		t.Errorf("tiers = %+v", tiers)
	}

	e.do(t, "PUT", "/facilities/3/inspect", map[string]any{"score": 90})
	w := e.do(t, "GET", "/dashboard", nil)
	if w.Code != 200 {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	dash := decode[api.DashboardResponse](t, w)
	if dash.Total != 5 || dash.Counts[grading.GradeA] != 2 || dash.Counts[grading.GradeD] != 1 {
		t.Errorf("counts = %+v", dash.Counts)
	}
	// Vidhan Bhavan (22) then RBI Square (44).
	if len(dash.Poor) != 2 || dash.Poor[0].ID != 4 || dash.Poor[1].ID != 5 {
		t.Errorf("poor = %+v", dash.Poor)
	}
	if len(dash.RecentInspections) != 1 || dash.RecentInspections[0].Score != 90 {
		t.Errorf("recent = %+v", dash.RecentInspections)
	}
}

type fakeDetector struct {
	resp *detect.Response
	err  error
}

func (d *fakeDetector) Detect(context.Context, string, []byte) (*detect.Response, []byte, error) {
	if d.err != nil {
		return nil, nil, d.err
	}
	raw, _ := json.Marshal(d.resp)
	return d.resp, raw, nil
}

func TestDetect(t *testing.T) {
	t.Parallel()
	e := setupTestServer(t, nil)

	req := multipartRequest(t, "/detect/1", testPNG(t), nil)
	w := httptest.NewRecorder()
	e.h.ServeHTTP(w, req)
	if w.Code != 503 {
		t.Errorf("unconfigured: expected 503, got %d", w.Code)
	}

	e.server.SetDetector(&fakeDetector{resp: &detect.Response{
		Method: "YOLOv8 Custom",
		Detections: []scoring.Detection{
			{Class: "urine_stain", Confidence: 0.82, BBox: [4]float64{4, 4, 30, 30}},
			{Class: "trash", Confidence: 0.61, BBox: [4]float64{20, 10, 60, 40}},
			{Class: "graffiti", Confidence: 0.40, BBox: [4]float64{0, 0, 10, 10}},
		},
	}})
	h := e.server.Handler()

	w = httptest.NewRecorder()
	h.ServeHTTP(w, multipartRequest(t, "/detect/1", testPNG(t), nil))
	if w.Code != 200 {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	resp := decode[api.DetectResponse](t, w)
	// 100 - 15 - 15 - 5
	if resp.Score != 65 || resp.Grade != grading.GradeC || resp.TotalDetections != 3 || resp.Method != "YOLOv8 Custom" {
		t.Errorf("response = %+v", resp)
	}
	img, err := base64.StdEncoding.DecodeString(resp.ImageBase64)
	if err != nil || len(img) == 0 {
		t.Fatalf("image_base64: %v", err)
	}
	if _, _, err := imagery.Decode(img); err != nil {
		t.Errorf("annotated image does not decode: %v", err)
	}

	insp, err := e.store.GetInspection(resp.InspectionID)
	if err != nil {
		t.Fatal(err)
	}
	if insp.Provenance != scoring.ProvenanceDetector || !strings.HasPrefix(insp.ImageURL.String, "/images/") {
		t.Errorf("stored inspection = %+v", insp)
	}
	if w := e.do(t, "GET", insp.ImageURL.String, nil); w.Code != 200 || w.Header().Get("Content-Type") != "image/png" {
		t.Errorf("stored image: status %d, type %q", w.Code, w.Header().Get("Content-Type"))
	}

	w = httptest.NewRecorder()
	h.ServeHTTP(w, multipartRequest(t, "/detect/1", []byte("not an image"), nil))
	if w.Code != 400 {
		t.Errorf("bad image: expected 400, got %d", w.Code)
	}

	w = httptest.NewRecorder()
	h.ServeHTTP(w, multipartRequest(t, "/detect/99", testPNG(t), nil))
	if w.Code != 404 {
		t.Errorf("unknown facility: expected 404, got %d", w.Code)
	}

	e.server.SetDetector(&fakeDetector{err: fmt.Errorf("%w: connection refused", detect.ErrUpstream)})
	w = httptest.NewRecorder()
	e.server.Handler().ServeHTTP(w, multipartRequest(t, "/detect/1", testPNG(t), nil))
	if w.Code != 502 {
		t.Errorf("upstream down: expected 502, got %d", w.Code)
	}
}

type fakeAnalyzer struct {
	signals scoring.Signals
	err     error
}

func (a *fakeAnalyzer) Analyze(context.Context, []byte, string) (*vision.Result, error) {
	if a.err != nil {
		return nil, a.err
	}
	raw, _ := json.Marshal(a.signals)
	return &vision.Result{Signals: a.signals, Raw: raw}, nil
}

func TestAnalyze(t *testing.T) {
	t.Parallel()
	e := setupTestServer(t, nil)
	e.server.SetAnalyzer(&fakeAnalyzer{signals: scoring.Signals{LitterCount: 2, Overflow: true}})
	h := e.server.Handler()

	w := httptest.NewRecorder()
	h.ServeHTTP(w, multipartRequest(t, "/gemini-analyze", testPNG(t), nil))
	if w.Code != 200 {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	resp := decode[api.AnalyzeResponse](t, w)
	// 100 - 10 - 30
	if resp.Score != 60 || resp.Grade != grading.GradeC || resp.Gemini.LitterCount != 2 || resp.InspectionID != "" {
		t.Errorf("response = %+v", resp)
	}

	w = httptest.NewRecorder()
	h.ServeHTTP(w, multipartRequest(t, "/gemini-analyze", testPNG(t), map[string]string{"toilet_id": "2"}))
	if w.Code != 200 {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	resp = decode[api.AnalyzeResponse](t, w)
	if resp.InspectionID == "" {
		t.Fatal("expected inspection to be recorded")
	}
	insp, err := e.store.GetInspection(resp.InspectionID)
	if err != nil {
		t.Fatal(err)
	}
	if insp.Provenance != scoring.ProvenanceVision || insp.LitterCount != 2 || !insp.Overflow {
		t.Errorf("stored inspection = %+v", insp)
	}

	e.server.SetAnalyzer(&fakeAnalyzer{err: fmt.Errorf("%w: 503", vision.ErrUpstream)})
	w = httptest.NewRecorder()
	e.server.Handler().ServeHTTP(w, multipartRequest(t, "/gemini-analyze", testPNG(t), nil))
	if w.Code != 502 {
		t.Errorf("upstream down: expected 502, got %d", w.Code)
	}
}

func TestAnalyze_MalformedReply(t *testing.T) {
	t.Parallel()
	e := setupTestServer(t, nil)
	e.server.SetAnalyzer(&fakeAnalyzer{err: fmt.Errorf("%w: decode signals", vision.ErrBadReply)})

	w := httptest.NewRecorder()
	e.server.Handler().ServeHTTP(w, multipartRequest(t, "/gemini-analyze", testPNG(t), map[string]string{"toilet_id": "1"}))
	if w.Code != 502 {
		t.Errorf("expected 502, got %d: %s", w.Code, w.Body.String())
	}
}

func TestUpload_RejectsOversizedDimensions(t *testing.T) {
	t.Parallel()
	e := setupTestServer(t, nil)
	e.server.SetDetector(&fakeDetector{resp: &detect.Response{Method: "YOLOv8 Custom"}})

	// A tiny file whose header claims 50000x50000 pixels.
	data := testPNG(t)
	binary.BigEndian.PutUint32(data[16:20], 50000)
	binary.BigEndian.PutUint32(data[20:24], 50000)
	binary.BigEndian.PutUint32(data[29:33], crc32.ChecksumIEEE(data[12:29]))

	w := httptest.NewRecorder()
	e.server.Handler().ServeHTTP(w, multipartRequest(t, "/detect/1", data, nil))
	if w.Code != 400 {
		t.Errorf("expected 400, got %d: %s", w.Code, w.Body.String())
	}
}

// A 2560x1 upload decodes but scales to zero height, so annotation fails.
func TestAnalysis_AnnotateFailureRecordsNothing(t *testing.T) {
	t.Parallel()
	e := setupTestServer(t, nil)
	e.server.SetDetector(&fakeDetector{resp: &detect.Response{
		Method:     "YOLOv8 Custom",
		Detections: []scoring.Detection{{Class: "trash", Confidence: 0.9, BBox: [4]float64{0, 0, 10, 1}}},
	}})
	e.server.SetAnalyzer(&fakeAnalyzer{signals: scoring.Signals{Overflow: true}})
	h := e.server.Handler()
	thin := sizedPNG(t, 2560, 1)

	w := httptest.NewRecorder()
	h.ServeHTTP(w, multipartRequest(t, "/detect/1", thin, nil))
	if w.Code != 400 {
		t.Errorf("detect: expected 400, got %d: %s", w.Code, w.Body.String())
	}

	w = httptest.NewRecorder()
	h.ServeHTTP(w, multipartRequest(t, "/gemini-analyze", thin, map[string]string{"toilet_id": "1"}))
	if w.Code != 400 {
		t.Errorf("analyze: expected 400, got %d: %s", w.Code, w.Body.String())
	}

	insps, err := e.store.ListInspections(1, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(insps) != 0 {
		t.Errorf("recorded %d inspections, want 0", len(insps))
	}
	f, err := e.store.GetFacility(1)
	if err != nil {
		t.Fatal(err)
	}
	if f.CleanlinessScore != 92 {
		t.Errorf("score = %v, want unchanged 92", f.CleanlinessScore)
	}
}

func TestImages_NotFound(t *testing.T) {
	t.Parallel()
	e := setupTestServer(t, nil)

	for _, path := range []string{"/images/missing.jpg", "/images/.env"} {
		if w := e.do(t, "GET", path, nil); w.Code != 404 {
			t.Errorf("%s: expected 404, got %d", path, w.Code)
		}
	}
}

func TestCORS(t *testing.T) {
	t.Parallel()
	e := setupTestServer(t, nil)

	req := httptest.NewRequest("OPTIONS", "/facilities", nil)
	req.Header.Set("Origin", "http://localhost:5173")
	req.Header.Set("Access-Control-Request-Method", "POST")
	w := httptest.NewRecorder()
	e.h.ServeHTTP(w, req)
	if got := w.Header().Get("Access-Control-Allow-Origin"); got == "" {
		t.Errorf("missing Access-Control-Allow-Origin, status %d", w.Code)
	}
}

func TestErrorBodyIsJSON(t *testing.T) {
	t.Parallel()
	e := setupTestServer(t, nil)

	w := e.do(t, "GET", "/facilities/99", nil)
	var body struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil || body.Error == "" {
		t.Errorf("error body = %q", w.Body.String())
	}
	if w.Header().Get("Content-Type") != "application/json" {
		t.Errorf("content type = %q", w.Header().Get("Content-Type"))
	}
}
