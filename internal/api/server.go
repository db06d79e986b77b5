package api

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/lox/sanitrack/internal/config"
	"github.com/lox/sanitrack/internal/detect"
	"github.com/lox/sanitrack/internal/events"
	"github.com/lox/sanitrack/internal/geocode"
	"github.com/lox/sanitrack/internal/imagery"
	"github.com/lox/sanitrack/internal/inspection"
	"github.com/lox/sanitrack/internal/store"
	"github.com/lox/sanitrack/internal/vision"
)

// Analyzer extracts inspection signals from a photo.
type Analyzer interface {
	Analyze(ctx context.Context, image []byte, contentType string) (*vision.Result, error)
}

// Detector runs object detection on a photo.
type Detector interface {
	Detect(ctx context.Context, filename string, image []byte) (*detect.Response, []byte, error)
}

// Geocoder resolves an address to a coordinate.
type Geocoder interface {
	Geocode(ctx context.Context, address string) (*geocode.Result, error)
}

// DisplayClearer removes a facility's retained display state.
type DisplayClearer interface {
	Clear(facilityID int64) error
}

type Server struct {
	store       *store.Store
	inspections *inspection.Service
	images      *imagery.Store
	events      events.Publisher
	analyzer    Analyzer
	detector    Detector
	geocoder    Geocoder
	display     DisplayClearer
	cfg         config.APIConfig
	ranking     config.RankingConfig
	logger      *slog.Logger
	startedAt   time.Time
}

func NewServer(st *store.Store, svc *inspection.Service, images *imagery.Store, cfg config.APIConfig, ranking config.RankingConfig, logger *slog.Logger) *Server {
	return &Server{
		store:       st,
		inspections: svc,
		images:      images,
		events:      events.Nop{},
		cfg:         cfg,
		ranking:     ranking,
		logger:      logger,
		startedAt:   time.Now(),
	}
}

// SetAnalyzer enables /gemini-analyze.
func (s *Server) SetAnalyzer(a Analyzer) {
	s.analyzer = a
}

// SetDetector enables /detect.
func (s *Server) SetDetector(d Detector) {
	s.detector = d
}

// SetGeocoder enables address lookup when a facility is created without
// coordinates.
func (s *Server) SetGeocoder(g Geocoder) {
	s.geocoder = g
}

// SetEvents sets where facility change events go.
func (s *Server) SetEvents(p events.Publisher) {
	if p == nil {
		p = events.Nop{}
	}
	s.events = p
}

// SetDisplay clears kiosk state when a facility is deleted.
func (s *Server) SetDisplay(d DisplayClearer) {
	s.display = d
}

func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	r.HandleFunc("/grades", s.handleGrades).Methods(http.MethodGet)
	r.HandleFunc("/dashboard", s.handleDashboard).Methods(http.MethodGet)
	r.HandleFunc("/nearby", s.handleNearby).Methods(http.MethodGet)

	r.HandleFunc("/facilities", s.handleListFacilities).Methods(http.MethodGet)
	r.HandleFunc("/facilities", s.handleCreateFacility).Methods(http.MethodPost)
	r.HandleFunc("/facilities/nearby/{id:[0-9]+}", s.handleAlternatives).Methods(http.MethodGet)
	r.HandleFunc("/facilities/{id:[0-9]+}", s.handleGetFacility).Methods(http.MethodGet)
	r.Handle("/facilities/{id:[0-9]+}", s.requireAdmin(s.handleDeleteFacility)).Methods(http.MethodDelete)
	r.Handle("/facilities/{id:[0-9]+}", s.requireAdmin(s.handleUpdateStatus)).Methods(http.MethodPatch)
	r.HandleFunc("/facilities/{id:[0-9]+}/inspect", s.handleManualScore).Methods(http.MethodPut)
	r.HandleFunc("/facilities/{id:[0-9]+}/inspections", s.handleSubmitInspection).Methods(http.MethodPost)
	r.HandleFunc("/facilities/{id:[0-9]+}/inspections", s.handleListInspections).Methods(http.MethodGet)
	r.HandleFunc("/facilities/{id:[0-9]+}/ratings", s.handleAddRating).Methods(http.MethodPost)
	r.HandleFunc("/facilities/{id:[0-9]+}/ratings", s.handleListRatings).Methods(http.MethodGet)

	r.HandleFunc("/detect/{id:[0-9]+}", s.handleDetect).Methods(http.MethodPost)
	r.HandleFunc("/score/{id:[0-9]+}", s.handleDetect).Methods(http.MethodPost)
	r.HandleFunc("/gemini-analyze", s.handleAnalyze).Methods(http.MethodPost)

	r.HandleFunc("/display/{id:[0-9]+}", s.handleDisplay).Methods(http.MethodGet)
	r.HandleFunc("/display/{id:[0-9]+}/card.png", s.handleDisplayCard).Methods(http.MethodGet)
	r.HandleFunc("/images/{name}", s.handleImage).Methods(http.MethodGet)

	cors := handlers.CORS(
		handlers.AllowedOrigins(s.cfg.AllowedOrigins),
		handlers.AllowedMethods([]string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"}),
		handlers.AllowedHeaders([]string{"Content-Type", userHeader}),
	)
	recovery := handlers.RecoveryHandler(
		handlers.RecoveryLogger(slog.NewLogLogger(s.logger.Handler(), slog.LevelError)),
	)
	return recovery(handlers.CustomLoggingHandler(io.Discard, cors(r), s.logRequest))
}

func (s *Server) logRequest(_ io.Writer, p handlers.LogFormatterParams) {
	level := slog.LevelInfo
	if p.StatusCode >= 500 {
		level = slog.LevelError
	}
	s.logger.Log(p.Request.Context(), level, "http request",
		"method", p.Request.Method,
		"path", p.URL.Path,
		"status", p.StatusCode,
		"size", p.Size,
		"duration_ms", time.Since(p.TimeStamp).Milliseconds(),
	)
}

func (s *Server) Run(ctx context.Context) error {
	server := &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		server.Shutdown(shutdownCtx)
	}()

	s.logger.Info("http server listening", "addr", s.cfg.Addr)
	if err := server.ListenAndServe(); err != http.ErrServerClosed {
		return err
	}
	return nil
}
