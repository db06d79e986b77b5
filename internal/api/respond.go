package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/lox/sanitrack/internal/detect"
	"github.com/lox/sanitrack/internal/geocode"
	"github.com/lox/sanitrack/internal/imagery"
	"github.com/lox/sanitrack/internal/models"
	"github.com/lox/sanitrack/internal/scoring"
	"github.com/lox/sanitrack/internal/store"
	"github.com/lox/sanitrack/internal/vision"
)

const userHeader = "X-User-ID"

var (
	errBadRequest   = errors.New("bad request")
	errUnavailable  = errors.New("feature not configured")
	errUnauthorized = errors.New("missing " + userHeader + " header")
	errForbidden    = errors.New("admin role required")
)

func badRequest(format string, args ...any) error {
	return fmt.Errorf("%w: %s", errBadRequest, fmt.Sprintf(format, args...))
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func errorStatus(err error) int {
	switch {
	case errors.Is(err, store.ErrNotFound), errors.Is(err, imagery.ErrImageNotFound):
		return http.StatusNotFound
	case errors.Is(err, errBadRequest),
		errors.Is(err, scoring.ErrInvalidInput),
		errors.Is(err, imagery.ErrUnsupportedImage):
		return http.StatusBadRequest
	case errors.Is(err, geocode.ErrNoResults):
		return http.StatusUnprocessableEntity
	case errors.Is(err, errUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, errForbidden):
		return http.StatusForbidden
	case errors.Is(err, vision.ErrUpstream),
		errors.Is(err, vision.ErrNoJSON),
		errors.Is(err, vision.ErrBadReply),
		errors.Is(err, detect.ErrUpstream):
		return http.StatusBadGateway
	case errors.Is(err, errUnavailable):
		return http.StatusServiceUnavailable
	}
	var maxBytes *http.MaxBytesError
	if errors.As(err, &maxBytes) {
		return http.StatusRequestEntityTooLarge
	}
	return http.StatusInternalServerError
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := errorStatus(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		s.logger.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		msg = "internal error"
	}
	writeJSON(w, status, errorResponse{Error: msg})
}

func pathID(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		return 0, badRequest("invalid id")
	}
	return id, nil
}

func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return badRequest("empty request body")
		}
		return badRequest("invalid JSON: %v", err)
	}
	return nil
}

// requireAdmin rejects callers without the admin role when auth is enabled.
func (s *Server) requireAdmin(next http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.cfg.RequireAuth {
			next(w, r)
			return
		}
		userID := r.Header.Get(userHeader)
		if userID == "" {
			s.writeError(w, r, errUnauthorized)
			return
		}
		ok, err := s.store.HasRole(userID, models.RoleAdmin)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		if !ok {
			s.writeError(w, r, errForbidden)
			return
		}
		next(w, r)
	})
}

// upload is an image received as multipart form field "file".
type upload struct {
	Data        []byte
	Filename    string
	ContentType string
	Format      string
}

func (s *Server) readUpload(w http.ResponseWriter, r *http.Request) (*upload, error) {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadBytes)
	if err := r.ParseMultipartForm(s.cfg.MaxUploadBytes); err != nil {
		var maxBytes *http.MaxBytesError
		if errors.As(err, &maxBytes) {
			return nil, err
		}
		return nil, badRequest("invalid multipart form: %v", err)
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		return nil, badRequest("missing file field")
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		return nil, fmt.Errorf("read upload: %w", err)
	}
	_, format, err := imagery.Decode(data)
	if err != nil {
		return nil, err
	}

	return &upload{
		Data:        data,
		Filename:    header.Filename,
		ContentType: http.DetectContentType(data),
		Format:      format,
	}, nil
}
