package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/couchcryptid/drought-forecast-service/internal/domain"
	"github.com/couchcryptid/drought-forecast-service/internal/tabular"
)

func (s *Server) handleIndex(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"message": "Drought Insights & Analytics Microservice",
		"version": ServiceVersion,
		"endpoints": map[string]string{
			"health":         "/health",
			"predict_manual": "/predict/manual",
			"predict_csv":    "/data",
			"forecast":       "/forecast",
			"summary":        "/summary",
			"history":        "/history",
			"prediction":     "/predictions/{id}",
			"model":          "/model",
			"dashboard":      "/dashboard",
			"metrics":        "/metrics",
		},
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":       "healthy",
		"model_loaded": s.deps.Predictor.Loaded(),
		"timestamp":    s.deps.Clock.Now().UTC().Format(time.RFC3339Nano),
		"version":      ServiceVersion,
	})
}

type manualResponse struct {
	ID string `json:"id,omitempty"`
	domain.PredictionResult
}

func (s *Server) handlePredictManual(w http.ResponseWriter, r *http.Request) {
	var req manualRequest
	r.Body = http.MaxBytesReader(w, r.Body, maxManualBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if !errors.As(err, &tooLarge) {
			err = badRequest("invalid JSON body: %v", err)
		}
		s.writeError(w, r, err)
		return
	}
	if err := s.validate.Struct(req); err != nil {
		s.writeError(w, r, describeValidation(err))
		return
	}

	months, records := req.months(s.deps.Predictor.Schema())
	res, err := s.deps.Predictor.Predict(r.Context(), records)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	id := s.deps.Recorder.SavePrediction(r.Context(), res, domain.Provenance{
		Type:     domain.PredictionManual,
		Location: strings.TrimSpace(req.Location),
		Input:    months,
	})
	writeJSON(w, http.StatusOK, manualResponse{ID: id, PredictionResult: res})
}

type uploadResponse struct {
	Message          string                    `json:"message"`
	BatchID          string                    `json:"batch_id,omitempty"`
	Filename         string                    `json:"filename"`
	TotalPredictions int                       `json:"total_predictions"`
	SkippedWindows   int                       `json:"skipped_windows"`
	Predictions      []domain.PredictionResult `json:"predictions"`
	UploadedAt       time.Time                 `json:"uploaded_at"`
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	if r.ContentLength > s.deps.MaxUploadBytes {
		s.writeError(w, r, &http.MaxBytesError{Limit: s.deps.MaxUploadBytes})
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, s.deps.MaxUploadBytes)
	if err := r.ParseMultipartForm(s.deps.MaxUploadBytes); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			s.writeError(w, r, fmt.Errorf("upload exceeds %d bytes: %w", s.deps.MaxUploadBytes, err))
			return
		}
		s.writeError(w, r, badRequest("invalid multipart form: %v", err))
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	file, header, err := r.FormFile("file")
	if err != nil {
		s.writeError(w, r, badRequest("form field %q is required", "file"))
		return
	}
	defer file.Close()

	filename := filepath.Base(header.Filename)
	if !strings.EqualFold(filepath.Ext(filename), ".csv") {
		s.writeError(w, r, badRequest("only CSV files are supported, got %q", filename))
		return
	}

	table, err := tabular.ReadCSV(file)
	if err != nil {
		s.writeError(w, r, badRequest("%s: %v", filename, err))
		return
	}
	if err := table.Validate(s.deps.Predictor.Schema()); err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.deps.Predictor.CheckReadiness(r.Context()); err != nil {
		s.writeError(w, r, err)
		return
	}

	res, err := s.deps.Batcher.PredictAll(r.Context(), table.Rows)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	batchID := s.deps.Recorder.SaveBatch(r.Context(), filename, res.Predictions, len(res.Skipped))
	writeJSON(w, http.StatusOK, uploadResponse{
		Message:          "Data processed successfully",
		BatchID:          batchID,
		Filename:         filename,
		TotalPredictions: len(res.Predictions),
		SkippedWindows:   len(res.Skipped),
		Predictions:      res.Predictions,
		UploadedAt:       s.deps.Clock.Now().UTC(),
	})
}

func (s *Server) handleForecast(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", defaultForecastLimit, maxPageLimit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	forecasts, err := s.deps.Recorder.Recent(r.Context(), r.URL.Query().Get("location"), limit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"total":     len(forecasts),
		"forecasts": forecasts,
	})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	skip, err := queryInt(r, "skip", 0, 0)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	limit, err := queryInt(r, "limit", defaultHistoryLimit, maxPageLimit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	history, err := s.deps.Recorder.History(r.Context(), skip, limit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"total":   len(history),
		"skip":    skip,
		"limit":   limit,
		"history": history,
	})
}

func (s *Server) handleGetPrediction(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	rec, err := s.deps.Recorder.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			err = fmt.Errorf("prediction %q: %w", id, err)
		}
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	summary, err := s.deps.Recorder.Summary(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (s *Server) handleModel(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Predictor.ModelInfo())
}
