package server

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/matchpulse/predictor/internal/audit"
	"github.com/matchpulse/predictor/internal/batch"
	"github.com/matchpulse/predictor/internal/tuner"
	"github.com/matchpulse/predictor/models"
)

const cronSecretHeader = "X-Cron-Secret"

// Config carries the knobs the handlers pass down into the pipeline.
type Config struct {
	CronSecret   string
	DaysAhead    int
	TuningWindow time.Duration
}

// Server exposes the scheduled triggers and the small read API over HTTP.
type Server struct {
	store  models.PredictionStore
	batch  *batch.Orchestrator
	audit  *audit.Logger
	tuner  *tuner.Tuner
	cfg    Config
	logger zerolog.Logger
}

// New wires the HTTP surface. The pipeline itself lives in the injected
// components; handlers only translate requests and responses.
func New(store models.PredictionStore, orchestrator *batch.Orchestrator, auditLogger *audit.Logger, tn *tuner.Tuner, cfg Config) *Server {
	if cfg.DaysAhead < 1 {
		cfg.DaysAhead = 7
	}
	if cfg.TuningWindow == 0 {
		cfg.TuningWindow = 7 * 24 * time.Hour
	}
	return &Server{
		store:  store,
		batch:  orchestrator,
		audit:  auditLogger,
		tuner:  tn,
		cfg:    cfg,
		logger: log.With().Str("component", "server").Logger(),
	}
}

// Router builds the route tree.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.logRequests)

	r.Get("/healthz", s.handleHealth)

	r.Route("/internal/cron", func(r chi.Router) {
		r.Use(s.requireCronSecret)
		r.Post("/predictions", s.handleCronPredictions)
		r.Post("/evaluate", s.handleCronEvaluate)
		r.Post("/tune", s.handleCronTune)
	})

	r.Route("/api", func(r chi.Router) {
		r.Post("/runs", s.handleManualRun)
		r.Post("/quick-predict", s.handleQuickPredict)
		r.Get("/matches/{matchID}/prediction", s.handleGetPrediction)
	})

	return r
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("duration", time.Since(start)).
			Msg("request")
	})
}

// requireCronSecret rejects scheduled-trigger calls before any pipeline work
// runs. An unset secret disables the endpoints entirely rather than leaving
// them open.
func (s *Server) requireCronSecret(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.cfg.CronSecret == "" {
			s.respondError(w, http.StatusForbidden, "cron endpoints are disabled")
			return
		}
		got := r.Header.Get(cronSecretHeader)
		if subtle.ConstantTimeCompare([]byte(got), []byte(s.cfg.CronSecret)) != 1 {
			s.respondError(w, http.StatusUnauthorized, "invalid cron secret")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleCronPredictions(w http.ResponseWriter, r *http.Request) {
	run, err := s.batch.GenerateDailyPredictions(r.Context(), batch.Options{
		DaysAhead: s.cfg.DaysAhead,
		RunType:   models.RunDaily,
	})
	if err != nil {
		s.logger.Error().Err(err).Msg("scheduled prediction run failed to start")
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, run)
}

func (s *Server) handleCronEvaluate(w http.ResponseWriter, r *http.Request) {
	evaluated, err := s.audit.EvaluateFinishedMatches(r.Context())
	if err != nil {
		s.logger.Error().Err(err).Msg("evaluation sweep failed")
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]int{"evaluated": evaluated})
}

func (s *Server) handleCronTune(w http.ResponseWriter, r *http.Request) {
	report, err := s.tuner.AutoTune(r.Context(), s.cfg.TuningWindow)
	if err != nil {
		s.logger.Error().Err(err).Msg("tuning cycle failed")
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, report)
}

type manualRunRequest struct {
	DaysAhead          int    `json:"daysAhead"`
	ForceUpdate        bool   `json:"forceUpdate"`
	AlgorithmVersionID string `json:"algorithmVersionId"`
}

func (s *Server) handleManualRun(w http.ResponseWriter, r *http.Request) {
	var req manualRunRequest
	if err := decodeJSON(r, &req); err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.DaysAhead < 1 {
		req.DaysAhead = s.cfg.DaysAhead
	}

	run, err := s.batch.GenerateDailyPredictions(r.Context(), batch.Options{
		DaysAhead:          req.DaysAhead,
		ForceUpdate:        req.ForceUpdate,
		RunType:            models.RunManual,
		AlgorithmVersionID: req.AlgorithmVersionID,
	})
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			s.respondError(w, http.StatusBadRequest, err.Error())
			return
		}
		s.logger.Error().Err(err).Msg("manual prediction run failed to start")
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, run)
}

type quickPredictRequest struct {
	HomeTeamID string `json:"homeTeamId"`
	AwayTeamID string `json:"awayTeamId"`
}

type quickPredictResponse struct {
	Prediction    *models.Prediction `json:"prediction"`
	CalculationID string             `json:"calculationId"`
}

func (s *Server) handleQuickPredict(w http.ResponseWriter, r *http.Request) {
	var req quickPredictRequest
	if err := decodeJSON(r, &req); err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.HomeTeamID == "" || req.AwayTeamID == "" {
		s.respondError(w, http.StatusBadRequest, "homeTeamId and awayTeamId are required")
		return
	}

	prediction, calcID, err := s.batch.QuickPredict(r.Context(), req.HomeTeamID, req.AwayTeamID, models.SourceQuickPredict)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			s.respondError(w, http.StatusNotFound, err.Error())
			return
		}
		s.logger.Error().Err(err).Msg("quick predict failed")
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, quickPredictResponse{Prediction: prediction, CalculationID: calcID})
}

func (s *Server) handleGetPrediction(w http.ResponseWriter, r *http.Request) {
	matchID := chi.URLParam(r, "matchID")
	prediction, err := s.store.GetPredictionByMatch(r.Context(), matchID)
	if err != nil {
		s.logger.Error().Err(err).Str("match_id", matchID).Msg("prediction lookup failed")
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if prediction == nil {
		s.respondError(w, http.StatusNotFound, "no prediction for match "+matchID)
		return
	}
	s.respondJSON(w, http.StatusOK, prediction)
}

func decodeJSON(r *http.Request, v any) error {
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error().Err(err).Msg("response encoding failed")
	}
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, map[string]string{"error": message})
}
