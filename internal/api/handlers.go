package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/tutu-network/mtran/internal/domain"
)

// ─── Request / Response Types ───────────────────────────────────────────────

type translateRequest struct {
	From string `json:"from"`
	To   string `json:"to"`
	Text string `json:"text"`
	HTML bool   `json:"html"`
}

type translateResponse struct {
	Result string `json:"result"`
}

type batchRequest struct {
	From  string   `json:"from"`
	To    string   `json:"to"`
	Texts []string `json:"texts"`
	HTML  bool     `json:"html"`
}

type batchResponse struct {
	Results []string `json:"results"`
}

type detectRequest struct {
	Text          string   `json:"text"`
	MinConfidence *float64 `json:"minConfidence,omitempty"`
}

type detectResponse struct {
	Language   string   `json:"language"`
	Confidence *float64 `json:"confidence,omitempty"`
}

type languagesResponse struct {
	Languages []string              `json:"languages"`
	Pairs     []domain.LanguagePair `json:"pairs"`
}

// ─── Translation ────────────────────────────────────────────────────────────

func (s *Server) handleTranslate(w http.ResponseWriter, r *http.Request) {
	var req translateRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	from, to := domain.NormalizeLanguage(req.From), domain.NormalizeLanguage(req.To)

	result, err := s.translator.Translate(r.Context(), from, to, req.Text, req.HTML)
	if err != nil {
		s.writeTranslateError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, translateResponse{Result: result})
}

func (s *Server) handleTranslateBatch(w http.ResponseWriter, r *http.Request) {
	var req batchRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	from, to := domain.NormalizeLanguage(req.From), domain.NormalizeLanguage(req.To)

	results, err := s.translator.TranslateBatch(r.Context(), from, to, req.Texts, req.HTML)
	if err != nil {
		s.writeTranslateError(w, r, err)
		return
	}
	if results == nil {
		results = []string{}
	}
	writeJSON(w, http.StatusOK, batchResponse{Results: results})
}

func (s *Server) writeTranslateError(w http.ResponseWriter, r *http.Request, err error) {
	status := errorStatus(err)
	if status >= http.StatusInternalServerError {
		s.log.Error().Err(err).Str("path", r.URL.Path).Msg("translation failed")
	}
	writeError(w, status, err.Error())
}

// errorStatus maps domain errors to HTTP status codes.
func errorStatus(err error) int {
	switch {
	case errors.Is(err, domain.ErrEmptyLanguage),
		errors.Is(err, domain.ErrAutoTarget):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrNoDirectPair),
		errors.Is(err, domain.ErrModelNotFound),
		errors.Is(err, domain.ErrArtifactMissing):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrDetectionFailed):
		return http.StatusUnprocessableEntity
	case errors.Is(err, domain.ErrRecordsNotLoaded),
		errors.Is(err, domain.ErrOffline),
		errors.Is(err, domain.ErrInitTimeout),
		errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// ─── Language ───────────────────────────────────────────────────────────────

func (s *Server) handleDetect(w http.ResponseWriter, r *http.Request) {
	var req detectRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.MinConfidence == nil {
		writeJSON(w, http.StatusOK, detectResponse{Language: s.detector.DetectLanguage(req.Text)})
		return
	}
	d := s.detector.DetectLanguageWithConfidence(req.Text, *req.MinConfidence)
	writeJSON(w, http.StatusOK, detectResponse{Language: d.Language, Confidence: &d.Confidence})
}

func (s *Server) handleLanguages(w http.ResponseWriter, r *http.Request) {
	resp := languagesResponse{
		Languages: s.catalog.Languages(),
		Pairs:     s.catalog.Pairs(),
	}
	if resp.Languages == nil {
		resp.Languages = []string{}
	}
	if resp.Pairs == nil {
		resp.Pairs = []domain.LanguagePair{}
	}
	writeJSON(w, http.StatusOK, resp)
}

// ─── System ─────────────────────────────────────────────────────────────────

func (s *Server) handleEngines(w http.ResponseWriter, r *http.Request) {
	engines := s.engines.List()
	if engines == nil {
		engines = []domain.EngineInfo{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"engines": engines})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.health == nil {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		return
	}
	status, code := "ok", http.StatusOK
	if !s.health.IsHealthy() {
		status, code = "degraded", http.StatusServiceUnavailable
	}
	writeJSON(w, code, map[string]any{
		"status": status,
		"checks": s.health.Statuses(),
	})
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"version": s.opts.Version})
}

func heartbeat(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}
