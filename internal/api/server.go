// Package api provides the HTTP server for mtran: translation, batch
// translation, language detection, catalog listing and status endpoints.
package api

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/tutu-network/mtran/internal/domain"
	"github.com/tutu-network/mtran/internal/health"
)

// maxBodyBytes caps request bodies.
const maxBodyBytes = 10 << 20

// Translator runs pivot-aware translation.
type Translator interface {
	Translate(ctx context.Context, from, to, text string, html bool) (string, error)
	TranslateBatch(ctx context.Context, from, to string, texts []string, html bool) ([]string, error)
}

// Detector identifies the language of text.
type Detector interface {
	DetectLanguage(text string) string
	DetectLanguageWithConfidence(text string, minConfidence float64) domain.Detection
}

// Catalog lists the languages and pairs the model records offer.
type Catalog interface {
	Languages() []string
	Pairs() []domain.LanguagePair
}

// EngineLister reports live engines.
type EngineLister interface {
	List() []domain.EngineInfo
}

// HealthReporter exposes the latest health check round.
type HealthReporter interface {
	Statuses() []health.Status
	IsHealthy() bool
}

// Options configures a Server.
type Options struct {
	Token          string   // empty disables auth
	CORSOrigins    []string // "*" allows any origin
	Metrics        bool
	LogRequests    bool
	Version        string
	RequestTimeout time.Duration
	Logger         zerolog.Logger
}

// Server is the mtran HTTP API server.
type Server struct {
	translator Translator
	detector   Detector
	catalog    Catalog
	engines    EngineLister
	health     HealthReporter
	opts       Options
	log        zerolog.Logger
}

// NewServer creates a new API server.
func NewServer(translator Translator, detector Detector, catalog Catalog, engines EngineLister, opts Options) *Server {
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 5 * time.Minute
	}
	if opts.Version == "" {
		opts.Version = "dev"
	}
	return &Server{
		translator: translator,
		detector:   detector,
		catalog:    catalog,
		engines:    engines,
		opts:       opts,
		log:        opts.Logger.With().Str("component", "api").Logger(),
	}
}

// SetHealth attaches the health checker reported by /health.
func (s *Server) SetHealth(h HealthReporter) { s.health = h }

// Handler returns the chi router with all routes mounted.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(s.opts.RequestTimeout))
	if s.opts.LogRequests {
		r.Use(s.requestLogger)
	}
	r.Use(corsMiddleware(s.opts.CORSOrigins))

	// Unauthenticated status endpoints
	r.Get("/health", s.handleHealth)
	r.Get("/version", s.handleVersion)
	r.Get("/__heartbeat__", heartbeat)
	r.Get("/__lbheartbeat__", heartbeat)
	if s.opts.Metrics {
		r.Handle("/metrics", promhttp.Handler())
	}

	r.Group(func(r chi.Router) {
		r.Use(tokenAuth(s.opts.Token))

		r.Post("/translate", s.handleTranslate)
		r.Post("/translate/batch", s.handleTranslateBatch)
		r.Post("/detect", s.handleDetect)
		r.Get("/languages", s.handleLanguages)
		r.Get("/engines", s.handleEngines)
	})

	return r
}

// ─── Middleware ─────────────────────────────────────────────────────────────

// tokenAuth accepts the token as a Bearer authorization header, an
// X-API-Token header, or a token / api_token query parameter.
func tokenAuth(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if token == "" {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if subtle.ConstantTimeCompare([]byte(requestToken(r)), []byte(token)) != 1 {
				writeError(w, http.StatusUnauthorized, "Unauthorized")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func requestToken(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); auth != "" {
		if rest, ok := strings.CutPrefix(auth, "Bearer "); ok {
			return strings.TrimSpace(rest)
		}
	}
	if t := r.Header.Get("X-API-Token"); t != "" {
		return t
	}
	q := r.URL.Query()
	if t := q.Get("token"); t != "" {
		return t
	}
	return q.Get("api_token")
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.log.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Int("bytes", ww.BytesWritten()).
			Dur("duration", time.Since(start)).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("request")
	})
}

// corsMiddleware adds CORS headers for the allowed origins.
func corsMiddleware(origins []string) func(http.Handler) http.Handler {
	allowAll := len(origins) == 0
	allowed := make(map[string]bool, len(origins))
	for _, o := range origins {
		if o == "*" {
			allowAll = true
		}
		allowed[o] = true
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			switch {
			case allowAll:
				w.Header().Set("Access-Control-Allow-Origin", "*")
			case allowed[origin]:
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Add("Vary", "Origin")
			}
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-API-Token")
			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusOK)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// ─── Helpers ────────────────────────────────────────────────────────────────

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return false
	}
	return true
}
