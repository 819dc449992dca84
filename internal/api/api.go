// Package api exposes the chat pipeline over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/MuhammadOwais03/portfoliochat/internal/apperr"
	"github.com/MuhammadOwais03/portfoliochat/internal/memory"
	"github.com/MuhammadOwais03/portfoliochat/internal/session"
	"github.com/MuhammadOwais03/portfoliochat/pkg/models"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"
)

const (
	// MsgQueryNotProvided is the error body for a missing or blank query.
	MsgQueryNotProvided = "Query not provided"

	DefaultRequestTimeout = 60 * time.Second
	maxBodyBytes          = 1 << 20
)

// Retriever finds the context for a question.
type Retriever interface {
	RetrieveText(ctx context.Context, question string) ([]models.SearchResult, error)
}

// Answerer produces an answer and records it in the session memory.
type Answerer interface {
	Answer(ctx context.Context, question string, results []models.SearchResult, mem *memory.Memory) (models.ChatResponse, error)
}

// Pinger reports whether a backing service is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// App holds everything a request needs. It is built once at startup.
type App struct {
	Retriever      Retriever
	Generator      Answerer
	Sessions       *session.Manager
	Memories       *memory.Registry
	Health         Pinger
	Greeting       string
	CORSOrigin     string
	RequestTimeout time.Duration
	Logger         zerolog.Logger

	validate *validator.Validate
}

// Handler returns the HTTP handler with logging and CORS applied.
func (a *App) Handler() http.Handler {
	if a.validate == nil {
		a.validate = validator.New()
	}
	if a.RequestTimeout <= 0 {
		a.RequestTimeout = DefaultRequestTimeout
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", a.handleRoot)
	mux.HandleFunc("GET /healthz", a.handleHealth)
	mux.Handle("POST /chat", a.Sessions.Middleware(http.HandlerFunc(a.handleChat)))
	mux.Handle("POST /session/reset", a.Sessions.Middleware(http.HandlerFunc(a.handleReset)))

	logger := a.Logger
	return hlog.NewHandler(logger)(
		hlog.AccessHandler(func(r *http.Request, status, size int, dur time.Duration) {
			logger.Info().Str("method", r.Method).Str("path", r.URL.Path).Int("status", status).Int("size", size).Dur("dur", dur).Msg("http")
		})(a.cors(mux)),
	)
}

func (a *App) cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if a.CORSOrigin != "" {
			h := w.Header()
			h.Set("Access-Control-Allow-Origin", a.CORSOrigin)
			h.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			h.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, "+session.HeaderName)
			h.Set("Access-Control-Expose-Headers", session.HeaderName)
			if a.CORSOrigin != "*" {
				h.Set("Access-Control-Allow-Credentials", "true")
				h.Add("Vary", "Origin")
			}
			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

func (a *App) handleRoot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, map[string]string{"message": a.Greeting})
}

func (a *App) handleHealth(w http.ResponseWriter, r *http.Request) {
	if a.Health != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
		defer cancel()
		if err := a.Health.Ping(ctx); err != nil {
			hlog.FromRequest(r).Warn().Err(err).Msg("health check failed")
			writeJSON(w, r, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
	}
	writeJSON(w, r, http.StatusOK, map[string]string{"status": "ok"})
}

func (a *App) handleChat(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	var req models.ChatRequest
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.fail(w, r, apperr.E(apperr.Validation, "api.chat", fmt.Errorf("decode request: %w", err)), MsgQueryNotProvided)
		return
	}
	req.Query = strings.TrimSpace(req.Query)
	if err := a.validate.Struct(req); err != nil {
		a.fail(w, r, apperr.E(apperr.Validation, "api.chat", describeValidation(err)), MsgQueryNotProvided)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), a.RequestTimeout)
	defer cancel()

	sid := session.FromContext(r.Context())
	mem := a.Memories.Get(sid)

	results, err := a.Retriever.RetrieveText(ctx, req.Query)
	if err != nil {
		a.fail(w, r, err, "")
		return
	}
	resp, err := a.Generator.Answer(ctx, req.Query, results, mem)
	if err != nil {
		a.fail(w, r, err, "")
		return
	}

	writeJSON(w, r, http.StatusOK, resp)
	hlog.FromRequest(r).Info().Str("path", "/chat").Int("sources", len(resp.Sources)).Int("history", mem.Len()).Dur("dur", time.Since(start)).Msg("served")
}

func (a *App) handleReset(w http.ResponseWriter, r *http.Request) {
	sid := session.FromContext(r.Context())
	a.Memories.Get(sid).Reset()
	w.WriteHeader(http.StatusNoContent)
}

// fail maps err to a status and writes {"error": msg}. An empty msg uses the
// error text.
func (a *App) fail(w http.ResponseWriter, r *http.Request, err error, msg string) {
	kind := apperr.KindOf(err)
	if kind == apperr.Unknown && errors.Is(err, context.DeadlineExceeded) {
		kind = apperr.Generation
	}
	status := apperr.HTTPStatus(kind)

	logger := hlog.FromRequest(r)
	var ev *zerolog.Event
	if kind == apperr.Validation {
		ev = logger.Debug()
	} else {
		ev = logger.Error()
	}
	ev.Err(err).Str("kind", kind.String()).Int("status", status).Msg("chat request failed")

	if msg == "" {
		msg = err.Error()
	}
	writeJSON(w, r, status, map[string]string{"error": msg})
}

func describeValidation(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	fields := make([]string, 0, len(verrs))
	for _, e := range verrs {
		fields = append(fields, fmt.Sprintf("%s failed on '%s' tag", e.Field(), e.Tag()))
	}
	return errors.New(strings.Join(fields, "; "))
}

func writeJSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		hlog.FromRequest(r).Error().Err(err).Msg("failed to encode response")
	}
}
