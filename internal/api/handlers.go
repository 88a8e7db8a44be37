package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/kalambet/attune/internal/errdefs"
	"github.com/kalambet/attune/internal/personality"
	"github.com/kalambet/attune/internal/pipeline"
	"github.com/kalambet/attune/internal/profile"
)

const maxRequestBodySize = 1 << 20 // 1MB

// Backups takes and lists backups on demand.
type Backups interface {
	RunOnce(ctx context.Context) (profile.Manifest, error)
	List() ([]string, error)
}

type AppDeps struct {
	Evolver *pipeline.Evolver
	Store   *profile.Store
	Backups Backups // optional; backup routes answer 503 without it
	Token   string
}

// ChatRequest is the body of POST /v1/chat/{userID}.
type ChatRequest struct {
	Message string `json:"message"`
}

// ChatResponse is a pipeline result plus the collaborator error, if any,
// that produced a degraded reply.
type ChatResponse struct {
	pipeline.Result
	Error string `json:"error,omitempty"`
}

// SummaryResponse is the body of GET /v1/profile/{userID}/summary.
type SummaryResponse struct {
	UserID  string              `json:"user_id"`
	Summary personality.Summary `json:"summary"`
	Prompt  string              `json:"prompt"`
}

func NewAppHandler(deps AppDeps) http.Handler {
	r := chi.NewRouter()

	r.Get("/health", handleHealth)

	r.Route("/v1", func(r chi.Router) {
		r.Use(BearerAuth(deps.Token))

		r.Post("/chat/{userID}", handleChat(deps))
		r.Get("/profile/{userID}", handleGetProfile(deps))
		r.Get("/profile/{userID}/summary", handleGetSummary(deps))
		r.Get("/profile/{userID}/turns", handleListTurns(deps))
		r.Delete("/profile/{userID}", handleDeleteProfile(deps))
		r.Get("/stats", handleGlobalStats(deps))
		r.Get("/stats/{userID}", handleUserStats(deps))
		r.Post("/backups", handleBackup(deps))
		r.Get("/backups", handleListBackups(deps))
	})

	return r
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

func handleChat(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req ChatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}

		res, err := deps.Evolver.ProcessMessage(r.Context(), chi.URLParam(r, "userID"), req.Message)
		if err != nil && !errdefs.IsCollaborator(err) {
			writeError(w, err)
			return
		}
		resp := ChatResponse{Result: res}
		if err != nil {
			resp.Error = err.Error()
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func handleGetProfile(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, err := deps.Store.Load(chi.URLParam(r, "userID"))
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, p)
	}
}

func handleGetSummary(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, err := deps.Store.Load(chi.URLParam(r, "userID"))
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, SummaryResponse{
			UserID:  p.UserID,
			Summary: personality.Summarize(p.Personality),
			Prompt:  personality.PromptLines(p.Personality),
		})
	}
}

func handleListTurns(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := parseIntParam(r, "limit", 20, 500)

		turns, err := deps.Store.History(chi.URLParam(r, "userID"), limit)
		if err != nil {
			writeError(w, err)
			return
		}
		if turns == nil {
			turns = []profile.TurnRecord{}
		}
		writeJSON(w, http.StatusOK, turns)
	}
}

func handleDeleteProfile(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := deps.Evolver.Reset(chi.URLParam(r, "userID")); err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
	}
}

func handleGlobalStats(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		gs, err := deps.Store.GlobalStats(r.Context())
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, gs)
	}
}

func handleUserStats(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		st, err := deps.Store.Stats(chi.URLParam(r, "userID"))
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, st)
	}
}

func handleBackup(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if deps.Backups == nil {
			httpError(w, http.StatusServiceUnavailable, "api_error", "backups are not configured")
			return
		}
		m, err := deps.Backups.RunOnce(r.Context())
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, m)
	}
}

func handleListBackups(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if deps.Backups == nil {
			httpError(w, http.StatusServiceUnavailable, "api_error", "backups are not configured")
			return
		}
		dirs, err := deps.Backups.List()
		if err != nil {
			writeError(w, err)
			return
		}
		if dirs == nil {
			dirs = []string{}
		}
		writeJSON(w, http.StatusOK, dirs)
	}
}

func parseIntParam(r *http.Request, key string, defaultVal, maxVal int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return defaultVal
	}
	v, err := strconv.Atoi(s)
	if err != nil || v < 0 {
		return defaultVal
	}
	if maxVal > 0 && v > maxVal {
		return maxVal
	}
	return v
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

// writeError maps the error taxonomy onto HTTP status codes.
func writeError(w http.ResponseWriter, err error) {
	var verr *errdefs.ValidationError
	switch {
	case errors.As(err, &verr):
		httpError(w, http.StatusBadRequest, "invalid_request_error", "%s", verr.Error())
	case errdefs.IsCollaborator(err):
		httpError(w, http.StatusBadGateway, "upstream_error", "%v", err)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		httpError(w, http.StatusServiceUnavailable, "api_error", "request cancelled: %v", err)
	default:
		if errdefs.IsPersistence(err) {
			slog.Error("persistence failure", "error", err)
		}
		httpError(w, http.StatusInternalServerError, "api_error", "%v", err)
	}
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	msg := fmt.Sprintf(format, args...)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"message": msg,
			"type":    errType,
		},
	})
}
