// Package httpapi is the thin transport layer over Orchestrator: request
// decoding, precondition checks the handler itself owns, and JSON
// encoding. Session management belongs to the deployment's edge, not
// here; this mirrors the teacher's stance that the webhook/HTTP surface
// is a thin adapter over facade methods. Per-user rate limiting of the
// burst-prone submission routes is the one edge concern pulled in here,
// reusing the teacher's redis.RateLimiter directly rather than deferring
// it to an API gateway that does not exist in this deployment.
package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/reelforge/video-orchestrator/internal/domain"
	"github.com/reelforge/video-orchestrator/internal/domain/model"
	"github.com/reelforge/video-orchestrator/internal/orchestrator"
	"github.com/reelforge/video-orchestrator/internal/orchestrator/httpapi/openapi"
	red "github.com/reelforge/video-orchestrator/internal/infra/redis"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
)

// submitRateLimit caps how many bulk/single submission requests one user
// may make per minute, independent of the daily plan quota the
// orchestrator enforces downstream: this guards against a caller hammering
// the endpoint with many small requests within the same day's headroom.
const (
	submitRateLimit  = 20
	submitRateWindow = time.Minute
)

type Server struct {
	orch    *orchestrator.Orchestrator
	limiter *red.RateLimiter // nil disables rate limiting (tests, dev runs without Redis)
	log     *zerolog.Logger
}

func NewServer(orch *orchestrator.Orchestrator, limiter *red.RateLimiter, log *zerolog.Logger) *Server {
	return &Server{orch: orch, limiter: limiter, log: log}
}

// checkSubmitRate enforces submitRateLimit/submitRateWindow per user
// against the Redis-backed counter; it is a no-op when no limiter is
// configured.
func (s *Server) checkSubmitRate(r *http.Request, command, userID string) error {
	if s.limiter == nil || userID == "" {
		return nil
	}
	allowed, err := s.limiter.Allow(r.Context(), red.UserCommandKey(userID, command), submitRateLimit, submitRateWindow)
	if err != nil {
		return nil // fail open: a Redis hiccup must not block video submission
	}
	if !allowed {
		return fmt.Errorf("%w: too many %s requests, slow down", domain.ErrQuotaExceeded, command)
	}
	return nil
}

// Router builds the full route tree. admin may be nil if the deployment
// runs token management through a separate process.
func (s *Server) Router(admin *AdminServer) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(120 * time.Second))

	r.Route("/v1/jobs", func(r chi.Router) {
		r.Post("/bulk", s.handleSubmitBulk)
		r.Post("/single", s.handleSubmitSingle)
		r.Post("/image-to-video", s.handleSubmitImageToVideo)
		r.Post("/{jobId}/regenerate", s.handleRegenerate)
	})
	r.Get("/v1/status", s.handleCheckStatus)

	if admin != nil {
		admin.Mount(r)
	}

	return r
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, openapi.ErrorResponse{Error: err.Error()})
}

func statusForError(err error) int {
	switch {
	case errors.Is(err, domain.ErrInvalidArgument):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrQuotaExceeded), errors.Is(err, domain.ErrToolNotAllowed), errors.Is(err, domain.ErrPlanExpired):
		return http.StatusForbidden
	case errors.Is(err, domain.ErrNoTokensAvailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) handleSubmitBulk(w http.ResponseWriter, r *http.Request) {
	var req openapi.SubmitBulkRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, domain.ErrInvalidArgument)
		return
	}
	if err := s.checkSubmitRate(r, "bulk", req.UserID); err != nil {
		writeError(w, http.StatusTooManyRequests, err)
		return
	}
	jobIDs, err := s.orch.SubmitBulk(r.Context(), req.UserID, req.Prompts, model.AspectRatio(req.AspectRatio))
	if err != nil {
		writeError(w, statusForError(err), err)
		return
	}
	writeJSON(w, http.StatusAccepted, openapi.SubmitBulkResponse{JobIDs: jobIDs})
}

func (s *Server) handleSubmitSingle(w http.ResponseWriter, r *http.Request) {
	var req openapi.SubmitSingleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, domain.ErrInvalidArgument)
		return
	}
	if err := s.checkSubmitRate(r, "single", req.UserID); err != nil {
		writeError(w, http.StatusTooManyRequests, err)
		return
	}
	operationName, sceneID, tokenID, err := s.orch.SubmitSingle(r.Context(), req.UserID, req.Prompt, model.AspectRatio(req.AspectRatio))
	if err != nil {
		writeError(w, statusForError(err), err)
		return
	}
	writeJSON(w, http.StatusAccepted, openapi.SubmitSingleResponse{OperationName: operationName, SceneID: sceneID, TokenID: tokenID})
}

func (s *Server) handleSubmitImageToVideo(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(16 << 20); err != nil {
		writeError(w, http.StatusBadRequest, domain.ErrInvalidArgument)
		return
	}
	file, header, err := r.FormFile("image")
	if err != nil {
		writeError(w, http.StatusBadRequest, domain.ErrInvalidArgument)
		return
	}
	defer file.Close()
	buf, err := io.ReadAll(file)
	if err != nil {
		writeError(w, http.StatusBadRequest, domain.ErrInvalidArgument)
		return
	}

	userID := r.FormValue("userId")
	prompt := r.FormValue("prompt")
	aspectRatio := r.FormValue("aspectRatio")
	mimeType := header.Header.Get("Content-Type")

	jobID, err := s.orch.SubmitImageToVideo(r.Context(), userID, buf, mimeType, prompt, model.AspectRatio(aspectRatio))
	if err != nil {
		writeError(w, statusForError(err), err)
		return
	}
	writeJSON(w, http.StatusAccepted, openapi.SubmitImageToVideoResponse{JobID: jobID})
}

func (s *Server) handleRegenerate(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobId")
	var req openapi.RegenerateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, domain.ErrInvalidArgument)
		return
	}
	err := s.orch.Regenerate(r.Context(), req.UserID, jobID, req.Prompt, model.AspectRatio(req.AspectRatio), req.SceneNumber)
	if err != nil {
		writeError(w, statusForError(err), err)
		return
	}
	writeJSON(w, http.StatusAccepted, openapi.RegenerateResponse{JobID: jobID})
}

func (s *Server) handleCheckStatus(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	status, videoURL, errMsg, err := s.orch.CheckStatus(r.Context(), q.Get("tokenId"), q.Get("operationName"))
	if err != nil {
		writeError(w, statusForError(err), err)
		return
	}
	writeJSON(w, http.StatusOK, openapi.CheckStatusResponse{Status: status, VideoURL: videoURL, ErrorMessage: errMsg})
}
