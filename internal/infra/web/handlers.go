package web

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"jobs-engine/internal/domain"
	"jobs-engine/internal/domain/model"
	"jobs-engine/internal/infra/logging"
	"jobs-engine/internal/infra/redis"
)

// Error codes returned in the "error" field.
const (
	codeUnknownType    = "unknown_type"
	codeAlreadyRunning = "already_running"
	codeNotFound       = "not_found"
	codeNotCancellable = "not_cancellable"
	codeDispatchFailed = "dispatch_failed"
	codeBadRequest     = "bad_request"
	codeRateLimited    = "rate_limited"
)

type startJobRequest struct {
	JobType string `json:"job_type" validate:"required"`
}

type startJobResponse struct {
	JobID  string          `json:"job_id"`
	Status model.JobStatus `json:"status"`
}

type stopJobResponse struct {
	JobID  string          `json:"job_id"`
	Status model.JobStatus `json:"status"`
}

type errorResponse struct {
	Error   string          `json:"error"`
	Message string          `json:"message,omitempty"`
	Status  model.JobStatus `json:"status,omitempty"`
}

type listResponse[T any] struct {
	Data []T `json:"data"`
}

func (s *Server) handleStartJob(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req startJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, codeBadRequest, "invalid request body")
		return
	}
	if err := s.validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, codeBadRequest, "job_type is required")
		return
	}

	actor := actorFrom(ctx)
	var triggeredBy *string
	if actor != "" {
		triggeredBy = &actor
	}
	if !s.allowTrigger(ctx, actor) {
		writeError(w, http.StatusTooManyRequests, codeRateLimited, "too many trigger requests")
		return
	}

	rec, err := s.dispatcher.Start(ctx, req.JobType, triggeredBy)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrUnknownJobType):
			writeError(w, http.StatusNotFound, codeUnknownType, "unknown job type "+strconv.Quote(req.JobType))
		case errors.Is(err, domain.ErrAlreadyRunning):
			writeError(w, http.StatusConflict, codeAlreadyRunning, req.JobType+" is already running")
		case errors.Is(err, domain.ErrDispatchFailed):
			writeError(w, http.StatusBadGateway, codeDispatchFailed, "could not queue job")
		default:
			s.internalError(w, r, err)
		}
		return
	}
	writeJSON(w, http.StatusAccepted, startJobResponse{JobID: rec.ID, Status: rec.Status})
}

func (s *Server) handleStopJob(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")

	rec, err := s.canceller.Stop(ctx, id, actorFrom(ctx))
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrNotFound):
			writeError(w, http.StatusNotFound, codeNotFound, "job not found")
		case errors.Is(err, domain.ErrNotCancellable):
			resp := errorResponse{Error: codeNotCancellable, Message: "job already finished"}
			if rec != nil {
				resp.Status = rec.Status
			}
			writeJSON(w, http.StatusConflict, resp)
		default:
			s.internalError(w, r, err)
		}
		return
	}
	writeJSON(w, http.StatusOK, stopJobResponse{JobID: rec.ID, Status: rec.Status})
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	rec, err := s.inspector.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, codeNotFound, "job not found")
			return
		}
		s.internalError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := model.JobFilter{JobType: q.Get("job_type")}
	if v := q.Get("status"); v != "" {
		st, ok := model.ParseJobStatus(v)
		if !ok {
			writeError(w, http.StatusBadRequest, codeBadRequest, "invalid status "+strconv.Quote(v))
			return
		}
		f.Status = st
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, codeBadRequest, "invalid limit")
			return
		}
		f.Limit = n
	}

	recs, err := s.inspector.List(r.Context(), f)
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	if recs == nil {
		recs = []*model.JobRecord{}
	}
	writeJSON(w, http.StatusOK, listResponse[*model.JobRecord]{Data: recs})
}

func (s *Server) handleListJobTypes(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, listResponse[model.JobTypeDescriptor]{Data: s.inspector.ListJobTypes()})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	status := http.StatusOK
	checks := make(map[string]string, len(s.health))
	for name, hc := range s.health {
		if err := hc(ctx); err != nil {
			checks[name] = err.Error()
			status = http.StatusServiceUnavailable
			continue
		}
		checks[name] = "ok"
	}
	writeJSON(w, status, map[string]any{"status": http.StatusText(status), "checks": checks})
}

// allowTrigger fails open when the limiter backend errors.
func (s *Server) allowTrigger(ctx context.Context, actor string) bool {
	if s.limiter == nil || s.triggerLimit <= 0 {
		return true
	}
	key := actor
	if key == "" {
		key = anonymousBucket
	}
	ok, err := s.limiter.Allow(ctx, redis.TriggerKey(key), s.triggerLimit, time.Minute)
	if err != nil {
		s.log.Warn().Err(err).Str("actor", actor).Msg("rate limiter unavailable")
		return true
	}
	return ok
}

func (s *Server) internalError(w http.ResponseWriter, r *http.Request, err error) {
	l := logging.With(r.Context(), s.log)
	l.Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
	writeError(w, http.StatusInternalServerError, "internal", "internal error")
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, errorResponse{Error: code, Message: msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
