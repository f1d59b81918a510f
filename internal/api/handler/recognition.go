package handler

import (
	"context"
	"errors"
	"io"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	mw "github.com/KLibras/klibras-api/internal/api/middleware"
	"github.com/KLibras/klibras-api/internal/api/response"
	"github.com/KLibras/klibras-api/internal/recognition"
	"github.com/KLibras/klibras-api/internal/store"
	"github.com/KLibras/klibras-api/pkg/models"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

const (
	defaultHistoryLimit = 20
	maxHistoryLimit     = 100
)

// RecognitionService defines the interface the handlers depend on.
type RecognitionService interface {
	Submit(ctx context.Context, userID int64, expectedAction string, video []byte) (*models.Job, error)
	GetResult(ctx context.Context, userID int64, jobID uuid.UUID, wait bool, timeout time.Duration) (*models.Job, error)
	History(ctx context.Context, userID int64, limit, offset int) ([]*models.Job, int, error)
	Actions() []string
}

// NewSubmitHandler returns an http.HandlerFunc for
// POST /api/v1/recognition/jobs. The request is multipart/form-data with an
// expected_action field and a video file part (.mp4).
func NewSubmitHandler(svc RecognitionService, maxVideoSize int64) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := mw.GetUserID(r)
		if !ok {
			response.Error(w, http.StatusUnauthorized, "INVALID_TOKEN", "Missing user", nil)
			return
		}

		r.Body = http.MaxBytesReader(w, r.Body, maxVideoSize)
		if err := r.ParseMultipartForm(maxVideoSize); err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				response.Error(w, http.StatusRequestEntityTooLarge, "VIDEO_TOO_LARGE",
					"Video exceeds the maximum allowed size", nil)
				return
			}
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST",
				"Request must be multipart/form-data", nil)
			return
		}

		expectedAction := strings.TrimSpace(r.FormValue("expected_action"))
		if expectedAction == "" {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST",
				"expected_action is required", nil)
			return
		}

		file, header, err := r.FormFile("video")
		if err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST",
				"video file is required", nil)
			return
		}
		defer file.Close()

		if !strings.EqualFold(filepath.Ext(header.Filename), ".mp4") {
			response.Error(w, http.StatusBadRequest, "INVALID_VIDEO_FORMAT",
				"Only .mp4 videos are accepted", nil)
			return
		}

		video, err := io.ReadAll(file)
		if err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST",
				"Failed to read video upload", nil)
			return
		}
		if len(video) == 0 {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST",
				"video file is empty", nil)
			return
		}

		job, err := svc.Submit(r.Context(), userID, expectedAction, video)
		if err != nil {
			switch {
			case errors.Is(err, recognition.ErrUnknownAction):
				response.Error(w, http.StatusBadRequest, "UNKNOWN_ACTION",
					"expected_action is not a recognizable action", svc.Actions())
			case errors.Is(err, recognition.ErrQueueUnavailable):
				response.Error(w, http.StatusServiceUnavailable, "QUEUE_UNAVAILABLE",
					"The video queue is temporarily unavailable, try again later", nil)
			default:
				response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
					"An unexpected error occurred", nil)
			}
			return
		}

		response.Accepted(w, submitResponse{
			JobID:  job.ID.String(),
			Status: job.Status,
		})
	}
}

type submitResponse struct {
	JobID  string `json:"jobId"`
	Status string `json:"status"`
}

// NewGetJobHandler returns an http.HandlerFunc for
// GET /api/v1/recognition/jobs/{jobID}. With ?wait=true the request blocks
// until the job settles or the timeout elapses.
func NewGetJobHandler(svc RecognitionService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := mw.GetUserID(r)
		if !ok {
			response.Error(w, http.StatusUnauthorized, "INVALID_TOKEN", "Missing user", nil)
			return
		}

		jobID, err := uuid.Parse(chi.URLParam(r, "jobID"))
		if err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST",
				"jobID must be a valid UUID", nil)
			return
		}

		wait := false
		switch r.URL.Query().Get("wait") {
		case "1", "true":
			wait = true
		}

		var timeout time.Duration
		if raw := r.URL.Query().Get("timeout"); raw != "" {
			secs, err := strconv.Atoi(raw)
			if err != nil || secs < 0 {
				response.Error(w, http.StatusBadRequest, "INVALID_REQUEST",
					"timeout must be a non-negative integer of seconds", nil)
				return
			}
			timeout = time.Duration(secs) * time.Second
		}

		job, err := svc.GetResult(r.Context(), userID, jobID, wait, timeout)
		if err != nil {
			switch {
			case errors.Is(err, store.ErrNotFound):
				response.Error(w, http.StatusNotFound, "JOB_NOT_FOUND",
					"No job with that id", nil)
			case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
				// Client went away mid-poll; nothing useful to write.
			default:
				response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
					"An unexpected error occurred", nil)
			}
			return
		}

		response.JSON(w, job.View())
	}
}

// NewHistoryHandler returns an http.HandlerFunc for
// GET /api/v1/recognition/jobs.
func NewHistoryHandler(svc RecognitionService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := mw.GetUserID(r)
		if !ok {
			response.Error(w, http.StatusUnauthorized, "INVALID_TOKEN", "Missing user", nil)
			return
		}

		limit := queryInt(r, "limit", defaultHistoryLimit)
		if limit < 1 {
			limit = defaultHistoryLimit
		}
		if limit > maxHistoryLimit {
			limit = maxHistoryLimit
		}
		offset := queryInt(r, "offset", 0)
		if offset < 0 {
			offset = 0
		}

		jobs, total, err := svc.History(r.Context(), userID, limit, offset)
		if err != nil {
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
				"An unexpected error occurred", nil)
			return
		}

		views := make([]models.JobView, 0, len(jobs))
		for _, job := range jobs {
			views = append(views, job.View())
		}

		response.Collection(w, views, response.PaginationMeta{
			Limit:   limit,
			Offset:  offset,
			Total:   total,
			HasNext: offset+len(views) < total,
		})
	}
}

// NewActionsHandler returns an http.HandlerFunc for
// GET /api/v1/recognition/actions.
func NewActionsHandler(svc RecognitionService) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		response.JSON(w, actionsResponse{Actions: svc.Actions()})
	}
}

type actionsResponse struct {
	Actions []string `json:"actions"`
}

func queryInt(r *http.Request, name string, fallback int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return v
}
