// Package recognition implements the job-facing application logic: accepting
// videos for scoring, exposing results, and listing history.
package recognition

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/KLibras/klibras-api/internal/cache"
	"github.com/KLibras/klibras-api/internal/queue"
	"github.com/KLibras/klibras-api/internal/store"
	"github.com/KLibras/klibras-api/pkg/models"
	"github.com/google/uuid"
)

var (
	// ErrUnknownAction is returned when a submission names an action the
	// recognizer was not trained on.
	ErrUnknownAction = errors.New("unknown action")

	// ErrQueueUnavailable is returned when the job could not be handed to the
	// broker. The job record, if created, is marked failed.
	ErrQueueUnavailable = errors.New("video queue unavailable")
)

const (
	defaultWaitTimeout = 10 * time.Second
	minWaitTimeout     = 1 * time.Second
	maxWaitTimeout     = 120 * time.Second

	pollInitialDelay = 100 * time.Millisecond
	pollMaxDelay     = 2 * time.Second

	jobStatusTTL = 30 * time.Minute
)

// Service coordinates the submit/poll lifecycle of recognition jobs.
type Service struct {
	store     store.Store
	cache     cache.Cache
	transport queue.Transport
	queueName string
	actions   []string
	logger    *slog.Logger
}

// NewService creates a recognition Service. cache may be nil; it carries
// job-status hints only and is never read in place of the store.
func NewService(st store.Store, c cache.Cache, transport queue.Transport, queueName string, actions []string, logger *slog.Logger) (*Service, error) {
	if st == nil || transport == nil {
		return nil, fmt.Errorf("recognition service requires a store and a queue transport")
	}
	if queueName == "" {
		return nil, fmt.Errorf("recognition service requires a queue name")
	}
	if len(actions) == 0 {
		return nil, fmt.Errorf("recognition service requires a non-empty action set")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:     st,
		cache:     c,
		transport: transport,
		queueName: queueName,
		actions:   actions,
		logger:    logger,
	}, nil
}

// Actions returns the recognizable action set, in model order.
func (s *Service) Actions() []string {
	out := make([]string, len(s.actions))
	copy(out, s.actions)
	return out
}

// Submit registers a pending job and enqueues the video for scoring. It
// returns once the broker has confirmed the message; the verdict arrives
// later via GetResult.
func (s *Service) Submit(ctx context.Context, userID int64, expectedAction string, video []byte) (*models.Job, error) {
	if !s.knownAction(expectedAction) {
		return nil, fmt.Errorf("%w: %q", ErrUnknownAction, expectedAction)
	}

	job := &models.Job{
		ID:             uuid.New(),
		UserID:         userID,
		ExpectedAction: expectedAction,
		Status:         models.JobStatusPending,
		CreatedAt:      time.Now().UTC(),
	}

	if err := s.store.CreateJob(ctx, job); err != nil {
		if errors.Is(err, store.ErrDuplicateJob) {
			// Random v4 collision. Retry once with a fresh id.
			job.ID = uuid.New()
			err = s.store.CreateJob(ctx, job)
		}
		if err != nil {
			return nil, fmt.Errorf("creating job record: %w", err)
		}
	}

	body, err := queue.EncodeMessage(queue.Message{
		JobID:          job.ID,
		UserID:         userID,
		ExpectedAction: expectedAction,
		Video:          video,
	})
	if err != nil {
		s.markSubmitFailed(job.ID, "failed to encode job message")
		return nil, fmt.Errorf("encoding job message: %w", err)
	}

	if err := s.transport.Publish(ctx, s.queueName, body); err != nil {
		// The record exists but no worker will ever see it; fail it so the
		// client gets a terminal answer instead of a job stuck in pending.
		s.logger.Error("publish failed", "job_id", job.ID, "error", err)
		s.markSubmitFailed(job.ID, "failed to enqueue video for processing")
		return nil, fmt.Errorf("%w: %v", ErrQueueUnavailable, err)
	}

	s.setCachedStatus(job.ID, models.JobStatusPending)
	s.logger.Info("job submitted",
		"job_id", job.ID,
		"user_id", userID,
		"expected_action", expectedAction,
		"video_bytes", len(video))
	return job, nil
}

// GetResult returns the job's current state. With wait=false it reads once.
// With wait=true it polls until the job reaches a terminal status or the
// timeout elapses, then returns whatever state the job is in; callers
// distinguish the two by the returned status.
func (s *Service) GetResult(ctx context.Context, userID int64, jobID uuid.UUID, wait bool, timeout time.Duration) (*models.Job, error) {
	job, err := s.store.GetJob(ctx, jobID, userID)
	if err != nil {
		return nil, err
	}
	if !wait || models.IsTerminalStatus(job.Status) {
		return job, nil
	}

	timeout = clampWaitTimeout(timeout)
	deadline := time.Now().Add(timeout)
	delay := pollInitialDelay

	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return job, nil
		}

		// The worker writes the status cache right after the terminal store
		// update, so a terminal entry here means the next read will settle;
		// drop the backoff. The cache is only a hint: every iteration goes
		// back to the store, which is the source of truth.
		if status, ok := s.cachedStatus(jobID); ok && models.IsTerminalStatus(status) {
			delay = pollInitialDelay
		}
		if delay > remaining {
			delay = remaining
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}

		if delay < pollMaxDelay {
			delay *= 2
			if delay > pollMaxDelay {
				delay = pollMaxDelay
			}
		}

		job, err = s.store.GetJob(ctx, jobID, userID)
		if err != nil {
			return nil, err
		}
		if models.IsTerminalStatus(job.Status) {
			return job, nil
		}
	}
}

// History lists the user's jobs, newest first, and the total count.
func (s *Service) History(ctx context.Context, userID int64, limit, offset int) ([]*models.Job, int, error) {
	return s.store.ListJobsByUser(ctx, userID, limit, offset)
}

func (s *Service) knownAction(action string) bool {
	for _, a := range s.actions {
		if a == action {
			return true
		}
	}
	return false
}

// markSubmitFailed records a submit-path failure on the job. Best effort:
// the caller already has an error to return.
func (s *Service) markSubmitFailed(jobID uuid.UUID, reason string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.store.FailJob(ctx, jobID, reason, time.Now().UTC()); err != nil {
		s.logger.Error("failed to mark job failed", "job_id", jobID, "error", err)
	}
	s.setCachedStatus(jobID, models.JobStatusFailed)
}

func (s *Service) setCachedStatus(jobID uuid.UUID, status string) {
	if s.cache == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_ = s.cache.SetJobStatus(ctx, jobID, status, jobStatusTTL)
}

func (s *Service) cachedStatus(jobID uuid.UUID) (string, bool) {
	if s.cache == nil {
		return "", false
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	status, ok, err := s.cache.GetJobStatus(ctx, jobID)
	if err != nil || !ok {
		return "", false
	}
	return status, true
}

// clampWaitTimeout bounds the client-requested long-poll window.
func clampWaitTimeout(d time.Duration) time.Duration {
	switch {
	case d <= 0:
		return defaultWaitTimeout
	case d < minWaitTimeout:
		return minWaitTimeout
	case d > maxWaitTimeout:
		return maxWaitTimeout
	default:
		return d
	}
}
