package store

import (
	"context"
	"errors"
	"time"

	"github.com/KLibras/klibras-api/pkg/models"
	"github.com/google/uuid"
)

var (
	ErrNotFound     = errors.New("resource not found")
	ErrDuplicateJob = errors.New("duplicate job id")

	// ErrJobTerminal is returned when a terminal transition is attempted on a
	// job that is already completed or failed. Callers seeing this during a
	// broker redelivery should treat the message as handled.
	ErrJobTerminal = errors.New("job already in terminal state")
)

// Store is the data access interface. All database operations go through here.
type Store interface {
	Ping(ctx context.Context) error

	GetDefaultUser(ctx context.Context) (*models.User, error)
	GetAPIKeyByPrefix(ctx context.Context, prefix string) ([]*models.APIKey, error)
	UpdateAPIKeyLastUsed(ctx context.Context, id uuid.UUID) error
	CreateAPIKey(ctx context.Context, key *models.APIKey) error

	CreateJob(ctx context.Context, job *models.Job) error
	GetJob(ctx context.Context, id uuid.UUID, userID int64) (*models.Job, error)
	ClaimJob(ctx context.Context, id uuid.UUID) (bool, error)
	CompleteJob(ctx context.Context, id uuid.UUID, verdict Verdict, completedAt time.Time) error
	FailJob(ctx context.Context, id uuid.UUID, errText string, completedAt time.Time) error
	ListJobsByUser(ctx context.Context, userID int64, limit, offset int) ([]*models.Job, int, error)
}

// Verdict carries the scorer output persisted on completion.
type Verdict struct {
	ActionFound     bool
	PredictedAction string
	Confidence      float64
	IsMatch         bool
}
