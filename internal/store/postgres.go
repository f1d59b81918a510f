package store

import (
	"context"
	"errors"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/KLibras/klibras-api/pkg/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Error text longer than this is truncated before persisting; the column is
// VARCHAR(500).
const maxErrorTextBytes = 500

// PostgresStore implements the Store interface using pgx/v5.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgresStore.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Ping checks database connectivity.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// --- Users ---

func (s *PostgresStore) GetDefaultUser(ctx context.Context) (*models.User, error) {
	var u models.User
	err := s.pool.QueryRow(ctx,
		`SELECT id, email, name, created_at, updated_at FROM users WHERE email = 'default@klibras.local' LIMIT 1`,
	).Scan(&u.ID, &u.Email, &u.Name, &u.CreatedAt, &u.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get default user: %w", err)
	}
	return &u, nil
}

// --- API Keys ---

func (s *PostgresStore) GetAPIKeyByPrefix(ctx context.Context, prefix string) ([]*models.APIKey, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, user_id, name, key_hash, key_prefix, last_used_at, revoked_at, created_at
		 FROM api_keys WHERE key_prefix = $1 AND revoked_at IS NULL`, prefix)
	if err != nil {
		return nil, fmt.Errorf("get api key by prefix: %w", err)
	}
	defer rows.Close()

	var keys []*models.APIKey
	for rows.Next() {
		var k models.APIKey
		if err := rows.Scan(&k.ID, &k.UserID, &k.Name, &k.KeyHash, &k.KeyPrefix,
			&k.LastUsedAt, &k.RevokedAt, &k.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan api key: %w", err)
		}
		keys = append(keys, &k)
	}
	return keys, rows.Err()
}

func (s *PostgresStore) UpdateAPIKeyLastUsed(ctx context.Context, id uuid.UUID) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE api_keys SET last_used_at = NOW() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("update api key last used: %w", err)
	}
	return nil
}

func (s *PostgresStore) CreateAPIKey(ctx context.Context, key *models.APIKey) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO api_keys (id, user_id, name, key_hash, key_prefix, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		key.ID, key.UserID, key.Name, key.KeyHash, key.KeyPrefix, key.CreatedAt)
	if err != nil {
		return fmt.Errorf("create api key: %w", err)
	}
	return nil
}

// --- Jobs ---

const jobColumns = `job_id, user_id, expected_action, status, action_found,
	 predicted_action, confidence, is_match, error_message, created_at, completed_at`

func scanJob(row pgx.Row) (*models.Job, error) {
	var j models.Job
	err := row.Scan(&j.ID, &j.UserID, &j.ExpectedAction, &j.Status, &j.ActionFound,
		&j.PredictedAction, &j.Confidence, &j.IsMatch, &j.ErrorMessage,
		&j.CreatedAt, &j.CompletedAt)
	if err != nil {
		return nil, err
	}
	return &j, nil
}

func (s *PostgresStore) CreateJob(ctx context.Context, job *models.Job) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO processing_jobs (job_id, user_id, expected_action, status, created_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		job.ID, job.UserID, job.ExpectedAction, job.Status, job.CreatedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return ErrDuplicateJob
		}
		return fmt.Errorf("create job: %w", err)
	}
	return nil
}

// GetJob fetches a job scoped to its owner. A job belonging to another user
// is reported as ErrNotFound so the API does not leak job existence.
func (s *PostgresStore) GetJob(ctx context.Context, id uuid.UUID, userID int64) (*models.Job, error) {
	j, err := scanJob(s.pool.QueryRow(ctx,
		`SELECT `+jobColumns+` FROM processing_jobs WHERE job_id = $1 AND user_id = $2`,
		id, userID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return j, nil
}

// ClaimJob attempts the pending→processing transition. It returns false when
// the job is already claimed or terminal, which is how a redelivered queue
// message is detected before any scoring work starts.
func (s *PostgresStore) ClaimJob(ctx context.Context, id uuid.UUID) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE processing_jobs SET status = $2 WHERE job_id = $1 AND status = $3`,
		id, models.JobStatusProcessing, models.JobStatusPending)
	if err != nil {
		return false, fmt.Errorf("claim job: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return true, nil
	}

	// Distinguish "already claimed/terminal" from "no such job".
	var status string
	err = s.pool.QueryRow(ctx,
		`SELECT status FROM processing_jobs WHERE job_id = $1`, id).Scan(&status)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, ErrNotFound
	}
	if err != nil {
		return false, fmt.Errorf("claim job status: %w", err)
	}
	return false, nil
}

// CompleteJob atomically transitions a non-terminal job to completed and
// records the verdict. A replayed update against an already-terminal job
// returns ErrJobTerminal instead of overwriting the stored result.
func (s *PostgresStore) CompleteJob(ctx context.Context, id uuid.UUID, verdict Verdict, completedAt time.Time) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE processing_jobs
		 SET status = $2, action_found = $3, predicted_action = $4, confidence = $5,
		     is_match = $6, completed_at = $7
		 WHERE job_id = $1 AND status IN ($8, $9)`,
		id, models.JobStatusCompleted, verdict.ActionFound, verdict.PredictedAction,
		verdict.Confidence, verdict.IsMatch, completedAt,
		models.JobStatusPending, models.JobStatusProcessing)
	if err != nil {
		return fmt.Errorf("complete job: %w", err)
	}
	return s.checkTerminalUpdate(ctx, id, tag)
}

// FailJob atomically transitions a non-terminal job to failed with the given
// error text.
func (s *PostgresStore) FailJob(ctx context.Context, id uuid.UUID, errText string, completedAt time.Time) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE processing_jobs
		 SET status = $2, error_message = $3, completed_at = $4
		 WHERE job_id = $1 AND status IN ($5, $6)`,
		id, models.JobStatusFailed, truncateString(errText, maxErrorTextBytes), completedAt,
		models.JobStatusPending, models.JobStatusProcessing)
	if err != nil {
		return fmt.Errorf("fail job: %w", err)
	}
	return s.checkTerminalUpdate(ctx, id, tag)
}

func (s *PostgresStore) checkTerminalUpdate(ctx context.Context, id uuid.UUID, tag pgconn.CommandTag) error {
	if tag.RowsAffected() == 1 {
		return nil
	}

	var status string
	err := s.pool.QueryRow(ctx,
		`SELECT status FROM processing_jobs WHERE job_id = $1`, id).Scan(&status)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("get job status: %w", err)
	}
	if models.IsTerminalStatus(status) {
		return ErrJobTerminal
	}
	return fmt.Errorf("terminal update affected no rows for job %s in status %s", id, status)
}

func (s *PostgresStore) ListJobsByUser(ctx context.Context, userID int64, limit, offset int) ([]*models.Job, int, error) {
	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}

	var total int
	if err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM processing_jobs WHERE user_id = $1`, userID).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count jobs: %w", err)
	}

	rows, err := s.pool.Query(ctx,
		`SELECT `+jobColumns+` FROM processing_jobs
		 WHERE user_id = $1 ORDER BY created_at DESC, job_id DESC LIMIT $2 OFFSET $3`,
		userID, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*models.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan job: %w", err)
		}
		jobs = append(jobs, j)
	}
	return jobs, total, rows.Err()
}

// isDuplicateKeyError checks if a pgx error is a unique constraint violation.
func isDuplicateKeyError(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505" // unique_violation
	}
	return false
}

// truncateString truncates s to maxBytes without splitting UTF-8 runes.
func truncateString(s string, maxBytes int) string {
	if len(s) <= maxBytes {
		return s
	}
	for maxBytes > 0 && !utf8.RuneStart(s[maxBytes]) {
		maxBytes--
	}
	return s[:maxBytes]
}
