// Package models contains shared data models used across the KLibras codebase.
package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

const (
	JobStatusPending    = "pending"
	JobStatusProcessing = "processing"
	JobStatusCompleted  = "completed"
	JobStatusFailed     = "failed"
)

// IsTerminalStatus reports whether a job status admits no further transitions.
func IsTerminalStatus(status string) bool {
	return status == JobStatusCompleted || status == JobStatusFailed
}

// Job tracks one asynchronous video-recognition request. The API returns a
// job id on POST /api/v1/recognition/jobs; the client polls
// GET /api/v1/recognition/jobs/{jobID} until status is completed or failed.
type Job struct {
	ID              uuid.UUID  `db:"job_id"           json:"job_id"`
	UserID          int64      `db:"user_id"          json:"user_id"`
	ExpectedAction  string     `db:"expected_action"  json:"expected_action"`
	Status          string     `db:"status"           json:"status"`
	ActionFound     *bool      `db:"action_found"     json:"action_found,omitempty"`
	PredictedAction *string    `db:"predicted_action" json:"predicted_action,omitempty"`
	Confidence      *float64   `db:"confidence"       json:"confidence,omitempty"`
	IsMatch         *bool      `db:"is_match"         json:"is_match,omitempty"`
	ErrorMessage    *string    `db:"error_message"    json:"error_message,omitempty"`
	CreatedAt       time.Time  `db:"created_at"       json:"created_at"`
	CompletedAt     *time.Time `db:"completed_at"     json:"completed_at,omitempty"`
}

// JobView is the client-facing representation of a Job. Fields are camelCase
// and confidence is rendered as a percent string ("92.00%").
type JobView struct {
	JobID           string     `json:"jobId"`
	Status          string     `json:"status"`
	ExpectedAction  string     `json:"expectedAction"`
	ActionFound     *bool      `json:"actionFound,omitempty"`
	PredictedAction *string    `json:"predictedAction,omitempty"`
	Confidence      *string    `json:"confidence,omitempty"`
	IsMatch         *bool      `json:"isMatch,omitempty"`
	Error           *string    `json:"error,omitempty"`
	CreatedAt       time.Time  `json:"createdAt"`
	CompletedAt     *time.Time `json:"completedAt,omitempty"`
}

// View converts a Job record to its client-facing form.
func (j *Job) View() JobView {
	v := JobView{
		JobID:           j.ID.String(),
		Status:          j.Status,
		ExpectedAction:  j.ExpectedAction,
		ActionFound:     j.ActionFound,
		PredictedAction: j.PredictedAction,
		IsMatch:         j.IsMatch,
		Error:           j.ErrorMessage,
		CreatedAt:       j.CreatedAt,
		CompletedAt:     j.CompletedAt,
	}
	if j.Confidence != nil {
		pct := fmt.Sprintf("%.2f%%", *j.Confidence*100)
		v.Confidence = &pct
	}
	return v
}
