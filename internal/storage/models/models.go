package models

import (
	"database/sql"
	"encoding/json"
	"time"
)

type JobStatus string

const (
	JobPending   JobStatus = "pending"
	JobRunning   JobStatus = "running"
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
)

func (s JobStatus) Terminal() bool {
	return s == JobCompleted || s == JobFailed
}

// Job tracks one asynchronous submission. Result holds the relayed webhook
// payload once completed; StatusCode is the HTTP status the status endpoint
// answers with.
type Job struct {
	ID         string          `json:"id"`
	Status     JobStatus       `json:"status"`
	StatusCode int             `json:"statusCode,omitempty"`
	Result     json.RawMessage `json:"result,omitempty"`
	Error      string          `json:"error,omitempty"`
	Details    string          `json:"details,omitempty"`
	DedupKey   string          `json:"dedupKey,omitempty"`
	Question   string          `json:"question,omitempty"`
	StudyLevel string          `json:"studyLevel,omitempty"`
	Attempts   int             `json:"attempts"`
	CreatedAt  time.Time       `json:"createdAt"`
	UpdatedAt  time.Time       `json:"updatedAt"`
}

type SubmissionRecord struct {
	ID            int64           `db:"id" json:"id"`
	RequestID     string          `db:"request_id" json:"requestId"`
	Question      string          `db:"question" json:"question"`
	StudyLevel    string          `db:"study_level" json:"studyLevel"`
	Criteria      string          `db:"criteria" json:"criteria"`
	AudioName     string          `db:"audio_name" json:"audioName"`
	AudioType     string          `db:"audio_type" json:"audioType"`
	AudioSize     int64           `db:"audio_size" json:"audioSize"`
	AudioHash     string          `db:"audio_hash" json:"audioHash"`
	ArchiveKey    string          `db:"archive_key" json:"archiveKey,omitempty"`
	DurationSec   sql.NullFloat64 `db:"duration_sec" json:"-"`
	Mode          string          `db:"mode" json:"mode"`
	HTTPStatus    int             `db:"http_status" json:"httpStatus"`
	LatencyMS     int64           `db:"latency_ms" json:"latencyMs"`
	WeightedScore sql.NullFloat64 `db:"weighted_score" json:"-"`
	Error         string          `db:"error" json:"error,omitempty"`
	CreatedAt     time.Time       `db:"created_at" json:"createdAt"`
}
