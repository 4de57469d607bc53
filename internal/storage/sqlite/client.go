package sqlite

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/english-check/backend/internal/storage/models"
	"github.com/english-check/backend/pkg/logger"
)

type Client struct {
	db *sqlx.DB
}

func NewClient(dbPath string) (*Client, error) {
	if dbPath != ":memory:" {
		if dir := filepath.Dir(dbPath); dir != "" {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("failed to create database directory: %w", err)
			}
		}
	}

	db, err := sqlx.Connect("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if dbPath == ":memory:" {
		// each pooled connection would otherwise get its own empty database
		db.SetMaxOpenConns(1)
	}

	_, err = db.Exec("PRAGMA journal_mode = WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	logger.Info("SQLite client initialized", zap.String("path", dbPath))

	return &Client{db: db}, nil
}

func (c *Client) Close() error {
	return c.db.Close()
}

func (c *Client) Ping() error {
	return c.db.Ping()
}

func (c *Client) InitSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS submissions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		request_id TEXT NOT NULL,
		question TEXT NOT NULL,
		study_level TEXT,
		criteria TEXT,
		audio_name TEXT,
		audio_type TEXT,
		audio_size INTEGER,
		audio_hash TEXT,
		archive_key TEXT,
		duration_sec REAL,
		mode TEXT NOT NULL,
		http_status INTEGER NOT NULL,
		latency_ms INTEGER,
		weighted_score REAL,
		error TEXT,
		created_at TIMESTAMP NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_submissions_created ON submissions(created_at);
	CREATE INDEX IF NOT EXISTS idx_submissions_request ON submissions(request_id);
	`

	_, err := c.db.Exec(schema)
	if err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	logger.Info("Database schema initialized")
	return nil
}

func (c *Client) InsertSubmission(rec *models.SubmissionRecord) error {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}
	rec.CreatedAt = rec.CreatedAt.UTC()

	query := `
	INSERT INTO submissions (
		request_id, question, study_level, criteria, audio_name, audio_type, audio_size,
		audio_hash, archive_key, duration_sec, mode, http_status, latency_ms, weighted_score,
		error, created_at
	) VALUES (
		:request_id, :question, :study_level, :criteria, :audio_name, :audio_type, :audio_size,
		:audio_hash, :archive_key, :duration_sec, :mode, :http_status, :latency_ms, :weighted_score,
		:error, :created_at
	)`

	res, err := c.db.NamedExec(query, rec)
	if err != nil {
		return fmt.Errorf("failed to insert submission: %w", err)
	}
	if id, err := res.LastInsertId(); err == nil {
		rec.ID = id
	}
	return nil
}

func (c *Client) ListSubmissions(limit int) ([]models.SubmissionRecord, error) {
	if limit <= 0 {
		limit = 50
	}

	records := []models.SubmissionRecord{}
	err := c.db.Select(&records, `
	SELECT id, request_id, question, COALESCE(study_level, '') AS study_level,
		COALESCE(criteria, '') AS criteria, COALESCE(audio_name, '') AS audio_name,
		COALESCE(audio_type, '') AS audio_type, COALESCE(audio_size, 0) AS audio_size,
		COALESCE(audio_hash, '') AS audio_hash, COALESCE(archive_key, '') AS archive_key,
		duration_sec, mode, http_status, COALESCE(latency_ms, 0) AS latency_ms,
		weighted_score, COALESCE(error, '') AS error, created_at
	FROM submissions
	ORDER BY created_at DESC, id DESC
	LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list submissions: %w", err)
	}
	return records, nil
}

func (c *Client) GetByRequestID(requestID string) (*models.SubmissionRecord, error) {
	var rec models.SubmissionRecord
	err := c.db.Get(&rec, `
	SELECT id, request_id, question, COALESCE(study_level, '') AS study_level,
		COALESCE(criteria, '') AS criteria, COALESCE(audio_name, '') AS audio_name,
		COALESCE(audio_type, '') AS audio_type, COALESCE(audio_size, 0) AS audio_size,
		COALESCE(audio_hash, '') AS audio_hash, COALESCE(archive_key, '') AS archive_key,
		duration_sec, mode, http_status, COALESCE(latency_ms, 0) AS latency_ms,
		weighted_score, COALESCE(error, '') AS error, created_at
	FROM submissions WHERE request_id = ?
	ORDER BY id DESC LIMIT 1`, requestID)
	if err != nil {
		return nil, fmt.Errorf("failed to get submission: %w", err)
	}
	return &rec, nil
}

func (c *Client) PruneBefore(cutoff time.Time) (int64, error) {
	res, err := c.db.Exec("DELETE FROM submissions WHERE created_at < ?", cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to prune submissions: %w", err)
	}
	n, _ := res.RowsAffected()
	if n > 0 {
		logger.Info("Pruned submission history", zap.Int64("removed", n))
	}
	return n, nil
}
