package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/apexdeliver/backend/internal/model"
	"github.com/google/uuid"
	_ "modernc.org/sqlite" // CGO-free SQLite
)

// SQLiteSubmissionRepository は SubmissionRepository の SQLite 実装。
// ローカル開発と leadctl で PostgreSQL なしに監査ログを残すために使う
type SQLiteSubmissionRepository struct {
	db  *sql.DB
	now func() time.Time
}

var _ SubmissionRepository = (*SQLiteSubmissionRepository)(nil)

// NewSQLiteSubmissionRepository opens (and if needed creates) the database at path.
func NewSQLiteSubmissionRepository(path string) (*SQLiteSubmissionRepository, error) {
	path = strings.TrimPrefix(path, "sqlite://")
	// WAL + busy timeout to avoid "database is locked"
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if err := createSubmissionTable(db); err != nil {
		db.Close()
		return nil, err
	}
	return &SQLiteSubmissionRepository{db: db, now: time.Now}, nil
}

func createSubmissionTable(db *sql.DB) error {
	_, err := db.Exec(`
	CREATE TABLE IF NOT EXISTS lead_submissions(
	  id                     TEXT PRIMARY KEY,
	  session_id             TEXT NOT NULL,
	  form_id                TEXT NOT NULL DEFAULT '',
	  source                 TEXT NOT NULL DEFAULT '',
	  email_hash             TEXT NOT NULL,
	  action                 TEXT NOT NULL CHECK (action IN ('none','created','updated')),
	  outcome                TEXT NOT NULL,
	  error_kind             TEXT NOT NULL DEFAULT '',
	  contact_id             TEXT NOT NULL DEFAULT '',
	  tags_json              TEXT NOT NULL DEFAULT '[]' CHECK (json_valid(tags_json)),
	  referrer               TEXT NOT NULL DEFAULT '',
	  utm_source             TEXT NOT NULL DEFAULT '',
	  utm_medium             TEXT NOT NULL DEFAULT '',
	  utm_campaign           TEXT NOT NULL DEFAULT '',
	  device_summary         TEXT NOT NULL DEFAULT '',
	  consent_policy_version TEXT NOT NULL DEFAULT '',
	  created_at             INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_lead_submissions_created ON lead_submissions(created_at);
	CREATE INDEX IF NOT EXISTS idx_lead_submissions_outcome ON lead_submissions(outcome);
	`)
	if err != nil {
		return fmt.Errorf("create lead_submissions table: %w", err)
	}
	return nil
}

func (r *SQLiteSubmissionRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

func (r *SQLiteSubmissionRepository) Close() error {
	return r.db.Close()
}

func (r *SQLiteSubmissionRepository) Save(ctx context.Context, rec *model.SubmissionRecord) error {
	tags := rec.Tags
	if tags == nil {
		tags = []string{}
	}
	tagsJSON, err := json.Marshal(tags)
	if err != nil {
		return fmt.Errorf("encode tags: %w", err)
	}

	id := uuid.NewString()
	createdAt := r.now().UTC()
	_, err = r.db.ExecContext(ctx,
		`INSERT INTO lead_submissions(id, session_id, form_id, source, email_hash, action, outcome,
		   error_kind, contact_id, tags_json, referrer, utm_source, utm_medium, utm_campaign,
		   device_summary, consent_policy_version, created_at)
		 VALUES(?,?,?,?,?,?,?,?,?,json(?),?,?,?,?,?,?,?)`,
		id, rec.SessionID, rec.FormID, rec.Source, rec.EmailHash, string(rec.Action), string(rec.Outcome),
		rec.ErrorKind, rec.ContactID, string(tagsJSON), rec.Referrer, rec.UTMSource, rec.UTMMedium, rec.UTMCampaign,
		rec.DeviceSummary, rec.ConsentPolicyVersion, createdAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("insert submission: %w", err)
	}
	rec.ID = id
	rec.CreatedAt = createdAt
	return nil
}

const sqliteSelectCols = `id, session_id, form_id, source, email_hash, action, outcome, error_kind, contact_id,
	tags_json, referrer, utm_source, utm_medium, utm_campaign, device_summary, consent_policy_version, created_at`

func scanSQLiteSubmission(scan func(...any) error) (*model.SubmissionRecord, error) {
	var rec model.SubmissionRecord
	var action, outcome, tagsJSON string
	var createdAt int64
	if err := scan(&rec.ID, &rec.SessionID, &rec.FormID, &rec.Source, &rec.EmailHash, &action, &outcome,
		&rec.ErrorKind, &rec.ContactID, &tagsJSON, &rec.Referrer, &rec.UTMSource, &rec.UTMMedium,
		&rec.UTMCampaign, &rec.DeviceSummary, &rec.ConsentPolicyVersion, &createdAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(tagsJSON), &rec.Tags); err != nil {
		return nil, fmt.Errorf("decode tags: %w", err)
	}
	if rec.Tags == nil {
		rec.Tags = []string{}
	}
	rec.Action = model.SubmissionAction(action)
	rec.Outcome = model.SubmissionOutcome(outcome)
	rec.CreatedAt = time.Unix(0, createdAt).UTC()
	return &rec, nil
}

func (r *SQLiteSubmissionRepository) List(ctx context.Context, opts model.SubmissionListOptions) ([]*model.SubmissionRecord, error) {
	query := `SELECT ` + sqliteSelectCols + ` FROM lead_submissions`
	var args []any
	outcome := strings.TrimSpace(opts.Outcome)
	if outcome != "" && outcome != "all" {
		query += ` WHERE outcome = ?`
		args = append(args, outcome)
	}
	query += ` ORDER BY created_at DESC, rowid DESC LIMIT ? OFFSET ?`
	args = append(args, opts.Limit, opts.Offset)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list submissions: %w", err)
	}
	defer rows.Close()

	var records []*model.SubmissionRecord
	for rows.Next() {
		rec, err := scanSQLiteSubmission(rows.Scan)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

func (r *SQLiteSubmissionRepository) FindByID(ctx context.Context, id string) (*model.SubmissionRecord, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+sqliteSelectCols+` FROM lead_submissions WHERE id = ?`, id)
	rec, err := scanSQLiteSubmission(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return rec, err
}

func (r *SQLiteSubmissionRepository) Stats(ctx context.Context) (*model.SubmissionStats, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT outcome, action, COUNT(*) FROM lead_submissions GROUP BY outcome, action`)
	if err != nil {
		return nil, fmt.Errorf("submission stats: %w", err)
	}
	defer rows.Close()

	stats := newStats()
	for rows.Next() {
		var outcome, action string
		var n int
		if err := rows.Scan(&outcome, &action, &n); err != nil {
			return nil, err
		}
		stats.add(outcome, action, n)
	}
	return stats.SubmissionStats, rows.Err()
}
