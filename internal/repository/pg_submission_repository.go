package repository

import (
	"context"
	"errors"
	"strconv"
	"strings"

	"github.com/apexdeliver/backend/internal/model"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PgSubmissionRepository は SubmissionRepository の PostgreSQL 実装
type PgSubmissionRepository struct {
	pool *pgxpool.Pool
}

// NewPgSubmissionRepository は PgSubmissionRepository を生成する
func NewPgSubmissionRepository(pool *pgxpool.Pool) *PgSubmissionRepository {
	return &PgSubmissionRepository{pool: pool}
}

var _ SubmissionRepository = (*PgSubmissionRepository)(nil)

// Ping は DB 接続を確認する（DB インターフェース実装）
func (r *PgSubmissionRepository) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

// Close はプールを閉じる
func (r *PgSubmissionRepository) Close() error {
	r.pool.Close()
	return nil
}

const submissionSelectCols = `id, session_id, COALESCE(form_id, ''), COALESCE(source, ''), email_hash,
	action, outcome, COALESCE(error_kind, ''), COALESCE(contact_id, ''), tags,
	COALESCE(referrer, ''), COALESCE(utm_source, ''), COALESCE(utm_medium, ''), COALESCE(utm_campaign, ''),
	COALESCE(device_summary, ''), COALESCE(consent_policy_version, ''), created_at`

func scanSubmission(scan func(...any) error) (*model.SubmissionRecord, error) {
	var rec model.SubmissionRecord
	var action, outcome string
	if err := scan(&rec.ID, &rec.SessionID, &rec.FormID, &rec.Source, &rec.EmailHash,
		&action, &outcome, &rec.ErrorKind, &rec.ContactID, &rec.Tags,
		&rec.Referrer, &rec.UTMSource, &rec.UTMMedium, &rec.UTMCampaign,
		&rec.DeviceSummary, &rec.ConsentPolicyVersion, &rec.CreatedAt); err != nil {
		return nil, err
	}
	rec.Action = model.SubmissionAction(action)
	rec.Outcome = model.SubmissionOutcome(outcome)
	if rec.Tags == nil {
		rec.Tags = []string{}
	}
	return &rec, nil
}

// Save は lead_submissions に 1 行挿入し、RETURNING で ID と created_at を設定する
func (r *PgSubmissionRepository) Save(ctx context.Context, rec *model.SubmissionRecord) error {
	tags := rec.Tags
	if tags == nil {
		tags = []string{}
	}
	return r.pool.QueryRow(ctx,
		`INSERT INTO lead_submissions (session_id, form_id, source, email_hash, action, outcome,
		   error_kind, contact_id, tags, referrer, utm_source, utm_medium, utm_campaign,
		   device_summary, consent_policy_version)
		 VALUES ($1, NULLIF($2, ''), NULLIF($3, ''), $4, $5, $6,
		   NULLIF($7, ''), NULLIF($8, ''), $9, NULLIF($10, ''), NULLIF($11, ''), NULLIF($12, ''), NULLIF($13, ''),
		   NULLIF($14, ''), NULLIF($15, ''))
		 RETURNING id, created_at`,
		rec.SessionID, rec.FormID, rec.Source, rec.EmailHash, string(rec.Action), string(rec.Outcome),
		rec.ErrorKind, rec.ContactID, tags, rec.Referrer, rec.UTMSource, rec.UTMMedium, rec.UTMCampaign,
		rec.DeviceSummary, rec.ConsentPolicyVersion,
	).Scan(&rec.ID, &rec.CreatedAt)
}

// List は outcome で絞り込み、limit/offset でページングした送信記録を返す
func (r *PgSubmissionRepository) List(ctx context.Context, opts model.SubmissionListOptions) ([]*model.SubmissionRecord, error) {
	var args []any
	where := ""
	outcome := strings.TrimSpace(opts.Outcome)
	if outcome != "" && outcome != "all" {
		args = append(args, outcome)
		where = "WHERE outcome = $1"
	}
	args = append(args, opts.Limit, opts.Offset)

	query := `SELECT ` + submissionSelectCols + ` FROM lead_submissions ` + where +
		` ORDER BY created_at DESC, id DESC LIMIT $` + strconv.Itoa(len(args)-1) +
		` OFFSET $` + strconv.Itoa(len(args))

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []*model.SubmissionRecord
	for rows.Next() {
		rec, err := scanSubmission(rows.Scan)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// FindByID は ID で送信記録を取得する。UUID として不正な ID は ErrNotFound
func (r *PgSubmissionRepository) FindByID(ctx context.Context, id string) (*model.SubmissionRecord, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, ErrNotFound
	}
	row := r.pool.QueryRow(ctx, `SELECT `+submissionSelectCols+` FROM lead_submissions WHERE id = $1`, id)
	rec, err := scanSubmission(row.Scan)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return rec, err
}

// Stats は outcome と action ごとの件数を集計する
func (r *PgSubmissionRepository) Stats(ctx context.Context) (*model.SubmissionStats, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT outcome, action, COUNT(*) FROM lead_submissions GROUP BY outcome, action`)
	if err != nil {
		return nil, err
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

type statsBuilder struct {
	*model.SubmissionStats
}

func newStats() statsBuilder {
	return statsBuilder{&model.SubmissionStats{ByOutcome: map[model.SubmissionOutcome]int{}}}
}

func (s statsBuilder) add(outcome, action string, n int) {
	s.Total += n
	s.ByOutcome[model.SubmissionOutcome(outcome)] += n
	switch model.SubmissionAction(action) {
	case model.ActionCreated:
		s.Created += n
	case model.ActionUpdated:
		s.Updated += n
	}
}
