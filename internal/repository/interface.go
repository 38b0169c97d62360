package repository

import (
	"context"

	"github.com/apexdeliver/backend/internal/model"
)

// DB は DB 接続の生存確認を行うインターフェース
type DB interface {
	Ping(ctx context.Context) error
}

// SubmissionRepository は送信監査ログ永続化のインターフェース
type SubmissionRepository interface {
	DB
	// Save は送信記録を保存し、ID と CreatedAt を設定する
	Save(ctx context.Context, rec *model.SubmissionRecord) error
	// List は新しい順に送信記録を返す
	List(ctx context.Context, opts model.SubmissionListOptions) ([]*model.SubmissionRecord, error)
	// FindByID は ID で送信記録を取得する。存在しない場合は ErrNotFound
	FindByID(ctx context.Context, id string) (*model.SubmissionRecord, error)
	// Stats は結果ごとの件数を集計する
	Stats(ctx context.Context) (*model.SubmissionStats, error)
	Close() error
}
