package repository

import "errors"

var (
	// ErrNotFound は指定 ID の送信記録が存在しない場合のエラー
	ErrNotFound = errors.New("submission not found")
	// ErrUnsupportedDriver は database.driver が postgres / sqlite 以外の場合のエラー
	ErrUnsupportedDriver = errors.New("unsupported database driver")
)
