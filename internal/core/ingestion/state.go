package ingestion

import (
	"context"
	"time"

	"github.com/samber/mo"
)

// SyncStateStore は最終同期時刻の永続化ポートです
type SyncStateStore interface {
	// LastSync は最終同期時刻を返します（未同期ならNone）
	LastSync(ctx context.Context) (mo.Option[time.Time], error)

	// SetLastSync は最終同期時刻を記録します
	SetLastSync(ctx context.Context, t time.Time) error

	// ResetSync は同期状態を初期化します（再構築時）
	ResetSync(ctx context.Context) error
}

// HashStore は処理済み文書の本文ハッシュの永続化ポートです
// 同期時の変更検知に使用します
type HashStore interface {
	// Hash は文書の記録済みハッシュを返します（未処理ならNone）
	Hash(ctx context.Context, docID int) (mo.Option[string], error)

	// SetHash は文書のハッシュを記録します
	SetHash(ctx context.Context, docID int, hash string) error

	// DeleteHash は文書のハッシュを削除します
	DeleteHash(ctx context.Context, docID int) error

	// ClearAll は全ハッシュを削除します（再構築時）
	ClearAll(ctx context.Context) error
}
