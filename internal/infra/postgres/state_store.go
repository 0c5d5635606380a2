package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/samber/mo"

	"github.com/bmccarn/paperless-knowledge-graph/internal/core/ingestion"
)

// StateStore は同期状態と文書ハッシュの永続化実装
// sync_stateは単一行（id=1）で最終同期時刻を保持します
type StateStore struct {
	pool *pgxpool.Pool
}

// NewStateStore は新しいStateStoreを作成します
func NewStateStore(pool *pgxpool.Pool) *StateStore {
	return &StateStore{pool: pool}
}

// LastSync は最終同期時刻を返します
func (s *StateStore) LastSync(ctx context.Context) (mo.Option[time.Time], error) {
	var lastSync *time.Time
	err := s.pool.QueryRow(ctx, `
		SELECT last_sync_at FROM sync_state WHERE id = 1`,
	).Scan(&lastSync)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return mo.None[time.Time](), nil
		}
		return mo.None[time.Time](), fmt.Errorf("failed to read sync state: %w", err)
	}

	if lastSync == nil {
		return mo.None[time.Time](), nil
	}
	return mo.Some(*lastSync), nil
}

// SetLastSync は最終同期時刻を記録します
func (s *StateStore) SetLastSync(ctx context.Context, t time.Time) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO sync_state (id, last_sync_at, updated_at) VALUES (1, $1, NOW())
		ON CONFLICT (id) DO UPDATE SET last_sync_at = EXCLUDED.last_sync_at, updated_at = NOW()`,
		t,
	)
	if err != nil {
		return fmt.Errorf("failed to set sync state: %w", err)
	}
	return nil
}

// ResetSync は同期状態を初期化します
func (s *StateStore) ResetSync(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE sync_state SET last_sync_at = NULL, updated_at = NOW() WHERE id = 1`,
	)
	if err != nil {
		return fmt.Errorf("failed to reset sync state: %w", err)
	}
	return nil
}

// Hash は文書の記録済みハッシュを返します
func (s *StateStore) Hash(ctx context.Context, docID int) (mo.Option[string], error) {
	var hash string
	err := s.pool.QueryRow(ctx, `
		SELECT content_hash FROM document_hashes WHERE document_id = $1`,
		int64(docID),
	).Scan(&hash)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return mo.None[string](), nil
		}
		return mo.None[string](), fmt.Errorf("failed to read document hash: %w", err)
	}

	return mo.Some(hash), nil
}

// SetHash は文書のハッシュを記録します
func (s *StateStore) SetHash(ctx context.Context, docID int, hash string) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO document_hashes (document_id, content_hash, processed_at) VALUES ($1, $2, NOW())
		ON CONFLICT (document_id) DO UPDATE SET content_hash = EXCLUDED.content_hash, processed_at = NOW()`,
		int64(docID), hash,
	)
	if err != nil {
		return fmt.Errorf("failed to set document hash: %w", err)
	}
	return nil
}

// DeleteHash は文書のハッシュを削除します
func (s *StateStore) DeleteHash(ctx context.Context, docID int) error {
	_, err := s.pool.Exec(ctx, `
		DELETE FROM document_hashes WHERE document_id = $1`,
		int64(docID),
	)
	if err != nil {
		return fmt.Errorf("failed to delete document hash: %w", err)
	}
	return nil
}

// ClearAll は全ハッシュを削除します
func (s *StateStore) ClearAll(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM document_hashes`)
	if err != nil {
		return fmt.Errorf("failed to clear document hashes: %w", err)
	}
	return nil
}

// インターフェース実装の確認
var (
	_ ingestion.SyncStateStore = (*StateStore)(nil)
	_ ingestion.HashStore      = (*StateStore)(nil)
)
