package postgres

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"github.com/bmccarn/paperless-knowledge-graph/internal/core/vector"
)

// VectorStore はpgvectorを使用した埋め込みストア実装
type VectorStore struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewVectorStore は新しいVectorStoreを作成します
func NewVectorStore(pool *pgxpool.Pool, logger *slog.Logger) *VectorStore {
	return &VectorStore{pool: pool, logger: logger}
}

// StoreChunk は文書断片と埋め込みを保存します
func (s *VectorStore) StoreChunk(ctx context.Context, chunk vector.Chunk, embedding []float32) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO document_embeddings (document_id, chunk_index, content, embedding)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (document_id, chunk_index)
		DO UPDATE SET content = EXCLUDED.content, embedding = EXCLUDED.embedding, created_at = NOW()`,
		int64(chunk.DocumentID), chunk.ChunkIndex, chunk.Content, pgvector.NewVector(embedding),
	)
	if err != nil {
		return fmt.Errorf("failed to store chunk: %w", err)
	}
	return nil
}

// DeleteDocument は指定文書の全断片を削除します
func (s *VectorStore) DeleteDocument(ctx context.Context, docID int) error {
	_, err := s.pool.Exec(ctx, `
		DELETE FROM document_embeddings WHERE document_id = $1`,
		int64(docID),
	)
	if err != nil {
		return fmt.Errorf("failed to delete document chunks: %w", err)
	}
	return nil
}

// Search はコサイン類似度による近傍検索を行います
func (s *VectorStore) Search(ctx context.Context, embedding []float32, limit int) ([]vector.ChunkHit, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT document_id, chunk_index, content, 1 - (embedding <=> $1) AS similarity
		FROM document_embeddings
		WHERE embedding IS NOT NULL
		ORDER BY embedding <=> $1
		LIMIT $2`,
		pgvector.NewVector(embedding), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to search chunks: %w", err)
	}
	defer rows.Close()

	return collectChunkHits(rows)
}

// KeywordSearch はトライグラム類似度によるキーワード検索を行います
func (s *VectorStore) KeywordSearch(ctx context.Context, query string, limit int) ([]vector.ChunkHit, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT document_id, chunk_index, content, similarity(content, $1) AS score
		FROM document_embeddings
		WHERE content % $1 OR content ILIKE '%' || $2 || '%'
		ORDER BY score DESC
		LIMIT $3`,
		query, escapeLike(query), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to keyword search: %w", err)
	}
	defer rows.Close()

	return collectChunkHits(rows)
}

// StoreEntityEmbedding はエンティティの埋め込みを保存します
func (s *VectorStore) StoreEntityEmbedding(ctx context.Context, entityID uuid.UUID, name string, embedding []float32) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO entity_embeddings (entity_uuid, name, embedding)
		VALUES ($1, $2, $3)
		ON CONFLICT (entity_uuid)
		DO UPDATE SET name = EXCLUDED.name, embedding = EXCLUDED.embedding, created_at = NOW()`,
		entityID, name, pgvector.NewVector(embedding),
	)
	if err != nil {
		return fmt.Errorf("failed to store entity embedding: %w", err)
	}
	return nil
}

// SearchEntities はエンティティ埋め込みの近傍検索を行います
func (s *VectorStore) SearchEntities(ctx context.Context, embedding []float32, limit int) ([]vector.EntityHit, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT entity_uuid, name, 1 - (embedding <=> $1) AS similarity
		FROM entity_embeddings
		WHERE embedding IS NOT NULL
		ORDER BY embedding <=> $1
		LIMIT $2`,
		pgvector.NewVector(embedding), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to search entities: %w", err)
	}
	defer rows.Close()

	var hits []vector.EntityHit
	for rows.Next() {
		var hit vector.EntityHit
		if err := rows.Scan(&hit.EntityID, &hit.Name, &hit.Score); err != nil {
			return nil, fmt.Errorf("failed to scan entity hit: %w", err)
		}
		hits = append(hits, hit)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate entity hits: %w", err)
	}

	return hits, nil
}

// DeleteEntityEmbedding はエンティティの埋め込みを削除します
func (s *VectorStore) DeleteEntityEmbedding(ctx context.Context, entityID uuid.UUID) error {
	_, err := s.pool.Exec(ctx, `
		DELETE FROM entity_embeddings WHERE entity_uuid = $1`,
		entityID,
	)
	if err != nil {
		return fmt.Errorf("failed to delete entity embedding: %w", err)
	}
	return nil
}

// ClearAll は全埋め込みを削除します
func (s *VectorStore) ClearAll(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM document_embeddings`); err != nil {
		return fmt.Errorf("failed to clear document embeddings: %w", err)
	}
	if _, err := s.pool.Exec(ctx, `DELETE FROM entity_embeddings`); err != nil {
		return fmt.Errorf("failed to clear entity embeddings: %w", err)
	}
	return nil
}

// Stats は保存件数の統計を返します
func (s *VectorStore) Stats(ctx context.Context) (vector.Stats, error) {
	var stats vector.Stats
	err := s.pool.QueryRow(ctx, `
		SELECT
			(SELECT COUNT(*) FROM document_embeddings),
			(SELECT COUNT(*) FROM entity_embeddings),
			(SELECT COUNT(DISTINCT document_id) FROM document_embeddings)`,
	).Scan(&stats.DocumentChunks, &stats.EntityEmbeddings, &stats.DocsWithEmbeddings)
	if err != nil {
		return vector.Stats{}, fmt.Errorf("failed to count embeddings: %w", err)
	}
	return stats, nil
}

// Ping は接続確認を行います
func (s *VectorStore) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("%w: %w", vector.ErrStoreUnavailable, err)
	}
	return nil
}

func collectChunkHits(rows pgx.Rows) ([]vector.ChunkHit, error) {
	var hits []vector.ChunkHit
	for rows.Next() {
		var hit vector.ChunkHit
		var docID int64
		if err := rows.Scan(&docID, &hit.ChunkIndex, &hit.Content, &hit.Score); err != nil {
			return nil, fmt.Errorf("failed to scan chunk hit: %w", err)
		}
		hit.DocumentID = int(docID)
		hits = append(hits, hit)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate chunk hits: %w", err)
	}
	return hits, nil
}

// インターフェース実装の確認
var _ vector.Store = (*VectorStore)(nil)
