package postgres

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
)

// schemaSQL はグラフ・埋め込み・同期状態のテーブル定義
// %dは埋め込みベクトルの次元数
const schemaSQL = `
CREATE EXTENSION IF NOT EXISTS vector;

CREATE TABLE IF NOT EXISTS graph_nodes (
    uuid UUID PRIMARY KEY,
    kind TEXT NOT NULL,
    name TEXT NOT NULL,
    entity_type TEXT,
    doc_id BIGINT,
    doc_type TEXT,
    aliases TEXT[] NOT NULL DEFAULT '{}',
    description TEXT NOT NULL DEFAULT '',
    confidence DOUBLE PRECISION NOT NULL DEFAULT 0,
    source_doc_ids BIGINT[] NOT NULL DEFAULT '{}',
    properties JSONB NOT NULL DEFAULT '{}',
    merged_from UUID[] NOT NULL DEFAULT '{}',
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_graph_nodes_doc_id
    ON graph_nodes(doc_id) WHERE kind = 'document';
CREATE INDEX IF NOT EXISTS idx_graph_nodes_entity_type ON graph_nodes(entity_type);
CREATE INDEX IF NOT EXISTS idx_graph_nodes_name_lower ON graph_nodes(LOWER(name));

CREATE TABLE IF NOT EXISTS graph_edges (
    id BIGSERIAL PRIMARY KEY,
    from_uuid UUID NOT NULL REFERENCES graph_nodes(uuid) ON DELETE CASCADE,
    to_uuid UUID NOT NULL REFERENCES graph_nodes(uuid) ON DELETE CASCADE,
    rel_type TEXT NOT NULL,
    confidence DOUBLE PRECISION NOT NULL DEFAULT 0,
    source_doc_id BIGINT,
    implied BOOLEAN NOT NULL DEFAULT FALSE,
    properties JSONB NOT NULL DEFAULT '{}'
);

CREATE INDEX IF NOT EXISTS idx_graph_edges_from ON graph_edges(from_uuid);
CREATE INDEX IF NOT EXISTS idx_graph_edges_to ON graph_edges(to_uuid);
CREATE INDEX IF NOT EXISTS idx_graph_edges_source_doc ON graph_edges(source_doc_id);

CREATE TABLE IF NOT EXISTS document_embeddings (
    id SERIAL PRIMARY KEY,
    document_id BIGINT NOT NULL,
    chunk_index INTEGER NOT NULL DEFAULT 0,
    content TEXT NOT NULL,
    embedding vector(%d),
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    UNIQUE(document_id, chunk_index)
);

CREATE INDEX IF NOT EXISTS idx_doc_embeddings_doc_id ON document_embeddings(document_id);

CREATE TABLE IF NOT EXISTS entity_embeddings (
    entity_uuid UUID PRIMARY KEY,
    name TEXT NOT NULL,
    embedding vector(%d),
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS sync_state (
    id INTEGER PRIMARY KEY DEFAULT 1,
    last_sync_at TIMESTAMPTZ,
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

INSERT INTO sync_state (id, last_sync_at) VALUES (1, NULL)
ON CONFLICT (id) DO NOTHING;

CREATE TABLE IF NOT EXISTS document_hashes (
    document_id BIGINT PRIMARY KEY,
    content_hash VARCHAR(64) NOT NULL,
    processed_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
`

// trgmSQL はキーワード検索用のpg_trgm拡張とGINインデックス
// 拡張が使えない環境でも起動は継続します（キーワード検索は無効）
const trgmSQL = `
CREATE EXTENSION IF NOT EXISTS pg_trgm;
CREATE INDEX IF NOT EXISTS idx_content_trgm ON document_embeddings USING GIN (content gin_trgm_ops);
CREATE INDEX IF NOT EXISTS idx_node_name_trgm ON graph_nodes USING GIN (name gin_trgm_ops);
`

// EnsureSchema はスキーマを初期化します
// 接続プール作成前に単独接続で実行します（vector拡張の作成が先行するため）
func EnsureSchema(ctx context.Context, dsn string, embeddingDimension int, logger *slog.Logger) error {
	conn, err := pgx.Connect(ctx, dsn)
	if err != nil {
		return fmt.Errorf("failed to connect for schema init: %w", err)
	}
	defer conn.Close(ctx)

	if _, err := conn.Exec(ctx, fmt.Sprintf(schemaSQL, embeddingDimension, embeddingDimension)); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	if _, err := conn.Exec(ctx, trgmSQL); err != nil {
		logger.Warn("pg_trgmの初期化に失敗しました。キーワード検索は利用できません", "error", err)
	}

	logger.Info("データベーススキーマを初期化しました", "embedding_dimension", embeddingDimension)
	return nil
}
