package vector

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

// ErrStoreUnavailable はベクトルストアに到達できない場合のエラー
var ErrStoreUnavailable = errors.New("vector store unavailable")

// Chunk は文書本文の1断片
type Chunk struct {
	DocumentID int
	ChunkIndex int
	Content    string
}

// ChunkHit はベクトル・キーワード検索のヒット
type ChunkHit struct {
	DocumentID int     `json:"document_id"`
	ChunkIndex int     `json:"chunk_index"`
	Content    string  `json:"content"`
	Score      float64 `json:"similarity"`
}

// EntityHit はエンティティ埋め込み検索のヒット
type EntityHit struct {
	EntityID uuid.UUID `json:"entity_id"`
	Name     string    `json:"name"`
	Score    float64   `json:"similarity"`
}

// Stats は埋め込みストアの統計
type Stats struct {
	DocumentChunks     int `json:"document_chunks"`
	EntityEmbeddings   int `json:"entity_embeddings"`
	DocsWithEmbeddings int `json:"docs_with_embeddings"`
}

// Store は埋め込みベクトルの永続化と近傍検索のポートです
type Store interface {
	// StoreChunk は文書断片と埋め込みを保存します
	// 同じ(document_id, chunk_index)への書き込みは置き換えです
	StoreChunk(ctx context.Context, chunk Chunk, embedding []float32) error

	// DeleteDocument は指定文書の全断片を削除します
	DeleteDocument(ctx context.Context, docID int) error

	// Search はコサイン類似度による近傍検索を行います
	Search(ctx context.Context, embedding []float32, limit int) ([]ChunkHit, error)

	// KeywordSearch はトライグラム類似度によるキーワード検索を行います
	KeywordSearch(ctx context.Context, query string, limit int) ([]ChunkHit, error)

	// StoreEntityEmbedding はエンティティの埋め込みを保存します
	StoreEntityEmbedding(ctx context.Context, entityID uuid.UUID, name string, embedding []float32) error

	// SearchEntities はエンティティ埋め込みの近傍検索を行います
	SearchEntities(ctx context.Context, embedding []float32, limit int) ([]EntityHit, error)

	// DeleteEntityEmbedding はエンティティの埋め込みを削除します
	DeleteEntityEmbedding(ctx context.Context, entityID uuid.UUID) error

	// ClearAll は全埋め込みを削除します（再構築時のみ）
	ClearAll(ctx context.Context) error

	// Stats は保存件数の統計を返します
	Stats(ctx context.Context) (Stats, error)

	// Ping は接続確認を行います
	Ping(ctx context.Context) error
}
