package graph

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

var (
	// ErrNodeNotFound はノードが存在しない場合のエラー
	ErrNodeNotFound = errors.New("node not found")

	// ErrStoreUnavailable はグラフストアに到達できない場合のエラー
	ErrStoreUnavailable = errors.New("graph store unavailable")
)

// Repository はグラフストアへの永続化ポートです
type Repository interface {
	// UpsertDocumentNode は文書ノードを作成または更新します
	// 文書IDで一意であり、再実行しても重複しません
	UpsertDocumentNode(ctx context.Context, node DocumentNode) (uuid.UUID, error)

	// CreateEntity は新しいエンティティを登録します
	CreateEntity(ctx context.Context, entity Entity) (uuid.UUID, error)

	// UpdateEntity は既存エンティティの内容を更新します
	UpdateEntity(ctx context.Context, entity Entity) error

	// GetEntity はIDでエンティティを取得します
	// 見つからない場合はErrNodeNotFoundを返します
	GetEntity(ctx context.Context, id uuid.UUID) (Entity, error)

	// FindEntityByName は名前または別名で大文字小文字を無視して検索します
	// 見つからない場合はErrNodeNotFoundを返します
	FindEntityByName(ctx context.Context, name string, entityType EntityType) (Entity, error)

	// ListEntitiesByType は指定種別の全エンティティを返します
	// entityTypeが空の場合は全種別を返します
	ListEntitiesByType(ctx context.Context, entityType EntityType) ([]Entity, error)

	// AddAlias はエンティティに別名を追加します（重複は無視）
	AddAlias(ctx context.Context, id uuid.UUID, alias string) error

	// AppendSourceDoc はエンティティの言及文書IDを追加します（重複は無視）
	AppendSourceDoc(ctx context.Context, id uuid.UUID, docID int) error

	// CreateRelationship は関係を作成します
	CreateRelationship(ctx context.Context, rel Relationship) error

	// GetNode はノードとその関係を取得します
	GetNode(ctx context.Context, id uuid.UUID) (NodeDetail, error)

	// Neighbors は指定ノードから指定ホップ数まで隣接を辿ります
	// maxNodesは取り込むノード総数の上限です
	Neighbors(ctx context.Context, id uuid.UUID, depth int, maxNodes int) (Neighborhood, error)

	// SearchNodes は名前の部分一致でノードを検索します
	SearchNodes(ctx context.Context, query string, nodeType string, limit int) ([]Node, error)

	// InitialGraph は可視化向けに接続数の多いノードから返します
	InitialGraph(ctx context.Context, limit int) (Neighborhood, error)

	// DeleteDocumentGraph は指定文書に由来するノード・関係を削除します
	// 他の文書からも言及されているエンティティは残します
	DeleteDocumentGraph(ctx context.Context, docID int) error

	// MergeEntities はmergedのエンティティ群をcanonicalへ統合します
	// 全ての関係はcanonicalへ付け替えられ、別名・属性は合併され、
	// 統合されたIDは履歴として記録されます。1クラスタ1トランザクションです
	MergeEntities(ctx context.Context, canonical Entity, merged []Entity) error

	// ClearAll は全ノード・関係を削除します（再構築時のみ）
	ClearAll(ctx context.Context) error

	// Counts はエンティティ・文書・関係の件数を返します
	Counts(ctx context.Context) (Counts, error)

	// Ping は接続確認を行います
	Ping(ctx context.Context) error
}
