package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/bmccarn/paperless-knowledge-graph/internal/core/graph"
)

// GraphRepository はPostgreSQLを使用したグラフストア実装
// ノードと辺をリレーショナル表現で保持し、近傍展開はGo側で幅優先探索します
type GraphRepository struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewGraphRepository は新しいGraphRepositoryを作成します
func NewGraphRepository(pool *pgxpool.Pool, logger *slog.Logger) *GraphRepository {
	return &GraphRepository{pool: pool, logger: logger}
}

const entityColumns = `uuid, name, COALESCE(entity_type, ''), aliases, description, confidence, source_doc_ids, properties, created_at`

// maxFanoutPerNode は近傍展開で1ノードあたり取り込む隣接ノード数の上限
const maxFanoutPerNode = 50

// hopExpander は幅優先探索の1ホップ分の取り込みを管理します
// 全体のノード予算に加えて、フロンティアの各ノードが広げられる
// 隣接数にも上限を設け、ハブノード1つが予算を食い潰すのを防ぎます
type hopExpander struct {
	visited    map[uuid.UUID]bool
	inFrontier map[uuid.UUID]bool
	fanout     map[uuid.UUID]int
	next       []uuid.UUID
	maxNodes   int
}

func newHopExpander(visited map[uuid.UUID]bool, frontier []uuid.UUID, maxNodes int) *hopExpander {
	inFrontier := make(map[uuid.UUID]bool, len(frontier))
	for _, f := range frontier {
		inFrontier[f] = true
	}
	return &hopExpander{
		visited:    visited,
		inFrontier: inFrontier,
		fanout:     make(map[uuid.UUID]int, len(frontier)),
		maxNodes:   maxNodes,
	}
}

// admit は辺の両端を検査し、予算内なら次のフロンティアに加えます
func (e *hopExpander) admit(from, to uuid.UUID) {
	source := from
	if !e.inFrontier[source] {
		source = to
	}
	if e.fanout[source] >= maxFanoutPerNode {
		return
	}
	for _, candidate := range []uuid.UUID{from, to} {
		if !e.visited[candidate] && len(e.visited) < e.maxNodes {
			e.visited[candidate] = true
			e.next = append(e.next, candidate)
			e.fanout[source]++
		}
	}
}

// UpsertDocumentNode は文書ノードを作成または更新します
func (r *GraphRepository) UpsertDocumentNode(ctx context.Context, node graph.DocumentNode) (uuid.UUID, error) {
	id := node.ID
	if id == uuid.Nil {
		id = uuid.New()
	}
	createdAt := node.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	var result uuid.UUID
	err := r.pool.QueryRow(ctx, `
		INSERT INTO graph_nodes (uuid, kind, name, doc_id, doc_type, created_at)
		VALUES ($1, 'document', $2, $3, $4, $5)
		ON CONFLICT (doc_id) WHERE kind = 'document'
		DO UPDATE SET name = EXCLUDED.name, doc_type = EXCLUDED.doc_type
		RETURNING uuid`,
		id, node.Title, node.DocID, node.DocType, createdAt,
	).Scan(&result)
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to upsert document node: %w", err)
	}

	return result, nil
}

// CreateEntity は新しいエンティティを登録します
func (r *GraphRepository) CreateEntity(ctx context.Context, entity graph.Entity) (uuid.UUID, error) {
	id := entity.ID
	if id == uuid.Nil {
		id = uuid.New()
	}
	createdAt := entity.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	_, err := r.pool.Exec(ctx, `
		INSERT INTO graph_nodes
			(uuid, kind, name, entity_type, aliases, description, confidence, source_doc_ids, properties, created_at)
		VALUES ($1, 'entity', $2, $3, $4, $5, $6, $7, $8, $9)`,
		id, entity.Name, string(entity.Type),
		nonNilStrings(entity.Aliases), entity.Description, entity.Confidence,
		nonNilInts(entity.SourceDocIDs), nonNilProps(entity.Properties), createdAt,
	)
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to create entity: %w", err)
	}

	return id, nil
}

// UpdateEntity は既存エンティティの内容を更新します
func (r *GraphRepository) UpdateEntity(ctx context.Context, entity graph.Entity) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE graph_nodes
		SET name = $2, aliases = $3, description = $4, confidence = $5,
		    source_doc_ids = $6, properties = $7
		WHERE uuid = $1 AND kind = 'entity'`,
		entity.ID, entity.Name,
		nonNilStrings(entity.Aliases), entity.Description, entity.Confidence,
		nonNilInts(entity.SourceDocIDs), nonNilProps(entity.Properties),
	)
	if err != nil {
		return fmt.Errorf("failed to update entity: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return graph.ErrNodeNotFound
	}

	return nil
}

// GetEntity はIDでエンティティを取得します
func (r *GraphRepository) GetEntity(ctx context.Context, id uuid.UUID) (graph.Entity, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+entityColumns+`
		FROM graph_nodes
		WHERE uuid = $1 AND kind = 'entity'`,
		id,
	)

	entity, err := scanEntity(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return graph.Entity{}, graph.ErrNodeNotFound
		}
		return graph.Entity{}, fmt.Errorf("failed to get entity: %w", err)
	}

	return entity, nil
}

// FindEntityByName は名前または別名で大文字小文字を無視して検索します
func (r *GraphRepository) FindEntityByName(ctx context.Context, name string, entityType graph.EntityType) (graph.Entity, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+entityColumns+`
		FROM graph_nodes
		WHERE kind = 'entity' AND entity_type = $2
		  AND (LOWER(name) = LOWER($1)
		       OR EXISTS (SELECT 1 FROM unnest(aliases) a WHERE LOWER(a) = LOWER($1)))
		ORDER BY created_at
		LIMIT 1`,
		name, string(entityType),
	)

	entity, err := scanEntity(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return graph.Entity{}, graph.ErrNodeNotFound
		}
		return graph.Entity{}, fmt.Errorf("failed to find entity by name: %w", err)
	}

	return entity, nil
}

// ListEntitiesByType は指定種別の全エンティティを返します
func (r *GraphRepository) ListEntitiesByType(ctx context.Context, entityType graph.EntityType) ([]graph.Entity, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+entityColumns+`
		FROM graph_nodes
		WHERE kind = 'entity' AND ($1 = '' OR entity_type = $1)
		ORDER BY created_at`,
		string(entityType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list entities: %w", err)
	}
	defer rows.Close()

	var entities []graph.Entity
	for rows.Next() {
		entity, err := scanEntity(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan entity: %w", err)
		}
		entities = append(entities, entity)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate entities: %w", err)
	}

	return entities, nil
}

// AddAlias はエンティティに別名を追加します
func (r *GraphRepository) AddAlias(ctx context.Context, id uuid.UUID, alias string) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE graph_nodes
		SET aliases = CASE WHEN $2 = ANY(aliases) THEN aliases ELSE array_append(aliases, $2) END
		WHERE uuid = $1`,
		id, alias,
	)
	if err != nil {
		return fmt.Errorf("failed to add alias: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return graph.ErrNodeNotFound
	}

	return nil
}

// AppendSourceDoc はエンティティの言及文書IDを追加します
func (r *GraphRepository) AppendSourceDoc(ctx context.Context, id uuid.UUID, docID int) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE graph_nodes
		SET source_doc_ids = CASE WHEN $2 = ANY(source_doc_ids) THEN source_doc_ids ELSE array_append(source_doc_ids, $2) END
		WHERE uuid = $1`,
		id, int64(docID),
	)
	if err != nil {
		return fmt.Errorf("failed to append source doc: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return graph.ErrNodeNotFound
	}

	return nil
}

// CreateRelationship は関係を作成します
// 同一文書由来の同種の関係は重複登録しません
func (r *GraphRepository) CreateRelationship(ctx context.Context, rel graph.Relationship) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO graph_edges (from_uuid, to_uuid, rel_type, confidence, source_doc_id, implied, properties)
		SELECT $1, $2, $3, $4, $5, $6, $7
		WHERE NOT EXISTS (
			SELECT 1 FROM graph_edges
			WHERE from_uuid = $1 AND to_uuid = $2 AND rel_type = $3 AND source_doc_id = $5
		)`,
		rel.FromID, rel.ToID, rel.Type, rel.Confidence,
		int64(rel.SourceDocID), rel.Implied, nonNilProps(rel.Properties),
	)
	if err != nil {
		return fmt.Errorf("failed to create relationship: %w", err)
	}

	return nil
}

// GetNode はノードとその関係を取得します
func (r *GraphRepository) GetNode(ctx context.Context, id uuid.UUID) (graph.NodeDetail, error) {
	node, err := r.loadNode(ctx, id)
	if err != nil {
		return graph.NodeDetail{}, err
	}

	rows, err := r.pool.Query(ctx, `
		SELECT e.rel_type, e.confidence, e.implied,
		       CASE WHEN e.from_uuid = $1 THEN 'out' ELSE 'in' END,
		       n.uuid, n.name, n.kind, COALESCE(n.entity_type, ''), n.doc_id, COALESCE(n.doc_type, ''), n.properties
		FROM graph_edges e
		JOIN graph_nodes n ON n.uuid = CASE WHEN e.from_uuid = $1 THEN e.to_uuid ELSE e.from_uuid END
		WHERE e.from_uuid = $1 OR e.to_uuid = $1`,
		id,
	)
	if err != nil {
		return graph.NodeDetail{}, fmt.Errorf("failed to query relationships: %w", err)
	}
	defer rows.Close()

	detail := graph.NodeDetail{Node: node}
	for rows.Next() {
		var rel graph.RelationshipDetail
		var kind, docType string
		var docID *int64
		var props map[string]any
		if err := rows.Scan(
			&rel.Type, &rel.Confidence, &rel.Implied, &rel.Direction,
			&rel.Neighbor.ID, &rel.Neighbor.Name, &kind, &rel.Neighbor.Type, &docID, &docType, &props,
		); err != nil {
			return graph.NodeDetail{}, fmt.Errorf("failed to scan relationship: %w", err)
		}
		rel.Neighbor = finishNode(rel.Neighbor, kind, docID, docType, props)
		detail.Relationships = append(detail.Relationships, rel)
	}
	if err := rows.Err(); err != nil {
		return graph.NodeDetail{}, fmt.Errorf("failed to iterate relationships: %w", err)
	}

	return detail, nil
}

// Neighbors は指定ノードから指定ホップ数まで隣接を辿ります
// 幅優先で広げ、取り込むノード数がmaxNodesに達したら打ち切ります
func (r *GraphRepository) Neighbors(ctx context.Context, id uuid.UUID, depth int, maxNodes int) (graph.Neighborhood, error) {
	if _, err := r.loadNode(ctx, id); err != nil {
		return graph.Neighborhood{}, err
	}

	visited := map[uuid.UUID]bool{id: true}
	frontier := []uuid.UUID{id}

	for hop := 0; hop < depth && len(frontier) > 0 && len(visited) < maxNodes; hop++ {
		rows, err := r.pool.Query(ctx, `
			SELECT from_uuid, to_uuid
			FROM graph_edges
			WHERE from_uuid = ANY($1) OR to_uuid = ANY($1)`,
			frontier,
		)
		if err != nil {
			return graph.Neighborhood{}, fmt.Errorf("failed to expand neighbors: %w", err)
		}

		expander := newHopExpander(visited, frontier, maxNodes)
		for rows.Next() {
			var from, to uuid.UUID
			if err := rows.Scan(&from, &to); err != nil {
				rows.Close()
				return graph.Neighborhood{}, fmt.Errorf("failed to scan edge: %w", err)
			}
			expander.admit(from, to)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return graph.Neighborhood{}, fmt.Errorf("failed to iterate edges: %w", err)
		}

		frontier = expander.next
	}

	ids := make([]uuid.UUID, 0, len(visited))
	for nodeID := range visited {
		ids = append(ids, nodeID)
	}

	return r.loadSubgraph(ctx, ids)
}

// SearchNodes は名前の部分一致でノードを検索します
func (r *GraphRepository) SearchNodes(ctx context.Context, query string, nodeType string, limit int) ([]graph.Node, error) {
	kindFilter := ""
	typeFilter := ""
	switch nodeType {
	case "":
	case "document", "Document":
		kindFilter = "document"
	default:
		typeFilter = nodeType
	}

	rows, err := r.pool.Query(ctx, `
		SELECT uuid, name, kind, COALESCE(entity_type, ''), doc_id, COALESCE(doc_type, ''), properties
		FROM graph_nodes
		WHERE (name ILIKE '%' || $1 || '%'
		       OR EXISTS (SELECT 1 FROM unnest(aliases) a WHERE a ILIKE '%' || $1 || '%'))
		  AND ($2 = '' OR kind = $2)
		  AND ($3 = '' OR entity_type = $3)
		ORDER BY (LOWER(name) = LOWER($4)) DESC, LENGTH(name)
		LIMIT $5`,
		escapeLike(query), kindFilter, typeFilter, query, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to search nodes: %w", err)
	}
	defer rows.Close()

	return collectNodes(rows)
}

// InitialGraph は可視化向けに接続数の多いノードから返します
func (r *GraphRepository) InitialGraph(ctx context.Context, limit int) (graph.Neighborhood, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT n.uuid
		FROM graph_nodes n
		LEFT JOIN graph_edges e ON e.from_uuid = n.uuid OR e.to_uuid = n.uuid
		GROUP BY n.uuid
		ORDER BY COUNT(e.id) DESC
		LIMIT $1`,
		limit,
	)
	if err != nil {
		return graph.Neighborhood{}, fmt.Errorf("failed to query initial graph: %w", err)
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return graph.Neighborhood{}, fmt.Errorf("failed to scan node id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return graph.Neighborhood{}, fmt.Errorf("failed to iterate node ids: %w", err)
	}

	return r.loadSubgraph(ctx, ids)
}

// DeleteDocumentGraph は指定文書に由来するノード・関係を削除します
func (r *GraphRepository) DeleteDocumentGraph(ctx context.Context, docID int) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM graph_edges WHERE source_doc_id = $1`, int64(docID)); err != nil {
		return fmt.Errorf("failed to delete document edges: %w", err)
	}

	if _, err := tx.Exec(ctx, `
		UPDATE graph_nodes
		SET source_doc_ids = array_remove(source_doc_ids, $1::bigint)
		WHERE kind = 'entity' AND $1 = ANY(source_doc_ids)`,
		int64(docID),
	); err != nil {
		return fmt.Errorf("failed to detach entities: %w", err)
	}

	// この文書にしか現れないエンティティは孤児になるため削除
	if _, err := tx.Exec(ctx, `
		DELETE FROM graph_nodes
		WHERE kind = 'entity' AND source_doc_ids = '{}'`,
	); err != nil {
		return fmt.Errorf("failed to prune orphan entities: %w", err)
	}

	if _, err := tx.Exec(ctx, `
		DELETE FROM graph_nodes WHERE kind = 'document' AND doc_id = $1`,
		int64(docID),
	); err != nil {
		return fmt.Errorf("failed to delete document node: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit document deletion: %w", err)
	}

	return nil
}

// MergeEntities はmergedのエンティティ群をcanonicalへ統合します
func (r *GraphRepository) MergeEntities(ctx context.Context, canonical graph.Entity, merged []graph.Entity) error {
	if len(merged) == 0 {
		return nil
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	mergedIDs := make([]uuid.UUID, 0, len(merged))
	aliases := stringSet(canonical.Aliases)
	sourceDocs := intSet(canonical.SourceDocIDs)
	properties := map[string]any{}
	description := canonical.Description
	confidence := canonical.Confidence

	for _, m := range merged {
		mergedIDs = append(mergedIDs, m.ID)
		aliases.add(m.Name)
		for _, a := range m.Aliases {
			aliases.add(a)
		}
		for _, d := range m.SourceDocIDs {
			sourceDocs.add(d)
		}
		for k, v := range m.Properties {
			properties[k] = v
		}
		if len(m.Description) > len(description) {
			description = m.Description
		}
		if m.Confidence > confidence {
			confidence = m.Confidence
		}
	}
	// 正準側の属性を優先
	for k, v := range canonical.Properties {
		properties[k] = v
	}
	aliases.remove(canonical.Name)

	// 関係の付け替え
	if _, err := tx.Exec(ctx, `
		UPDATE graph_edges SET from_uuid = $1 WHERE from_uuid = ANY($2)`,
		canonical.ID, mergedIDs,
	); err != nil {
		return fmt.Errorf("failed to redirect outgoing edges: %w", err)
	}
	if _, err := tx.Exec(ctx, `
		UPDATE graph_edges SET to_uuid = $1 WHERE to_uuid = ANY($2)`,
		canonical.ID, mergedIDs,
	); err != nil {
		return fmt.Errorf("failed to redirect incoming edges: %w", err)
	}
	// 付け替えで生じた自己ループは除去
	if _, err := tx.Exec(ctx, `
		DELETE FROM graph_edges WHERE from_uuid = $1 AND to_uuid = $1`,
		canonical.ID,
	); err != nil {
		return fmt.Errorf("failed to remove self loops: %w", err)
	}

	tag, err := tx.Exec(ctx, `
		UPDATE graph_nodes
		SET name = $2, aliases = $3, description = $4, confidence = $5,
		    source_doc_ids = $6, properties = $7,
		    merged_from = merged_from || $8::uuid[]
		WHERE uuid = $1 AND kind = 'entity'`,
		canonical.ID, canonical.Name, aliases.sorted(), description, confidence,
		sourceDocs.sorted(), nonNilProps(properties), mergedIDs,
	)
	if err != nil {
		return fmt.Errorf("failed to update canonical entity: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return graph.ErrNodeNotFound
	}

	if _, err := tx.Exec(ctx, `
		DELETE FROM graph_nodes WHERE uuid = ANY($1)`,
		mergedIDs,
	); err != nil {
		return fmt.Errorf("failed to delete merged entities: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit entity merge: %w", err)
	}

	r.logger.Debug("エンティティを統合しました",
		"canonical", canonical.Name,
		"merged_count", len(merged),
	)
	return nil
}

// ClearAll は全ノード・関係を削除します
func (r *GraphRepository) ClearAll(ctx context.Context) error {
	if _, err := r.pool.Exec(ctx, `DELETE FROM graph_edges`); err != nil {
		return fmt.Errorf("failed to clear edges: %w", err)
	}
	if _, err := r.pool.Exec(ctx, `DELETE FROM graph_nodes`); err != nil {
		return fmt.Errorf("failed to clear nodes: %w", err)
	}
	return nil
}

// Counts はエンティティ・文書・関係の件数を返します
func (r *GraphRepository) Counts(ctx context.Context) (graph.Counts, error) {
	var counts graph.Counts
	err := r.pool.QueryRow(ctx, `
		SELECT
			(SELECT COUNT(*) FROM graph_nodes WHERE kind = 'entity'),
			(SELECT COUNT(*) FROM graph_nodes WHERE kind = 'document'),
			(SELECT COUNT(*) FROM graph_edges)`,
	).Scan(&counts.Entities, &counts.Documents, &counts.Relationships)
	if err != nil {
		return graph.Counts{}, fmt.Errorf("failed to count graph: %w", err)
	}
	return counts, nil
}

// Ping は接続確認を行います
func (r *GraphRepository) Ping(ctx context.Context) error {
	if err := r.pool.Ping(ctx); err != nil {
		return fmt.Errorf("%w: %w", graph.ErrStoreUnavailable, err)
	}
	return nil
}

func (r *GraphRepository) loadNode(ctx context.Context, id uuid.UUID) (graph.Node, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT uuid, name, kind, COALESCE(entity_type, ''), doc_id, COALESCE(doc_type, ''), properties
		FROM graph_nodes WHERE uuid = $1`,
		id,
	)

	var node graph.Node
	var kind, docType string
	var docID *int64
	var props map[string]any
	if err := row.Scan(&node.ID, &node.Name, &kind, &node.Type, &docID, &docType, &props); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return graph.Node{}, graph.ErrNodeNotFound
		}
		return graph.Node{}, fmt.Errorf("failed to load node: %w", err)
	}

	return finishNode(node, kind, docID, docType, props), nil
}

// loadSubgraph は指定ノード集合とその間の辺を読み込みます
func (r *GraphRepository) loadSubgraph(ctx context.Context, ids []uuid.UUID) (graph.Neighborhood, error) {
	if len(ids) == 0 {
		return graph.Neighborhood{}, nil
	}

	rows, err := r.pool.Query(ctx, `
		SELECT uuid, name, kind, COALESCE(entity_type, ''), doc_id, COALESCE(doc_type, ''), properties
		FROM graph_nodes WHERE uuid = ANY($1)`,
		ids,
	)
	if err != nil {
		return graph.Neighborhood{}, fmt.Errorf("failed to load nodes: %w", err)
	}
	nodes, err := collectNodes(rows)
	if err != nil {
		return graph.Neighborhood{}, err
	}

	edgeRows, err := r.pool.Query(ctx, `
		SELECT from_uuid, to_uuid, rel_type, confidence, COALESCE(source_doc_id, 0), implied, properties
		FROM graph_edges
		WHERE from_uuid = ANY($1) AND to_uuid = ANY($1)`,
		ids,
	)
	if err != nil {
		return graph.Neighborhood{}, fmt.Errorf("failed to load edges: %w", err)
	}
	defer edgeRows.Close()

	var edges []graph.Relationship
	for edgeRows.Next() {
		var rel graph.Relationship
		var sourceDocID int64
		var props map[string]any
		if err := edgeRows.Scan(&rel.FromID, &rel.ToID, &rel.Type, &rel.Confidence, &sourceDocID, &rel.Implied, &props); err != nil {
			return graph.Neighborhood{}, fmt.Errorf("failed to scan edge: %w", err)
		}
		rel.SourceDocID = int(sourceDocID)
		rel.Properties = props
		edges = append(edges, rel)
	}
	if err := edgeRows.Err(); err != nil {
		return graph.Neighborhood{}, fmt.Errorf("failed to iterate edges: %w", err)
	}

	return graph.Neighborhood{Nodes: nodes, Edges: edges}, nil
}

func collectNodes(rows pgx.Rows) ([]graph.Node, error) {
	defer rows.Close()

	var nodes []graph.Node
	for rows.Next() {
		var node graph.Node
		var kind, docType string
		var docID *int64
		var props map[string]any
		if err := rows.Scan(&node.ID, &node.Name, &kind, &node.Type, &docID, &docType, &props); err != nil {
			return nil, fmt.Errorf("failed to scan node: %w", err)
		}
		nodes = append(nodes, finishNode(node, kind, docID, docType, props))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate nodes: %w", err)
	}

	return nodes, nil
}

// finishNode は行の種別情報をNodeの表現へ畳み込みます
func finishNode(node graph.Node, kind string, docID *int64, docType string, props map[string]any) graph.Node {
	if props == nil {
		props = map[string]any{}
	}
	if kind == "document" {
		node.Type = "Document"
		if docID != nil {
			props["doc_id"] = int(*docID)
		}
		if docType != "" {
			props["doc_type"] = docType
		}
	}
	node.Properties = props
	return node
}

func scanEntity(row pgx.Row) (graph.Entity, error) {
	var entity graph.Entity
	var entityType string
	var sourceDocs []int64
	if err := row.Scan(
		&entity.ID, &entity.Name, &entityType, &entity.Aliases,
		&entity.Description, &entity.Confidence, &sourceDocs,
		&entity.Properties, &entity.CreatedAt,
	); err != nil {
		return graph.Entity{}, err
	}
	entity.Type = graph.EntityType(entityType)
	entity.SourceDocIDs = make([]int, len(sourceDocs))
	for i, d := range sourceDocs {
		entity.SourceDocIDs[i] = int(d)
	}
	return entity, nil
}

type orderedStrings struct {
	seen  map[string]bool
	items []string
}

func stringSet(initial []string) *orderedStrings {
	s := &orderedStrings{seen: map[string]bool{}}
	for _, v := range initial {
		s.add(v)
	}
	return s
}

func (s *orderedStrings) add(v string) {
	if v == "" || s.seen[v] {
		return
	}
	s.seen[v] = true
	s.items = append(s.items, v)
}

func (s *orderedStrings) remove(v string) {
	if !s.seen[v] {
		return
	}
	delete(s.seen, v)
	for i, item := range s.items {
		if item == v {
			s.items = append(s.items[:i], s.items[i+1:]...)
			break
		}
	}
}

func (s *orderedStrings) sorted() []string {
	out := make([]string, len(s.items))
	copy(out, s.items)
	sort.Strings(out)
	return out
}

type orderedInts struct {
	seen  map[int]bool
	items []int
}

func intSet(initial []int) *orderedInts {
	s := &orderedInts{seen: map[int]bool{}}
	for _, v := range initial {
		s.add(v)
	}
	return s
}

func (s *orderedInts) add(v int) {
	if s.seen[v] {
		return
	}
	s.seen[v] = true
	s.items = append(s.items, v)
}

func (s *orderedInts) sorted() []int64 {
	out := make([]int64, len(s.items))
	for i, v := range s.items {
		out[i] = int64(v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func nonNilStrings(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func nonNilInts(s []int) []int64 {
	out := make([]int64, len(s))
	for i, v := range s {
		out[i] = int64(v)
	}
	return out
}

func nonNilProps(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}

// インターフェース実装の確認
var _ graph.Repository = (*GraphRepository)(nil)
