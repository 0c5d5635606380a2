package resolution

import (
	"context"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bmccarn/paperless-knowledge-graph/internal/core/graph"
)

// stubGraphRepo はテスト用のインメモリグラフリポジトリ
type stubGraphRepo struct {
	entities map[uuid.UUID]graph.Entity
	merges   int
}

func newStubGraphRepo(entities ...graph.Entity) *stubGraphRepo {
	repo := &stubGraphRepo{entities: make(map[uuid.UUID]graph.Entity)}
	for _, e := range entities {
		repo.entities[e.ID] = e
	}
	return repo
}

func (s *stubGraphRepo) UpsertDocumentNode(ctx context.Context, node graph.DocumentNode) (uuid.UUID, error) {
	return uuid.Nil, nil
}

func (s *stubGraphRepo) CreateEntity(ctx context.Context, entity graph.Entity) (uuid.UUID, error) {
	if entity.ID == uuid.Nil {
		entity.ID = uuid.New()
	}
	s.entities[entity.ID] = entity
	return entity.ID, nil
}

func (s *stubGraphRepo) UpdateEntity(ctx context.Context, entity graph.Entity) error {
	s.entities[entity.ID] = entity
	return nil
}

func (s *stubGraphRepo) GetEntity(ctx context.Context, id uuid.UUID) (graph.Entity, error) {
	if e, ok := s.entities[id]; ok {
		return e, nil
	}
	return graph.Entity{}, graph.ErrNodeNotFound
}

func (s *stubGraphRepo) FindEntityByName(ctx context.Context, name string, entityType graph.EntityType) (graph.Entity, error) {
	for _, e := range s.entities {
		if e.Type != entityType {
			continue
		}
		if strings.EqualFold(e.Name, name) {
			return e, nil
		}
		for _, alias := range e.Aliases {
			if strings.EqualFold(alias, name) {
				return e, nil
			}
		}
	}
	return graph.Entity{}, graph.ErrNodeNotFound
}

func (s *stubGraphRepo) ListEntitiesByType(ctx context.Context, entityType graph.EntityType) ([]graph.Entity, error) {
	var out []graph.Entity
	for _, e := range s.entities {
		if entityType == "" || e.Type == entityType {
			out = append(out, e)
		}
	}
	return out, nil
}

func (s *stubGraphRepo) AddAlias(ctx context.Context, id uuid.UUID, alias string) error {
	e := s.entities[id]
	e.Aliases = append(e.Aliases, alias)
	s.entities[id] = e
	return nil
}

func (s *stubGraphRepo) AppendSourceDoc(ctx context.Context, id uuid.UUID, docID int) error {
	e := s.entities[id]
	e.SourceDocIDs = append(e.SourceDocIDs, docID)
	s.entities[id] = e
	return nil
}

func (s *stubGraphRepo) CreateRelationship(ctx context.Context, rel graph.Relationship) error {
	return nil
}

func (s *stubGraphRepo) GetNode(ctx context.Context, id uuid.UUID) (graph.NodeDetail, error) {
	return graph.NodeDetail{}, graph.ErrNodeNotFound
}

func (s *stubGraphRepo) Neighbors(ctx context.Context, id uuid.UUID, depth, maxNodes int) (graph.Neighborhood, error) {
	return graph.Neighborhood{}, nil
}

func (s *stubGraphRepo) SearchNodes(ctx context.Context, query, nodeType string, limit int) ([]graph.Node, error) {
	return nil, nil
}

func (s *stubGraphRepo) InitialGraph(ctx context.Context, limit int) (graph.Neighborhood, error) {
	return graph.Neighborhood{}, nil
}

func (s *stubGraphRepo) DeleteDocumentGraph(ctx context.Context, docID int) error {
	return nil
}

func (s *stubGraphRepo) MergeEntities(ctx context.Context, canonical graph.Entity, merged []graph.Entity) error {
	s.merges++
	for _, m := range merged {
		canonical.Aliases = append(canonical.Aliases, m.Name)
		canonical.Aliases = append(canonical.Aliases, m.Aliases...)
		delete(s.entities, m.ID)
	}
	s.entities[canonical.ID] = canonical
	return nil
}

func (s *stubGraphRepo) ClearAll(ctx context.Context) error {
	s.entities = make(map[uuid.UUID]graph.Entity)
	return nil
}

func (s *stubGraphRepo) Counts(ctx context.Context) (graph.Counts, error) {
	return graph.Counts{Entities: len(s.entities)}, nil
}

func (s *stubGraphRepo) Ping(ctx context.Context) error { return nil }

var _ graph.Repository = (*stubGraphRepo)(nil)

// stubEmbedder は異なるテキストに直交するベクトルを割り当てるテスト用実装
// 同一テキストの類似度は1.0、異なるテキスト同士は0.0になります
type stubEmbedder struct {
	assigned map[string]int
}

func (s *stubEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if s.assigned == nil {
		s.assigned = make(map[string]int)
	}
	idx, ok := s.assigned[text]
	if !ok {
		idx = len(s.assigned)
		s.assigned[text] = idx
	}

	v := make([]float32, 128)
	v[idx%128] = 1
	return v, nil
}

func (s *stubEmbedder) BatchEmbed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v, err := s.Embed(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func (s *stubEmbedder) Dimension() int { return 128 }

func personEntity(name string, createdAt time.Time) graph.Entity {
	return graph.Entity{
		ID:        uuid.New(),
		Name:      name,
		Type:      graph.EntityTypePerson,
		CreatedAt: createdAt,
	}
}

func newTestResolver(repo graph.Repository) *Resolver {
	return NewResolver(repo, &stubEmbedder{}, DefaultThresholds(), slog.New(slog.DiscardHandler))
}

func TestResolver_Plan_重複する人名をクラスタにまとめる(t *testing.T) {
	now := time.Now()
	a := personEntity("Blake McCarn", now)
	b := personEntity("Blake T McCarn", now.Add(time.Hour))
	c := personEntity("Chelsea McCarn", now)

	repo := newStubGraphRepo(a, b, c)
	resolver := newTestResolver(repo)

	plan, err := resolver.Plan(context.Background())
	require.NoError(t, err)
	require.Len(t, plan.Clusters, 1)

	cluster := plan.Clusters[0]
	assert.Equal(t, "Blake T McCarn", cluster.CanonicalName)
	require.Len(t, cluster.Merged, 1)

	// 同姓別人はクラスタに含まれない
	for _, m := range cluster.Merged {
		assert.NotEqual(t, "Chelsea McCarn", m.Name)
	}
}

func TestResolver_Plan_種別が異なればブロックが分かれる(t *testing.T) {
	now := time.Now()
	person := personEntity("Quest Diagnostics", now)
	org := graph.Entity{
		ID:        uuid.New(),
		Name:      "Quest Diagnostics",
		Type:      graph.EntityTypeOrganization,
		CreatedAt: now,
	}

	repo := newStubGraphRepo(person, org)
	resolver := newTestResolver(repo)

	plan, err := resolver.Plan(context.Background())
	require.NoError(t, err)
	assert.Empty(t, plan.Clusters)
}

func TestResolver_Plan_正準選択は決定的である(t *testing.T) {
	now := time.Now()
	a := personEntity("Blake McCarn", now.Add(time.Hour))
	a.Description = "archive owner"
	b := personEntity("Blake T McCarn", now)

	repo := newStubGraphRepo(a, b)
	resolver := newTestResolver(repo)

	for i := 0; i < 5; i++ {
		plan, err := resolver.Plan(context.Background())
		require.NoError(t, err)
		require.Len(t, plan.Clusters, 1)
		// 説明が充実している方が正準になる
		assert.Equal(t, a.ID, plan.Clusters[0].Canonical.ID)
		// 表示名は品質スコアで選ばれる
		assert.Equal(t, "Blake T McCarn", plan.Clusters[0].CanonicalName)
	}
}

func TestResolver_ResolveAll_再実行で新たなマージは発生しない(t *testing.T) {
	now := time.Now()
	repo := newStubGraphRepo(
		personEntity("Blake McCarn", now),
		personEntity("Blake T McCarn", now),
		personEntity("Chelsea McCarn", now),
	)
	resolver := newTestResolver(repo)

	report, err := resolver.ResolveAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.TotalMerged)

	// 不動点: もう一度実行してもマージは起きない
	report, err = resolver.ResolveAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, report.TotalMerged)
	assert.Len(t, repo.entities, 2)
}

func TestResolver_Plan_曖昧ペアはスキップ報告される(t *testing.T) {
	now := time.Now()
	repo := newStubGraphRepo(
		personEntity("Blake McCarn", now),
		personEntity("Blake Mercer", now),
	)
	resolver := newTestResolver(repo)

	plan, err := resolver.Plan(context.Background())
	require.NoError(t, err)

	if assert.NotEmpty(t, plan.Skipped) {
		assert.GreaterOrEqual(t, plan.Skipped[0].Score, 0.70)
	}
}

func TestResolver_ResolveEntityRef_完全一致は別名と文書を追記する(t *testing.T) {
	now := time.Now()
	existing := personEntity("Blake McCarn", now)

	repo := newStubGraphRepo(existing)
	resolver := newTestResolver(repo)

	id, err := resolver.ResolveEntityRef(context.Background(), EntityRef{
		Name:        "BLAKE MCCARN",
		Type:        graph.EntityTypePerson,
		SourceDocID: 7,
	})
	require.NoError(t, err)
	assert.Equal(t, existing.ID, id)

	updated := repo.entities[existing.ID]
	assert.Contains(t, updated.Aliases, "BLAKE MCCARN")
	assert.Contains(t, updated.SourceDocIDs, 7)
}

func TestResolver_ResolveEntityRef_一致しなければ新規作成する(t *testing.T) {
	repo := newStubGraphRepo()
	resolver := newTestResolver(repo)

	id, err := resolver.ResolveEntityRef(context.Background(), EntityRef{
		Name:        "Blake McCarn",
		Type:        graph.EntityTypePerson,
		SourceDocID: 3,
		Confidence:  0.9,
	})
	require.NoError(t, err)
	require.NotEqual(t, uuid.Nil, id)

	created := repo.entities[id]
	assert.Equal(t, "Blake McCarn", created.Name)
	assert.Equal(t, []int{3}, created.SourceDocIDs)
}

func TestResolver_ResolveEntityRef_連名は複数エンティティを作る(t *testing.T) {
	repo := newStubGraphRepo()
	resolver := newTestResolver(repo)

	id, err := resolver.ResolveEntityRef(context.Background(), EntityRef{
		Name:        "Blake & Chelsea McCarn",
		Type:        graph.EntityTypePerson,
		SourceDocID: 5,
	})
	require.NoError(t, err)
	assert.NotEqual(t, uuid.Nil, id)
	assert.Len(t, repo.entities, 2)
}

func TestResolver_ResolveEntityRef_組織らしい人物は組織として解決する(t *testing.T) {
	repo := newStubGraphRepo()
	resolver := newTestResolver(repo)

	id, err := resolver.ResolveEntityRef(context.Background(), EntityRef{
		Name:        "RapidRoute Solutions LLC",
		Type:        graph.EntityTypePerson,
		SourceDocID: 2,
	})
	require.NoError(t, err)

	created := repo.entities[id]
	assert.Equal(t, graph.EntityTypeOrganization, created.Type)
}

func TestResolver_ResolveEntityRef_空や短すぎる名前は無視する(t *testing.T) {
	repo := newStubGraphRepo()
	resolver := newTestResolver(repo)

	for _, name := range []string{"", "  ", "Jo"} {
		id, err := resolver.ResolveEntityRef(context.Background(), EntityRef{
			Name: name,
			Type: graph.EntityTypePerson,
		})
		require.NoError(t, err)
		assert.Equal(t, uuid.Nil, id)
	}
}
