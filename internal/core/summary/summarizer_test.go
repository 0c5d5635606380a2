package summary

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bmccarn/paperless-knowledge-graph/internal/core/graph"
	"github.com/bmccarn/paperless-knowledge-graph/internal/core/llm"
)

func testLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

// stubRepo はエンティティと関係の読み書きだけを実装したテスト用リポジトリ
type stubRepo struct {
	entities map[uuid.UUID]graph.Entity
	details  map[uuid.UUID]graph.NodeDetail
	updated  []graph.Entity
}

func newStubRepo(entities ...graph.Entity) *stubRepo {
	r := &stubRepo{
		entities: make(map[uuid.UUID]graph.Entity),
		details:  make(map[uuid.UUID]graph.NodeDetail),
	}
	for _, e := range entities {
		r.entities[e.ID] = e
	}
	return r
}

func (s *stubRepo) UpsertDocumentNode(ctx context.Context, node graph.DocumentNode) (uuid.UUID, error) {
	return uuid.Nil, nil
}
func (s *stubRepo) CreateEntity(ctx context.Context, entity graph.Entity) (uuid.UUID, error) {
	return uuid.Nil, nil
}

func (s *stubRepo) UpdateEntity(ctx context.Context, entity graph.Entity) error {
	s.entities[entity.ID] = entity
	s.updated = append(s.updated, entity)
	return nil
}

func (s *stubRepo) GetEntity(ctx context.Context, id uuid.UUID) (graph.Entity, error) {
	if e, ok := s.entities[id]; ok {
		return e, nil
	}
	return graph.Entity{}, graph.ErrNodeNotFound
}

func (s *stubRepo) FindEntityByName(ctx context.Context, name string, entityType graph.EntityType) (graph.Entity, error) {
	return graph.Entity{}, graph.ErrNodeNotFound
}

func (s *stubRepo) ListEntitiesByType(ctx context.Context, entityType graph.EntityType) ([]graph.Entity, error) {
	var out []graph.Entity
	for _, e := range s.entities {
		out = append(out, e)
	}
	return out, nil
}

func (s *stubRepo) AddAlias(ctx context.Context, id uuid.UUID, alias string) error     { return nil }
func (s *stubRepo) AppendSourceDoc(ctx context.Context, id uuid.UUID, docID int) error { return nil }
func (s *stubRepo) CreateRelationship(ctx context.Context, rel graph.Relationship) error {
	return nil
}

func (s *stubRepo) GetNode(ctx context.Context, id uuid.UUID) (graph.NodeDetail, error) {
	if d, ok := s.details[id]; ok {
		return d, nil
	}
	return graph.NodeDetail{}, nil
}

func (s *stubRepo) Neighbors(ctx context.Context, id uuid.UUID, depth, maxNodes int) (graph.Neighborhood, error) {
	return graph.Neighborhood{}, nil
}
func (s *stubRepo) SearchNodes(ctx context.Context, query, nodeType string, limit int) ([]graph.Node, error) {
	return nil, nil
}
func (s *stubRepo) InitialGraph(ctx context.Context, limit int) (graph.Neighborhood, error) {
	return graph.Neighborhood{}, nil
}
func (s *stubRepo) DeleteDocumentGraph(ctx context.Context, docID int) error { return nil }
func (s *stubRepo) MergeEntities(ctx context.Context, canonical graph.Entity, merged []graph.Entity) error {
	return nil
}
func (s *stubRepo) ClearAll(ctx context.Context) error               { return nil }
func (s *stubRepo) Counts(ctx context.Context) (graph.Counts, error) { return graph.Counts{}, nil }
func (s *stubRepo) Ping(ctx context.Context) error                   { return nil }

var _ graph.Repository = (*stubRepo)(nil)

// fixedLLM は固定の説明文を返すテスト用クライアント
type fixedLLM struct {
	response string
	err      error
	prompts  []string
}

func (f *fixedLLM) Complete(ctx context.Context, req llm.CompletionRequest) (llm.CompletionResponse, error) {
	f.prompts = append(f.prompts, req.Prompt)
	if f.err != nil {
		return llm.CompletionResponse{}, f.err
	}
	return llm.CompletionResponse{Content: f.response}, nil
}

func (f *fixedLLM) CompleteStream(ctx context.Context, req llm.CompletionRequest) (<-chan llm.StreamChunk, error) {
	ch := make(chan llm.StreamChunk)
	close(ch)
	return ch, nil
}

var _ llm.Client = (*fixedLLM)(nil)

func newTestSummarizer(repo *stubRepo, client *fixedLLM) *Summarizer {
	s := NewSummarizer(repo, client, testLogger())
	s.delay = 0
	return s
}

func TestSummarizeEntityStoresDescription(t *testing.T) {
	id := uuid.New()
	docID := uuid.New()
	repo := newStubRepo(graph.Entity{
		ID:      id,
		Name:    "Acme Insurance",
		Type:    graph.EntityTypeOrganization,
		Aliases: []string{"Acme Ins."},
	})
	repo.details[id] = graph.NodeDetail{
		Relationships: []graph.RelationshipDetail{
			{
				Type:      "PROVIDER_FOR",
				Direction: "in",
				Neighbor: graph.Node{
					ID:         docID,
					Name:       "Policy Renewal 2024",
					Type:       "Document",
					Properties: map[string]any{"doc_type": "insurance"},
				},
			},
		},
	}
	client := &fixedLLM{response: "Acme Insurance is the document owner's insurer."}

	err := newTestSummarizer(repo, client).SummarizeEntity(context.Background(), id)
	require.NoError(t, err)

	updated := repo.entities[id]
	assert.Equal(t, "Acme Insurance is the document owner's insurer.", updated.Description)
	assert.NotEmpty(t, updated.Properties["description_updated_at"])

	// プロンプトには種別ガイダンス・別名・言及文書が含まれる
	require.Len(t, client.prompts, 1)
	prompt := client.prompts[0]
	assert.Contains(t, prompt, "Acme Insurance")
	assert.Contains(t, prompt, "also known as: Acme Ins.")
	assert.Contains(t, prompt, "Policy Renewal 2024")
	assert.True(t, strings.Contains(prompt, "policy numbers"))
}

func TestSummarizeEntityNotFound(t *testing.T) {
	repo := newStubRepo()
	client := &fixedLLM{response: "text"}

	err := newTestSummarizer(repo, client).SummarizeEntity(context.Background(), uuid.New())
	assert.ErrorIs(t, err, graph.ErrNodeNotFound)
}

func TestSummarizeAllSkipsDescribedUnlessForced(t *testing.T) {
	described := graph.Entity{ID: uuid.New(), Name: "Blake McCarn", Type: graph.EntityTypePerson, Description: "existing"}
	blank := graph.Entity{ID: uuid.New(), Name: "Acme Corp", Type: graph.EntityTypeOrganization}
	repo := newStubRepo(described, blank)
	client := &fixedLLM{response: "generated description"}
	s := newTestSummarizer(repo, client)

	report, err := s.SummarizeAll(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, 2, report.Total)
	assert.Equal(t, 1, report.Summarized)
	assert.Equal(t, 1, report.Skipped)

	report, err = s.SummarizeAll(context.Background(), true)
	require.NoError(t, err)
	assert.Equal(t, 2, report.Summarized)
	assert.Equal(t, 0, report.Skipped)
}

func TestSummarizeAllCountsFailures(t *testing.T) {
	repo := newStubRepo(graph.Entity{ID: uuid.New(), Name: "Acme Corp", Type: graph.EntityTypeOrganization})
	client := &fixedLLM{err: errors.New("rate limited")}

	report, err := newTestSummarizer(repo, client).SummarizeAll(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Failed)
	assert.Equal(t, 0, report.Summarized)
}
