package query

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bmccarn/paperless-knowledge-graph/internal/core/graph"
	"github.com/bmccarn/paperless-knowledge-graph/internal/core/llm"
	"github.com/bmccarn/paperless-knowledge-graph/internal/core/vector"
	"github.com/bmccarn/paperless-knowledge-graph/internal/platform/cache"
)

func testLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func testCache() *cache.Cache {
	return cache.New(cache.DefaultConfig())
}

// stubVectors は固定の検索結果を返すテスト用ベクトルストア
type stubVectors struct {
	chunkHits  []vector.ChunkHit
	entityHits []vector.EntityHit
	searchErr  error
}

func (s *stubVectors) StoreChunk(ctx context.Context, chunk vector.Chunk, embedding []float32) error {
	return nil
}
func (s *stubVectors) DeleteDocument(ctx context.Context, docID int) error { return nil }

func (s *stubVectors) Search(ctx context.Context, embedding []float32, limit int) ([]vector.ChunkHit, error) {
	if s.searchErr != nil {
		return nil, s.searchErr
	}
	return s.chunkHits, nil
}

func (s *stubVectors) KeywordSearch(ctx context.Context, query string, limit int) ([]vector.ChunkHit, error) {
	return s.chunkHits, nil
}

func (s *stubVectors) StoreEntityEmbedding(ctx context.Context, entityID uuid.UUID, name string, embedding []float32) error {
	return nil
}

func (s *stubVectors) SearchEntities(ctx context.Context, embedding []float32, limit int) ([]vector.EntityHit, error) {
	return s.entityHits, nil
}

func (s *stubVectors) DeleteEntityEmbedding(ctx context.Context, entityID uuid.UUID) error {
	return nil
}
func (s *stubVectors) ClearAll(ctx context.Context) error           { return nil }
func (s *stubVectors) Stats(ctx context.Context) (vector.Stats, error) { return vector.Stats{}, nil }
func (s *stubVectors) Ping(ctx context.Context) error               { return nil }

var _ vector.Store = (*stubVectors)(nil)

// stubGraph は名前検索と近傍展開だけを実装したテスト用グラフストア
type stubGraph struct {
	nodes        []graph.Node
	neighborhood graph.Neighborhood
}

func (s *stubGraph) UpsertDocumentNode(ctx context.Context, node graph.DocumentNode) (uuid.UUID, error) {
	return uuid.Nil, nil
}
func (s *stubGraph) CreateEntity(ctx context.Context, entity graph.Entity) (uuid.UUID, error) {
	return uuid.Nil, nil
}
func (s *stubGraph) UpdateEntity(ctx context.Context, entity graph.Entity) error { return nil }
func (s *stubGraph) GetEntity(ctx context.Context, id uuid.UUID) (graph.Entity, error) {
	return graph.Entity{}, graph.ErrNodeNotFound
}

func (s *stubGraph) FindEntityByName(ctx context.Context, name string, entityType graph.EntityType) (graph.Entity, error) {
	return graph.Entity{}, graph.ErrNodeNotFound
}
func (s *stubGraph) ListEntitiesByType(ctx context.Context, entityType graph.EntityType) ([]graph.Entity, error) {
	return nil, nil
}
func (s *stubGraph) AddAlias(ctx context.Context, id uuid.UUID, alias string) error      { return nil }
func (s *stubGraph) AppendSourceDoc(ctx context.Context, id uuid.UUID, docID int) error  { return nil }
func (s *stubGraph) CreateRelationship(ctx context.Context, rel graph.Relationship) error { return nil }
func (s *stubGraph) GetNode(ctx context.Context, id uuid.UUID) (graph.NodeDetail, error) {
	return graph.NodeDetail{}, graph.ErrNodeNotFound
}

func (s *stubGraph) Neighbors(ctx context.Context, id uuid.UUID, depth, maxNodes int) (graph.Neighborhood, error) {
	return s.neighborhood, nil
}

func (s *stubGraph) SearchNodes(ctx context.Context, query, nodeType string, limit int) ([]graph.Node, error) {
	return s.nodes, nil
}

func (s *stubGraph) InitialGraph(ctx context.Context, limit int) (graph.Neighborhood, error) {
	return graph.Neighborhood{}, nil
}
func (s *stubGraph) DeleteDocumentGraph(ctx context.Context, docID int) error { return nil }
func (s *stubGraph) MergeEntities(ctx context.Context, canonical graph.Entity, merged []graph.Entity) error {
	return nil
}
func (s *stubGraph) ClearAll(ctx context.Context) error               { return nil }
func (s *stubGraph) Counts(ctx context.Context) (graph.Counts, error) { return graph.Counts{}, nil }
func (s *stubGraph) Ping(ctx context.Context) error                   { return nil }

var _ graph.Repository = (*stubGraph)(nil)

// scriptedLLM はギャップ分析と合成ストリームの挙動を差し替えられるテスト用クライアント
type scriptedLLM struct {
	mu            sync.Mutex
	completeResp  string
	completeCalls int
	streamText    []string
	streamErr     error
	streamCalls   int
}

func (s *scriptedLLM) Complete(ctx context.Context, req llm.CompletionRequest) (llm.CompletionResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.completeCalls++
	return llm.CompletionResponse{Content: s.completeResp}, nil
}

func (s *scriptedLLM) CompleteStream(ctx context.Context, req llm.CompletionRequest) (<-chan llm.StreamChunk, error) {
	s.mu.Lock()
	s.streamCalls++
	text := s.streamText
	streamErr := s.streamErr
	s.mu.Unlock()

	if streamErr != nil {
		return nil, streamErr
	}

	ch := make(chan llm.StreamChunk, len(text)+1)
	for _, t := range text {
		ch <- llm.StreamChunk{Content: t}
	}
	close(ch)
	return ch, nil
}

var _ llm.Client = (*scriptedLLM)(nil)

// unitEmbedder は固定の単位ベクトルを返します
type unitEmbedder struct{}

func (unitEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return []float32{1, 0, 0, 0}, nil
}

func (u unitEmbedder) BatchEmbed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i], _ = u.Embed(ctx, texts[i])
	}
	return out, nil
}

func (unitEmbedder) Dimension() int { return 4 }

var _ llm.Embedder = unitEmbedder{}

func collectEvents(t *testing.T, events <-chan Event) []Event {
	t.Helper()
	var out []Event
	deadline := time.After(5 * time.Second)
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return out
			}
			out = append(out, ev)
		case <-deadline:
			t.Fatal("event stream did not finish in time")
		}
	}
}

func terminalEvents(events []Event) []Event {
	var out []Event
	for _, ev := range events {
		if ev.Type == EventComplete || ev.Type == EventError {
			out = append(out, ev)
		}
	}
	return out
}

func newTestEngine(vectors *stubVectors, graphStore *stubGraph, client *scriptedLLM) *Engine {
	return NewEngine(vectors, graphStore, unitEmbedder{}, client, testCache(), DefaultOptions(), testLogger())
}

func TestAnswerRejectsEmptyQuestion(t *testing.T) {
	engine := newTestEngine(&stubVectors{}, &stubGraph{}, &scriptedLLM{})

	_, err := engine.Answer(context.Background(), "", nil)
	assert.ErrorIs(t, err, ErrEmptyQuestion)
}

func TestAnswerStreamsChunksAndCompletesOnce(t *testing.T) {
	entityID := uuid.New()
	vectors := &stubVectors{
		chunkHits: []vector.ChunkHit{
			{DocumentID: 7, ChunkIndex: 0, Content: "Blake's policy was renewed in March.", Score: 0.91},
		},
	}
	graphStore := &stubGraph{
		nodes: []graph.Node{{ID: entityID, Name: "Blake McCarn", Type: "Person"}},
	}
	client := &scriptedLLM{
		completeResp: `{"sufficient": true, "follow_up_queries": []}`,
		streamText:   []string{"The policy ", "was renewed."},
	}
	engine := newTestEngine(vectors, graphStore, client)

	events, err := engine.Answer(context.Background(), "When was the policy renewed?", nil)
	require.NoError(t, err)

	collected := collectEvents(t, events)
	terminals := terminalEvents(collected)
	require.Len(t, terminals, 1)
	require.Equal(t, EventComplete, terminals[0].Type)

	var chunks string
	for _, ev := range collected {
		if ev.Type == EventAnswerChunk {
			chunks += ev.Content
		}
	}
	assert.Equal(t, "The policy was renewed.", chunks)

	result := terminals[0].Result
	require.NotNil(t, result)
	assert.Equal(t, "The policy was renewed.", result.Answer)
	require.NotEmpty(t, result.Sources)
	assert.Equal(t, 7, result.Sources[0].DocumentID)
	assert.NotEmpty(t, result.Entities)
	assert.Greater(t, result.Confidence, 0.5)
	assert.False(t, result.Cached)
}

func TestGapLoopTerminatesAtRoundLimit(t *testing.T) {
	vectors := &stubVectors{
		chunkHits: []vector.ChunkHit{{DocumentID: 1, Content: "partial info", Score: 0.4}},
	}
	// 常に「不足」と判定させる
	client := &scriptedLLM{
		completeResp: `{"sufficient": false, "follow_up_queries": ["more details"]}`,
		streamText:   []string{"Best effort answer."},
	}
	engine := newTestEngine(vectors, &stubGraph{}, client)

	events, err := engine.Answer(context.Background(), "What happened?", nil)
	require.NoError(t, err)

	collected := collectEvents(t, events)
	terminals := terminalEvents(collected)
	require.Len(t, terminals, 1)
	assert.Equal(t, EventComplete, terminals[0].Type)

	// ギャップ分析はラウンド上限（2回）までしか呼ばれない
	assert.Equal(t, DefaultOptions().MaxGapRounds, client.completeCalls)
	assert.NotEmpty(t, terminals[0].Result.FollowUps)
}

func TestAnswerServedFromCacheOnSecondCall(t *testing.T) {
	vectors := &stubVectors{
		chunkHits: []vector.ChunkHit{{DocumentID: 2, Content: "details", Score: 0.8}},
	}
	client := &scriptedLLM{
		completeResp: `{"sufficient": true}`,
		streamText:   []string{"Answer text."},
	}
	engine := newTestEngine(vectors, &stubGraph{}, client)

	first, err := engine.Answer(context.Background(), "What is the Total?", nil)
	require.NoError(t, err)
	collectEvents(t, first)
	require.Equal(t, 1, client.streamCalls)

	// 空白と大文字小文字が違っても同じキャッシュに当たる
	second, err := engine.Answer(context.Background(), "what is   the total?", nil)
	require.NoError(t, err)
	collected := collectEvents(t, second)

	terminals := terminalEvents(collected)
	require.Len(t, terminals, 1)
	assert.True(t, terminals[0].Result.Cached)
	assert.Equal(t, "Answer text.", terminals[0].Result.Answer)
	assert.Equal(t, 1, client.streamCalls)
}

func TestAnswerDegradesWhenVectorSearchFails(t *testing.T) {
	vectors := &stubVectors{
		searchErr: errors.New("connection refused"),
		chunkHits: []vector.ChunkHit{{DocumentID: 3, Content: "keyword match", Score: 0.6}},
	}
	client := &scriptedLLM{
		completeResp: `{"sufficient": true}`,
		streamText:   []string{"Found via keyword search."},
	}
	engine := newTestEngine(vectors, &stubGraph{}, client)

	events, err := engine.Answer(context.Background(), "Any info?", nil)
	require.NoError(t, err)

	collected := collectEvents(t, events)
	terminals := terminalEvents(collected)
	require.Len(t, terminals, 1)
	require.Equal(t, EventComplete, terminals[0].Type)
	assert.NotEmpty(t, terminals[0].Result.Sources)
}

func TestAnswerEmitsErrorWhenSynthesisFails(t *testing.T) {
	client := &scriptedLLM{
		completeResp: `{"sufficient": true}`,
		streamErr:    errors.New("model unavailable"),
	}
	engine := newTestEngine(&stubVectors{}, &stubGraph{}, client)

	events, err := engine.Answer(context.Background(), "Question?", nil)
	require.NoError(t, err)

	collected := collectEvents(t, events)
	terminals := terminalEvents(collected)
	require.Len(t, terminals, 1)
	assert.Equal(t, EventError, terminals[0].Type)
	assert.Contains(t, terminals[0].Message, "failed to generate answer")
}

func TestNeighborhoodExpansionEnrichesGraphContext(t *testing.T) {
	entityID := uuid.New()
	otherID := uuid.New()
	graphStore := &stubGraph{
		nodes: []graph.Node{{ID: entityID, Name: "Acme Corp", Type: "Organization"}},
		neighborhood: graph.Neighborhood{
			Nodes: []graph.Node{
				{ID: entityID, Name: "Acme Corp", Type: "Organization"},
				{ID: otherID, Name: "Blake McCarn", Type: "Person"},
			},
			Edges: []graph.Relationship{
				{FromID: otherID, ToID: entityID, Type: "CLIENT_OF"},
			},
		},
	}
	client := &scriptedLLM{
		completeResp: `{"sufficient": true}`,
		streamText:   []string{"Acme Corp insures Blake."},
	}
	engine := newTestEngine(&stubVectors{}, graphStore, client)

	events, err := engine.Answer(context.Background(), "Who is Acme?", nil)
	require.NoError(t, err)

	collected := collectEvents(t, events)
	terminals := terminalEvents(collected)
	require.Len(t, terminals, 1)
	require.Equal(t, EventComplete, terminals[0].Type)

	names := make([]string, 0)
	for _, e := range terminals[0].Result.Entities {
		names = append(names, e.Name)
	}
	assert.Contains(t, names, "Acme Corp")
}
