package httpapi

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/samber/mo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bmccarn/paperless-knowledge-graph/internal/core/document"
	"github.com/bmccarn/paperless-knowledge-graph/internal/core/extraction"
	"github.com/bmccarn/paperless-knowledge-graph/internal/core/graph"
	"github.com/bmccarn/paperless-knowledge-graph/internal/core/ingestion"
	"github.com/bmccarn/paperless-knowledge-graph/internal/core/llm"
	"github.com/bmccarn/paperless-knowledge-graph/internal/core/query"
	"github.com/bmccarn/paperless-knowledge-graph/internal/core/resolution"
	"github.com/bmccarn/paperless-knowledge-graph/internal/core/task"
	"github.com/bmccarn/paperless-knowledge-graph/internal/core/vector"
	"github.com/bmccarn/paperless-knowledge-graph/internal/platform/cache"
)

func testLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

// apiGraphRepo は固定データを返すテスト用グラフリポジトリ
type apiGraphRepo struct {
	nodes        []graph.Node
	details      map[uuid.UUID]graph.NodeDetail
	neighborhood graph.Neighborhood
	counts       graph.Counts
	pingErr      error
}

func (s *apiGraphRepo) UpsertDocumentNode(ctx context.Context, node graph.DocumentNode) (uuid.UUID, error) {
	return uuid.New(), nil
}
func (s *apiGraphRepo) CreateEntity(ctx context.Context, entity graph.Entity) (uuid.UUID, error) {
	return uuid.New(), nil
}
func (s *apiGraphRepo) UpdateEntity(ctx context.Context, entity graph.Entity) error { return nil }
func (s *apiGraphRepo) GetEntity(ctx context.Context, id uuid.UUID) (graph.Entity, error) {
	return graph.Entity{}, graph.ErrNodeNotFound
}
func (s *apiGraphRepo) FindEntityByName(ctx context.Context, name string, entityType graph.EntityType) (graph.Entity, error) {
	return graph.Entity{}, graph.ErrNodeNotFound
}
func (s *apiGraphRepo) ListEntitiesByType(ctx context.Context, entityType graph.EntityType) ([]graph.Entity, error) {
	return nil, nil
}
func (s *apiGraphRepo) AddAlias(ctx context.Context, id uuid.UUID, alias string) error { return nil }
func (s *apiGraphRepo) AppendSourceDoc(ctx context.Context, id uuid.UUID, docID int) error {
	return nil
}
func (s *apiGraphRepo) CreateRelationship(ctx context.Context, rel graph.Relationship) error {
	return nil
}

func (s *apiGraphRepo) GetNode(ctx context.Context, id uuid.UUID) (graph.NodeDetail, error) {
	if d, ok := s.details[id]; ok {
		return d, nil
	}
	return graph.NodeDetail{}, graph.ErrNodeNotFound
}

func (s *apiGraphRepo) Neighbors(ctx context.Context, id uuid.UUID, depth, maxNodes int) (graph.Neighborhood, error) {
	return s.neighborhood, nil
}

func (s *apiGraphRepo) SearchNodes(ctx context.Context, q, nodeType string, limit int) ([]graph.Node, error) {
	var out []graph.Node
	for _, n := range s.nodes {
		if strings.Contains(strings.ToLower(n.Name), strings.ToLower(q)) {
			out = append(out, n)
		}
	}
	return out, nil
}

func (s *apiGraphRepo) InitialGraph(ctx context.Context, limit int) (graph.Neighborhood, error) {
	return s.neighborhood, nil
}
func (s *apiGraphRepo) DeleteDocumentGraph(ctx context.Context, docID int) error { return nil }
func (s *apiGraphRepo) MergeEntities(ctx context.Context, canonical graph.Entity, merged []graph.Entity) error {
	return nil
}
func (s *apiGraphRepo) ClearAll(ctx context.Context) error { return nil }
func (s *apiGraphRepo) Counts(ctx context.Context) (graph.Counts, error) {
	return s.counts, nil
}
func (s *apiGraphRepo) Ping(ctx context.Context) error { return s.pingErr }

var _ graph.Repository = (*apiGraphRepo)(nil)

// apiVectorStore は固定のヒットを返すテスト用ベクトルストア
type apiVectorStore struct {
	chunkHits []vector.ChunkHit
	stats     vector.Stats
	pingErr   error
}

func (s *apiVectorStore) StoreChunk(ctx context.Context, chunk vector.Chunk, embedding []float32) error {
	return nil
}
func (s *apiVectorStore) DeleteDocument(ctx context.Context, docID int) error { return nil }
func (s *apiVectorStore) Search(ctx context.Context, embedding []float32, limit int) ([]vector.ChunkHit, error) {
	return s.chunkHits, nil
}
func (s *apiVectorStore) KeywordSearch(ctx context.Context, q string, limit int) ([]vector.ChunkHit, error) {
	return nil, nil
}
func (s *apiVectorStore) StoreEntityEmbedding(ctx context.Context, entityID uuid.UUID, name string, embedding []float32) error {
	return nil
}
func (s *apiVectorStore) SearchEntities(ctx context.Context, embedding []float32, limit int) ([]vector.EntityHit, error) {
	return nil, nil
}
func (s *apiVectorStore) DeleteEntityEmbedding(ctx context.Context, entityID uuid.UUID) error {
	return nil
}
func (s *apiVectorStore) ClearAll(ctx context.Context) error { return nil }
func (s *apiVectorStore) Stats(ctx context.Context) (vector.Stats, error) {
	return s.stats, nil
}
func (s *apiVectorStore) Ping(ctx context.Context) error { return s.pingErr }

var _ vector.Store = (*apiVectorStore)(nil)

// apiSource は空のアーカイブを返すテスト用ドキュメントソース
type apiSource struct {
	docs    []document.Document
	pingErr error
}

func (s *apiSource) Get(ctx context.Context, id int) (document.Document, error) {
	for _, d := range s.docs {
		if d.ID == id {
			return d, nil
		}
	}
	return document.Document{}, document.ErrDocumentNotFound
}
func (s *apiSource) ListAll(ctx context.Context) ([]document.Document, error) {
	return s.docs, nil
}
func (s *apiSource) ListModifiedSince(ctx context.Context, since time.Time) ([]document.Document, error) {
	return s.docs, nil
}
func (s *apiSource) Ping(ctx context.Context) error { return s.pingErr }

var _ document.Source = (*apiSource)(nil)

// apiLLM はギャップ分析に「十分」を返し、回答を固定文でストリームします
type apiLLM struct {
	answer string
}

func (f *apiLLM) Complete(ctx context.Context, req llm.CompletionRequest) (llm.CompletionResponse, error) {
	return llm.CompletionResponse{Content: `{"sufficient": true, "follow_up_queries": []}`}, nil
}

func (f *apiLLM) CompleteStream(ctx context.Context, req llm.CompletionRequest) (<-chan llm.StreamChunk, error) {
	ch := make(chan llm.StreamChunk, 1)
	ch <- llm.StreamChunk{Content: f.answer}
	close(ch)
	return ch, nil
}

var _ llm.Client = (*apiLLM)(nil)

// apiEmbedder は固定ベクトルを返すテスト用エンベッダ
type apiEmbedder struct{}

func (apiEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return []float32{1, 0, 0, 0}, nil
}
func (apiEmbedder) BatchEmbed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{1, 0, 0, 0}
	}
	return out, nil
}
func (apiEmbedder) Dimension() int { return 4 }

var _ llm.Embedder = apiEmbedder{}

// apiState は同期状態とハッシュのインメモリ実装
type apiState struct {
	lastSync *time.Time
	hashes   map[int]string
}

func newAPIState() *apiState { return &apiState{hashes: map[int]string{}} }

func (m *apiState) LastSync(ctx context.Context) (mo.Option[time.Time], error) {
	if m.lastSync == nil {
		return mo.None[time.Time](), nil
	}
	return mo.Some(*m.lastSync), nil
}
func (m *apiState) SetLastSync(ctx context.Context, t time.Time) error {
	m.lastSync = &t
	return nil
}
func (m *apiState) ResetSync(ctx context.Context) error {
	m.lastSync = nil
	return nil
}
func (m *apiState) Hash(ctx context.Context, docID int) (mo.Option[string], error) {
	if h, ok := m.hashes[docID]; ok {
		return mo.Some(h), nil
	}
	return mo.None[string](), nil
}
func (m *apiState) SetHash(ctx context.Context, docID int, hash string) error {
	m.hashes[docID] = hash
	return nil
}
func (m *apiState) DeleteHash(ctx context.Context, docID int) error {
	delete(m.hashes, docID)
	return nil
}
func (m *apiState) ClearAll(ctx context.Context) error {
	m.hashes = map[int]string{}
	return nil
}

var (
	_ ingestion.SyncStateStore = (*apiState)(nil)
	_ ingestion.HashStore      = (*apiState)(nil)
)

type fixture struct {
	server    *Server
	handler   http.Handler
	graphRepo *apiGraphRepo
	vectors   *apiVectorStore
	source    *apiSource
	registry  *task.Registry
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	logger := testLogger()

	graphRepo := &apiGraphRepo{
		details: map[uuid.UUID]graph.NodeDetail{},
		counts:  graph.Counts{Entities: 3, Documents: 2, Relationships: 4},
	}
	vectors := &apiVectorStore{stats: vector.Stats{DocumentChunks: 5}}
	source := &apiSource{}
	state := newAPIState()
	client := &apiLLM{answer: "The policy renews in March."}
	embedder := apiEmbedder{}
	c := cache.New(cache.DefaultConfig())
	registry := task.NewRegistry(time.Hour, logger)

	truncator := extraction.NewTruncator("gpt-4o-mini")
	resolver := resolution.NewResolver(graphRepo, embedder, resolution.DefaultThresholds(), logger)
	pipeline := ingestion.NewPipeline(ingestion.Deps{
		Source:     source,
		Classifier: extraction.NewClassifier(client, truncator, logger),
		Extractor:  extraction.NewExtractor(client, truncator, logger),
		Resolver:   resolver,
		GraphRepo:  graphRepo,
		Vectors:    vectors,
		Embedder:   embedder,
		SyncState:  state,
		Hashes:     state,
		Logger:     logger,
	})
	engine := query.NewEngine(vectors, graphRepo, embedder, client, c, query.DefaultOptions(), logger)

	srv := NewServer(Deps{
		Registry:  registry,
		Pipeline:  pipeline,
		Resolver:  resolver,
		Engine:    engine,
		GraphRepo: graphRepo,
		Vectors:   vectors,
		Source:    source,
		Cache:     c,
		SyncState: state,
		Logger:    logger,
	})

	return &fixture{
		server:    srv,
		handler:   srv.Handler(),
		graphRepo: graphRepo,
		vectors:   vectors,
		source:    source,
		registry:  registry,
	}
}

func (f *fixture) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	}
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestGraphSearchRequiresQuery(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodGet, "/graph/search", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGraphSearchReturnsMatches(t *testing.T) {
	f := newFixture(t)
	f.graphRepo.nodes = []graph.Node{
		{ID: uuid.New(), Name: "Acme Insurance", Type: "Organization"},
		{ID: uuid.New(), Name: "Blake McCarn", Type: "Person"},
	}

	rec := f.do(t, http.MethodGet, "/graph/search?q=acme", "")
	require.Equal(t, http.StatusOK, rec.Code)

	body := decodeBody(t, rec)
	results := body["results"].([]any)
	require.Len(t, results, 1)
	first := results[0].(map[string]any)
	assert.Equal(t, "Acme Insurance", first["name"])
}

func TestGraphNodeNotFound(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodGet, "/graph/node/"+uuid.NewString(), "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGraphNodeReturnsRelationships(t *testing.T) {
	f := newFixture(t)
	id := uuid.New()
	f.graphRepo.details[id] = graph.NodeDetail{
		Node: graph.Node{ID: id, Name: "Acme Insurance", Type: "Organization"},
		Relationships: []graph.RelationshipDetail{
			{
				Type:      "PROVIDER_FOR",
				Direction: "out",
				Neighbor:  graph.Node{ID: uuid.New(), Name: "Blake McCarn", Type: "Person"},
			},
		},
	}

	rec := f.do(t, http.MethodGet, "/graph/node/"+id.String(), "")
	require.Equal(t, http.StatusOK, rec.Code)

	body := decodeBody(t, rec)
	node := body["node"].(map[string]any)
	assert.Equal(t, "Acme Insurance", node["name"])
	rels := body["relationships"].([]any)
	require.Len(t, rels, 1)
	assert.Equal(t, "PROVIDER_FOR", rels[0].(map[string]any)["type"])
}

func TestGraphNeighborsInvalidID(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodGet, "/graph/neighbors/not-a-uuid", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGraphInitialReturnsSubgraph(t *testing.T) {
	f := newFixture(t)
	a, b := uuid.New(), uuid.New()
	f.graphRepo.neighborhood = graph.Neighborhood{
		Nodes: []graph.Node{{ID: a, Name: "Acme Insurance", Type: "Organization"}, {ID: b, Name: "Blake McCarn", Type: "Person"}},
		Edges: []graph.Relationship{{FromID: a, ToID: b, Type: "PROVIDER_FOR", Confidence: 0.9}},
	}

	rec := f.do(t, http.MethodGet, "/graph/initial", "")
	require.Equal(t, http.StatusOK, rec.Code)

	body := decodeBody(t, rec)
	assert.Len(t, body["nodes"].([]any), 2)
	assert.Len(t, body["edges"].([]any), 1)
}

func TestTaskStatusNotFound(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodGet, "/task/"+uuid.NewString(), "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestTaskCancelNotFound(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodPost, "/task/"+uuid.NewString()+"/cancel", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSyncStartsTaskAndCompletes(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/sync", "")
	require.Equal(t, http.StatusAccepted, rec.Code)

	body := decodeBody(t, rec)
	taskID := body["task_id"].(string)
	require.NotEmpty(t, taskID)

	// ソースが空なので即座に完了する
	require.Eventually(t, func() bool {
		status := f.do(t, http.MethodGet, "/task/"+taskID, "")
		if status.Code != http.StatusOK {
			return false
		}
		snapshot := decodeBody(t, status)
		return snapshot["status"] == string(task.StatusCompleted)
	}, 5*time.Second, 10*time.Millisecond)
}

func TestQueryEmptyQuestion(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodPost, "/query", `{"question": "   "}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestQueryReturnsAggregatedResult(t *testing.T) {
	f := newFixture(t)
	f.vectors.chunkHits = []vector.ChunkHit{
		{DocumentID: 7, ChunkIndex: 0, Content: "The policy renews in March every year.", Score: 0.92},
	}

	rec := f.do(t, http.MethodPost, "/query", `{"question": "When does the policy renew?"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var result query.Result
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.Equal(t, "The policy renews in March.", result.Answer)
	require.NotEmpty(t, result.Sources)
	assert.Equal(t, 7, result.Sources[0].DocumentID)
	assert.Greater(t, result.Confidence, 0.0)
}

func TestQueryStreamEmitsServerSentEvents(t *testing.T) {
	f := newFixture(t)
	f.vectors.chunkHits = []vector.ChunkHit{
		{DocumentID: 7, ChunkIndex: 0, Content: "The policy renews in March every year.", Score: 0.92},
	}

	ts := httptest.NewServer(f.handler)
	defer ts.Close()

	resp, err := http.Post(ts.URL+"/query/stream", "application/json",
		strings.NewReader(`{"question": "When does the policy renew?"}`))
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	var types []string
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var ev query.Event
		require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &ev))
		types = append(types, string(ev.Type))
	}
	require.NoError(t, scanner.Err())

	assert.Contains(t, types, string(query.EventAnswerChunk))
	assert.Equal(t, string(query.EventComplete), types[len(types)-1])
}

func TestHealthReportsDegradedComponent(t *testing.T) {
	f := newFixture(t)
	f.vectors.pingErr = errors.New("connection refused")

	rec := f.do(t, http.MethodGet, "/health", "")
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)

	body := decodeBody(t, rec)
	assert.Equal(t, "degraded", body["status"])
	components := body["components"].(map[string]any)
	assert.Equal(t, "ok", components["graph_store"])
	assert.Contains(t, components["vector_store"], "connection refused")
}

func TestStatusReportsCountsAndStats(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodGet, "/status", "")
	require.Equal(t, http.StatusOK, rec.Code)

	body := decodeBody(t, rec)
	graphCounts := body["graph"].(map[string]any)
	assert.Equal(t, float64(3), graphCounts["entities"])
	embeddings := body["embeddings"].(map[string]any)
	assert.Equal(t, float64(5), embeddings["document_chunks"])
	assert.Nil(t, body["last_sync"])
}

func TestReindexDocumentRejectsBadID(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodPost, "/reindex/abc", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
