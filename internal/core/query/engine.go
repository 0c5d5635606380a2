package query

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/bmccarn/paperless-knowledge-graph/internal/core/graph"
	"github.com/bmccarn/paperless-knowledge-graph/internal/core/llm"
	"github.com/bmccarn/paperless-knowledge-graph/internal/core/vector"
	"github.com/bmccarn/paperless-knowledge-graph/internal/platform/cache"
)

// ErrEmptyQuestion は空の質問に対するエラー
var ErrEmptyQuestion = errors.New("question is empty")

// 1回の検索でソースごとに取得する件数
const (
	chunkSearchLimit   = 8
	entitySearchLimit  = 5
	keywordSearchLimit = 5
	graphSearchLimit   = 5
	expandEntityLimit  = 3
	maxFollowUpQueries = 3
	maxResultSources   = 5
)

// Engine はハイブリッド検索と回答合成のパイプラインです
// ベクトル・キーワード・グラフの3系統から文脈を集め、
// 不足があればLLMの判定に従って追加検索したうえで回答を生成します
type Engine struct {
	vectors   vector.Store
	graphRepo graph.Repository
	embedder  llm.Embedder
	client    llm.Client
	cache     *cache.Cache
	opts      Options
	logger    *slog.Logger
}

// NewEngine は新しいEngineを作成します
func NewEngine(vectors vector.Store, graphRepo graph.Repository, embedder llm.Embedder, client llm.Client, c *cache.Cache, opts Options, logger *slog.Logger) *Engine {
	if opts.MaxGapRounds < 0 {
		opts.MaxGapRounds = 0
	}
	if opts.ExpansionDepth <= 0 {
		opts.ExpansionDepth = DefaultOptions().ExpansionDepth
	}
	if opts.ExpansionNodeBudget <= 0 {
		opts.ExpansionNodeBudget = DefaultOptions().ExpansionNodeBudget
	}
	if opts.RetrievalTimeout <= 0 {
		opts.RetrievalTimeout = DefaultOptions().RetrievalTimeout
	}

	return &Engine{
		vectors:   vectors,
		graphRepo: graphRepo,
		embedder:  embedder,
		client:    client,
		cache:     c,
		opts:      opts,
		logger:    logger,
	}
}

// Answer は質問への回答をイベントストリームとして返します
// チャネルはCompleteまたはErrorの終端イベントの後に閉じられます
// 呼び出し側がコンテキストを打ち切った場合、生成は速やかに停止します
func (e *Engine) Answer(ctx context.Context, question string, history []Turn) (<-chan Event, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return nil, ErrEmptyQuestion
	}

	events := make(chan Event, 16)
	go e.run(ctx, question, history, events)
	return events, nil
}

func (e *Engine) run(ctx context.Context, question string, history []Turn, events chan<- Event) {
	defer close(events)

	emit := func(ev Event) bool {
		select {
		case events <- ev:
			return true
		case <-ctx.Done():
			return false
		}
	}

	// 完成済みの回答があればそのまま返す
	cacheKey := cache.NormalizeQueryKey(question)
	if cached, ok := e.cache.Get(cache.NamespaceQuery, cacheKey); ok {
		if result, ok := cached.(Result); ok {
			e.logger.Info("キャッシュ済みの回答を返します", "question", question)
			result.Cached = true
			emit(Event{Type: EventComplete, Result: &result})
			return
		}
	}

	if !emit(Event{Type: EventStatus, Message: "Searching documents and knowledge graph"}) {
		return
	}

	ret := newRetrieval()
	e.retrieve(ctx, question, ret)
	e.expand(ctx, ret)

	// ギャップ分析: 文脈が足りなければ追加検索する
	// LLMが常に不足と判定してもラウンド上限で必ず打ち切る
	sufficient := true
	var pendingFollowUps []string
	for round := 0; round < e.opts.MaxGapRounds; round++ {
		verdict := e.analyzeGaps(ctx, question, ret)
		sufficient = verdict.Sufficient
		pendingFollowUps = verdict.FollowUpQueries
		if verdict.Sufficient || len(verdict.FollowUpQueries) == 0 {
			break
		}

		if !emit(Event{Type: EventStatus, Message: fmt.Sprintf("Gathering additional context (round %d)", round+1)}) {
			return
		}
		e.logger.Info("追加検索を行います", "round", round+1, "queries", verdict.FollowUpQueries)

		queries := verdict.FollowUpQueries
		if len(queries) > maxFollowUpQueries {
			queries = queries[:maxFollowUpQueries]
		}
		for _, q := range queries {
			e.retrieve(ctx, q, ret)
		}
		e.expand(ctx, ret)
	}

	if ctx.Err() != nil {
		return
	}
	if !emit(Event{Type: EventStatus, Message: "Generating answer"}) {
		return
	}

	answer, err := e.synthesize(ctx, question, ret, history, emit)
	if err != nil {
		e.logger.Error("回答の生成に失敗しました", "question", question, "error", err)
		emit(Event{Type: EventError, Message: fmt.Sprintf("failed to generate answer: %v", err)})
		return
	}

	result := Result{
		Question:   question,
		Answer:     answer,
		Sources:    ret.topSources(maxResultSources),
		Entities:   resultEntities(ret),
		Confidence: confidence(ret, sufficient),
		FollowUps:  pendingFollowUps,
	}
	e.cache.Set(cache.NamespaceQuery, cacheKey, result)

	emit(Event{Type: EventComplete, Result: &result})
}

// retrieve は1つの検索語で全ソースを並行に引きます
// 失敗したソースはログに残して読み飛ばし、残りの結果で続行します
func (e *Engine) retrieve(ctx context.Context, term string, ret *retrieval) {
	termKey := cache.NormalizeQueryKey(term)

	var embedding []float32
	if emb, err := e.embedder.Embed(ctx, term); err != nil {
		e.logger.Warn("質問の埋め込みに失敗しました。ベクトル検索を読み飛ばします", "term", term, "error", err)
	} else {
		embedding = emb
	}

	g, gctx := errgroup.WithContext(ctx)

	if embedding != nil {
		g.Go(func() error {
			hits, err := e.searchChunks(gctx, termKey, embedding)
			if err != nil {
				e.logger.Warn("ベクトル検索に失敗しました", "term", term, "error", err)
				return nil
			}
			ret.addChunks(hits, vectorWeight)
			return nil
		})
		g.Go(func() error {
			hits, err := e.searchEntityEmbeddings(gctx, termKey, embedding)
			if err != nil {
				e.logger.Warn("エンティティ埋め込み検索に失敗しました", "term", term, "error", err)
				return nil
			}
			ret.addEntityHits(hits)
			return nil
		})
	}

	g.Go(func() error {
		hits, err := e.searchKeyword(gctx, termKey, term)
		if err != nil {
			e.logger.Warn("キーワード検索に失敗しました", "term", term, "error", err)
			return nil
		}
		ret.addChunks(hits, keywordWeight)
		return nil
	})

	g.Go(func() error {
		nodes, err := e.searchGraph(gctx, termKey, term)
		if err != nil {
			e.logger.Warn("グラフ検索に失敗しました", "term", term, "error", err)
			return nil
		}
		ret.addNodes(nodes)
		return nil
	})

	_ = g.Wait()
}

func (e *Engine) searchChunks(ctx context.Context, termKey string, embedding []float32) ([]vector.ChunkHit, error) {
	key := "chunks:" + termKey
	if cached, ok := e.cache.Get(cache.NamespaceVector, key); ok {
		if hits, ok := cached.([]vector.ChunkHit); ok {
			return hits, nil
		}
	}

	tctx, cancel := context.WithTimeout(ctx, e.opts.RetrievalTimeout)
	defer cancel()

	hits, err := e.vectors.Search(tctx, embedding, chunkSearchLimit)
	if err != nil {
		return nil, err
	}
	e.cache.Set(cache.NamespaceVector, key, hits)
	return hits, nil
}

func (e *Engine) searchEntityEmbeddings(ctx context.Context, termKey string, embedding []float32) ([]vector.EntityHit, error) {
	key := "entities:" + termKey
	if cached, ok := e.cache.Get(cache.NamespaceVector, key); ok {
		if hits, ok := cached.([]vector.EntityHit); ok {
			return hits, nil
		}
	}

	tctx, cancel := context.WithTimeout(ctx, e.opts.RetrievalTimeout)
	defer cancel()

	hits, err := e.vectors.SearchEntities(tctx, embedding, entitySearchLimit)
	if err != nil {
		return nil, err
	}
	e.cache.Set(cache.NamespaceVector, key, hits)
	return hits, nil
}

func (e *Engine) searchKeyword(ctx context.Context, termKey, term string) ([]vector.ChunkHit, error) {
	key := "keyword:" + termKey
	if cached, ok := e.cache.Get(cache.NamespaceVector, key); ok {
		if hits, ok := cached.([]vector.ChunkHit); ok {
			return hits, nil
		}
	}

	tctx, cancel := context.WithTimeout(ctx, e.opts.RetrievalTimeout)
	defer cancel()

	hits, err := e.vectors.KeywordSearch(tctx, term, keywordSearchLimit)
	if err != nil {
		return nil, err
	}
	e.cache.Set(cache.NamespaceVector, key, hits)
	return hits, nil
}

func (e *Engine) searchGraph(ctx context.Context, termKey, term string) ([]graph.Node, error) {
	key := "search:" + termKey
	if cached, ok := e.cache.Get(cache.NamespaceGraph, key); ok {
		if nodes, ok := cached.([]graph.Node); ok {
			return nodes, nil
		}
	}

	tctx, cancel := context.WithTimeout(ctx, e.opts.RetrievalTimeout)
	defer cancel()

	nodes, err := e.graphRepo.SearchNodes(tctx, term, "", graphSearchLimit)
	if err != nil {
		return nil, err
	}
	e.cache.Set(cache.NamespaceGraph, key, nodes)
	return nodes, nil
}

// expand は上位エンティティの近傍を取り込みます
func (e *Engine) expand(ctx context.Context, ret *retrieval) {
	entities := ret.topEntities(expandEntityLimit)
	if len(entities) == 0 {
		return
	}

	budget := e.opts.ExpansionNodeBudget / len(entities)
	for _, entity := range entities {
		key := fmt.Sprintf("neighbors:%s:%d", entity.id, e.opts.ExpansionDepth)
		if cached, ok := e.cache.Get(cache.NamespaceGraph, key); ok {
			if n, ok := cached.(graph.Neighborhood); ok {
				ret.addNeighborhood(n)
				continue
			}
		}

		tctx, cancel := context.WithTimeout(ctx, e.opts.RetrievalTimeout)
		n, err := e.graphRepo.Neighbors(tctx, entity.id, e.opts.ExpansionDepth, budget)
		cancel()
		if err != nil {
			e.logger.Warn("グラフ展開に失敗しました", "entity", entity.name, "error", err)
			continue
		}

		e.cache.Set(cache.NamespaceGraph, key, n)
		ret.addNeighborhood(n)
	}
}

// gapVerdict はギャップ分析の判定結果
type gapVerdict struct {
	Sufficient      bool     `json:"sufficient"`
	FollowUpQueries []string `json:"follow_up_queries"`
}

// analyzeGaps は集めた文脈で回答に足りるかをLLMに判定させます
// 判定自体が失敗した場合は追加検索せず手持ちの文脈で回答します
func (e *Engine) analyzeGaps(ctx context.Context, question string, ret *retrieval) gapVerdict {
	contextText := ret.documentContext()
	if graphText := ret.graphContext(); graphText != "" {
		contextText += "\n\nGraph context:\n" + graphText
	}

	resp, err := e.client.Complete(ctx, llm.CompletionRequest{
		Prompt:      fmt.Sprintf(gapAnalysisPrompt, question, contextText),
		Temperature: 0.0,
		JSONMode:    true,
	})
	if err != nil {
		e.logger.Warn("ギャップ分析に失敗しました。手持ちの文脈で回答します", "error", err)
		return gapVerdict{Sufficient: true}
	}

	var verdict gapVerdict
	if err := json.Unmarshal([]byte(resp.Content), &verdict); err != nil {
		e.logger.Warn("ギャップ分析の応答を解釈できませんでした", "error", err)
		return gapVerdict{Sufficient: true}
	}
	return verdict
}

// synthesize は回答をストリーミング生成し、全文を返します
func (e *Engine) synthesize(ctx context.Context, question string, ret *retrieval, history []Turn, emit func(Event) bool) (string, error) {
	prompt := buildSynthesisPrompt(question, ret, history)

	stream, err := e.client.CompleteStream(ctx, llm.CompletionRequest{
		Prompt:      prompt,
		Temperature: 0.3,
	})
	if err != nil {
		return "", err
	}

	var answer []byte
	for chunk := range stream {
		if chunk.Err != nil {
			if len(answer) > 0 {
				// 途中まで生成できた回答は失敗として扱わない
				e.logger.Warn("回答ストリームが途中で終了しました", "error", chunk.Err)
				return string(answer), nil
			}
			return "", chunk.Err
		}
		answer = append(answer, chunk.Content...)
		if !emit(Event{Type: EventAnswerChunk, Content: chunk.Content}) {
			return "", ctx.Err()
		}
	}

	if len(answer) == 0 {
		return "", llm.ErrEmptyResponse
	}
	return string(answer), nil
}

func resultEntities(ret *retrieval) []EntityRef {
	entities := ret.topEntities(maxContextEntities)
	out := make([]EntityRef, 0, len(entities))
	for _, e := range entities {
		out = append(out, EntityRef{ID: e.id, Name: e.name})
	}
	return out
}

// confidence は根拠の強さから確信度を見積もります
// 最良の文書スコアを基礎とし、ギャップ分析の充足判定で補正します
func confidence(ret *retrieval, sufficient bool) float64 {
	base := ret.bestScore()
	if base > 1 {
		base = 1
	}
	if base < 0 {
		base = 0
	}

	conf := 0.3 + base*0.5
	if sufficient {
		conf += 0.15
	}
	if conf > 0.95 {
		conf = 0.95
	}
	return round3(conf)
}
