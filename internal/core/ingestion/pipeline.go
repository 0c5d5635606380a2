package ingestion

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/bmccarn/paperless-knowledge-graph/internal/core/document"
	"github.com/bmccarn/paperless-knowledge-graph/internal/core/extraction"
	"github.com/bmccarn/paperless-knowledge-graph/internal/core/graph"
	"github.com/bmccarn/paperless-knowledge-graph/internal/core/llm"
	"github.com/bmccarn/paperless-knowledge-graph/internal/core/resolution"
	"github.com/bmccarn/paperless-knowledge-graph/internal/core/task"
	"github.com/bmccarn/paperless-knowledge-graph/internal/core/vector"
)

// Pipeline は文書の分類・抽出・グラフ構築・埋め込み保存を統括します
type Pipeline struct {
	source     document.Source
	classifier *extraction.Classifier
	extractor  *extraction.Extractor
	resolver   *resolution.Resolver
	graphRepo  graph.Repository
	vectors    vector.Store
	embedder   llm.Embedder
	syncState  SyncStateStore
	hashes     HashStore

	chunkSize     int
	chunkOverlap  int
	maxConcurrent int
	logger        *slog.Logger
}

// Deps はPipelineの依存一式
type Deps struct {
	Source     document.Source
	Classifier *extraction.Classifier
	Extractor  *extraction.Extractor
	Resolver   *resolution.Resolver
	GraphRepo  graph.Repository
	Vectors    vector.Store
	Embedder   llm.Embedder
	SyncState  SyncStateStore
	Hashes     HashStore

	// MaxConcurrent は同時に処理する文書数（0以下なら1）
	MaxConcurrent int
	Logger        *slog.Logger
}

// NewPipeline は新しいPipelineを作成します
func NewPipeline(deps Deps) *Pipeline {
	maxConcurrent := deps.MaxConcurrent
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}
	return &Pipeline{
		source:        deps.Source,
		classifier:    deps.Classifier,
		extractor:     deps.Extractor,
		resolver:      deps.Resolver,
		graphRepo:     deps.GraphRepo,
		vectors:       deps.Vectors,
		embedder:      deps.Embedder,
		syncState:     deps.SyncState,
		hashes:        deps.Hashes,
		chunkSize:     DefaultChunkSize,
		chunkOverlap:  DefaultChunkOverlap,
		maxConcurrent: maxConcurrent,
		logger:        deps.Logger,
	}
}

// Summary はバッチ処理の集計結果
type Summary struct {
	Total             int     `json:"total"`
	Processed         int     `json:"processed"`
	Skipped           int     `json:"skipped"`
	Errors            int     `json:"errors"`
	ElapsedSeconds    float64 `json:"elapsed_seconds"`
	DocsPerMinute     float64 `json:"docs_per_minute"`
	AvgEntitiesPerDoc float64 `json:"avg_entities_per_doc"`
}

// ProcessDocument は1文書をパイプライン全体に通します
// 文書単位の失敗はOutcomeに畳み込み、ストア自体に到達できない場合のみ
// バッチを中断すべきエラーとして返します
func (p *Pipeline) ProcessDocument(ctx context.Context, doc document.Document) (task.Outcome, error) {
	outcome := task.Outcome{DocID: doc.ID, Title: doc.Title}

	if doc.IsEmpty() {
		p.logger.Warn("本文が空のため読み飛ばします", "doc_id", doc.ID)
		outcome.Status = "skipped"
		return outcome, nil
	}

	hash := doc.ContentHash()
	existing, err := p.hashes.Hash(ctx, doc.ID)
	if err != nil {
		return outcome, fmt.Errorf("failed to read document hash: %w", err)
	}
	if stored, ok := existing.Get(); ok && stored == hash {
		p.logger.Info("本文に変更がないため読み飛ばします", "doc_id", doc.ID)
		outcome.Status = "skipped"
		return outcome, nil
	}

	p.logger.Info("文書を処理します", "doc_id", doc.ID, "title", doc.Title)

	classification := p.classifier.Classify(ctx, doc.Title, doc.Content)
	p.logger.Info("文書を分類しました",
		"doc_id", doc.ID,
		"doc_type", string(classification.DocType),
		"confidence", classification.Confidence,
	)

	result, err := p.extractor.Extract(ctx, doc.Title, doc.Content, classification.DocType)
	if err != nil {
		p.logger.Error("抽出に失敗しました", "doc_id", doc.ID, "error", err)
		outcome.Status = "error"
		outcome.Error = err.Error()
		return outcome, nil
	}

	// 再処理に備えて旧データを先に消す
	if err := p.graphRepo.DeleteDocumentGraph(ctx, doc.ID); err != nil {
		return outcome, fmt.Errorf("failed to clear old graph data: %w", err)
	}
	if err := p.vectors.DeleteDocument(ctx, doc.ID); err != nil {
		return outcome, fmt.Errorf("failed to clear old embeddings: %w", err)
	}

	docNodeID, err := p.graphRepo.UpsertDocumentNode(ctx, graph.DocumentNode{
		DocID:     doc.ID,
		Title:     doc.Title,
		DocType:   string(classification.DocType),
		CreatedAt: doc.CreatedAt,
	})
	if err != nil {
		return outcome, fmt.Errorf("failed to create document node: %w", err)
	}

	counter := p.processExtraction(ctx, doc.ID, docNodeID, result)
	counter.relationships += p.processImpliedRelationships(ctx, doc.ID, result.ImpliedRelationships)

	chunks := ChunkText(doc.Content, p.chunkSize, p.chunkOverlap)
	if len(chunks) > 0 {
		embeddings, err := p.embedder.BatchEmbed(ctx, chunks)
		if err != nil {
			p.logger.Error("埋め込み生成に失敗しました", "doc_id", doc.ID, "error", err)
			outcome.Status = "error"
			outcome.Error = err.Error()
			return outcome, nil
		}
		for i, chunk := range chunks {
			if i >= len(embeddings) {
				break
			}
			if err := p.vectors.StoreChunk(ctx, vector.Chunk{
				DocumentID: doc.ID,
				ChunkIndex: i,
				Content:    chunk,
			}, embeddings[i]); err != nil {
				return outcome, fmt.Errorf("failed to store chunk: %w", err)
			}
		}
		p.logger.Info("埋め込みを保存しました", "doc_id", doc.ID, "chunks", len(chunks))
	}

	p.storeEntityEmbeddings(ctx, doc.ID, result.Fields)

	if err := p.hashes.SetHash(ctx, doc.ID, hash); err != nil {
		return outcome, fmt.Errorf("failed to record document hash: %w", err)
	}

	outcome.Status = "processed"
	outcome.Entities = counter.entities
	outcome.Relationships = counter.relationships
	return outcome, nil
}

// Sync は最終同期以降に変更された文書を処理します
func (p *Pipeline) Sync(ctx context.Context, progress *task.Progress) (Summary, error) {
	lastSync, err := p.syncState.LastSync(ctx)
	if err != nil {
		return Summary{}, fmt.Errorf("failed to read sync state: %w", err)
	}

	var docs []document.Document
	if since, ok := lastSync.Get(); ok {
		p.logger.Info("差分同期を開始します", "last_sync", since)
		docs, err = p.source.ListModifiedSince(ctx, since)
	} else {
		p.logger.Info("初回同期を開始します")
		docs, err = p.source.ListAll(ctx)
	}
	if err != nil {
		return Summary{}, fmt.Errorf("failed to list documents: %w", err)
	}

	summary, err := p.processBatch(ctx, docs, progress)
	if err != nil {
		return summary, err
	}

	if err := p.syncState.SetLastSync(ctx, time.Now().UTC()); err != nil {
		return summary, fmt.Errorf("failed to record sync time: %w", err)
	}

	p.logger.Info("同期が完了しました",
		"processed", summary.Processed,
		"skipped", summary.Skipped,
		"errors", summary.Errors,
		"elapsed_seconds", summary.ElapsedSeconds,
		"docs_per_minute", summary.DocsPerMinute,
	)
	return summary, nil
}

// ReindexAll は全データを破棄して全文書を再処理します
func (p *Pipeline) ReindexAll(ctx context.Context, progress *task.Progress) (Summary, error) {
	p.logger.Info("全再構築を開始します")

	if err := p.graphRepo.ClearAll(ctx); err != nil {
		return Summary{}, fmt.Errorf("failed to clear graph: %w", err)
	}
	if err := p.vectors.ClearAll(ctx); err != nil {
		return Summary{}, fmt.Errorf("failed to clear embeddings: %w", err)
	}
	if err := p.hashes.ClearAll(ctx); err != nil {
		return Summary{}, fmt.Errorf("failed to clear hashes: %w", err)
	}
	if err := p.syncState.ResetSync(ctx); err != nil {
		return Summary{}, fmt.Errorf("failed to reset sync state: %w", err)
	}

	docs, err := p.source.ListAll(ctx)
	if err != nil {
		return Summary{}, fmt.Errorf("failed to list documents: %w", err)
	}

	summary, err := p.processBatch(ctx, docs, progress)
	if err != nil {
		return summary, err
	}

	if err := p.syncState.SetLastSync(ctx, time.Now().UTC()); err != nil {
		return summary, fmt.Errorf("failed to record sync time: %w", err)
	}

	p.logger.Info("全再構築が完了しました",
		"processed", summary.Processed,
		"errors", summary.Errors,
		"elapsed_seconds", summary.ElapsedSeconds,
	)
	return summary, nil
}

// ReindexDocument は1文書を削除してから再処理します
func (p *Pipeline) ReindexDocument(ctx context.Context, docID int) (task.Outcome, error) {
	p.logger.Info("文書を再構築します", "doc_id", docID)

	doc, err := p.source.Get(ctx, docID)
	if err != nil {
		return task.Outcome{DocID: docID}, fmt.Errorf("failed to fetch document: %w", err)
	}

	if err := p.hashes.DeleteHash(ctx, docID); err != nil {
		return task.Outcome{DocID: docID}, fmt.Errorf("failed to delete document hash: %w", err)
	}
	if err := p.graphRepo.DeleteDocumentGraph(ctx, docID); err != nil {
		return task.Outcome{DocID: docID}, fmt.Errorf("failed to delete document graph: %w", err)
	}
	if err := p.vectors.DeleteDocument(ctx, docID); err != nil {
		return task.Outcome{DocID: docID}, fmt.Errorf("failed to delete document embeddings: %w", err)
	}

	return p.ProcessDocument(ctx, doc)
}

// processBatch は文書群を並行処理し、結果を集計します
// 文書単位の失敗は集計に含め、ストア到達不能のみ全体を中断します
func (p *Pipeline) processBatch(ctx context.Context, docs []document.Document, progress *task.Progress) (Summary, error) {
	start := time.Now()
	if progress != nil {
		progress.SetTotal(len(docs))
	}

	var mu sync.Mutex
	summary := Summary{Total: len(docs)}
	totalEntities := 0

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.maxConcurrent)

	for _, doc := range docs {
		g.Go(func() error {
			if gctx.Err() != nil {
				return gctx.Err()
			}
			if progress != nil {
				progress.SetCurrent(doc.Title)
			}

			// キャンセルは文書境界でのみ効かせる。処理中の文書は
			// 最後まで書き切り、部分的な書き込みを残さない
			outcome, err := p.ProcessDocument(context.WithoutCancel(gctx), doc)
			if err != nil {
				if isStoreUnavailable(err) || gctx.Err() != nil {
					return err
				}
				// 文書単位のインフラ失敗はエラーとして集計し、処理は続行
				outcome.Status = "error"
				outcome.Error = err.Error()
				p.logger.Error("文書の処理に失敗しました", "doc_id", doc.ID, "error", err)
			}

			if progress != nil {
				progress.Record(outcome)
			}

			mu.Lock()
			switch outcome.Status {
			case "processed":
				summary.Processed++
				totalEntities += outcome.Entities
			case "skipped":
				summary.Skipped++
			case "error":
				summary.Errors++
			}
			mu.Unlock()
			return nil
		})
	}

	err := g.Wait()

	elapsed := time.Since(start)
	summary.ElapsedSeconds = round1(elapsed.Seconds())
	if summary.Processed > 0 && elapsed > 0 {
		summary.DocsPerMinute = round1(float64(summary.Processed) / elapsed.Minutes())
		summary.AvgEntitiesPerDoc = round1(float64(totalEntities) / float64(summary.Processed))
	}

	if err != nil {
		return summary, err
	}
	return summary, nil
}

// isStoreUnavailable はバッチ全体を中断すべきエラーか判定します
func isStoreUnavailable(err error) bool {
	return errors.Is(err, graph.ErrStoreUnavailable) || errors.Is(err, vector.ErrStoreUnavailable)
}

func round1(v float64) float64 {
	return float64(int(v*10+0.5)) / 10
}
