package extraction

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/bmccarn/paperless-knowledge-graph/internal/core/llm"
)

const (
	// extractionTokenBudget はスキーマ抽出プロンプト本文のトークン上限
	extractionTokenBudget = 3000

	// fallbackTokenBudget はフォールバック抽出時の本文トークン上限
	fallbackTokenBudget = 1500

	// fallbackConfidencePenalty はフォールバック抽出結果の確信度に掛ける係数
	fallbackConfidencePenalty = 0.8

	// defaultConfidence はLLMが確信度を返さなかった場合の値
	defaultConfidence = 0.5
)

// ErrExtractionFailed はスキーマ抽出とフォールバック抽出の両方が失敗した場合のエラー
var ErrExtractionFailed = errors.New("extraction failed")

// Extractor は文書から構造化情報をLLMで抽出します
type Extractor struct {
	client    llm.Client
	truncator *Truncator
	logger    *slog.Logger
}

// NewExtractor はExtractorを作成します
func NewExtractor(client llm.Client, truncator *Truncator, logger *slog.Logger) *Extractor {
	return &Extractor{
		client:    client,
		truncator: truncator,
		logger:    logger,
	}
}

// Extract は文書種別に対応するスキーマで構造化情報を抽出します
// スキーマ抽出に失敗した場合は汎用スキーマによるフォールバック抽出を行い、
// それも失敗した場合はErrExtractionFailedを返します
func (e *Extractor) Extract(ctx context.Context, title, content string, docType DocType) (Result, error) {
	truncated := e.truncator.Truncate(content, extractionCharBudget, extractionTokenBudget)
	prompt := buildPrompt(PromptForType(docType), title, truncated)

	fields, err := e.complete(ctx, prompt)
	if err == nil {
		return buildResult(docType, fields, false), nil
	}

	e.logger.Warn("スキーマ抽出に失敗しました。フォールバック抽出に切り替えます",
		"title", title,
		"doc_type", string(docType),
		"error", err,
	)

	// フォールバックは本文の先頭のみを短い予算で渡す
	fallbackContent := e.truncator.Truncate(content, fallbackCharBudget, fallbackTokenBudget)
	fallbackPrompt := buildPrompt(genericPrompt, title, fallbackContent)

	fields, err = e.complete(ctx, fallbackPrompt)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrExtractionFailed, err)
	}

	return buildResult(docType, fields, true), nil
}

func (e *Extractor) complete(ctx context.Context, prompt string) (map[string]any, error) {
	resp, err := e.client.Complete(ctx, llm.CompletionRequest{
		Prompt:      prompt,
		Temperature: 0.0,
		JSONMode:    true,
	})
	if err != nil {
		return nil, err
	}

	var fields map[string]any
	if err := json.Unmarshal([]byte(resp.Content), &fields); err != nil {
		return nil, fmt.Errorf("%w: %v", llm.ErrInvalidJSON, err)
	}
	return fields, nil
}

func buildResult(docType DocType, fields map[string]any, fallback bool) Result {
	confidence := defaultConfidence
	if c, ok := fields["confidence"].(float64); ok {
		confidence = c
	}
	if fallback {
		confidence *= fallbackConfidencePenalty
	}

	return Result{
		DocType:              docType,
		Fields:               fields,
		Confidence:           confidence,
		ImpliedRelationships: parseImpliedRelationships(fields["implied_relationships"]),
		Fallback:             fallback,
	}
}

// parseImpliedRelationships はレスポンス中の暗黙関係を解析します
// 形式が不正な要素は読み飛ばします
func parseImpliedRelationships(raw any) []ImpliedRelationship {
	items, ok := raw.([]any)
	if !ok {
		return nil
	}

	var rels []ImpliedRelationship
	for _, item := range items {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}

		rel := ImpliedRelationship{
			FromEntity:   stringField(m, "from_entity"),
			FromType:     stringField(m, "from_type"),
			ToEntity:     stringField(m, "to_entity"),
			ToType:       stringField(m, "to_type"),
			Relationship: stringField(m, "relationship"),
		}
		if c, ok := m["confidence"].(float64); ok {
			rel.Confidence = c
		}

		if rel.FromEntity == "" || rel.ToEntity == "" || rel.Relationship == "" {
			continue
		}
		rels = append(rels, rel)
	}
	return rels
}

func stringField(m map[string]any, key string) string {
	s, _ := m[key].(string)
	return s
}
