package extraction

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/bmccarn/paperless-knowledge-graph/internal/core/llm"
)

// classificationTokenBudget は分類プロンプト本文のトークン上限
const classificationTokenBudget = 1024

// Classifier は文書をLLMで分類します
type Classifier struct {
	client    llm.Client
	truncator *Truncator
	logger    *slog.Logger
}

// NewClassifier はClassifierを作成します
func NewClassifier(client llm.Client, truncator *Truncator, logger *slog.Logger) *Classifier {
	return &Classifier{
		client:    client,
		truncator: truncator,
		logger:    logger,
	}
}

type classificationResponse struct {
	DocType    string  `json:"doc_type"`
	Confidence float64 `json:"confidence"`
}

// Classify は文書を既知の種別のいずれかに分類します
// 分類に失敗した場合・未知のラベルが返された場合はフォールバック種別
// （confidence 0.0）を返し、エラーにはしません
func (c *Classifier) Classify(ctx context.Context, title, content string) Classification {
	truncated := c.truncator.Truncate(content, classificationCharBudget, classificationTokenBudget)
	prompt := buildPrompt(classificationPrompt, title, truncated)

	resp, err := c.client.Complete(ctx, llm.CompletionRequest{
		Prompt:      prompt,
		Temperature: 0.0,
		JSONMode:    true,
	})
	if err != nil {
		c.logger.Error("文書分類に失敗しました", "title", title, "error", err)
		return Classification{DocType: FallbackDocType, Confidence: 0.0}
	}

	var result classificationResponse
	if err := json.Unmarshal([]byte(resp.Content), &result); err != nil {
		c.logger.Error("分類レスポンスの解析に失敗しました", "title", title, "error", err)
		return Classification{DocType: FallbackDocType, Confidence: 0.0}
	}

	docType := DocType(result.DocType)
	if !IsValidDocType(docType) {
		c.logger.Warn("未知の文書種別が返されました",
			"title", title,
			"doc_type", result.DocType,
		)
		return Classification{DocType: FallbackDocType, Confidence: 0.0}
	}

	return Classification{DocType: docType, Confidence: result.Confidence}
}
