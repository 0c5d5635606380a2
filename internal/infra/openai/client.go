package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/shared"

	"github.com/bmccarn/paperless-knowledge-graph/internal/core/llm"
	"github.com/bmccarn/paperless-knowledge-graph/internal/platform/retry"
)

const (
	// DefaultModel はデフォルトで使用するモデル
	DefaultModel = "gpt-4o-mini"

	// DefaultTimeout はAPI呼び出しのデフォルトタイムアウト
	DefaultTimeout = 60 * time.Second

	// JSONParseMaxRetries はJSON解析エラー時の最大リトライ回数
	JSONParseMaxRetries = 1
)

var (
	// ErrAPIKeyNotSet はAPIキーが設定されていない場合のエラー
	ErrAPIKeyNotSet = errors.New("OpenAI API key not set")
)

// Client はOpenAI APIを使用したLLMクライアント実装
type Client struct {
	client  openai.Client
	model   string
	timeout time.Duration
}

// NewClient はAPIキーとモデルを指定してClientを作成します
// baseURLを指定するとLiteLLM等のプロキシ経由で呼び出します
func NewClient(apiKey, baseURL, model string) (*Client, error) {
	if apiKey == "" {
		return nil, ErrAPIKeyNotSet
	}

	if model == "" {
		model = DefaultModel
	}

	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}

	return &Client{
		client:  openai.NewClient(opts...),
		model:   model,
		timeout: DefaultTimeout,
	}, nil
}

// SetTimeout はAPIコールのタイムアウトを設定します
func (c *Client) SetTimeout(timeout time.Duration) {
	c.timeout = timeout
}

// Complete はプロンプトに対する生成結果を返します
// レート制限・一時的エラーはバックオフ付きでリトライし、
// JSON形式が要求された場合は妥当性も検証します
func (c *Client) Complete(ctx context.Context, req llm.CompletionRequest) (llm.CompletionResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var jsonParseRetries int
	for {
		resp, err := c.completeWithRetry(ctx, req)
		if err != nil {
			return llm.CompletionResponse{}, err
		}

		if req.JSONMode && !isValidJSON(resp.Content) {
			jsonParseRetries++
			if jsonParseRetries > JSONParseMaxRetries {
				return llm.CompletionResponse{}, fmt.Errorf("%w after %d retries", llm.ErrInvalidJSON, JSONParseMaxRetries)
			}
			continue
		}

		return resp, nil
	}
}

func (c *Client) completeWithRetry(ctx context.Context, req llm.CompletionRequest) (llm.CompletionResponse, error) {
	var out llm.CompletionResponse

	err := retry.Do(ctx, "openai.complete", retry.Remote(), func(ctx context.Context) error {
		completion, err := c.client.Chat.Completions.New(ctx, c.buildParams(req))
		if err != nil {
			return classifyError(err)
		}

		if len(completion.Choices) == 0 {
			return retry.Permanent(llm.ErrEmptyResponse)
		}

		out = llm.CompletionResponse{
			Content:    completion.Choices[0].Message.Content,
			TokensUsed: int(completion.Usage.TotalTokens),
			Model:      string(completion.Model),
		}
		return nil
	})
	if err != nil {
		return llm.CompletionResponse{}, fmt.Errorf("OpenAI API call failed: %w", err)
	}

	return out, nil
}

// CompleteStream は生成結果をチャンク単位で返します
// チャネルは生成完了またはエラーで閉じられます
func (c *Client) CompleteStream(ctx context.Context, req llm.CompletionRequest) (<-chan llm.StreamChunk, error) {
	stream := c.client.Chat.Completions.NewStreaming(ctx, c.buildParams(req))

	out := make(chan llm.StreamChunk)
	go func() {
		defer close(out)

		for stream.Next() {
			chunk := stream.Current()
			if len(chunk.Choices) == 0 {
				continue
			}
			content := chunk.Choices[0].Delta.Content
			if content == "" {
				continue
			}

			select {
			case out <- llm.StreamChunk{Content: content}:
			case <-ctx.Done():
				return
			}
		}

		if err := stream.Err(); err != nil {
			select {
			case out <- llm.StreamChunk{Err: fmt.Errorf("streaming failed: %w", err)}:
			case <-ctx.Done():
			}
		}
	}()

	return out, nil
}

func (c *Client) buildParams(req llm.CompletionRequest) openai.ChatCompletionNewParams {
	params := openai.ChatCompletionNewParams{
		Model: shared.ChatModel(c.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.UserMessage(req.Prompt),
		},
		Temperature: openai.Float(req.Temperature),
	}

	if req.MaxTokens > 0 {
		params.MaxTokens = openai.Int(int64(req.MaxTokens))
	}

	if req.JSONMode {
		params.ResponseFormat = openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONObject: &shared.ResponseFormatJSONObjectParam{
				Type: "json_object",
			},
		}
	}

	return params
}

// classifyError はSDKのエラーをリトライ分類可能な形に変換します
func classifyError(err error) error {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return retry.NewStatusError(apiErr.StatusCode, apiErr.Message)
	}
	return err
}

// isValidJSON は文字列が有効なJSONかどうかを判定します
func isValidJSON(s string) bool {
	var js json.RawMessage
	return json.Unmarshal([]byte(s), &js) == nil
}

// インターフェース実装の確認
var _ llm.Client = (*Client)(nil)
