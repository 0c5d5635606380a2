package llm

import (
	"context"
	"errors"
)

var (
	// ErrEmptyResponse はLLMが空のレスポンスを返した場合のエラー
	ErrEmptyResponse = errors.New("empty LLM response")

	// ErrInvalidJSON はJSON形式が要求されたのに不正なJSONが返された場合のエラー
	ErrInvalidJSON = errors.New("LLM returned invalid JSON")
)

// CompletionRequest はテキスト生成リクエスト
type CompletionRequest struct {
	// Prompt はユーザープロンプト
	Prompt string

	// Temperature は生成のランダム性（0.0〜2.0）
	Temperature float64

	// MaxTokens は生成トークン数の上限（0は無制限）
	MaxTokens int

	// JSONMode はJSONオブジェクトのみを返すよう要求するかどうか
	JSONMode bool
}

// CompletionResponse はテキスト生成レスポンス
type CompletionResponse struct {
	Content    string
	TokensUsed int
	Model      string
}

// StreamChunk はストリーミング生成の1断片
type StreamChunk struct {
	// Content は増分テキスト
	Content string

	// Err は生成途中のエラー（設定されている場合、以降のチャンクは来ない）
	Err error
}

// Client はLLMによるテキスト生成のポートです
type Client interface {
	// Complete はプロンプトに対する生成結果を返します
	Complete(ctx context.Context, req CompletionRequest) (CompletionResponse, error)

	// CompleteStream は生成結果をチャンク単位で返します
	// チャネルは生成完了またはエラーで閉じられます
	CompleteStream(ctx context.Context, req CompletionRequest) (<-chan StreamChunk, error)
}

// Embedder はテキストのベクトル化ポートです
type Embedder interface {
	// Embed は1テキストの埋め込みベクトルを返します
	Embed(ctx context.Context, text string) ([]float32, error)

	// BatchEmbed は複数テキストをまとめてベクトル化します
	BatchEmbed(ctx context.Context, texts []string) ([][]float32, error)

	// Dimension はベクトルの次元数を返します
	Dimension() int
}
