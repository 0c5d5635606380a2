package openai

import (
	"context"
	"fmt"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"

	"github.com/bmccarn/paperless-knowledge-graph/internal/core/llm"
	"github.com/bmccarn/paperless-knowledge-graph/internal/platform/retry"
)

// maxBatchSize は1回のEmbedding APIコールに渡せる最大件数
const maxBatchSize = 100

// Embedder はOpenAI APIを使用したEmbedder実装
type Embedder struct {
	client    openai.Client
	model     string
	dimension int
}

// NewEmbedder は新しいEmbedderを作成します
func NewEmbedder(apiKey, baseURL, model string, dimension int) (*Embedder, error) {
	if apiKey == "" {
		return nil, ErrAPIKeyNotSet
	}

	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}

	return &Embedder{
		client:    openai.NewClient(opts...),
		model:     model,
		dimension: dimension,
	}, nil
}

// Embed はテキストからEmbeddingベクトルを生成します
func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	embeddings, err := e.BatchEmbed(ctx, []string{text})
	if err != nil {
		return nil, err
	}

	if len(embeddings) == 0 {
		return nil, fmt.Errorf("no embeddings generated")
	}
	return embeddings[0], nil
}

// BatchEmbed は複数テキストをまとめてベクトル化します
// 最大件数を超える入力は内部で分割して呼び出します
func (e *Embedder) BatchEmbed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, fmt.Errorf("no texts provided")
	}

	var all [][]float32
	for start := 0; start < len(texts); start += maxBatchSize {
		end := start + maxBatchSize
		if end > len(texts) {
			end = len(texts)
		}

		batch, err := e.embedBatch(ctx, texts[start:end])
		if err != nil {
			return nil, err
		}
		all = append(all, batch...)
	}

	return all, nil
}

func (e *Embedder) embedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	params := openai.EmbeddingNewParams{
		Model: openai.EmbeddingModel(e.model),
	}

	if len(texts) == 1 {
		params.Input = openai.EmbeddingNewParamsInputUnion{
			OfString: openai.String(texts[0]),
		}
	} else {
		params.Input = openai.EmbeddingNewParamsInputUnion{
			OfArrayOfStrings: texts,
		}
	}

	if e.dimension > 0 {
		params.Dimensions = openai.Int(int64(e.dimension))
	}

	var embeddings [][]float32
	err := retry.Do(ctx, "openai.embed", retry.Remote(), func(ctx context.Context) error {
		resp, err := e.client.Embeddings.New(ctx, params)
		if err != nil {
			return classifyError(err)
		}

		embeddings = embeddings[:0]
		for _, data := range resp.Data {
			// float64からfloat32に変換
			vector := make([]float32, len(data.Embedding))
			for i, v := range data.Embedding {
				vector[i] = float32(v)
			}
			embeddings = append(embeddings, vector)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to generate embeddings: %w", err)
	}

	return embeddings, nil
}

// Dimension はEmbeddingベクトルの次元数を返します
func (e *Embedder) Dimension() int {
	return e.dimension
}

// GetModelName はモデル名を返します
func (e *Embedder) GetModelName() string {
	return e.model
}

// インターフェース実装の確認
var _ llm.Embedder = (*Embedder)(nil)
