package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// Config はアプリケーション全体の設定を保持します
type Config struct {
	// Paperless はドキュメントソース（Paperless-ngx）の接続設定
	Paperless PaperlessConfig

	// Database はPostgres（グラフ・ベクトル両ストア）の接続設定
	Database DatabaseConfig

	// OpenAI はLLMとEmbeddingの設定
	OpenAI OpenAIConfig

	// Resolver はエンティティ名寄せの閾値設定
	Resolver ResolverConfig

	// Query はハイブリッド検索パイプラインの設定
	Query QueryConfig

	// Cache は名前空間ごとのTTL設定（秒）
	Cache CacheConfig

	// MaxConcurrentDocs はドキュメント処理の最大並列数
	MaxConcurrentDocs int

	// HTTPPort はAPIサーバのポート
	HTTPPort int

	// OwnerName はドキュメントアーカイブの所有者名（暗黙関係の推定に使用）
	OwnerName string

	// LogLevel / LogFormat はロガー設定
	LogLevel  string
	LogFormat string
}

// PaperlessConfig はPaperless-ngx API接続設定
type PaperlessConfig struct {
	URL   string
	Token string
}

// DatabaseConfig はデータベース接続設定
type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
}

// DSN はpgx用の接続文字列を返します
func (c DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.DBName, c.SSLMode,
	)
}

// OpenAIConfig はOpenAI API設定（LLM + Embeddings）
type OpenAIConfig struct {
	APIKey             string
	BaseURL            string // LiteLLM等のプロキシを使う場合に指定
	LLMModel           string
	EmbeddingModel     string
	EmbeddingDimension int
}

// ResolverConfig はエンティティ名寄せの閾値設定
// 閾値はハードコードせず設定として公開する
type ResolverConfig struct {
	// FuzzyThreshold は文字列類似度による自動マージ閾値
	FuzzyThreshold float64
	// EmbeddingThreshold はEmbeddingコサイン類似度によるマージ閾値
	EmbeddingThreshold float64
	// AmbiguousLow はこの値以上・FuzzyThreshold未満のペアをスキップ候補として報告する下限
	AmbiguousLow float64
	// ShortNameThreshold は短い名前（5文字以下）に要求する類似度
	ShortNameThreshold float64
}

// QueryConfig はハイブリッド検索パイプラインの設定
type QueryConfig struct {
	// MaxGapRounds はギャップ分析による追加検索の最大ラウンド数
	MaxGapRounds int
	// ExpansionDepth はグラフ展開の最大ホップ数
	ExpansionDepth int
	// ExpansionNodeBudget は展開で取り込むノード数の上限
	ExpansionNodeBudget int
	// RetrievalTimeoutSeconds は各検索ソースのタイムアウト
	RetrievalTimeoutSeconds int
}

// CacheConfig は名前空間ごとのTTL（秒）
type CacheConfig struct {
	QueryTTL  int
	VectorTTL int
	GraphTTL  int
	EntityTTL int
}

// Load は環境変数または.envファイルから設定を読み込みます
func Load(envFilePath string) (*Config, error) {
	// .envファイルが存在する場合は読み込む
	if envFilePath != "" {
		if err := godotenv.Load(envFilePath); err != nil {
			// ファイルが存在しない場合はエラーとしない（環境変数のみで動作可能）
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("failed to load .env file: %w", err)
			}
		}
	}

	cfg := &Config{
		Paperless: PaperlessConfig{
			URL:   getEnv("PAPERLESS_URL", "http://localhost:8000"),
			Token: getEnv("PAPERLESS_TOKEN", ""),
		},
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnvAsInt("DB_PORT", 5432),
			User:     getEnv("DB_USER", "kguser"),
			Password: getEnv("DB_PASSWORD", ""),
			DBName:   getEnv("DB_NAME", "knowledge_graph"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
		OpenAI: OpenAIConfig{
			APIKey:             getEnv("OPENAI_API_KEY", ""),
			BaseURL:            getEnv("OPENAI_BASE_URL", ""),
			LLMModel:           getEnv("OPENAI_LLM_MODEL", "gpt-4o-mini"),
			EmbeddingModel:     getEnv("OPENAI_EMBEDDING_MODEL", "text-embedding-3-small"),
			EmbeddingDimension: getEnvAsInt("OPENAI_EMBEDDING_DIMENSION", 1536),
		},
		Resolver: ResolverConfig{
			FuzzyThreshold:     getEnvAsFloat("RESOLVER_FUZZY_THRESHOLD", 0.85),
			EmbeddingThreshold: getEnvAsFloat("RESOLVER_EMBEDDING_THRESHOLD", 0.90),
			AmbiguousLow:       getEnvAsFloat("RESOLVER_AMBIGUOUS_LOW", 0.70),
			ShortNameThreshold: getEnvAsFloat("RESOLVER_SHORT_NAME_THRESHOLD", 0.95),
		},
		Query: QueryConfig{
			MaxGapRounds:            getEnvAsInt("QUERY_MAX_GAP_ROUNDS", 2),
			ExpansionDepth:          getEnvAsInt("QUERY_EXPANSION_DEPTH", 2),
			ExpansionNodeBudget:     getEnvAsInt("QUERY_EXPANSION_NODE_BUDGET", 60),
			RetrievalTimeoutSeconds: getEnvAsInt("QUERY_RETRIEVAL_TIMEOUT", 10),
		},
		Cache: CacheConfig{
			QueryTTL:  getEnvAsInt("CACHE_QUERY_TTL", 3600),
			VectorTTL: getEnvAsInt("CACHE_VECTOR_TTL", 1800),
			GraphTTL:  getEnvAsInt("CACHE_GRAPH_TTL", 1800),
			EntityTTL: getEnvAsInt("CACHE_ENTITY_TTL", 7200),
		},
		MaxConcurrentDocs: getEnvAsInt("MAX_CONCURRENT_DOCS", 10),
		HTTPPort:          getEnvAsInt("HTTP_PORT", 8080),
		OwnerName:         getEnv("OWNER_NAME", ""),
		LogLevel:          getEnv("LOG_LEVEL", "info"),
		LogFormat:         getEnv("LOG_FORMAT", "json"),
	}

	return cfg, nil
}

// getEnv は環境変数を取得し、存在しない場合はデフォルト値を返します
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt は環境変数を整数として取得します
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsFloat は環境変数を浮動小数点数として取得します
func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}
	return value
}
