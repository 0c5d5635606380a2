package cache

import (
	"crypto/md5"
	"encoding/hex"
	"strings"
	"sync/atomic"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// Namespace はキャッシュの論理的な区画を表します
type Namespace string

const (
	// NamespaceQuery は質問応答の完成済み回答
	NamespaceQuery Namespace = "query"
	// NamespaceVector はベクトル検索結果
	NamespaceVector Namespace = "vector"
	// NamespaceGraph はグラフ探索結果
	NamespaceGraph Namespace = "graph"
	// NamespaceEntity はエンティティ詳細
	NamespaceEntity Namespace = "entity"
)

// Stats は名前空間ごとのキャッシュ統計
type Stats struct {
	Hits   int64 `json:"hits"`
	Misses int64 `json:"misses"`
	Size   int   `json:"size"`
}

// Config は名前空間ごとのTTL設定
type Config struct {
	QueryTTL  time.Duration
	VectorTTL time.Duration
	GraphTTL  time.Duration
	EntityTTL time.Duration
}

// DefaultConfig はデフォルトのTTL設定を返します
func DefaultConfig() Config {
	return Config{
		QueryTTL:  1 * time.Hour,
		VectorTTL: 30 * time.Minute,
		GraphTTL:  30 * time.Minute,
		EntityTTL: 2 * time.Hour,
	}
}

type namespaceCache struct {
	store  *gocache.Cache
	hits   atomic.Int64
	misses atomic.Int64
}

// Cache は名前空間ごとに独立したTTLを持つインメモリキャッシュ
type Cache struct {
	spaces map[Namespace]*namespaceCache
}

// New は設定に従ってキャッシュを作成します
func New(cfg Config) *Cache {
	newSpace := func(ttl time.Duration) *namespaceCache {
		// 期限切れエントリの掃除はTTLの半分周期で行う
		return &namespaceCache{
			store: gocache.New(ttl, ttl/2),
		}
	}

	return &Cache{
		spaces: map[Namespace]*namespaceCache{
			NamespaceQuery:  newSpace(cfg.QueryTTL),
			NamespaceVector: newSpace(cfg.VectorTTL),
			NamespaceGraph:  newSpace(cfg.GraphTTL),
			NamespaceEntity: newSpace(cfg.EntityTTL),
		},
	}
}

// Get は名前空間からキーに対応する値を取得します
// 期限切れのエントリはミスとして扱われます
func (c *Cache) Get(ns Namespace, key string) (any, bool) {
	space, ok := c.spaces[ns]
	if !ok {
		return nil, false
	}

	value, found := space.store.Get(key)
	if !found {
		space.misses.Add(1)
		return nil, false
	}

	space.hits.Add(1)
	return value, true
}

// Set は名前空間のデフォルトTTLで値を格納します
// 同じキーへの書き込みは既存の値を置き換えます
func (c *Cache) Set(ns Namespace, key string, value any) {
	space, ok := c.spaces[ns]
	if !ok {
		return
	}
	space.store.SetDefault(key, value)
}

// SetWithTTL は明示的なTTLで値を格納します
func (c *Cache) SetWithTTL(ns Namespace, key string, value any, ttl time.Duration) {
	space, ok := c.spaces[ns]
	if !ok {
		return
	}
	space.store.Set(key, value, ttl)
}

// Delete は指定のキーを削除します
func (c *Cache) Delete(ns Namespace, key string) {
	if space, ok := c.spaces[ns]; ok {
		space.store.Delete(key)
	}
}

// InvalidateAll は全名前空間のエントリを破棄します
// グラフが変化する操作（同期・再構築・名寄せ）の後に呼び出します
func (c *Cache) InvalidateAll() {
	for _, space := range c.spaces {
		space.store.Flush()
	}
}

// Stats は名前空間ごとのヒット・ミス・サイズを返します
func (c *Cache) Stats() map[Namespace]Stats {
	stats := make(map[Namespace]Stats, len(c.spaces))
	for ns, space := range c.spaces {
		stats[ns] = Stats{
			Hits:   space.hits.Load(),
			Misses: space.misses.Load(),
			Size:   space.store.ItemCount(),
		}
	}
	return stats
}

// NormalizeQueryKey は質問文からキャッシュキーを導出します
// 余分な空白と大文字小文字を正規化したうえでmd5ハッシュ化します
func NormalizeQueryKey(question string) string {
	normalized := strings.ToLower(strings.Join(strings.Fields(question), " "))
	sum := md5.Sum([]byte(normalized))
	return hex.EncodeToString(sum[:])
}
