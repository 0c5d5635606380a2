package query

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/bmccarn/paperless-knowledge-graph/internal/core/graph"
	"github.com/bmccarn/paperless-knowledge-graph/internal/core/vector"
)

// 検索ソースごとの重み
// ベクトル類似度を基準とし、キーワード一致は弱め、名前の直接一致には加点します
const (
	vectorWeight   = 1.0
	keywordWeight  = 0.7
	graphHitScore  = 0.9
	entityVecBonus = 0.1
)

const (
	maxContextChunks   = 8
	maxChunkChars      = 1500
	maxGraphChars      = 3000
	maxContextEntities = 10
)

type scoredEntity struct {
	id    uuid.UUID
	name  string
	etype string
	score float64
}

// retrieval は複数ソースからの検索結果を重複排除しながら蓄積します
// ギャップ分析の追加検索も同じ集合に合流します
type retrieval struct {
	mu            sync.Mutex
	chunks        map[string]vector.ChunkHit
	chunkScores   map[string]float64
	entities      map[uuid.UUID]scoredEntity
	neighborhoods []graph.Neighborhood
}

func newRetrieval() *retrieval {
	return &retrieval{
		chunks:      make(map[string]vector.ChunkHit),
		chunkScores: make(map[string]float64),
		entities:    make(map[uuid.UUID]scoredEntity),
	}
}

func (r *retrieval) addChunks(hits []vector.ChunkHit, weight float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, hit := range hits {
		key := fmt.Sprintf("%d:%d", hit.DocumentID, hit.ChunkIndex)
		score := hit.Score * weight
		if existing, ok := r.chunkScores[key]; !ok || score > existing {
			r.chunks[key] = hit
			r.chunkScores[key] = score
		}
	}
}

func (r *retrieval) addEntityHits(hits []vector.EntityHit) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, hit := range hits {
		score := hit.Score*vectorWeight + entityVecBonus
		if existing, ok := r.entities[hit.EntityID]; !ok || score > existing.score {
			r.entities[hit.EntityID] = scoredEntity{id: hit.EntityID, name: hit.Name, score: score}
		}
	}
}

func (r *retrieval) addNodes(nodes []graph.Node) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, node := range nodes {
		if existing, ok := r.entities[node.ID]; !ok || graphHitScore > existing.score {
			r.entities[node.ID] = scoredEntity{
				id:    node.ID,
				name:  node.Name,
				etype: node.Type,
				score: graphHitScore,
			}
		}
	}
}

func (r *retrieval) addNeighborhood(n graph.Neighborhood) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.neighborhoods = append(r.neighborhoods, n)
}

// topEntities はスコア降順でエンティティを返します
func (r *retrieval) topEntities(limit int) []scoredEntity {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]scoredEntity, 0, len(r.entities))
	for _, e := range r.entities {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].score != out[j].score {
			return out[i].score > out[j].score
		}
		return out[i].id.String() < out[j].id.String()
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}

// topSources は文書単位の最良スコアで根拠文書を返します
func (r *retrieval) topSources(limit int) []Source {
	r.mu.Lock()
	defer r.mu.Unlock()

	best := make(map[int]float64)
	for key, hit := range r.chunks {
		if score := r.chunkScores[key]; score > best[hit.DocumentID] {
			best[hit.DocumentID] = score
		}
	}

	sources := make([]Source, 0, len(best))
	for docID, score := range best {
		sources = append(sources, Source{DocumentID: docID, Similarity: round3(score)})
	}
	sort.Slice(sources, func(i, j int) bool {
		if sources[i].Similarity != sources[j].Similarity {
			return sources[i].Similarity > sources[j].Similarity
		}
		return sources[i].DocumentID < sources[j].DocumentID
	})
	if len(sources) > limit {
		sources = sources[:limit]
	}
	return sources
}

// bestScore は最良の文書スコアを返します（確信度の素材）
func (r *retrieval) bestScore() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()

	best := 0.0
	for _, score := range r.chunkScores {
		if score > best {
			best = score
		}
	}
	return best
}

// documentContext は合成プロンプトに渡す文書断片テキストを組み立てます
func (r *retrieval) documentContext() string {
	r.mu.Lock()
	type scored struct {
		hit   vector.ChunkHit
		score float64
	}
	items := make([]scored, 0, len(r.chunks))
	for key, hit := range r.chunks {
		items = append(items, scored{hit: hit, score: r.chunkScores[key]})
	}
	r.mu.Unlock()

	sort.Slice(items, func(i, j int) bool { return items[i].score > items[j].score })
	if len(items) > maxContextChunks {
		items = items[:maxContextChunks]
	}

	if len(items) == 0 {
		return "(no matching documents found)"
	}

	var sb strings.Builder
	for i, item := range items {
		if i > 0 {
			sb.WriteString("\n\n")
		}
		content := item.hit.Content
		if len(content) > maxChunkChars {
			content = content[:maxChunkChars]
		}
		fmt.Fprintf(&sb, "[Document %d chunk (similarity=%.3f)]:\n%s", item.hit.DocumentID, item.score, content)
	}
	return sb.String()
}

// graphContext はエンティティと近傍サブグラフをテキスト化します
func (r *retrieval) graphContext() string {
	entities := r.topEntities(maxContextEntities)

	r.mu.Lock()
	neighborhoods := r.neighborhoods
	r.mu.Unlock()

	if len(entities) == 0 && len(neighborhoods) == 0 {
		return ""
	}

	names := make(map[uuid.UUID]string)
	var sb strings.Builder
	for _, e := range entities {
		if e.etype != "" {
			fmt.Fprintf(&sb, "Entity: %s (%s)\n", e.name, e.etype)
		} else {
			fmt.Fprintf(&sb, "Entity: %s\n", e.name)
		}
		names[e.id] = e.name
	}

	for _, n := range neighborhoods {
		for _, node := range n.Nodes {
			if _, ok := names[node.ID]; !ok {
				names[node.ID] = node.Name
				fmt.Fprintf(&sb, "Related: %s (%s)\n", node.Name, node.Type)
			}
		}
		for _, edge := range n.Edges {
			from, okFrom := names[edge.FromID]
			to, okTo := names[edge.ToID]
			if okFrom && okTo {
				fmt.Fprintf(&sb, "%s -[%s]-> %s\n", from, edge.Type, to)
			}
		}
		if sb.Len() > maxGraphChars {
			break
		}
	}

	text := sb.String()
	if len(text) > maxGraphChars {
		text = text[:maxGraphChars]
	}
	return text
}

func round3(v float64) float64 {
	return float64(int(v*1000+0.5)) / 1000
}
