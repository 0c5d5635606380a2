package resolution

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"

	"github.com/google/uuid"

	"github.com/bmccarn/paperless-knowledge-graph/internal/core/graph"
	"github.com/bmccarn/paperless-knowledge-graph/internal/core/llm"
)

// embeddingCandidateFloor は埋め込み比較の対象とする文字列類似度の下限
const embeddingCandidateFloor = 0.5

// MergeCluster はマージ対象の1クラスタ
type MergeCluster struct {
	// Canonical は正準として残すエンティティ
	Canonical graph.Entity

	// CanonicalName はマージ後の表示名
	CanonicalName string

	// Merged は正準へ統合されるエンティティ群
	Merged []graph.Entity
}

// SkippedPair は閾値に届かなかった・安全策で阻止された曖昧ペア
type SkippedPair struct {
	NameA  string  `json:"a"`
	NameB  string  `json:"b"`
	Score  float64 `json:"score"`
	Reason string  `json:"reason"`
}

// MergePlan は名寄せ計画
type MergePlan struct {
	Clusters []MergeCluster
	Skipped  []SkippedPair
}

// MergedPair は実施済みマージの記録
type MergedPair struct {
	Kept   string  `json:"kept"`
	Merged string  `json:"merged"`
	Score  float64 `json:"score"`
}

// Report は名寄せ実行の結果
type Report struct {
	Merged       []MergedPair  `json:"merged"`
	Skipped      []SkippedPair `json:"skipped"`
	Errors       []string      `json:"errors"`
	TotalMerged  int           `json:"total_merged"`
	TotalSkipped int           `json:"total_skipped"`
}

// Resolver はグラフ内の重複エンティティを検出・統合します
type Resolver struct {
	repo       graph.Repository
	embedder   llm.Embedder
	thresholds Thresholds
	logger     *slog.Logger
}

// NewResolver はResolverを作成します
func NewResolver(repo graph.Repository, embedder llm.Embedder, thresholds Thresholds, logger *slog.Logger) *Resolver {
	return &Resolver{
		repo:       repo,
		embedder:   embedder,
		thresholds: thresholds,
		logger:     logger,
	}
}

// Plan は全エンティティを走査してマージ計画を作成します
// 種別ごとにブロック化し、同種別のペアのみを比較します
func (r *Resolver) Plan(ctx context.Context) (MergePlan, error) {
	entities, err := r.repo.ListEntitiesByType(ctx, "")
	if err != nil {
		return MergePlan{}, fmt.Errorf("failed to list entities: %w", err)
	}

	blocks := make(map[graph.EntityType][]graph.Entity)
	for _, e := range entities {
		blocks[e.Type] = append(blocks[e.Type], e)
	}

	uf := newUnionFind()
	var skipped []SkippedPair
	byID := make(map[uuid.UUID]graph.Entity, len(entities))
	for _, e := range entities {
		byID[e.ID] = e
		uf.add(e.ID)
	}

	for entityType, block := range blocks {
		var residual [][2]int

		for i := 0; i < len(block); i++ {
			for j := i + 1; j < len(block); j++ {
				a, b := block[i], block[j]
				score := bestPairScore(a, b, entityType)

				if ShouldAutoMerge(a.Name, b.Name, score, entityType, r.thresholds) {
					uf.union(a.ID, b.ID)
					continue
				}

				if score >= r.thresholds.AmbiguousLow {
					skipped = append(skipped, SkippedPair{
						NameA:  a.Name,
						NameB:  b.Name,
						Score:  round3(score),
						Reason: "below threshold or blocked by safeguard",
					})
				}

				if score >= embeddingCandidateFloor {
					residual = append(residual, [2]int{i, j})
				}
			}
		}

		if len(residual) > 0 {
			if err := r.embeddingPass(ctx, block, residual, entityType, uf); err != nil {
				// 埋め込み比較の失敗は計画全体を壊さない
				r.logger.Warn("埋め込みによる名寄せ比較に失敗しました",
					"entity_type", string(entityType),
					"error", err,
				)
			}
		}
	}

	var clusters []MergeCluster
	for _, members := range uf.clusters() {
		memberEntities := make([]graph.Entity, 0, len(members))
		for _, id := range members {
			memberEntities = append(memberEntities, byID[id])
		}

		canonical := pickCanonicalEntity(memberEntities)

		canonicalName := canonical.Name
		var merged []graph.Entity
		for _, e := range memberEntities {
			if e.ID == canonical.ID {
				continue
			}
			canonicalName = PickCanonicalName(canonicalName, e.Name)
			merged = append(merged, e)
		}

		clusters = append(clusters, MergeCluster{
			Canonical:     canonical,
			CanonicalName: canonicalName,
			Merged:        merged,
		})
	}

	return MergePlan{Clusters: clusters, Skipped: skipped}, nil
}

// embeddingPass は文字列類似度で確定しなかった同一ブロック内のペアを
// 埋め込みのコサイン類似度で再判定します
func (r *Resolver) embeddingPass(
	ctx context.Context,
	block []graph.Entity,
	pairs [][2]int,
	entityType graph.EntityType,
	uf *unionFind,
) error {
	needed := make(map[int]struct{})
	for _, p := range pairs {
		needed[p[0]] = struct{}{}
		needed[p[1]] = struct{}{}
	}

	indexes := make([]int, 0, len(needed))
	names := make([]string, 0, len(needed))
	for i := range needed {
		indexes = append(indexes, i)
		names = append(names, NormalizeName(block[i].Name))
	}

	vectors, err := r.embedder.BatchEmbed(ctx, names)
	if err != nil {
		return fmt.Errorf("failed to embed entity names: %w", err)
	}
	if len(vectors) != len(names) {
		return errors.New("embedding count mismatch")
	}

	vecByIndex := make(map[int][]float32, len(indexes))
	for pos, i := range indexes {
		vecByIndex[i] = vectors[pos]
	}

	for _, p := range pairs {
		a, b := block[p[0]], block[p[1]]
		if uf.find(a.ID) == uf.find(b.ID) {
			continue
		}

		sim := cosineSimilarity(vecByIndex[p[0]], vecByIndex[p[1]])
		if sim < r.thresholds.Embedding {
			continue
		}

		// 埋め込み一致でも安全策は適用する
		if !ShouldAutoMerge(a.Name, b.Name, sim, entityType, r.thresholds) {
			continue
		}

		r.logger.Info("埋め込み類似度でマージ候補を検出しました",
			"a", a.Name,
			"b", b.Name,
			"similarity", round3(sim),
		)
		uf.union(a.ID, b.ID)
	}

	return nil
}

// Apply はマージ計画を実行します
// クラスタ単位で原子的に適用し、失敗したクラスタは報告して続行します
func (r *Resolver) Apply(ctx context.Context, plan MergePlan) Report {
	report := Report{
		Merged:  []MergedPair{},
		Skipped: plan.Skipped,
		Errors:  []string{},
	}

	for _, cluster := range plan.Clusters {
		canonical := cluster.Canonical
		canonical.Name = cluster.CanonicalName

		if err := r.repo.MergeEntities(ctx, canonical, cluster.Merged); err != nil {
			for _, m := range cluster.Merged {
				report.Errors = append(report.Errors,
					fmt.Sprintf("failed to merge %q into %q: %v", m.Name, canonical.Name, err))
			}
			continue
		}

		for _, m := range cluster.Merged {
			report.Merged = append(report.Merged, MergedPair{
				Kept:   cluster.CanonicalName,
				Merged: m.Name,
				Score:  round3(bestPairScore(canonical, m, canonical.Type)),
			})
			r.logger.Info("エンティティを統合しました",
				"kept", cluster.CanonicalName,
				"merged", m.Name,
				"entity_type", string(canonical.Type),
			)
		}
	}

	report.TotalMerged = len(report.Merged)
	report.TotalSkipped = len(report.Skipped)
	return report
}

// ResolveAll は計画と適用を続けて実行します
// 結果は冪等であり、再実行しても新たなマージは発生しません
func (r *Resolver) ResolveAll(ctx context.Context) (Report, error) {
	plan, err := r.Plan(ctx)
	if err != nil {
		return Report{}, err
	}
	return r.Apply(ctx, plan), nil
}

// ResolveEntityRef は文書処理中に抽出された名前を既存エンティティへ解決します
// 一致が見つかれば別名と言及文書を追記してそのIDを返し、
// 見つからなければ新規エンティティを作成します
func (r *Resolver) ResolveEntityRef(ctx context.Context, ref EntityRef) (uuid.UUID, error) {
	name := strings.TrimSpace(ref.Name)
	if name == "" {
		return uuid.Nil, nil
	}

	if ref.Type == graph.EntityTypePerson {
		name = NormalizePersonName(name)
		if len(name) < 3 {
			return uuid.Nil, nil
		}

		// 組織が人物として抽出されている場合は組織として解決する
		if LooksLikeOrganization(name) {
			orgRef := ref
			orgRef.Name = name
			orgRef.Type = graph.EntityTypeOrganization
			return r.ResolveEntityRef(ctx, orgRef)
		}

		// 連名は個人ごとに解決し、先頭のIDを返す
		if individuals := DetectJointNames(name); len(individuals) > 1 {
			r.logger.Info("連名を検出しました", "name", name, "individuals", individuals)
			var first uuid.UUID
			for _, ind := range individuals {
				indRef := ref
				indRef.Name = strings.TrimSpace(ind)
				id, err := r.resolveSingle(ctx, indRef)
				if err != nil {
					return uuid.Nil, err
				}
				if first == uuid.Nil {
					first = id
				}
			}
			return first, nil
		}

		ref.Name = name
		return r.resolveSingle(ctx, ref)
	}

	if ref.Type == graph.EntityTypeOrganization {
		name = NormalizeOrgName(name)
		if len(name) < 3 {
			return uuid.Nil, nil
		}
		ref.Name = name
	}

	return r.resolveSingle(ctx, ref)
}

// EntityRef は文書から抽出されたエンティティへの参照
type EntityRef struct {
	Name        string
	Type        graph.EntityType
	Description string
	Confidence  float64
	SourceDocID int
	Properties  map[string]any
}

func (r *Resolver) resolveSingle(ctx context.Context, ref EntityRef) (uuid.UUID, error) {
	normalized := NormalizeName(ref.Name)
	if normalized == "" {
		return uuid.Nil, nil
	}

	// 1. 完全一致（名前または別名、大文字小文字無視）
	existing, err := r.repo.FindEntityByName(ctx, normalized, ref.Type)
	if err == nil {
		return r.attach(ctx, existing, ref)
	}
	if !errors.Is(err, graph.ErrNodeNotFound) {
		return uuid.Nil, fmt.Errorf("failed to look up entity %q: %w", normalized, err)
	}

	// 2. 同種別の全エンティティとのファジーマッチ
	candidates, err := r.repo.ListEntitiesByType(ctx, ref.Type)
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to list entities for matching: %w", err)
	}

	var best *graph.Entity
	bestScore := 0.0
	for i := range candidates {
		c := &candidates[i]
		score := MatchScore(normalized, c.Name, ref.Type)
		for _, alias := range c.Aliases {
			if s := MatchScore(normalized, alias, ref.Type); s > score {
				score = s
			}
		}
		if score > bestScore {
			bestScore = score
			best = c
		}
	}

	if best != nil && ShouldAutoMerge(normalized, best.Name, bestScore, ref.Type, r.thresholds) {
		r.logger.Info("既存エンティティに解決しました",
			"name", ref.Name,
			"matched", best.Name,
			"score", round3(bestScore),
		)
		return r.attach(ctx, *best, ref)
	}

	// 3. 埋め込み類似度による再判定
	if best != nil && bestScore >= embeddingCandidateFloor {
		id, ok, err := r.embeddingMatch(ctx, normalized, *best, ref)
		if err != nil {
			r.logger.Warn("埋め込みによる解決に失敗しました", "name", ref.Name, "error", err)
		} else if ok {
			return id, nil
		}
	}

	// 4. 新規作成
	entity := graph.Entity{
		ID:           uuid.New(),
		Name:         normalized,
		Type:         ref.Type,
		Description:  ref.Description,
		Confidence:   ref.Confidence,
		SourceDocIDs: []int{ref.SourceDocID},
		Properties:   ref.Properties,
	}
	if ref.Name != normalized {
		entity.Aliases = []string{ref.Name}
	}

	id, err := r.repo.CreateEntity(ctx, entity)
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to create entity %q: %w", normalized, err)
	}

	r.logger.Info("新規エンティティを作成しました",
		"name", normalized,
		"entity_type", string(ref.Type),
		"uuid", id.String(),
	)
	return id, nil
}

func (r *Resolver) embeddingMatch(ctx context.Context, normalized string, candidate graph.Entity, ref EntityRef) (uuid.UUID, bool, error) {
	vectors, err := r.embedder.BatchEmbed(ctx, []string{normalized, NormalizeName(candidate.Name)})
	if err != nil {
		return uuid.Nil, false, err
	}
	if len(vectors) != 2 {
		return uuid.Nil, false, errors.New("embedding count mismatch")
	}

	sim := cosineSimilarity(vectors[0], vectors[1])
	if sim < r.thresholds.Embedding {
		return uuid.Nil, false, nil
	}
	if !ShouldAutoMerge(normalized, candidate.Name, sim, ref.Type, r.thresholds) {
		return uuid.Nil, false, nil
	}

	r.logger.Info("埋め込み類似度で既存エンティティに解決しました",
		"name", normalized,
		"matched", candidate.Name,
		"similarity", round3(sim),
	)
	id, err := r.attach(ctx, candidate, ref)
	if err != nil {
		return uuid.Nil, false, err
	}
	return id, true, nil
}

// attach は既存エンティティに新しい表記と言及文書を追記します
func (r *Resolver) attach(ctx context.Context, entity graph.Entity, ref EntityRef) (uuid.UUID, error) {
	if ref.Name != entity.Name && !containsFold(entity.Aliases, ref.Name) {
		if err := r.repo.AddAlias(ctx, entity.ID, ref.Name); err != nil {
			return uuid.Nil, fmt.Errorf("failed to add alias: %w", err)
		}
	}
	if err := r.repo.AppendSourceDoc(ctx, entity.ID, ref.SourceDocID); err != nil {
		return uuid.Nil, fmt.Errorf("failed to record source document: %w", err)
	}
	return entity.ID, nil
}

func containsFold(values []string, target string) bool {
	for _, v := range values {
		if strings.EqualFold(v, target) {
			return true
		}
	}
	return false
}

func bestPairScore(a, b graph.Entity, entityType graph.EntityType) float64 {
	score := MatchScore(a.Name, b.Name, entityType)
	for _, alias := range a.Aliases {
		if s := MatchScore(alias, b.Name, entityType); s > score {
			score = s
		}
	}
	for _, alias := range b.Aliases {
		if s := MatchScore(a.Name, alias, entityType); s > score {
			score = s
		}
	}
	return score
}

func cosineSimilarity(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0.0
	}

	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0.0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

func round3(v float64) float64 {
	return math.Round(v*1000) / 1000
}
