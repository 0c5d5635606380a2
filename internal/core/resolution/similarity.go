package resolution

import (
	"sort"
	"strings"

	"github.com/adrg/strutil"
	"github.com/adrg/strutil/metrics"

	"github.com/bmccarn/paperless-knowledge-graph/internal/core/graph"
)

// ratio は2文字列の編集距離ベースの類似度（0.0〜1.0）を返します
func ratio(a, b string) float64 {
	return strutil.Similarity(a, b, metrics.NewLevenshtein())
}

// tokenSortRatio は単語をソートしてから比較した類似度を返します
// 語順の違い（"McCarn Blake" vs "Blake McCarn"）を吸収します
func tokenSortRatio(a, b string) float64 {
	return ratio(sortTokens(a), sortTokens(b))
}

// tokenSetRatio は共通語と差分語を組み合わせた類似度を返します
// 部分集合関係（"RapidRoute Solutions LLC" vs "RapidRoute Solutions"）に強い一方、
// 姓だけ共有する人名同士でも高得点になるため人物には使いません
func tokenSetRatio(a, b string) float64 {
	tokensA := tokenSet(a)
	tokensB := tokenSet(b)

	var common, onlyA, onlyB []string
	for t := range tokensA {
		if _, ok := tokensB[t]; ok {
			common = append(common, t)
		} else {
			onlyA = append(onlyA, t)
		}
	}
	for t := range tokensB {
		if _, ok := tokensA[t]; !ok {
			onlyB = append(onlyB, t)
		}
	}
	sort.Strings(common)
	sort.Strings(onlyA)
	sort.Strings(onlyB)

	base := strings.Join(common, " ")
	combinedA := strings.TrimSpace(base + " " + strings.Join(onlyA, " "))
	combinedB := strings.TrimSpace(base + " " + strings.Join(onlyB, " "))

	score := ratio(base, combinedA)
	if s := ratio(base, combinedB); s > score {
		score = s
	}
	if s := ratio(combinedA, combinedB); s > score {
		score = s
	}
	return score
}

func sortTokens(s string) string {
	tokens := strings.Fields(s)
	sort.Strings(tokens)
	return strings.Join(tokens, " ")
}

func tokenSet(s string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, t := range strings.Fields(s) {
		set[t] = struct{}{}
	}
	return set
}

// namePartsMatchScore は名前の構成要素同士の対応づけによる類似度を返します
// 大文字小文字・イニシャル・省略形・語順の違いを扱います
func namePartsMatchScore(nameA, nameB string) float64 {
	partsA := strings.Fields(strings.ToLower(NormalizeName(nameA)))
	partsB := strings.Fields(strings.ToLower(NormalizeName(nameB)))

	if len(partsA) == 0 || len(partsB) == 0 {
		return 0.0
	}

	shorter, longer := partsA, partsB
	if len(partsA) > len(partsB) {
		shorter, longer = partsB, partsA
	}

	matched := 0.0
	used := make(map[int]struct{})

	for _, sp := range shorter {
		for i, lp := range longer {
			if _, taken := used[i]; taken {
				continue
			}
			if sp == lp {
				matched += 1.0
				used[i] = struct{}{}
				break
			}
			if isInitialOf(sp, lp) || isInitialOf(lp, sp) {
				matched += 0.8
				used[i] = struct{}{}
				break
			}
			if len(sp) > 2 && len(lp) > 2 {
				if r := ratio(sp, lp); r >= 0.8 {
					matched += r
					used[i] = struct{}{}
					break
				}
			}
		}
	}

	coverageShort := matched / float64(len(shorter))
	coverageLong := matched / float64(len(longer))
	return 0.7*coverageShort + 0.3*coverageLong
}

// MatchScore は複数の戦略を組み合わせた名前の類似度を返します
// 人物にはtoken_set系の指標を使いません（姓の共有だけで高得点になるため）
func MatchScore(nameA, nameB string, entityType graph.EntityType) float64 {
	normA := strings.ToLower(NormalizeName(nameA))
	normB := strings.ToLower(NormalizeName(nameB))

	score := ratio(normA, normB)
	if s := tokenSortRatio(normA, normB); s > score {
		score = s
	}
	if s := namePartsMatchScore(nameA, nameB); s > score {
		score = s
	}

	if entityType != graph.EntityTypePerson {
		if s := tokenSetRatio(normA, normB) * 0.95; s > score {
			score = s
		}
	}

	return score
}
