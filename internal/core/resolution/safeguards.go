package resolution

import (
	"strings"

	"github.com/bmccarn/paperless-knowledge-graph/internal/core/graph"
)

// protectedPersonNames は単語数の異なる表記同士でもマージを許可する固有の名前
// ペットの名前など、姓の有無で別人と誤判定してはいけないもの
var protectedPersonNames = map[string]struct{}{
	"ggarbo": {}, "ggarbo mccarn": {}, "ggarbo mccam": {}, "ggarbo mccarm": {},
}

// minNameLength はマージ対象となる名前の最小文字数
const minNameLength = 4

// Thresholds は名寄せ判定の閾値
type Thresholds struct {
	// Fuzzy は文字列類似度による自動マージ閾値
	Fuzzy float64
	// Embedding はベクトル類似度によるマージ閾値
	Embedding float64
	// AmbiguousLow はこれ以上・Fuzzy未満のペアをスキップ報告する下限
	AmbiguousLow float64
	// ShortName は短い名前（5文字以下）に要求する類似度
	ShortName float64
}

// DefaultThresholds はデフォルトの閾値を返します
func DefaultThresholds() Thresholds {
	return Thresholds{
		Fuzzy:        0.85,
		Embedding:    0.90,
		AmbiguousLow: 0.70,
		ShortName:    0.95,
	}
}

// firstNamesCompatible は2つの人名のファーストネームが同一人物として
// 両立しうるかを判定します
// "Blake McCarn"と"Chelsea McCarn"のような同姓別人のマージを防ぎます
func firstNamesCompatible(nameA, nameB string) bool {
	partsA := NameParts(nameA)
	partsB := NameParts(nameB)

	if len(partsA) == 0 || len(partsB) == 0 {
		return true // 判定不能の場合は許可
	}

	firstA := strings.TrimSuffix(partsA[0], ".")
	firstB := strings.TrimSuffix(partsB[0], ".")

	if firstA == firstB {
		return true
	}

	// イニシャル一致（"B" と "Blake"）
	if len(firstA) == 1 && strings.HasPrefix(firstB, firstA) {
		return true
	}
	if len(firstB) == 1 && strings.HasPrefix(firstA, firstB) {
		return true
	}

	// 省略形の展開後の一致
	if expandAbbreviation(firstA) == expandAbbreviation(firstB) {
		return true
	}

	// OCR誤読の許容（"Blake" vs "Blak"）
	if len(firstA) > 2 && len(firstB) > 2 && ratio(firstA, firstB) >= 0.8 {
		return true
	}

	return false
}

// orgDistinctiveMatch は2つの組織名が特徴語を共有するかどうかを判定します
// 法人接尾辞だけの一致（"... LLC" 同士）によるマージを防ぎます
func orgDistinctiveMatch(nameA, nameB string) bool {
	wordsA := DistinctiveOrgWords(nameA)
	wordsB := DistinctiveOrgWords(nameB)

	if len(wordsA) == 0 || len(wordsB) == 0 {
		return false
	}

	for w := range wordsA {
		if _, ok := wordsB[w]; ok {
			return true
		}
	}
	return false
}

// ShouldAutoMerge は全ての安全策を通過した場合のみtrueを返します
func ShouldAutoMerge(nameA, nameB string, score float64, entityType graph.EntityType, th Thresholds) bool {
	// 最小文字数の保護
	if len(NormalizeName(nameA)) < minNameLength || len(NormalizeName(nameB)) < minNameLength {
		return false
	}

	if entityType == graph.EntityTypePerson {
		partsA := NameParts(nameA)
		partsB := NameParts(nameB)

		// 単語数の不一致保護: 単一語の名前は多語の名前と曖昧すぎてマージできない
		// （"Matthew" != "Matthew Smith"）。保護対象の固有名は例外
		if (len(partsA) == 1) != (len(partsB) == 1) {
			single := strings.ToLower(nameA)
			if len(partsB) == 1 {
				single = strings.ToLower(nameB)
			}
			if _, protected := protectedPersonNames[single]; !protected {
				return false
			}
		}

		// ファーストネームの両立性
		if len(partsA) >= 2 && len(partsB) >= 2 {
			if !firstNamesCompatible(nameA, nameB) {
				return false
			}
		}
	}

	// 短い名前はより高い類似度を要求する
	if IsShortName(nameA) || IsShortName(nameB) {
		if score < th.ShortName {
			return false
		}
	}

	// 組織は特徴語の共有を要求する
	if entityType == graph.EntityTypeOrganization {
		if !orgDistinctiveMatch(nameA, nameB) {
			return false
		}
	}

	return score >= th.Fuzzy
}
