package resolution

import (
	"strings"

	"github.com/bmccarn/paperless-knowledge-graph/internal/core/graph"
)

// nameScore は表示名としての品質スコア
// 構成要素数 > 大文字小文字の品質 > 記号の少なさ > ミドルネームの有無 > 長さ
// の優先順で比較します
type nameScore struct {
	parts      int
	caseScore  int
	cleanChars int
	hasMiddle  int
	length     int
}

func scoreName(name string) nameScore {
	n := strings.TrimSpace(name)
	parts := strings.Fields(n)

	caseScore := 2 // 混在（タイトルケース）が最良
	switch n {
	case strings.ToUpper(n):
		caseScore = 1
	case strings.ToLower(n):
		caseScore = 0
	}

	cleanChars := 1
	if uncleanCharsPattern.MatchString(n) {
		cleanChars = 0
	}

	hasMiddle := 0
	if len(parts) >= 3 {
		hasMiddle = 1
	}

	return nameScore{
		parts:      len(parts),
		caseScore:  caseScore,
		cleanChars: cleanChars,
		hasMiddle:  hasMiddle,
		length:     len(n),
	}
}

func (s nameScore) less(other nameScore) bool {
	if s.parts != other.parts {
		return s.parts < other.parts
	}
	if s.caseScore != other.caseScore {
		return s.caseScore < other.caseScore
	}
	if s.cleanChars != other.cleanChars {
		return s.cleanChars < other.cleanChars
	}
	if s.hasMiddle != other.hasMiddle {
		return s.hasMiddle < other.hasMiddle
	}
	return s.length < other.length
}

// PickCanonicalName は2つの表記からより良い表示名を選びます
// "John A Doe" > "JOHN DOE" > "John"
func PickCanonicalName(nameA, nameB string) string {
	if scoreName(nameA).less(scoreName(nameB)) {
		return nameB
	}
	return nameA
}

// pickCanonicalEntity はクラスタの正準エンティティを決定的に選びます
// 説明の充実度 → 確信度 → 登録日時の早さ → IDの辞書順 で比較し、
// 同じ入力からは常に同じ結果が得られます
func pickCanonicalEntity(members []graph.Entity) graph.Entity {
	canonical := members[0]
	for _, e := range members[1:] {
		if betterCanonical(e, canonical) {
			canonical = e
		}
	}
	return canonical
}

func betterCanonical(a, b graph.Entity) bool {
	if len(a.Description) != len(b.Description) {
		return len(a.Description) > len(b.Description)
	}
	if a.Confidence != b.Confidence {
		return a.Confidence > b.Confidence
	}
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.ID.String() < b.ID.String()
}
