package resolution

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/bmccarn/paperless-knowledge-graph/internal/core/graph"
)

func TestMatchScore_語順の違いを吸収する(t *testing.T) {
	score := MatchScore("McCarn Blake", "Blake McCarn", graph.EntityTypePerson)
	assert.GreaterOrEqual(t, score, 0.9)
}

func TestMatchScore_イニシャルとフルネームが一致する(t *testing.T) {
	score := MatchScore("Blake T McCarn", "Blake Thomas McCarn", graph.EntityTypePerson)
	assert.GreaterOrEqual(t, score, 0.85)
}

func TestMatchScore_同姓別人は閾値を超えない(t *testing.T) {
	// 人物にはtoken_set系の指標を使わないため姓の共有だけでは高得点にならない
	score := MatchScore("Blake McCarn", "Chelsea McCarn", graph.EntityTypePerson)
	assert.Less(t, score, 0.85)
}

func TestShouldAutoMerge_ファーストネーム不一致を阻止する(t *testing.T) {
	th := DefaultThresholds()

	// スコアが高くてもファーストネームが異なればマージしない
	assert.False(t, ShouldAutoMerge("Blake McCarn", "Chelsea McCarn", 0.9, graph.EntityTypePerson, th))
	assert.True(t, ShouldAutoMerge("Blake McCarn", "Blake T McCarn", 0.9, graph.EntityTypePerson, th))
}

func TestShouldAutoMerge_省略形のファーストネームは両立する(t *testing.T) {
	th := DefaultThresholds()
	assert.True(t, ShouldAutoMerge("Wm Smith", "William Smith", 0.9, graph.EntityTypePerson, th))
}

func TestShouldAutoMerge_単一語と複数語の人名はマージしない(t *testing.T) {
	th := DefaultThresholds()
	assert.False(t, ShouldAutoMerge("Matthew", "Matthew Smith", 0.95, graph.EntityTypePerson, th))
}

func TestShouldAutoMerge_保護された固有名は単一語でもマージできる(t *testing.T) {
	th := DefaultThresholds()
	assert.True(t, ShouldAutoMerge("Ggarbo", "Ggarbo McCarn", 0.96, graph.EntityTypePerson, th))
}

func TestShouldAutoMerge_短い名前は高い類似度を要求する(t *testing.T) {
	th := DefaultThresholds()
	assert.False(t, ShouldAutoMerge("USAA", "USA", 0.9, graph.EntityTypeOrganization, th))
}

func TestShouldAutoMerge_最小文字数未満はマージしない(t *testing.T) {
	th := DefaultThresholds()
	assert.False(t, ShouldAutoMerge("Bo", "Bob", 1.0, graph.EntityTypePerson, th))
}

func TestShouldAutoMerge_組織は特徴語の共有を要求する(t *testing.T) {
	th := DefaultThresholds()

	// 法人接尾辞しか共有しない組織はマージしない
	assert.False(t, ShouldAutoMerge(
		"Alpha Insurance Services LLC", "Beta Insurance Services LLC",
		0.86, graph.EntityTypeOrganization, th,
	))
	assert.True(t, ShouldAutoMerge(
		"RapidRoute Solutions LLC", "RapidRoute Solutions",
		0.9, graph.EntityTypeOrganization, th,
	))
}

func TestShouldAutoMerge_閾値未満はマージしない(t *testing.T) {
	th := DefaultThresholds()
	assert.False(t, ShouldAutoMerge("Blake McCarn", "Blake T McCarn", 0.80, graph.EntityTypePerson, th))
}

func TestPickCanonicalName(t *testing.T) {
	tests := []struct {
		name     string
		a, b     string
		expected string
	}{
		{"構成要素が多い方を選ぶ", "John Doe", "John A Doe", "John A Doe"},
		{"タイトルケースを全大文字より優先する", "John Doe", "JOHN DOE", "John Doe"},
		{"長い名前を選ぶ", "John Doe", "Jon Doe", "John Doe"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, PickCanonicalName(tt.a, tt.b))
			// 引数順に依存しない
			assert.Equal(t, tt.expected, PickCanonicalName(tt.b, tt.a))
		})
	}
}
