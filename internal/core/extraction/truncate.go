package extraction

import (
	"unicode/utf8"

	"github.com/pkoukk/tiktoken-go"
)

const (
	// classificationCharBudget は分類時に渡す本文の最大文字数
	classificationCharBudget = 3000

	// extractionCharBudget はスキーマ抽出時に渡す本文の最大文字数
	extractionCharBudget = 8000

	// fallbackCharBudget はフォールバック抽出時の本文の最大文字数
	fallbackCharBudget = 4000

	// defaultEncoding はモデル名から符号化を解決できない場合の符号化
	defaultEncoding = "cl100k_base"
)

// Truncator は文字数とトークン数の両方で本文を切り詰めます
type Truncator struct {
	encoder *tiktoken.Tiktoken
}

// NewTruncator はモデル名に対応するトークン符号化を解決してTruncatorを作成します
func NewTruncator(model string) *Truncator {
	encoder, err := tiktoken.EncodingForModel(model)
	if err != nil {
		encoder, err = tiktoken.GetEncoding(defaultEncoding)
		if err != nil {
			// 符号化が解決できない場合は文字数のみで切り詰める
			encoder = nil
		}
	}
	return &Truncator{encoder: encoder}
}

// Truncate は本文を最大文字数・最大トークン数の範囲に収めます
// 文書の先頭から切り出します
func (t *Truncator) Truncate(text string, maxChars, maxTokens int) string {
	if len(text) > maxChars {
		// マルチバイト文字の途中で切らないよう、ルーン境界まで戻す
		cut := maxChars
		for cut > 0 && !utf8.RuneStart(text[cut]) {
			cut--
		}
		text = text[:cut]
	}

	if t.encoder == nil || maxTokens <= 0 {
		return text
	}

	tokens := t.encoder.Encode(text, nil, nil)
	if len(tokens) <= maxTokens {
		return text
	}
	return t.encoder.Decode(tokens[:maxTokens])
}

// CountTokens は本文のトークン数を返します
func (t *Truncator) CountTokens(text string) int {
	if t.encoder == nil {
		// 概算: 英文は平均4文字で1トークン
		return len(text) / 4
	}
	return len(t.encoder.Encode(text, nil, nil))
}
