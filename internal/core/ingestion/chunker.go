package ingestion

import "strings"

const (
	// DefaultChunkSize は1断片の最大文字数
	DefaultChunkSize = 4000

	// DefaultChunkOverlap は隣接断片が共有する文字数
	// 断片境界で文脈が切れないよう重複を持たせます
	DefaultChunkOverlap = 800
)

// ChunkText は本文を重複付きの断片に分割します
// 可能な限り段落・文の境界で切り、本文全体が1断片に収まる場合はそのまま返します
func ChunkText(content string, size, overlap int) []string {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil
	}
	if size <= 0 {
		size = DefaultChunkSize
	}
	if overlap < 0 || overlap >= size {
		overlap = size / 5
	}
	if len(content) <= size {
		return []string{content}
	}

	var chunks []string
	start := 0
	for start < len(content) {
		end := start + size
		if end >= len(content) {
			chunk := strings.TrimSpace(content[start:])
			if chunk != "" {
				chunks = append(chunks, chunk)
			}
			break
		}

		cut := breakPoint(content[start:end])
		chunk := strings.TrimSpace(content[start : start+cut])
		if chunk != "" {
			chunks = append(chunks, chunk)
		}

		next := start + cut - overlap
		if next <= start {
			next = start + cut
		}
		start = next
	}

	return chunks
}

// breakPoint は断片の終端位置を探します
// 後方の段落境界、文境界、空白の順に探し、どれもなければ素の位置で切ります
func breakPoint(window string) int {
	// 窓の前半で切ると断片が細かくなりすぎるため、後半のみ探索します
	floor := len(window) / 2

	if idx := strings.LastIndex(window, "\n\n"); idx > floor {
		return idx + 2
	}
	for _, sep := range []string{". ", ".\n", "\n"} {
		if idx := strings.LastIndex(window, sep); idx > floor {
			return idx + len(sep)
		}
	}
	if idx := strings.LastIndex(window, " "); idx > floor {
		return idx + 1
	}
	return len(window)
}
