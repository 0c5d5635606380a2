package ingestion

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChunkTextShortContent(t *testing.T) {
	chunks := ChunkText("short document body", 4000, 800)
	require.Len(t, chunks, 1)
	assert.Equal(t, "short document body", chunks[0])
}

func TestChunkTextEmptyContent(t *testing.T) {
	assert.Nil(t, ChunkText("", 4000, 800))
	assert.Nil(t, ChunkText("   \n\n  ", 4000, 800))
}

func TestChunkTextSplitsLongContent(t *testing.T) {
	var sb strings.Builder
	for i := 0; i < 200; i++ {
		sb.WriteString("This is sentence number with some filler words to pad it out. ")
	}
	content := sb.String()

	chunks := ChunkText(content, 1000, 200)
	require.Greater(t, len(chunks), 1)

	for _, chunk := range chunks {
		assert.LessOrEqual(t, len(chunk), 1000)
		assert.NotEmpty(t, strings.TrimSpace(chunk))
	}
}

func TestChunkTextOverlapSharesContext(t *testing.T) {
	var sb strings.Builder
	for i := 0; i < 100; i++ {
		sb.WriteString("alpha bravo charlie delta echo foxtrot golf hotel india juliet. ")
	}
	chunks := ChunkText(sb.String(), 1000, 200)
	require.Greater(t, len(chunks), 1)

	// 隣接する断片は末尾の文脈を共有する
	tail := chunks[0][len(chunks[0])-50:]
	assert.Contains(t, chunks[1], strings.TrimSpace(tail[:20]))
}

func TestChunkTextPrefersSentenceBoundary(t *testing.T) {
	var sb strings.Builder
	for i := 0; i < 100; i++ {
		sb.WriteString("A complete sentence ends here. ")
	}
	chunks := ChunkText(sb.String(), 500, 100)
	require.Greater(t, len(chunks), 1)

	// 先頭断片は文の途中で切れない
	assert.True(t, strings.HasSuffix(chunks[0], "."))
}
