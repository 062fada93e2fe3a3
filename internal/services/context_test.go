package services

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/carma-ai/carma/internal/providers/vectorstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func chunk(content, file, kb string) vectorstore.RetrievedChunk {
	return vectorstore.RetrievedChunk{
		DocumentID:  "doc-" + file,
		FileName:    file,
		KnowledgeID: kb,
		Content:     content,
	}
}

func TestFormatContext_Empty(t *testing.T) {
	assert.Equal(t, "", FormatContext(nil, 8000))
	assert.Equal(t, "", FormatContext([]vectorstore.RetrievedChunk{}, 8000))
}

func TestFormatContext_SingleDocument(t *testing.T) {
	out := FormatContext([]vectorstore.RetrievedChunk{
		chunk("Visiting hours are 9am to 5pm.", "visits.pdf", "kb-clinic"),
	}, 8000)

	assert.Equal(t, "**Document 1** - Source: visits.pdf (Knowledge Base: kb-clinic)\n\nVisiting hours are 9am to 5pm.", out)
}

func TestFormatContext_UnknownSource(t *testing.T) {
	out := FormatContext([]vectorstore.RetrievedChunk{
		chunk("content", "", ""),
	}, 8000)

	assert.Contains(t, out, "Source: Unknown Source")
	assert.NotContains(t, out, "Knowledge Base:")
}

func TestFormatContext_SeparatorAndNumbering(t *testing.T) {
	out := FormatContext([]vectorstore.RetrievedChunk{
		chunk("first", "a.pdf", "kb"),
		chunk("second", "b.pdf", "kb"),
	}, 8000)

	parts := strings.Split(out, "\n\n---\n\n")
	require.Len(t, parts, 2)
	assert.True(t, strings.HasPrefix(parts[0], "**Document 1**"))
	assert.True(t, strings.HasPrefix(parts[1], "**Document 2**"))
}

func TestFormatContext_StopsAtBound(t *testing.T) {
	first := chunk(strings.Repeat("a", 100), "a.pdf", "kb")
	second := chunk(strings.Repeat("b", 100), "b.pdf", "kb")

	oneBlock := FormatContext([]vectorstore.RetrievedChunk{first}, 8000)
	limit := len(oneBlock) + 10 // room for the first block only

	out := FormatContext([]vectorstore.RetrievedChunk{first, second}, limit)
	assert.Equal(t, oneBlock, out)
	assert.NotContains(t, out, "bbb")
}

func TestFormatContext_FirstDocumentTruncated(t *testing.T) {
	doc := chunk(strings.Repeat("x", 5000), "big.pdf", "kb")
	limit := 500

	out := FormatContext([]vectorstore.RetrievedChunk{doc}, limit)
	assert.NotEmpty(t, out)
	assert.LessOrEqual(t, len(out), limit)
	assert.True(t, strings.HasSuffix(out, "[... content truncated ...]"))
}

func TestFormatContext_TruncationKeepsValidUTF8(t *testing.T) {
	doc := chunk(strings.Repeat("日本語のテキスト", 1000), "guide.pdf", "kb")

	// sweep limits so the cut lands inside multi-byte runes at various offsets
	for limit := 110; limit < 140; limit++ {
		out := FormatContext([]vectorstore.RetrievedChunk{doc}, limit)
		require.True(t, utf8.ValidString(out), "limit %d produced invalid UTF-8", limit)
		assert.LessOrEqual(t, len(out), limit)
	}
}

func TestFormatContext_TruncationNeverDropsFirstDocument(t *testing.T) {
	doc := chunk(strings.Repeat("x", 5000), "big.pdf", "kb")

	// even an absurdly small bound yields a non-empty grounded context
	out := FormatContext([]vectorstore.RetrievedChunk{doc}, 10)
	assert.NotEmpty(t, out)
	assert.True(t, strings.HasSuffix(out, "[... content truncated ...]"))
}
