package services

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/carma-ai/carma/internal/providers/vectorstore"
)

const (
	contextSeparator = "\n\n---\n\n"
	truncationNotice = "\n[... content truncated ...]"
	// truncationMargin is reserved at the end of the first block for the
	// truncation notice.
	truncationMargin = 50
)

// FormatContext renders retrieved chunks as a single bounded grounding
// string. Documents are packed greedily in order; the first document is
// always included, truncated to fit if necessary, so the context is never
// empty when at least one chunk matched. Returns "" for an empty input,
// which callers use to distinguish "nothing found" from "not attempted".
func FormatContext(docs []vectorstore.RetrievedChunk, maxLength int) string {
	if len(docs) == 0 {
		return ""
	}

	var parts []string
	currentLength := 0
	for i, doc := range docs {
		block := formatDocument(doc, i+1)

		projected := currentLength + len(block)
		if len(parts) > 0 {
			projected += len(contextSeparator)
		}

		if projected <= maxLength {
			parts = append(parts, block)
			currentLength = projected
			continue
		}
		if i == 0 {
			available := maxLength - truncationMargin
			if available < 0 {
				available = 0
			}
			cut := min(available, len(block))
			// Never cut through a multi-byte rune.
			for cut > 0 && cut < len(block) && !utf8.RuneStart(block[cut]) {
				cut--
			}
			parts = append(parts, block[:cut]+truncationNotice)
		}
		break
	}
	return strings.Join(parts, contextSeparator)
}

func formatDocument(doc vectorstore.RetrievedChunk, index int) string {
	source := "Source: " + orUnknown(doc.FileName)
	if doc.KnowledgeID != "" {
		source += fmt.Sprintf(" (Knowledge Base: %s)", doc.KnowledgeID)
	}
	return fmt.Sprintf("**Document %d** - %s\n\n%s", index, source, doc.Content)
}

func orUnknown(s string) string {
	if s == "" {
		return "Unknown Source"
	}
	return s
}
