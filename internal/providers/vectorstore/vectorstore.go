package vectorstore

import "context"

// RetrievedChunk is one ranked search hit with its provenance.
type RetrievedChunk struct {
	DocumentID  string
	FileName    string
	KnowledgeID string
	SourceURL   *string
	Content     string
	// Score is the similarity score when the backend supplies one; nil
	// scores are treated as "keep" by downstream filtering.
	Score *float64
}

// Searcher is the per-knowledge-base nearest-neighbor search capability.
type Searcher interface {
	Search(ctx context.Context, knowledgeID, query string, k int) ([]RetrievedChunk, error)
}
