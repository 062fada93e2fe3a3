package embedding

import "context"

// Embedder turns query text into a vector for similarity search. Embedding
// internals are a consumed capability, not built here.
type Embedder interface {
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}
