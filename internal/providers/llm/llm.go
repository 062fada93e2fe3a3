package llm

import "context"

// Turn is one role-tagged prompt turn, oldest first.
type Turn struct {
	Role    string // "human" | "ai"
	Content string
}

// TokenUsage is the final usage report of a generation, when the backend
// supplies one.
type TokenUsage struct {
	InputTokens  int
	OutputTokens int
	TotalTokens  int
}

// Chunk is one incremental generation unit. A chunk with empty Text may still
// carry the closing usage report.
type Chunk struct {
	Text  string
	Usage *TokenUsage
}

type Provider interface {
	// Stream generates a reply to the turn list under the given system
	// instruction and delivers it incrementally. Both channels are closed
	// when the stream ends; at most one error is sent.
	Stream(ctx context.Context, system string, turns []Turn) (chunks <-chan Chunk, errs <-chan error)
	Close() error
}
