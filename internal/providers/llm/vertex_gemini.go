package llm

import (
	"context"

	vertexgenai "cloud.google.com/go/vertexai/genai"
	"google.golang.org/api/iterator"
)

type VertexGemini struct {
	client *vertexgenai.Client
	model  string
}

func NewVertexGemini(ctx context.Context, projectID, location, modelName string) (*VertexGemini, error) {
	c, err := vertexgenai.NewClient(ctx, projectID, location)
	if err != nil {
		return nil, err
	}

	if modelName == "" {
		modelName = "gemini-1.5-flash"
	}
	return &VertexGemini{client: c, model: modelName}, nil
}

func (v *VertexGemini) Close() error { return v.client.Close() }

func (v *VertexGemini) Stream(ctx context.Context, system string, turns []Turn) (<-chan Chunk, <-chan error) {
	out := make(chan Chunk, 32)
	errs := make(chan error, 1)

	go func() {
		defer close(out)
		defer close(errs)

		if len(turns) == 0 {
			return
		}

		m := v.client.GenerativeModel(v.model)
		if system != "" {
			m.SystemInstruction = &vertexgenai.Content{
				Parts: []vertexgenai.Part{vertexgenai.Text(system)},
			}
		}

		cs := m.StartChat()
		for _, t := range turns[:len(turns)-1] {
			role := "user"
			if t.Role == "ai" {
				role = "model"
			}
			cs.History = append(cs.History, &vertexgenai.Content{
				Role:  role,
				Parts: []vertexgenai.Part{vertexgenai.Text(t.Content)},
			})
		}

		var usage *TokenUsage
		it := cs.SendMessageStream(ctx, vertexgenai.Text(turns[len(turns)-1].Content))
		for {
			resp, err := it.Next()
			if err == iterator.Done {
				break
			}
			if err != nil {
				errs <- err
				return
			}

			if resp.UsageMetadata != nil {
				usage = &TokenUsage{
					InputTokens:  int(resp.UsageMetadata.PromptTokenCount),
					OutputTokens: int(resp.UsageMetadata.CandidatesTokenCount),
					TotalTokens:  int(resp.UsageMetadata.TotalTokenCount),
				}
			}

			for _, cand := range resp.Candidates {
				if cand.Content == nil {
					continue
				}
				for _, part := range cand.Content.Parts {
					if t, ok := part.(vertexgenai.Text); ok && string(t) != "" {
						select {
						case out <- Chunk{Text: string(t)}:
						case <-ctx.Done():
							return
						}
					}
				}
			}
		}

		if usage != nil {
			select {
			case out <- Chunk{Usage: usage}:
			case <-ctx.Done():
			}
		}
	}()

	return out, errs
}
