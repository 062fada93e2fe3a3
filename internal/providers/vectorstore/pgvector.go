package vectorstore

import (
	"context"
	"fmt"

	"github.com/carma-ai/carma/internal/models"
	"github.com/carma-ai/carma/internal/providers/embedding"
	"github.com/pgvector/pgvector-go"
	"gorm.io/gorm"
)

// PGVector searches document chunks by cosine distance over a pgvector
// column. The query text is embedded on the fly with the injected Embedder.
type PGVector struct {
	db       *gorm.DB
	embedder embedding.Embedder
}

func NewPGVector(db *gorm.DB, embedder embedding.Embedder) *PGVector {
	return &PGVector{db: db, embedder: embedder}
}

type chunkRow struct {
	models.DocumentChunk
	Distance float64 `gorm:"column:distance"`
}

func (s *PGVector) Search(ctx context.Context, knowledgeID, query string, k int) ([]RetrievedChunk, error) {
	if k <= 0 {
		k = 4
	}

	vec, err := s.embedder.EmbedQuery(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	var rows []chunkRow
	err = s.db.WithContext(ctx).
		Model(&models.DocumentChunk{}).
		Select("*, embedding <=> ? AS distance", pgvector.NewVector(vec)).
		Where("knowledge_id = ?", knowledgeID).
		Order("distance").
		Limit(k).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("similarity search: %w", err)
	}

	out := make([]RetrievedChunk, 0, len(rows))
	for _, row := range rows {
		// Cosine distance is in [0, 2]; expose it as a similarity score.
		score := 1 - row.Distance
		out = append(out, RetrievedChunk{
			DocumentID:  row.DocumentID,
			FileName:    row.FileName,
			KnowledgeID: row.KnowledgeID,
			SourceURL:   row.SourceURL,
			Content:     row.Content,
			Score:       &score,
		})
	}
	return out, nil
}
