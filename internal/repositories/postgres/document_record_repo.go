package postgres

import (
	"context"

	"github.com/carma-ai/carma/internal/models"
	"github.com/carma-ai/carma/internal/repositories"
	"gorm.io/gorm"
)

type documentRecordRepo struct {
	db *gorm.DB
}

func NewDocumentRecordRepo(db *gorm.DB) repositories.DocumentRecordRepository {
	return &documentRecordRepo{db: db}
}

func (r *documentRecordRepo) AllKnowledgeIDs(ctx context.Context) ([]string, error) {
	var ids []string
	err := r.db.WithContext(ctx).Model(&models.DocumentRecord{}).
		Distinct("knowledge_id").
		Order("knowledge_id").
		Pluck("knowledge_id", &ids).Error
	if err != nil {
		return nil, err
	}
	return ids, nil
}
