package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/carma-ai/carma/internal/models"
	"github.com/carma-ai/carma/internal/repositories"
	"github.com/carma-ai/carma/internal/utils"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type messageRepo struct {
	db *gorm.DB
}

func NewMessageRepo(db *gorm.DB) repositories.MessageRepository {
	return &messageRepo{db: db}
}

func (r *messageRepo) Insert(ctx context.Context, msg *models.Message) error {
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}
	if msg.Metadata == nil {
		msg.Metadata = datatypes.JSONMap{}
	}
	return r.db.WithContext(ctx).Create(msg).Error
}

func (r *messageRepo) ListBySession(ctx context.Context, sessionID string, page, perPage int, ascending bool) ([]models.Message, repositories.PageInfo, error) {
	if page <= 0 {
		page = 1
	}
	if perPage <= 0 {
		perPage = 50
	}

	q := r.db.WithContext(ctx).Model(&models.Message{}).Where("session_id = ?", sessionID)

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, repositories.PageInfo{}, err
	}

	// Ties on created_at fall back to insertion order via the id column so
	// the canonical conversation order is stable.
	order := "created_at DESC, id DESC"
	if ascending {
		order = "created_at ASC, id ASC"
	}

	var rows []models.Message
	err := q.Order(order).
		Limit(perPage).
		Offset((page - 1) * perPage).
		Find(&rows).Error
	if err != nil {
		return nil, repositories.PageInfo{}, err
	}
	return rows, repositories.NewPageInfo(page, perPage, total), nil
}

func (r *messageRepo) CountBySession(ctx context.Context, sessionID string) (int64, error) {
	var total int64
	err := r.db.WithContext(ctx).Model(&models.Message{}).
		Where("session_id = ?", sessionID).
		Count(&total).Error
	return total, err
}

func (r *messageRepo) GetByID(ctx context.Context, messageID, sessionID string) (*models.Message, error) {
	var m models.Message
	err := r.db.WithContext(ctx).
		Where("id = ? AND session_id = ?", messageID, sessionID).
		Take(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, utils.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func (r *messageRepo) SetReaction(ctx context.Context, messageID, sessionID, reaction string) (*models.Message, error) {
	var out *models.Message
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var m models.Message
		err := tx.Where("id = ? AND session_id = ?", messageID, sessionID).Take(&m).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return utils.ErrNotFound
		}
		if err != nil {
			return err
		}

		md := map[string]any(m.Metadata)
		if md == nil {
			md = map[string]any{}
		}
		md["reaction_updated_at"] = time.Now().UTC().Format(time.RFC3339Nano)

		err = tx.Model(&models.Message{}).
			Where("id = ?", messageID).
			Updates(map[string]any{
				"reaction": reaction,
				"metadata": datatypes.JSONMap(md),
			}).Error
		if err != nil {
			return err
		}

		m.Reaction = &reaction
		m.Metadata = datatypes.JSONMap(md)
		out = &m
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
