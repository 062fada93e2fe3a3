package postgres

import (
	"context"
	"errors"
	"math"
	"time"

	"github.com/carma-ai/carma/internal/models"
	"github.com/carma-ai/carma/internal/repositories"
	"github.com/carma-ai/carma/internal/utils"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type sessionRepo struct {
	db *gorm.DB
}

func NewSessionRepo(db *gorm.DB) repositories.SessionRepository {
	return &sessionRepo{db: db}
}

func (r *sessionRepo) Create(ctx context.Context, sessionID string, userID, title *string, metadata map[string]any) (*models.Session, error) {
	if metadata == nil {
		metadata = map[string]any{}
	}
	now := time.Now().UTC()
	s := &models.Session{
		SessionID:      sessionID,
		UserID:         userID,
		Title:          title,
		CreatedAt:      now,
		LastAccessedAt: now,
		IsActive:       true,
		Metadata:       datatypes.JSONMap(metadata),
	}

	res := r.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(s)
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, utils.E(utils.CodeConflict, "SessionRepo.Create", "session already exists", nil)
	}
	return s, nil
}

func (r *sessionRepo) GetBySessionID(ctx context.Context, sessionID string) (*models.Session, error) {
	var s models.Session
	err := r.db.WithContext(ctx).Where("session_id = ?", sessionID).Take(&s).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, utils.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func (r *sessionRepo) Touch(ctx context.Context, sessionID string) error {
	res := r.db.WithContext(ctx).Model(&models.Session{}).
		Where("session_id = ? AND is_active = ?", sessionID, true).
		Update("last_accessed_at", time.Now().UTC())
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return utils.ErrNotFound
	}
	return nil
}

func (r *sessionRepo) List(ctx context.Context, userID string, activeOnly bool, page, perPage int) ([]models.Session, repositories.PageInfo, error) {
	if page <= 0 {
		page = 1
	}
	if perPage <= 0 {
		perPage = 50
	}

	q := r.db.WithContext(ctx).Model(&models.Session{}).Where("user_id = ?", userID)
	if activeOnly {
		q = q.Where("is_active = ?", true)
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, repositories.PageInfo{}, err
	}

	var rows []models.Session
	err := q.Order("last_accessed_at DESC").
		Limit(perPage).
		Offset((page - 1) * perPage).
		Find(&rows).Error
	if err != nil {
		return nil, repositories.PageInfo{}, err
	}
	return rows, repositories.NewPageInfo(page, perPage, total), nil
}

func (r *sessionRepo) Deactivate(ctx context.Context, sessionID string) (bool, error) {
	res := r.db.WithContext(ctx).Model(&models.Session{}).
		Where("session_id = ?", sessionID).
		Updates(map[string]any{
			"is_active":        false,
			"last_accessed_at": time.Now().UTC(),
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *sessionRepo) DeletePermanently(ctx context.Context, sessionID string) (bool, error) {
	var deleted bool
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("session_id = ?", sessionID).Delete(&models.Message{}).Error; err != nil {
			return err
		}
		res := tx.Where("session_id = ?", sessionID).Delete(&models.Session{})
		if res.Error != nil {
			return res.Error
		}
		deleted = res.RowsAffected > 0
		return nil
	})
	return deleted, err
}

func (r *sessionRepo) DeleteOld(ctx context.Context, cutoff time.Time) (int64, error) {
	var purged int64
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		sub := tx.Model(&models.Session{}).Select("session_id").
			Where("is_active = ? AND last_accessed_at < ?", false, cutoff)
		if err := tx.Where("session_id IN (?)", sub).Delete(&models.Message{}).Error; err != nil {
			return err
		}
		res := tx.Where("is_active = ? AND last_accessed_at < ?", false, cutoff).
			Delete(&models.Session{})
		if res.Error != nil {
			return res.Error
		}
		purged = res.RowsAffected
		return nil
	})
	return purged, err
}

func (r *sessionRepo) MergeMetadata(ctx context.Context, sessionID string, md map[string]any) error {
	if len(md) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var s models.Session
		err := tx.Where("session_id = ?", sessionID).Take(&s).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return utils.ErrNotFound
		}
		if err != nil {
			return err
		}
		merged := map[string]any(s.Metadata)
		if merged == nil {
			merged = map[string]any{}
		}
		for k, v := range md {
			merged[k] = v
		}
		return tx.Model(&models.Session{}).
			Where("session_id = ?", sessionID).
			Update("metadata", datatypes.JSONMap(merged)).Error
	})
}

func (r *sessionRepo) Stats(ctx context.Context) (*repositories.SessionStats, error) {
	var out repositories.SessionStats
	db := r.db.WithContext(ctx)

	if err := db.Model(&models.Session{}).Count(&out.Sessions.Total).Error; err != nil {
		return nil, err
	}
	if err := db.Model(&models.Session{}).Where("is_active = ?", true).Count(&out.Sessions.Active).Error; err != nil {
		return nil, err
	}
	out.Sessions.Inactive = out.Sessions.Total - out.Sessions.Active
	if err := db.Model(&models.Session{}).
		Where("user_id IS NOT NULL").
		Distinct("user_id").
		Count(&out.Sessions.UniqueUsers).Error; err != nil {
		return nil, err
	}

	if err := db.Model(&models.Message{}).Count(&out.Messages.Total).Error; err != nil {
		return nil, err
	}
	if err := db.Model(&models.Message{}).Where("role = ?", models.RoleHuman).Count(&out.Messages.Human).Error; err != nil {
		return nil, err
	}
	if err := db.Model(&models.Message{}).Where("role = ?", models.RoleAI).Count(&out.Messages.AI).Error; err != nil {
		return nil, err
	}

	var sessionsWithMessages int64
	if err := db.Model(&models.Message{}).Distinct("session_id").Count(&sessionsWithMessages).Error; err != nil {
		return nil, err
	}
	if sessionsWithMessages > 0 {
		avg := float64(out.Messages.Total) / float64(sessionsWithMessages)
		out.Messages.AvgPerSession = math.Round(avg*100) / 100
	}
	return &out, nil
}
