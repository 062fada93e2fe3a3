package repositories

import (
	"context"
	"time"

	"github.com/carma-ai/carma/internal/models"
)

// PageInfo describes one page of a paginated listing.
type PageInfo struct {
	Page        int   `json:"page"`
	PerPage     int   `json:"per_page"`
	Total       int64 `json:"total"`
	TotalPages  int   `json:"total_pages"`
	HasNext     bool  `json:"has_next"`
	HasPrevious bool  `json:"has_previous"`
}

// NewPageInfo computes pagination metadata for a page request.
func NewPageInfo(page, perPage int, total int64) PageInfo {
	totalPages := int((total + int64(perPage) - 1) / int64(perPage))
	return PageInfo{
		Page:        page,
		PerPage:     perPage,
		Total:       total,
		TotalPages:  totalPages,
		HasNext:     page < totalPages,
		HasPrevious: page > 1,
	}
}

// SessionStats aggregates counters for the stats endpoint.
type SessionStats struct {
	Sessions struct {
		Total       int64 `json:"total"`
		Active      int64 `json:"active"`
		Inactive    int64 `json:"inactive"`
		UniqueUsers int64 `json:"unique_users"`
	} `json:"sessions"`
	Messages struct {
		Total         int64   `json:"total"`
		Human         int64   `json:"human"`
		AI            int64   `json:"ai"`
		AvgPerSession float64 `json:"avg_per_session"`
	} `json:"messages"`
}

// SessionRepository is the durable store contract for sessions. One concrete
// adapter exists per backing store (postgres, mongo).
type SessionRepository interface {
	// Create fails with CONFLICT when sessionID already exists.
	Create(ctx context.Context, sessionID string, userID, title *string, metadata map[string]any) (*models.Session, error)
	GetBySessionID(ctx context.Context, sessionID string) (*models.Session, error)
	// Touch bumps last_accessed_at on an active session. A missing or
	// inactive session is reported, never fatal to the caller's turn.
	Touch(ctx context.Context, sessionID string) error
	List(ctx context.Context, userID string, activeOnly bool, page, perPage int) ([]models.Session, PageInfo, error)
	Deactivate(ctx context.Context, sessionID string) (bool, error)
	// DeletePermanently removes the session and all of its messages in one
	// transaction.
	DeletePermanently(ctx context.Context, sessionID string) (bool, error)
	// DeleteOld purges inactive sessions not accessed since the cutoff.
	DeleteOld(ctx context.Context, cutoff time.Time) (int64, error)
	// MergeMetadata adds new keys and overrides existing ones with the
	// caller-supplied values; stored keys absent from md are kept.
	MergeMetadata(ctx context.Context, sessionID string, md map[string]any) error
	Stats(ctx context.Context) (*SessionStats, error)
}

// MessageRepository is the durable store contract for messages.
type MessageRepository interface {
	Insert(ctx context.Context, msg *models.Message) error
	ListBySession(ctx context.Context, sessionID string, page, perPage int, ascending bool) ([]models.Message, PageInfo, error)
	CountBySession(ctx context.Context, sessionID string) (int64, error)
	GetByID(ctx context.Context, messageID, sessionID string) (*models.Message, error)
	// SetReaction mutates the reaction of an ai message. Callers enforce the
	// role rule before calling.
	SetReaction(ctx context.Context, messageID, sessionID, reaction string) (*models.Message, error)
}

// DocumentRecordRepository exposes the knowledge-base record index consumed by
// retrieval.
type DocumentRecordRepository interface {
	// AllKnowledgeIDs returns every knowledge base holding at least one
	// indexed document.
	AllKnowledgeIDs(ctx context.Context) ([]string, error)
}
