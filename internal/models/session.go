package models

import (
	"time"

	"gorm.io/datatypes"
)

// Session is one durable conversation thread. Messages belong to exactly one
// session and are removed with it on hard delete.
type Session struct {
	SessionID      string            `gorm:"column:session_id;type:uuid;primaryKey" json:"session_id"`
	UserID         *string           `gorm:"column:user_id;type:text;index" json:"user_id"`
	Title          *string           `gorm:"column:title;type:text" json:"title"`
	CreatedAt      time.Time         `gorm:"column:created_at;not null" json:"created_at"`
	LastAccessedAt time.Time         `gorm:"column:last_accessed_at;not null;index" json:"last_accessed_at"`
	IsActive       bool              `gorm:"column:is_active;not null;default:true;index" json:"is_active"`
	Metadata       datatypes.JSONMap `gorm:"column:metadata;type:jsonb" json:"metadata"`

	Messages []Message `gorm:"foreignKey:SessionID;references:SessionID;constraint:OnDelete:CASCADE" json:"-"`
}

func (Session) TableName() string { return "chatbot_sessions" }
