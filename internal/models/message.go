package models

import (
	"time"

	"gorm.io/datatypes"
)

const (
	RoleHuman = "human"
	RoleAI    = "ai"
)

const (
	ReactionLike    = "like"
	ReactionDislike = "dislike"
)

// Message is a single turn half. Role and content are immutable once written;
// only the reaction (ai messages) may change afterwards.
type Message struct {
	ID           string            `gorm:"column:id;type:uuid;primaryKey" json:"id"`
	SessionID    string            `gorm:"column:session_id;type:uuid;not null;index:idx_chatbot_messages_created,priority:1" json:"session_id"`
	Role         string            `gorm:"column:role;type:text;not null;check:role IN ('human','ai')" json:"role"`
	Content      string            `gorm:"column:content;type:text;not null" json:"content"`
	CreatedAt    time.Time         `gorm:"column:created_at;not null;index:idx_chatbot_messages_created,priority:2" json:"created_at"`
	Reaction     *string           `gorm:"column:reaction;type:text" json:"reaction"`
	InputTokens  int               `gorm:"column:input_tokens;not null;default:0" json:"input_tokens"`
	OutputTokens int               `gorm:"column:output_tokens;not null;default:0" json:"output_tokens"`
	TotalTokens  int               `gorm:"column:total_tokens;not null;default:0" json:"total_tokens"`
	Metadata     datatypes.JSONMap `gorm:"column:metadata;type:jsonb" json:"metadata"`
}

func (Message) TableName() string { return "chatbot_messages" }

// ValidRole reports whether role is one of the two turn roles.
func ValidRole(role string) bool {
	return role == RoleHuman || role == RoleAI
}

// ValidReaction reports whether r is an accepted reaction value.
func ValidReaction(r string) bool {
	return r == ReactionLike || r == ReactionDislike
}
