package model

import "time"

type Role string

const (
	RoleHuman     Role = "human"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// RoleOf maps a stored role string onto the closed role set. Legacy rows may
// carry arbitrary role strings; anything unrecognized is treated as system.
func RoleOf(raw string) Role {
	switch Role(raw) {
	case RoleHuman, RoleAssistant, RoleSystem:
		return Role(raw)
	default:
		return RoleSystem
	}
}

type Message struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	SessionID string    `gorm:"size:64;not null;index" json:"session_id"`
	Role      string    `gorm:"size:16;not null" json:"role"`
	Content   string    `gorm:"type:text;not null" json:"content"`
	CreatedAt time.Time `json:"created_at"`
}
