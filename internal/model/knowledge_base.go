package model

import "time"

// DefaultKnowledgeBaseID is the well-known id of the auto-provisioned default
// knowledge base. It is created on first use and can never be deleted.
const DefaultKnowledgeBaseID = "0"

type KnowledgeBase struct {
	ID          string    `gorm:"size:64;primaryKey" json:"id"`
	Name        string    `gorm:"size:255;not null" json:"name"`
	Description string    `gorm:"type:text" json:"description"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}
