package model

import "time"

// Document records one ingested file. AnnotatedPath and MdPath are populated
// only after the PDF pipeline has processed the source file; other file types
// leave them empty.
type Document struct {
	ID              string    `gorm:"size:64;primaryKey" json:"id"`
	KnowledgeBaseID string    `gorm:"size:64;not null;index" json:"knowledge_base_id"`
	Name            string    `gorm:"size:255;not null" json:"name"`
	SavedName       string    `gorm:"size:255;not null" json:"saved_name"`
	Path            string    `gorm:"size:512;not null" json:"path"`
	AnnotatedPath   string    `gorm:"size:512" json:"annotated_path"`
	MdPath          string    `gorm:"size:512" json:"md_path"`
	Size            int64     `gorm:"not null" json:"size"`
	UploadedAt      time.Time `gorm:"index;autoCreateTime" json:"uploaded_at"`
}
