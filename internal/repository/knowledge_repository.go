package repository

import (
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"qachat-backend/internal/model"
)

const defaultListLimit = 100

// KnowledgeRepository owns the knowledge store: knowledge bases and their
// documents. It lives in a separate database from the chat store.
type KnowledgeRepository struct {
	db *gorm.DB
}

func NewKnowledgeRepository(db *gorm.DB) *KnowledgeRepository {
	return &KnowledgeRepository{db: db}
}

func (r *KnowledgeRepository) CreateKnowledgeBase(kb *model.KnowledgeBase) error {
	if err := r.db.Create(kb).Error; err != nil {
		return fmt.Errorf("create knowledge base failed: %w", err)
	}
	return nil
}

// GetKnowledgeBase returns nil when the knowledge base does not exist.
func (r *KnowledgeRepository) GetKnowledgeBase(kbID string) (*model.KnowledgeBase, error) {
	var kb model.KnowledgeBase
	if err := r.db.Where("id = ?", kbID).First(&kb).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("get knowledge base failed: %w", err)
	}
	return &kb, nil
}

func (r *KnowledgeRepository) ListKnowledgeBases(limit, offset int) ([]model.KnowledgeBase, error) {
	if limit <= 0 || limit > 200 {
		limit = defaultListLimit
	}
	var kbs []model.KnowledgeBase
	if err := r.db.Order("updated_at DESC").
		Limit(limit).Offset(offset).
		Find(&kbs).Error; err != nil {
		return nil, fmt.Errorf("list knowledge bases failed: %w", err)
	}
	return kbs, nil
}

// DeleteKnowledgeBase removes the knowledge base and cascades to its document
// rows in one transaction. The caller enforces the no-documents precondition;
// the cascade here is defense in depth.
func (r *KnowledgeRepository) DeleteKnowledgeBase(kbID string) (bool, error) {
	var deleted bool
	err := r.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("knowledge_base_id = ?", kbID).Delete(&model.Document{}).Error; err != nil {
			return err
		}
		result := tx.Where("id = ?", kbID).Delete(&model.KnowledgeBase{})
		if result.Error != nil {
			return result.Error
		}
		deleted = result.RowsAffected > 0
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("delete knowledge base failed: %w", err)
	}
	return deleted, nil
}

func (r *KnowledgeRepository) CountDocuments(kbID string) (int64, error) {
	var count int64
	if err := r.db.Model(&model.Document{}).
		Where("knowledge_base_id = ?", kbID).
		Count(&count).Error; err != nil {
		return 0, fmt.Errorf("count documents failed: %w", err)
	}
	return count, nil
}

// AddDocument inserts the document row, auto-creating the default knowledge
// base when its id is referenced for the first time. Any other missing
// knowledge base id is rejected with gorm.ErrRecordNotFound.
func (r *KnowledgeRepository) AddDocument(doc *model.Document) error {
	err := r.db.Transaction(func(tx *gorm.DB) error {
		var kb model.KnowledgeBase
		err := tx.Where("id = ?", doc.KnowledgeBaseID).First(&kb).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			if doc.KnowledgeBaseID != model.DefaultKnowledgeBaseID {
				return fmt.Errorf("knowledge base %s: %w", doc.KnowledgeBaseID, gorm.ErrRecordNotFound)
			}
			kb = model.KnowledgeBase{
				ID:          model.DefaultKnowledgeBaseID,
				Name:        "Default Knowledge Base",
				Description: "Auto-created default knowledge base",
			}
			if err := tx.Create(&kb).Error; err != nil {
				return err
			}
		} else if err != nil {
			return err
		}

		if err := tx.Create(doc).Error; err != nil {
			return err
		}
		return tx.Model(&model.KnowledgeBase{}).
			Where("id = ?", doc.KnowledgeBaseID).
			Update("updated_at", time.Now()).Error
	})
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		return fmt.Errorf("add document failed: %w", err)
	}
	return nil
}

// DeleteDocument removes the document row. When kbID is non-empty the row is
// deleted only if it actually belongs to that knowledge base; a mismatch is
// reported as not-deleted, never as an error. The removed document is
// returned so the caller can clean up its files.
func (r *KnowledgeRepository) DeleteDocument(docID, kbID string) (*model.Document, bool, error) {
	var doc model.Document
	var deleted bool
	err := r.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("id = ?", docID).First(&doc).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil
			}
			return err
		}
		if kbID != "" && doc.KnowledgeBaseID != kbID {
			return nil
		}
		if err := tx.Where("id = ?", docID).Delete(&model.Document{}).Error; err != nil {
			return err
		}
		if err := tx.Model(&model.KnowledgeBase{}).
			Where("id = ?", doc.KnowledgeBaseID).
			Update("updated_at", time.Now()).Error; err != nil {
			return err
		}
		deleted = true
		return nil
	})
	if err != nil {
		return nil, false, fmt.Errorf("delete document failed: %w", err)
	}
	if !deleted {
		return nil, false, nil
	}
	return &doc, true, nil
}

func (r *KnowledgeRepository) ListDocuments(kbID string, limit, offset int) ([]model.Document, error) {
	if limit <= 0 || limit > 200 {
		limit = defaultListLimit
	}
	var docs []model.Document
	if err := r.db.Where("knowledge_base_id = ?", kbID).
		Order("uploaded_at DESC").
		Limit(limit).Offset(offset).
		Find(&docs).Error; err != nil {
		return nil, fmt.Errorf("list documents failed: %w", err)
	}
	return docs, nil
}

// GetDocument returns nil when the document does not exist.
func (r *KnowledgeRepository) GetDocument(docID string) (*model.Document, error) {
	var doc model.Document
	if err := r.db.Where("id = ?", docID).First(&doc).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("get document failed: %w", err)
	}
	return &doc, nil
}

// UpdateDocumentPaths records the derived-artifact paths produced by the PDF
// pipeline. Nil pointers leave the corresponding column untouched.
func (r *KnowledgeRepository) UpdateDocumentPaths(docID string, annotatedPath, mdPath *string) (bool, error) {
	updates := map[string]interface{}{}
	if annotatedPath != nil {
		updates["annotated_path"] = *annotatedPath
	}
	if mdPath != nil {
		updates["md_path"] = *mdPath
	}
	if len(updates) == 0 {
		return false, nil
	}

	var updated bool
	err := r.db.Transaction(func(tx *gorm.DB) error {
		var doc model.Document
		if err := tx.Where("id = ?", docID).First(&doc).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil
			}
			return err
		}
		if err := tx.Model(&model.Document{}).Where("id = ?", docID).Updates(updates).Error; err != nil {
			return err
		}
		if err := tx.Model(&model.KnowledgeBase{}).
			Where("id = ?", doc.KnowledgeBaseID).
			Update("updated_at", time.Now()).Error; err != nil {
			return err
		}
		updated = true
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("update document paths failed: %w", err)
	}
	return updated, nil
}
