package app

import (
	"errors"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"qachat-backend/internal/model"
	"qachat-backend/internal/repository"
)

// KnowledgeService manages knowledge bases and their documents. The default
// knowledge base (id "0") is provisioned lazily and protected from deletion;
// any other knowledge base can only be deleted once it owns no documents.
type KnowledgeService struct {
	repo      *repository.KnowledgeRepository
	uploadDir string
	logger    *zap.Logger
}

func NewKnowledgeService(repo *repository.KnowledgeRepository, uploadDir string, logger *zap.Logger) *KnowledgeService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &KnowledgeService{
		repo:      repo,
		uploadDir: uploadDir,
		logger:    logger,
	}
}

func (s *KnowledgeService) CreateKnowledgeBase(name, description string) (*model.KnowledgeBase, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, ErrInvalidInput
	}

	kb := &model.KnowledgeBase{
		ID:          uuid.NewString(),
		Name:        name,
		Description: strings.TrimSpace(description),
	}
	if err := s.repo.CreateKnowledgeBase(kb); err != nil {
		return nil, err
	}
	return kb, nil
}

func (s *KnowledgeService) GetKnowledgeBase(kbID string) (*model.KnowledgeBase, error) {
	if strings.TrimSpace(kbID) == "" {
		return nil, ErrInvalidInput
	}
	kb, err := s.repo.GetKnowledgeBase(kbID)
	if err != nil {
		return nil, err
	}
	if kb == nil {
		return nil, ErrKnowledgeBaseNotFound
	}
	return kb, nil
}

func (s *KnowledgeService) ListKnowledgeBases(limit, offset int) ([]model.KnowledgeBase, error) {
	return s.repo.ListKnowledgeBases(limit, offset)
}

// DeleteKnowledgeBase refuses the default knowledge base and any knowledge
// base that still owns documents; both checks run before the cascading
// delete is ever invoked.
func (s *KnowledgeService) DeleteKnowledgeBase(kbID string) error {
	kbID = strings.TrimSpace(kbID)
	if kbID == "" {
		return ErrInvalidInput
	}
	if kbID == model.DefaultKnowledgeBaseID {
		return ErrDefaultKnowledgeBase
	}

	count, err := s.repo.CountDocuments(kbID)
	if err != nil {
		return err
	}
	if count > 0 {
		return ErrKnowledgeBaseNotEmpty
	}

	deleted, err := s.repo.DeleteKnowledgeBase(kbID)
	if err != nil {
		return err
	}
	if !deleted {
		return ErrKnowledgeBaseNotFound
	}
	return nil
}

type AddDocumentInput struct {
	KnowledgeBaseID string
	Name            string
	SavedName       string
	Path            string
	Size            int64
	AnnotatedPath   string
	MdPath          string
}

// AddDocument registers an uploaded file in a knowledge base. An empty
// knowledge base id targets the default knowledge base, which is the only
// one auto-created when missing.
func (s *KnowledgeService) AddDocument(input AddDocumentInput) (*model.Document, error) {
	kbID := strings.TrimSpace(input.KnowledgeBaseID)
	if kbID == "" {
		kbID = model.DefaultKnowledgeBaseID
	}
	if strings.TrimSpace(input.Name) == "" ||
		strings.TrimSpace(input.SavedName) == "" ||
		strings.TrimSpace(input.Path) == "" ||
		input.Size < 0 {
		return nil, ErrInvalidInput
	}

	doc := &model.Document{
		ID:              uuid.NewString(),
		KnowledgeBaseID: kbID,
		Name:            input.Name,
		SavedName:       input.SavedName,
		Path:            input.Path,
		AnnotatedPath:   input.AnnotatedPath,
		MdPath:          input.MdPath,
		Size:            input.Size,
	}
	if err := s.repo.AddDocument(doc); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrKnowledgeBaseNotFound
		}
		return nil, err
	}
	return doc, nil
}

// DeleteDocument removes the document row, then cleans up its files best
// effort. When kbID is non-empty, the document must belong to that knowledge
// base; a mismatch behaves like a missing document so a guessed document id
// cannot delete across knowledge bases. File cleanup failures are logged and
// never undo the row deletion: the row is the authoritative record.
func (s *KnowledgeService) DeleteDocument(docID, kbID string) error {
	docID = strings.TrimSpace(docID)
	if docID == "" {
		return ErrInvalidInput
	}

	doc, deleted, err := s.repo.DeleteDocument(docID, strings.TrimSpace(kbID))
	if err != nil {
		return err
	}
	if !deleted {
		return ErrDocumentNotFound
	}

	s.cleanupDocumentFiles(doc)
	return nil
}

func (s *KnowledgeService) ListDocuments(kbID string, limit, offset int) ([]model.Document, error) {
	if strings.TrimSpace(kbID) == "" {
		return nil, ErrInvalidInput
	}
	return s.repo.ListDocuments(kbID, limit, offset)
}

func (s *KnowledgeService) GetDocument(docID string) (*model.Document, error) {
	if strings.TrimSpace(docID) == "" {
		return nil, ErrInvalidInput
	}
	doc, err := s.repo.GetDocument(docID)
	if err != nil {
		return nil, err
	}
	if doc == nil {
		return nil, ErrDocumentNotFound
	}
	return doc, nil
}

// UpdateDocumentPaths is the callback the PDF pipeline uses once the
// annotated and markdown renditions exist.
func (s *KnowledgeService) UpdateDocumentPaths(docID string, annotatedPath, mdPath *string) error {
	docID = strings.TrimSpace(docID)
	if docID == "" {
		return ErrInvalidInput
	}
	updated, err := s.repo.UpdateDocumentPaths(docID, annotatedPath, mdPath)
	if err != nil {
		return err
	}
	if !updated {
		return ErrDocumentNotFound
	}
	return nil
}

// cleanupDocumentFiles removes the primary upload, the annotated and
// markdown renditions and the sibling extracted-asset directory. Failures
// are logged, not returned.
func (s *KnowledgeService) cleanupDocumentFiles(doc *model.Document) {
	if doc.SavedName != "" {
		s.removeFile(filepath.Join(s.uploadDir, doc.SavedName))

		ext := filepath.Ext(doc.SavedName)
		assetDir := filepath.Join(s.uploadDir, strings.TrimSuffix(doc.SavedName, ext))
		if info, err := os.Stat(assetDir); err == nil && info.IsDir() {
			if err := os.RemoveAll(assetDir); err != nil {
				s.logger.Warn("remove document asset dir failed",
					zap.String("dir", assetDir),
					zap.Error(err))
			}
		}
	}
	if doc.AnnotatedPath != "" {
		s.removeFile(filepath.Join(s.uploadDir, filepath.Base(doc.AnnotatedPath)))
	}
	if doc.MdPath != "" {
		s.removeFile(filepath.Join(s.uploadDir, filepath.Base(doc.MdPath)))
	}
}

func (s *KnowledgeService) removeFile(path string) {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		s.logger.Warn("remove document file failed",
			zap.String("path", path),
			zap.Error(err))
	}
}
