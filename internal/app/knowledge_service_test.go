package app

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"qachat-backend/internal/model"
	"qachat-backend/internal/repository"
)

func newKnowledgeFixture(t *testing.T) (*KnowledgeService, *repository.KnowledgeRepository, string) {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&model.KnowledgeBase{}, &model.Document{}))
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})

	repo := repository.NewKnowledgeRepository(db)
	uploadDir := t.TempDir()
	return NewKnowledgeService(repo, uploadDir, zap.NewNop()), repo, uploadDir
}

func TestKnowledgeService_CreateKnowledgeBase(t *testing.T) {
	svc, _, _ := newKnowledgeFixture(t)

	kb, err := svc.CreateKnowledgeBase("  Papers  ", " research dumps ")
	require.NoError(t, err)
	assert.NotEmpty(t, kb.ID)
	assert.Equal(t, "Papers", kb.Name)
	assert.Equal(t, "research dumps", kb.Description)

	_, err = svc.CreateKnowledgeBase("   ", "")
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestKnowledgeService_DeleteDefaultKnowledgeBaseRefused(t *testing.T) {
	svc, _, _ := newKnowledgeFixture(t)

	err := svc.DeleteKnowledgeBase(model.DefaultKnowledgeBaseID)
	assert.ErrorIs(t, err, ErrDefaultKnowledgeBase)
}

func TestKnowledgeService_DeleteNonEmptyKnowledgeBaseRefused(t *testing.T) {
	svc, _, _ := newKnowledgeFixture(t)

	kb, err := svc.CreateKnowledgeBase("Papers", "")
	require.NoError(t, err)

	_, err = svc.AddDocument(AddDocumentInput{
		KnowledgeBaseID: kb.ID,
		Name:            "a.pdf",
		SavedName:       "a.pdf",
		Path:            "/api/uploads/a.pdf",
		Size:            10,
	})
	require.NoError(t, err)

	err = svc.DeleteKnowledgeBase(kb.ID)
	assert.ErrorIs(t, err, ErrKnowledgeBaseNotEmpty)

	// After removing the document the knowledge base can go.
	docs, err := svc.ListDocuments(kb.ID, 10, 0)
	require.NoError(t, err)
	require.Len(t, docs, 1)
	require.NoError(t, svc.DeleteDocument(docs[0].ID, kb.ID))
	require.NoError(t, svc.DeleteKnowledgeBase(kb.ID))

	err = svc.DeleteKnowledgeBase(kb.ID)
	assert.ErrorIs(t, err, ErrKnowledgeBaseNotFound)
}

func TestKnowledgeService_AddDocumentDefaultsKnowledgeBase(t *testing.T) {
	svc, _, _ := newKnowledgeFixture(t)

	doc, err := svc.AddDocument(AddDocumentInput{
		Name:      "notes.pdf",
		SavedName: "abc.pdf",
		Path:      "/api/uploads/abc.pdf",
		Size:      42,
	})
	require.NoError(t, err)
	assert.Equal(t, model.DefaultKnowledgeBaseID, doc.KnowledgeBaseID)

	kb, err := svc.GetKnowledgeBase(model.DefaultKnowledgeBaseID)
	require.NoError(t, err)
	assert.NotNil(t, kb)
}

func TestKnowledgeService_AddDocumentMissingKnowledgeBase(t *testing.T) {
	svc, _, _ := newKnowledgeFixture(t)

	_, err := svc.AddDocument(AddDocumentInput{
		KnowledgeBaseID: "ghost",
		Name:            "a.pdf",
		SavedName:       "a.pdf",
		Path:            "/api/uploads/a.pdf",
		Size:            1,
	})
	assert.ErrorIs(t, err, ErrKnowledgeBaseNotFound)
}

func TestKnowledgeService_AddDocumentValidation(t *testing.T) {
	svc, _, _ := newKnowledgeFixture(t)

	_, err := svc.AddDocument(AddDocumentInput{Name: "", SavedName: "x", Path: "/x", Size: 1})
	assert.ErrorIs(t, err, ErrInvalidInput)
	_, err = svc.AddDocument(AddDocumentInput{Name: "x", SavedName: "x", Path: "/x", Size: -1})
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestKnowledgeService_DeleteDocumentCleansFiles(t *testing.T) {
	svc, _, uploadDir := newKnowledgeFixture(t)

	savedName := "doc123.pdf"
	savedPath := filepath.Join(uploadDir, savedName)
	mdPath := filepath.Join(uploadDir, "doc123.md")
	assetDir := filepath.Join(uploadDir, "doc123")
	require.NoError(t, os.WriteFile(savedPath, []byte("pdf"), 0o644))
	require.NoError(t, os.WriteFile(mdPath, []byte("md"), 0o644))
	require.NoError(t, os.MkdirAll(assetDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(assetDir, "img.png"), []byte("png"), 0o644))

	doc, err := svc.AddDocument(AddDocumentInput{
		Name:      "report.pdf",
		SavedName: savedName,
		Path:      "/api/uploads/" + savedName,
		Size:      3,
		MdPath:    "/api/uploads/doc123.md",
	})
	require.NoError(t, err)

	require.NoError(t, svc.DeleteDocument(doc.ID, ""))

	assert.NoFileExists(t, savedPath)
	assert.NoFileExists(t, mdPath)
	assert.NoDirExists(t, assetDir)
}

func TestKnowledgeService_DeleteDocumentSurvivesMissingFiles(t *testing.T) {
	svc, _, _ := newKnowledgeFixture(t)

	doc, err := svc.AddDocument(AddDocumentInput{
		Name:      "report.pdf",
		SavedName: "never-written.pdf",
		Path:      "/api/uploads/never-written.pdf",
		Size:      3,
	})
	require.NoError(t, err)

	// The row deletion must succeed even though no files were ever written.
	require.NoError(t, svc.DeleteDocument(doc.ID, ""))

	_, err = svc.GetDocument(doc.ID)
	assert.ErrorIs(t, err, ErrDocumentNotFound)
}

func TestKnowledgeService_DeleteDocumentOwnershipMismatch(t *testing.T) {
	svc, _, _ := newKnowledgeFixture(t)

	kb, err := svc.CreateKnowledgeBase("Papers", "")
	require.NoError(t, err)
	doc, err := svc.AddDocument(AddDocumentInput{
		KnowledgeBaseID: kb.ID,
		Name:            "a.pdf",
		SavedName:       "a.pdf",
		Path:            "/api/uploads/a.pdf",
		Size:            1,
	})
	require.NoError(t, err)

	err = svc.DeleteDocument(doc.ID, "some-other-kb")
	assert.ErrorIs(t, err, ErrDocumentNotFound)

	// The document did survive the mismatched delete.
	got, err := svc.GetDocument(doc.ID)
	require.NoError(t, err)
	assert.Equal(t, doc.ID, got.ID)
}

func TestKnowledgeService_UpdateDocumentPaths(t *testing.T) {
	svc, _, _ := newKnowledgeFixture(t)

	md := "/api/uploads/x.md"
	err := svc.UpdateDocumentPaths("ghost", nil, &md)
	assert.ErrorIs(t, err, ErrDocumentNotFound)

	doc, err := svc.AddDocument(AddDocumentInput{
		Name:      "x.pdf",
		SavedName: "x.pdf",
		Path:      "/api/uploads/x.pdf",
		Size:      1,
	})
	require.NoError(t, err)

	require.NoError(t, svc.UpdateDocumentPaths(doc.ID, nil, &md))

	got, err := svc.GetDocument(doc.ID)
	require.NoError(t, err)
	assert.Equal(t, md, got.MdPath)
}
