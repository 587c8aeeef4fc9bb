package handler

import (
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"qachat-backend/internal/app"
	"qachat-backend/internal/platform/rabbitmq"
	"qachat-backend/internal/transport/http/response"
	"qachat-backend/internal/worker"
)

type KnowledgeHandler struct {
	knowledgeService *app.KnowledgeService
	publisher        *rabbitmq.TaskPublisher
	tasks            *worker.TaskStore
	uploadDir        string
	logger           *zap.Logger
}

func NewKnowledgeHandler(
	knowledgeService *app.KnowledgeService,
	publisher *rabbitmq.TaskPublisher,
	tasks *worker.TaskStore,
	uploadDir string,
	logger *zap.Logger,
) *KnowledgeHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &KnowledgeHandler{
		knowledgeService: knowledgeService,
		publisher:        publisher,
		tasks:            tasks,
		uploadDir:        uploadDir,
		logger:           logger,
	}
}

type CreateKnowledgeBaseRequest struct {
	Name        string `json:"name" binding:"required,max=255"`
	Description string `json:"description"`
}

func (h *KnowledgeHandler) CreateKnowledgeBase(c *gin.Context) {
	var req CreateKnowledgeBaseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "invalid request payload")
		return
	}

	kb, err := h.knowledgeService.CreateKnowledgeBase(req.Name, req.Description)
	if err != nil {
		switch {
		case errors.Is(err, app.ErrInvalidInput):
			response.Error(c, http.StatusBadRequest, response.CodeBadRequest, err.Error())
		default:
			response.Error(c, http.StatusInternalServerError, response.CodeInternalServer, "create knowledge base failed")
		}
		return
	}

	response.OK(c, kb)
}

func (h *KnowledgeHandler) ListKnowledgeBases(c *gin.Context) {
	limit, offset := paginationParams(c)
	kbs, err := h.knowledgeService.ListKnowledgeBases(limit, offset)
	if err != nil {
		response.Error(c, http.StatusInternalServerError, response.CodeInternalServer, "list knowledge bases failed")
		return
	}
	response.OK(c, kbs)
}

func (h *KnowledgeHandler) GetKnowledgeBase(c *gin.Context) {
	kb, err := h.knowledgeService.GetKnowledgeBase(c.Param("id"))
	if err != nil {
		switch {
		case errors.Is(err, app.ErrInvalidInput):
			response.Error(c, http.StatusBadRequest, response.CodeBadRequest, err.Error())
		case errors.Is(err, app.ErrKnowledgeBaseNotFound):
			response.Error(c, http.StatusNotFound, response.CodeKnowledgeBaseNotFound, err.Error())
		default:
			response.Error(c, http.StatusInternalServerError, response.CodeInternalServer, "get knowledge base failed")
		}
		return
	}
	response.OK(c, kb)
}

func (h *KnowledgeHandler) DeleteKnowledgeBase(c *gin.Context) {
	kbID := c.Param("id")

	if err := h.knowledgeService.DeleteKnowledgeBase(kbID); err != nil {
		switch {
		case errors.Is(err, app.ErrInvalidInput):
			response.Error(c, http.StatusBadRequest, response.CodeBadRequest, err.Error())
		case errors.Is(err, app.ErrDefaultKnowledgeBase), errors.Is(err, app.ErrKnowledgeBaseNotEmpty):
			response.Error(c, http.StatusConflict, response.CodeConflict, err.Error())
		case errors.Is(err, app.ErrKnowledgeBaseNotFound):
			response.Error(c, http.StatusNotFound, response.CodeKnowledgeBaseNotFound, err.Error())
		default:
			response.Error(c, http.StatusInternalServerError, response.CodeInternalServer, "delete knowledge base failed")
		}
		return
	}

	response.OK(c, gin.H{"deleted_knowledge_base_id": kbID})
}

func (h *KnowledgeHandler) ListDocuments(c *gin.Context) {
	limit, offset := paginationParams(c)
	docs, err := h.knowledgeService.ListDocuments(c.Param("id"), limit, offset)
	if err != nil {
		switch {
		case errors.Is(err, app.ErrInvalidInput):
			response.Error(c, http.StatusBadRequest, response.CodeBadRequest, err.Error())
		default:
			response.Error(c, http.StatusInternalServerError, response.CodeInternalServer, "list documents failed")
		}
		return
	}
	response.OK(c, docs)
}

// UploadDocument stores the file under a generated name, registers it in the
// knowledge base and, for PDFs, queues background processing. The upload
// response carries a task id the client can poll.
func (h *KnowledgeHandler) UploadDocument(c *gin.Context) {
	kbID := c.Param("id")

	fileHeader, err := c.FormFile("file")
	if err != nil {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "file is required")
		return
	}

	originalName := filepath.Base(fileHeader.Filename)
	ext := filepath.Ext(originalName)
	if ext == "" {
		ext = ".bin"
	}
	savedName := uuid.NewString() + ext

	if err := os.MkdirAll(h.uploadDir, 0o755); err != nil {
		response.Error(c, http.StatusInternalServerError, response.CodeInternalServer, "prepare upload dir failed")
		return
	}
	savedPath := filepath.Join(h.uploadDir, savedName)
	if err := c.SaveUploadedFile(fileHeader, savedPath); err != nil {
		response.Error(c, http.StatusInternalServerError, response.CodeInternalServer, "save upload failed")
		return
	}

	doc, err := h.knowledgeService.AddDocument(app.AddDocumentInput{
		KnowledgeBaseID: kbID,
		Name:            originalName,
		SavedName:       savedName,
		Path:            "/api/uploads/" + savedName,
		Size:            fileHeader.Size,
	})
	if err != nil {
		// The row is the authoritative record; without it the stored file
		// is an orphan, so remove it.
		if removeErr := os.Remove(savedPath); removeErr != nil {
			h.logger.Warn("remove orphan upload failed",
				zap.String("path", savedPath),
				zap.Error(removeErr))
		}
		switch {
		case errors.Is(err, app.ErrInvalidInput):
			response.Error(c, http.StatusBadRequest, response.CodeBadRequest, err.Error())
		case errors.Is(err, app.ErrKnowledgeBaseNotFound):
			response.Error(c, http.StatusNotFound, response.CodeKnowledgeBaseNotFound, err.Error())
		default:
			response.Error(c, http.StatusInternalServerError, response.CodeInternalServer, "add document failed")
		}
		return
	}

	result := gin.H{"document": doc}

	if strings.EqualFold(ext, ".pdf") && h.publisher != nil {
		taskID := uuid.NewString()
		task := rabbitmq.PDFTask{
			TaskID:     taskID,
			DocumentID: doc.ID,
			FilePath:   savedPath,
		}
		if err := h.publisher.Publish(c.Request.Context(), task); err != nil {
			// Processing is best effort; the document stays usable without
			// its derived renditions.
			h.logger.Error("enqueue pdf task failed",
				zap.String("document_id", doc.ID),
				zap.Error(err))
		} else {
			if h.tasks != nil {
				if err := h.tasks.Set(c.Request.Context(), taskID, worker.TaskQueued); err != nil {
					h.logger.Warn("set task status failed", zap.Error(err))
				}
			}
			result["processing"] = true
			result["task_id"] = taskID
		}
	}

	response.OK(c, result)
}

func (h *KnowledgeHandler) DeleteDocument(c *gin.Context) {
	docID := c.Param("id")
	kbID := c.Query("kb_id")

	if err := h.knowledgeService.DeleteDocument(docID, kbID); err != nil {
		switch {
		case errors.Is(err, app.ErrInvalidInput):
			response.Error(c, http.StatusBadRequest, response.CodeBadRequest, err.Error())
		case errors.Is(err, app.ErrDocumentNotFound):
			response.Error(c, http.StatusNotFound, response.CodeDocumentNotFound, err.Error())
		default:
			response.Error(c, http.StatusInternalServerError, response.CodeInternalServer, "delete document failed")
		}
		return
	}

	response.OK(c, gin.H{"deleted_document_id": docID})
}

func (h *KnowledgeHandler) TaskStatus(c *gin.Context) {
	taskID := c.Param("id")
	if h.tasks == nil {
		response.Error(c, http.StatusNotFound, response.CodeTaskNotFound, "task tracking disabled")
		return
	}

	status, found, err := h.tasks.Get(c.Request.Context(), taskID)
	if err != nil {
		response.Error(c, http.StatusInternalServerError, response.CodeInternalServer, "get task status failed")
		return
	}
	if !found {
		response.Error(c, http.StatusNotFound, response.CodeTaskNotFound, "task not found")
		return
	}

	response.OK(c, gin.H{"task_id": taskID, "status": status})
}
