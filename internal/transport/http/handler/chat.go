package handler

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"qachat-backend/internal/app"
	"qachat-backend/internal/transport/http/response"
)

type ChatHandler struct {
	chatService *app.ChatService
}

func NewChatHandler(chatService *app.ChatService) *ChatHandler {
	return &ChatHandler{chatService: chatService}
}

type CommitMessageRequest struct {
	SessionID string `json:"session_id" binding:"required"`
	Content   string `json:"content" binding:"required"`
}

type UpdateSessionRequest struct {
	Title string `json:"title" binding:"required,max=128"`
}

// StreamChat is the SSE turn endpoint. Tokens arrive as plain data frames;
// a failure mid-stream yields a "[ERROR] ..." frame; every response ends
// with a "[DONE]" frame so clients never depend on connection close.
func (h *ChatHandler) StreamChat(c *gin.Context) {
	sessionID := c.Query("session_id")
	message := c.Query("message")
	kbID := c.Query("collection_name")

	if strings.TrimSpace(sessionID) == "" || strings.TrimSpace(message) == "" {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "session_id and message are required")
		return
	}

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")

	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		response.Error(c, http.StatusInternalServerError, response.CodeInternalServer, "stream not supported")
		return
	}

	writeFrame := func(payload string) error {
		if _, err := c.Writer.Write([]byte("data: " + payload + "\n\n")); err != nil {
			return err
		}
		flusher.Flush()
		return nil
	}

	err := h.chatService.StreamAnswer(c.Request.Context(), sessionID, message, kbID, func(event app.StreamEvent) error {
		switch event.Type {
		case app.EventToken:
			return writeFrame(sanitizeSSE(event.Payload))
		case app.EventError:
			return writeFrame("[ERROR] " + sanitizeSSE(event.Payload))
		case app.EventDone:
			return writeFrame("[DONE]")
		default:
			return nil
		}
	})
	if err != nil && errors.Is(err, app.ErrInvalidInput) {
		// Rejected before any event was written; fall back to a JSON error.
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, err.Error())
	}
}

func (h *ChatHandler) CommitMessage(c *gin.Context) {
	var req CommitMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "invalid request payload")
		return
	}

	message, err := h.chatService.CommitUserTurn(c.Request.Context(), req.SessionID, req.Content)
	if err != nil {
		switch {
		case errors.Is(err, app.ErrInvalidInput):
			response.Error(c, http.StatusBadRequest, response.CodeBadRequest, err.Error())
		default:
			response.Error(c, http.StatusInternalServerError, response.CodeInternalServer, "commit message failed")
		}
		return
	}

	response.OK(c, message)
}

func (h *ChatHandler) GetHistory(c *gin.Context) {
	sessionID := c.Query("session_id")
	if strings.TrimSpace(sessionID) == "" {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "invalid session_id")
		return
	}

	limit := 100
	if raw := c.Query("limit"); raw != "" {
		if parsed, parseErr := strconv.Atoi(raw); parseErr == nil {
			limit = parsed
		}
	}

	history, err := h.chatService.GetHistory(sessionID, limit)
	if err != nil {
		switch {
		case errors.Is(err, app.ErrInvalidInput):
			response.Error(c, http.StatusBadRequest, response.CodeBadRequest, err.Error())
		default:
			response.Error(c, http.StatusInternalServerError, response.CodeInternalServer, "get history failed")
		}
		return
	}

	response.OK(c, history)
}

func (h *ChatHandler) ListSessions(c *gin.Context) {
	limit, offset := paginationParams(c)
	sessions, err := h.chatService.ListSessions(limit, offset)
	if err != nil {
		response.Error(c, http.StatusInternalServerError, response.CodeInternalServer, "list sessions failed")
		return
	}
	response.OK(c, sessions)
}

func (h *ChatHandler) UpdateSession(c *gin.Context) {
	sessionID := c.Param("id")

	var req UpdateSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "invalid request payload")
		return
	}

	if err := h.chatService.UpdateSessionTitle(sessionID, req.Title); err != nil {
		switch {
		case errors.Is(err, app.ErrInvalidInput):
			response.Error(c, http.StatusBadRequest, response.CodeBadRequest, err.Error())
		case errors.Is(err, app.ErrSessionNotFound):
			response.Error(c, http.StatusNotFound, response.CodeSessionNotFound, err.Error())
		default:
			response.Error(c, http.StatusInternalServerError, response.CodeInternalServer, "update session failed")
		}
		return
	}

	response.OK(c, gin.H{"session_id": sessionID, "title": req.Title})
}

func (h *ChatHandler) DeleteSession(c *gin.Context) {
	sessionID := c.Param("id")

	if err := h.chatService.DeleteSession(sessionID); err != nil {
		switch {
		case errors.Is(err, app.ErrInvalidInput):
			response.Error(c, http.StatusBadRequest, response.CodeBadRequest, err.Error())
		case errors.Is(err, app.ErrSessionNotFound):
			response.Error(c, http.StatusNotFound, response.CodeSessionNotFound, err.Error())
		default:
			response.Error(c, http.StatusInternalServerError, response.CodeInternalServer, "delete session failed")
		}
		return
	}

	response.OK(c, gin.H{"deleted_session_id": sessionID})
}

func paginationParams(c *gin.Context) (limit, offset int) {
	limit = 100
	if raw := c.Query("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil {
			limit = parsed
		}
	}
	if raw := c.Query("offset"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil {
			offset = parsed
		}
	}
	return limit, offset
}

func sanitizeSSE(input string) string {
	replaced := strings.ReplaceAll(input, "\r\n", "\\n")
	replaced = strings.ReplaceAll(replaced, "\n", "\\n")
	return replaced
}
