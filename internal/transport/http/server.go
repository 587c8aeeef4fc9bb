package http

import (
	"github.com/gin-gonic/gin"

	"qachat-backend/internal/bootstrap"
	"qachat-backend/internal/transport/http/handler"
)

func NewRouter(app *bootstrap.App) *gin.Engine {
	gin.SetMode(app.Config.App.GinMode)
	router := gin.New()
	router.Use(gin.Logger(), gin.Recovery())

	healthHandler := handler.NewHealthHandler(app)
	router.GET("/healthz", healthHandler.Check)

	// Uploaded files and their derived renditions are served straight from
	// the upload directory under the same prefix stored in document paths.
	router.Static("/api/uploads", app.Config.Upload.Dir)

	chatHandler := handler.NewChatHandler(app.ChatService)
	knowledgeHandler := handler.NewKnowledgeHandler(
		app.KnowledgeService,
		app.TaskPublisher,
		app.TaskStore,
		app.Config.Upload.Dir,
		app.Logger,
	)

	api := router.Group("/api")

	chatGroup := api.Group("/chat")
	chatGroup.GET("/stream", chatHandler.StreamChat)
	chatGroup.POST("/messages", chatHandler.CommitMessage)
	chatGroup.GET("/history", chatHandler.GetHistory)

	sessionGroup := api.Group("/sessions")
	sessionGroup.GET("", chatHandler.ListSessions)
	sessionGroup.PUT("/:id", chatHandler.UpdateSession)
	sessionGroup.DELETE("/:id", chatHandler.DeleteSession)

	kbGroup := api.Group("/knowledge_bases")
	kbGroup.POST("", knowledgeHandler.CreateKnowledgeBase)
	kbGroup.GET("", knowledgeHandler.ListKnowledgeBases)
	kbGroup.GET("/:id", knowledgeHandler.GetKnowledgeBase)
	kbGroup.DELETE("/:id", knowledgeHandler.DeleteKnowledgeBase)
	kbGroup.GET("/:id/documents", knowledgeHandler.ListDocuments)
	kbGroup.POST("/:id/documents", knowledgeHandler.UploadDocument)

	docGroup := api.Group("/documents")
	docGroup.DELETE("/:id", knowledgeHandler.DeleteDocument)

	taskGroup := api.Group("/tasks")
	taskGroup.GET("/:id", knowledgeHandler.TaskStatus)

	return router
}
