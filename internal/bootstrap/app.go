package bootstrap

import (
	"context"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"qachat-backend/internal/ai"
	"qachat-backend/internal/app"
	"qachat-backend/internal/cache"
	"qachat-backend/internal/config"
	"qachat-backend/internal/model"
	"qachat-backend/internal/platform/database"
	rabbitmqClient "qachat-backend/internal/platform/rabbitmq"
	redisClient "qachat-backend/internal/platform/redis"
	"qachat-backend/internal/repository"
	"qachat-backend/internal/retriever"
	"qachat-backend/internal/worker"
)

// App wires every long-lived component: the two durable stores, the task
// infrastructure and the domain services built on top of them.
type App struct {
	Config      *config.Config
	Logger      *zap.Logger
	ChatDB      *gorm.DB
	KnowledgeDB *gorm.DB
	Redis       *redis.Client
	MQConn      *amqp.Connection

	ChatService      *app.ChatService
	KnowledgeService *app.KnowledgeService
	TaskPublisher    *rabbitmqClient.TaskPublisher
	TaskStore        *worker.TaskStore
	PDFWorker        *worker.PDFProcessWorker

	StartedAt time.Time
}

func New(ctx context.Context) (*App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config failed: %w", err)
	}

	logger, err := newLogger(cfg.App.Env)
	if err != nil {
		return nil, fmt.Errorf("build logger failed: %w", err)
	}

	chatDB, err := database.New(ctx, cfg.ChatDB)
	if err != nil {
		return nil, err
	}
	if err := chatDB.AutoMigrate(&model.Session{}, &model.Message{}); err != nil {
		return nil, fmt.Errorf("auto migrate chat tables failed: %w", err)
	}

	knowledgeDB, err := database.New(ctx, cfg.KnowledgeDB)
	if err != nil {
		return nil, err
	}
	if err := knowledgeDB.AutoMigrate(&model.KnowledgeBase{}, &model.Document{}); err != nil {
		return nil, fmt.Errorf("auto migrate knowledge tables failed: %w", err)
	}

	redisCli, err := redisClient.New(ctx, cfg.Redis)
	if err != nil {
		return nil, err
	}

	mqConn, err := rabbitmqClient.New(ctx, cfg.RabbitMQ.URL)
	if err != nil {
		return nil, err
	}

	historyCache, err := cache.NewHistoryCache(cfg.Cache.HistoryCapacity)
	if err != nil {
		return nil, fmt.Errorf("build history cache failed: %w", err)
	}

	generator := ai.NewOpenAICompatibleClient(ai.ChatConfig{
		BaseURL: cfg.LLM.BaseURL,
		APIKey:  cfg.LLM.APIKey,
		Model:   cfg.LLM.Model,
	})
	retrieverCli := retriever.NewClient(retriever.Config{
		BaseURL:  cfg.Retriever.BaseURL,
		TopK:     cfg.Retriever.TopK,
		MinScore: cfg.Retriever.MinScore,
	})

	chatRepo := repository.NewChatRepository(chatDB)
	knowledgeRepo := repository.NewKnowledgeRepository(knowledgeDB)

	chatService := app.NewChatService(
		chatRepo,
		historyCache,
		generator,
		retrieverCli,
		cfg.LLM.MaxContextMessages,
		logger,
	)
	knowledgeService := app.NewKnowledgeService(knowledgeRepo, cfg.Upload.Dir, logger)

	taskStore := worker.NewTaskStore(redisCli, time.Duration(cfg.Redis.TaskTTLSeconds)*time.Second)
	taskPublisher := rabbitmqClient.NewTaskPublisher(mqConn, cfg.RabbitMQ.PDFProcessQueue)

	pdfWorker := worker.NewPDFProcessWorker(
		mqConn,
		knowledgeService,
		worker.NewLocalProcessor(cfg.Upload.Dir),
		taskStore,
		cfg.RabbitMQ.PDFProcessQueue,
		logger,
	)
	if err := pdfWorker.Start(ctx); err != nil {
		return nil, fmt.Errorf("start pdf worker failed: %w", err)
	}

	return &App{
		Config:           cfg,
		Logger:           logger,
		ChatDB:           chatDB,
		KnowledgeDB:      knowledgeDB,
		Redis:            redisCli,
		MQConn:           mqConn,
		ChatService:      chatService,
		KnowledgeService: knowledgeService,
		TaskPublisher:    taskPublisher,
		TaskStore:        taskStore,
		PDFWorker:        pdfWorker,
		StartedAt:        time.Now(),
	}, nil
}

func (a *App) Close() error {
	var closeErr error
	if a.PDFWorker != nil {
		a.PDFWorker.Close()
	}
	if a.Redis != nil {
		if err := a.Redis.Close(); err != nil {
			closeErr = err
		}
	}
	if a.MQConn != nil {
		if err := a.MQConn.Close(); err != nil {
			closeErr = err
		}
	}
	for _, db := range []*gorm.DB{a.ChatDB, a.KnowledgeDB} {
		if db == nil {
			continue
		}
		sqlDB, err := db.DB()
		if err != nil {
			continue
		}
		if err := sqlDB.Close(); err != nil {
			closeErr = err
		}
	}
	if a.Logger != nil {
		_ = a.Logger.Sync()
	}
	return closeErr
}

func newLogger(env string) (*zap.Logger, error) {
	if env == "prod" || env == "production" {
		return zap.NewProduction()
	}
	return zap.NewDevelopment()
}
