package bootstrap

import (
	"context"
	"fmt"
	"log"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"pdfrag/internal/ai"
	"pdfrag/internal/app"
	"pdfrag/internal/cache"
	"pdfrag/internal/config"
	"pdfrag/internal/pkg/pdfextract"
	mysqlClient "pdfrag/internal/platform/mysql"
	rabbitmqClient "pdfrag/internal/platform/rabbitmq"
	redisClient "pdfrag/internal/platform/redis"
	"pdfrag/internal/repository"
	"pdfrag/internal/storage"
	"pdfrag/internal/vectorstore"
	"pdfrag/internal/worker"
)

type Options struct {
	// StartWorkers runs the chat log consumer when RabbitMQ is reachable.
	StartWorkers bool
}

type App struct {
	Config        *config.Config
	Logger        *log.Logger
	MySQL         *gorm.DB
	Redis         *redis.Client
	MQConn        *amqp.Connection
	Qdrant        *vectorstore.QdrantStore
	Blobs         *storage.LocalStore
	Embedder      *ai.EmbeddingClient
	ChatLogWorker *worker.ChatLogWorker

	Auth      *app.AuthService
	Ingestion *app.IngestionPipeline
	Retrieval *app.RetrievalService
	Chat      *app.ChatService
	Documents *app.DocumentService

	StartedAt time.Time
}

// New connects every backing service and wires the application services.
// MySQL is required. Redis and RabbitMQ are optional: without them the
// embedding cache, answer broadcast and chat log persistence are disabled.
func New(ctx context.Context, cfg *config.Config, opts Options) (*App, error) {
	logger := log.Default()
	a := &App{
		Config:    cfg,
		Logger:    logger,
		StartedAt: time.Now(),
	}

	mysqlDB, err := mysqlClient.New(ctx, cfg.MySQLDSN(), mysqlClient.Options{
		MaxOpenConns:  cfg.MySQL.MaxOpenConns,
		MaxIdleConns:  cfg.MySQL.MaxIdleConns,
		SlowThreshold: time.Duration(cfg.MySQL.SlowQueryMillis) * time.Millisecond,
	})
	if err != nil {
		return nil, err
	}
	a.MySQL = mysqlDB
	if err := mysqlClient.Migrate(mysqlDB); err != nil {
		_ = a.Close()
		return nil, err
	}

	if redisCli, err := redisClient.New(ctx, redisClient.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
		PoolSize: cfg.Redis.PoolSize,
	}); err != nil {
		logger.Printf("redis unavailable, embedding cache disabled: %v", err)
	} else {
		a.Redis = redisCli
	}

	if mqConn, err := rabbitmqClient.New(ctx, cfg.RabbitMQ.URL, cfg.App.Name, rabbitmqClient.Topology{
		ChatLogQueue:      cfg.RabbitMQ.ChatLogQueue,
		BroadcastExchange: cfg.RabbitMQ.BroadcastExchange,
	}); err != nil {
		logger.Printf("rabbitmq unavailable, broadcast and chat logs disabled: %v", err)
	} else {
		a.MQConn = mqConn
	}

	blobs, err := storage.NewLocalStore(cfg.Ingestion.StorageDir)
	if err != nil {
		_ = a.Close()
		return nil, err
	}
	a.Blobs = blobs
	a.Qdrant = NewVectorStore(cfg, logger)
	a.Embedder = NewEmbeddingClient(cfg, a.Redis, logger)

	if err := a.Qdrant.EnsureCollection(ctx, cfg.Qdrant.Collection, a.Embedder.Dimension()); err != nil {
		logger.Printf("ensure qdrant collection failed: collection=%s cause=%v", cfg.Qdrant.Collection, err)
	}

	userRepo := repository.NewUserRepository(mysqlDB)
	documentRepo := repository.NewDocumentRepository(mysqlDB)
	chunkRepo := repository.NewChunkRepository(mysqlDB)
	chatLogRepo := repository.NewChatLogRepository(mysqlDB)

	policy, err := app.ParseFailurePolicy(cfg.Ingestion.OnEmbedFailure, cfg.Ingestion.OnIndexFailure)
	if err != nil {
		_ = a.Close()
		return nil, err
	}
	ingestion, err := app.NewIngestionPipeline(
		app.IngestionConfig{
			ChunkSize:    cfg.Ingestion.ChunkSize,
			ChunkOverlap: cfg.Ingestion.ChunkOverlap,
			Concurrency:  cfg.Ingestion.Concurrency,
			Collection:   cfg.Qdrant.Collection,
			Policy:       policy,
		},
		blobs,
		pdfextract.NewExtractor(blobs, cfg.Ingestion.MinTextLength),
		a.Embedder,
		a.Qdrant,
		documentRepo,
		logger,
	)
	if err != nil {
		_ = a.Close()
		return nil, err
	}
	a.Ingestion = ingestion

	a.Auth = app.NewAuthService(userRepo, cfg.Auth.JWTSecret, time.Duration(cfg.Auth.JWTExpireMinute)*time.Minute)
	a.Retrieval = NewRetrievalService(cfg, a.Embedder, a.Qdrant, logger)
	a.Documents = app.NewDocumentService(documentRepo, chunkRepo, blobs, a.Qdrant, a.Embedder, cfg.Qdrant.Collection, logger)

	var (
		broadcaster app.AnswerBroadcaster
		chatLogs    app.ChatLogPublisher
	)
	if a.MQConn != nil {
		broadcaster = rabbitmqClient.NewAnswerBroadcaster(a.MQConn, cfg.RabbitMQ.BroadcastExchange)
		chatLogs = rabbitmqClient.NewChatLogPublisher(a.MQConn, cfg.RabbitMQ.ChatLogQueue)
		if opts.StartWorkers {
			a.ChatLogWorker = worker.NewChatLogWorker(a.MQConn, chatLogRepo, cfg.RabbitMQ.ChatLogQueue, logger)
			if err := a.ChatLogWorker.Start(ctx); err != nil {
				_ = a.Close()
				return nil, fmt.Errorf("start chat log worker failed: %w", err)
			}
		}
	}
	a.Chat = NewChatService(cfg, a.Retrieval, broadcaster, chatLogs, logger)

	return a, nil
}

// NewVectorStore builds the Qdrant client from config.
func NewVectorStore(cfg *config.Config, logger *log.Logger) *vectorstore.QdrantStore {
	return vectorstore.NewQdrantStore(vectorstore.Config{
		URL:     cfg.Qdrant.URL,
		APIKey:  cfg.Qdrant.APIKey,
		Timeout: cfg.Qdrant.Timeout(),
	}, logger)
}

// NewEmbeddingClient builds the embedding client; a nil redisCli disables caching.
func NewEmbeddingClient(cfg *config.Config, redisCli *redis.Client, logger *log.Logger) *ai.EmbeddingClient {
	opts := []ai.EmbeddingOption{ai.WithEmbeddingLogger(logger)}
	if redisCli != nil {
		opts = append(opts, ai.WithEmbeddingCache(cache.NewEmbeddingCache(redisCli, cfg.Embedding.CacheTTL())))
	}
	return ai.NewEmbeddingClient(ai.EmbeddingConfig{
		BaseURL:           cfg.Embedding.BaseURL,
		APIKey:            cfg.Embedding.APIKey,
		Model:             cfg.Embedding.Model,
		Dimension:         cfg.Embedding.Dimension,
		Timeout:           cfg.Embedding.Timeout(),
		FallbackValue:     cfg.Embedding.FallbackValue,
		RequestsPerSecond: cfg.Embedding.RequestsPerSecond,
		Burst:             cfg.Embedding.Burst,
	}, opts...)
}

func NewRetrievalService(cfg *config.Config, embedder app.Embedder, index app.VectorIndex, logger *log.Logger) *app.RetrievalService {
	return app.NewRetrievalService(embedder, index, cfg.Qdrant.Collection, cfg.Retrieval.TopK, logger)
}

func NewChatService(
	cfg *config.Config,
	retrieval *app.RetrievalService,
	broadcaster app.AnswerBroadcaster,
	chatLogs app.ChatLogPublisher,
	logger *log.Logger,
) *app.ChatService {
	llm := ai.ChatConfig{
		BaseURL:     cfg.LLM.BaseURL,
		APIKey:      cfg.LLM.APIKey,
		Model:       cfg.LLM.Model,
		Temperature: cfg.LLM.Temperature,
		Timeout:     cfg.LLM.Timeout(),
	}
	return app.NewChatService(retrieval, ai.NewOpenAICompatibleClient(), llm, broadcaster, chatLogs, logger)
}

func (a *App) Close() error {
	var closeErr error
	if a.ChatLogWorker != nil {
		a.ChatLogWorker.Close()
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
	if a.MySQL != nil {
		sqlDB, err := a.MySQL.DB()
		if err == nil {
			if err := sqlDB.Close(); err != nil {
				closeErr = err
			}
		}
	}
	return closeErr
}
