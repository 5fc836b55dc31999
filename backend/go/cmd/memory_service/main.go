package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ShuhangGe/calendar/backend/go/internal/config"
	"github.com/ShuhangGe/calendar/backend/go/internal/conversation"
	"github.com/ShuhangGe/calendar/backend/go/internal/database/kafka"
	"github.com/ShuhangGe/calendar/backend/go/internal/database/milvus"
	"github.com/ShuhangGe/calendar/backend/go/internal/database/mongo"
	"github.com/ShuhangGe/calendar/backend/go/internal/database/mysql"
	"github.com/ShuhangGe/calendar/backend/go/internal/database/redis"
	"github.com/ShuhangGe/calendar/backend/go/internal/embedding"
	"github.com/ShuhangGe/calendar/backend/go/internal/memory/consumer"
	"github.com/ShuhangGe/calendar/backend/go/internal/memory/encryption"
	"github.com/ShuhangGe/calendar/backend/go/internal/memory/extractor"
	"github.com/ShuhangGe/calendar/backend/go/internal/memory/index"
	"github.com/ShuhangGe/calendar/backend/go/internal/memory/service"
	"github.com/ShuhangGe/calendar/backend/go/internal/memory/store"
	"github.com/ShuhangGe/calendar/backend/go/pkg/logger"
)

func main() {
	// Load configuration
	cfg, err := config.LoadConfig("config.yaml")
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	// Initialize logger
	level, err := logrus.ParseLevel(cfg.Logger.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.Init(level)
	appLogger := logger.New("memory_service", "", "")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize database clients
	db, err := mysql.GetDB(&cfg.Databases.MySQL)
	if err != nil {
		appLogger.Fatal(err.Error())
	}
	defer mysql.Close()

	milvusClient, err := milvus.GetClient(ctx, &cfg.Databases.Milvus)
	if err != nil {
		appLogger.Fatal(err.Error())
	}
	defer milvusClient.Close()
	if err := milvusClient.EnsureCollection(ctx); err != nil {
		appLogger.Fatal(err.Error())
	}

	redisClient, err := redis.GetClient(&cfg.Databases.Redis)
	if err != nil {
		appLogger.Fatal(err.Error())
	}
	defer redis.Close()

	mongoClient, err := mongo.GetClient(&cfg.Databases.MongoDB)
	if err != nil {
		appLogger.Fatal(err.Error())
	}
	defer mongo.Close(ctx)

	kafkaClient, err := kafka.GetClient(&cfg.Databases.Kafka)
	if err != nil {
		appLogger.Fatal(err.Error())
	}
	defer kafkaClient.Close()

	// Initialize the embedding provider, pacing it against the
	// provider's rate limit and caching vectors in Redis.
	baseEmbedder, err := embedding.NewEmdModel(cfg.Embedding.Provider, cfg.Embedding.Model, cfg.Embedding.APIKey, cfg.Embedding.BaseURL)
	if err != nil {
		appLogger.Fatal(err.Error())
	}
	cacheTTL, err := time.ParseDuration(cfg.Embedding.CacheTTL)
	if err != nil {
		appLogger.Fatal(err.Error())
	}
	paced := embedding.NewPacedModel(baseEmbedder, cfg.Embedding.RateLimit, cfg.Embedding.RateBurst)
	embedder := embedding.NewCachedModel(paced, redisClient, cacheTTL)

	// Initialize the crypto engine and collaborators
	crypt, err := encryption.NewEngine(&cfg.Security)
	if err != nil {
		appLogger.Fatal(err.Error())
	}
	repo := store.NewGormRepository(db)
	vectorIndex := index.NewMilvusIndex(milvusClient, cfg.Memory.SimilarityFloor, appLogger)
	factExtractor := extractor.NewOpenAIExtractor(&cfg.Classifier, appLogger)
	conversations := conversation.NewMongoLookup(mongoClient, &cfg.Databases.MongoDB)

	// Initialize memory service
	memoryService := service.NewMemoryService(
		repo,
		vectorIndex,
		embedder,
		factExtractor,
		conversations,
		crypt,
		&cfg.Memory,
		appLogger,
	)

	// Initialize and start Kafka consumer
	kafkaConsumer := consumer.NewKafkaConsumer(kafkaClient, memoryService, appLogger)
	kafkaConsumer.Start(ctx)

	appLogger.Info("Memory service started")

	// Wait for termination signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	cancel()
	appLogger.Info("Memory service stopped")
}
