package consumer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	kafkago "github.com/segmentio/kafka-go"

	"github.com/ShuhangGe/calendar/backend/go/internal/database/kafka"
	"github.com/ShuhangGe/calendar/backend/go/internal/memory/service"
	"github.com/ShuhangGe/calendar/backend/go/internal/models"
	"github.com/ShuhangGe/calendar/backend/go/pkg/logger"
)

// ExtractionJob is the message the conversation service publishes when
// a conversation is ready for fact extraction. UserSecret is the
// caller's password hash, required to encrypt the extracted facts.
type ExtractionJob struct {
	UserID         string `json:"user_id"`
	UserSecret     string `json:"user_secret"`
	ConversationID string `json:"conversation_id"`
	Force          bool   `json:"force"`
}

// KafkaConsumer consumes extraction jobs from a Kafka topic and feeds
// them to the MemoryService.
type KafkaConsumer struct {
	kafkaClient   *kafka.KafkaClient
	memoryService *service.MemoryService
	logger        *logger.Logger
}

// NewKafkaConsumer creates a new KafkaConsumer.
func NewKafkaConsumer(kafkaClient *kafka.KafkaClient, memoryService *service.MemoryService, logger *logger.Logger) *KafkaConsumer {
	return &KafkaConsumer{
		kafkaClient:   kafkaClient,
		memoryService: memoryService,
		logger:        logger,
	}
}

// Start runs the consume loop until the context is cancelled. A bad
// message is committed and dropped; requeueing it would just poison the
// partition.
func (c *KafkaConsumer) Start(ctx context.Context) {
	go func() {
		for {
			msg, err := c.kafkaClient.Reader.FetchMessage(ctx)
			if err != nil {
				if errors.Is(err, context.Canceled) {
					return
				}
				c.logger.WithError(models.ErrorInfo{Message: err.Error()}).Error("failed to fetch message")
				continue
			}

			var job ExtractionJob
			if err := json.Unmarshal(msg.Value, &job); err != nil {
				c.logger.WithError(models.ErrorInfo{Message: err.Error()}).Error("failed to unmarshal extraction job")
				c.commit(ctx, msg)
				continue
			}
			if job.UserID == "" || job.UserSecret == "" || job.ConversationID == "" {
				c.logger.Warn(fmt.Sprintf("dropping incomplete extraction job for conversation %q", job.ConversationID))
				c.commit(ctx, msg)
				continue
			}

			views, err := c.memoryService.ExtractFromConversation(ctx, job.UserID, job.UserSecret, job.ConversationID, job.Force)
			if err != nil {
				c.logger.WithError(models.ErrorInfo{Message: err.Error()}).
					Error(fmt.Sprintf("extraction failed for conversation %s", job.ConversationID))
				// Missing conversations never become retryable; everything
				// else stays uncommitted for redelivery.
				if !errors.Is(err, models.ErrNotFound) {
					continue
				}
			} else {
				c.logger.Info(fmt.Sprintf("extracted %d facts from conversation %s", len(views), job.ConversationID))
			}

			c.commit(ctx, msg)
		}
	}()
}

func (c *KafkaConsumer) commit(ctx context.Context, msg kafkago.Message) {
	if err := c.kafkaClient.Reader.CommitMessages(ctx, msg); err != nil {
		c.logger.WithError(models.ErrorInfo{Message: err.Error()}).Error("failed to commit message")
	}
}
