package conversation

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/ShuhangGe/calendar/backend/go/internal/config"
	"github.com/ShuhangGe/calendar/backend/go/internal/models"
)

// Lookup 是对外部会话存储的只读访问。查询总是同时带上 user_id，
// 别人的会话与不存在的会话对调用方不可区分。
type Lookup interface {
	GetConversation(ctx context.Context, conversationID, userID string) (*models.Conversation, error)
}

// MongoLookup 是 Lookup 的 MongoDB 实现。
type MongoLookup struct {
	coll *mongo.Collection
}

// NewMongoLookup 基于已连接的客户端创建会话查询器。
func NewMongoLookup(client *mongo.Client, cfg *config.MongoConfig) *MongoLookup {
	return &MongoLookup{
		coll: client.Database(cfg.Database).Collection(cfg.Collection),
	}
}

func (l *MongoLookup) GetConversation(ctx context.Context, conversationID, userID string) (*models.Conversation, error) {
	filter := bson.M{"_id": conversationID, "user_id": userID}

	var conv models.Conversation
	if err := l.coll.FindOne(ctx, filter).Decode(&conv); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, models.ErrNotFound
		}
		return nil, fmt.Errorf("failed to load conversation %s: %w", conversationID, err)
	}
	return &conv, nil
}
