package store

import (
	"context"
	"time"

	"github.com/ShuhangGe/calendar/backend/go/internal/models"
)

// Repository is the persistence boundary for encrypted fact records.
// It stores ciphertext only; encryption and decryption happen above it.
type Repository interface {
	// Create inserts a new fact record.
	Create(ctx context.Context, fact *models.Fact) error
	// SaveEmbedding inserts or wholesale-replaces the fact's embedding record.
	SaveEmbedding(ctx context.Context, rec *models.EmbeddingRecord) error
	// Get returns the fact if it exists and belongs to userID,
	// models.ErrNotFound otherwise. Wrong owner and missing are
	// indistinguishable to the caller.
	Get(ctx context.Context, factID, userID string) (*models.Fact, error)
	// GetByIDs returns the user's facts among ids, silently skipping
	// ids that are missing or belong to someone else.
	GetByIDs(ctx context.Context, userID string, ids []string) ([]*models.Fact, error)
	// List returns the user's facts ordered by blended confidence and
	// recency, newest and most trusted first.
	List(ctx context.Context, userID string, factTypes []string, limit, offset int) ([]*models.Fact, error)
	// ListRecent returns the user's most recently created facts.
	ListRecent(ctx context.Context, userID string, limit int) ([]*models.Fact, error)
	// Save persists changes to an existing fact record.
	Save(ctx context.Context, fact *models.Fact) error
	// Delete removes the fact and its embedding record together.
	// Returns false when nothing was deleted.
	Delete(ctx context.Context, factID, userID string) (bool, error)
	// TouchLastAccessed stamps last_accessed on the given facts.
	TouchLastAccessed(ctx context.Context, ids []string, when time.Time) error
}
