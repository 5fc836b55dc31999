package service

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ShuhangGe/calendar/backend/go/internal/config"
	"github.com/ShuhangGe/calendar/backend/go/internal/conversation"
	"github.com/ShuhangGe/calendar/backend/go/internal/embedding"
	"github.com/ShuhangGe/calendar/backend/go/internal/memory/encryption"
	"github.com/ShuhangGe/calendar/backend/go/internal/memory/extractor"
	"github.com/ShuhangGe/calendar/backend/go/internal/memory/index"
	"github.com/ShuhangGe/calendar/backend/go/internal/memory/store"
	"github.com/ShuhangGe/calendar/backend/go/internal/models"
	"github.com/ShuhangGe/calendar/backend/go/pkg/logger"
)

// listAllLimit bounds how many of a user's facts are loaded when the
// whole set is needed, e.g. as dedup input.
const listAllLimit = 500

// MemoryService owns the encrypted fact lifecycle: create, read,
// update, delete, extraction from conversations, retrieval and
// statistics. The relational store is authoritative; the vector index
// follows it.
type MemoryService struct {
	repo          store.Repository
	vectorIndex   index.VectorIndex
	embedder      embedding.Embedding
	factExtractor extractor.Extractor
	conversations conversation.Lookup
	crypt         *encryption.Engine
	dedup         *extractor.Dedup
	cfg           *config.MemoryConfig
	logger        *logger.Logger
}

// NewMemoryService creates a new MemoryService.
func NewMemoryService(
	repo store.Repository,
	vectorIndex index.VectorIndex,
	embedder embedding.Embedding,
	factExtractor extractor.Extractor,
	conversations conversation.Lookup,
	crypt *encryption.Engine,
	cfg *config.MemoryConfig,
	log *logger.Logger,
) *MemoryService {
	return &MemoryService{
		repo:          repo,
		vectorIndex:   vectorIndex,
		embedder:      embedder,
		factExtractor: factExtractor,
		conversations: conversations,
		crypt:         crypt,
		dedup:         extractor.NewDedup(cfg.ConfidenceGate),
		cfg:           cfg,
		logger:        log,
	}
}

// CreateFactInput carries the caller-supplied fields for a new fact.
type CreateFactInput struct {
	FactType             string
	FactKey              string
	FactValue            string
	Confidence           float64
	IsSensitive          bool
	SourceConversationID string
}

// CreateFact encrypts and persists a new fact, then embeds its
// plaintext and indexes the vector. Persist, embed and index are one
// logical unit: if embedding or indexing fails the persisted record is
// rolled back and the call fails with an indexing error.
func (s *MemoryService) CreateFact(ctx context.Context, userID, userSecret string, in CreateFactInput) (*models.FactView, error) {
	if in.FactKey == "" || in.FactValue == "" {
		return nil, fmt.Errorf("%w: fact key and value are required", models.ErrValidation)
	}
	if in.Confidence < 0 || in.Confidence > 1 {
		return nil, fmt.Errorf("%w: confidence %v outside [0,1]", models.ErrValidation, in.Confidence)
	}
	if in.FactType == "" {
		in.FactType = models.FactTypePersonal
	}

	encKey, err := s.crypt.Encrypt(ctx, in.FactKey, userID, userSecret, in.IsSensitive)
	if err != nil {
		return nil, err
	}
	encValue, err := s.crypt.Encrypt(ctx, in.FactValue, userID, userSecret, in.IsSensitive)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	fact := &models.Fact{
		ID:                   uuid.NewString(),
		UserID:               userID,
		FactType:             in.FactType,
		FactKey:              encKey,
		FactValue:            encValue,
		ConfidenceScore:      in.Confidence,
		IsSensitive:          in.IsSensitive,
		SourceConversationID: in.SourceConversationID,
		KeyVersion:           s.crypt.KeyVersion(),
		CreatedAt:            now,
		LastAccessed:         now,
	}
	if err := s.repo.Create(ctx, fact); err != nil {
		return nil, err
	}

	if err := s.indexFact(ctx, fact, in.FactKey, in.FactValue); err != nil {
		// The record must not stay behind unsearchable.
		if _, delErr := s.repo.Delete(ctx, fact.ID, userID); delErr != nil {
			s.logger.WithError(models.ErrorInfo{Message: delErr.Error(), Type: "indexing_error"}).
				Error(fmt.Sprintf("rollback of fact %s failed, record needs reconciliation", fact.ID))
		}
		return nil, err
	}

	s.logger.Info(fmt.Sprintf("created %s fact %s for user %s", fact.FactType, fact.ID, userID))
	return s.viewOf(fact, in.FactKey, in.FactValue), nil
}

// indexFact embeds "key: value" plaintext, stores the embedding record
// and upserts the vector. Failures surface as indexing errors so the
// caller can reconcile.
func (s *MemoryService) indexFact(ctx context.Context, fact *models.Fact, plainKey, plainValue string) error {
	text := fmt.Sprintf("%s: %s", plainKey, plainValue)
	vector, err := s.embedder.Embed(ctx, text)
	if err != nil {
		return fmt.Errorf("%w: %w", models.ErrIndexing, err)
	}

	raw, err := json.Marshal(vector)
	if err != nil {
		return fmt.Errorf("%w: serializing vector for fact %s: %v", models.ErrIndexing, fact.ID, err)
	}
	rec := &models.EmbeddingRecord{
		FactID:    fact.ID,
		Vector:    raw,
		ModelTag:  s.embedder.ModelTag(),
		CreatedAt: time.Now().UTC(),
	}
	if err := s.repo.SaveEmbedding(ctx, rec); err != nil {
		return fmt.Errorf("%w: %v", models.ErrIndexing, err)
	}

	if err := s.vectorIndex.Upsert(ctx, fact.ID, fact.UserID, fact.FactType, text, vector); err != nil {
		return err
	}
	return nil
}

// GetFact loads and decrypts a single fact. Missing facts and facts
// owned by someone else both come back as models.ErrNotFound.
func (s *MemoryService) GetFact(ctx context.Context, factID, userID, userSecret string) (*models.FactView, error) {
	fact, err := s.repo.Get(ctx, factID, userID)
	if err != nil {
		return nil, err
	}
	view, err := s.decryptFact(ctx, fact, userSecret)
	if err != nil {
		return nil, err
	}
	s.touch(ctx, []string{fact.ID})
	return view, nil
}

// GetFacts returns the user's decrypted facts ordered by blended
// confidence and recency. A record that fails to decode is skipped,
// not fatal: the list just comes back shorter.
func (s *MemoryService) GetFacts(ctx context.Context, userID, userSecret string, factTypes []string, limit, offset int) ([]*models.FactView, error) {
	if limit <= 0 {
		limit = listAllLimit
	}
	facts, err := s.repo.List(ctx, userID, factTypes, limit, offset)
	if err != nil {
		return nil, err
	}

	views := make([]*models.FactView, 0, len(facts))
	var accessed []string
	for _, fact := range facts {
		view, err := s.decryptFact(ctx, fact, userSecret)
		if err != nil {
			s.logger.WithError(models.ErrorInfo{Message: err.Error(), Type: "decryption_error"}).
				Warn(fmt.Sprintf("skipping undecodable fact %s", fact.ID))
			continue
		}
		views = append(views, view)
		accessed = append(accessed, fact.ID)
	}
	s.touch(ctx, accessed)
	return views, nil
}

// UpdateFact applies a partial update. When the key or value changes
// the fields are re-encrypted and the embedding is replaced wholesale.
func (s *MemoryService) UpdateFact(ctx context.Context, factID, userID, userSecret string, update *models.FactUpdate) (*models.FactView, error) {
	if update.ConfidenceScore != nil && (*update.ConfidenceScore < 0 || *update.ConfidenceScore > 1) {
		return nil, fmt.Errorf("%w: confidence %v outside [0,1]", models.ErrValidation, *update.ConfidenceScore)
	}

	fact, err := s.repo.Get(ctx, factID, userID)
	if err != nil {
		return nil, err
	}
	prior := *fact
	// Decrypt up front: a caller who cannot open the record must not be
	// able to modify it either.
	plainKey, err := s.crypt.Decrypt(ctx, fact.FactKey, userID, userSecret, fact.IsSensitive)
	if err != nil {
		return nil, err
	}
	plainValue, err := s.crypt.Decrypt(ctx, fact.FactValue, userID, userSecret, fact.IsSensitive)
	if err != nil {
		return nil, err
	}

	reindex := false
	if update.FactKey != nil && *update.FactKey != plainKey {
		plainKey = *update.FactKey
		reindex = true
	}
	if update.FactValue != nil && *update.FactValue != plainValue {
		plainValue = *update.FactValue
		reindex = true
	}
	if update.FactType != nil {
		fact.FactType = *update.FactType
	}
	if update.ConfidenceScore != nil {
		fact.ConfidenceScore = *update.ConfidenceScore
	}
	if update.SourceConversationID != nil {
		fact.SourceConversationID = *update.SourceConversationID
	}

	if reindex {
		if fact.FactKey, err = s.crypt.Encrypt(ctx, plainKey, userID, userSecret, fact.IsSensitive); err != nil {
			return nil, err
		}
		if fact.FactValue, err = s.crypt.Encrypt(ctx, plainValue, userID, userSecret, fact.IsSensitive); err != nil {
			return nil, err
		}
		fact.KeyVersion = s.crypt.KeyVersion()
	}

	fact.LastAccessed = time.Now().UTC()
	if err := s.repo.Save(ctx, fact); err != nil {
		return nil, err
	}
	if reindex {
		if err := s.indexFact(ctx, fact, plainKey, plainValue); err != nil {
			// The new ciphertext is already saved while the old vector is
			// still live; put the prior row back so row and vector agree.
			if saveErr := s.repo.Save(ctx, &prior); saveErr != nil {
				s.logger.WithError(models.ErrorInfo{Message: saveErr.Error(), Type: "indexing_error"}).
					Error(fmt.Sprintf("restore of fact %s failed, record needs reconciliation", fact.ID))
			}
			return nil, err
		}
	}

	return s.viewOf(fact, plainKey, plainValue), nil
}

// DeleteFact removes a fact and its vector together. It returns false
// when the fact does not exist or belongs to another user, which are
// deliberately indistinguishable.
func (s *MemoryService) DeleteFact(ctx context.Context, factID, userID string) (bool, error) {
	deleted, err := s.repo.Delete(ctx, factID, userID)
	if err != nil {
		return false, err
	}
	if !deleted {
		return false, nil
	}
	if err := s.vectorIndex.Delete(ctx, factID); err != nil {
		return true, err
	}
	return true, nil
}

// ExtractFromConversation runs the classifier over one conversation and
// persists the accepted candidates. A single candidate's failure is
// logged and skipped; siblings still go through.
func (s *MemoryService) ExtractFromConversation(ctx context.Context, userID, userSecret, conversationID string, force bool) ([]*models.FactView, error) {
	conv, err := s.conversations.GetConversation(ctx, conversationID, userID)
	if err != nil {
		return nil, err
	}

	candidates, err := s.factExtractor.ExtractCandidates(ctx, conv.Text())
	if err != nil {
		return nil, err
	}

	existing, err := s.GetFacts(ctx, userID, userSecret, nil, listAllLimit, 0)
	if err != nil {
		return nil, err
	}

	accepted := s.dedup.Accept(candidates, existing, force)

	var created []*models.FactView
	for _, c := range accepted {
		view, err := s.persistCandidate(ctx, userID, userSecret, conversationID, c)
		if err != nil {
			s.logger.WithError(models.ErrorInfo{Message: err.Error()}).
				Warn(fmt.Sprintf("failed to persist extracted fact %q from conversation %s", c.FactKey, conversationID))
			continue
		}
		created = append(created, view)
	}
	s.logger.Info(fmt.Sprintf("extracted %d facts from conversation %s", len(created), conversationID))
	return created, nil
}

// persistCandidate creates a new fact, or updates the duplicate the
// dedup engine told us to replace.
func (s *MemoryService) persistCandidate(ctx context.Context, userID, userSecret, conversationID string, c *models.Candidate) (*models.FactView, error) {
	if c.ReplacesFactID != "" {
		return s.UpdateFact(ctx, c.ReplacesFactID, userID, userSecret, &models.FactUpdate{
			FactKey:              &c.FactKey,
			FactValue:            &c.FactValue,
			ConfidenceScore:      c.Confidence,
			SourceConversationID: &conversationID,
		})
	}
	return s.CreateFact(ctx, userID, userSecret, CreateFactInput{
		FactType:             c.FactType,
		FactKey:              c.FactKey,
		FactValue:            c.FactValue,
		Confidence:           *c.Confidence,
		IsSensitive:          c.IsSensitive,
		SourceConversationID: conversationID,
	})
}

// BatchResult aggregates a batch extraction run. Failed maps each
// conversation id that errored to its error; successful siblings are
// unaffected.
type BatchResult struct {
	Facts  []*models.FactView
	Failed map[string]error
}

// BatchProcessConversations extracts facts from several conversations
// with bounded parallelism. The embedding provider is rate-limited, so
// the pool stays small.
func (s *MemoryService) BatchProcessConversations(ctx context.Context, userID, userSecret string, conversationIDs []string, force bool) (*BatchResult, error) {
	parallelism := s.cfg.BatchParallelism
	if parallelism <= 0 {
		parallelism = 3
	}

	result := &BatchResult{Failed: make(map[string]error)}
	var mu sync.Mutex
	var wg sync.WaitGroup
	sem := make(chan struct{}, parallelism)

	for _, convID := range conversationIDs {
		wg.Add(1)
		go func(convID string) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			views, err := s.ExtractFromConversation(ctx, userID, userSecret, convID, force)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				result.Failed[convID] = err
				return
			}
			result.Facts = append(result.Facts, views...)
		}(convID)
	}
	wg.Wait()

	s.logger.Info(fmt.Sprintf("batch processed %d conversations for user %s, %d facts, %d failures",
		len(conversationIDs), userID, len(result.Facts), len(result.Failed)))
	return result, nil
}

// decryptFact opens both encrypted fields and builds the in-memory view.
func (s *MemoryService) decryptFact(ctx context.Context, fact *models.Fact, userSecret string) (*models.FactView, error) {
	plainKey, err := s.crypt.Decrypt(ctx, fact.FactKey, fact.UserID, userSecret, fact.IsSensitive)
	if err != nil {
		return nil, err
	}
	plainValue, err := s.crypt.Decrypt(ctx, fact.FactValue, fact.UserID, userSecret, fact.IsSensitive)
	if err != nil {
		return nil, err
	}
	return s.viewOf(fact, plainKey, plainValue), nil
}

func (s *MemoryService) viewOf(fact *models.Fact, plainKey, plainValue string) *models.FactView {
	return &models.FactView{
		ID:                   fact.ID,
		UserID:               fact.UserID,
		FactType:             fact.FactType,
		FactKey:              plainKey,
		FactValue:            plainValue,
		ConfidenceScore:      fact.ConfidenceScore,
		IsSensitive:          fact.IsSensitive,
		SourceConversationID: fact.SourceConversationID,
		KeyVersion:           fact.KeyVersion,
		CreatedAt:            fact.CreatedAt,
		LastAccessed:         fact.LastAccessed,
	}
}

// touch best-effort stamps last_accessed; reads must not fail because
// the stamp did.
func (s *MemoryService) touch(ctx context.Context, ids []string) {
	if len(ids) == 0 {
		return
	}
	if err := s.repo.TouchLastAccessed(ctx, ids, time.Now().UTC()); err != nil {
		s.logger.WithError(models.ErrorInfo{Message: err.Error()}).
			Warn("failed to update last_accessed")
	}
}
