package service

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/ShuhangGe/calendar/backend/go/internal/memory/index"
	"github.com/ShuhangGe/calendar/backend/go/internal/models"
)

// Weights of the two retrieval strategies. Vector hits lean on
// similarity, recency hits lean on confidence with a 30-day linear
// decay.
const (
	vectorSimilarityWeight  = 0.8
	vectorConfidenceWeight  = 0.2
	recencyConfidenceWeight = 0.6
	recencyDecayWeight      = 0.4
	recencyDecayDays        = 30.0
)

// Search embeds the context text and returns the user's matching facts
// with their similarity scores, most similar first. Stale index hits
// and undecodable records are dropped silently; facts below
// minConfidence are filtered out.
func (s *MemoryService) Search(ctx context.Context, userID, userSecret, contextText string, factTypes []string, minConfidence float64, limit int) ([]*models.ScoredFact, error) {
	if limit <= 0 {
		limit = 10
	}
	vector, err := s.embedder.Embed(ctx, contextText)
	if err != nil {
		return nil, err
	}
	hits, err := s.vectorIndex.Query(ctx, vector, userID, factTypes, limit)
	if err != nil {
		return nil, err
	}

	facts, err := s.factsForHits(ctx, userID, hits)
	if err != nil {
		return nil, err
	}

	var results []*models.ScoredFact
	var accessed []string
	for _, hit := range hits {
		fact, ok := facts[hit.FactID]
		if !ok {
			// The index lags the authoritative store; a deleted fact's
			// vector may still be queryable for a while.
			continue
		}
		if fact.ConfidenceScore < minConfidence {
			continue
		}
		view, err := s.decryptFact(ctx, fact, userSecret)
		if err != nil {
			s.logger.WithError(models.ErrorInfo{Message: err.Error(), Type: "decryption_error"}).
				Warn(fmt.Sprintf("skipping undecodable fact %s in search", fact.ID))
			continue
		}
		results = append(results, &models.ScoredFact{Fact: view, Similarity: hit.Similarity})
		accessed = append(accessed, fact.ID)
	}
	s.touch(ctx, accessed)
	return results, nil
}

// RelevantFacts blends two strategies: vector similarity over the
// context text, and plain recency. Similarity alone misses fresh
// important facts the query does not resemble; recency alone misses
// relevant old ones.
func (s *MemoryService) RelevantFacts(ctx context.Context, userID, userSecret, contextText string, maxFacts int) ([]*models.FactView, error) {
	if maxFacts <= 0 {
		maxFacts = 10
	}

	type scored struct {
		view  *models.FactView
		score float64
	}
	merged := make(map[string]scored)

	// Vector strategy.
	vector, err := s.embedder.Embed(ctx, contextText)
	if err != nil {
		return nil, err
	}
	hits, err := s.vectorIndex.Query(ctx, vector, userID, nil, maxFacts)
	if err != nil {
		return nil, err
	}
	facts, err := s.factsForHits(ctx, userID, hits)
	if err != nil {
		return nil, err
	}
	var accessed []string
	for _, hit := range hits {
		fact, ok := facts[hit.FactID]
		if !ok {
			continue
		}
		view, err := s.decryptFact(ctx, fact, userSecret)
		if err != nil {
			continue
		}
		merged[fact.ID] = scored{
			view:  view,
			score: vectorSimilarityWeight*hit.Similarity + vectorConfidenceWeight*fact.ConfidenceScore,
		}
		accessed = append(accessed, fact.ID)
	}

	// Recency strategy, bounded to half of maxFacts. Facts
	// already found by the vector strategy keep their vector score.
	recent, err := s.repo.ListRecent(ctx, userID, maxFacts/2)
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	for _, fact := range recent {
		if _, seen := merged[fact.ID]; seen {
			continue
		}
		view, err := s.decryptFact(ctx, fact, userSecret)
		if err != nil {
			continue
		}
		merged[fact.ID] = scored{
			view:  view,
			score: recencyConfidenceWeight*fact.ConfidenceScore + recencyDecayWeight*recencyScore(fact.CreatedAt, now),
		}
		accessed = append(accessed, fact.ID)
	}

	ranked := make([]scored, 0, len(merged))
	for _, item := range merged {
		ranked = append(ranked, item)
	}
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].score > ranked[j].score })
	if len(ranked) > maxFacts {
		ranked = ranked[:maxFacts]
	}

	views := make([]*models.FactView, len(ranked))
	for i, item := range ranked {
		views[i] = item.view
	}
	s.touch(ctx, accessed)
	return views, nil
}

// factsForHits resolves index hits against the authoritative store.
// Ids that are gone or belong to someone else simply drop out.
func (s *MemoryService) factsForHits(ctx context.Context, userID string, hits []index.Hit) (map[string]*models.Fact, error) {
	ids := make([]string, len(hits))
	for i, hit := range hits {
		ids[i] = hit.FactID
	}
	facts, err := s.repo.GetByIDs(ctx, userID, ids)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]*models.Fact, len(facts))
	for _, fact := range facts {
		byID[fact.ID] = fact
	}
	return byID, nil
}

// recencyScore decays linearly from 1 at creation to 0 at thirty days.
func recencyScore(createdAt, now time.Time) float64 {
	ageDays := now.Sub(createdAt).Hours() / 24
	score := 1 - ageDays/recencyDecayDays
	if score < 0 {
		return 0
	}
	return score
}
