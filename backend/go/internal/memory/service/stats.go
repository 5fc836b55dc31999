package service

import (
	"context"

	"github.com/ShuhangGe/calendar/backend/go/internal/models"
)

// Statistics aggregates per-user counts over the stored records.
// Types, confidence and the sensitive flag live outside the encrypted
// fields, so no secret is needed and last_accessed is untouched.
func (s *MemoryService) Statistics(ctx context.Context, userID string) (*models.FactStatistics, error) {
	facts, err := s.repo.List(ctx, userID, nil, listAllLimit, 0)
	if err != nil {
		return nil, err
	}

	stats := &models.FactStatistics{
		TotalFacts: len(facts),
		FactTypes:  make(map[string]int),
	}
	if len(facts) == 0 {
		return stats, nil
	}

	var sum float64
	for _, fact := range facts {
		stats.FactTypes[fact.FactType]++
		sum += fact.ConfidenceScore
		if fact.IsSensitive {
			stats.SensitiveFacts++
		}
		switch {
		case fact.ConfidenceScore >= 0.8:
			stats.ConfidenceBands.High++
		case fact.ConfidenceScore >= 0.5:
			stats.ConfidenceBands.Medium++
		default:
			stats.ConfidenceBands.Low++
		}
	}
	stats.AverageConfidence = sum / float64(len(facts))
	return stats, nil
}
