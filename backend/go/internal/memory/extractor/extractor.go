package extractor

import (
	"context"

	"github.com/ShuhangGe/calendar/backend/go/internal/models"
)

// Extractor turns conversation text into candidate fact tuples. The
// candidates are purely advisory: validation, confidence gating and
// dedup all happen downstream.
type Extractor interface {
	ExtractCandidates(ctx context.Context, conversationText string) ([]*models.Candidate, error)
}
