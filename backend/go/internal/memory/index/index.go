package index

import "context"

// Hit is one nearest-neighbor match returned by a vector query.
// Similarity is normalized so that higher means more similar.
type Hit struct {
	FactID     string
	FactType   string
	Similarity float64
}

// VectorIndex is the narrow adapter over the ANN store. It is a
// secondary index only: the relational fact store stays authoritative,
// and callers must treat hits whose fact id no longer exists there as
// stale.
type VectorIndex interface {
	// Upsert replaces any existing entry for factID. Re-upserting the
	// same id never duplicates.
	Upsert(ctx context.Context, factID, userID, factType, text string, vector []float32) error
	// Query returns the closest entries for the user, optionally
	// restricted to factTypes, with entries below the similarity
	// floor excluded. Results are ordered most similar first.
	Query(ctx context.Context, vector []float32, userID string, factTypes []string, limit int) ([]Hit, error)
	// Delete removes the entry for factID. Absent ids are not an error.
	Delete(ctx context.Context, factID string) error
}
