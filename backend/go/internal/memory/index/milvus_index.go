package index

import (
	"context"
	"fmt"
	"strings"

	"github.com/milvus-io/milvus-sdk-go/v2/entity"

	"github.com/ShuhangGe/calendar/backend/go/internal/database/milvus"
	"github.com/ShuhangGe/calendar/backend/go/internal/models"
	"github.com/ShuhangGe/calendar/backend/go/pkg/logger"
)

// MilvusIndex adapts the Milvus fact collection to the VectorIndex
// contract. The collection stores one row per fact keyed by fact_id,
// scoped by user_id and fact_type for filtered search.
type MilvusIndex struct {
	client          *milvus.MilvusClient
	similarityFloor float64
	log             *logger.Logger
}

// NewMilvusIndex wraps an already-connected Milvus client.
func NewMilvusIndex(client *milvus.MilvusClient, similarityFloor float64, log *logger.Logger) *MilvusIndex {
	return &MilvusIndex{
		client:          client,
		similarityFloor: similarityFloor,
		log:             log,
	}
}

// Upsert deletes any previous row for factID before inserting, so the
// collection never holds two vectors for one fact.
func (m *MilvusIndex) Upsert(ctx context.Context, factID, userID, factType, text string, vector []float32) error {
	if err := m.client.DeleteByFactID(ctx, factID); err != nil {
		return fmt.Errorf("%w: clearing previous vector for fact %s: %v", models.ErrIndexing, factID, err)
	}
	if err := m.client.InsertFact(ctx, factID, userID, factType, text, vector); err != nil {
		return fmt.Errorf("%w: inserting vector for fact %s: %v", models.ErrIndexing, factID, err)
	}
	return nil
}

// Query runs a similarity search scoped to the user and drops hits
// below the similarity floor.
func (m *MilvusIndex) Query(ctx context.Context, vector []float32, userID string, factTypes []string, limit int) ([]Hit, error) {
	expr := fmt.Sprintf("user_id == %q", userID)
	if len(factTypes) > 0 {
		quoted := make([]string, len(factTypes))
		for i, ft := range factTypes {
			quoted[i] = fmt.Sprintf("%q", ft)
		}
		expr += fmt.Sprintf(" and fact_type in [%s]", strings.Join(quoted, ", "))
	}

	results, err := m.client.SearchFacts(ctx, vector, expr, limit)
	if err != nil {
		return nil, fmt.Errorf("vector query failed: %w", err)
	}

	var hits []Hit
	for _, res := range results {
		idCol, ok := res.Fields.GetColumn("fact_id").(*entity.ColumnVarChar)
		if !ok {
			return nil, fmt.Errorf("vector query returned unexpected fact_id column type")
		}
		typeCol, _ := res.Fields.GetColumn("fact_type").(*entity.ColumnVarChar)

		for i := 0; i < res.ResultCount; i++ {
			factID, err := idCol.ValueByIdx(i)
			if err != nil {
				continue
			}
			sim := float64(res.Scores[i])
			if sim < m.similarityFloor {
				continue
			}
			hit := Hit{FactID: factID, Similarity: sim}
			if typeCol != nil {
				if ft, err := typeCol.ValueByIdx(i); err == nil {
					hit.FactType = ft
				}
			}
			hits = append(hits, hit)
		}
	}
	m.log.Info(fmt.Sprintf("vector query for user %s returned %d hits above floor", userID, len(hits)))
	return hits, nil
}

// Delete removes the fact's vector. Milvus treats deleting a missing
// id as a no-op, which is exactly the idempotence we need.
func (m *MilvusIndex) Delete(ctx context.Context, factID string) error {
	if err := m.client.DeleteByFactID(ctx, factID); err != nil {
		return fmt.Errorf("%w: deleting vector for fact %s: %v", models.ErrIndexing, factID, err)
	}
	return nil
}
