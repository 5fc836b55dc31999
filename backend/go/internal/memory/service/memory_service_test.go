package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/ShuhangGe/calendar/backend/go/internal/config"
	"github.com/ShuhangGe/calendar/backend/go/internal/memory/encryption"
	"github.com/ShuhangGe/calendar/backend/go/internal/memory/index"
	"github.com/ShuhangGe/calendar/backend/go/internal/models"
	"github.com/ShuhangGe/calendar/backend/go/pkg/logger"
)

// ---- fakes ----

type fakeRepo struct {
	mu         sync.Mutex
	facts      map[string]*models.Fact
	embeddings map[string]*models.EmbeddingRecord
	failCreate error
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		facts:      make(map[string]*models.Fact),
		embeddings: make(map[string]*models.EmbeddingRecord),
	}
}

func (r *fakeRepo) Create(_ context.Context, fact *models.Fact) error {
	if r.failCreate != nil {
		return r.failCreate
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	copied := *fact
	r.facts[fact.ID] = &copied
	return nil
}

func (r *fakeRepo) SaveEmbedding(_ context.Context, rec *models.EmbeddingRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	copied := *rec
	r.embeddings[rec.FactID] = &copied
	return nil
}

func (r *fakeRepo) Get(_ context.Context, factID, userID string) (*models.Fact, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fact, ok := r.facts[factID]
	if !ok || fact.UserID != userID {
		return nil, models.ErrNotFound
	}
	copied := *fact
	return &copied, nil
}

func (r *fakeRepo) GetByIDs(_ context.Context, userID string, ids []string) ([]*models.Fact, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.Fact
	for _, id := range ids {
		if fact, ok := r.facts[id]; ok && fact.UserID == userID {
			copied := *fact
			out = append(out, &copied)
		}
	}
	return out, nil
}

func (r *fakeRepo) List(_ context.Context, userID string, factTypes []string, limit, offset int) ([]*models.Fact, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.Fact
	for _, fact := range r.facts {
		if fact.UserID != userID {
			continue
		}
		if len(factTypes) > 0 {
			match := false
			for _, ft := range factTypes {
				if fact.FactType == ft {
					match = true
					break
				}
			}
			if !match {
				continue
			}
		}
		copied := *fact
		out = append(out, &copied)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ConfidenceScore > out[j].ConfidenceScore })
	if offset >= len(out) {
		return nil, nil
	}
	out = out[offset:]
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *fakeRepo) ListRecent(_ context.Context, userID string, limit int) ([]*models.Fact, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.Fact
	for _, fact := range r.facts {
		if fact.UserID == userID {
			copied := *fact
			out = append(out, &copied)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *fakeRepo) Save(_ context.Context, fact *models.Fact) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	copied := *fact
	r.facts[fact.ID] = &copied
	return nil
}

func (r *fakeRepo) Delete(_ context.Context, factID, userID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fact, ok := r.facts[factID]
	if !ok || fact.UserID != userID {
		return false, nil
	}
	delete(r.facts, factID)
	delete(r.embeddings, factID)
	return true, nil
}

func (r *fakeRepo) TouchLastAccessed(_ context.Context, ids []string, when time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, id := range ids {
		if fact, ok := r.facts[id]; ok {
			fact.LastAccessed = when
		}
	}
	return nil
}

type fakeIndex struct {
	mu         sync.Mutex
	entries    map[string]string // fact id -> user id
	hits       []index.Hit       // returned verbatim by Query
	failUpsert error
}

func newFakeIndex() *fakeIndex {
	return &fakeIndex{entries: make(map[string]string)}
}

func (f *fakeIndex) Upsert(_ context.Context, factID, userID, _, _ string, _ []float32) error {
	if f.failUpsert != nil {
		return f.failUpsert
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries[factID] = userID
	return nil
}

func (f *fakeIndex) Query(_ context.Context, _ []float32, userID string, _ []string, limit int) ([]index.Hit, error) {
	var out []index.Hit
	for _, hit := range f.hits {
		if len(out) == limit {
			break
		}
		out = append(out, hit)
	}
	return out, nil
}

func (f *fakeIndex) Delete(_ context.Context, factID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.entries, factID)
	return nil
}

func (f *fakeIndex) contains(factID string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.entries[factID]
	return ok
}

type fakeEmbedder struct {
	fail error
}

func (f *fakeEmbedder) Embed(_ context.Context, _ string) ([]float32, error) {
	if f.fail != nil {
		return nil, f.fail
	}
	return []float32{1, 0, 0}, nil
}

func (f *fakeEmbedder) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	if f.fail != nil {
		return nil, f.fail
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{1, 0, 0}
	}
	return out, nil
}

func (f *fakeEmbedder) ModelTag() string { return "fake-embedder" }

type fakeExtractor struct {
	candidates []*models.Candidate
	fail       error
}

func (f *fakeExtractor) ExtractCandidates(_ context.Context, _ string) ([]*models.Candidate, error) {
	return f.candidates, f.fail
}

type fakeLookup struct {
	conversations map[string]*models.Conversation
}

func (f *fakeLookup) GetConversation(_ context.Context, conversationID, userID string) (*models.Conversation, error) {
	conv, ok := f.conversations[conversationID]
	if !ok || conv.UserID != userID {
		return nil, models.ErrNotFound
	}
	return conv, nil
}

// ---- helpers ----

type testDeps struct {
	repo      *fakeRepo
	index     *fakeIndex
	embedder  *fakeEmbedder
	extractor *fakeExtractor
	lookup    *fakeLookup
}

func newTestService(t *testing.T) (*MemoryService, *testDeps) {
	t.Helper()
	crypt, err := encryption.NewEngine(&config.SecurityConfig{
		MasterSecret:     "test-master-secret",
		PBKDF2Iterations: 1000,
		KeyVersion:       1,
		KeyCacheSize:     16,
		KeyCacheTTL:      "1m",
	})
	if err != nil {
		t.Fatalf("NewEngine failed: %v", err)
	}
	deps := &testDeps{
		repo:      newFakeRepo(),
		index:     newFakeIndex(),
		embedder:  &fakeEmbedder{},
		extractor: &fakeExtractor{},
		lookup:    &fakeLookup{conversations: make(map[string]*models.Conversation)},
	}
	svc := NewMemoryService(
		deps.repo,
		deps.index,
		deps.embedder,
		deps.extractor,
		deps.lookup,
		crypt,
		&config.MemoryConfig{SimilarityFloor: 0.6, ConfidenceGate: 0.7, BatchParallelism: 2},
		logger.New("memory-test", "", ""),
	)
	return svc, deps
}

func mustCreate(t *testing.T, svc *MemoryService, userID, secret string, in CreateFactInput) *models.FactView {
	t.Helper()
	view, err := svc.CreateFact(context.Background(), userID, secret, in)
	if err != nil {
		t.Fatalf("CreateFact failed: %v", err)
	}
	return view
}

// ---- tests ----

func TestCreateFactRoundTrip(t *testing.T) {
	svc, deps := newTestService(t)
	ctx := context.Background()

	view := mustCreate(t, svc, "user-1", "secret", CreateFactInput{
		FactType:    models.FactTypePersonal,
		FactKey:     "allergy",
		FactValue:   "peanuts",
		Confidence:  0.9,
		IsSensitive: true,
	})
	if view.FactKey != "allergy" || view.FactValue != "peanuts" {
		t.Fatalf("view holds wrong plaintext: %+v", view)
	}

	stored, err := deps.repo.Get(ctx, view.ID, "user-1")
	if err != nil {
		t.Fatalf("stored record missing: %v", err)
	}
	if stored.FactKey == "allergy" || stored.FactValue == "peanuts" {
		t.Fatal("plaintext was persisted")
	}
	if stored.KeyVersion != 1 {
		t.Fatalf("key version = %d, want 1", stored.KeyVersion)
	}
	if _, ok := deps.repo.embeddings[view.ID]; !ok {
		t.Fatal("embedding record missing")
	}
	if !deps.index.contains(view.ID) {
		t.Fatal("vector index entry missing")
	}

	views, err := svc.GetFacts(ctx, "user-1", "secret", nil, 10, 0)
	if err != nil {
		t.Fatalf("GetFacts failed: %v", err)
	}
	if len(views) != 1 || views[0].FactValue != "peanuts" {
		t.Fatalf("GetFacts = %+v, want the decrypted fact", views)
	}
}

func TestCreateFactValidation(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	cases := []CreateFactInput{
		{FactKey: "", FactValue: "v", Confidence: 0.5},
		{FactKey: "k", FactValue: "", Confidence: 0.5},
		{FactKey: "k", FactValue: "v", Confidence: 1.5},
		{FactKey: "k", FactValue: "v", Confidence: -0.1},
	}
	for _, in := range cases {
		if _, err := svc.CreateFact(ctx, "user-1", "secret", in); !errors.Is(err, models.ErrValidation) {
			t.Errorf("CreateFact(%+v) = %v, want ErrValidation", in, err)
		}
	}
}

func TestCreateFactRollsBackOnIndexFailure(t *testing.T) {
	svc, deps := newTestService(t)
	ctx := context.Background()
	deps.index.failUpsert = fmt.Errorf("%w: collection unavailable", models.ErrIndexing)

	_, err := svc.CreateFact(ctx, "user-1", "secret", CreateFactInput{
		FactKey: "city", FactValue: "Berlin", Confidence: 0.8,
	})
	if !errors.Is(err, models.ErrIndexing) {
		t.Fatalf("expected ErrIndexing, got %v", err)
	}
	if len(deps.repo.facts) != 0 {
		t.Fatal("persisted record was not rolled back after index failure")
	}
}

func TestCreateFactRollsBackOnEmbeddingFailure(t *testing.T) {
	svc, deps := newTestService(t)
	ctx := context.Background()
	deps.embedder.fail = fmt.Errorf("%w: provider unavailable", models.ErrEmbedding)

	_, err := svc.CreateFact(ctx, "user-1", "secret", CreateFactInput{
		FactKey: "city", FactValue: "Berlin", Confidence: 0.8,
	})
	if !errors.Is(err, models.ErrIndexing) {
		t.Fatalf("expected ErrIndexing, got %v", err)
	}
	if !errors.Is(err, models.ErrEmbedding) {
		t.Fatalf("expected the embedding cause to stay visible, got %v", err)
	}
	if len(deps.repo.facts) != 0 {
		t.Fatal("persisted record was not rolled back after embedding failure")
	}
}

func TestGetFactNotFoundUniform(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	view := mustCreate(t, svc, "user-1", "secret", CreateFactInput{
		FactKey: "city", FactValue: "Berlin", Confidence: 0.8,
	})

	if _, err := svc.GetFact(ctx, "no-such-id", "user-1", "secret"); !errors.Is(err, models.ErrNotFound) {
		t.Fatalf("missing fact: got %v, want ErrNotFound", err)
	}
	// Wrong owner looks exactly like missing.
	if _, err := svc.GetFact(ctx, view.ID, "user-2", "secret"); !errors.Is(err, models.ErrNotFound) {
		t.Fatalf("foreign fact: got %v, want ErrNotFound", err)
	}
}

func TestGetFactsSkipsUndecodable(t *testing.T) {
	svc, deps := newTestService(t)
	ctx := context.Background()

	mustCreate(t, svc, "user-1", "secret", CreateFactInput{
		FactKey: "city", FactValue: "Berlin", Confidence: 0.8,
	})
	// A record whose ciphertext cannot be opened must be skipped, not
	// fail the whole list.
	deps.repo.facts["broken"] = &models.Fact{
		ID: "broken", UserID: "user-1", FactType: models.FactTypePersonal,
		FactKey: "garbage", FactValue: "garbage", ConfidenceScore: 0.9,
		CreatedAt: time.Now().UTC(),
	}

	views, err := svc.GetFacts(ctx, "user-1", "secret", nil, 10, 0)
	if err != nil {
		t.Fatalf("GetFacts failed: %v", err)
	}
	if len(views) != 1 || views[0].FactValue != "Berlin" {
		t.Fatalf("GetFacts = %+v, want only the readable fact", views)
	}
}

func TestUpdateFactReencryptsAndReindexes(t *testing.T) {
	svc, deps := newTestService(t)
	ctx := context.Background()

	view := mustCreate(t, svc, "user-1", "secret", CreateFactInput{
		FactKey: "job_title", FactValue: "Engineer", Confidence: 0.6,
	})
	oldCipher := deps.repo.facts[view.ID].FactValue

	newValue := "Senior Engineer"
	newConf := 0.85
	updated, err := svc.UpdateFact(ctx, view.ID, "user-1", "secret", &models.FactUpdate{
		FactValue:       &newValue,
		ConfidenceScore: &newConf,
	})
	if err != nil {
		t.Fatalf("UpdateFact failed: %v", err)
	}
	if updated.FactValue != "Senior Engineer" || updated.ConfidenceScore != 0.85 {
		t.Fatalf("update not applied: %+v", updated)
	}
	if deps.repo.facts[view.ID].FactValue == oldCipher {
		t.Fatal("ciphertext unchanged after value update")
	}

	// Confidence-only updates must not touch the ciphertext.
	cipherAfter := deps.repo.facts[view.ID].FactValue
	lower := 0.7
	if _, err := svc.UpdateFact(ctx, view.ID, "user-1", "secret", &models.FactUpdate{ConfidenceScore: &lower}); err != nil {
		t.Fatalf("UpdateFact failed: %v", err)
	}
	if deps.repo.facts[view.ID].FactValue != cipherAfter {
		t.Fatal("confidence-only update re-encrypted the value")
	}

	// The wrong secret cannot modify the record.
	if _, err := svc.UpdateFact(ctx, view.ID, "user-1", "wrong", &models.FactUpdate{FactValue: &newValue}); !errors.Is(err, models.ErrDecryption) {
		t.Fatalf("expected ErrDecryption with wrong secret, got %v", err)
	}
}

func TestUpdateFactRestoresRecordOnIndexFailure(t *testing.T) {
	svc, deps := newTestService(t)
	ctx := context.Background()

	view := mustCreate(t, svc, "user-1", "secret", CreateFactInput{
		FactKey: "job_title", FactValue: "Engineer", Confidence: 0.6,
	})
	before := *deps.repo.facts[view.ID]
	deps.index.failUpsert = fmt.Errorf("%w: collection unavailable", models.ErrIndexing)

	newValue := "Senior Engineer"
	_, err := svc.UpdateFact(ctx, view.ID, "user-1", "secret", &models.FactUpdate{FactValue: &newValue})
	if !errors.Is(err, models.ErrIndexing) {
		t.Fatalf("expected ErrIndexing, got %v", err)
	}

	// The stored row must still match the vector that is live in the
	// index, so the pre-update ciphertext comes back.
	stored := deps.repo.facts[view.ID]
	if stored.FactValue != before.FactValue || stored.FactKey != before.FactKey {
		t.Fatal("new ciphertext left behind after index failure")
	}
	got, err := svc.GetFact(ctx, view.ID, "user-1", "secret")
	if err != nil {
		t.Fatalf("GetFact after failed update: %v", err)
	}
	if got.FactValue != "Engineer" {
		t.Fatalf("value = %q, want the pre-update plaintext", got.FactValue)
	}
}

func TestDeleteFactIdempotent(t *testing.T) {
	svc, deps := newTestService(t)
	ctx := context.Background()

	view := mustCreate(t, svc, "user-1", "secret", CreateFactInput{
		FactKey: "city", FactValue: "Berlin", Confidence: 0.8,
	})

	deleted, err := svc.DeleteFact(ctx, view.ID, "user-1")
	if err != nil || !deleted {
		t.Fatalf("first delete = (%v, %v), want (true, nil)", deleted, err)
	}
	if deps.index.contains(view.ID) {
		t.Fatal("vector index still holds the deleted fact")
	}

	deleted, err = svc.DeleteFact(ctx, view.ID, "user-1")
	if err != nil || deleted {
		t.Fatalf("second delete = (%v, %v), want (false, nil)", deleted, err)
	}
}

func TestSearchDropsStaleHits(t *testing.T) {
	svc, deps := newTestService(t)
	ctx := context.Background()

	view := mustCreate(t, svc, "user-1", "secret", CreateFactInput{
		FactKey: "diet", FactValue: "vegetarian", Confidence: 0.9,
	})
	deps.index.hits = []index.Hit{
		{FactID: view.ID, Similarity: 0.92},
		{FactID: "gone-fact", Similarity: 0.95}, // deleted from the store, still in the index
	}

	results, err := svc.Search(ctx, "user-1", "secret", "food preferences", nil, 0, 10)
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if len(results) != 1 || results[0].Fact.ID != view.ID {
		t.Fatalf("Search = %+v, want only the live fact", results)
	}
	if results[0].Similarity != 0.92 {
		t.Fatalf("similarity = %v, want 0.92", results[0].Similarity)
	}
}

func TestSearchMinConfidenceFilter(t *testing.T) {
	svc, deps := newTestService(t)
	ctx := context.Background()

	low := mustCreate(t, svc, "user-1", "secret", CreateFactInput{
		FactKey: "sport", FactValue: "golf", Confidence: 0.3,
	})
	high := mustCreate(t, svc, "user-1", "secret", CreateFactInput{
		FactKey: "diet", FactValue: "vegetarian", Confidence: 0.9,
	})
	deps.index.hits = []index.Hit{
		{FactID: low.ID, Similarity: 0.9},
		{FactID: high.ID, Similarity: 0.8},
	}

	results, err := svc.Search(ctx, "user-1", "secret", "habits", nil, 0.5, 10)
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if len(results) != 1 || results[0].Fact.ID != high.ID {
		t.Fatalf("Search = %+v, want only the high-confidence fact", results)
	}
}

func TestRelevantFactsRanking(t *testing.T) {
	svc, deps := newTestService(t)
	ctx := context.Background()

	factA := mustCreate(t, svc, "user-1", "secret", CreateFactInput{
		FactKey: "diet", FactValue: "vegetarian", Confidence: 0.5,
	})
	factB := mustCreate(t, svc, "user-1", "secret", CreateFactInput{
		FactKey: "allergy", FactValue: "peanuts", Confidence: 0.95,
	})
	// A: 0.8*0.9 + 0.2*0.5 = 0.82, B: 0.8*0.5 + 0.2*0.95 = 0.59
	deps.index.hits = []index.Hit{
		{FactID: factB.ID, Similarity: 0.5},
		{FactID: factA.ID, Similarity: 0.9},
	}

	views, err := svc.RelevantFacts(ctx, "user-1", "secret", "what should I cook", 10)
	if err != nil {
		t.Fatalf("RelevantFacts failed: %v", err)
	}
	if len(views) != 2 {
		t.Fatalf("RelevantFacts returned %d facts, want 2", len(views))
	}
	if views[0].ID != factA.ID || views[1].ID != factB.ID {
		t.Fatalf("ranking = [%s, %s], want [A=%s, B=%s]", views[0].ID, views[1].ID, factA.ID, factB.ID)
	}
}

func TestRelevantFactsMergesRecency(t *testing.T) {
	svc, deps := newTestService(t)
	ctx := context.Background()

	inVector := mustCreate(t, svc, "user-1", "secret", CreateFactInput{
		FactKey: "diet", FactValue: "vegetarian", Confidence: 0.8,
	})
	recentOnly := mustCreate(t, svc, "user-1", "secret", CreateFactInput{
		FactKey: "city", FactValue: "Berlin", Confidence: 0.9,
	})
	// Only one fact surfaces via similarity; the other must still show
	// up through the recency strategy.
	deps.index.hits = []index.Hit{{FactID: inVector.ID, Similarity: 0.9}}

	views, err := svc.RelevantFacts(ctx, "user-1", "secret", "dinner plans", 10)
	if err != nil {
		t.Fatalf("RelevantFacts failed: %v", err)
	}
	ids := make(map[string]bool)
	for _, v := range views {
		ids[v.ID] = true
	}
	if !ids[inVector.ID] || !ids[recentOnly.ID] {
		t.Fatalf("merge missing facts, got %v", ids)
	}
}

func TestExtractFromConversation(t *testing.T) {
	svc, deps := newTestService(t)
	ctx := context.Background()

	deps.lookup.conversations["conv-1"] = &models.Conversation{
		ID: "conv-1", UserID: "user-1",
		UserInput:     "I'm vegetarian and I think I might take up golf",
		AgentResponse: "Noted!",
	}
	strong := 0.9
	weak := 0.4
	deps.extractor.candidates = []*models.Candidate{
		{FactType: models.FactTypePreference, FactKey: "dietary_preference", FactValue: "vegetarian", Confidence: &strong},
		{FactType: models.FactTypePreference, FactKey: "hobby", FactValue: "golf", Confidence: &weak},
	}

	views, err := svc.ExtractFromConversation(ctx, "user-1", "secret", "conv-1", false)
	if err != nil {
		t.Fatalf("ExtractFromConversation failed: %v", err)
	}
	if len(views) != 1 || views[0].FactKey != "dietary_preference" {
		t.Fatalf("views = %+v, want only the gated-in candidate", views)
	}
	if views[0].SourceConversationID != "conv-1" {
		t.Fatalf("source reference = %q, want conv-1", views[0].SourceConversationID)
	}

	// Unknown conversation, and someone else's conversation, both fail
	// the same way.
	if _, err := svc.ExtractFromConversation(ctx, "user-1", "secret", "conv-404", false); !errors.Is(err, models.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := svc.ExtractFromConversation(ctx, "user-2", "secret", "conv-1", false); !errors.Is(err, models.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for foreign conversation, got %v", err)
	}
}

func TestExtractReplacesDuplicate(t *testing.T) {
	svc, deps := newTestService(t)
	ctx := context.Background()

	existing := mustCreate(t, svc, "user-1", "secret", CreateFactInput{
		FactType: models.FactTypeWork, FactKey: "Job Title", FactValue: "Engineer", Confidence: 0.6,
	})
	deps.lookup.conversations["conv-1"] = &models.Conversation{
		ID: "conv-1", UserID: "user-1",
		UserInput: "I got promoted to Senior Engineer", AgentResponse: "Congrats!",
	}
	conf := 0.85
	deps.extractor.candidates = []*models.Candidate{
		{FactType: models.FactTypeWork, FactKey: "job title", FactValue: "Senior Engineer", Confidence: &conf},
	}

	views, err := svc.ExtractFromConversation(ctx, "user-1", "secret", "conv-1", false)
	if err != nil {
		t.Fatalf("ExtractFromConversation failed: %v", err)
	}
	if len(views) != 1 || views[0].ID != existing.ID {
		t.Fatalf("expected in-place update of %s, got %+v", existing.ID, views)
	}
	if views[0].FactValue != "Senior Engineer" {
		t.Fatalf("value = %q, want Senior Engineer", views[0].FactValue)
	}
	if len(deps.repo.facts) != 1 {
		t.Fatalf("duplicate created a second record, have %d", len(deps.repo.facts))
	}
}

func TestBatchProcessConversations(t *testing.T) {
	svc, deps := newTestService(t)
	ctx := context.Background()

	for _, id := range []string{"conv-1", "conv-2"} {
		deps.lookup.conversations[id] = &models.Conversation{
			ID: id, UserID: "user-1", UserInput: "I live in Berlin", AgentResponse: "Nice city!",
		}
	}
	conf := 0.9
	deps.extractor.candidates = []*models.Candidate{
		{FactType: models.FactTypePersonal, FactKey: "city", FactValue: "Berlin", Confidence: &conf},
	}

	result, err := svc.BatchProcessConversations(ctx, "user-1", "secret", []string{"conv-1", "conv-2", "conv-missing"}, false)
	if err != nil {
		t.Fatalf("BatchProcessConversations failed: %v", err)
	}
	if len(result.Failed) != 1 {
		t.Fatalf("failed = %v, want exactly the missing conversation", result.Failed)
	}
	if _, ok := result.Failed["conv-missing"]; !ok {
		t.Fatalf("failed map = %v, want conv-missing", result.Failed)
	}
	// One sibling's failure must not block the others. The second
	// conversation's candidate deduplicates against the first, so at
	// least one fact lands.
	if len(result.Facts) == 0 {
		t.Fatal("no facts extracted from the successful conversations")
	}
}

func TestStatistics(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	mustCreate(t, svc, "user-1", "secret", CreateFactInput{
		FactType: models.FactTypePersonal, FactKey: "name", FactValue: "John", Confidence: 0.9,
	})
	mustCreate(t, svc, "user-1", "secret", CreateFactInput{
		FactType: models.FactTypeHealth, FactKey: "allergy", FactValue: "peanuts", Confidence: 0.6, IsSensitive: true,
	})
	mustCreate(t, svc, "user-1", "secret", CreateFactInput{
		FactType: models.FactTypePreference, FactKey: "sport", FactValue: "golf", Confidence: 0.3,
	})
	mustCreate(t, svc, "user-2", "secret", CreateFactInput{
		FactType: models.FactTypePersonal, FactKey: "name", FactValue: "Ada", Confidence: 0.9,
	})

	stats, err := svc.Statistics(ctx, "user-1")
	if err != nil {
		t.Fatalf("Statistics failed: %v", err)
	}
	if stats.TotalFacts != 3 {
		t.Fatalf("total = %d, want 3", stats.TotalFacts)
	}
	if stats.SensitiveFacts != 1 {
		t.Fatalf("sensitive = %d, want 1", stats.SensitiveFacts)
	}
	if stats.FactTypes[models.FactTypeHealth] != 1 || stats.FactTypes[models.FactTypePersonal] != 1 {
		t.Fatalf("type counts = %v", stats.FactTypes)
	}
	if stats.ConfidenceBands.High != 1 || stats.ConfidenceBands.Medium != 1 || stats.ConfidenceBands.Low != 1 {
		t.Fatalf("bands = %+v, want 1/1/1", stats.ConfidenceBands)
	}
	want := (0.9 + 0.6 + 0.3) / 3
	if diff := stats.AverageConfidence - want; diff > 1e-9 || diff < -1e-9 {
		t.Fatalf("average = %v, want %v", stats.AverageConfidence, want)
	}

	empty, err := svc.Statistics(ctx, "user-none")
	if err != nil {
		t.Fatalf("Statistics failed for empty user: %v", err)
	}
	if empty.TotalFacts != 0 || empty.AverageConfidence != 0 {
		t.Fatalf("empty stats = %+v", empty)
	}
}
