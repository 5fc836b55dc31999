package embedding

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"

	"github.com/go-redis/redis/v8"
)

// CachedModel 是 Embedding 的装饰器，用 Redis 缓存已生成的向量。
// 缓存键由模型标识与文本摘要组成，不同模型的向量互不混用。
// Redis 故障视为缓存未命中，绝不让缓存问题阻断正常的生成路径。
type CachedModel struct {
	inner Embedding
	rdb   *redis.Client
	ttl   time.Duration
}

// NewCachedModel 包装一个 Embedding 实现，为其增加 Redis 缓存。
func NewCachedModel(inner Embedding, rdb *redis.Client, ttl time.Duration) *CachedModel {
	return &CachedModel{inner: inner, rdb: rdb, ttl: ttl}
}

// ModelTag 返回被包装模型的标识。
func (m *CachedModel) ModelTag() string { return m.inner.ModelTag() }

// cacheKey 生成缓存键："emb:<model>:<sha256(text)>"。
func (m *CachedModel) cacheKey(text string) string {
	sum := sha256.Sum256([]byte(text))
	return "emb:" + m.inner.ModelTag() + ":" + hex.EncodeToString(sum[:])
}

// Embed 先查缓存，未命中时调用内层模型并回写。
func (m *CachedModel) Embed(ctx context.Context, text string) ([]float32, error) {
	key := m.cacheKey(text)
	if raw, err := m.rdb.Get(ctx, key).Bytes(); err == nil {
		var vec []float32
		if err := json.Unmarshal(raw, &vec); err == nil && len(vec) > 0 {
			return vec, nil
		}
	}

	vec, err := m.inner.Embed(ctx, text)
	if err != nil {
		return nil, err
	}

	if raw, err := json.Marshal(vec); err == nil {
		m.rdb.Set(ctx, key, raw, m.ttl)
	}
	return vec, nil
}

// EmbedBatch 逐条查缓存，只把未命中的文本交给内层模型批量生成。
func (m *CachedModel) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	result := make([][]float32, len(texts))
	var missing []string
	var missingIdx []int

	for i, text := range texts {
		if raw, err := m.rdb.Get(ctx, m.cacheKey(text)).Bytes(); err == nil {
			var vec []float32
			if err := json.Unmarshal(raw, &vec); err == nil && len(vec) > 0 {
				result[i] = vec
				continue
			}
		}
		missing = append(missing, text)
		missingIdx = append(missingIdx, i)
	}

	if len(missing) == 0 {
		return result, nil
	}

	vecs, err := m.inner.EmbedBatch(ctx, missing)
	if err != nil {
		return nil, err
	}

	for j, vec := range vecs {
		result[missingIdx[j]] = vec
		if raw, err := json.Marshal(vec); err == nil {
			m.rdb.Set(ctx, m.cacheKey(missing[j]), raw, m.ttl)
		}
	}
	return result, nil
}
