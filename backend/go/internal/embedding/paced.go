package embedding

import (
	"context"
	"time"

	"github.com/ShuhangGe/calendar/backend/go/pkg/ratelimiter"
)

// PacedModel 是 Embedding 的装饰器，通过令牌桶限制对上游 API 的请求速率。
// 令牌耗尽时阻塞等待补充，而不是直接返回错误，调用方通过 context 控制超时。
type PacedModel struct {
	inner   Embedding
	limiter ratelimiter.RateLimiter
}

// NewPacedModel 包装一个 Embedding 实现，按给定速率与突发量限流。
func NewPacedModel(inner Embedding, rate float64, burst int) *PacedModel {
	return &PacedModel{
		inner:   inner,
		limiter: ratelimiter.NewTokenBucket(rate, burst),
	}
}

// ModelTag 返回被包装模型的标识。
func (m *PacedModel) ModelTag() string { return m.inner.ModelTag() }

// wait 阻塞直到拿到一个令牌或 context 被取消。
func (m *PacedModel) wait(ctx context.Context) error {
	if m.limiter.Allow() {
		return nil
	}
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if m.limiter.Allow() {
				return nil
			}
		}
	}
}

func (m *PacedModel) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := m.wait(ctx); err != nil {
		return nil, err
	}
	return m.inner.Embed(ctx, text)
}

func (m *PacedModel) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if err := m.wait(ctx); err != nil {
		return nil, err
	}
	return m.inner.EmbedBatch(ctx, texts)
}
