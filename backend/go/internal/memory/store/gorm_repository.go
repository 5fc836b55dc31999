package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/ShuhangGe/calendar/backend/go/internal/models"
)

// 混合排序表达式：0.7*置信度 + 0.3*新近度，新近度 30 天线性衰减到 0。
// 在 SQL 里计算，避免把全部记录拉到内存排序。
const blendedOrderExpr = "(0.7 * confidence_score + 0.3 * GREATEST(0, 1 - TIMESTAMPDIFF(SECOND, created_at, NOW()) / 86400.0 / 30)) DESC, created_at DESC"

// GormRepository 是 Repository 的 MySQL 实现。
type GormRepository struct {
	db *gorm.DB
}

// NewGormRepository 基于已初始化的 GORM 连接创建仓库。
func NewGormRepository(db *gorm.DB) *GormRepository {
	return &GormRepository{db: db}
}

func (r *GormRepository) Create(ctx context.Context, fact *models.Fact) error {
	if err := r.db.WithContext(ctx).Create(fact).Error; err != nil {
		return fmt.Errorf("failed to create fact record: %w", err)
	}
	return nil
}

func (r *GormRepository) SaveEmbedding(ctx context.Context, rec *models.EmbeddingRecord) error {
	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "fact_id"}},
			UpdateAll: true,
		}).
		Create(rec).Error
	if err != nil {
		return fmt.Errorf("failed to save embedding record: %w", err)
	}
	return nil
}

func (r *GormRepository) Get(ctx context.Context, factID, userID string) (*models.Fact, error) {
	var fact models.Fact
	err := r.db.WithContext(ctx).
		Where("id = ? AND user_id = ?", factID, userID).
		First(&fact).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			// 不存在与归属他人对调用方不可区分
			return nil, models.ErrNotFound
		}
		return nil, fmt.Errorf("failed to load fact %s: %w", factID, err)
	}
	return &fact, nil
}

func (r *GormRepository) GetByIDs(ctx context.Context, userID string, ids []string) ([]*models.Fact, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var facts []*models.Fact
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND id IN ?", userID, ids).
		Find(&facts).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load facts by ids: %w", err)
	}
	return facts, nil
}

func (r *GormRepository) List(ctx context.Context, userID string, factTypes []string, limit, offset int) ([]*models.Fact, error) {
	query := r.db.WithContext(ctx).Where("user_id = ?", userID)
	if len(factTypes) > 0 {
		query = query.Where("fact_type IN ?", factTypes)
	}
	var facts []*models.Fact
	err := query.
		Order(blendedOrderExpr).
		Limit(limit).
		Offset(offset).
		Find(&facts).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list facts for user %s: %w", userID, err)
	}
	return facts, nil
}

func (r *GormRepository) ListRecent(ctx context.Context, userID string, limit int) ([]*models.Fact, error) {
	var facts []*models.Fact
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Limit(limit).
		Find(&facts).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list recent facts for user %s: %w", userID, err)
	}
	return facts, nil
}

func (r *GormRepository) Save(ctx context.Context, fact *models.Fact) error {
	if err := r.db.WithContext(ctx).Save(fact).Error; err != nil {
		return fmt.Errorf("failed to save fact %s: %w", fact.ID, err)
	}
	return nil
}

// Delete 在同一事务里删除事实与其向量记录，保证两者不会分离存活。
func (r *GormRepository) Delete(ctx context.Context, factID, userID string) (bool, error) {
	var deleted bool
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Where("id = ? AND user_id = ?", factID, userID).Delete(&models.Fact{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return nil
		}
		deleted = true
		return tx.Where("fact_id = ?", factID).Delete(&models.EmbeddingRecord{}).Error
	})
	if err != nil {
		return false, fmt.Errorf("failed to delete fact %s: %w", factID, err)
	}
	return deleted, nil
}

func (r *GormRepository) TouchLastAccessed(ctx context.Context, ids []string, when time.Time) error {
	if len(ids) == 0 {
		return nil
	}
	err := r.db.WithContext(ctx).
		Model(&models.Fact{}).
		Where("id IN ?", ids).
		Update("last_accessed", when).Error
	if err != nil {
		return fmt.Errorf("failed to update last_accessed: %w", err)
	}
	return nil
}
