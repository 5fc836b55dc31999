package models

import "time"

// 常用的事实分类标签。仅作过滤提示使用，存储层不强制枚举。
const (
	FactTypePersonal   = "personal"
	FactTypePreference = "preference"
	FactTypeWork       = "work"
	FactTypeHealth     = "health"
)

// Fact 是落库的加密事实记录。FactKey/FactValue 字段存放密文，
// 明文只有在持有正确的 (user_id, user_secret) 时才能解出。
type Fact struct {
	ID                   string    `gorm:"primaryKey;size:36" json:"id"`
	UserID               string    `gorm:"index:idx_facts_user_type,priority:1;size:36;not null" json:"user_id"`
	FactType             string    `gorm:"index:idx_facts_user_type,priority:2;size:32;not null" json:"fact_type"`
	FactKey              string    `gorm:"type:text;not null" json:"fact_key"`
	FactValue            string    `gorm:"type:text;not null" json:"fact_value"`
	ConfidenceScore      float64   `gorm:"not null" json:"confidence_score"`
	IsSensitive          bool      `gorm:"not null" json:"is_sensitive"`
	SourceConversationID string    `gorm:"size:36" json:"source_conversation_id,omitempty"`
	KeyVersion           int       `gorm:"not null;default:1" json:"key_version"`
	CreatedAt            time.Time `json:"created_at"`
	LastAccessed         time.Time `json:"last_accessed"`
}

// TableName 指定 GORM 使用的表名。
func (Fact) TableName() string { return "user_facts" }

// EmbeddingRecord 是与 Fact 一一对应的向量记录。向量随事实同步创建，
// 内容变更时整体替换，事实删除时级联删除，不允许脱离事实单独存在。
type EmbeddingRecord struct {
	FactID    string    `gorm:"primaryKey;size:36" json:"fact_id"`
	Vector    []byte    `gorm:"type:mediumblob;not null" json:"-"` // JSON 序列化的 []float32
	ModelTag  string    `gorm:"size:64;not null" json:"model_tag"`
	CreatedAt time.Time `json:"created_at"`
}

// TableName 指定 GORM 使用的表名。
func (EmbeddingRecord) TableName() string { return "vector_embeddings" }

// FactView 是解密后的事实视图，仅存在于内存中，绝不落库。
type FactView struct {
	ID                   string    `json:"id"`
	UserID               string    `json:"user_id"`
	FactType             string    `json:"fact_type"`
	FactKey              string    `json:"fact_key"`
	FactValue            string    `json:"fact_value"`
	ConfidenceScore      float64   `json:"confidence_score"`
	IsSensitive          bool      `json:"is_sensitive"`
	SourceConversationID string    `json:"source_conversation_id,omitempty"`
	KeyVersion           int       `json:"key_version"`
	CreatedAt            time.Time `json:"created_at"`
	LastAccessed         time.Time `json:"last_accessed"`
}

// FactUpdate 描述一次部分更新。nil 字段保持原值。
type FactUpdate struct {
	FactType             *string  `json:"fact_type,omitempty"`
	FactKey              *string  `json:"fact_key,omitempty"`
	FactValue            *string  `json:"fact_value,omitempty"`
	ConfidenceScore      *float64 `json:"confidence_score,omitempty"`
	SourceConversationID *string  `json:"source_conversation_id,omitempty"`
}

// ScoredFact 是检索结果：解密后的事实加上本次查询的相似度。
type ScoredFact struct {
	Fact       *FactView `json:"fact"`
	Similarity float64   `json:"similarity"`
}

// ConfidenceBands 是按置信度分段的计数。
type ConfidenceBands struct {
	High   int `json:"high"`   // >= 0.8
	Medium int `json:"medium"` // [0.5, 0.8)
	Low    int `json:"low"`    // < 0.5
}

// FactStatistics 是按用户聚合的只读统计。
type FactStatistics struct {
	TotalFacts        int             `json:"total_facts"`
	FactTypes         map[string]int  `json:"fact_types"`
	AverageConfidence float64         `json:"average_confidence"`
	SensitiveFacts    int             `json:"sensitive_facts"`
	ConfidenceBands   ConfidenceBands `json:"confidence_distribution"`
}
