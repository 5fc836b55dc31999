package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// AppInfo 对应 'app' 部分，包含应用程序的基本信息。
type AppInfo struct {
	Name        string `yaml:"name"`        // 应用程序名称
	Version     string `yaml:"version"`     // 应用程序版本
	Environment string `yaml:"environment"` // 运行环境 (例如: "development", "production")
}

// LoggerConfig 定义了日志记录器的配置。
type LoggerConfig struct {
	Level string `yaml:"level"` // 日志级别 (例如: "info", "debug", "warn", "error")
}

// SecurityConfig 定义了密钥派生与加密相关的配置。
// MasterSecret 只存在于配置/环境中，派生出的用户密钥绝不落盘。
type SecurityConfig struct {
	MasterSecret     string `yaml:"masterSecret"`     // 主密钥
	PBKDF2Iterations int    `yaml:"pbkdf2Iterations"` // 密钥拉伸迭代次数
	KeyVersion       int    `yaml:"keyVersion"`       // 当前密钥派生代次，写入每条记录
	KeyCacheSize     int    `yaml:"keyCacheSize"`     // 派生密钥 LRU 缓存容量
	KeyCacheTTL      string `yaml:"keyCacheTTL"`      // 缓存条目存活时间 (例如: "5m")
}

// EmbeddingConfig 包含了不同 Embedding 提供商的配置。
type EmbeddingConfig struct {
	Provider  string  `yaml:"provider"`  // Embedding 提供商 ("openai", "gemini", "ollama")
	Model     string  `yaml:"model"`     // 模型名称
	APIKey    string  `yaml:"apiKey"`    // API 密钥
	BaseURL   string  `yaml:"baseURL"`   // 服务地址 (ollama 使用)
	Dimension int     `yaml:"dimension"` // 向量维度
	RateLimit float64 `yaml:"rateLimit"` // 每秒允许的提供商调用数
	RateBurst int     `yaml:"rateBurst"` // 突发容量
	CacheTTL  string  `yaml:"cacheTTL"`  // Redis 向量缓存存活时间
}

// ClassifierConfig 定义了事实抽取所用分类模型的配置。
type ClassifierConfig struct {
	Model  string `yaml:"model"`  // 对话补全模型名称
	APIKey string `yaml:"apiKey"` // API 密钥
}

// MemoryConfig 定义了记忆核心的调优参数。
type MemoryConfig struct {
	SimilarityFloor  float64 `yaml:"similarityFloor"`  // 向量检索相似度下限
	ConfidenceGate   float64 `yaml:"confidenceGate"`   // 候选事实置信度门槛
	BatchParallelism int     `yaml:"batchParallelism"` // 批量抽取的最大并行会话数
}

// MySQLConfig 定义了 MySQL 数据库的连接配置。
type MySQLConfig struct {
	Address         string `yaml:"address"`         // MySQL 服务器地址
	Username        string `yaml:"username"`        // 用户名
	Password        string `yaml:"password"`        // 密码
	Database        string `yaml:"database"`        // 数据库名称
	MaxOpenConns    int    `yaml:"maxOpenConns"`    // 最大打开连接数
	MaxIdleConns    int    `yaml:"maxIdleConns"`    // 最大空闲连接数
	ConnMaxLifetime int    `yaml:"connMaxLifetime"` // 连接最大生命周期 (秒)
}

// FieldConfig 定义了 Milvus 集合中字段的配置。
type FieldConfig struct {
	Name         string `yaml:"name"`                // 字段名称
	DataType     string `yaml:"dataType"`            // 字段数据类型 (例如: "VarChar", "FloatVector")
	IsPrimaryKey bool   `yaml:"isPrimaryKey"`        // 是否为主键
	Dim          int    `yaml:"dim,omitempty"`       // 向量维度 (仅适用于向量类型)
	MaxLength    int    `yaml:"maxLength,omitempty"` // 最大长度 (仅适用于VarChar类型)
}

// IndexConfig 定义了 Milvus 集合中索引的配置。
type IndexConfig struct {
	FieldName  string                 `yaml:"fieldName"`  // 要创建索引的字段名称
	IndexType  string                 `yaml:"indexType"`  // 索引类型 (例如: "HNSW", "IVF_FLAT")
	MetricType string                 `yaml:"metricType"` // 相似度度量类型 (例如: "COSINE", "IP")
	Params     map[string]interface{} `yaml:"params"`     // 索引参数 (例如: {"M": 8})
}

// SchemaConfig 定义了 Milvus 集合的 Schema 配置。
type SchemaConfig struct {
	CollectionName string        `yaml:"collectionName"` // 集合名称
	Description    string        `yaml:"description"`    // 集合描述
	VectorField    string        `yaml:"vectorField"`    // 向量字段名称
	Fields         []FieldConfig `yaml:"fields"`         // 字段配置列表
	Index          IndexConfig   `yaml:"index"`          // 索引配置
}

// MilvusConfig 定义了 Milvus 数据库的连接和 Schema 配置。
type MilvusConfig struct {
	Address string       `yaml:"address"` // Milvus 服务地址
	Schema  SchemaConfig `yaml:"schema"`  // Milvus 集合 Schema 配置
}

// RedisConfig 定义了 Redis 数据库的连接配置。
type RedisConfig struct {
	Address  string `yaml:"address"`  // Redis 服务器地址 (例如: "localhost:6379")
	Password string `yaml:"password"` // Redis 密码
	DB       int    `yaml:"db"`       // Redis 数据库编号
}

// MongoConfig 定义了 MongoDB 数据库的连接配置。
type MongoConfig struct {
	Address    string `yaml:"address"`    // MongoDB 服务器地址
	Username   string `yaml:"username"`   // 用户名
	Password   string `yaml:"password"`   // 密码
	Database   string `yaml:"database"`   // 数据库名称
	Collection string `yaml:"collection"` // 会话集合名称
}

// KafkaConfig 定义了 Kafka 消息队列的连接配置。
type KafkaConfig struct {
	Brokers []string `yaml:"brokers"` // Kafka Broker 地址列表
	Topics  []string `yaml:"topics"`  // Kafka 主题列表
	GroupID string   `yaml:"groupID"` // 消费组 ID
}

// DatabaseConfigs 包含所有数据库的配置。
type DatabaseConfigs struct {
	MySQL   MySQLConfig  `yaml:"mysql"`   // MySQL 数据库配置
	Milvus  MilvusConfig `yaml:"milvus"`  // Milvus 数据库配置
	Redis   RedisConfig  `yaml:"redis"`   // Redis 数据库配置
	MongoDB MongoConfig  `yaml:"mongodb"` // MongoDB 数据库配置
	Kafka   KafkaConfig  `yaml:"kafka"`   // Kafka 消息队列配置
}

// AppConfig 是整个 YAML 文件的根结构，包含了应用程序的所有配置。
type AppConfig struct {
	App        AppInfo          `yaml:"app"`        // 应用程序信息
	Logger     LoggerConfig     `yaml:"logger"`     // 日志记录器配置
	Security   SecurityConfig   `yaml:"security"`   // 密钥派生与加密配置
	Embedding  EmbeddingConfig  `yaml:"embedding"`  // Embedding 配置部分
	Classifier ClassifierConfig `yaml:"classifier"` // 事实抽取分类器配置
	Memory     MemoryConfig     `yaml:"memory"`     // 记忆核心调优参数
	Databases  DatabaseConfigs  `yaml:"databases"`  // 数据库配置
}

// LoadConfig 函数从指定路径加载并解析 YAML 配置文件。
//
// 参数:
//
//	path: YAML 配置文件的路径。
//
// 返回值:
//
//	*AppConfig: 解析后的应用程序配置结构体。
//	error: 如果文件读取或解析失败，则返回错误。
func LoadConfig(path string) (*AppConfig, error) {
	// 读取 YAML 文件内容。
	yamlFile, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("无法读取 YAML 文件 '%s': %w", path, err)
	}
	var cfg AppConfig
	// 将 YAML 内容解析到 cfg 结构体中。
	if err := yaml.Unmarshal(yamlFile, &cfg); err != nil {
		return nil, fmt.Errorf("解析 YAML 文件失败: %w", err)
	}
	applyDefaults(&cfg)
	return &cfg, nil
}

// applyDefaults 为未配置的调优参数填充默认值。
func applyDefaults(cfg *AppConfig) {
	if cfg.Security.PBKDF2Iterations <= 0 {
		cfg.Security.PBKDF2Iterations = 100000
	}
	if cfg.Security.KeyVersion <= 0 {
		cfg.Security.KeyVersion = 1
	}
	if cfg.Security.KeyCacheSize <= 0 {
		cfg.Security.KeyCacheSize = 256
	}
	if cfg.Security.KeyCacheTTL == "" {
		cfg.Security.KeyCacheTTL = "10m"
	}
	if cfg.Memory.SimilarityFloor <= 0 {
		cfg.Memory.SimilarityFloor = 0.6
	}
	if cfg.Memory.ConfidenceGate <= 0 {
		cfg.Memory.ConfidenceGate = 0.7
	}
	if cfg.Memory.BatchParallelism <= 0 {
		cfg.Memory.BatchParallelism = 3
	}
	if cfg.Embedding.RateLimit <= 0 {
		cfg.Embedding.RateLimit = 10
	}
	if cfg.Embedding.RateBurst <= 0 {
		cfg.Embedding.RateBurst = 5
	}
	if cfg.Embedding.CacheTTL == "" {
		cfg.Embedding.CacheTTL = "24h"
	}
}
