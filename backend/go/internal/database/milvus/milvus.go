package milvus

import (
	"context"
	"fmt"
	"log"
	"sync"

	"github.com/ShuhangGe/calendar/backend/go/internal/config"

	"github.com/milvus-io/milvus-sdk-go/v2/client"
	"github.com/milvus-io/milvus-sdk-go/v2/entity"
)

var (
	instance *MilvusClient
	once     sync.Once
	initErr  error
)

// MilvusClient 包含了 Milvus 客户端实例和相关配置。
type MilvusClient struct {
	Client client.Client        // Milvus 客户端实例。
	Config *config.MilvusConfig // Milvus 配置。
}

// GetClient 使用单例模式创建并返回一个 Milvus 客户端实例。
func GetClient(ctx context.Context, cfg *config.MilvusConfig) (*MilvusClient, error) {
	once.Do(func() {
		// 使用配置中的地址创建 Milvus 客户端。
		c, err := client.NewClient(ctx, client.Config{Address: cfg.Address})
		if err != nil {
			initErr = fmt.Errorf("无法连接到 Milvus: %w", err)
			return
		}
		log.Println("✅ 成功连接到 Milvus!")
		instance = &MilvusClient{Client: c, Config: cfg}
	})
	return instance, initErr
}

// Close 安全地关闭与 Milvus 的连接。
func (c *MilvusClient) Close() {
	if c.Client != nil {
		c.Client.Close()
		log.Println("ℹ️ 已安全关闭 Milvus 连接。")
	}
}

// HealthCheck 检查 Milvus 连接的健康状况。
func (c *MilvusClient) HealthCheck(ctx context.Context) error {
	if c.Client == nil {
		return fmt.Errorf("Milvus client is nil")
	}
	if _, err := c.Client.ListCollections(ctx); err != nil {
		return fmt.Errorf("Milvus health check failed: %w", err)
	}
	return nil
}

// InsertFact 向事实集合写入一条向量记录。
// 同一 fact_id 的旧记录必须先经 DeleteByFactID 清除，写入才是幂等替换。
func (c *MilvusClient) InsertFact(ctx context.Context, factID, userID, factType, factText string, vector []float32) error {
	collName := c.Config.Schema.CollectionName

	idCol := entity.NewColumnVarChar("fact_id", []string{factID})
	userCol := entity.NewColumnVarChar("user_id", []string{userID})
	typeCol := entity.NewColumnVarChar("fact_type", []string{factType})
	textCol := entity.NewColumnVarChar("fact_text", []string{factText})
	vecCol := entity.NewColumnFloatVector(c.Config.Schema.VectorField, len(vector), [][]float32{vector})

	if _, err := c.Client.Insert(ctx, collName, "", idCol, userCol, typeCol, textCol, vecCol); err != nil {
		return fmt.Errorf("failed to insert fact vector into Milvus: %w", err)
	}
	return nil
}

// DeleteByFactID 按 fact_id 删除记录。记录不存在时不算错误。
func (c *MilvusClient) DeleteByFactID(ctx context.Context, factID string) error {
	collName := c.Config.Schema.CollectionName
	expr := fmt.Sprintf("fact_id == %q", factID)
	if err := c.Client.Delete(ctx, collName, "", expr); err != nil {
		return fmt.Errorf("failed to delete fact vector from Milvus: %w", err)
	}
	return nil
}

// SearchFacts 在事实集合中执行带过滤表达式的向量相似度搜索。
// expr 用于按 user_id / fact_type 限定范围，Metric 由集合配置决定。
func (c *MilvusClient) SearchFacts(ctx context.Context, vector []float32, expr string, topK int) ([]client.SearchResult, error) {
	collName := c.Config.Schema.CollectionName

	if err := c.Client.LoadCollection(ctx, collName, false); err != nil {
		return nil, fmt.Errorf("加载集合 '%s' 失败: %w", collName, err)
	}

	sp, err := searchParamFromConfig(&c.Config.Schema.Index)
	if err != nil {
		return nil, err
	}

	results, err := c.Client.Search(
		ctx,
		collName,
		nil,
		expr,
		[]string{"fact_id", "fact_type"},
		[]entity.Vector{entity.FloatVector(vector)},
		c.Config.Schema.VectorField,
		entity.MetricType(c.Config.Schema.Index.MetricType),
		topK,
		sp,
	)
	if err != nil {
		return nil, fmt.Errorf("Milvus 向量搜索失败: %w", err)
	}
	return results, nil
}

// Flush 手动触发一次刷新操作，将内存中的数据写入磁盘。
func (c *MilvusClient) Flush(ctx context.Context) error {
	collName := c.Config.Schema.CollectionName
	if err := c.Client.Flush(ctx, collName, false); err != nil {
		return fmt.Errorf("刷新集合 '%s' 失败: %w", collName, err)
	}
	return nil
}

// EnsureCollection 确保 Milvus 集合存在并进行 Schema 迁移。
func (c *MilvusClient) EnsureCollection(ctx context.Context) error {
	collName := c.Config.Schema.CollectionName
	exists, err := c.Client.HasCollection(ctx, collName)
	if err != nil {
		return fmt.Errorf("检查集合是否存在时出错: %w", err)
	}
	if !exists {
		schemaFields := make([]*entity.Field, 0, len(c.Config.Schema.Fields))
		for _, fieldCfg := range c.Config.Schema.Fields {
			field := entity.NewField().WithName(fieldCfg.Name)

			if fieldCfg.IsPrimaryKey {
				field = field.WithIsPrimaryKey(true)
			}

			switch fieldCfg.DataType {
			case "Int64":
				field = field.WithDataType(entity.FieldTypeInt64)
			case "VarChar":
				field = field.WithDataType(entity.FieldTypeVarChar).WithMaxLength(int64(fieldCfg.MaxLength))
			case "FloatVector":
				field = field.WithDataType(entity.FieldTypeFloatVector).WithDim(int64(fieldCfg.Dim))
			case "Float":
				field = field.WithDataType(entity.FieldTypeFloat)
			case "Bool":
				field = field.WithDataType(entity.FieldTypeBool)
			default:
				return fmt.Errorf("不支持的数据类型: %s", fieldCfg.DataType)
			}

			schemaFields = append(schemaFields, field)
		}

		schema := entity.NewSchema().
			WithName(collName).
			WithDescription(c.Config.Schema.Description)

		for _, field := range schemaFields {
			schema = schema.WithField(field)
		}

		if err := c.Client.CreateCollection(ctx, schema, entity.DefaultShardNumber); err != nil {
			return fmt.Errorf("创建集合失败: %w", err)
		}
		idx, err := c.buildIndexFromConfig()
		if err != nil {
			return err
		}
		if err := c.Client.CreateIndex(ctx, collName, c.Config.Schema.Index.FieldName, idx, false); err != nil {
			return fmt.Errorf("为字段 '%s' 创建索引失败: %w", c.Config.Schema.Index.FieldName, err)
		}
	}

	if err := c.Client.LoadCollection(ctx, collName, false); err != nil {
		return fmt.Errorf("加载 Milvus 集合 '%s' 失败: %w", collName, err)
	}

	return nil
}

// buildIndexFromConfig 是一个辅助函数，用于从配置构建索引实体。
func (c *MilvusClient) buildIndexFromConfig() (entity.Index, error) {
	indexCfg := c.Config.Schema.Index
	metricType := entity.MetricType(indexCfg.MetricType)

	switch indexCfg.IndexType {
	case "HNSW":
		M, ok := indexCfg.Params["M"].(int)
		if !ok {
			M = 8
		}
		efConstruction, ok := indexCfg.Params["efConstruction"].(int)
		if !ok {
			efConstruction = 96
		}
		return entity.NewIndexHNSW(metricType, M, efConstruction)
	case "IVF_FLAT":
		nlist, ok := indexCfg.Params["nlist"].(int)
		if !ok {
			nlist = 128
		}
		return entity.NewIndexIvfFlat(metricType, nlist)
	case "AUTOINDEX":
		return entity.NewIndexAUTOINDEX(metricType)
	default:
		return nil, fmt.Errorf("不支持的索引类型: %s", indexCfg.IndexType)
	}
}

// searchParamFromConfig 根据索引类型构建搜索参数。
func searchParamFromConfig(indexCfg *config.IndexConfig) (entity.SearchParam, error) {
	switch indexCfg.IndexType {
	case "HNSW":
		return entity.NewIndexHNSWSearchParam(64)
	case "IVF_FLAT":
		return entity.NewIndexIvfFlatSearchParam(10)
	case "AUTOINDEX":
		return entity.NewIndexAUTOINDEXSearchParam(1)
	default:
		return nil, fmt.Errorf("不支持的索引类型: %s", indexCfg.IndexType)
	}
}
