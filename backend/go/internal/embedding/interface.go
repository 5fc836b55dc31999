package embedding

import "context"

// Embedding 定义了所有 embedding 模型需要实现的接口。
// 实现方保证 EmbedBatch 返回的向量顺序与输入文本顺序一致。
type Embedding interface {
	// Embed 为单个文本生成嵌入向量。
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch 为一批文本生成嵌入向量，结果顺序与输入一致。
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// ModelTag 返回生成向量的模型标识。不同模型产出的向量不可比较，
	// 该标识随向量一起落库。
	ModelTag() string
}

// ModelType 是一个枚举类型，用于表示不同的模型厂商。
type ModelType string

const (
	OpenAI ModelType = "openai" // OpenAI 模型类型。
	Google ModelType = "gemini" // Google Gemini 模型类型。
	Ollama ModelType = "ollama" // Ollama 模型类型。
)
