package models

import "errors"

// 记忆核心的错误分类。调用方通过 errors.Is 判断类别，
// 具体上下文由各层用 fmt.Errorf("...: %w", err) 包装补充。
var (
	// ErrKeyDerivation 表示密钥派生的输入非法（主密钥或用户输入为空/畸形）。
	// 对本次调用是致命的，不可重试。
	ErrKeyDerivation = errors.New("key derivation failed")

	// ErrDecryption 表示认证解密失败：密文不是在这组 (user_id, user_secret)
	// 的派生密钥下产生的，或 sensitive 标记与加密方式不符。
	// 绝不返回部分或错误的明文。
	ErrDecryption = errors.New("decryption failed")

	// ErrEmbedding 表示 Embedding 提供方调用失败，调用方可重试。
	ErrEmbedding = errors.New("embedding provider failed")

	// ErrIndexing 表示事实记录已落库之后向量索引写入失败，
	// 单独暴露以便调用方做补偿，而不是与普通创建失败混为一谈。
	ErrIndexing = errors.New("vector index write failed")

	// ErrNotFound 统一覆盖"不存在"和"属于其他用户"两种情况，
	// 避免跨用户泄露存在性。
	ErrNotFound = errors.New("fact not found")

	// ErrValidation 表示候选事实或更新输入结构不合法。
	ErrValidation = errors.New("validation failed")
)
