package models

// LogEntry 定义了用于结构化日志的统一数据格式，
// 方便日志采集、传输与后续的解析、索引和分析。
type LogEntry struct {
	// ServiceName 是产生这条日志的服务或组件的名称，例如 "memory_service"。
	ServiceName string `json:"service_name"`

	// TraceID 用于将同一请求产生的日志串联起来。
	TraceID string `json:"trace_id,omitempty"`

	// UserID 标识与此日志事件相关的用户（如果适用）。
	UserID string `json:"user_id,omitempty"`

	// Error 包含详细的错误信息，通常在日志级别为 Error 或更高时填充。
	Error *ErrorInfo `json:"error,omitempty"`

	// Payload 用于存放其他与业务逻辑相关的结构化数据。
	Payload map[string]interface{} `json:"payload,omitempty"`
}

// ErrorInfo 存储了关于错误的结构化信息。
type ErrorInfo struct {
	Message string `json:"message"`
	Type    string `json:"type,omitempty"` // 错误类别，例如 "decryption_error", "indexing_error"
}
