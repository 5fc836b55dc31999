package models

import (
	"fmt"
	"time"
)

// Conversation 是会话存储（外部服务）中的一条对话记录。
// 记忆核心只读取它作为抽取输入和 source_reference 的弱引用目标。
type Conversation struct {
	ID            string    `bson:"_id" json:"id"`
	UserID        string    `bson:"user_id" json:"user_id"`
	UserInput     string    `bson:"user_input" json:"user_input"`
	AgentResponse string    `bson:"agent_response" json:"agent_response"`
	CreatedAt     time.Time `bson:"created_at" json:"created_at"`
}

// Text 拼接出分类器使用的对话文本。
func (c *Conversation) Text() string {
	return fmt.Sprintf("User: %s\nAssistant: %s", c.UserInput, c.AgentResponse)
}
