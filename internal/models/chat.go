package models

// Role - роль автора сообщения в окне запроса.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// ChatMessage - одно сообщение чата, отправляемое сервису completion.
type ChatMessage struct {
	Role    Role   `json:"role" binding:"required,oneof=system user assistant"`
	Content string `json:"content"`
}
