package models

import (
	"encoding/json"
	"time"
)

// Role indicates the message author type.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// MessageType classifies the origin of an interaction.
type MessageType string

const (
	MessageTypeText  MessageType = "text"
	MessageTypeAudio MessageType = "audio"
	MessageTypeImage MessageType = "image"
	MessageTypeAgent MessageType = "agent"
)

// Message is the unit of conversation history and of LLM exchanges.
// Persisted messages carry only Role and Content; the tool-call fields
// exist transiently inside the tool loop.
type Message struct {
	ID             int64      `json:"id,omitempty"`
	ConversationID int64      `json:"conversation_id,omitempty"`
	Role           Role       `json:"role"`
	Content        string     `json:"content"`
	ToolCalls      []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID     string     `json:"tool_call_id,omitempty"`
	CreatedAt      time.Time  `json:"created_at,omitempty"`
}

// InboundMessage is a normalized webhook delivery.
type InboundMessage struct {
	ExternalID string      `json:"external_id"`
	From       string      `json:"from"`
	Text       string      `json:"text"`
	Type       MessageType `json:"type"`
	Timestamp  time.Time   `json:"timestamp"`
}

// ToolCall is a tool invocation requested by the model.
type ToolCall struct {
	ID    string          `json:"id"`
	Name  string          `json:"name"`
	Input json.RawMessage `json:"input"`
}

// ToolResult is the outcome of executing a tool call. Errors are values
// here: IsError marks a failed execution whose Content is the error text
// handed back to the model as an observation.
type ToolResult struct {
	ToolCallID string `json:"tool_call_id"`
	Content    string `json:"content"`
	IsError    bool   `json:"is_error,omitempty"`
}

// Conversation groups the messages of one user handle.
type Conversation struct {
	ID        int64     `json:"id"`
	Handle    string    `json:"handle"`
	CreatedAt time.Time `json:"created_at"`
}
