// Package llm defines the chat completion contract the agent pipeline
// depends on, plus an HTTP client for OpenAI-compatible providers.
//
// The agent only ever needs one operation: send an ordered message list,
// get text back. Every backend is adapted to this single interface at the
// boundary instead of branching on client capabilities at call sites.
package llm

import "context"

// Role is a chat message role.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one entry in the ordered prompt list.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// System returns a system-role message.
func System(content string) Message { return Message{Role: RoleSystem, Content: content} }

// User returns a user-role message.
func User(content string) Message { return Message{Role: RoleUser, Content: content} }

// Assistant returns an assistant-role message.
func Assistant(content string) Message { return Message{Role: RoleAssistant, Content: content} }

// Client is the single-method LLM contract.
type Client interface {
	// Complete sends the assembled messages and returns the response text.
	Complete(ctx context.Context, messages []Message) (string, error)
}
