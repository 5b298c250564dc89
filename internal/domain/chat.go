package domain

// ChatMessage is the provider-agnostic chat message shape used by the
// pipeline and LLM integrations.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Completion is one backend call's reply together with the backend-reported
// total token usage for that same call.
type Completion struct {
	Text        string
	TotalTokens int
}

// CompletionRequest is a single chat-completion call. Zero MaxTokens leaves
// the backend default in place; a nil Temperature does the same.
type CompletionRequest struct {
	Messages    []ChatMessage
	MaxTokens   int
	Temperature *float64
}
