package types

import "strings"

// Role tags one turn of a chat transcript.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one role-tagged turn sent to a completion backend.
type Message struct {
	Role    Role
	Content string
}

// System, User and Assistant build single turns.
func System(content string) Message    { return Message{Role: RoleSystem, Content: content} }
func User(content string) Message      { return Message{Role: RoleUser, Content: content} }
func Assistant(content string) Message { return Message{Role: RoleAssistant, Content: content} }

// Completion is the normalized provider response payload.
type Completion struct {
	Text     string
	Metadata CompletionMetadata
}

// CompletionMetadata carries provider/model identity and optional usage accounting.
type CompletionMetadata struct {
	Provider     string
	Model        string
	FinishReason string
	Usage        *TokenUsage
}

// TokenUsage captures token accounting across providers.
type TokenUsage struct {
	InputTokens     int64
	OutputTokens    int64
	TotalTokens     int64
	ReasoningTokens int64
	CacheReadTokens int64
}

// IsZero reports whether all token counters are unset/zero.
func (u TokenUsage) IsZero() bool {
	return u.InputTokens == 0 &&
		u.OutputTokens == 0 &&
		u.TotalTokens == 0 &&
		u.ReasoningTokens == 0 &&
		u.CacheReadTokens == 0
}

// LastUserIndex returns the index of the final user turn, or -1.
func LastUserIndex(messages []Message) int {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == RoleUser && strings.TrimSpace(messages[i].Content) != "" {
			return i
		}
	}

	return -1
}
