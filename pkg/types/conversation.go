// Package types defines core data structures for personachat
package types

// DefaultConversationID is used when a request carries no conversation id
const DefaultConversationID = "default"

// Role represents the role of a message sender
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// String returns the wire name of the role
func (r Role) String() string {
	return string(r)
}

// IsValid reports whether r is one of the known roles
func (r Role) IsValid() bool {
	switch r {
	case RoleUser, RoleAssistant, RoleSystem:
		return true
	}
	return false
}

// Turn is one role-tagged message in a conversation history
type Turn struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// UserTurn builds a turn authored by the user
func UserTurn(content string) Turn {
	return Turn{Role: RoleUser, Content: content}
}

// AssistantTurn builds a turn authored by the model
func AssistantTurn(content string) Turn {
	return Turn{Role: RoleAssistant, Content: content}
}

// SystemTurn builds a system instruction turn
func SystemTurn(content string) Turn {
	return Turn{Role: RoleSystem, Content: content}
}
