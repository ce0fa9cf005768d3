// Package types defines the data shared across talkback packages.
//
// Each package keeps its own domain types; the conversation message lives
// here because the assistant, history and chat layers all pass it around.
package types

import "time"

// Role identifies the author of a conversation message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleSystem, RoleUser, RoleAssistant:
		return true
	}
	return false
}

// Message is one entry in the conversation log.
type Message struct {
	// ID is unique per message. Stores assign it when empty.
	ID string `json:"id"`

	// Role is the author of the message.
	Role Role `json:"role"`

	// Content is the raw message text, exactly as entered or received.
	Content string `json:"content"`

	// CreatedAt is when the message was recorded.
	CreatedAt time.Time `json:"created_at"`
}
