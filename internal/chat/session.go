// Package chat implements the session registry for the proxied chat
// upstream: nonce handshake, session continuation, and idle expiry.
package chat

import (
	"time"
)

// Session is the registry payload for one live conversation. The nonce is
// the upstream credential every message in the session must carry.
type Session struct {
	SessionID      string `json:"session_id"`
	ConversationID string `json:"conversation_id"`
	Nonce          string `json:"-"`
	Model          string `json:"model"`
	MessageCount   int    `json:"message_count"`
	Persona        bool   `json:"persona,omitempty"`
}

// SessionInfo is returned from session initialization.
type SessionInfo struct {
	SessionID      string `json:"session_id"`
	ConversationID string `json:"conversation_id"`
	Model          string `json:"model"`
	Greeting       string `json:"greeting"`
	Persona        bool   `json:"persona,omitempty"`
}

// SessionSummary is one row of the active-session listing.
type SessionSummary struct {
	SessionID    string    `json:"id"`
	Model        string    `json:"model"`
	LastActivity time.Time `json:"last_activity"`
	AgeSeconds   int       `json:"age_seconds"`
	MessageCount int       `json:"message_count"`
}

// Reply is the result of sending one message.
type Reply struct {
	Text           string `json:"reply"`
	SessionID      string `json:"session_id,omitempty"`
	ConversationID string `json:"conversation_id,omitempty"`
	Model          string `json:"model"`
	MessageCount   int    `json:"messages_in_session,omitempty"`
}

// Registry defaults.
const (
	DefaultIdleMax = 30 * time.Minute
	DefaultModel   = "grok"
)

// DefaultModels maps allow-listed model names to the upstream bot IDs the
// chat plugin expects in its form posts.
func DefaultModels() map[string]string {
	return map[string]string{
		"gpt-4o-mini": "25865",
		"gpt-5-nano":  "25871",
		"gemini":      "25874",
		"deepseek":    "25873",
		"claude":      "25875",
		"grok":        "25872",
		"meta-ai":     "25870",
		"qwen":        "25869",
	}
}
