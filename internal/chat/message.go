package chat

import (
	"strings"
	"time"
)

// Kind classifies a transcript message and determines how the view renders
// it (bubble style, collapse/group behavior, media handling).
type Kind string

const (
	KindReasoning        Kind = "reasoning"
	KindAnswer           Kind = "answer"
	KindFinalAnswer      Kind = "final-answer"
	KindTransaction      Kind = "transaction"
	KindUserTransaction  Kind = "user-transaction"
	KindAgentTransaction Kind = "agent-transaction"
	KindError            Kind = "error"
	KindWarning          Kind = "warning"
	KindAgentCall        Kind = "agent-call"
	KindCostInfo         Kind = "cost-info"
)

// ParseKind maps a wire type tag onto the closed Kind set. It is total:
// unknown tags fall back to KindAnswer rather than rejecting the event.
func ParseKind(tag string) Kind {
	switch tag {
	case "reasoning":
		return KindReasoning
	case "answer":
		return KindAnswer
	case "final-answer":
		return KindFinalAnswer
	case "transaction":
		return KindTransaction
	case "nvm-transaction-user", "user-transaction":
		return KindUserTransaction
	case "nvm-transaction-agent", "agent-transaction":
		return KindAgentTransaction
	case "error":
		return KindError
	case "warning":
		return KindWarning
	case "callAgent", "agent-call":
		return KindAgentCall
	case "usd-info", "cost-info":
		return KindCostInfo
	default:
		return KindAnswer
	}
}

// Attachments carries structured media returned by the agent (generated
// songs, images, clips) as a mime type plus ordered resource locators.
type Attachments struct {
	MimeType string   `json:"mimeType"`
	Parts    []string `json:"parts"`
}

// Message is the atomic unit of a conversation transcript. IDs are assigned
// locally at reconciliation time and are unique within one conversation; the
// remote source never supplies them.
type Message struct {
	ID             int
	ConversationID int
	IsUser         bool
	Kind           Kind
	Content        string
	TxHash         string
	Credits        int
	PlanDID        string
	Attachments    *Attachments
	CreatedAt      time.Time
}

// Final reports whether the message carries an on-chain transaction hash.
// A final message can supersede a pending one with the same content and kind.
func (m Message) Final() bool {
	return m.TxHash != ""
}

// Conversation groups messages under a title and an optional remote task id.
// Conversations are never deleted in-session; switching away keeps the
// message list as a background snapshot.
type Conversation struct {
	ID        int
	Title     string
	TaskID    string
	CreatedAt time.Time
}

// ExtractURLs pulls http(s) links out of free-form message content, for
// renderers that show generated media inline. Trailing punctuation that the
// agent's prose attaches to a link is stripped.
func ExtractURLs(content string) []string {
	var out []string
	for _, field := range strings.Fields(content) {
		if !strings.HasPrefix(field, "http://") && !strings.HasPrefix(field, "https://") {
			continue
		}
		out = append(out, strings.TrimRight(field, ".,;:)]}\"'"))
	}
	return out
}

const titleTruncateLen = 30

// TruncateTitle derives the provisional conversation title from the first
// user message. A synthesized title may replace it later.
func TruncateTitle(content string) string {
	if len(content) <= titleTruncateLen {
		return content
	}
	return content[:titleTruncateLen] + "..."
}
