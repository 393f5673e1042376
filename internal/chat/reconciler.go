package chat

import (
	"time"

	"go.uber.org/zap"
)

// ApplyResult describes how the reconciler mutated a message list.
type ApplyResult struct {
	// Changed is false when the event was a duplicate or malformed.
	Changed bool
	// Appended is the message added to the list, valid when Changed.
	Appended Message
	// SupersededID is the id of the pending message that was removed in
	// favor of Appended, or zero when no supersession happened.
	SupersededID int
}

// Reconciler folds raw agent events into a canonical per-conversation
// message list. It is the only component that appends agent messages, which
// keeps the dedupe and supersession rules in one place. Applying the same
// event twice is a no-op after the first application, which absorbs
// at-least-once redelivery from the stream.
type Reconciler struct {
	logger *zap.Logger
}

func NewReconciler(logger *zap.Logger) *Reconciler {
	return &Reconciler{logger: logger}
}

// Apply merges ev into list and returns the new list plus what changed.
// Rules, in order: drop malformed events, drop exact duplicates, replace a
// pending message with its final counterpart, otherwise append.
//
// A superseded message does not keep its original position: the final
// message is appended at the end of the list. Presentation-side state keeps
// the visible position stable when the pending message is mid-reveal.
func (r *Reconciler) Apply(list []Message, conversationID int, ev AgentEvent) ([]Message, ApplyResult) {
	if ev.Content == "" {
		r.logger.Warn("Dropping malformed agent event with empty content",
			zap.Int("conversation_id", conversationID),
			zap.String("kind", string(ev.Kind)))
		return list, ApplyResult{}
	}

	for _, m := range list {
		if !m.IsUser && m.Content == ev.Content && m.Kind == ev.Kind && m.TxHash == ev.TxHash {
			return list, ApplyResult{}
		}
	}

	// Highest id so far plus one, not len+1: supersession shrinks the list
	// without freeing its id, and ids must stay unique per conversation.
	nextID := 1
	for _, m := range list {
		if m.ID >= nextID {
			nextID = m.ID + 1
		}
	}

	candidate := Message{
		ID:             nextID,
		ConversationID: conversationID,
		Kind:           ev.Kind,
		Content:        ev.Content,
		TxHash:         ev.TxHash,
		Credits:        ev.Credits,
		PlanDID:        ev.PlanDID,
		Attachments:    ev.Attachments,
		CreatedAt:      time.Now(),
	}

	if candidate.Final() {
		for i, m := range list {
			if !m.IsUser && !m.Final() && m.Content == ev.Content && m.Kind == ev.Kind {
				next := make([]Message, 0, len(list))
				next = append(next, list[:i]...)
				next = append(next, list[i+1:]...)
				next = append(next, candidate)
				return next, ApplyResult{Changed: true, Appended: candidate, SupersededID: m.ID}
			}
		}
	}

	next := make([]Message, len(list), len(list)+1)
	copy(next, list)
	next = append(next, candidate)
	return next, ApplyResult{Changed: true, Appended: candidate}
}
