package chat

import "encoding/json"

// AgentEvent is one record pushed by the orchestrator for a task, already
// decoded from its wire envelope. Delivery is at-least-once and may be out
// of order; the reconciler absorbs both.
type AgentEvent struct {
	Content     string
	Kind        Kind
	TxHash      string
	Credits     int
	PlanDID     string
	Attachments *Attachments
}

// wireEvent mirrors the JSON envelope of the event stream.
type wireEvent struct {
	Content   string       `json:"content"`
	Type      string       `json:"type"`
	TxHash    string       `json:"txHash"`
	Credits   int          `json:"credits"`
	PlanDID   string       `json:"planDid"`
	Artifacts *Attachments `json:"artifacts"`
}

// DecodeEvent parses a raw stream payload into an AgentEvent. The decode is
// done once at the adapter boundary; unknown type tags default to the answer
// kind instead of failing. Only malformed JSON returns an error, and callers
// drop such payloads rather than raising them.
func DecodeEvent(data []byte) (AgentEvent, error) {
	var w wireEvent
	if err := json.Unmarshal(data, &w); err != nil {
		return AgentEvent{}, err
	}
	return AgentEvent{
		Content:     w.Content,
		Kind:        ParseKind(w.Type),
		TxHash:      w.TxHash,
		Credits:     w.Credits,
		PlanDID:     w.PlanDID,
		Attachments: w.Artifacts,
	}, nil
}

// EventSource is a push-style subscription to a remote task's event stream.
// Implementations guarantee that onEvent is never invoked after the returned
// cancel function returns, and that connection errors close the subscription
// silently instead of surfacing to the caller.
type EventSource interface {
	Subscribe(taskID string, onEvent func(AgentEvent)) (cancel func(), err error)
}
