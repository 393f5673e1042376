package orchestrator

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"swarm-chat/internal/chat"
)

// RouteAction is the credit-gate router's verdict on a user message.
type RouteAction string

const (
	// ActionForward sends the message on to the agent.
	ActionForward RouteAction = "forward"
	// ActionNoCredit blocks the message for lack of balance.
	ActionNoCredit RouteAction = "no_credit"
	// ActionOrderPlan is a request to purchase plan credits.
	ActionOrderPlan RouteAction = "order_plan"
	// ActionNoAction answers conversationally without creating a task.
	ActionNoAction RouteAction = "no_action"
)

// RouteDecision pairs the action with an optional reply to show the user.
type RouteDecision struct {
	Action  RouteAction `json:"action"`
	Message string      `json:"message"`
}

type historyEntry struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

func toHistory(msgs []chat.Message) []historyEntry {
	out := make([]historyEntry, 0, len(msgs))
	for _, m := range msgs {
		role := "assistant"
		if m.IsUser {
			role = "user"
		}
		out = append(out, historyEntry{Role: role, Content: m.Content})
	}
	return out
}

// Route asks the credit-gate router what to do with a user message before
// submission. Network or parse failure falls back to forwarding: a broken
// gate must never block the send operation.
func (c *Client) Route(ctx context.Context, message string, history []chat.Message) RouteDecision {
	var out RouteDecision
	err := c.postJSON(ctx, "/api/llm-router", map[string]any{
		"message": message,
		"history": toHistory(history),
	}, &out)
	if err != nil {
		c.logger.Warn("Credit-gate routing failed, forwarding as-is", zap.Error(err))
		return RouteDecision{Action: ActionForward}
	}
	switch out.Action {
	case ActionForward, ActionNoCredit, ActionOrderPlan, ActionNoAction:
		return out
	default:
		return RouteDecision{Action: ActionForward}
	}
}

// SummarizeTitle asks for a short conversation title. On any failure it
// falls back to a truncation of the user's text.
func (c *Client) SummarizeTitle(ctx context.Context, input string, history []chat.Message) string {
	var out struct {
		Title string `json:"title"`
	}
	err := c.postJSON(ctx, "/api/title/summarize", map[string]any{
		"input":   input,
		"history": toHistory(history),
	}, &out)
	if err != nil || strings.TrimSpace(out.Title) == "" {
		if err != nil {
			c.logger.Warn("Title synthesis failed, using truncated input", zap.Error(err))
		}
		return chat.TruncateTitle(input)
	}
	return strings.TrimSpace(out.Title)
}

// SynthesizeIntent condenses the conversation so far into the single query
// submitted to the orchestrator. On failure the user's original text is
// used unchanged.
func (c *Client) SynthesizeIntent(ctx context.Context, input string, history []chat.Message) string {
	var out struct {
		Intent string `json:"intent"`
	}
	err := c.postJSON(ctx, "/api/intent/synthesize", map[string]any{
		"input":   input,
		"history": toHistory(history),
	}, &out)
	if err != nil || strings.TrimSpace(out.Intent) == "" {
		if err != nil {
			c.logger.Warn("Intent synthesis failed, using raw input", zap.Error(err))
		}
		return input
	}
	return strings.TrimSpace(out.Intent)
}
