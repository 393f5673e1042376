package tui

import (
	"github.com/charmbracelet/lipgloss"

	"swarm-chat/internal/chat"
)

// Colors - shared palette across the chat surface
const (
	colorBg        = "#0F172A" // Slate 900
	colorBgCard    = "#1E293B" // Slate 800
	colorFg        = "#F8FAFC" // Slate 50
	colorFgMuted   = "#94A3B8" // Slate 400
	colorPrimary   = "#3B82F6" // Blue 500
	colorSecondary = "#8B5CF6" // Purple 500
	colorAccent    = "#06B6D4" // Cyan 500
	colorSuccess   = "#10B981" // Emerald 500
	colorWarning   = "#F59E0B" // Amber 500
	colorError     = "#EF4444" // Red 500
	colorBorder    = "#334155" // Slate 700
)

var (
	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color(colorFg)).
			Background(lipgloss.Color(colorBgCard)).
			Padding(0, 2)

	creditsBadgeStyle = lipgloss.NewStyle().
				Bold(true).
				Foreground(lipgloss.Color(colorBg)).
				Background(lipgloss.Color(colorSuccess)).
				Padding(0, 1)

	planBadgeStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color(colorFgMuted)).
			Padding(0, 1)

	conversationBarStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color(colorFgMuted)).
				Padding(0, 2)

	activeConversationStyle = lipgloss.NewStyle().
				Bold(true).
				Foreground(lipgloss.Color(colorPrimary))

	userLabelStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color(colorPrimary))

	userContentStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color(colorFg)).
				PaddingLeft(2)

	reasoningStyle = lipgloss.NewStyle().
			Italic(true).
			Foreground(lipgloss.Color(colorFgMuted)).
			PaddingLeft(2)

	answerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color(colorFg)).
			PaddingLeft(2)

	finalAnswerStyle = lipgloss.NewStyle().
				Bold(true).
				Foreground(lipgloss.Color(colorSuccess)).
				PaddingLeft(2)

	transactionStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color(colorAccent)).
				PaddingLeft(2)

	agentCallStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color(colorSecondary)).
			PaddingLeft(2)

	costInfoStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color(colorFgMuted)).
			PaddingLeft(2)

	warningStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color(colorWarning)).
			PaddingLeft(2)

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color(colorError)).
			PaddingLeft(2)

	attachmentStyle = lipgloss.NewStyle().
			Underline(true).
			Foreground(lipgloss.Color(colorAccent)).
			PaddingLeft(4)

	cursorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color(colorPrimary))

	inputStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color(colorBorder)).
			Padding(0, 1)

	statusStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color(colorFgMuted)).
			Padding(0, 2)

	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color(colorFgMuted)).
			Padding(0, 2)
)

// kindLabel maps a message kind to the label and style used for its bubble.
func kindLabel(k chat.Kind) (string, lipgloss.Style) {
	switch k {
	case chat.KindReasoning:
		return "thinking", reasoningStyle
	case chat.KindFinalAnswer:
		return "agent", finalAnswerStyle
	case chat.KindTransaction, chat.KindUserTransaction, chat.KindAgentTransaction:
		return "transaction", transactionStyle
	case chat.KindAgentCall:
		return "sub-agent", agentCallStyle
	case chat.KindCostInfo:
		return "cost", costInfoStyle
	case chat.KindWarning:
		return "warning", warningStyle
	case chat.KindError:
		return "error", errorStyle
	default:
		return "agent", answerStyle
	}
}
