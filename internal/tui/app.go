package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/textarea"
	tea "github.com/charmbracelet/bubbletea"

	"swarm-chat/internal/app"
	"swarm-chat/internal/chat"
	"swarm-chat/internal/orchestrator"
)

// Model is the chat surface: a transcript of the active conversation fed by
// registry snapshots, a textarea for the next message and a header carrying
// the credits badge. All conversation state lives in the registry; the model
// only holds the latest snapshot it was handed.
type Model struct {
	app  *app.Application
	keys keyMap

	input         textarea.Model
	snapshot      chat.Snapshot
	conversations []chat.Conversation

	credits      int
	creditsKnown bool
	plan         orchestrator.PlanCost
	planKnown    bool

	sending      bool
	spinnerFrame int
	windowWidth  int
	windowHeight int
}

type refreshMsg struct{}
type sendDoneMsg struct{ err error }
type creditsMsg struct {
	credits int
	ok      bool
}
type planMsg struct {
	cost orchestrator.PlanCost
	ok   bool
}
type spinMsg struct{}

var spinnerChars = []string{"⠋", "⠙", "⠹", "⠸", "⠼", "⠴", "⠦", "⠧", "⠇", "⠏"}

// New creates the chat model.
func New(application *app.Application) *Model {
	ta := textarea.New()
	ta.Placeholder = "Describe the task for the agent swarm..."
	ta.Focus()
	ta.CharLimit = 8000
	ta.SetWidth(80)
	ta.SetHeight(3)
	ta.Prompt = "▍ "
	ta.ShowLineNumbers = false

	return &Model{
		app:          application,
		keys:         defaultKeyMap(),
		input:        ta,
		windowWidth:  80,
		windowHeight: 24,
	}
}

// Run wires the model into a bubbletea program and blocks until it exits.
// Registry and scheduler updates arrive as refresh messages through p.Send,
// so the event-stream goroutines never touch the model directly.
func Run(application *app.Application) error {
	m := New(application)
	p := tea.NewProgram(m, tea.WithAltScreen())
	application.OnUpdate(func() { p.Send(refreshMsg{}) })
	_, err := p.Run()
	return err
}

func (m *Model) Init() tea.Cmd {
	return tea.Batch(textarea.Blink, m.creditsCmd())
}

func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.windowWidth = msg.Width
		m.windowHeight = msg.Height
		m.input.SetWidth(msg.Width - 6)
		return m, nil

	case tea.KeyMsg:
		switch {
		case key.Matches(msg, m.keys.Quit):
			return m, tea.Quit

		case key.Matches(msg, m.keys.Send):
			content := strings.TrimSpace(m.input.Value())
			if content == "" {
				return m, nil
			}
			m.input.Reset()
			m.sending = true
			m.spinnerFrame = 0
			return m, tea.Batch(m.sendCmd(content), m.spinCmd())

		case key.Matches(msg, m.keys.NewChat):
			m.app.Registry.StartNew()
			m.refresh()
			return m, nil

		case key.Matches(msg, m.keys.NextChat):
			m.cycleConversation()
			m.refresh()
			return m, nil
		}

	case refreshMsg:
		before := len(m.snapshot.Messages)
		m.refresh()
		var cmds []tea.Cmd
		if m.snapshot.AwaitingAck {
			cmds = append(cmds, m.ackCmd())
		}
		// A settled transaction or error may have moved the balance.
		if n := len(m.snapshot.Messages); n > before && movesBalance(m.snapshot.Messages[n-1].Kind) {
			cmds = append(cmds, m.creditsCmd())
		}
		return m, tea.Batch(cmds...)

	case sendDoneMsg:
		m.sending = false
		// The send may have moved the balance; refresh the badge either way.
		return m, tea.Batch(m.creditsCmd(), m.planCmd())

	case creditsMsg:
		m.credits = msg.credits
		m.creditsKnown = msg.ok
		return m, nil

	case planMsg:
		m.plan = msg.cost
		m.planKnown = msg.ok
		return m, nil

	case spinMsg:
		if m.sending {
			m.spinnerFrame++
			return m, m.spinCmd()
		}
		return m, nil
	}

	m.input, cmd = m.input.Update(msg)
	cmds = append(cmds, cmd)
	return m, tea.Batch(cmds...)
}

// refresh pulls the latest view state from the registry.
func (m *Model) refresh() {
	m.snapshot = m.app.Registry.Snapshot()
	m.conversations = m.app.Registry.Conversations()
}

func (m *Model) cycleConversation() {
	if len(m.conversations) < 2 {
		return
	}
	active := m.app.Registry.ActiveID()
	for i, conv := range m.conversations {
		if conv.ID == active {
			next := m.conversations[(i+1)%len(m.conversations)]
			m.app.Registry.SetActive(next.ID)
			return
		}
	}
	m.app.Registry.SetActive(m.conversations[0].ID)
}

func (m *Model) sendCmd(content string) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		defer cancel()
		return sendDoneMsg{err: m.app.Send(ctx, content)}
	}
}

// ackCmd confirms that the fully revealed message has been rendered, letting
// the scheduler release the next one.
func (m *Model) ackCmd() tea.Cmd {
	return func() tea.Msg {
		m.app.Registry.PresentationComplete()
		return nil
	}
}

func (m *Model) creditsCmd() tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		credits, err := m.app.CreditBalance(ctx)
		if err != nil {
			return creditsMsg{ok: false}
		}
		return creditsMsg{credits: credits, ok: true}
	}
}

func (m *Model) planCmd() tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		cost, ok := m.app.PlanInfo(ctx)
		return planMsg{cost: cost, ok: ok}
	}
}

func (m *Model) spinCmd() tea.Cmd {
	return tea.Tick(100*time.Millisecond, func(_ time.Time) tea.Msg {
		return spinMsg{}
	})
}

func (m *Model) View() string {
	var b strings.Builder

	b.WriteString(m.renderHeader())
	b.WriteString("\n")
	b.WriteString(m.renderConversationBar())
	b.WriteString("\n\n")
	b.WriteString(m.renderTranscript())
	b.WriteString("\n")

	if m.sending {
		frame := spinnerChars[m.spinnerFrame%len(spinnerChars)]
		b.WriteString(statusStyle.Render(fmt.Sprintf("%s Submitting task...", frame)))
		b.WriteString("\n")
	}

	b.WriteString(inputStyle.Width(m.windowWidth - 4).Render(m.input.View()))
	b.WriteString("\n")
	b.WriteString(helpStyle.Render("enter send | ctrl+n new conversation | shift+tab switch | ctrl+c quit"))

	return b.String()
}

func (m *Model) renderHeader() string {
	title := m.snapshot.Title
	if title == "" {
		title = "New conversation"
	}

	badge := creditsBadgeStyle.Render("credits: --")
	if m.creditsKnown {
		badge = creditsBadgeStyle.Render(fmt.Sprintf("credits: %d", m.credits))
	}
	plan := ""
	if m.planKnown {
		plan = planBadgeStyle.Render(fmt.Sprintf("plan: %s USDC / %d credits", m.plan.PlanPrice, m.plan.PlanCredits))
	}

	left := headerStyle.Render("swarmchat · " + title)
	return left + "  " + badge + plan
}

func (m *Model) renderConversationBar() string {
	if len(m.conversations) == 0 {
		return conversationBarStyle.Render("no conversations yet")
	}
	active := m.snapshot.ConversationID
	parts := make([]string, 0, len(m.conversations))
	for _, conv := range m.conversations {
		title := conv.Title
		if title == "" {
			title = fmt.Sprintf("conversation %d", conv.ID)
		}
		if conv.ID == active {
			parts = append(parts, activeConversationStyle.Render("["+title+"]"))
		} else {
			parts = append(parts, title)
		}
	}
	return conversationBarStyle.Render(strings.Join(parts, "  ·  "))
}

func (m *Model) renderTranscript() string {
	var b strings.Builder
	msgs := m.snapshot.Messages
	for i, msg := range msgs {
		if msg.IsUser {
			b.WriteString(userLabelStyle.Render("you"))
			b.WriteString("\n")
			b.WriteString(userContentStyle.Width(m.windowWidth - 4).Render(msg.Content))
		} else {
			label, style := kindLabel(msg.Kind)
			b.WriteString(style.Bold(true).UnsetPaddingLeft().Render(label))
			b.WriteString("\n")
			content := msg.Content
			if m.snapshot.Revealing && i == len(msgs)-1 {
				content += cursorStyle.Render(" ▍")
			}
			b.WriteString(style.Width(m.windowWidth - 4).Render(content))
			b.WriteString(m.renderAttachments(msg))
		}
		b.WriteString("\n\n")
	}
	return b.String()
}

func movesBalance(k chat.Kind) bool {
	switch k {
	case chat.KindTransaction, chat.KindUserTransaction, chat.KindAgentTransaction,
		chat.KindCostInfo, chat.KindError:
		return true
	}
	return false
}

// renderAttachments lists generated media as labelled links under the message
// body: structured artifacts first, then any bare links the agent wrote into
// a final answer.
func (m *Model) renderAttachments(msg chat.Message) string {
	var b strings.Builder
	if msg.Attachments != nil {
		label := mediaLabel(msg.Attachments.MimeType)
		for _, part := range msg.Attachments.Parts {
			b.WriteString("\n")
			b.WriteString(attachmentStyle.Render(fmt.Sprintf("[%s] %s", label, part)))
		}
	}
	if msg.Kind == chat.KindFinalAnswer {
		for _, u := range chat.ExtractURLs(msg.Content) {
			b.WriteString("\n")
			b.WriteString(attachmentStyle.Render(fmt.Sprintf("[link] %s", u)))
		}
	}
	return b.String()
}

func mediaLabel(mimeType string) string {
	switch {
	case strings.HasPrefix(mimeType, "audio/"):
		return "audio"
	case strings.HasPrefix(mimeType, "image/"):
		return "image"
	case strings.HasPrefix(mimeType, "video/"):
		return "video"
	default:
		return "file"
	}
}
