package chat

import (
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
)

type conversationState struct {
	conv     Conversation
	messages []Message
	// restored marks a conversation re-opened from the in-session history:
	// its messages render in full with no re-typing.
	restored bool
	// baselineID is the highest message id that existed when the
	// conversation last became active; those messages are always visible.
	baselineID int
	// unsubscribe tears down the event subscription, when one was opened.
	unsubscribe func()
}

// Registry owns every conversation tracked in the session and the single
// notion of which one the view shows. Conversation identity is
// task-identity-addressed once a remote task id is bound: late events find
// their conversation by task id, never by "whatever is active now".
//
// The registry is the sole writer of conversation state. Its mutex makes
// event-stream goroutines, the send path and the view loop safe against
// each other; the scheduler has its own lock and is always acquired second.
type Registry struct {
	mu         sync.Mutex
	logger     *zap.Logger
	reconciler *Reconciler
	scheduler  *Scheduler

	conversations map[int]*conversationState
	nextID        int
	activeID      int

	onUpdate func()
}

func NewRegistry(reconciler *Reconciler, scheduler *Scheduler, logger *zap.Logger) *Registry {
	return &Registry{
		logger:        logger,
		reconciler:    reconciler,
		scheduler:     scheduler,
		conversations: make(map[int]*conversationState),
		nextID:        1,
	}
}

// OnUpdate registers the callback pinged after any visible mutation. It runs
// without the registry lock held.
func (g *Registry) OnUpdate(fn func()) {
	g.mu.Lock()
	g.onUpdate = fn
	g.mu.Unlock()
}

// StartNew allocates an empty conversation with no remote task and makes it
// active.
func (g *Registry) StartNew() Conversation {
	g.mu.Lock()
	id := g.nextID
	g.nextID++
	st := &conversationState{
		conv: Conversation{ID: id, CreatedAt: time.Now()},
	}
	g.conversations[id] = st
	g.setActiveLocked(id)
	conv := st.conv
	g.mu.Unlock()
	g.ping()
	return conv
}

// SetActive switches the view to the given conversation, or clears it when
// id is zero. The outgoing conversation keeps its message list and any open
// subscription; it merely loses the right to animate into the view. The
// incoming conversation is restored with all content shown instantly.
func (g *Registry) SetActive(id int) {
	g.mu.Lock()
	g.setActiveLocked(id)
	g.mu.Unlock()
	g.ping()
}

func (g *Registry) setActiveLocked(id int) {
	if id != 0 {
		if _, ok := g.conversations[id]; !ok {
			g.logger.Warn("Ignoring switch to unknown conversation", zap.Int("conversation_id", id))
			return
		}
	}
	g.scheduler.Cancel()
	g.activeID = id
	if id == 0 {
		return
	}
	st := g.conversations[id]
	if len(st.messages) > 0 {
		st.restored = true
		st.baselineID = st.messages[len(st.messages)-1].ID
	} else {
		st.restored = false
		st.baselineID = 0
	}
}

// ActiveID returns the active conversation id, zero when none is shown.
func (g *Registry) ActiveID() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.activeID
}

// AppendUser appends a locally authored message to the conversation and
// presents it immediately. It returns the stored message.
func (g *Registry) AppendUser(conversationID int, content string) (Message, bool) {
	g.mu.Lock()
	st, ok := g.conversations[conversationID]
	if !ok {
		g.mu.Unlock()
		return Message{}, false
	}
	nextID := 1
	if n := len(st.messages); n > 0 {
		nextID = st.messages[n-1].ID + 1
	}
	msg := Message{
		ID:             nextID,
		ConversationID: conversationID,
		IsUser:         true,
		Kind:           KindAnswer,
		Content:        content,
		CreatedAt:      time.Now(),
	}
	st.messages = append(st.messages, msg)
	if st.conv.Title == "" {
		st.conv.Title = TruncateTitle(content)
	}
	active := g.activeID == conversationID
	g.mu.Unlock()

	if active {
		g.scheduler.Enqueue(msg)
	}
	g.ping()
	return msg, true
}

// AppendLocal appends a locally synthesized agent-side message (credit-gate
// denial, plan purchase result, burn cost info) through the reconciler, so
// the same dedupe rules apply as for remote events.
func (g *Registry) AppendLocal(conversationID int, ev AgentEvent) {
	g.applyEvent(conversationID, ev)
}

// BindTask associates a conversation with the remote task created for it and
// stores the subscription teardown. Called at most once per conversation.
func (g *Registry) BindTask(conversationID int, taskID string, unsubscribe func()) {
	g.mu.Lock()
	st, ok := g.conversations[conversationID]
	if ok {
		st.conv.TaskID = taskID
		st.unsubscribe = unsubscribe
	}
	g.mu.Unlock()
	if !ok {
		g.logger.Warn("BindTask for unknown conversation",
			zap.Int("conversation_id", conversationID),
			zap.String("task_id", taskID))
	}
}

// HandleTaskEvent routes a stream event to the conversation that owns the
// task, whether or not that conversation is the active one. Events for a
// backgrounded conversation are reconciled into its stored list but never
// animated into the view.
func (g *Registry) HandleTaskEvent(taskID string, ev AgentEvent) {
	g.mu.Lock()
	var target int
	for id, st := range g.conversations {
		if st.conv.TaskID == taskID {
			target = id
			break
		}
	}
	g.mu.Unlock()

	if target == 0 {
		g.logger.Warn("Dropping event for unclaimed task", zap.String("task_id", taskID))
		return
	}
	g.applyEvent(target, ev)
}

func (g *Registry) applyEvent(conversationID int, ev AgentEvent) {
	g.mu.Lock()
	st, ok := g.conversations[conversationID]
	if !ok {
		g.mu.Unlock()
		g.logger.Warn("Dropping event for unknown conversation", zap.Int("conversation_id", conversationID))
		return
	}
	next, res := g.reconciler.Apply(st.messages, conversationID, ev)
	st.messages = next
	active := g.activeID == conversationID
	g.mu.Unlock()

	if !res.Changed {
		return
	}
	if active {
		if res.SupersededID != 0 {
			if !g.scheduler.Supersede(res.SupersededID, res.Appended) {
				// Pending version already presented and advanced; show the
				// final message as its own queue entry.
				g.scheduler.Enqueue(res.Appended)
			}
		} else {
			g.scheduler.Enqueue(res.Appended)
		}
	}
	g.ping()
}

// SetTitle replaces the conversation title, typically with a synthesized one.
func (g *Registry) SetTitle(conversationID int, title string) {
	if title == "" {
		return
	}
	g.mu.Lock()
	if st, ok := g.conversations[conversationID]; ok {
		st.conv.Title = title
	}
	g.mu.Unlock()
	g.ping()
}

// Conversations lists all tracked conversations, most recent first.
func (g *Registry) Conversations() []Conversation {
	g.mu.Lock()
	out := make([]Conversation, 0, len(g.conversations))
	for _, st := range g.conversations {
		out = append(out, st.conv)
	}
	g.mu.Unlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

// MessagesFor returns a copy of the conversation's canonical message list,
// including messages not yet released to the view.
func (g *Registry) MessagesFor(conversationID int) []Message {
	g.mu.Lock()
	defer g.mu.Unlock()
	st, ok := g.conversations[conversationID]
	if !ok {
		return nil
	}
	out := make([]Message, len(st.messages))
	copy(out, st.messages)
	return out
}

// TaskFor returns the remote task id bound to the conversation, if any.
func (g *Registry) TaskFor(conversationID int) string {
	g.mu.Lock()
	defer g.mu.Unlock()
	if st, ok := g.conversations[conversationID]; ok {
		return st.conv.TaskID
	}
	return ""
}

// Snapshot is what the view renders for the active conversation: the
// released messages in list order, with the in-flight message truncated to
// its revealed prefix.
type Snapshot struct {
	ConversationID int
	Title          string
	Messages       []Message
	Revealing      bool
	AwaitingAck    bool
}

// Snapshot builds the current view state. Messages that the scheduler has
// not yet released stay hidden; a restored conversation shows everything up
// to its baseline instantly.
func (g *Registry) Snapshot() Snapshot {
	g.mu.Lock()
	id := g.activeID
	if id == 0 {
		g.mu.Unlock()
		return Snapshot{}
	}
	st := g.conversations[id]
	msgs := make([]Message, len(st.messages))
	copy(msgs, st.messages)
	title := st.conv.Title
	restored := st.restored
	baseline := st.baselineID
	g.mu.Unlock()

	cur, revealing := g.scheduler.Current()
	out := make([]Message, 0, len(msgs))
	for _, m := range msgs {
		switch {
		case m.IsUser,
			restored && m.ID <= baseline,
			g.scheduler.Released(id, m.ID):
			if revealing && cur.ConversationID == id && cur.MessageID == m.ID && cur.Phase == PhaseRevealing {
				m.Content = cur.Visible
			}
			out = append(out, m)
		}
	}
	return Snapshot{
		ConversationID: id,
		Title:          title,
		Messages:       out,
		Revealing:      revealing && cur.Phase == PhaseRevealing,
		AwaitingAck:    g.scheduler.AwaitingAck(),
	}
}

// PresentationComplete forwards the view's acknowledgement to the scheduler.
func (g *Registry) PresentationComplete() {
	g.scheduler.PresentationComplete()
}

// Close tears down every open subscription. Teardown functions are
// idempotent, so calling Close more than once is safe.
func (g *Registry) Close() {
	g.mu.Lock()
	var cancels []func()
	for _, st := range g.conversations {
		if st.unsubscribe != nil {
			cancels = append(cancels, st.unsubscribe)
			st.unsubscribe = nil
		}
	}
	g.mu.Unlock()
	for _, cancel := range cancels {
		cancel()
	}
	g.scheduler.Cancel()
}

func (g *Registry) ping() {
	g.mu.Lock()
	fn := g.onUpdate
	g.mu.Unlock()
	if fn != nil {
		fn()
	}
}
