package chat

import (
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Phase tracks a queued message through its presentation lifecycle.
type Phase int

const (
	PhasePending Phase = iota
	PhaseRevealing
	PhaseComplete
	PhaseAwaitingSideEffect
	PhaseDone
)

// DefaultRevealInterval is the pause between revealed words, matching the
// pacing a human needs to follow a staggered conversation.
const DefaultRevealInterval = 50 * time.Millisecond

type queuedMessage struct {
	msg     Message
	tokens  []string
	pos     int
	phase   Phase
	instant bool
}

// Scheduler releases reconciled messages to the view one at a time, typing
// agent messages word by word and showing user messages immediately. At most
// one message is ever in PhaseRevealing, regardless of how quickly events
// arrive: a burst of five events is still read out sequentially.
//
// The scheduler owns all presentation state. The registry consults it when
// building view snapshots and never the other way around, so lock order is
// always registry before scheduler.
type Scheduler struct {
	mu       sync.Mutex
	interval time.Duration
	logger   *zap.Logger

	queue   []*queuedMessage
	current *queuedMessage
	timer   *time.Timer
	gen     int

	// released records which message ids of each conversation have finished
	// (or begun) presentation. It survives Cancel so a conversation keeps
	// its visible history while active.
	released map[int]map[int]bool

	// autoAdvance makes the scheduler acknowledge its own completions, for
	// headless use where no view calls PresentationComplete.
	autoAdvance bool

	notify     func()
	onComplete func(Message)
}

// SchedulerOption configures a Scheduler.
type SchedulerOption func(*Scheduler)

// WithRevealInterval overrides the pause between revealed words. A zero or
// negative interval reveals each message in full as soon as it is released.
func WithRevealInterval(d time.Duration) SchedulerOption {
	return func(s *Scheduler) { s.interval = d }
}

// WithAutoAdvance makes completed presentations acknowledge themselves
// instead of waiting for the view.
func WithAutoAdvance() SchedulerOption {
	return func(s *Scheduler) { s.autoAdvance = true }
}

// WithNotify registers the callback pinged whenever visible state changes.
// The callback runs without scheduler locks held and must not block.
func WithNotify(fn func()) SchedulerOption {
	return func(s *Scheduler) { s.notify = fn }
}

// WithCompletionHook registers the side-effect hook invoked once per agent
// message after its presentation is acknowledged. It runs on its own
// goroutine; the queue advances without waiting for it.
func WithCompletionHook(fn func(Message)) SchedulerOption {
	return func(s *Scheduler) { s.onComplete = fn }
}

func NewScheduler(logger *zap.Logger, opts ...SchedulerOption) *Scheduler {
	s := &Scheduler{
		interval: DefaultRevealInterval,
		logger:   logger,
		released: make(map[int]map[int]bool),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Enqueue adds a reconciled message to the strictly FIFO presentation queue.
// User messages pass through instantly; agent messages wait their turn.
func (s *Scheduler) Enqueue(msg Message) {
	s.mu.Lock()
	item := &queuedMessage{
		msg:     msg,
		tokens:  strings.Fields(msg.Content),
		instant: msg.IsUser,
	}
	s.queue = append(s.queue, item)
	if s.current == nil {
		s.startNextLocked()
	}
	s.mu.Unlock()
	s.ping()
}

// EnqueueInstant releases a message in full with no typing animation, used
// for locally injected transcript entries that were already "typed" by the
// system (warnings, cost info) when no animation is wanted.
func (s *Scheduler) EnqueueInstant(msg Message) {
	s.mu.Lock()
	item := &queuedMessage{
		msg:     msg,
		tokens:  strings.Fields(msg.Content),
		instant: true,
	}
	s.queue = append(s.queue, item)
	if s.current == nil {
		s.startNextLocked()
	}
	s.mu.Unlock()
	s.ping()
}

// PresentationComplete is called by the view once the current message's full
// content has been rendered. It moves the message through its side-effect
// transition and releases the next queued message.
func (s *Scheduler) PresentationComplete() {
	s.mu.Lock()
	cur := s.current
	if cur == nil || cur.phase != PhaseComplete {
		s.mu.Unlock()
		return
	}
	s.advanceLocked(cur)
	s.mu.Unlock()
	s.ping()
}

// advanceLocked runs the Complete -> AwaitingSideEffect -> Done transitions
// for cur and starts the next queued message.
func (s *Scheduler) advanceLocked(cur *queuedMessage) {
	if s.onComplete != nil && !cur.msg.IsUser {
		cur.phase = PhaseAwaitingSideEffect
		go s.onComplete(cur.msg)
	}
	cur.phase = PhaseDone
	s.current = nil
	s.startNextLocked()
}

func (s *Scheduler) startNextLocked() {
	for len(s.queue) > 0 {
		item := s.queue[0]
		s.queue = s.queue[1:]
		s.current = item
		s.markReleasedLocked(item.msg)

		if item.instant || s.interval <= 0 || len(item.tokens) == 0 {
			item.pos = len(item.tokens)
			item.phase = PhaseComplete
			if item.instant || s.autoAdvance {
				s.advanceLocked(item)
				if s.current != nil {
					return
				}
				continue
			}
			return
		}

		item.phase = PhaseRevealing
		item.pos = 1
		s.armTimerLocked()
		return
	}
	s.current = nil
}

func (s *Scheduler) armTimerLocked() {
	gen := s.gen
	s.timer = time.AfterFunc(s.interval, func() { s.tick(gen) })
}

func (s *Scheduler) tick(gen int) {
	s.mu.Lock()
	if gen != s.gen || s.current == nil || s.current.phase != PhaseRevealing {
		s.mu.Unlock()
		return
	}
	cur := s.current
	cur.pos++
	if cur.pos >= len(cur.tokens) {
		cur.pos = len(cur.tokens)
		cur.phase = PhaseComplete
		if s.autoAdvance {
			s.advanceLocked(cur)
		}
	} else {
		s.armTimerLocked()
	}
	s.mu.Unlock()
	s.ping()
}

// Cancel stops any in-flight reveal timer and clears the queue. Safe to call
// on an already-cancelled scheduler; conversation switches invoke it
// unconditionally.
func (s *Scheduler) Cancel() {
	s.mu.Lock()
	s.gen++
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.queue = nil
	s.current = nil
	s.mu.Unlock()
}

// Supersede swaps the final counterpart over a pending message that is still
// owned by the scheduler, preserving the reveal position so the transaction
// hash appears without a restarted animation. It returns false when the
// pending message is unknown here (already fully presented and advanced, or
// never enqueued); the caller then enqueues the final message normally.
func (s *Scheduler) Supersede(pendingID int, final Message) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	swap := func(item *queuedMessage) {
		item.msg = final
		item.tokens = strings.Fields(final.Content)
		if item.pos > len(item.tokens) {
			item.pos = len(item.tokens)
		}
		s.markReleasedLocked(final)
	}

	if s.current != nil && s.current.msg.ID == pendingID && s.current.msg.ConversationID == final.ConversationID {
		swap(s.current)
		return true
	}
	for _, item := range s.queue {
		if item.msg.ID == pendingID && item.msg.ConversationID == final.ConversationID {
			swap(item)
			return true
		}
	}

	if rel := s.released[final.ConversationID]; rel != nil && rel[pendingID] {
		// Already on screen in full; the reconciled list carries the final
		// version, so just mark it visible.
		s.markReleasedLocked(final)
		return true
	}
	return false
}

// MarkShown records a message as fully presented without queueing it. Used
// when restoring a conversation from history.
func (s *Scheduler) MarkShown(msg Message) {
	s.mu.Lock()
	s.markReleasedLocked(msg)
	s.mu.Unlock()
}

func (s *Scheduler) markReleasedLocked(msg Message) {
	rel := s.released[msg.ConversationID]
	if rel == nil {
		rel = make(map[int]bool)
		s.released[msg.ConversationID] = rel
	}
	rel[msg.ID] = true
}

// Released reports whether presentation of the given message has started.
func (s *Scheduler) Released(conversationID, messageID int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	rel := s.released[conversationID]
	return rel != nil && rel[messageID]
}

// RevealState describes the message currently being typed.
type RevealState struct {
	ConversationID int
	MessageID      int
	Visible        string
	Phase          Phase
}

// Current returns the in-flight reveal, if any.
func (s *Scheduler) Current() (RevealState, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return RevealState{}, false
	}
	cur := s.current
	return RevealState{
		ConversationID: cur.msg.ConversationID,
		MessageID:      cur.msg.ID,
		Visible:        strings.Join(cur.tokens[:cur.pos], " "),
		Phase:          cur.phase,
	}, true
}

// AwaitingAck reports whether the current message has fully revealed and is
// waiting for the view to call PresentationComplete.
func (s *Scheduler) AwaitingAck() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current != nil && s.current.phase == PhaseComplete
}

// Idle reports whether nothing is queued or revealing.
func (s *Scheduler) Idle() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current == nil && len(s.queue) == 0
}

func (s *Scheduler) ping() {
	if s.notify != nil {
		s.notify()
	}
}
