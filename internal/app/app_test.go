package app

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"swarm-chat/internal/chat"
	"swarm-chat/internal/orchestrator"
)

// fakeService records calls and returns scripted answers, standing in for
// the live orchestrator client.
type fakeService struct {
	mu          sync.Mutex
	route       orchestrator.RouteDecision
	submitErr   error
	submitted   []string
	burn        *orchestrator.BurnRecord
	burnLookups int
	orderResult orchestrator.OrderResult
	orderErr    error
}

func (f *fakeService) SubmitTask(ctx context.Context, query string) (orchestrator.TaskSubmission, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.submitErr != nil {
		return orchestrator.TaskSubmission{}, f.submitErr
	}
	f.submitted = append(f.submitted, query)
	return orchestrator.TaskSubmission{TaskID: "task-1", PlanDID: "did:nv:plan"}, nil
}

func (f *fakeService) LatestBlock(ctx context.Context) (int64, error) { return 500, nil }
func (f *fakeService) Credits(ctx context.Context) (int, error)       { return 10, nil }

func (f *fakeService) PlanCost(ctx context.Context, planDID string) (orchestrator.PlanCost, error) {
	return orchestrator.PlanCost{PlanPrice: "1", PlanCredits: 100}, nil
}

func (f *fakeService) OrderPlan(ctx context.Context) (orchestrator.OrderResult, error) {
	return f.orderResult, f.orderErr
}

func (f *fakeService) LookupBurn(ctx context.Context, fromBlock int64) (*orchestrator.BurnRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.burnLookups++
	return f.burn, nil
}

func (f *fakeService) Route(ctx context.Context, message string, history []chat.Message) orchestrator.RouteDecision {
	if f.route.Action == "" {
		return orchestrator.RouteDecision{Action: orchestrator.ActionForward}
	}
	return f.route
}

func (f *fakeService) SummarizeTitle(ctx context.Context, input string, history []chat.Message) string {
	return "Synthesized Title"
}

func (f *fakeService) SynthesizeIntent(ctx context.Context, input string, history []chat.Message) string {
	return "intent: " + input
}

// fakeEvents captures the subscription without delivering anything.
type fakeEvents struct {
	mu           sync.Mutex
	taskID       string
	onEvent      func(chat.AgentEvent)
	cancelled    int
	subscribeErr error
}

func (f *fakeEvents) Subscribe(taskID string, onEvent func(chat.AgentEvent)) (func(), error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.subscribeErr != nil {
		return nil, f.subscribeErr
	}
	f.taskID = taskID
	f.onEvent = onEvent
	return func() {
		f.mu.Lock()
		f.cancelled++
		f.mu.Unlock()
	}, nil
}

func (f *fakeEvents) push(ev chat.AgentEvent) {
	f.mu.Lock()
	fn := f.onEvent
	f.mu.Unlock()
	fn(ev)
}

func newTestApp(t *testing.T, svc TaskService, events chat.EventSource) *Application {
	t.Helper()
	cfg := DefaultConfig()
	cfg.RevealIntervalMs = 1
	a, err := newApplication(cfg, true, true)
	require.NoError(t, err)
	a.Service = svc
	a.Events = events
	t.Cleanup(a.Close)
	return a
}

func kinds(msgs []chat.Message) []chat.Kind {
	out := make([]chat.Kind, len(msgs))
	for i, m := range msgs {
		out[i] = m.Kind
	}
	return out
}

func TestSendForwardsThroughIntentSynthesis(t *testing.T) {
	svc := &fakeService{}
	events := &fakeEvents{}
	a := newTestApp(t, svc, events)

	require.NoError(t, a.Send(context.Background(), "make a music video"))

	convID := a.Registry.ActiveID()
	require.NotZero(t, convID)

	svc.mu.Lock()
	require.Len(t, svc.submitted, 1)
	assert.Equal(t, "intent: make a music video", svc.submitted[0])
	svc.mu.Unlock()

	assert.Equal(t, "task-1", a.Registry.TaskFor(convID))

	// Stream events reach the conversation through the task binding.
	events.push(chat.AgentEvent{Kind: chat.KindReasoning, Content: "working"})
	require.Eventually(t, func() bool {
		return len(a.Registry.MessagesFor(convID)) == 2
	}, time.Second, time.Millisecond)
}

func TestSendEmptyInputIsNoOp(t *testing.T) {
	svc := &fakeService{}
	a := newTestApp(t, svc, &fakeEvents{})

	require.NoError(t, a.Send(context.Background(), "   "))

	assert.Zero(t, a.Registry.ActiveID())
}

func TestSendNoCreditAppendsWarning(t *testing.T) {
	svc := &fakeService{route: orchestrator.RouteDecision{
		Action:  orchestrator.ActionNoCredit,
		Message: "not enough credits",
	}}
	a := newTestApp(t, svc, &fakeEvents{})

	require.NoError(t, a.Send(context.Background(), "do something expensive"))

	convID := a.Registry.ActiveID()
	msgs := a.Registry.MessagesFor(convID)
	require.Len(t, msgs, 2)
	assert.Equal(t, chat.KindWarning, msgs[1].Kind)
	assert.Equal(t, "not enough credits", msgs[1].Content)

	// Nothing was submitted.
	svc.mu.Lock()
	assert.Empty(t, svc.submitted)
	svc.mu.Unlock()
}

func TestSendOrderPlanRecordsPurchase(t *testing.T) {
	svc := &fakeService{
		route:       orchestrator.RouteDecision{Action: orchestrator.ActionOrderPlan},
		orderResult: orchestrator.OrderResult{Success: true, TxHash: "0xbuy", Credits: "100"},
	}
	a := newTestApp(t, svc, &fakeEvents{})

	require.NoError(t, a.Send(context.Background(), "buy credits"))

	msgs := a.Registry.MessagesFor(a.Registry.ActiveID())
	require.Len(t, msgs, 2)
	assert.Equal(t, chat.KindUserTransaction, msgs[1].Kind)
	assert.Equal(t, "0xbuy", msgs[1].TxHash)
}

func TestSendOrderPlanFailureIsReportedInBand(t *testing.T) {
	svc := &fakeService{
		route:    orchestrator.RouteDecision{Action: orchestrator.ActionOrderPlan},
		orderErr: errors.New("wallet refused"),
	}
	a := newTestApp(t, svc, &fakeEvents{})

	require.NoError(t, a.Send(context.Background(), "buy credits"))

	msgs := a.Registry.MessagesFor(a.Registry.ActiveID())
	require.Len(t, msgs, 2)
	assert.Equal(t, chat.KindError, msgs[1].Kind)
}

func TestSendNoActionAnswersLocally(t *testing.T) {
	svc := &fakeService{route: orchestrator.RouteDecision{
		Action:  orchestrator.ActionNoAction,
		Message: "Hello!",
	}}
	a := newTestApp(t, svc, &fakeEvents{})

	require.NoError(t, a.Send(context.Background(), "hi"))

	msgs := a.Registry.MessagesFor(a.Registry.ActiveID())
	assert.Equal(t, []chat.Kind{chat.KindAnswer, chat.KindAnswer}, kinds(msgs))
	assert.Equal(t, "Hello!", msgs[1].Content)
}

func TestSendSubmissionFailureIsReportedInBand(t *testing.T) {
	svc := &fakeService{submitErr: errors.New("orchestrator down")}
	a := newTestApp(t, svc, &fakeEvents{})

	err := a.Send(context.Background(), "make something")
	require.Error(t, err)

	msgs := a.Registry.MessagesFor(a.Registry.ActiveID())
	require.Len(t, msgs, 2)
	assert.Equal(t, chat.KindError, msgs[1].Kind)
}

func TestSendSubscribeFailureIsReportedInBand(t *testing.T) {
	svc := &fakeService{}
	a := newTestApp(t, svc, &fakeEvents{subscribeErr: errors.New("stream refused")})

	err := a.Send(context.Background(), "make something")
	require.Error(t, err)

	msgs := a.Registry.MessagesFor(a.Registry.ActiveID())
	require.Len(t, msgs, 2)
	assert.Equal(t, chat.KindError, msgs[1].Kind)
}

func TestFinalAnswerTriggersBurnLookup(t *testing.T) {
	svc := &fakeService{burn: &orchestrator.BurnRecord{TxHash: "0xburn", Credits: 3, PlanDID: "did:nv:plan"}}
	events := &fakeEvents{}
	a := newTestApp(t, svc, events)

	require.NoError(t, a.Send(context.Background(), "make a song"))
	convID := a.Registry.ActiveID()

	events.push(chat.AgentEvent{Kind: chat.KindFinalAnswer, Content: "here is your song"})

	// The auto-advancing scheduler acknowledges the presentation, firing the
	// completion hook and eventually the cost message.
	require.Eventually(t, func() bool {
		for _, m := range a.Registry.MessagesFor(convID) {
			if m.Kind == chat.KindCostInfo {
				return true
			}
		}
		return false
	}, 2*time.Second, 5*time.Millisecond)

	msgs := a.Registry.MessagesFor(convID)
	last := msgs[len(msgs)-1]
	assert.Equal(t, "0xburn", last.TxHash)
	assert.Equal(t, 3, last.Credits)
}

func TestTitleIsSynthesizedOnFirstMessage(t *testing.T) {
	svc := &fakeService{}
	a := newTestApp(t, svc, &fakeEvents{})

	require.NoError(t, a.Send(context.Background(), "a rather long first request for the swarm"))

	require.Eventually(t, func() bool {
		convs := a.Registry.Conversations()
		return len(convs) == 1 && convs[0].Title == "Synthesized Title"
	}, time.Second, 5*time.Millisecond)
}

func TestCloseCancelsSubscription(t *testing.T) {
	svc := &fakeService{}
	events := &fakeEvents{}
	a := newTestApp(t, svc, events)

	require.NoError(t, a.Send(context.Background(), "make something"))
	a.Close()

	events.mu.Lock()
	defer events.mu.Unlock()
	assert.Equal(t, 1, events.cancelled)
}
