package app

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"swarm-chat/internal/chat"
	"swarm-chat/internal/orchestrator"
)

// TaskService is the request/response surface of the orchestrator consumed
// by the send pipeline. orchestrator.Client implements it against the live
// backend; mockService implements it for offline demo runs and tests.
type TaskService interface {
	SubmitTask(ctx context.Context, query string) (orchestrator.TaskSubmission, error)
	LatestBlock(ctx context.Context) (int64, error)
	Credits(ctx context.Context) (int, error)
	PlanCost(ctx context.Context, planDID string) (orchestrator.PlanCost, error)
	OrderPlan(ctx context.Context) (orchestrator.OrderResult, error)
	LookupBurn(ctx context.Context, fromBlock int64) (*orchestrator.BurnRecord, error)
	Route(ctx context.Context, message string, history []chat.Message) orchestrator.RouteDecision
	SummarizeTitle(ctx context.Context, input string, history []chat.Message) string
	SynthesizeIntent(ctx context.Context, input string, history []chat.Message) string
}

// Application wires the conversation engine to the orchestrator and owns the
// send pipeline: credit-gate routing, task submission, event subscription
// and the burn lookups that follow presented answers.
type Application struct {
	Config   Config
	Logger   *zap.Logger
	Service  TaskService
	Events   chat.EventSource
	Registry *chat.Registry

	mu        sync.Mutex
	fromBlock map[int]int64
	planDID   string
	onUpdate  func()
}

func NewApplication(cfg Config, mock bool) (*Application, error) {
	return newApplication(cfg, mock, false)
}

// NewHeadlessApplication builds an application whose scheduler acknowledges
// its own completions, for one-shot use with no view calling
// PresentationComplete.
func NewHeadlessApplication(cfg Config, mock bool) (*Application, error) {
	return newApplication(cfg, mock, true)
}

func newApplication(cfg Config, mock, autoAdvance bool) (*Application, error) {
	logger, err := NewLogger(cfg.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}

	a := &Application{
		Config:    cfg,
		Logger:    logger,
		fromBlock: make(map[int]int64),
	}

	schedOpts := []chat.SchedulerOption{
		chat.WithRevealInterval(cfg.RevealInterval()),
		chat.WithNotify(a.pingView),
		chat.WithCompletionHook(a.afterPresentation),
	}
	if autoAdvance {
		schedOpts = append(schedOpts, chat.WithAutoAdvance())
	}
	scheduler := chat.NewScheduler(logger, schedOpts...)
	a.Registry = chat.NewRegistry(chat.NewReconciler(logger), scheduler, logger)
	a.Registry.OnUpdate(a.pingView)

	if mock {
		a.Service = newMockService(logger)
		a.Events = chat.NewScriptedSource(chat.DemoScript())
	} else {
		a.Service = orchestrator.NewClient(cfg.OrchestratorURL, cfg.NvmAPIKey, logger,
			orchestrator.WithBurnPolicy(cfg.BurnPollAttempts, cfg.BurnPollDelay()))
		a.Events = orchestrator.NewSSESource(cfg.OrchestratorURL, logger)
	}
	return a, nil
}

// OnUpdate registers the view refresh callback, pinged whenever transcript
// or reveal state changes. Must be set before events start flowing.
func (a *Application) OnUpdate(fn func()) {
	a.mu.Lock()
	a.onUpdate = fn
	a.mu.Unlock()
}

func (a *Application) pingView() {
	a.mu.Lock()
	fn := a.onUpdate
	a.mu.Unlock()
	if fn != nil {
		fn()
	}
}

// Send runs the full pipeline for one user message: append it, gate it on
// credits, synthesize the submitted intent, create the remote task and
// subscribe to its event stream. Every failure past submission is reported
// in-band as a transcript message; the returned error only signals that the
// send aborted and may be retried.
func (a *Application) Send(ctx context.Context, content string) error {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil
	}

	convID := a.Registry.ActiveID()
	if convID == 0 {
		convID = a.Registry.StartNew().ID
	}
	history := a.Registry.MessagesFor(convID)
	a.Registry.AppendUser(convID, content)
	if len(history) == 0 {
		go a.synthesizeTitle(convID, content)
	}

	decision := a.Service.Route(ctx, content, history)
	switch decision.Action {
	case orchestrator.ActionNoCredit:
		msg := decision.Message
		if msg == "" {
			msg = "You do not have enough credits to continue. Do you want to purchase credits for the agent's plan?"
		}
		a.Registry.AppendLocal(convID, chat.AgentEvent{Kind: chat.KindWarning, Content: msg})
		return nil
	case orchestrator.ActionOrderPlan:
		a.orderPlan(ctx, convID)
		return nil
	case orchestrator.ActionNoAction:
		if decision.Message != "" {
			a.Registry.AppendLocal(convID, chat.AgentEvent{Kind: chat.KindAnswer, Content: decision.Message})
		}
		return nil
	}
	return a.forward(ctx, convID, content, history)
}

func (a *Application) forward(ctx context.Context, convID int, content string, history []chat.Message) error {
	intent := a.Service.SynthesizeIntent(ctx, content, history)

	fromBlock, err := a.Service.LatestBlock(ctx)
	if err != nil {
		a.Logger.Warn("Could not read chain head, burn lookup will scan from genesis", zap.Error(err))
		fromBlock = 0
	}

	sub, err := a.Service.SubmitTask(ctx, intent)
	if err != nil {
		a.Logger.Error("Task submission failed",
			zap.Int("conversation_id", convID),
			zap.Error(err))
		a.Registry.AppendLocal(convID, chat.AgentEvent{
			Kind:    chat.KindError,
			Content: "Could not reach the orchestrator. Please try again.",
		})
		return err
	}

	a.mu.Lock()
	a.fromBlock[convID] = fromBlock
	if sub.PlanDID != "" {
		a.planDID = sub.PlanDID
	}
	a.mu.Unlock()

	// Bind before subscribing so events arriving immediately find their
	// conversation by task id.
	a.Registry.BindTask(convID, sub.TaskID, nil)
	unsubscribe, err := a.Events.Subscribe(sub.TaskID, func(ev chat.AgentEvent) {
		a.Registry.HandleTaskEvent(sub.TaskID, ev)
	})
	if err != nil {
		a.Logger.Error("Event subscription failed",
			zap.String("task_id", sub.TaskID),
			zap.Error(err))
		a.Registry.AppendLocal(convID, chat.AgentEvent{
			Kind:    chat.KindError,
			Content: "Task was created but its progress stream could not be opened.",
		})
		return err
	}
	a.Registry.BindTask(convID, sub.TaskID, unsubscribe)

	a.Logger.Info("Task submitted",
		zap.Int("conversation_id", convID),
		zap.String("task_id", sub.TaskID))

	go a.watchBurn(convID, fromBlock)
	return nil
}

// watchBurn polls for a credit burn and, when one exists, reports the cost
// in-band. "Nothing found" is a normal outcome and stays silent.
func (a *Application) watchBurn(convID int, fromBlock int64) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	rec, err := a.Service.LookupBurn(ctx, fromBlock)
	if err != nil {
		a.Logger.Warn("Burn lookup failed", zap.Int("conversation_id", convID), zap.Error(err))
		return
	}
	if rec == nil {
		return
	}
	a.Registry.AppendLocal(convID, chat.AgentEvent{
		Kind:    chat.KindCostInfo,
		Content: fmt.Sprintf("%d credits consumed Tx: %s", rec.Credits, rec.TxHash),
		TxHash:  rec.TxHash,
		Credits: rec.Credits,
		PlanDID: rec.PlanDID,
	})
}

// afterPresentation is the scheduler's completion hook: once a final answer
// has been fully presented, look up the burn transaction it caused.
func (a *Application) afterPresentation(m chat.Message) {
	if m.Kind != chat.KindFinalAnswer {
		return
	}
	a.mu.Lock()
	fromBlock := a.fromBlock[m.ConversationID]
	a.mu.Unlock()
	a.watchBurn(m.ConversationID, fromBlock)
}

func (a *Application) synthesizeTitle(convID int, content string) {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	a.Registry.SetTitle(convID, a.Service.SummarizeTitle(ctx, content, nil))
}

func (a *Application) orderPlan(ctx context.Context, convID int) {
	res, err := a.Service.OrderPlan(ctx)
	if err != nil {
		a.Logger.Error("Plan purchase failed", zap.Error(err))
		a.Registry.AppendLocal(convID, chat.AgentEvent{
			Kind:    chat.KindError,
			Content: "Plan purchase failed. Your balance was not charged.",
		})
		return
	}
	if !res.Success {
		msg := res.Message
		if msg == "" {
			msg = "Plan purchase was rejected."
		}
		a.Registry.AppendLocal(convID, chat.AgentEvent{Kind: chat.KindError, Content: msg})
		return
	}
	content := fmt.Sprintf("Credits purchased for the agent's plan Tx: %s", res.TxHash)
	a.Registry.AppendLocal(convID, chat.AgentEvent{
		Kind:    chat.KindUserTransaction,
		Content: content,
		TxHash:  res.TxHash,
	})
}

// CreditBalance reads the user's balance for the credits badge.
func (a *Application) CreditBalance(ctx context.Context) (int, error) {
	return a.Service.Credits(ctx)
}

// PlanInfo returns price and credit volume of the plan attached to the most
// recent submission, when one is known.
func (a *Application) PlanInfo(ctx context.Context) (orchestrator.PlanCost, bool) {
	a.mu.Lock()
	planDID := a.planDID
	a.mu.Unlock()
	if planDID == "" {
		return orchestrator.PlanCost{}, false
	}
	cost, err := a.Service.PlanCost(ctx, planDID)
	if err != nil {
		a.Logger.Warn("Plan cost lookup failed", zap.Error(err))
		return orchestrator.PlanCost{}, false
	}
	return cost, true
}

// Close tears down subscriptions and flushes logs.
func (a *Application) Close() {
	a.Registry.Close()
	_ = a.Logger.Sync()
}
