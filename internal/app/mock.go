package app

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"swarm-chat/internal/chat"
	"swarm-chat/internal/orchestrator"
)

// mockService simulates the orchestrator for offline demo runs and tests.
// It keeps a small credit balance that task burns and plan purchases move,
// so the credits badge and the cost messages behave like the real thing.
type mockService struct {
	logger *zap.Logger

	mu        sync.Mutex
	credits   int
	submitted int
}

func newMockService(logger *zap.Logger) *mockService {
	return &mockService{
		logger:  logger,
		credits: 100,
	}
}

func (m *mockService) SubmitTask(ctx context.Context, query string) (orchestrator.TaskSubmission, error) {
	m.mu.Lock()
	m.submitted++
	m.mu.Unlock()
	return orchestrator.TaskSubmission{
		TaskID:  uuid.New().String(),
		PlanDID: "did:nv:mock-plan",
	}, nil
}

func (m *mockService) LatestBlock(ctx context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return int64(1_000_000 + m.submitted), nil
}

func (m *mockService) Credits(ctx context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.credits, nil
}

func (m *mockService) PlanCost(ctx context.Context, planDID string) (orchestrator.PlanCost, error) {
	return orchestrator.PlanCost{PlanPrice: "1", PlanCredits: 100}, nil
}

func (m *mockService) OrderPlan(ctx context.Context) (orchestrator.OrderResult, error) {
	m.mu.Lock()
	m.credits += 100
	m.mu.Unlock()
	return orchestrator.OrderResult{
		Success: true,
		TxHash:  "0x" + strings.ReplaceAll(uuid.New().String(), "-", ""),
		Credits: "100",
	}, nil
}

func (m *mockService) LookupBurn(ctx context.Context, fromBlock int64) (*orchestrator.BurnRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.credits < 3 {
		return nil, nil
	}
	m.credits -= 3
	return &orchestrator.BurnRecord{
		TxHash:  "0x" + strings.ReplaceAll(uuid.New().String(), "-", ""),
		Credits: 3,
		PlanDID: "did:nv:mock-plan",
	}, nil
}

func (m *mockService) Route(ctx context.Context, message string, history []chat.Message) orchestrator.RouteDecision {
	lower := strings.ToLower(message)

	m.mu.Lock()
	credits := m.credits
	m.mu.Unlock()

	switch {
	case strings.Contains(lower, "buy") || strings.Contains(lower, "purchase"):
		return orchestrator.RouteDecision{Action: orchestrator.ActionOrderPlan}
	case credits <= 0:
		return orchestrator.RouteDecision{
			Action:  orchestrator.ActionNoCredit,
			Message: "You are out of credits. Say \"buy credits\" to purchase more for the agent's plan.",
		}
	case lower == "hi" || lower == "hello" || lower == "hey":
		return orchestrator.RouteDecision{
			Action:  orchestrator.ActionNoAction,
			Message: "Hello! Describe the task you want the agent swarm to run.",
		}
	default:
		return orchestrator.RouteDecision{Action: orchestrator.ActionForward}
	}
}

func (m *mockService) SummarizeTitle(ctx context.Context, input string, history []chat.Message) string {
	return chat.TruncateTitle(input)
}

func (m *mockService) SynthesizeIntent(ctx context.Context, input string, history []chat.Message) string {
	if len(history) == 0 {
		return input
	}
	return fmt.Sprintf("%s (continuing a conversation with %d prior messages)", input, len(history))
}
