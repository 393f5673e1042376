package orchestrator

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func testClient(t *testing.T, handler http.Handler) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	c := NewClient(srv.URL, "test-key", zap.NewNop(),
		WithBurnPolicy(2, time.Millisecond))
	return c, srv
}

func TestSubmitTask(t *testing.T) {
	var gotAuth, gotQuery string
	c, _ := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/tasks/send", r.URL.Path)
		gotAuth = r.Header.Get("Authorization")
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		gotQuery = body["input_query"]
		json.NewEncoder(w).Encode(map[string]any{
			"task": map[string]string{"task_id": "task-123"},
			"planDid": "did:nv:plan-1",
		})
	}))

	sub, err := c.SubmitTask(context.Background(), "make a music video")

	require.NoError(t, err)
	assert.Equal(t, "task-123", sub.TaskID)
	assert.Equal(t, "did:nv:plan-1", sub.PlanDID)
	assert.Equal(t, "Bearer test-key", gotAuth)
	assert.Equal(t, "make a music video", gotQuery)
}

func TestSubmitTaskMissingTaskID(t *testing.T) {
	c, _ := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"task": map[string]string{}})
	}))

	_, err := c.SubmitTask(context.Background(), "query")

	assert.ErrorIs(t, err, ErrSubmissionFailed)
}

func TestSubmitTaskServerError(t *testing.T) {
	c, _ := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))

	_, err := c.SubmitTask(context.Background(), "query")

	assert.ErrorIs(t, err, ErrSubmissionFailed)
}

func TestLatestBlockAndCredits(t *testing.T) {
	c, _ := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/latest-block":
			json.NewEncoder(w).Encode(map[string]int64{"blockNumber": 123456})
		case "/api/credit":
			json.NewEncoder(w).Encode(map[string]int{"credit": 42})
		default:
			http.NotFound(w, r)
		}
	}))

	block, err := c.LatestBlock(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(123456), block)

	credits, err := c.Credits(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 42, credits)
}

func TestPlanCostIsCached(t *testing.T) {
	var calls atomic.Int32
	c, _ := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		require.Equal(t, "did:nv:plan-1", r.URL.Query().Get("planDid"))
		json.NewEncoder(w).Encode(PlanCost{PlanPrice: "1", PlanCredits: 100})
	}))

	for i := 0; i < 3; i++ {
		cost, err := c.PlanCost(context.Background(), "did:nv:plan-1")
		require.NoError(t, err)
		assert.Equal(t, "1", cost.PlanPrice)
		assert.Equal(t, 100, cost.PlanCredits)
	}

	assert.Equal(t, int32(1), calls.Load())
}

func TestOrderPlan(t *testing.T) {
	c, _ := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/order-plan", r.URL.Path)
		json.NewEncoder(w).Encode(OrderResult{Success: true, TxHash: "0xbuy", Credits: "100"})
	}))

	res, err := c.OrderPlan(context.Background())

	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, "0xbuy", res.TxHash)
}

func TestLookupBurnRetriesUntilFound(t *testing.T) {
	var calls atomic.Int32
	c, _ := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "99", r.URL.Query().Get("fromBlock"))
		if calls.Add(1) < 2 {
			http.NotFound(w, r)
			return
		}
		json.NewEncoder(w).Encode(BurnRecord{TxHash: "0xburn", Credits: 5, PlanDID: "did:nv:plan-1"})
	}))

	rec, err := c.LookupBurn(context.Background(), 99)

	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, "0xburn", rec.TxHash)
	assert.Equal(t, 5, rec.Credits)
	assert.Equal(t, int32(2), calls.Load())
}

func TestLookupBurnNothingFoundIsNotAnError(t *testing.T) {
	c, _ := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(BurnRecord{})
	}))

	rec, err := c.LookupBurn(context.Background(), 1)

	require.NoError(t, err)
	assert.Nil(t, rec)
}

func TestLookupBurnHardErrorStopsPolling(t *testing.T) {
	var calls atomic.Int32
	c, _ := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "indexer down", http.StatusInternalServerError)
	}))

	_, err := c.LookupBurn(context.Background(), 1)

	require.Error(t, err)
	assert.Equal(t, int32(1), calls.Load(), "5xx is permanent, no retries")
}
