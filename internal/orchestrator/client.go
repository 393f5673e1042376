package orchestrator

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"
	lru "github.com/hashicorp/golang-lru"
	"go.uber.org/zap"
)

// ErrSubmissionFailed is returned for any non-success task submission
// response. The core performs no retries; the user may simply send again.
var ErrSubmissionFailed = errors.New("task submission failed")

const planCacheSize = 32

// TaskSubmission is the orchestrator's answer to a submitted request.
type TaskSubmission struct {
	TaskID  string
	PlanDID string
}

// BurnRecord describes an on-chain credit burn found after a task ran.
type BurnRecord struct {
	TxHash  string `json:"txHash"`
	Credits int    `json:"credits"`
	PlanDID string `json:"planDid"`
}

// PlanCost is the price and credit volume of the orchestrator's payment plan.
type PlanCost struct {
	PlanPrice   string `json:"planPrice"`
	PlanCredits int    `json:"planCredits"`
}

// OrderResult is the outcome of a plan purchase.
type OrderResult struct {
	Success bool   `json:"success"`
	TxHash  string `json:"txHash"`
	Credits string `json:"credits"`
	Message string `json:"message"`
}

// Client wraps the orchestrator's request/response endpoints: task
// submission, credit and burn lookups, plan purchase and the LLM-backed
// routing/synthesis helpers. Streaming lives in SSESource, not here.
type Client struct {
	baseURL   string
	apiKey    string
	http      *http.Client
	logger    *zap.Logger
	planCosts *lru.Cache

	// Burn lookups probe the chain indexer a few times with a fixed pause;
	// "not found" is a normal outcome, not an error.
	burnAttempts uint64
	burnInterval time.Duration
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHTTPClient overrides the underlying HTTP client.
func WithHTTPClient(h *http.Client) ClientOption {
	return func(c *Client) { c.http = h }
}

// WithBurnPolicy sets how many times and how often LookupBurn polls.
func WithBurnPolicy(attempts int, interval time.Duration) ClientOption {
	return func(c *Client) {
		if attempts > 0 {
			c.burnAttempts = uint64(attempts)
		}
		if interval > 0 {
			c.burnInterval = interval
		}
	}
}

func NewClient(baseURL, apiKey string, logger *zap.Logger, opts ...ClientOption) *Client {
	cache, _ := lru.New(planCacheSize)
	c := &Client{
		baseURL:      baseURL,
		apiKey:       apiKey,
		http:         &http.Client{Timeout: 30 * time.Second},
		logger:       logger,
		planCosts:    cache,
		burnAttempts: 5,
		burnInterval: 2 * time.Second,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SubmitTask sends the user's free-text query and returns the opaque remote
// task id that keys the event stream.
func (c *Client) SubmitTask(ctx context.Context, query string) (TaskSubmission, error) {
	var out struct {
		Task struct {
			TaskID string `json:"task_id"`
		} `json:"task"`
		PlanDID string `json:"planDid"`
	}
	err := c.postJSON(ctx, "/tasks/send", map[string]string{"input_query": query}, &out)
	if err != nil {
		c.logger.Error("Task submission failed", zap.Error(err))
		return TaskSubmission{}, fmt.Errorf("%w: %v", ErrSubmissionFailed, err)
	}
	if out.Task.TaskID == "" {
		return TaskSubmission{}, fmt.Errorf("%w: response carried no task id", ErrSubmissionFailed)
	}
	return TaskSubmission{TaskID: out.Task.TaskID, PlanDID: out.PlanDID}, nil
}

// LatestBlock returns the chain head used as the burn search starting point.
func (c *Client) LatestBlock(ctx context.Context) (int64, error) {
	var out struct {
		BlockNumber int64 `json:"blockNumber"`
	}
	if err := c.getJSON(ctx, "/api/latest-block", nil, &out); err != nil {
		return 0, fmt.Errorf("latest block: %w", err)
	}
	return out.BlockNumber, nil
}

// Credits returns the user's current credit balance.
func (c *Client) Credits(ctx context.Context) (int, error) {
	var out struct {
		Credit int `json:"credit"`
	}
	if err := c.getJSON(ctx, "/api/credit", nil, &out); err != nil {
		return 0, fmt.Errorf("credit balance: %w", err)
	}
	return out.Credit, nil
}

// PlanCost returns the plan price and credit volume, cached per plan DID:
// plan metadata is immutable for the lifetime of a session and the footer
// re-reads it on every render.
func (c *Client) PlanCost(ctx context.Context, planDID string) (PlanCost, error) {
	if cached, ok := c.planCosts.Get(planDID); ok {
		return cached.(PlanCost), nil
	}
	var out PlanCost
	if err := c.getJSON(ctx, "/api/plan/cost", url.Values{"planDid": {planDID}}, &out); err != nil {
		return PlanCost{}, fmt.Errorf("plan cost: %w", err)
	}
	c.planCosts.Add(planDID, out)
	return out, nil
}

// OrderPlan purchases credits for the orchestrator's payment plan. A failed
// purchase is reported in the result, not as an error, so the caller can
// surface it as a transcript message.
func (c *Client) OrderPlan(ctx context.Context) (OrderResult, error) {
	var out OrderResult
	if err := c.postJSON(ctx, "/api/order-plan", struct{}{}, &out); err != nil {
		return OrderResult{}, fmt.Errorf("order plan: %w", err)
	}
	return out, nil
}

// LookupBurn polls the burn-event endpoint starting at fromBlock until a
// record shows up or the attempt budget runs out. It returns (nil, nil) when
// nothing was found, which callers treat as a normal outcome.
func (c *Client) LookupBurn(ctx context.Context, fromBlock int64) (*BurnRecord, error) {
	var notFound = errors.New("burn not found yet")
	var record *BurnRecord

	operation := func() error {
		var out BurnRecord
		err := c.getJSON(ctx, "/api/burn-events", url.Values{"fromBlock": {strconv.FormatInt(fromBlock, 10)}}, &out)
		if err != nil {
			var httpErr *statusError
			if errors.As(err, &httpErr) && httpErr.code == http.StatusNotFound {
				return notFound
			}
			return backoff.Permanent(err)
		}
		if out.TxHash == "" {
			return notFound
		}
		record = &out
		return nil
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(c.burnInterval), c.burnAttempts),
		ctx,
	)
	if err := backoff.Retry(operation, policy); err != nil {
		if errors.Is(err, notFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("burn lookup: %w", err)
	}
	return record, nil
}

type statusError struct {
	code int
	body string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("unexpected status %d: %s", e.code, e.body)
}

func (c *Client) postJSON(ctx context.Context, path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *Client) getJSON(ctx context.Context, path string, query url.Values, out any) error {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out any) error {
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("perform request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &statusError{code: resp.StatusCode, body: string(body)}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
