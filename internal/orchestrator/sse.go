package orchestrator

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"

	"go.uber.org/zap"

	"swarm-chat/internal/chat"
)

// SSESource subscribes to a task's server-sent event stream and hands each
// decoded payload to the subscriber. It implements chat.EventSource.
//
// Failure policy: connection errors end the subscription silently (no retry
// at this layer), and payloads that fail to parse are dropped. The
// reconciler's dedupe rule covers at-least-once redelivery, so a reconnect
// strategy, if ever wanted, can sit above this adapter without changes here.
type SSESource struct {
	baseURL string
	http    *http.Client
	logger  *zap.Logger
}

func NewSSESource(baseURL string, logger *zap.Logger) *SSESource {
	// No overall timeout: the stream stays open for the lifetime of the
	// task. Teardown happens through the subscription's cancel function.
	return &SSESource{
		baseURL: baseURL,
		http:    &http.Client{},
		logger:  logger,
	}
}

// Subscribe opens the stream for taskID. The returned cancel closes the
// connection and blocks until the reader goroutine has stopped, so onEvent
// is never invoked after cancel returns. Cancel is idempotent.
func (s *SSESource) Subscribe(taskID string, onEvent func(chat.AgentEvent)) (func(), error) {
	ctx, stop := context.WithCancel(context.Background())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf("%s/tasks/events/%s", s.baseURL, taskID), nil)
	if err != nil {
		stop()
		return nil, fmt.Errorf("create stream request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")

	resp, err := s.http.Do(req)
	if err != nil {
		stop()
		return nil, fmt.Errorf("open event stream: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		stop()
		return nil, fmt.Errorf("open event stream: unexpected status %d", resp.StatusCode)
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer resp.Body.Close()
		s.readLoop(ctx, taskID, resp.Body, onEvent)
	}()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			stop()
			wg.Wait()
		})
	}
	return cancel, nil
}

// readLoop consumes the wire stream line by line. SSE frames its payloads as
// "data: <json>" lines separated by blank lines; everything else (comments,
// event names, retry hints) is ignored.
func (s *SSESource) readLoop(ctx context.Context, taskID string, body io.Reader, onEvent func(chat.AgentEvent)) {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var data strings.Builder
	flush := func() {
		if data.Len() == 0 {
			return
		}
		payload := data.String()
		data.Reset()
		ev, err := chat.DecodeEvent([]byte(payload))
		if err != nil {
			s.logger.Warn("Dropping unparseable stream payload",
				zap.String("task_id", taskID),
				zap.Error(err))
			return
		}
		if ctx.Err() != nil {
			return
		}
		onEvent(ev)
	}

	for scanner.Scan() {
		if ctx.Err() != nil {
			return
		}
		line := scanner.Text()
		switch {
		case line == "":
			flush()
		case strings.HasPrefix(line, "data:"):
			if data.Len() > 0 {
				data.WriteByte('\n')
			}
			data.WriteString(strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
		}
	}
	flush()

	if err := scanner.Err(); err != nil && !errors.Is(err, context.Canceled) && ctx.Err() == nil {
		// The stream broke underneath us. Close silently; the caller has no
		// retry obligation at this layer.
		s.logger.Warn("Event stream closed with error",
			zap.String("task_id", taskID),
			zap.Error(err))
	}
}
