package insight

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pitchlens/pitchlens/internal/config"
	"github.com/pitchlens/pitchlens/internal/fault"
	"github.com/pitchlens/pitchlens/internal/llm"
)

type fakeClient struct {
	complete func(ctx context.Context, req llm.Request) (llm.Response, error)
	calls    atomic.Int64
}

func (c *fakeClient) Complete(ctx context.Context, req llm.Request) (llm.Response, error) {
	c.calls.Add(1)
	return c.complete(ctx, req)
}

type fakeGuard struct {
	allowErr  error
	successes atomic.Int64
	failures  atomic.Int64
}

func (g *fakeGuard) Allow(dep string) error   { return g.allowErr }
func (g *fakeGuard) ReportSuccess(dep string) { g.successes.Add(1) }
func (g *fakeGuard) ReportFailure(dep string) { g.failures.Add(1) }

func testInsightConfig() config.Insight {
	return config.Insight{
		Model:       "openai/gpt-4o-mini",
		MaxTokens:   256,
		MaxInFlight: 10,
		MaxRetries:  3,
		CacheTTL:    "5m",
	}
}

// newTestQueue replaces the retry sleep with an immediate return that records
// the requested delays.
func newTestQueue(cfg config.Insight, client llm.Client, guard HealthGuard) (*Queue, func() []time.Duration) {
	q := NewQueue(cfg, client, guard)

	var mu sync.Mutex
	var delays []time.Duration
	q.sleep = func(ctx context.Context, d time.Duration) bool {
		mu.Lock()
		delays = append(delays, d)
		mu.Unlock()
		return true
	}
	return q, func() []time.Duration {
		mu.Lock()
		defer mu.Unlock()
		return append([]time.Duration(nil), delays...)
	}
}

func TestQueueConcurrencyCapUnderBurst(t *testing.T) {
	var current, peak atomic.Int64
	client := &fakeClient{
		complete: func(ctx context.Context, req llm.Request) (llm.Response, error) {
			n := current.Add(1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			time.Sleep(5 * time.Millisecond)
			current.Add(-1)
			return llm.Response{Text: "ok"}, nil
		},
	}

	q, _ := newTestQueue(testInsightConfig(), client, nil)

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := q.Submit(context.Background(), Request{Priority: 5, Realtime: true}); err != nil {
				t.Errorf("Submit() error = %v", err)
			}
		}()
	}
	wg.Wait()

	if got := client.calls.Load(); got != 100 {
		t.Fatalf("client calls = %d, want 100", got)
	}
	if got := peak.Load(); got > 10 {
		t.Fatalf("peak concurrency = %d, want at most 10", got)
	}
}

func TestQueuePriorityOrder(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{})
	var startOnce sync.Once

	var mu sync.Mutex
	var order []string
	client := &fakeClient{
		complete: func(ctx context.Context, req llm.Request) (llm.Response, error) {
			if req.Prompt == "block" {
				startOnce.Do(func() { close(started) })
				<-release
				return llm.Response{}, nil
			}
			mu.Lock()
			order = append(order, req.Prompt)
			mu.Unlock()
			return llm.Response{}, nil
		},
	}

	cfg := testInsightConfig()
	cfg.MaxInFlight = 1
	q, _ := newTestQueue(cfg, client, nil)

	var wg sync.WaitGroup
	submit := func(priority int, prompt string) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := q.Submit(context.Background(), Request{
				Priority: priority,
				Realtime: true,
				LLM:      llm.Request{Prompt: prompt},
			}); err != nil {
				t.Errorf("Submit(%q) error = %v", prompt, err)
			}
		}()
	}

	submit(5, "block")
	<-started

	// Queue up while the only slot is occupied, waiting for each enqueue so
	// the pending order is deterministic.
	for i, p := range []struct {
		priority int
		prompt   string
	}{{5, "batch-a"}, {5, "batch-b"}, {1, "urgent"}} {
		submit(p.priority, p.prompt)
		for q.PendingLen() != i+1 {
			time.Sleep(time.Millisecond)
		}
	}

	close(release)
	wg.Wait()

	want := []string{"urgent", "batch-a", "batch-b"}
	mu.Lock()
	defer mu.Unlock()
	if len(order) != len(want) {
		t.Fatalf("served %d requests, want %d: %v", len(order), len(want), order)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("serve order = %v, want %v", order, want)
		}
	}
}

func TestEnqueueRetryGoesToFrontOfPriorityBand(t *testing.T) {
	q, _ := newTestQueue(testInsightConfig(), &fakeClient{}, nil)

	add := func(priority int, prompt string, front bool) {
		q.enqueue(&item{
			req:  Request{Priority: priority, LLM: llm.Request{Prompt: prompt}},
			done: make(chan outcome, 1),
		}, front)
	}

	add(5, "a", false)
	add(5, "b", false)
	add(3, "c", false)
	add(5, "retry", true)

	want := []string{"c", "retry", "a", "b"}
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.pending) != len(want) {
		t.Fatalf("pending length = %d, want %d", len(q.pending), len(want))
	}
	for i, it := range q.pending {
		if it.req.LLM.Prompt != want[i] {
			got := make([]string, len(q.pending))
			for j, p := range q.pending {
				got[j] = p.req.LLM.Prompt
			}
			t.Fatalf("pending order = %v, want %v", got, want)
		}
	}
}

func TestQueueRateLimitRetriedWithBackoff(t *testing.T) {
	var attempts atomic.Int64
	client := &fakeClient{
		complete: func(ctx context.Context, req llm.Request) (llm.Response, error) {
			if attempts.Add(1) <= 2 {
				return llm.Response{}, fault.Errorf(fault.RateLimit, "rate limited")
			}
			return llm.Response{Text: "ok", InputTokens: 10, OutputTokens: 5}, nil
		},
	}

	q, delays := newTestQueue(testInsightConfig(), client, nil)

	resp, err := q.Submit(context.Background(), Request{Priority: 5, Realtime: true})
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if resp.Text != "ok" {
		t.Fatalf("response text = %q, want %q", resp.Text, "ok")
	}
	if got := q.RateLimited(); got != 2 {
		t.Fatalf("RateLimited() = %d, want 2", got)
	}

	want := []time.Duration{time.Second, 2 * time.Second}
	got := delays()
	if len(got) != len(want) {
		t.Fatalf("retry delays = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("retry delays = %v, want %v", got, want)
		}
	}

	usage := q.TotalUsage()
	if usage.InputTokens != 10 || usage.OutputTokens != 5 {
		t.Fatalf("TotalUsage() = %+v, want 10 in / 5 out", usage)
	}
}

func TestQueueGivesUpAfterMaxRetries(t *testing.T) {
	client := &fakeClient{
		complete: func(ctx context.Context, req llm.Request) (llm.Response, error) {
			return llm.Response{}, fault.Errorf(fault.Timeout, "deadline exceeded")
		},
	}

	q, _ := newTestQueue(testInsightConfig(), client, nil)

	_, err := q.Submit(context.Background(), Request{Priority: 5, Realtime: true})
	if !fault.Is(err, fault.Timeout) {
		t.Fatalf("Submit() error = %v, want kind %s", err, fault.Timeout)
	}
	if got := client.calls.Load(); got != 3 {
		t.Fatalf("client calls = %d, want 3", got)
	}
}

func TestQueueAuthFailureNotRetried(t *testing.T) {
	client := &fakeClient{
		complete: func(ctx context.Context, req llm.Request) (llm.Response, error) {
			return llm.Response{}, fault.Errorf(fault.AuthFailed, "invalid api key")
		},
	}

	q, delays := newTestQueue(testInsightConfig(), client, nil)

	_, err := q.Submit(context.Background(), Request{Priority: 5, Realtime: true})
	if !fault.Is(err, fault.AuthFailed) {
		t.Fatalf("Submit() error = %v, want kind %s", err, fault.AuthFailed)
	}
	if got := client.calls.Load(); got != 1 {
		t.Fatalf("client calls = %d, want 1", got)
	}
	if got := delays(); len(got) != 0 {
		t.Fatalf("retry delays = %v, want none", got)
	}
}

func TestQueueProcessingErrorRetriedOnce(t *testing.T) {
	client := &fakeClient{
		complete: func(ctx context.Context, req llm.Request) (llm.Response, error) {
			return llm.Response{}, fault.Errorf(fault.ProcessingError, "malformed response")
		},
	}

	q, _ := newTestQueue(testInsightConfig(), client, nil)

	_, err := q.Submit(context.Background(), Request{Priority: 5, Realtime: true})
	if !fault.Is(err, fault.ProcessingError) {
		t.Fatalf("Submit() error = %v, want kind %s", err, fault.ProcessingError)
	}
	if got := client.calls.Load(); got != 2 {
		t.Fatalf("client calls = %d, want 2", got)
	}
}

func TestQueueOpenBreakerFailsFast(t *testing.T) {
	client := &fakeClient{
		complete: func(ctx context.Context, req llm.Request) (llm.Response, error) {
			return llm.Response{Text: "should not run"}, nil
		},
	}
	guard := &fakeGuard{allowErr: fault.Errorf(fault.CircuitOpen, "analysis circuit open")}

	q, delays := newTestQueue(testInsightConfig(), client, guard)

	_, err := q.Submit(context.Background(), Request{Priority: 5, Realtime: true})
	if !fault.Is(err, fault.CircuitOpen) {
		t.Fatalf("Submit() error = %v, want kind %s", err, fault.CircuitOpen)
	}
	if got := client.calls.Load(); got != 0 {
		t.Fatalf("client calls = %d, want 0 while circuit is open", got)
	}
	if got := delays(); len(got) != 0 {
		t.Fatalf("retry delays = %v, want none while circuit is open", got)
	}
}

func TestQueueReportsOutcomesToGuard(t *testing.T) {
	var attempts atomic.Int64
	client := &fakeClient{
		complete: func(ctx context.Context, req llm.Request) (llm.Response, error) {
			if attempts.Add(1) == 1 {
				return llm.Response{}, errors.New("connection reset")
			}
			return llm.Response{Text: "ok"}, nil
		},
	}
	guard := &fakeGuard{}

	q, _ := newTestQueue(testInsightConfig(), client, guard)

	if _, err := q.Submit(context.Background(), Request{Priority: 5, Realtime: true}); err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if got := guard.failures.Load(); got != 1 {
		t.Fatalf("failures reported = %d, want 1", got)
	}
	if got := guard.successes.Load(); got != 1 {
		t.Fatalf("successes reported = %d, want 1", got)
	}
}

func TestQueueSubmitHonorsCanceledContext(t *testing.T) {
	client := &fakeClient{
		complete: func(ctx context.Context, req llm.Request) (llm.Response, error) {
			return llm.Response{Text: "ok"}, nil
		},
	}
	q, _ := newTestQueue(testInsightConfig(), client, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := q.Submit(ctx, Request{Priority: 5, Realtime: true}); !errors.Is(err, context.Canceled) {
		t.Fatalf("Submit() error = %v, want context.Canceled", err)
	}
}
