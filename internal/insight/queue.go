// Package insight mediates all calls to the AI analysis backend: a priority
// queue with a concurrency limit, a TTL response cache, selective retry with
// backoff, and circuit-breaker integration.
package insight

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/pitchlens/pitchlens/internal/config"
	"github.com/pitchlens/pitchlens/internal/fault"
	"github.com/pitchlens/pitchlens/internal/health"
	"github.com/pitchlens/pitchlens/internal/llm"
)

// retryBaseDelay seeds the geometric retry backoff.
const retryBaseDelay = time.Second

// Request is one unit of work for the queue. Lower Priority values are served
// first; ties preserve submission order. Realtime requests bypass the cache
// in both directions.
type Request struct {
	Priority int
	CacheKey string
	Realtime bool
	LLM      llm.Request
}

// HealthGuard is the slice of the health monitor the queue consumes.
type HealthGuard interface {
	Allow(dep string) error
	ReportSuccess(dep string)
	ReportFailure(dep string)
}

type outcome struct {
	resp llm.Response
	err  error
}

type item struct {
	id       string
	priority int
	seq      uint64
	attempts int
	created  time.Time
	ctx      context.Context
	req      Request
	done     chan outcome
}

// Usage aggregates token consumption across all completed requests.
type Usage struct {
	InputTokens  int64 `json:"input_tokens"`
	OutputTokens int64 `json:"output_tokens"`
}

// Queue is the request mediator. Submit blocks until the request completes,
// fails terminally, or the caller's context is canceled.
type Queue struct {
	client llm.Client
	cfg    config.Insight
	guard  HealthGuard
	cache  *responseCache

	sleep func(ctx context.Context, d time.Duration) bool

	mu       sync.Mutex
	pending  []*item
	inFlight int
	seq      uint64

	rateLimited  atomic.Int64
	inputTokens  atomic.Int64
	outputTokens atomic.Int64
}

// NewQueue creates a queue over client. guard may be nil in tests.
func NewQueue(cfg config.Insight, client llm.Client, guard HealthGuard) *Queue {
	return &Queue{
		client: client,
		cfg:    cfg,
		guard:  guard,
		cache:  newResponseCache(config.Duration(cfg.CacheTTL, 5*time.Minute)),
		sleep:  sleepCtx,
	}
}

// Start runs the periodic scheduler tick until ctx is canceled. Dispatch also
// happens on submit and on slot release; the tick catches requeued retries.
func (q *Queue) Start(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(config.Duration(q.cfg.SchedulerTick, time.Second))
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				q.cache.sweep()
				q.dispatch()
			}
		}
	}()
}

// Submit enqueues a request and waits for its response.
func (q *Queue) Submit(ctx context.Context, req Request) (llm.Response, error) {
	var key string
	if !req.Realtime && req.CacheKey != "" {
		key = cacheKey(req.CacheKey, req.LLM.Prompt)
		if resp, ok := q.cache.get(key); ok {
			return resp, nil
		}
	}

	it := &item{
		id:      uuid.NewString(),
		created: time.Now(),
		ctx:     ctx,
		req:     req,
		done:    make(chan outcome, 1),
	}

	q.enqueue(it, false)
	q.dispatch()

	select {
	case <-ctx.Done():
		return llm.Response{}, ctx.Err()
	case out := <-it.done:
		if out.err != nil {
			return llm.Response{}, out.err
		}
		if key != "" {
			q.cache.put(key, out.resp)
		}
		return out.resp, nil
	}
}

// RateLimited returns how many rate-limit responses have been observed.
func (q *Queue) RateLimited() int64 { return q.rateLimited.Load() }

// TotalUsage returns cumulative token usage.
func (q *Queue) TotalUsage() Usage {
	return Usage{InputTokens: q.inputTokens.Load(), OutputTokens: q.outputTokens.Load()}
}

// PendingLen returns the number of queued (not in-flight) items.
func (q *Queue) PendingLen() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// enqueue inserts the item in priority order. Retries go to the front of
// their priority band; fresh submissions keep FIFO order within the band.
func (q *Queue) enqueue(it *item, front bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	it.priority = it.req.Priority
	q.seq++
	it.seq = q.seq

	idx := len(q.pending)
	if front {
		for i, p := range q.pending {
			if p.priority >= it.priority {
				idx = i
				break
			}
		}
	} else {
		for i, p := range q.pending {
			if p.priority > it.priority {
				idx = i
				break
			}
		}
	}

	q.pending = append(q.pending, nil)
	copy(q.pending[idx+1:], q.pending[idx:])
	q.pending[idx] = it
}

// dispatch fills free concurrency slots from the head of the queue.
func (q *Queue) dispatch() {
	for {
		q.mu.Lock()
		limit := q.cfg.MaxInFlight
		if limit <= 0 {
			limit = 10
		}
		if q.inFlight >= limit || len(q.pending) == 0 {
			q.mu.Unlock()
			return
		}
		it := q.pending[0]
		q.pending = q.pending[1:]
		q.inFlight++
		q.mu.Unlock()

		go q.run(it)
	}
}

func (q *Queue) release() {
	q.mu.Lock()
	q.inFlight--
	q.mu.Unlock()
	q.dispatch()
}

func (q *Queue) run(it *item) {
	defer q.release()

	if it.ctx.Err() != nil {
		it.done <- outcome{err: it.ctx.Err()}
		return
	}

	// An open breaker overrides retry policy: fail fast, no remote call.
	if q.guard != nil {
		if err := q.guard.Allow(health.DepAnalysis); err != nil {
			it.done <- outcome{err: err}
			return
		}
	}

	resp, err := q.client.Complete(it.ctx, it.req.LLM)
	if err == nil {
		if q.guard != nil {
			q.guard.ReportSuccess(health.DepAnalysis)
		}
		q.inputTokens.Add(int64(resp.InputTokens))
		q.outputTokens.Add(int64(resp.OutputTokens))
		it.done <- outcome{resp: resp}
		return
	}

	if q.guard != nil {
		q.guard.ReportFailure(health.DepAnalysis)
	}
	q.handleFailure(it, err)
}

func (q *Queue) handleFailure(it *item, err error) {
	kind := fault.KindOf(err)
	if kind == fault.RateLimit {
		q.rateLimited.Add(1)
	}

	it.attempts++
	if !q.retryable(kind, err, it.attempts) {
		it.done <- outcome{err: err}
		return
	}

	delay := retryBaseDelay << (it.attempts - 1)
	slog.Debug("insight request retry scheduled",
		"id", it.id, "attempt", it.attempts, "delay", delay, "error", err)

	go func() {
		if !q.sleep(it.ctx, delay) {
			it.done <- outcome{err: it.ctx.Err()}
			return
		}
		q.enqueue(it, true)
		q.dispatch()
	}()
}

// retryable applies the retry policy: retryable kinds get up to MaxRetries
// attempts, parse failures get exactly one retry, terminal kinds none.
func (q *Queue) retryable(kind fault.Kind, err error, attempts int) bool {
	maxRetries := q.cfg.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 3
	}

	if !fault.Retryable(err) {
		return false
	}
	if kind == fault.ProcessingError {
		return attempts <= 1
	}
	return attempts < maxRetries
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
