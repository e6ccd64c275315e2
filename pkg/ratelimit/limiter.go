// Package ratelimit implements a token-bucket admission controller with a
// priority queue, jitter, and adaptive rate correction from server-reported
// limit headers. One Limiter instance guards one logical endpoint class.
package ratelimit

import (
	"container/heap"
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"

	"github.com/sellerkit/spapi-client/pkg/logging"
)

// Prometheus metrics for rate limiter operations.
var (
	dispatchedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "spapi_ratelimit_dispatched_total",
		Help: "Total operations dispatched by limiter",
	}, []string{"limiter"})

	queueDepth = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "spapi_ratelimit_queue_depth",
		Help: "Current number of queued operations by limiter",
	}, []string{"limiter"})

	queueWaitSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "spapi_ratelimit_queue_wait_seconds",
		Help:    "Time operations spent queued before dispatch by limiter",
		Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
	}, []string{"limiter"})

	rateAdjustmentsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "spapi_ratelimit_rate_adjustments_total",
		Help: "Total adaptive rate adjustments from server-reported limits",
	}, []string{"limiter"})

	rejectedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "spapi_ratelimit_rejected_total",
		Help: "Total queued operations rejected without dispatch by limiter and reason",
	}, []string{"limiter", "reason"})
)

// Errors returned to waiters whose task never dispatched.
var (
	// ErrQueueCleared is returned by tasks dropped via ClearQueue.
	ErrQueueCleared = errors.New("rate limiter queue cleared")

	// ErrLimiterClosed is returned by tasks scheduled on or pending in a
	// closed limiter.
	ErrLimiterClosed = errors.New("rate limiter closed")
)

// RateLimitHeader is the server-reported per-endpoint rate header.
const RateLimitHeader = "x-amzn-RateLimit-Limit"

// adaptiveSafetyFactor is the fraction of a server-reported limit adopted
// as the new configured rate.
const adaptiveSafetyFactor = 0.8

// adjustmentDeadband suppresses adaptive corrections whose relative change
// is below this fraction, so noisy header observations do not cause the
// rate to oscillate.
const adjustmentDeadband = 0.05

// Config holds limiter configuration. RequestsPerSecond may later change
// through adaptive correction; the remaining fields are fixed at
// construction.
type Config struct {
	// RequestsPerSecond is the sustained admission rate. Tune it below
	// the documented endpoint ceiling (typically 80%).
	RequestsPerSecond float64

	// BurstLimit caps the number of tokens the bucket can hold.
	BurstLimit int

	// JitterFraction scales the random extra delay added to each idle
	// tick, as a fraction of the refill interval.
	JitterFraction float64

	// MaxJitter caps the random extra delay.
	MaxJitter time.Duration
}

// DefaultConfig returns a conservative default configuration.
func DefaultConfig() Config {
	return Config{
		RequestsPerSecond: 5,
		BurstLimit:        5,
		JitterFraction:    0.1,
		MaxJitter:         200 * time.Millisecond,
	}
}

// Status is a read-only snapshot of limiter state, for observability.
type Status struct {
	QueueLength       int
	AvailableTokens   int
	RequestsPerSecond float64
	Busy              bool
}

// Limiter is a token-bucket admission controller for one endpoint class.
// A single scheduler goroutine owns the bucket state and dispatches queued
// operations sequentially; this is the limiter's only mutual-exclusion
// boundary and doubles as backpressure for callers.
type Limiter struct {
	name   string
	logger zerolog.Logger

	mu             sync.Mutex
	cfg            Config
	refillInterval time.Duration
	tokens         int
	lastRefill     time.Time
	queue          taskQueue
	seq            uint64
	busy           bool
	closed         bool

	wake chan struct{}
	done chan struct{}
}

// New creates and starts a limiter for the named endpoint class.
func New(name string, cfg Config) (*Limiter, error) {
	if cfg.RequestsPerSecond <= 0 {
		return nil, fmt.Errorf("requests_per_second must be > 0 (got %v)", cfg.RequestsPerSecond)
	}
	if cfg.BurstLimit < 1 {
		return nil, fmt.Errorf("burst_limit must be >= 1 (got %d)", cfg.BurstLimit)
	}
	if cfg.JitterFraction < 0 {
		return nil, fmt.Errorf("jitter_fraction must be >= 0 (got %v)", cfg.JitterFraction)
	}

	l := &Limiter{
		name:           name,
		logger:         logging.NewLogger("ratelimit").With().Str("limiter", name).Logger(),
		cfg:            cfg,
		refillInterval: intervalFor(cfg.RequestsPerSecond),
		tokens:         cfg.BurstLimit,
		lastRefill:     time.Now(),
		wake:           make(chan struct{}, 1),
		done:           make(chan struct{}),
	}

	go l.run()
	return l, nil
}

func intervalFor(requestsPerSecond float64) time.Duration {
	return time.Duration(float64(time.Second) / requestsPerSecond)
}

// Schedule enqueues an operation and returns its future. Higher priority
// dispatches first; equal priorities dispatch in submission order.
func (l *Limiter) Schedule(ctx context.Context, op Operation, priority int) *Task {
	if ctx == nil {
		ctx = context.Background()
	}
	task := &Task{
		op:       op,
		ctx:      ctx,
		priority: priority,
		enqueued: time.Now(),
		done:     make(chan struct{}),
	}

	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		task.resolve(ErrLimiterClosed)
		return task
	}
	task.seq = l.seq
	l.seq++
	heap.Push(&l.queue, task)
	queueDepth.WithLabelValues(l.name).Set(float64(l.queue.Len()))
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}

	return task
}

// Do schedules op and blocks until it resolves or ctx is cancelled.
func (l *Limiter) Do(ctx context.Context, op Operation, priority int) error {
	return l.Schedule(ctx, op, priority).Wait(ctx)
}

// run is the scheduler loop. It is driven by the monotonic clock: tokens
// refill in whole units of elapsed time divided by the refill interval,
// clamped to the burst limit. While tokens remain the queue drains
// immediately (bursts dispatch back to back); once the bucket is empty the
// loop sleeps one refill interval plus jitter before checking again.
func (l *Limiter) run() {
	for {
		l.mu.Lock()
		l.refillLocked(time.Now())

		// Drop queued tasks whose context expired before dispatch.
		// They do not consume a token.
		for l.queue.Len() > 0 && l.queue[0].ctx.Err() != nil {
			task := heap.Pop(&l.queue).(*Task)
			rejectedTotal.WithLabelValues(l.name, "context").Inc()
			task.resolve(task.ctx.Err())
		}

		var task *Task
		if l.queue.Len() > 0 && l.tokens >= 1 {
			task = heap.Pop(&l.queue).(*Task)
			l.tokens--
			l.busy = true
		}
		queueDepth.WithLabelValues(l.name).Set(float64(l.queue.Len()))
		idle := l.queue.Len() == 0 && task == nil
		delay := l.tickDelayLocked()
		l.mu.Unlock()

		if task != nil {
			dispatchedTotal.WithLabelValues(l.name).Inc()
			queueWaitSeconds.WithLabelValues(l.name).Observe(time.Since(task.enqueued).Seconds())
			l.logger.Debug().
				Int("priority", task.priority).
				Uint64("seq", task.seq).
				Msg("Dispatching task")
			task.resolve(task.op(task.ctx))

			l.mu.Lock()
			l.busy = false
			l.mu.Unlock()
			continue
		}

		if idle {
			select {
			case <-l.wake:
			case <-l.done:
				return
			}
			continue
		}

		// Queue is non-empty but the bucket is dry: wait for a refill.
		select {
		case <-time.After(delay):
		case <-l.done:
			return
		}
	}
}

// refillLocked adds floor(elapsed/interval) tokens, clamped to the burst
// limit. The caller holds l.mu.
func (l *Limiter) refillLocked(now time.Time) {
	elapsed := now.Sub(l.lastRefill)
	if elapsed < l.refillInterval {
		return
	}
	n := int(elapsed / l.refillInterval)
	l.tokens += n
	if l.tokens >= l.cfg.BurstLimit {
		l.tokens = l.cfg.BurstLimit
		l.lastRefill = now
		return
	}
	l.lastRefill = l.lastRefill.Add(time.Duration(n) * l.refillInterval)
}

// tickDelayLocked returns the idle-tick sleep: one refill interval plus
// uniform random jitter, capped at MaxJitter. The caller holds l.mu.
func (l *Limiter) tickDelayLocked() time.Duration {
	jitter := time.Duration(rand.Float64() * l.cfg.JitterFraction * float64(l.refillInterval))
	if l.cfg.MaxJitter > 0 && jitter > l.cfg.MaxJitter {
		jitter = l.cfg.MaxJitter
	}
	return l.refillInterval + jitter
}

// AdjustFromHeaders applies adaptive rate correction from a response. When
// the server reports a rate limit that meaningfully differs from the
// configured rate, the limiter adopts 80% of the reported value as a
// safety margin and recomputes the refill interval. Changes below the
// deadband are ignored.
func (l *Limiter) AdjustFromHeaders(headers http.Header) {
	raw := headers.Get(RateLimitHeader)
	if raw == "" {
		return
	}

	reported, err := strconv.ParseFloat(raw, 64)
	if err != nil || reported <= 0 {
		l.logger.Warn().Str("value", raw).Msg("Unparseable rate limit header")
		return
	}

	target := reported * adaptiveSafetyFactor

	l.mu.Lock()
	defer l.mu.Unlock()

	current := l.cfg.RequestsPerSecond
	if math.Abs(target-current)/current < adjustmentDeadband {
		return
	}

	l.cfg.RequestsPerSecond = target
	l.refillInterval = intervalFor(target)
	rateAdjustmentsTotal.WithLabelValues(l.name).Inc()

	l.logger.Info().
		Float64("reported", reported).
		Float64("previous", current).
		Float64("effective", target).
		Dur("refill_interval", l.refillInterval).
		Msg("Adjusted rate from server-reported limit")
}

// ClearQueue drops every queued task, rejecting each future with
// ErrQueueCleared so no waiter is left hanging.
func (l *Limiter) ClearQueue() {
	l.mu.Lock()
	dropped := l.drainLocked()
	l.mu.Unlock()

	for _, task := range dropped {
		rejectedTotal.WithLabelValues(l.name, "cleared").Inc()
		task.resolve(ErrQueueCleared)
	}

	if len(dropped) > 0 {
		l.logger.Warn().Int("dropped", len(dropped)).Msg("Queue cleared")
	}
}

// Close stops the scheduler and rejects all pending tasks with
// ErrLimiterClosed. Safe to call more than once.
func (l *Limiter) Close() {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return
	}
	l.closed = true
	dropped := l.drainLocked()
	l.mu.Unlock()

	close(l.done)
	for _, task := range dropped {
		rejectedTotal.WithLabelValues(l.name, "closed").Inc()
		task.resolve(ErrLimiterClosed)
	}
}

// drainLocked removes and returns all queued tasks. The caller holds l.mu
// and must resolve the returned tasks after releasing it.
func (l *Limiter) drainLocked() []*Task {
	if l.queue.Len() == 0 {
		return nil
	}
	dropped := make([]*Task, 0, l.queue.Len())
	for l.queue.Len() > 0 {
		dropped = append(dropped, heap.Pop(&l.queue).(*Task))
	}
	queueDepth.WithLabelValues(l.name).Set(0)
	return dropped
}

// Status returns a snapshot of the limiter state.
func (l *Limiter) Status() Status {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.refillLocked(time.Now())
	return Status{
		QueueLength:       l.queue.Len(),
		AvailableTokens:   l.tokens,
		RequestsPerSecond: l.cfg.RequestsPerSecond,
		Busy:              l.busy,
	}
}
