// Package scheduler implements the per-user debounce/max-wait extraction
// trigger: C4 in the spec's module numbering. Its job-state machine mirrors
// the teacher corpus's quiet-timer idiom (yy1588133-myclaw/internal/memory
// ExtractionService.resetQuietTimer: a mutex-guarded *time.Timer reset on
// every call), extended with a second, never-reset ceiling timer so a user
// who never stops talking still gets flushed at D_max_wait.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/chatmemory/engine/internal/extraction"
	"github.com/chatmemory/engine/internal/telemetry"
)

const extractJobName = "extract"

// State is one node of the per-user job state machine described by spec.md
// §4.4: delayed -> waiting -> active -> completed/failed.
type State string

const (
	StateDelayed   State = "delayed"
	StateWaiting   State = "waiting"
	StateActive    State = "active"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
)

// job is the scheduler's own bookkeeping for one dedup key. It is the single
// source of truth for state; QueueBackend deliveries are treated as wake
// hints and re-validated against it, so a duplicate or late delivery from
// two independent timers racing is always idempotent.
type job struct {
	userID        string
	state         State
	firstQueuedAt time.Time
	attempts      int
	debounceTimer *time.Timer
	maxWaitTimer  *time.Timer
}

// Config holds the operational constants spec.md §4.4 and §7 name.
// OperationalProfile supplies Test() and Production() presets.
type Config struct {
	Debounce      time.Duration
	MaxWait       time.Duration
	Workers       int
	MaxAttempts   int
	RetryBase     time.Duration
	RateLimit     int           // jobs started per RateWindow
	RateWindow    time.Duration
	FailedJobTTL  time.Duration
	Queue         QueueBackend // defaults to an in-process backend
	Metrics       *telemetry.Metrics
}

// ExtractFunc runs one user's extraction pipeline. extraction.Pipeline.Extract
// satisfies this signature.
type ExtractFunc func(ctx context.Context, userID string) (extraction.Stats, error)

// Scheduler debounces Schedule calls per user and dispatches a bounded
// worker pool that runs extract once the debounce window elapses or
// D_max_wait is reached, whichever comes first.
type Scheduler struct {
	mu   sync.Mutex
	jobs map[string]*job

	queue   QueueBackend
	extract ExtractFunc
	limiter *rate.Limiter
	metrics *telemetry.Metrics

	debounce     time.Duration
	maxWait      time.Duration
	workers      int
	maxAttempts  int
	retryBase    time.Duration
	failedJobTTL time.Duration

	stopCh chan struct{}
	wg     sync.WaitGroup
}

func New(cfg Config, extract ExtractFunc) *Scheduler {
	queue := cfg.Queue
	if queue == nil {
		queue = newInProcessQueue()
	}
	workers := cfg.Workers
	if workers <= 0 {
		workers = 4
	}
	maxAttempts := cfg.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	retryBase := cfg.RetryBase
	if retryBase <= 0 {
		retryBase = 2 * time.Second
	}
	failedTTL := cfg.FailedJobTTL
	if failedTTL <= 0 {
		failedTTL = 10 * time.Minute
	}
	rateLimit := cfg.RateLimit
	if rateLimit <= 0 {
		rateLimit = 50
	}
	rateWindow := cfg.RateWindow
	if rateWindow <= 0 {
		rateWindow = time.Second
	}

	return &Scheduler{
		jobs:         make(map[string]*job),
		queue:        queue,
		extract:      extract,
		limiter:      rate.NewLimiter(rate.Limit(float64(rateLimit)/rateWindow.Seconds()), rateLimit),
		metrics:      cfg.Metrics,
		debounce:     cfg.Debounce,
		maxWait:      cfg.MaxWait,
		workers:      workers,
		maxAttempts:  maxAttempts,
		retryBase:    retryBase,
		failedJobTTL: failedTTL,
		stopCh:       make(chan struct{}),
	}
}

func dedupKey(userID string) string { return fmt.Sprintf("extract:%s", userID) }

// Start launches the worker pool. It must be called once before Schedule is
// useful; Schedule itself never blocks on Start having run.
func (s *Scheduler) Start(ctx context.Context) error {
	ready, err := s.queue.Subscribe(extractJobName)
	if err != nil {
		return err
	}
	for i := 0; i < s.workers; i++ {
		s.wg.Add(1)
		go s.worker(ctx, ready)
	}
	return nil
}

// Stop signals workers to drain and blocks until they exit.
func (s *Scheduler) Stop(_ context.Context) {
	close(s.stopCh)
	s.wg.Wait()
}

func (s *Scheduler) worker(ctx context.Context, ready <-chan JobRecord) {
	defer s.wg.Done()
	for {
		select {
		case <-s.stopCh:
			return
		case rec, ok := <-ready:
			if !ok {
				return
			}
			s.runJob(ctx, rec.Payload)
		}
	}
}

// Schedule records one new turn for userID, creating a job if none is
// pending, resetting the debounce window if one already is, or no-oping if
// the existing job is already running or dispatched.
func (s *Scheduler) Schedule(userID string) {
	key := dedupKey(userID)

	s.mu.Lock()
	j, exists := s.jobs[key]
	if exists {
		switch j.state {
		case StateActive, StateWaiting:
			s.mu.Unlock()
			return
		case StateDelayed:
			if j.debounceTimer != nil {
				j.debounceTimer.Stop()
			}
			j.debounceTimer = time.AfterFunc(s.debounce, func() { s.promote(key) })
			s.mu.Unlock()
			return
		}
		// completed/failed: fall through and start a fresh cycle.
	}

	now := time.Now()
	j = &job{userID: userID, state: StateDelayed, firstQueuedAt: now}
	j.debounceTimer = time.AfterFunc(s.debounce, func() { s.promote(key) })
	j.maxWaitTimer = time.AfterFunc(s.maxWait, func() { s.promote(key) })
	s.jobs[key] = j
	depth := len(s.jobs)
	s.mu.Unlock()

	if s.metrics != nil {
		s.metrics.SetQueueDepth(depth)
	}
}

// promote fires from either the debounce timer or the max-wait ceiling
// timer; both call it with the same key, so the delayed->waiting transition
// it performs must be idempotent against a near-simultaneous double fire.
func (s *Scheduler) promote(key string) {
	s.mu.Lock()
	j, ok := s.jobs[key]
	if !ok || j.state != StateDelayed {
		s.mu.Unlock()
		return
	}
	j.state = StateWaiting
	userID := j.userID
	s.mu.Unlock()

	if _, err := s.queue.Add(extractJobName, userID, AddOptions{JobID: key, Dedup: &Dedup{ID: key}}); err != nil {
		slog.Error("scheduler: dispatch failed", "user_id", userID, "err", err)
	}
}

// runJob is invoked by a worker for one delivered JobRecord payload. A
// delivery is only honored if the job is still in StateWaiting; any other
// state means a prior delivery already claimed it (or it was superseded),
// so this one is dropped, which is what keeps the at-most-one-active-run
// invariant safe against duplicate wakeups from the two timers.
func (s *Scheduler) runJob(ctx context.Context, userID string) {
	key := dedupKey(userID)

	s.mu.Lock()
	j, ok := s.jobs[key]
	if !ok || j.state != StateWaiting {
		s.mu.Unlock()
		return
	}
	j.state = StateActive
	if j.debounceTimer != nil {
		j.debounceTimer.Stop()
	}
	if j.maxWaitTimer != nil {
		j.maxWaitTimer.Stop()
	}
	s.mu.Unlock()

	if err := s.limiter.Wait(ctx); err != nil {
		s.finishFailed(key, userID, 0, err)
		return
	}

	_, err := s.extract(ctx, userID)
	if err == nil {
		s.finishSucceeded(key)
		return
	}

	s.mu.Lock()
	j, ok = s.jobs[key]
	attempts := 0
	if ok {
		j.attempts++
		attempts = j.attempts
	}
	s.mu.Unlock()

	if isRetryable(err) && attempts < s.maxAttempts {
		s.retryAfterBackoff(key, userID, attempts)
		return
	}
	s.finishFailed(key, userID, attempts, err)
}

func (s *Scheduler) finishSucceeded(key string) {
	s.mu.Lock()
	delete(s.jobs, key)
	depth := len(s.jobs)
	s.mu.Unlock()

	if s.metrics != nil {
		s.metrics.SetQueueDepth(depth)
	}
	if err := s.queue.RemoveDedupKey(key); err != nil {
		slog.Warn("scheduler: dedup cleanup failed", "key", key, "err", err)
	}
}

// retryAfterBackoff re-arms the job as a fresh delayed cycle, with the
// debounce window replaced by an exponential backoff delay and a fresh
// max-wait ceiling. It deliberately does not reuse firstQueuedAt: a retry is
// not the user talking again, so the S6 max-wait law doesn't apply to it.
func (s *Scheduler) retryAfterBackoff(key, userID string, attempts int) {
	backoff := computeBackoff(s.retryBase, attempts)

	s.mu.Lock()
	j, ok := s.jobs[key]
	if !ok {
		s.mu.Unlock()
		return
	}
	j.state = StateDelayed
	j.firstQueuedAt = time.Now()
	j.debounceTimer = time.AfterFunc(backoff, func() { s.promote(key) })
	j.maxWaitTimer = time.AfterFunc(s.maxWait, func() { s.promote(key) })
	s.mu.Unlock()

	slog.Warn("scheduler: extraction failed, retrying", "user_id", userID, "attempt", attempts, "backoff", backoff)
}

func (s *Scheduler) finishFailed(key, userID string, attempts int, err error) {
	s.mu.Lock()
	j, ok := s.jobs[key]
	if ok {
		j.state = StateFailed
	}
	s.mu.Unlock()

	slog.Error("scheduler: extraction exhausted retries", "user_id", userID, "attempts", attempts, "err", err)

	if err := s.queue.RemoveDedupKey(key); err != nil {
		slog.Warn("scheduler: dedup cleanup failed", "key", key, "err", err)
	}
	if !ok {
		return
	}
	time.AfterFunc(s.failedJobTTL, func() {
		s.mu.Lock()
		if cur, ok := s.jobs[key]; ok && cur.state == StateFailed {
			delete(s.jobs, key)
		}
		depth := len(s.jobs)
		s.mu.Unlock()
		if s.metrics != nil {
			s.metrics.SetQueueDepth(depth)
		}
	})
}

// Status reports the current state of a user's job, for tests and
// diagnostics. The zero State means no job is tracked.
func (s *Scheduler) Status(userID string) State {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[dedupKey(userID)]
	if !ok {
		return ""
	}
	return j.state
}
