package worker

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/spec-kit/triage-service/internal/config"
	"github.com/spec-kit/triage-service/internal/domain"
	"github.com/spec-kit/triage-service/internal/observability"
	apperrors "github.com/spec-kit/triage-service/pkg/util/errorutil"
)

const noticeTimeout = 15 * time.Second

var errShuttingDown = errors.New("delegation pool shutting down")

// TaskHandler performs the analysis for a task and publishes its outcome. Exactly one of
// OnCompleted or OnFailed is called per submitted task.
type TaskHandler interface {
	Analyze(ctx context.Context, task domain.DelegationTask) (*domain.AnalysisReport, error)
	OnCompleted(ctx context.Context, task domain.DelegationTask, report *domain.AnalysisReport)
	OnFailed(ctx context.Context, task domain.DelegationTask, cause error)
}

// PoolOptions sizes the pool.
type PoolOptions struct {
	Workers        int
	QueueSize      int
	MaxRetries     int
	Backoff        time.Duration
	AttemptTimeout time.Duration
}

// OptionsFromConfig derives pool options. Each analysis attempt is bounded by the
// log-monitor timeout.
func OptionsFromConfig(cfg config.DelegationConfig, analysis config.AnalysisConfig) PoolOptions {
	return PoolOptions{
		Workers:        cfg.Workers,
		QueueSize:      cfg.QueueSize,
		MaxRetries:     cfg.MaxRetries,
		Backoff:        cfg.Backoff(),
		AttemptTimeout: analysis.Timeout(),
	}
}

// PoolStats is a point-in-time view of the pool.
type PoolStats struct {
	Workers   int   `json:"workers"`
	Capacity  int   `json:"capacity"`
	Queued    int   `json:"queued"`
	Running   int   `json:"running"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
}

// DelegationPool runs delegation tasks on a fixed set of workers. Admission never blocks:
// a full queue or a ticket that already has a pending or running task is rejected.
// Urgent tasks are dequeued before normal ones.
type DelegationPool struct {
	opts    PoolOptions
	handler TaskHandler
	logger  *zap.Logger
	metrics *observability.Metrics

	mu       sync.Mutex
	urgent   []*domain.DelegationTask
	normal   []*domain.DelegationTask
	inFlight map[string]*domain.DelegationTask
	closed   bool
	started  bool
	wake     chan struct{}

	completed atomic.Int64
	failed    atomic.Int64

	runCtx      context.Context
	cancelRun   context.CancelFunc
	wg          sync.WaitGroup
	noticeGrace time.Duration
}

// NewDelegationPool creates a stopped pool. Call Start to launch the workers.
func NewDelegationPool(opts PoolOptions, handler TaskHandler, logger *zap.Logger, metrics *observability.Metrics) *DelegationPool {
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = 1
	}
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	runCtx, cancel := context.WithCancel(context.Background())
	return &DelegationPool{
		opts:        opts,
		handler:     handler,
		logger:      logger.Named("delegation"),
		metrics:     metrics,
		inFlight:    make(map[string]*domain.DelegationTask),
		wake:        make(chan struct{}, opts.QueueSize),
		runCtx:      runCtx,
		cancelRun:   cancel,
		noticeGrace: noticeTimeout,
	}
}

// Start launches the workers. Subsequent calls are no-ops.
func (p *DelegationPool) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started || p.closed {
		return
	}
	p.started = true
	for i := 0; i < p.opts.Workers; i++ {
		p.wg.Add(1)
		go p.loop(i)
	}
	p.logger.Info("delegation pool started",
		zap.Int("workers", p.opts.Workers),
		zap.Int("queue_size", p.opts.QueueSize))
}

// Submit enqueues a pending task. The duplicate check and the admission happen under one
// lock.
func (p *DelegationPool) Submit(task domain.DelegationTask) error {
	if task.Status != domain.DelegationPending {
		return fmt.Errorf("submit task %s: status %s is not %s", task.ID, task.Status, domain.DelegationPending)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		p.metrics.RecordDelegation("rejected_closed")
		return &apperrors.DomainError{
			Code:       apperrors.CodeQueueSaturated,
			Message:    errShuttingDown.Error(),
			HTTPStatus: http.StatusServiceUnavailable,
			Err:        errShuttingDown,
		}
	}
	if existing, ok := p.inFlight[task.TicketID]; ok {
		p.metrics.RecordDelegation("rejected_duplicate")
		return apperrors.NewDuplicateDelegation(task.TicketID, existing.ID)
	}
	if p.queuedLocked() >= p.opts.QueueSize {
		p.metrics.RecordDelegation("rejected_saturated")
		return apperrors.NewQueueSaturated(p.opts.QueueSize)
	}

	queued := &task
	p.inFlight[task.TicketID] = queued
	if task.Urgency == domain.UrgencyHigh {
		p.urgent = append(p.urgent, queued)
	} else {
		p.normal = append(p.normal, queued)
	}
	select {
	case p.wake <- struct{}{}:
	default:
	}
	p.publishGaugesLocked()
	p.metrics.RecordDelegation(string(domain.DelegationPending))
	p.logger.Info("delegation queued",
		zap.String("task_id", task.ID),
		zap.String("ticket_id", task.TicketID),
		zap.String("urgency", string(task.Urgency)))
	return nil
}

// InFlight reports the pending or running task for a ticket, if any.
func (p *DelegationPool) InFlight(ticketID string) (string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	task, ok := p.inFlight[ticketID]
	if !ok {
		return "", false
	}
	return task.ID, true
}

// Stats returns current occupancy and totals.
func (p *DelegationPool) Stats() PoolStats {
	p.mu.Lock()
	defer p.mu.Unlock()
	queued := p.queuedLocked()
	return PoolStats{
		Workers:   p.opts.Workers,
		Capacity:  p.opts.QueueSize,
		Queued:    queued,
		Running:   len(p.inFlight) - queued,
		Completed: p.completed.Load(),
		Failed:    p.failed.Load(),
	}
}

// Shutdown stops admission and lets the workers drain the queue. When ctx expires first,
// running analyses are cancelled and every task still queued is failed with a notice.
// Shutdown returns only after those notices are written or the notice grace period ends.
func (p *DelegationPool) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	close(p.wake)
	started := p.started
	p.mu.Unlock()

	if !started {
		p.cancelRun()
		p.failQueued()
		return nil
	}

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.cancelRun()
		p.logger.Info("delegation pool drained")
		return nil
	case <-ctx.Done():
		p.logger.Warn("delegation pool drain deadline reached; cancelling remaining work")
		p.cancelRun()
		grace := time.NewTimer(p.noticeGrace)
		defer grace.Stop()
		select {
		case <-done:
		case <-grace.C:
			p.logger.Error("failure notices still pending after grace period",
				zap.Duration("grace", p.noticeGrace))
		}
		p.failQueued()
		return ctx.Err()
	}
}

func (p *DelegationPool) loop(id int) {
	defer p.wg.Done()
	for range p.wake {
		task := p.next()
		if task == nil {
			continue
		}
		p.run(id, task)
	}
}

func (p *DelegationPool) next() *domain.DelegationTask {
	p.mu.Lock()
	defer p.mu.Unlock()
	var task *domain.DelegationTask
	switch {
	case len(p.urgent) > 0:
		task, p.urgent = p.urgent[0], p.urgent[1:]
	case len(p.normal) > 0:
		task, p.normal = p.normal[0], p.normal[1:]
	}
	p.publishGaugesLocked()
	return task
}

func (p *DelegationPool) run(worker int, task *domain.DelegationTask) {
	defer p.release(task)
	log := p.logger.With(
		zap.Int("worker", worker),
		zap.String("task_id", task.ID),
		zap.String("ticket_id", task.TicketID))

	if p.runCtx.Err() != nil {
		p.fail(task, errShuttingDown, log)
		return
	}
	if err := task.Transition(domain.DelegationRunning); err != nil {
		log.Error("unexpected task state", zap.Error(err))
		return
	}

	var lastErr error
	for attempt := 1; attempt <= p.opts.MaxRetries+1; attempt++ {
		task.Attempts = attempt
		report, err := p.attempt(*task)
		if err == nil {
			p.complete(task, report, log)
			return
		}
		lastErr = err
		task.LastError = err.Error()
		if !retryable(err) || attempt > p.opts.MaxRetries {
			break
		}

		delay := p.opts.Backoff << (attempt - 1)
		log.Warn("analysis attempt failed; retrying",
			zap.Int("attempt", attempt),
			zap.Duration("backoff", delay),
			zap.Error(err))
		p.metrics.RecordAnalysisRetry()
		if !p.sleep(delay) {
			lastErr = errShuttingDown
			break
		}
	}
	p.fail(task, lastErr, log)
}

func (p *DelegationPool) attempt(task domain.DelegationTask) (*domain.AnalysisReport, error) {
	ctx := p.runCtx
	if p.opts.AttemptTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.opts.AttemptTimeout)
		defer cancel()
	}
	report, err := p.handler.Analyze(ctx, task)
	if err != nil && errors.Is(ctx.Err(), context.DeadlineExceeded) && !errors.Is(err, context.DeadlineExceeded) {
		err = fmt.Errorf("analysis timed out: %w: %w", context.DeadlineExceeded, err)
	}
	if err == nil && report == nil {
		err = apperrors.NewMalformedResponse("log-monitor", "empty report", nil)
	}
	return report, err
}

func retryable(err error) bool {
	if errors.Is(err, errShuttingDown) || errors.Is(err, context.Canceled) {
		return false
	}
	return apperrors.IsRetryable(err)
}

func (p *DelegationPool) sleep(d time.Duration) bool {
	if d <= 0 {
		return p.runCtx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-p.runCtx.Done():
		return false
	}
}

func (p *DelegationPool) noticeContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(p.runCtx), noticeTimeout)
}

func (p *DelegationPool) complete(task *domain.DelegationTask, report *domain.AnalysisReport, log *zap.Logger) {
	if err := task.Transition(domain.DelegationCompleted); err != nil {
		log.Error("unexpected task state", zap.Error(err))
		return
	}
	task.LastError = ""
	p.metrics.RecordDelegation(string(domain.DelegationCompleted))
	log.Info("delegation completed", zap.Int("attempts", task.Attempts), zap.Int("logs_found", report.LogsFound))

	ctx, cancel := p.noticeContext()
	defer cancel()
	p.handler.OnCompleted(ctx, *task, report)
	p.completed.Add(1)
}

func (p *DelegationPool) fail(task *domain.DelegationTask, cause error, log *zap.Logger) {
	if cause == nil {
		cause = errors.New("analysis failed")
	}
	if err := task.Transition(domain.DelegationFailed); err != nil {
		log.Error("unexpected task state", zap.Error(err))
		return
	}
	task.LastError = cause.Error()
	p.metrics.RecordDelegation(string(domain.DelegationFailed))
	log.Warn("delegation failed", zap.Int("attempts", task.Attempts), zap.Error(cause))

	ctx, cancel := p.noticeContext()
	defer cancel()
	p.handler.OnFailed(ctx, *task, cause)
	p.failed.Add(1)
}

// failQueued fails tasks that were never picked up by a worker.
func (p *DelegationPool) failQueued() {
	p.mu.Lock()
	pending := append(append([]*domain.DelegationTask{}, p.urgent...), p.normal...)
	p.urgent, p.normal = nil, nil
	p.mu.Unlock()

	for _, task := range pending {
		p.fail(task, errShuttingDown, p.logger.With(zap.String("task_id", task.ID)))
		p.release(task)
	}
}

func (p *DelegationPool) release(task *domain.DelegationTask) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if current, ok := p.inFlight[task.TicketID]; ok && current == task {
		delete(p.inFlight, task.TicketID)
	}
	p.publishGaugesLocked()
}

func (p *DelegationPool) queuedLocked() int {
	return len(p.urgent) + len(p.normal)
}

func (p *DelegationPool) publishGaugesLocked() {
	p.metrics.SetPoolGauges(p.queuedLocked(), len(p.inFlight))
}
