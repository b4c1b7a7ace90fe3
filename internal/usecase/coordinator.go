package usecase

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"bonsaipay/internal/domain"
)

const (
	DefaultWorkerCount    = 4
	DefaultQueueSize      = 32
	DefaultRequestTimeout = 5 * time.Minute
)

var errCoordinatorClosed = errors.New("coordinator is shut down")

// Work is the slow part of a request: proving and chain round trips.
type Work func(ctx context.Context) (domain.ActionResult, error)

type CoordinatorOptions struct {
	Workers   int
	QueueSize int
	Timeout   time.Duration
	Metrics   Metrics
	Events    *EventEmitter
	Clock     Clock
	Logger    *zap.Logger
}

// Coordinator runs request work on a fixed pool of workers. Callers wait on
// a one-shot completion channel; a worker that panics closes it without a
// result, which the caller sees as ErrAbandoned.
type Coordinator struct {
	jobs    chan *job
	timeout time.Duration
	metrics Metrics
	events  *EventEmitter
	clock   Clock
	logger  *zap.Logger

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

type job struct {
	ctx  context.Context
	req  *domain.Request
	work Work
	done chan outcome
}

type outcome struct {
	result domain.ActionResult
	err    error
}

func NewCoordinator(opts CoordinatorOptions) *Coordinator {
	if opts.Workers <= 0 {
		opts.Workers = DefaultWorkerCount
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = DefaultQueueSize
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultRequestTimeout
	}
	if opts.Metrics == nil {
		opts.Metrics = nopMetrics{}
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	c := &Coordinator{
		jobs:    make(chan *job, opts.QueueSize),
		timeout: opts.Timeout,
		metrics: opts.Metrics,
		events:  opts.Events,
		clock:   opts.Clock,
		logger:  opts.Logger,
	}
	c.wg.Add(opts.Workers)
	for i := 0; i < opts.Workers; i++ {
		go c.worker()
	}
	return c
}

// Begin registers an inbound request and moves it to Verifying.
func (c *Coordinator) Begin(action domain.Action) *domain.Request {
	now := nowFrom(c.clock)
	req := domain.NewRequest(uuid.NewString(), action, now)
	_ = req.Transition(domain.RequestVerifying, now)
	return req
}

// Reject ends a request that never reached a worker.
func (c *Coordinator) Reject(ctx context.Context, req *domain.Request, err error) error {
	c.finish(ctx, req, domain.RequestFailed, err, nil)
	return err
}

// Dispatch hands work to the pool and waits for it. The wait ends on a
// result, on abandonment, or after the configured timeout. A timed out
// worker keeps running; its result is dropped.
func (c *Coordinator) Dispatch(ctx context.Context, req *domain.Request, work Work) (domain.ActionResult, error) {
	j := &job{
		ctx:  context.WithoutCancel(ctx),
		req:  req,
		work: work,
		done: make(chan outcome, 1),
	}
	if err := c.enqueue(j); err != nil {
		return domain.ActionResult{}, c.Reject(ctx, req, err)
	}
	_ = req.Transition(domain.RequestProvingAndActing, nowFrom(c.clock))
	c.metrics.QueueDepth(len(c.jobs))

	timer := time.NewTimer(c.timeout)
	defer timer.Stop()
	select {
	case out, ok := <-j.done:
		if !ok {
			err := fmt.Errorf("%w: worker terminated without a result", domain.ErrAbandoned)
			c.finish(ctx, req, domain.RequestAbandoned, err, nil)
			return domain.ActionResult{}, err
		}
		if out.err != nil {
			c.finish(ctx, req, domain.RequestFailed, out.err, nil)
			return domain.ActionResult{}, out.err
		}
		c.finish(ctx, req, domain.RequestCompleted, nil, &out.result)
		return out.result, nil
	case <-timer.C:
		err := fmt.Errorf("%w after %s", domain.ErrTimeout, c.timeout)
		c.finish(ctx, req, domain.RequestFailed, err, nil)
		return domain.ActionResult{}, err
	case <-ctx.Done():
		err := fmt.Errorf("%w: caller gone: %v", domain.ErrTimeout, ctx.Err())
		c.finish(ctx, req, domain.RequestFailed, err, nil)
		return domain.ActionResult{}, err
	}
}

func (c *Coordinator) enqueue(j *job) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return fmt.Errorf("%w: %v", domain.ErrOverloaded, errCoordinatorClosed)
	}
	select {
	case c.jobs <- j:
		return nil
	default:
		return fmt.Errorf("%w: worker queue full", domain.ErrOverloaded)
	}
}

func (c *Coordinator) worker() {
	defer c.wg.Done()
	for j := range c.jobs {
		c.run(j)
	}
}

func (c *Coordinator) run(j *job) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("worker panic",
				zap.String("request_id", j.req.ID),
				zap.Any("panic", r),
				zap.ByteString("stack", debug.Stack()),
			)
			close(j.done)
		}
	}()
	result, err := j.work(j.ctx)
	j.done <- outcome{result: result, err: err}
	close(j.done)
}

func (c *Coordinator) finish(ctx context.Context, req *domain.Request, state domain.RequestState, err error, result *domain.ActionResult) {
	req.Err = err
	if terr := req.Transition(state, nowFrom(c.clock)); terr != nil {
		c.logger.Error("request state", zap.String("request_id", req.ID), zap.Error(terr))
		return
	}
	elapsed := req.UpdatedAt.Sub(req.ReceivedAt)
	code := domain.ErrorCode(err)
	c.metrics.RequestFinished(req.Action, state, code, elapsed)

	fields := []zap.Field{
		zap.String("request_id", req.ID),
		zap.String("action", string(req.Action)),
		zap.String("identity_hash", req.IdentityHash),
		zap.String("state", string(state)),
		zap.Duration("elapsed", elapsed),
	}
	switch state {
	case domain.RequestCompleted:
		c.logger.Info("request completed", fields...)
	case domain.RequestAbandoned:
		c.logger.Error("request abandoned", append(fields, zap.Error(err))...)
	default:
		c.logger.Warn("request failed", append(fields, zap.String("error_code", code), zap.Error(err))...)
	}
	if c.events != nil {
		c.events.EmitRequestFinished(ctx, req, result)
	}
}

// QueueDepth reports jobs waiting for a worker.
func (c *Coordinator) QueueDepth() int {
	return len(c.jobs)
}

// Shutdown stops accepting work and waits for queued jobs to drain.
func (c *Coordinator) Shutdown(ctx context.Context) error {
	c.mu.Lock()
	if !c.closed {
		c.closed = true
		close(c.jobs)
	}
	c.mu.Unlock()

	drained := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(drained)
	}()
	select {
	case <-drained:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
