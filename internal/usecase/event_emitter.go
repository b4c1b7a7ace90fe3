package usecase

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"bonsaipay/internal/domain"
)

const publishTimeout = 5 * time.Second

// EventEmitter publishes pipeline lifecycle events. Publishing is best
// effort: failures are logged and never reach the request.
//
// Lifecycle events go through a buffered queue drained by one goroutine once
// Async has been called, so a slow broker never holds up a request. A full
// queue drops the event. Without Async they are published inline.
type EventEmitter struct {
	Publisher domain.EventPublisher
	Clock     Clock
	Logger    *zap.Logger

	mu     sync.RWMutex
	queue  chan queuedEvent
	closed bool
	done   chan struct{}
}

type queuedEvent struct {
	ctx   context.Context
	event domain.PipelineEvent
}

func NewEventEmitter(publisher domain.EventPublisher, clock Clock, logger *zap.Logger) *EventEmitter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EventEmitter{Publisher: publisher, Clock: clock, Logger: logger}
}

// Async starts the publishing goroutine with room for buffer pending
// events. Close drains it.
func (e *EventEmitter) Async(buffer int) *EventEmitter {
	if buffer <= 0 {
		buffer = 1
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.queue != nil || e.Publisher == nil {
		return e
	}
	e.queue = make(chan queuedEvent, buffer)
	e.done = make(chan struct{})
	go e.drain(e.queue, e.done)
	return e
}

func (e *EventEmitter) drain(queue <-chan queuedEvent, done chan<- struct{}) {
	defer close(done)
	for q := range queue {
		_ = e.Emit(q.ctx, q.event)
	}
}

// Close stops accepting events and waits for the queued ones to publish.
func (e *EventEmitter) Close() error {
	e.mu.Lock()
	if e.queue == nil || e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	close(e.queue)
	done := e.done
	e.mu.Unlock()
	<-done
	return nil
}

func (e *EventEmitter) dispatch(ctx context.Context, event domain.PipelineEvent) {
	if e == nil || e.Publisher == nil {
		return
	}
	e.mu.RLock()
	if e.queue == nil {
		e.mu.RUnlock()
		_ = e.Emit(ctx, event)
		return
	}
	defer e.mu.RUnlock()
	if e.closed {
		e.Logger.Warn("event emitter closed, dropping event", zap.String("event_type", string(event.Type)))
		return
	}
	select {
	case e.queue <- queuedEvent{ctx: context.WithoutCancel(ctx), event: event}:
	default:
		e.Logger.Warn("event queue full, dropping event",
			zap.String("event_type", string(event.Type)),
			zap.String("request_id", event.RequestID),
		)
	}
}

func (e *EventEmitter) Emit(ctx context.Context, event domain.PipelineEvent) error {
	if e == nil || e.Publisher == nil {
		return nil
	}
	if event.Type == "" {
		return errors.New("event type required")
	}
	if event.Payload == nil {
		event.Payload = map[string]any{}
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = nowFrom(e.Clock).UTC()
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()
	if err := e.Publisher.Publish(ctx, event); err != nil {
		e.Logger.Warn("event publish failed",
			zap.String("event_type", string(event.Type)),
			zap.String("request_id", event.RequestID),
			zap.Error(err),
		)
		return err
	}
	return nil
}

func (e *EventEmitter) EmitRequestFinished(ctx context.Context, req *domain.Request, result *domain.ActionResult) {
	var eventType domain.EventType
	switch req.State {
	case domain.RequestCompleted:
		eventType = domain.EventRequestCompleted
	case domain.RequestAbandoned:
		eventType = domain.EventRequestAbandoned
	default:
		eventType = domain.EventRequestFailed
	}
	payload := map[string]any{
		"duration_ms": req.UpdatedAt.Sub(req.ReceivedAt).Milliseconds(),
	}
	if result != nil {
		if result.Receipt != nil {
			payload["tx_hash"] = result.Receipt.TxHash.Hex()
		}
		if result.Account != nil {
			payload["account"] = result.Account.Address.Hex()
		}
	}
	e.dispatch(ctx, domain.PipelineEvent{
		Type:         eventType,
		RequestID:    req.ID,
		Action:       req.Action,
		IdentityHash: req.IdentityHash,
		ErrorCode:    domain.ErrorCode(req.Err),
		Payload:      payload,
	})
}

func (e *EventEmitter) EmitAccountDeployed(ctx context.Context, rec domain.AccountRecord) {
	e.dispatch(ctx, domain.PipelineEvent{
		Type:         domain.EventAccountDeployed,
		IdentityHash: rec.Identity,
		Payload: map[string]any{
			"account":   rec.Address.Hex(),
			"deploy_tx": rec.DeployTx.Hex(),
			"owner_tx":  rec.OwnerTx.Hex(),
		},
	})
}
