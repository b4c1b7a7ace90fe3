package usecase

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bonsaipay/internal/domain"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []domain.PipelineEvent
}

func (p *recordingPublisher) Publish(_ context.Context, event domain.PipelineEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return nil
}

func (p *recordingPublisher) types() []domain.EventType {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]domain.EventType, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.Type)
	}
	return out
}

func newTestCoordinator(t *testing.T, opts CoordinatorOptions) *Coordinator {
	t.Helper()
	c := NewCoordinator(opts)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = c.Shutdown(ctx)
	})
	return c
}

func TestDispatchCompletes(t *testing.T) {
	pub := &recordingPublisher{}
	c := newTestCoordinator(t, CoordinatorOptions{Events: NewEventEmitter(pub, nil, nil)})
	req := c.Begin(domain.ActionClaim)

	res, err := c.Dispatch(context.Background(), req, func(context.Context) (domain.ActionResult, error) {
		return domain.ActionResult{Action: domain.ActionClaim}, nil
	})
	require.NoError(t, err)
	assert.Equal(t, domain.ActionClaim, res.Action)
	assert.Equal(t, domain.RequestCompleted, req.State)
	assert.Equal(t, []domain.EventType{domain.EventRequestCompleted}, pub.types())
}

func TestDispatchReturnsWhileBrokerStalls(t *testing.T) {
	pub := newGatedPublisher()
	events := NewEventEmitter(pub, nil, nil).Async(8)
	c := newTestCoordinator(t, CoordinatorOptions{Events: events})
	req := c.Begin(domain.ActionClaim)

	done := make(chan error, 1)
	go func() {
		_, err := c.Dispatch(context.Background(), req, func(context.Context) (domain.ActionResult, error) {
			return domain.ActionResult{Action: domain.ActionClaim}, nil
		})
		done <- err
	}()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("dispatch waited on the event broker")
	}

	close(pub.release)
	require.NoError(t, events.Close())
	assert.Equal(t, []domain.EventType{domain.EventRequestCompleted}, pub.types())
}

func TestDispatchPropagatesDomainError(t *testing.T) {
	c := newTestCoordinator(t, CoordinatorOptions{})
	req := c.Begin(domain.ActionExecute)

	_, err := c.Dispatch(context.Background(), req, func(context.Context) (domain.ActionResult, error) {
		return domain.ActionResult{}, &domain.ProofError{Stage: "session", Err: errBoom}
	})
	assert.ErrorIs(t, err, domain.ErrProofFailed)
	assert.Equal(t, domain.RequestFailed, req.State)
}

func TestDispatchPanicIsAbandoned(t *testing.T) {
	pub := &recordingPublisher{}
	c := newTestCoordinator(t, CoordinatorOptions{Workers: 1, Events: NewEventEmitter(pub, nil, nil)})
	req := c.Begin(domain.ActionExecute)

	done := make(chan error, 1)
	go func() {
		_, err := c.Dispatch(context.Background(), req, func(context.Context) (domain.ActionResult, error) {
			panic("worker exploded")
		})
		done <- err
	}()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, domain.ErrAbandoned)
		assert.False(t, errors.Is(err, domain.ErrTimeout))
	case <-time.After(2 * time.Second):
		t.Fatal("caller hung after worker panic")
	}
	assert.Equal(t, domain.RequestAbandoned, req.State)
	assert.Equal(t, []domain.EventType{domain.EventRequestAbandoned}, pub.types())

	// The worker survives the panic and keeps serving.
	req2 := c.Begin(domain.ActionClaim)
	_, err := c.Dispatch(context.Background(), req2, func(context.Context) (domain.ActionResult, error) {
		return domain.ActionResult{}, nil
	})
	require.NoError(t, err)
}

func TestDispatchTimeoutIsDistinctFromAbandonment(t *testing.T) {
	c := newTestCoordinator(t, CoordinatorOptions{Timeout: 20 * time.Millisecond})
	req := c.Begin(domain.ActionExecute)
	release := make(chan struct{})
	finished := make(chan struct{})

	_, err := c.Dispatch(context.Background(), req, func(context.Context) (domain.ActionResult, error) {
		<-release
		close(finished)
		return domain.ActionResult{}, nil
	})
	assert.ErrorIs(t, err, domain.ErrTimeout)
	assert.False(t, errors.Is(err, domain.ErrAbandoned))
	assert.Equal(t, domain.RequestFailed, req.State)

	close(release)
	select {
	case <-finished:
	case <-time.After(time.Second):
		t.Fatal("worker should run to completion after caller timeout")
	}
}

func TestDispatchWorkerContextOutlivesCaller(t *testing.T) {
	c := newTestCoordinator(t, CoordinatorOptions{})
	req := c.Begin(domain.ActionClaim)
	ctx, cancel := context.WithCancel(context.Background())
	workerErr := make(chan error, 1)

	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()
	_, err := c.Dispatch(ctx, req, func(ctx context.Context) (domain.ActionResult, error) {
		time.Sleep(30 * time.Millisecond)
		workerErr <- ctx.Err()
		return domain.ActionResult{}, nil
	})
	assert.ErrorIs(t, err, domain.ErrTimeout)
	assert.NoError(t, <-workerErr)
}

func TestDispatchOverloaded(t *testing.T) {
	c := newTestCoordinator(t, CoordinatorOptions{Workers: 1, QueueSize: 1})
	started := make(chan struct{}, 1)
	release := make(chan struct{})
	blocking := func(context.Context) (domain.ActionResult, error) {
		select {
		case started <- struct{}{}:
		default:
		}
		<-release
		return domain.ActionResult{}, nil
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, _ = c.Dispatch(context.Background(), c.Begin(domain.ActionClaim), blocking)
	}()
	<-started
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, _ = c.Dispatch(context.Background(), c.Begin(domain.ActionClaim), blocking)
	}()
	require.Eventually(t, func() bool { return c.QueueDepth() == 1 }, time.Second, time.Millisecond)

	req := c.Begin(domain.ActionClaim)
	ran := false
	_, err := c.Dispatch(context.Background(), req, func(context.Context) (domain.ActionResult, error) {
		ran = true
		return domain.ActionResult{}, nil
	})
	assert.ErrorIs(t, err, domain.ErrOverloaded)
	assert.Equal(t, domain.RequestFailed, req.State)
	assert.False(t, ran)

	close(release)
	wg.Wait()
}

func TestShutdownRejectsNewWork(t *testing.T) {
	c := NewCoordinator(CoordinatorOptions{})
	require.NoError(t, c.Shutdown(context.Background()))
	_, err := c.Dispatch(context.Background(), c.Begin(domain.ActionClaim), func(context.Context) (domain.ActionResult, error) {
		return domain.ActionResult{}, nil
	})
	assert.ErrorIs(t, err, domain.ErrOverloaded)
	require.NoError(t, c.Shutdown(context.Background()))
}

func TestRejectMarksFailed(t *testing.T) {
	pub := &recordingPublisher{}
	c := newTestCoordinator(t, CoordinatorOptions{Events: NewEventEmitter(pub, nil, nil)})
	req := c.Begin(domain.ActionDeploy)
	err := c.Reject(context.Background(), req, domain.ErrEmptyToken)
	assert.ErrorIs(t, err, domain.ErrEmptyToken)
	assert.Equal(t, domain.RequestFailed, req.State)
	assert.Equal(t, []domain.EventType{domain.EventRequestFailed}, pub.types())
}
