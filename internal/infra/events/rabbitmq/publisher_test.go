package rabbitmq

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bonsaipay/internal/domain"
)

type published struct {
	exchange string
	key      string
	msg      amqp.Publishing
}

type fakeChannel struct {
	sent   []published
	err    error
	closed bool
}

func (c *fakeChannel) PublishWithContext(_ context.Context, exchange, key string, _, _ bool, msg amqp.Publishing) error {
	if c.err != nil {
		return c.err
	}
	c.sent = append(c.sent, published{exchange: exchange, key: key, msg: msg})
	return nil
}

func (c *fakeChannel) Close() error {
	c.closed = true
	return nil
}

func TestPublishRoutesByEventType(t *testing.T) {
	ch := &fakeChannel{}
	p := newPublisher(ch, DefaultExchange, nil)
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	err := p.Publish(context.Background(), domain.PipelineEvent{
		Type:         domain.EventRequestCompleted,
		RequestID:    "req-1",
		Action:       domain.ActionClaim,
		IdentityHash: "abc",
		OccurredAt:   at,
	})
	require.NoError(t, err)
	require.Len(t, ch.sent, 1)

	got := ch.sent[0]
	assert.Equal(t, DefaultExchange, got.exchange)
	assert.Equal(t, string(domain.EventRequestCompleted), got.key)
	assert.Equal(t, "application/json", got.msg.ContentType)
	assert.Equal(t, amqp.Persistent, got.msg.DeliveryMode)
	assert.Equal(t, "req-1", got.msg.MessageId)
	assert.True(t, got.msg.Timestamp.Equal(at))

	var decoded domain.PipelineEvent
	require.NoError(t, json.Unmarshal(got.msg.Body, &decoded))
	assert.Equal(t, "abc", decoded.IdentityHash)
}

func TestPublishWrapsChannelError(t *testing.T) {
	boom := errors.New("channel closed")
	p := newPublisher(&fakeChannel{err: boom}, DefaultExchange, nil)
	err := p.Publish(context.Background(), domain.PipelineEvent{Type: domain.EventRequestFailed})
	assert.ErrorIs(t, err, boom)
}

func TestPublishAfterClose(t *testing.T) {
	ch := &fakeChannel{}
	p := newPublisher(ch, DefaultExchange, nil)
	require.NoError(t, p.Close())
	assert.True(t, ch.closed)
	assert.Error(t, p.Publish(context.Background(), domain.PipelineEvent{Type: domain.EventRequestFailed}))
}
