package domain

import (
	"context"
	"time"
)

type EventType string

const (
	EventRequestCompleted EventType = "request.completed"
	EventRequestFailed    EventType = "request.failed"
	EventRequestAbandoned EventType = "request.abandoned"
	EventAccountDeployed  EventType = "account.deployed"
)

type PipelineEvent struct {
	Type         EventType      `json:"type"`
	RequestID    string         `json:"request_id,omitempty"`
	Action       Action         `json:"action,omitempty"`
	IdentityHash string         `json:"identity_hash,omitempty"`
	ErrorCode    string         `json:"error_code,omitempty"`
	Payload      map[string]any `json:"payload,omitempty"`
	OccurredAt   time.Time      `json:"occurred_at"`
}

type EventPublisher interface {
	Publish(ctx context.Context, event PipelineEvent) error
}
