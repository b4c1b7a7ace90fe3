package domain

import (
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

type Action string

const (
	ActionDeploy      Action = "deploy"
	ActionExecute     Action = "execute"
	ActionClaim       Action = "claim"
	ActionExecuteCall Action = "execute_call"

	// Provisioning steps, recorded in the submission log only.
	ActionFund     Action = "fund"
	ActionSetOwner Action = "set_owner"
)

// Proves reports whether the action needs a proof before touching the chain.
func (a Action) Proves() bool {
	switch a {
	case ActionExecute, ActionClaim, ActionExecuteCall:
		return true
	}
	return false
}

type RequestState string

const (
	RequestReceived         RequestState = "received"
	RequestVerifying        RequestState = "verifying"
	RequestProvingAndActing RequestState = "proving_and_acting"
	RequestCompleted        RequestState = "completed"
	RequestFailed           RequestState = "failed"
	RequestAbandoned        RequestState = "abandoned"
)

var requestTransitions = map[RequestState][]RequestState{
	RequestReceived:         {RequestVerifying},
	RequestVerifying:        {RequestFailed, RequestProvingAndActing},
	RequestProvingAndActing: {RequestCompleted, RequestFailed, RequestAbandoned},
}

func (s RequestState) Terminal() bool {
	return s == RequestCompleted || s == RequestFailed || s == RequestAbandoned
}

func (s RequestState) CanTransition(to RequestState) bool {
	for _, next := range requestTransitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

// ActionResult is what a completed request hands back to the caller.
type ActionResult struct {
	Action  Action
	Account *AccountRecord
	Receipt *Receipt
	ClaimID common.Hash
}

// Request tracks one inbound request through the coordinator states.
type Request struct {
	ID           string
	Action       Action
	IdentityHash string
	State        RequestState
	ReceivedAt   time.Time
	UpdatedAt    time.Time
	Err          error
}

func NewRequest(id string, action Action, now time.Time) *Request {
	return &Request{
		ID:         id,
		Action:     action,
		State:      RequestReceived,
		ReceivedAt: now,
		UpdatedAt:  now,
	}
}

func (r *Request) Transition(to RequestState, now time.Time) error {
	if !r.State.CanTransition(to) {
		return fmt.Errorf("request %s: illegal transition %s -> %s", r.ID, r.State, to)
	}
	r.State = to
	r.UpdatedAt = now
	return nil
}
