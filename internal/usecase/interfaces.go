package usecase

import (
	"time"

	"bonsaipay/internal/domain"
)

type Clock func() time.Time

// Metrics receives pipeline measurements. The prometheus collectors in
// infra/metrics implement it.
type Metrics interface {
	RequestFinished(action domain.Action, state domain.RequestState, code string, elapsed time.Duration)
	StageObserved(stage string, elapsed time.Duration, err error)
	QueueDepth(depth int)
	AccountProvisioned(stage domain.AccountStatus)
}

type nopMetrics struct{}

func (nopMetrics) RequestFinished(domain.Action, domain.RequestState, string, time.Duration) {}
func (nopMetrics) StageObserved(string, time.Duration, error) {}
func (nopMetrics) QueueDepth(int) {}
func (nopMetrics) AccountProvisioned(domain.AccountStatus) {}

func nowFrom(clock Clock) time.Time {
	if clock != nil {
		return clock()
	}
	return time.Now().UTC()
}
