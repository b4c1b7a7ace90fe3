package memstore

import (
	"context"
	"sync"

	"bonsaipay/internal/domain"
)

type Submissions struct {
	mu      sync.Mutex
	entries []domain.SubmissionRecord
}

func NewSubmissions() *Submissions {
	return &Submissions{}
}

func (s *Submissions) Append(ctx context.Context, rec domain.SubmissionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, rec)
	return nil
}

func (s *Submissions) ListByIdentity(ctx context.Context, identityHash string) ([]domain.SubmissionRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.SubmissionRecord
	for _, rec := range s.entries {
		if rec.IdentityHash == identityHash {
			out = append(out, rec)
		}
	}
	return out, nil
}

var _ domain.SubmissionLog = (*Submissions)(nil)
