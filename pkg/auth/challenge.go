package auth

import (
	"context"
	"sync"
	"time"

	"github.com/tendant/immigration-portal/pkg/domain"
)

// ChallengeStore keeps pending MFA logins between the password step and the
// second factor. Take must be single-use.
type ChallengeStore interface {
	Put(ctx context.Context, key string, c domain.MFAChallenge, ttl time.Duration) error
	Take(ctx context.Context, key string) (*domain.MFAChallenge, error)
}

type memoryChallenge struct {
	challenge domain.MFAChallenge
	expiresAt time.Time
}

// MemoryChallengeStore is the in-process ChallengeStore used when Redis is
// not configured. It only works for a single instance.
type MemoryChallengeStore struct {
	mu    sync.Mutex
	items map[string]memoryChallenge
	now   func() time.Time
}

// NewMemoryChallengeStore creates an empty store.
func NewMemoryChallengeStore() *MemoryChallengeStore {
	return &MemoryChallengeStore{
		items: make(map[string]memoryChallenge),
		now:   time.Now,
	}
}

func (s *MemoryChallengeStore) Put(_ context.Context, key string, c domain.MFAChallenge, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	for k, v := range s.items {
		if !now.Before(v.expiresAt) {
			delete(s.items, k)
		}
	}
	s.items[key] = memoryChallenge{challenge: c, expiresAt: now.Add(ttl)}
	return nil
}

func (s *MemoryChallengeStore) Take(_ context.Context, key string) (*domain.MFAChallenge, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	item, ok := s.items[key]
	if !ok {
		return nil, domain.ErrMFAChallengeExpired
	}
	delete(s.items, key)
	if !s.now().Before(item.expiresAt) {
		return nil, domain.ErrMFAChallengeExpired
	}
	c := item.challenge
	return &c, nil
}
