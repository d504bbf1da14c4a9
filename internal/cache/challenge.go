package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/tendant/immigration-portal/pkg/domain"
)

const challengeKeyPrefix = "portal:mfa:challenge:"

// ChallengeStore keeps pending MFA logins in Redis so any instance can
// complete them. GETDEL makes every challenge single-use.
type ChallengeStore struct {
	rdb redis.Cmdable
}

func NewChallengeStore(rdb redis.Cmdable) *ChallengeStore {
	return &ChallengeStore{rdb: rdb}
}

func (s *ChallengeStore) Put(ctx context.Context, key string, c domain.MFAChallenge, ttl time.Duration) error {
	raw, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("encode challenge: %w", err)
	}
	if err := s.rdb.Set(ctx, challengeKeyPrefix+key, raw, ttl).Err(); err != nil {
		return fmt.Errorf("store challenge: %w", err)
	}
	return nil
}

func (s *ChallengeStore) Take(ctx context.Context, key string) (*domain.MFAChallenge, error) {
	raw, err := s.rdb.GetDel(ctx, challengeKeyPrefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, domain.ErrMFAChallengeExpired
	}
	if err != nil {
		return nil, fmt.Errorf("load challenge: %w", err)
	}
	var c domain.MFAChallenge
	if err := json.Unmarshal(raw, &c); err != nil {
		return nil, domain.ErrMFAChallengeExpired
	}
	return &c, nil
}
