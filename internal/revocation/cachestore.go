package revocation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/kiranshivaraju/trapfleet/internal/cache"
)

const reserveAttempts = 3

// ErrTokenCollision means every freshly generated token was already taken.
var ErrTokenCollision = errors.New("revocation token collision")

// CacheStore keeps tokens in the shared cache with a TTL so that every API instance can
// validate tokens issued by any other.
type CacheStore struct {
	cache cache.Cache
	now   func() time.Time
}

func NewCacheStore(c cache.Cache) *CacheStore {
	return &CacheStore{cache: c, now: time.Now}
}

func (s *CacheStore) Issue(ctx context.Context, e Entry) (string, error) {
	e.ExpiresAt = s.now().Add(TTL)
	data, err := json.Marshal(e)
	if err != nil {
		return "", fmt.Errorf("marshal revocation entry: %w", err)
	}

	for range reserveAttempts {
		token, err := newToken()
		if err != nil {
			return "", err
		}
		ok, err := s.cache.Reserve(ctx, cache.RevocationKey(token), data, TTL)
		if err != nil {
			return "", fmt.Errorf("store revocation token: %w", err)
		}
		if ok {
			return token, nil
		}
	}
	return "", ErrTokenCollision
}

func (s *CacheStore) Validate(ctx context.Context, token string) (Entry, bool, error) {
	data, found, err := s.cache.Get(ctx, cache.RevocationKey(token))
	if err != nil {
		return Entry{}, false, fmt.Errorf("load revocation token: %w", err)
	}
	if !found {
		return Entry{}, false, nil
	}
	var e Entry
	if err := json.Unmarshal(data, &e); err != nil {
		return Entry{}, false, fmt.Errorf("decode revocation entry: %w", err)
	}
	if s.now().After(e.ExpiresAt) {
		return Entry{}, false, nil
	}
	return e, true, nil
}
