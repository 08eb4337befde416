package adapter

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// bearerToken is a cached access token with its expiry.
type bearerToken struct {
	value  string
	expiry time.Time
}

func (t bearerToken) valid(now time.Time) bool {
	return t.value != "" && now.Before(t.expiry)
}

// bearerTokenSource caches a carrier bearer token and refreshes it
// lazily. Concurrent callers hitting an expired token share a single
// in-flight refresh instead of issuing redundant token requests.
type bearerTokenSource struct {
	fetch func(ctx context.Context) (string, time.Duration, error)

	mu    sync.Mutex
	token bearerToken
	group singleflight.Group
}

func newBearerTokenSource(fetch func(ctx context.Context) (string, time.Duration, error)) *bearerTokenSource {
	return &bearerTokenSource{fetch: fetch}
}

// get returns the cached token, refreshing it first when missing or
// expired. A minute of headroom is kept so a token never expires
// mid-request.
func (s *bearerTokenSource) get(ctx context.Context) (string, error) {
	s.mu.Lock()
	cached := s.token
	s.mu.Unlock()

	if cached.valid(time.Now().Add(time.Minute)) {
		return cached.value, nil
	}

	value, err, _ := s.group.Do("token", func() (interface{}, error) {
		s.mu.Lock()
		cached := s.token
		s.mu.Unlock()
		if cached.valid(time.Now().Add(time.Minute)) {
			return cached.value, nil
		}

		token, ttl, err := s.fetch(ctx)
		if err != nil {
			return "", err
		}

		s.mu.Lock()
		s.token = bearerToken{value: token, expiry: time.Now().Add(ttl)}
		s.mu.Unlock()
		return token, nil
	})
	if err != nil {
		return "", err
	}
	return value.(string), nil
}

// invalidate drops the cached token, forcing the next get to refresh.
func (s *bearerTokenSource) invalidate() {
	s.mu.Lock()
	s.token = bearerToken{}
	s.mu.Unlock()
}
