package adapter

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"waybill-tracker/internal/core/cache"
	"waybill-tracker/internal/features/waybill/domain"
)

const statusCachePrefix = "waybill_status:"

// StatusCache keeps latest-status projections in the cache so repeated
// status reads do not hit storage. A short TTL keeps it honest while
// the background sync refreshes the underlying rows.
type StatusCache struct {
	cache cache.Cache
	ttl   time.Duration
}

// NewStatusCache creates a StatusCache with the given entry TTL.
func NewStatusCache(c cache.Cache, ttl time.Duration) *StatusCache {
	return &StatusCache{cache: c, ttl: ttl}
}

// Get returns the cached projection for a slug, or (nil, nil) on a miss.
func (s *StatusCache) Get(ctx context.Context, id string) (*domain.StatusProjection, error) {
	data, err := s.cache.Get(ctx, statusCachePrefix+id)
	if err != nil {
		// A miss is not an error to callers.
		return nil, nil
	}
	var proj domain.StatusProjection
	if err := json.Unmarshal(data, &proj); err != nil {
		return nil, fmt.Errorf("failed to unmarshal cached status: %w", err)
	}
	return &proj, nil
}

// Set stores the projection for a slug.
func (s *StatusCache) Set(ctx context.Context, proj *domain.StatusProjection) error {
	data, err := json.Marshal(proj)
	if err != nil {
		return fmt.Errorf("failed to marshal status: %w", err)
	}
	if err := s.cache.Set(ctx, statusCachePrefix+proj.ID, data, s.ttl); err != nil {
		return fmt.Errorf("failed to cache status: %w", err)
	}
	return nil
}

// Invalidate drops the cached projection for a slug.
func (s *StatusCache) Invalidate(ctx context.Context, id string) error {
	return s.cache.Delete(ctx, statusCachePrefix+id)
}
