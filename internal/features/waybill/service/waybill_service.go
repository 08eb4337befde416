package service

import (
	"context"
	"errors"
	"fmt"

	"waybill-tracker/internal/core/logger"
	waybilladapter "waybill-tracker/internal/features/waybill/adapters"
	"waybill-tracker/internal/features/waybill/domain"
	"waybill-tracker/internal/features/waybill/ports"

	"go.uber.org/zap"
)

// WaybillService serves the read API: on-demand refreshes and the
// latest-status projection with opportunistic backfill.
type WaybillService struct {
	gateway     *Gateway
	store       ports.Storage
	statusCache *waybilladapter.StatusCache
	logger      *zap.Logger
}

// NewWaybillService creates a WaybillService. statusCache may be nil
// when no cache backend is configured.
func NewWaybillService(gateway *Gateway, store ports.Storage, statusCache *waybilladapter.StatusCache) *WaybillService {
	return &WaybillService{
		gateway:     gateway,
		store:       store,
		statusCache: statusCache,
		logger:      logger.Get(),
	}
}

// WhereIs fetches fresh route data for a slug, merges it against the
// persisted copy and returns the merged aggregate.
func (s *WaybillService) WhereIs(ctx context.Context, slug string, extra map[string]string) (*domain.Waybill, error) {
	tid, err := domain.ParseTrackingID(slug)
	if err != nil {
		return nil, err
	}
	return s.refresh(ctx, tid, extra, domain.UpdateMethodManual)
}

// Status returns the latest-status projection for a slug. On a storage
// miss it backfills once from the carrier before answering.
func (s *WaybillService) Status(ctx context.Context, slug string) (*domain.StatusProjection, error) {
	tid, err := domain.ParseTrackingID(slug)
	if err != nil {
		return nil, err
	}
	id := tid.String()

	if s.statusCache != nil {
		if proj, err := s.statusCache.Get(ctx, id); err == nil && proj != nil {
			return proj, nil
		}
	}

	proj, err := s.store.QueryStatus(ctx, id)
	if err != nil {
		return nil, err
	}

	if proj == nil {
		// Nothing persisted yet: backfill from the carrier, then project.
		wb, err := s.refresh(ctx, tid, nil, domain.UpdateMethodBackfill)
		if err != nil {
			return nil, err
		}
		latest, ok := wb.LatestEvent()
		if !ok {
			return nil, domain.ErrNoTrackingData
		}
		proj = &domain.StatusProjection{
			ID:     id,
			Status: latest.Status,
			What:   latest.What,
			When:   latest.When,
		}
	}

	if s.statusCache != nil {
		if err := s.statusCache.Set(ctx, proj); err != nil {
			s.logger.Warn("Failed to cache status projection", zap.String("id", id), zap.Error(err))
		}
	}
	return proj, nil
}

// refresh is the on-demand merge call site: fetch via the gateway,
// reconcile against the persisted copy, persist the delta and return
// the merged aggregate.
func (s *WaybillService) refresh(ctx context.Context, tid domain.TrackingID, extra map[string]string, updateMethod string) (*domain.Waybill, error) {
	fresh, err := s.gateway.RequestWhereIs(ctx, tid, extra, updateMethod)
	if err != nil {
		if errors.Is(err, domain.ErrNoTrackingData) {
			// The carrier has nothing; the persisted copy, if any, still stands.
			if persisted, qerr := s.store.QueryEntity(ctx, tid.String()); qerr == nil && persisted != nil {
				return persisted, nil
			}
		}
		return nil, err
	}

	persisted, err := s.store.QueryEntity(ctx, tid.String())
	if err != nil {
		return nil, err
	}

	if persisted == nil {
		if err := s.store.InsertEntity(ctx, fresh); err != nil {
			return nil, fmt.Errorf("failed to persist waybill %s: %w", tid.String(), err)
		}
		return fresh, nil
	}

	existing := persisted.EventIDs()
	newEvents, shouldWrite := Merge(existing, fresh)
	if !shouldWrite {
		return persisted, nil
	}

	persisted.Events = append(persisted.Events, newEvents...)
	if err := s.store.UpdateEntity(ctx, persisted, existing); err != nil {
		return nil, fmt.Errorf("failed to persist waybill delta %s: %w", tid.String(), err)
	}

	if s.statusCache != nil {
		if err := s.statusCache.Invalidate(ctx, tid.String()); err != nil {
			s.logger.Debug("Failed to invalidate status cache", zap.String("id", tid.String()), zap.Error(err))
		}
	}
	return persisted, nil
}
