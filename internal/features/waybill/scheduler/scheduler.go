package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"waybill-tracker/internal/core/logger"
	"waybill-tracker/internal/features/waybill/domain"
	"waybill-tracker/internal/features/waybill/ports"
	"waybill-tracker/internal/features/waybill/service"

	"go.uber.org/zap"
)

// Fetcher is the slice of the gateway the scheduler needs.
type Fetcher interface {
	IsOperatorActive(carrier domain.Carrier) bool
	RequestWhereIs(ctx context.Context, tid domain.TrackingID, extra map[string]string, updateMethod string) (*domain.Waybill, error)
}

// Scheduler re-pulls every in-process shipment on a fixed interval and
// persists the deltas. One tick is all-or-nothing: every staged write
// lands in a single transaction, and any carrier or storage failure
// aborts the whole tick, to be retried on the next interval.
type Scheduler struct {
	fetcher  Fetcher
	store    ports.Storage
	interval time.Duration
	logger   *zap.Logger

	cancel  context.CancelFunc
	wg      sync.WaitGroup
	mu      sync.Mutex
	running bool
}

// New creates a Scheduler polling at the given interval.
func New(fetcher Fetcher, store ports.Storage, interval time.Duration) *Scheduler {
	return &Scheduler{
		fetcher:  fetcher,
		store:    store,
		interval: interval,
		logger:   logger.Get(),
	}
}

// Start launches the background sync loop. Calling Start on a running
// scheduler is a no-op.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.mu.Unlock()

	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	s.wg.Add(1)
	go s.runLoop(ctx)

	s.logger.Info("Sync scheduler started", zap.Duration("interval", s.interval))
}

// Stop cancels the loop and waits for an in-flight tick to finish, or
// for ctx to expire.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	s.mu.Unlock()

	if s.cancel != nil {
		s.cancel()
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("Sync scheduler stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Scheduler) runLoop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.RunTick(ctx); err != nil {
				// Never fatal: the next interval retries from scratch.
				s.logger.Error("Sync tick failed", zap.Error(err))
			}
		}
	}
}

// stagedWrite is one shipment's pending delta, held until the whole
// tick has fetched cleanly.
type stagedWrite struct {
	waybill  *domain.Waybill
	existing map[string]struct{}
}

// RunTick executes one sync cycle. Shipments are processed
// sequentially; writes are staged and committed together at the end.
// Re-running a tick with no upstream change is a no-op by the merge
// invariant.
func (s *Scheduler) RunTick(ctx context.Context) error {
	inProcess, err := s.store.InProcessing(ctx)
	if err != nil {
		return fmt.Errorf("failed to load in-process shipments: %w", err)
	}
	if len(inProcess) == 0 {
		return nil
	}

	var writes []stagedWrite
	for slug, params := range inProcess {
		tid, err := domain.ParseTrackingID(slug)
		if err != nil {
			s.logger.Warn("Skipping unparsable persisted slug", zap.String("slug", slug), zap.Error(err))
			continue
		}
		if !s.fetcher.IsOperatorActive(tid.Carrier) {
			s.logger.Debug("Skipping inactive carrier", zap.String("slug", slug))
			continue
		}

		fresh, err := s.fetcher.RequestWhereIs(ctx, tid, params, domain.UpdateMethodAuto)
		if errors.Is(err, domain.ErrNoTrackingData) {
			// No scans upstream means no delta for this shipment.
			continue
		}
		if err != nil {
			// Abort the whole tick before any write: a partial tick must
			// never land.
			return fmt.Errorf("tick aborted on %s: %w", slug, err)
		}

		existing, err := s.store.QueryEventIDs(ctx, slug)
		if err != nil {
			return fmt.Errorf("tick aborted on %s: %w", slug, err)
		}

		newEvents, shouldWrite := service.Merge(existing, fresh)
		if !shouldWrite {
			continue
		}

		persisted, err := s.store.QueryEntity(ctx, slug)
		if err != nil {
			return fmt.Errorf("tick aborted on %s: %w", slug, err)
		}
		if persisted == nil {
			// Row disappeared between queries; next tick will see the truth.
			continue
		}
		persisted.Events = append(persisted.Events, newEvents...)
		writes = append(writes, stagedWrite{waybill: persisted, existing: existing})
	}

	if len(writes) == 0 {
		return nil
	}

	err = s.store.WithinTx(ctx, func(tx ports.Storage) error {
		for _, w := range writes {
			if err := tx.UpdateEntity(ctx, w.waybill, w.existing); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("tick write transaction failed: %w", err)
	}

	s.logger.Info("Sync tick committed",
		zap.Int("shipments_checked", len(inProcess)),
		zap.Int("shipments_updated", len(writes)),
	)
	return nil
}
