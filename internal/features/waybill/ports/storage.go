package ports

import (
	"context"

	"waybill-tracker/internal/features/waybill/domain"
)

// Storage is the engine-agnostic persistence contract for waybills.
// Events are append-only: UpdateEntity writes only events missing from
// the existing id set and never mutates persisted rows.
type Storage interface {
	// QueryEntity loads a waybill by canonical slug. It returns
	// (nil, nil) when the slug is unknown.
	QueryEntity(ctx context.Context, id string) (*domain.Waybill, error)

	// InsertEntity persists a waybill seen for the first time.
	InsertEntity(ctx context.Context, w *domain.Waybill) error

	// UpdateEntity persists the events of w that are not in existing,
	// preserving source order, and refreshes the aggregate row.
	UpdateEntity(ctx context.Context, w *domain.Waybill, existing map[string]struct{}) error

	// QueryEventIDs returns the persisted event fingerprint set for a slug.
	QueryEventIDs(ctx context.Context, id string) (map[string]struct{}, error)

	// QueryStatus returns the latest-status projection, or (nil, nil)
	// when the slug is unknown.
	QueryStatus(ctx context.Context, id string) (*domain.StatusProjection, error)

	// InProcessing returns slug -> stored fetch params for every waybill
	// whose latest status is not terminal.
	InProcessing(ctx context.Context) (map[string]map[string]string, error)

	// WithinTx runs fn against a transactional view of the storage.
	// All writes issued inside fn commit together or not at all.
	WithinTx(ctx context.Context, fn func(tx Storage) error) error
}
