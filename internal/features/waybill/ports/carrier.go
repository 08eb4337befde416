package ports

import (
	"context"

	"waybill-tracker/internal/features/waybill/domain"
)

// CarrierAdapter defines the per-carrier fetch and normalize capability.
// The implementation set is closed; the gateway builds a static dispatch
// table over it at startup.
type CarrierAdapter interface {
	// Carrier returns the carrier code this adapter serves.
	Carrier() domain.Carrier

	// IsActive reports whether credentials are configured. Inactive
	// carriers are rejected before any network I/O is attempted.
	IsActive() bool

	// RequiredParams lists the extra parameters the carrier needs on
	// every fetch (e.g. a verification phone number).
	RequiredParams() []string

	// GetRoute performs the authenticated network call and returns the
	// raw provider payload.
	GetRoute(ctx context.Context, trackingNum string, params map[string]string) ([]byte, error)

	// Convert normalizes a raw payload into the canonical aggregate.
	// It is pure: no I/O, deterministic for identical input. A payload
	// with zero scan entries yields domain.ErrNoTrackingData, never an
	// empty waybill.
	Convert(tid domain.TrackingID, raw []byte, params map[string]string, updateMethod string) (*domain.Waybill, error)
}
