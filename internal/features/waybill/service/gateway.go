package service

import (
	"context"
	"fmt"
	"time"

	"waybill-tracker/internal/core/logger"
	"waybill-tracker/internal/features/waybill/domain"
	"waybill-tracker/internal/features/waybill/ports"

	"go.uber.org/zap"
)

// Gateway validates request parameters, checks carrier availability and
// dispatches fetches to the matching adapter. The dispatch table is
// built once at startup from the closed adapter set.
type Gateway struct {
	adapters map[domain.Carrier]ports.CarrierAdapter
	timeout  time.Duration
	logger   *zap.Logger
}

// NewGateway creates a Gateway over the given adapters. timeout bounds
// each outbound carrier call so one slow carrier cannot stall callers.
func NewGateway(adapters []ports.CarrierAdapter, timeout time.Duration) *Gateway {
	table := make(map[domain.Carrier]ports.CarrierAdapter, len(adapters))
	for _, a := range adapters {
		table[a.Carrier()] = a
	}
	return &Gateway{
		adapters: table,
		timeout:  timeout,
		logger:   logger.Get(),
	}
}

// IsOperatorActive reports whether the carrier exists and has
// credentials configured, without attempting any network I/O.
func (g *Gateway) IsOperatorActive(carrier domain.Carrier) bool {
	a, ok := g.adapters[carrier]
	return ok && a.IsActive()
}

// RequestWhereIs fetches and normalizes the current route data for one
// tracking id. Adapter errors (not found, auth, network) propagate
// unchanged.
func (g *Gateway) RequestWhereIs(ctx context.Context, tid domain.TrackingID, extra map[string]string, updateMethod string) (*domain.Waybill, error) {
	a, ok := g.adapters[tid.Carrier]
	if !ok {
		return nil, fmt.Errorf("%w: %q", domain.ErrUnknownCarrier, tid.Carrier)
	}
	if !a.IsActive() {
		return nil, fmt.Errorf("%w: %q", domain.ErrOperatorInactive, tid.Carrier)
	}

	for _, param := range a.RequiredParams() {
		if extra[param] == "" {
			return nil, fmt.Errorf("%w: %q", domain.ErrMissingParam, param)
		}
	}

	callCtx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	raw, err := a.GetRoute(callCtx, tid.TrackingNum, extra)
	if err != nil {
		g.logger.Warn("Carrier fetch failed",
			zap.String("carrier", string(tid.Carrier)),
			zap.String("tracking_num", tid.TrackingNum),
			zap.Error(err),
		)
		return nil, err
	}

	return a.Convert(tid, raw, extra, updateMethod)
}
