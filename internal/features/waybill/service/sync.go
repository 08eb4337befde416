package service

import "waybill-tracker/internal/features/waybill/domain"

// Merge reconciles a freshly fetched waybill against the already
// persisted event-id set. It returns, in source order, only the events
// not yet persisted. shouldWrite is false unless the fresh event count
// strictly exceeds the persisted one, which guards against concurrent
// syncs racing each other and against providers returning equal or
// stale data: repeating a merge with no upstream change is a no-op.
func Merge(existing map[string]struct{}, fresh *domain.Waybill) (newEvents []domain.Event, shouldWrite bool) {
	for _, e := range fresh.Events {
		if _, ok := existing[e.EventID]; !ok {
			newEvents = append(newEvents, e)
		}
	}

	if len(newEvents) == 0 || len(fresh.Events) <= len(existing) {
		return newEvents, false
	}
	return newEvents, true
}
