package domain

import (
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// EntityType is the fixed type tag carried by every persisted aggregate.
const EntityType = "waybill"

// Update methods recorded in each event's bookkeeping extra map.
const (
	// UpdateMethodManual marks events fetched for an on-demand API read.
	UpdateMethodManual = "manual-pull"
	// UpdateMethodAuto marks events fetched by the background sync loop.
	UpdateMethodAuto = "auto-pull"
	// UpdateMethodBackfill marks events fetched opportunistically on a status miss.
	UpdateMethodBackfill = "backfill-pull"
)

// Event is one discrete tracking milestone. Events are immutable once
// persisted; the event set of a waybill only grows.
type Event struct {
	// EventID is the deterministic fingerprint of the source scan record.
	EventID string `json:"event_id"`
	// OperatorCode is the carrier that produced the scan.
	OperatorCode string `json:"operator_code"`
	// TrackingNum is the carrier-native tracking number.
	TrackingNum string `json:"tracking_num"`
	// Status is the canonical status code.
	Status int `json:"status"`
	// What is the description resolved from the canonical status code.
	What string `json:"what"`
	// When is the timezone-qualified scan timestamp.
	When time.Time `json:"when"`
	// Where is the scan location, when the carrier reports one.
	Where string `json:"where,omitempty"`
	// Whom names the person involved, e.g. the consignee who signed.
	Whom string `json:"whom,omitempty"`
	// Notes carries the carrier's free-text remark.
	Notes string `json:"notes,omitempty"`
	// DataProvider names the upstream source of this event.
	DataProvider string `json:"data_provider"`
	// Extra holds bookkeeping such as the update method and update time.
	Extra map[string]string `json:"extra,omitempty"`
	// SourceData retains the raw provider fragment for audit.
	SourceData string `json:"source_data,omitempty"`
}

// Fingerprint derives the deterministic event identity from the stable
// parts of a raw scan record: who scanned, which shipment, when
// (verbatim as the provider reported it) and the carrier-native code.
// Free-text and other drift-prone fields are deliberately excluded so
// repeated fetches of the same scan always agree.
func Fingerprint(operator Carrier, trackingNum, rawWhen, rawCode string) string {
	sum := sha1.Sum([]byte(string(operator) + "|" + trackingNum + "|" + rawWhen + "|" + rawCode))
	return hex.EncodeToString(sum[:])
}

// Waybill is the aggregate root for one shipment under one TrackingID.
type Waybill struct {
	// UID is the opaque globally-unique identity, distinct from the business id.
	UID string `json:"uid"`
	// ID is the canonical tracking slug.
	ID string `json:"id"`
	// Type is always EntityType.
	Type string `json:"type"`
	// Params are the extra query parameters used to fetch, retained so
	// a re-fetch is self-contained.
	Params map[string]string `json:"params,omitempty"`
	// Extra is a free-form bookkeeping map.
	Extra map[string]string `json:"extra,omitempty"`
	// Events is the ordered event collection, unique by EventID.
	Events []Event `json:"events"`

	seen map[string]struct{}
}

// NewWaybill builds an empty aggregate for a tracking id.
func NewWaybill(tid TrackingID, params map[string]string) *Waybill {
	return &Waybill{
		UID:    uuid.NewString(),
		ID:     tid.String(),
		Type:   EntityType,
		Params: params,
		Events: make([]Event, 0),
		seen:   make(map[string]struct{}),
	}
}

// AddEvent appends an event unless its fingerprint is already present.
// It returns false for a duplicate, which covers providers returning
// the same scan row twice in one payload.
func (w *Waybill) AddEvent(e Event) bool {
	if w.seen == nil {
		w.seen = make(map[string]struct{}, len(w.Events))
		for _, existing := range w.Events {
			w.seen[existing.EventID] = struct{}{}
		}
	}
	if _, dup := w.seen[e.EventID]; dup {
		return false
	}
	w.seen[e.EventID] = struct{}{}
	w.Events = append(w.Events, e)
	return true
}

// EventIDs returns the set of event fingerprints currently held.
func (w *Waybill) EventIDs() map[string]struct{} {
	ids := make(map[string]struct{}, len(w.Events))
	for _, e := range w.Events {
		ids[e.EventID] = struct{}{}
	}
	return ids
}

// LatestEvent returns the last event in source order, if any.
func (w *Waybill) LatestEvent() (Event, bool) {
	if len(w.Events) == 0 {
		return Event{}, false
	}
	return w.Events[len(w.Events)-1], true
}

// Summarize returns a copy of the waybill with per-event source data
// stripped, the shape served by default from the read API.
func (w *Waybill) Summarize() *Waybill {
	out := *w
	out.seen = nil
	out.Events = make([]Event, len(w.Events))
	for i, e := range w.Events {
		e.SourceData = ""
		out.Events[i] = e
	}
	return &out
}

// ToJSON serializes the waybill. The full form keeps each event's raw
// source fragment; the summarized form omits it. Output is
// deterministic for identical waybill state.
func (w *Waybill) ToJSON(fullData bool) ([]byte, error) {
	if fullData {
		return json.Marshal(w)
	}
	return json.Marshal(w.Summarize())
}

// StatusProjection is the latest-status view of a waybill served by the
// status endpoint.
type StatusProjection struct {
	// ID is the canonical tracking slug.
	ID string `json:"id"`
	// Status is the latest canonical status code.
	Status int `json:"status"`
	// What is the description of the latest status.
	What string `json:"what"`
	// When is the timestamp of the latest event.
	When time.Time `json:"when"`
}
