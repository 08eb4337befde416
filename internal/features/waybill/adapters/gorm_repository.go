package adapter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"waybill-tracker/internal/features/waybill/domain"
	"waybill-tracker/internal/features/waybill/ports"

	"gorm.io/gorm"
)

// waybillRow is the persisted aggregate row.
type waybillRow struct {
	UID       string    `gorm:"column:uid;primaryKey;size:36"`
	Slug      string    `gorm:"column:slug;uniqueIndex;size:64;not null"`
	Type      string    `gorm:"column:type;size:16;not null"`
	Params    string    `gorm:"column:params;not null"`
	Extra     string    `gorm:"column:extra;not null"`
	CreatedAt time.Time `gorm:"column:created_at"`
	UpdatedAt time.Time `gorm:"column:updated_at"`
}

// TableName implements the gorm table naming convention.
func (waybillRow) TableName() string { return "waybills" }

// eventRow is one persisted tracking event. Rows are append-only: they
// are inserted once, keyed by fingerprint, and never updated.
type eventRow struct {
	EventID    string    `gorm:"column:event_id;primaryKey;size:40"`
	Slug       string    `gorm:"column:slug;index:idx_events_slug_seq;size:64;not null"`
	Seq        int       `gorm:"column:seq;index:idx_events_slug_seq;not null"`
	Status     int       `gorm:"column:status;not null"`
	OccurredAt time.Time `gorm:"column:occurred_at"`
	Payload    string    `gorm:"column:payload;not null"`
	CreatedAt  time.Time `gorm:"column:created_at"`
}

// TableName implements the gorm table naming convention.
func (eventRow) TableName() string { return "waybill_events" }

// GormRepository implements ports.Storage on a gorm database handle.
type GormRepository struct {
	db *gorm.DB
}

// NewGormRepository creates a repository over an open gorm handle.
func NewGormRepository(db *gorm.DB) *GormRepository {
	return &GormRepository{db: db}
}

// Migrate creates or updates the backing tables.
func (r *GormRepository) Migrate() error {
	return r.db.AutoMigrate(&waybillRow{}, &eventRow{})
}

func encodeMap(m map[string]string) (string, error) {
	if m == nil {
		m = map[string]string{}
	}
	data, err := json.Marshal(m)
	if err != nil {
		return "", fmt.Errorf("failed to encode map: %w", err)
	}
	return string(data), nil
}

func decodeMap(data string) (map[string]string, error) {
	if data == "" {
		return map[string]string{}, nil
	}
	var m map[string]string
	if err := json.Unmarshal([]byte(data), &m); err != nil {
		return nil, fmt.Errorf("failed to decode map: %w", err)
	}
	return m, nil
}

// QueryEntity loads a waybill and its events in source order. Unknown
// slugs return (nil, nil).
func (r *GormRepository) QueryEntity(ctx context.Context, id string) (*domain.Waybill, error) {
	var row waybillRow
	err := r.db.WithContext(ctx).Where("slug = ?", id).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query waybill %s: %w", id, err)
	}

	params, err := decodeMap(row.Params)
	if err != nil {
		return nil, err
	}
	extra, err := decodeMap(row.Extra)
	if err != nil {
		return nil, err
	}

	var eventRows []eventRow
	if err := r.db.WithContext(ctx).Where("slug = ?", id).Order("seq asc").Find(&eventRows).Error; err != nil {
		return nil, fmt.Errorf("failed to query events for %s: %w", id, err)
	}

	wb := &domain.Waybill{
		UID:    row.UID,
		ID:     row.Slug,
		Type:   row.Type,
		Params: params,
		Extra:  extra,
		Events: make([]domain.Event, 0, len(eventRows)),
	}
	for _, er := range eventRows {
		var event domain.Event
		if err := json.Unmarshal([]byte(er.Payload), &event); err != nil {
			return nil, fmt.Errorf("failed to decode event %s: %w", er.EventID, err)
		}
		wb.Events = append(wb.Events, event)
	}
	return wb, nil
}

// InsertEntity persists a waybill seen for the first time.
func (r *GormRepository) InsertEntity(ctx context.Context, w *domain.Waybill) error {
	params, err := encodeMap(w.Params)
	if err != nil {
		return err
	}
	extra, err := encodeMap(w.Extra)
	if err != nil {
		return err
	}

	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		row := waybillRow{
			UID:    w.UID,
			Slug:   w.ID,
			Type:   w.Type,
			Params: params,
			Extra:  extra,
		}
		if err := tx.Create(&row).Error; err != nil {
			return fmt.Errorf("failed to insert waybill %s: %w", w.ID, err)
		}
		return insertEvents(tx, w.ID, w.Events, 0)
	})
}

// UpdateEntity appends the events of w missing from existing, keeping
// their source order after the already-persisted rows, and refreshes
// the aggregate row.
func (r *GormRepository) UpdateEntity(ctx context.Context, w *domain.Waybill, existing map[string]struct{}) error {
	params, err := encodeMap(w.Params)
	if err != nil {
		return err
	}
	extra, err := encodeMap(w.Extra)
	if err != nil {
		return err
	}

	fresh := make([]domain.Event, 0)
	for _, e := range w.Events {
		if _, ok := existing[e.EventID]; !ok {
			fresh = append(fresh, e)
		}
	}

	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		updates := map[string]interface{}{"params": params, "extra": extra, "updated_at": time.Now()}
		if err := tx.Model(&waybillRow{}).Where("slug = ?", w.ID).Updates(updates).Error; err != nil {
			return fmt.Errorf("failed to update waybill %s: %w", w.ID, err)
		}

		var maxSeq int64
		if err := tx.Model(&eventRow{}).Where("slug = ?", w.ID).Select("COALESCE(MAX(seq), -1)").Scan(&maxSeq).Error; err != nil {
			return fmt.Errorf("failed to read event sequence for %s: %w", w.ID, err)
		}
		return insertEvents(tx, w.ID, fresh, int(maxSeq)+1)
	})
}

func insertEvents(tx *gorm.DB, slug string, events []domain.Event, startSeq int) error {
	for i, e := range events {
		payload, err := json.Marshal(e)
		if err != nil {
			return fmt.Errorf("failed to encode event %s: %w", e.EventID, err)
		}
		row := eventRow{
			EventID:    e.EventID,
			Slug:       slug,
			Seq:        startSeq + i,
			Status:     e.Status,
			OccurredAt: e.When,
			Payload:    string(payload),
		}
		if err := tx.Create(&row).Error; err != nil {
			return fmt.Errorf("failed to insert event %s: %w", e.EventID, err)
		}
	}
	return nil
}

// QueryEventIDs returns the persisted fingerprint set for a slug.
func (r *GormRepository) QueryEventIDs(ctx context.Context, id string) (map[string]struct{}, error) {
	var ids []string
	if err := r.db.WithContext(ctx).Model(&eventRow{}).Where("slug = ?", id).Pluck("event_id", &ids).Error; err != nil {
		return nil, fmt.Errorf("failed to query event ids for %s: %w", id, err)
	}
	set := make(map[string]struct{}, len(ids))
	for _, eventID := range ids {
		set[eventID] = struct{}{}
	}
	return set, nil
}

// QueryStatus returns the latest-status projection for a slug, or
// (nil, nil) when nothing is persisted.
func (r *GormRepository) QueryStatus(ctx context.Context, id string) (*domain.StatusProjection, error) {
	var row eventRow
	err := r.db.WithContext(ctx).Where("slug = ?", id).Order("seq desc").First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query status for %s: %w", id, err)
	}
	return &domain.StatusProjection{
		ID:     id,
		Status: row.Status,
		What:   domain.DescribeStatus(row.Status),
		When:   row.OccurredAt,
	}, nil
}

// InProcessing returns slug -> stored fetch params for every waybill
// whose latest persisted status is not terminal.
func (r *GormRepository) InProcessing(ctx context.Context) (map[string]map[string]string, error) {
	var rows []struct {
		Slug   string
		Params string
		Status int
	}
	query := `
		SELECT w.slug AS slug, w.params AS params, e.status AS status
		FROM waybills w
		JOIN waybill_events e ON e.slug = w.slug
		WHERE e.seq = (SELECT MAX(seq) FROM waybill_events WHERE slug = w.slug)`
	if err := r.db.WithContext(ctx).Raw(query).Scan(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to query in-processing waybills: %w", err)
	}

	result := make(map[string]map[string]string)
	for _, row := range rows {
		if domain.IsTerminalStatus(row.Status) {
			continue
		}
		params, err := decodeMap(row.Params)
		if err != nil {
			return nil, err
		}
		result[row.Slug] = params
	}
	return result, nil
}

// WithinTx runs fn against a transaction-bound repository. Every write
// issued inside fn commits atomically; any error rolls all of them back.
func (r *GormRepository) WithinTx(ctx context.Context, fn func(tx ports.Storage) error) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&GormRepository{db: tx})
	})
}
