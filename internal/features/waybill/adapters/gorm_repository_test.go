package adapter

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"waybill-tracker/internal/features/waybill/domain"
	"waybill-tracker/internal/features/waybill/ports"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

func newTestRepo(t *testing.T) *GormRepository {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)

	repo := NewGormRepository(db)
	require.NoError(t, repo.Migrate())
	return repo
}

func storedWaybill(t *testing.T, slug string, params map[string]string, statuses ...int) *domain.Waybill {
	t.Helper()

	tid, err := domain.ParseTrackingID(slug)
	require.NoError(t, err)

	w := domain.NewWaybill(tid, params)
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	for i, status := range statuses {
		rawWhen := base.Add(time.Duration(i) * time.Hour).Format(time.RFC3339)
		w.AddEvent(domain.Event{
			EventID:      domain.Fingerprint(tid.Carrier, tid.TrackingNum, rawWhen, fmt.Sprintf("op-%d", i)),
			OperatorCode: string(tid.Carrier),
			TrackingNum:  tid.TrackingNum,
			Status:       status,
			What:         domain.DescribeStatus(status),
			When:         base.Add(time.Duration(i) * time.Hour),
			DataProvider: string(tid.Carrier),
			SourceData:   `{"raw":true}`,
		})
	}
	return w
}

func TestGormRepository_InsertAndQueryRoundtrip(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	w := storedWaybill(t, "sfex-SF1234567890", map[string]string{"phone": "1234"},
		domain.StatusCreated, domain.StatusDeparted, domain.StatusInTransit)
	require.NoError(t, repo.InsertEntity(ctx, w))

	got, err := repo.QueryEntity(ctx, w.ID)
	require.NoError(t, err)
	require.NotNil(t, got)

	assert.Equal(t, w.UID, got.UID)
	assert.Equal(t, w.ID, got.ID)
	assert.Equal(t, domain.EntityType, got.Type)
	assert.Equal(t, map[string]string{"phone": "1234"}, got.Params)
	require.Len(t, got.Events, 3)
	for i, e := range got.Events {
		assert.Equal(t, w.Events[i].EventID, e.EventID, "event order must survive persistence")
		assert.Equal(t, w.Events[i].Status, e.Status)
		assert.Equal(t, w.Events[i].SourceData, e.SourceData)
	}
}

func TestGormRepository_QueryEntity_Unknown(t *testing.T) {
	repo := newTestRepo(t)

	got, err := repo.QueryEntity(context.Background(), "sfex-SF9999999999")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestGormRepository_UpdateEntity_AppendsOnlyNewEvents(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	w := storedWaybill(t, "sfex-SF1234567890", nil, domain.StatusCreated)
	require.NoError(t, repo.InsertEntity(ctx, w))

	existing, err := repo.QueryEventIDs(ctx, w.ID)
	require.NoError(t, err)
	require.Len(t, existing, 1)

	// Fresh fetch repeats the first scan and brings two new ones.
	fresh := storedWaybill(t, "sfex-SF1234567890", nil,
		domain.StatusCreated, domain.StatusDeparted, domain.StatusArrived)
	fresh.UID = w.UID
	require.NoError(t, repo.UpdateEntity(ctx, fresh, existing))

	got, err := repo.QueryEntity(ctx, w.ID)
	require.NoError(t, err)
	require.Len(t, got.Events, 3)
	assert.Equal(t, fresh.Events[0].EventID, got.Events[0].EventID)
	assert.Equal(t, fresh.Events[1].EventID, got.Events[1].EventID)
	assert.Equal(t, fresh.Events[2].EventID, got.Events[2].EventID)

	// Re-applying the same update inserts nothing.
	ids, err := repo.QueryEventIDs(ctx, w.ID)
	require.NoError(t, err)
	require.NoError(t, repo.UpdateEntity(ctx, fresh, ids))

	got, err = repo.QueryEntity(ctx, w.ID)
	require.NoError(t, err)
	assert.Len(t, got.Events, 3)
}

func TestGormRepository_QueryStatus(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	missing, err := repo.QueryStatus(ctx, "sfex-SF9999999999")
	require.NoError(t, err)
	assert.Nil(t, missing)

	w := storedWaybill(t, "sfex-SF1234567890", nil,
		domain.StatusCreated, domain.StatusOutForDelivery)
	require.NoError(t, repo.InsertEntity(ctx, w))

	status, err := repo.QueryStatus(ctx, w.ID)
	require.NoError(t, err)
	require.NotNil(t, status)
	assert.Equal(t, w.ID, status.ID)
	assert.Equal(t, domain.StatusOutForDelivery, status.Status)
	assert.Equal(t, domain.DescribeStatus(domain.StatusOutForDelivery), status.What)
	assert.True(t, status.When.Equal(w.Events[1].When))
}

func TestGormRepository_InProcessing(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	open := storedWaybill(t, "sfex-SF1234567890", map[string]string{"phone": "5678"},
		domain.StatusCreated, domain.StatusInTransit)
	delivered := storedWaybill(t, "emspost-EB123456789CN", nil,
		domain.StatusOutForDelivery, domain.StatusDelivered)
	returned := storedWaybill(t, "sfex-SF9876543210", nil,
		domain.StatusDeliveryFailed, domain.StatusReturned)
	require.NoError(t, repo.InsertEntity(ctx, open))
	require.NoError(t, repo.InsertEntity(ctx, delivered))
	require.NoError(t, repo.InsertEntity(ctx, returned))

	active, err := repo.InProcessing(ctx)
	require.NoError(t, err)

	require.Len(t, active, 1)
	assert.Equal(t, map[string]string{"phone": "5678"}, active[open.ID])
}

func TestGormRepository_WithinTx_RollsBackOnError(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	w := storedWaybill(t, "sfex-SF1234567890", nil, domain.StatusCreated)
	boom := errors.New("tick aborted")

	err := repo.WithinTx(ctx, func(tx ports.Storage) error {
		if err := tx.InsertEntity(ctx, w); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	got, err := repo.QueryEntity(ctx, w.ID)
	require.NoError(t, err)
	assert.Nil(t, got, "rolled-back insert must leave no rows")
}

func TestGormRepository_WithinTx_Commits(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	w := storedWaybill(t, "emspost-EB123456789CN", nil, domain.StatusAccepted)
	err := repo.WithinTx(ctx, func(tx ports.Storage) error {
		return tx.InsertEntity(ctx, w)
	})
	require.NoError(t, err)

	got, err := repo.QueryEntity(ctx, w.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Len(t, got.Events, 1)
}
