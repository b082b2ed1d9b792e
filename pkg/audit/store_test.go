package audit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/coachplan/pkg/contextkeys"
	"github.com/platinummonkey/coachplan/pkg/storage/storagetest"
)

var base = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func strPtr(s string) *string { return &s }

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store := NewStore(storagetest.NewDB(t))
	store.now = func() time.Time { return base }
	return store
}

func TestStore_RecordAndHistory(t *testing.T) {
	store := newTestStore(t)
	ctx := contextkeys.WithRequestID(context.Background(), "req-1")

	upgrade := &Event{
		EventType:       EventTypePlanUpgraded,
		AccountID:       "acct-1",
		Actor:           ActorAccount,
		PlanID:          strPtr("premium"),
		SubscriptionRef: strPtr("sub_1"),
		Metadata:        map[string]interface{}{"expiresAt": "2026-04-01T00:00:00Z"},
	}
	require.NoError(t, store.Record(ctx, nil, upgrade))
	assert.NotZero(t, upgrade.ID)
	assert.Equal(t, base, upgrade.Timestamp)
	assert.Equal(t, "req-1", upgrade.RequestID)

	require.NoError(t, store.Record(context.Background(), nil, &Event{
		Timestamp: base.Add(time.Hour),
		EventType: EventTypePlanCancelled,
		AccountID: "acct-1",
		Actor:     ActorAccount,
		PlanID:    strPtr("free"),
	}))
	require.NoError(t, store.Record(context.Background(), nil, &Event{
		EventType: EventTypePlanUpgraded,
		AccountID: "acct-2",
		Actor:     ActorAccount,
		PlanID:    strPtr("basic"),
	}))

	events, err := store.History(context.Background(), "acct-1", 10)
	require.NoError(t, err)
	require.Len(t, events, 2)

	assert.Equal(t, EventTypePlanCancelled, events[0].EventType)
	assert.Empty(t, events[0].RequestID)
	assert.Nil(t, events[0].SubscriptionRef)

	assert.Equal(t, upgrade.ID, events[1].ID)
	assert.Equal(t, "premium", *events[1].PlanID)
	assert.Equal(t, "sub_1", *events[1].SubscriptionRef)
	assert.Equal(t, "req-1", events[1].RequestID)
	assert.Equal(t, base, events[1].Timestamp)
	assert.Equal(t, map[string]interface{}{"expiresAt": "2026-04-01T00:00:00Z"}, events[1].Metadata)
}

func TestStore_RecordRequiresIdentity(t *testing.T) {
	store := newTestStore(t)

	for _, e := range []*Event{
		{EventType: EventTypePlanExpired, Actor: ActorSweeper},
		{AccountID: "acct-1", Actor: ActorSweeper},
		{AccountID: "acct-1", EventType: EventTypePlanExpired},
	} {
		assert.Error(t, store.Record(context.Background(), nil, e))
	}
}

func TestStore_RecordInTransaction(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	tx, err := store.db.BeginTx(ctx, nil)
	require.NoError(t, err)
	require.NoError(t, store.Record(ctx, tx, &Event{EventType: EventTypePlanExpired, AccountID: "acct-1", Actor: ActorSweeper}))
	require.NoError(t, tx.Rollback())

	events, err := store.History(ctx, "acct-1", 0)
	require.NoError(t, err)
	assert.Empty(t, events, "rolled back event must not be visible")
}

func TestStore_Search(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	kinds := []EventType{EventTypePlanUpgraded, EventTypeSubscriptionStatus, EventTypePlanExpired, EventTypeSubscriptionStatus}
	for i, kind := range kinds {
		require.NoError(t, store.Record(ctx, nil, &Event{
			Timestamp: base.Add(time.Duration(i) * time.Hour),
			EventType: kind,
			AccountID: "acct-1",
			Actor:     ActorProcessor,
			Status:    "active",
		}))
	}

	t.Run("by type", func(t *testing.T) {
		events, err := store.Search(ctx, SearchFilter{EventTypes: []EventType{EventTypeSubscriptionStatus, EventTypePlanExpired}})
		require.NoError(t, err)
		require.Len(t, events, 3)
		assert.Equal(t, base.Add(3*time.Hour), events[0].Timestamp)
		assert.Equal(t, "active", events[0].Status)
	})

	t.Run("time range", func(t *testing.T) {
		start, end := base.Add(time.Hour), base.Add(3*time.Hour)
		events, err := store.Search(ctx, SearchFilter{AccountID: "acct-1", StartTime: &start, EndTime: &end})
		require.NoError(t, err)
		require.Len(t, events, 2)
		assert.Equal(t, EventTypePlanExpired, events[0].EventType)
		assert.Equal(t, EventTypeSubscriptionStatus, events[1].EventType)
	})

	t.Run("pagination", func(t *testing.T) {
		events, err := store.Search(ctx, SearchFilter{AccountID: "acct-1", Limit: 2, Offset: 1})
		require.NoError(t, err)
		require.Len(t, events, 2)
		assert.Equal(t, base.Add(2*time.Hour), events[0].Timestamp)
	})

	t.Run("no match", func(t *testing.T) {
		events, err := store.History(ctx, "acct-unknown", 5)
		require.NoError(t, err)
		assert.NotNil(t, events)
		assert.Empty(t, events)
	})
}

func TestStore_Cleanup(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, store.Record(ctx, nil, &Event{
			Timestamp: base.AddDate(0, 0, -30*i),
			EventType: EventTypePlanUpgraded,
			AccountID: "acct-1",
			Actor:     ActorAccount,
		}))
	}

	removed, err := store.Cleanup(ctx, base.AddDate(0, 0, -45))
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)
	assert.Equal(t, 2, storagetest.CountRows(t, store.db, "plan_events", ""))
}

func TestStore_SearchFailure(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery("FROM plan_events WHERE account_id = \\$1 ORDER BY created_at DESC, id DESC LIMIT \\$2").
		WithArgs("acct-1", MaxLimit).
		WillReturnError(errors.New("connection refused"))

	_, err = NewStore(db).History(context.Background(), "acct-1", 10_000)
	assert.ErrorContains(t, err, "failed to search plan events")
	assert.NoError(t, mock.ExpectationsWereMet())
}
