package store

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nightscout-labs/liveactivity/internal/activity"
	"github.com/nightscout-labs/liveactivity/internal/dexcom"
)

func newTestClient(t *testing.T) *Client {
	t.Helper()
	mr := miniredis.RunT(t)
	c, err := NewClient(ClientOptions{URL: "redis://" + mr.Addr()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func testRecord(id string) *activity.Record {
	accountID := uuid.New()
	return &activity.Record{
		ID:              id,
		PushToken:       "a1b2c3",
		Environment:     activity.EnvProduction,
		AccountLocation: dexcom.LocationUS,
		Duration:        3600,
		Username:        "user@example.com",
		Password:        "secret",
		AccountID:       &accountID,
		Preferences: &activity.Preferences{
			TargetRange: activity.TargetRange{Lower: 70, Upper: 180},
			Unit:        activity.UnitMGDL,
		},
		StartDate:    time.Date(2026, 8, 24, 10, 0, 0, 0, time.UTC),
		PollInterval: 4,
	}
}

func TestRecordRoundTrip(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()

	rec := testRecord("user@example.com")
	require.NoError(t, c.PutRecord(ctx, rec))

	got, err := c.GetRecord(ctx, rec.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, rec.ID, got.ID)
	assert.Equal(t, rec.PushToken, got.PushToken)
	assert.Equal(t, rec.Environment, got.Environment)
	assert.Equal(t, rec.AccountLocation, got.AccountLocation)
	assert.Equal(t, rec.AccountID, got.AccountID)
	assert.Equal(t, rec.Preferences, got.Preferences)
	assert.True(t, rec.StartDate.Equal(got.StartDate))
	assert.Equal(t, rec.PollInterval, got.PollInterval)
}

func TestGetRecord_MissingReturnsNilNil(t *testing.T) {
	c := newTestClient(t)

	got, err := c.GetRecord(context.Background(), "nobody")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestDeleteRecord(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()

	rec := testRecord("user@example.com")
	require.NoError(t, c.PutRecord(ctx, rec))
	require.NoError(t, c.DeleteRecord(ctx, rec.ID))

	got, err := c.GetRecord(ctx, rec.ID)
	require.NoError(t, err)
	assert.Nil(t, got)

	// Deleting again is a no-op, not an error.
	assert.NoError(t, c.DeleteRecord(ctx, rec.ID))
}

func TestPutRecord_Overwrites(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()

	rec := testRecord("user@example.com")
	require.NoError(t, c.PutRecord(ctx, rec))

	rec.PollInterval = 21.6
	rec.RetryCount = 2
	require.NoError(t, c.PutRecord(ctx, rec))

	got, err := c.GetRecord(ctx, rec.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, 21.6, got.PollInterval)
	assert.Equal(t, 2, got.RetryCount)
}

func TestDueBefore_OnlyDueIDs(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()
	now := time.Unix(1_800_000_000, 0)

	require.NoError(t, c.Schedule(ctx, "past", now.Add(-30*time.Second)))
	require.NoError(t, c.Schedule(ctx, "exact", now))
	require.NoError(t, c.Schedule(ctx, "future", now.Add(30*time.Second)))

	ids, err := c.DueBefore(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, []string{"past", "exact"}, ids)
}

func TestSchedule_UpsertsScore(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()
	now := time.Unix(1_800_000_000, 0)

	require.NoError(t, c.Schedule(ctx, "a", now))
	require.NoError(t, c.Schedule(ctx, "a", now.Add(time.Minute)))

	ids, err := c.DueBefore(ctx, now)
	require.NoError(t, err)
	assert.Empty(t, ids)

	ids, err = c.DueBefore(ctx, now.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, ids)

	n, err := c.ScheduledCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestUnschedule(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()
	now := time.Unix(1_800_000_000, 0)

	require.NoError(t, c.Schedule(ctx, "a", now))
	require.NoError(t, c.Unschedule(ctx, "a"))

	ids, err := c.DueBefore(ctx, now)
	require.NoError(t, err)
	assert.Empty(t, ids)

	// Removing an absent member is fine.
	assert.NoError(t, c.Unschedule(ctx, "a"))
}

func TestClaim_RescoresDueIDs(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()
	now := time.Unix(1_800_000_000, 0)

	require.NoError(t, c.Schedule(ctx, "a", now.Add(-time.Second)))
	require.NoError(t, c.Schedule(ctx, "b", now))

	claimUntil := now.Add(time.Minute)
	require.NoError(t, c.Claim(ctx, []string{"a", "b"}, claimUntil))

	// Nothing is due until the claim score comes around.
	ids, err := c.DueBefore(ctx, now)
	require.NoError(t, err)
	assert.Empty(t, ids)

	ids, err = c.DueBefore(ctx, claimUntil)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"a", "b"}, ids)
}

func TestClaim_NeverResurrectsEndedActivities(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()
	now := time.Unix(1_800_000_000, 0)

	require.NoError(t, c.Schedule(ctx, "alive", now))
	// "ended" was unscheduled between the due lookup and the claim.

	require.NoError(t, c.Claim(ctx, []string{"alive", "ended"}, now.Add(time.Minute)))

	n, err := c.ScheduledCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestClaim_EmptyIsNoOp(t *testing.T) {
	c := newTestClient(t)
	assert.NoError(t, c.Claim(context.Background(), nil, time.Now()))
}

func TestNewClient_InvalidURL(t *testing.T) {
	_, err := NewClient(ClientOptions{URL: "not a url"})
	assert.Error(t, err)
}
