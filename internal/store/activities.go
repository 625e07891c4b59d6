package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/nightscout-labs/liveactivity/internal/activity"
)

// PutRecord overwrites the activity record for its id.
func (c *Client) PutRecord(ctx context.Context, rec *activity.Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal record: %w", err)
	}
	if err := c.rdb.HSet(ctx, recordKey(rec.ID), recordField, data).Err(); err != nil {
		return fmt.Errorf("put record %s: %w", rec.ID, err)
	}
	return nil
}

// GetRecord loads a record. A missing record returns (nil, nil); callers use
// absence as the signal that the activity ended.
func (c *Client) GetRecord(ctx context.Context, id string) (*activity.Record, error) {
	data, err := c.rdb.HGet(ctx, recordKey(id), recordField).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("get record %s: %w", id, err)
	}

	var rec activity.Record
	if err := json.Unmarshal([]byte(data), &rec); err != nil {
		return nil, fmt.Errorf("parse record %s: %w", id, err)
	}
	return &rec, nil
}

// DeleteRecord removes a record. Deleting an absent record is not an error.
func (c *Client) DeleteRecord(ctx context.Context, id string) error {
	if err := c.rdb.Del(ctx, recordKey(id)).Err(); err != nil {
		return fmt.Errorf("delete record %s: %w", id, err)
	}
	return nil
}

// Schedule upserts the activity into the schedule index with the next poll
// time as its score.
func (c *Client) Schedule(ctx context.Context, id string, at time.Time) error {
	err := c.rdb.ZAdd(ctx, scheduleKey, redis.Z{
		Score:  float64(at.Unix()),
		Member: id,
	}).Err()
	if err != nil {
		return fmt.Errorf("schedule %s: %w", id, err)
	}
	return nil
}

// Unschedule removes the activity from the schedule index.
func (c *Client) Unschedule(ctx context.Context, id string) error {
	if err := c.rdb.ZRem(ctx, scheduleKey, id).Err(); err != nil {
		return fmt.Errorf("unschedule %s: %w", id, err)
	}
	return nil
}

// DueBefore returns the ids whose next poll time is at or before now,
// ascending by due time.
func (c *Client) DueBefore(ctx context.Context, now time.Time) ([]string, error) {
	ids, err := c.rdb.ZRangeByScore(ctx, scheduleKey, &redis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(now.Unix(), 10),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("due lookup: %w", err)
	}
	return ids, nil
}

// Claim bulk-rescores the given ids to a future time so the next tick does
// not pick them up again while they are being processed. Rescoring instead
// of removing guarantees a crashed processor's activity is retried once the
// bumped score comes due. Only existing members are touched (ZADD XX), so a
// claim can never resurrect an activity that ended mid-cycle.
func (c *Client) Claim(ctx context.Context, ids []string, at time.Time) error {
	if len(ids) == 0 {
		return nil
	}
	members := make([]redis.Z, len(ids))
	for i, id := range ids {
		members[i] = redis.Z{Score: float64(at.Unix()), Member: id}
	}
	if err := c.rdb.ZAddXX(ctx, scheduleKey, members...).Err(); err != nil {
		return fmt.Errorf("claim %d ids: %w", len(ids), err)
	}
	return nil
}

// ScheduledCount returns the size of the schedule index, for metrics.
func (c *Client) ScheduledCount(ctx context.Context) (int64, error) {
	n, err := c.rdb.ZCard(ctx, scheduleKey).Result()
	if err != nil {
		return 0, fmt.Errorf("schedule count: %w", err)
	}
	return n, nil
}
