// Package redisrate keeps rate-limit records in redis sorted sets, one set
// per (user, action), scored by unix nanoseconds. Deployments with several
// API replicas point the limiter here so all replicas count the same window;
// the primary store stays the system of record for everything else.
package redisrate

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// Store implements store.RateLimitStore on a redis client.
type Store struct {
	client *redis.Client
}

// Open connects to redis at url (redis://...).
func Open(url string) (*Store, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	return &Store{client: redis.NewClient(opts)}, nil
}

// New wraps an existing client.
func New(client *redis.Client) *Store {
	return &Store{client: client}
}

// Close closes the client.
func (s *Store) Close() error { return s.client.Close() }

// Ping verifies connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func key(userID, action string) string {
	return "rl:" + userID + ":" + action
}

// CountInWindow counts records for (userID, action) newer than since and
// returns the oldest in-window timestamp.
func (s *Store) CountInWindow(ctx context.Context, userID, action string, since time.Time) (int, time.Time, error) {
	k := key(userID, action)
	min := "(" + strconv.FormatInt(since.UnixNano(), 10)

	count, err := s.client.ZCount(ctx, k, min, "+inf").Result()
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("zcount: %w", err)
	}
	if count == 0 {
		return 0, time.Time{}, nil
	}

	oldest, err := s.client.ZRangeByScoreWithScores(ctx, k, &redis.ZRangeBy{
		Min:   min,
		Max:   "+inf",
		Count: 1,
	}).Result()
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("zrangebyscore: %w", err)
	}
	if len(oldest) == 0 {
		return int(count), time.Time{}, nil
	}
	return int(count), time.Unix(0, int64(oldest[0].Score)), nil
}

// InsertRecord appends one record. The member embeds the reference ID and
// timestamp so concurrent inserts never collide.
func (s *Store) InsertRecord(ctx context.Context, userID, action, referenceID string, at time.Time) error {
	ns := at.UnixNano()
	member := strconv.FormatInt(ns, 10) + ":" + referenceID
	err := s.client.ZAdd(ctx, key(userID, action), redis.Z{
		Score:  float64(ns),
		Member: member,
	}).Err()
	if err != nil {
		return fmt.Errorf("zadd: %w", err)
	}
	return nil
}

// DeleteBefore scans all rate-limit sets and trims members older than cutoff.
// Emptied sets are left to redis key expiry semantics (an empty sorted set
// is removed automatically).
func (s *Store) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	max := "(" + strconv.FormatInt(cutoff.UnixNano(), 10)

	var (
		total  int64
		cursor uint64
	)
	for {
		keys, next, err := s.client.Scan(ctx, cursor, "rl:*", 200).Result()
		if err != nil {
			return total, fmt.Errorf("scan: %w", err)
		}
		for _, k := range keys {
			n, err := s.client.ZRemRangeByScore(ctx, k, "-inf", max).Result()
			if err != nil {
				return total, fmt.Errorf("zremrangebyscore %s: %w", k, err)
			}
			total += n
		}
		cursor = next
		if cursor == 0 {
			return total, nil
		}
	}
}
