package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"coachflow/internal/logger"
	"coachflow/pkg/metrics"
)

// Entry is one delayed action waiting for release.
type Entry struct {
	ID         string    `json:"id"`
	ActionType string    `json:"actionType"`
	Body       []byte    `json:"body"`
	DelayMs    int64     `json:"delayMs"`
	DueAt      time.Time `json:"dueAt"`
}

// NewEntry stamps a delayed action with an ID and its due time.
func NewEntry(actionType string, body []byte, delay time.Duration, now time.Time) Entry {
	return Entry{
		ID:         uuid.New().String(),
		ActionType: actionType,
		Body:       body,
		DelayMs:    delay.Milliseconds(),
		DueAt:      now.Add(delay),
	}
}

type Store interface {
	Schedule(ctx context.Context, entry Entry) error
	// Claim removes and returns up to limit entries due at or before now,
	// earliest first. An entry is returned to at most one caller. Entries
	// returned alongside an error are already removed and must be
	// requeued by the caller.
	Claim(ctx context.Context, now time.Time, limit int) ([]Entry, error)
	Requeue(ctx context.Context, entry Entry) error
	Size(ctx context.Context) (int64, error)
}

type RedisStore struct {
	client *redis.Client
	key    string
	logger logger.Logger
}

type StoreOption func(*RedisStore)

// WithStoreLogger reports members that cannot be decoded.
func WithStoreLogger(log logger.Logger) StoreOption {
	return func(s *RedisStore) {
		s.logger = log
	}
}

func NewRedisStore(client *redis.Client, key string, opts ...StoreOption) *RedisStore {
	s := &RedisStore{client: client, key: key, logger: logger.NopLogger()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// claimScript pops due members in one round trip so a claimed member is
// never left half removed.
var claimScript = redis.NewScript(`
local due = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'LIMIT', 0, ARGV[2])
if #due > 0 then
	redis.call('ZREM', KEYS[1], unpack(due))
end
return due
`)

func (s *RedisStore) Schedule(ctx context.Context, entry Entry) error {
	member, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal scheduled entry: %w", err)
	}

	err = s.client.ZAdd(ctx, s.key, redis.Z{
		Score:  float64(entry.DueAt.UnixMilli()),
		Member: member,
	}).Err()
	if err != nil {
		return fmt.Errorf("redis ZAdd failed: %w", err)
	}
	return nil
}

func (s *RedisStore) Claim(ctx context.Context, now time.Time, limit int) ([]Entry, error) {
	members, err := claimScript.Run(ctx, s.client, []string{s.key}, now.UnixMilli(), limit).StringSlice()
	if err != nil {
		return nil, fmt.Errorf("redis claim failed: %w", err)
	}

	entries := make([]Entry, 0, len(members))
	for _, member := range members {
		var entry Entry
		if err := json.Unmarshal([]byte(member), &entry); err != nil {
			metrics.IncSchedulerReleased("malformed")
			s.logger.Errorw("Dropping undecodable scheduled entry",
				"error", err,
				"member", member,
			)
			continue
		}
		entries = append(entries, entry)
	}

	return entries, nil
}

func (s *RedisStore) Requeue(ctx context.Context, entry Entry) error {
	return s.Schedule(ctx, entry)
}

func (s *RedisStore) Size(ctx context.Context) (int64, error) {
	size, err := s.client.ZCard(ctx, s.key).Result()
	if err != nil {
		return 0, fmt.Errorf("redis ZCard failed: %w", err)
	}
	return size, nil
}
