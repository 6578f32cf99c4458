package cache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisTranscripts stores each session's transcript as a redis list, expiring
// the whole list after the retention window.
type RedisTranscripts struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewRedisTranscripts(rdb *redis.Client, ttl time.Duration) *RedisTranscripts {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &RedisTranscripts{rdb: rdb, ttl: ttl}
}

func transcriptKey(sessionID string) string {
	return "session:" + sessionID + ":transcripts"
}

func (s *RedisTranscripts) Append(ctx context.Context, sessionID string, entry TranscriptEntry) error {
	b, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	key := transcriptKey(sessionID)
	pipe := s.rdb.TxPipeline()
	pipe.RPush(ctx, key, b)
	pipe.Expire(ctx, key, s.ttl)
	_, err = pipe.Exec(ctx)
	return err
}

func (s *RedisTranscripts) List(ctx context.Context, sessionID string) ([]TranscriptEntry, error) {
	raw, err := s.rdb.LRange(ctx, transcriptKey(sessionID), 0, -1).Result()
	if err != nil {
		return nil, err
	}
	entries := make([]TranscriptEntry, 0, len(raw))
	for _, item := range raw {
		var e TranscriptEntry
		if err := json.Unmarshal([]byte(item), &e); err != nil {
			// corrupt entry: skip rather than fail the whole read
			continue
		}
		entries = append(entries, e)
	}
	return entries, nil
}

func (s *RedisTranscripts) Del(ctx context.Context, sessionID string) error {
	return s.rdb.Del(ctx, transcriptKey(sessionID)).Err()
}
