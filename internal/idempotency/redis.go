package idempotency

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultRedisPrefix = "skylink:idem"

// RedisStore persists records in Redis so multiple gateway instances share
// one idempotency space. A zero TTL keeps records forever; a positive TTL
// bounds storage at the cost of re-admitting a key after expiry.
type RedisStore struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
}

// NewRedisStore creates a RedisStore with the given key prefix and TTL.
// An empty prefix selects the default.
func NewRedisStore(client redis.UniversalClient, prefix string, ttl time.Duration) *RedisStore {
	if prefix == "" {
		prefix = defaultRedisPrefix
	}
	return &RedisStore{client: client, prefix: prefix, ttl: ttl}
}

// key joins the components with query-escaping so an identity containing ":"
// cannot alias another (identity, event id) pair.
func (s *RedisStore) key(identity, eventID string) string {
	return fmt.Sprintf("%s:%s:%s", s.prefix, url.QueryEscape(identity), url.QueryEscape(eventID))
}

// deleteIfFingerprint removes the key only when the stored value carries the
// given fingerprint. Checked and deleted server-side so it cannot race a
// re-insert between read and delete.
var deleteIfFingerprint = redis.NewScript(`
local v = redis.call('GET', KEYS[1])
if v and string.sub(v, 1, string.len(ARGV[1]) + 1) == ARGV[1] .. '|' then
	return redis.call('DEL', KEYS[1])
end
return 0
`)

// PutIfAbsent implements Store via SET NX. On a lost race the existing value
// is read back so the caller can compare fingerprints.
func (s *RedisStore) PutIfAbsent(ctx context.Context, rec *Record) (*Record, bool, error) {
	key := s.key(rec.Identity, rec.EventID)
	val := encodeRecord(rec)

	set, err := s.client.SetNX(ctx, key, val, s.ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("idempotency setnx: %w", err)
	}
	if set {
		return rec, true, nil
	}

	raw, err := s.client.Get(ctx, key).Result()
	if err == redis.Nil {
		// The existing record expired between SETNX and GET. Retry once.
		set, err = s.client.SetNX(ctx, key, val, s.ttl).Result()
		if err != nil {
			return nil, false, fmt.Errorf("idempotency setnx retry: %w", err)
		}
		if set {
			return rec, true, nil
		}
		raw, err = s.client.Get(ctx, key).Result()
	}
	if err != nil {
		return nil, false, fmt.Errorf("idempotency get: %w", err)
	}

	existing, err := decodeRecord(rec.Identity, rec.EventID, raw)
	if err != nil {
		return nil, false, err
	}
	return existing, false, nil
}

// Delete implements Store.
func (s *RedisStore) Delete(ctx context.Context, identity, eventID, fingerprint string) error {
	key := s.key(identity, eventID)
	if err := deleteIfFingerprint.Run(ctx, s.client, []string{key}, fingerprint).Err(); err != nil && err != redis.Nil {
		return fmt.Errorf("idempotency delete: %w", err)
	}
	return nil
}

func encodeRecord(rec *Record) string {
	return rec.Fingerprint + "|" + rec.CreatedAt.UTC().Format(time.RFC3339Nano)
}

func decodeRecord(identity, eventID, raw string) (*Record, error) {
	fp, ts, ok := strings.Cut(raw, "|")
	if !ok {
		return nil, fmt.Errorf("idempotency: malformed record for %s/%s", identity, eventID)
	}
	createdAt, err := time.Parse(time.RFC3339Nano, ts)
	if err != nil {
		return nil, fmt.Errorf("idempotency: malformed timestamp for %s/%s: %w", identity, eventID, err)
	}
	return &Record{
		Identity:    identity,
		EventID:     eventID,
		Fingerprint: fp,
		CreatedAt:   createdAt,
	}, nil
}
