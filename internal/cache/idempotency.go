package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultIdempotencyTTL is how long a key and its stored response live.
const DefaultIdempotencyTTL = 24 * time.Hour

// ErrInFlight means another request with the same key has claimed it and
// not finished yet.
var ErrInFlight = errors.New("cache: request with this idempotency key is still in progress")

// ErrFingerprintMismatch means the key was claimed by a request with a
// different body.
var ErrFingerprintMismatch = errors.New("cache: idempotency key was used with a different request")

// StoredResponse is what a key holds. While the first request runs it has
// only a Fingerprint and a zero Status; once finished it is replayed
// verbatim for repeats carrying the same Fingerprint.
type StoredResponse struct {
	Status      int             `json:"status"`
	Body        json.RawMessage `json:"body,omitempty"`
	Fingerprint string          `json:"fingerprint"`
}

func (r StoredResponse) inFlight() bool { return r.Status == 0 }

// IdempotencyStore deduplicates generation requests by client-supplied key.
//
// LIFECYCLE OF A KEY:
//  1. Begin claims the key for a request fingerprint. The first caller gets
//     (nil, nil) and runs the request. A repeat with another fingerprint
//     gets ErrFingerprintMismatch. Otherwise a repeat while it runs gets
//     ErrInFlight, and a repeat after it finished gets the stored response.
//  2. The first caller then calls Complete to store its response, or
//     Release to drop the claim so the client may retry.
type IdempotencyStore interface {
	Begin(ctx context.Context, userID, key, fingerprint string) (*StoredResponse, error)
	Complete(ctx context.Context, userID, key string, resp StoredResponse) error
	Release(ctx context.Context, userID, key string) error
}

// RedisIdempotencyStore implements IdempotencyStore with SETNX.
//
// SET key value NX EX ttl is atomic: of two concurrent requests with the
// same key exactly one sees "OK". Keys are scoped per user so two users
// cannot collide, or replay each other's responses.
type RedisIdempotencyStore struct {
	client *redis.Client
	ttl    time.Duration
}

var _ IdempotencyStore = (*RedisIdempotencyStore)(nil)

// NewRedisIdempotencyStore creates a store; ttl <= 0 uses DefaultIdempotencyTTL.
func NewRedisIdempotencyStore(client *redis.Client, ttl time.Duration) *RedisIdempotencyStore {
	if ttl <= 0 {
		ttl = DefaultIdempotencyTTL
	}
	return &RedisIdempotencyStore{client: client, ttl: ttl}
}

func idempotencyKey(userID, key string) string {
	return "idem:" + userID + ":" + key
}

func (s *RedisIdempotencyStore) Begin(ctx context.Context, userID, key, fingerprint string) (*StoredResponse, error) {
	k := idempotencyKey(userID, key)

	claim, err := json.Marshal(StoredResponse{Fingerprint: fingerprint})
	if err != nil {
		return nil, fmt.Errorf("cache: encoding claim: %w", err)
	}
	claimed, err := s.client.SetNX(ctx, k, claim, s.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("cache: claiming idempotency key: %w", err)
	}
	if claimed {
		return nil, nil
	}

	val, err := s.client.Get(ctx, k).Bytes()
	if err != nil {
		// The claim expired or was released between SETNX and GET.
		// Treat it as in flight rather than racing for it again.
		if errors.Is(err, redis.Nil) {
			return nil, ErrInFlight
		}
		return nil, fmt.Errorf("cache: reading idempotency key: %w", err)
	}

	var resp StoredResponse
	if err := json.Unmarshal(val, &resp); err != nil {
		return nil, fmt.Errorf("cache: decoding stored response: %w", err)
	}
	switch {
	case resp.Fingerprint != fingerprint:
		return nil, ErrFingerprintMismatch
	case resp.inFlight():
		return nil, ErrInFlight
	}
	return &resp, nil
}

func (s *RedisIdempotencyStore) Complete(ctx context.Context, userID, key string, resp StoredResponse) error {
	data, err := json.Marshal(resp)
	if err != nil {
		return fmt.Errorf("cache: encoding response: %w", err)
	}
	if err := s.client.Set(ctx, idempotencyKey(userID, key), data, s.ttl).Err(); err != nil {
		return fmt.Errorf("cache: storing response: %w", err)
	}
	return nil
}

func (s *RedisIdempotencyStore) Release(ctx context.Context, userID, key string) error {
	if err := s.client.Del(ctx, idempotencyKey(userID, key)).Err(); err != nil {
		return fmt.Errorf("cache: releasing idempotency key: %w", err)
	}
	return nil
}
