// Package redis implements the checkout idempotency store on Redis.
package redis

import (
	"context"
	"strings"
	"time"

	"github.com/go-faster/errors"
	red "github.com/redis/go-redis/v9"

	"github.com/xenking/retail-pos/internal/domain/sale"
)

const (
	defaultPrefix = "pos:idem"
	pendingValue  = "pending"
	donePrefix    = "done:"
)

// releaseScript deletes the key only while it is still pending, so a late
// release cannot drop a completed record.
var releaseScript = red.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Config holds key lifetimes.
type Config struct {
	// Prefix namespaces the keys. Empty means "pos:idem".
	Prefix string
	// PendingTTL bounds how long a crashed holder blocks a key. Zero means 1m.
	PendingTTL time.Duration
	// TTL is how long a completed key replays its sale. Zero means 24h.
	TTL time.Duration
}

var _ sale.IdempotencyStore = (*IdempotencyStore)(nil)

// IdempotencyStore implements sale.IdempotencyStore. A key moves from absent
// to pending on Reserve, then to done on Complete or back to absent on
// Release.
type IdempotencyStore struct {
	client  *red.Client
	prefix  string
	pending time.Duration
	ttl     time.Duration
}

// NewIdempotencyStore creates a store on client.
func NewIdempotencyStore(client *red.Client, cfg Config) *IdempotencyStore {
	s := &IdempotencyStore{
		client:  client,
		prefix:  strings.TrimSpace(cfg.Prefix),
		pending: cfg.PendingTTL,
		ttl:     cfg.TTL,
	}
	if s.prefix == "" {
		s.prefix = defaultPrefix
	}
	if s.pending <= 0 {
		s.pending = time.Minute
	}
	if s.ttl <= 0 {
		s.ttl = 24 * time.Hour
	}
	return s
}

// Reserve claims key. It returns the sale id when key already completed and
// sale.ErrInProgress while another holder has it.
func (s *IdempotencyStore) Reserve(ctx context.Context, key string) (string, error) {
	k := s.key(key)
	for range 2 {
		ok, err := s.client.SetNX(ctx, k, pendingValue, s.pending).Result()
		if err != nil {
			return "", errors.Wrap(err, "redis setnx")
		}
		if ok {
			return "", nil
		}

		v, err := s.client.Get(ctx, k).Result()
		switch {
		case errors.Is(err, red.Nil):
			// Expired between SETNX and GET.
			continue
		case err != nil:
			return "", errors.Wrap(err, "redis get")
		case v == pendingValue:
			return "", sale.ErrInProgress
		case strings.HasPrefix(v, donePrefix):
			return strings.TrimPrefix(v, donePrefix), nil
		default:
			return "", errors.Errorf("unexpected value %q for idempotency key", v)
		}
	}
	return "", sale.ErrInProgress
}

// Complete records saleID for key.
func (s *IdempotencyStore) Complete(ctx context.Context, key, saleID string) error {
	if err := s.client.Set(ctx, s.key(key), donePrefix+saleID, s.ttl).Err(); err != nil {
		return errors.Wrap(err, "redis set")
	}
	return nil
}

// Release frees a pending key after a failed checkout.
func (s *IdempotencyStore) Release(ctx context.Context, key string) error {
	if err := releaseScript.Run(ctx, s.client, []string{s.key(key)}, pendingValue).Err(); err != nil {
		return errors.Wrap(err, "redis release")
	}
	return nil
}

func (s *IdempotencyStore) key(key string) string {
	return s.prefix + ":" + strings.TrimSpace(key)
}
