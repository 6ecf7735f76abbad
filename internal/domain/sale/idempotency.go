package sale

import (
	"context"

	"github.com/go-faster/errors"
)

// ErrInProgress is returned when a submission with the same idempotency key
// is still being processed.
var ErrInProgress = errors.New("checkout with this idempotency key is in progress")

// IdempotencyStore makes checkout submissions at-most-once per key.
//
// Reserve returns ("", nil) when the key was free and is now held by the
// caller, the stored sale id when the key already completed, or
// ErrInProgress while another holder is working on it.
type IdempotencyStore interface {
	Reserve(ctx context.Context, key string) (saleID string, err error)
	Complete(ctx context.Context, key, saleID string) error
	Release(ctx context.Context, key string) error
}
