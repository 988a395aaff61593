// Package ephemeral stores short-lived, single-use values such as one-time codes and
// verification proofs. A value can be taken at most once; expired values are gone.
package ephemeral

import (
	"context"
	"time"
)

// Store puts values with a TTL and takes them exactly once.
//
// Put fails with sentinel.ErrConflict when key already holds a live value.
// Take fails with sentinel.ErrNotFound when key is missing, expired or already taken.
// Peek reads a live value without taking it.
// TakeIfEqual takes key only while it still holds value, and fails with
// sentinel.ErrNotFound otherwise.
type Store interface {
	Put(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Take(ctx context.Context, key string) ([]byte, error)
	Peek(ctx context.Context, key string) ([]byte, error)
	TakeIfEqual(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
}
