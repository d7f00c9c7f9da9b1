package cart

import (
	"context"
	"errors"
	"time"
)

const (
	DefaultKey = "@GoMarketPlace:cart"

	pingTimeout  = 1 * time.Second
	queryTimeout = 3 * time.Second
)

var ErrNotFound = errors.New("cart: key not found")

// Storage is a whole-value key-value backend. Get returns ErrNotFound when
// nothing was stored under key.
type Storage interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Ping(ctx context.Context) error
}

func withTimeout(parent context.Context, d time.Duration, fn func(ctx context.Context) error) error {
	ctx, cancel := context.WithTimeout(parent, d)
	defer cancel()
	return fn(ctx)
}
