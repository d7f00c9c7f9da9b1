package cart

import (
	"context"
	"errors"
	"net/http"
)

type ctxKey string

const storeKey ctxKey = "cart_store"

var ErrNoStore = errors.New("cart: no store in scope, wrap the caller with cart.Provide")

func WithStore(ctx context.Context, s *Store) context.Context {
	return context.WithValue(ctx, storeKey, s)
}

// FromContext is the access point views use to reach the cart.
func FromContext(ctx context.Context) (*Store, error) {
	s, ok := ctx.Value(storeKey).(*Store)
	if !ok || s == nil {
		return nil, ErrNoStore
	}
	return s, nil
}

// Provide makes s available to every handler below it.
func Provide(s *Store) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			next.ServeHTTP(w, r.WithContext(WithStore(r.Context(), s)))
		})
	}
}
