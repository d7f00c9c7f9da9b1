// Package cart holds the shopping cart state of one application session and
// mirrors it to a key-value Storage after every mutation.
package cart

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ErrClosed is returned by Flush once Close has run.
var ErrClosed = errors.New("cart: store closed")

// Option configures a Store in Open.
type Option func(*Store)

// WithKey overrides DefaultKey as the storage key.
func WithKey(key string) Option {
	return func(s *Store) { s.key = key }
}

// WithLogger sets the logger; the default discards everything.
func WithLogger(log *zap.Logger) Option {
	return func(s *Store) { s.log = log }
}

// WithMetrics records cart gauges and persistence counters in m.
func WithMetrics(m *Metrics) Option {
	return func(s *Store) { s.metrics = m }
}

// Store is the cart of a single session. All mutations are applied to memory
// immediately; the matching persistence write trails behind and can be
// awaited with Flush.
type Store struct {
	storage Storage
	key     string
	session string
	log     *zap.Logger
	metrics *Metrics

	mu      sync.RWMutex
	items   Cart
	version uint64
	closed  bool

	p *persister
}

// Open loads the cart saved under the store key. A missing key yields an
// empty cart; any other read or decode error is returned.
func Open(ctx context.Context, storage Storage, opts ...Option) (*Store, error) {
	s := &Store{
		storage: storage,
		key:     DefaultKey,
		session: uuid.NewString(),
		log:     zap.NewNop(),
		items:   Cart{},
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.log == nil {
		s.log = zap.NewNop()
	}
	s.log = s.log.With(zap.String("cart_session", s.session))

	items, err := s.load(ctx)
	if err != nil {
		return nil, err
	}
	s.items = items
	s.metrics.observeCart(s.items)

	s.p = newPersister(storage, s.key, s.log, s.metrics)
	s.p.start()

	s.log.Info("cart loaded",
		zap.String("key", s.key),
		zap.Int("lines", len(s.items)),
		zap.Int("units", s.items.Units()),
	)
	return s, nil
}

func (s *Store) load(ctx context.Context) (Cart, error) {
	raw, err := s.storage.Get(ctx, s.key)
	if errors.Is(err, ErrNotFound) {
		return Cart{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load cart: %w", err)
	}

	var items Cart
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, fmt.Errorf("decode cart: %w", err)
	}
	if items == nil {
		items = Cart{}
	}
	return items, nil
}

// Products returns a copy of the current items.
func (s *Store) Products() Cart {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.items.clone()
}

func (s *Store) Item(id string) (Item, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if i := s.items.index(id); i >= 0 {
		return s.items[i], true
	}
	return Item{}, false
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.items)
}

func (s *Store) Units() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.items.Units()
}

// AddToCart bumps the quantity of an item already in the cart, replacing its
// other fields with p's, or puts p at the front with quantity 1.
func (s *Store) AddToCart(p Product) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if i := s.items.index(p.ID); i >= 0 {
		s.items[i] = itemFrom(p, s.items[i].Quantity+1)
	} else {
		s.items = append(Cart{itemFrom(p, 1)}, s.items...)
	}
	s.commitLocked()
}

// Increment is a no-op for unknown ids but still rewrites storage.
func (s *Store) Increment(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if i := s.items.index(id); i >= 0 {
		s.items[i].Quantity++
	}
	s.commitLocked()
}

// Decrement removes the item once its quantity reaches zero.
func (s *Store) Decrement(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if i := s.items.index(id); i >= 0 {
		s.items[i].Quantity--
	}
	s.items = dropEmpty(s.items)
	s.commitLocked()
}

func dropEmpty(c Cart) Cart {
	n := 0
	for _, it := range c {
		if it.Quantity > 0 {
			c[n] = it
			n++
		}
	}
	return c[:n]
}

func (s *Store) commitLocked() {
	s.metrics.observeCart(s.items)

	if s.closed {
		s.log.Warn("cart mutated after close; change not persisted")
		return
	}

	data, err := json.Marshal(s.items)
	if err != nil {
		s.metrics.inc(resultEncode)
		s.log.Error("cart encode failed", zap.Error(err))
		return
	}

	s.version++
	s.p.schedule(data, s.version)
}

// Flush waits until storage holds the state of the latest mutation and
// returns the result of the last write.
func (s *Store) Flush(ctx context.Context) error {
	s.mu.RLock()
	ver, closed := s.version, s.closed
	s.mu.RUnlock()

	if closed {
		return ErrClosed
	}
	return s.p.wait(ctx, ver)
}

func (s *Store) Ping(ctx context.Context) error {
	return s.storage.Ping(ctx)
}

// Close flushes pending writes and stops the persister.
func (s *Store) Close(ctx context.Context) error {
	flushErr := s.Flush(ctx)
	if errors.Is(flushErr, ErrClosed) {
		return nil
	}

	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()

	if err := s.p.stop(ctx); err != nil {
		return err
	}
	return flushErr
}
