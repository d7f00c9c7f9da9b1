package cart_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"GoMarketplace/internal/cart"
)

var shoe = cart.Product{ID: "1", Title: "Shoe", ImageURL: "x", Price: 10}

func openStore(t *testing.T, storage cart.Storage) *cart.Store {
	t.Helper()

	s, err := cart.Open(context.Background(), storage)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close(context.Background()) })
	return s
}

func flush(t *testing.T, s *cart.Store) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.Flush(ctx); err != nil {
		t.Fatalf("flush: %v", err)
	}
}

func storedCart(t *testing.T, storage cart.Storage) cart.Cart {
	t.Helper()

	raw, err := storage.Get(context.Background(), cart.DefaultKey)
	if err != nil {
		t.Fatalf("storage get: %v", err)
	}
	var c cart.Cart
	if err := json.Unmarshal(raw, &c); err != nil {
		t.Fatalf("decode stored cart: %v body=%s", err, string(raw))
	}
	return c
}

func TestStore_Scenarios(t *testing.T) {
	s := openStore(t, cart.NewMemStorage())

	if n := s.Len(); n != 0 {
		t.Fatalf("fresh store len=%d", n)
	}

	// A
	s.AddToCart(shoe)
	got := s.Products()
	if len(got) != 1 || got[0].ID != "1" || got[0].Quantity != 1 {
		t.Fatalf("A: %+v", got)
	}
	if got[0].Title != "Shoe" || got[0].ImageURL != "x" || got[0].Price != 10 {
		t.Fatalf("A fields: %+v", got[0])
	}

	// B
	s.AddToCart(shoe)
	got = s.Products()
	if len(got) != 1 || got[0].Quantity != 2 {
		t.Fatalf("B: %+v", got)
	}

	// C
	s.Decrement("1")
	got = s.Products()
	if len(got) != 1 || got[0].Quantity != 1 {
		t.Fatalf("C: %+v", got)
	}

	// D
	s.Decrement("1")
	if got = s.Products(); len(got) != 0 {
		t.Fatalf("D: %+v", got)
	}

	// E
	s.AddToCart(shoe)
	before := s.Products()
	s.Increment("nonexistent")
	after := s.Products()
	if len(before) != len(after) || before[0] != after[0] {
		t.Fatalf("E: before=%+v after=%+v", before, after)
	}
}

func TestStore_AddPrependsNewAndMergesExisting(t *testing.T) {
	s := openStore(t, cart.NewMemStorage())

	s.AddToCart(cart.Product{ID: "a", Title: "A", Price: 1})
	s.AddToCart(cart.Product{ID: "b", Title: "B", Price: 2})
	s.AddToCart(cart.Product{ID: "c", Title: "C", Price: 3})

	got := s.Products()
	if len(got) != 3 || got[0].ID != "c" || got[1].ID != "b" || got[2].ID != "a" {
		t.Fatalf("order: %+v", got)
	}

	s.AddToCart(cart.Product{ID: "a", Title: "A2", ImageURL: "new.png", Price: 5})

	got = s.Products()
	if len(got) != 3 {
		t.Fatalf("duplicate line created: %+v", got)
	}
	if got[2].ID != "a" || got[2].Quantity != 2 {
		t.Fatalf("merged item moved or wrong qty: %+v", got)
	}
	if got[2].Title != "A2" || got[2].ImageURL != "new.png" || got[2].Price != 5 {
		t.Fatalf("candidate fields not applied: %+v", got[2])
	}
	if got[0].Quantity != 1 || got[1].Quantity != 1 {
		t.Fatalf("other quantities changed: %+v", got)
	}
}

func TestStore_UniqueByID(t *testing.T) {
	s := openStore(t, cart.NewMemStorage())

	ids := []string{"x", "y", "x", "z", "y", "x"}
	for _, id := range ids {
		s.AddToCart(cart.Product{ID: id})
	}

	seen := map[string]int{}
	for _, it := range s.Products() {
		seen[it.ID]++
	}
	for id, n := range seen {
		if n != 1 {
			t.Fatalf("id %s appears %d times", id, n)
		}
	}
	if it, ok := s.Item("x"); !ok || it.Quantity != 3 {
		t.Fatalf("x=%+v ok=%v", it, ok)
	}
	if s.Units() != 6 {
		t.Fatalf("units=%d", s.Units())
	}
}

func TestStore_DecrementKeepsItemAboveOne(t *testing.T) {
	s := openStore(t, cart.NewMemStorage())

	s.AddToCart(shoe)
	s.Increment("1")
	s.Increment("1")
	s.Decrement("1")

	it, ok := s.Item("1")
	if !ok || it.Quantity != 2 {
		t.Fatalf("item=%+v ok=%v", it, ok)
	}

	s.Decrement("missing")
	if s.Len() != 1 {
		t.Fatalf("decrement of unknown id changed cart: %+v", s.Products())
	}
}

func TestStore_DecrementDropsNonPositive(t *testing.T) {
	storage := cart.NewMemStorage()
	seed := `[{"id":"a","quantity":0},{"id":"b","quantity":-2},{"id":"c","quantity":2}]`
	if err := storage.Set(context.Background(), cart.DefaultKey, []byte(seed)); err != nil {
		t.Fatalf("seed: %v", err)
	}

	s := openStore(t, storage)
	if s.Len() != 3 {
		t.Fatalf("loaded=%+v", s.Products())
	}

	s.Decrement("c")
	got := s.Products()
	if len(got) != 1 || got[0].ID != "c" || got[0].Quantity != 1 {
		t.Fatalf("after decrement=%+v", got)
	}

	s.Decrement("c")
	s.Decrement("c")
	if s.Len() != 0 {
		t.Fatalf("expected empty cart, got %+v", s.Products())
	}
	flush(t, s)

	raw, err := storage.Get(context.Background(), cart.DefaultKey)
	if err != nil {
		t.Fatalf("storage get: %v", err)
	}
	if string(raw) != "[]" {
		t.Fatalf("stored=%s", raw)
	}
}

func TestStore_IncrementUnknownStillPersists(t *testing.T) {
	storage := cart.NewMemStorage()
	s := openStore(t, storage)

	s.Increment("ghost")
	flush(t, s)

	if c := storedCart(t, storage); len(c) != 0 {
		t.Fatalf("stored=%+v", c)
	}
}

func TestStore_ProductsIsACopy(t *testing.T) {
	s := openStore(t, cart.NewMemStorage())
	s.AddToCart(shoe)

	snap := s.Products()
	snap[0].Quantity = 99

	if it, _ := s.Item("1"); it.Quantity != 1 {
		t.Fatalf("snapshot write leaked into store: %+v", it)
	}
}

func TestStore_PersistenceRoundTrip(t *testing.T) {
	storage := cart.NewMemStorage()
	s := openStore(t, storage)

	s.AddToCart(cart.Product{ID: "a", Title: "A", ImageURL: "a.png", Price: 1.5})
	s.AddToCart(cart.Product{ID: "b", Title: "B", ImageURL: "b.png", Price: 2})
	s.Increment("a")
	s.Decrement("b")
	s.AddToCart(cart.Product{ID: "c", Title: "C", Price: 3})
	flush(t, s)

	want := s.Products()

	reopened := openStore(t, storage)
	got := reopened.Products()
	if len(got) != len(want) {
		t.Fatalf("got=%+v want=%+v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("item %d: got=%+v want=%+v", i, got[i], want[i])
		}
	}
}

func TestOpen_LoadsStoredBlobAsIs(t *testing.T) {
	storage := cart.NewMemStorage()
	blob := `[{"id":"9","title":"Hat","image_url":"h.png","price":7.25,"quantity":4}]`
	if err := storage.Set(context.Background(), cart.DefaultKey, []byte(blob)); err != nil {
		t.Fatalf("seed: %v", err)
	}

	s := openStore(t, storage)
	got := s.Products()
	want := cart.Item{ID: "9", Title: "Hat", ImageURL: "h.png", Price: 7.25, Quantity: 4}
	if len(got) != 1 || got[0] != want {
		t.Fatalf("got=%+v", got)
	}
}

func TestOpen_NullBlobIsEmpty(t *testing.T) {
	storage := cart.NewMemStorage()
	_ = storage.Set(context.Background(), cart.DefaultKey, []byte("null"))

	s := openStore(t, storage)
	if s.Len() != 0 {
		t.Fatalf("len=%d", s.Len())
	}
}

func TestOpen_MalformedBlob(t *testing.T) {
	storage := cart.NewMemStorage()
	_ = storage.Set(context.Background(), cart.DefaultKey, []byte(`{"not":"an array"}`))

	if _, err := cart.Open(context.Background(), storage); err == nil {
		t.Fatal("expected decode error")
	}
}

type failingStorage struct {
	getErr error
	setErr error
}

func (f failingStorage) Get(context.Context, string) ([]byte, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	return nil, cart.ErrNotFound
}

func (f failingStorage) Set(context.Context, string, []byte) error { return f.setErr }
func (f failingStorage) Ping(context.Context) error                { return nil }

var errBoom = errors.New("boom")

func TestOpen_ReadErrorIsReturned(t *testing.T) {
	_, err := cart.Open(context.Background(), failingStorage{getErr: errBoom})
	if !errors.Is(err, errBoom) {
		t.Fatalf("err=%v", err)
	}
}

func TestFlush_ReportsWriteError(t *testing.T) {
	s := openStore(t, failingStorage{setErr: errBoom})

	s.AddToCart(shoe)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.Flush(ctx); !errors.Is(err, errBoom) {
		t.Fatalf("err=%v", err)
	}
	if s.Len() != 1 {
		t.Fatal("in-memory state must survive a failed write")
	}
}

// gatedStorage blocks the first Set until release is closed.
type gatedStorage struct {
	*cart.MemStorage

	started chan struct{}
	release chan struct{}
	once    sync.Once

	mu     sync.Mutex
	writes []cart.Cart
}

func newGatedStorage() *gatedStorage {
	return &gatedStorage{
		MemStorage: cart.NewMemStorage(),
		started:    make(chan struct{}),
		release:    make(chan struct{}),
	}
}

func (g *gatedStorage) Set(ctx context.Context, key string, value []byte) error {
	first := false
	g.once.Do(func() { first = true })
	if first {
		close(g.started)
		<-g.release
	}

	var c cart.Cart
	_ = json.Unmarshal(value, &c)
	g.mu.Lock()
	g.writes = append(g.writes, c)
	g.mu.Unlock()

	return g.MemStorage.Set(ctx, key, value)
}

func TestPersister_WritesInOrderAndCoalesces(t *testing.T) {
	storage := newGatedStorage()
	s := openStore(t, storage)

	s.AddToCart(shoe)
	<-storage.started

	s.Increment("1")
	s.Increment("1")
	s.AddToCart(cart.Product{ID: "2", Title: "Sock"})
	close(storage.release)

	flush(t, s)

	storage.mu.Lock()
	writes := append([]cart.Cart(nil), storage.writes...)
	storage.mu.Unlock()

	if len(writes) != 2 {
		t.Fatalf("writes=%d %+v", len(writes), writes)
	}
	if writes[0].Units() != 1 || writes[1].Units() != 4 {
		t.Fatalf("writes out of order: %+v", writes)
	}

	final := storedCart(t, storage)
	if len(final) != 2 || final[0].ID != "2" || final[1].Quantity != 3 {
		t.Fatalf("final=%+v", final)
	}
}

func TestFlush_RespectsContext(t *testing.T) {
	storage := newGatedStorage()
	s := openStore(t, storage)
	t.Cleanup(func() { close(storage.release) })

	s.AddToCart(shoe)
	<-storage.started

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := s.Flush(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err=%v", err)
	}
}

func TestClose_FlushesAndRejectsLaterFlush(t *testing.T) {
	storage := cart.NewMemStorage()
	s, err := cart.Open(context.Background(), storage)
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	s.AddToCart(shoe)
	if err := s.Close(context.Background()); err != nil {
		t.Fatalf("close: %v", err)
	}
	if c := storedCart(t, storage); len(c) != 1 {
		t.Fatalf("stored=%+v", c)
	}

	if err := s.Flush(context.Background()); !errors.Is(err, cart.ErrClosed) {
		t.Fatalf("flush after close err=%v", err)
	}
	if err := s.Close(context.Background()); err != nil {
		t.Fatalf("second close: %v", err)
	}
}

func TestOpen_CustomKey(t *testing.T) {
	storage := cart.NewMemStorage()
	s, err := cart.Open(context.Background(), storage, cart.WithKey("other"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close(context.Background()) })

	s.AddToCart(shoe)
	flush(t, s)

	if _, err := storage.Get(context.Background(), "other"); err != nil {
		t.Fatalf("custom key not written: %v", err)
	}
	if _, err := storage.Get(context.Background(), cart.DefaultKey); !errors.Is(err, cart.ErrNotFound) {
		t.Fatalf("default key touched: %v", err)
	}
}
