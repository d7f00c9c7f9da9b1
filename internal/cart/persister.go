package cart

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// persister owns the single in-flight write. A newer snapshot replaces an
// older one still waiting in the pending slot, so writes land in version
// order and an old snapshot never overwrites a newer one.
type persister struct {
	storage Storage
	key     string
	log     *zap.Logger
	metrics *Metrics

	mu         sync.Mutex
	pending    []byte
	pendingVer uint64
	doneVer    uint64
	lastErr    error
	changed    chan struct{}

	wake    chan struct{}
	quit    chan struct{}
	stopped chan struct{}
	once    sync.Once
}

func newPersister(storage Storage, key string, log *zap.Logger, m *Metrics) *persister {
	return &persister{
		storage: storage,
		key:     key,
		log:     log,
		metrics: m,
		changed: make(chan struct{}),
		wake:    make(chan struct{}, 1),
		quit:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
}

func (p *persister) start() { go p.run() }

// schedule must be called in version order.
func (p *persister) schedule(data []byte, ver uint64) {
	p.mu.Lock()
	if p.pending != nil {
		p.metrics.inc(resultCoalesced)
	}
	p.pending = data
	p.pendingVer = ver
	p.mu.Unlock()

	select {
	case p.wake <- struct{}{}:
	default:
	}
}

func (p *persister) run() {
	defer close(p.stopped)
	for {
		select {
		case <-p.wake:
			p.drain()
		case <-p.quit:
			p.drain()
			return
		}
	}
}

func (p *persister) drain() {
	for p.writeOne() {
	}
}

func (p *persister) writeOne() bool {
	p.mu.Lock()
	if p.pending == nil {
		p.mu.Unlock()
		return false
	}
	data, ver := p.pending, p.pendingVer
	p.pending = nil
	p.mu.Unlock()

	start := time.Now()
	err := p.storage.Set(context.Background(), p.key, data)
	p.metrics.observeWrite(start, err)
	if err != nil {
		p.log.Error("cart persist failed",
			zap.Error(err),
			zap.String("key", p.key),
			zap.Uint64("version", ver),
		)
	}

	p.mu.Lock()
	p.doneVer = ver
	p.lastErr = err
	close(p.changed)
	p.changed = make(chan struct{})
	p.mu.Unlock()
	return true
}

// wait blocks until a write at or beyond ver has completed and returns the
// result of the most recent write.
func (p *persister) wait(ctx context.Context, ver uint64) error {
	for {
		p.mu.Lock()
		if p.doneVer >= ver {
			err := p.lastErr
			p.mu.Unlock()
			return err
		}
		ch := p.changed
		p.mu.Unlock()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ch:
		}
	}
}

func (p *persister) stop(ctx context.Context) error {
	p.once.Do(func() { close(p.quit) })
	select {
	case <-p.stopped:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
