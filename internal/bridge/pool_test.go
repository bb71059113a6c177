package bridge

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type fakeUpstream struct {
	closed int32
	err    error
	recv   chan UpstreamMessage

	mu            sync.Mutex
	texts         []string
	toolResponses int
}

func newFakeUpstream() *fakeUpstream {
	return &fakeUpstream{recv: make(chan UpstreamMessage)}
}

func (f *fakeUpstream) SendAudio(ctx context.Context, pcm []byte) error  { return nil }
func (f *fakeUpstream) SendImage(ctx context.Context, jpeg []byte) error { return nil }
func (f *fakeUpstream) SendText(ctx context.Context, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.texts = append(f.texts, text)
	return nil
}
func (f *fakeUpstream) SendToolResponses(ctx context.Context, r []FunctionResponse) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.toolResponses++
	return nil
}
func (f *fakeUpstream) Receive() <-chan UpstreamMessage { return f.recv }
func (f *fakeUpstream) Err() error                      { return f.err }
func (f *fakeUpstream) Close() error {
	atomic.StoreInt32(&f.closed, 1)
	close(f.recv)
	return nil
}

type fakeFactory struct {
	created atomic.Int64
	fail    bool
}

func (f *fakeFactory) NewSession(ctx context.Context, info BaseInfo) (UpstreamSession, error) {
	f.created.Add(1)
	return newFakeUpstream(), nil
}

func TestWarmupPoolFillsToCapacity(t *testing.T) {
	factory := &fakeFactory{}
	pool := NewWarmupPool(factory, PoolConfig{Capacity: 5, BatchSize: 2}, nil)
	pool.Warmup(context.Background())

	if got := pool.size(); got != 5 {
		t.Fatalf("pool.size() = %d, want 5", got)
	}
}

func TestWarmupPoolAcquireReleaseRoundTrip(t *testing.T) {
	factory := &fakeFactory{}
	pool := NewWarmupPool(factory, PoolConfig{Capacity: 2, BatchSize: 2}, nil)
	pool.Warmup(context.Background())

	sess, err := pool.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	// EnsureCapacity is scheduled in the background; give it a moment.
	time.Sleep(20 * time.Millisecond)
	pool.Release(sess)
}

func TestWarmupPoolAcquireOnEmptyCreatesSynchronously(t *testing.T) {
	factory := &fakeFactory{}
	pool := NewWarmupPool(factory, PoolConfig{Capacity: 2}, nil)

	sess, err := pool.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if sess == nil {
		t.Fatal("Acquire returned nil session")
	}
	if got := factory.created.Load(); got != 1 {
		t.Fatalf("factory.created = %d, want 1", got)
	}
}

func TestWarmupPoolAcquireAfterShutdown(t *testing.T) {
	factory := &fakeFactory{}
	pool := NewWarmupPool(factory, PoolConfig{Capacity: 2}, nil)
	pool.Shutdown(true)

	if _, err := pool.Acquire(context.Background()); err != ErrPoolShuttingDown {
		t.Fatalf("Acquire after shutdown = %v, want ErrPoolShuttingDown", err)
	}
}

func TestWarmupPoolShutdownClosesDrainedSessions(t *testing.T) {
	factory := &fakeFactory{}
	pool := NewWarmupPool(factory, PoolConfig{Capacity: 3, BatchSize: 3}, nil)
	pool.Warmup(context.Background())

	snap := pool.snapshot()
	pool.Shutdown(true)

	for _, s := range snap {
		fu := s.(*fakeUpstream)
		if atomic.LoadInt32(&fu.closed) != 1 {
			t.Error("expected session to be closed after shutdown")
		}
	}
}

func TestWarmupPoolEnsureCapacityReplenishes(t *testing.T) {
	factory := &fakeFactory{}
	pool := NewWarmupPool(factory, PoolConfig{Capacity: 4, BatchSize: 4}, nil)
	pool.Warmup(context.Background())

	// Drain below half the capacity.
	_, _ = pool.Acquire(context.Background())
	_, _ = pool.Acquire(context.Background())
	_, _ = pool.Acquire(context.Background())

	pool.EnsureCapacity(context.Background())
	if got := pool.size(); got < 2 {
		t.Fatalf("pool.size() after EnsureCapacity = %d, want >= 2", got)
	}
}
