package bridge

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
)

// Pool tuning defaults, per SPEC_FULL.md §3.
const (
	DefaultCapacity            = 10
	DefaultWorkerParallelism   = 4
	DefaultCreationConcurrency = 3
	DefaultBatchSize           = 3
	DefaultKeepAliveInterval   = 300 * time.Second
	interBatchSleep            = 500 * time.Millisecond
)

// PoolConfig configures a WarmupPool.
type PoolConfig struct {
	Capacity            int
	WorkerParallelism   int
	CreationConcurrency int
	BatchSize           int
	KeepAliveInterval   time.Duration

	// WarmupInfo is the BaseInfo bound to pre-created sessions. A pooled
	// session is generic (not tied to any one client); acquiring it for a
	// specific connection is the caller's responsibility when the pool's
	// default configuration is acceptable for that connection.
	WarmupInfo BaseInfo
}

func (c PoolConfig) withDefaults() PoolConfig {
	if c.Capacity <= 0 {
		c.Capacity = DefaultCapacity
	}
	if c.WorkerParallelism <= 0 {
		c.WorkerParallelism = DefaultWorkerParallelism
	}
	if c.CreationConcurrency <= 0 {
		c.CreationConcurrency = DefaultCreationConcurrency
	}
	if c.BatchSize <= 0 {
		c.BatchSize = DefaultBatchSize
	}
	if c.KeepAliveInterval <= 0 {
		c.KeepAliveInterval = DefaultKeepAliveInterval
	}
	return c
}

// WarmupPool maintains up to Capacity pre-initialized upstream sessions,
// absorbing cold-start cost (SPEC_FULL.md §4.1).
type WarmupPool struct {
	cfg     PoolConfig
	factory UpstreamFactory
	logger  *slog.Logger

	creationSem *semaphore.Weighted // bounds concurrent blocking inits (creation_concurrency)
	workerSem   *semaphore.Weighted // bounds the blocking-init worker pool (worker_parallelism)

	queueMu sync.Mutex // guards queue AND replenishing (the single replenish-decision mutex)
	queue   []UpstreamSession

	replenishing bool
	shutDown     bool

	wg              sync.WaitGroup
	keepAliveCancel context.CancelFunc
}

// NewWarmupPool constructs a pool. Call Warmup to perform the initial fill
// and StartKeepAlive to begin periodic liveness checks.
func NewWarmupPool(factory UpstreamFactory, cfg PoolConfig, logger *slog.Logger) *WarmupPool {
	cfg = cfg.withDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	return &WarmupPool{
		cfg:         cfg,
		factory:     factory,
		logger:      logger,
		creationSem: semaphore.NewWeighted(int64(cfg.CreationConcurrency)),
		workerSem:   semaphore.NewWeighted(int64(cfg.WorkerParallelism)),
	}
}

// createOne runs a single blocking session creation bounded by both the
// worker pool and the creation-concurrency semaphore. It blocks the calling
// goroutine; its callers (warmup, replenish, and Acquire as called from
// Server.warmupSession) run off the client I/O goroutines (SPEC_FULL.md
// §9 "Blocking work off the event loop").
func (p *WarmupPool) createOne(ctx context.Context) (UpstreamSession, error) {
	if err := p.creationSem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer p.creationSem.Release(1)

	if err := p.workerSem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer p.workerSem.Release(1)

	return p.factory.NewSession(ctx, p.cfg.WarmupInfo)
}

func (p *WarmupPool) push(sess UpstreamSession) {
	p.queueMu.Lock()
	p.queue = append(p.queue, sess)
	p.queueMu.Unlock()
}

func (p *WarmupPool) size() int {
	p.queueMu.Lock()
	defer p.queueMu.Unlock()
	return len(p.queue)
}

// createAndPutSafe creates one session and enqueues it. Failures are
// logged and do not propagate — per-session creation failures never abort
// a batch (SPEC_FULL.md §4.1 "Failure semantics").
func (p *WarmupPool) createAndPutSafe(ctx context.Context, index int) {
	p.queueMu.Lock()
	down := p.shutDown
	p.queueMu.Unlock()
	if down {
		return
	}

	sess, err := p.createOne(ctx)
	if err != nil {
		p.logger.Error("warmup: failed to create session", "index", index, "error", err)
		return
	}
	p.push(sess)
	p.logger.Info("warmup: replenished session", "index", index, "pool_size", p.size(), "capacity", p.cfg.Capacity)
}

// Warmup performs the initial fill, creating sessions in batches of
// BatchSize with a short pause between batches.
func (p *WarmupPool) Warmup(ctx context.Context) {
	p.logger.Info("warmup: starting initial warmup", "target", p.cfg.Capacity, "batch_size", p.cfg.BatchSize)

	created := 0
	for created < p.cfg.Capacity {
		p.queueMu.Lock()
		down := p.shutDown
		p.queueMu.Unlock()
		if down {
			break
		}

		toCreate := min(p.cfg.BatchSize, p.cfg.Capacity-created)
		p.logger.Info("warmup: creating batch", "count", toCreate, "created_so_far", created)

		var batch sync.WaitGroup
		for i := 0; i < toCreate; i++ {
			batch.Add(1)
			idx := i + created
			go func() {
				defer batch.Done()
				p.createAndPutSafe(ctx, idx)
			}()
		}
		batch.Wait()

		created = p.size()

		select {
		case <-time.After(interBatchSleep):
		case <-ctx.Done():
			return
		}
	}
	p.logger.Info("warmup: initial warmup finished", "pool_size", p.size())
}

// Acquire returns a ready session if the queue is non-empty, scheduling a
// background EnsureCapacity; otherwise it creates a session synchronously
// (bounded by the creation semaphore).
func (p *WarmupPool) Acquire(ctx context.Context) (UpstreamSession, error) {
	p.queueMu.Lock()
	if p.shutDown {
		p.queueMu.Unlock()
		return nil, ErrPoolShuttingDown
	}
	if len(p.queue) > 0 {
		sess := p.queue[0]
		p.queue = p.queue[1:]
		remaining := len(p.queue)
		p.queueMu.Unlock()

		p.logger.Info("warmup: using preheated session", "remaining", remaining, "capacity", p.cfg.Capacity)
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			p.EnsureCapacity(context.Background())
		}()
		return sess, nil
	}
	p.queueMu.Unlock()

	p.logger.Warn("warmup: no preheated session available, creating on demand")
	return p.createOne(ctx)
}

// Release returns a session to the queue when the pool is not shutting
// down; otherwise it closes the session.
func (p *WarmupPool) Release(sess UpstreamSession) {
	p.queueMu.Lock()
	down := p.shutDown
	if !down {
		p.queue = append(p.queue, sess)
	}
	size := len(p.queue)
	p.queueMu.Unlock()

	if down {
		_ = sess.Close()
		return
	}
	p.logger.Debug("warmup: session returned to pool", "pool_size", size, "capacity", p.cfg.Capacity)
}

// EnsureCapacity replenishes the queue to Capacity when it has fallen
// below max(1, Capacity/2). The queueMu serializes replenish decisions so
// concurrent callers never launch duplicate waves.
func (p *WarmupPool) EnsureCapacity(ctx context.Context) {
	p.queueMu.Lock()
	if p.shutDown || p.replenishing {
		p.queueMu.Unlock()
		return
	}
	current := len(p.queue)
	threshold := max(1, p.cfg.Capacity/2)
	if current >= threshold {
		p.queueMu.Unlock()
		return
	}
	needed := p.cfg.Capacity - current
	p.replenishing = true
	p.queueMu.Unlock()

	defer func() {
		p.queueMu.Lock()
		p.replenishing = false
		p.queueMu.Unlock()
	}()

	p.logger.Warn("warmup: pool below threshold, replenishing", "current", current, "capacity", p.cfg.Capacity, "needed", needed)

	var batch sync.WaitGroup
	for i := 0; i < needed; i++ {
		batch.Add(1)
		idx := i
		go func() {
			defer batch.Done()
			p.createAndPutSafe(ctx, idx)
		}()
	}
	batch.Wait()

	p.logger.Info("warmup: replenish complete", "pool_size", p.size(), "capacity", p.cfg.Capacity)
}

// snapshot copies the queue under the pool mutex without removing anything,
// yielding a read-only view for keep-alive without holding the lock during checks
// (SPEC_FULL.md §9 open questions: any mechanism yielding a read-only
// snapshot satisfies the source's queue._queue peek).
func (p *WarmupPool) snapshot() []UpstreamSession {
	p.queueMu.Lock()
	defer p.queueMu.Unlock()
	cp := make([]UpstreamSession, len(p.queue))
	copy(cp, p.queue)
	return cp
}

// StartKeepAlive launches the periodic liveness-check loop in the
// background. Call Shutdown to stop it.
func (p *WarmupPool) StartKeepAlive(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	p.keepAliveCancel = cancel
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.keepAliveLoop(ctx)
	}()
}

func (p *WarmupPool) keepAliveLoop(ctx context.Context) {
	p.logger.Info("warmup: keep_alive started")
	ticker := time.NewTicker(p.cfg.KeepAliveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("warmup: keep_alive cancelled")
			return
		case <-ticker.C:
			p.checkOnce(ctx)
		}
	}
}

// checkOnce performs one liveness pass over a snapshot of the pool. A
// concrete liveness probe is SDK-dependent; absent a ping capability on
// UpstreamSession, this pass is a structural no-op placeholder, matching
// the source's explicit comment that a no-op check satisfies the contract.
func (p *WarmupPool) checkOnce(ctx context.Context) {
	snap := p.snapshot()
	p.logger.Debug("warmup: keep_alive checking sessions", "count", len(snap))
	for _, sess := range snap {
		if sess.Err() != nil {
			p.logger.Warn("warmup: detected bad pooled session, replacing")
			p.evictOne(sess)
			p.createAndPutSafe(ctx, -1)
		}
	}
}

func (p *WarmupPool) evictOne(target UpstreamSession) {
	p.queueMu.Lock()
	for i, sess := range p.queue {
		if sess == target {
			p.queue = append(p.queue[:i], p.queue[i+1:]...)
			break
		}
	}
	p.queueMu.Unlock()
	_ = target.Close()
}

// Shutdown gracefully tears the pool down: it stops accepting new
// replenishes, cancels keep-alive, drains the queue and closes every
// pooled session. If wait is true it blocks until all background tasks
// (keep-alive, any in-flight Acquire-triggered replenish) have returned.
func (p *WarmupPool) Shutdown(wait bool) {
	p.logger.Info("warmup: shutdown starting")

	p.queueMu.Lock()
	p.shutDown = true
	drained := p.queue
	p.queue = nil
	p.queueMu.Unlock()

	if p.keepAliveCancel != nil {
		p.keepAliveCancel()
	}

	for _, sess := range drained {
		_ = sess.Close()
	}

	if wait {
		p.wg.Wait()
	}
	p.logger.Info("warmup: shutdown complete")
}
