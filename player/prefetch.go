package player

import (
	"context"
	"errors"
	"log/slog"
	"runtime"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// Prefetcher converts upcoming frames on a bounded pool of workers and
// stores the results in a FrameCache.
type Prefetcher struct {
	src     FrameSource
	conv    *Converter
	cache   *FrameCache
	width   int
	height  int
	metrics *Metrics
	log     *slog.Logger

	jobs chan int

	mu      sync.Mutex
	pending map[int]struct{}
	closed  bool

	cancel    context.CancelFunc
	g         *errgroup.Group
	closeOnce sync.Once
}

// PrefetchConfig configures a Prefetcher
type PrefetchConfig struct {
	Width, Height int
	Workers       int // zero selects GOMAXPROCS
	Queue         int // pending request capacity
	Metrics       *Metrics
	Logger        *slog.Logger
}

// NewPrefetcher starts the worker pool. Workers stop when ctx is done or
// Close is called.
func NewPrefetcher(ctx context.Context, src FrameSource, conv *Converter, cache *FrameCache, cfg PrefetchConfig) *Prefetcher {
	if cfg.Workers <= 0 {
		cfg.Workers = runtime.GOMAXPROCS(0)
	}
	if cfg.Queue <= 0 {
		cfg.Queue = cfg.Workers * 2
	}
	if cfg.Metrics == nil {
		cfg.Metrics = DefaultMetrics()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	ctx, cancel := context.WithCancel(ctx)
	g, ctx := errgroup.WithContext(ctx)

	p := &Prefetcher{
		src:     src,
		conv:    conv,
		cache:   cache,
		width:   cfg.Width,
		height:  cfg.Height,
		metrics: cfg.Metrics,
		log:     cfg.Logger,
		jobs:    make(chan int, cfg.Queue),
		pending: make(map[int]struct{}),
		cancel:  cancel,
		g:       g,
	}
	for range cfg.Workers {
		g.Go(func() error {
			p.worker(ctx)
			return nil
		})
	}
	return p
}

// Request queues index for conversion. It never blocks; it returns false
// when the request was dropped because the queue is full or the pool closed.
func (p *Prefetcher) Request(index int) bool {
	if _, ok := p.cache.Get(index); ok {
		return true
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return false
	}
	if _, ok := p.pending[index]; ok {
		return true
	}
	select {
	case p.jobs <- index:
		p.pending[index] = struct{}{}
		return true
	default:
		return false
	}
}

func (p *Prefetcher) done(index int) {
	p.mu.Lock()
	delete(p.pending, index)
	p.mu.Unlock()
}

func (p *Prefetcher) worker(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case index := <-p.jobs:
			p.convert(ctx, index)
			p.done(index)
		}
	}
}

func (p *Prefetcher) convert(ctx context.Context, index int) {
	if _, ok := p.cache.Get(index); ok {
		return
	}

	f, err := p.src.Get(ctx, index)
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			p.log.Debug("prefetch skipped frame", "index", index, "err", err)
		}
		return
	}

	start := time.Now()
	af, err := p.conv.Convert(f, p.width, p.height)
	if err != nil {
		p.log.Warn("prefetch conversion failed", "index", index, "err", err)
		return
	}
	p.metrics.recordConvert(ctx, "prefetch", time.Since(start))
	p.cache.Put(index, af)
}

// Close stops the workers and waits for them to exit
func (p *Prefetcher) Close() {
	p.closeOnce.Do(func() {
		p.mu.Lock()
		p.closed = true
		p.mu.Unlock()

		p.cancel()
		p.g.Wait()
	})
}
