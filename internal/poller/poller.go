package poller

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/veloserve/tracksync/internal/model"
)

// FetchFunc fetches an authoritative snapshot for an order.
type FetchFunc func(ctx context.Context, orderID string) (model.OrderSnapshot, error)

// SnapshotSink receives fetched snapshots. Both poll results and push
// events go through the same ingestion path.
type SnapshotSink interface {
	IngestOrder(snap model.OrderSnapshot)
}

// Config holds poller configuration.
type Config struct {
	Interval time.Duration // Poll interval (default: 5s for tracking views)
	Timeout  time.Duration // Per-fetch timeout (default: 10s)
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Interval: 5 * time.Second,
		Timeout:  10 * time.Second,
	}
}

// Poller fetches one order's snapshot on a fixed interval.
type Poller struct {
	cfg     Config
	orderID string
	fetch   FetchFunc
	sink    SnapshotSink
	logger  *slog.Logger

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// New creates a poller for the given order.
func New(cfg Config, orderID string, fetch FetchFunc, sink SnapshotSink, logger *slog.Logger) *Poller {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultConfig().Interval
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultConfig().Timeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Poller{
		cfg:     cfg,
		orderID: orderID,
		fetch:   fetch,
		sink:    sink,
		logger:  logger,
	}
}

// Start begins the polling loop. The first fetch runs immediately,
// before the first tick. Starting an already running poller is a no-op.
func (p *Poller) Start(ctx context.Context) {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return
	}
	p.running = true
	runCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.wg.Add(1)
	p.mu.Unlock()

	go p.run(runCtx)

	p.logger.Info("snapshot poller started",
		"order_id", p.orderID,
		"interval", p.cfg.Interval,
	)
}

// Stop cancels the polling loop and waits for the in-flight fetch to
// finish. Safe to call when already stopped, and safe to call twice.
func (p *Poller) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	cancel := p.cancel
	p.cancel = nil
	p.mu.Unlock()

	cancel()
	p.wg.Wait()

	p.logger.Info("snapshot poller stopped", "order_id", p.orderID)
}

// Running reports whether the loop is active.
func (p *Poller) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

func (p *Poller) run(ctx context.Context) {
	defer p.wg.Done()

	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	// Poll immediately on start.
	p.poll(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.poll(ctx)
		}
	}
}

// poll runs one fetch. Failures are logged and swallowed so the loop
// survives degraded networks.
func (p *Poller) poll(ctx context.Context) {
	fetchCtx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
	defer cancel()

	snap, err := p.fetch(fetchCtx, p.orderID)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		p.logger.Warn("snapshot fetch failed",
			"order_id", p.orderID,
			"err", err,
		)
		return
	}

	p.sink.IngestOrder(snap)
}
