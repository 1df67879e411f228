package archive

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/veloserve/tracksync/internal/model"
)

// Config holds archiver configuration.
type Config struct {
	// BatchSize is the number of rows to accumulate before flushing.
	BatchSize int

	// FlushInterval is the maximum time between flushes.
	FlushInterval time.Duration

	// BufferSize caps the inbound queue; records are dropped, not
	// blocked on, when the writer falls behind.
	BufferSize int
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		BatchSize:     200,
		FlushInterval: 5 * time.Second,
		BufferSize:    1024,
	}
}

// Metrics counts archiver activity.
type Metrics struct {
	Inserts   int64
	Conflicts int64
	Errors    int64
	Flushes   int64
	Drops     int64
}

// statusRow is a persisted status transition.
type statusRow struct {
	OrderID       string
	Status        string
	PaymentStatus string
	RecordedAt    int64 // microseconds since epoch
}

// locationRow is a persisted courier breadcrumb.
type locationRow struct {
	OrderID    string
	WorkerID   string
	Latitude   float64
	Longitude  float64
	ReceivedAt int64 // microseconds since epoch
}

type record struct {
	status   *statusRow
	location *locationRow
}

// Archiver batches history rows and writes them to PostgreSQL.
type Archiver struct {
	cfg    Config
	db     *pgxpool.Pool
	logger *slog.Logger

	input chan record

	batchMu     sync.Mutex
	statuses    []statusRow
	locations   []locationRow
	metrics     Metrics
	flushTicker *time.Ticker

	// lastStatus dedupes consecutive identical transitions per order.
	lastStatus map[string]string

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates an archiver writing to the given pool.
func New(cfg Config, db *pgxpool.Pool, logger *slog.Logger) *Archiver {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultConfig().BatchSize
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = DefaultConfig().FlushInterval
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = DefaultConfig().BufferSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Archiver{
		cfg:        cfg,
		db:         db,
		logger:     logger,
		input:      make(chan record, cfg.BufferSize),
		statuses:   make([]statusRow, 0, cfg.BatchSize),
		locations:  make([]locationRow, 0, cfg.BatchSize),
		lastStatus: make(map[string]string),
	}
}

// Start begins consuming records and flushing batches.
func (a *Archiver) Start(ctx context.Context) error {
	a.ctx, a.cancel = context.WithCancel(ctx)
	a.flushTicker = time.NewTicker(a.cfg.FlushInterval)

	a.wg.Add(1)
	go a.consumeLoop()

	a.wg.Add(1)
	go a.flushLoop()

	a.logger.Info("history archiver started",
		"batch_size", a.cfg.BatchSize,
		"flush_interval", a.cfg.FlushInterval,
	)
	return nil
}

// Stop waits for the loops, drains the queue, and flushes what
// remains. The final write runs on the caller's context; the run
// context is already cancelled by then.
func (a *Archiver) Stop(ctx context.Context) error {
	a.logger.Info("stopping history archiver")

	if a.cancel != nil {
		a.cancel()
	}
	if a.flushTicker != nil {
		a.flushTicker.Stop()
	}

	done := make(chan struct{})
	go func() {
		a.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		a.logger.Info("history archiver stopped")
	case <-ctx.Done():
		a.logger.Warn("history archiver stop timed out")
	}

	a.drain()
	a.flush(ctx)
	return nil
}

// drain moves records still queued after the loops exit into the batch.
func (a *Archiver) drain() {
	for {
		select {
		case rec := <-a.input:
			a.appendRecord(rec)
		default:
			return
		}
	}
}

// Stats returns current metrics.
func (a *Archiver) Stats() Metrics {
	a.batchMu.Lock()
	defer a.batchMu.Unlock()
	return a.metrics
}

// RecordOrder enqueues a status transition. Consecutive snapshots with
// an unchanged status are skipped so polling does not flood history.
func (a *Archiver) RecordOrder(snap model.OrderSnapshot) {
	a.batchMu.Lock()
	key := string(snap.Status) + "/" + string(snap.PaymentStatus)
	if a.lastStatus[snap.OrderID] == key {
		a.batchMu.Unlock()
		return
	}
	a.lastStatus[snap.OrderID] = key
	a.batchMu.Unlock()

	a.enqueue(record{status: &statusRow{
		OrderID:       snap.OrderID,
		Status:        string(snap.Status),
		PaymentStatus: string(snap.PaymentStatus),
		RecordedAt:    time.Now().UnixMicro(),
	}})
}

// RecordLocation enqueues a courier breadcrumb.
func (a *Archiver) RecordLocation(up model.LocationUpdate) {
	a.enqueue(record{location: &locationRow{
		OrderID:    up.OrderID,
		WorkerID:   up.WorkerID,
		Latitude:   up.Latitude,
		Longitude:  up.Longitude,
		ReceivedAt: up.ReceivedAt.UnixMicro(),
	}})
}

// enqueue is non-blocking; a full buffer drops the record.
func (a *Archiver) enqueue(rec record) {
	select {
	case a.input <- rec:
	default:
		a.batchMu.Lock()
		a.metrics.Drops++
		a.batchMu.Unlock()
	}
}

func (a *Archiver) consumeLoop() {
	defer a.wg.Done()

	for {
		select {
		case <-a.ctx.Done():
			return
		case rec := <-a.input:
			a.handleRecord(rec)
		}
	}
}

func (a *Archiver) flushLoop() {
	defer a.wg.Done()

	for {
		select {
		case <-a.ctx.Done():
			return
		case <-a.flushTicker.C:
			a.flush(a.ctx)
		}
	}
}

func (a *Archiver) handleRecord(rec record) {
	if a.appendRecord(rec) {
		a.flush(a.ctx)
	}
}

// appendRecord adds a record to the pending batch and reports whether
// the batch has reached the flush threshold.
func (a *Archiver) appendRecord(rec record) bool {
	a.batchMu.Lock()
	defer a.batchMu.Unlock()
	if rec.status != nil {
		a.statuses = append(a.statuses, *rec.status)
	}
	if rec.location != nil {
		a.locations = append(a.locations, *rec.location)
	}
	return len(a.statuses)+len(a.locations) >= a.cfg.BatchSize
}

// flush writes both batches to the database.
func (a *Archiver) flush(ctx context.Context) {
	a.batchMu.Lock()
	if len(a.statuses) == 0 && len(a.locations) == 0 {
		a.batchMu.Unlock()
		return
	}
	statuses := a.statuses
	locations := a.locations
	a.statuses = make([]statusRow, 0, a.cfg.BatchSize)
	a.locations = make([]locationRow, 0, a.cfg.BatchSize)
	a.batchMu.Unlock()

	if a.db == nil {
		return
	}

	start := time.Now()

	conflicts, err := a.batchInsert(ctx, statuses, locations)
	if err != nil {
		a.logger.Error("history batch insert failed",
			"error", err,
			"statuses", len(statuses),
			"locations", len(locations),
		)
		a.batchMu.Lock()
		a.metrics.Errors++
		a.batchMu.Unlock()
		return
	}

	total := len(statuses) + len(locations)
	a.batchMu.Lock()
	a.metrics.Inserts += int64(total - conflicts)
	a.metrics.Conflicts += int64(conflicts)
	a.metrics.Flushes++
	a.batchMu.Unlock()

	a.logger.Debug("flushed history",
		"statuses", len(statuses),
		"locations", len(locations),
		"conflicts", conflicts,
		"duration", time.Since(start),
	)
}

// batchInsert writes rows using pgx.Batch with ON CONFLICT DO NOTHING.
func (a *Archiver) batchInsert(ctx context.Context, statuses []statusRow, locations []locationRow) (conflicts int, err error) {
	batch := &pgx.Batch{}
	for _, r := range statuses {
		batch.Queue(`
			INSERT INTO order_status_history (order_id, status, payment_status, recorded_at)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (order_id, recorded_at) DO NOTHING
		`, r.OrderID, r.Status, r.PaymentStatus, r.RecordedAt)
	}
	for _, r := range locations {
		batch.Queue(`
			INSERT INTO courier_locations (order_id, worker_id, latitude, longitude, received_at)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (order_id, received_at) DO NOTHING
		`, r.OrderID, r.WorkerID, r.Latitude, r.Longitude, r.ReceivedAt)
	}

	results := a.db.SendBatch(ctx, batch)
	defer results.Close()

	for i := 0; i < len(statuses)+len(locations); i++ {
		ct, err := results.Exec()
		if err != nil {
			return 0, err
		}
		if ct.RowsAffected() == 0 {
			conflicts++
		}
	}

	return conflicts, nil
}
