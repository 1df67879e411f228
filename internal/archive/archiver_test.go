package archive

import (
	"context"
	"testing"
	"time"

	"github.com/veloserve/tracksync/internal/model"
)

func TestArchiver_RecordOrderDedupesUnchangedStatus(t *testing.T) {
	a := New(Config{BatchSize: 100, FlushInterval: time.Hour, BufferSize: 10}, nil, nil)

	snap := model.OrderSnapshot{
		OrderID:       "ORD-1",
		Status:        model.StatusOnWay,
		PaymentStatus: model.PaymentUnpaid,
	}

	// Polling re-delivers the same snapshot every few seconds.
	a.RecordOrder(snap)
	a.RecordOrder(snap)
	a.RecordOrder(snap)

	if n := len(a.input); n != 1 {
		t.Errorf("queued %d rows, want 1 (unchanged status skipped)", n)
	}

	snap.Status = model.StatusDelivered
	a.RecordOrder(snap)
	if n := len(a.input); n != 2 {
		t.Errorf("queued %d rows, want 2 after transition", n)
	}

	// Payment change alone is also a transition worth keeping.
	snap.PaymentStatus = model.PaymentPaid
	a.RecordOrder(snap)
	if n := len(a.input); n != 3 {
		t.Errorf("queued %d rows, want 3 after payment change", n)
	}
}

func TestArchiver_RecordLocationRow(t *testing.T) {
	a := New(DefaultConfig(), nil, nil)

	receivedAt := time.Date(2026, 3, 12, 9, 30, 0, 0, time.UTC)
	a.RecordLocation(model.LocationUpdate{
		OrderID:    "ORD-1",
		WorkerID:   "worker-7",
		Latitude:   28.6139,
		Longitude:  77.2090,
		ReceivedAt: receivedAt,
	})

	rec := <-a.input
	if rec.location == nil {
		t.Fatal("queued record is not a location row")
	}
	row := rec.location
	if row.OrderID != "ORD-1" || row.WorkerID != "worker-7" {
		t.Errorf("row = %+v", row)
	}
	if row.ReceivedAt != receivedAt.UnixMicro() {
		t.Errorf("ReceivedAt = %d, want %d", row.ReceivedAt, receivedAt.UnixMicro())
	}
}

func TestArchiver_FullBufferDropsNotBlocks(t *testing.T) {
	a := New(Config{BatchSize: 100, FlushInterval: time.Hour, BufferSize: 2}, nil, nil)

	for i := 0; i < 5; i++ {
		a.RecordLocation(model.LocationUpdate{
			OrderID:    "ORD-1",
			ReceivedAt: time.Now().Add(time.Duration(i) * time.Second),
		})
	}

	if n := len(a.input); n != 2 {
		t.Errorf("queued %d rows, want 2 (buffer cap)", n)
	}
	if drops := a.Stats().Drops; drops != 3 {
		t.Errorf("Drops = %d, want 3", drops)
	}
}

func TestArchiver_Lifecycle(t *testing.T) {
	a := New(Config{BatchSize: 10, FlushInterval: 50 * time.Millisecond, BufferSize: 10}, nil, nil)

	if err := a.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	a.RecordOrder(model.OrderSnapshot{OrderID: "ORD-1", Status: model.StatusPending})
	time.Sleep(20 * time.Millisecond)

	stopCtx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := a.Stop(stopCtx); err != nil {
		t.Errorf("Stop() error = %v", err)
	}
}

func TestArchiver_BatchSizeTriggersFlush(t *testing.T) {
	// Without a pool the flush clears batches and writes nothing.
	a := New(Config{BatchSize: 2, FlushInterval: time.Hour, BufferSize: 10}, nil, nil)

	a.handleRecord(record{status: &statusRow{OrderID: "ORD-1", Status: "pending"}})

	a.batchMu.Lock()
	pending := len(a.statuses)
	a.batchMu.Unlock()
	if pending != 1 {
		t.Fatalf("batch length = %d, want 1", pending)
	}

	a.handleRecord(record{location: &locationRow{OrderID: "ORD-1"}})

	a.batchMu.Lock()
	pending = len(a.statuses) + len(a.locations)
	a.batchMu.Unlock()
	if pending != 0 {
		t.Errorf("batch length after size trigger = %d, want 0", pending)
	}
}

func TestArchiver_StopDrainsQueuedTail(t *testing.T) {
	a := New(Config{BatchSize: 100, FlushInterval: time.Hour, BufferSize: 8}, nil, nil)

	runCtx, cancel := context.WithCancel(context.Background())
	if err := a.Start(runCtx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	// Shutdown signal lands first; records arriving while the loops
	// wind down must still make it into the final flush.
	cancel()

	a.RecordOrder(model.OrderSnapshot{
		OrderID:       "ORD-1",
		Status:        model.StatusDelivered,
		PaymentStatus: model.PaymentPaid,
	})
	a.RecordLocation(model.LocationUpdate{OrderID: "ORD-1", ReceivedAt: time.Now()})

	stopCtx, stopCancel := context.WithTimeout(context.Background(), time.Second)
	defer stopCancel()
	if err := a.Stop(stopCtx); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}

	if n := len(a.input); n != 0 {
		t.Errorf("%d records abandoned in queue after stop", n)
	}
	if errs := a.Stats().Errors; errs != 0 {
		t.Errorf("Errors = %d after clean stop, want 0", errs)
	}
}

func TestArchiver_DrainAppendsToBatch(t *testing.T) {
	// Not started, so records sit in the queue until drained.
	a := New(Config{BatchSize: 100, FlushInterval: time.Hour, BufferSize: 8}, nil, nil)

	a.RecordOrder(model.OrderSnapshot{OrderID: "ORD-1", Status: model.StatusOnWay})
	a.RecordLocation(model.LocationUpdate{OrderID: "ORD-1", ReceivedAt: time.Now()})

	a.drain()

	a.batchMu.Lock()
	defer a.batchMu.Unlock()
	if len(a.statuses) != 1 || len(a.locations) != 1 {
		t.Errorf("batch after drain = %d statuses, %d locations, want 1 each",
			len(a.statuses), len(a.locations))
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.BatchSize != 200 {
		t.Errorf("BatchSize = %d, want 200", cfg.BatchSize)
	}
	if cfg.FlushInterval != 5*time.Second {
		t.Errorf("FlushInterval = %v, want 5s", cfg.FlushInterval)
	}
	if cfg.BufferSize != 1024 {
		t.Errorf("BufferSize = %d, want 1024", cfg.BufferSize)
	}
}
