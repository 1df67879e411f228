package reconcile

import (
	"log/slog"

	"github.com/veloserve/tracksync/internal/model"
)

// Engine is the single ingestion point for both push events and poll
// snapshots. All transports feed the same methods, so correctness does
// not depend on which transport delivers first.
type Engine struct {
	state  *engineState
	logger *slog.Logger
}

// NewEngine creates an empty reconciliation engine.
func NewEngine(logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		state:  newState(),
		logger: logger,
	}
}

// IngestOrder replaces the held snapshot for the order unconditionally
// and notifies watchers with the rebuilt state.
func (e *Engine) IngestOrder(snap model.OrderSnapshot) {
	if snap.OrderID == "" {
		return
	}

	s := e.state
	s.mu.Lock()
	os := s.orderLocked(snap.OrderID)
	wasCompleted := os.completed
	os.order = snap
	os.hasOrder = true
	os.revision++
	if snap.Completed() {
		os.completed = true
	}
	justCompleted := os.completed && !wasCompleted

	rs := s.snapshotLocked(snap.OrderID)
	watchers := s.watchersLocked(snap.OrderID)
	var done []func(model.OrderSnapshot)
	if justCompleted {
		done = s.completionLocked(snap.OrderID)
	}
	s.mu.Unlock()

	for _, cb := range watchers {
		cb(rs)
	}
	if justCompleted {
		e.logger.Info("order completed",
			"order_id", snap.OrderID,
			"status", snap.Status,
		)
		for _, cb := range done {
			cb(snap)
		}
	}
}

// IngestStatus applies a bare status transition to the held snapshot.
// Without a held snapshot there is nothing to patch; the update is
// dropped and the next poll fetch supplies the full order.
func (e *Engine) IngestStatus(orderID string, status model.OrderStatus) {
	if orderID == "" || status == "" {
		return
	}

	s := e.state
	s.mu.RLock()
	os, ok := s.orders[orderID]
	var patched model.OrderSnapshot
	if ok && os.hasOrder {
		patched = os.order
		patched.Status = status
	}
	s.mu.RUnlock()

	if !ok || patched.OrderID == "" {
		e.logger.Debug("status update before first snapshot, dropped",
			"order_id", orderID,
			"status", status,
		)
		return
	}

	e.IngestOrder(patched)
}

// IngestLocation applies a courier position. The update is rejected as
// stale when its receive time does not advance past the held update's;
// a rejection produces no notification. Reports whether the update was
// applied.
func (e *Engine) IngestLocation(up model.LocationUpdate) bool {
	if up.OrderID == "" {
		return false
	}

	s := e.state
	s.mu.Lock()
	os := s.orderLocked(up.OrderID)
	if os.location != nil && !up.ReceivedAt.After(os.location.ReceivedAt) {
		s.mu.Unlock()
		e.logger.Debug("stale location rejected",
			"order_id", up.OrderID,
			"received_at", up.ReceivedAt,
			"held_at", os.location.ReceivedAt,
		)
		return false
	}

	upCopy := up
	os.location = &upCopy
	os.revision++

	rs := s.snapshotLocked(up.OrderID)
	watchers := s.watchersLocked(up.OrderID)
	s.mu.Unlock()

	for _, cb := range watchers {
		cb(rs)
	}
	return true
}

// SetRoute attaches a computed route to the order's merged view. A nil
// route is ignored; the last-known route is kept on provider failure.
func (e *Engine) SetRoute(orderID string, route *model.RouteSnapshot) {
	if orderID == "" || route == nil {
		return
	}

	s := e.state
	s.mu.Lock()
	os := s.orderLocked(orderID)
	rtCopy := *route
	os.route = &rtCopy
	os.revision++

	rs := s.snapshotLocked(orderID)
	watchers := s.watchersLocked(orderID)
	s.mu.Unlock()

	for _, cb := range watchers {
		cb(rs)
	}
}

// CurrentState returns the merged view for the order. The second result
// is false when no snapshot has been ingested yet.
func (e *Engine) CurrentState(orderID string) (model.ReconciledState, bool) {
	s := e.state
	s.mu.RLock()
	defer s.mu.RUnlock()

	os, ok := s.orders[orderID]
	if !ok || !os.hasOrder {
		return model.ReconciledState{}, false
	}
	return s.snapshotLocked(orderID), true
}

// OnChange registers a watcher for the order's merged state. The
// returned function removes exactly this registration.
func (e *Engine) OnChange(orderID string, cb func(model.ReconciledState)) func() {
	s := e.state
	s.mu.Lock()
	s.seq++
	id := s.seq
	set, ok := s.watchers[orderID]
	if !ok {
		set = make(map[int]func(model.ReconciledState))
		s.watchers[orderID] = set
	}
	set[id] = cb
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		if set, ok := s.watchers[orderID]; ok {
			delete(set, id)
			if len(set) == 0 {
				delete(s.watchers, orderID)
			}
		}
		s.mu.Unlock()
	}
}

// OnCompletion registers a watcher for the order's delivered-and-paid
// transition. The signal fires once per transition, not per ingest.
func (e *Engine) OnCompletion(orderID string, cb func(model.OrderSnapshot)) func() {
	s := e.state
	s.mu.Lock()
	s.seq++
	id := s.seq
	set, ok := s.completion[orderID]
	if !ok {
		set = make(map[int]func(model.OrderSnapshot))
		s.completion[orderID] = set
	}
	set[id] = cb
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		if set, ok := s.completion[orderID]; ok {
			delete(set, id)
			if len(set) == 0 {
				delete(s.completion, orderID)
			}
		}
		s.mu.Unlock()
	}
}

// Forget drops all held state and watchers for the order.
func (e *Engine) Forget(orderID string) {
	s := e.state
	s.mu.Lock()
	delete(s.orders, orderID)
	delete(s.watchers, orderID)
	delete(s.completion, orderID)
	s.mu.Unlock()
}

// Orders returns the ids of all orders with held state.
func (e *Engine) Orders() []string {
	s := e.state
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]string, 0, len(s.orders))
	for id := range s.orders {
		out = append(out, id)
	}
	return out
}
