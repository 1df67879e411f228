package reconcile

import (
	"sync"

	"github.com/veloserve/tracksync/internal/model"
)

// orderState is the held view of one order. The engine replaces fields
// under its write lock and derives ReconciledState copies from it.
type orderState struct {
	order    model.OrderSnapshot
	hasOrder bool

	location *model.LocationUpdate
	route    *model.RouteSnapshot

	// revision counts accepted ingests for this order.
	revision int64

	// completed latches once the order reaches delivered with payment
	// settled; the completion signal fires on the false→true edge only.
	completed bool
}

// engineState holds the thread-safe per-order store and watcher sets.
type engineState struct {
	mu sync.RWMutex

	orders map[string]*orderState

	// Watchers indexed by order id, then by registration id so an
	// unsubscribe removes exactly the registration it created.
	watchers   map[string]map[int]func(model.ReconciledState)
	completion map[string]map[int]func(model.OrderSnapshot)
	seq        int
}

func newState() *engineState {
	return &engineState{
		orders:     make(map[string]*orderState),
		watchers:   make(map[string]map[int]func(model.ReconciledState)),
		completion: make(map[string]map[int]func(model.OrderSnapshot)),
	}
}

// orderLocked returns the state for orderID, creating it if needed.
// Caller must hold the write lock.
func (s *engineState) orderLocked(orderID string) *orderState {
	os, ok := s.orders[orderID]
	if !ok {
		os = &orderState{}
		s.orders[orderID] = os
	}
	return os
}

// snapshotLocked builds the externally visible merged view. Location and
// route are copied so callers cannot mutate held state.
func (s *engineState) snapshotLocked(orderID string) model.ReconciledState {
	os, ok := s.orders[orderID]
	if !ok {
		return model.ReconciledState{}
	}

	rs := model.ReconciledState{
		Order:    os.order,
		Revision: os.revision,
	}
	if os.location != nil {
		loc := *os.location
		rs.Location = &loc
	}
	if os.route != nil {
		rt := *os.route
		rs.Route = &rt
	}
	return rs
}

// watchersLocked returns a snapshot of the change watchers for orderID
// so callbacks run outside the lock.
func (s *engineState) watchersLocked(orderID string) []func(model.ReconciledState) {
	set := s.watchers[orderID]
	if len(set) == 0 {
		return nil
	}
	out := make([]func(model.ReconciledState), 0, len(set))
	for _, cb := range set {
		out = append(out, cb)
	}
	return out
}

// completionLocked returns a snapshot of the completion watchers.
func (s *engineState) completionLocked(orderID string) []func(model.OrderSnapshot) {
	set := s.completion[orderID]
	if len(set) == 0 {
		return nil
	}
	out := make([]func(model.OrderSnapshot), 0, len(set))
	for _, cb := range set {
		out = append(out, cb)
	}
	return out
}
