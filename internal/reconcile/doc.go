// Package reconcile merges push events and poll snapshots into one
// authoritative per-order state.
//
// Order snapshots are last-write-wins: the server is authoritative for
// order fields and never reorders them within one connection. Location
// updates carry a client receive time and only replace the held update
// when strictly newer, so slow-network reordering cannot move a courier
// marker backwards.
//
// Every accepted ingest rebuilds the order's ReconciledState and
// notifies registered watchers exactly once. A rejected stale location
// produces no notification. When an order first reaches delivered with
// payment settled, the engine fires a separate one-shot completion
// signal.
package reconcile
