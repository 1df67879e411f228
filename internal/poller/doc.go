// Package poller periodically fetches authoritative order snapshots
// over HTTP and feeds them into the reconciliation engine. It is the
// correctness backstop when push delivery is degraded: it keeps running
// regardless of socket state, and fetch failures never stop the loop.
package poller
