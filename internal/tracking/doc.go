// Package tracking binds one order's live view together: it subscribes
// the order's push topics, runs the polling fallback, feeds both into
// the reconciliation engine, and recomputes the courier route when the
// courier has moved far enough to matter.
//
// A session moves Idle → Starting → Active → Stopped and never
// restarts. All of a session's registrations share its id as owner, so
// teardown removes exactly its own subscriptions and never another
// session's. The shared socket is reference counted; the last session
// to stop releases it.
package tracking
