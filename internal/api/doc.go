// Package api provides the pull-channel REST client.
//
// Endpoints:
//   - GET  /api/orders/{orderId}          -> authoritative order snapshot
//   - PATCH /api/orders/{orderId}/payment -> cash-on-delivery confirmation
//
// Both return the same order shape the push channel carries inside
// order:updated events, so every response feeds reconciliation the same way.
package api
