// Package router implements the event router: a typed publish/subscribe
// registry mapping push-channel topics to handler sets.
//
// The router is transport-agnostic. It knows nothing about orders or
// sessions; consumers filter order-scoped topics on order id themselves.
// Raw wire envelopes decode into a closed set of event variants
// (OrderUpdated, StatusUpdated, LocationUpdated, Authenticated) before
// dispatch, so handlers never see untyped payloads.
package router
