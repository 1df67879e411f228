// Package route caches computed courier routes in front of an external
// directions provider.
//
// Cache keys are rounded coordinate pairs, so GPS jitter within a few
// meters maps to the same entry. Entries are served without a network
// call while younger than the TTL; concurrent misses for one key are
// coalesced into a single provider call. When the provider fails, the
// cache returns the last-known route alongside ErrRouteFetch so the
// caller can keep rendering instead of clearing the map.
package route
