// Package connection implements the connection manager for the push channel.
//
// The connection manager:
//   - Owns at most one live WebSocket per manager
//   - Authenticates in-band after transport connect and gates readiness on
//     the authenticated acknowledgment, not on raw connect
//   - Reconnects with capped exponential backoff; after the attempt
//     ceiling it reports Failed but keeps retrying at the ceiling interval
//   - Is shared by all tracking sessions via Acquire/Release reference
//     counting; the socket closes when the last session releases it
package connection
