// Package model defines shared data types used across the tracking core.
//
// Conventions:
//   - Money: integer cents
//   - Timestamps: int64 microseconds since Unix epoch for server-provided
//     times, time.Time for client-local receive times
//   - IDs: string for orders and workers, uuid.UUID for sessions
//   - Coordinates: WGS84 decimal degrees
package model
