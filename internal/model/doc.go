// Package model defines shared data types used across the relay.
//
// Conventions:
//   - Timestamps: int64 microseconds since Unix epoch
//   - Keys: uuid.UUID (v5) derived from catalog, title and publish time, so
//     the stream and the REST listing produce the same key for one article
package model
