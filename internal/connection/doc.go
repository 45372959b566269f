// Package connection maintains the authenticated announcement socket.
//
// A Controller owns at most one Session at a time and drives it through
// Idle, Connecting, Authenticating, Subscribed, Reconnecting and Closing.
// Every transition runs on a single event-loop goroutine; transports, timers
// and the liveness Monitor only post events into it. Events carry the
// generation of the attempt that produced them so late events from a torn
// down session are dropped.
//
// Failed attempts back off exponentially up to a cap. Scheduled rotation
// replaces the session before the server's 24 hour limit without touching the
// backoff state.
package connection
