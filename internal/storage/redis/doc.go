// Package redis is reserved for Redis-backed storage helpers shared across
// the daemon. The session store and run queue currently keep their Redis
// implementations next to their interfaces in internal/session.
package redis
