// Package session provides storage for intervention sessions: an in-memory
// store scoped to one automation run, a Redis-backed store for distributed
// deployments, and a database archive that retains terminal sessions for
// audit.
package session
