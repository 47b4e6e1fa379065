// Package coordinator implements the human-intervention state machine: it
// turns a detector trigger into an intervention session, suspends the
// automation step behind a blocking wait, exposes the session to a human
// control surface, and resumes or aborts the automation once the session
// reaches a terminal status (completed, timeout, or failed).
//
// Each Coordinator is scoped to a single automation run: at most one session
// is open per run at a time, and all status transitions on that session are
// serialized under one lock so the lifecycle stays monotonic under races
// between a resolving human, the expiry timer, and an external run abort.
package coordinator
