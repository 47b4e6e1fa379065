// Package types defines the shared data model for the handoff framework:
// intervention sessions and their status lifecycle, page snapshots handed
// to challenge detectors, and the structured error type used across all
// packages.
package types
