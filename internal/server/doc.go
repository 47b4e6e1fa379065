// Package server manages HTTP server lifecycle: non-blocking start, graceful
// shutdown on signal, and asynchronous error reporting.
package server
