// Package handlers implements the HTTP control surface: the REST endpoints
// the operator dashboard uses to inspect, acknowledge, resolve, and cancel
// intervention sessions, a websocket feed of session transitions, and the
// health endpoints.
package handlers
