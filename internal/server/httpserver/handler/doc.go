// Package handler provides the admin HTTP handlers for Quiesce.
//
// The admin plane is a read-only diagnostic surface:
//
//   - health.go: Health and readiness checks
//   - status.go: Daemon status, cycle history, subscriber listing
//
// Suspend triggering and subscriber registration go through the bus
// socket, not through here.
package handler
