// Package service provides the domain services for Quiesce.
//
// Domain services contain the suspend/resume business logic and orchestrate
// operations on domain models. They define interfaces for their
// collaborators, allowing for dependency injection and testability.
//
// This package contains:
//
//   - Orchestrator: the suspend/resume state machine; prepare round-trips,
//     the power transition, wake validation, resume and reinit broadcasts
//   - TokenService: suspend token minting, slot persistence, wake validation
//   - Startup recovery: slot inspection after a reboot-substitute cycle
package service
