// Package domain defines the core domain models for Quiesce.
//
// Domain models are pure value objects and entities without any
// IO dependencies or framework coupling. This package contains:
//
//   - SuspendToken: resume-validation token (nonce, epoch, origin)
//   - Subscriber: one registered suspend/resume participant
//   - CycleRecord: the outcome record of one suspend attempt
//   - Errors: domain-specific error definitions
//
// All domain models implement validation and safe-logging helpers;
// token material never leaves this package unmasked.
package domain
