// Package metric provides Prometheus metrics for Quiesce.
//
// All daemon metrics live in a private registry under the "quiesce"
// namespace: cycle outcomes and phase timings from the orchestrator,
// the subscriber gauge, token mismatch and abort delivery counters, and
// the swap store series registered by internal/storage/swapstore. The
// admin plane serves the registry on /metrics.
package metric
