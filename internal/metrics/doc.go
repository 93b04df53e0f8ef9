// Package metrics provides Prometheus metrics for monitoring.
//
// Key metrics:
//   - Feed connection state, reconnects and inbound frame rates
//   - Decode errors and merged updates per payload shape
//   - Tick upserts, write latency and mirror failures
//   - Subscribe/unsubscribe outcomes and active subscription count
//   - Reconciliation ticks by outcome
//
// A nil *Metrics is valid; every method is a no-op on it.
package metrics
