// Package metrics provides Prometheus metrics for monitoring.
//
// Key metrics:
//   - Connection state, reconnect attempts and auth rejections
//   - Heartbeat failures and inbound frame rates by type
//   - Dispatch fan-out latency and subscriber panics
//   - Notification store insert, conflict and error counts
package metrics
