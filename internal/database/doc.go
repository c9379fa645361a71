// Package database provides connection pool management for PostgreSQL.
//
// One pool serves both durable concerns of an instance:
//   - feed_leases: leader election leases (internal/leader)
//   - order_notifications: the notification audit log (internal/store)
package database
