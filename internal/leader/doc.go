// Package leader elects the instance that owns a session's upstream
// feed connection.
//
// Electors:
//   - StaticElector: fixed answer for single-instance deployments
//   - LeaseElector: short-lived renewed lease over a LeaseStore
//
// Lease stores:
//   - MemoryLeaseStore: in-process, for single binaries and tests
//   - PostgresLeaseStore: shared feed_leases table across processes
//
// The feed_leases table:
//
//	CREATE TABLE feed_leases (
//	    session_id TEXT PRIMARY KEY,
//	    holder     TEXT NOT NULL,
//	    expires_at TIMESTAMPTZ NOT NULL
//	);
//
// Non-leaders keep their subscriber registrations, so promotion only
// opens the connection; it never re-subscribes anyone.
package leader
