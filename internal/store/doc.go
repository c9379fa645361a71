// Package store persists received order notifications for dashboard
// history and audit.
//
// Schema:
//
//	CREATE TABLE order_notifications (
//	    event_id    TEXT PRIMARY KEY,
//	    event_type  TEXT NOT NULL,
//	    payload     JSONB,
//	    received_at BIGINT NOT NULL
//	);
//
// Writes are append-only (never update, only insert); the event_id
// primary key absorbs gateway redeliveries after reconnects.
// received_at is the local receive timestamp in microseconds.
package store
