package store

import (
	"time"
)

// WriterConfig contains configuration for the notification writer.
type WriterConfig struct {
	// BatchSize is the number of rows to accumulate before flushing.
	BatchSize int

	// FlushInterval is the maximum time between flushes.
	FlushInterval time.Duration

	// QueueCapacity is the initial capacity of the intake queue.
	QueueCapacity int
}

// DefaultWriterConfig returns sensible defaults.
func DefaultWriterConfig() WriterConfig {
	return WriterConfig{
		BatchSize:     500,
		FlushInterval: time.Second,
		QueueCapacity: 4096,
	}
}

// notificationRow represents a row to be inserted into the
// order_notifications table.
type notificationRow struct {
	EventID    string // "<order_id>:<event_type>", or a UUID when no order id
	EventType  string
	Payload    []byte // JSONB
	ReceivedAt int64  // Microseconds
}

// WriterMetrics holds metrics for the writer.
type WriterMetrics struct {
	Inserts   int64
	Conflicts int64
	Errors    int64
	Flushes   int64
}
