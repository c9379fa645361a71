package dispatch

// DispatcherConfig configures the message dispatcher.
type DispatcherConfig struct {
	// QueueCapacity is the initial capacity of the inbound queue.
	// The queue grows when it fills; this only sets the starting size.
	QueueCapacity int
}

// DefaultDispatcherConfig returns the default dispatcher configuration.
func DefaultDispatcherConfig() DispatcherConfig {
	return DispatcherConfig{
		QueueCapacity: 1024,
	}
}

// DispatcherStats contains runtime statistics.
type DispatcherStats struct {
	Subscribers int
	Delivered   int64
	Panics      int64
	Queue       QueueStats
}
