package store

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mealato/orderfeed/internal/dispatch"
	"github.com/mealato/orderfeed/internal/event"
	"github.com/mealato/orderfeed/internal/metrics"
)

// NotificationWriter persists order notifications to the
// order_notifications table in batches. Handle is safe to register as a
// feed subscriber: it filters and enqueues without blocking the
// dispatch path, and a consume loop does the parsing and batching.
type NotificationWriter struct {
	cfg    WriterConfig
	logger *slog.Logger

	// Intake from the dispatch path
	input *dispatch.Queue[event.Envelope]

	// Database
	db *pgxpool.Pool

	// Batching
	batch       []notificationRow
	batchMu     sync.Mutex
	flushTicker *time.Ticker

	// Lifecycle
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// Metrics
	metrics WriterMetrics
}

// NewNotificationWriter creates a new NotificationWriter.
func NewNotificationWriter(cfg WriterConfig, db *pgxpool.Pool, logger *slog.Logger) *NotificationWriter {
	if logger == nil {
		logger = slog.Default()
	}
	return &NotificationWriter{
		cfg:    cfg,
		db:     db,
		logger: logger,
		input:  dispatch.NewQueue[event.Envelope](cfg.QueueCapacity),
		batch:  make([]notificationRow, 0, cfg.BatchSize),
	}
}

// Start begins consuming notifications and writing to the database.
func (w *NotificationWriter) Start(ctx context.Context) error {
	w.ctx, w.cancel = context.WithCancel(ctx)
	w.flushTicker = time.NewTicker(w.cfg.FlushInterval)

	// Consumer goroutine
	w.wg.Add(1)
	go w.consumeLoop()

	// Flush ticker goroutine
	w.wg.Add(1)
	go w.flushLoop()

	w.logger.Info("notification writer started",
		"batch_size", w.cfg.BatchSize,
		"flush_interval", w.cfg.FlushInterval,
	)
	return nil
}

// Stop gracefully shuts down the writer and flushes whatever the batch
// still holds.
func (w *NotificationWriter) Stop(ctx context.Context) error {
	w.logger.Info("stopping notification writer")

	if w.cancel != nil {
		w.cancel()
	}
	w.input.Close()

	if w.flushTicker != nil {
		w.flushTicker.Stop()
	}

	// Wait for goroutines
	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		w.logger.Info("notification writer stopped")
	case <-ctx.Done():
		w.logger.Warn("notification writer stop timed out")
	}

	// Final flush runs on the caller's context; the run context is
	// already canceled.
	w.flush(ctx)

	return nil
}

// Handle enqueues one envelope for persistence. Envelopes that are not
// order notifications are ignored. Never blocks; intended as a
// Subscribe callback.
func (w *NotificationWriter) Handle(env event.Envelope) {
	if env.Type != event.TypeOrderNotification {
		return
	}
	w.input.Push(env)
}

// Stats returns current metrics.
func (w *NotificationWriter) Stats() WriterMetrics {
	w.batchMu.Lock()
	defer w.batchMu.Unlock()
	return w.metrics
}

// consumeLoop reads from the intake queue and accumulates batches.
func (w *NotificationWriter) consumeLoop() {
	defer w.wg.Done()

	for {
		select {
		case <-w.ctx.Done():
			return
		default:
			env, ok := w.input.TryPop()
			if !ok {
				// Queue empty, wait a bit before trying again
				select {
				case <-w.ctx.Done():
					return
				case <-time.After(10 * time.Millisecond):
					continue
				}
			}

			w.handleEnvelope(env)
		}
	}
}

// flushLoop periodically flushes the batch.
func (w *NotificationWriter) flushLoop() {
	defer w.wg.Done()

	for {
		select {
		case <-w.ctx.Done():
			return
		case <-w.flushTicker.C:
			w.flush(w.ctx)
		}
	}
}

// handleEnvelope transforms and adds an envelope to the batch.
func (w *NotificationWriter) handleEnvelope(env event.Envelope) {
	row, ok := w.transform(env)
	if !ok {
		return
	}

	w.batchMu.Lock()
	w.batch = append(w.batch, row)
	shouldFlush := len(w.batch) >= w.cfg.BatchSize
	w.batchMu.Unlock()

	if shouldFlush {
		w.flush(w.ctx)
	}
}

// transform converts an order notification envelope to a row. The event
// id keys deduplication: the gateway may redeliver a notification after
// a reconnect, and ON CONFLICT turns the duplicate into a no-op.
func (w *NotificationWriter) transform(env event.Envelope) (notificationRow, bool) {
	n, err := env.OrderNotification()
	if err != nil {
		w.logger.Warn("dropping malformed order notification", "error", err)
		return notificationRow{}, false
	}

	eventID := uuid.NewString()
	if orderID := n.OrderID(); orderID != "" {
		eventID = orderID + ":" + n.EventType
	}

	return notificationRow{
		EventID:    eventID,
		EventType:  n.EventType,
		Payload:    n.Data,
		ReceivedAt: env.ReceivedAt.UnixMicro(),
	}, true
}

// flush writes the current batch to the database.
func (w *NotificationWriter) flush(ctx context.Context) {
	w.batchMu.Lock()
	if len(w.batch) == 0 {
		w.batchMu.Unlock()
		return
	}

	// Take ownership of current batch
	batch := w.batch
	w.batch = make([]notificationRow, 0, w.cfg.BatchSize)
	w.batchMu.Unlock()

	start := time.Now()

	conflicts, err := w.batchInsert(ctx, batch)
	if err != nil {
		w.logger.Error("batch insert failed", "error", err, "count", len(batch))
		w.batchMu.Lock()
		w.metrics.Errors++
		w.batchMu.Unlock()
		metrics.RecordStoreFlush(0, 0, true)
		return
	}

	w.batchMu.Lock()
	w.metrics.Inserts += int64(len(batch) - conflicts)
	w.metrics.Conflicts += int64(conflicts)
	w.metrics.Flushes++
	w.batchMu.Unlock()
	metrics.RecordStoreFlush(len(batch)-conflicts, conflicts, false)

	w.logger.Debug("flushed notifications",
		"count", len(batch),
		"conflicts", conflicts,
		"duration", time.Since(start),
	)
}

// batchInsert inserts rows using pgx.Batch with ON CONFLICT DO NOTHING.
func (w *NotificationWriter) batchInsert(ctx context.Context, rows []notificationRow) (conflicts int, err error) {
	batch := &pgx.Batch{}
	for _, r := range rows {
		batch.Queue(`
			INSERT INTO order_notifications (event_id, event_type, payload, received_at)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (event_id) DO NOTHING
		`, r.EventID, r.EventType, r.Payload, r.ReceivedAt)
	}

	results := w.db.SendBatch(ctx, batch)
	defer results.Close()

	for range rows {
		ct, err := results.Exec()
		if err != nil {
			return 0, err
		}
		if ct.RowsAffected() == 0 {
			conflicts++
		}
	}

	return conflicts, nil
}
